/**
 * @description
 * This file defines the savings plan model: a goal-tracked sub-balance funded
 * from the owner's main account. Plan status is monotonic: once a plan is
 * completed or closed it never accepts funding again.
 */

package domain

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Savings plan statuses.
const (
	PlanStatusActive    = "active"
	PlanStatusCompleted = "completed"
	PlanStatusClosed    = "closed"
)

// SavingsPlan represents a goal-tracked sub-balance.
// This struct maps directly to the `savings_plans` table in the database.
type SavingsPlan struct {
	ID             uuid.UUID       `json:"id"`
	OwnerID        uuid.UUID       `json:"owner_id"`
	Name           string          `json:"name"`
	TargetAmount   decimal.Decimal `json:"target_amount"`
	CurrentBalance decimal.Decimal `json:"current_balance"`
	StartDate      time.Time       `json:"start_date"`
	EndDate        time.Time       `json:"end_date"`
	Status         string          `json:"status"`
	CreatedAt      time.Time       `json:"created_at"`
}

// CreateSavingsPlanRequest is the DTO for opening a savings plan.
type CreateSavingsPlanRequest struct {
	Name         string          `json:"name"`
	TargetAmount decimal.Decimal `json:"target_amount"`
	StartDate    time.Time       `json:"start_date"`
	EndDate      time.Time       `json:"end_date"`
}

// FundSavingsPlanRequest is the DTO for moving funds from the owner's account
// into a plan.
type FundSavingsPlanRequest struct {
	Amount decimal.Decimal `json:"amount"`
}

// FundSavingsPlanResult is the snapshot returned after a successful plan
// funding: the updated account, the updated plan, and the recording entry.
type FundSavingsPlanResult struct {
	Account *Account     `json:"account"`
	Plan    *SavingsPlan `json:"plan"`
	Entry   *LedgerEntry `json:"entry"`
}
