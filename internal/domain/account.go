/**
 * @description
 * This file defines the account domain model and the request/response shapes
 * used by the account-facing API endpoints. An account is the single balance
 * holder for an owner; every balance change flows through the ledger engine
 * and is recorded as a ledger entry.
 *
 * @notes
 * - Amounts are `decimal.Decimal` (fixed-point, scale 2) rather than floats,
 *   so monetary arithmetic is exact.
 * - Each owner has exactly one account; the store enforces this with a unique
 *   constraint on the owner id.
 */

package domain

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Account types supported by the ledger.
const (
	AccountTypeSavings = "savings"
	AccountTypeCurrent = "current"
)

// Account represents an owner's balance-holding account.
// This struct maps directly to the `accounts` table in the database.
type Account struct {
	ID            uuid.UUID       `json:"id"`
	OwnerID       uuid.UUID       `json:"owner_id"`
	AccountNumber string          `json:"account_number"`
	AccountType   string          `json:"account_type"`
	Balance       decimal.Decimal `json:"balance"`
	CreatedAt     time.Time       `json:"created_at"`
}

// ValidAccountType reports whether t names a supported account type.
func ValidAccountType(t string) bool {
	return t == AccountTypeSavings || t == AccountTypeCurrent
}

// CreateAccountRequest is the DTO for opening an account. AccountType defaults
// to savings when empty.
type CreateAccountRequest struct {
	AccountType string `json:"account_type"`
}

// DepositRequest is the DTO for crediting an account.
type DepositRequest struct {
	Amount      decimal.Decimal `json:"amount"`
	Description string          `json:"description"`
}

// WithdrawalRequest is the DTO for moving funds out to an external bank
// account. The bank rail itself is an external collaborator; the engine only
// records the debit.
type WithdrawalRequest struct {
	BankName          string          `json:"bank_name"`
	BankAccountNumber string          `json:"bank_account_number"`
	Amount            decimal.Decimal `json:"amount"`
}

// TransferRequest is the DTO for an internal transfer to another account,
// addressed by its account number.
type TransferRequest struct {
	RecipientAccountNumber string          `json:"recipient_account_number"`
	Amount                 decimal.Decimal `json:"amount"`
	Description            string          `json:"description"`
}
