/**
 * @description
 * This file defines the repository contract for the ledger service, plus the
 * sentinel errors shared by its implementations. The contract covers the
 * account store, the append-only ledger entry log, and the savings plan
 * tracker. Balance-mutating methods are atomic units: all of their writes
 * commit together or none do.
 *
 * @notes
 * - The engine performs all business validation before calling a mutating
 *   method; the store re-checks only what must hold inside the transaction
 *   (funds sufficiency, plan still active) because those facts can change
 *   between the engine's read and the write.
 * - Implementations must serialize concurrent mutations of the same account
 *   and acquire multi-account locks in ascending account-id order.
 */

package store

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/paystream/ledger-service/internal/domain"
)

var (
	ErrAccountNotFound   = errors.New("account not found")
	ErrDuplicateAccount  = errors.New("owner already has an account")
	ErrInsufficientFunds = errors.New("insufficient funds")
	ErrPlanNotFound      = errors.New("savings plan not found")
	ErrPlanNotActive     = errors.New("savings plan is not active")
	ErrEntryNotFound     = errors.New("ledger entry not found")
	ErrContended         = errors.New("account is contended, retry the operation")
)

// NumberGenerator supplies candidate account numbers. It is an external
// collaborator: the store calls it and retries on collision, so a generator
// does not have to guarantee uniqueness itself.
type NumberGenerator interface {
	Next() (string, error)
}

// Repository is the persistence contract used by the transaction engine.
type Repository interface {
	// Account store.
	CreateAccount(ctx context.Context, ownerID uuid.UUID, accountType string) (*domain.Account, error)
	FindAccountByOwnerID(ctx context.Context, ownerID uuid.UUID) (*domain.Account, error)
	FindAccountByNumber(ctx context.Context, accountNumber string) (*domain.Account, error)

	// Ledger entry log, newest first.
	ListEntriesByAccountID(ctx context.Context, accountID uuid.UUID) ([]domain.LedgerEntry, error)

	// Atomic units. Each call applies its balance change and appends its
	// entries in one transaction. Entry IDs, references, amounts and statuses
	// are caller-supplied; timestamps are set by the store.
	CreditAccount(ctx context.Context, accountID uuid.UUID, amount decimal.Decimal, entry *domain.LedgerEntry) (*domain.Account, error)
	DebitAccount(ctx context.Context, accountID uuid.UUID, amount decimal.Decimal, entry *domain.LedgerEntry) (*domain.Account, error)
	TransferFunds(ctx context.Context, senderAccountID, recipientAccountID uuid.UUID, amount decimal.Decimal, debit, credit *domain.LedgerEntry) (*domain.Account, error)
	FundSavingsPlan(ctx context.Context, accountID, planID uuid.UUID, amount decimal.Decimal, entry *domain.LedgerEntry) (*domain.Account, *domain.SavingsPlan, error)

	// ResolveWithdrawal flips a pending withdrawal entry to its terminal
	// status. A failed settlement refunds the debited amount to the account
	// in the same transaction. Returns ErrEntryNotFound when no pending
	// withdrawal entry carries the reference.
	ResolveWithdrawal(ctx context.Context, reference uuid.UUID, status string) error

	// Savings plan tracker.
	CreateSavingsPlan(ctx context.Context, plan *domain.SavingsPlan) error
	FindSavingsPlanByID(ctx context.Context, planID uuid.UUID) (*domain.SavingsPlan, error)
	ListSavingsPlansByOwnerID(ctx context.Context, ownerID uuid.UUID) ([]domain.SavingsPlan, error)
}
