/**
 * @description
 * This file contains the core business logic for the ledger service. The
 * `Service` struct is the transaction engine: it validates every operation's
 * preconditions before any write, then executes the operation as a single
 * atomic repository call, and publishes ledger events after the unit commits.
 *
 * Key features:
 * - Implements the main use cases: deposits, withdrawals to an external bank,
 *   internal transfers, and savings plan funding.
 * - A transfer appends exactly two entries (debit + credit) sharing one
 *   freshly generated reference, so the pair provably nets to zero.
 * - Validation failures never touch state; write-phase failures roll back in
 *   the repository.
 *
 * @dependencies
 * - github.com/google/uuid: For entity ids and transfer references.
 * - github.com/shopspring/decimal: For exact monetary arithmetic.
 * - internal/domain, internal/store: For domain models and data access.
 * - pkg/rabbitmq: For publishing ledger events.
 */

package app

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/paystream/ledger-service/internal/domain"
	"github.com/paystream/ledger-service/internal/store"
	"github.com/paystream/ledger-service/pkg/rabbitmq"
)

var (
	ErrInvalidAmount      = errors.New("amount must be greater than zero")
	ErrInvalidAccountType = errors.New("account type must be savings or current")
	ErrRecipientNotFound  = errors.New("recipient account not found")
	ErrSelfTransfer       = errors.New("cannot transfer to your own account")
	ErrInvalidPlan        = errors.New("savings plan requires a name, a positive target and a valid date range")
)

// Service provides the core business logic for ledger operations.
type Service struct {
	repo   store.Repository
	events rabbitmq.Publisher

	// asyncWithdrawals leaves withdrawal entries pending for the settlement
	// consumer to resolve; otherwise they commit successful synchronously.
	asyncWithdrawals bool
}

// NewService creates a new ledger service instance.
func NewService(repo store.Repository, events rabbitmq.Publisher, asyncWithdrawals bool) *Service {
	if events == nil {
		events = &rabbitmq.EventProducerFallback{}
	}
	return &Service{repo: repo, events: events, asyncWithdrawals: asyncWithdrawals}
}

// CreateAccount opens the owner's single account. An empty account type
// defaults to savings.
func (s *Service) CreateAccount(ctx context.Context, ownerID uuid.UUID, accountType string) (*domain.Account, error) {
	if accountType == "" {
		accountType = domain.AccountTypeSavings
	}
	if !domain.ValidAccountType(accountType) {
		return nil, ErrInvalidAccountType
	}
	return s.repo.CreateAccount(ctx, ownerID, accountType)
}

// GetAccount returns the owner's account snapshot.
func (s *Service) GetAccount(ctx context.Context, ownerID uuid.UUID) (*domain.Account, error) {
	return s.repo.FindAccountByOwnerID(ctx, ownerID)
}

// ListTransactions returns the owner's ledger entries, newest first.
func (s *Service) ListTransactions(ctx context.Context, ownerID uuid.UUID) ([]domain.LedgerEntry, error) {
	account, err := s.repo.FindAccountByOwnerID(ctx, ownerID)
	if err != nil {
		return nil, err
	}
	return s.repo.ListEntriesByAccountID(ctx, account.ID)
}

// Deposit credits the owner's account. No upper bound is enforced.
func (s *Service) Deposit(ctx context.Context, ownerID uuid.UUID, req domain.DepositRequest) (*domain.OperationResult, error) {
	if !req.Amount.IsPositive() {
		return nil, ErrInvalidAmount
	}
	account, err := s.repo.FindAccountByOwnerID(ctx, ownerID)
	if err != nil {
		return nil, err
	}

	description := req.Description
	if description == "" {
		description = "Deposit"
	}
	entry := &domain.LedgerEntry{
		ID:          uuid.New(),
		AccountID:   account.ID,
		EntryType:   domain.EntryTypeDeposit,
		Amount:      req.Amount,
		Description: description,
		Reference:   uuid.New(),
		Status:      domain.EntryStatusSuccessful,
	}

	updated, err := s.repo.CreditAccount(ctx, account.ID, req.Amount, entry)
	if err != nil {
		return nil, err
	}

	s.publishEntry(ctx, "ledger.deposit", entry)
	return &domain.OperationResult{Account: updated, Entry: entry}, nil
}

// WithdrawToExternal debits the owner's account and records a withdrawal
// entry naming the destination bank. In the synchronous settlement mode the
// entry commits successful; in the asynchronous mode it commits pending and
// the settlement consumer resolves it.
func (s *Service) WithdrawToExternal(ctx context.Context, ownerID uuid.UUID, req domain.WithdrawalRequest) (*domain.OperationResult, error) {
	if !req.Amount.IsPositive() {
		return nil, ErrInvalidAmount
	}
	account, err := s.repo.FindAccountByOwnerID(ctx, ownerID)
	if err != nil {
		return nil, err
	}
	if account.Balance.LessThan(req.Amount) {
		return nil, store.ErrInsufficientFunds
	}

	status := domain.EntryStatusSuccessful
	if s.asyncWithdrawals {
		status = domain.EntryStatusPending
	}
	entry := &domain.LedgerEntry{
		ID:          uuid.New(),
		AccountID:   account.ID,
		EntryType:   domain.EntryTypeWithdrawal,
		Amount:      req.Amount.Neg(),
		Description: fmt.Sprintf("Withdrawal to %s (%s)", req.BankName, req.BankAccountNumber),
		Reference:   uuid.New(),
		Status:      status,
	}

	updated, err := s.repo.DebitAccount(ctx, account.ID, req.Amount, entry)
	if err != nil {
		return nil, err
	}

	s.publishEntry(ctx, "ledger.withdrawal", entry)
	return &domain.OperationResult{Account: updated, Entry: entry}, nil
}

// Transfer moves funds from the sender's account to the account addressed by
// number. Preconditions are checked in a fixed order: amount, recipient
// existence, self-transfer, funds. On success exactly two entries share one
// reference and the total balance across both accounts is unchanged.
func (s *Service) Transfer(ctx context.Context, ownerID uuid.UUID, req domain.TransferRequest) (*domain.TransferResult, error) {
	if !req.Amount.IsPositive() {
		return nil, ErrInvalidAmount
	}
	sender, err := s.repo.FindAccountByOwnerID(ctx, ownerID)
	if err != nil {
		return nil, err
	}
	recipient, err := s.repo.FindAccountByNumber(ctx, req.RecipientAccountNumber)
	if err != nil {
		if errors.Is(err, store.ErrAccountNotFound) {
			return nil, ErrRecipientNotFound
		}
		return nil, err
	}
	if recipient.ID == sender.ID {
		return nil, ErrSelfTransfer
	}
	if sender.Balance.LessThan(req.Amount) {
		return nil, store.ErrInsufficientFunds
	}

	reference := uuid.New()
	debit := &domain.LedgerEntry{
		ID:          uuid.New(),
		AccountID:   sender.ID,
		EntryType:   domain.EntryTypeTransfer,
		Amount:      req.Amount.Neg(),
		Description: fmt.Sprintf("Transfer to %s", recipient.AccountNumber),
		Reference:   reference,
		Status:      domain.EntryStatusSuccessful,
	}
	credit := &domain.LedgerEntry{
		ID:          uuid.New(),
		AccountID:   recipient.ID,
		EntryType:   domain.EntryTypeTransfer,
		Amount:      req.Amount,
		Description: fmt.Sprintf("Transfer from %s", sender.AccountNumber),
		Reference:   reference,
		Status:      domain.EntryStatusSuccessful,
	}

	updatedSender, err := s.repo.TransferFunds(ctx, sender.ID, recipient.ID, req.Amount, debit, credit)
	if err != nil {
		return nil, err
	}

	s.publishEntry(ctx, "ledger.transfer", debit)
	s.publishEntry(ctx, "ledger.transfer", credit)
	return &domain.TransferResult{SenderAccount: updatedSender, Debit: debit, Credit: credit}, nil
}

// CreateSavingsPlan opens a new active plan for the owner.
func (s *Service) CreateSavingsPlan(ctx context.Context, ownerID uuid.UUID, req domain.CreateSavingsPlanRequest) (*domain.SavingsPlan, error) {
	if req.Name == "" || !req.TargetAmount.IsPositive() || req.EndDate.Before(req.StartDate) {
		return nil, ErrInvalidPlan
	}
	plan := &domain.SavingsPlan{
		ID:             uuid.New(),
		OwnerID:        ownerID,
		Name:           req.Name,
		TargetAmount:   req.TargetAmount,
		CurrentBalance: decimal.Zero,
		StartDate:      req.StartDate,
		EndDate:        req.EndDate,
		Status:         domain.PlanStatusActive,
	}
	if err := s.repo.CreateSavingsPlan(ctx, plan); err != nil {
		return nil, err
	}
	return plan, nil
}

// ListSavingsPlans returns all of the owner's savings plans.
func (s *Service) ListSavingsPlans(ctx context.Context, ownerID uuid.UUID) ([]domain.SavingsPlan, error) {
	return s.repo.ListSavingsPlansByOwnerID(ctx, ownerID)
}

// FundSavingsPlan moves funds from the owner's account into one of their
// active plans. The plan transitions to completed in the same atomic unit
// when its target is reached; completed and closed plans reject funding.
func (s *Service) FundSavingsPlan(ctx context.Context, ownerID, planID uuid.UUID, req domain.FundSavingsPlanRequest) (*domain.FundSavingsPlanResult, error) {
	if !req.Amount.IsPositive() {
		return nil, ErrInvalidAmount
	}
	account, err := s.repo.FindAccountByOwnerID(ctx, ownerID)
	if err != nil {
		return nil, err
	}
	plan, err := s.repo.FindSavingsPlanByID(ctx, planID)
	if err != nil {
		return nil, err
	}
	if plan.OwnerID != ownerID || plan.Status != domain.PlanStatusActive {
		return nil, store.ErrPlanNotActive
	}
	if account.Balance.LessThan(req.Amount) {
		return nil, store.ErrInsufficientFunds
	}

	entry := &domain.LedgerEntry{
		ID:          uuid.New(),
		AccountID:   account.ID,
		EntryType:   domain.EntryTypeSavingsFund,
		Amount:      req.Amount.Neg(),
		Description: fmt.Sprintf("Savings plan funding: %s", plan.Name),
		Reference:   uuid.New(),
		Status:      domain.EntryStatusSuccessful,
	}

	updatedAccount, updatedPlan, err := s.repo.FundSavingsPlan(ctx, account.ID, plan.ID, req.Amount, entry)
	if err != nil {
		return nil, err
	}

	s.publishEntry(ctx, "ledger.savings_fund", entry)
	return &domain.FundSavingsPlanResult{Account: updatedAccount, Plan: updatedPlan, Entry: entry}, nil
}

// publishEntry emits a ledger event for a committed entry. Publishing is
// best-effort; a broker failure never fails the committed operation.
func (s *Service) publishEntry(ctx context.Context, routingKey string, entry *domain.LedgerEntry) {
	event := rabbitmq.LedgerEvent{
		EntryID:   entry.ID,
		AccountID: entry.AccountID,
		EntryType: entry.EntryType,
		Amount:    entry.Amount,
		Reference: entry.Reference,
		Status:    entry.Status,
		Timestamp: time.Now().UTC(),
	}
	if err := s.events.PublishLedgerEvent(ctx, routingKey, event); err != nil {
		log.Printf("level=warn component=ledger_service msg=\"ledger event publish failed\" entry_id=%s err=%v", entry.ID, err)
	}
}
