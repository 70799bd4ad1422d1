/**
 * @description
 * This file provides an in-process implementation of the `Repository`
 * interface. It backs the test suite and the `STORE_BACKEND=memory` mode used
 * for local development, and mirrors the Postgres implementation's
 * serialization discipline: every balance mutation first acquires the
 * per-account lock (multi-account operations in ascending id order), and lock
 * waits are bounded so contention surfaces as ErrContended instead of
 * blocking forever.
 *
 * @notes
 * - All returned models are copies; callers never alias internal state.
 * - The short-lived map mutex only guards memory; the per-account locks are
 *   what serialize read-then-write sequences on a balance.
 */

package store

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/paystream/ledger-service/internal/domain"
)

// acctLock is a mutex with bounded acquisition, built on a buffered channel.
type acctLock chan struct{}

func (l acctLock) acquire(ctx context.Context, timeout time.Duration) error {
	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case l <- struct{}{}:
		return nil
	case <-timer.C:
		return ErrContended
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (l acctLock) release() { <-l }

// MemoryRepository is an in-process implementation of the Repository interface.
type MemoryRepository struct {
	mu          sync.RWMutex
	numbers     NumberGenerator
	lockTimeout time.Duration

	accounts map[uuid.UUID]*domain.Account
	byOwner  map[uuid.UUID]uuid.UUID
	byNumber map[string]uuid.UUID
	entries  map[uuid.UUID][]*domain.LedgerEntry
	plans    map[uuid.UUID]*domain.SavingsPlan

	locks     map[uuid.UUID]acctLock
	planLocks map[uuid.UUID]acctLock
}

// NewMemoryRepository creates an empty in-memory repository.
func NewMemoryRepository(numbers NumberGenerator, lockTimeout time.Duration) *MemoryRepository {
	if lockTimeout <= 0 {
		lockTimeout = 3 * time.Second
	}
	return &MemoryRepository{
		numbers:     numbers,
		lockTimeout: lockTimeout,
		accounts:    make(map[uuid.UUID]*domain.Account),
		byOwner:     make(map[uuid.UUID]uuid.UUID),
		byNumber:    make(map[string]uuid.UUID),
		entries:     make(map[uuid.UUID][]*domain.LedgerEntry),
		plans:       make(map[uuid.UUID]*domain.SavingsPlan),
		locks:       make(map[uuid.UUID]acctLock),
		planLocks:   make(map[uuid.UUID]acctLock),
	}
}

// CreateAccount inserts an account for the owner, regenerating the account
// number on collision.
func (r *MemoryRepository) CreateAccount(ctx context.Context, ownerID uuid.UUID, accountType string) (*domain.Account, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.byOwner[ownerID]; exists {
		return nil, ErrDuplicateAccount
	}

	for attempt := 0; attempt < maxNumberAttempts; attempt++ {
		number, err := r.numbers.Next()
		if err != nil {
			return nil, fmt.Errorf("failed to generate account number: %w", err)
		}
		if _, taken := r.byNumber[number]; taken {
			continue
		}

		account := &domain.Account{
			ID:            uuid.New(),
			OwnerID:       ownerID,
			AccountNumber: number,
			AccountType:   accountType,
			Balance:       decimal.Zero,
			CreatedAt:     time.Now().UTC(),
		}
		r.accounts[account.ID] = account
		r.byOwner[ownerID] = account.ID
		r.byNumber[number] = account.ID
		r.locks[account.ID] = make(acctLock, 1)
		snapshot := *account
		return &snapshot, nil
	}
	return nil, fmt.Errorf("could not allocate a unique account number after %d attempts", maxNumberAttempts)
}

// FindAccountByOwnerID retrieves the owner's account.
func (r *MemoryRepository) FindAccountByOwnerID(ctx context.Context, ownerID uuid.UUID) (*domain.Account, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	id, ok := r.byOwner[ownerID]
	if !ok {
		return nil, ErrAccountNotFound
	}
	snapshot := *r.accounts[id]
	return &snapshot, nil
}

// FindAccountByNumber retrieves an account by its account number.
func (r *MemoryRepository) FindAccountByNumber(ctx context.Context, accountNumber string) (*domain.Account, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	id, ok := r.byNumber[accountNumber]
	if !ok {
		return nil, ErrAccountNotFound
	}
	snapshot := *r.accounts[id]
	return &snapshot, nil
}

// ListEntriesByAccountID returns the account's ledger entries, newest first.
func (r *MemoryRepository) ListEntriesByAccountID(ctx context.Context, accountID uuid.UUID) ([]domain.LedgerEntry, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if _, ok := r.accounts[accountID]; !ok {
		return nil, ErrAccountNotFound
	}
	stored := r.entries[accountID]
	out := make([]domain.LedgerEntry, 0, len(stored))
	for i := len(stored) - 1; i >= 0; i-- {
		out = append(out, *stored[i])
	}
	return out, nil
}

// CreditAccount applies a positive balance change and appends the recording entry.
func (r *MemoryRepository) CreditAccount(ctx context.Context, accountID uuid.UUID, amount decimal.Decimal, entry *domain.LedgerEntry) (*domain.Account, error) {
	lock, err := r.accountLock(accountID)
	if err != nil {
		return nil, err
	}
	if err := lock.acquire(ctx, r.lockTimeout); err != nil {
		return nil, err
	}
	defer lock.release()

	r.mu.Lock()
	defer r.mu.Unlock()
	account := r.accounts[accountID]
	account.Balance = account.Balance.Add(amount)
	r.appendEntry(entry)
	snapshot := *account
	return &snapshot, nil
}

// DebitAccount applies a negative balance change after verifying sufficiency
// under the account lock, and appends the recording entry.
func (r *MemoryRepository) DebitAccount(ctx context.Context, accountID uuid.UUID, amount decimal.Decimal, entry *domain.LedgerEntry) (*domain.Account, error) {
	lock, err := r.accountLock(accountID)
	if err != nil {
		return nil, err
	}
	if err := lock.acquire(ctx, r.lockTimeout); err != nil {
		return nil, err
	}
	defer lock.release()

	r.mu.Lock()
	defer r.mu.Unlock()
	account := r.accounts[accountID]
	if account.Balance.LessThan(amount) {
		return nil, ErrInsufficientFunds
	}
	account.Balance = account.Balance.Sub(amount)
	r.appendEntry(entry)
	snapshot := *account
	return &snapshot, nil
}

// TransferFunds debits the sender and credits the recipient as one unit,
// acquiring both account locks in ascending id order.
func (r *MemoryRepository) TransferFunds(ctx context.Context, senderAccountID, recipientAccountID uuid.UUID, amount decimal.Decimal, debit, credit *domain.LedgerEntry) (*domain.Account, error) {
	senderLock, err := r.accountLock(senderAccountID)
	if err != nil {
		return nil, err
	}
	recipientLock, err := r.accountLock(recipientAccountID)
	if err != nil {
		return nil, err
	}

	first, second := senderLock, recipientLock
	if recipientAccountID.String() < senderAccountID.String() {
		first, second = recipientLock, senderLock
	}
	if err := first.acquire(ctx, r.lockTimeout); err != nil {
		return nil, err
	}
	defer first.release()
	if err := second.acquire(ctx, r.lockTimeout); err != nil {
		return nil, err
	}
	defer second.release()

	r.mu.Lock()
	defer r.mu.Unlock()
	sender := r.accounts[senderAccountID]
	recipient := r.accounts[recipientAccountID]
	if sender.Balance.LessThan(amount) {
		return nil, ErrInsufficientFunds
	}
	sender.Balance = sender.Balance.Sub(amount)
	recipient.Balance = recipient.Balance.Add(amount)
	r.appendEntry(debit)
	r.appendEntry(credit)
	snapshot := *sender
	return &snapshot, nil
}

// FundSavingsPlan moves funds from the account into the plan as one unit.
// Account locks are always taken before plan locks.
func (r *MemoryRepository) FundSavingsPlan(ctx context.Context, accountID, planID uuid.UUID, amount decimal.Decimal, entry *domain.LedgerEntry) (*domain.Account, *domain.SavingsPlan, error) {
	lock, err := r.accountLock(accountID)
	if err != nil {
		return nil, nil, err
	}
	planLock, err := r.savingsPlanLock(planID)
	if err != nil {
		return nil, nil, err
	}
	if err := lock.acquire(ctx, r.lockTimeout); err != nil {
		return nil, nil, err
	}
	defer lock.release()
	if err := planLock.acquire(ctx, r.lockTimeout); err != nil {
		return nil, nil, err
	}
	defer planLock.release()

	r.mu.Lock()
	defer r.mu.Unlock()
	account := r.accounts[accountID]
	plan := r.plans[planID]
	if plan.Status != domain.PlanStatusActive {
		return nil, nil, ErrPlanNotActive
	}
	if account.Balance.LessThan(amount) {
		return nil, nil, ErrInsufficientFunds
	}

	account.Balance = account.Balance.Sub(amount)
	plan.CurrentBalance = plan.CurrentBalance.Add(amount)
	if plan.CurrentBalance.GreaterThanOrEqual(plan.TargetAmount) {
		plan.Status = domain.PlanStatusCompleted
	}
	r.appendEntry(entry)

	accountSnapshot := *account
	planSnapshot := *plan
	return &accountSnapshot, &planSnapshot, nil
}

// ResolveWithdrawal settles a pending withdrawal entry, refunding the account
// when the settlement failed.
func (r *MemoryRepository) ResolveWithdrawal(ctx context.Context, reference uuid.UUID, status string) error {
	r.mu.RLock()
	var (
		target    *domain.LedgerEntry
		accountID uuid.UUID
	)
	for acctID, entries := range r.entries {
		for _, e := range entries {
			if e.Reference == reference && e.EntryType == domain.EntryTypeWithdrawal && e.Status == domain.EntryStatusPending {
				target = e
				accountID = acctID
				break
			}
		}
		if target != nil {
			break
		}
	}
	r.mu.RUnlock()
	if target == nil {
		return ErrEntryNotFound
	}

	lock, err := r.accountLock(accountID)
	if err != nil {
		return err
	}
	if err := lock.acquire(ctx, r.lockTimeout); err != nil {
		return err
	}
	defer lock.release()

	r.mu.Lock()
	defer r.mu.Unlock()
	if target.Status != domain.EntryStatusPending {
		return ErrEntryNotFound
	}
	if status == domain.EntryStatusFailed {
		// Withdrawal entries carry a negative amount; subtracting it restores the balance.
		account := r.accounts[accountID]
		account.Balance = account.Balance.Sub(target.Amount)
	}
	target.Status = status
	return nil
}

// CreateSavingsPlan inserts a new savings plan for the owner.
func (r *MemoryRepository) CreateSavingsPlan(ctx context.Context, plan *domain.SavingsPlan) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	stored := *plan
	stored.CreatedAt = time.Now().UTC()
	r.plans[plan.ID] = &stored
	r.planLocks[plan.ID] = make(acctLock, 1)
	plan.CreatedAt = stored.CreatedAt
	return nil
}

// FindSavingsPlanByID retrieves a savings plan by id.
func (r *MemoryRepository) FindSavingsPlanByID(ctx context.Context, planID uuid.UUID) (*domain.SavingsPlan, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	plan, ok := r.plans[planID]
	if !ok {
		return nil, ErrPlanNotFound
	}
	snapshot := *plan
	return &snapshot, nil
}

// ListSavingsPlansByOwnerID returns all of the owner's savings plans, newest first.
func (r *MemoryRepository) ListSavingsPlansByOwnerID(ctx context.Context, ownerID uuid.UUID) ([]domain.SavingsPlan, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var plans []domain.SavingsPlan
	for _, plan := range r.plans {
		if plan.OwnerID == ownerID {
			plans = append(plans, *plan)
		}
	}
	for i := 0; i < len(plans); i++ {
		for j := i + 1; j < len(plans); j++ {
			if plans[j].CreatedAt.After(plans[i].CreatedAt) {
				plans[i], plans[j] = plans[j], plans[i]
			}
		}
	}
	return plans, nil
}

func (r *MemoryRepository) accountLock(accountID uuid.UUID) (acctLock, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	lock, ok := r.locks[accountID]
	if !ok {
		return nil, ErrAccountNotFound
	}
	return lock, nil
}

func (r *MemoryRepository) savingsPlanLock(planID uuid.UUID) (acctLock, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	lock, ok := r.planLocks[planID]
	if !ok {
		return nil, ErrPlanNotFound
	}
	return lock, nil
}

// appendEntry stores one ledger entry; callers hold r.mu.
func (r *MemoryRepository) appendEntry(entry *domain.LedgerEntry) {
	stored := *entry
	stored.CreatedAt = time.Now().UTC()
	r.entries[stored.AccountID] = append(r.entries[stored.AccountID], &stored)
	entry.CreatedAt = stored.CreatedAt
}
