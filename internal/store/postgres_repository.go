/**
 * @description
 * This file provides the PostgreSQL implementation of the `Repository`
 * interface. Every balance-mutating method runs as a single transaction that
 * locks the affected account rows with `SELECT ... FOR UPDATE` before reading
 * balances, so concurrent operations on the same account are serialized.
 * Multi-row operations lock rows in ascending id order to keep the lock graph
 * acyclic. Lock waits are bounded with `SET LOCAL lock_timeout`; a timeout
 * surfaces as ErrContended, which callers may retry.
 *
 * @dependencies
 * - github.com/jackc/pgx/v5: The PostgreSQL driver for database operations.
 * - github.com/shopspring/decimal: NUMERIC(15,2) amounts are bound and
 *   scanned as text to keep monetary values exact.
 */

package store

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/paystream/ledger-service/internal/domain"
)

// maxNumberAttempts bounds account-number regeneration on collision.
const maxNumberAttempts = 5

// PostgresRepository is a concrete implementation of the Repository interface for PostgreSQL.
type PostgresRepository struct {
	db          *pgxpool.Pool
	numbers     NumberGenerator
	lockTimeout time.Duration
}

// NewPostgresRepository creates a new instance of PostgresRepository.
func NewPostgresRepository(db *pgxpool.Pool, numbers NumberGenerator, lockTimeout time.Duration) *PostgresRepository {
	if lockTimeout <= 0 {
		lockTimeout = 3 * time.Second
	}
	return &PostgresRepository{db: db, numbers: numbers, lockTimeout: lockTimeout}
}

// CreateAccount inserts an account for the owner, generating a fresh account
// number and retrying on number collision. One account per owner is enforced
// by the accounts_owner_id_key unique constraint.
func (r *PostgresRepository) CreateAccount(ctx context.Context, ownerID uuid.UUID, accountType string) (*domain.Account, error) {
	for attempt := 0; attempt < maxNumberAttempts; attempt++ {
		number, err := r.numbers.Next()
		if err != nil {
			return nil, fmt.Errorf("failed to generate account number: %w", err)
		}

		account := &domain.Account{
			ID:            uuid.New(),
			OwnerID:       ownerID,
			AccountNumber: number,
			AccountType:   accountType,
			Balance:       decimal.Zero,
		}
		query := `
			INSERT INTO accounts (id, owner_id, account_number, account_type, balance)
			VALUES ($1, $2, $3, $4, 0)
			RETURNING created_at
		`
		err = r.db.QueryRow(ctx, query, account.ID, account.OwnerID, account.AccountNumber, account.AccountType).Scan(&account.CreatedAt)
		if err == nil {
			return account, nil
		}

		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			if strings.Contains(pgErr.ConstraintName, "owner") {
				return nil, ErrDuplicateAccount
			}
			// Account number collision: ask the generator for a new one.
			continue
		}
		return nil, err
	}
	return nil, fmt.Errorf("could not allocate a unique account number after %d attempts", maxNumberAttempts)
}

// FindAccountByOwnerID retrieves the owner's account.
func (r *PostgresRepository) FindAccountByOwnerID(ctx context.Context, ownerID uuid.UUID) (*domain.Account, error) {
	query := `SELECT id, owner_id, account_number, account_type, balance::text, created_at FROM accounts WHERE owner_id = $1`
	return scanAccountRow(r.db.QueryRow(ctx, query, ownerID))
}

// FindAccountByNumber retrieves an account by its account number.
func (r *PostgresRepository) FindAccountByNumber(ctx context.Context, accountNumber string) (*domain.Account, error) {
	query := `SELECT id, owner_id, account_number, account_type, balance::text, created_at FROM accounts WHERE account_number = $1`
	return scanAccountRow(r.db.QueryRow(ctx, query, accountNumber))
}

// ListEntriesByAccountID returns the account's ledger entries, newest first.
func (r *PostgresRepository) ListEntriesByAccountID(ctx context.Context, accountID uuid.UUID) ([]domain.LedgerEntry, error) {
	query := `
		SELECT id, account_id, entry_type, amount::text, description, reference, status, created_at
		FROM ledger_entries
		WHERE account_id = $1
		ORDER BY created_at DESC, id DESC
	`
	rows, err := r.db.Query(ctx, query, accountID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entries []domain.LedgerEntry
	for rows.Next() {
		var (
			entry     domain.LedgerEntry
			amountRaw string
		)
		if err := rows.Scan(&entry.ID, &entry.AccountID, &entry.EntryType, &amountRaw, &entry.Description, &entry.Reference, &entry.Status, &entry.CreatedAt); err != nil {
			return nil, err
		}
		if entry.Amount, err = decimal.NewFromString(amountRaw); err != nil {
			return nil, fmt.Errorf("invalid amount on entry %s: %w", entry.ID, err)
		}
		entries = append(entries, entry)
	}
	return entries, rows.Err()
}

// CreditAccount applies a positive balance change and appends the recording
// entry in one transaction.
func (r *PostgresRepository) CreditAccount(ctx context.Context, accountID uuid.UUID, amount decimal.Decimal, entry *domain.LedgerEntry) (*domain.Account, error) {
	var account *domain.Account
	err := r.withLockedTx(ctx, func(tx pgx.Tx) error {
		current, err := lockAccount(ctx, tx, accountID)
		if err != nil {
			return err
		}
		account, err = updateBalance(ctx, tx, accountID, current.Balance.Add(amount))
		if err != nil {
			return err
		}
		return insertEntry(ctx, tx, entry)
	})
	if err != nil {
		return nil, err
	}
	return account, nil
}

// DebitAccount applies a negative balance change after verifying sufficiency
// under the row lock, and appends the recording entry in one transaction.
func (r *PostgresRepository) DebitAccount(ctx context.Context, accountID uuid.UUID, amount decimal.Decimal, entry *domain.LedgerEntry) (*domain.Account, error) {
	var account *domain.Account
	err := r.withLockedTx(ctx, func(tx pgx.Tx) error {
		current, err := lockAccount(ctx, tx, accountID)
		if err != nil {
			return err
		}
		if current.Balance.LessThan(amount) {
			return ErrInsufficientFunds
		}
		account, err = updateBalance(ctx, tx, accountID, current.Balance.Sub(amount))
		if err != nil {
			return err
		}
		return insertEntry(ctx, tx, entry)
	})
	if err != nil {
		return nil, err
	}
	return account, nil
}

// TransferFunds debits the sender, credits the recipient, and appends the two
// entries of the matched pair in one transaction. Rows are locked in
// ascending id order regardless of transfer direction.
func (r *PostgresRepository) TransferFunds(ctx context.Context, senderAccountID, recipientAccountID uuid.UUID, amount decimal.Decimal, debit, credit *domain.LedgerEntry) (*domain.Account, error) {
	var sender *domain.Account
	err := r.withLockedTx(ctx, func(tx pgx.Tx) error {
		first, second := senderAccountID, recipientAccountID
		if second.String() < first.String() {
			first, second = second, first
		}
		locked := make(map[uuid.UUID]*domain.Account, 2)
		for _, id := range []uuid.UUID{first, second} {
			account, err := lockAccount(ctx, tx, id)
			if err != nil {
				return err
			}
			locked[id] = account
		}

		if locked[senderAccountID].Balance.LessThan(amount) {
			return ErrInsufficientFunds
		}

		var err error
		if sender, err = updateBalance(ctx, tx, senderAccountID, locked[senderAccountID].Balance.Sub(amount)); err != nil {
			return err
		}
		if _, err = updateBalance(ctx, tx, recipientAccountID, locked[recipientAccountID].Balance.Add(amount)); err != nil {
			return err
		}
		if err = insertEntry(ctx, tx, debit); err != nil {
			return err
		}
		return insertEntry(ctx, tx, credit)
	})
	if err != nil {
		return nil, err
	}
	return sender, nil
}

// FundSavingsPlan moves funds from the account into the plan and appends the
// recording entry in one transaction. The plan transitions to completed when
// its target is reached. Account rows are always locked before plan rows, so
// this cannot form a cycle with transfers.
func (r *PostgresRepository) FundSavingsPlan(ctx context.Context, accountID, planID uuid.UUID, amount decimal.Decimal, entry *domain.LedgerEntry) (*domain.Account, *domain.SavingsPlan, error) {
	var (
		account *domain.Account
		plan    *domain.SavingsPlan
	)
	err := r.withLockedTx(ctx, func(tx pgx.Tx) error {
		current, err := lockAccount(ctx, tx, accountID)
		if err != nil {
			return err
		}
		if current.Balance.LessThan(amount) {
			return ErrInsufficientFunds
		}

		plan = &domain.SavingsPlan{}
		var (
			targetRaw  string
			balanceRaw string
		)
		planQuery := `
			SELECT id, owner_id, name, target_amount::text, current_balance::text, start_date, end_date, status, created_at
			FROM savings_plans
			WHERE id = $1
			FOR UPDATE
		`
		err = tx.QueryRow(ctx, planQuery, planID).Scan(
			&plan.ID, &plan.OwnerID, &plan.Name, &targetRaw, &balanceRaw,
			&plan.StartDate, &plan.EndDate, &plan.Status, &plan.CreatedAt,
		)
		if err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				return ErrPlanNotFound
			}
			return err
		}
		if plan.Status != domain.PlanStatusActive {
			return ErrPlanNotActive
		}
		if plan.TargetAmount, err = decimal.NewFromString(targetRaw); err != nil {
			return err
		}
		if plan.CurrentBalance, err = decimal.NewFromString(balanceRaw); err != nil {
			return err
		}

		if account, err = updateBalance(ctx, tx, accountID, current.Balance.Sub(amount)); err != nil {
			return err
		}

		plan.CurrentBalance = plan.CurrentBalance.Add(amount)
		if plan.CurrentBalance.GreaterThanOrEqual(plan.TargetAmount) {
			plan.Status = domain.PlanStatusCompleted
		}
		_, err = tx.Exec(ctx,
			`UPDATE savings_plans SET current_balance = $1::numeric, status = $2 WHERE id = $3`,
			plan.CurrentBalance.StringFixed(2), plan.Status, plan.ID,
		)
		if err != nil {
			return err
		}
		return insertEntry(ctx, tx, entry)
	})
	if err != nil {
		return nil, nil, err
	}
	return account, plan, nil
}

// ResolveWithdrawal settles a pending withdrawal entry. A failed settlement
// refunds the debited amount to the account in the same transaction.
func (r *PostgresRepository) ResolveWithdrawal(ctx context.Context, reference uuid.UUID, status string) error {
	return r.withLockedTx(ctx, func(tx pgx.Tx) error {
		var (
			entryID   uuid.UUID
			accountID uuid.UUID
			amountRaw string
		)
		query := `
			SELECT id, account_id, amount::text
			FROM ledger_entries
			WHERE reference = $1 AND entry_type = $2 AND status = $3
			FOR UPDATE
		`
		err := tx.QueryRow(ctx, query, reference, domain.EntryTypeWithdrawal, domain.EntryStatusPending).Scan(&entryID, &accountID, &amountRaw)
		if err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				return ErrEntryNotFound
			}
			return err
		}

		if status == domain.EntryStatusFailed {
			amount, err := decimal.NewFromString(amountRaw)
			if err != nil {
				return fmt.Errorf("invalid amount on entry %s: %w", entryID, err)
			}
			current, err := lockAccount(ctx, tx, accountID)
			if err != nil {
				return err
			}
			// Withdrawal entries carry a negative amount; subtracting it restores the balance.
			if _, err := updateBalance(ctx, tx, accountID, current.Balance.Sub(amount)); err != nil {
				return err
			}
		}

		_, err = tx.Exec(ctx, `UPDATE ledger_entries SET status = $1 WHERE id = $2`, status, entryID)
		return err
	})
}

// CreateSavingsPlan inserts a new savings plan for the owner.
func (r *PostgresRepository) CreateSavingsPlan(ctx context.Context, plan *domain.SavingsPlan) error {
	query := `
		INSERT INTO savings_plans (id, owner_id, name, target_amount, current_balance, start_date, end_date, status)
		VALUES ($1, $2, $3, $4::numeric, $5::numeric, $6, $7, $8)
		RETURNING created_at
	`
	return r.db.QueryRow(ctx, query,
		plan.ID, plan.OwnerID, plan.Name,
		plan.TargetAmount.StringFixed(2), plan.CurrentBalance.StringFixed(2),
		plan.StartDate, plan.EndDate, plan.Status,
	).Scan(&plan.CreatedAt)
}

// FindSavingsPlanByID retrieves a savings plan by id.
func (r *PostgresRepository) FindSavingsPlanByID(ctx context.Context, planID uuid.UUID) (*domain.SavingsPlan, error) {
	query := `
		SELECT id, owner_id, name, target_amount::text, current_balance::text, start_date, end_date, status, created_at
		FROM savings_plans
		WHERE id = $1
	`
	plan, err := scanPlanRow(r.db.QueryRow(ctx, query, planID))
	if err != nil {
		return nil, err
	}
	return plan, nil
}

// ListSavingsPlansByOwnerID returns all of the owner's savings plans, newest first.
func (r *PostgresRepository) ListSavingsPlansByOwnerID(ctx context.Context, ownerID uuid.UUID) ([]domain.SavingsPlan, error) {
	query := `
		SELECT id, owner_id, name, target_amount::text, current_balance::text, start_date, end_date, status, created_at
		FROM savings_plans
		WHERE owner_id = $1
		ORDER BY created_at DESC, id DESC
	`
	rows, err := r.db.Query(ctx, query, ownerID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var plans []domain.SavingsPlan
	for rows.Next() {
		plan, err := scanPlanRows(rows)
		if err != nil {
			return nil, err
		}
		plans = append(plans, *plan)
	}
	return plans, rows.Err()
}

// withLockedTx runs fn inside a transaction with a bounded lock wait. Lock
// timeouts surface as ErrContended.
func (r *PostgresRepository) withLockedTx(ctx context.Context, fn func(tx pgx.Tx) error) error {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, fmt.Sprintf("SET LOCAL lock_timeout = '%dms'", r.lockTimeout.Milliseconds())); err != nil {
		return err
	}
	if err := fn(tx); err != nil {
		return mapLockError(err)
	}
	return mapLockError(tx.Commit(ctx))
}

// lockAccount reads an account row under FOR UPDATE.
func lockAccount(ctx context.Context, tx pgx.Tx, accountID uuid.UUID) (*domain.Account, error) {
	query := `SELECT id, owner_id, account_number, account_type, balance::text, created_at FROM accounts WHERE id = $1 FOR UPDATE`
	return scanAccountRow(tx.QueryRow(ctx, query, accountID))
}

// updateBalance writes the new balance and returns the updated snapshot.
func updateBalance(ctx context.Context, tx pgx.Tx, accountID uuid.UUID, balance decimal.Decimal) (*domain.Account, error) {
	query := `
		UPDATE accounts SET balance = $1::numeric
		WHERE id = $2
		RETURNING id, owner_id, account_number, account_type, balance::text, created_at
	`
	return scanAccountRow(tx.QueryRow(ctx, query, balance.StringFixed(2), accountID))
}

// insertEntry appends one ledger entry within the caller's transaction.
func insertEntry(ctx context.Context, tx pgx.Tx, entry *domain.LedgerEntry) error {
	query := `
		INSERT INTO ledger_entries (id, account_id, entry_type, amount, description, reference, status)
		VALUES ($1, $2, $3, $4::numeric, $5, $6, $7)
		RETURNING created_at
	`
	return tx.QueryRow(ctx, query,
		entry.ID, entry.AccountID, entry.EntryType,
		entry.Amount.StringFixed(2), entry.Description, entry.Reference, entry.Status,
	).Scan(&entry.CreatedAt)
}

func scanAccountRow(row pgx.Row) (*domain.Account, error) {
	var (
		account    domain.Account
		balanceRaw string
	)
	err := row.Scan(&account.ID, &account.OwnerID, &account.AccountNumber, &account.AccountType, &balanceRaw, &account.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrAccountNotFound
		}
		return nil, err
	}
	if account.Balance, err = decimal.NewFromString(balanceRaw); err != nil {
		return nil, fmt.Errorf("invalid balance on account %s: %w", account.ID, err)
	}
	return &account, nil
}

func scanPlanRow(row pgx.Row) (*domain.SavingsPlan, error) {
	var (
		plan       domain.SavingsPlan
		targetRaw  string
		balanceRaw string
	)
	err := row.Scan(&plan.ID, &plan.OwnerID, &plan.Name, &targetRaw, &balanceRaw, &plan.StartDate, &plan.EndDate, &plan.Status, &plan.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrPlanNotFound
		}
		return nil, err
	}
	if plan.TargetAmount, err = decimal.NewFromString(targetRaw); err != nil {
		return nil, err
	}
	if plan.CurrentBalance, err = decimal.NewFromString(balanceRaw); err != nil {
		return nil, err
	}
	return &plan, nil
}

func scanPlanRows(rows pgx.Rows) (*domain.SavingsPlan, error) {
	var (
		plan       domain.SavingsPlan
		targetRaw  string
		balanceRaw string
	)
	err := rows.Scan(&plan.ID, &plan.OwnerID, &plan.Name, &targetRaw, &balanceRaw, &plan.StartDate, &plan.EndDate, &plan.Status, &plan.CreatedAt)
	if err != nil {
		return nil, err
	}
	if plan.TargetAmount, err = decimal.NewFromString(targetRaw); err != nil {
		return nil, err
	}
	if plan.CurrentBalance, err = decimal.NewFromString(balanceRaw); err != nil {
		return nil, err
	}
	return &plan, nil
}

// mapLockError converts a Postgres lock_timeout failure (SQLSTATE 55P03) into
// the retryable ErrContended.
func mapLockError(err error) error {
	if err == nil {
		return nil
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == "55P03" {
		return ErrContended
	}
	return err
}
