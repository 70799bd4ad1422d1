/**
 * @description
 * This file defines the ledger entry model: the immutable record of one signed
 * balance change on an account. Entries are append-only; the only field ever
 * updated after insert is the terminal status of a pending withdrawal.
 *
 * @notes
 * - A transfer produces exactly two entries (debit on the sender, credit on
 *   the recipient) that share one reference and whose amounts sum to zero.
 * - Positive amounts are credits, negative amounts are debits. An entry
 *   amount is never zero.
 */

package domain

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Ledger entry types.
const (
	EntryTypeDeposit     = "deposit"
	EntryTypeWithdrawal  = "withdrawal"
	EntryTypeTransfer    = "transfer"
	EntryTypeSavingsFund = "savings_fund"
)

// Ledger entry statuses. Withdrawals settling through the bank rail start
// pending and are resolved to successful or failed; every other entry is
// written successful.
const (
	EntryStatusPending    = "pending"
	EntryStatusSuccessful = "successful"
	EntryStatusFailed     = "failed"
)

// LedgerEntry is the central transaction record for any money movement.
// This struct maps directly to the `ledger_entries` table in the database.
type LedgerEntry struct {
	ID          uuid.UUID       `json:"id"`
	AccountID   uuid.UUID       `json:"account_id"`
	EntryType   string          `json:"entry_type"`
	Amount      decimal.Decimal `json:"amount"`
	Description string          `json:"description"`
	Reference   uuid.UUID       `json:"reference"`
	Status      string          `json:"status"`
	CreatedAt   time.Time       `json:"created_at"`
}

// OperationResult is the snapshot returned to the caller after a successful
// single-account operation: the updated account and the entry that recorded
// the movement.
type OperationResult struct {
	Account *Account     `json:"account"`
	Entry   *LedgerEntry `json:"entry"`
}

// TransferResult is the snapshot returned after a successful transfer. Debit
// and Credit share one reference and net to zero.
type TransferResult struct {
	SenderAccount *Account     `json:"sender_account"`
	Debit         *LedgerEntry `json:"debit"`
	Credit        *LedgerEntry `json:"credit"`
}

// SettlementUpdate is the message payload consumed from the external bank
// rail when a pending withdrawal settles.
type SettlementUpdate struct {
	Reference uuid.UUID `json:"reference"`
	Status    string    `json:"status"`
	Reason    string    `json:"reason,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}
