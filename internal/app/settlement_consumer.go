/**
 * @description
 * This file consumes settlement updates from the external bank rail and
 * resolves pending withdrawal entries. A failed settlement refunds the
 * debited amount to the account atomically; the status flip is the only
 * mutation ever applied to an appended ledger entry.
 */

package app

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"time"

	"github.com/paystream/ledger-service/internal/domain"
	"github.com/paystream/ledger-service/internal/store"
)

// SettlementRoutingKey is the routing key the bank rail publishes settlement
// updates under.
const SettlementRoutingKey = "bank.settlement.updated"

// SettlementConsumer applies bank-rail settlement updates to the ledger.
type SettlementConsumer struct {
	repo store.Repository
}

// NewSettlementConsumer creates a new settlement consumer.
func NewSettlementConsumer(repo store.Repository) *SettlementConsumer {
	return &SettlementConsumer{repo: repo}
}

// HandleSettlementUpdate processes one settlement message. It returns true
// when the delivery should be acknowledged; malformed and already-resolved
// messages are dropped rather than re-queued.
func (c *SettlementConsumer) HandleSettlementUpdate(body []byte) bool {
	var update domain.SettlementUpdate
	if err := json.Unmarshal(body, &update); err != nil {
		log.Printf("level=warn component=settlement_consumer msg=\"malformed settlement update; dropping\" err=%v", err)
		return true
	}
	if update.Status != domain.EntryStatusSuccessful && update.Status != domain.EntryStatusFailed {
		log.Printf("level=warn component=settlement_consumer msg=\"unknown settlement status; dropping\" reference=%s status=%s", update.Reference, update.Status)
		return true
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	err := c.repo.ResolveWithdrawal(ctx, update.Reference, update.Status)
	if err != nil {
		if errors.Is(err, store.ErrEntryNotFound) {
			// No pending withdrawal with this reference: already resolved or
			// never ours. Safe to drop.
			log.Printf("level=info component=settlement_consumer msg=\"no pending withdrawal for settlement update\" reference=%s", update.Reference)
			return true
		}
		log.Printf("level=error component=settlement_consumer msg=\"settlement resolution failed; re-queuing\" reference=%s err=%v", update.Reference, err)
		return false
	}

	log.Printf("level=info component=settlement_consumer msg=\"withdrawal settled\" reference=%s status=%s", update.Reference, update.Status)
	return true
}
