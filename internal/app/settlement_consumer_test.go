package app

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/paystream/ledger-service/internal/domain"
	"github.com/paystream/ledger-service/internal/store"
)

func TestHandleSettlementUpdate_MalformedMessageIsDropped(t *testing.T) {
	repo := store.NewMemoryRepository(&seqNumberGen{}, 2*time.Second)
	consumer := NewSettlementConsumer(repo)

	if ack := consumer.HandleSettlementUpdate([]byte("{not json")); !ack {
		t.Fatal("expected malformed message to be acknowledged and dropped")
	}
}

func TestHandleSettlementUpdate_UnknownStatusIsDropped(t *testing.T) {
	repo := store.NewMemoryRepository(&seqNumberGen{}, 2*time.Second)
	consumer := NewSettlementConsumer(repo)

	body, _ := json.Marshal(domain.SettlementUpdate{Status: "reversed"})
	if ack := consumer.HandleSettlementUpdate(body); !ack {
		t.Fatal("expected unknown status to be acknowledged and dropped")
	}
}

func TestHandleSettlementUpdate_UnknownReferenceIsDropped(t *testing.T) {
	repo := store.NewMemoryRepository(&seqNumberGen{}, 2*time.Second)
	consumer := NewSettlementConsumer(repo)

	body, _ := json.Marshal(domain.SettlementUpdate{Status: domain.EntryStatusSuccessful})
	if ack := consumer.HandleSettlementUpdate(body); !ack {
		t.Fatal("expected unmatched reference to be acknowledged and dropped")
	}
}

func TestHandleSettlementUpdate_FailedSettlementRefundsAccount(t *testing.T) {
	repo := store.NewMemoryRepository(&seqNumberGen{}, 2*time.Second)
	svc := NewService(repo, nil, true)
	consumer := NewSettlementConsumer(repo)

	ownerID, _ := openFundedAccount(t, svc, "100")
	result, err := svc.WithdrawToExternal(context.Background(), ownerID, domain.WithdrawalRequest{
		BankName:          "First Bank",
		BankAccountNumber: "0123456789",
		Amount:            decimal.RequireFromString("40"),
	})
	if err != nil {
		t.Fatalf("WithdrawToExternal failed: %v", err)
	}
	if result.Entry.Status != domain.EntryStatusPending {
		t.Fatalf("expected pending withdrawal entry, got %q", result.Entry.Status)
	}

	body, _ := json.Marshal(domain.SettlementUpdate{
		Reference: result.Entry.Reference,
		Status:    domain.EntryStatusFailed,
		Reason:    "beneficiary account closed",
	})
	if ack := consumer.HandleSettlementUpdate(body); !ack {
		t.Fatal("expected settlement update to be acknowledged")
	}

	after, err := repo.FindAccountByOwnerID(context.Background(), ownerID)
	if err != nil {
		t.Fatalf("FindAccountByOwnerID failed: %v", err)
	}
	if !after.Balance.Equal(decimal.RequireFromString("100")) {
		t.Fatalf("expected failed settlement to restore balance to 100, got %s", after.Balance)
	}

	entries, err := svc.ListTransactions(context.Background(), ownerID)
	if err != nil {
		t.Fatalf("ListTransactions failed: %v", err)
	}
	if entries[0].Status != domain.EntryStatusFailed {
		t.Fatalf("expected withdrawal entry marked failed, got %q", entries[0].Status)
	}
}

func TestHandleSettlementUpdate_SuccessfulSettlementKeepsDebit(t *testing.T) {
	repo := store.NewMemoryRepository(&seqNumberGen{}, 2*time.Second)
	svc := NewService(repo, nil, true)
	consumer := NewSettlementConsumer(repo)

	ownerID, _ := openFundedAccount(t, svc, "100")
	result, err := svc.WithdrawToExternal(context.Background(), ownerID, domain.WithdrawalRequest{
		BankName:          "First Bank",
		BankAccountNumber: "0123456789",
		Amount:            decimal.RequireFromString("40"),
	})
	if err != nil {
		t.Fatalf("WithdrawToExternal failed: %v", err)
	}

	body, _ := json.Marshal(domain.SettlementUpdate{
		Reference: result.Entry.Reference,
		Status:    domain.EntryStatusSuccessful,
	})
	if ack := consumer.HandleSettlementUpdate(body); !ack {
		t.Fatal("expected settlement update to be acknowledged")
	}

	after, err := repo.FindAccountByOwnerID(context.Background(), ownerID)
	if err != nil {
		t.Fatalf("FindAccountByOwnerID failed: %v", err)
	}
	if !after.Balance.Equal(decimal.RequireFromString("60")) {
		t.Fatalf("expected balance to stay at 60, got %s", after.Balance)
	}
}
