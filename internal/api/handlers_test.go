package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/paystream/ledger-service/internal/app"
	"github.com/paystream/ledger-service/internal/domain"
	"github.com/paystream/ledger-service/internal/store"
)

const testJWTSecret = "handler-test-secret"

// seqNumberGen hands out deterministic account numbers for tests.
type seqNumberGen struct {
	mu   sync.Mutex
	next int
}

func (g *seqNumberGen) Next() (string, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.next++
	return fmt.Sprintf("%010d", g.next), nil
}

// stubLimiter returns a scripted rate limit outcome.
type stubLimiter struct {
	count      int
	retryAfter int
	err        error
}

func (s *stubLimiter) ConsumeRateLimit(ctx context.Context, scope, subject string, limit int, window time.Duration) (int, int, error) {
	return s.count, s.retryAfter, s.err
}

func newTestRouter(t *testing.T, limiter app.OperationRateLimiter, transferRateLimit int) http.Handler {
	t.Helper()
	repo := store.NewMemoryRepository(&seqNumberGen{}, 2*time.Second)
	service := app.NewService(repo, nil, false)
	handlers := NewLedgerHandlers(service, limiter, transferRateLimit)
	return LedgerRoutes(handlers, testJWTSecret)
}

func authToken(t *testing.T, ownerID uuid.UUID) string {
	t.Helper()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"sub": ownerID.String(),
		"exp": time.Now().Add(time.Hour).Unix(),
	})
	signed, err := token.SignedString([]byte(testJWTSecret))
	if err != nil {
		t.Fatalf("failed to sign test token: %v", err)
	}
	return signed
}

func doJSON(t *testing.T, router http.Handler, method, path, token string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("failed to marshal request body: %v", err)
		}
		reader = bytes.NewReader(raw)
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, reader)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	return rec
}

func openAccount(t *testing.T, router http.Handler, token string) domain.Account {
	t.Helper()
	rec := doJSON(t, router, http.MethodPost, "/accounts", token, nil)
	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201 creating account, got %d: %s", rec.Code, rec.Body.String())
	}
	var account domain.Account
	if err := json.Unmarshal(rec.Body.Bytes(), &account); err != nil {
		t.Fatalf("failed to decode account response: %v", err)
	}
	return account
}

func TestRoutes_RequireAuthentication(t *testing.T) {
	router := newTestRouter(t, nil, 0)

	rec := doJSON(t, router, http.MethodGet, "/accounts", "", nil)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 without token, got %d", rec.Code)
	}

	rec = doJSON(t, router, http.MethodGet, "/accounts", "not-a-jwt", nil)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 with a garbage token, got %d", rec.Code)
	}
}

func TestHealthEndpoint_IsPublic(t *testing.T) {
	router := newTestRouter(t, nil, 0)

	rec := doJSON(t, router, http.MethodGet, "/health", "", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200 from /health, got %d", rec.Code)
	}
}

func TestCreateAccount_ReturnsCreatedAccount(t *testing.T) {
	router := newTestRouter(t, nil, 0)
	token := authToken(t, uuid.New())

	account := openAccount(t, router, token)
	if account.AccountType != domain.AccountTypeSavings {
		t.Fatalf("expected default savings account, got %q", account.AccountType)
	}
	if len(account.AccountNumber) == 0 {
		t.Fatal("expected an account number to be assigned")
	}

	// Opening a second account for the same owner conflicts.
	rec := doJSON(t, router, http.MethodPost, "/accounts", token, nil)
	if rec.Code != http.StatusConflict {
		t.Fatalf("expected 409 for duplicate account, got %d", rec.Code)
	}
}

func TestGetAccount_NotFoundBeforeCreation(t *testing.T) {
	router := newTestRouter(t, nil, 0)
	token := authToken(t, uuid.New())

	rec := doJSON(t, router, http.MethodGet, "/accounts", token, nil)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404 before account creation, got %d", rec.Code)
	}
}

func TestDeposit_ReturnsUpdatedBalance(t *testing.T) {
	router := newTestRouter(t, nil, 0)
	token := authToken(t, uuid.New())
	openAccount(t, router, token)

	rec := doJSON(t, router, http.MethodPost, "/accounts/deposits", token, domain.DepositRequest{
		Amount:      decimal.RequireFromString("150.25"),
		Description: "Payday",
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200 from deposit, got %d: %s", rec.Code, rec.Body.String())
	}

	var result domain.OperationResult
	if err := json.Unmarshal(rec.Body.Bytes(), &result); err != nil {
		t.Fatalf("failed to decode deposit response: %v", err)
	}
	if !result.Account.Balance.Equal(decimal.RequireFromString("150.25")) {
		t.Fatalf("expected balance 150.25, got %s", result.Account.Balance)
	}
}

func TestDeposit_RejectsNonPositiveAmount(t *testing.T) {
	router := newTestRouter(t, nil, 0)
	token := authToken(t, uuid.New())
	openAccount(t, router, token)

	rec := doJSON(t, router, http.MethodPost, "/accounts/deposits", token, domain.DepositRequest{
		Amount: decimal.Zero,
	})
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for a zero deposit, got %d", rec.Code)
	}
}

func TestWithdrawal_RequiresBankDetails(t *testing.T) {
	router := newTestRouter(t, nil, 0)
	token := authToken(t, uuid.New())
	openAccount(t, router, token)

	rec := doJSON(t, router, http.MethodPost, "/accounts/withdrawals", token, domain.WithdrawalRequest{
		Amount: decimal.RequireFromString("10"),
	})
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 without bank details, got %d", rec.Code)
	}
}

func TestWithdrawal_InsufficientFunds(t *testing.T) {
	router := newTestRouter(t, nil, 0)
	token := authToken(t, uuid.New())
	openAccount(t, router, token)

	rec := doJSON(t, router, http.MethodPost, "/accounts/withdrawals", token, domain.WithdrawalRequest{
		BankName:          "First Bank",
		BankAccountNumber: "0123456789",
		Amount:            decimal.RequireFromString("10"),
	})
	if rec.Code != http.StatusUnprocessableEntity {
		t.Fatalf("expected 422 on an empty account, got %d", rec.Code)
	}
}

func TestTransfer_HappyPath(t *testing.T) {
	router := newTestRouter(t, nil, 0)
	senderToken := authToken(t, uuid.New())
	recipientToken := authToken(t, uuid.New())

	openAccount(t, router, senderToken)
	recipient := openAccount(t, router, recipientToken)

	rec := doJSON(t, router, http.MethodPost, "/accounts/deposits", senderToken, domain.DepositRequest{
		Amount: decimal.RequireFromString("100"),
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("seed deposit failed with %d", rec.Code)
	}

	rec = doJSON(t, router, http.MethodPost, "/transfers", senderToken, domain.TransferRequest{
		RecipientAccountNumber: recipient.AccountNumber,
		Amount:                 decimal.RequireFromString("60"),
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200 from transfer, got %d: %s", rec.Code, rec.Body.String())
	}

	var result domain.TransferResult
	if err := json.Unmarshal(rec.Body.Bytes(), &result); err != nil {
		t.Fatalf("failed to decode transfer response: %v", err)
	}
	if !result.SenderAccount.Balance.Equal(decimal.RequireFromString("40")) {
		t.Fatalf("expected sender balance 40, got %s", result.SenderAccount.Balance)
	}
	if result.Debit.Reference != result.Credit.Reference {
		t.Fatal("expected debit and credit to share a reference")
	}
}

func TestTransfer_UnknownRecipientIs404(t *testing.T) {
	router := newTestRouter(t, nil, 0)
	token := authToken(t, uuid.New())
	openAccount(t, router, token)

	rec := doJSON(t, router, http.MethodPost, "/transfers", token, domain.TransferRequest{
		RecipientAccountNumber: "9999999999",
		Amount:                 decimal.RequireFromString("10"),
	})
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404 for an unknown recipient, got %d", rec.Code)
	}
}

func TestTransfer_SelfTransferIs400(t *testing.T) {
	router := newTestRouter(t, nil, 0)
	token := authToken(t, uuid.New())
	account := openAccount(t, router, token)

	rec := doJSON(t, router, http.MethodPost, "/transfers", token, domain.TransferRequest{
		RecipientAccountNumber: account.AccountNumber,
		Amount:                 decimal.RequireFromString("10"),
	})
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for a self transfer, got %d", rec.Code)
	}
}

func TestTransfer_RateLimited(t *testing.T) {
	limiter := &stubLimiter{count: 6, retryAfter: 42}
	router := newTestRouter(t, limiter, 5)
	token := authToken(t, uuid.New())
	openAccount(t, router, token)

	rec := doJSON(t, router, http.MethodPost, "/transfers", token, domain.TransferRequest{
		RecipientAccountNumber: "9999999999",
		Amount:                 decimal.RequireFromString("10"),
	})
	if rec.Code != http.StatusTooManyRequests {
		t.Fatalf("expected 429 when over the limit, got %d", rec.Code)
	}
	if got := rec.Header().Get("Retry-After"); got != "42" {
		t.Fatalf("expected Retry-After 42, got %q", got)
	}
}

func TestTransfer_RateLimiterOutageFailsOpen(t *testing.T) {
	limiter := &stubLimiter{err: context.DeadlineExceeded}
	router := newTestRouter(t, limiter, 5)
	token := authToken(t, uuid.New())
	openAccount(t, router, token)

	// The limiter errored, so the request proceeds and fails on its own merits.
	rec := doJSON(t, router, http.MethodPost, "/transfers", token, domain.TransferRequest{
		RecipientAccountNumber: "9999999999",
		Amount:                 decimal.RequireFromString("10"),
	})
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404 (unknown recipient) when limiter fails open, got %d", rec.Code)
	}
}

func TestListTransactions_EmptyIsJSONArray(t *testing.T) {
	router := newTestRouter(t, nil, 0)
	token := authToken(t, uuid.New())
	openAccount(t, router, token)

	rec := doJSON(t, router, http.MethodGet, "/transactions", token, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200 listing transactions, got %d", rec.Code)
	}
	if body := bytes.TrimSpace(rec.Body.Bytes()); !bytes.Equal(body, []byte("[]")) {
		t.Fatalf("expected empty JSON array, got %s", body)
	}
}

func TestSavingsPlans_CreateFundAndList(t *testing.T) {
	router := newTestRouter(t, nil, 0)
	token := authToken(t, uuid.New())
	openAccount(t, router, token)

	rec := doJSON(t, router, http.MethodPost, "/accounts/deposits", token, domain.DepositRequest{
		Amount: decimal.RequireFromString("1000"),
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("seed deposit failed with %d", rec.Code)
	}

	rec = doJSON(t, router, http.MethodPost, "/savings-plans", token, domain.CreateSavingsPlanRequest{
		Name:         "Emergency fund",
		TargetAmount: decimal.RequireFromString("500"),
		StartDate:    time.Now(),
		EndDate:      time.Now().AddDate(1, 0, 0),
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201 creating plan, got %d: %s", rec.Code, rec.Body.String())
	}
	var plan domain.SavingsPlan
	if err := json.Unmarshal(rec.Body.Bytes(), &plan); err != nil {
		t.Fatalf("failed to decode plan response: %v", err)
	}

	rec = doJSON(t, router, http.MethodPost, "/savings-plans/"+plan.ID.String()+"/fund", token, domain.FundSavingsPlanRequest{
		Amount: decimal.RequireFromString("200"),
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200 funding plan, got %d: %s", rec.Code, rec.Body.String())
	}
	var fundResult domain.FundSavingsPlanResult
	if err := json.Unmarshal(rec.Body.Bytes(), &fundResult); err != nil {
		t.Fatalf("failed to decode funding response: %v", err)
	}
	if !fundResult.Plan.CurrentBalance.Equal(decimal.RequireFromString("200")) {
		t.Fatalf("expected plan balance 200, got %s", fundResult.Plan.CurrentBalance)
	}
	if !fundResult.Account.Balance.Equal(decimal.RequireFromString("800")) {
		t.Fatalf("expected account balance 800, got %s", fundResult.Account.Balance)
	}

	rec = doJSON(t, router, http.MethodGet, "/savings-plans", token, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200 listing plans, got %d", rec.Code)
	}
	var plans []domain.SavingsPlan
	if err := json.Unmarshal(rec.Body.Bytes(), &plans); err != nil {
		t.Fatalf("failed to decode plans response: %v", err)
	}
	if len(plans) != 1 {
		t.Fatalf("expected 1 plan, got %d", len(plans))
	}
}

func TestFundSavingsPlan_InvalidPlanID(t *testing.T) {
	router := newTestRouter(t, nil, 0)
	token := authToken(t, uuid.New())
	openAccount(t, router, token)

	rec := doJSON(t, router, http.MethodPost, "/savings-plans/not-a-uuid/fund", token, domain.FundSavingsPlanRequest{
		Amount: decimal.RequireFromString("10"),
	})
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for a malformed plan id, got %d", rec.Code)
	}
}

func TestFundSavingsPlan_UnknownPlanIs404(t *testing.T) {
	router := newTestRouter(t, nil, 0)
	token := authToken(t, uuid.New())
	openAccount(t, router, token)

	rec := doJSON(t, router, http.MethodPost, "/savings-plans/"+uuid.NewString()+"/fund", token, domain.FundSavingsPlanRequest{
		Amount: decimal.RequireFromString("10"),
	})
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404 for an unknown plan, got %d", rec.Code)
	}
}
