/**
 * @description
 * This file contains the HTTP handlers for the ledger service's API
 * endpoints. Handlers are responsible for parsing incoming requests, calling
 * the appropriate methods on the application service, and writing the HTTP
 * response. They act as the bridge between the web layer and the business
 * logic layer.
 *
 * @dependencies
 * - encoding/json, log, net/http: Standard Go libraries.
 * - internal/app, internal/domain, internal/store: For service logic, models, and custom errors.
 */

package api

import (
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/paystream/ledger-service/internal/app"
	"github.com/paystream/ledger-service/internal/domain"
	"github.com/paystream/ledger-service/internal/store"
)

// LedgerHandlers holds the application service and rate limiter used by the
// HTTP endpoints.
type LedgerHandlers struct {
	service            *app.Service
	limiter            app.OperationRateLimiter
	transferRateLimit  int
	transferRateWindow time.Duration
}

// NewLedgerHandlers creates a new instance of LedgerHandlers. A nil limiter
// or non-positive limit disables rate limiting.
func NewLedgerHandlers(service *app.Service, limiter app.OperationRateLimiter, transferRateLimit int) *LedgerHandlers {
	return &LedgerHandlers{
		service:            service,
		limiter:            limiter,
		transferRateLimit:  transferRateLimit,
		transferRateWindow: time.Minute,
	}
}

type errorResponse struct {
	Error string `json:"error"`
}

func (h *LedgerHandlers) writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		log.Printf("level=error component=api msg=\"response encode failed\" err=%v", err)
	}
}

func (h *LedgerHandlers) writeError(w http.ResponseWriter, status int, message string) {
	h.writeJSON(w, status, errorResponse{Error: message})
}

// writeServiceError maps engine and store failures onto HTTP statuses. Every
// rejection carries a distinguishable reason; Contended is the only failure
// a client should retry automatically.
func (h *LedgerHandlers) writeServiceError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, app.ErrInvalidAmount),
		errors.Is(err, app.ErrInvalidAccountType),
		errors.Is(err, app.ErrInvalidPlan),
		errors.Is(err, app.ErrSelfTransfer):
		h.writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, app.ErrRecipientNotFound),
		errors.Is(err, store.ErrAccountNotFound),
		errors.Is(err, store.ErrPlanNotFound):
		h.writeError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, store.ErrDuplicateAccount),
		errors.Is(err, store.ErrPlanNotActive):
		h.writeError(w, http.StatusConflict, err.Error())
	case errors.Is(err, store.ErrInsufficientFunds):
		h.writeError(w, http.StatusUnprocessableEntity, err.Error())
	case errors.Is(err, store.ErrContended):
		w.Header().Set("Retry-After", "1")
		h.writeError(w, http.StatusServiceUnavailable, err.Error())
	default:
		log.Printf("level=error component=api msg=\"operation failed\" err=%v", err)
		h.writeError(w, http.StatusInternalServerError, "internal server error")
	}
}

// ownerFromContext pulls the authenticated owner id set by the auth
// middleware, writing a 401 when it is absent.
func (h *LedgerHandlers) ownerFromContext(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	ownerID, ok := GetOwnerID(r.Context())
	if !ok {
		h.writeError(w, http.StatusUnauthorized, "authentication required")
	}
	return ownerID, ok
}

// consumeRateLimit applies the per-owner transfer rate limit. It returns
// false after writing a 429 when the window is exhausted.
func (h *LedgerHandlers) consumeRateLimit(w http.ResponseWriter, r *http.Request, scope string, ownerID uuid.UUID) bool {
	if h.limiter == nil || h.transferRateLimit <= 0 {
		return true
	}
	count, retryAfter, err := h.limiter.ConsumeRateLimit(r.Context(), scope, ownerID.String(), h.transferRateLimit, h.transferRateWindow)
	if err != nil {
		// Fail open: a limiter outage must not block money movement.
		log.Printf("level=warn component=api msg=\"rate limiter unavailable\" scope=%s err=%v", scope, err)
		return true
	}
	if count > h.transferRateLimit {
		w.Header().Set("Retry-After", strconv.Itoa(retryAfter))
		h.writeError(w, http.StatusTooManyRequests, "too many requests, slow down")
		return false
	}
	return true
}

// CreateAccountHandler opens the owner's account.
func (h *LedgerHandlers) CreateAccountHandler(w http.ResponseWriter, r *http.Request) {
	ownerID, ok := h.ownerFromContext(w, r)
	if !ok {
		return
	}
	var req domain.CreateAccountRequest
	if r.Body != nil && r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			h.writeError(w, http.StatusBadRequest, "invalid request body")
			return
		}
	}

	account, err := h.service.CreateAccount(r.Context(), ownerID, req.AccountType)
	if err != nil {
		h.writeServiceError(w, err)
		return
	}
	h.writeJSON(w, http.StatusCreated, account)
}

// GetAccountHandler returns the owner's account snapshot.
func (h *LedgerHandlers) GetAccountHandler(w http.ResponseWriter, r *http.Request) {
	ownerID, ok := h.ownerFromContext(w, r)
	if !ok {
		return
	}
	account, err := h.service.GetAccount(r.Context(), ownerID)
	if err != nil {
		h.writeServiceError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, account)
}

// DepositHandler credits the owner's account.
func (h *LedgerHandlers) DepositHandler(w http.ResponseWriter, r *http.Request) {
	ownerID, ok := h.ownerFromContext(w, r)
	if !ok {
		return
	}
	var req domain.DepositRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	result, err := h.service.Deposit(r.Context(), ownerID, req)
	if err != nil {
		h.writeServiceError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, result)
}

// WithdrawalHandler debits the owner's account toward an external bank.
func (h *LedgerHandlers) WithdrawalHandler(w http.ResponseWriter, r *http.Request) {
	ownerID, ok := h.ownerFromContext(w, r)
	if !ok {
		return
	}
	var req domain.WithdrawalRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.BankName == "" || req.BankAccountNumber == "" {
		h.writeError(w, http.StatusBadRequest, "bank_name and bank_account_number are required")
		return
	}
	if !h.consumeRateLimit(w, r, "withdrawal", ownerID) {
		return
	}

	result, err := h.service.WithdrawToExternal(r.Context(), ownerID, req)
	if err != nil {
		h.writeServiceError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, result)
}

// TransferHandler moves funds to another account by account number.
func (h *LedgerHandlers) TransferHandler(w http.ResponseWriter, r *http.Request) {
	ownerID, ok := h.ownerFromContext(w, r)
	if !ok {
		return
	}
	var req domain.TransferRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.RecipientAccountNumber == "" {
		h.writeError(w, http.StatusBadRequest, "recipient_account_number is required")
		return
	}
	if !h.consumeRateLimit(w, r, "transfer", ownerID) {
		return
	}

	result, err := h.service.Transfer(r.Context(), ownerID, req)
	if err != nil {
		h.writeServiceError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, result)
}

// ListTransactionsHandler returns the owner's ledger entries, newest first.
func (h *LedgerHandlers) ListTransactionsHandler(w http.ResponseWriter, r *http.Request) {
	ownerID, ok := h.ownerFromContext(w, r)
	if !ok {
		return
	}
	entries, err := h.service.ListTransactions(r.Context(), ownerID)
	if err != nil {
		h.writeServiceError(w, err)
		return
	}
	if entries == nil {
		entries = []domain.LedgerEntry{}
	}
	h.writeJSON(w, http.StatusOK, entries)
}

// CreateSavingsPlanHandler opens a savings plan for the owner.
func (h *LedgerHandlers) CreateSavingsPlanHandler(w http.ResponseWriter, r *http.Request) {
	ownerID, ok := h.ownerFromContext(w, r)
	if !ok {
		return
	}
	var req domain.CreateSavingsPlanRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	plan, err := h.service.CreateSavingsPlan(r.Context(), ownerID, req)
	if err != nil {
		h.writeServiceError(w, err)
		return
	}
	h.writeJSON(w, http.StatusCreated, plan)
}

// ListSavingsPlansHandler returns all of the owner's savings plans.
func (h *LedgerHandlers) ListSavingsPlansHandler(w http.ResponseWriter, r *http.Request) {
	ownerID, ok := h.ownerFromContext(w, r)
	if !ok {
		return
	}
	plans, err := h.service.ListSavingsPlans(r.Context(), ownerID)
	if err != nil {
		h.writeServiceError(w, err)
		return
	}
	if plans == nil {
		plans = []domain.SavingsPlan{}
	}
	h.writeJSON(w, http.StatusOK, plans)
}

// FundSavingsPlanHandler moves funds from the owner's account into a plan.
func (h *LedgerHandlers) FundSavingsPlanHandler(w http.ResponseWriter, r *http.Request) {
	ownerID, ok := h.ownerFromContext(w, r)
	if !ok {
		return
	}
	planID, err := uuid.Parse(chi.URLParam(r, "planID"))
	if err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid plan id")
		return
	}
	var req domain.FundSavingsPlanRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	result, err := h.service.FundSavingsPlan(r.Context(), ownerID, planID, req)
	if err != nil {
		h.writeServiceError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, result)
}
