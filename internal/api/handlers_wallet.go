/**
 * @description
 * This file contains the HTTP handlers for the client wallet endpoints. Handlers
 * parse the request, resolve the caller from the verified identity token, call the
 * settlement engine and write the response.
 *
 * @dependencies
 * - internal/app, internal/domain: Service logic, models and typed errors.
 * - github.com/shopspring/decimal: Exact parsing of client-supplied amounts.
 * - github.com/sirupsen/logrus: Structured logging.
 */

package api

import (
	"encoding/json"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/Paygig/paygig-data-wallet/internal/app"
	"github.com/Paygig/paygig-data-wallet/internal/domain"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
)

const depositRateLimitScope = "deposit_request"

// WalletHandlers holds the services the wallet endpoints use.
type WalletHandlers struct {
	settlement   *app.SettlementService
	activity     *app.ActivityService
	limiter      app.RateLimiter
	depositLimit int
	logger       logrus.FieldLogger
}

// NewWalletHandlers creates the wallet handlers. A nil limiter disables deposit rate limiting.
func NewWalletHandlers(settlement *app.SettlementService, activity *app.ActivityService, limiter app.RateLimiter, depositLimitPerMinute int, logger logrus.FieldLogger) *WalletHandlers {
	return &WalletHandlers{
		settlement:   settlement,
		activity:     activity,
		limiter:      limiter,
		depositLimit: depositLimitPerMinute,
		logger:       logger.WithField("component", "api"),
	}
}

type depositRequest struct {
	Amount      decimal.Decimal `json:"amount"`
	Description string          `json:"description"`
}

type purchaseRequest struct {
	PlanID string `json:"plan_id"`
}

type activityRequest struct {
	Type  domain.ActivityType `json:"type"`
	Phone string              `json:"phone"`
}

// caller resolves the authenticated identity and makes sure the account exists.
func (h *WalletHandlers) caller(w http.ResponseWriter, r *http.Request, endpoint string) (Identity, bool) {
	id, ok := CallerIdentity(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "Could not get user ID from context")
		return Identity{}, false
	}
	if _, _, err := h.settlement.RegisterAccount(r.Context(), id.AccountID, id.Email); err != nil {
		writeServiceError(w, h.logger, endpoint, err)
		return Identity{}, false
	}
	return id, true
}

// RequestDepositHandler records a pending deposit for the caller.
func (h *WalletHandlers) RequestDepositHandler(w http.ResponseWriter, r *http.Request) {
	id, ok := h.caller(w, r, "request_deposit")
	if !ok {
		return
	}
	if !h.allowDeposit(w, r, id) {
		return
	}

	var req depositRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if !req.Amount.IsInteger() || !req.Amount.IsPositive() || !req.Amount.BigInt().IsInt64() {
		writeError(w, http.StatusBadRequest, "amount: must be a positive whole naira amount")
		return
	}

	tx, err := h.settlement.RequestDeposit(r.Context(), id.AccountID, id.Email, req.Amount.IntPart(), req.Description)
	if err != nil {
		writeServiceError(w, h.logger, "request_deposit", err)
		return
	}
	writeJSON(w, http.StatusCreated, tx)
}

func (h *WalletHandlers) allowDeposit(w http.ResponseWriter, r *http.Request, id Identity) bool {
	if h.limiter == nil || h.depositLimit <= 0 {
		return true
	}
	count, retryAfter, err := h.limiter.ConsumeRateLimit(r.Context(), depositRateLimitScope, id.AccountID.String(), h.depositLimit, time.Minute)
	if err != nil {
		// Fail open.
		h.logger.WithError(err).Warn("deposit rate limiter unavailable")
		return true
	}
	if count > h.depositLimit {
		w.Header().Set("Retry-After", strconv.Itoa(retryAfter))
		writeError(w, http.StatusTooManyRequests, "Too many deposit requests, please wait and try again")
		return false
	}
	return true
}

// PurchaseHandler buys a plan for the caller.
func (h *WalletHandlers) PurchaseHandler(w http.ResponseWriter, r *http.Request) {
	id, ok := h.caller(w, r, "purchase")
	if !ok {
		return
	}
	var req purchaseRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if strings.TrimSpace(req.PlanID) == "" {
		writeError(w, http.StatusBadRequest, "plan_id: is required")
		return
	}

	result, err := h.settlement.PurchasePlan(r.Context(), id.AccountID, strings.TrimSpace(req.PlanID))
	if err != nil {
		writeServiceError(w, h.logger, "purchase", err)
		return
	}
	writeJSON(w, http.StatusCreated, result)
}

// GetBalanceHandler returns the caller's two pools.
func (h *WalletHandlers) GetBalanceHandler(w http.ResponseWriter, r *http.Request) {
	id, ok := h.caller(w, r, "get_balance")
	if !ok {
		return
	}
	balances, err := h.settlement.GetBalance(r.Context(), id.AccountID)
	if err != nil {
		writeServiceError(w, h.logger, "get_balance", err)
		return
	}
	writeJSON(w, http.StatusOK, balances)
}

// GetBankHandler returns the account clients should transfer deposits into.
func (h *WalletHandlers) GetBankHandler(w http.ResponseWriter, r *http.Request) {
	dest, err := h.settlement.GetBankDestination(r.Context())
	if err != nil {
		writeServiceError(w, h.logger, "get_bank", err)
		return
	}
	writeJSON(w, http.StatusOK, dest)
}

// ListPlansHandler returns the plan catalog.
func (h *WalletHandlers) ListPlansHandler(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, domain.Plans())
}

// HistoryHandler returns the caller's own transactions, most recent first.
func (h *WalletHandlers) HistoryHandler(w http.ResponseWriter, r *http.Request) {
	id, ok := CallerIdentity(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "Could not get user ID from context")
		return
	}
	txs, err := h.settlement.History(r.Context(), id.AccountID)
	if err != nil {
		writeServiceError(w, h.logger, "history", err)
		return
	}
	writeJSON(w, http.StatusOK, txs)
}

// RecordActivityHandler records a login or registration for the caller.
func (h *WalletHandlers) RecordActivityHandler(w http.ResponseWriter, r *http.Request) {
	id, ok := CallerIdentity(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "Could not get user ID from context")
		return
	}
	var req activityRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	entry, err := h.activity.Record(r.Context(), id.AccountID, id.Email, req.Type, req.Phone)
	if err != nil {
		writeServiceError(w, h.logger, "record_activity", err)
		return
	}
	writeJSON(w, http.StatusCreated, entry)
}
