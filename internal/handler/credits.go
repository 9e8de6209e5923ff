package handler

import (
	"net/http"
	"time"

	"github.com/credithub/backend/internal/contextkeys"
	"github.com/credithub/backend/internal/domain"
	"github.com/credithub/backend/internal/repository"
	"github.com/credithub/backend/internal/service"
)

// CreditsHandler exposes the spend, balance and history endpoints used by
// product surfaces.
type CreditsHandler struct {
	authorizer *service.SpendAuthorizer
	ledger     repository.LedgerStore
	accounts   repository.AccountStore
	subs       *service.SubscriptionService
	policy     *service.AdminPolicy
}

// NewCreditsHandler creates a new CreditsHandler.
func NewCreditsHandler(authorizer *service.SpendAuthorizer, ledger repository.LedgerStore, accounts repository.AccountStore, subs *service.SubscriptionService, policy *service.AdminPolicy) *CreditsHandler {
	return &CreditsHandler{
		authorizer: authorizer,
		ledger:     ledger,
		accounts:   accounts,
		subs:       subs,
		policy:     policy,
	}
}

// Spend handles POST /api/credits/spend.
func (h *CreditsHandler) Spend(w http.ResponseWriter, r *http.Request) {
	accountID, ok := r.Context().Value(contextkeys.UserID).(string)
	if !ok || accountID == "" {
		JSON(w, http.StatusUnauthorized, map[string]string{"error": "unauthorized"})
		return
	}

	var req domain.SpendRequest
	if err := DecodeJSON(r, &req); err != nil {
		Error(w, err)
		return
	}
	if err := Validate(&req); err != nil {
		Error(w, err)
		return
	}

	required := req.Amount
	if req.Operation != "" {
		// The server-side price table is authoritative; a client-supplied
		// amount is ignored when an operation is named.
		cost, ok := domain.CostFor(req.Operation)
		if !ok {
			Error(w, domain.ErrBadRequest("unknown operation"))
			return
		}
		required = cost
	}
	if required <= 0 {
		Error(w, domain.ErrBadRequest("operation or positive amount required"))
		return
	}

	result, err := h.authorizer.Authorize(r.Context(), accountID, required, req.IdempotencyKey)
	if err != nil {
		if ic, ok := domain.AsInsufficientCredits(err); ok {
			JSON(w, http.StatusPaymentRequired, map[string]interface{}{
				"error":     "insufficient credits",
				"balance":   ic.Balance,
				"shortfall": ic.Shortfall,
			})
			return
		}
		Error(w, err)
		return
	}

	resp := map[string]interface{}{
		"granted": result.Granted,
	}
	if result.Unlimited {
		resp["unlimited"] = true
	} else {
		resp["balance"] = result.NewBalance
	}
	JSON(w, http.StatusOK, resp)
}

// Balance handles GET /api/credits/balance.
func (h *CreditsHandler) Balance(w http.ResponseWriter, r *http.Request) {
	accountID, ok := r.Context().Value(contextkeys.UserID).(string)
	if !ok || accountID == "" {
		JSON(w, http.StatusUnauthorized, map[string]string{"error": "unauthorized"})
		return
	}

	acc, err := h.accounts.FindByID(r.Context(), accountID)
	if err != nil {
		Error(w, domain.ErrInternal("failed to load account", err))
		return
	}
	if acc == nil {
		Error(w, domain.ErrNotFound("account not found"))
		return
	}

	// Period usage is measured from the active subscription's period start,
	// falling back to a trailing 30 days for accounts without one.
	periodStart := time.Now().AddDate(0, 0, -30)
	sub, err := h.subs.GetCurrentSubscription(r.Context(), accountID)
	if err != nil {
		Error(w, domain.ErrInternal("failed to load subscription", err))
		return
	}
	if sub != nil {
		periodStart = sub.CurrentPeriodStart
	}

	spent, err := h.ledger.SpentSince(r.Context(), accountID, periodStart)
	if err != nil {
		Error(w, domain.ErrInternal("failed to compute usage", err))
		return
	}

	resp := map[string]interface{}{
		"tier":        acc.Tier,
		"periodSpent": spent,
	}
	if h.policy.Unlimited(acc) {
		resp["unlimited"] = true
	} else {
		resp["balance"] = acc.Balance
	}
	if sub != nil {
		resp["subscription"] = sub
	}
	JSON(w, http.StatusOK, resp)
}

// History handles GET /api/credits/history.
func (h *CreditsHandler) History(w http.ResponseWriter, r *http.Request) {
	accountID, ok := r.Context().Value(contextkeys.UserID).(string)
	if !ok || accountID == "" {
		JSON(w, http.StatusUnauthorized, map[string]string{"error": "unauthorized"})
		return
	}

	entries, err := h.ledger.EntriesByAccount(r.Context(), accountID, 50)
	if err != nil {
		Error(w, domain.ErrInternal("failed to load history", err))
		return
	}
	if entries == nil {
		entries = []domain.LedgerEntry{}
	}
	JSON(w, http.StatusOK, entries)
}
