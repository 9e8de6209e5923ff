package handler

import (
	"crypto/subtle"
	"net/http"
	"time"

	"github.com/credithub/backend/internal/domain"
	"github.com/credithub/backend/internal/service"
)

// AllocationHandler is the operator/scheduler entry point for renewal
// allocation, protected by a shared secret rather than user auth.
type AllocationHandler struct {
	subs   *service.SubscriptionService
	secret string
}

// NewAllocationHandler creates a new AllocationHandler.
func NewAllocationHandler(subs *service.SubscriptionService, secret string) *AllocationHandler {
	return &AllocationHandler{subs: subs, secret: secret}
}

// Run handles POST /api/internal/allocations/run. Re-running or overlapping
// with the background scheduler is safe: grants are keyed per billing
// period.
func (h *AllocationHandler) Run(w http.ResponseWriter, r *http.Request) {
	supplied := r.Header.Get("X-Allocation-Secret")
	if h.secret == "" || subtle.ConstantTimeCompare([]byte(supplied), []byte(h.secret)) != 1 {
		JSON(w, http.StatusUnauthorized, map[string]string{"error": "invalid allocation secret"})
		return
	}

	renewed, err := h.subs.RunDueRenewals(r.Context(), time.Now())
	if err != nil {
		Error(w, domain.ErrInternal("allocation run failed", err))
		return
	}

	JSON(w, http.StatusOK, map[string]int{"renewed": renewed})
}
