package handler

import (
	"net/http"

	"github.com/credithub/backend/internal/contextkeys"
	"github.com/credithub/backend/internal/domain"
	"github.com/credithub/backend/internal/service"
)

// CheckoutHandler opens checkout orders. The returned order id is what the
// client hands to the wallet processor, and what the processor's signed
// notifications later reference.
type CheckoutHandler struct {
	checkout *service.CheckoutService
}

// NewCheckoutHandler creates a new CheckoutHandler.
func NewCheckoutHandler(checkout *service.CheckoutService) *CheckoutHandler {
	return &CheckoutHandler{checkout: checkout}
}

type checkoutRequest struct {
	Pack string `json:"pack" validate:"omitempty,max=64"`
	Plan string `json:"plan" validate:"omitempty,max=64"`
}

// Create handles POST /api/credits/checkout.
func (h *CheckoutHandler) Create(w http.ResponseWriter, r *http.Request) {
	accountID, ok := r.Context().Value(contextkeys.UserID).(string)
	if !ok || accountID == "" {
		JSON(w, http.StatusUnauthorized, map[string]string{"error": "unauthorized"})
		return
	}

	var req checkoutRequest
	if err := DecodeJSON(r, &req); err != nil {
		Error(w, err)
		return
	}
	if err := Validate(&req); err != nil {
		Error(w, err)
		return
	}
	if (req.Pack == "") == (req.Plan == "") {
		Error(w, domain.ErrBadRequest("exactly one of pack or plan is required"))
		return
	}

	var order *domain.Order
	var err error
	if req.Pack != "" {
		order, err = h.checkout.CreatePackOrder(r.Context(), accountID, req.Pack)
	} else {
		order, err = h.checkout.CreateSubscriptionOrder(r.Context(), accountID, req.Plan)
	}
	if err != nil {
		Error(w, err)
		return
	}

	JSON(w, http.StatusCreated, map[string]interface{}{
		"orderId":     order.ID,
		"kind":        order.Kind,
		"credits":     order.Credits,
		"amountCents": order.AmountCents,
	})
}

// Packs handles GET /api/credits/packs.
func (h *CheckoutHandler) Packs(w http.ResponseWriter, r *http.Request) {
	JSON(w, http.StatusOK, domain.AvailablePacks())
}
