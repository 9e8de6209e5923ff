package handler

import (
	"net/http"

	"github.com/credithub/backend/internal/domain"
)

// PlansHandler serves the public plan and price tables.
type PlansHandler struct{}

// NewPlansHandler creates a new PlansHandler.
func NewPlansHandler() *PlansHandler {
	return &PlansHandler{}
}

// List handles GET /api/plans.
func (h *PlansHandler) List(w http.ResponseWriter, r *http.Request) {
	JSON(w, http.StatusOK, domain.AvailablePlans())
}

// Costs handles GET /api/plans/costs.
func (h *PlansHandler) Costs(w http.ResponseWriter, r *http.Request) {
	JSON(w, http.StatusOK, domain.OperationCosts)
}
