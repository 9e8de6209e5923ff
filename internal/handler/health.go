package handler

import (
	"net/http"

	"github.com/jackc/pgx/v5/pgxpool"
)

// HealthHandler reports service liveness and storage connectivity.
type HealthHandler struct {
	db *pgxpool.Pool
}

func NewHealthHandler(db *pgxpool.Pool) *HealthHandler {
	return &HealthHandler{db: db}
}

// Check handles GET /health.
func (h *HealthHandler) Check(w http.ResponseWriter, r *http.Request) {
	status := map[string]string{
		"status":  "ok",
		"storage": "memory",
	}

	if h.db != nil {
		status["storage"] = "postgres"
		if err := h.db.Ping(r.Context()); err != nil {
			status["status"] = "degraded"
			status["storage"] = "unreachable"
			JSON(w, http.StatusServiceUnavailable, status)
			return
		}
	}

	JSON(w, http.StatusOK, status)
}
