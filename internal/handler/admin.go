package handler

import (
	"log"
	"net/http"
	"time"

	"github.com/credithub/backend/internal/domain"
	"github.com/credithub/backend/internal/service"
	"github.com/go-chi/chi/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// AdminHandler exposes operator endpoints: system stats, account management
// and promotional bonus grants. All routes are gated by the AdminOnly
// middleware.
type AdminHandler struct {
	db        *pgxpool.Pool
	authSvc   *service.AuthService
	provision *service.ProvisionService
}

// NewAdminHandler creates a new AdminHandler. db may be nil when the server
// runs on the in-memory store; stats then degrade gracefully.
func NewAdminHandler(db *pgxpool.Pool, authSvc *service.AuthService, provision *service.ProvisionService) *AdminHandler {
	return &AdminHandler{db: db, authSvc: authSvc, provision: provision}
}

// GetStats returns system-wide metrics.
func (h *AdminHandler) GetStats(w http.ResponseWriter, r *http.Request) {
	if h.db == nil {
		JSON(w, http.StatusOK, map[string]string{"storage": "memory"})
		return
	}

	var accountsCount, entriesCount, subsCount int
	var granted, spent int64

	if err := h.db.QueryRow(r.Context(), "SELECT COUNT(*) FROM accounts").Scan(&accountsCount); err != nil {
		log.Printf("Failed to count accounts: %v", err)
	}
	if err := h.db.QueryRow(r.Context(), "SELECT COUNT(*) FROM ledger_entries").Scan(&entriesCount); err != nil {
		log.Printf("Failed to count ledger entries: %v", err)
	}
	if err := h.db.QueryRow(r.Context(), "SELECT COUNT(*) FROM subscriptions WHERE status = 'active'").Scan(&subsCount); err != nil {
		log.Printf("Failed to count subscriptions: %v", err)
	}
	if err := h.db.QueryRow(r.Context(), "SELECT COALESCE(SUM(amount), 0) FROM ledger_entries WHERE amount > 0").Scan(&granted); err != nil {
		log.Printf("Failed to sum grants: %v", err)
	}
	if err := h.db.QueryRow(r.Context(), "SELECT COALESCE(-SUM(amount), 0) FROM ledger_entries WHERE amount < 0").Scan(&spent); err != nil {
		log.Printf("Failed to sum spends: %v", err)
	}

	JSON(w, http.StatusOK, map[string]interface{}{
		"accounts":            accountsCount,
		"ledgerEntries":       entriesCount,
		"activeSubscriptions": subsCount,
		"creditsGranted":      granted,
		"creditsSpent":        spent,
	})
}

// ListAccounts handles GET /api/admin/accounts.
func (h *AdminHandler) ListAccounts(w http.ResponseWriter, r *http.Request) {
	accounts, err := h.authSvc.ListAccounts(r.Context())
	if err != nil {
		Error(w, err)
		return
	}
	JSON(w, http.StatusOK, accounts)
}

// CreateAccount handles POST /api/admin/accounts.
func (h *AdminHandler) CreateAccount(w http.ResponseWriter, r *http.Request) {
	var req domain.CreateAccountRequest
	if err := DecodeJSON(r, &req); err != nil {
		Error(w, err)
		return
	}
	if err := Validate(&req); err != nil {
		Error(w, err)
		return
	}

	acc, err := h.authSvc.CreateAccount(r.Context(), &req)
	if err != nil {
		Error(w, err)
		return
	}

	JSON(w, http.StatusCreated, acc)
}

// GrantBonus handles POST /api/admin/accounts/{id}/bonus. Bonuses flow
// through the provisioning service like every other credit path.
func (h *AdminHandler) GrantBonus(w http.ResponseWriter, r *http.Request) {
	accountID := chi.URLParam(r, "id")

	var req domain.BonusRequest
	if err := DecodeJSON(r, &req); err != nil {
		Error(w, err)
		return
	}
	if err := Validate(&req); err != nil {
		Error(w, err)
		return
	}

	var expiresAt *time.Time
	if req.ExpiresDays > 0 {
		t := time.Now().AddDate(0, 0, req.ExpiresDays)
		expiresAt = &t
	}

	result, err := h.provision.ProvisionBonus(r.Context(), accountID, req.Credits, "bonus:"+req.Reference, expiresAt)
	if err != nil {
		Error(w, err)
		return
	}

	JSON(w, http.StatusOK, map[string]interface{}{
		"balance":   result.NewBalance,
		"duplicate": result.Duplicate,
	})
}
