package handler

import (
	"errors"
	"io"
	"log"
	"net/http"

	"github.com/credithub/backend/internal/metrics"
	"github.com/credithub/backend/internal/service"
	"github.com/credithub/backend/pkg/payment"
	"github.com/go-chi/chi/v5"
)

// WebhookHandler receives payment-processor notifications. Delivery has no
// ordering guarantee and may repeat; everything downstream is idempotent, so
// the only job here is verification, normalization and honest status codes.
type WebhookHandler struct {
	providers map[string]payment.Provider
	subs      *service.SubscriptionService
	metrics   *metrics.Metrics
}

// NewWebhookHandler creates a new WebhookHandler.
func NewWebhookHandler(subs *service.SubscriptionService, m *metrics.Metrics, providers ...payment.Provider) *WebhookHandler {
	byName := make(map[string]payment.Provider, len(providers))
	for _, p := range providers {
		byName[p.Name()] = p
	}
	return &WebhookHandler{providers: byName, subs: subs, metrics: m}
}

// Handle handles POST /api/webhooks/{provider}.
func (h *WebhookHandler) Handle(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "provider")
	provider, ok := h.providers[name]
	if !ok {
		http.Error(w, "Unknown provider", http.StatusNotFound)
		return
	}

	body, err := io.ReadAll(r.Body)
	if err != nil {
		http.Error(w, "Failed to read body", http.StatusBadRequest)
		return
	}

	ev, err := provider.Normalize(body, r.Header)
	if err != nil {
		var verr *payment.VerificationError
		if errors.As(err, &verr) {
			// Untrusted input: audit-log and reject. The ledger is untouched.
			log.Printf("[Webhook] %s verification failure: %s", verr.Provider, verr.Reason)
			h.count(name, metrics.OutcomeRejected)
			http.Error(w, "Invalid signature", http.StatusUnauthorized)
			return
		}
		var ierr *payment.IgnoredEventError
		if errors.As(err, &ierr) {
			// Acknowledge so the sender stops retrying; no ledger effect.
			log.Printf("[Webhook] %s ignoring event type %q", ierr.Provider, ierr.EventType)
			h.count(name, metrics.OutcomeIgnored)
			JSON(w, http.StatusOK, map[string]string{"status": "ignored"})
			return
		}
		log.Printf("[Webhook] %s normalize error: %v", name, err)
		http.Error(w, "Failed to process event", http.StatusInternalServerError)
		return
	}

	if err := h.subs.ApplyEvent(r.Context(), ev); err != nil {
		// Non-2xx makes the provider redeliver; the idempotency guard makes
		// that redelivery safe.
		log.Printf("[Webhook] %s event %s failed: %v", name, ev.EventID, err)
		h.count(name, metrics.OutcomeError)
		http.Error(w, "Failed to apply event", http.StatusInternalServerError)
		return
	}

	h.count(name, metrics.OutcomeApplied)
	JSON(w, http.StatusOK, map[string]string{"status": "received"})
}

func (h *WebhookHandler) count(provider, outcome string) {
	if h.metrics != nil {
		h.metrics.WebhookEvents.WithLabelValues(provider, outcome).Inc()
	}
}
