package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the Prometheus counters for the credits engine. Everything
// here is observational; no code path depends on a counter value.
type Metrics struct {
	WebhookEvents  *prometheus.CounterVec
	SpendRequests  *prometheus.CounterVec
	CreditsGranted prometheus.Counter
	CreditsSpent   prometheus.Counter
}

// Webhook/spend outcome labels.
const (
	OutcomeApplied      = "applied"
	OutcomeDuplicate    = "duplicate"
	OutcomeIgnored      = "ignored"
	OutcomeRejected     = "rejected"
	OutcomeError        = "error"
	OutcomeGranted      = "granted"
	OutcomeInsufficient = "insufficient"
	OutcomeRateLimited  = "rate_limited"
	OutcomeExempt       = "admin_exempt"
)

// New registers the counters on the given registry.
func New(registry *prometheus.Registry) *Metrics {
	return &Metrics{
		WebhookEvents: promauto.With(registry).NewCounterVec(
			prometheus.CounterOpts{
				Name: "webhook_events_total",
				Help: "Inbound provider webhook events by provider and outcome",
			},
			[]string{"provider", "outcome"},
		),
		SpendRequests: promauto.With(registry).NewCounterVec(
			prometheus.CounterOpts{
				Name: "spend_requests_total",
				Help: "Spend authorization requests by outcome",
			},
			[]string{"outcome"},
		),
		CreditsGranted: promauto.With(registry).NewCounter(
			prometheus.CounterOpts{
				Name: "credits_granted_total",
				Help: "Total credits added to ledgers",
			},
		),
		CreditsSpent: promauto.With(registry).NewCounter(
			prometheus.CounterOpts{
				Name: "credits_spent_total",
				Help: "Total credits debited from ledgers",
			},
		),
	}
}
