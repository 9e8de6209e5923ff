package domain

import "time"

// EventKind is the canonical, processor-agnostic classification of a payment
// or subscription occurrence. Downstream components only ever see these.
type EventKind string

const (
	EventOrderCaptured             EventKind = "order_captured"
	EventSubscriptionActivated     EventKind = "subscription_activated"
	EventSubscriptionRenewed       EventKind = "subscription_renewed"
	EventSubscriptionCancelled     EventKind = "subscription_cancelled"
	EventSubscriptionPaymentFailed EventKind = "subscription_payment_failed"
	EventRefundIssued              EventKind = "refund_issued"
)

// CanonicalEvent is the normalized form of a provider notification. EventID
// drives idempotency and must come from a signed field. Adapters that cannot
// vouch for account or credit fields leave them zero and set OrderRef to the
// signed order id; the service resolves those from the checkout order record.
type CanonicalEvent struct {
	Provider      string    `json:"provider"`
	Kind          EventKind `json:"kind"`
	EventID       string    `json:"eventId"`
	AccountID     string    `json:"accountId"`
	Credits       int64     `json:"credits"`
	AmountCents   int64     `json:"amountCents"`
	OrderRef      string    `json:"orderRef,omitempty"`
	Plan          string    `json:"plan,omitempty"`
	ProviderSubID string    `json:"providerSubId,omitempty"`
	PeriodEnd     time.Time `json:"periodEnd,omitempty"`
}
