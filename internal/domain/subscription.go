package domain

import "time"

// SubscriptionStatus is the lifecycle state of a recurring plan.
// pending → active ⇄ past_due → cancelled; cancelled is terminal.
type SubscriptionStatus string

const (
	SubStatusPending   SubscriptionStatus = "pending"
	SubStatusActive    SubscriptionStatus = "active"
	SubStatusPastDue   SubscriptionStatus = "past_due"
	SubStatusCancelled SubscriptionStatus = "cancelled"
)

// CanTransition reports whether a status change is allowed by the lifecycle.
// Transitions are driven exclusively by normalized provider events and the
// allocation trigger — never by client requests.
func CanTransition(from, to SubscriptionStatus) bool {
	if from == to {
		return true
	}
	switch from {
	case SubStatusPending:
		return to == SubStatusActive || to == SubStatusCancelled
	case SubStatusActive:
		return to == SubStatusPastDue || to == SubStatusCancelled
	case SubStatusPastDue:
		return to == SubStatusActive || to == SubStatusCancelled
	case SubStatusCancelled:
		return false // terminal
	}
	return false
}

// Subscription is one recurring-plan record per account per provider.
// Cancelled subscriptions are kept as history, never deleted.
type Subscription struct {
	ID                 string             `json:"id"`
	AccountID          string             `json:"accountId"`
	Provider           string             `json:"provider"`
	ProviderSubID      string             `json:"providerSubId"`
	Plan               string             `json:"plan"`
	Status             SubscriptionStatus `json:"status"`
	CurrentPeriodStart time.Time          `json:"currentPeriodStart"`
	CurrentPeriodEnd   time.Time          `json:"currentPeriodEnd"`
	CreditsPerPeriod   int64              `json:"creditsPerPeriod"`
	Rollover           bool               `json:"rollover"`
	CreatedAt          time.Time          `json:"createdAt"`
	UpdatedAt          time.Time          `json:"updatedAt"`
}
