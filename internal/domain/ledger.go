package domain

import "time"

// EntryKind classifies a ledger entry. Positive-amount kinds are credits,
// negative-amount kinds are debits; admin_exempt_spend is always zero.
type EntryKind string

const (
	KindPurchase               EntryKind = "purchase"
	KindSubscriptionActivation EntryKind = "subscription_activation"
	KindSubscriptionRenewal    EntryKind = "subscription_renewal"
	KindRefund                 EntryKind = "refund"
	KindSpend                  EntryKind = "spend"
	KindAdminExemptSpend       EntryKind = "admin_exempt_spend"
	KindBonus                  EntryKind = "bonus"
	KindPromoExpiry            EntryKind = "promo_expiry"
)

// Entry sources. The (source, external ref) pair is unique across the
// ledger: a source identifies who supplied the reference, so provider event
// ids and caller idempotency keys can never collide.
const (
	SourceCardgate  = "cardgate"
	SourceWalletpay = "walletpay"
	SourceSpend     = "spend"
	SourceSystem    = "system"
)

// LedgerEntry is an immutable signed credit/debit record. The running sum of
// an account's entries always equals its materialized balance.
type LedgerEntry struct {
	ID           string     `json:"id"`
	AccountID    string     `json:"accountId"`
	Amount       int64      `json:"amount"` // positive = credit, negative = debit
	Kind         EntryKind  `json:"kind"`
	Source       string     `json:"source"`
	ExternalRef  string     `json:"externalRef"`
	BalanceAfter int64      `json:"balanceAfter"`
	ExpiresAt    *time.Time `json:"expiresAt,omitempty"` // promotional credits only
	CreatedAt    time.Time  `json:"createdAt"`
}

// IsCreditKind reports whether the kind must carry a positive amount.
func IsCreditKind(k EntryKind) bool {
	switch k {
	case KindPurchase, KindSubscriptionActivation, KindSubscriptionRenewal, KindBonus:
		return true
	}
	return false
}

// AppendResult is the outcome of a ledger append. Duplicate means the
// (source, external ref) pair was already applied; NewBalance then reports
// the balance that resulted from the original apply.
type AppendResult struct {
	NewBalance int64
	Duplicate  bool
	EntryID    string
}

// SpendRequest is the input for the spend endpoint. Either Operation (looked
// up in the price table) or Amount must be set.
type SpendRequest struct {
	Operation      string `json:"operation" validate:"omitempty,max=64"`
	Amount         int64  `json:"amount" validate:"omitempty,gt=0"`
	IdempotencyKey string `json:"idempotencyKey" validate:"required,min=8,max=128"`
}

// BonusRequest is the admin input for granting promotional credits.
type BonusRequest struct {
	Credits     int64  `json:"credits" validate:"required,gt=0"`
	Reference   string `json:"reference" validate:"required,min=4,max=128"`
	ExpiresDays int    `json:"expiresDays" validate:"omitempty,gt=0"`
}
