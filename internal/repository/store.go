package repository

import (
	"context"
	"time"

	"github.com/credithub/backend/internal/domain"
)

// AppendRequest describes one atomic ledger write. Exactly one processed
// event record, one or two ledger entries and one balance update are applied
// together, or nothing is.
type AppendRequest struct {
	AccountID   string
	Amount      int64 // positive = credit, negative = debit, zero = audit entry
	Kind        domain.EntryKind
	Source      string
	ExternalRef string
	ExpiresAt   *time.Time

	// ResetAmount, when positive, is debited as a balancing entry before
	// Amount is applied, inside the same transaction, clamped to the
	// available balance. Used for non-rollover renewals: the caller passes
	// what remains of the closing period's allocation so the new allocation
	// replaces it without touching purchased or bonus credits.
	ResetAmount int64

	// ClampToZero caps a debit at the available balance instead of failing
	// with insufficient credits. Used for refund reversals, where the user
	// may already have spent part of the refunded credits.
	ClampToZero bool
}

// LedgerStore is the single writer of balances. Append is atomic and
// idempotent on (Source, ExternalRef); a duplicate returns the balance the
// original apply produced, not an error.
type LedgerStore interface {
	Append(ctx context.Context, req AppendRequest) (domain.AppendResult, error)
	Balance(ctx context.Context, accountID string) (int64, error)
	EntriesByAccount(ctx context.Context, accountID string, limit int) ([]domain.LedgerEntry, error)
	SpentSince(ctx context.Context, accountID string, since time.Time) (int64, error)
	// ExpiredPromotional returns promotional credit entries whose expiry has
	// passed and which have not yet been offset by a promo_expiry debit.
	ExpiredPromotional(ctx context.Context, now time.Time) ([]domain.LedgerEntry, error)
}

// AccountStore handles account persistence. Balance is never written through
// this interface — only the ledger store touches it.
type AccountStore interface {
	Create(ctx context.Context, a *domain.Account) error
	FindByID(ctx context.Context, id string) (*domain.Account, error)
	FindByEmail(ctx context.Context, email string) (*domain.Account, error)
	Exists(ctx context.Context, email string) (bool, error)
	ListAll(ctx context.Context) ([]*domain.Account, error)
	SetTier(ctx context.Context, id string, tier domain.Tier) error
}

// SubscriptionStore persists recurring-plan records. Rows are never deleted
// by cancellation; cancelled subscriptions remain as history.
type SubscriptionStore interface {
	Create(ctx context.Context, sub *domain.Subscription) error
	FindByProviderSubID(ctx context.Context, provider, providerSubID string) (*domain.Subscription, error)
	FindActiveByAccount(ctx context.Context, accountID string) (*domain.Subscription, error)
	Update(ctx context.Context, sub *domain.Subscription) error
	// DueForRenewal returns active subscriptions whose period has ended.
	DueForRenewal(ctx context.Context, now time.Time) ([]*domain.Subscription, error)
}

// UsageStore is the advisory rate/usage tracker. It is decoupled from the
// ledger: a lost or double-counted row degrades throttling, never money.
// OrderStore persists checkout orders. An order binds a processor's signed
// order id to the account and goods agreed at checkout time, so webhook
// notifications whose payloads are only partially signed can be resolved
// without trusting any unsigned field.
type OrderStore interface {
	Create(ctx context.Context, o *domain.Order) error
	FindByID(ctx context.Context, id string) (*domain.Order, error)
	MarkPaid(ctx context.Context, id string) error
}

type UsageStore interface {
	RecordAndCheck(ctx context.Context, key, category string, window time.Duration, max int) (allowed bool, count int, err error)
	Purge(ctx context.Context, olderThan time.Duration) error
}

var (
	_ LedgerStore       = (*LedgerRepository)(nil)
	_ AccountStore      = (*AccountRepository)(nil)
	_ SubscriptionStore = (*SubscriptionRepository)(nil)
	_ UsageStore        = (*UsageRepository)(nil)
	_ OrderStore        = (*OrderRepository)(nil)
	_ LedgerStore       = (*MemoryStore)(nil)
	_ UsageStore        = (*MemoryStore)(nil)
)
