package service

import (
	"context"
	"testing"
	"time"

	"github.com/credithub/backend/internal/domain"
	"github.com/credithub/backend/internal/metrics"
	"github.com/credithub/backend/internal/repository"
	"github.com/credithub/backend/pkg/events"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newSubFixture(t *testing.T) (*repository.MemoryStore, *SubscriptionService) {
	t.Helper()
	store := repository.NewMemoryStore()
	m := metrics.New(prometheus.NewRegistry())
	provision := NewProvisionService(store, events.NoopPublisher{}, m)
	return store, NewSubscriptionService(store.Subscriptions(), store.Accounts(), store.Orders(), provision)
}

func activationEvent(accountID, eventID string) domain.CanonicalEvent {
	return domain.CanonicalEvent{
		Provider:      domain.SourceCardgate,
		Kind:          domain.EventSubscriptionActivated,
		EventID:       eventID,
		AccountID:     accountID,
		Plan:          "starter",
		ProviderSubID: "sub_1",
		PeriodEnd:     time.Now().AddDate(0, 1, 0),
	}
}

func TestApplyEventOrderCaptured(t *testing.T) {
	store, svc := newSubFixture(t)
	ctx := context.Background()
	acc := seedAccount(t, store)

	ev := domain.CanonicalEvent{
		Provider:  domain.SourceWalletpay,
		Kind:      domain.EventOrderCaptured,
		EventID:   "txn_1",
		AccountID: acc,
		Credits:   100,
	}
	require.NoError(t, svc.ApplyEvent(ctx, ev))

	// Redelivery changes nothing.
	require.NoError(t, svc.ApplyEvent(ctx, ev))

	balance, err := store.Balance(ctx, acc)
	require.NoError(t, err)
	assert.Equal(t, int64(100), balance)
	assert.Equal(t, 1, store.EntryCount(acc, domain.KindPurchase))
}

func TestApplyEventActivation(t *testing.T) {
	store, svc := newSubFixture(t)
	ctx := context.Background()
	acc := seedAccount(t, store)

	require.NoError(t, svc.ApplyEvent(ctx, activationEvent(acc, "evt_act_1")))

	sub, err := store.Subscriptions().FindByProviderSubID(ctx, domain.SourceCardgate, "sub_1")
	require.NoError(t, err)
	require.NotNil(t, sub)
	assert.Equal(t, domain.SubStatusActive, sub.Status)
	assert.Equal(t, "starter", sub.Plan)
	assert.Equal(t, int64(500), sub.CreditsPerPeriod)
	assert.False(t, sub.Rollover)

	acct, err := store.Accounts().FindByID(ctx, acc)
	require.NoError(t, err)
	assert.Equal(t, domain.TierStarter, acct.Tier)

	balance, err := store.Balance(ctx, acc)
	require.NoError(t, err)
	assert.Equal(t, int64(500), balance)

	// Duplicate activation delivery does not double-grant.
	require.NoError(t, svc.ApplyEvent(ctx, activationEvent(acc, "evt_act_1")))
	balance, err = store.Balance(ctx, acc)
	require.NoError(t, err)
	assert.Equal(t, int64(500), balance)
}

func TestApplyEventUnknownPlan(t *testing.T) {
	store, svc := newSubFixture(t)
	ctx := context.Background()
	acc := seedAccount(t, store)

	ev := activationEvent(acc, "evt_act_1")
	ev.Plan = "platinum"
	err := svc.ApplyEvent(ctx, ev)
	require.Error(t, err)
}

func TestApplyEventRenewalNonRolloverReplaces(t *testing.T) {
	store, svc := newSubFixture(t)
	ctx := context.Background()
	acc := seedAccount(t, store)

	require.NoError(t, svc.ApplyEvent(ctx, activationEvent(acc, "evt_act_1")))

	// Spend part of the period's allocation.
	m := metrics.New(prometheus.NewRegistry())
	provision := NewProvisionService(store, events.NoopPublisher{}, m)
	_, err := provision.Debit(ctx, acc, 380, "op-1")
	require.NoError(t, err)

	renew := domain.CanonicalEvent{
		Provider:      domain.SourceCardgate,
		Kind:          domain.EventSubscriptionRenewed,
		EventID:       "evt_ren_1",
		AccountID:     acc,
		Plan:          "starter",
		ProviderSubID: "sub_1",
		PeriodEnd:     time.Now().AddDate(0, 2, 0),
	}
	require.NoError(t, svc.ApplyEvent(ctx, renew))

	// Starter does not roll over: 120 leftover is replaced, not added.
	balance, err := store.Balance(ctx, acc)
	require.NoError(t, err)
	assert.Equal(t, int64(500), balance)
	assert.Equal(t, balance, store.EntrySum(acc))

	// The same renewal delivered again is a no-op, and the period is not
	// advanced into a zero-length window.
	require.NoError(t, svc.ApplyEvent(ctx, renew))
	balance, err = store.Balance(ctx, acc)
	require.NoError(t, err)
	assert.Equal(t, int64(500), balance)

	sub, err := store.Subscriptions().FindByProviderSubID(ctx, domain.SourceCardgate, "sub_1")
	require.NoError(t, err)
	assert.True(t, sub.CurrentPeriodStart.Before(sub.CurrentPeriodEnd))
	assert.True(t, sub.CurrentPeriodEnd.Equal(renew.PeriodEnd))
}

func TestApplyEventRenewalRedeliveryWithoutPeriodEnd(t *testing.T) {
	store, svc := newSubFixture(t)
	ctx := context.Background()
	acc := seedAccount(t, store)

	act := activationEvent(acc, "evt_act_1")
	act.Plan = "pro"
	require.NoError(t, svc.ApplyEvent(ctx, act))

	// Some processors omit the period end; the service derives it. The
	// derived value must not leak into the idempotency key: redelivering the
	// same event may neither grant again nor advance the period again.
	renew := domain.CanonicalEvent{
		Provider:      domain.SourceCardgate,
		Kind:          domain.EventSubscriptionRenewed,
		EventID:       "evt_ren_1",
		AccountID:     acc,
		Plan:          "pro",
		ProviderSubID: "sub_1",
	}
	require.NoError(t, svc.ApplyEvent(ctx, renew))

	balance, err := store.Balance(ctx, acc)
	require.NoError(t, err)
	assert.Equal(t, int64(4000), balance)

	first, err := store.Subscriptions().FindByProviderSubID(ctx, domain.SourceCardgate, "sub_1")
	require.NoError(t, err)

	require.NoError(t, svc.ApplyEvent(ctx, renew))

	balance, err = store.Balance(ctx, acc)
	require.NoError(t, err)
	assert.Equal(t, int64(4000), balance)
	assert.Equal(t, balance, store.EntrySum(acc))

	again, err := store.Subscriptions().FindByProviderSubID(ctx, domain.SourceCardgate, "sub_1")
	require.NoError(t, err)
	assert.True(t, again.CurrentPeriodStart.Equal(first.CurrentPeriodStart))
	assert.True(t, again.CurrentPeriodEnd.Equal(first.CurrentPeriodEnd))
	assert.True(t, again.CurrentPeriodStart.Before(again.CurrentPeriodEnd))
}

func TestApplyEventRenewalPreservesPurchasedCredits(t *testing.T) {
	store, svc := newSubFixture(t)
	ctx := context.Background()
	acc := seedAccount(t, store)

	require.NoError(t, svc.ApplyEvent(ctx, activationEvent(acc, "evt_act_1")))

	// A credit pack bought mid-period sits alongside the allocation.
	m := metrics.New(prometheus.NewRegistry())
	provision := NewProvisionService(store, events.NoopPublisher{}, m)
	_, err := provision.Provision(ctx, acc, 1000, domain.KindPurchase, domain.SourceCardgate, "evt_pack_1")
	require.NoError(t, err)

	renew := domain.CanonicalEvent{
		Provider:      domain.SourceCardgate,
		Kind:          domain.EventSubscriptionRenewed,
		EventID:       "evt_ren_1",
		AccountID:     acc,
		Plan:          "starter",
		ProviderSubID: "sub_1",
		PeriodEnd:     time.Now().AddDate(0, 2, 0),
	}
	require.NoError(t, svc.ApplyEvent(ctx, renew))

	// The replace debit removes only the unspent allocation. Purchased
	// credits never expire: 1000 + fresh 500.
	balance, err := store.Balance(ctx, acc)
	require.NoError(t, err)
	assert.Equal(t, int64(1500), balance)
	assert.Equal(t, balance, store.EntrySum(acc))
}

func TestApplyEventRenewalRolloverAdds(t *testing.T) {
	store, svc := newSubFixture(t)
	ctx := context.Background()
	acc := seedAccount(t, store)

	act := activationEvent(acc, "evt_act_1")
	act.Plan = "pro"
	require.NoError(t, svc.ApplyEvent(ctx, act))

	renew := domain.CanonicalEvent{
		Provider:      domain.SourceCardgate,
		Kind:          domain.EventSubscriptionRenewed,
		EventID:       "evt_ren_1",
		AccountID:     acc,
		Plan:          "pro",
		ProviderSubID: "sub_1",
		PeriodEnd:     time.Now().AddDate(0, 2, 0),
	}
	require.NoError(t, svc.ApplyEvent(ctx, renew))

	balance, err := store.Balance(ctx, acc)
	require.NoError(t, err)
	assert.Equal(t, int64(4000), balance)
}

func TestApplyEventRenewalBeforeActivation(t *testing.T) {
	store, svc := newSubFixture(t)
	ctx := context.Background()
	acc := seedAccount(t, store)

	// Webhook delivery is unordered: a renewal for an unknown subscription
	// bootstraps it like an activation.
	renew := domain.CanonicalEvent{
		Provider:      domain.SourceCardgate,
		Kind:          domain.EventSubscriptionRenewed,
		EventID:       "evt_ren_1",
		AccountID:     acc,
		Plan:          "starter",
		ProviderSubID: "sub_1",
		PeriodEnd:     time.Now().AddDate(0, 1, 0),
	}
	require.NoError(t, svc.ApplyEvent(ctx, renew))

	sub, err := store.Subscriptions().FindByProviderSubID(ctx, domain.SourceCardgate, "sub_1")
	require.NoError(t, err)
	require.NotNil(t, sub)
	assert.Equal(t, domain.SubStatusActive, sub.Status)

	balance, err := store.Balance(ctx, acc)
	require.NoError(t, err)
	assert.Equal(t, int64(500), balance)
}

func TestApplyEventPaymentFailedAndRecovery(t *testing.T) {
	store, svc := newSubFixture(t)
	ctx := context.Background()
	acc := seedAccount(t, store)

	require.NoError(t, svc.ApplyEvent(ctx, activationEvent(acc, "evt_act_1")))

	fail := domain.CanonicalEvent{
		Provider:      domain.SourceCardgate,
		Kind:          domain.EventSubscriptionPaymentFailed,
		EventID:       "evt_fail_1",
		AccountID:     acc,
		ProviderSubID: "sub_1",
	}
	require.NoError(t, svc.ApplyEvent(ctx, fail))

	sub, err := store.Subscriptions().FindByProviderSubID(ctx, domain.SourceCardgate, "sub_1")
	require.NoError(t, err)
	assert.Equal(t, domain.SubStatusPastDue, sub.Status)

	// Past-due does not claw back already-granted credits.
	balance, err := store.Balance(ctx, acc)
	require.NoError(t, err)
	assert.Equal(t, int64(500), balance)

	// A successful renewal recovers the subscription.
	renew := domain.CanonicalEvent{
		Provider:      domain.SourceCardgate,
		Kind:          domain.EventSubscriptionRenewed,
		EventID:       "evt_ren_1",
		AccountID:     acc,
		Plan:          "starter",
		ProviderSubID: "sub_1",
		PeriodEnd:     time.Now().AddDate(0, 2, 0),
	}
	require.NoError(t, svc.ApplyEvent(ctx, renew))

	sub, err = store.Subscriptions().FindByProviderSubID(ctx, domain.SourceCardgate, "sub_1")
	require.NoError(t, err)
	assert.Equal(t, domain.SubStatusActive, sub.Status)
}

func TestApplyEventCancellation(t *testing.T) {
	store, svc := newSubFixture(t)
	ctx := context.Background()
	acc := seedAccount(t, store)

	require.NoError(t, svc.ApplyEvent(ctx, activationEvent(acc, "evt_act_1")))

	cancel := domain.CanonicalEvent{
		Provider:      domain.SourceCardgate,
		Kind:          domain.EventSubscriptionCancelled,
		EventID:       "evt_can_1",
		AccountID:     acc,
		ProviderSubID: "sub_1",
	}
	require.NoError(t, svc.ApplyEvent(ctx, cancel))

	sub, err := store.Subscriptions().FindByProviderSubID(ctx, domain.SourceCardgate, "sub_1")
	require.NoError(t, err)
	assert.Equal(t, domain.SubStatusCancelled, sub.Status)

	acct, err := store.Accounts().FindByID(ctx, acc)
	require.NoError(t, err)
	assert.Equal(t, domain.TierNone, acct.Tier)

	// Granted credits survive cancellation.
	balance, err := store.Balance(ctx, acc)
	require.NoError(t, err)
	assert.Equal(t, int64(500), balance)

	// Cancelled is terminal: a late renewal for the dead subscription is
	// ignored without a grant.
	renew := domain.CanonicalEvent{
		Provider:      domain.SourceCardgate,
		Kind:          domain.EventSubscriptionRenewed,
		EventID:       "evt_ren_late",
		AccountID:     acc,
		Plan:          "starter",
		ProviderSubID: "sub_1",
	}
	require.NoError(t, svc.ApplyEvent(ctx, renew))
	balance, err = store.Balance(ctx, acc)
	require.NoError(t, err)
	assert.Equal(t, int64(500), balance)
}

func TestApplyEventUnknownSubTransitionIgnored(t *testing.T) {
	_, svc := newSubFixture(t)
	ctx := context.Background()

	fail := domain.CanonicalEvent{
		Provider:      domain.SourceCardgate,
		Kind:          domain.EventSubscriptionPaymentFailed,
		EventID:       "evt_fail_1",
		AccountID:     "acc-x",
		ProviderSubID: "sub_unknown",
	}
	// A transition event for a subscription we never saw is acknowledged and
	// dropped.
	require.NoError(t, svc.ApplyEvent(ctx, fail))
}

func seedOrder(t *testing.T, store *repository.MemoryStore, accountID string) *domain.Order {
	t.Helper()
	order := &domain.Order{
		ID:          "order-1",
		AccountID:   accountID,
		Kind:        domain.OrderKindPack,
		PackID:      "pack_medium",
		Credits:     300,
		AmountCents: 1200,
		Status:      domain.OrderPending,
		CreatedAt:   time.Now(),
		UpdatedAt:   time.Now(),
	}
	require.NoError(t, store.Orders().Create(context.Background(), order))
	return order
}

func TestApplyEventResolvesCheckoutOrder(t *testing.T) {
	store, svc := newSubFixture(t)
	ctx := context.Background()
	acc := seedAccount(t, store)
	order := seedOrder(t, store, acc)

	// Wallet notifications arrive with no account or credit fields; both
	// come from the checkout order the signed order id points at.
	ev := domain.CanonicalEvent{
		Provider:    domain.SourceWalletpay,
		Kind:        domain.EventOrderCaptured,
		EventID:     order.ID,
		OrderRef:    order.ID,
		AmountCents: order.AmountCents,
	}
	require.NoError(t, svc.ApplyEvent(ctx, ev))

	balance, err := store.Balance(ctx, acc)
	require.NoError(t, err)
	assert.Equal(t, int64(300), balance)

	got, err := store.Orders().FindByID(ctx, order.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.OrderPaid, got.Status)

	// Redelivery is a duplicate of the same signed order id.
	require.NoError(t, svc.ApplyEvent(ctx, ev))
	balance, err = store.Balance(ctx, acc)
	require.NoError(t, err)
	assert.Equal(t, int64(300), balance)
}

func TestApplyEventUnknownOrderRejected(t *testing.T) {
	store, svc := newSubFixture(t)
	ctx := context.Background()
	acc := seedAccount(t, store)

	ev := domain.CanonicalEvent{
		Provider:    domain.SourceWalletpay,
		Kind:        domain.EventOrderCaptured,
		EventID:     "order-forged",
		OrderRef:    "order-forged",
		AmountCents: 1200,
	}
	err := svc.ApplyEvent(ctx, ev)
	require.Error(t, err)

	balance, err := store.Balance(ctx, acc)
	require.NoError(t, err)
	assert.Equal(t, int64(0), balance)
}

func TestApplyEventOrderAmountMismatchRejected(t *testing.T) {
	store, svc := newSubFixture(t)
	ctx := context.Background()
	acc := seedAccount(t, store)
	order := seedOrder(t, store, acc)

	// The signed charge amount disagrees with what checkout agreed on.
	ev := domain.CanonicalEvent{
		Provider:    domain.SourceWalletpay,
		Kind:        domain.EventOrderCaptured,
		EventID:     order.ID,
		OrderRef:    order.ID,
		AmountCents: 100,
	}
	err := svc.ApplyEvent(ctx, ev)
	require.Error(t, err)

	balance, err := store.Balance(ctx, acc)
	require.NoError(t, err)
	assert.Equal(t, int64(0), balance)
}

func TestRunDueRenewals(t *testing.T) {
	store, svc := newSubFixture(t)
	ctx := context.Background()
	acc := seedAccount(t, store)

	ev := activationEvent(acc, "evt_act_1")
	ev.PeriodEnd = time.Now().Add(-time.Hour)
	require.NoError(t, svc.ApplyEvent(ctx, ev))

	n, err := svc.RunDueRenewals(ctx, time.Now())
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	// Starter replaces: one period allocation stands after renewal.
	balance, err := store.Balance(ctx, acc)
	require.NoError(t, err)
	assert.Equal(t, int64(500), balance)

	sub, err := store.Subscriptions().FindByProviderSubID(ctx, domain.SourceCardgate, "sub_1")
	require.NoError(t, err)
	assert.True(t, sub.CurrentPeriodEnd.After(time.Now()))

	// Immediately re-running finds nothing due and grants nothing.
	n, err = svc.RunDueRenewals(ctx, time.Now())
	require.NoError(t, err)
	assert.Equal(t, 0, n)
}

func TestCanTransitionMatrix(t *testing.T) {
	assert.True(t, domain.CanTransition(domain.SubStatusPending, domain.SubStatusActive))
	assert.True(t, domain.CanTransition(domain.SubStatusActive, domain.SubStatusPastDue))
	assert.True(t, domain.CanTransition(domain.SubStatusPastDue, domain.SubStatusActive))
	assert.True(t, domain.CanTransition(domain.SubStatusActive, domain.SubStatusCancelled))
	assert.False(t, domain.CanTransition(domain.SubStatusCancelled, domain.SubStatusActive))
	assert.False(t, domain.CanTransition(domain.SubStatusPending, domain.SubStatusPastDue))
}
