package service

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/credithub/backend/internal/domain"
	"github.com/credithub/backend/internal/repository"
	"github.com/google/uuid"
)

// SubscriptionService tracks each account's recurring-plan lifecycle and
// drives periodic credit allocation. Transitions are driven only by
// canonical provider events and the allocation trigger, never by client
// requests.
type SubscriptionService struct {
	subs      repository.SubscriptionStore
	accounts  repository.AccountStore
	orders    repository.OrderStore
	provision *ProvisionService
}

// NewSubscriptionService creates a new SubscriptionService.
func NewSubscriptionService(subs repository.SubscriptionStore, accounts repository.AccountStore, orders repository.OrderStore, provision *ProvisionService) *SubscriptionService {
	return &SubscriptionService{subs: subs, accounts: accounts, orders: orders, provision: provision}
}

// ApplyEvent routes one canonical event through the ledger and the state
// machine. Safe to call any number of times with the same event: ledger
// effects are keyed by the provider's event id.
func (s *SubscriptionService) ApplyEvent(ctx context.Context, ev domain.CanonicalEvent) error {
	// Events from adapters that sign only part of the payload arrive with
	// no account or credit fields; resolve them from the checkout order
	// the signed order id points at.
	switch ev.Kind {
	case domain.EventOrderCaptured, domain.EventRefundIssued, domain.EventSubscriptionActivated:
		if ev.AccountID == "" {
			resolved, err := s.resolveOrder(ctx, ev)
			if err != nil {
				return err
			}
			ev = resolved
		}
	}

	switch ev.Kind {
	case domain.EventOrderCaptured:
		_, err := s.provision.Provision(ctx, ev.AccountID, ev.Credits, domain.KindPurchase, ev.Provider, ev.EventID)
		if err == nil && ev.OrderRef != "" {
			if merr := s.orders.MarkPaid(ctx, ev.OrderRef); merr != nil {
				log.Printf("[Subscription] Failed to mark order %s paid: %v", ev.OrderRef, merr)
			}
		}
		return err

	case domain.EventRefundIssued:
		_, err := s.provision.Refund(ctx, ev.AccountID, ev.Credits, ev.Provider, ev.EventID)
		return err

	case domain.EventSubscriptionActivated:
		return s.onActivated(ctx, ev)

	case domain.EventSubscriptionRenewed:
		return s.onRenewed(ctx, ev)

	case domain.EventSubscriptionPaymentFailed:
		return s.transition(ctx, ev, domain.SubStatusPastDue)

	case domain.EventSubscriptionCancelled:
		return s.onCancelled(ctx, ev)
	}

	return domain.ErrBadRequest(fmt.Sprintf("unhandled canonical event kind %q", ev.Kind))
}

func (s *SubscriptionService) onActivated(ctx context.Context, ev domain.CanonicalEvent) error {
	plan, ok := domain.GetPlan(ev.Plan)
	if !ok {
		return domain.ErrBadRequest(fmt.Sprintf("unknown plan %q", ev.Plan))
	}

	sub, err := s.subs.FindByProviderSubID(ctx, ev.Provider, ev.ProviderSubID)
	if err != nil {
		return err
	}
	if sub == nil {
		now := time.Now()
		periodEnd := ev.PeriodEnd
		if periodEnd.IsZero() {
			periodEnd = now.AddDate(0, 1, 0)
		}
		sub = &domain.Subscription{
			ID:                 uuid.New().String(),
			AccountID:          ev.AccountID,
			Provider:           ev.Provider,
			ProviderSubID:      ev.ProviderSubID,
			Plan:               plan.ID,
			Status:             domain.SubStatusActive,
			CurrentPeriodStart: now,
			CurrentPeriodEnd:   periodEnd,
			CreditsPerPeriod:   plan.CreditsPerPeriod,
			Rollover:           plan.Rollover,
			CreatedAt:          now,
			UpdatedAt:          now,
		}
		if err := s.subs.Create(ctx, sub); err != nil {
			return err
		}
	} else if sub.Status != domain.SubStatusActive {
		if !domain.CanTransition(sub.Status, domain.SubStatusActive) {
			log.Printf("[Subscription] Ignoring activation for %s sub %s in terminal state", ev.Provider, ev.ProviderSubID)
			return nil
		}
		sub.Status = domain.SubStatusActive
		if err := s.subs.Update(ctx, sub); err != nil {
			return err
		}
	}

	if err := s.accounts.SetTier(ctx, ev.AccountID, domain.Tier(plan.ID)); err != nil {
		return err
	}

	// Grant the first period's allocation, idempotent via the originating
	// event id.
	_, err = s.provision.Provision(ctx, ev.AccountID, plan.CreditsPerPeriod, domain.KindSubscriptionActivation, ev.Provider, ev.EventID)
	return err
}

func (s *SubscriptionService) onRenewed(ctx context.Context, ev domain.CanonicalEvent) error {
	sub, err := s.subs.FindByProviderSubID(ctx, ev.Provider, ev.ProviderSubID)
	if err != nil {
		return err
	}
	if sub == nil {
		// Renewal can outrun activation: webhook delivery has no ordering
		// guarantee. Treat it as an activation for the named plan.
		log.Printf("[Subscription] Renewal for unknown %s sub %s, treating as activation", ev.Provider, ev.ProviderSubID)
		return s.onActivated(ctx, ev)
	}
	if sub.Status == domain.SubStatusCancelled {
		log.Printf("[Subscription] Ignoring renewal for cancelled sub %s", sub.ID)
		return nil
	}

	// Grant first, keyed by the provider's event id. A redelivered event is
	// a duplicate no matter how its period fields were filled, and must not
	// advance the record a second time.
	res, err := s.grantPeriod(ctx, sub, ev.EventID)
	if err != nil {
		return err
	}
	if res.Duplicate {
		changed := false
		if sub.Status != domain.SubStatusActive {
			sub.Status = domain.SubStatusActive
			changed = true
		}
		// Catch the record up if the first delivery granted but failed to
		// persist the advance. Only possible with an explicit period end;
		// equal period ends stay put, no zero-length period.
		if !ev.PeriodEnd.IsZero() && sub.CurrentPeriodEnd.Before(ev.PeriodEnd) {
			sub.CurrentPeriodStart = sub.CurrentPeriodEnd
			sub.CurrentPeriodEnd = ev.PeriodEnd
			changed = true
		}
		if changed {
			return s.subs.Update(ctx, sub)
		}
		return nil
	}

	periodEnd := ev.PeriodEnd
	if periodEnd.IsZero() {
		periodEnd = sub.CurrentPeriodEnd.AddDate(0, 1, 0)
	}

	// A successful payment recovers a past_due subscription.
	sub.Status = domain.SubStatusActive
	sub.CurrentPeriodStart = sub.CurrentPeriodEnd
	sub.CurrentPeriodEnd = periodEnd
	return s.subs.Update(ctx, sub)
}

// grantPeriod grants the allocation for one billing period, keyed by ref.
// For non-rollover plans the grant carries a balancing debit sized to what
// remains of the closing period's allocation, so the new allocation replaces
// the old one while purchased and bonus credits survive. Must be called
// before the period fields are advanced.
func (s *SubscriptionService) grantPeriod(ctx context.Context, sub *domain.Subscription, ref string) (domain.AppendResult, error) {
	var reset int64
	if !sub.Rollover {
		spent, err := s.provision.SpentSince(ctx, sub.AccountID, sub.CurrentPeriodStart)
		if err != nil {
			return domain.AppendResult{}, err
		}
		reset = sub.CreditsPerPeriod - spent
		if reset < 0 {
			reset = 0
		}
	}
	return s.provision.ProvisionRenewal(ctx, sub.AccountID, sub.CreditsPerPeriod, sub.Provider, ref, reset)
}

// resolveOrder fills an event's account, credit and plan fields from the
// checkout order its signed order id points at. Unsigned payload fields are
// never consulted.
func (s *SubscriptionService) resolveOrder(ctx context.Context, ev domain.CanonicalEvent) (domain.CanonicalEvent, error) {
	if ev.OrderRef == "" {
		return ev, domain.ErrBadRequest(fmt.Sprintf("%s event %s carries no account and no order reference", ev.Provider, ev.EventID))
	}
	order, err := s.orders.FindByID(ctx, ev.OrderRef)
	if err != nil {
		return ev, err
	}
	if order == nil {
		return ev, domain.ErrBadRequest(fmt.Sprintf("no checkout order %q for %s event %s", ev.OrderRef, ev.Provider, ev.EventID))
	}
	if ev.AmountCents > 0 && order.AmountCents != ev.AmountCents {
		return ev, domain.ErrBadRequest(fmt.Sprintf("order %q amount mismatch: charged %d, agreed %d", ev.OrderRef, ev.AmountCents, order.AmountCents))
	}

	ev.AccountID = order.AccountID
	switch ev.Kind {
	case domain.EventOrderCaptured, domain.EventRefundIssued:
		ev.Credits = order.Credits
	case domain.EventSubscriptionActivated:
		ev.Plan = order.PlanID
	}
	return ev, nil
}

func (s *SubscriptionService) onCancelled(ctx context.Context, ev domain.CanonicalEvent) error {
	sub, err := s.subs.FindByProviderSubID(ctx, ev.Provider, ev.ProviderSubID)
	if err != nil {
		return err
	}
	if sub == nil {
		log.Printf("[Subscription] No %s sub %s for %s event, ignoring", ev.Provider, ev.ProviderSubID, ev.Kind)
		return nil
	}
	if !domain.CanTransition(sub.Status, domain.SubStatusCancelled) {
		log.Printf("[Subscription] Transition %s -> %s not allowed for sub %s, ignoring", sub.Status, domain.SubStatusCancelled, sub.ID)
		return nil
	}
	sub.Status = domain.SubStatusCancelled
	if err := s.subs.Update(ctx, sub); err != nil {
		return err
	}
	// Effective tier reverts; already-granted credits are not clawed back.
	return s.accounts.SetTier(ctx, sub.AccountID, domain.TierNone)
}

func (s *SubscriptionService) transition(ctx context.Context, ev domain.CanonicalEvent, to domain.SubscriptionStatus) error {
	sub, err := s.subs.FindByProviderSubID(ctx, ev.Provider, ev.ProviderSubID)
	if err != nil {
		return err
	}
	if sub == nil {
		log.Printf("[Subscription] No %s sub %s for %s event, ignoring", ev.Provider, ev.ProviderSubID, ev.Kind)
		return nil
	}
	if !domain.CanTransition(sub.Status, to) {
		log.Printf("[Subscription] Transition %s -> %s not allowed for sub %s, ignoring", sub.Status, to, sub.ID)
		return nil
	}
	if sub.Status == to {
		return nil
	}
	sub.Status = to
	return s.subs.Update(ctx, sub)
}

// GetCurrentSubscription returns the active subscription for an account.
func (s *SubscriptionService) GetCurrentSubscription(ctx context.Context, accountID string) (*domain.Subscription, error) {
	return s.subs.FindActiveByAccount(ctx, accountID)
}

// RunDueRenewals advances every active subscription whose period has ended
// and grants the next allocation. Idempotent per (subscription, period end):
// an overlapping or re-run job cannot double-grant.
func (s *SubscriptionService) RunDueRenewals(ctx context.Context, now time.Time) (int, error) {
	due, err := s.subs.DueForRenewal(ctx, now)
	if err != nil {
		return 0, err
	}

	renewed := 0
	for _, sub := range due {
		newEnd := sub.CurrentPeriodEnd.AddDate(0, 1, 0)
		ref := fmt.Sprintf("renew:%s:%d", sub.ProviderSubID, newEnd.Unix())
		// Grant before advancing: the replace debit is sized from the
		// closing period's spends, and the period-end key keeps a re-run
		// from granting twice.
		if _, err := s.grantPeriod(ctx, sub, ref); err != nil {
			log.Printf("[Subscription] Failed to grant renewal for sub %s: %v", sub.ID, err)
			continue
		}
		sub.CurrentPeriodStart = sub.CurrentPeriodEnd
		sub.CurrentPeriodEnd = newEnd
		if err := s.subs.Update(ctx, sub); err != nil {
			log.Printf("[Subscription] Failed to advance sub %s: %v", sub.ID, err)
			continue
		}
		renewed++
	}
	return renewed, nil
}
