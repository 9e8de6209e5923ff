package service

import (
	"context"
	"fmt"
	"time"

	"github.com/credithub/backend/internal/domain"
	"github.com/credithub/backend/internal/repository"
	"github.com/google/uuid"
)

// CheckoutService creates the server-side order record a wallet checkout
// starts from. The order id it mints is what the processor later signs in
// its notifications, which is the only binding between a signed notification
// and the account and goods agreed here.
type CheckoutService struct {
	orders repository.OrderStore
}

// NewCheckoutService creates a new CheckoutService.
func NewCheckoutService(orders repository.OrderStore) *CheckoutService {
	return &CheckoutService{orders: orders}
}

// CreatePackOrder opens a pending order for a one-off credit pack.
func (s *CheckoutService) CreatePackOrder(ctx context.Context, accountID, packID string) (*domain.Order, error) {
	pack, ok := domain.GetPack(packID)
	if !ok {
		return nil, domain.ErrBadRequest(fmt.Sprintf("unknown credit pack %q", packID))
	}

	now := time.Now()
	order := &domain.Order{
		ID:          uuid.New().String(),
		AccountID:   accountID,
		Kind:        domain.OrderKindPack,
		PackID:      pack.ID,
		Credits:     pack.Credits,
		AmountCents: pack.AmountCents,
		Status:      domain.OrderPending,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := s.orders.Create(ctx, order); err != nil {
		return nil, err
	}
	return order, nil
}

// CreateSubscriptionOrder opens a pending order for a plan signup.
func (s *CheckoutService) CreateSubscriptionOrder(ctx context.Context, accountID, planID string) (*domain.Order, error) {
	plan, ok := domain.GetPlan(planID)
	if !ok {
		return nil, domain.ErrBadRequest(fmt.Sprintf("unknown plan %q", planID))
	}

	now := time.Now()
	order := &domain.Order{
		ID:          uuid.New().String(),
		AccountID:   accountID,
		Kind:        domain.OrderKindSubscription,
		PlanID:      plan.ID,
		Credits:     plan.CreditsPerPeriod,
		AmountCents: int64(plan.PriceUSD),
		Status:      domain.OrderPending,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := s.orders.Create(ctx, order); err != nil {
		return nil, err
	}
	return order, nil
}
