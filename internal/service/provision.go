package service

import (
	"context"
	"log"
	"time"

	"github.com/credithub/backend/internal/domain"
	"github.com/credithub/backend/internal/metrics"
	"github.com/credithub/backend/internal/repository"
	"github.com/credithub/backend/pkg/events"
)

// ProvisionService is the single choke point through which every
// credit-adding pathway flows: purchases, subscription grants, refund
// reversals and promotional bonuses. No other component writes balances.
type ProvisionService struct {
	ledger    repository.LedgerStore
	publisher events.Publisher
	metrics   *metrics.Metrics
}

// NewProvisionService creates a new ProvisionService.
func NewProvisionService(ledger repository.LedgerStore, publisher events.Publisher, m *metrics.Metrics) *ProvisionService {
	return &ProvisionService{ledger: ledger, publisher: publisher, metrics: m}
}

// Provision applies a credit grant. Credits must be positive for credit
// kinds; the external reference makes re-delivery a safe no-op.
func (s *ProvisionService) Provision(ctx context.Context, accountID string, credits int64, kind domain.EntryKind, source, externalRef string) (domain.AppendResult, error) {
	if domain.IsCreditKind(kind) && credits <= 0 {
		return domain.AppendResult{}, domain.ErrBadRequest("credit amount must be positive")
	}
	return s.apply(ctx, repository.AppendRequest{
		AccountID:   accountID,
		Amount:      credits,
		Kind:        kind,
		Source:      source,
		ExternalRef: externalRef,
	})
}

// ProvisionRenewal grants a period allocation. For non-rollover plans the
// caller passes resetAmount, the unspent remainder of the closing period's
// allocation; it is debited in the same atomic write so the new allocation
// replaces the old one while purchased and bonus credits survive. Zero
// resetAmount means the allocation simply adds.
func (s *ProvisionService) ProvisionRenewal(ctx context.Context, accountID string, credits int64, source, externalRef string, resetAmount int64) (domain.AppendResult, error) {
	if credits <= 0 {
		return domain.AppendResult{}, domain.ErrBadRequest("renewal allocation must be positive")
	}
	if resetAmount < 0 {
		resetAmount = 0
	}
	return s.apply(ctx, repository.AppendRequest{
		AccountID:   accountID,
		Amount:      credits,
		Kind:        domain.KindSubscriptionRenewal,
		Source:      source,
		ExternalRef: externalRef,
		ResetAmount: resetAmount,
	})
}

// SpentSince reports credits debited by spends for an account since the
// given time. Renewal logic uses it to size the replace debit.
func (s *ProvisionService) SpentSince(ctx context.Context, accountID string, since time.Time) (int64, error) {
	return s.ledger.SpentSince(ctx, accountID, since)
}

// ProvisionBonus grants promotional credits with an optional expiry.
func (s *ProvisionService) ProvisionBonus(ctx context.Context, accountID string, credits int64, externalRef string, expiresAt *time.Time) (domain.AppendResult, error) {
	if credits <= 0 {
		return domain.AppendResult{}, domain.ErrBadRequest("bonus amount must be positive")
	}
	return s.apply(ctx, repository.AppendRequest{
		AccountID:   accountID,
		Amount:      credits,
		Kind:        domain.KindBonus,
		Source:      domain.SourceSystem,
		ExternalRef: externalRef,
		ExpiresAt:   expiresAt,
	})
}

// Refund reverses credits for a refunded purchase. The debit is clamped at
// zero: credits already spent cannot be clawed back below an empty balance.
func (s *ProvisionService) Refund(ctx context.Context, accountID string, credits int64, source, externalRef string) (domain.AppendResult, error) {
	if credits <= 0 {
		return domain.AppendResult{}, domain.ErrBadRequest("refund amount must be positive")
	}
	return s.apply(ctx, repository.AppendRequest{
		AccountID:   accountID,
		Amount:      -credits,
		Kind:        domain.KindRefund,
		Source:      source,
		ExternalRef: externalRef,
		ClampToZero: true,
	})
}

// Debit applies a spend debit through the same choke point as credits. The
// conditional decrement lives in the ledger store; this never pre-reads the
// balance.
func (s *ProvisionService) Debit(ctx context.Context, accountID string, credits int64, operationKey string) (domain.AppendResult, error) {
	if credits <= 0 {
		return domain.AppendResult{}, domain.ErrBadRequest("debit amount must be positive")
	}
	return s.apply(ctx, repository.AppendRequest{
		AccountID:   accountID,
		Amount:      -credits,
		Kind:        domain.KindSpend,
		Source:      domain.SourceSpend,
		ExternalRef: operationKey,
	})
}

// AuditExemptSpend records that an unlimited account performed an action
// without a real debit: a zero-amount entry, never a balance change.
func (s *ProvisionService) AuditExemptSpend(ctx context.Context, accountID, operationKey string) (domain.AppendResult, error) {
	return s.apply(ctx, repository.AppendRequest{
		AccountID:   accountID,
		Amount:      0,
		Kind:        domain.KindAdminExemptSpend,
		Source:      domain.SourceSpend,
		ExternalRef: operationKey,
	})
}

// ExpirePromotional writes offsetting debits for promotional credits past
// their expiry. Keyed per source entry, so overlapping runs are safe.
func (s *ProvisionService) ExpirePromotional(ctx context.Context, now time.Time) (int, error) {
	expired, err := s.ledger.ExpiredPromotional(ctx, now)
	if err != nil {
		return 0, err
	}

	n := 0
	for _, e := range expired {
		_, err := s.apply(ctx, repository.AppendRequest{
			AccountID:   e.AccountID,
			Amount:      -e.Amount,
			Kind:        domain.KindPromoExpiry,
			Source:      domain.SourceSystem,
			ExternalRef: "expire:" + e.ID,
			ClampToZero: true,
		})
		if err != nil {
			log.Printf("[Provision] Failed to expire entry %s: %v", e.ID, err)
			continue
		}
		n++
	}
	return n, nil
}

func (s *ProvisionService) apply(ctx context.Context, req repository.AppendRequest) (domain.AppendResult, error) {
	result, err := s.ledger.Append(ctx, req)
	if err != nil {
		return domain.AppendResult{}, err
	}
	if result.Duplicate {
		log.Printf("[Provision] Duplicate %s/%s for account %s, no-op", req.Source, req.ExternalRef, req.AccountID)
		return result, nil
	}

	if s.metrics != nil {
		if req.Amount > 0 {
			s.metrics.CreditsGranted.Add(float64(req.Amount))
		} else if req.Amount < 0 {
			s.metrics.CreditsSpent.Add(float64(-req.Amount))
		}
	}

	// Best effort: the ledger write has committed, a lost event is not a
	// correctness problem.
	if err := s.publisher.Publish(ctx, req.AccountID, map[string]interface{}{
		"entryId":    result.EntryID,
		"accountId":  req.AccountID,
		"amount":     req.Amount,
		"kind":       req.Kind,
		"source":     req.Source,
		"ref":        req.ExternalRef,
		"newBalance": result.NewBalance,
	}); err != nil {
		log.Printf("[Provision] Failed to publish ledger event: %v", err)
	}

	return result, nil
}
