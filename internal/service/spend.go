package service

import (
	"context"
	"log"
	"time"

	"github.com/credithub/backend/internal/domain"
	"github.com/credithub/backend/internal/metrics"
	"github.com/credithub/backend/internal/repository"
)

// Spend throttling defaults. Advisory only: tripping the limit returns 429
// and never touches the ledger.
const (
	spendWindow   = time.Minute
	spendMaxCount = 60
)

// SpendResult is the outcome of an authorization.
type SpendResult struct {
	Granted    bool  `json:"granted"`
	Unlimited  bool  `json:"unlimited"`
	NewBalance int64 `json:"balance"`
	Duplicate  bool  `json:"-"`
}

// SpendAuthorizer is the read-check-debit path used by product surfaces.
// For non-admin accounts the check and the debit are one atomic conditional
// decrement in the ledger store; there is no read-then-write window.
type SpendAuthorizer struct {
	provision *ProvisionService
	accounts  repository.AccountStore
	policy    *AdminPolicy
	usage     repository.UsageStore
	metrics   *metrics.Metrics
}

// NewSpendAuthorizer creates a new SpendAuthorizer.
func NewSpendAuthorizer(provision *ProvisionService, accounts repository.AccountStore, policy *AdminPolicy, usage repository.UsageStore, m *metrics.Metrics) *SpendAuthorizer {
	return &SpendAuthorizer{
		provision: provision,
		accounts:  accounts,
		policy:    policy,
		usage:     usage,
		metrics:   m,
	}
}

// Authorize debits the account if it holds enough credits, keyed by the
// caller-supplied operation key so a network retry cannot double-charge.
// Admin-exempt accounts are always granted and leave a zero-amount audit
// entry instead of a debit.
func (s *SpendAuthorizer) Authorize(ctx context.Context, accountID string, required int64, operationKey string) (*SpendResult, error) {
	if required <= 0 {
		return nil, domain.ErrBadRequest("required amount must be positive")
	}
	if operationKey == "" {
		return nil, domain.ErrBadRequest("idempotency key is required")
	}

	acc, err := s.accounts.FindByID(ctx, accountID)
	if err != nil {
		return nil, domain.ErrInternal("failed to load account", err)
	}
	if acc == nil {
		return nil, domain.ErrNotFound("account not found")
	}

	// Advisory throttle, checked before any ledger work. A tracker failure
	// must not block spending — it degrades to allow.
	allowed, count, err := s.usage.RecordAndCheck(ctx, accountID, "spend", spendWindow, spendMaxCount)
	if err != nil {
		log.Printf("[Spend] Usage tracker error for %s: %v", accountID, err)
	} else if !allowed {
		log.Printf("[Spend] Account %s throttled (%d in window)", accountID, count)
		s.count(metrics.OutcomeRateLimited)
		return nil, domain.ErrTooManyRequests("spend rate limit exceeded, try again later")
	}

	// Policy is re-evaluated on every call so revocation is immediate.
	if s.policy.Unlimited(acc) {
		result, err := s.provision.AuditExemptSpend(ctx, accountID, operationKey)
		if err != nil {
			return nil, domain.ErrInternal("failed to record exempt spend", err)
		}
		s.count(metrics.OutcomeExempt)
		return &SpendResult{Granted: true, Unlimited: true, NewBalance: result.NewBalance, Duplicate: result.Duplicate}, nil
	}

	result, err := s.provision.Debit(ctx, accountID, required, operationKey)
	if err != nil {
		if _, ok := domain.AsInsufficientCredits(err); ok {
			s.count(metrics.OutcomeInsufficient)
			return nil, err
		}
		if _, ok := domain.AsAppError(err); ok {
			return nil, err
		}
		return nil, domain.ErrInternal("failed to apply spend", err)
	}

	if result.Duplicate {
		s.count(metrics.OutcomeDuplicate)
	} else {
		s.count(metrics.OutcomeGranted)
	}
	return &SpendResult{Granted: true, NewBalance: result.NewBalance, Duplicate: result.Duplicate}, nil
}

func (s *SpendAuthorizer) count(outcome string) {
	if s.metrics != nil {
		s.metrics.SpendRequests.WithLabelValues(outcome).Inc()
	}
}
