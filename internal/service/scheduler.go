package service

import (
	"context"
	"log"
	"time"

	"github.com/credithub/backend/internal/repository"
)

// usageRetention is how long raw usage rows are kept before the purge pass
// removes them.
const usageRetention = 24 * time.Hour

// Scheduler runs the periodic housekeeping loop: due subscription renewals,
// promotional credit expiry and usage-row purging. Every pass is idempotent,
// so overlapping with an operator-invoked allocation trigger is safe.
type Scheduler struct {
	subs      *SubscriptionService
	provision *ProvisionService
	usage     repository.UsageStore
	interval  time.Duration
}

// NewScheduler creates a new Scheduler.
func NewScheduler(subs *SubscriptionService, provision *ProvisionService, usage repository.UsageStore, interval time.Duration) *Scheduler {
	if interval <= 0 {
		interval = 15 * time.Minute
	}
	return &Scheduler{subs: subs, provision: provision, usage: usage, interval: interval}
}

// Start begins the housekeeping loop in a background goroutine.
func (s *Scheduler) Start(ctx context.Context) {
	go func() {
		s.runOnce(context.Background())
		ticker := time.NewTicker(s.interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				s.runOnce(context.Background())
			}
		}
	}()
}

func (s *Scheduler) runOnce(ctx context.Context) {
	now := time.Now()

	renewed, err := s.subs.RunDueRenewals(ctx, now)
	if err != nil {
		log.Printf("[Scheduler] Renewal pass failed: %v", err)
	} else if renewed > 0 {
		log.Printf("[Scheduler] Renewed %d subscriptions", renewed)
	}

	expired, err := s.provision.ExpirePromotional(ctx, now)
	if err != nil {
		log.Printf("[Scheduler] Promo expiry pass failed: %v", err)
	} else if expired > 0 {
		log.Printf("[Scheduler] Expired %d promotional grants", expired)
	}

	if err := s.usage.Purge(ctx, usageRetention); err != nil {
		log.Printf("[Scheduler] Usage purge failed: %v", err)
	}
}
