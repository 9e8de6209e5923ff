package repository

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/credithub/backend/internal/domain"
	"github.com/google/uuid"
)

// MemoryStore is an in-memory implementation of the store interfaces behind
// a single mutex, which gives it the same serialization guarantees the
// Postgres stores get from row locks and transactions. Used by tests and for
// running the server without a database. MemoryStore itself implements
// LedgerStore and UsageStore; Accounts(), Subscriptions() and Orders()
// return the other views (their Create/Update method names collide).
type MemoryStore struct {
	mu        sync.Mutex
	accounts  map[string]*domain.Account
	entries   []domain.LedgerEntry
	processed map[string]int64 // (source, ref) -> balance after original apply
	subs      map[string]*domain.Subscription
	orders    map[string]*domain.Order
	usage     map[string][]time.Time
}

// NewMemoryStore creates an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		accounts:  make(map[string]*domain.Account),
		processed: make(map[string]int64),
		subs:      make(map[string]*domain.Subscription),
		orders:    make(map[string]*domain.Order),
		usage:     make(map[string][]time.Time),
	}
}

// Accounts returns the AccountStore view of the store.
func (s *MemoryStore) Accounts() AccountStore { return &memoryAccounts{s} }

// Subscriptions returns the SubscriptionStore view of the store.
func (s *MemoryStore) Subscriptions() SubscriptionStore { return &memorySubscriptions{s} }

// Orders returns the OrderStore view of the store.
func (s *MemoryStore) Orders() OrderStore { return &memoryOrders{s} }

func processedKey(source, ref string) string {
	return source + "\x00" + ref
}

// Append mirrors the Postgres ledger semantics: idempotent on
// (source, external ref), all-or-nothing, debit never below zero.
func (s *MemoryStore) Append(ctx context.Context, req AppendRequest) (domain.AppendResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	acc, ok := s.accounts[req.AccountID]
	if !ok {
		return domain.AppendResult{}, domain.ErrAccountNotFound
	}

	key := processedKey(req.Source, req.ExternalRef)
	if prior, dup := s.processed[key]; dup {
		return domain.AppendResult{NewBalance: prior, Duplicate: true}, nil
	}

	now := time.Now()
	balance := acc.Balance

	var pending []domain.LedgerEntry
	if req.ResetAmount > 0 && balance > 0 {
		reset := req.ResetAmount
		if reset > balance {
			reset = balance
		}
		pending = append(pending, domain.LedgerEntry{
			ID:           uuid.New().String(),
			AccountID:    req.AccountID,
			Amount:       -reset,
			Kind:         domain.KindSubscriptionRenewal,
			Source:       req.Source,
			ExternalRef:  req.ExternalRef + ":reset",
			BalanceAfter: balance - reset,
			CreatedAt:    now,
		})
		balance -= reset
	}

	amount := req.Amount
	if req.ClampToZero && balance+amount < 0 {
		amount = -balance
	}

	newBalance := balance + amount
	if newBalance < 0 {
		// Nothing recorded: the claim stays free for a later retry.
		return domain.AppendResult{}, &domain.InsufficientCreditsError{
			Balance:   balance,
			Shortfall: -newBalance,
		}
	}

	entryID := uuid.New().String()
	pending = append(pending, domain.LedgerEntry{
		ID:           entryID,
		AccountID:    req.AccountID,
		Amount:       amount,
		Kind:         req.Kind,
		Source:       req.Source,
		ExternalRef:  req.ExternalRef,
		BalanceAfter: newBalance,
		ExpiresAt:    req.ExpiresAt,
		CreatedAt:    now,
	})

	s.entries = append(s.entries, pending...)
	s.processed[key] = newBalance
	acc.Balance = newBalance
	acc.UpdatedAt = now

	return domain.AppendResult{NewBalance: newBalance, EntryID: entryID}, nil
}

func (s *MemoryStore) Balance(ctx context.Context, accountID string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	acc, ok := s.accounts[accountID]
	if !ok {
		return 0, domain.ErrAccountNotFound
	}
	return acc.Balance, nil
}

func (s *MemoryStore) EntriesByAccount(ctx context.Context, accountID string, limit int) ([]domain.LedgerEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if limit <= 0 {
		limit = 50
	}
	var out []domain.LedgerEntry
	for i := len(s.entries) - 1; i >= 0 && len(out) < limit; i-- {
		if s.entries[i].AccountID == accountID {
			out = append(out, s.entries[i])
		}
	}
	return out, nil
}

func (s *MemoryStore) SpentSince(ctx context.Context, accountID string, since time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var spent int64
	for _, e := range s.entries {
		if e.AccountID == accountID && e.Kind == domain.KindSpend && !e.CreatedAt.Before(since) {
			spent -= e.Amount
		}
	}
	return spent, nil
}

func (s *MemoryStore) ExpiredPromotional(ctx context.Context, now time.Time) ([]domain.LedgerEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	offset := make(map[string]bool)
	for _, e := range s.entries {
		if e.Source == domain.SourceSystem && strings.HasPrefix(e.ExternalRef, "expire:") {
			offset[strings.TrimPrefix(e.ExternalRef, "expire:")] = true
		}
	}

	var out []domain.LedgerEntry
	for _, e := range s.entries {
		if e.ExpiresAt != nil && !e.ExpiresAt.After(now) && e.Amount > 0 && !offset[e.ID] {
			out = append(out, e)
		}
	}
	return out, nil
}

// EntrySum returns the sum of all ledger entries for an account. Tests use
// it to verify the materialized balance against the entry log.
func (s *MemoryStore) EntrySum(accountID string) int64 {
	s.mu.Lock()
	defer s.mu.Unlock()

	var sum int64
	for _, e := range s.entries {
		if e.AccountID == accountID {
			sum += e.Amount
		}
	}
	return sum
}

// EntryCount returns how many entries of the given kind exist for an account.
func (s *MemoryStore) EntryCount(accountID string, kind domain.EntryKind) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	n := 0
	for _, e := range s.entries {
		if e.AccountID == accountID && e.Kind == kind {
			n++
		}
	}
	return n
}

// --- UsageStore ---

func (s *MemoryStore) RecordAndCheck(ctx context.Context, key, category string, window time.Duration, max int) (bool, int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	k := key + "\x00" + category
	now := time.Now()
	cutoff := now.Add(-window)

	kept := s.usage[k][:0]
	for _, t := range s.usage[k] {
		if t.After(cutoff) {
			kept = append(kept, t)
		}
	}
	kept = append(kept, now)
	s.usage[k] = kept

	return len(kept) <= max, len(kept), nil
}

func (s *MemoryStore) Purge(ctx context.Context, olderThan time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	cutoff := time.Now().Add(-olderThan)
	for k, times := range s.usage {
		kept := times[:0]
		for _, t := range times {
			if t.After(cutoff) {
				kept = append(kept, t)
			}
		}
		if len(kept) == 0 {
			delete(s.usage, k)
		} else {
			s.usage[k] = kept
		}
	}
	return nil
}

// --- AccountStore view ---

type memoryAccounts struct{ s *MemoryStore }

func (m *memoryAccounts) Create(ctx context.Context, a *domain.Account) error {
	m.s.mu.Lock()
	defer m.s.mu.Unlock()

	cp := *a
	m.s.accounts[a.ID] = &cp
	return nil
}

func (m *memoryAccounts) FindByID(ctx context.Context, id string) (*domain.Account, error) {
	m.s.mu.Lock()
	defer m.s.mu.Unlock()

	acc, ok := m.s.accounts[id]
	if !ok {
		return nil, nil
	}
	cp := *acc
	return &cp, nil
}

func (m *memoryAccounts) FindByEmail(ctx context.Context, email string) (*domain.Account, error) {
	m.s.mu.Lock()
	defer m.s.mu.Unlock()

	for _, acc := range m.s.accounts {
		if acc.Email == email {
			cp := *acc
			return &cp, nil
		}
	}
	return nil, nil
}

func (m *memoryAccounts) Exists(ctx context.Context, email string) (bool, error) {
	acc, err := m.FindByEmail(ctx, email)
	return acc != nil, err
}

func (m *memoryAccounts) ListAll(ctx context.Context) ([]*domain.Account, error) {
	m.s.mu.Lock()
	defer m.s.mu.Unlock()

	out := make([]*domain.Account, 0, len(m.s.accounts))
	for _, acc := range m.s.accounts {
		cp := *acc
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

func (m *memoryAccounts) SetTier(ctx context.Context, id string, tier domain.Tier) error {
	m.s.mu.Lock()
	defer m.s.mu.Unlock()

	if acc, ok := m.s.accounts[id]; ok {
		acc.Tier = tier
		acc.UpdatedAt = time.Now()
	}
	return nil
}

// --- OrderStore view ---

type memoryOrders struct{ s *MemoryStore }

func (m *memoryOrders) Create(ctx context.Context, o *domain.Order) error {
	m.s.mu.Lock()
	defer m.s.mu.Unlock()

	cp := *o
	m.s.orders[o.ID] = &cp
	return nil
}

func (m *memoryOrders) FindByID(ctx context.Context, id string) (*domain.Order, error) {
	m.s.mu.Lock()
	defer m.s.mu.Unlock()

	o, ok := m.s.orders[id]
	if !ok {
		return nil, nil
	}
	cp := *o
	return &cp, nil
}

func (m *memoryOrders) MarkPaid(ctx context.Context, id string) error {
	m.s.mu.Lock()
	defer m.s.mu.Unlock()

	if o, ok := m.s.orders[id]; ok {
		o.Status = domain.OrderPaid
		o.UpdatedAt = time.Now()
	}
	return nil
}

// --- SubscriptionStore view ---

type memorySubscriptions struct{ s *MemoryStore }

func (m *memorySubscriptions) Create(ctx context.Context, sub *domain.Subscription) error {
	m.s.mu.Lock()
	defer m.s.mu.Unlock()

	cp := *sub
	m.s.subs[sub.ID] = &cp
	return nil
}

func (m *memorySubscriptions) FindByProviderSubID(ctx context.Context, provider, providerSubID string) (*domain.Subscription, error) {
	m.s.mu.Lock()
	defer m.s.mu.Unlock()

	for _, sub := range m.s.subs {
		if sub.Provider == provider && sub.ProviderSubID == providerSubID {
			cp := *sub
			return &cp, nil
		}
	}
	return nil, nil
}

func (m *memorySubscriptions) FindActiveByAccount(ctx context.Context, accountID string) (*domain.Subscription, error) {
	m.s.mu.Lock()
	defer m.s.mu.Unlock()

	var latest *domain.Subscription
	for _, sub := range m.s.subs {
		if sub.AccountID != accountID {
			continue
		}
		if sub.Status != domain.SubStatusActive && sub.Status != domain.SubStatusPastDue {
			continue
		}
		if latest == nil || sub.CreatedAt.After(latest.CreatedAt) {
			latest = sub
		}
	}
	if latest == nil {
		return nil, nil
	}
	cp := *latest
	return &cp, nil
}

func (m *memorySubscriptions) Update(ctx context.Context, sub *domain.Subscription) error {
	m.s.mu.Lock()
	defer m.s.mu.Unlock()

	cp := *sub
	cp.UpdatedAt = time.Now()
	m.s.subs[sub.ID] = &cp
	return nil
}

func (m *memorySubscriptions) DueForRenewal(ctx context.Context, now time.Time) ([]*domain.Subscription, error) {
	m.s.mu.Lock()
	defer m.s.mu.Unlock()

	var out []*domain.Subscription
	for _, sub := range m.s.subs {
		if sub.Status == domain.SubStatusActive && !sub.CurrentPeriodEnd.After(now) {
			cp := *sub
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CurrentPeriodEnd.Before(out[j].CurrentPeriodEnd) })
	return out, nil
}
