package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/credithub/backend/internal/contextkeys"
	"github.com/credithub/backend/internal/domain"
	"github.com/credithub/backend/internal/metrics"
	"github.com/credithub/backend/internal/repository"
	"github.com/credithub/backend/internal/service"
	"github.com/credithub/backend/pkg/events"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newCreditsRig(t *testing.T) (*repository.MemoryStore, *CreditsHandler) {
	t.Helper()
	store := repository.NewMemoryStore()
	m := metrics.New(prometheus.NewRegistry())
	provision := service.NewProvisionService(store, events.NoopPublisher{}, m)
	policy := service.NewAdminPolicy(nil)
	subSvc := service.NewSubscriptionService(store.Subscriptions(), store.Accounts(), store.Orders(), provision)
	authorizer := service.NewSpendAuthorizer(provision, store.Accounts(), policy, store, m)
	return store, NewCreditsHandler(authorizer, store, store.Accounts(), subSvc, policy)
}

func seedFundedAccount(t *testing.T, store *repository.MemoryStore, id string, balance int64) {
	t.Helper()
	ctx := context.Background()
	err := store.Accounts().Create(ctx, &domain.Account{
		ID:        id,
		Email:     id + "@example.com",
		Role:      "user",
		Tier:      domain.TierNone,
		CreatedAt: time.Now(),
		UpdatedAt: time.Now(),
	})
	require.NoError(t, err)
	if balance > 0 {
		_, err = store.Append(ctx, repository.AppendRequest{
			AccountID: id, Amount: balance, Kind: domain.KindPurchase,
			Source: domain.SourceCardgate, ExternalRef: "seed:" + id,
		})
		require.NoError(t, err)
	}
}

func authedRequest(method, target, accountID string, body []byte) *http.Request {
	req := httptest.NewRequest(method, target, bytes.NewReader(body))
	ctx := context.WithValue(req.Context(), contextkeys.UserID, accountID)
	return req.WithContext(ctx)
}

func TestSpendEndpointGranted(t *testing.T) {
	store, h := newCreditsRig(t)
	seedFundedAccount(t, store, "acc-1", 50)

	body := []byte(`{"operation": "image_generation", "idempotencyKey": "op-key-0001"}`)
	rec := httptest.NewRecorder()
	h.Spend(rec, authedRequest(http.MethodPost, "/api/credits/spend", "acc-1", body))

	require.Equal(t, http.StatusOK, rec.Code)
	var resp map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, true, resp["granted"])
	assert.Equal(t, float64(45), resp["balance"])
}

func TestSpendEndpointRawAmount(t *testing.T) {
	store, h := newCreditsRig(t)
	seedFundedAccount(t, store, "acc-1", 50)

	body := []byte(`{"amount": 20, "idempotencyKey": "op-key-0001"}`)
	rec := httptest.NewRecorder()
	h.Spend(rec, authedRequest(http.MethodPost, "/api/credits/spend", "acc-1", body))

	require.Equal(t, http.StatusOK, rec.Code)
	var resp map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, float64(30), resp["balance"])
}

func TestSpendEndpointInsufficient(t *testing.T) {
	store, h := newCreditsRig(t)
	seedFundedAccount(t, store, "acc-1", 3)

	body := []byte(`{"operation": "image_generation", "idempotencyKey": "op-key-0001"}`)
	rec := httptest.NewRecorder()
	h.Spend(rec, authedRequest(http.MethodPost, "/api/credits/spend", "acc-1", body))

	require.Equal(t, http.StatusPaymentRequired, rec.Code)
	var resp map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, float64(3), resp["balance"])
	assert.Equal(t, float64(2), resp["shortfall"])

	// The rejected spend left no entry.
	assert.Equal(t, 0, store.EntryCount("acc-1", domain.KindSpend))
}

func TestSpendEndpointUnknownOperation(t *testing.T) {
	store, h := newCreditsRig(t)
	seedFundedAccount(t, store, "acc-1", 50)

	body := []byte(`{"operation": "mine_bitcoin", "idempotencyKey": "op-key-0001"}`)
	rec := httptest.NewRecorder()
	h.Spend(rec, authedRequest(http.MethodPost, "/api/credits/spend", "acc-1", body))

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestSpendEndpointRequiresIdempotencyKey(t *testing.T) {
	store, h := newCreditsRig(t)
	seedFundedAccount(t, store, "acc-1", 50)

	body := []byte(`{"operation": "chat_message"}`)
	rec := httptest.NewRecorder()
	h.Spend(rec, authedRequest(http.MethodPost, "/api/credits/spend", "acc-1", body))

	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
}

func TestSpendEndpointUnauthenticated(t *testing.T) {
	_, h := newCreditsRig(t)

	body := []byte(`{"operation": "chat_message", "idempotencyKey": "op-key-0001"}`)
	req := httptest.NewRequest(http.MethodPost, "/api/credits/spend", bytes.NewReader(body))
	rec := httptest.NewRecorder()
	h.Spend(rec, req)

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestBalanceEndpoint(t *testing.T) {
	store, h := newCreditsRig(t)
	seedFundedAccount(t, store, "acc-1", 100)

	_, err := store.Append(context.Background(), repository.AppendRequest{
		AccountID: "acc-1", Amount: -25, Kind: domain.KindSpend,
		Source: domain.SourceSpend, ExternalRef: "op-1",
	})
	require.NoError(t, err)

	rec := httptest.NewRecorder()
	h.Balance(rec, authedRequest(http.MethodGet, "/api/credits/balance", "acc-1", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	var resp map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, float64(75), resp["balance"])
	assert.Equal(t, float64(25), resp["periodSpent"])
	assert.Nil(t, resp["unlimited"])
}

func TestHistoryEndpoint(t *testing.T) {
	store, h := newCreditsRig(t)
	seedFundedAccount(t, store, "acc-1", 100)
	seedFundedAccount(t, store, "acc-2", 40)

	rec := httptest.NewRecorder()
	h.History(rec, authedRequest(http.MethodGet, "/api/credits/history", "acc-1", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	var entries []domain.LedgerEntry
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &entries))
	require.Len(t, entries, 1)
	assert.Equal(t, "acc-1", entries[0].AccountID)
	assert.Equal(t, int64(100), entries[0].Amount)
}
