package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/credithub/backend/internal/domain"
	"github.com/credithub/backend/internal/metrics"
	"github.com/credithub/backend/internal/repository"
	"github.com/credithub/backend/internal/service"
	"github.com/credithub/backend/pkg/events"
	"github.com/credithub/backend/pkg/payment"
	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	testCardgateSecret = "whsec_test"
	testWalletpayKey   = "SB-server-key"
)

func newWebhookRig(t *testing.T) (*repository.MemoryStore, *chi.Mux) {
	t.Helper()
	store := repository.NewMemoryStore()
	m := metrics.New(prometheus.NewRegistry())
	provision := service.NewProvisionService(store, events.NoopPublisher{}, m)
	subSvc := service.NewSubscriptionService(store.Subscriptions(), store.Accounts(), store.Orders(), provision)

	h := NewWebhookHandler(subSvc, m,
		payment.NewCardgate(testCardgateSecret),
		payment.NewWalletpay(testWalletpayKey),
	)
	r := chi.NewRouter()
	r.Post("/api/webhooks/{provider}", h.Handle)
	return store, r
}

func seedWebhookAccount(t *testing.T, store *repository.MemoryStore, id string) {
	t.Helper()
	err := store.Accounts().Create(context.Background(), &domain.Account{
		ID:        id,
		Email:     id + "@example.com",
		Role:      "user",
		Tier:      domain.TierNone,
		CreatedAt: time.Now(),
		UpdatedAt: time.Now(),
	})
	require.NoError(t, err)
}

func postCardgate(r http.Handler, body []byte, signature string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, "/api/webhooks/cardgate", bytes.NewReader(body))
	if signature != "" {
		req.Header.Set("Cardgate-Signature", signature)
	}
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	return rec
}

func TestWebhookCardgateCheckoutApplied(t *testing.T) {
	store, r := newWebhookRig(t)
	seedWebhookAccount(t, store, "acc-1")

	body := []byte(`{
		"id": "evt_1",
		"type": "checkout.completed",
		"data": {"object": {"amount_total": 500, "metadata": {"account_id": "acc-1", "credits": "100"}}}
	}`)
	sig := payment.SignCardgate(testCardgateSecret, body, time.Now())

	rec := postCardgate(r, body, sig)
	assert.Equal(t, http.StatusOK, rec.Code)

	balance, err := store.Balance(context.Background(), "acc-1")
	require.NoError(t, err)
	assert.Equal(t, int64(100), balance)

	// Redelivery of the same event is acknowledged and changes nothing.
	rec = postCardgate(r, body, sig)
	assert.Equal(t, http.StatusOK, rec.Code)

	balance, err = store.Balance(context.Background(), "acc-1")
	require.NoError(t, err)
	assert.Equal(t, int64(100), balance)
	assert.Equal(t, 1, store.EntryCount("acc-1", domain.KindPurchase))
}

func TestWebhookCardgateInvalidSignature(t *testing.T) {
	store, r := newWebhookRig(t)
	seedWebhookAccount(t, store, "acc-1")

	body := []byte(`{
		"id": "evt_1",
		"type": "checkout.completed",
		"data": {"object": {"metadata": {"account_id": "acc-1", "credits": "100"}}}
	}`)

	rec := postCardgate(r, body, payment.SignCardgate("wrong-secret", body, time.Now()))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = postCardgate(r, body, "")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	// The forged deliveries left no trace in the ledger.
	balance, err := store.Balance(context.Background(), "acc-1")
	require.NoError(t, err)
	assert.Equal(t, int64(0), balance)
}

func TestWebhookCardgateUnknownTypeIgnored(t *testing.T) {
	store, r := newWebhookRig(t)
	seedWebhookAccount(t, store, "acc-1")

	body := []byte(`{"id": "evt_1", "type": "customer.updated", "data": {"object": {"metadata": {"account_id": "acc-1"}}}}`)
	rec := postCardgate(r, body, payment.SignCardgate(testCardgateSecret, body, time.Now()))

	assert.Equal(t, http.StatusOK, rec.Code)
	var resp map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "ignored", resp["status"])
}

func TestWebhookEventForUnknownAccountFails(t *testing.T) {
	_, r := newWebhookRig(t)

	body := []byte(`{
		"id": "evt_1",
		"type": "checkout.completed",
		"data": {"object": {"metadata": {"account_id": "acc-missing", "credits": "100"}}}
	}`)
	rec := postCardgate(r, body, payment.SignCardgate(testCardgateSecret, body, time.Now()))

	// Non-2xx so the provider redelivers once the account exists.
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
}

func seedWalletpayOrder(t *testing.T, store *repository.MemoryStore, orderID, accountID string) {
	t.Helper()
	err := store.Orders().Create(context.Background(), &domain.Order{
		ID:          orderID,
		AccountID:   accountID,
		Kind:        domain.OrderKindPack,
		PackID:      "pack_medium",
		Credits:     300,
		AmountCents: 1200,
		Status:      domain.OrderPending,
		CreatedAt:   time.Now(),
		UpdatedAt:   time.Now(),
	})
	require.NoError(t, err)
}

func postWalletpay(r http.Handler, body []byte) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, "/api/webhooks/walletpay", bytes.NewReader(body))
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	return rec
}

func TestWebhookWalletpaySettlement(t *testing.T) {
	store, r := newWebhookRig(t)
	seedWebhookAccount(t, store, "acc-1")
	seedWalletpayOrder(t, store, "order_1", "acc-1")

	fields := map[string]interface{}{
		"event_type":         "charge",
		"transaction_status": "settlement",
		"status_code":        "200",
		"order_id":           "order_1",
		"gross_amount":       "12.00",
		"signature_key":      payment.WalletpaySignature(testWalletpayKey, "order_1", "200", "12.00"),
	}
	body, err := json.Marshal(fields)
	require.NoError(t, err)

	rec := postWalletpay(r, body)

	// Credits come from the checkout order the signed order id points at.
	assert.Equal(t, http.StatusOK, rec.Code)
	balance, err := store.Balance(context.Background(), "acc-1")
	require.NoError(t, err)
	assert.Equal(t, int64(300), balance)
}

func TestWebhookWalletpayReplayCannotMint(t *testing.T) {
	store, r := newWebhookRig(t)
	seedWebhookAccount(t, store, "acc-1")
	seedWalletpayOrder(t, store, "order_1", "acc-1")

	sig := payment.WalletpaySignature(testWalletpayKey, "order_1", "200", "12.00")
	original, err := json.Marshal(map[string]interface{}{
		"event_type":         "charge",
		"transaction_status": "settlement",
		"status_code":        "200",
		"order_id":           "order_1",
		"gross_amount":       "12.00",
		"signature_key":      sig,
	})
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, postWalletpay(r, original).Code)

	// A captured notification replayed with attacker-chosen extras keeps a
	// valid signature, since only order_id, status_code and gross_amount are
	// covered. The signed order id keys idempotency, so nothing is minted.
	forged, err := json.Marshal(map[string]interface{}{
		"notification_id":    "ntf_fresh",
		"event_type":         "charge",
		"transaction_status": "settlement",
		"status_code":        "200",
		"order_id":           "order_1",
		"gross_amount":       "12.00",
		"signature_key":      sig,
		"account_id":         "acc-attacker",
		"credits":            1000000,
	})
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, postWalletpay(r, forged).Code)

	balance, err := store.Balance(context.Background(), "acc-1")
	require.NoError(t, err)
	assert.Equal(t, int64(300), balance)
	assert.Equal(t, 1, store.EntryCount("acc-1", domain.KindPurchase))
}

func TestWebhookWalletpayUnknownOrderFails(t *testing.T) {
	store, r := newWebhookRig(t)
	seedWebhookAccount(t, store, "acc-1")

	// Valid signature but no checkout order on record: non-2xx so the
	// provider redelivers, nothing credited.
	body, err := json.Marshal(map[string]interface{}{
		"event_type":         "charge",
		"transaction_status": "settlement",
		"status_code":        "200",
		"order_id":           "order_ghost",
		"gross_amount":       "12.00",
		"signature_key":      payment.WalletpaySignature(testWalletpayKey, "order_ghost", "200", "12.00"),
	})
	require.NoError(t, err)

	rec := postWalletpay(r, body)
	assert.Equal(t, http.StatusInternalServerError, rec.Code)

	balance, err := store.Balance(context.Background(), "acc-1")
	require.NoError(t, err)
	assert.Equal(t, int64(0), balance)
}

func TestWebhookUnknownProvider(t *testing.T) {
	_, r := newWebhookRig(t)

	req := httptest.NewRequest(http.MethodPost, "/api/webhooks/paypal", bytes.NewReader([]byte("{}")))
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusNotFound, rec.Code)
}
