package payment

import (
	"crypto/sha512"
	"crypto/subtle"
	"encoding/hex"
	"encoding/json"
	"net/http"
	"time"

	"github.com/credithub/backend/internal/domain"
	"github.com/shopspring/decimal"
)

// Walletpay is the digital-wallet processor adapter. Its notifications carry
// the signature inside the body: signature_key is the hex SHA-512 of
// order_id + status_code + gross_amount + serverKey. Only those three fields
// are covered, so nothing else in the payload may influence who gets
// credited or how much: canonical events leave account and credit fields
// empty, carry the signed order id, and are keyed on it for idempotency.
// Downstream code resolves the rest from the checkout order record.
type Walletpay struct {
	serverKey string
}

// NewWalletpay creates the adapter with the merchant server key.
func NewWalletpay(serverKey string) *Walletpay {
	return &Walletpay{serverKey: serverKey}
}

func (w *Walletpay) Name() string { return domain.SourceWalletpay }

type walletpayNotification struct {
	EventType         string `json:"event_type"`
	TransactionStatus string `json:"transaction_status"`
	StatusCode        string `json:"status_code"`
	OrderID           string `json:"order_id"`
	GrossAmount       string `json:"gross_amount"`
	SignatureKey      string `json:"signature_key"`
	SubscriptionID    string `json:"subscription_id"`
	PeriodEnd         int64  `json:"period_end"`
}

// Normalize verifies the in-body signature and maps the notification to a
// canonical event.
func (w *Walletpay) Normalize(body []byte, header http.Header) (domain.CanonicalEvent, error) {
	var n walletpayNotification
	if err := json.Unmarshal(body, &n); err != nil {
		return domain.CanonicalEvent{}, &VerificationError{Provider: w.Name(), Reason: "malformed JSON notification"}
	}
	if n.OrderID == "" {
		return domain.CanonicalEvent{}, &VerificationError{Provider: w.Name(), Reason: "missing order id"}
	}

	expected := WalletpaySignature(w.serverKey, n.OrderID, n.StatusCode, n.GrossAmount)
	if subtle.ConstantTimeCompare([]byte(expected), []byte(n.SignatureKey)) != 1 {
		return domain.CanonicalEvent{}, &VerificationError{Provider: w.Name(), Reason: "signature mismatch"}
	}

	// gross_amount arrives as a decimal string like "150.00".
	var amountCents int64
	if n.GrossAmount != "" {
		gross, err := decimal.NewFromString(n.GrossAmount)
		if err != nil {
			return domain.CanonicalEvent{}, &VerificationError{Provider: w.Name(), Reason: "invalid gross amount"}
		}
		amountCents = gross.Mul(decimal.NewFromInt(100)).IntPart()
	}

	// The order id is the only signed identifier, so it doubles as the
	// idempotency key. The wallet issues a fresh order id per transaction,
	// renewals included.
	ev := domain.CanonicalEvent{
		Provider:      w.Name(),
		EventID:       n.OrderID,
		OrderRef:      n.OrderID,
		AmountCents:   amountCents,
		ProviderSubID: n.SubscriptionID,
	}
	if n.PeriodEnd > 0 {
		ev.PeriodEnd = time.Unix(n.PeriodEnd, 0).UTC()
	}

	switch n.EventType {
	case "charge":
		// A charge only counts once the wallet settles it; anything else is
		// an intermediate status the sender will follow up on.
		switch n.TransactionStatus {
		case "settlement", "capture":
			ev.Kind = domain.EventOrderCaptured
		default:
			return domain.CanonicalEvent{}, &IgnoredEventError{Provider: w.Name(), EventType: "charge/" + n.TransactionStatus}
		}
	case "subscription.activated":
		ev.Kind = domain.EventSubscriptionActivated
	case "subscription.renewed":
		ev.Kind = domain.EventSubscriptionRenewed
	case "subscription.payment_failed":
		ev.Kind = domain.EventSubscriptionPaymentFailed
	case "subscription.cancelled":
		ev.Kind = domain.EventSubscriptionCancelled
	case "refund":
		// A refund references the original charge's order id; prefix the
		// event id so the reversal does not collide with the charge.
		ev.Kind = domain.EventRefundIssued
		ev.EventID = "refund:" + n.OrderID
	default:
		return domain.CanonicalEvent{}, &IgnoredEventError{Provider: w.Name(), EventType: n.EventType}
	}

	return ev, nil
}

// WalletpaySignature computes the in-body signature for a notification.
// Exported for tests and local webhook simulation.
func WalletpaySignature(serverKey, orderID, statusCode, grossAmount string) string {
	sum := sha512.Sum512([]byte(orderID + statusCode + grossAmount + serverKey))
	return hex.EncodeToString(sum[:])
}
