package payment

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/credithub/backend/internal/domain"
)

// signatureTolerance bounds how old a signed timestamp may be before the
// event is rejected as a possible replay of a captured payload.
const signatureTolerance = 5 * time.Minute

// Cardgate is the card-network processor adapter. Webhooks carry a
// Cardgate-Signature header of the form "t=<unix>,v1=<hex>", where v1 is
// HMAC-SHA256 over "<t>.<body>" with the endpoint secret.
type Cardgate struct {
	secret string
	now    func() time.Time
}

// NewCardgate creates the adapter with the endpoint signing secret.
func NewCardgate(secret string) *Cardgate {
	return &Cardgate{secret: secret, now: time.Now}
}

func (c *Cardgate) Name() string { return domain.SourceCardgate }

type cardgateEnvelope struct {
	ID      string `json:"id"`
	Type    string `json:"type"`
	Created int64  `json:"created"`
	Data    struct {
		Object cardgateObject `json:"object"`
	} `json:"data"`
}

type cardgateObject struct {
	ID               string            `json:"id"`
	AmountTotal      int64             `json:"amount_total"`
	Currency         string            `json:"currency"`
	Subscription     string            `json:"subscription"`
	CurrentPeriodEnd int64             `json:"current_period_end"`
	Metadata         map[string]string `json:"metadata"`
}

// Normalize verifies the signature header and maps the envelope to a
// canonical event.
func (c *Cardgate) Normalize(body []byte, header http.Header) (domain.CanonicalEvent, error) {
	if err := c.verify(body, header.Get("Cardgate-Signature")); err != nil {
		return domain.CanonicalEvent{}, err
	}

	var env cardgateEnvelope
	if err := json.Unmarshal(body, &env); err != nil {
		return domain.CanonicalEvent{}, &VerificationError{Provider: c.Name(), Reason: "malformed JSON envelope"}
	}
	if env.ID == "" {
		return domain.CanonicalEvent{}, &VerificationError{Provider: c.Name(), Reason: "missing event id"}
	}

	obj := env.Data.Object
	ev := domain.CanonicalEvent{
		Provider:      c.Name(),
		EventID:       env.ID,
		AccountID:     obj.Metadata["account_id"],
		AmountCents:   obj.AmountTotal,
		Plan:          obj.Metadata["plan"],
		ProviderSubID: obj.Subscription,
	}
	if obj.CurrentPeriodEnd > 0 {
		ev.PeriodEnd = time.Unix(obj.CurrentPeriodEnd, 0).UTC()
	}
	if raw, ok := obj.Metadata["credits"]; ok {
		credits, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			return domain.CanonicalEvent{}, &VerificationError{Provider: c.Name(), Reason: "invalid credits metadata"}
		}
		ev.Credits = credits
	}

	switch env.Type {
	case "checkout.completed":
		ev.Kind = domain.EventOrderCaptured
	case "subscription.created":
		ev.Kind = domain.EventSubscriptionActivated
	case "invoice.paid":
		ev.Kind = domain.EventSubscriptionRenewed
	case "invoice.payment_failed":
		ev.Kind = domain.EventSubscriptionPaymentFailed
	case "subscription.deleted":
		ev.Kind = domain.EventSubscriptionCancelled
	case "charge.refunded":
		ev.Kind = domain.EventRefundIssued
	default:
		return domain.CanonicalEvent{}, &IgnoredEventError{Provider: c.Name(), EventType: env.Type}
	}

	if ev.AccountID == "" {
		return domain.CanonicalEvent{}, &VerificationError{Provider: c.Name(), Reason: "missing account_id metadata"}
	}

	return ev, nil
}

func (c *Cardgate) verify(body []byte, signature string) error {
	if signature == "" {
		return &VerificationError{Provider: c.Name(), Reason: "missing signature header"}
	}

	var ts string
	var sig string
	for _, part := range strings.Split(signature, ",") {
		kv := strings.SplitN(strings.TrimSpace(part), "=", 2)
		if len(kv) != 2 {
			continue
		}
		switch kv[0] {
		case "t":
			ts = kv[1]
		case "v1":
			sig = kv[1]
		}
	}
	if ts == "" || sig == "" {
		return &VerificationError{Provider: c.Name(), Reason: "malformed signature header"}
	}

	unix, err := strconv.ParseInt(ts, 10, 64)
	if err != nil {
		return &VerificationError{Provider: c.Name(), Reason: "invalid signature timestamp"}
	}
	age := c.now().Sub(time.Unix(unix, 0))
	if age > signatureTolerance || age < -signatureTolerance {
		return &VerificationError{Provider: c.Name(), Reason: "signature timestamp outside tolerance"}
	}

	mac := hmac.New(sha256.New, []byte(c.secret))
	fmt.Fprintf(mac, "%s.", ts)
	mac.Write(body)
	expected := hex.EncodeToString(mac.Sum(nil))

	if !hmac.Equal([]byte(sig), []byte(expected)) {
		return &VerificationError{Provider: c.Name(), Reason: "signature mismatch"}
	}
	return nil
}

// SignCardgate computes a valid signature header for a payload. Exported for
// tests and local webhook simulation.
func SignCardgate(secret string, body []byte, at time.Time) string {
	ts := strconv.FormatInt(at.Unix(), 10)
	mac := hmac.New(sha256.New, []byte(secret))
	fmt.Fprintf(mac, "%s.", ts)
	mac.Write(body)
	return fmt.Sprintf("t=%s,v1=%s", ts, hex.EncodeToString(mac.Sum(nil)))
}
