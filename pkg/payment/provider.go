package payment

import (
	"fmt"
	"net/http"

	"github.com/credithub/backend/internal/domain"
)

// Provider normalizes one payment processor's webhook notifications into
// canonical events. Each implementation owns that processor's signature
// scheme; nothing downstream ever sees a raw payload.
type Provider interface {
	// Name is the stable processor identifier used as the ledger source.
	Name() string
	// Normalize verifies authenticity and translates the raw payload.
	// It returns a *VerificationError for untrusted or corrupted input and
	// an *IgnoredEventError for authentic events of an unhandled subtype.
	Normalize(body []byte, header http.Header) (domain.CanonicalEvent, error)
}

// VerificationError marks an inbound event that failed signature or
// authenticity checks. It is logged and discarded, never applied.
type VerificationError struct {
	Provider string
	Reason   string
}

func (e *VerificationError) Error() string {
	return fmt.Sprintf("%s webhook verification failed: %s", e.Provider, e.Reason)
}

// IgnoredEventError marks an authentic event of a subtype this system does
// not handle. The sender is acknowledged so it stops retrying; the event is
// logged for audit and produces no ledger effect.
type IgnoredEventError struct {
	Provider  string
	EventType string
}

func (e *IgnoredEventError) Error() string {
	return fmt.Sprintf("%s event type %q ignored", e.Provider, e.EventType)
}
