package escalation

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"

	"github.com/kirillkom/idverify/internal/core/domain"
	"github.com/kirillkom/idverify/internal/infrastructure/resilience"
)

type ErrorKind string

const (
	// KindRejected means the review service answered with a non-2xx status.
	KindRejected  ErrorKind = "rejected"
	KindTimeout   ErrorKind = "timeout"
	KindTransport ErrorKind = "transport"
)

// ClientError is the single error type returned by Client. It carries the
// identifiers retry tooling needs to resubmit by hand.
type ClientError struct {
	Kind          ErrorKind
	Operation     string
	StatusCode    int
	Body          string
	DocumentID    string
	CorrelationID string
	TicketID      string
	Err           error
}

func (e *ClientError) Error() string {
	if e == nil {
		return "escalation client error"
	}
	var b strings.Builder
	fmt.Fprintf(&b, "escalation %s %s", e.Operation, e.Kind)
	if e.StatusCode != 0 {
		fmt.Fprintf(&b, " status=%d", e.StatusCode)
	}
	if e.DocumentID != "" {
		fmt.Fprintf(&b, " document_id=%s", e.DocumentID)
	}
	if e.CorrelationID != "" {
		fmt.Fprintf(&b, " correlation_id=%s", e.CorrelationID)
	}
	if e.TicketID != "" {
		fmt.Fprintf(&b, " ticket_id=%s", e.TicketID)
	}
	if body := strings.TrimSpace(e.Body); body != "" {
		fmt.Fprintf(&b, ": %s", body)
	} else if e.Err != nil {
		fmt.Fprintf(&b, ": %v", e.Err)
	}
	return b.String()
}

func (e *ClientError) Unwrap() error {
	return e.Err
}

// Is lets callers treat timeouts, transport failures and 5xx answers as
// domain.ErrTemporary and 404 answers as domain.ErrTicketNotFound.
func (e *ClientError) Is(target error) bool {
	switch target {
	case domain.ErrTemporary:
		return e.Temporary()
	case domain.ErrTicketNotFound:
		return e.Kind == KindRejected && e.StatusCode == http.StatusNotFound && e.TicketID != ""
	default:
		return false
	}
}

func (e *ClientError) Temporary() bool {
	switch e.Kind {
	case KindTimeout, KindTransport:
		return true
	default:
		return e.StatusCode >= 500 || e.StatusCode == http.StatusTooManyRequests
	}
}

// AsClientError unwraps err into a *ClientError.
func AsClientError(err error) (*ClientError, bool) {
	var ce *ClientError
	if errors.As(err, &ce) {
		return ce, true
	}
	return nil, false
}

func classifyEscalationError(err error) resilience.ErrorClassification {
	if err == nil {
		return resilience.ErrorClassification{}
	}
	if errors.Is(err, context.Canceled) {
		return resilience.ErrorClassification{}
	}
	if ce, ok := AsClientError(err); ok && ce.Kind == KindRejected && !ce.Temporary() {
		return resilience.ErrorClassification{
			Retryable:     false,
			RecordFailure: false,
		}
	}
	return resilience.ErrorClassification{
		Retryable:     false,
		RecordFailure: true,
	}
}

func isTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}
