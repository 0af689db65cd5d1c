package crawler

import (
	"errors"
	"fmt"
)

// FailureReason classifies why a document fetch failed.
type FailureReason string

// Failure reasons. Network and server failures are transient; the rest are terminal.
const (
	ReasonNetwork     FailureReason = "network"
	ReasonServer      FailureReason = "server-error"
	ReasonThrottled   FailureReason = "throttled"
	ReasonClient      FailureReason = "client-error"
	ReasonTooLarge    FailureReason = "too-large"
	ReasonEmpty       FailureReason = "empty-body"
	ReasonBadMagic    FailureReason = "bad-magic"
	ReasonNotDocument FailureReason = "not-a-document"
	ReasonIO          FailureReason = "io"
	ReasonCanceled    FailureReason = "canceled"
	ReasonBadRequest  FailureReason = "bad-request"
	ReasonPanic       FailureReason = "panic"
)

// FetchError is the typed failure carried by DocumentFetchResult.Err.
type FetchError struct {
	Reason     FailureReason
	StatusCode int
	URL        string
	Err        error
}

// Error implements error.
func (e *FetchError) Error() string {
	msg := fmt.Sprintf("fetch %s: %s", e.URL, e.Reason)
	if e.StatusCode != 0 {
		msg += fmt.Sprintf(" (status %d)", e.StatusCode)
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

// Unwrap exposes the underlying error.
func (e *FetchError) Unwrap() error { return e.Err }

// Retryable reports whether another attempt may succeed.
func (e *FetchError) Retryable() bool {
	switch e.Reason {
	case ReasonNetwork, ReasonServer, ReasonThrottled:
		return true
	default:
		return false
	}
}

// ReasonOf extracts the failure reason from err, or "" when err is not a FetchError.
func ReasonOf(err error) FailureReason {
	var fe *FetchError
	if errors.As(err, &fe) {
		return fe.Reason
	}
	return ""
}
