// Package httpx wraps plain network operations with the failure
// classification and retry/backoff policy shared by every fetch path.
package httpx

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"
)

// ErrNotFound marks a listing that is gone or never existed (HTTP 404 or a
// deleted-listing page). It is never retried and is not a pipeline failure:
// the dispatcher counts it as skipped.
var ErrNotFound = errors.New("not found")

// TransientError is a failure where an immediate-ish retry may succeed:
// timeouts, connection resets, HTTP 5xx.
type TransientError struct {
	Op  string
	Err error
}

func (e *TransientError) Error() string { return fmt.Sprintf("%s: transient: %v", e.Op, e.Err) }
func (e *TransientError) Unwrap() error { return e.Err }

// ThrottleError is a rate-limit signal (HTTP 429 or an equivalent block
// page). Retried with a longer floor delay, and the executor applies an
// extended cooldown to subsequent operations from the same caller.
type ThrottleError struct {
	Op         string
	RetryAfter time.Duration // 0 when the server gave no hint
	Err        error
}

func (e *ThrottleError) Error() string { return fmt.Sprintf("%s: throttled: %v", e.Op, e.Err) }
func (e *ThrottleError) Unwrap() error { return e.Err }

// ParseError is a structurally broken page: nothing usable could be
// extracted. The affected listing is counted failed; no retry.
type ParseError struct {
	URL    string
	Reason string
}

func (e *ParseError) Error() string { return fmt.Sprintf("parse %s: %s", e.URL, e.Reason) }

// RenderError is a browser-session failure during a phone reveal. It never
// fails the listing; the record proceeds with a nil phone.
type RenderError struct {
	URL string
	Err error
}

func (e *RenderError) Error() string { return fmt.Sprintf("render %s: %v", e.URL, e.Err) }
func (e *RenderError) Unwrap() error { return e.Err }

// ExhaustedError wraps the last cause after the attempt budget ran out.
type ExhaustedError struct {
	Op       string
	Attempts int
	Last     error
}

func (e *ExhaustedError) Error() string {
	return fmt.Sprintf("%s: gave up after %d attempts: %v", e.Op, e.Attempts, e.Last)
}
func (e *ExhaustedError) Unwrap() error { return e.Last }

// FromStatus classifies a non-2xx HTTP status.
func FromStatus(op string, status int, retryAfter time.Duration) error {
	switch {
	case status == http.StatusNotFound || status == http.StatusGone:
		return ErrNotFound
	case status == http.StatusTooManyRequests || status == http.StatusForbidden:
		return &ThrottleError{Op: op, RetryAfter: retryAfter, Err: fmt.Errorf("status %d", status)}
	case status >= 500:
		return &TransientError{Op: op, Err: fmt.Errorf("status %d", status)}
	default:
		return fmt.Errorf("%s: unexpected status %d", op, status)
	}
}

// FromTransport classifies an error returned by the HTTP transport itself.
// Context cancellation passes through untouched so callers can tell an
// aborted run from a flaky network.
func FromTransport(op string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.Canceled) {
		return err
	}
	// Timeouts, connection resets, refused connections and DNS hiccups all
	// land here; at the transport level they are uniformly worth a retry.
	return &TransientError{Op: op, Err: err}
}

// Retryable reports whether the executor should try again.
func Retryable(err error) bool {
	var te *TransientError
	var th *ThrottleError
	return errors.As(err, &te) || errors.As(err, &th)
}
