// Package provider holds the error taxonomy shared by every external data
// source adapter.
package provider

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
)

// Sentinel errors for provider failures.
var (
	ErrUnreachable = errors.New("provider unreachable")
	ErrTimeout     = errors.New("provider timeout")
	ErrUpstream    = errors.New("provider upstream error")
	ErrRejected    = errors.New("provider rejected request")
	ErrBadResponse = errors.New("provider returned invalid response")
)

// Kind separates failures that may clear on their own from ones that will not.
type Kind string

const (
	KindTransient Kind = "transient"
	KindPermanent Kind = "permanent"
)

// Error is returned by every adapter. Transient errors count against the
// provider's circuit breaker; permanent ones do not.
type Error struct {
	Provider   string
	Kind       Kind
	StatusCode int
	Err        error
}

func (e *Error) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("%s: %s (status %d): %v", e.Provider, e.Kind, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("%s: %s: %v", e.Provider, e.Kind, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// Permanent reports whether retrying the same request is pointless.
func (e *Error) Permanent() bool { return e.Kind == KindPermanent }

// Transient wraps err as a transient failure of provider.
func Transient(provider string, err error) *Error {
	return &Error{Provider: provider, Kind: KindTransient, Err: err}
}

// Permanent wraps err as a permanent failure of provider.
func Permanent(provider string, err error) *Error {
	return &Error{Provider: provider, Kind: KindPermanent, Err: err}
}

// IsPermanent reports whether err carries a permanent classification.
func IsPermanent(err error) bool {
	var p interface{ Permanent() bool }
	return errors.As(err, &p) && p.Permanent()
}

// ClassifyStatus maps a non-2xx HTTP status to a provider error.
// 408, 429 and 5xx are transient, every other 4xx is permanent.
func ClassifyStatus(provider string, status int, body string) error {
	e := &Error{Provider: provider, StatusCode: status}
	switch {
	case status == http.StatusRequestTimeout:
		e.Kind, e.Err = KindTransient, fmt.Errorf("%w: %s", ErrTimeout, body)
	case status == http.StatusTooManyRequests || status >= 500:
		e.Kind, e.Err = KindTransient, fmt.Errorf("%w: %s", ErrUpstream, body)
	default:
		e.Kind, e.Err = KindPermanent, fmt.Errorf("%w: %s", ErrRejected, body)
	}
	return e
}

// ClassifyTransport maps transport-level errors to transient provider errors.
func ClassifyTransport(provider string, err error) error {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return Transient(provider, fmt.Errorf("%w: %v", ErrTimeout, err))
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return Transient(provider, fmt.Errorf("%w: %v", ErrTimeout, err))
	}

	return Transient(provider, fmt.Errorf("%w: %v", ErrUnreachable, err))
}
