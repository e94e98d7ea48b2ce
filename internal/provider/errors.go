package provider

import (
	"context"
	"errors"
	"fmt"
	"net/http"
)

// ErrorKind classifies a failed generate call. The set is closed: retry
// decisions and reporting switch on it.
type ErrorKind string

const (
	KindRateLimited     ErrorKind = "rate_limited"
	KindTimeout         ErrorKind = "timeout"
	KindAuthFailure     ErrorKind = "auth_failure"
	KindInvalidResponse ErrorKind = "invalid_response"
	KindUnavailable     ErrorKind = "unavailable"
)

// Retryable reports whether a call failing with this kind may be retried.
// Auth and contract errors never recover without operator intervention.
func (k ErrorKind) Retryable() bool {
	switch k {
	case KindRateLimited, KindTimeout, KindUnavailable:
		return true
	}
	return false
}

// Error is a classified provider failure.
type Error struct {
	Provider string
	Kind     ErrorKind
	Err      error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Provider, e.Kind, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Provider, e.Kind)
}

func (e *Error) Unwrap() error { return e.Err }

// NewError wraps err as a classified provider failure.
func NewError(providerName string, kind ErrorKind, err error) *Error {
	return &Error{Provider: providerName, Kind: kind, Err: err}
}

// KindOf extracts the ErrorKind from err. Context cancellation and deadline
// expiry count as timeouts; anything unclassified is reported as unavailable.
func KindOf(err error) ErrorKind {
	var pe *Error
	if errors.As(err, &pe) {
		return pe.Kind
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return KindTimeout
	}
	return KindUnavailable
}

// classifyStatus maps an HTTP response status to an ErrorKind.
func classifyStatus(status int) ErrorKind {
	switch {
	case status == http.StatusTooManyRequests:
		return KindRateLimited
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		return KindAuthFailure
	case status == http.StatusRequestTimeout || status == http.StatusGatewayTimeout:
		return KindTimeout
	case status >= 500:
		return KindUnavailable
	default:
		return KindInvalidResponse
	}
}

// statusError builds a classified error from a non-OK HTTP response.
func statusError(providerName string, status int, body string) *Error {
	err := fmt.Errorf("API returned status %d", status)
	if body != "" {
		err = fmt.Errorf("API returned status %d: %s", status, body)
	}
	return NewError(providerName, classifyStatus(status), err)
}

// transportError classifies a failed HTTP round trip. Deadline expiry is a
// timeout; everything else means the service could not be reached.
func transportError(providerName string, err error) *Error {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return NewError(providerName, KindTimeout, err)
	}
	return NewError(providerName, KindUnavailable, err)
}
