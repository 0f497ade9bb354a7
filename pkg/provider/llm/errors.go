package llm

import (
	"errors"
	"fmt"
	"net/http"
)

// ErrorClass partitions provider failures by the router's handling strategy.
type ErrorClass string

const (
	// ClassTransient covers timeouts, 5xx responses, and transport resets.
	// Retried within the same provider before failing over.
	ClassTransient ErrorClass = "transient"

	// ClassRateLimited covers endpoint-reported 429s. The router saturates
	// the local ledger and skips to the next candidate immediately; the
	// provider is not marked unhealthy.
	ClassRateLimited ErrorClass = "rate_limited"

	// ClassAuth covers 401/403 and missing credentials. The provider is
	// marked unavailable and not retried.
	ClassAuth ErrorClass = "auth"

	// ClassInvalid covers other 4xx responses: the request itself is
	// faulty, so no failover is attempted.
	ClassInvalid ErrorClass = "invalid"
)

// ProviderError is the typed failure every adapter surfaces. It always
// carries the logical provider tag so router logs and metrics can attribute
// the failure without string parsing.
type ProviderError struct {
	// Provider is the logical name of the failing provider.
	Provider string

	// Class drives the router's recovery decision.
	Class ErrorClass

	// Status is the HTTP status code when the failure came from a
	// status-code response, 0 for pure transport failures.
	Status int

	// Err is the underlying cause.
	Err error
}

// Error implements the error interface.
func (e *ProviderError) Error() string {
	if e.Status != 0 {
		return fmt.Sprintf("provider %s: %s (status %d): %v", e.Provider, e.Class, e.Status, e.Err)
	}
	return fmt.Sprintf("provider %s: %s: %v", e.Provider, e.Class, e.Err)
}

// Unwrap exposes the underlying cause to errors.Is / errors.As.
func (e *ProviderError) Unwrap() error { return e.Err }

// NewError wraps err with a provider tag and class.
func NewError(provider string, class ErrorClass, status int, err error) *ProviderError {
	return &ProviderError{Provider: provider, Class: class, Status: status, Err: err}
}

// ClassifyStatus maps an HTTP status code to an ErrorClass. Codes outside
// the 4xx/5xx ranges (and 0 for transport failures) classify as transient.
func ClassifyStatus(status int) ErrorClass {
	switch {
	case status == http.StatusTooManyRequests:
		return ClassRateLimited
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		return ClassAuth
	case status >= 400 && status < 500:
		return ClassInvalid
	default:
		return ClassTransient
	}
}

// ClassOf extracts the ErrorClass from err, defaulting to transient for
// untyped errors (network-level failures reach the router untyped only when
// an adapter missed a wrap; treating them as transient keeps them retryable).
func ClassOf(err error) ErrorClass {
	var pe *ProviderError
	if errors.As(err, &pe) {
		return pe.Class
	}
	return ClassTransient
}

// IsRateLimited reports whether err carries ClassRateLimited.
func IsRateLimited(err error) bool { return ClassOf(err) == ClassRateLimited }

// IsAuth reports whether err carries ClassAuth.
func IsAuth(err error) bool { return ClassOf(err) == ClassAuth }

// IsInvalid reports whether err carries ClassInvalid.
func IsInvalid(err error) bool { return ClassOf(err) == ClassInvalid }
