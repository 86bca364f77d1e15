package directory

import (
	"errors"
	"fmt"
	"strings"
)

// ErrStorageUnavailable signals that the active storage backend cannot be
// reached. Callers surface a degraded response; they never crash the query
// path.
var ErrStorageUnavailable = errors.New("storage unavailable")

// ErrReadOnly is returned by adapters that cannot accept writes, such as the
// static snapshot reader.
var ErrReadOnly = errors.New("storage is read-only")

// NetworkErrorKind classifies failures when calling the external place
// source.
type NetworkErrorKind string

// Supported network error kinds.
const (
	NetworkTimeout         NetworkErrorKind = "timeout"
	NetworkFetchFailed     NetworkErrorKind = "fetch_failed"
	NetworkServerDown      NetworkErrorKind = "server_down"
	NetworkInvalidResponse NetworkErrorKind = "invalid_response"
	NetworkUnknown         NetworkErrorKind = "unknown"
)

// NetworkError wraps an external-source failure with a retry hint and a
// user-facing message distinct from the raw error text.
type NetworkError struct {
	Kind NetworkErrorKind
	Err  error
}

func (e *NetworkError) Error() string {
	if e.Err == nil {
		return string(e.Kind)
	}
	return fmt.Sprintf("%s: %v", e.Kind, e.Err)
}

// Unwrap exposes the underlying error for errors.Is/As.
func (e *NetworkError) Unwrap() error {
	return e.Err
}

// ShouldRetry reports whether retrying the call may succeed.
func (e *NetworkError) ShouldRetry() bool {
	switch e.Kind {
	case NetworkTimeout, NetworkServerDown:
		return true
	default:
		return false
	}
}

// UserMessage returns a message safe to surface to end users.
func (e *NetworkError) UserMessage() string {
	switch e.Kind {
	case NetworkTimeout:
		return "the data source took too long to respond"
	case NetworkFetchFailed:
		return "the data source rejected the request"
	case NetworkServerDown:
		return "the data source is currently unreachable"
	case NetworkInvalidResponse:
		return "the data source returned an unreadable response"
	default:
		return "an unexpected error occurred while contacting the data source"
	}
}

// ValidationError reports a malformed upsert payload.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid business: %s %s", e.Field, e.Reason)
}

// PartialBatchFailure reports that one or more categories failed during an
// ingestion batch. The batch still ran to completion.
type PartialBatchFailure struct {
	Failed []string
}

func (e *PartialBatchFailure) Error() string {
	return fmt.Sprintf("%d categories failed: %s", len(e.Failed), strings.Join(e.Failed, "; "))
}

func containsFold(haystack, needle string) bool {
	return strings.Contains(strings.ToLower(haystack), strings.ToLower(needle))
}
