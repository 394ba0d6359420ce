// Package store error classification.
//
// This file defines sentinel errors and an error wrapper for classifying
// backing-store failures. Callers use errors.Is/errors.As for typed
// assertions rather than string matching.
package store

import (
	"errors"
	"fmt"
	"strings"

	"github.com/meadowgrid/texserv/types"
)

// Sentinel errors for fetch failure classification.
// Use errors.Is(err, ErrXxx) for typed assertions.
var (
	// ErrNotFound indicates the asset does not exist in the store.
	ErrNotFound = errors.New("asset not found")

	// ErrTimeout indicates a fetch attempt timed out.
	ErrTimeout = errors.New("fetch timed out")

	// ErrThrottled indicates rate limiting (429, SlowDown).
	ErrThrottled = errors.New("rate limited")

	// ErrAuth indicates authentication or authorization failure.
	ErrAuth = errors.New("authentication failed")

	// ErrNetwork indicates a network-level failure (connection refused, DNS).
	ErrNetwork = errors.New("network error")

	// ErrClosed indicates the store has been closed.
	ErrClosed = errors.New("store closed")
)

// FetchError wraps an underlying error with fetch classification.
// It preserves the original error in the chain for errors.As inspection.
type FetchError struct {
	// Kind is the sentinel error for classification (e.g. ErrNotFound).
	Kind error
	// Backend names the store implementation ("redis", "s3", "memory").
	Backend string
	// Asset is the asset the fetch was for.
	Asset string
	// Err is the underlying error, may be nil for pure classifications.
	Err error
}

func (e *FetchError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s fetch %s: %v: %v", e.Backend, e.Asset, e.Kind, e.Err)
	}
	return fmt.Sprintf("%s fetch %s: %v", e.Backend, e.Asset, e.Kind)
}

// Unwrap returns the underlying error for errors.Is/As chain traversal.
func (e *FetchError) Unwrap() error {
	return e.Err
}

// Is reports whether the error matches the target sentinel.
func (e *FetchError) Is(target error) bool {
	return errors.Is(e.Kind, target)
}

// newFetchError creates a classified fetch error.
func newFetchError(kind error, backend string, id types.AssetID, err error) *FetchError {
	return &FetchError{
		Kind:    kind,
		Backend: backend,
		Asset:   id.String(),
		Err:     err,
	}
}

// classify determines the sentinel for an arbitrary store error.
// Classification falls back to message patterns because the SDKs wrap
// their transport errors inconsistently.
func classify(err error) error {
	if err == nil {
		return nil
	}

	var timeoutErr interface{ Timeout() bool }
	if errors.As(err, &timeoutErr) && timeoutErr.Timeout() {
		return ErrTimeout
	}

	msg := strings.ToLower(err.Error())
	switch {
	case containsAny(msg, "no such file", "does not exist", "not found", "404", "nosuchkey"):
		return ErrNotFound
	case containsAny(msg, "timeout", "timed out", "deadline exceeded"):
		return ErrTimeout
	case containsAny(msg, "slowdown", "rate exceeded", "throttl", "429", "toomanyrequests"):
		return ErrThrottled
	case containsAny(msg, "credentials", "invalidaccesskeyid", "signaturedoesnotmatch",
		"expiredtoken", "401", "unauthorized", "accessdenied", "forbidden", "403"):
		return ErrAuth
	case containsAny(msg, "connection refused", "no route to host", "network unreachable",
		"dial tcp", "i/o timeout", "broken pipe", "connection reset"):
		return ErrNetwork
	default:
		return errors.New("store error")
	}
}

// retriable reports whether a classified failure is worth another attempt.
// Not-found and auth failures are terminal; everything else might pass on
// retry.
func retriable(kind error) bool {
	switch {
	case errors.Is(kind, ErrNotFound), errors.Is(kind, ErrAuth):
		return false
	default:
		return true
	}
}

// containsAny checks if s contains any of the substrings. s must already
// be lowercased.
func containsAny(s string, substrs ...string) bool {
	for _, sub := range substrs {
		if strings.Contains(s, sub) {
			return true
		}
	}
	return false
}
