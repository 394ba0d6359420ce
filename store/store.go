// Package store provides backing asset stores for the delivery pipeline.
//
// A store resolves an AssetID to its payload bytes asynchronously: Fetch
// returns immediately and the result callback fires exactly once from a
// store-owned goroutine, with either the payload or nil for not-found.
// Transient store failures are retried internally; a fetch that still
// fails after retries is reported to the callback as not-found, since the
// delivery layer treats a failed episode as terminal either way.
package store

import (
	"context"
	"time"

	"github.com/meadowgrid/texserv/types"
)

// FetchFunc receives the result of an asynchronous fetch.
// payload is nil when the asset does not exist.
//
// Implementations of Fetcher must invoke the callback exactly once per
// Fetch call, never zero times and never twice.
type FetchFunc func(id types.AssetID, payload []byte)

// Fetcher is the asynchronous lookup contract the delivery registry
// consumes. Fetch must not block on I/O; the work happens on the store's
// own goroutines.
type Fetcher interface {
	Fetch(id types.AssetID, cb FetchFunc)
}

// DefaultFetchTimeout bounds a single fetch attempt against a remote store.
const DefaultFetchTimeout = 10 * time.Second

// DefaultRetries is the default number of retry attempts for transient
// remote failures. Not-found is never retried.
const DefaultRetries = 2

// backoff returns the delay before retry attempt i (i >= 1).
func backoff(i int) time.Duration {
	return time.Duration(1<<uint(i-1)) * 250 * time.Millisecond
}

// sleepCtx waits d or until ctx is done, whichever comes first.
// Returns false if the context ended.
func sleepCtx(ctx context.Context, d time.Duration) bool {
	select {
	case <-ctx.Done():
		return false
	case <-time.After(d):
		return true
	}
}
