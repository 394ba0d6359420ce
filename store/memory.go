package store

import (
	"sync"
	"time"

	"github.com/meadowgrid/texserv/types"
)

// MemoryStore is an in-process asset store.
//
// It backs the "memory" configuration backend for local runs and is the
// default test double for the delivery pipeline. Callbacks are dispatched
// on a fresh goroutine so callers observe the same asynchrony as the
// remote stores.
type MemoryStore struct {
	mu     sync.Mutex
	assets map[types.AssetID][]byte

	// Latency, when non-zero, delays each callback to simulate store I/O.
	Latency time.Duration

	// Synchronous, when true, invokes callbacks inline from Fetch.
	// Tests use this to remove scheduling nondeterminism.
	Synchronous bool

	fetches int64
}

// NewMemoryStore creates an empty in-process store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		assets: make(map[types.AssetID][]byte),
	}
}

// Put inserts or replaces an asset payload.
func (s *MemoryStore) Put(id types.AssetID, payload []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.assets[id] = payload
}

// Fetch resolves the asset and invokes cb exactly once with the payload,
// or nil if the asset is absent.
func (s *MemoryStore) Fetch(id types.AssetID, cb FetchFunc) {
	s.mu.Lock()
	s.fetches++
	payload, ok := s.assets[id]
	latency := s.Latency
	sync := s.Synchronous
	s.mu.Unlock()

	deliver := func() {
		if latency > 0 {
			time.Sleep(latency)
		}
		if !ok {
			cb(id, nil)
			return
		}
		cb(id, payload)
	}

	if sync {
		deliver()
		return
	}
	go deliver()
}

// FetchCount returns the number of Fetch calls observed. Used by tests to
// assert the single-fetch coalescing property.
func (s *MemoryStore) FetchCount() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.fetches
}

var _ Fetcher = (*MemoryStore)(nil)
