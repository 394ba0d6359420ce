package delivery

import (
	"errors"
	"fmt"
	"sync"

	"github.com/meadowgrid/texserv/log"
	"github.com/meadowgrid/texserv/metrics"
	"github.com/meadowgrid/texserv/store"
	"github.com/meadowgrid/texserv/types"
)

// ErrOrphanFetch is returned by OnAssetFetched when a fetch completes for
// an asset with no open episode. This indicates a coalescing bug (double
// callback or registry desync) and must never be swallowed by callers.
var ErrOrphanFetch = errors.New("fetch completed for unregistered asset")

// Dispatcher is the dispatch-queue contract the registry produces into.
// Enqueue returns false when the state is already queued; Contains is the
// explicit membership probe for the same condition.
type Dispatcher interface {
	Enqueue(st *State) bool
	Contains(st *State) bool
}

// PendingCounter receives the session-layer pending download adjustments
// the registry is responsible for. metrics.Collector satisfies it.
type PendingCounter interface {
	AdjustPendingDownloads(delta int64)
}

// Registry coalesces concurrent client requests for the same asset into a
// single outstanding backing-store fetch, and hands ready deliveries to
// the dispatch queue.
//
// All bookkeeping runs under one mutex over the whole pending map.
// Coarse by intent: requests are cheap and rare next to fetch latency,
// and a single critical section rules out lost updates and double
// fetches without per-key locking.
type Registry struct {
	mu      sync.Mutex
	pending map[types.AssetID]*State
	closed  bool

	fetcher    store.Fetcher
	dispatch   Dispatcher
	accounting PendingCounter
	collector  *metrics.Collector
	log        *log.Logger
}

// NewRegistry wires a registry to its collaborators. accounting may be
// nil when no session-layer pending count exists; collector and logger
// may be nil (metrics methods are nil-safe, logging falls back to a nop).
func NewRegistry(fetcher store.Fetcher, dispatch Dispatcher, accounting PendingCounter, collector *metrics.Collector, logger *log.Logger) *Registry {
	if logger == nil {
		logger = log.NewNop()
	}
	return &Registry{
		pending:    make(map[types.AssetID]*State),
		fetcher:    fetcher,
		dispatch:   dispatch,
		accounting: accounting,
		collector:  collector,
		log:        logger,
	}
}

// RequestAsset records a client's interest in an asset.
//
// A request with discardLevel >= 0 or a non-zero priority is an active
// interest; anything else is a cancel hint for the asset.
// TODO: split the cancel hint into its own entry point once the session
// layer stops riding it on the request message shape.
//
// Active interest: joins the open episode for the asset (refreshing its
// parameters) or opens one and issues the single backing-store fetch.
// The fetch is fire-and-forget; this call never blocks on store I/O.
//
// Cancel hint: flags the open episode, if any, as cancel-requested. The
// episode itself stays registered until its fetch resolves.
func (r *Registry) RequestAsset(client types.ClientID, asset types.AssetID, discardLevel, packet int, priority float64) {
	r.collector.IncRequestReceived()

	r.mu.Lock()

	if r.closed {
		r.mu.Unlock()
		r.log.Warn("request after shutdown dropped", map[string]any{
			"client": client.String(),
			"asset":  asset.String(),
		})
		return
	}

	if discardLevel < 0 && priority == 0 {
		if st, ok := r.pending[asset]; ok {
			st.CancelRequested = true
		}
		r.mu.Unlock()
		r.collector.IncCancelSignal()
		return
	}

	if st, ok := r.pending[asset]; ok {
		st.UpdateParameters(discardLevel, packet)
		// A fetch may have resolved between two requests without the
		// state being dispatched yet; push it through now.
		r.enqueueLocked(st)
		r.mu.Unlock()
		r.collector.IncRequestCoalesced()
		return
	}

	st := NewState(client, asset, discardLevel, packet)
	r.pending[asset] = st
	r.mu.Unlock()
	r.collector.IncFetchIssued()

	// Registering the episode is what guarantees the single fetch; the
	// fetch itself runs outside the lock so a store that completes on the
	// caller's goroutine can re-enter OnAssetFetched.
	r.fetcher.Fetch(asset, func(id types.AssetID, payload []byte) {
		if err := r.OnAssetFetched(id, payload); err != nil {
			r.collector.IncOrphanCompletion()
			r.log.DPanic("asset fetch completion violated coalescing invariant", map[string]any{
				"asset": id.String(),
				"error": err.Error(),
			})
		}
	})
}

// OnAssetFetched is the backing store's completion callback, invoked
// exactly once per outstanding fetch. payload is nil for not-found.
//
// The open episode is removed from the registry in every case. A found
// payload is recorded and, when the delivery is not already underway,
// handed to the dispatch queue. Not-found decrements the session-layer
// pending download count and queues nothing.
//
// Returns ErrOrphanFetch when no episode is open for the asset: that is
// an invariant breach, not an operational condition, and callers must
// surface it loudly.
func (r *Registry) OnAssetFetched(asset types.AssetID, payload []byte) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	st, ok := r.pending[asset]
	if !ok {
		if r.closed {
			// Shutdown cleared the episode while the fetch was in
			// flight; the late completion is expected, not a bug.
			r.log.Debug("fetch completed after shutdown", map[string]any{
				"asset": asset.String(),
			})
			return nil
		}
		return fmt.Errorf("%w: %s", ErrOrphanFetch, asset)
	}
	delete(r.pending, asset)

	if payload == nil {
		r.collector.IncFetchNotFound()
		if r.accounting != nil {
			r.accounting.AdjustPendingDownloads(-1)
		}
		r.log.Debug("asset not found", map[string]any{
			"asset":  asset.String(),
			"client": st.Client.String(),
		})
		return nil
	}

	if !st.ImageLoaded {
		st.MarkPayloadReceived(payload)
		r.enqueueLocked(st)
	}
	return nil
}

// enqueueLocked hands st to the dispatch queue when it is ready and not
// already on its way: payload present, not mid-send, not already queued.
// At hand-off the send progress restarts and a stale cancel flag from the
// fetch window is cleared; the client re-cancels if it still wants out.
// Caller holds r.mu.
func (r *Registry) enqueueLocked(st *State) {
	if !st.ImageLoaded || st.Sending {
		return
	}
	if r.dispatch.Contains(st) {
		r.collector.IncEnqueueDeduped()
		return
	}

	st.Sending = true
	st.CancelRequested = false
	st.CurrentPacket = 0
	if r.dispatch.Enqueue(st) {
		r.collector.IncEnqueued()
	} else {
		r.collector.IncEnqueueDeduped()
	}
}

// PendingCount returns the number of open episodes.
func (r *Registry) PendingCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.pending)
}

// Shutdown flags every open episode as cancelled and clears the registry.
// Deliveries already handed to the dispatch queue are untouched; they
// belong to the sender. Safe to call concurrently with requests and
// fetch completions: the shared mutex guarantees no cleared episode is
// enqueued afterwards.
func (r *Registry) Shutdown() {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.closed = true
	for _, st := range r.pending {
		st.CancelRequested = true
	}
	clear(r.pending)
}
