package delivery

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/meadowgrid/texserv/metrics"
	"github.com/meadowgrid/texserv/queue"
	"github.com/meadowgrid/texserv/store"
	"github.com/meadowgrid/texserv/types"
)

// newTestRegistry wires a registry over a synchronous memory store so
// fetch completions happen inline and tests stay deterministic.
func newTestRegistry(t *testing.T) (*Registry, *store.MemoryStore, *queue.Queue[*State], *metrics.Collector) {
	t.Helper()

	ms := store.NewMemoryStore()
	ms.Synchronous = true
	q := queue.New[*State]()
	c := metrics.NewCollector("memory", "test")
	r := NewRegistry(ms, q, c, c, nil)
	return r, ms, q, c
}

func TestRequestAsset_IssuesSingleFetch(t *testing.T) {
	// Hold completions back entirely so every caller races against the
	// same open episode.
	fetcher := &holdingFetcher{}
	q := queue.New[*State]()
	r := NewRegistry(fetcher, q, nil, nil, nil)

	client := types.NewClientID()
	asset := types.NewAssetID()

	const callers = 16
	var wg sync.WaitGroup
	for i := range callers {
		wg.Add(1)
		go func(discard int) {
			defer wg.Done()
			r.RequestAsset(client, asset, discard%3, 0, 100)
		}(i)
	}
	wg.Wait()

	if got := fetcher.count(); got != 1 {
		t.Errorf("backing store saw %d fetches, want 1", got)
	}
	if got := r.PendingCount(); got != 1 {
		t.Errorf("PendingCount = %d, want 1", got)
	}
}

func TestRequestAsset_LastWriteWins(t *testing.T) {
	fetcher := &holdingFetcher{}
	q := queue.New[*State]()
	r := NewRegistry(fetcher, q, nil, nil, nil)

	client := types.NewClientID()
	asset := types.NewAssetID()

	r.RequestAsset(client, asset, 3, 0, 100)
	r.RequestAsset(client, asset, 1, 5, 100)

	// Release the payload; the state observed at enqueue time must carry
	// the second request's parameters.
	fetcher.release(asset, []byte("payload"), r)

	st, ok := q.Dequeue(t.Context())
	if !ok {
		t.Fatal("expected a queued delivery")
	}
	if st.DiscardLevel != 1 {
		t.Errorf("DiscardLevel = %d, want 1", st.DiscardLevel)
	}
	if st.StartPacket != 5 {
		t.Errorf("StartPacket = %d, want 5", st.StartPacket)
	}
}

func TestRequestAsset_InlineCompletionDoesNotBlock(t *testing.T) {
	// A store may resolve the fetch on the caller's goroutine before
	// RequestAsset returns; the registry must not hold its mutex across
	// the Fetch call or the completion re-entering OnAssetFetched wedges.
	r, ms, q, _ := newTestRegistry(t)

	asset := types.NewAssetID()
	ms.Put(asset, []byte("texture"))

	done := make(chan struct{})
	go func() {
		r.RequestAsset(types.NewClientID(), asset, 0, 0, 100)
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("RequestAsset blocked on an inline fetch completion")
	}

	if q.Len() != 1 {
		t.Fatalf("queue length = %d, want 1", q.Len())
	}
	if r.PendingCount() != 0 {
		t.Error("episode should be closed once the inline completion resolves")
	}
}

func TestOnAssetFetched_EnqueuesReadyDelivery(t *testing.T) {
	r, ms, q, _ := newTestRegistry(t)

	asset := types.NewAssetID()
	ms.Put(asset, []byte("texture"))

	r.RequestAsset(types.NewClientID(), asset, 0, 0, 100)

	if q.Len() != 1 {
		t.Fatalf("queue length = %d, want 1", q.Len())
	}
	st, _ := q.Dequeue(t.Context())
	if !st.ImageLoaded {
		t.Error("queued state should be loaded")
	}
	if !st.Sending {
		t.Error("queued state should be marked Sending")
	}
	if st.CancelRequested {
		t.Error("queued state should have cancel cleared")
	}
	if st.CurrentPacket != 0 {
		t.Errorf("CurrentPacket = %d, want 0 at hand-off", st.CurrentPacket)
	}
	if r.PendingCount() != 0 {
		t.Error("episode should be removed from registry on completion")
	}
}

func TestOnAssetFetched_NoDoubleEnqueue(t *testing.T) {
	fetcher := &holdingFetcher{}
	q := queue.New[*State]()
	c := metrics.NewCollector("memory", "test")
	r := NewRegistry(fetcher, q, c, c, nil)

	asset := types.NewAssetID()
	r.RequestAsset(types.NewClientID(), asset, 0, 0, 100)

	// Simulate an earlier completion path having already dispatched the
	// state: loaded and mid-send.
	r.mu.Lock()
	st := r.pending[asset]
	st.ImageLoaded = true
	st.Sending = true
	r.mu.Unlock()

	if err := r.OnAssetFetched(asset, []byte("late")); err != nil {
		t.Fatalf("OnAssetFetched: %v", err)
	}

	if q.Len() != 0 {
		t.Errorf("queue length = %d, want 0 (no double enqueue)", q.Len())
	}
	if r.PendingCount() != 0 {
		t.Error("episode should still be removed from registry")
	}
}

func TestOnAssetFetched_RemovalOnCompletion(t *testing.T) {
	for _, found := range []bool{true, false} {
		fetcher := &holdingFetcher{}
		q := queue.New[*State]()
		r := NewRegistry(fetcher, q, nil, nil, nil)

		asset := types.NewAssetID()
		r.RequestAsset(types.NewClientID(), asset, 0, 0, 100)

		var payload []byte
		if found {
			payload = []byte("x")
		}
		if err := r.OnAssetFetched(asset, payload); err != nil {
			t.Fatalf("found=%v: OnAssetFetched: %v", found, err)
		}
		if r.PendingCount() != 0 {
			t.Errorf("found=%v: episode not removed", found)
		}
	}
}

func TestOnAssetFetched_Orphan(t *testing.T) {
	r, _, _, _ := newTestRegistry(t)

	err := r.OnAssetFetched(types.NewAssetID(), []byte("ghost"))
	if err == nil {
		t.Fatal("orphan completion must be an error")
	}
	if !errors.Is(err, ErrOrphanFetch) {
		t.Errorf("error = %v, want ErrOrphanFetch", err)
	}
}

func TestRequestAsset_CancelIsAdvisory(t *testing.T) {
	fetcher := &holdingFetcher{}
	q := queue.New[*State]()
	r := NewRegistry(fetcher, q, nil, nil, nil)

	client := types.NewClientID()
	asset := types.NewAssetID()

	r.RequestAsset(client, asset, 0, 0, 100)
	// Cancel hint: negative discard, zero priority.
	r.RequestAsset(client, asset, -1, 0, 0)

	r.mu.Lock()
	if !r.pending[asset].CancelRequested {
		r.mu.Unlock()
		t.Fatal("cancel hint should set CancelRequested")
	}
	if len(r.pending) != 1 {
		r.mu.Unlock()
		t.Fatal("cancel must not remove the episode")
	}
	r.mu.Unlock()

	// The fetch still completes and the delivery still ships, with the
	// stale cancel cleared at hand-off.
	fetcher.release(asset, []byte("payload"), r)

	st, ok := q.Dequeue(t.Context())
	if !ok {
		t.Fatal("cancelled-then-found delivery should still be queued")
	}
	if st.CancelRequested {
		t.Error("CancelRequested should be cleared at hand-off")
	}
	if !st.Sending {
		t.Error("Sending should be set at hand-off")
	}
}

func TestRequestAsset_CancelForUnknownAssetIsNoop(t *testing.T) {
	r, _, q, _ := newTestRegistry(t)

	r.RequestAsset(types.NewClientID(), types.NewAssetID(), -1, 0, 0)

	if r.PendingCount() != 0 {
		t.Error("cancel for unknown asset should not open an episode")
	}
	if q.Len() != 0 {
		t.Error("cancel for unknown asset should not enqueue")
	}
}

func TestOnAssetFetched_NotFoundDecrementsPendingCount(t *testing.T) {
	r, _, q, c := newTestRegistry(t)

	// Asset never seeded: the synchronous store resolves not-found inline.
	r.RequestAsset(types.NewClientID(), types.NewAssetID(), 0, 0, 100)

	s := c.Snapshot()
	if s.PendingDownloads != -1 {
		t.Errorf("PendingDownloads = %d, want -1", s.PendingDownloads)
	}
	if s.FetchesNotFound != 1 {
		t.Errorf("FetchesNotFound = %d, want 1", s.FetchesNotFound)
	}
	if q.Len() != 0 {
		t.Error("not-found must not enqueue a delivery")
	}
	if r.PendingCount() != 0 {
		t.Error("not-found must still close the episode")
	}
}

func TestShutdown_CancelsAndClears(t *testing.T) {
	fetcher := &holdingFetcher{}
	q := queue.New[*State]()
	r := NewRegistry(fetcher, q, nil, nil, nil)

	client := types.NewClientID()
	states := make([]*State, 0, 3)
	for range 3 {
		asset := types.NewAssetID()
		r.RequestAsset(client, asset, 0, 0, 100)
		r.mu.Lock()
		states = append(states, r.pending[asset])
		r.mu.Unlock()
	}

	r.Shutdown()

	if r.PendingCount() != 0 {
		t.Errorf("PendingCount = %d after Shutdown, want 0", r.PendingCount())
	}
	for i, st := range states {
		if !st.CancelRequested {
			t.Errorf("state %d: CancelRequested = false after Shutdown", i)
		}
	}

	// Requests after shutdown are dropped.
	r.RequestAsset(client, types.NewAssetID(), 0, 0, 100)
	if r.PendingCount() != 0 {
		t.Error("request after Shutdown should not open an episode")
	}

	// A fetch completing after shutdown is not an orphan.
	if err := r.OnAssetFetched(states[0].AssetID, []byte("late")); err != nil {
		t.Errorf("post-shutdown completion should be benign, got %v", err)
	}
	if q.Len() != 0 {
		t.Error("post-shutdown completion must not enqueue")
	}
}

func TestRequestAsset_RefreshDispatchesParkedState(t *testing.T) {
	// A loaded state that somehow was not dispatched (fetch resolved
	// between two requests) is pushed through by the next request.
	fetcher := &holdingFetcher{}
	q := queue.New[*State]()
	r := NewRegistry(fetcher, q, nil, nil, nil)

	client := types.NewClientID()
	asset := types.NewAssetID()
	r.RequestAsset(client, asset, 0, 0, 100)

	r.mu.Lock()
	r.pending[asset].MarkPayloadReceived([]byte("parked"))
	r.mu.Unlock()

	r.RequestAsset(client, asset, 1, 2, 100)

	if q.Len() != 1 {
		t.Fatalf("queue length = %d, want 1", q.Len())
	}
	st, _ := q.Dequeue(t.Context())
	if st.DiscardLevel != 1 || st.StartPacket != 2 {
		t.Errorf("parked state dispatched with (%d, %d), want (1, 2)",
			st.DiscardLevel, st.StartPacket)
	}
}

func TestRegistry_ConcurrentRequestsAcrossAssets(t *testing.T) {
	fetcher := &holdingFetcher{}
	q := queue.New[*State]()
	c := metrics.NewCollector("memory", "test")
	r := NewRegistry(fetcher, q, c, c, nil)

	const assets = 32
	ids := make([]types.AssetID, assets)
	for i := range ids {
		ids[i] = types.NewAssetID()
	}

	var wg sync.WaitGroup
	for _, id := range ids {
		for range 4 {
			wg.Add(1)
			go func(asset types.AssetID) {
				defer wg.Done()
				r.RequestAsset(types.NewClientID(), asset, 0, 0, 100)
			}(id)
		}
	}
	wg.Wait()

	// Exactly one fetch per asset despite four racing requesters each.
	if got := fetcher.count(); got != assets {
		t.Errorf("backing store saw %d fetches, want %d", got, assets)
	}
	if got := c.Snapshot().FetchesIssued; got != assets {
		t.Errorf("FetchesIssued = %d, want %d", got, assets)
	}
	if got := c.Snapshot().RequestsCoalesced; got != assets*3 {
		t.Errorf("RequestsCoalesced = %d, want %d", got, assets*3)
	}

	// Releasing every fetch ships each asset exactly once.
	for _, id := range ids {
		fetcher.release(id, []byte("data"), r)
	}

	seen := make(map[types.AssetID]bool)
	for range assets {
		st, ok := q.Dequeue(t.Context())
		if !ok {
			t.Fatal("queue closed early")
		}
		if seen[st.AssetID] {
			t.Fatalf("asset %s delivered twice", st.AssetID)
		}
		seen[st.AssetID] = true
	}
	if q.Len() != 0 {
		t.Errorf("queue length = %d after drain, want 0", q.Len())
	}
	if r.PendingCount() != 0 {
		t.Errorf("PendingCount = %d after drain, want 0", r.PendingCount())
	}
}

// holdingFetcher records fetches without completing them until release.
type holdingFetcher struct {
	mu      sync.Mutex
	fetches []types.AssetID
}

func (f *holdingFetcher) Fetch(id types.AssetID, _ store.FetchFunc) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.fetches = append(f.fetches, id)
}

func (f *holdingFetcher) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.fetches)
}

// release completes a held fetch by invoking the registry callback path
// directly, the way the store's worker goroutine would.
func (f *holdingFetcher) release(id types.AssetID, payload []byte, r *Registry) {
	if err := r.OnAssetFetched(id, payload); err != nil {
		panic(err)
	}
}
