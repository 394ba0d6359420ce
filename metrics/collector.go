// Package metrics provides delivery pipeline metrics collection.
//
// The Collector accumulates counters for the registry, the dispatch queue
// and the packet senders. It is a leaf package with no internal
// dependencies. The pending-downloads gauge doubles as the session-layer
// accounting target the registry adjusts when a fetch comes back empty.
package metrics

import "sync"

// Snapshot is an immutable point-in-time view of all pipeline metrics.
// Returned by Collector.Snapshot(). Safe to read concurrently after creation.
type Snapshot struct {
	// Registry
	RequestsReceived  int64 `json:"requests_received"`
	RequestsCoalesced int64 `json:"requests_coalesced"`
	CancelSignals     int64 `json:"cancel_signals"`
	FetchesIssued     int64 `json:"fetches_issued"`
	FetchesNotFound   int64 `json:"fetches_not_found"`
	OrphanCompletions int64 `json:"orphan_completions"`

	// Dispatch queue
	Enqueued       int64 `json:"enqueued"`
	EnqueueDeduped int64 `json:"enqueue_deduped"`

	// Sender
	PacketsSent    int64 `json:"packets_sent"`
	BytesSent      int64 `json:"bytes_sent"`
	SendsCompleted int64 `json:"sends_completed"`
	SendsAborted   int64 `json:"sends_aborted"`

	// PendingDownloads is the session-layer pending download gauge.
	PendingDownloads int64 `json:"pending_downloads"`

	// Dimensions (informational, set at construction)
	StorageBackend string `json:"storage_backend"`
	NodeID         string `json:"node_id"`
}

// Collector accumulates pipeline metrics.
// Thread-safe via sync.Mutex. All increment methods are nil-receiver safe.
type Collector struct {
	mu sync.Mutex

	// Registry
	requestsReceived  int64
	requestsCoalesced int64
	cancelSignals     int64
	fetchesIssued     int64
	fetchesNotFound   int64
	orphanCompletions int64

	// Dispatch queue
	enqueued       int64
	enqueueDeduped int64

	// Sender
	packetsSent    int64
	bytesSent      int64
	sendsCompleted int64
	sendsAborted   int64

	// Gauge
	pendingDownloads int64

	// Dimensions
	storageBackend string
	nodeID         string
}

// NewCollector creates a Collector with dimension labels.
func NewCollector(storageBackend, nodeID string) *Collector {
	return &Collector{
		storageBackend: storageBackend,
		nodeID:         nodeID,
	}
}

// --- Registry ---

// IncRequestReceived records an inbound texture request (active or cancel).
func (c *Collector) IncRequestReceived() {
	if c == nil {
		return
	}
	c.mu.Lock()
	c.requestsReceived++
	c.mu.Unlock()
}

// IncRequestCoalesced records a request that joined an already-open episode.
func (c *Collector) IncRequestCoalesced() {
	if c == nil {
		return
	}
	c.mu.Lock()
	c.requestsCoalesced++
	c.mu.Unlock()
}

// IncCancelSignal records a cancel hint from a client.
func (c *Collector) IncCancelSignal() {
	if c == nil {
		return
	}
	c.mu.Lock()
	c.cancelSignals++
	c.mu.Unlock()
}

// IncFetchIssued records a fetch dispatched to the backing store.
func (c *Collector) IncFetchIssued() {
	if c == nil {
		return
	}
	c.mu.Lock()
	c.fetchesIssued++
	c.mu.Unlock()
}

// IncFetchNotFound records a fetch that came back empty.
func (c *Collector) IncFetchNotFound() {
	if c == nil {
		return
	}
	c.mu.Lock()
	c.fetchesNotFound++
	c.mu.Unlock()
}

// IncOrphanCompletion records a fetch completion with no open episode.
// Any non-zero value indicates a coalescing bug.
func (c *Collector) IncOrphanCompletion() {
	if c == nil {
		return
	}
	c.mu.Lock()
	c.orphanCompletions++
	c.mu.Unlock()
}

// --- Dispatch queue ---

// IncEnqueued records a delivery handed to the dispatch queue.
func (c *Collector) IncEnqueued() {
	if c == nil {
		return
	}
	c.mu.Lock()
	c.enqueued++
	c.mu.Unlock()
}

// IncEnqueueDeduped records an enqueue skipped because the delivery was
// already present in the queue.
func (c *Collector) IncEnqueueDeduped() {
	if c == nil {
		return
	}
	c.mu.Lock()
	c.enqueueDeduped++
	c.mu.Unlock()
}

// --- Sender ---

// AddPacketsSent records packets written to a client stream.
func (c *Collector) AddPacketsSent(n int64) {
	if c == nil {
		return
	}
	c.mu.Lock()
	c.packetsSent += n
	c.mu.Unlock()
}

// AddBytesSent records payload bytes written to a client stream.
func (c *Collector) AddBytesSent(n int64) {
	if c == nil {
		return
	}
	c.mu.Lock()
	c.bytesSent += n
	c.mu.Unlock()
}

// IncSendCompleted records a delivery fully streamed to its client.
func (c *Collector) IncSendCompleted() {
	if c == nil {
		return
	}
	c.mu.Lock()
	c.sendsCompleted++
	c.mu.Unlock()
}

// IncSendAborted records a delivery abandoned mid-stream (cancel or
// unresolvable client).
func (c *Collector) IncSendAborted() {
	if c == nil {
		return
	}
	c.mu.Lock()
	c.sendsAborted++
	c.mu.Unlock()
}

// --- Accounting ---

// AdjustPendingDownloads moves the pending-downloads gauge by delta.
// The registry calls this with -1 when a fetch resolves not-found; the
// session layer calls it with +1 per accepted request.
func (c *Collector) AdjustPendingDownloads(delta int64) {
	if c == nil {
		return
	}
	c.mu.Lock()
	c.pendingDownloads += delta
	c.mu.Unlock()
}

// Snapshot returns an immutable copy of all counters.
func (c *Collector) Snapshot() Snapshot {
	if c == nil {
		return Snapshot{}
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	return Snapshot{
		RequestsReceived:  c.requestsReceived,
		RequestsCoalesced: c.requestsCoalesced,
		CancelSignals:     c.cancelSignals,
		FetchesIssued:     c.fetchesIssued,
		FetchesNotFound:   c.fetchesNotFound,
		OrphanCompletions: c.orphanCompletions,
		Enqueued:          c.enqueued,
		EnqueueDeduped:    c.enqueueDeduped,
		PacketsSent:       c.packetsSent,
		BytesSent:         c.bytesSent,
		SendsCompleted:    c.sendsCompleted,
		SendsAborted:      c.sendsAborted,
		PendingDownloads:  c.pendingDownloads,
		StorageBackend:    c.storageBackend,
		NodeID:            c.nodeID,
	}
}
