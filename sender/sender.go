package sender

import (
	"context"
	"io"
	"time"

	"github.com/meadowgrid/texserv/delivery"
	"github.com/meadowgrid/texserv/log"
	"github.com/meadowgrid/texserv/metrics"
	"github.com/meadowgrid/texserv/notify"
	"github.com/meadowgrid/texserv/queue"
	"github.com/meadowgrid/texserv/types"
)

// Packet sizing. The first data packet is kept small so a client can
// render a low-detail preview from a single packet; the remainder ships
// in full-size slices.
const (
	DefaultFirstPacketSize = 600
	DefaultPacketSize      = 1000
)

// ClientResolver maps a client session to its outbound byte stream.
// A nil writer means the client is gone; the delivery is abandoned.
type ClientResolver interface {
	Writer(client types.ClientID) io.Writer
}

// Config configures a Sender.
type Config struct {
	// FirstPacketSize is the byte size of the first data packet
	// (default 600).
	FirstPacketSize int
	// PacketSize is the byte size of follow-on data packets
	// (default 1000).
	PacketSize int
	// NodeID tags published delivery events (optional).
	NodeID string
}

// Sender drains the dispatch queue and streams each delivery to its
// client as packet frames. Run as many Senders concurrently as the
// deployment wants consumer parallelism; the queue hands each delivery
// to exactly one of them.
//
// Once a State is dequeued the sender owns it exclusively. It honors
// CancelRequested between packets and clears the transient send fields
// when it finishes or gives up.
type Sender struct {
	queue     *queue.Queue[*delivery.State]
	resolver  ClientResolver
	config    Config
	collector *metrics.Collector
	notifier  notify.Notifier
	log       *log.Logger
}

// New creates a sender over the dispatch queue. collector and logger may
// be nil.
func New(q *queue.Queue[*delivery.State], resolver ClientResolver, cfg Config, collector *metrics.Collector, logger *log.Logger) *Sender {
	if cfg.FirstPacketSize <= 0 {
		cfg.FirstPacketSize = DefaultFirstPacketSize
	}
	if cfg.PacketSize <= 0 {
		cfg.PacketSize = DefaultPacketSize
	}
	if logger == nil {
		logger = log.NewNop()
	}
	return &Sender{
		queue:     q,
		resolver:  resolver,
		config:    cfg,
		collector: collector,
		log:       logger,
	}
}

// SetNotifier attaches an optional delivery notifier. Must be called
// before Run.
func (s *Sender) SetNotifier(n notify.Notifier) {
	s.notifier = n
}

// Run consumes deliveries until ctx is cancelled or the queue closes.
func (s *Sender) Run(ctx context.Context) {
	for {
		st, ok := s.queue.Dequeue(ctx)
		if !ok {
			return
		}
		s.send(st)
	}
}

// send streams one delivery and resets its transient fields.
func (s *Sender) send(st *delivery.State) {
	outcome := notify.OutcomeAborted
	dataPackets := 0
	var dataBytes int64
	defer func() {
		st.Sending = false
		st.CurrentPacket = 0
		s.publish(st, outcome, dataPackets, dataBytes)
	}()

	if st.CancelRequested {
		s.collector.IncSendAborted()
		s.log.Debug("delivery cancelled before first packet", map[string]any{
			"asset":  st.AssetID.String(),
			"client": st.Client.String(),
		})
		return
	}

	w := s.resolver.Writer(st.Client)
	if w == nil {
		s.collector.IncSendAborted()
		s.log.Warn("client gone, delivery dropped", map[string]any{
			"asset":  st.AssetID.String(),
			"client": st.Client.String(),
		})
		return
	}

	budget := DiscardBudget(len(st.Payload), st.DiscardLevel)
	slices := packetSlices(budget, s.config.FirstPacketSize, s.config.PacketSize)
	enc := NewFrameEncoder(w)

	header := &Packet{
		Kind:         PacketKindHeader,
		Asset:        st.AssetID.String(),
		Number:       0,
		TotalPackets: len(slices),
		TotalBytes:   budget,
		DiscardLevel: st.DiscardLevel,
	}
	if err := enc.WritePacket(header); err != nil {
		s.collector.IncSendAborted()
		s.log.Error("header write failed", map[string]any{
			"asset":  st.AssetID.String(),
			"client": st.Client.String(),
			"error":  err.Error(),
		})
		return
	}
	s.collector.AddPacketsSent(1)

	offset := 0
	for i, size := range slices {
		number := i + 1
		if number < st.StartPacket {
			// The client asked to resume mid-stream; skip what it has.
			offset += size
			continue
		}
		if st.CancelRequested {
			s.collector.IncSendAborted()
			s.log.Debug("delivery cancelled mid-stream", map[string]any{
				"asset":  st.AssetID.String(),
				"client": st.Client.String(),
				"packet": number,
			})
			return
		}

		pkt := &Packet{
			Kind:   PacketKindData,
			Asset:  st.AssetID.String(),
			Number: number,
			Data:   st.Payload[offset : offset+size],
		}
		if err := enc.WritePacket(pkt); err != nil {
			s.collector.IncSendAborted()
			s.log.Error("packet write failed", map[string]any{
				"asset":  st.AssetID.String(),
				"client": st.Client.String(),
				"packet": number,
				"error":  err.Error(),
			})
			return
		}

		st.CurrentPacket = number
		offset += size
		dataPackets++
		dataBytes += int64(size)
		s.collector.AddPacketsSent(1)
		s.collector.AddBytesSent(int64(size))
	}

	outcome = notify.OutcomeDelivered
	s.collector.IncSendCompleted()
}

// publish sends a delivery completion event to the configured notifier.
// Publish failures are logged and otherwise ignored; notification is
// best-effort and must never stall the send loop.
func (s *Sender) publish(st *delivery.State, outcome string, packets int, bytes int64) {
	if s.notifier == nil {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	event := &notify.DeliveryEvent{
		EventType:    "delivery_completed",
		Asset:        st.AssetID.String(),
		Client:       st.Client.String(),
		Outcome:      outcome,
		DiscardLevel: st.DiscardLevel,
		Packets:      packets,
		Bytes:        bytes,
		NodeID:       s.config.NodeID,
		Timestamp:    time.Now().UTC().Format(time.RFC3339),
	}
	if err := s.notifier.Publish(ctx, event); err != nil {
		s.log.Warn("delivery event publish failed", map[string]any{
			"asset": st.AssetID.String(),
			"error": err.Error(),
		})
	}
}

// DiscardBudget returns how many payload bytes a discard level delivers.
// Each discard level halves the resolution in both image dimensions, so
// the byte budget quarters per level. Level 0 (or below) means the full
// payload; the budget never drops below a single first packet so the
// client always gets a renderable preview.
func DiscardBudget(payloadLen, discardLevel int) int {
	if discardLevel <= 0 {
		return payloadLen
	}
	budget := payloadLen >> (2 * uint(discardLevel))
	if budget < DefaultFirstPacketSize {
		budget = min(DefaultFirstPacketSize, payloadLen)
	}
	return budget
}

// packetSlices splits a byte budget into per-packet sizes: one first
// packet, then full-size packets, then the remainder.
func packetSlices(budget, firstSize, size int) []int {
	if budget <= 0 {
		return nil
	}
	if budget <= firstSize {
		return []int{budget}
	}

	slices := []int{firstSize}
	remaining := budget - firstSize
	for remaining > 0 {
		n := min(size, remaining)
		slices = append(slices, n)
		remaining -= n
	}
	return slices
}
