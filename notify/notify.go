// Package notify defines the delivery notification boundary.
//
// Notifiers publish delivery completion events to downstream systems
// (cache warmers, billing, region peers). The run loop owns notifier
// lifecycle; users provide configuration only.
package notify

import "context"

// Event outcomes.
const (
	OutcomeDelivered = "delivered"
	OutcomeAborted   = "aborted"
	OutcomeNotFound  = "not_found"
)

// DeliveryEvent is the payload published when a texture delivery finishes.
type DeliveryEvent struct {
	EventType    string `json:"event_type"` // always "delivery_completed"
	Asset        string `json:"asset"`
	Client       string `json:"client"`
	Outcome      string `json:"outcome"` // delivered, aborted, not_found
	DiscardLevel int    `json:"discard_level"`
	Packets      int    `json:"packets"`
	Bytes        int64  `json:"bytes"`
	NodeID       string `json:"node_id,omitempty"`
	Timestamp    string `json:"timestamp"` // ISO 8601
}

// Notifier publishes delivery completion events to a downstream system.
// Implementations must be safe for concurrent use by sender workers.
type Notifier interface {
	// Publish sends a delivery completion event to the downstream system.
	// Must respect context cancellation and deadlines.
	Publish(ctx context.Context, event *DeliveryEvent) error

	// Close releases notifier resources.
	Close() error
}
