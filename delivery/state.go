// Package delivery implements the request-coalescing texture delivery
// core: per-asset delivery state and the registry that merges concurrent
// client requests into a single backing-store fetch.
package delivery

import "github.com/meadowgrid/texserv/types"

// State is the per-asset delivery record for one open request episode.
//
// Ownership: the registry exclusively owns a State, and all field access
// goes through the registry mutex, until the state is handed to the
// dispatch queue. From that point the consuming sender owns it and the
// registry no longer touches it (the episode is already removed from the
// registry when the hand-off happens).
type State struct {
	// AssetID is the requested asset, the registry map key.
	AssetID types.AssetID

	// Client is the session this delivery is for. One episode serves one
	// client; a concurrent requester for the same asset refreshes the
	// parameters below but does not take over the episode.
	Client types.ClientID

	// DiscardLevel is the most recently requested detail reduction
	// (smaller = more detail). Last write wins.
	DiscardLevel int

	// StartPacket is the packet number to resume delivery from.
	// Last write wins.
	StartPacket int

	// ImageLoaded is true once the backing store payload has arrived.
	ImageLoaded bool

	// Sending is true from hand-off to the dispatch queue until the
	// sender finishes or abandons the delivery.
	Sending bool

	// CancelRequested is the client's advisory abort flag. The sender
	// checks it between packets; it never removes the episode by itself.
	CancelRequested bool

	// CurrentPacket is the sender's send-progress counter. Reset to zero
	// at every hand-off; owned by the sender afterwards.
	CurrentPacket int

	// Payload holds the fetched bytes. Set exactly once per episode.
	Payload []byte
}

// NewState opens a delivery episode for client/asset with the initially
// requested parameters.
func NewState(client types.ClientID, asset types.AssetID, discardLevel, startPacket int) *State {
	return &State{
		AssetID:      asset,
		Client:       client,
		DiscardLevel: discardLevel,
		StartPacket:  startPacket,
	}
}

// UpdateParameters overwrites the requested delivery parameters.
// No merging: the most recent request wins outright.
func (s *State) UpdateParameters(discardLevel, startPacket int) {
	s.DiscardLevel = discardLevel
	s.StartPacket = startPacket
}

// MarkPayloadReceived records the fetched payload and flips ImageLoaded.
// Must be called at most once per episode; the registry guards against a
// second call, not this type.
func (s *State) MarkPayloadReceived(payload []byte) {
	s.Payload = payload
	s.ImageLoaded = true
}
