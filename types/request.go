package types

// TextureRequest is a decoded client request for a texture asset.
//
// The same record shape carries both real requests and cancel hints: a
// request with a negative discard level and zero priority means the client
// no longer wants the asset. See IsCancel.
type TextureRequest struct {
	// Client is the requesting client session.
	Client string `json:"client" msgpack:"client"`
	// Asset is the requested asset UUID.
	Asset string `json:"asset" msgpack:"asset"`
	// DiscardLevel is the requested detail reduction (smaller = more detail).
	// Negative values signal lost interest when Priority is also zero.
	DiscardLevel int `json:"discard_level" msgpack:"discard_level"`
	// Packet is the packet number to resume delivery from.
	Packet int `json:"packet" msgpack:"packet"`
	// Priority is the client-assigned download priority.
	Priority float64 `json:"priority" msgpack:"priority"`
	// DelayMs is an optional pause before applying the request, used by
	// replay scripts to approximate client timing.
	DelayMs int `json:"delay_ms,omitempty" msgpack:"delay_ms,omitempty"`
}

// IsCancel reports whether this request is a cancel hint rather than an
// active interest. A request is active when DiscardLevel >= 0 or Priority
// is non-zero; anything else means "stop sending".
func (r *TextureRequest) IsCancel() bool {
	return r.DiscardLevel < 0 && r.Priority == 0
}
