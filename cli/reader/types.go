// Package reader provides the read-side data access layer for the texserv CLI.
//
// It parses request scripts fed to texserv run, and reads back what a run
// produced: metrics snapshot files and the per-client frame streams in a
// delivery output directory.
package reader

// AssetReport summarizes the frames one client received for one asset.
type AssetReport struct {
	Asset        string `json:"asset"`
	DiscardLevel int    `json:"discard_level"`
	TotalPackets int    `json:"total_packets"`
	TotalBytes   int64  `json:"total_bytes"`
	PacketsSeen  int    `json:"packets_seen"`
	BytesSeen    int64  `json:"bytes_seen"`
	Complete     bool   `json:"complete"`
}

// ClientReport summarizes one client's frame stream.
type ClientReport struct {
	Client  string        `json:"client"`
	Packets int           `json:"packets"`
	Bytes   int64         `json:"bytes"`
	Assets  []AssetReport `json:"assets"`
}

// DeliveryReport summarizes a delivery output directory.
type DeliveryReport struct {
	Path    string         `json:"path"`
	Clients []ClientReport `json:"clients"`
}
