package reader

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/meadowgrid/texserv/iox"
	"github.com/meadowgrid/texserv/metrics"
	"github.com/meadowgrid/texserv/sender"
)

// FrameFileSuffix is the filename suffix for per-client frame streams
// written by texserv run.
const FrameFileSuffix = ".frames"

// ReadSnapshot reads a metrics snapshot JSON file written by texserv run.
func ReadSnapshot(path string) (*metrics.Snapshot, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read snapshot: %w", err)
	}

	var snap metrics.Snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return nil, fmt.Errorf("invalid snapshot in %s: %w", path, err)
	}
	return &snap, nil
}

// ReadDeliveryDir reads every per-client frame stream in a delivery output
// directory and summarizes what each client received.
func ReadDeliveryDir(path string) (*DeliveryReport, error) {
	entries, err := os.ReadDir(path)
	if err != nil {
		return nil, fmt.Errorf("read delivery dir: %w", err)
	}

	report := &DeliveryReport{Path: path}
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || !strings.HasSuffix(name, FrameFileSuffix) {
			continue
		}

		client, err := readClientFile(filepath.Join(path, name))
		if err != nil {
			return nil, err
		}
		report.Clients = append(report.Clients, *client)
	}

	sort.Slice(report.Clients, func(i, j int) bool {
		return report.Clients[i].Client < report.Clients[j].Client
	})
	return report, nil
}

// readClientFile decodes one client's frame stream into a ClientReport.
func readClientFile(path string) (*ClientReport, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open frame stream: %w", err)
	}
	defer iox.DiscardClose(f)

	report := &ClientReport{
		Client: strings.TrimSuffix(filepath.Base(path), FrameFileSuffix),
	}
	assets := make(map[string]*AssetReport)
	lastNumber := make(map[string]int)

	dec := sender.NewFrameDecoder(f)
	for {
		pkt, err := dec.ReadPacket()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("decode %s: %w", path, err)
		}

		ar, ok := assets[pkt.Asset]
		if !ok {
			ar = &AssetReport{Asset: pkt.Asset}
			assets[pkt.Asset] = ar
		}

		report.Packets++
		switch pkt.Kind {
		case sender.PacketKindHeader:
			ar.DiscardLevel = pkt.DiscardLevel
			ar.TotalPackets = pkt.TotalPackets
			ar.TotalBytes = int64(pkt.TotalBytes)
		case sender.PacketKindData:
			ar.PacketsSeen++
			ar.BytesSeen += int64(len(pkt.Data))
			report.Bytes += int64(len(pkt.Data))
			if pkt.Number > lastNumber[pkt.Asset] {
				lastNumber[pkt.Asset] = pkt.Number
			}
		}
	}

	for id, ar := range assets {
		// A resumed delivery skips packets the client already has, so
		// completeness is judged by the final packet number, not a count.
		ar.Complete = ar.TotalPackets > 0 && lastNumber[id] == ar.TotalPackets
		report.Assets = append(report.Assets, *ar)
	}
	sort.Slice(report.Assets, func(i, j int) bool {
		return report.Assets[i].Asset < report.Assets[j].Asset
	})

	return report, nil
}
