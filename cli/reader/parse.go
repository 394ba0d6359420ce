package reader

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/meadowgrid/texserv/iox"
	"github.com/meadowgrid/texserv/types"
)

// ParseRequests reads a newline-delimited JSON request script. Blank lines
// and lines starting with # are skipped. Every other line must be a single
// JSON object decoding to a TextureRequest with valid UUIDs; errors carry
// the line number.
func ParseRequests(r io.Reader) ([]types.TextureRequest, error) {
	var requests []types.TextureRequest

	scanner := bufio.NewScanner(r)
	// Request records are small, but leave room for generous scripts.
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	line := 0
	for scanner.Scan() {
		line++
		text := strings.TrimSpace(scanner.Text())
		if text == "" || strings.HasPrefix(text, "#") {
			continue
		}

		var req types.TextureRequest
		if err := json.Unmarshal([]byte(text), &req); err != nil {
			return nil, fmt.Errorf("line %d: invalid request record: %w", line, err)
		}
		if _, err := types.ParseClientID(req.Client); err != nil {
			return nil, fmt.Errorf("line %d: invalid client id %q: %w", line, req.Client, err)
		}
		if _, err := types.ParseAssetID(req.Asset); err != nil {
			return nil, fmt.Errorf("line %d: invalid asset id %q: %w", line, req.Asset, err)
		}

		requests = append(requests, req)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read script: %w", err)
	}

	return requests, nil
}

// ParseRequestsFile reads a request script from disk.
func ParseRequestsFile(path string) ([]types.TextureRequest, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open script: %w", err)
	}
	defer iox.DiscardClose(f)

	return ParseRequests(f)
}
