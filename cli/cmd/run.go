package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/urfave/cli/v2"

	"github.com/meadowgrid/texserv/cli/config"
	"github.com/meadowgrid/texserv/cli/reader"
	"github.com/meadowgrid/texserv/cli/render"
	"github.com/meadowgrid/texserv/delivery"
	"github.com/meadowgrid/texserv/iox"
	"github.com/meadowgrid/texserv/log"
	"github.com/meadowgrid/texserv/metrics"
	"github.com/meadowgrid/texserv/notify"
	notifyredis "github.com/meadowgrid/texserv/notify/redis"
	notifywebhook "github.com/meadowgrid/texserv/notify/webhook"
	"github.com/meadowgrid/texserv/queue"
	"github.com/meadowgrid/texserv/sender"
	"github.com/meadowgrid/texserv/store"
	"github.com/meadowgrid/texserv/types"
)

// Exit codes for texserv run.
const (
	exitSuccess         = 0
	exitConfigError     = 1
	exitScriptError     = 2
	exitDeliveryFailure = 3
)

// DefaultDrainTimeout bounds the wait for in-flight deliveries after the
// script is fully replayed.
const DefaultDrainTimeout = 30 * time.Second

// DefaultFetchLatency is the simulated store latency for memory-backend
// runs. A zero-latency store resolves fetches before the next script line
// is replayed, so back-to-back requests for one asset would never meet in
// an open episode.
const DefaultFetchLatency = 20 * time.Millisecond

// RunCommand returns the run command.
// This is the only command that executes work.
func RunCommand() *cli.Command {
	return &cli.Command{
		Name:  "run",
		Usage: "Replay a request script through the delivery pipeline",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:     "script",
				Usage:    "Path to newline-delimited JSON request script",
				Required: true,
			},
			&cli.StringFlag{
				Name:     "out",
				Usage:    "Directory for per-client frame streams and the metrics snapshot",
				Required: true,
			},
			&cli.StringFlag{
				Name:    "config",
				Aliases: []string{"c"},
				Usage:   "Path to texserv.yaml",
			},
			&cli.StringFlag{
				Name:  "backend",
				Usage: "Store backend override: memory, redis, s3",
			},
			&cli.StringFlag{
				Name:  "seed",
				Usage: "Directory of asset payload files, loaded into the memory backend",
			},
			&cli.DurationFlag{
				Name:  "fetch-latency",
				Usage: "Simulated fetch latency for the memory backend",
				Value: DefaultFetchLatency,
			},
			&cli.IntFlag{
				Name:  "workers",
				Usage: "Sender worker count override",
			},
			&cli.StringFlag{
				Name:  "node-id",
				Usage: "Node identifier override",
			},
			&cli.DurationFlag{
				Name:  "drain-timeout",
				Usage: "Max wait for in-flight deliveries after the script ends",
				Value: DefaultDrainTimeout,
			},
			&cli.StringFlag{
				Name:  "notify-redis-url",
				Usage: "Publish delivery events to this Redis URL",
			},
			&cli.StringFlag{
				Name:  "notify-webhook-url",
				Usage: "POST delivery events to this HTTP endpoint",
			},
			&cli.BoolFlag{
				Name:  "quiet",
				Usage: "Suppress the metrics summary",
			},
			FormatFlag,
			NoColorFlag,
		},
		Action: runAction,
	}
}

func runAction(c *cli.Context) error {
	cfg, err := loadRunConfig(c)
	if err != nil {
		return cli.Exit(fmt.Sprintf("texserv: %v", err), exitConfigError)
	}

	requests, err := reader.ParseRequestsFile(c.String("script"))
	if err != nil {
		return cli.Exit(fmt.Sprintf("texserv: %v", err), exitScriptError)
	}

	outDir := c.String("out")
	if err := os.MkdirAll(outDir, 0o755); err != nil {
		return cli.Exit(fmt.Sprintf("texserv: create out dir: %v", err), exitConfigError)
	}

	logger := log.NewLogger(cfg.NodeID)
	defer func() { _ = logger.Sync() }()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	collector := metrics.NewCollector(cfg.Store.Backend, cfg.NodeID)

	fetcher, err := buildStore(ctx, cfg, c.String("seed"), c.Duration("fetch-latency"), logger)
	if err != nil {
		return cli.Exit(fmt.Sprintf("texserv: %v", err), exitConfigError)
	}

	q := queue.New[*delivery.State]()
	registry := delivery.NewRegistry(fetcher, q, collector, collector, logger)
	resolver := newDirResolver(outDir)
	defer iox.DiscardClose(resolver)

	notifier, err := buildNotifier(c)
	if err != nil {
		return cli.Exit(fmt.Sprintf("texserv: %v", err), exitConfigError)
	}
	if notifier != nil {
		defer iox.DiscardClose(notifier)
	}

	senderCfg := sender.Config{
		FirstPacketSize: cfg.Sender.FirstPacketSize,
		PacketSize:      cfg.Sender.PacketSize,
		NodeID:          cfg.NodeID,
	}

	var wg sync.WaitGroup
	for range cfg.Sender.Workers {
		s := sender.New(q, resolver, senderCfg, collector, logger)
		if notifier != nil {
			s.SetNotifier(notifier)
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			s.Run(ctx)
		}()
	}

	replayScript(ctx, registry, collector, requests)
	drained := waitForDrain(ctx, q, registry, collector, c.Duration("drain-timeout"))

	registry.Shutdown()
	q.Close()
	stop()
	wg.Wait()

	snap := collector.Snapshot()
	if err := writeSnapshot(filepath.Join(outDir, "metrics.json"), snap); err != nil {
		return cli.Exit(fmt.Sprintf("texserv: %v", err), exitConfigError)
	}

	if !c.Bool("quiet") {
		if err := renderSummary(c, snap); err != nil {
			return err
		}
	}

	if snap.OrphanCompletions > 0 {
		return cli.Exit("texserv: orphan fetch completions observed", exitDeliveryFailure)
	}
	if !drained {
		return cli.Exit("texserv: drain timeout: deliveries still in flight", exitDeliveryFailure)
	}
	return cli.Exit("", exitSuccess)
}

// loadRunConfig loads texserv.yaml if given and applies flag overrides.
func loadRunConfig(c *cli.Context) (*config.Config, error) {
	var cfg *config.Config
	if path := c.String("config"); path != "" {
		loaded, err := config.Load(path)
		if err != nil {
			return nil, err
		}
		cfg = loaded
	} else {
		cfg = &config.Config{}
	}

	if backend := c.String("backend"); backend != "" {
		cfg.Store.Backend = backend
	}
	if workers := c.Int("workers"); workers > 0 {
		cfg.Sender.Workers = workers
	}
	if nodeID := c.String("node-id"); nodeID != "" {
		cfg.NodeID = nodeID
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// buildStore constructs the configured asset store backend.
func buildStore(ctx context.Context, cfg *config.Config, seedDir string, fetchLatency time.Duration, logger *log.Logger) (store.Fetcher, error) {
	switch cfg.Store.Backend {
	case "memory":
		ms := store.NewMemoryStore()
		ms.Latency = fetchLatency
		if seedDir != "" {
			if err := seedMemoryStore(ms, seedDir); err != nil {
				return nil, err
			}
		}
		return ms, nil

	case "redis":
		if seedDir != "" {
			return nil, fmt.Errorf("--seed only applies to the memory backend")
		}
		return store.NewRedisStore(store.RedisConfig{
			URL:       cfg.Store.Redis.URL,
			KeyPrefix: cfg.Store.Redis.KeyPrefix,
			Timeout:   cfg.Store.FetchTimeout.Duration,
			Retries:   cfg.Store.Retries,
		}, logger)

	case "s3":
		if seedDir != "" {
			return nil, fmt.Errorf("--seed only applies to the memory backend")
		}
		return store.NewS3Store(ctx, store.S3Config{
			Bucket:       cfg.Store.S3.Bucket,
			Prefix:       cfg.Store.S3.Prefix,
			Region:       cfg.Store.S3.Region,
			Endpoint:     cfg.Store.S3.Endpoint,
			UsePathStyle: cfg.Store.S3.S3PathStyle,
			Timeout:      cfg.Store.FetchTimeout.Duration,
			Retries:      cfg.Store.Retries,
		}, logger)

	default:
		return nil, fmt.Errorf("unknown store backend: %s", cfg.Store.Backend)
	}
}

// seedMemoryStore loads every payload file in dir whose base name (minus
// extension) parses as an asset UUID.
func seedMemoryStore(ms *store.MemoryStore, dir string) error {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return fmt.Errorf("read seed dir: %w", err)
	}

	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		name := entry.Name()
		stem := strings.TrimSuffix(name, filepath.Ext(name))
		id, err := types.ParseAssetID(stem)
		if err != nil {
			return fmt.Errorf("seed file %q: name is not an asset UUID", name)
		}
		payload, err := os.ReadFile(filepath.Join(dir, name))
		if err != nil {
			return fmt.Errorf("read seed file %q: %w", name, err)
		}
		ms.Put(id, payload)
	}
	return nil
}

// buildNotifier constructs the delivery notifier from flags, if any.
func buildNotifier(c *cli.Context) (notify.Notifier, error) {
	redisURL := c.String("notify-redis-url")
	webhookURL := c.String("notify-webhook-url")

	switch {
	case redisURL != "" && webhookURL != "":
		return nil, fmt.Errorf("--notify-redis-url and --notify-webhook-url are mutually exclusive")
	case redisURL != "":
		return notifyredis.New(notifyredis.Config{URL: redisURL})
	case webhookURL != "":
		return notifywebhook.New(notifywebhook.Config{URL: webhookURL})
	default:
		return nil, nil
	}
}

// replayScript feeds requests into the registry, honoring per-record
// delays. Stops early when ctx is cancelled.
func replayScript(ctx context.Context, registry *delivery.Registry, collector *metrics.Collector, requests []types.TextureRequest) {
	for _, req := range requests {
		if req.DelayMs > 0 {
			select {
			case <-ctx.Done():
				return
			case <-time.After(time.Duration(req.DelayMs) * time.Millisecond):
			}
		}
		if ctx.Err() != nil {
			return
		}

		// IDs were validated at parse time.
		client, _ := types.ParseClientID(req.Client)
		asset, _ := types.ParseAssetID(req.Asset)

		if !req.IsCancel() {
			collector.AdjustPendingDownloads(1)
		}
		registry.RequestAsset(client, asset, req.DiscardLevel, req.Packet, req.Priority)
	}
}

// waitForDrain polls until every fetch resolved and every queued delivery
// finished, or the timeout passes. Returns false on timeout.
func waitForDrain(ctx context.Context, q *queue.Queue[*delivery.State], registry *delivery.Registry, collector *metrics.Collector, timeout time.Duration) bool {
	deadline := time.After(timeout)
	for {
		snap := collector.Snapshot()
		if registry.PendingCount() == 0 && q.Len() == 0 &&
			snap.Enqueued == snap.SendsCompleted+snap.SendsAborted {
			return true
		}

		select {
		case <-ctx.Done():
			return false
		case <-deadline:
			return false
		case <-time.After(10 * time.Millisecond):
		}
	}
}

// writeSnapshot writes the metrics snapshot JSON next to the frame streams.
func writeSnapshot(path string, snap metrics.Snapshot) error {
	data, err := json.MarshalIndent(snap, "", "  ")
	if err != nil {
		return fmt.Errorf("encode snapshot: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("write snapshot: %w", err)
	}
	return nil
}

func renderSummary(c *cli.Context, snap metrics.Snapshot) error {
	r, err := render.NewRenderer(c)
	if err != nil {
		return cli.Exit(fmt.Sprintf("texserv: %v", err), exitConfigError)
	}
	return r.Render(snap)
}

// dirResolver maps each client to an append-only frame stream file in the
// output directory. Files open lazily on first delivery and stay open for
// the life of the run.
type dirResolver struct {
	mu    sync.Mutex
	dir   string
	files map[types.ClientID]*os.File
}

func newDirResolver(dir string) *dirResolver {
	return &dirResolver{
		dir:   dir,
		files: make(map[types.ClientID]*os.File),
	}
}

// Writer returns the client's frame stream, opening it if needed.
// Returns nil when the file cannot be opened; the delivery is dropped and
// counted as aborted by the sender.
func (r *dirResolver) Writer(client types.ClientID) io.Writer {
	r.mu.Lock()
	defer r.mu.Unlock()

	if f, ok := r.files[client]; ok {
		return f
	}

	path := filepath.Join(r.dir, client.String()+reader.FrameFileSuffix)
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil
	}
	r.files[client] = f
	return f
}

// Close closes every open frame stream.
func (r *dirResolver) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	var firstErr error
	for _, f := range r.files {
		if err := f.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	clear(r.files)
	return firstErr
}

var _ sender.ClientResolver = (*dirResolver)(nil)
