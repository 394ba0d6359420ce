package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/meadowgrid/texserv/log"
	"github.com/meadowgrid/texserv/types"
)

// DefaultKeyPrefix is the default Redis key prefix for asset payloads.
const DefaultKeyPrefix = "texserv:asset:"

// RedisConfig configures the Redis-backed asset store.
type RedisConfig struct {
	// URL is the Redis connection URL (required).
	// Format: redis://[:password@]host:port[/db]
	URL string
	// KeyPrefix is prepended to asset UUIDs to form keys
	// (default: texserv:asset:).
	KeyPrefix string
	// Timeout is the per-attempt fetch timeout (default 10s).
	Timeout time.Duration
	// Retries is the number of retry attempts on transient failure
	// (default 2). Not-found is never retried.
	Retries int
}

// RedisStore fetches asset payloads from Redis with GET.
type RedisStore struct {
	config RedisConfig
	client *goredis.Client
	log    *log.Logger
}

// NewRedisStore creates a Redis asset store from the given config.
// Returns an error if the URL is empty or invalid.
func NewRedisStore(cfg RedisConfig, logger *log.Logger) (*RedisStore, error) {
	if cfg.URL == "" {
		return nil, errors.New("redis store requires a URL")
	}

	opts, err := goredis.ParseURL(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("redis store: invalid URL: %w", err)
	}

	if cfg.KeyPrefix == "" {
		cfg.KeyPrefix = DefaultKeyPrefix
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultFetchTimeout
	}
	if cfg.Retries < 0 {
		return nil, fmt.Errorf("retries must be >= 0, got %d", cfg.Retries)
	}
	if cfg.Retries == 0 {
		cfg.Retries = DefaultRetries
	}
	if logger == nil {
		logger = log.NewNop()
	}

	return &RedisStore{
		config: cfg,
		client: goredis.NewClient(opts),
		log:    logger,
	}, nil
}

// Fetch resolves the asset asynchronously. The callback fires exactly
// once: with the payload on success, or nil when the key is absent or the
// store gave up after retries.
func (s *RedisStore) Fetch(id types.AssetID, cb FetchFunc) {
	go func() {
		payload, err := s.get(context.Background(), id)
		if err != nil {
			if !errors.Is(err, ErrNotFound) {
				s.log.Error("asset fetch failed", map[string]any{
					"asset": id.String(),
					"error": err.Error(),
				})
			}
			cb(id, nil)
			return
		}
		cb(id, payload)
	}()
}

// get performs the GET with bounded retries and exponential backoff.
func (s *RedisStore) get(ctx context.Context, id types.AssetID) ([]byte, error) {
	key := s.config.KeyPrefix + id.String()

	var lastErr error
	// attempts = 1 initial + retries
	attempts := 1 + s.config.Retries

	for i := range attempts {
		if err := ctx.Err(); err != nil {
			return nil, newFetchError(ErrTimeout, "redis", id, err)
		}

		// Exponential backoff before retries (not before first attempt)
		if i > 0 {
			if !sleepCtx(ctx, backoff(i)) {
				return nil, newFetchError(ErrTimeout, "redis", id, ctx.Err())
			}
		}

		getCtx, cancel := context.WithTimeout(ctx, s.config.Timeout)
		payload, err := s.client.Get(getCtx, key).Bytes()
		cancel()

		if err == nil {
			return payload, nil
		}
		if errors.Is(err, goredis.Nil) {
			return nil, newFetchError(ErrNotFound, "redis", id, nil)
		}

		lastErr = newFetchError(classify(err), "redis", id, err)
		if !retriable(lastErr) {
			return nil, lastErr
		}
	}

	return nil, fmt.Errorf("redis: failed after %d attempts: %w", attempts, lastErr)
}

// Close releases the underlying client.
func (s *RedisStore) Close() error {
	return s.client.Close()
}

var _ Fetcher = (*RedisStore)(nil)
