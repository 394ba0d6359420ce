package store

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	s3types "github.com/aws/aws-sdk-go-v2/service/s3/types"

	"github.com/meadowgrid/texserv/log"
	"github.com/meadowgrid/texserv/types"
)

// S3Config holds configuration for the S3 asset store.
type S3Config struct {
	// Bucket is the S3 bucket name (required).
	Bucket string
	// Prefix is the key prefix within the bucket (optional).
	Prefix string
	// Region is the AWS region (optional, uses default chain if empty).
	Region string
	// Endpoint is a custom S3 endpoint URL for S3-compatible providers
	// (e.g. Cloudflare R2, MinIO). Empty uses the default AWS endpoint.
	Endpoint string
	// UsePathStyle forces path-style addressing (bucket in path, not
	// subdomain). Required by most S3-compatible providers.
	UsePathStyle bool
	// Timeout is the per-attempt fetch timeout (default 10s).
	Timeout time.Duration
	// Retries is the number of retry attempts on transient failure
	// (default 2). Not-found is never retried.
	Retries int
}

// Validate checks that required S3 configuration is present.
func (c *S3Config) Validate() error {
	if c.Bucket == "" {
		return errors.New("S3 bucket is required")
	}
	return nil
}

// s3API is the slice of the S3 client the store uses. Tests substitute a
// stub implementation.
type s3API interface {
	GetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
}

// S3Store fetches asset payloads from an S3-compatible object store.
// Keys are formed as prefix/asset-uuid.
type S3Store struct {
	config S3Config
	client s3API
	log    *log.Logger
}

// NewS3Store creates an S3 asset store.
// Uses the AWS SDK default credential chain (env vars, shared config,
// IAM role).
func NewS3Store(ctx context.Context, cfg S3Config, logger *log.Logger) (*S3Store, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	var opts []func(*awsconfig.LoadOptions) error
	if cfg.Region != "" {
		opts = append(opts, awsconfig.WithRegion(cfg.Region))
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	var s3Opts []func(*s3.Options)
	if cfg.Endpoint != "" {
		endpoint := cfg.Endpoint
		s3Opts = append(s3Opts, func(o *s3.Options) {
			o.BaseEndpoint = &endpoint
		})
	}
	if cfg.UsePathStyle {
		s3Opts = append(s3Opts, func(o *s3.Options) {
			o.UsePathStyle = true
		})
	}

	return newS3StoreWithClient(cfg, s3.NewFromConfig(awsCfg, s3Opts...), logger), nil
}

// newS3StoreWithClient wires a store around an existing client.
func newS3StoreWithClient(cfg S3Config, client s3API, logger *log.Logger) *S3Store {
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultFetchTimeout
	}
	if cfg.Retries == 0 {
		cfg.Retries = DefaultRetries
	}
	if logger == nil {
		logger = log.NewNop()
	}
	return &S3Store{config: cfg, client: client, log: logger}
}

// key builds the object key for an asset.
func (s *S3Store) key(id types.AssetID) string {
	if s.config.Prefix == "" {
		return id.String()
	}
	return strings.TrimSuffix(s.config.Prefix, "/") + "/" + id.String()
}

// Fetch resolves the asset asynchronously. The callback fires exactly
// once: with the payload on success, or nil when the object is absent or
// the store gave up after retries.
func (s *S3Store) Fetch(id types.AssetID, cb FetchFunc) {
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

// get performs the GetObject with bounded retries and exponential backoff.
func (s *S3Store) get(ctx context.Context, id types.AssetID) ([]byte, error) {
	bucket := s.config.Bucket
	key := s.key(id)

	var lastErr error
	attempts := 1 + s.config.Retries

	for i := range attempts {
		if err := ctx.Err(); err != nil {
			return nil, newFetchError(ErrTimeout, "s3", id, err)
		}

		if i > 0 {
			if !sleepCtx(ctx, backoff(i)) {
				return nil, newFetchError(ErrTimeout, "s3", id, ctx.Err())
			}
		}

		getCtx, cancel := context.WithTimeout(ctx, s.config.Timeout)
		out, err := s.client.GetObject(getCtx, &s3.GetObjectInput{
			Bucket: &bucket,
			Key:    &key,
		})
		if err == nil {
			payload, readErr := io.ReadAll(out.Body)
			_ = out.Body.Close()
			cancel()
			if readErr == nil {
				return payload, nil
			}
			lastErr = newFetchError(classify(readErr), "s3", id, readErr)
			continue
		}
		cancel()

		var noKey *s3types.NoSuchKey
		if errors.As(err, &noKey) {
			return nil, newFetchError(ErrNotFound, "s3", id, nil)
		}

		lastErr = newFetchError(classify(err), "s3", id, err)
		if !retriable(lastErr) {
			return nil, lastErr
		}
	}

	return nil, fmt.Errorf("s3: failed after %d attempts: %w", attempts, lastErr)
}

var _ Fetcher = (*S3Store)(nil)
