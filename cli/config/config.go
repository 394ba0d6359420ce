package config

import (
	"fmt"
	"time"
)

// Config represents a texserv.yaml configuration file.
// All values are optional and act as defaults for texserv run flags.
// CLI flags always override config values.
type Config struct {
	NodeID string       `yaml:"node_id"`
	Store  StoreConfig  `yaml:"store"`
	Sender SenderConfig `yaml:"sender"`
}

// StoreConfig selects and configures the backing asset store.
type StoreConfig struct {
	// Backend is one of: memory, redis, s3 (default memory).
	Backend string `yaml:"backend"`
	// FetchTimeout bounds one fetch attempt against a remote backend.
	FetchTimeout Duration `yaml:"fetch_timeout"`
	// Retries is the retry count for transient remote failures.
	Retries int `yaml:"retries"`

	Redis RedisConfig `yaml:"redis"`
	S3    S3Config    `yaml:"s3"`
}

// RedisConfig holds redis backend settings.
type RedisConfig struct {
	URL       string `yaml:"url"`
	KeyPrefix string `yaml:"key_prefix"`
}

// S3Config holds s3 backend settings.
type S3Config struct {
	Bucket      string `yaml:"bucket"`
	Prefix      string `yaml:"prefix"`
	Region      string `yaml:"region"`
	Endpoint    string `yaml:"endpoint"`
	S3PathStyle bool   `yaml:"s3_path_style"`
}

// SenderConfig holds packet sender settings.
type SenderConfig struct {
	// Workers is the number of concurrent queue consumers (default 2).
	Workers int `yaml:"workers"`
	// FirstPacketSize is the first data packet size in bytes.
	FirstPacketSize int `yaml:"first_packet_size"`
	// PacketSize is the follow-on data packet size in bytes.
	PacketSize int `yaml:"packet_size"`
}

// Validate checks cross-field constraints and fills defaults.
func (c *Config) Validate() error {
	switch c.Store.Backend {
	case "":
		c.Store.Backend = "memory"
	case "memory", "redis", "s3":
	default:
		return fmt.Errorf("unknown store backend %q (must be memory, redis, or s3)", c.Store.Backend)
	}

	if c.Store.Backend == "redis" && c.Store.Redis.URL == "" {
		return fmt.Errorf("store backend redis requires store.redis.url")
	}
	if c.Store.Backend == "s3" && c.Store.S3.Bucket == "" {
		return fmt.Errorf("store backend s3 requires store.s3.bucket")
	}

	if c.Sender.Workers < 0 {
		return fmt.Errorf("sender workers must be >= 0, got %d", c.Sender.Workers)
	}
	if c.Sender.Workers == 0 {
		c.Sender.Workers = 2
	}
	return nil
}

// Duration wraps time.Duration for YAML string parsing (e.g. "10s", "5m").
type Duration struct {
	time.Duration
}

// UnmarshalYAML parses a duration string like "10s" or "5m30s".
func (d *Duration) UnmarshalYAML(unmarshal func(any) error) error {
	var s string
	if err := unmarshal(&s); err != nil {
		return err
	}
	if s == "" {
		return nil
	}
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", s, err)
	}
	d.Duration = parsed
	return nil
}
