package querycache

import (
	"os"
	"time"
)

// Config holds cache-wide defaults.
type Config struct {
	// DefaultTTL applies to subscriptions that do not set WithTTL.
	DefaultTTL time.Duration `yaml:"default_ttl"`
	// RetainFor is how long an entry without subscribers is kept for reuse.
	// Zero removes it as soon as the last subscriber leaves.
	RetainFor time.Duration `yaml:"retain_for"`
}

// Env constants for overriding cache defaults.
const (
	EnvDefaultTTL = "QUERYCACHE_DEFAULT_TTL"
	EnvRetainFor  = "QUERYCACHE_RETAIN_FOR"
)

// DefaultConfig returns the cache defaults used by the dashboard.
func DefaultConfig() *Config {
	return &Config{
		DefaultTTL: 30 * time.Second,
		RetainFor:  5 * time.Minute,
	}
}

// LoadConfigWithEnv applies environment overrides on top of DefaultConfig.
func LoadConfigWithEnv() *Config {
	cfg := DefaultConfig()
	ApplyEnv(cfg)
	return cfg
}

// ApplyEnv overrides cfg from the environment. Unparseable values are ignored.
func ApplyEnv(cfg *Config) {
	if v := os.Getenv(EnvDefaultTTL); v != "" {
		if d, err := time.ParseDuration(v); err == nil && d >= 0 {
			cfg.DefaultTTL = d
		}
	}
	if v := os.Getenv(EnvRetainFor); v != "" {
		if d, err := time.ParseDuration(v); err == nil && d >= 0 {
			cfg.RetainFor = d
		}
	}
}

type options struct {
	ttl             time.Duration
	refetchInterval time.Duration
	enabled         bool
	keepPrevious    bool
}

// Option configures a single subscription.
type Option func(*options)

// WithTTL sets how long fetched data counts as fresh.
func WithTTL(d time.Duration) Option {
	return func(o *options) { o.ttl = d }
}

// WithRefetchInterval asks for the key to be refetched every d while subscribed.
func WithRefetchInterval(d time.Duration) Option {
	return func(o *options) { o.refetchInterval = d }
}

// WithEnabled(false) registers the subscriber without triggering a fetch.
func WithEnabled(enabled bool) Option {
	return func(o *options) { o.enabled = enabled }
}

// WithKeepPreviousData keeps the current data visible while a refetch runs.
func WithKeepPreviousData() Option {
	return func(o *options) { o.keepPrevious = true }
}

func applyOptions(defaultTTL time.Duration, opts []Option) options {
	o := options{ttl: defaultTTL, enabled: true}
	for _, opt := range opts {
		opt(&o)
	}
	if o.ttl < 0 {
		o.ttl = 0
	}
	return o
}
