package microservice

import (
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/illmade-knight/go-dashsync/pkg/dashboard"
	"github.com/illmade-knight/go-dashsync/pkg/eventbus"
	"github.com/illmade-knight/go-dashsync/pkg/fetcher"
	"github.com/illmade-knight/go-dashsync/pkg/querycache"
	"gopkg.in/yaml.v3"
)

// Event bus transports.
const (
	TransportNone   = "none"
	TransportMemory = "memory"
	TransportRedis  = "redis"
	TransportPubsub = "pubsub"
)

// EventBusConfig selects how mutation events reach the other instances.
type EventBusConfig struct {
	Transport string                      `yaml:"transport"`
	Redis     eventbus.RedisConfig        `yaml:"redis"`
	Pubsub    eventbus.GooglePubsubConfig `yaml:"pubsub"`
}

// Config is the whole process configuration.
type Config struct {
	BaseConfig `yaml:",inline"`
	Analytics  fetcher.Config    `yaml:"analytics"`
	Cache      querycache.Config `yaml:"cache"`
	Dashboard  dashboard.Config  `yaml:"dashboard"`
	EventBus   EventBusConfig    `yaml:"event_bus"`
}

// Env constants for the process-level settings.
const (
	EnvConfigFile      = "DASHSYNC_CONFIG"
	EnvLogLevel        = "LOG_LEVEL"
	EnvLogFormat       = "LOG_FORMAT"
	EnvHTTPPort        = "HTTP_PORT"
	EnvInstanceID      = "INSTANCE_ID"
	EnvBusTransport    = "EVENT_BUS_TRANSPORT"
	EnvRedisAddr       = "REDIS_ADDR"
	EnvRedisPassword   = "REDIS_PASSWORD"
	EnvPubsubProjectID = "PUBSUB_PROJECT_ID"
	EnvPubsubTopicID   = "PUBSUB_TOPIC_ID"
	EnvCredentialsFile = "GOOGLE_APPLICATION_CREDENTIALS"
)

// DefaultConfig returns a configuration that runs a single instance against a local
// analytics service.
func DefaultConfig() *Config {
	return &Config{
		BaseConfig: BaseConfig{
			LogLevel:    "info",
			LogFormat:   "console",
			HTTPPort:    ":8080",
			ServiceName: "dashsync",
		},
		Analytics: *fetcher.DefaultConfig(),
		Cache:     *querycache.DefaultConfig(),
		Dashboard: *dashboard.DefaultConfig(),
		EventBus: EventBusConfig{
			Transport: TransportNone,
			Redis:     eventbus.RedisConfig{Addr: "localhost:6379", Channel: eventbus.DefaultRedisChannel},
			Pubsub:    eventbus.GooglePubsubConfig{TopicID: "dashsync-mutations"},
		},
	}
}

// LoadConfig reads the YAML file at path over the defaults, then applies the
// environment. An empty path skips the file.
func LoadConfig(path string) (*Config, error) {
	cfg := DefaultConfig()
	if path != "" {
		f, err := os.Open(path)
		if err != nil {
			return nil, fmt.Errorf("failed to open config file: %w", err)
		}
		defer func() { _ = f.Close() }()
		if err := DecodeConfig(f, cfg); err != nil {
			return nil, fmt.Errorf("failed to read %s: %w", path, err)
		}
	}
	cfg.ApplyEnv()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// DecodeConfig decodes YAML from r into cfg. Unknown fields are an error.
func DecodeConfig(r io.Reader, cfg *Config) error {
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return err
	}
	return nil
}

// ApplyEnv overrides cfg from the environment.
func (c *Config) ApplyEnv() {
	setString := func(dst *string, env string) {
		if v := os.Getenv(env); v != "" {
			*dst = v
		}
	}
	setString(&c.LogLevel, EnvLogLevel)
	setString(&c.LogFormat, EnvLogFormat)
	setString(&c.HTTPPort, EnvHTTPPort)
	setString(&c.InstanceID, EnvInstanceID)
	setString(&c.EventBus.Transport, EnvBusTransport)
	setString(&c.EventBus.Redis.Addr, EnvRedisAddr)
	setString(&c.EventBus.Redis.Password, EnvRedisPassword)
	setString(&c.EventBus.Pubsub.ProjectID, EnvPubsubProjectID)
	setString(&c.EventBus.Pubsub.TopicID, EnvPubsubTopicID)
	setString(&c.EventBus.Pubsub.CredentialsFile, EnvCredentialsFile)

	fetcher.ApplyEnv(&c.Analytics)
	querycache.ApplyEnv(&c.Cache)
	dashboard.ApplyEnv(&c.Dashboard)
}

// Validate checks the settings that would otherwise fail late.
func (c *Config) Validate() error {
	if c.HTTPPort == "" {
		return errors.New("http_port is required")
	}
	if strings.TrimSpace(c.Analytics.BaseURL) == "" {
		return errors.New("analytics.base_url is required")
	}
	switch c.EventBus.Transport {
	case "", TransportNone, TransportMemory:
	case TransportRedis:
		if c.EventBus.Redis.Addr == "" {
			return errors.New("event_bus.redis.addr is required for the redis transport")
		}
	case TransportPubsub:
		if c.EventBus.Pubsub.ProjectID == "" || c.EventBus.Pubsub.TopicID == "" {
			return errors.New("event_bus.pubsub needs project_id and topic_id")
		}
	default:
		return fmt.Errorf("unknown event bus transport %q", c.EventBus.Transport)
	}
	return nil
}
