package microservice_test

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/illmade-knight/go-dashsync/pkg/microservice"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sampleConfig = `
log_level: debug
http_port: ":9090"
service_name: dashsync-test
analytics:
  base_url: http://analytics:8000/api
  timeout: 10s
  max_retries: 4
cache:
  default_ttl: 45s
dashboard:
  overview_refetch: 2m
  timezone: Asia/Riyadh
event_bus:
  transport: redis
  redis:
    addr: redis:6379
`

func TestLoadConfig(t *testing.T) {
	t.Run("Defaults without a file", func(t *testing.T) {
		cfg, err := microservice.LoadConfig("")

		require.NoError(t, err)
		assert.Equal(t, ":8080", cfg.HTTPPort)
		assert.Equal(t, 30*time.Second, cfg.Analytics.Timeout)
		assert.Equal(t, 5*time.Minute, cfg.Dashboard.OverviewRefetch)
		assert.Equal(t, microservice.TransportNone, cfg.EventBus.Transport)
	})

	t.Run("File values override defaults and keep the rest", func(t *testing.T) {
		// Arrange
		path := filepath.Join(t.TempDir(), "dashsync.yaml")
		require.NoError(t, os.WriteFile(path, []byte(sampleConfig), 0o600))

		// Act
		cfg, err := microservice.LoadConfig(path)

		// Assert
		require.NoError(t, err)
		assert.Equal(t, "debug", cfg.LogLevel)
		assert.Equal(t, ":9090", cfg.HTTPPort)
		assert.Equal(t, "http://analytics:8000/api", cfg.Analytics.BaseURL)
		assert.Equal(t, 10*time.Second, cfg.Analytics.Timeout)
		assert.Equal(t, 4, cfg.Analytics.MaxRetries)
		assert.Equal(t, 45*time.Second, cfg.Cache.DefaultTTL)
		assert.Equal(t, 5*time.Minute, cfg.Cache.RetainFor)
		assert.Equal(t, 2*time.Minute, cfg.Dashboard.OverviewRefetch)
		assert.Equal(t, 10*time.Minute, cfg.Dashboard.TrendsRefetch)
		assert.Equal(t, "Asia/Riyadh", cfg.Dashboard.Timezone)
		assert.Equal(t, "redis:6379", cfg.EventBus.Redis.Addr)
	})

	t.Run("Environment wins over the file", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "dashsync.yaml")
		require.NoError(t, os.WriteFile(path, []byte(sampleConfig), 0o600))
		t.Setenv(microservice.EnvHTTPPort, ":7070")
		t.Setenv("ANALYTICS_API_URL", "http://override/api")
		t.Setenv(microservice.EnvRedisAddr, "other:6379")

		cfg, err := microservice.LoadConfig(path)

		require.NoError(t, err)
		assert.Equal(t, ":7070", cfg.HTTPPort)
		assert.Equal(t, "http://override/api", cfg.Analytics.BaseURL)
		assert.Equal(t, "other:6379", cfg.EventBus.Redis.Addr)
	})

	t.Run("Unknown fields and transports are rejected", func(t *testing.T) {
		cfg := microservice.DefaultConfig()
		err := microservice.DecodeConfig(strings.NewReader("dashbord:\n  posts_limit: 5\n"), cfg)
		assert.Error(t, err)

		cfg = microservice.DefaultConfig()
		cfg.EventBus.Transport = "carrier-pigeon"
		assert.Error(t, cfg.Validate())

		cfg = microservice.DefaultConfig()
		cfg.EventBus.Transport = microservice.TransportPubsub
		assert.Error(t, cfg.Validate())
	})

	t.Run("Missing file", func(t *testing.T) {
		_, err := microservice.LoadConfig(filepath.Join(t.TempDir(), "missing.yaml"))
		assert.Error(t, err)
	})
}
