// Package main runs the dashboard sync service: it keeps the dashboard panels in
// sync with the analytics service and serves them over HTTP.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"cloud.google.com/go/pubsub"
	"github.com/google/uuid"
	"github.com/illmade-knight/go-dashsync/pkg/analytics"
	"github.com/illmade-knight/go-dashsync/pkg/dashboard"
	"github.com/illmade-knight/go-dashsync/pkg/eventbus"
	"github.com/illmade-knight/go-dashsync/pkg/fetcher"
	"github.com/illmade-knight/go-dashsync/pkg/microservice"
	"github.com/illmade-knight/go-dashsync/pkg/querycache"
	"github.com/illmade-knight/go-dashsync/pkg/scheduler"
	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog"
	"google.golang.org/api/option"
)

const shutdownTimeout = 15 * time.Second

func main() {
	configPath := flag.String("config", os.Getenv(microservice.EnvConfigFile), "path to the YAML configuration file")
	flag.Parse()

	cfg, err := microservice.LoadConfig(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config: %v\n", err)
		os.Exit(1)
	}
	logger := newLogger(&cfg.BaseConfig, os.Stderr)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger); err != nil {
		logger.Fatal().Err(err).Msg("Dashboard service failed.")
	}
}

func newLogger(cfg *microservice.BaseConfig, out io.Writer) zerolog.Logger {
	level, err := zerolog.ParseLevel(cfg.LogLevel)
	if err != nil || cfg.LogLevel == "" {
		level = zerolog.InfoLevel
	}
	if cfg.LogFormat != "json" {
		out = zerolog.ConsoleWriter{Out: out, TimeFormat: time.RFC3339}
	}
	return zerolog.New(out).Level(level).With().Timestamp().Str("service", cfg.ServiceName).Logger()
}

func run(ctx context.Context, cfg *microservice.Config, logger zerolog.Logger) error {
	if cfg.InstanceID == "" {
		cfg.InstanceID = uuid.NewString()
	}
	logger = logger.With().Str("instance_id", cfg.InstanceID).Logger()

	f, err := fetcher.New(&cfg.Analytics, nil, logger)
	if err != nil {
		return err
	}
	client, err := analytics.NewClient(f, logger)
	if err != nil {
		return err
	}

	clock := clockwork.NewRealClock()
	sched := scheduler.New(clock, logger)
	defer sched.Stop()

	cache, err := querycache.New(&cfg.Cache, client.Query, sched, clock, logger)
	if err != nil {
		return err
	}
	defer func() { _ = cache.Close() }()

	bus, err := newBus(ctx, &cfg.EventBus, cfg.InstanceID, logger)
	if err != nil {
		return fmt.Errorf("event bus: %w", err)
	}
	if bus != nil {
		defer func() {
			if err := bus.Close(); err != nil {
				logger.Warn().Err(err).Msg("Event bus did not close cleanly.")
			}
		}()
	}

	dash, err := dashboard.New(&cfg.Dashboard, cache, client, bus, clock, logger)
	if err != nil {
		return err
	}
	server, err := microservice.NewDashboardServer(&cfg.BaseConfig, dash, logger)
	if err != nil {
		return err
	}
	if err := server.Start(ctx); err != nil {
		return err
	}
	logger.Info().Str("port", server.GetHTTPPort()).Str("transport", cfg.EventBus.Transport).Msg("Dashboard service started.")

	<-ctx.Done()
	logger.Info().Msg("Shutting down.")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	return server.Shutdown(shutdownCtx)
}

// newBus connects the configured transport. It returns a nil Bus for the "none"
// transport.
func newBus(ctx context.Context, cfg *microservice.EventBusConfig, origin string, logger zerolog.Logger) (eventbus.Bus, error) {
	switch cfg.Transport {
	case microservice.TransportNone, "":
		return nil, nil
	case microservice.TransportMemory:
		return eventbus.NewInMemoryBus(eventbus.NewHub(), origin, logger), nil
	case microservice.TransportRedis:
		return eventbus.NewRedisBus(ctx, &cfg.Redis, origin, logger)
	case microservice.TransportPubsub:
		var opts []option.ClientOption
		if cfg.Pubsub.CredentialsFile != "" {
			opts = append(opts, option.WithCredentialsFile(cfg.Pubsub.CredentialsFile))
		}
		client, err := pubsub.NewClient(ctx, cfg.Pubsub.ProjectID, opts...)
		if err != nil {
			return nil, fmt.Errorf("pubsub client: %w", err)
		}
		bus, err := eventbus.NewGooglePubsubBus(ctx, &cfg.Pubsub, client, origin, logger)
		if err != nil {
			_ = client.Close()
			return nil, err
		}
		return &ownedClientBus{Bus: bus, client: client}, nil
	default:
		return nil, fmt.Errorf("unknown transport %q", cfg.Transport)
	}
}

// ownedClientBus closes the Pub/Sub client together with the bus built on it.
type ownedClientBus struct {
	eventbus.Bus
	client *pubsub.Client
}

func (b *ownedClientBus) Close() error {
	return errors.Join(b.Bus.Close(), b.client.Close())
}
