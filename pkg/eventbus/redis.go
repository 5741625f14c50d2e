package eventbus

import (
	"context"
	"fmt"
	"sync"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

// DefaultRedisChannel is the channel mutation events are published on.
const DefaultRedisChannel = "dashsync:mutations"

// RedisConfig holds the configuration for the Redis bus.
type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
	Channel  string `yaml:"channel"`
}

// RedisBus fans events out over a Redis pub/sub channel. Every instance subscribed to
// the channel receives every event, which suits cache invalidation: a missed event
// only delays a refetch until the next interval.
type RedisBus struct {
	rdb     *redis.Client
	channel string
	origin  string
	logger  zerolog.Logger

	mu     sync.Mutex
	subs   []*redis.PubSub
	closed bool
	wg     sync.WaitGroup
}

// NewRedisBus connects to Redis and pings it before returning.
func NewRedisBus(ctx context.Context, cfg *RedisConfig, origin string, logger zerolog.Logger) (*RedisBus, error) {
	if origin == "" {
		return nil, fmt.Errorf("redis bus requires an origin")
	}
	channel := cfg.Channel
	if channel == "" {
		channel = DefaultRedisChannel
	}
	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	logger.Info().Str("redis_address", cfg.Addr).Str("channel", channel).Msg("Successfully connected to Redis.")

	return &RedisBus{
		rdb:     rdb,
		channel: channel,
		origin:  origin,
		logger:  logger.With().Str("component", "RedisBus").Str("origin", origin).Logger(),
	}, nil
}

// Origin returns the instance name the bus was created with.
func (b *RedisBus) Origin() string { return b.origin }

// Publish sends e on the channel.
func (b *RedisBus) Publish(ctx context.Context, e Event) error {
	b.mu.Lock()
	closed := b.closed
	b.mu.Unlock()
	if closed {
		return ErrClosed
	}
	payload, err := encode(e)
	if err != nil {
		return err
	}
	if err := b.rdb.Publish(ctx, b.channel, payload).Err(); err != nil {
		return fmt.Errorf("failed to publish event: %w", err)
	}
	return nil
}

// Subscribe waits for the channel subscription to be confirmed, then delivers peer
// events to h in a background goroutine until the bus is closed.
func (b *RedisBus) Subscribe(ctx context.Context, h Handler) error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return ErrClosed
	}
	b.mu.Unlock()

	ps := b.rdb.Subscribe(ctx, b.channel)
	if _, err := ps.Receive(ctx); err != nil {
		_ = ps.Close()
		return fmt.Errorf("failed to subscribe to %s: %w", b.channel, err)
	}

	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		_ = ps.Close()
		return ErrClosed
	}
	b.subs = append(b.subs, ps)
	b.wg.Add(1)
	b.mu.Unlock()

	go func() {
		defer b.wg.Done()
		for msg := range ps.Channel() {
			e, err := decode([]byte(msg.Payload))
			if err != nil {
				b.logger.Warn().Err(err).Msg("Dropping malformed event")
				continue
			}
			if e.Origin == b.origin {
				continue
			}
			b.logger.Debug().Str("mutation", e.MutationType).Str("from", e.Origin).Msg("Event received")
			h(context.Background(), e)
		}
	}()
	return nil
}

// Close ends every subscription and closes the client.
func (b *RedisBus) Close() error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil
	}
	b.closed = true
	subs := b.subs
	b.subs = nil
	b.mu.Unlock()

	for _, ps := range subs {
		if err := ps.Close(); err != nil {
			b.logger.Warn().Err(err).Msg("Error closing subscription")
		}
	}
	b.wg.Wait()
	return b.rdb.Close()
}
