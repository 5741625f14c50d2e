package eventbus

import (
	"context"
	"sync"

	"github.com/rs/zerolog"
)

// Hub connects in-process buses. Every bus attached to the same hub sees the events
// the others publish.
type Hub struct {
	mu   sync.RWMutex
	subs map[*memorySub]struct{}
}

// NewHub creates an empty hub.
func NewHub() *Hub {
	return &Hub{subs: make(map[*memorySub]struct{})}
}

type memorySub struct {
	origin  string
	handler Handler
	events  chan Event
	done    <-chan struct{}
}

// InMemoryBus is a Bus attached to a Hub. It suits a single process and tests.
type InMemoryBus struct {
	hub    *Hub
	origin string
	logger zerolog.Logger

	mu     sync.Mutex
	subs   []*memorySub
	closed bool
	cancel context.CancelFunc
	ctx    context.Context
	wg     sync.WaitGroup
}

// NewInMemoryBus attaches a bus for origin to hub.
func NewInMemoryBus(hub *Hub, origin string, logger zerolog.Logger) *InMemoryBus {
	ctx, cancel := context.WithCancel(context.Background())
	return &InMemoryBus{
		hub:    hub,
		origin: origin,
		logger: logger.With().Str("component", "InMemoryBus").Str("origin", origin).Logger(),
		ctx:    ctx,
		cancel: cancel,
	}
}

// Origin returns the instance name the bus was created with.
func (b *InMemoryBus) Origin() string { return b.origin }

// Publish hands e to every subscriber on the hub except this bus's own.
func (b *InMemoryBus) Publish(ctx context.Context, e Event) error {
	b.mu.Lock()
	closed := b.closed
	b.mu.Unlock()
	if closed {
		return ErrClosed
	}
	if err := e.validate(); err != nil {
		return err
	}

	b.hub.mu.RLock()
	targets := make([]*memorySub, 0, len(b.hub.subs))
	for sub := range b.hub.subs {
		if sub.origin != e.Origin {
			targets = append(targets, sub)
		}
	}
	b.hub.mu.RUnlock()

	for _, sub := range targets {
		select {
		case sub.events <- e:
		case <-sub.done:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return nil
}

// Subscribe starts delivering peer events to h until the bus is closed.
func (b *InMemoryBus) Subscribe(_ context.Context, h Handler) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return ErrClosed
	}
	sub := &memorySub{origin: b.origin, handler: h, events: make(chan Event, 64), done: b.ctx.Done()}
	b.subs = append(b.subs, sub)

	b.hub.mu.Lock()
	b.hub.subs[sub] = struct{}{}
	b.hub.mu.Unlock()

	b.wg.Add(1)
	go func() {
		defer b.wg.Done()
		for {
			select {
			case e := <-sub.events:
				b.logger.Debug().Str("mutation", e.MutationType).Str("from", e.Origin).Msg("Event received")
				h(b.ctx, e)
			case <-b.ctx.Done():
				return
			}
		}
	}()
	return nil
}

// Close detaches the bus from the hub and stops delivery.
func (b *InMemoryBus) Close() error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil
	}
	b.closed = true
	subs := b.subs
	b.subs = nil
	b.mu.Unlock()

	b.hub.mu.Lock()
	for _, sub := range subs {
		delete(b.hub.subs, sub)
	}
	b.hub.mu.Unlock()

	b.cancel()
	b.wg.Wait()
	return nil
}
