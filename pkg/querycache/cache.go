// Package querycache keeps the dashboard's parameterized reads consistent.
//
// Every read is addressed by a Key. The Cache deduplicates concurrent fetches of the
// same Key, applies responses strictly in generation order, serves stale data while a
// refetch runs, and arms periodic refetch timers for as long as a key has subscribers.
// All entry mutations go through the Cache; the Invalidator, the Scheduler callbacks
// and DependentQuery only ever call its methods.
package querycache

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"github.com/illmade-knight/go-dashsync/pkg/scheduler"
	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog"
)

// ErrClosed is returned by Subscribe after Close.
var ErrClosed = errors.New("query cache is closed")

// QueryFunc retrieves the data for a key. The context is cancelled when the fetch is
// superseded by a newer one or the cache is closed.
type QueryFunc func(ctx context.Context, key Key) (any, error)

// Subscription is the handle returned by Subscribe.
type Subscription struct {
	ID   uuid.UUID
	Key  Key
	once sync.Once
	c    *Cache
}

// Unsubscribe removes the subscriber. It is safe to call more than once.
func (s *Subscription) Unsubscribe() {
	s.once.Do(func() { s.c.unsubscribe(s) })
}

type notification struct {
	listeners []Listener
	snap      Snapshot
}

// Cache is the single registry of query entries. Create one per application with New
// and pass it explicitly to the components that need it.
type Cache struct {
	cfg    Config
	fetch  QueryFunc
	sched  *scheduler.Scheduler
	clock  clockwork.Clock
	logger zerolog.Logger

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu         sync.Mutex
	entries    map[Key]*entry
	closed     bool
	nextRemove uint64
	// lastVersion feeds entry versions, so a version is never reused for a key, even
	// after its entry is removed and created again.
	lastVersion uint64

	dispatchMu  sync.Mutex
	pending     []notification
	dispatching bool
}

// New creates a Cache. The scheduler is shared with the caller, who owns its lifecycle.
func New(
	cfg *Config,
	fetch QueryFunc,
	sched *scheduler.Scheduler,
	clock clockwork.Clock,
	logger zerolog.Logger,
) (*Cache, error) {
	if cfg == nil {
		return nil, errors.New("querycache config cannot be nil")
	}
	if fetch == nil {
		return nil, errors.New("query function cannot be nil")
	}
	if sched == nil {
		return nil, errors.New("scheduler cannot be nil")
	}
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Cache{
		cfg:     *cfg,
		fetch:   fetch,
		sched:   sched,
		clock:   clock,
		logger:  logger.With().Str("component", "QueryCache").Logger(),
		ctx:     ctx,
		cancel:  cancel,
		entries: make(map[Key]*entry),
	}, nil
}

// Get returns a snapshot of the entry for key.
func (c *Cache) Get(key Key) (Snapshot, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.entries[key]
	if !ok {
		return Snapshot{}, false
	}
	return e.snapshot(c.clock.Now()), true
}

// Snapshots returns every live entry, in no particular order.
func (c *Cache) Snapshots() []Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()
	now := c.clock.Now()
	out := make([]Snapshot, 0, len(c.entries))
	for _, e := range c.entries {
		out = append(out, e.snapshot(now))
	}
	return out
}

// Len returns the number of live entries.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

// Subscribe registers listener for key, creating the entry if needed. A fetch is
// issued when the entry is new, stale, past its TTL or failed, unless one is already
// in flight or the subscription is disabled.
func (c *Cache) Subscribe(key Key, listener Listener, opts ...Option) (*Subscription, error) {
	o := applyOptions(c.cfg.DefaultTTL, opts)

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil, ErrClosed
	}
	e, ok := c.entries[key]
	if !ok {
		e = newEntry(key, o.ttl)
		c.entries[key] = e
	}
	c.cancelRemovalLocked(e)

	sub := &subscriber{
		id:              uuid.New(),
		listener:        listener,
		ttl:             o.ttl,
		refetchInterval: o.refetchInterval,
		keepPrevious:    o.keepPrevious,
	}
	e.subscribers[sub.id] = sub
	e.order = append(e.order, sub.id)
	e.ttl = o.ttl
	c.rearmLocked(e)

	if o.enabled && !e.inFlight && c.needsFetchLocked(e) {
		c.startFetchLocked(e)
	}
	c.mu.Unlock()
	c.drain()

	c.logger.Debug().Str("key", key.String()).Str("subscription_id", sub.id.String()).Msg("Subscribed.")
	return &Subscription{ID: sub.id, Key: key, c: c}, nil
}

// Unsubscribe removes the subscriber behind s.
func (c *Cache) Unsubscribe(s *Subscription) {
	if s != nil {
		s.Unsubscribe()
	}
}

func (c *Cache) unsubscribe(s *Subscription) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.entries[s.Key]
	if !ok || !e.removeSubscriber(s.ID) {
		return
	}
	if len(e.subscribers) > 0 {
		c.rearmLocked(e)
		return
	}

	c.sched.Disarm(e.key.String())
	e.interval = 0
	// An in-flight fetch keeps running; complete discards its result.
	if c.cfg.RetainFor <= 0 {
		delete(c.entries, e.key)
		c.logger.Debug().Str("key", e.key.String()).Msg("Removed entry without subscribers.")
		return
	}
	c.nextRemove++
	token := c.nextRemove
	e.removeToken = token
	e.removeTimer = c.clock.AfterFunc(c.cfg.RetainFor, func() { c.remove(e.key, token) })
}

func (c *Cache) remove(key Key, token uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.entries[key]
	if !ok || e.removeToken != token || len(e.subscribers) > 0 {
		return
	}
	delete(c.entries, key)
	c.logger.Debug().Str("key", key.String()).Msg("Retention elapsed, removed entry.")
}

func (c *Cache) cancelRemovalLocked(e *entry) {
	if e.removeTimer != nil {
		e.removeTimer.Stop()
		e.removeTimer = nil
	}
	e.removeToken = 0
}

// Refetch forces a fetch for key, superseding any fetch in flight. Without
// subscribers the entry is only marked stale. It reports whether a fetch was issued.
func (c *Cache) Refetch(key Key) bool {
	c.mu.Lock()
	e, ok := c.entries[key]
	if !ok || c.closed {
		c.mu.Unlock()
		return false
	}
	issued := c.invalidateLocked(e)
	c.mu.Unlock()
	c.drain()
	return issued
}

// Invalidate marks every entry matching p stale. Entries with subscribers refetch
// immediately, bypassing their TTL; the others refetch on their next Subscribe.
// It returns the number of matching entries.
func (c *Cache) Invalidate(p Pattern) int {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return 0
	}
	matched, refetched := 0, 0
	for key, e := range c.entries {
		if !p.Matches(key) {
			continue
		}
		matched++
		if c.invalidateLocked(e) {
			refetched++
		}
	}
	c.mu.Unlock()
	c.drain()

	c.logger.Debug().Str("pattern", p.String()).Int("matched", matched).Int("refetched", refetched).Msg("Invalidated entries.")
	return matched
}

func (c *Cache) invalidateLocked(e *entry) bool {
	if len(e.subscribers) > 0 {
		e.status = StatusStale
		c.enqueueLocked(e)
		c.startFetchLocked(e)
		return true
	}
	if e.inFlight {
		// Supersede the fetch so its pre-invalidation result is never applied.
		e.generation++
		c.settleLocked(e)
		c.restoreLocked(e)
	}
	e.status = StatusStale
	return false
}

// scheduledRefetch is the Scheduler callback for key.
func (c *Cache) scheduledRefetch(key Key) {
	c.mu.Lock()
	e, ok := c.entries[key]
	if !ok || c.closed || len(e.subscribers) == 0 {
		c.mu.Unlock()
		return
	}
	if e.inFlight {
		c.mu.Unlock()
		return
	}
	e.status = StatusStale
	c.startFetchLocked(e)
	c.mu.Unlock()
	c.drain()
	c.logger.Debug().Str("key", key.String()).Msg("Scheduled refetch issued.")
}

// Close cancels every timer and in-flight fetch and drops all entries.
// It waits for fetch goroutines to return.
func (c *Cache) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	for key, e := range c.entries {
		c.sched.Disarm(key.String())
		c.cancelRemovalLocked(e)
		if e.cancel != nil {
			e.cancel()
		}
		delete(c.entries, key)
	}
	c.mu.Unlock()

	c.cancel()
	c.wg.Wait()
	c.logger.Info().Msg("Query cache closed.")
	return nil
}

func (c *Cache) needsFetchLocked(e *entry) bool {
	switch e.status {
	case StatusIdle, StatusStale, StatusError:
		return true
	case StatusFresh:
		return e.expired(c.clock.Now())
	default:
		return false
	}
}

// rearmLocked keeps the scheduler timer in line with the subscribers' intervals.
func (c *Cache) rearmLocked(e *entry) {
	interval := e.minInterval()
	if interval == e.interval {
		return
	}
	e.interval = interval
	if interval <= 0 {
		c.sched.Disarm(e.key.String())
		return
	}
	key := e.key
	c.sched.Arm(key.String(), interval, func(string) { c.scheduledRefetch(key) })
}

// startFetchLocked issues a new generation for e, superseding any fetch in flight.
func (c *Cache) startFetchLocked(e *entry) {
	if e.cancel != nil {
		e.cancel()
	}
	e.generation++
	gen := e.generation

	ctx, cancel := context.WithCancel(c.ctx)
	e.cancel = cancel
	e.inFlight = true
	if e.hasData && !e.keepPrevious() {
		e.data = nil
		e.hasData = false
		c.bumpVersionLocked(e)
	}
	e.status = StatusFetching
	c.enqueueLocked(e)

	c.logger.Debug().Str("key", e.key.String()).Uint64("generation", gen).Msg("Fetch issued.")

	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		defer cancel()
		data, err := c.fetch(ctx, e.key)
		c.complete(e, gen, data, err)
	}()
}

// complete applies a fetch result if, and only if, it belongs to the entry's current
// generation and someone is still subscribed.
func (c *Cache) complete(e *entry, gen uint64, data any, err error) {
	c.mu.Lock()
	if c.closed || c.entries[e.key] != e || e.generation != gen {
		c.mu.Unlock()
		c.logger.Debug().Str("key", e.key.String()).Uint64("generation", gen).Msg("Discarding superseded response.")
		return
	}
	c.settleLocked(e)

	if len(e.subscribers) == 0 {
		c.restoreLocked(e)
		if e.hasData {
			e.status = StatusStale
		} else {
			e.status = StatusIdle
		}
		c.mu.Unlock()
		c.logger.Debug().Str("key", e.key.String()).Msg("Discarding response for key without subscribers.")
		return
	}

	if err != nil {
		c.restoreLocked(e)
		e.status = StatusError
		e.err = fmt.Errorf("fetch %s: %w", e.key, err)
		c.logger.Warn().Err(err).Str("key", e.key.String()).Bool("has_data", e.hasData).Msg("Fetch failed, keeping last good data.")
	} else {
		e.data = data
		e.hasData = true
		e.lastGood = data
		e.hasLastGood = true
		c.bumpVersionLocked(e)
		e.status = StatusFresh
		e.fetchedAt = c.clock.Now()
		e.err = nil
	}
	c.enqueueLocked(e)
	c.mu.Unlock()
	c.drain()
}

// settleLocked clears the in-flight state of e.
func (c *Cache) settleLocked(e *entry) {
	if e.cancel != nil {
		e.cancel()
		e.cancel = nil
	}
	e.inFlight = false
}

// restoreLocked brings back the last good data a refetch had cleared.
func (c *Cache) restoreLocked(e *entry) {
	if !e.hasData && e.hasLastGood {
		e.data = e.lastGood
		e.hasData = true
		c.bumpVersionLocked(e)
	}
}

func (c *Cache) bumpVersionLocked(e *entry) {
	c.lastVersion++
	e.version = c.lastVersion
}

func (c *Cache) enqueueLocked(e *entry) {
	listeners := e.listeners()
	if len(listeners) == 0 {
		return
	}
	n := notification{listeners: listeners, snap: e.snapshot(c.clock.Now())}
	c.dispatchMu.Lock()
	c.pending = append(c.pending, n)
	c.dispatchMu.Unlock()
}

// drain delivers queued notifications in order. Only one goroutine drains at a time;
// a listener that triggers further transitions has them delivered by the same loop.
func (c *Cache) drain() {
	c.dispatchMu.Lock()
	if c.dispatching {
		c.dispatchMu.Unlock()
		return
	}
	c.dispatching = true
	for len(c.pending) > 0 {
		batch := c.pending
		c.pending = nil
		c.dispatchMu.Unlock()
		for _, n := range batch {
			for _, l := range n.listeners {
				l(n.snap)
			}
		}
		c.dispatchMu.Lock()
	}
	c.dispatching = false
	c.dispatchMu.Unlock()
}
