package querycache

import (
	"fmt"
	"maps"
	"sync"

	"github.com/rs/zerolog"
)

// DeriveFunc computes the downstream key from the upstream snapshot and the
// caller-supplied input. Returning false leaves the downstream query as it is.
type DeriveFunc func(upstream Snapshot, input Params) (Key, bool)

// DependentQuery is a read whose parameters come from another query's result.
// It re-derives only when the upstream data identity (Snapshot.Version) or the input
// changes, and re-subscribes only when the derived Key differs from the current one.
type DependentQuery struct {
	cache    *Cache
	derive   DeriveFunc
	listener Listener
	opts     []Option
	keep     bool
	logger   zerolog.Logger

	upstream *Subscription

	mu              sync.Mutex
	input           Params
	upstreamVersion uint64
	seenUpstream    bool
	seq             uint64
	appliedSeq      uint64
	current         *Subscription
	placeholder     Snapshot
	hasPlaceholder  bool
	closed          bool
}

// NewDependentQuery subscribes to upstream and derives the first downstream key
// from its current state and input. Options apply to the downstream subscription;
// WithKeepPreviousData additionally shows the previous key's data while a new key loads.
func NewDependentQuery(
	cache *Cache,
	upstream Key,
	derive DeriveFunc,
	input Params,
	listener Listener,
	logger zerolog.Logger,
	opts ...Option,
) (*DependentQuery, error) {
	if cache == nil {
		return nil, fmt.Errorf("cache cannot be nil")
	}
	if derive == nil {
		return nil, fmt.Errorf("derive function cannot be nil")
	}
	d := &DependentQuery{
		cache:    cache,
		derive:   derive,
		listener: listener,
		opts:     opts,
		keep:     applyOptions(0, opts).keepPrevious,
		logger:   logger.With().Str("component", "DependentQuery").Str("upstream", upstream.String()).Logger(),
		input:    maps.Clone(input),
	}

	sub, err := cache.Subscribe(upstream, d.onUpstream)
	if err != nil {
		return nil, fmt.Errorf("failed to subscribe upstream %s: %w", upstream, err)
	}
	d.upstream = sub

	if snap, ok := cache.Get(upstream); ok {
		d.onUpstream(snap)
	}
	return d, nil
}

// SetInput replaces the caller input (a filter selection, say) and re-derives.
// An input that derives the same Key as before issues no fetch.
func (d *DependentQuery) SetInput(input Params) {
	d.mu.Lock()
	d.input = maps.Clone(input)
	d.mu.Unlock()

	if snap, ok := d.cache.Get(d.upstream.Key); ok {
		d.rederive(snap)
	}
}

// Current returns the downstream key, if one has been derived.
func (d *DependentQuery) Current() (Key, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.current == nil {
		return Key{}, false
	}
	return d.current.Key, true
}

// Snapshot returns the downstream entry. While a new key has no data yet and
// keep-previous-data was requested, Data holds the previous key's data and
// Placeholder is set.
func (d *DependentQuery) Snapshot() (Snapshot, bool) {
	d.mu.Lock()
	cur := d.current
	placeholder, hasPlaceholder := d.placeholder, d.hasPlaceholder
	d.mu.Unlock()
	if cur == nil {
		return Snapshot{}, false
	}
	snap, ok := d.cache.Get(cur.Key)
	if !ok {
		return Snapshot{}, false
	}
	return withPlaceholder(snap, placeholder, hasPlaceholder), true
}

// Close releases the upstream and downstream subscriptions.
func (d *DependentQuery) Close() {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return
	}
	d.closed = true
	cur := d.current
	d.current = nil
	d.mu.Unlock()

	d.upstream.Unsubscribe()
	if cur != nil {
		cur.Unsubscribe()
	}
}

func (d *DependentQuery) onUpstream(snap Snapshot) {
	d.mu.Lock()
	if d.closed || (d.seenUpstream && snap.Version == d.upstreamVersion) {
		d.mu.Unlock()
		return
	}
	d.seenUpstream = true
	d.upstreamVersion = snap.Version
	d.mu.Unlock()

	d.rederive(snap)
}

// rederive never holds d.mu while calling into the cache: Subscribe may deliver
// notifications synchronously to onDownstream.
func (d *DependentQuery) rederive(upstream Snapshot) {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return
	}
	key, ok := d.derive(upstream, d.input)
	if !ok || (d.current != nil && d.current.Key == key) {
		d.mu.Unlock()
		return
	}
	d.seq++
	seq := d.seq
	d.mu.Unlock()

	var previous Snapshot
	var hadPrevious bool
	if d.keep {
		previous, hadPrevious = d.Snapshot()
	}

	sub, err := d.cache.Subscribe(key, d.onDownstream, d.opts...)
	if err != nil {
		d.logger.Error().Err(err).Str("key", key.String()).Msg("Failed to subscribe derived query.")
		return
	}

	d.mu.Lock()
	if d.closed || seq < d.appliedSeq {
		d.mu.Unlock()
		sub.Unsubscribe()
		return
	}
	d.appliedSeq = seq
	old := d.current
	d.current = sub
	if hadPrevious && previous.HasData {
		d.placeholder, d.hasPlaceholder = previous, true
	} else {
		d.placeholder, d.hasPlaceholder = Snapshot{}, false
	}
	d.mu.Unlock()

	if old != nil {
		old.Unsubscribe()
	}
	d.logger.Debug().Str("key", key.String()).Msg("Derived query re-issued.")

	if d.listener != nil {
		if snap, ok := d.Snapshot(); ok {
			d.listener(snap)
		}
	}
}

func (d *DependentQuery) onDownstream(snap Snapshot) {
	d.mu.Lock()
	if d.closed || d.current == nil || d.current.Key != snap.Key {
		d.mu.Unlock()
		return
	}
	if snap.HasData {
		d.placeholder, d.hasPlaceholder = Snapshot{}, false
	}
	placeholder, hasPlaceholder := d.placeholder, d.hasPlaceholder
	d.mu.Unlock()

	if d.listener != nil {
		d.listener(withPlaceholder(snap, placeholder, hasPlaceholder))
	}
}

func withPlaceholder(snap, placeholder Snapshot, ok bool) Snapshot {
	if snap.HasData || !ok {
		return snap
	}
	snap.Data = placeholder.Data
	snap.HasData = true
	snap.Placeholder = true
	return snap
}
