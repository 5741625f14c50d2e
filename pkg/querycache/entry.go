package querycache

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
)

// Status is the freshness state of a cache entry.
type Status int

const (
	StatusIdle Status = iota
	StatusFetching
	StatusFresh
	StatusStale
	StatusError
)

func (s Status) String() string {
	switch s {
	case StatusIdle:
		return "idle"
	case StatusFetching:
		return "fetching"
	case StatusFresh:
		return "fresh"
	case StatusStale:
		return "stale"
	case StatusError:
		return "error"
	default:
		return "unknown"
	}
}

// MarshalText lets a Status appear by name in JSON views.
func (s Status) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// Snapshot is an immutable copy of an entry taken under the cache lock.
// Callers never see or mutate the live entry.
type Snapshot struct {
	Key             Key
	Data            any
	HasData         bool
	Status          Status
	FetchedAt       time.Time
	TTL             time.Duration
	RefetchInterval time.Duration
	// Generation counts fetches issued for the key.
	Generation uint64
	// Version changes exactly when Data is replaced; it is the identity of Data.
	// Versions are unique across the cache and never repeat for a key.
	Version     uint64
	Subscribers int
	Err         error
	// InFlight is true while a fetch for the current generation is outstanding.
	InFlight bool
	// Placeholder is set by DependentQuery when Data belongs to the previous key.
	Placeholder bool
}

// Loading reports whether the entry has nothing to show yet but a fetch is running.
func (s Snapshot) Loading() bool {
	return !s.HasData && s.InFlight
}

// As returns the snapshot's data as T. It reports false when there is no data
// or the data has a different type.
func As[T any](s Snapshot) (T, bool) {
	if !s.HasData {
		var zero T
		return zero, false
	}
	v, ok := s.Data.(T)
	return v, ok
}

// Listener receives a snapshot after every transition of a subscribed key.
type Listener func(Snapshot)

type subscriber struct {
	id              uuid.UUID
	listener        Listener
	ttl             time.Duration
	refetchInterval time.Duration
	keepPrevious    bool
}

// entry is the live cache record. It is only touched with Cache.mu held.
type entry struct {
	key  Key
	data any
	// lastGood survives a refetch that cleared data so a failure can restore it.
	lastGood    any
	hasData     bool
	hasLastGood bool
	status      Status
	fetchedAt   time.Time
	ttl         time.Duration
	interval    time.Duration
	generation  uint64
	version     uint64
	err         error

	inFlight bool
	cancel   context.CancelFunc

	subscribers map[uuid.UUID]*subscriber
	// order keeps notification order stable across subscribers.
	order []uuid.UUID

	// removeToken identifies the pending retention timer, zero when none.
	removeToken uint64
	removeTimer clockwork.Timer
}

func newEntry(key Key, ttl time.Duration) *entry {
	return &entry{
		key:         key,
		status:      StatusIdle,
		ttl:         ttl,
		subscribers: make(map[uuid.UUID]*subscriber),
	}
}

// snapshot copies the entry. A fresh entry past its TTL is reported as stale.
func (e *entry) snapshot(now time.Time) Snapshot {
	status := e.status
	if e.expired(now) {
		status = StatusStale
	}
	return Snapshot{
		Key:             e.key,
		Data:            e.data,
		HasData:         e.hasData,
		Status:          status,
		FetchedAt:       e.fetchedAt,
		TTL:             e.ttl,
		RefetchInterval: e.interval,
		Generation:      e.generation,
		Version:         e.version,
		Subscribers:     len(e.subscribers),
		Err:             e.err,
		InFlight:        e.inFlight,
	}
}

func (e *entry) expired(now time.Time) bool {
	return e.status == StatusFresh && now.Sub(e.fetchedAt) >= e.ttl
}

// keepPrevious is true when any current subscriber asked for stale-while-revalidate.
func (e *entry) keepPrevious() bool {
	for _, s := range e.subscribers {
		if s.keepPrevious {
			return true
		}
	}
	return false
}

// minInterval is the smallest positive refetch interval among the subscribers.
func (e *entry) minInterval() time.Duration {
	var least time.Duration
	for _, s := range e.subscribers {
		if s.refetchInterval > 0 && (least == 0 || s.refetchInterval < least) {
			least = s.refetchInterval
		}
	}
	return least
}

func (e *entry) listeners() []Listener {
	out := make([]Listener, 0, len(e.order))
	for _, id := range e.order {
		if s, ok := e.subscribers[id]; ok && s.listener != nil {
			out = append(out, s.listener)
		}
	}
	return out
}

func (e *entry) removeSubscriber(id uuid.UUID) bool {
	if _, ok := e.subscribers[id]; !ok {
		return false
	}
	delete(e.subscribers, id)
	for i, oid := range e.order {
		if oid == id {
			e.order = append(e.order[:i], e.order[i+1:]...)
			break
		}
	}
	return true
}
