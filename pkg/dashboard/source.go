package dashboard

import (
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/illmade-knight/go-dashsync/pkg/fetcher"
	"github.com/illmade-knight/go-dashsync/pkg/querycache"
)

// source is one query a panel reads: a plain subscription that can be re-keyed when
// a filter changes, or a dependent query.
type source struct {
	name     string
	cache    *querycache.Cache
	opts     []querycache.Option
	listener querycache.Listener

	mu  sync.Mutex
	sub *querycache.Subscription
	dep *querycache.DependentQuery
}

// subscribe points the source at key. The new subscription is taken before the old
// one is released, so an entry shared by both keeps its subscriber count.
func (s *source) subscribe(key querycache.Key) error {
	s.mu.Lock()
	if s.sub != nil && s.sub.Key == key {
		s.mu.Unlock()
		return nil
	}
	s.mu.Unlock()

	sub, err := s.cache.Subscribe(key, s.listener, s.opts...)
	if err != nil {
		return fmt.Errorf("failed to subscribe %s: %w", s.name, err)
	}

	s.mu.Lock()
	old := s.sub
	s.sub = sub
	s.mu.Unlock()
	if old != nil {
		old.Unsubscribe()
	}
	return nil
}

func (s *source) snapshot() (querycache.Snapshot, bool) {
	s.mu.Lock()
	sub, dep := s.sub, s.dep
	s.mu.Unlock()
	switch {
	case dep != nil:
		return dep.Snapshot()
	case sub != nil:
		return s.cache.Get(sub.Key)
	}
	return querycache.Snapshot{}, false
}

func (s *source) close() {
	s.mu.Lock()
	sub, dep := s.sub, s.dep
	s.sub, s.dep = nil, nil
	s.mu.Unlock()
	if dep != nil {
		dep.Close()
	}
	if sub != nil {
		sub.Unsubscribe()
	}
}

// QueryState is what a panel shows about one of its queries.
type QueryState struct {
	Name        string     `json:"name"`
	Key         string     `json:"key"`
	Status      string     `json:"status"`
	HasData     bool       `json:"has_data"`
	Loading     bool       `json:"loading"`
	Placeholder bool       `json:"placeholder,omitempty"`
	Version     uint64     `json:"version"`
	FetchedAt   *time.Time `json:"fetched_at,omitempty"`
	Error       string     `json:"error,omitempty"`
	ErrorKind   string     `json:"error_kind,omitempty"`
}

func newQueryState(name string, snap querycache.Snapshot) QueryState {
	qs := QueryState{
		Name:        name,
		Key:         snap.Key.String(),
		Status:      snap.Status.String(),
		HasData:     snap.HasData,
		Loading:     snap.Loading(),
		Placeholder: snap.Placeholder,
		Version:     snap.Version,
	}
	if !snap.FetchedAt.IsZero() {
		t := snap.FetchedAt
		qs.FetchedAt = &t
	}
	if snap.Err != nil {
		qs.Error = snap.Err.Error()
		if kind, ok := fetcher.KindOf(snap.Err); ok {
			qs.ErrorKind = kind.String()
		}
	}
	return qs
}

// dataToken identifies the data a view was built from: the key and version of each
// input, plus whether it was a placeholder.
func dataToken(snaps ...querycache.Snapshot) string {
	var b strings.Builder
	for i, snap := range snaps {
		if i > 0 {
			b.WriteByte('|')
		}
		if !snap.HasData {
			b.WriteByte('-')
			continue
		}
		b.WriteString(snap.Key.String())
		b.WriteByte('@')
		b.WriteString(strconv.FormatUint(snap.Version, 10))
		if snap.Placeholder {
			b.WriteString("~")
		}
	}
	return b.String()
}
