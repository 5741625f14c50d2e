// Package scheduler owns the periodic refetch timers of the query cache.
// Each key gets its own timer and interval; a disarmed key never fires again.
package scheduler

import (
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog"
)

// Callback is invoked on every tick of an armed key.
type Callback func(key string)

type timerEntry struct {
	token    uint64
	interval time.Duration
	timer    clockwork.Timer
	callback Callback
}

// Scheduler keeps one repeating timer per key. It is safe for concurrent use.
// Callbacks are invoked without any scheduler lock held, so they may call
// back into Arm or Disarm.
type Scheduler struct {
	clock  clockwork.Clock
	logger zerolog.Logger

	mu      sync.Mutex
	timers  map[string]*timerEntry
	nextTok uint64
	stopped bool
}

// New creates a Scheduler driven by the given clock. A nil clock uses the real clock.
func New(clock clockwork.Clock, logger zerolog.Logger) *Scheduler {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &Scheduler{
		clock:  clock,
		logger: logger.With().Str("component", "Scheduler").Logger(),
		timers: make(map[string]*timerEntry),
	}
}

// Arm starts a repeating timer for key, replacing any timer already armed for it.
// A non-positive interval disarms the key.
func (s *Scheduler) Arm(key string, interval time.Duration, callback Callback) {
	if interval <= 0 || callback == nil {
		s.Disarm(key)
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopped {
		return
	}
	if existing, ok := s.timers[key]; ok {
		existing.timer.Stop()
	}
	s.nextTok++
	entry := &timerEntry{token: s.nextTok, interval: interval, callback: callback}
	entry.timer = s.clock.AfterFunc(interval, s.fire(key, entry.token))
	s.timers[key] = entry

	s.logger.Debug().Str("key", key).Dur("interval", interval).Msg("Armed refetch timer.")
}

// fire returns the AfterFunc body for one arming of key. The token guards
// against a timer that was replaced or disarmed while its tick was pending.
func (s *Scheduler) fire(key string, token uint64) func() {
	return func() {
		s.mu.Lock()
		entry, ok := s.timers[key]
		if !ok || entry.token != token || s.stopped {
			s.mu.Unlock()
			return
		}
		callback := entry.callback
		s.mu.Unlock()

		callback(key)

		s.mu.Lock()
		defer s.mu.Unlock()
		// The callback may have disarmed or re-armed the key.
		if entry, ok = s.timers[key]; ok && entry.token == token && !s.stopped {
			entry.timer = s.clock.AfterFunc(entry.interval, s.fire(key, token))
		}
	}
}

// Disarm cancels the timer for key. It is a no-op for keys that are not armed.
func (s *Scheduler) Disarm(key string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if entry, ok := s.timers[key]; ok {
		entry.timer.Stop()
		delete(s.timers, key)
		s.logger.Debug().Str("key", key).Msg("Disarmed refetch timer.")
	}
}

// Armed reports whether key currently has a timer and returns its interval.
func (s *Scheduler) Armed(key string) (time.Duration, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	entry, ok := s.timers[key]
	if !ok {
		return 0, false
	}
	return entry.interval, true
}

// Len returns the number of armed keys.
func (s *Scheduler) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.timers)
}

// Stop disarms every key. Arm calls after Stop are ignored.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for key, entry := range s.timers {
		entry.timer.Stop()
		delete(s.timers, key)
	}
	s.stopped = true
	s.logger.Info().Msg("Scheduler stopped.")
}
