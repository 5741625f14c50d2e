// Package eventbus carries mutation-success events between dashboard instances so a
// mutation run on one instance invalidates the matching queries on its peers.
package eventbus

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// ErrClosed is returned by operations on a closed bus.
var ErrClosed = errors.New("eventbus: closed")

// Event announces that a mutation succeeded on the instance named by Origin.
type Event struct {
	ID           uuid.UUID `json:"id"`
	MutationType string    `json:"mutation_type"`
	Origin       string    `json:"origin"`
	OccurredAt   time.Time `json:"occurred_at"`
}

// NewEvent stamps a new event with a fresh id.
func NewEvent(mutationType, origin string, now time.Time) Event {
	return Event{
		ID:           uuid.New(),
		MutationType: mutationType,
		Origin:       origin,
		OccurredAt:   now.UTC(),
	}
}

func (e Event) validate() error {
	if e.MutationType == "" {
		return errors.New("event has no mutation type")
	}
	if e.Origin == "" {
		return errors.New("event has no origin")
	}
	return nil
}

// Handler receives events published by other instances. Events an instance published
// itself are never delivered back to it.
type Handler func(ctx context.Context, e Event)

// Bus publishes and receives mutation events.
type Bus interface {
	// Origin names this instance; events it published are not delivered back to it.
	Origin() string
	Publish(ctx context.Context, e Event) error
	Subscribe(ctx context.Context, h Handler) error
	Close() error
}

func encode(e Event) ([]byte, error) {
	if err := e.validate(); err != nil {
		return nil, err
	}
	data, err := json.Marshal(e)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal event: %w", err)
	}
	return data, nil
}

func decode(data []byte) (Event, error) {
	var e Event
	if err := json.Unmarshal(data, &e); err != nil {
		return Event{}, fmt.Errorf("failed to unmarshal event: %w", err)
	}
	if err := e.validate(); err != nil {
		return Event{}, err
	}
	return e, nil
}
