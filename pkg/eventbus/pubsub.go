package eventbus

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"cloud.google.com/go/pubsub"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

const (
	attrOrigin   = "origin"
	attrMutation = "mutation_type"
)

// GooglePubsubConfig names the topic events go to. When SubscriptionID is empty the
// bus creates a subscription of its own and deletes it on Close, so every instance
// receives every event.
type GooglePubsubConfig struct {
	ProjectID       string `yaml:"project_id"`
	TopicID         string `yaml:"topic_id"`
	SubscriptionID  string `yaml:"subscription_id"`
	CredentialsFile string `yaml:"credentials_file"`
}

// GooglePubsubBus publishes events to a Pub/Sub topic and receives them from a
// subscription on it.
type GooglePubsubBus struct {
	client       *pubsub.Client
	topic        *pubsub.Topic
	subscription *pubsub.Subscription
	ownsSub      bool
	origin       string
	logger       zerolog.Logger

	mu        sync.Mutex
	closed    bool
	receiving bool
	cancel    context.CancelFunc
	doneChan  chan struct{}
}

// NewGooglePubsubBus checks that the topic exists and prepares the subscription.
func NewGooglePubsubBus(ctx context.Context, cfg *GooglePubsubConfig, client *pubsub.Client, origin string, logger zerolog.Logger) (*GooglePubsubBus, error) {
	if client == nil {
		return nil, errors.New("pubsub bus requires a client")
	}
	if origin == "" {
		return nil, errors.New("pubsub bus requires an origin")
	}
	topic := client.Topic(cfg.TopicID)
	exists, err := topic.Exists(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to check topic %s: %w", cfg.TopicID, err)
	}
	if !exists {
		return nil, fmt.Errorf("topic %s does not exist", cfg.TopicID)
	}

	subID := cfg.SubscriptionID
	ownsSub := false
	var sub *pubsub.Subscription
	if subID == "" {
		subID = "dashsync-" + uuid.NewString()
		sub, err = client.CreateSubscription(ctx, subID, pubsub.SubscriptionConfig{
			Topic:            topic,
			AckDeadline:      10 * time.Second,
			ExpirationPolicy: 24 * time.Hour,
		})
		if err != nil {
			topic.Stop()
			return nil, fmt.Errorf("failed to create subscription %s: %w", subID, err)
		}
		ownsSub = true
	} else {
		sub = client.Subscription(subID)
		ok, err := sub.Exists(ctx)
		if err != nil {
			topic.Stop()
			return nil, fmt.Errorf("failed to check subscription %s: %w", subID, err)
		}
		if !ok {
			topic.Stop()
			return nil, fmt.Errorf("subscription %s does not exist", subID)
		}
	}

	logger.Info().Str("topic_id", cfg.TopicID).Str("subscription_id", subID).Msg("Pub/Sub event bus ready")

	return &GooglePubsubBus{
		client:       client,
		topic:        topic,
		subscription: sub,
		ownsSub:      ownsSub,
		origin:       origin,
		logger:       logger.With().Str("component", "GooglePubsubBus").Str("subscription_id", subID).Logger(),
		doneChan:     make(chan struct{}),
	}, nil
}

// Origin returns the instance name the bus was created with.
func (b *GooglePubsubBus) Origin() string { return b.origin }

// Publish sends e and waits for the server to confirm it.
func (b *GooglePubsubBus) Publish(ctx context.Context, e Event) error {
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
	res := b.topic.Publish(ctx, &pubsub.Message{
		Data: payload,
		Attributes: map[string]string{
			attrOrigin:   e.Origin,
			attrMutation: e.MutationType,
		},
	})
	if _, err := res.Get(ctx); err != nil {
		return fmt.Errorf("failed to publish event: %w", err)
	}
	return nil
}

// Subscribe starts receiving in the background. A bus has a single receiver; a
// second call returns an error.
func (b *GooglePubsubBus) Subscribe(_ context.Context, h Handler) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return ErrClosed
	}
	if b.receiving {
		return errors.New("pubsub bus is already receiving")
	}
	b.receiving = true

	receiveCtx, cancel := context.WithCancel(context.Background())
	b.cancel = cancel
	go func() {
		defer close(b.doneChan)
		err := b.subscription.Receive(receiveCtx, func(ctx context.Context, msg *pubsub.Message) {
			msg.Ack()
			if msg.Attributes[attrOrigin] == b.origin {
				return
			}
			e, err := decode(msg.Data)
			if err != nil {
				b.logger.Warn().Err(err).Str("msg_id", msg.ID).Msg("Dropping malformed event")
				return
			}
			if e.Origin == b.origin {
				return
			}
			b.logger.Debug().Str("mutation", e.MutationType).Str("from", e.Origin).Msg("Event received")
			h(ctx, e)
		})
		if err != nil && !errors.Is(err, context.Canceled) {
			b.logger.Error().Err(err).Msg("Pub/Sub Receive call exited with error")
		}
	}()
	return nil
}

// Close stops receiving, flushes the topic and removes a subscription the bus created.
func (b *GooglePubsubBus) Close() error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil
	}
	b.closed = true
	receiving := b.receiving
	cancel := b.cancel
	b.mu.Unlock()

	if receiving {
		cancel()
		select {
		case <-b.doneChan:
		case <-time.After(30 * time.Second):
			b.logger.Error().Msg("Timeout waiting for Pub/Sub Receive goroutine to stop.")
		}
	}
	b.topic.Stop()

	if b.ownsSub {
		ctx, cancelDelete := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancelDelete()
		if err := b.subscription.Delete(ctx); err != nil {
			return fmt.Errorf("failed to delete subscription %s: %w", b.subscription.ID(), err)
		}
	}
	return nil
}
