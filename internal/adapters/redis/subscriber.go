package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/redis/go-redis/v9"
	"github.com/target/sessionkeeper/internal/ports"
)

// SubscriberOptions configures a Subscriber.
type SubscriberOptions struct {
	Client  redis.UniversalClient
	Channel string // defaults to DefaultChannel
	// IgnoreInstance drops notices published by this instance ID.
	IgnoreInstance string
	Logger         *slog.Logger
}

// Subscriber is a ports.InvalidationSource backed by Redis pub/sub.
type Subscriber struct {
	client  redis.UniversalClient
	channel string
	ignore  string
	logger  *slog.Logger
}

var _ ports.InvalidationSource = (*Subscriber)(nil)

// NewSubscriber constructs a Subscriber.
func NewSubscriber(opts SubscriberOptions) (*Subscriber, error) {
	if opts.Client == nil {
		return nil, errors.New("redis client is required")
	}
	channel := opts.Channel
	if channel == "" {
		channel = DefaultChannel
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Subscriber{
		client:  opts.Client,
		channel: channel,
		ignore:  opts.IgnoreInstance,
		logger:  logger.With("component", "redis_invalidation"),
	}, nil
}

// Name identifies the source in logs and metrics.
func (s *Subscriber) Name() string { return "redis" }

// Listen subscribes to the channel and delivers signals until ctx is cancelled.
func (s *Subscriber) Listen(ctx context.Context, fn func(ports.Signal)) error {
	pubsub := s.client.Subscribe(ctx, s.channel)
	defer func() {
		if err := pubsub.Close(); err != nil {
			s.logger.WarnContext(ctx, "failed to close pubsub", "error", err)
		}
	}()

	// Wait for the subscription confirmation so messages published after
	// Listen starts are not lost.
	if _, err := pubsub.Receive(ctx); err != nil {
		if ctx.Err() != nil {
			return nil
		}
		return fmt.Errorf("subscribe %s: %w", s.channel, err)
	}

	ch := pubsub.Channel()
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-ch:
			if !ok {
				return nil
			}
			if sig, keep := s.decode(ctx, msg.Payload); keep {
				fn(sig)
			}
		}
	}
}

func (s *Subscriber) decode(ctx context.Context, payload string) (ports.Signal, bool) {
	var n notice
	if err := json.Unmarshal([]byte(payload), &n); err != nil {
		// Plain-text payloads from other publishers are taken as the reason.
		s.logger.DebugContext(ctx, "non-json invalidation payload", "error", err)
		return ports.Signal{Source: s.Name(), Reason: payload}, true
	}
	if s.ignore != "" && n.Instance == s.ignore {
		return ports.Signal{}, false
	}
	reason := n.Reason
	if reason == "" {
		reason = "invalidated"
	}
	return ports.Signal{Source: s.Name(), Reason: reason}, true
}
