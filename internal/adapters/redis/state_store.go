package redis

// Package redis provides Redis-based adapters for session persistence and push invalidation.

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	domainauth "github.com/target/sessionkeeper/internal/domain/auth"
	"github.com/target/sessionkeeper/internal/ports"
)

const (
	// DefaultPrefix namespaces every session key.
	DefaultPrefix = "session:"
	// DefaultChannel carries invalidation notices between processes sharing a session.
	DefaultChannel = "session:invalidate"
)

// StateStoreOptions configures a StateStore.
type StateStoreOptions struct {
	Client redis.UniversalClient
	Key    string        // storage key, e.g. "auth-storage"
	Prefix string        // defaults to DefaultPrefix
	TTL    time.Duration // zero keeps the record until overwritten

	// Channel, when set, receives a notice after every save so peers can reconcile.
	Channel string
	// InstanceID identifies this process in published notices; generated when empty.
	InstanceID string
}

// StateStore is a Redis-based ports.StatePersister.
type StateStore struct {
	client     redis.UniversalClient
	key        string
	ttl        time.Duration
	channel    string
	instanceID string
}

var _ ports.StatePersister = (*StateStore)(nil)

// notice is the pub/sub payload published after a save.
type notice struct {
	Instance string `json:"instance"`
	Reason   string `json:"reason"`
}

// NewStateStore creates a new Redis-based session state store.
func NewStateStore(opts StateStoreOptions) (*StateStore, error) {
	if opts.Client == nil {
		return nil, errors.New("redis client is required")
	}
	if opts.Key == "" {
		return nil, errors.New("storage key cannot be empty")
	}
	prefix := opts.Prefix
	if prefix == "" {
		prefix = DefaultPrefix
	}
	id := opts.InstanceID
	if id == "" {
		id = uuid.NewString()
	}
	return &StateStore{
		client:     opts.Client,
		key:        prefix + opts.Key,
		ttl:        opts.TTL,
		channel:    opts.Channel,
		instanceID: id,
	}, nil
}

// InstanceID returns the identifier used in published notices.
func (s *StateStore) InstanceID() string { return s.instanceID }

func (s *StateStore) Save(ctx context.Context, state domainauth.PersistedState) error {
	data, err := json.Marshal(state)
	if err != nil {
		return fmt.Errorf("marshal session: %w", err)
	}

	if err := s.client.Set(ctx, s.key, data, s.ttl).Err(); err != nil {
		return fmt.Errorf("redis set: %w", err)
	}

	if s.channel == "" {
		return nil
	}
	payload, err := json.Marshal(notice{Instance: s.instanceID, Reason: "saved"})
	if err != nil {
		return fmt.Errorf("marshal notice: %w", err)
	}
	if err := s.client.Publish(ctx, s.channel, payload).Err(); err != nil {
		return fmt.Errorf("redis publish: %w", err)
	}
	return nil
}

func (s *StateStore) Load(ctx context.Context) (domainauth.PersistedState, error) {
	data, err := s.client.Get(ctx, s.key).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return domainauth.PersistedState{}, ports.ErrNotFound
		}
		return domainauth.PersistedState{}, fmt.Errorf("redis get: %w", err)
	}

	var st domainauth.PersistedState
	if unmarshalErr := json.Unmarshal(data, &st); unmarshalErr != nil {
		return domainauth.PersistedState{}, fmt.Errorf("unmarshal session: %w", unmarshalErr)
	}
	return st, nil
}

// Delete removes the persisted record.
func (s *StateStore) Delete(ctx context.Context) error {
	return s.client.Del(ctx, s.key).Err()
}
