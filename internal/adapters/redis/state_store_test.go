package redis

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	domainauth "github.com/target/sessionkeeper/internal/domain/auth"
	"github.com/target/sessionkeeper/internal/ports"
	"github.com/target/sessionkeeper/internal/testutil"
)

// setupTestRedis creates a Redis client for testing.
// Tests will be skipped if Redis is not available.
func setupTestRedis(t *testing.T) *redis.Client {
	t.Helper()
	return testutil.SetupTestRedis(t)
}

func sampleState() domainauth.PersistedState {
	return domainauth.PersistedState{
		User:            domainauth.NewUser("user-123", "Ann", "user@example.com"),
		Token:           testutil.StringPtr("tok"),
		IsAuthenticated: true,
		TokenExpiresAt:  testutil.Int64Ptr(1_700_000_900_000),
	}
}

func TestStateStore_SaveAndLoad(t *testing.T) {
	client := setupTestRedis(t)
	defer client.Close()

	store, err := NewStateStore(StateStoreOptions{Client: client, Key: "auth-storage"})
	require.NoError(t, err)
	ctx := context.Background()

	require.NoError(t, store.Save(ctx, sampleState()))

	got, err := store.Load(ctx)
	require.NoError(t, err)
	assert.Equal(t, "user-123", got.User.ID)
	assert.True(t, got.IsAuthenticated)
	require.NotNil(t, got.Token)
	assert.Equal(t, "tok", *got.Token)
	require.NotNil(t, got.TokenExpiresAt)
	assert.Equal(t, int64(1_700_000_900_000), *got.TokenExpiresAt)

	exists := client.Exists(ctx, DefaultPrefix+"auth-storage").Val()
	assert.Equal(t, int64(1), exists)
}

func TestStateStore_LoadMissing(t *testing.T) {
	client := setupTestRedis(t)
	defer client.Close()

	store, err := NewStateStore(StateStoreOptions{Client: client, Key: "missing"})
	require.NoError(t, err)

	_, err = store.Load(context.Background())
	assert.ErrorIs(t, err, ports.ErrNotFound)
}

func TestStateStore_Delete(t *testing.T) {
	client := setupTestRedis(t)
	defer client.Close()

	store, err := NewStateStore(StateStoreOptions{Client: client, Key: "to-delete"})
	require.NoError(t, err)
	ctx := context.Background()

	require.NoError(t, store.Save(ctx, sampleState()))
	require.NoError(t, store.Delete(ctx))

	_, err = store.Load(ctx)
	assert.ErrorIs(t, err, ports.ErrNotFound)
}

func TestStateStore_TTLExpiration(t *testing.T) {
	client := setupTestRedis(t)
	defer client.Close()

	store, err := NewStateStore(StateStoreOptions{Client: client, Key: "ttl", TTL: 100 * time.Millisecond})
	require.NoError(t, err)
	ctx := context.Background()

	require.NoError(t, store.Save(ctx, sampleState()))
	time.Sleep(200 * time.Millisecond)

	_, err = store.Load(ctx)
	assert.ErrorIs(t, err, ports.ErrNotFound)
}

func TestStateStore_CustomPrefix(t *testing.T) {
	client := setupTestRedis(t)
	defer client.Close()

	store, err := NewStateStore(StateStoreOptions{Client: client, Key: "prefix-test", Prefix: "test-prefix:"})
	require.NoError(t, err)
	ctx := context.Background()

	require.NoError(t, store.Save(ctx, sampleState()))
	assert.Equal(t, int64(1), client.Exists(ctx, "test-prefix:prefix-test").Val())
}

func TestNewStateStore_Validation(t *testing.T) {
	_, err := NewStateStore(StateStoreOptions{Key: "k"})
	require.Error(t, err)

	client := redis.NewClient(&redis.Options{Addr: "localhost:0"})
	defer client.Close()
	_, err = NewStateStore(StateStoreOptions{Client: client})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "storage key cannot be empty")
}

func TestSubscriber_ReceivesPeerNotices(t *testing.T) {
	client := setupTestRedis(t)
	defer client.Close()

	peer, err := NewStateStore(StateStoreOptions{Client: client, Key: "shared", Channel: DefaultChannel})
	require.NoError(t, err)
	self, err := NewStateStore(StateStoreOptions{Client: client, Key: "shared", Channel: DefaultChannel})
	require.NoError(t, err)

	sub, err := NewSubscriber(SubscriberOptions{Client: client, IgnoreInstance: self.InstanceID()})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var (
		mu   sync.Mutex
		sigs []ports.Signal
	)
	done := make(chan error, 1)
	go func() {
		done <- sub.Listen(ctx, func(s ports.Signal) {
			mu.Lock()
			sigs = append(sigs, s)
			mu.Unlock()
		})
	}()

	// Keep publishing until the subscription is live.
	require.Eventually(t, func() bool {
		_ = self.Save(ctx, sampleState())
		_ = peer.Save(ctx, sampleState())
		mu.Lock()
		defer mu.Unlock()
		return len(sigs) > 0
	}, 5*time.Second, 50*time.Millisecond)

	cancel()
	require.NoError(t, <-done)

	mu.Lock()
	defer mu.Unlock()
	for _, s := range sigs {
		assert.Equal(t, "redis", s.Source)
		assert.Equal(t, "saved", s.Reason)
	}
}

func TestSubscriber_Decode(t *testing.T) {
	client := redis.NewClient(&redis.Options{Addr: "localhost:0"})
	defer client.Close()

	sub, err := NewSubscriber(SubscriberOptions{Client: client, IgnoreInstance: "me"})
	require.NoError(t, err)
	ctx := context.Background()

	_, keep := sub.decode(ctx, `{"instance":"me","reason":"saved"}`)
	assert.False(t, keep)

	sig, keep := sub.decode(ctx, `{"instance":"other"}`)
	assert.True(t, keep)
	assert.Equal(t, ports.Signal{Source: "redis", Reason: "invalidated"}, sig)

	sig, keep = sub.decode(ctx, "banned")
	assert.True(t, keep)
	assert.Equal(t, "banned", sig.Reason)
}
