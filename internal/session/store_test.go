package session

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	domainauth "github.com/target/sessionkeeper/internal/domain/auth"
	sessionmocks "github.com/target/sessionkeeper/internal/mocks/session"
)

func TestStore_EmptyWithoutPersistedState(t *testing.T) {
	s := NewStore(context.Background(), StoreOptions{Persister: sessionmocks.NewMemoryPersister()})
	assert.Equal(t, domainauth.SessionState{}, s.Get())
}

func TestStore_UpdatePersistsDurableFields(t *testing.T) {
	ctx := context.Background()
	p := sessionmocks.NewMemoryPersister()
	s := NewStore(ctx, StoreOptions{Persister: p})

	exp := time.UnixMilli(1_700_000_900_000)
	s.Update(ctx, func(st *domainauth.SessionState) {
		st.User = domainauth.NewUser("u1", "Ann", "")
		st.AccessToken = "tok"
		st.IsAuthenticated = true
		st.TokenExpiresAt = exp
		st.IsLoading = true
	})

	saved, ok := p.Last()
	require.True(t, ok)
	data, err := json.Marshal(saved)
	require.NoError(t, err)
	assert.JSONEq(t,
		`{"user":{"id":"u1","name":"Ann","email":""},"token":"tok","isAuthenticated":true,"tokenExpiresAt":1700000900000}`,
		string(data))
}

func TestStore_RehydratesBeforeFirstGet(t *testing.T) {
	ctx := context.Background()
	p := sessionmocks.NewMemoryPersister()
	first := NewStore(ctx, StoreOptions{Persister: p})

	exp := domainauth.ExpiryFrom(time.Now(), 15*time.Minute)
	first.Update(ctx, func(st *domainauth.SessionState) {
		st.User = domainauth.NewUser("u1", "", "")
		st.AccessToken = "tok"
		st.IsAuthenticated = true
		st.TokenExpiresAt = exp
	})
	before := first.Get()

	reloaded := NewStore(ctx, StoreOptions{Persister: p})
	after := reloaded.Get()

	assert.Equal(t, before.IsAuthenticated, after.IsAuthenticated)
	assert.Equal(t, before.TokenExpiresAt.UnixMilli(), after.TokenExpiresAt.UnixMilli())
	bu, err := json.Marshal(before.User)
	require.NoError(t, err)
	au, err := json.Marshal(after.User)
	require.NoError(t, err)
	assert.Equal(t, string(bu), string(au))
	assert.False(t, after.IsLoading)
}

func TestStore_UpdateNormalizesInvariant(t *testing.T) {
	ctx := context.Background()
	s := NewStore(ctx, StoreOptions{})
	got := s.Update(ctx, func(st *domainauth.SessionState) { st.IsAuthenticated = true })
	assert.False(t, got.IsAuthenticated)
	assert.False(t, s.Get().IsAuthenticated)
}

func TestStore_SubscribersSeePrevAndNext(t *testing.T) {
	ctx := context.Background()
	s := NewStore(ctx, StoreOptions{})

	var calls [][2]bool
	unsub := s.Subscribe(func(prev, next domainauth.SessionState) {
		calls = append(calls, [2]bool{prev.IsLoading, next.IsLoading})
	})

	s.Update(ctx, func(st *domainauth.SessionState) { st.IsLoading = true })
	s.Update(ctx, func(st *domainauth.SessionState) { st.IsLoading = false })
	unsub()
	unsub()
	s.Update(ctx, func(st *domainauth.SessionState) { st.IsLoading = true })

	assert.Equal(t, [][2]bool{{false, true}, {true, false}}, calls)
}

func TestStore_SubscriberMayUpdate(t *testing.T) {
	ctx := context.Background()
	s := NewStore(ctx, StoreOptions{})

	s.Subscribe(func(_, next domainauth.SessionState) {
		if next.IsLoading {
			s.Update(ctx, func(st *domainauth.SessionState) { st.IsLoading = false })
		}
	})
	s.Update(ctx, func(st *domainauth.SessionState) { st.IsLoading = true })
	assert.False(t, s.Get().IsLoading)
}

func TestStore_ClearKeepsLoading(t *testing.T) {
	ctx := context.Background()
	s := NewStore(ctx, StoreOptions{})
	s.Update(ctx, func(st *domainauth.SessionState) {
		st.User = domainauth.NewUser("u1", "", "")
		st.IsAuthenticated = true
		st.IsLoading = true
	})
	got := s.Clear(ctx)
	assert.Equal(t, domainauth.SessionState{IsLoading: true}, got)
}

func TestStore_PersistFailureDoesNotFailUpdate(t *testing.T) {
	ctx := context.Background()
	p := sessionmocks.NewMemoryPersister()
	p.SaveFn = func(context.Context, domainauth.PersistedState) error { return errors.New("disk full") }
	s := NewStore(ctx, StoreOptions{Persister: p})

	got := s.Update(ctx, func(st *domainauth.SessionState) {
		st.User = domainauth.NewUser("u1", "", "")
		st.IsAuthenticated = true
	})
	assert.True(t, got.IsAuthenticated)
	assert.Equal(t, 1, p.Saves())
}

func TestStore_LoadFailureStartsEmpty(t *testing.T) {
	p := sessionmocks.NewMemoryPersister()
	p.LoadFn = func(context.Context) (domainauth.PersistedState, error) {
		return domainauth.PersistedState{}, errors.New("corrupt")
	}
	s := NewStore(context.Background(), StoreOptions{Persister: p})
	assert.Equal(t, domainauth.SessionState{}, s.Get())
}

func TestStore_ConcurrentWritesDeliveredInApplyOrder(t *testing.T) {
	ctx := context.Background()
	p := sessionmocks.NewMemoryPersister()
	entered := make(chan struct{})
	release := make(chan struct{})
	var (
		blockFirst sync.Once
		mu         sync.Mutex
		saved      []bool
		notified   []bool
	)
	p.SaveFn = func(_ context.Context, st domainauth.PersistedState) error {
		blockFirst.Do(func() {
			close(entered)
			<-release
		})
		mu.Lock()
		saved = append(saved, st.IsAuthenticated)
		mu.Unlock()
		return nil
	}
	s := NewStore(ctx, StoreOptions{Persister: p})
	s.Subscribe(func(_, next domainauth.SessionState) {
		mu.Lock()
		notified = append(notified, next.IsAuthenticated)
		mu.Unlock()
	})

	signedIn := make(chan struct{})
	go func() {
		defer close(signedIn)
		s.Update(ctx, func(st *domainauth.SessionState) {
			st.User = domainauth.NewUser("u1", "Ann", "")
			st.IsAuthenticated = true
		})
	}()
	<-entered

	cleared := make(chan struct{})
	go func() {
		defer close(cleared)
		s.Clear(ctx)
	}()
	require.Eventually(t, func() bool { return !s.Get().IsAuthenticated }, time.Second, time.Millisecond)

	select {
	case <-cleared:
		t.Fatal("clear returned before its change was persisted")
	case <-time.After(20 * time.Millisecond):
	}
	close(release)
	<-cleared
	<-signedIn

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []bool{true, false}, saved, "last persisted record must match memory")
	assert.Equal(t, []bool{true, false}, notified)
	assert.False(t, s.Get().IsAuthenticated)
}

func TestStore_PanickingSubscriberDoesNotWedgeWrites(t *testing.T) {
	ctx := context.Background()
	s := NewStore(ctx, StoreOptions{})
	unsubscribe := s.Subscribe(func(_, next domainauth.SessionState) {
		if next.IsLoading {
			panic("boom")
		}
	})

	assert.Panics(t, func() {
		s.Update(ctx, func(st *domainauth.SessionState) { st.IsLoading = true })
	})
	unsubscribe()

	done := make(chan struct{})
	go func() {
		defer close(done)
		s.Update(ctx, func(st *domainauth.SessionState) { st.IsLoading = false })
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("store stopped accepting writes after a subscriber panic")
	}
	assert.False(t, s.Get().IsLoading)
}
