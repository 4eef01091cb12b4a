package service

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/target/sessionkeeper/internal/clock"
	domainauth "github.com/target/sessionkeeper/internal/domain/auth"
	sessionmocks "github.com/target/sessionkeeper/internal/mocks/session"
	"github.com/target/sessionkeeper/internal/observability/statsd"
	"github.com/target/sessionkeeper/internal/session"
)

var t0 = time.UnixMilli(1_700_000_000_000)

type sessionHarness struct {
	clock     *clock.Fake
	persister *sessionmocks.MemoryPersister
	store     *session.Store
	gateway   *sessionmocks.StubGateway
	nav       *sessionmocks.RecordingNavigator
	metrics   *statsd.Recorder
}

func newSessionHarness(t *testing.T) *sessionHarness {
	t.Helper()
	h := &sessionHarness{
		clock:     clock.NewFake(t0),
		persister: sessionmocks.NewMemoryPersister(),
		gateway:   &sessionmocks.StubGateway{},
		nav:       &sessionmocks.RecordingNavigator{},
		metrics:   &statsd.Recorder{},
	}
	h.store = session.NewStore(context.Background(), session.StoreOptions{Persister: h.persister})
	return h
}

func (h *sessionHarness) controller(t *testing.T, mutate ...func(*ControllerOptions)) *Controller {
	t.Helper()
	opts := ControllerOptions{
		Store:     h.store,
		Gateway:   h.gateway,
		Navigator: h.nav,
		Clock:     h.clock,
		Metrics:   h.metrics,
	}
	for _, m := range mutate {
		m(&opts)
	}
	c, err := NewController(opts)
	require.NoError(t, err)
	t.Cleanup(c.Stop)
	return c
}

// signIn commits an authenticated session whose token expires at expires.
func (h *sessionHarness) signIn(expires time.Time) {
	h.store.Update(context.Background(), func(st *domainauth.SessionState) {
		st.User = domainauth.NewUser("u1", "Ann", "ann@example.com")
		st.AccessToken = "tok-1"
		st.IsAuthenticated = true
		st.TokenExpiresAt = expires
	})
}

func authenticatedStatus(id string) func(context.Context) (domainauth.StatusResponse, error) {
	return func(context.Context) (domainauth.StatusResponse, error) {
		return domainauth.StatusResponse{IsAuthenticated: true, User: domainauth.NewUser(id, "", "")}, nil
	}
}

func renewedToken(tok string) func(context.Context) (domainauth.RefreshResponse, error) {
	return func(context.Context) (domainauth.RefreshResponse, error) {
		return domainauth.RefreshResponse{Success: true, AccessToken: tok}, nil
	}
}
