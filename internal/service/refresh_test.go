package service

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	domainauth "github.com/target/sessionkeeper/internal/domain/auth"
	"github.com/target/sessionkeeper/internal/observability/metrics"
	"github.com/target/sessionkeeper/internal/ports"
)

func newTestScheduler(t *testing.T, h *sessionHarness, mutate ...func(*RefreshSchedulerOptions)) *RefreshScheduler {
	t.Helper()
	opts := RefreshSchedulerOptions{
		Store:   h.store,
		Gateway: h.gateway,
		Clock:   h.clock,
		Policy:  DefaultRefreshPolicy(),
		Metrics: h.metrics,
	}
	for _, m := range mutate {
		m(&opts)
	}
	r, err := NewRefreshScheduler(opts)
	require.NoError(t, err)
	t.Cleanup(r.Stop)
	return r
}

func TestNewRefreshScheduler_RequiredDependencies(t *testing.T) {
	h := newSessionHarness(t)

	_, err := NewRefreshScheduler(RefreshSchedulerOptions{Gateway: h.gateway})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "Store is required")

	_, err = NewRefreshScheduler(RefreshSchedulerOptions{Store: h.store})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "Gateway is required")
}

func TestRefreshPolicy_Defaults(t *testing.T) {
	p := RefreshPolicy{RefreshMargin: -time.Second}.withDefaults()
	assert.Equal(t, 15*time.Minute, p.TokenLifetime)
	assert.Equal(t, time.Duration(0), p.RefreshMargin)
	assert.Equal(t, time.Minute, p.Interval)
}

func TestRefreshScheduler_NoTokenIsNoop(t *testing.T) {
	h := newSessionHarness(t)
	r := newTestScheduler(t, h)

	result, err := r.MaybeRefresh(context.Background())
	require.NoError(t, err)
	assert.Equal(t, RefreshNoToken, result)
	assert.Equal(t, 0, h.gateway.RefreshCalls())
}

func TestRefreshScheduler_Due(t *testing.T) {
	h := newSessionHarness(t)
	r := newTestScheduler(t, h)
	st := domainauth.SessionState{TokenExpiresAt: t0.Add(15 * time.Minute)}

	assert.False(t, r.Due(domainauth.SessionState{}, t0))
	assert.False(t, r.Due(st, t0.Add(13*time.Minute)), "exactly at the margin is not due")
	assert.True(t, r.Due(st, t0.Add(13*time.Minute+time.Millisecond)))
	assert.True(t, r.Due(st, t0.Add(time.Hour)), "expired tokens are due")
}

// Token issued at t=0 with a 15m lifetime and a 2m margin: exactly one
// refresh attempt at or after 780000ms and none before.
func TestRefreshScheduler_RefreshesOnceAfterMargin(t *testing.T) {
	h := newSessionHarness(t)
	h.gateway.RefreshFn = renewedToken("tok-2")
	h.signIn(domainauth.ExpiryFrom(t0, 15*time.Minute))
	r := newTestScheduler(t, h)
	r.Start(context.Background())

	h.clock.Advance(779_999 * time.Millisecond)
	assert.Equal(t, 0, h.gateway.RefreshCalls())

	h.clock.Advance(time.Millisecond)
	assert.Equal(t, 0, h.gateway.RefreshCalls(), "the tick at 780000ms is not past the margin")

	h.clock.Advance(time.Minute)
	require.Equal(t, 1, h.gateway.RefreshCalls())

	st := h.store.Get()
	assert.Equal(t, "tok-2", st.AccessToken)
	assert.Equal(t, t0.Add(840*time.Second+15*time.Minute).UnixMilli(), st.TokenExpiresAt.UnixMilli())

	h.clock.Advance(10 * time.Minute)
	assert.Equal(t, 1, h.gateway.RefreshCalls())
	assert.Len(t, h.metrics.Find(metrics.RefreshCount), 1)
}

func TestRefreshScheduler_FailureKeepsToken(t *testing.T) {
	h := newSessionHarness(t)
	h.gateway.RefreshFn = func(context.Context) (domainauth.RefreshResponse, error) {
		return domainauth.RefreshResponse{}, errors.New("connection refused")
	}
	expires := t0.Add(time.Minute)
	h.signIn(expires)
	before := h.store.Get()
	r := newTestScheduler(t, h)

	result, err := r.MaybeRefresh(context.Background())
	require.Error(t, err)
	assert.Equal(t, RefreshFailed, result)
	assert.Equal(t, 1, r.Failures())

	after := h.store.Get()
	assert.Equal(t, before.AccessToken, after.AccessToken)
	assert.True(t, before.TokenExpiresAt.Equal(after.TokenExpiresAt))
	assert.True(t, after.IsAuthenticated)
}

func TestRefreshScheduler_RejectedResponses(t *testing.T) {
	tests := []struct {
		name string
		resp domainauth.RefreshResponse
	}{
		{"success false", domainauth.RefreshResponse{Success: false, AccessToken: "x"}},
		{"missing token", domainauth.RefreshResponse{Success: true}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newSessionHarness(t)
			h.gateway.RefreshFn = func(context.Context) (domainauth.RefreshResponse, error) { return tt.resp, nil }
			h.signIn(t0)
			r := newTestScheduler(t, h)

			_, err := r.MaybeRefresh(context.Background())
			require.ErrorIs(t, err, ports.ErrRefreshRejected)
			assert.Equal(t, "tok-1", h.store.Get().AccessToken)
		})
	}
}

func TestRefreshScheduler_ExhaustionInvokesHook(t *testing.T) {
	h := newSessionHarness(t)
	h.signIn(t0.Add(time.Minute))
	var exhausted int
	r := newTestScheduler(t, h, func(o *RefreshSchedulerOptions) {
		o.OnExhausted = func(context.Context) { exhausted++ }
	})
	r.Start(context.Background())

	h.clock.Advance(2 * time.Minute)
	assert.Equal(t, 2, r.Failures())
	assert.Equal(t, 0, exhausted)

	h.clock.Advance(time.Minute)
	assert.Equal(t, 1, exhausted)
	assert.Equal(t, 0, r.Failures(), "counter resets after exhaustion")
	assert.Equal(t, "tok-1", h.store.Get().AccessToken)

	h.clock.Advance(3 * time.Minute)
	assert.Equal(t, 2, exhausted)
}

func TestRefreshScheduler_ExhaustedErrorFromDirectCall(t *testing.T) {
	h := newSessionHarness(t)
	h.signIn(t0)
	r := newTestScheduler(t, h, func(o *RefreshSchedulerOptions) {
		o.Policy.MaxConsecutiveFailures = 1
	})

	_, err := r.MaybeRefresh(context.Background())
	require.ErrorIs(t, err, ErrRefreshExhausted)
	require.ErrorIs(t, err, ports.ErrRefreshRejected)
}

func TestRefreshScheduler_DiscardsAfterLogout(t *testing.T) {
	h := newSessionHarness(t)
	h.signIn(t0)
	h.gateway.RefreshFn = func(ctx context.Context) (domainauth.RefreshResponse, error) {
		h.store.Clear(ctx)
		return domainauth.RefreshResponse{Success: true, AccessToken: "late"}, nil
	}
	r := newTestScheduler(t, h)

	result, err := r.MaybeRefresh(context.Background())
	require.NoError(t, err)
	assert.Equal(t, RefreshDiscarded, result)
	st := h.store.Get()
	assert.Empty(t, st.AccessToken)
	assert.False(t, st.HasToken())
}

func TestRefreshScheduler_ConcurrentCallsRefreshOnce(t *testing.T) {
	h := newSessionHarness(t)
	h.signIn(t0)
	release := make(chan struct{})
	h.gateway.RefreshFn = func(context.Context) (domainauth.RefreshResponse, error) {
		<-release
		return domainauth.RefreshResponse{Success: true, AccessToken: "tok-2"}, nil
	}
	r := newTestScheduler(t, h)

	var wg sync.WaitGroup
	results := make([]RefreshResult, 2)
	for i := range results {
		wg.Add(1)
		go func() {
			defer wg.Done()
			results[i], _ = r.MaybeRefresh(context.Background())
		}()
	}
	require.Eventually(t, func() bool { return h.gateway.RefreshCalls() == 1 }, time.Second, time.Millisecond)
	close(release)
	wg.Wait()

	assert.Equal(t, 1, h.gateway.RefreshCalls())
	for _, res := range results {
		assert.Contains(t, []RefreshResult{RefreshRenewed, RefreshNotDue}, res)
	}
}

func TestRefreshScheduler_StartIsIdempotentAndStopHalts(t *testing.T) {
	h := newSessionHarness(t)
	h.signIn(t0)
	r := newTestScheduler(t, h)

	r.Start(context.Background())
	r.Start(context.Background())
	assert.Equal(t, 1, h.clock.Pending())

	h.clock.Advance(time.Minute)
	assert.Equal(t, 1, h.gateway.RefreshCalls())

	r.Stop()
	r.Stop()
	assert.Equal(t, 0, h.clock.Pending())
	h.clock.Advance(5 * time.Minute)
	assert.Equal(t, 1, h.gateway.RefreshCalls())
}

func TestRefreshScheduler_TickStopsAfterContextCancel(t *testing.T) {
	h := newSessionHarness(t)
	h.signIn(t0)
	r := newTestScheduler(t, h)

	ctx, cancel := context.WithCancel(context.Background())
	r.Start(ctx)
	cancel()
	h.clock.Advance(time.Minute)
	assert.Equal(t, 0, h.gateway.RefreshCalls())
}
