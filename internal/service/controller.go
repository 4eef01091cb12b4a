package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
	"golang.org/x/sync/singleflight"

	"github.com/target/sessionkeeper/internal/clock"
	domainauth "github.com/target/sessionkeeper/internal/domain/auth"
	"github.com/target/sessionkeeper/internal/observability/metrics"
	"github.com/target/sessionkeeper/internal/observability/statsd"
	"github.com/target/sessionkeeper/internal/ports"
	"github.com/target/sessionkeeper/internal/session"
)

// Navigation defaults.
const (
	DefaultSignInPath  = "/login"
	DefaultBannedParam = "banned"
)

// ControllerOptions groups dependencies for Controller.
type ControllerOptions struct {
	Store     *session.Store
	Gateway   ports.Gateway
	Navigator ports.Navigator
	Clock     clock.Clock

	RefreshPolicy RefreshPolicy
	IdlePolicy    IdlePolicy

	// SignInPath and BannedParam build the blocked-account redirect
	// ("/login?banned=true" by default).
	SignInPath  string
	BannedParam string

	Metrics statsd.Sink
	Tracer  trace.Tracer
	Logger  *slog.Logger
}

// Controller is the session lifecycle root. It owns the refresh scheduler and
// the idle monitor and is the only writer of the authenticated identity.
type Controller struct {
	store     *session.Store
	gateway   ports.Gateway
	navigator ports.Navigator
	clock     clock.Clock
	refresh   *RefreshScheduler
	idle      *IdleMonitor
	blocked   string
	metrics   statsd.Sink
	tracer    trace.Tracer
	logger    *slog.Logger

	checks singleflight.Group
	views  listeners[domainauth.View]

	mu      sync.Mutex
	ctx     context.Context
	started bool
	unsubs  []func()
}

// NewController wires a controller together with its scheduler and monitor.
func NewController(opts ControllerOptions) (*Controller, error) {
	if opts.Store == nil {
		return nil, errors.New("Store is required")
	}
	if opts.Gateway == nil {
		return nil, errors.New("Gateway is required")
	}
	if opts.Navigator == nil {
		return nil, errors.New("Navigator is required")
	}
	blocked, err := blockedTarget(opts.SignInPath, opts.BannedParam)
	if err != nil {
		return nil, err
	}

	clk := opts.Clock
	if clk == nil {
		clk = clock.Real{}
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	tracer := opts.Tracer
	if tracer == nil {
		tracer = noop.NewTracerProvider().Tracer("sessionkeeper")
	}

	c := &Controller{
		store:     opts.Store,
		gateway:   opts.Gateway,
		navigator: opts.Navigator,
		clock:     clk,
		blocked:   blocked,
		metrics:   opts.Metrics,
		tracer:    tracer,
		logger:    logger.With("component", "session_controller"),
		ctx:       context.Background(),
	}

	c.refresh, err = NewRefreshScheduler(RefreshSchedulerOptions{
		Store:       opts.Store,
		Gateway:     opts.Gateway,
		Clock:       clk,
		Policy:      opts.RefreshPolicy,
		Metrics:     opts.Metrics,
		Tracer:      tracer,
		Logger:      logger,
		OnExhausted: c.recheckAfterRefreshFailures,
	})
	if err != nil {
		return nil, fmt.Errorf("refresh scheduler: %w", err)
	}

	c.idle = NewIdleMonitor(IdleMonitorOptions{
		Clock:   clk,
		Policy:  opts.IdlePolicy,
		Metrics: opts.Metrics,
		Logger:  logger,
		OnTimeout: func(ctx context.Context) {
			_ = c.logout(ctx, domainauth.LogoutIdle)
		},
	})
	return c, nil
}

func blockedTarget(signIn, param string) (string, error) {
	if signIn == "" {
		signIn = DefaultSignInPath
	}
	if param == "" {
		param = DefaultBannedParam
	}
	u, err := url.Parse(signIn)
	if err != nil {
		return "", fmt.Errorf("parse sign-in path: %w", err)
	}
	q := u.Query()
	q.Set(param, "true")
	u.RawQuery = q.Encode()
	return u.String(), nil
}

// Refresh returns the owned refresh scheduler.
func (c *Controller) Refresh() *RefreshScheduler { return c.refresh }

// Idle returns the owned idle monitor.
func (c *Controller) Idle() *IdleMonitor { return c.idle }

// BlockedTarget returns the navigation target used for banned and forbidden sessions.
func (c *Controller) BlockedTarget() string { return c.blocked }

// Start subscribes to the store, starts the refresh cadence and arms the idle
// monitor when a rehydrated session is already authenticated.
func (c *Controller) Start(ctx context.Context) {
	c.mu.Lock()
	if c.started {
		c.mu.Unlock()
		return
	}
	c.started = true
	c.ctx = context.WithoutCancel(ctx)
	c.unsubs = append(c.unsubs,
		c.store.Subscribe(c.onStoreChange),
		c.idle.Subscribe(func(domainauth.IdleStatus) { c.publish() }),
	)
	c.mu.Unlock()

	c.refresh.Start(ctx)
	if st := c.store.Get(); st.IsAuthenticated {
		c.idle.Arm(ctx)
		c.logger.InfoContext(ctx, "resumed persisted session", "user_id", st.User.ID)
	}
}

// Stop tears down every timer and subscription. The controller may be started again.
func (c *Controller) Stop() {
	c.mu.Lock()
	if !c.started {
		c.mu.Unlock()
		return
	}
	c.started = false
	unsubs := c.unsubs
	c.unsubs = nil
	c.mu.Unlock()

	for _, unsub := range unsubs {
		unsub()
	}
	c.refresh.Stop()
	c.idle.Disarm()
}

func (c *Controller) onStoreChange(prev, next domainauth.SessionState) {
	c.mu.Lock()
	ctx, started := c.ctx, c.started
	c.mu.Unlock()

	if next.IsAuthenticated {
		if started {
			c.idle.Arm(ctx)
		}
	} else {
		c.idle.Disarm()
	}
	if prev != next {
		c.publish()
	}
}

// Login navigates to the provider's login entry point. It does not touch local state.
func (c *Controller) Login(ctx context.Context) error {
	target, err := c.gateway.LoginURL(ctx)
	if err != nil {
		c.logger.ErrorContext(ctx, "failed to resolve login URL", "error", err)
		return fmt.Errorf("login url: %w", err)
	}
	if err := c.navigator.Navigate(ctx, target); err != nil {
		c.logger.ErrorContext(ctx, "login navigation failed", "error", err)
		return fmt.Errorf("navigate to login: %w", err)
	}
	return nil
}

// Logout clears the session and navigates to the provider's logout entry
// point. It is safe to call repeatedly.
func (c *Controller) Logout(ctx context.Context) error {
	return c.logout(ctx, domainauth.LogoutUser)
}

func (c *Controller) logout(ctx context.Context, reason domainauth.LogoutReason) error {
	was := c.store.Get().IsAuthenticated
	c.store.Clear(ctx)
	if was {
		metrics.EmitLogout(c.metrics, string(reason))
		c.logger.InfoContext(ctx, "session logged out", "reason", reason)
	}

	target, err := c.gateway.LogoutURL(ctx)
	if err != nil {
		c.logger.ErrorContext(ctx, "failed to resolve logout URL", "reason", reason, "error", err)
		return fmt.Errorf("logout url: %w", err)
	}
	if err := c.navigator.Navigate(ctx, target); err != nil {
		c.logger.ErrorContext(ctx, "logout navigation failed", "reason", reason, "error", err)
		return fmt.Errorf("navigate to logout: %w", err)
	}
	return nil
}

// CheckAuth reconciles the local session with the provider and returns the
// classified outcome. Loading is always cleared before it returns.
//
// Concurrent calls share one reconciliation, and that reconciliation is
// detached from the cancellation of whichever caller started it: a caller that
// goes away must not turn into a network error that wipes the session. The
// gateway's own timeout bounds the round trip.
func (c *Controller) CheckAuth(ctx context.Context) domainauth.Outcome {
	detached := context.WithoutCancel(ctx)
	v, _, shared := c.checks.Do("check", func() (any, error) {
		return c.checkAuth(detached), nil
	})
	if shared {
		c.logger.DebugContext(ctx, "status check shared with concurrent callers")
	}
	return v.(domainauth.Outcome)
}

func (c *Controller) checkAuth(ctx context.Context) domainauth.Outcome {
	ctx, span := c.tracer.Start(ctx, "session.check_auth")
	defer span.End()
	start := time.Now()

	c.store.Update(ctx, func(st *domainauth.SessionState) { st.IsLoading = true })
	defer c.store.Update(ctx, func(st *domainauth.SessionState) { st.IsLoading = false })

	if result, err := c.refresh.MaybeRefresh(ctx); err != nil {
		c.logger.InfoContext(ctx, "refresh before status check failed; continuing", "error", err)
	} else if result == RefreshRenewed {
		c.logger.DebugContext(ctx, "token renewed before status check")
	}

	resp, err := c.gateway.Status(ctx)
	outcome := Classify(resp, err)
	span.SetAttributes(attribute.String("session.outcome", string(outcome)))

	switch outcome {
	case domainauth.OutcomeAuthenticated:
		expires := c.refresh.Expiry(c.clock.Now())
		c.store.Update(ctx, func(st *domainauth.SessionState) {
			st.User = resp.User
			st.AccessToken = resp.Token
			st.IsAuthenticated = true
			st.TokenExpiresAt = expires
		})
	case domainauth.OutcomeBanned, domainauth.OutcomeForbidden:
		c.store.Clear(ctx)
		c.logger.WarnContext(ctx, "session blocked by provider", "outcome", outcome)
		if navErr := c.navigator.Navigate(ctx, c.blocked); navErr != nil {
			c.logger.ErrorContext(ctx, "blocked navigation failed", "error", navErr)
		}
	case domainauth.OutcomeNetworkError:
		c.store.Clear(ctx)
		c.logger.WarnContext(ctx, "status check failed; treating as unauthenticated", "error", err)
	default:
		c.store.Clear(ctx)
	}

	metrics.EmitCheckAuth(c.metrics, metrics.CheckAuthMetric{
		Outcome:  string(outcome),
		Duration: time.Since(start),
		Err:      err,
	})
	c.logger.DebugContext(ctx, "status reconciled", "outcome", outcome)
	return outcome
}

// Classify maps a status response or error to one of the five outcomes.
// A ban flag wins over the authentication flags in the same payload.
func Classify(resp domainauth.StatusResponse, err error) domainauth.Outcome {
	switch {
	case errors.Is(err, ports.ErrForbidden):
		return domainauth.OutcomeForbidden
	case err != nil:
		return domainauth.OutcomeNetworkError
	case resp.Banned:
		return domainauth.OutcomeBanned
	case resp.IsAuthenticated && resp.User != nil:
		return domainauth.OutcomeAuthenticated
	default:
		return domainauth.OutcomeUnauthenticated
	}
}

func (c *Controller) recheckAfterRefreshFailures(ctx context.Context) {
	if outcome := c.CheckAuth(ctx); outcome != domainauth.OutcomeAuthenticated {
		metrics.EmitLogout(c.metrics, string(domainauth.LogoutExhausted))
		c.logger.WarnContext(ctx, "session ended after repeated refresh failures", "outcome", outcome)
	}
}

// ResetActivity is the "continue session" action. It is a no-op while unauthenticated.
func (c *Controller) ResetActivity() bool {
	if !c.store.Get().IsAuthenticated {
		return false
	}
	return c.idle.Reset()
}

// RecordActivity feeds an input event to the idle monitor.
func (c *Controller) RecordActivity(kind domainauth.ActivityKind) bool {
	return c.idle.RecordActivity(kind)
}

// Snapshot returns the reactive view of the session.
func (c *Controller) Snapshot() domainauth.View {
	st := c.store.Get()
	idle := c.idle.Status()
	return domainauth.View{
		User:            st.User,
		IsAuthenticated: st.IsAuthenticated,
		IsLoading:       st.IsLoading,
		ShowWarning:     idle.ShowWarning,
		RemainingTime:   idle.RemainingTime,
	}
}

// Subscribe registers fn for every view change while the controller is started.
func (c *Controller) Subscribe(fn func(domainauth.View)) func() {
	return c.views.add(fn)
}

func (c *Controller) publish() {
	c.views.emit(c.Snapshot())
}
