package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
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

// ErrRefreshExhausted is returned by MaybeRefresh when the consecutive failure
// bound is reached. The failure counter is reset when it is returned.
var ErrRefreshExhausted = errors.New("token refresh failures exhausted")

// RefreshPolicy configures token renewal.
type RefreshPolicy struct {
	TokenLifetime          time.Duration // lifetime assigned to every issued token
	RefreshMargin          time.Duration // renew once the remaining lifetime drops below this
	Interval               time.Duration // scheduler tick period
	MaxConsecutiveFailures int           // failures before OnExhausted fires; <= 0 disables the bound
}

// DefaultRefreshPolicy returns the 15m lifetime / 2m margin / 60s tick policy.
func DefaultRefreshPolicy() RefreshPolicy {
	return RefreshPolicy{
		TokenLifetime:          15 * time.Minute,
		RefreshMargin:          2 * time.Minute,
		Interval:               time.Minute,
		MaxConsecutiveFailures: 3,
	}
}

func (p RefreshPolicy) withDefaults() RefreshPolicy {
	d := DefaultRefreshPolicy()
	if p.TokenLifetime <= 0 {
		p.TokenLifetime = d.TokenLifetime
	}
	if p.RefreshMargin < 0 {
		p.RefreshMargin = 0
	}
	if p.Interval <= 0 {
		p.Interval = d.Interval
	}
	return p
}

// RefreshResult describes what a MaybeRefresh call did.
type RefreshResult string

const (
	RefreshNoToken   RefreshResult = "no_token"
	RefreshNotDue    RefreshResult = "not_due"
	RefreshRenewed   RefreshResult = "renewed"
	RefreshFailed    RefreshResult = "failed"
	RefreshDiscarded RefreshResult = "discarded" // renewed, but the session ended meanwhile
)

// RefreshSchedulerOptions groups dependencies for RefreshScheduler.
type RefreshSchedulerOptions struct {
	Store   *session.Store
	Gateway ports.Gateway
	Clock   clock.Clock
	Policy  RefreshPolicy
	Metrics statsd.Sink
	Tracer  trace.Tracer
	Logger  *slog.Logger

	// OnExhausted runs from the scheduler tick after MaxConsecutiveFailures
	// refresh failures in a row.
	OnExhausted func(ctx context.Context)
}

// RefreshScheduler keeps the access token warm on a fixed cadence,
// independent of user activity.
type RefreshScheduler struct {
	store       *session.Store
	gateway     ports.Gateway
	clock       clock.Clock
	policy      RefreshPolicy
	metrics     statsd.Sink
	tracer      trace.Tracer
	logger      *slog.Logger
	onExhausted func(ctx context.Context)

	flight   singleflight.Group
	failures atomic.Int32

	mu    sync.Mutex
	timer clock.Timer
}

// NewRefreshScheduler constructs a RefreshScheduler.
func NewRefreshScheduler(opts RefreshSchedulerOptions) (*RefreshScheduler, error) {
	if opts.Store == nil {
		return nil, errors.New("Store is required")
	}
	if opts.Gateway == nil {
		return nil, errors.New("Gateway is required")
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
	return &RefreshScheduler{
		store:       opts.Store,
		gateway:     opts.Gateway,
		clock:       clk,
		policy:      opts.Policy.withDefaults(),
		metrics:     opts.Metrics,
		tracer:      tracer,
		logger:      logger.With("component", "refresh_scheduler"),
		onExhausted: opts.OnExhausted,
	}, nil
}

// Policy returns the effective policy.
func (r *RefreshScheduler) Policy() RefreshPolicy { return r.policy }

// Failures returns the current consecutive failure count.
func (r *RefreshScheduler) Failures() int { return int(r.failures.Load()) }

// Due reports whether st carries a token close enough to expiry to renew at now.
func (r *RefreshScheduler) Due(st domainauth.SessionState, now time.Time) bool {
	if !st.HasToken() {
		return false
	}
	return now.After(st.TokenExpiresAt.Add(-r.policy.RefreshMargin))
}

// Expiry returns the expiry to assign to a token issued at now.
func (r *RefreshScheduler) Expiry(now time.Time) time.Time {
	return domainauth.ExpiryFrom(now, r.policy.TokenLifetime)
}

type refreshOutcome struct {
	result RefreshResult
	err    error
}

// MaybeRefresh renews the token when it is due. Concurrent calls share one
// gateway round trip. A failure never clears the existing token.
func (r *RefreshScheduler) MaybeRefresh(ctx context.Context) (RefreshResult, error) {
	v, _, _ := r.flight.Do("refresh", func() (any, error) {
		result, err := r.refresh(ctx)
		return refreshOutcome{result: result, err: err}, nil
	})
	out := v.(refreshOutcome)
	return out.result, out.err
}

func (r *RefreshScheduler) refresh(ctx context.Context) (RefreshResult, error) {
	if st := r.store.Get(); !r.Due(st, r.clock.Now()) {
		if st.HasToken() {
			return RefreshNotDue, nil
		}
		return RefreshNoToken, nil
	}

	ctx, span := r.tracer.Start(ctx, "session.refresh")
	defer span.End()

	start := time.Now()
	resp, err := r.gateway.Refresh(ctx)
	if err == nil && (!resp.Success || resp.AccessToken == "") {
		err = ports.ErrRefreshRejected
	}
	if err != nil {
		return RefreshFailed, r.recordFailure(ctx, span, start, err)
	}

	r.failures.Store(0)
	now := r.clock.Now()
	discarded := false
	r.store.Update(ctx, func(st *domainauth.SessionState) {
		if st.User == nil {
			discarded = true
			return
		}
		st.AccessToken = resp.AccessToken
		st.TokenExpiresAt = r.Expiry(now)
	})

	result := RefreshRenewed
	if discarded {
		result = RefreshDiscarded
		r.logger.InfoContext(ctx, "refresh landed after session ended; discarded")
	} else {
		r.logger.DebugContext(ctx, "access token renewed", "expires_at", r.Expiry(now))
	}
	span.SetAttributes(attribute.String("session.refresh.result", string(result)))
	metrics.EmitRefresh(r.metrics, metrics.RefreshMetric{
		Result:   metrics.ResultSuccess,
		Duration: time.Since(start),
	})
	return result, nil
}

func (r *RefreshScheduler) recordFailure(ctx context.Context, span trace.Span, start time.Time, err error) error {
	failures := int(r.failures.Add(1))
	span.RecordError(err)
	span.SetStatus(codes.Error, "refresh failed")
	metrics.EmitRefresh(r.metrics, metrics.RefreshMetric{
		Result:   metrics.ResultError,
		Failures: failures,
		Duration: time.Since(start),
		Err:      err,
	})
	r.logger.WarnContext(ctx, "token refresh failed; keeping current token",
		"consecutive_failures", failures, "error", err)

	if limit := r.policy.MaxConsecutiveFailures; limit > 0 && failures >= limit {
		r.failures.Store(0)
		return fmt.Errorf("%w after %d attempts: %w", ErrRefreshExhausted, failures, err)
	}
	return fmt.Errorf("refresh token: %w", err)
}

// Start arms the repeating refresh tick. Calling Start twice is a no-op.
func (r *RefreshScheduler) Start(ctx context.Context) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.timer != nil {
		return
	}
	r.timer = r.clock.Every(r.policy.Interval, func() { r.tick(ctx) })
	r.logger.DebugContext(ctx, "refresh scheduler started", "interval", r.policy.Interval)
}

// Stop clears the refresh tick.
func (r *RefreshScheduler) Stop() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.timer == nil {
		return
	}
	r.timer.Stop()
	r.timer = nil
}

func (r *RefreshScheduler) tick(ctx context.Context) {
	if ctx.Err() != nil {
		return
	}
	_, err := r.MaybeRefresh(ctx)
	if errors.Is(err, ErrRefreshExhausted) && r.onExhausted != nil {
		r.logger.WarnContext(ctx, "refresh failures exhausted; rechecking session status")
		r.onExhausted(ctx)
	}
}
