package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	domainauth "github.com/target/sessionkeeper/internal/domain/auth"
	"github.com/target/sessionkeeper/internal/observability/metrics"
	"github.com/target/sessionkeeper/internal/observability/statsd"
	"github.com/target/sessionkeeper/internal/ports"
)

// Checker runs a status reconciliation.
type Checker interface {
	CheckAuth(ctx context.Context) domainauth.Outcome
}

// InvalidationReconcilerOptions groups dependencies for InvalidationReconciler.
type InvalidationReconcilerOptions struct {
	Sources []ports.InvalidationSource
	Checker Checker
	// Limit and Burst bound how often signals may trigger a reconciliation.
	// A zero Limit allows one check per second.
	Limit   rate.Limit
	Burst   int
	Metrics statsd.Sink
	Logger  *slog.Logger
}

// InvalidationReconciler turns push signals into CheckAuth calls. Signals never
// mutate the session directly. Bursts are coalesced: a signal arriving while a
// check is pending or running schedules at most one more check.
type InvalidationReconciler struct {
	sources []ports.InvalidationSource
	checker Checker
	limiter *rate.Limiter
	metrics statsd.Sink
	logger  *slog.Logger
	pending chan ports.Signal
}

// NewInvalidationReconciler constructs an InvalidationReconciler.
func NewInvalidationReconciler(opts InvalidationReconcilerOptions) (*InvalidationReconciler, error) {
	if opts.Checker == nil {
		return nil, errors.New("Checker is required")
	}
	limit := opts.Limit
	if limit == 0 {
		limit = rate.Limit(1)
	}
	burst := opts.Burst
	if burst <= 0 {
		burst = 1
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &InvalidationReconciler{
		sources: opts.Sources,
		checker: opts.Checker,
		limiter: rate.NewLimiter(limit, burst),
		metrics: opts.Metrics,
		logger:  logger.With("component", "invalidation_reconciler"),
		pending: make(chan ports.Signal, 1),
	}, nil
}

// Run listens on every source until ctx is cancelled. A failing source is
// logged and does not stop the others; source errors are returned joined.
func (r *InvalidationReconciler) Run(ctx context.Context) error {
	var (
		g    errgroup.Group
		mu   sync.Mutex
		errs []error
	)

	workerCtx, stopWorker := context.WithCancel(ctx)
	defer stopWorker()
	done := make(chan struct{})
	go func() {
		defer close(done)
		r.work(workerCtx)
	}()

	for _, src := range r.sources {
		g.Go(func() error {
			r.logger.InfoContext(ctx, "listening for invalidation signals", "source", src.Name())
			err := src.Listen(ctx, r.Signal)
			if err != nil && ctx.Err() == nil {
				r.logger.ErrorContext(ctx, "invalidation source stopped", "source", src.Name(), "error", err)
				mu.Lock()
				errs = append(errs, fmt.Errorf("%s: %w", src.Name(), err))
				mu.Unlock()
			}
			return nil
		})
	}
	_ = g.Wait()

	<-ctx.Done()
	stopWorker()
	<-done
	return errors.Join(errs...)
}

// Signal queues a reconciliation. It never blocks.
func (r *InvalidationReconciler) Signal(sig ports.Signal) {
	select {
	case r.pending <- sig:
		metrics.EmitInvalidation(r.metrics, sig.Source, "queued")
	default:
		metrics.EmitInvalidation(r.metrics, sig.Source, "coalesced")
	}
}

func (r *InvalidationReconciler) work(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case sig := <-r.pending:
			if err := r.limiter.Wait(ctx); err != nil {
				return
			}
			outcome := r.checker.CheckAuth(ctx)
			r.logger.InfoContext(ctx, "reconciled after invalidation signal",
				"source", sig.Source, "reason", sig.Reason, "outcome", outcome)
		}
	}
}
