package bootstrap

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"golang.org/x/sync/errgroup"

	"github.com/target/sessionkeeper/config"
	"github.com/target/sessionkeeper/internal/adapters/oidc"
	httpx "github.com/target/sessionkeeper/internal/http"
	"github.com/target/sessionkeeper/internal/observability/statsd"
	"github.com/target/sessionkeeper/internal/ports"
	"github.com/target/sessionkeeper/internal/service"
	"github.com/target/sessionkeeper/internal/session"
)

// Agent is a fully wired session lifecycle runtime.
type Agent struct {
	Config     *config.AppConfig
	Store      *session.Store
	Gateway    ports.Gateway
	Controller *service.Controller
	Reconciler *service.InvalidationReconciler

	infra   *Infrastructure
	metrics *statsd.Client
	logger  *slog.Logger
}

// AgentOptions groups dependencies for NewAgent.
type AgentOptions struct {
	Config    *config.AppConfig
	Navigator ports.Navigator
	Logger    *slog.Logger

	// Gateway overrides the configured gateway when set.
	Gateway ports.Gateway
	// Infrastructure overrides ConnectInfrastructure when set.
	Infrastructure *Infrastructure
}

// NewAgent connects infrastructure and wires every component from configuration.
func NewAgent(ctx context.Context, opts AgentOptions) (*Agent, error) {
	if opts.Config == nil {
		return nil, errors.New("config is required")
	}
	if opts.Navigator == nil {
		return nil, errors.New("navigator is required")
	}
	cfg := opts.Config
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	infra := opts.Infrastructure
	if infra == nil {
		var err error
		if infra, err = ConnectInfrastructure(ctx, cfg, logger); err != nil {
			return nil, err
		}
	}

	a := &Agent{Config: cfg, infra: infra, logger: logger}
	if err := a.wire(ctx, opts); err != nil {
		return nil, errors.Join(err, a.Close())
	}
	return a, nil
}

func (a *Agent) wire(ctx context.Context, opts AgentOptions) error {
	cfg := a.Config

	persister, err := BuildPersister(cfg, a.infra)
	if err != nil {
		return fmt.Errorf("build persister: %w", err)
	}
	a.Store = session.NewStore(ctx, session.StoreOptions{Persister: persister, Logger: a.logger})

	a.Gateway = opts.Gateway
	if a.Gateway == nil {
		if a.Gateway, err = BuildGateway(ctx, cfg, a.logger); err != nil {
			return fmt.Errorf("build gateway: %w", err)
		}
	}

	var sink statsd.Sink
	if a.metrics = BuildMetrics(cfg.Observability, a.logger); a.metrics != nil {
		sink = a.metrics
	}
	tracer := BuildTracer(cfg.Observability.Tracing)

	a.Controller, err = BuildController(cfg, ControllerDeps{
		Store:     a.Store,
		Gateway:   a.Gateway,
		Navigator: opts.Navigator,
		Metrics:   sink,
		Tracer:    tracer,
		Logger:    a.logger,
	})
	if err != nil {
		return fmt.Errorf("build controller: %w", err)
	}

	sources, err := BuildSources(cfg, a.infra, persister, a.logger)
	if err != nil {
		return fmt.Errorf("build invalidation sources: %w", err)
	}
	a.Reconciler, err = BuildReconciler(cfg, sources, a.Controller, sink, a.logger)
	if err != nil {
		return fmt.Errorf("build reconciler: %w", err)
	}
	return nil
}

// Run starts the controller, performs the initial status check and keeps the
// invalidation reconciler (and the control API when enabled) running until
// ctx is cancelled.
func (a *Agent) Run(ctx context.Context) error {
	a.Controller.Start(ctx)
	defer a.Controller.Stop()

	outcome := a.Controller.CheckAuth(ctx)
	a.logger.InfoContext(ctx, "initial session check", "outcome", outcome)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		// Source failures are not fatal; the session keeps working on its timers.
		if err := a.Reconciler.Run(gctx); err != nil {
			a.logger.WarnContext(gctx, "invalidation sources stopped", "error", err)
		}
		return nil
	})
	if a.Config.HTTP.Enabled {
		g.Go(func() error {
			return httpx.Serve(gctx, a.Config.HTTP.Addr, a.Router(), a.logger)
		})
	}
	return g.Wait()
}

// Router builds the control API handler over the agent's controller.
func (a *Agent) Router() http.Handler {
	opts := httpx.RouterOptions{Controller: a.Controller, Logger: a.logger}
	if gw, ok := a.Gateway.(*oidc.Gateway); ok {
		opts.Completer = gw
	}
	return httpx.NewRouter(opts)
}

// Close releases infrastructure and the metrics sink.
func (a *Agent) Close() error {
	var errs []error
	if a.metrics != nil {
		if err := a.metrics.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close statsd: %w", err))
		}
	}
	if err := a.infra.Close(); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}
