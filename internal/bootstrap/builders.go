package bootstrap

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
	"golang.org/x/time/rate"

	"github.com/target/sessionkeeper/config"
	"github.com/target/sessionkeeper/internal/adapters/devgateway"
	"github.com/target/sessionkeeper/internal/adapters/filestore"
	"github.com/target/sessionkeeper/internal/adapters/httpgateway"
	"github.com/target/sessionkeeper/internal/adapters/oidc"
	redisadapter "github.com/target/sessionkeeper/internal/adapters/redis"
	"github.com/target/sessionkeeper/internal/adapters/sqlstore"
	"github.com/target/sessionkeeper/internal/adapters/wsfeed"
	"github.com/target/sessionkeeper/internal/cryptoutil"
	"github.com/target/sessionkeeper/internal/observability/statsd"
	"github.com/target/sessionkeeper/internal/ports"
	"github.com/target/sessionkeeper/internal/service"
	"github.com/target/sessionkeeper/internal/session"
)

const appName = "sessionkeeper"

// BuildPersister selects the durable backend for the session record.
// The memory backend returns a nil persister.
//
//nolint:ireturn // callers only need the port.
func BuildPersister(cfg *config.AppConfig, infra *Infrastructure) (ports.StatePersister, error) {
	p, err := buildBackend(cfg, infra)
	if err != nil || p == nil || cfg.Store.EncryptionKey == "" {
		return p, err
	}
	key, err := cryptoutil.ParseKey(cfg.Store.EncryptionKey)
	if err != nil {
		return nil, err
	}
	sealer, err := cryptoutil.NewAESGCM(key)
	if err != nil {
		return nil, err
	}
	return session.NewSealedPersister(p, sealer)
}

//nolint:ireturn // callers only need the port.
func buildBackend(cfg *config.AppConfig, infra *Infrastructure) (ports.StatePersister, error) {
	switch cfg.Store.Backend {
	case config.StoreBackendMemory:
		return nil, nil
	case config.StoreBackendFile, "":
		dir, err := stateDir(cfg.Store.Dir)
		if err != nil {
			return nil, err
		}
		return filestore.NewStore(dir, cfg.Store.Key)
	case config.StoreBackendRedis:
		if infra == nil || infra.Redis == nil {
			return nil, errors.New("redis store requires a redis connection")
		}
		opts := redisadapter.StateStoreOptions{
			Client: infra.Redis,
			Key:    cfg.Store.Key,
			Prefix: cfg.Store.RedisPrefix,
			TTL:    cfg.Store.RedisTTL,
		}
		if cfg.Push.Source == config.PushSourceRedis {
			opts.Channel = cfg.Push.Channel
		}
		return redisadapter.NewStateStore(opts)
	case config.StoreBackendSQLite, config.StoreBackendPostgres:
		dialect, _ := sqlDialect(cfg.Store.Backend)
		if infra == nil || infra.DB == nil {
			return nil, fmt.Errorf("%s store requires a database connection", dialect)
		}
		return sqlstore.New(sqlstore.Options{DB: infra.DB, Dialect: dialect, Key: cfg.Store.Key})
	default:
		return nil, fmt.Errorf("unsupported store backend %q", cfg.Store.Backend)
	}
}

// stateDir resolves the file backend directory, defaulting to the user config dir.
func stateDir(dir string) (string, error) {
	if dir != "" {
		return dir, nil
	}
	base, err := os.UserConfigDir()
	if err != nil {
		return "", fmt.Errorf("resolve state dir: %w", err)
	}
	return filepath.Join(base, appName), nil
}

// BuildGateway constructs the configured auth backend.
//
//nolint:ireturn // the concrete gateway depends on configuration.
func BuildGateway(ctx context.Context, cfg *config.AppConfig, logger *slog.Logger) (ports.Gateway, error) {
	gw := cfg.Gateway
	switch gw.Mode {
	case config.GatewayModeHTTP, "":
		opts := []httpgateway.Option{
			httpgateway.WithTimeout(gw.Timeout),
			httpgateway.WithLogger(logger),
		}
		if gw.SessionCookie != "" {
			cookies, err := http.ParseCookie(gw.SessionCookie)
			if err != nil {
				return nil, fmt.Errorf("parse session cookie: %w", err)
			}
			opts = append(opts, httpgateway.WithCookies(cookies...))
		}
		return httpgateway.New(httpgateway.Config{
			BaseURL:     gw.BaseURL,
			StatusPath:  gw.StatusPath,
			RefreshPath: gw.RefreshPath,
			LoginPath:   gw.LoginPath,
			LogoutPath:  gw.LogoutPath,
		}, opts...)
	case config.GatewayModeOIDC:
		return oidc.NewGateway(ctx, oidc.GatewayConfig{
			ClientID:      gw.OAuth.ClientID,
			ClientSecret:  gw.OAuth.ClientSecret,
			RedirectURL:   gw.OAuth.RedirectURL,
			Scope:         gw.OAuth.Scope,
			DiscoveryURL:  gw.OAuth.DiscoveryURL,
			LogoutURL:     gw.OAuth.LogoutURL,
			BanExpression: gw.OAuth.BanExpression,
			HTTPClient:    &http.Client{Timeout: gw.Timeout},
			Logger:        logger,
		})
	case config.GatewayModeMock:
		if !cfg.IsDev {
			logger.WarnContext(ctx, "mock gateway enabled outside dev mode")
		}
		return devgateway.New(devgateway.Config{
			UserID: gw.DevUser.UserID,
			Name:   gw.DevUser.Name,
			Email:  gw.DevUser.Email,
			Mode:   devgateway.Mode(gw.DevUser.State),
		})
	default:
		return nil, fmt.Errorf("unsupported gateway mode %q", gw.Mode)
	}
}

// BuildSources constructs the configured invalidation sources.
func BuildSources(
	cfg *config.AppConfig,
	infra *Infrastructure,
	persister ports.StatePersister,
	logger *slog.Logger,
) ([]ports.InvalidationSource, error) {
	if sealed, ok := persister.(*session.SealedPersister); ok {
		persister = sealed.Unwrap()
	}
	switch cfg.Push.Source {
	case config.PushSourceNone, "":
		return nil, nil
	case config.PushSourceFile:
		fs, ok := persister.(*filestore.Store)
		if !ok {
			return nil, errors.New("file push source requires the file store backend")
		}
		w, err := filestore.NewWatcher(filestore.WatcherOptions{Store: fs, Logger: logger})
		if err != nil {
			return nil, err
		}
		return []ports.InvalidationSource{w}, nil
	case config.PushSourceRedis:
		if infra == nil || infra.Redis == nil {
			return nil, errors.New("redis push source requires a redis connection")
		}
		opts := redisadapter.SubscriberOptions{
			Client:  infra.Redis,
			Channel: cfg.Push.Channel,
			Logger:  logger,
		}
		if rs, ok := persister.(*redisadapter.StateStore); ok {
			opts.IgnoreInstance = rs.InstanceID()
		}
		sub, err := redisadapter.NewSubscriber(opts)
		if err != nil {
			return nil, err
		}
		return []ports.InvalidationSource{sub}, nil
	case config.PushSourceWebsocket:
		header := http.Header{}
		if cfg.Gateway.SessionCookie != "" {
			header.Set("Cookie", cfg.Gateway.SessionCookie)
		}
		src, err := wsfeed.New(wsfeed.Options{
			URL:            cfg.Push.WebsocketURL,
			Header:         header,
			InitialBackoff: cfg.Push.InitialBackoff,
			MaxBackoff:     cfg.Push.MaxBackoff,
			Logger:         logger,
		})
		if err != nil {
			return nil, err
		}
		return []ports.InvalidationSource{src}, nil
	default:
		return nil, fmt.Errorf("unsupported push source %q", cfg.Push.Source)
	}
}

// BuildMetrics returns the StatsD sink, or nil when metrics are disabled.
// A sink that fails to dial is logged and skipped.
func BuildMetrics(cfg config.ObservabilityConfig, logger *slog.Logger) *statsd.Client {
	if !cfg.Metrics.IsEnabled() {
		return nil
	}
	client, err := statsd.NewClient(statsd.Config{
		Enabled: true,
		Address: cfg.Metrics.StatsdAddress,
		Prefix:  cfg.Metrics.Prefix,
		Logger:  logger,
	})
	if err != nil {
		logger.Error("failed to initialise statsd client", "error", err)
		return nil
	}
	return client
}

// BuildTracer returns the global tracer when tracing is enabled and a noop
// tracer otherwise. Exporters are installed by the embedding program.
//
//nolint:ireturn // trace.Tracer is the API surface.
func BuildTracer(cfg config.ObservabilityTracingConfig) trace.Tracer {
	if !cfg.Enabled {
		return noop.NewTracerProvider().Tracer(cfg.ServiceName)
	}
	return otel.Tracer(cfg.ServiceName)
}

// ControllerDeps groups what BuildController needs beyond configuration.
type ControllerDeps struct {
	Store     *session.Store
	Gateway   ports.Gateway
	Navigator ports.Navigator
	Metrics   statsd.Sink
	Tracer    trace.Tracer
	Logger    *slog.Logger
}

// BuildController wires the session controller from configuration.
func BuildController(cfg *config.AppConfig, deps ControllerDeps) (*service.Controller, error) {
	return service.NewController(service.ControllerOptions{
		Store:     deps.Store,
		Gateway:   deps.Gateway,
		Navigator: deps.Navigator,
		RefreshPolicy: service.RefreshPolicy{
			TokenLifetime:          cfg.Session.TokenLifetime,
			RefreshMargin:          cfg.Session.RefreshMargin,
			Interval:               cfg.Session.RefreshInterval,
			MaxConsecutiveFailures: cfg.Session.MaxRefreshFailures,
		},
		IdlePolicy: service.IdlePolicy{
			IdleTime:      cfg.Session.IdleTime,
			WarningTime:   cfg.Session.WarningTime,
			CountdownTick: cfg.Session.CountdownTick,
		},
		SignInPath:  cfg.Navigation.SignInPath,
		BannedParam: cfg.Navigation.BannedParam,
		Metrics:     deps.Metrics,
		Tracer:      deps.Tracer,
		Logger:      deps.Logger,
	})
}

// BuildReconciler wires invalidation sources to the controller.
func BuildReconciler(
	cfg *config.AppConfig,
	sources []ports.InvalidationSource,
	checker service.Checker,
	metrics statsd.Sink,
	logger *slog.Logger,
) (*service.InvalidationReconciler, error) {
	return service.NewInvalidationReconciler(service.InvalidationReconcilerOptions{
		Sources: sources,
		Checker: checker,
		Limit:   rate.Limit(cfg.Push.RateLimit),
		Burst:   cfg.Push.Burst,
		Metrics: metrics,
		Logger:  logger,
	})
}
