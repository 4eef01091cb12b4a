package config

import (
	"reflect"
	"testing"
	"time"

	env "github.com/caarlos0/env/v11"
)

func parse(t *testing.T) AppConfig {
	t.Helper()
	var cfg AppConfig
	if err := env.Parse(&cfg); err != nil {
		t.Fatalf("parse config: %v", err)
	}
	cfg.Sanitize()
	return cfg
}

func TestAppConfig_Defaults(t *testing.T) {
	cfg := parse(t)

	if cfg.Session.IdleTime != 5*time.Minute || cfg.Session.WarningTime != time.Minute {
		t.Fatalf("unexpected idle policy: %+v", cfg.Session)
	}
	if cfg.Session.CountdownTick != time.Second {
		t.Fatalf("expected 1s countdown tick, got %v", cfg.Session.CountdownTick)
	}
	if cfg.Session.TokenLifetime != 15*time.Minute || cfg.Session.RefreshMargin != 2*time.Minute {
		t.Fatalf("unexpected refresh policy: %+v", cfg.Session)
	}
	if cfg.Session.RefreshInterval != time.Minute || cfg.Session.MaxRefreshFailures != 3 {
		t.Fatalf("unexpected refresh cadence: %+v", cfg.Session)
	}
	if cfg.Gateway.Mode != GatewayModeHTTP || cfg.Gateway.BaseURL != "http://localhost:3002" {
		t.Fatalf("unexpected gateway: %+v", cfg.Gateway)
	}
	if cfg.Gateway.LoginPath != "/auth/google" || cfg.Gateway.StatusPath != "/auth/status" {
		t.Fatalf("unexpected gateway paths: %+v", cfg.Gateway)
	}
	if cfg.Store.Backend != StoreBackendFile || cfg.Store.Key != "auth-storage" {
		t.Fatalf("unexpected store: %+v", cfg.Store)
	}
	if cfg.Push.Source != PushSourceNone {
		t.Fatalf("expected no push source, got %q", cfg.Push.Source)
	}
	if cfg.Navigation.SignInPath != "/login" || cfg.Navigation.BannedParam != "banned" {
		t.Fatalf("unexpected navigation: %+v", cfg.Navigation)
	}
	if cfg.NeedsRedis() {
		t.Fatalf("default config should not need redis")
	}
	if cfg.HTTP.Enabled || cfg.HTTP.Addr != "127.0.0.1:8080" {
		t.Fatalf("unexpected http config: %+v", cfg.HTTP)
	}
}

func TestAppConfig_ParseGatewayEnv(t *testing.T) {
	t.Setenv("GATEWAY_MODE", "OIDC")
	t.Setenv("GATEWAY_OAUTH_CLIENT_ID", "app-client")
	t.Setenv("GATEWAY_OAUTH_CLIENT_SECRET", "super-secret")
	t.Setenv("GATEWAY_OAUTH_REDIRECT_URL", "https://app.example.com/auth/callback")
	t.Setenv("GATEWAY_OAUTH_DISCOVERY_URL", " https://login.example.com/.well-known/openid-configuration ")
	t.Setenv("GATEWAY_OAUTH_BAN_EXPRESSION", "account.status == 'banned'")

	cfg := parse(t)

	expected := OAuthConfig{
		ClientID:      "app-client",
		ClientSecret:  "super-secret",
		RedirectURL:   "https://app.example.com/auth/callback",
		Scope:         "openid profile email",
		DiscoveryURL:  "https://login.example.com/.well-known/openid-configuration",
		BanExpression: "account.status == 'banned'",
	}
	if cfg.Gateway.Mode != GatewayModeOIDC {
		t.Fatalf("expected oidc mode, got %q", cfg.Gateway.Mode)
	}
	if !reflect.DeepEqual(cfg.Gateway.OAuth, expected) {
		t.Fatalf("unexpected oauth configuration:\nexpected: %#v\ngot:      %#v", expected, cfg.Gateway.OAuth)
	}
}

func TestAppConfig_InvalidModes(t *testing.T) {
	tests := map[string]string{
		"GATEWAY_MODE":  "saml",
		"STORE_BACKEND": "etcd",
		"PUSH_SOURCE":   "sse",
	}
	for key, value := range tests {
		t.Run(key, func(t *testing.T) {
			t.Setenv(key, value)
			var cfg AppConfig
			if err := env.Parse(&cfg); err == nil {
				t.Fatalf("expected %s=%s to be rejected", key, value)
			}
		})
	}
}

func TestAppConfig_PushFileRequiresFileStore(t *testing.T) {
	t.Setenv("STORE_BACKEND", "redis")
	t.Setenv("PUSH_SOURCE", "file")

	cfg := parse(t)

	if cfg.Push.Source != PushSourceNone {
		t.Fatalf("expected file push to be disabled, got %q", cfg.Push.Source)
	}
	if !cfg.NeedsRedis() {
		t.Fatalf("expected redis store to need redis")
	}
}

func TestSessionConfig_Sanitize(t *testing.T) {
	cfg := SessionConfig{
		IdleTime:           time.Millisecond,
		WarningTime:        0,
		CountdownTick:      2 * time.Minute,
		TokenLifetime:      time.Second,
		RefreshMargin:      time.Hour,
		RefreshInterval:    0,
		MaxRefreshFailures: -1,
	}

	cfg.Sanitize()

	expected := SessionConfig{
		IdleTime:           5 * time.Minute,
		WarningTime:        time.Minute,
		CountdownTick:      time.Second,
		TokenLifetime:      15 * time.Minute,
		RefreshMargin:      2 * time.Minute,
		RefreshInterval:    time.Minute,
		MaxRefreshFailures: 0,
	}
	if cfg != expected {
		t.Fatalf("unexpected sanitised session config:\nexpected: %+v\ngot:      %+v", expected, cfg)
	}
}

func TestGatewayConfig_SanitizePaths(t *testing.T) {
	cfg := GatewayConfig{
		BaseURL:    " http://api.example.com/ ",
		StatusPath: "auth/me",
	}

	cfg.Sanitize()

	if cfg.BaseURL != "http://api.example.com" {
		t.Fatalf("expected trailing slash to be trimmed, got %q", cfg.BaseURL)
	}
	if cfg.StatusPath != "/auth/me" {
		t.Fatalf("expected leading slash, got %q", cfg.StatusPath)
	}
	if cfg.LogoutPath != "/auth/logout" || cfg.Timeout != 10*time.Second {
		t.Fatalf("expected defaults to be restored: %+v", cfg)
	}
}

func TestPushConfig_Sanitize(t *testing.T) {
	cfg := PushConfig{Source: PushSourceWebsocket, MaxBackoff: time.Millisecond}

	cfg.Sanitize()

	if cfg.Source != PushSourceNone {
		t.Fatalf("expected websocket without URL to be disabled")
	}
	if cfg.RateLimit != 1 || cfg.Burst != 1 {
		t.Fatalf("expected rate defaults, got %v/%d", cfg.RateLimit, cfg.Burst)
	}
	if cfg.MaxBackoff != 30*time.Second {
		t.Fatalf("expected max backoff default, got %v", cfg.MaxBackoff)
	}
	if cfg.Channel != "session:invalidate" {
		t.Fatalf("expected default channel, got %q", cfg.Channel)
	}
}

func TestAppConfig_DevModeFromNodeEnv(t *testing.T) {
	t.Setenv("NODE_ENV", "development")

	cfg := parse(t)

	if !cfg.IsDev {
		t.Fatalf("expected NODE_ENV=development to enable dev mode")
	}
}

func TestObservabilityMetricsConfig_Sanitize(t *testing.T) {
	cfg := ObservabilityMetricsConfig{
		Enabled:       true,
		StatsdAddress: " ",
	}

	cfg.Sanitize()

	if cfg.Enabled {
		t.Fatalf("expected enabled to be false when address is empty")
	}

	cfg = ObservabilityMetricsConfig{
		Enabled:       true,
		StatsdAddress: " statsd:1234 ",
	}

	cfg.Sanitize()

	if !cfg.IsEnabled() {
		t.Fatalf("expected metrics to remain enabled")
	}
	if cfg.StatsdAddress != "statsd:1234" {
		t.Fatalf("expected address to be trimmed, got %q", cfg.StatsdAddress)
	}
}

func TestObservabilityTracingConfig_Sanitize(t *testing.T) {
	cfg := ObservabilityTracingConfig{ServiceName: "  "}
	cfg.Sanitize()
	if cfg.ServiceName != defaultObservabilityName {
		t.Fatalf("expected default service name, got %q", cfg.ServiceName)
	}
}

func TestHTTPConfig_Env(t *testing.T) {
	t.Setenv("HTTP_ENABLED", "true")
	t.Setenv("HTTP_ADDR", " 0.0.0.0:9090 ")

	cfg := parse(t)
	if !cfg.HTTP.Enabled || cfg.HTTP.Addr != "0.0.0.0:9090" {
		t.Fatalf("unexpected http config: %+v", cfg.HTTP)
	}

	blank := HTTPConfig{Addr: "  "}
	blank.Sanitize()
	if blank.Addr != defaultHTTPAddr {
		t.Fatalf("expected default addr, got %q", blank.Addr)
	}
}
