package config

import (
	"os"
	"strings"
)

// AppConfig is the main application configuration struct that composes
// domain-specific configuration from separate files.
//
// Configuration is loaded from environment variables using the
// github.com/caarlos0/env library. See individual domain config
// files for details on available environment variables:
//   - session.go: Idle and refresh policy
//   - gateway.go: Auth backend selection
//   - store.go: Session persistence backends
//   - push.go: Invalidation sources
//   - observability.go: Metrics and tracing
//   - http.go: Local control API
type AppConfig struct {
	// IsDev controls development mode behavior (debug logging, dev gateway defaults).
	// Set DEV=true or NODE_ENV=development for development mode.
	IsDev bool `env:"DEV" envDefault:"false"`

	// LogLevel is one of debug, info, warn, error.
	LogLevel string `env:"LOG_LEVEL" envDefault:"info"`

	Session       SessionConfig    `envPrefix:"SESSION_"`
	Gateway       GatewayConfig    `envPrefix:"GATEWAY_"`
	Store         StoreConfig      `envPrefix:"STORE_"`
	Redis         RedisConfig      `envPrefix:"REDIS_"`
	Push          PushConfig       `envPrefix:"PUSH_"`
	Navigation    NavigationConfig `envPrefix:"NAV_"`
	HTTP          HTTPConfig       `envPrefix:"HTTP_"`
	Observability ObservabilityConfig
}

// Sanitize applies guardrails to configuration values loaded from env.
// This should be called after loading configuration from environment variables.
func (c *AppConfig) Sanitize() {
	c.detectDevMode()

	c.LogLevel = strings.ToLower(strings.TrimSpace(c.LogLevel))
	if c.LogLevel == "" {
		c.LogLevel = "info"
	}

	c.Session.Sanitize()
	c.Gateway.Sanitize()
	c.Store.Sanitize()
	c.Push.Sanitize()
	c.Navigation.Sanitize()
	c.Observability.Sanitize()
	c.HTTP.Sanitize()

	// A file watcher only makes sense over the file backend.
	if c.Push.Source == PushSourceFile && c.Store.Backend != StoreBackendFile {
		c.Push.Source = PushSourceNone
	}
}

// detectDevMode checks both DEV and NODE_ENV environment variables.
// NODE_ENV is checked as a fallback (common in frontend tooling).
func (c *AppConfig) detectDevMode() {
	if !c.IsDev {
		nodeEnv := strings.ToLower(os.Getenv("NODE_ENV"))
		c.IsDev = nodeEnv == "development" || nodeEnv == "dev"
	}
}

// NeedsRedis reports whether any configured component talks to Redis.
func (c *AppConfig) NeedsRedis() bool {
	return c.Store.Backend == StoreBackendRedis || c.Push.Source == PushSourceRedis
}

// NavigationConfig controls where blocked accounts are sent.
type NavigationConfig struct {
	SignInPath  string `env:"SIGN_IN_PATH" envDefault:"/login"`
	BannedParam string `env:"BANNED_PARAM" envDefault:"banned"`
}

// Sanitize restores defaults for blank values.
func (c *NavigationConfig) Sanitize() {
	c.SignInPath = strings.TrimSpace(c.SignInPath)
	if c.SignInPath == "" {
		c.SignInPath = "/login"
	}
	c.BannedParam = strings.TrimSpace(c.BannedParam)
	if c.BannedParam == "" {
		c.BannedParam = "banned"
	}
}
