package config

import (
	"fmt"
	"strings"
	"time"
)

// GatewayMode selects the auth backend implementation.
type GatewayMode string

const (
	// GatewayModeHTTP talks to the backend's /auth endpoints.
	GatewayModeHTTP GatewayMode = "http"
	// GatewayModeOIDC talks to an OIDC provider directly.
	GatewayModeOIDC GatewayMode = "oidc"
	// GatewayModeMock serves a fixed identity (for development only).
	GatewayModeMock GatewayMode = "mock"
)

// UnmarshalText implements encoding.TextUnmarshaler for GatewayMode.
func (m *GatewayMode) UnmarshalText(text []byte) error {
	v := strings.ToLower(strings.TrimSpace(string(text)))
	switch v {
	case "http", "oidc", "mock":
		*m = GatewayMode(v)
		return nil
	default:
		return fmt.Errorf("invalid GatewayMode: %q (valid options: http, oidc, mock)", v)
	}
}

// GatewayConfig groups all auth backend configuration.
type GatewayConfig struct {
	Mode GatewayMode `env:"MODE" envDefault:"http"`

	// HTTP backend (Mode=http).
	BaseURL     string        `env:"BASE_URL"     envDefault:"http://localhost:3002"`
	StatusPath  string        `env:"STATUS_PATH"  envDefault:"/auth/status"`
	RefreshPath string        `env:"REFRESH_PATH" envDefault:"/auth/refresh"`
	LoginPath   string        `env:"LOGIN_PATH"   envDefault:"/auth/google"`
	LogoutPath  string        `env:"LOGOUT_PATH"  envDefault:"/auth/logout"`
	Timeout     time.Duration `env:"TIMEOUT"      envDefault:"10s"`
	// SessionCookie seeds the cookie jar, e.g. "connect.sid=abc".
	SessionCookie string `env:"SESSION_COOKIE"`

	// OAuth configuration (Mode=oidc).
	OAuth OAuthConfig `envPrefix:"OAUTH_"`

	// DevUser configuration (Mode=mock).
	DevUser DevUserConfig `envPrefix:"DEV_"`
}

// Sanitize trims URLs and restores defaults for blank paths.
func (c *GatewayConfig) Sanitize() {
	c.BaseURL = strings.TrimRight(strings.TrimSpace(c.BaseURL), "/")
	c.StatusPath = pathOr(c.StatusPath, "/auth/status")
	c.RefreshPath = pathOr(c.RefreshPath, "/auth/refresh")
	c.LoginPath = pathOr(c.LoginPath, "/auth/google")
	c.LogoutPath = pathOr(c.LogoutPath, "/auth/logout")
	if c.Timeout <= 0 {
		c.Timeout = 10 * time.Second
	}
	c.SessionCookie = strings.TrimSpace(c.SessionCookie)
	c.OAuth.Sanitize()
}

func pathOr(p, fallback string) string {
	p = strings.TrimSpace(p)
	if p == "" {
		return fallback
	}
	if !strings.HasPrefix(p, "/") {
		p = "/" + p
	}
	return p
}

// OAuthConfig contains OAuth/OIDC configuration.
type OAuthConfig struct {
	ClientID     string `env:"CLIENT_ID"`
	ClientSecret string `env:"CLIENT_SECRET"`
	RedirectURL  string `env:"REDIRECT_URL"   envDefault:"http://localhost:8080/auth/callback"`
	Scope        string `env:"SCOPE"          envDefault:"openid profile email"`
	DiscoveryURL string `env:"DISCOVERY_URL"`
	LogoutURL    string `env:"LOGOUT_URL"`
	// BanExpression is a JMESPath expression over the userinfo claims.
	BanExpression string `env:"BAN_EXPRESSION" envDefault:"banned"`
}

// Sanitize trims whitespace.
func (c *OAuthConfig) Sanitize() {
	c.ClientID = strings.TrimSpace(c.ClientID)
	c.DiscoveryURL = strings.TrimSpace(c.DiscoveryURL)
	c.LogoutURL = strings.TrimSpace(c.LogoutURL)
	c.BanExpression = strings.TrimSpace(c.BanExpression)
}

// DevUserConfig controls the mock gateway identity.
type DevUserConfig struct {
	UserID string `env:"USER_ID" envDefault:"dev-user"`
	Name   string `env:"NAME"    envDefault:"Dev User"`
	Email  string `env:"EMAIL"   envDefault:"dev@example.com"`
	// State is one of authenticated, unauthenticated, banned, forbidden.
	State string `env:"STATE" envDefault:"authenticated"`
}
