package config

import "strings"

const defaultHTTPAddr = "127.0.0.1:8080"

// HTTPConfig controls the optional local session control API. The OIDC
// redirect URL usually points at this listener's /auth/callback route.
type HTTPConfig struct {
	Enabled bool   `env:"ENABLED" envDefault:"false"`
	Addr    string `env:"ADDR"    envDefault:"127.0.0.1:8080"`
}

// Sanitize restores the default listen address when blank.
func (c *HTTPConfig) Sanitize() {
	c.Addr = strings.TrimSpace(c.Addr)
	if c.Addr == "" {
		c.Addr = defaultHTTPAddr
	}
}
