package config

import "time"

// SessionConfig carries the idle and refresh policy.
type SessionConfig struct {
	IdleTime      time.Duration `env:"IDLE_TIME"      envDefault:"5m"`
	WarningTime   time.Duration `env:"WARNING_TIME"   envDefault:"60s"`
	CountdownTick time.Duration `env:"COUNTDOWN_TICK" envDefault:"1s"`

	TokenLifetime   time.Duration `env:"TOKEN_LIFETIME"   envDefault:"15m"`
	RefreshMargin   time.Duration `env:"REFRESH_MARGIN"   envDefault:"2m"`
	RefreshInterval time.Duration `env:"REFRESH_INTERVAL" envDefault:"60s"`
	// MaxRefreshFailures bounds consecutive refresh failures before the
	// session status is rechecked. Zero disables the bound.
	MaxRefreshFailures int `env:"MAX_REFRESH_FAILURES" envDefault:"3"`
}

// Sanitize enforces minimums so a misconfigured duration cannot spin.
func (c *SessionConfig) Sanitize() {
	if c.IdleTime < time.Second {
		c.IdleTime = 5 * time.Minute
	}
	if c.WarningTime < time.Second {
		c.WarningTime = time.Minute
	}
	if c.CountdownTick <= 0 || c.CountdownTick > c.WarningTime {
		c.CountdownTick = time.Second
	}
	if c.TokenLifetime < time.Minute {
		c.TokenLifetime = 15 * time.Minute
	}
	if c.RefreshMargin < 0 || c.RefreshMargin >= c.TokenLifetime {
		c.RefreshMargin = 2 * time.Minute
	}
	if c.RefreshInterval < time.Second {
		c.RefreshInterval = time.Minute
	}
	if c.MaxRefreshFailures < 0 {
		c.MaxRefreshFailures = 0
	}
}
