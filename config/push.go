package config

import (
	"fmt"
	"strings"
	"time"
)

// PushSource selects the invalidation signal source.
type PushSource string

const (
	PushSourceNone      PushSource = "none"
	PushSourceFile      PushSource = "file"
	PushSourceRedis     PushSource = "redis"
	PushSourceWebsocket PushSource = "websocket"
)

// UnmarshalText implements encoding.TextUnmarshaler for PushSource.
func (s *PushSource) UnmarshalText(text []byte) error {
	v := strings.ToLower(strings.TrimSpace(string(text)))
	switch v {
	case "", "none":
		*s = PushSourceNone
		return nil
	case "file", "redis", "websocket":
		*s = PushSource(v)
		return nil
	default:
		return fmt.Errorf("invalid PushSource: %q (valid options: none, file, redis, websocket)", v)
	}
}

// PushConfig controls out-of-band invalidation signals. Every signal only
// triggers a status recheck.
type PushConfig struct {
	Source PushSource `env:"SOURCE" envDefault:"none"`

	// Channel is the Redis pub/sub channel.
	Channel string `env:"CHANNEL" envDefault:"session:invalidate"`

	// WebsocketURL is the ws:// or wss:// push feed.
	WebsocketURL   string        `env:"WS_URL"`
	InitialBackoff time.Duration `env:"WS_INITIAL_BACKOFF" envDefault:"1s"`
	MaxBackoff     time.Duration `env:"WS_MAX_BACKOFF"     envDefault:"30s"`

	// RateLimit is the maximum number of rechecks per second.
	RateLimit float64 `env:"RATE_LIMIT" envDefault:"1"`
	Burst     int     `env:"BURST"      envDefault:"1"`
}

// Sanitize disables sources whose required settings are missing.
func (c *PushConfig) Sanitize() {
	c.Channel = strings.TrimSpace(c.Channel)
	if c.Channel == "" {
		c.Channel = "session:invalidate"
	}
	c.WebsocketURL = strings.TrimSpace(c.WebsocketURL)
	if c.Source == PushSourceWebsocket && c.WebsocketURL == "" {
		c.Source = PushSourceNone
	}
	if c.Source == "" {
		c.Source = PushSourceNone
	}
	if c.RateLimit <= 0 {
		c.RateLimit = 1
	}
	if c.Burst <= 0 {
		c.Burst = 1
	}
	if c.InitialBackoff <= 0 {
		c.InitialBackoff = time.Second
	}
	if c.MaxBackoff < c.InitialBackoff {
		c.MaxBackoff = max(30*time.Second, c.InitialBackoff)
	}
}
