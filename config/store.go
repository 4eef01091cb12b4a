package config

import (
	"fmt"
	"strings"
	"time"
)

// StoreBackend selects where the durable session record lives.
type StoreBackend string

const (
	StoreBackendMemory   StoreBackend = "memory"
	StoreBackendFile     StoreBackend = "file"
	StoreBackendRedis    StoreBackend = "redis"
	StoreBackendSQLite   StoreBackend = "sqlite"
	StoreBackendPostgres StoreBackend = "postgres"
)

// UnmarshalText implements encoding.TextUnmarshaler for StoreBackend.
func (b *StoreBackend) UnmarshalText(text []byte) error {
	v := strings.ToLower(strings.TrimSpace(string(text)))
	switch v {
	case "memory", "file", "redis", "sqlite", "postgres":
		*b = StoreBackend(v)
		return nil
	default:
		return fmt.Errorf("invalid StoreBackend: %q (valid options: memory, file, redis, sqlite, postgres)", v)
	}
}

// StoreConfig contains session persistence configuration.
type StoreConfig struct {
	Backend StoreBackend `env:"BACKEND" envDefault:"file"`
	// Key names the persisted record in every backend.
	Key string `env:"KEY" envDefault:"auth-storage"`
	// Dir holds the JSON file for the file backend; defaults to the user config dir.
	Dir string `env:"DIR"`
	// DSN is the database/sql data source for sqlite and postgres.
	DSN string `env:"DSN" envDefault:"file:sessionkeeper.db"`

	// RedisPrefix and RedisTTL apply to the redis backend.
	RedisPrefix string        `env:"REDIS_PREFIX" envDefault:"session:"`
	RedisTTL    time.Duration `env:"REDIS_TTL"    envDefault:"0s"`

	// EncryptionKey seals the persisted token when set (32 bytes, hex or base64).
	EncryptionKey string `env:"ENCRYPTION_KEY"`
}

// Sanitize restores defaults for blank values.
func (c *StoreConfig) Sanitize() {
	c.Key = strings.TrimSpace(c.Key)
	if c.Key == "" {
		c.Key = "auth-storage"
	}
	c.Dir = strings.TrimSpace(c.Dir)
	c.DSN = strings.TrimSpace(c.DSN)
	c.EncryptionKey = strings.TrimSpace(c.EncryptionKey)
	if c.RedisTTL < 0 {
		c.RedisTTL = 0
	}
}

// RedisConfig contains Redis configuration.
type RedisConfig struct {
	URI                string   `env:"URI"                  envDefault:"localhost:6379"`
	Password           string   `env:"PASSWORD"             envDefault:""`
	SentinelNodes      []string `env:"SENTINEL_NODES"       envDefault:"localhost:26379"`
	SentinelMasterName string   `env:"SENTINEL_MASTER_NAME" envDefault:"mymaster"`
	SentinelPassword   string   `env:"SENTINEL_PASSWORD"    envDefault:""`
	UseSentinel        bool     `env:"USE_SENTINEL"         envDefault:"false"`
	ClusterNodes       []string `env:"CLUSTER_NODES"        envDefault:""`
	UseCluster         bool     `env:"USE_CLUSTER"          envDefault:"false"`
}
