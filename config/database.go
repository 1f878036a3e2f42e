package config

import (
	"fmt"
	"strings"
)

// StoreBackend names a CoordinationStore implementation.
type StoreBackend string

const (
	// StoreBackendPostgres keeps jobs in the ingest_jobs table.
	StoreBackendPostgres StoreBackend = "postgres"
	// StoreBackendRedis keeps jobs in a single Redis hash.
	StoreBackendRedis StoreBackend = "redis"
	// StoreBackendMemory keeps jobs in process; only useful for a single node.
	StoreBackendMemory StoreBackend = "memory"
)

// ParseStoreBackend validates a backend name.
func ParseStoreBackend(s string) (StoreBackend, error) {
	switch b := StoreBackend(strings.ToLower(strings.TrimSpace(s))); b {
	case StoreBackendPostgres, StoreBackendRedis, StoreBackendMemory:
		return b, nil
	default:
		return "", fmt.Errorf("invalid store backend: %q (valid options: postgres, redis, memory)", s)
	}
}

// StoreConfig selects the coordination store.
type StoreConfig struct {
	Backend string `env:"STORE_BACKEND" envDefault:"postgres"`
}

// Sanitize normalises the backend name.
func (s *StoreConfig) Sanitize() {
	s.Backend = strings.ToLower(strings.TrimSpace(s.Backend))
	if s.Backend == "" {
		s.Backend = string(StoreBackendPostgres)
	}
}

// DBConfig contains PostgreSQL database configuration.
type DBConfig struct {
	Host     string `env:"HOST"                    envDefault:"localhost"`
	Port     int    `env:"PORT"                    envDefault:"5432"`
	User     string `env:"USER"                    envDefault:"autoingest"`
	Password string `env:"PASSWORD"                envDefault:"autoingest"`
	Name     string `env:"NAME"                    envDefault:"autoingest"`
	SSLMode  string `env:"SSL_MODE"                envDefault:"disable"` // Use 'disable' for local dev, 'require' for production
	// RunMigrationsOnStart controls whether the application automatically applies migrations during startup.
	RunMigrationsOnStart bool `env:"RUN_MIGRATIONS_ON_START" envDefault:"true"`
}

// RedisConfig contains Redis configuration.
type RedisConfig struct {
	URI                string   `env:"URI"                  envDefault:"localhost:6379"`
	Password           string   `env:"PASSWORD"             envDefault:""`
	DB                 int      `env:"DB"                   envDefault:"0"`
	KeyPrefix          string   `env:"KEY_PREFIX"           envDefault:"autoingest"`
	SentinelNodes      []string `env:"SENTINEL_NODES"       envDefault:"localhost:26379"`
	SentinelMasterName string   `env:"SENTINEL_MASTER_NAME" envDefault:"mymaster"`
	SentinelPassword   string   `env:"SENTINEL_PASSWORD"    envDefault:""`
	UseSentinel        bool     `env:"USE_SENTINEL"         envDefault:"false"`
}

// Sanitize trims the key prefix and restores the default when blank.
func (r *RedisConfig) Sanitize() {
	r.KeyPrefix = strings.TrimSpace(r.KeyPrefix)
	if r.KeyPrefix == "" {
		r.KeyPrefix = "autoingest"
	}
	if r.DB < 0 {
		r.DB = 0
	}
}
