package bootstrap

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/url"
	"strconv"
	"strings"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib" // registers the "pgx" database/sql driver
	"github.com/redis/go-redis/v9"

	"github.com/target/mmk-autoingest/config"
	"github.com/target/mmk-autoingest/internal/core"
	"github.com/target/mmk-autoingest/internal/data"
	"github.com/target/mmk-autoingest/internal/migrate"
)

// connectTimeout bounds the initial ping of either backend.
const connectTimeout = 5 * time.Second

// DatabaseConfig contains configuration for database connections.
type DatabaseConfig struct {
	DBConfig    config.DBConfig
	RedisConfig config.RedisConfig
	Logger      *slog.Logger
}

// ConnectDB opens the Postgres pool backing the job table and verifies it
// with a ping. Every command is a short single-row statement, so the pool is
// kept small.
func ConnectDB(ctx context.Context, cfg DatabaseConfig) (*sql.DB, error) {
	db, err := sql.Open("pgx", postgresDSN(cfg.DBConfig))
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(4)
	db.SetConnMaxLifetime(5 * time.Minute)

	pingCtx, cancel := context.WithTimeout(ctx, connectTimeout)
	defer cancel()
	if pingErr := db.PingContext(pingCtx); pingErr != nil {
		return nil, errors.Join(fmt.Errorf("ping database: %w", pingErr), db.Close())
	}

	if cfg.Logger != nil {
		cfg.Logger.InfoContext(ctx, "database connected",
			"host", cfg.DBConfig.Host,
			"port", cfg.DBConfig.Port,
			"database", cfg.DBConfig.Name,
		)
	}
	return db, nil
}

// postgresDSN builds the connection URL; url.URL escapes credentials.
func postgresDSN(cfg config.DBConfig) string {
	u := &url.URL{
		Scheme: "postgres",
		User:   url.UserPassword(cfg.User, cfg.Password),
		Host:   net.JoinHostPort(cfg.Host, strconv.Itoa(cfg.Port)),
		Path:   "/" + cfg.Name,
	}
	q := u.Query()
	q.Set("sslmode", cfg.SSLMode)
	q.Set("application_name", "autoingest")
	u.RawQuery = q.Encode()
	return u.String()
}

// ConnectRedis connects to a single Redis node, or to the master behind
// Sentinel when UseSentinel is set, and verifies it with a ping.
//
//nolint:ireturn // the failover and direct clients share redis.UniversalClient.
func ConnectRedis(ctx context.Context, cfg DatabaseConfig) (redis.UniversalClient, error) {
	opts, desc, err := redisOptions(cfg.RedisConfig)
	if err != nil {
		return nil, err
	}
	client := redis.NewUniversalClient(opts)

	pingCtx, cancel := context.WithTimeout(ctx, connectTimeout)
	defer cancel()
	if pingErr := client.Ping(pingCtx).Err(); pingErr != nil {
		return nil, errors.Join(fmt.Errorf("ping redis: %w", pingErr), client.Close())
	}

	if cfg.Logger != nil {
		cfg.Logger.InfoContext(ctx, "redis connected", "addr", desc, "db", opts.DB)
	}
	return client, nil
}

// redisOptions maps RedisConfig onto go-redis options. The returned
// description names the target without credentials.
func redisOptions(cfg config.RedisConfig) (*redis.UniversalOptions, string, error) {
	if cfg.UseSentinel {
		nodes := trimAll(cfg.SentinelNodes)
		if len(nodes) == 0 {
			return nil, "", errors.New("redis sentinel configuration requires at least one sentinel node")
		}
		if strings.TrimSpace(cfg.SentinelMasterName) == "" {
			return nil, "", errors.New("redis sentinel configuration requires a master name")
		}
		return &redis.UniversalOptions{
			Addrs:            nodes,
			MasterName:       cfg.SentinelMasterName,
			Password:         cfg.Password,
			SentinelPassword: cfg.SentinelPassword,
			DB:               cfg.DB,
		}, "sentinel:" + cfg.SentinelMasterName, nil
	}

	uri := strings.TrimSpace(cfg.URI)
	if uri == "" {
		return nil, "", errors.New("redis configuration requires a URI")
	}
	if !strings.HasPrefix(uri, "redis://") && !strings.HasPrefix(uri, "rediss://") {
		return &redis.UniversalOptions{
			Addrs:    []string{uri},
			Password: cfg.Password,
			DB:       cfg.DB,
		}, uri, nil
	}

	parsed, err := redis.ParseURL(uri)
	if err != nil {
		return nil, "", fmt.Errorf("parse redis url: %w", err)
	}
	opts := &redis.UniversalOptions{
		Addrs:     []string{parsed.Addr},
		Username:  parsed.Username,
		Password:  parsed.Password,
		DB:        parsed.DB,
		TLSConfig: parsed.TLSConfig,
	}
	if opts.Password == "" {
		opts.Password = cfg.Password
	}
	// A database in the URL path wins over REDIS_DB.
	if opts.DB == 0 {
		opts.DB = cfg.DB
	}
	return opts, parsed.Addr, nil
}

func trimAll(raw []string) []string {
	out := make([]string, 0, len(raw))
	for _, v := range raw {
		if v = strings.TrimSpace(v); v != "" {
			out = append(out, v)
		}
	}
	return out
}

// RunMigrations applies the embedded schema and reports what changed.
func RunMigrations(ctx context.Context, db *sql.DB, logger *slog.Logger) (migrate.Report, error) {
	report, err := migrate.Run(ctx, db, logger)
	if err != nil {
		return report, fmt.Errorf("run migrations: %w", err)
	}

	if logger != nil {
		logger.InfoContext(ctx, "database migrations completed",
			"applied", len(report.Applied), "version", report.Version)
	}

	return report, nil
}

// StoreOptions selects and connects the coordination store.
type StoreOptions struct {
	Config *config.AppConfig
	Logger *slog.Logger
	// TimeProvider overrides the store clock; tests only.
	TimeProvider core.TimeProvider
}

// OpenStore connects the backend named by Config.Store.Backend. The returned
// close func releases the underlying connection and is never nil.
//
//nolint:ireturn // the backend is chosen at runtime.
func OpenStore(ctx context.Context, opts StoreOptions) (core.CoordinationStore, func() error, error) {
	if opts.Config == nil {
		return nil, nil, errors.New("store config is required")
	}
	cfg := opts.Config
	backend, err := config.ParseStoreBackend(cfg.Store.Backend)
	if err != nil {
		return nil, nil, err
	}
	storeCfg := data.StoreConfig{Logger: opts.Logger, TimeProvider: opts.TimeProvider}
	noop := func() error { return nil }

	switch backend {
	case config.StoreBackendMemory:
		if opts.Logger != nil {
			opts.Logger.WarnContext(ctx, "using in-memory store; jobs are not shared between processes")
		}
		return data.NewMemoryStore(storeCfg), noop, nil

	case config.StoreBackendRedis:
		client, err := ConnectRedis(ctx, DatabaseConfig{RedisConfig: cfg.Redis, Logger: opts.Logger})
		if err != nil {
			return nil, nil, fmt.Errorf("connect redis: %w", err)
		}
		store := data.NewRedisStore(client, cfg.Redis.KeyPrefix, storeCfg)
		return store, store.Close, nil

	default:
		db, err := ConnectDB(ctx, DatabaseConfig{DBConfig: cfg.Postgres, Logger: opts.Logger})
		if err != nil {
			return nil, nil, fmt.Errorf("connect db: %w", err)
		}
		if cfg.Postgres.RunMigrationsOnStart {
			if _, err := RunMigrations(ctx, db, opts.Logger); err != nil {
				return nil, nil, errors.Join(err, db.Close())
			}
		} else if opts.Logger != nil {
			opts.Logger.InfoContext(ctx, "skipping database migrations on startup", "reason", "disabled via config")
		}
		store := data.NewPostgresStore(db, storeCfg)
		return store, store.Close, nil
	}
}
