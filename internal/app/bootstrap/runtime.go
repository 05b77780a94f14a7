package bootstrap

import (
	"context"
	"crypto/tls"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	appconfig "github.com/wolfman30/thread-relay/internal/config"
	"github.com/wolfman30/thread-relay/internal/dedup"
	"github.com/wolfman30/thread-relay/pkg/logging"
)

// BuildRedisClient returns a configured Redis client or nil when disabled.
// When verify is true, a ping is issued and failures return nil.
func BuildRedisClient(ctx context.Context, cfg *appconfig.Config, logger *logging.Logger, verify bool) *redis.Client {
	if cfg == nil || strings.TrimSpace(cfg.RedisAddr) == "" {
		return nil
	}
	if logger == nil {
		logger = logging.Default()
	}
	if ctx == nil {
		ctx = context.Background()
	}

	redisOptions := &redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
	}
	if cfg.RedisTLS {
		redisOptions.TLSConfig = &tls.Config{MinVersion: tls.VersionTLS12}
	}
	client := redis.NewClient(redisOptions)
	if !verify {
		return client
	}
	if err := client.Ping(ctx).Err(); err != nil {
		logger.Warn("redis not available", "error", err)
		_ = client.Close()
		return nil
	}
	return client
}

// BuildPostgresPool opens and pings a pgx pool for DATABASE_URL.
func BuildPostgresPool(ctx context.Context, cfg *appconfig.Config) (*pgxpool.Pool, error) {
	if cfg == nil || strings.TrimSpace(cfg.DatabaseURL) == "" {
		return nil, fmt.Errorf("bootstrap: DATABASE_URL is required")
	}
	pool, err := pgxpool.New(ctx, cfg.DatabaseURL)
	if err != nil {
		return nil, fmt.Errorf("bootstrap: open postgres pool: %w", err)
	}
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := pool.Ping(pingCtx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("bootstrap: ping postgres: %w", err)
	}
	return pool, nil
}

// DedupBackend is the selected dedup store plus its housekeeping loop.
type DedupBackend struct {
	Name  string
	Store dedup.Store
	// Run blocks doing retention housekeeping until ctx is done.
	Run   func(ctx context.Context)
	Close func()
}

// BuildDedupStore wires the store named by DEDUP_BACKEND. A configured but
// unreachable shared store is a startup error.
func BuildDedupStore(ctx context.Context, cfg *appconfig.Config, logger *logging.Logger) (*DedupBackend, error) {
	if cfg == nil {
		return nil, fmt.Errorf("bootstrap: config is required")
	}
	if logger == nil {
		logger = logging.Default()
	}
	if ctx == nil {
		ctx = context.Background()
	}
	sweep := housekeepingInterval(cfg.DedupRetention)

	switch cfg.DedupBackend {
	case appconfig.DedupBackendMemory, "":
		store := dedup.NewMemoryStore(cfg.DedupRetention)
		return &DedupBackend{
			Name:  appconfig.DedupBackendMemory,
			Store: store,
			Run:   func(ctx context.Context) { store.RunJanitor(ctx, sweep) },
			Close: func() {},
		}, nil
	case appconfig.DedupBackendRedis:
		client := BuildRedisClient(ctx, cfg, logger, true)
		if client == nil {
			return nil, fmt.Errorf("bootstrap: redis dedup backend unavailable at %s", cfg.RedisAddr)
		}
		return &DedupBackend{
			Name:  appconfig.DedupBackendRedis,
			Store: dedup.NewRedisStore(client, cfg.DedupRetention, nil),
			Run:   func(ctx context.Context) {}, // keys expire on their own
			Close: func() { _ = client.Close() },
		}, nil
	case appconfig.DedupBackendPostgres:
		pool, err := BuildPostgresPool(ctx, cfg)
		if err != nil {
			return nil, err
		}
		store := dedup.NewPostgresStore(pool, cfg.DedupRetention)
		return &DedupBackend{
			Name:  appconfig.DedupBackendPostgres,
			Store: store,
			Run: func(ctx context.Context) {
				store.RunPurger(ctx, sweep, func(err error) {
					logger.Warn("dedup purge failed", "error", err)
				})
			},
			Close: pool.Close,
		}, nil
	default:
		return nil, fmt.Errorf("bootstrap: unsupported dedup backend %q", cfg.DedupBackend)
	}
}

func housekeepingInterval(retention time.Duration) time.Duration {
	interval := retention / 2
	if interval < 30*time.Second {
		interval = 30 * time.Second
	}
	return interval
}
