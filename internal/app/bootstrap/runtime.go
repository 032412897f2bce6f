package bootstrap

import (
	"context"
	"crypto/tls"
	"fmt"
	"net"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	appconfig "github.com/wolfman30/rescue-triage/internal/config"
	"github.com/wolfman30/rescue-triage/internal/intake"
	"github.com/wolfman30/rescue-triage/pkg/logging"
)

const redisPingTimeout = 5 * time.Second

// BuildRedisClient connects to REDIS_ADDR for the redis triage queue. It
// returns nil, nil unless QUEUE_BACKEND=redis. The caller closes the client.
func BuildRedisClient(ctx context.Context, cfg *appconfig.Config, logger *logging.Logger) (*redis.Client, error) {
	if cfg == nil || cfg.QueueBackend != "redis" {
		return nil, nil
	}
	addr := strings.TrimSpace(cfg.RedisAddr)
	if addr == "" {
		return nil, fmt.Errorf("bootstrap: QUEUE_BACKEND=redis requires REDIS_ADDR")
	}
	if logger == nil {
		logger = logging.Default()
	}

	opts := &redis.Options{Addr: addr, Password: cfg.RedisPassword}
	if cfg.RedisTLS {
		opts.TLSConfig = &tls.Config{MinVersion: tls.VersionTLS12, ServerName: hostOnly(addr)}
	}
	client := redis.NewClient(opts)

	pingCtx, cancel := context.WithTimeout(ctx, redisPingTimeout)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("bootstrap: ping redis at %s: %w", addr, err)
	}
	logger.Info("connected to redis", "addr", addr, "tls", cfg.RedisTLS)
	return client, nil
}

func hostOnly(addr string) string {
	host, _, err := net.SplitHostPort(addr)
	if err != nil {
		return addr
	}
	return host
}

// ConnectPostgres opens a pool when DATABASE_URL is set. An empty URL returns nil, nil.
func ConnectPostgres(ctx context.Context, databaseURL string, logger *logging.Logger) (*pgxpool.Pool, error) {
	if strings.TrimSpace(databaseURL) == "" {
		return nil, nil
	}
	if logger == nil {
		logger = logging.Default()
	}
	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return nil, fmt.Errorf("bootstrap: connect postgres: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("bootstrap: ping postgres: %w", err)
	}
	logger.Info("connected to postgres")
	return pool, nil
}

// BuildStore selects the intake repository named by STORE_BACKEND.
func BuildStore(cfg *appconfig.Config, pool *pgxpool.Pool, logger *logging.Logger) (intake.Store, error) {
	if cfg == nil {
		return nil, fmt.Errorf("bootstrap: config is required")
	}
	if logger == nil {
		logger = logging.Default()
	}
	switch cfg.StoreBackend {
	case "", "memory":
		logger.Warn("using in-memory intake store; data is lost on restart")
		return intake.NewInMemoryStore(), nil
	case "postgres":
		if pool == nil {
			return nil, fmt.Errorf("bootstrap: STORE_BACKEND=postgres requires DATABASE_URL")
		}
		return intake.NewPostgresStore(pool), nil
	default:
		return nil, fmt.Errorf("bootstrap: unknown STORE_BACKEND %q", cfg.StoreBackend)
	}
}
