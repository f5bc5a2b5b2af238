package bootstrap

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"github.com/imagemill/imagemill/config"
	"github.com/imagemill/imagemill/internal/data"
)

// ConnectDB opens the Postgres pool, verifies connectivity, and applies
// migrations when enabled.
func ConnectDB(ctx context.Context, cfg *config.AppConfig, logger *slog.Logger) (*pgxpool.Pool, error) {
	pool, err := pgxpool.New(ctx, cfg.Postgres.DSN())
	if err != nil {
		return nil, fmt.Errorf("create pool: %w", err)
	}

	pingCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := pool.Ping(pingCtx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	if cfg.Postgres.RunMigrationsOnStart {
		if err := data.RunMigrations(ctx, pool, logger); err != nil {
			pool.Close()
			return nil, err
		}
	}

	logger.InfoContext(ctx, "database connected",
		"host", cfg.Postgres.Host, "database", cfg.Postgres.Name)
	return pool, nil
}

// ConnectRedis opens the Redis client used by the queues and object store.
func ConnectRedis(ctx context.Context, cfg *config.AppConfig, logger *slog.Logger) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}

	logger.InfoContext(ctx, "redis connected", "addr", cfg.Redis.Addr)
	return client, nil
}
