package store

import (
	"context"
	"fmt"
	"time"

	"github.com/bomyoungkim-gmail/vivacampo-app-sub001/internal/config"
	"github.com/jackc/pgx/v5/pgxpool"
)

const maxPingBackoff = 5 * time.Second

// Connect opens a pgx pool and waits until Postgres answers a ping, retrying
// up to cfg.ConnectAttempts times. Parse errors are returned immediately.
func Connect(ctx context.Context, cfg config.DatabaseConfig) (*pgxpool.Pool, error) {
	poolCfg, err := pgxpool.ParseConfig(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("parse database URL: %w", err)
	}
	poolCfg.MaxConns = int32(cfg.MaxOpenConns)
	poolCfg.MinConns = int32(cfg.MaxIdleConns)
	poolCfg.MaxConnLifetime = cfg.ConnMaxLifetime
	if cfg.ApplicationName != "" {
		poolCfg.ConnConfig.RuntimeParams["application_name"] = cfg.ApplicationName
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("connect to database: %w", err)
	}

	attempts := max(cfg.ConnectAttempts, 1)
	backoff := 250 * time.Millisecond
	for i := 1; ; i++ {
		err = pool.Ping(ctx)
		if err == nil {
			return pool, nil
		}
		if i >= attempts {
			break
		}
		select {
		case <-ctx.Done():
			pool.Close()
			return nil, fmt.Errorf("ping database: %w", ctx.Err())
		case <-time.After(backoff):
		}
		backoff = min(backoff*2, maxPingBackoff)
	}
	pool.Close()
	return nil, fmt.Errorf("ping database after %d attempts: %w", attempts, err)
}
