package database

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/homeprojects/lead-auction-exchange/internal/infrastructure/config"
)

// Pool wraps the pgx connection pool and provides scoped transactions.
type Pool struct {
	pool   *pgxpool.Pool
	logger *zap.Logger
}

// NewPool connects to PostgreSQL and verifies the connection.
func NewPool(ctx context.Context, cfg *config.DatabaseConfig, logger *zap.Logger) (*Pool, error) {
	poolConfig, err := pgxpool.ParseConfig(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse database URL: %w", err)
	}

	if cfg.MaxOpenConns > 0 {
		poolConfig.MaxConns = int32(cfg.MaxOpenConns)
	}
	if cfg.MaxIdleConns > 0 {
		poolConfig.MinConns = int32(cfg.MaxIdleConns)
	}
	if cfg.ConnMaxLifetime > 0 {
		poolConfig.MaxConnLifetime = cfg.ConnMaxLifetime
	}
	poolConfig.MaxConnIdleTime = 10 * time.Minute
	poolConfig.HealthCheckPeriod = 1 * time.Minute
	poolConfig.ConnConfig.ConnectTimeout = 5 * time.Second
	poolConfig.ConnConfig.RuntimeParams = map[string]string{
		"application_name": "lead_auction_exchange",
		"timezone":         "UTC",
		"lock_timeout":     "10s",
	}

	connectCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	pool, err := pgxpool.NewWithConfig(connectCtx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}

	if err := pool.Ping(connectCtx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	logger.Info("database connection pool initialized",
		zap.Int32("max_connections", poolConfig.MaxConns))

	return &Pool{pool: pool, logger: logger}, nil
}

// Pgx exposes the underlying pool for repositories.
func (p *Pool) Pgx() *pgxpool.Pool {
	return p.pool
}

// Transaction executes fn within a database transaction. The transaction is
// committed when fn returns nil and rolled back on error or panic.
func (p *Pool) Transaction(ctx context.Context, fn func(pgx.Tx) error) error {
	return pgx.BeginTxFunc(ctx, p.pool, pgx.TxOptions{}, fn)
}

// Ping verifies connectivity, used by the health endpoint.
func (p *Pool) Ping(ctx context.Context) error {
	return p.pool.Ping(ctx)
}

// Close closes all database connections.
func (p *Pool) Close() {
	p.pool.Close()
	p.logger.Info("database connection pool closed")
}
