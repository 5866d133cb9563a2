package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/tradeguard/compliance-engine/internal/config"
)

type DB struct {
	pool *pgxpool.Pool
}

func NewDB(cfg *config.Config) (*DB, error) {
	poolConfig, err := pgxpool.ParseConfig(cfg.DatabaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse database config: %w", err)
	}

	poolConfig.MaxConns = cfg.DatabaseMaxConns
	poolConfig.MinConns = cfg.DatabaseMinConns
	poolConfig.MaxConnLifetime = cfg.DatabaseMaxConnLife
	poolConfig.MaxConnIdleTime = 30 * time.Minute

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to connect: %w", err)
	}

	return &DB{pool: pool}, nil
}

func (db *DB) Pool() *pgxpool.Pool {
	return db.pool
}

func (db *DB) Close() {
	db.pool.Close()
}

func (db *DB) HealthCheck(ctx context.Context) error {
	return db.pool.Ping(ctx)
}

func (db *DB) Stats() *pgxpool.Stat {
	return db.pool.Stat()
}

// Migrate creates the four compliance tables when they do not exist yet.
func (db *DB) Migrate(ctx context.Context) error {
	statements := []string{
		`CREATE TABLE IF NOT EXISTS trading_requests (
			id UUID PRIMARY KEY,
			submitter_id TEXT NOT NULL,
			symbol TEXT NOT NULL,
			instrument_name TEXT NOT NULL,
			kind TEXT NOT NULL,
			side TEXT NOT NULL,
			quantity BIGINT NOT NULL,
			unit_price NUMERIC(20,6) NOT NULL,
			currency TEXT NOT NULL,
			unit_price_usd NUMERIC(20,6) NOT NULL,
			total_value_usd NUMERIC(20,6) NOT NULL,
			exchange_rate NUMERIC(20,6) NOT NULL,
			status TEXT NOT NULL,
			escalated BOOLEAN NOT NULL DEFAULT FALSE,
			escalation_note TEXT,
			rejection_reason TEXT,
			created_at TIMESTAMPTZ NOT NULL,
			processed_at TIMESTAMPTZ
		)`,
		`CREATE INDEX IF NOT EXISTS idx_trading_requests_submitter
			ON trading_requests (submitter_id, created_at DESC)`,
		`CREATE INDEX IF NOT EXISTS idx_trading_requests_status
			ON trading_requests (status, created_at DESC)`,
		`CREATE TABLE IF NOT EXISTS restricted_instruments (
			symbol TEXT PRIMARY KEY,
			name TEXT NOT NULL,
			kind TEXT NOT NULL,
			created_at TIMESTAMPTZ NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS audit_entries (
			id UUID PRIMARY KEY,
			actor_id TEXT NOT NULL,
			actor_role TEXT NOT NULL,
			action TEXT NOT NULL,
			target_type TEXT NOT NULL,
			target_id TEXT NOT NULL,
			details TEXT NOT NULL DEFAULT '',
			origin TEXT NOT NULL DEFAULT '',
			created_at TIMESTAMPTZ NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_audit_entries_order
			ON audit_entries (created_at, id)`,
		`CREATE INDEX IF NOT EXISTS idx_audit_entries_target
			ON audit_entries (target_type, target_id)`,
		`CREATE TABLE IF NOT EXISTS restricted_instrument_changelog (
			id UUID PRIMARY KEY,
			symbol TEXT NOT NULL,
			action TEXT NOT NULL,
			actor_id TEXT NOT NULL,
			reason TEXT NOT NULL DEFAULT '',
			created_at TIMESTAMPTZ NOT NULL
		)`,
	}

	for _, stmt := range statements {
		if _, err := db.pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("migration failed: %w", err)
		}
	}

	return nil
}
