package storage

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

// DB wraps the PostgreSQL connection pool shared by the repositories.
type DB struct {
	Pool *pgxpool.Pool
}

// Open creates a new database connection pool and verifies connectivity.
func Open(dsn string) (*DB, error) {
	config, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parsing database config: %w", err)
	}

	config.MaxConns = 20
	config.MinConns = 2
	config.MaxConnLifetime = 30 * time.Minute
	config.MaxConnIdleTime = 5 * time.Minute

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	pool, err := pgxpool.NewWithConfig(ctx, config)
	if err != nil {
		return nil, fmt.Errorf("creating connection pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("pinging database: %w", err)
	}

	return &DB{Pool: pool}, nil
}

// Close shuts down the connection pool.
func (db *DB) Close() {
	db.Pool.Close()
}

// Migrate runs database schema migrations.
// An advisory lock prevents concurrent replicas from racing on DDL statements.
func (db *DB) Migrate(ctx context.Context) error {
	// Acquire a dedicated connection for the advisory lock.
	conn, err := db.Pool.Acquire(ctx)
	if err != nil {
		return fmt.Errorf("acquiring connection for migration: %w", err)
	}
	defer conn.Release()

	// Application-specific lock ID to avoid collisions with other apps on the
	// same PostgreSQL instance.
	const migrationLockID int64 = 0x4F43_4F02 // "OCO" prefix + 02
	if _, err := conn.Exec(ctx, "SELECT pg_advisory_lock($1)", migrationLockID); err != nil {
		return fmt.Errorf("acquiring migration lock: %w", err)
	}
	defer conn.Exec(ctx, "SELECT pg_advisory_unlock($1)", migrationLockID)

	schema := `
	CREATE TABLE IF NOT EXISTS usage_records (
		id             TEXT PRIMARY KEY,
		timestamp      TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		provider       TEXT NOT NULL,
		model          TEXT NOT NULL,
		input_tokens   BIGINT NOT NULL DEFAULT 0,
		output_tokens  BIGINT NOT NULL DEFAULT 0,
		total_tokens   BIGINT NOT NULL DEFAULT 0,
		input_cost     NUMERIC(18,6) NOT NULL DEFAULT 0,
		output_cost    NUMERIC(18,6) NOT NULL DEFAULT 0,
		total_cost     NUMERIC(18,6) NOT NULL DEFAULT 0,
		latency_ms     BIGINT NOT NULL DEFAULT 0,
		success        BOOLEAN NOT NULL DEFAULT TRUE,
		error_message  TEXT NOT NULL DEFAULT '',
		workspace_id   TEXT NOT NULL DEFAULT '',
		user_id        TEXT NOT NULL DEFAULT '',
		request_id     TEXT NOT NULL DEFAULT '',
		metadata       JSONB
	);

	CREATE TABLE IF NOT EXISTS routing_configs (
		workspace_id  TEXT PRIMARY KEY,
		scope         TEXT NOT NULL,
		version       BIGINT NOT NULL,
		config        JSONB NOT NULL,
		created_at    TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		updated_at    TIMESTAMPTZ NOT NULL DEFAULT NOW()
	);

	CREATE TABLE IF NOT EXISTS budget_alerts (
		id              TEXT PRIMARY KEY,
		name            TEXT NOT NULL,
		threshold_type  TEXT NOT NULL,
		threshold       NUMERIC(18,6) NOT NULL,
		operator        TEXT NOT NULL,
		severity        TEXT NOT NULL,
		frequency       TEXT NOT NULL,
		window_ns       BIGINT NOT NULL DEFAULT 0,
		workspace_id    TEXT NOT NULL DEFAULT '',
		user_id         TEXT NOT NULL DEFAULT '',
		provider        TEXT NOT NULL DEFAULT '',
		model           TEXT NOT NULL DEFAULT '',
		enabled         BOOLEAN NOT NULL DEFAULT TRUE,
		cooldown_ns     BIGINT NOT NULL DEFAULT 0,
		created_at      TIMESTAMPTZ NOT NULL DEFAULT NOW()
	);

	CREATE TABLE IF NOT EXISTS alert_states (
		alert_id        TEXT PRIMARY KEY REFERENCES budget_alerts(id) ON DELETE CASCADE,
		id              TEXT NOT NULL,
		last_triggered  TIMESTAMPTZ,
		last_notified   TIMESTAMPTZ,
		trigger_count   BIGINT NOT NULL DEFAULT 0,
		notify_count    BIGINT NOT NULL DEFAULT 0
	);

	CREATE TABLE IF NOT EXISTS alert_events (
		id              TEXT PRIMARY KEY,
		alert_id        TEXT NOT NULL,
		threshold_type  TEXT NOT NULL,
		observed        NUMERIC(18,6) NOT NULL,
		threshold       NUMERIC(18,6) NOT NULL,
		severity        TEXT NOT NULL,
		message         TEXT NOT NULL DEFAULT '',
		workspace_id    TEXT NOT NULL DEFAULT '',
		user_id         TEXT NOT NULL DEFAULT '',
		timestamp       TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		metadata        JSONB
	);

	CREATE INDEX IF NOT EXISTS idx_usage_records_timestamp ON usage_records(timestamp);
	CREATE INDEX IF NOT EXISTS idx_usage_records_provider ON usage_records(provider);
	CREATE INDEX IF NOT EXISTS idx_usage_records_model ON usage_records(model);
	CREATE INDEX IF NOT EXISTS idx_usage_records_workspace_id ON usage_records(workspace_id);
	CREATE INDEX IF NOT EXISTS idx_usage_records_user_id ON usage_records(user_id);
	CREATE INDEX IF NOT EXISTS idx_alert_events_alert_id ON alert_events(alert_id);
	CREATE INDEX IF NOT EXISTS idx_alert_events_timestamp ON alert_events(timestamp);
	`

	_, err = conn.Exec(ctx, schema)
	if err != nil {
		return fmt.Errorf("running migrations: %w", err)
	}

	return nil
}
