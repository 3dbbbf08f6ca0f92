package db

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

func ConnectPostgres(ctx context.Context, dsn string) (*pgxpool.Pool, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}

	cfg.MaxConns = 10
	cfg.MinConns = 1
	cfg.HealthCheckPeriod = 30 * time.Second
	cfg.MaxConnLifetime = time.Hour
	cfg.MaxConnIdleTime = 15 * time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("create pgx pool: %w", err)
	}

	// Fail fast on startup rather than on the first booking.
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if err := pool.Ping(pingCtx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}

	return pool, nil
}

// schema carries the appointment store layout. The partial unique index
// is the engine's correctness anchor: at most one non-cancelled
// appointment per (preferred_date, preferred_time).
const schema = `
CREATE TABLE IF NOT EXISTS appointments (
	id             uuid PRIMARY KEY,
	number         text NOT NULL UNIQUE,
	preferred_date date NOT NULL,
	preferred_time text NOT NULL,
	status         text NOT NULL DEFAULT 'pending',
	patient        jsonb NOT NULL,
	created_at     timestamptz NOT NULL DEFAULT now(),
	updated_at     timestamptz NOT NULL DEFAULT now()
);

CREATE SEQUENCE IF NOT EXISTS appointment_number_seq;

CREATE UNIQUE INDEX IF NOT EXISTS appointments_active_slot_idx
	ON appointments (preferred_date, preferred_time)
	WHERE status <> 'cancelled';

CREATE INDEX IF NOT EXISTS appointments_date_idx
	ON appointments (preferred_date)
	WHERE status <> 'cancelled';
`

// Migrate applies the schema idempotently on startup.
func Migrate(ctx context.Context, pool *pgxpool.Pool) error {
	if _, err := pool.Exec(ctx, schema); err != nil {
		return fmt.Errorf("apply schema: %w", err)
	}
	return nil
}
