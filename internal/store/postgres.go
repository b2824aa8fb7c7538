package store

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/hyperengineering/nailguard/internal/types"
)

const (
	pgMaxConns        = 10
	pgMinConns        = 2
	pgMaxConnLifetime = 10 * time.Minute
	pgMaxConnIdleTime = 5 * time.Minute
)

// postgresSchema is applied on open. occurred_at holds unix nanoseconds so
// event instants round-trip without losing precision.
const postgresSchema = `
CREATE TABLE IF NOT EXISTS bite_events (
	id          UUID PRIMARY KEY,
	occurred_at BIGINT NOT NULL,
	received_at TIMESTAMPTZ NOT NULL DEFAULT now()
);
CREATE INDEX IF NOT EXISTS idx_bite_events_occurred_at ON bite_events(occurred_at);
`

// PostgresStore is the PostgreSQL-backed authoritative event store.
type PostgresStore struct {
	pool *pgxpool.Pool
}

var _ Store = (*PostgresStore)(nil)

// NewPostgresStore connects to databaseURL, verifies the connection and
// ensures the schema exists.
func NewPostgresStore(ctx context.Context, databaseURL string) (*PostgresStore, error) {
	cfg, err := pgxpool.ParseConfig(databaseURL)
	if err != nil {
		return nil, fmt.Errorf("parse postgres config: %w", err)
	}
	cfg.MaxConns = pgMaxConns
	cfg.MinConns = pgMinConns
	cfg.MaxConnLifetime = pgMaxConnLifetime
	cfg.MaxConnIdleTime = pgMaxConnIdleTime

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("create postgres pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	if _, err := pool.Exec(ctx, postgresSchema); err != nil {
		pool.Close()
		return nil, fmt.Errorf("apply postgres schema: %w", err)
	}

	return &PostgresStore{pool: pool}, nil
}

// Close releases the connection pool.
func (s *PostgresStore) Close() error {
	s.pool.Close()
	return nil
}

const pgInsert = `
	INSERT INTO bite_events (id, occurred_at)
	VALUES ($1, $2)
	ON CONFLICT (id) DO NOTHING
`

func (s *PostgresStore) InsertIfAbsent(ctx context.Context, ev types.Event) (bool, error) {
	if err := ev.CheckTimestamp(); err != nil {
		return false, err
	}
	tag, err := s.pool.Exec(ctx, pgInsert, ev.ID, ev.Timestamp.UnixNano())
	if err != nil {
		return false, fmt.Errorf("insert event: %w", err)
	}
	return tag.RowsAffected() > 0, nil
}

func (s *PostgresStore) InsertBatch(ctx context.Context, events []types.Event) (int, error) {
	if len(events) == 0 {
		return 0, nil
	}
	if err := checkTimestamps(events); err != nil {
		return 0, err
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return 0, fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	inserted := 0
	for _, ev := range events {
		tag, err := tx.Exec(ctx, pgInsert, ev.ID, ev.Timestamp.UnixNano())
		if err != nil {
			return 0, fmt.Errorf("insert event %s: %w", ev.ID, err)
		}
		inserted += int(tag.RowsAffected())
	}

	if err := tx.Commit(ctx); err != nil {
		return 0, fmt.Errorf("commit transaction: %w", err)
	}
	return inserted, nil
}

func (s *PostgresStore) CountInRange(ctx context.Context, start, end time.Time) (int, error) {
	if end.Before(start) {
		return 0, ErrInvalidRange
	}
	var count int
	err := s.pool.QueryRow(ctx,
		`SELECT COUNT(*) FROM bite_events WHERE occurred_at >= $1 AND occurred_at < $2`,
		boundNanos(start), boundNanos(end),
	).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("count events: %w", err)
	}
	return count, nil
}

func (s *PostgresStore) ListRange(ctx context.Context, start, end time.Time) ([]types.Event, error) {
	if end.Before(start) {
		return nil, ErrInvalidRange
	}
	rows, err := s.pool.Query(ctx, `
		SELECT id, occurred_at FROM bite_events
		WHERE occurred_at >= $1 AND occurred_at < $2
		ORDER BY occurred_at ASC, id ASC
	`, boundNanos(start), boundNanos(end))
	if err != nil {
		return nil, fmt.Errorf("query events: %w", err)
	}
	defer rows.Close()

	events := []types.Event{}
	for rows.Next() {
		var id uuid.UUID
		var nanos int64
		if err := rows.Scan(&id, &nanos); err != nil {
			return nil, fmt.Errorf("scan row: %w", err)
		}
		events = append(events, types.Event{ID: id, Timestamp: time.Unix(0, nanos).UTC()})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate rows: %w", err)
	}
	return events, nil
}

func (s *PostgresStore) GetStats(ctx context.Context) (*types.StoreStats, error) {
	var count int64
	var first, last *int64
	err := s.pool.QueryRow(ctx,
		`SELECT COUNT(*), MIN(occurred_at), MAX(occurred_at) FROM bite_events`,
	).Scan(&count, &first, &last)
	if err != nil {
		return nil, fmt.Errorf("query stats: %w", err)
	}

	stats := &types.StoreStats{EventCount: count}
	if first != nil {
		t := time.Unix(0, *first).UTC()
		stats.FirstEvent = &t
	}
	if last != nil {
		t := time.Unix(0, *last).UTC()
		stats.LastEvent = &t
	}
	return stats, nil
}
