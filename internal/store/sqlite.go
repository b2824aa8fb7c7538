package store

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"github.com/hyperengineering/nailguard/internal/types"
)

const metaLastBackup = "last_backup"

// SQLiteStore is the SQLite-backed authoritative event store.
type SQLiteStore struct {
	db     *sql.DB
	dbPath string
}

var (
	_ Store       = (*SQLiteStore)(nil)
	_ Snapshotter = (*SQLiteStore)(nil)
)

// NewSQLiteStore creates a new SQLiteStore instance.
// It initializes the database with WAL mode, applies pragmas, and runs migrations.
func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	// Ensure parent directory exists
	if dir := filepath.Dir(dbPath); dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("create database directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	// A single connection serializes writers and keeps :memory: databases
	// shared across calls.
	db.SetMaxOpenConns(1)

	if err := enablePragmas(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("enable pragmas: %w", err)
	}

	if err := RunMigrations(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}

	return &SQLiteStore{db: db, dbPath: dbPath}, nil
}

// enablePragmas sets SQLite pragmas for optimal performance and safety.
func enablePragmas(db *sql.DB) error {
	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA foreign_keys=ON",
		"PRAGMA synchronous=NORMAL",
	}

	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			return fmt.Errorf("execute %s: %w", pragma, err)
		}
	}

	return nil
}

// Close closes the database connection
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

const sqliteInsert = `
	INSERT INTO bite_events (id, occurred_at, received_at)
	VALUES (?, ?, ?)
	ON CONFLICT(id) DO NOTHING
`

// InsertIfAbsent inserts a single event idempotently.
func (s *SQLiteStore) InsertIfAbsent(ctx context.Context, ev types.Event) (bool, error) {
	if err := ev.CheckTimestamp(); err != nil {
		return false, err
	}
	res, err := s.db.ExecContext(ctx, sqliteInsert,
		ev.ID.String(),
		ev.Timestamp.UnixNano(),
		time.Now().UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return false, fmt.Errorf("insert event: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("get rows affected: %w", err)
	}
	return n > 0, nil
}

// InsertBatch inserts all events in one transaction.
func (s *SQLiteStore) InsertBatch(ctx context.Context, events []types.Event) (int, error) {
	if len(events) == 0 {
		return 0, nil
	}
	if err := checkTimestamps(events); err != nil {
		return 0, err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, sqliteInsert)
	if err != nil {
		return 0, fmt.Errorf("prepare statement: %w", err)
	}
	defer stmt.Close()

	receivedAt := time.Now().UTC().Format(time.RFC3339Nano)
	inserted := 0
	for _, ev := range events {
		res, err := stmt.ExecContext(ctx, ev.ID.String(), ev.Timestamp.UnixNano(), receivedAt)
		if err != nil {
			return 0, fmt.Errorf("insert event %s: %w", ev.ID, err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return 0, fmt.Errorf("get rows affected: %w", err)
		}
		inserted += int(n)
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("commit transaction: %w", err)
	}
	return inserted, nil
}

// CountInRange counts events in [start, end).
func (s *SQLiteStore) CountInRange(ctx context.Context, start, end time.Time) (int, error) {
	if end.Before(start) {
		return 0, ErrInvalidRange
	}
	var count int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM bite_events WHERE occurred_at >= ? AND occurred_at < ?`,
		boundNanos(start), boundNanos(end),
	).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("count events: %w", err)
	}
	return count, nil
}

// ListRange returns events in [start, end), oldest first.
func (s *SQLiteStore) ListRange(ctx context.Context, start, end time.Time) ([]types.Event, error) {
	if end.Before(start) {
		return nil, ErrInvalidRange
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, occurred_at FROM bite_events
		WHERE occurred_at >= ? AND occurred_at < ?
		ORDER BY occurred_at ASC, id ASC
	`, boundNanos(start), boundNanos(end))
	if err != nil {
		return nil, fmt.Errorf("query events: %w", err)
	}
	defer rows.Close()

	events := []types.Event{}
	for rows.Next() {
		var id string
		var nanos int64
		if err := rows.Scan(&id, &nanos); err != nil {
			return nil, fmt.Errorf("scan row: %w", err)
		}
		ev, err := eventFromRow(id, nanos)
		if err != nil {
			return nil, err
		}
		events = append(events, ev)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate rows: %w", err)
	}
	return events, nil
}

// GetStats returns aggregate store statistics
func (s *SQLiteStore) GetStats(ctx context.Context) (*types.StoreStats, error) {
	var count int64
	var first, last sql.NullInt64
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*), MIN(occurred_at), MAX(occurred_at) FROM bite_events`,
	).Scan(&count, &first, &last)
	if err != nil {
		return nil, fmt.Errorf("query stats: %w", err)
	}

	stats := &types.StoreStats{EventCount: count}
	if first.Valid {
		t := time.Unix(0, first.Int64).UTC()
		stats.FirstEvent = &t
	}
	if last.Valid {
		t := time.Unix(0, last.Int64).UTC()
		stats.LastEvent = &t
	}

	var backup string
	err = s.db.QueryRowContext(ctx,
		`SELECT value FROM store_metadata WHERE key = ?`, metaLastBackup,
	).Scan(&backup)
	switch {
	case err == sql.ErrNoRows:
	case err != nil:
		return nil, fmt.Errorf("query metadata: %w", err)
	default:
		if t, err := time.Parse(time.RFC3339, backup); err == nil {
			stats.LastBackup = &t
		}
	}

	return stats, nil
}

// GenerateSnapshot writes a consistent copy of the database to
// <dir>/snapshots/current.db using VACUUM INTO and records the backup time.
func (s *SQLiteStore) GenerateSnapshot(ctx context.Context) (string, error) {
	if s.dbPath == "" || s.dbPath == ":memory:" {
		return "", ErrSnapshotUnsupported
	}

	dir := filepath.Join(filepath.Dir(s.dbPath), "snapshots")
	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", fmt.Errorf("create snapshot directory: %w", err)
	}
	final := filepath.Join(dir, "current.db")
	tmp := final + ".tmp"

	// VACUUM INTO refuses to overwrite an existing file.
	if err := os.Remove(tmp); err != nil && !os.IsNotExist(err) {
		return "", fmt.Errorf("remove stale snapshot: %w", err)
	}
	if _, err := s.db.ExecContext(ctx, `VACUUM INTO ?`, tmp); err != nil {
		return "", fmt.Errorf("vacuum into snapshot: %w", err)
	}
	if err := os.Rename(tmp, final); err != nil {
		return "", fmt.Errorf("rename snapshot: %w", err)
	}

	now := time.Now().UTC().Format(time.RFC3339)
	if _, err := s.db.ExecContext(ctx, `
		INSERT INTO store_metadata (key, value) VALUES (?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value
	`, metaLastBackup, now); err != nil {
		return "", fmt.Errorf("record backup time: %w", err)
	}

	return final, nil
}

func eventFromRow(id string, nanos int64) (types.Event, error) {
	parsed, err := uuid.Parse(id)
	if err != nil {
		return types.Event{}, fmt.Errorf("parse event id %q: %w", id, err)
	}
	return types.Event{ID: parsed, Timestamp: time.Unix(0, nanos).UTC()}, nil
}
