package companion

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"github.com/hyperengineering/nailguard/internal/types"
)

// SQLiteOutbox keeps the outbox in a sync_queue table. Each mutation is a
// single committed statement.
type SQLiteOutbox struct {
	db *sql.DB
}

// NewSQLiteOutbox opens or creates the outbox database at path.
func NewSQLiteOutbox(path string) (*SQLiteOutbox, error) {
	if dir := filepath.Dir(path); dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create outbox directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open outbox: %w", err)
	}
	db.SetMaxOpenConns(1)

	o := &SQLiteOutbox{db: db}
	if err := o.migrate(); err != nil {
		db.Close()
		return nil, err
	}
	return o, nil
}

func (o *SQLiteOutbox) migrate() error {
	stmts := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		// Every enqueue must survive power loss, not just a process crash.
		"PRAGMA synchronous=FULL",
		`CREATE TABLE IF NOT EXISTS sync_queue (
			seq INTEGER PRIMARY KEY AUTOINCREMENT,
			event_id TEXT NOT NULL,
			occurred_at INTEGER NOT NULL,
			queued_at TEXT NOT NULL
		)`,
	}
	for _, stmt := range stmts {
		if _, err := o.db.Exec(stmt); err != nil {
			return fmt.Errorf("migrate outbox: %w", err)
		}
	}
	return nil
}

func (o *SQLiteOutbox) Enqueue(ev types.Event) error {
	if err := ev.CheckTimestamp(); err != nil {
		return err
	}
	_, err := o.db.Exec(
		`INSERT INTO sync_queue (event_id, occurred_at, queued_at) VALUES (?, ?, ?)`,
		ev.ID.String(), ev.Timestamp.UnixNano(), time.Now().UTC().Format(time.RFC3339),
	)
	if err != nil {
		return fmt.Errorf("enqueue event: %w", err)
	}
	return nil
}

func (o *SQLiteOutbox) Snapshot() ([]types.Event, error) {
	rows, err := o.db.Query(`SELECT event_id, occurred_at FROM sync_queue ORDER BY seq`)
	if err != nil {
		return nil, fmt.Errorf("query outbox: %w", err)
	}
	defer rows.Close()

	events := []types.Event{}
	for rows.Next() {
		var id string
		var nanos int64
		if err := rows.Scan(&id, &nanos); err != nil {
			return nil, fmt.Errorf("scan outbox row: %w", err)
		}
		parsed, err := uuid.Parse(id)
		if err != nil {
			return nil, fmt.Errorf("parse queued event id %q: %w", id, err)
		}
		events = append(events, types.Event{
			ID:        parsed,
			Timestamp: time.Unix(0, nanos).UTC(),
		})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate outbox: %w", err)
	}
	return events, nil
}

func (o *SQLiteOutbox) ClearPrefix(n int) error {
	if n < 0 {
		return fmt.Errorf("clear prefix of %d events", n)
	}
	if n == 0 {
		return nil
	}
	_, err := o.db.Exec(
		`DELETE FROM sync_queue WHERE seq IN (SELECT seq FROM sync_queue ORDER BY seq LIMIT ?)`, n,
	)
	if err != nil {
		return fmt.Errorf("clear outbox prefix: %w", err)
	}
	return nil
}

func (o *SQLiteOutbox) Clear() error {
	if _, err := o.db.Exec(`DELETE FROM sync_queue`); err != nil {
		return fmt.Errorf("clear outbox: %w", err)
	}
	return nil
}

func (o *SQLiteOutbox) IsEmpty() (bool, error) {
	n, err := o.Len()
	return n == 0, err
}

func (o *SQLiteOutbox) Len() (int, error) {
	var n int
	if err := o.db.QueryRow(`SELECT COUNT(*) FROM sync_queue`).Scan(&n); err != nil {
		return 0, fmt.Errorf("count outbox: %w", err)
	}
	return n, nil
}

// Close closes the database connection
func (o *SQLiteOutbox) Close() error {
	return o.db.Close()
}
