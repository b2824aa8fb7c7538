package store

import (
	"context"
	"math"
	"time"

	"github.com/hyperengineering/nailguard/internal/types"
)

// Store is the authoritative set of bite events, keyed by event ID.
// Inserts are idempotent: an ID that is already present is left untouched.
type Store interface {
	// InsertIfAbsent inserts ev unless an event with the same ID exists.
	// It reports whether a row was added.
	InsertIfAbsent(ctx context.Context, ev types.Event) (bool, error)

	// InsertBatch inserts every event idempotently inside one transaction.
	// Either the whole batch is applied or none of it is. It returns the
	// number of rows actually added.
	InsertBatch(ctx context.Context, events []types.Event) (int, error)

	// CountInRange counts events with start <= timestamp < end.
	CountInRange(ctx context.Context, start, end time.Time) (int, error)

	// ListRange returns events with start <= timestamp < end, oldest first.
	ListRange(ctx context.Context, start, end time.Time) ([]types.Event, error)

	GetStats(ctx context.Context) (*types.StoreStats, error)
	Close() error
}

// Snapshotter is implemented by stores that can produce a self-contained
// copy of themselves for backup.
type Snapshotter interface {
	// GenerateSnapshot writes a consistent copy of the store and returns its path.
	GenerateSnapshot(ctx context.Context) (string, error)
}

func checkTimestamps(events []types.Event) error {
	for _, ev := range events {
		if err := ev.CheckTimestamp(); err != nil {
			return err
		}
	}
	return nil
}

// boundNanos converts a query bound to Unix nanoseconds, clamping instants
// outside the storable range to its ends.
func boundNanos(t time.Time) int64 {
	switch {
	case t.Before(types.MinTimestamp):
		return math.MinInt64
	case t.After(types.MaxTimestamp):
		return math.MaxInt64
	default:
		return t.UnixNano()
	}
}
