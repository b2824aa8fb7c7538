// Package merge implements the authoritative side of sync: it applies sync
// batches to the event store idempotently and answers with the count of
// events for the current local day.
package merge

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/hyperengineering/nailguard/internal/metrics"
	"github.com/hyperengineering/nailguard/internal/store"
	nailsync "github.com/hyperengineering/nailguard/internal/sync"
	"github.com/hyperengineering/nailguard/internal/types"
)

// errStoreFailure is the reply text sent when the store cannot apply a batch.
// Store details stay in the server log.
const errStoreFailure = "store unavailable"

// Endpoint merges sync batches into the authoritative store.
// It is safe for concurrent use.
type Endpoint struct {
	store store.Store
	loc   *time.Location
	now   func() time.Time
}

// Option configures an Endpoint.
type Option func(*Endpoint)

// WithLocation sets the time zone that defines "today". Defaults to time.Local.
func WithLocation(loc *time.Location) Option {
	return func(e *Endpoint) {
		if loc != nil {
			e.loc = loc
		}
	}
}

// WithClock overrides the current time source.
func WithClock(now func() time.Time) Option {
	return func(e *Endpoint) {
		if now != nil {
			e.now = now
		}
	}
}

// New creates an Endpoint over the given store.
func New(s store.Store, opts ...Option) *Endpoint {
	e := &Endpoint{
		store: s,
		loc:   time.Local,
		now:   time.Now,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Location returns the time zone used for day boundaries.
func (e *Endpoint) Location() *time.Location {
	return e.loc
}

// Merge decodes a wire payload and applies it. The returned reply is always
// suitable to send back to the companion; err is non-nil when the batch was
// not applied. A malformed payload yields a *sync.DecodeError and leaves the
// store untouched.
func (e *Endpoint) Merge(ctx context.Context, payload []byte) (nailsync.MergeReply, error) {
	batch, err := nailsync.DecodeBatch(payload)
	if err != nil {
		metrics.MergeBatchesTotal.WithLabelValues(metrics.ResultRejected).Inc()
		slog.Warn("sync batch rejected",
			"component", "merge",
			"action", "merge_rejected",
			"error", err,
		)
		return nailsync.FailureReply(err.Error()), err
	}
	return e.MergeBatch(ctx, batch)
}

// MergeBatch applies an already decoded batch in one store transaction and
// replies with today's authoritative count.
func (e *Endpoint) MergeBatch(ctx context.Context, batch nailsync.Batch) (nailsync.MergeReply, error) {
	start := time.Now()
	defer func() {
		metrics.MergeDuration.Observe(time.Since(start).Seconds())
	}()

	inserted, err := e.store.InsertBatch(ctx, batch.Events)
	if err != nil {
		return e.storeFailure(batch, fmt.Errorf("insert batch: %w", err))
	}

	count, err := e.TodayCount(ctx)
	if err != nil {
		return e.storeFailure(batch, err)
	}

	metrics.MergeBatchesTotal.WithLabelValues(metrics.ResultSuccess).Inc()
	metrics.MergeEventsReceivedTotal.Add(float64(len(batch.Events)))
	metrics.EventsInsertedTotal.Add(float64(inserted))

	slog.Info("sync batch merged",
		"component", "merge",
		"action", "merge_complete",
		"batch_id", batch.BatchID,
		"source_id", batch.SourceID,
		"received", len(batch.Events),
		"inserted", inserted,
		"duplicates", len(batch.Events)-inserted,
		"today_count", count,
	)

	return nailsync.SuccessReply(count), nil
}

func (e *Endpoint) storeFailure(batch nailsync.Batch, err error) (nailsync.MergeReply, error) {
	metrics.MergeBatchesTotal.WithLabelValues(metrics.ResultError).Inc()
	slog.Error("sync batch merge failed",
		"component", "merge",
		"action", "merge_failed",
		"batch_id", batch.BatchID,
		"events", len(batch.Events),
		"error", err,
	)
	return nailsync.FailureReply(errStoreFailure), err
}

// Record inserts a single locally observed event using the same idempotent
// insert as Merge, and returns whether it was new plus today's count.
func (e *Endpoint) Record(ctx context.Context, ev types.Event) (bool, int, error) {
	inserted, err := e.store.InsertIfAbsent(ctx, ev)
	if err != nil {
		return false, 0, fmt.Errorf("record event: %w", err)
	}
	if inserted {
		metrics.EventsInsertedTotal.Inc()
	}

	count, err := e.TodayCount(ctx)
	if err != nil {
		return inserted, 0, err
	}

	slog.Debug("event recorded",
		"component", "merge",
		"action", "record",
		"event_id", ev.ID.String(),
		"inserted", inserted,
		"today_count", count,
	)
	return inserted, count, nil
}

// TodayCount counts events in the current local day.
func (e *Endpoint) TodayCount(ctx context.Context) (int, error) {
	start, end := DayBounds(e.now(), e.loc)
	count, err := e.store.CountInRange(ctx, start, end)
	if err != nil {
		return 0, fmt.Errorf("count today: %w", err)
	}
	return count, nil
}

// Today returns the bounds of the current local day.
func (e *Endpoint) Today() (time.Time, time.Time) {
	return DayBounds(e.now(), e.loc)
}

// ListRange returns events in [from, to), oldest first.
func (e *Endpoint) ListRange(ctx context.Context, from, to time.Time) ([]types.Event, error) {
	events, err := e.store.ListRange(ctx, from, to)
	if err != nil {
		return nil, fmt.Errorf("list events: %w", err)
	}
	return events, nil
}

// Stats returns aggregate store statistics.
func (e *Endpoint) Stats(ctx context.Context) (*types.StoreStats, error) {
	stats, err := e.store.GetStats(ctx)
	if err != nil {
		return nil, fmt.Errorf("get stats: %w", err)
	}
	return stats, nil
}

// DayBounds returns local midnight of t's day and local midnight of the next
// day in loc. The span is computed by calendar arithmetic, so it is 23 or 25
// hours long on DST transition days.
func DayBounds(t time.Time, loc *time.Location) (time.Time, time.Time) {
	local := t.In(loc)
	y, m, d := local.Date()
	start := time.Date(y, m, d, 0, 0, 0, 0, loc)
	end := time.Date(y, m, d+1, 0, 0, 0, 0, loc)
	return start, end
}
