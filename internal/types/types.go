package types

import (
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/google/uuid"
)

// Event is a single recorded bite. The ID is assigned by the device that
// observed the bite, at the moment it happened, and is never regenerated:
// retries resend the same ID so the authoritative side can deduplicate.
type Event struct {
	ID        uuid.UUID `json:"id"`
	Timestamp time.Time `json:"timestamp"`
}

// NewEvent creates an event for a bite observed at the given instant.
func NewEvent(at time.Time) Event {
	return Event{
		ID:        uuid.New(),
		Timestamp: at,
	}
}

// Stores keep timestamps as int64 Unix nanoseconds, which bounds the
// instants an Event can carry.
var (
	MinTimestamp = time.Unix(0, math.MinInt64).UTC()
	MaxTimestamp = time.Unix(0, math.MaxInt64).UTC()
)

// ErrTimestampOutOfRange is returned for events outside
// [MinTimestamp, MaxTimestamp].
var ErrTimestampOutOfRange = errors.New("timestamp out of range")

// TimestampInRange reports whether t can be stored without loss.
func TimestampInRange(t time.Time) bool {
	return !t.Before(MinTimestamp) && !t.After(MaxTimestamp)
}

// CheckTimestamp returns ErrTimestampOutOfRange, wrapped with the event ID,
// when the event cannot be stored without loss.
func (e Event) CheckTimestamp() error {
	if TimestampInRange(e.Timestamp) {
		return nil
	}
	return fmt.Errorf("%w: event %s at %s", ErrTimestampOutOfRange, e.ID, e.Timestamp.Format(time.RFC3339))
}

// Equal reports whether two events carry the same identity and instant.
func (e Event) Equal(other Event) bool {
	return e.ID == other.ID && e.Timestamp.Equal(other.Timestamp)
}

// RecordRequest is the body of a locally logged bite on the authoritative side.
// Both fields are optional; missing values are generated by the server.
type RecordRequest struct {
	ID        string `json:"id,omitempty"`
	Timestamp string `json:"timestamp,omitempty"`
}

// RecordResponse reports the outcome of a locally logged bite.
type RecordResponse struct {
	Event      Event `json:"event"`
	Inserted   bool  `json:"inserted"`
	TodayCount int   `json:"todayCount"`
}

// TodayResponse carries the count of bites for the current local day.
type TodayResponse struct {
	Date       string `json:"date"`
	TodayCount int    `json:"todayCount"`
}

// EventListResponse carries the events of a time range, oldest first.
type EventListResponse struct {
	From   time.Time `json:"from"`
	To     time.Time `json:"to"`
	Events []Event   `json:"events"`
	Total  int       `json:"total"`
}

// HealthResponse represents the health check response
type HealthResponse struct {
	Status     string     `json:"status"`
	Version    string     `json:"version"`
	EventCount int64      `json:"event_count"`
	LastEvent  *time.Time `json:"last_event,omitempty"`
	Timezone   string     `json:"timezone"`
}

// StoreStats holds aggregate store statistics.
type StoreStats struct {
	EventCount int64      `json:"event_count"`
	FirstEvent *time.Time `json:"first_event,omitempty"`
	LastEvent  *time.Time `json:"last_event,omitempty"`
	LastBackup *time.Time `json:"last_backup,omitempty"`
}
