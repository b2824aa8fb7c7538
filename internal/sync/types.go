// Package sync defines the wire protocol between a companion device and the
// authoritative store: the sync batch a companion flushes and the merge reply
// it gets back.
package sync

import (
	"time"

	"github.com/hyperengineering/nailguard/internal/types"
)

// BatchField is the named field that identifies a payload as a sync batch.
const BatchField = "syncBatch"

// BatchRecord is one event as it travels on the wire.
type BatchRecord struct {
	ID        string `json:"id"`
	Timestamp string `json:"timestamp"`
}

// BatchRequest is the JSON envelope of a sync batch.
type BatchRequest struct {
	Events   []BatchRecord `json:"syncBatch"`
	BatchID  string        `json:"batchId,omitempty"`
	SourceID string        `json:"sourceId,omitempty"`
}

// Batch is a decoded sync batch: an ordered sequence of events flushed as one
// unit. BatchID is a ULID used only for log correlation.
type Batch struct {
	BatchID  string
	SourceID string
	Events   []types.Event
}

// MergeReply is the authoritative side's answer to a sync batch.
// On success TodayCount is set; on failure Error is set.
type MergeReply struct {
	Success    bool   `json:"success"`
	TodayCount *int   `json:"todayCount,omitempty"`
	Error      string `json:"error,omitempty"`
}

// SuccessReply builds a reply carrying the authoritative count for today.
func SuccessReply(todayCount int) MergeReply {
	return MergeReply{Success: true, TodayCount: &todayCount}
}

// FailureReply builds a reply rejecting a batch.
func FailureReply(msg string) MergeReply {
	return MergeReply{Success: false, Error: msg}
}

// Count returns the reply's today count, or 0 when absent.
func (r MergeReply) Count() int {
	if r.TodayCount == nil {
		return 0
	}
	return *r.TodayCount
}

// TimestampFormat is the ISO-8601 layout used for event timestamps on the wire.
const TimestampFormat = time.RFC3339Nano
