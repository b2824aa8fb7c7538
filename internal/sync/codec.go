package sync

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/oklog/ulid/v2"

	"github.com/hyperengineering/nailguard/internal/types"
	"github.com/hyperengineering/nailguard/internal/validation"
)

// ErrDecode matches every DecodeError via errors.Is.
var ErrDecode = errors.New("malformed sync batch")

// ErrMalformedReply is returned when a merge reply cannot be decoded.
var ErrMalformedReply = errors.New("malformed merge reply")

// DecodeError reports a sync batch that was rejected wholesale.
type DecodeError struct {
	Reason string
	Fields []validation.ValidationError
	Err    error
}

func (e *DecodeError) Error() string {
	var b strings.Builder
	b.WriteString(ErrDecode.Error())
	if e.Reason != "" {
		b.WriteString(": ")
		b.WriteString(e.Reason)
	}
	if len(e.Fields) > 0 {
		fmt.Fprintf(&b, " (%s %s", e.Fields[0].Field, e.Fields[0].Message)
		if len(e.Fields) > 1 {
			fmt.Fprintf(&b, "; %d more", len(e.Fields)-1)
		}
		b.WriteString(")")
	}
	return b.String()
}

// Is makes errors.Is(err, ErrDecode) true for any DecodeError.
func (e *DecodeError) Is(target error) bool {
	return target == ErrDecode
}

func (e *DecodeError) Unwrap() error {
	return e.Err
}

// NewBatch builds a batch for the given events with a fresh batch ID.
func NewBatch(sourceID string, events []types.Event) Batch {
	return Batch{
		BatchID:  ulid.Make().String(),
		SourceID: sourceID,
		Events:   events,
	}
}

// EncodeBatch serializes a batch into its wire form.
func EncodeBatch(b Batch) ([]byte, error) {
	req := BatchRequest{
		Events:   make([]BatchRecord, len(b.Events)),
		BatchID:  b.BatchID,
		SourceID: b.SourceID,
	}
	for i, ev := range b.Events {
		req.Events[i] = BatchRecord{
			ID:        ev.ID.String(),
			Timestamp: ev.Timestamp.UTC().Format(TimestampFormat),
		}
	}
	data, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("encode sync batch: %w", err)
	}
	return data, nil
}

// DecodeBatch parses and validates a wire batch. Any problem rejects the
// whole batch with a *DecodeError; there is no partial decode.
func DecodeBatch(payload []byte) (Batch, error) {
	if len(bytes.TrimSpace(payload)) == 0 {
		return Batch{}, &DecodeError{Reason: "empty payload"}
	}

	var envelope struct {
		Events   json.RawMessage `json:"syncBatch"`
		BatchID  string          `json:"batchId"`
		SourceID string          `json:"sourceId"`
	}
	if err := json.Unmarshal(payload, &envelope); err != nil {
		return Batch{}, &DecodeError{Reason: "invalid JSON", Err: err}
	}
	raw := bytes.TrimSpace(envelope.Events)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return Batch{}, &DecodeError{Reason: "missing " + BatchField + " field"}
	}

	var records []BatchRecord
	if err := json.Unmarshal(raw, &records); err != nil {
		return Batch{}, &DecodeError{Reason: BatchField + " must be an array of {id, timestamp} records", Err: err}
	}

	var c validation.Collector
	for _, e := range validation.ValidateBatchEnvelope(len(records), envelope.BatchID, envelope.SourceID) {
		c.Add(&e)
	}
	for i, r := range records {
		for _, e := range validation.ValidateBatchRecord(i, r.ID, r.Timestamp) {
			c.Add(&e)
		}
	}
	if c.HasErrors() {
		return Batch{}, &DecodeError{Reason: "invalid records", Fields: c.Errors()}
	}

	events := make([]types.Event, len(records))
	for i, r := range records {
		// Both parses were checked by validation above.
		id, _ := uuid.Parse(r.ID)
		ts, _ := time.Parse(TimestampFormat, r.Timestamp)
		events[i] = types.Event{ID: id, Timestamp: ts}
	}

	return Batch{
		BatchID:  envelope.BatchID,
		SourceID: envelope.SourceID,
		Events:   events,
	}, nil
}

// EncodeReply serializes a merge reply.
func EncodeReply(r MergeReply) ([]byte, error) {
	data, err := json.Marshal(r)
	if err != nil {
		return nil, fmt.Errorf("encode merge reply: %w", err)
	}
	return data, nil
}

// DecodeReply parses a merge reply. A successful reply without a count is
// malformed.
func DecodeReply(payload []byte) (MergeReply, error) {
	var r MergeReply
	if err := json.Unmarshal(payload, &r); err != nil {
		return MergeReply{}, fmt.Errorf("%w: %v", ErrMalformedReply, err)
	}
	if r.Success && r.TodayCount == nil {
		return MergeReply{}, fmt.Errorf("%w: success without todayCount", ErrMalformedReply)
	}
	if r.Success && *r.TodayCount < 0 {
		return MergeReply{}, fmt.Errorf("%w: negative todayCount", ErrMalformedReply)
	}
	return r, nil
}
