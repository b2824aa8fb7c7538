package validation

import "fmt"

const (
	// MaxBatchEvents is the maximum number of events accepted in one sync batch.
	MaxBatchEvents = 1000

	// MaxSourceIDLength bounds the optional device identifier on a batch.
	MaxSourceIDLength = 128
)

// ValidateBatchRecord validates one wire record of a sync batch.
// Field names carry the record index, e.g. "syncBatch[3].id".
func ValidateBatchRecord(index int, id, timestamp string) []ValidationError {
	var c Collector
	prefix := fmt.Sprintf("syncBatch[%d]", index)

	if err := ValidateRequired(prefix+".id", id); err != nil {
		c.Add(err)
	} else {
		c.Add(ValidateUUID(prefix+".id", id))
	}

	if err := ValidateRequired(prefix+".timestamp", timestamp); err != nil {
		c.Add(err)
	} else {
		c.Add(ValidateTimestamp(prefix+".timestamp", timestamp))
	}

	return c.Errors()
}

// ValidateBatchEnvelope validates the batch-level fields of a sync batch.
// batchID and sourceID are optional; when present they must be well formed.
func ValidateBatchEnvelope(count int, batchID, sourceID string) []ValidationError {
	var c Collector

	if count > MaxBatchEvents {
		c.Add(&ValidationError{
			Field:   "syncBatch",
			Message: fmt.Sprintf("exceeds maximum of %d events", MaxBatchEvents),
		})
	}
	if batchID != "" {
		c.Add(ValidateULID("batchId", batchID))
	}
	if sourceID != "" {
		c.Add(ValidateNoNullBytes("sourceId", sourceID))
		c.Add(ValidateMaxLength("sourceId", sourceID, MaxSourceIDLength))
	}

	return c.Errors()
}
