package api

import (
	"errors"
	"io"
	"log/slog"
	"net/http"

	nailsync "github.com/hyperengineering/nailguard/internal/sync"
)

const (
	// maxSyncBody bounds a sync batch body. A full batch of 1000 records
	// serializes to roughly 90 KiB.
	maxSyncBody = 1 << 20

	maxRecordBody = 4 << 10
)

// SyncMerge handles POST /api/v1/sync/merge
//
// The reply envelope is written for every outcome so the companion can read
// it regardless of status: 200 on success, 422 for a malformed batch, 503
// when the store could not apply it.
func (h *Handler) SyncMerge(w http.ResponseWriter, r *http.Request) {
	payload, ok := readSyncBody(w, r)
	if !ok {
		return
	}

	reply, err := h.endpoint.Merge(r.Context(), payload)
	status := http.StatusOK
	switch {
	case errors.Is(err, nailsync.ErrDecode):
		status = http.StatusUnprocessableEntity
	case err != nil:
		status = http.StatusServiceUnavailable
	}

	body, encErr := nailsync.EncodeReply(reply)
	if encErr != nil {
		slog.Error("failed to encode merge reply", "component", "api", "error", encErr)
		WriteProblem(w, r, http.StatusInternalServerError, "Internal Server Error")
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	w.Write(body)
}

// SyncDeliver handles POST /api/v1/sync/deliver
//
// Deliver is the guaranteed path: the batch is applied before the response
// is written, but no count is returned. 202 acknowledges receipt.
func (h *Handler) SyncDeliver(w http.ResponseWriter, r *http.Request) {
	payload, ok := readSyncBody(w, r)
	if !ok {
		return
	}

	_, err := h.endpoint.Merge(r.Context(), payload)
	var decodeErr *nailsync.DecodeError
	switch {
	case errors.As(err, &decodeErr):
		WriteProblemWithErrors(w, r, decodeErr.Error(), decodeErr.Fields)
		return
	case err != nil:
		WriteProblem(w, r, http.StatusServiceUnavailable, "Store unavailable")
		return
	}

	slog.Debug("sync batch delivered",
		"component", "api",
		"action", "deliver",
		"source_id", SourceIDFromContext(r.Context()),
	)
	w.WriteHeader(http.StatusAccepted)
}

func readSyncBody(w http.ResponseWriter, r *http.Request) ([]byte, bool) {
	payload, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxSyncBody))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			WriteProblem(w, r, http.StatusRequestEntityTooLarge, "Sync batch too large")
			return nil, false
		}
		WriteProblem(w, r, http.StatusBadRequest, "Failed to read request body")
		return nil, false
	}
	return payload, true
}
