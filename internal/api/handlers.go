package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/hyperengineering/nailguard/internal/merge"
	"github.com/hyperengineering/nailguard/internal/types"
	"github.com/hyperengineering/nailguard/internal/validation"
)

// Handler implements the API handlers
type Handler struct {
	endpoint *merge.Endpoint
	apiKey   string
	version  string
}

// NewHandler creates a new Handler over the merge endpoint
func NewHandler(e *merge.Endpoint, apiKey, version string) *Handler {
	return &Handler{
		endpoint: e,
		apiKey:   apiKey,
		version:  version,
	}
}

// Health returns the health status
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	stats, err := h.endpoint.Stats(r.Context())
	if err != nil {
		slog.Error("health check failed", "component", "api", "error", err)
		WriteProblem(w, r, http.StatusServiceUnavailable, "Store unavailable")
		return
	}

	resp := types.HealthResponse{
		Status:     "healthy",
		Version:    h.version,
		EventCount: stats.EventCount,
		LastEvent:  stats.LastEvent,
		Timezone:   h.endpoint.Location().String(),
	}

	writeJSON(w, http.StatusOK, resp)
}

// RecordBite handles POST /api/v1/events
func (h *Handler) RecordBite(w http.ResponseWriter, r *http.Request) {
	var req types.RecordRequest
	// An empty body records a bite at the current instant.
	err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxRecordBody)).Decode(&req)
	if err != nil && !errors.Is(err, io.EOF) {
		WriteProblem(w, r, http.StatusBadRequest, fmt.Sprintf("Invalid JSON: %s", err))
		return
	}

	var c validation.Collector
	if req.ID != "" {
		c.Add(validation.ValidateUUID("id", req.ID))
	}
	if req.Timestamp != "" {
		c.Add(validation.ValidateTimestamp("timestamp", req.Timestamp))
	}
	if c.HasErrors() {
		WriteProblemWithErrors(w, r, "Request contains invalid fields", c.Errors())
		return
	}

	ev := types.NewEvent(time.Now())
	if req.ID != "" {
		ev.ID = uuid.MustParse(req.ID)
	}
	if req.Timestamp != "" {
		ev.Timestamp, _ = time.Parse(time.RFC3339Nano, req.Timestamp)
	}

	inserted, count, err := h.endpoint.Record(r.Context(), ev)
	if err != nil {
		slog.Error("record failed",
			"component", "api",
			"action", "record_bite",
			"source_id", SourceIDFromContext(r.Context()),
			"error", err,
		)
		MapStoreError(w, r, err)
		return
	}

	status := http.StatusOK
	if inserted {
		status = http.StatusCreated
	}
	writeJSON(w, status, types.RecordResponse{
		Event:      ev,
		Inserted:   inserted,
		TodayCount: count,
	})
}

// Today handles GET /api/v1/events/today
func (h *Handler) Today(w http.ResponseWriter, r *http.Request) {
	count, err := h.endpoint.TodayCount(r.Context())
	if err != nil {
		slog.Error("today count failed", "component", "api", "error", err)
		MapStoreError(w, r, err)
		return
	}

	start, _ := h.endpoint.Today()
	writeJSON(w, http.StatusOK, types.TodayResponse{
		Date:       start.Format("2006-01-02"),
		TodayCount: count,
	})
}

// ListEvents handles GET /api/v1/events?from=&to=
// Both bounds are RFC 3339 instants. Missing bounds default to the current
// local day.
func (h *Handler) ListEvents(w http.ResponseWriter, r *http.Request) {
	from, to := h.endpoint.Today()

	var c validation.Collector
	if v := r.URL.Query().Get("from"); v != "" {
		if verr := validation.ValidateTimestamp("from", v); verr != nil {
			c.Add(verr)
		} else {
			from, _ = time.Parse(time.RFC3339Nano, v)
		}
	}
	if v := r.URL.Query().Get("to"); v != "" {
		if verr := validation.ValidateTimestamp("to", v); verr != nil {
			c.Add(verr)
		} else {
			to, _ = time.Parse(time.RFC3339Nano, v)
		}
	}
	if c.HasErrors() {
		errs := c.Errors()
		WriteProblem(w, r, http.StatusBadRequest, fmt.Sprintf("%s %s", errs[0].Field, errs[0].Message))
		return
	}

	events, err := h.endpoint.ListRange(r.Context(), from, to)
	if err != nil {
		MapStoreError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, types.EventListResponse{
		From:   from,
		To:     to,
		Events: events,
		Total:  len(events),
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("failed to encode response", "error", err)
	}
}
