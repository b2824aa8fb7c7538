package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/hyperengineering/nailguard/internal/merge"
	"github.com/hyperengineering/nailguard/internal/store"
	nailsync "github.com/hyperengineering/nailguard/internal/sync"
	"github.com/hyperengineering/nailguard/internal/types"
)

var testNow = time.Date(2026, 2, 4, 15, 0, 0, 0, time.UTC)

func newTestRouter(t *testing.T) (http.Handler, *store.SQLiteStore) {
	t.Helper()
	s, err := store.NewSQLiteStore(filepath.Join(t.TempDir(), "api.db"))
	if err != nil {
		t.Fatalf("NewSQLiteStore failed: %v", err)
	}
	t.Cleanup(func() { s.Close() })

	e := merge.New(s,
		merge.WithLocation(time.UTC),
		merge.WithClock(func() time.Time { return testNow }),
	)
	return NewRouter(NewHandler(e, testAPIKey, "test")), s
}

func do(t *testing.T, h http.Handler, method, target string, body []byte) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body != nil {
		req = httptest.NewRequest(method, target, bytes.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	} else {
		req = httptest.NewRequest(method, target, nil)
	}
	req.Header.Set("Authorization", "Bearer "+testAPIKey)
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	return w
}

func batchPayload(t *testing.T, events ...types.Event) []byte {
	t.Helper()
	data, err := nailsync.EncodeBatch(nailsync.NewBatch("watch-1", events))
	if err != nil {
		t.Fatalf("EncodeBatch failed: %v", err)
	}
	return data
}

func decodeReply(t *testing.T, w *httptest.ResponseRecorder) nailsync.MergeReply {
	t.Helper()
	reply, err := nailsync.DecodeReply(w.Body.Bytes())
	if err != nil {
		t.Fatalf("DecodeReply(%s) failed: %v", w.Body.String(), err)
	}
	return reply
}

func TestHealth_Public(t *testing.T) {
	h, _ := newTestRouter(t)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/health", nil)
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}
	var resp types.HealthResponse
	if err := json.NewDecoder(w.Body).Decode(&resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.Status != "healthy" || resp.Version != "test" || resp.Timezone != "UTC" {
		t.Errorf("health = %+v", resp)
	}
}

func TestProtectedRoutesRequireAuth(t *testing.T) {
	h, _ := newTestRouter(t)

	routes := []struct{ method, path string }{
		{http.MethodPost, "/api/v1/sync/merge"},
		{http.MethodPost, "/api/v1/sync/deliver"},
		{http.MethodPost, "/api/v1/events"},
		{http.MethodGet, "/api/v1/events"},
		{http.MethodGet, "/api/v1/events/today"},
	}
	for _, rt := range routes {
		req := httptest.NewRequest(rt.method, rt.path, nil)
		w := httptest.NewRecorder()
		h.ServeHTTP(w, req)
		if w.Code != http.StatusUnauthorized {
			t.Errorf("%s %s status = %d, want 401", rt.method, rt.path, w.Code)
		}
	}
}

func TestSyncMerge_Success(t *testing.T) {
	h, _ := newTestRouter(t)

	payload := batchPayload(t,
		types.NewEvent(testNow.Add(-time.Hour)),
		types.NewEvent(testNow.Add(-30*time.Minute)),
		types.NewEvent(testNow.Add(-36*time.Hour)),
	)
	w := do(t, h, http.MethodPost, "/api/v1/sync/merge", payload)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200: %s", w.Code, w.Body.String())
	}
	reply := decodeReply(t, w)
	if !reply.Success || reply.Count() != 2 {
		t.Errorf("reply = %+v, want success with count 2", reply)
	}

	// Resending the same batch does not change the count.
	w = do(t, h, http.MethodPost, "/api/v1/sync/merge", payload)
	if reply := decodeReply(t, w); reply.Count() != 2 {
		t.Errorf("count after resend = %d, want 2", reply.Count())
	}
}

func TestSyncMerge_Malformed(t *testing.T) {
	h, s := newTestRouter(t)

	w := do(t, h, http.MethodPost, "/api/v1/sync/merge", []byte(`{"syncBatch":[{"id":"nope"}]}`))

	if w.Code != http.StatusUnprocessableEntity {
		t.Errorf("status = %d, want 422", w.Code)
	}
	reply := decodeReply(t, w)
	if reply.Success || !strings.Contains(reply.Error, "malformed sync batch") {
		t.Errorf("reply = %+v", reply)
	}

	stats, err := s.GetStats(context.Background())
	if err != nil {
		t.Fatalf("GetStats failed: %v", err)
	}
	if stats.EventCount != 0 {
		t.Errorf("event count = %d, want 0", stats.EventCount)
	}
}

type brokenStore struct {
	store.Store
}

func (brokenStore) InsertBatch(ctx context.Context, events []types.Event) (int, error) {
	return 0, errors.New("disk I/O error")
}

func TestSyncMerge_StoreFailure(t *testing.T) {
	e := merge.New(brokenStore{}, merge.WithLocation(time.UTC))
	h := NewRouter(NewHandler(e, testAPIKey, "test"))

	w := do(t, h, http.MethodPost, "/api/v1/sync/merge", batchPayload(t, types.NewEvent(testNow)))

	if w.Code != http.StatusServiceUnavailable {
		t.Errorf("status = %d, want 503", w.Code)
	}
	reply := decodeReply(t, w)
	if reply.Success {
		t.Error("reply should report failure")
	}
	if strings.Contains(reply.Error, "disk") {
		t.Errorf("store detail leaked: %q", reply.Error)
	}
}

func TestSyncMerge_TooLarge(t *testing.T) {
	h, _ := newTestRouter(t)

	body := append([]byte(`{"syncBatch":[],"pad":"`), bytes.Repeat([]byte("x"), maxSyncBody)...)
	body = append(body, `"}`...)
	w := do(t, h, http.MethodPost, "/api/v1/sync/merge", body)

	if w.Code != http.StatusRequestEntityTooLarge {
		t.Errorf("status = %d, want 413", w.Code)
	}
}

func TestSyncDeliver(t *testing.T) {
	h, s := newTestRouter(t)

	w := do(t, h, http.MethodPost, "/api/v1/sync/deliver", batchPayload(t, types.NewEvent(testNow)))
	if w.Code != http.StatusAccepted {
		t.Fatalf("status = %d, want 202", w.Code)
	}

	count, err := s.CountInRange(context.Background(), testNow.Add(-time.Hour), testNow.Add(time.Hour))
	if err != nil {
		t.Fatalf("CountInRange failed: %v", err)
	}
	if count != 1 {
		t.Errorf("count = %d, want 1", count)
	}
}

func TestSyncDeliver_Malformed(t *testing.T) {
	h, _ := newTestRouter(t)

	w := do(t, h, http.MethodPost, "/api/v1/sync/deliver", []byte(`not json`))
	if w.Code != http.StatusUnprocessableEntity {
		t.Errorf("status = %d, want 422", w.Code)
	}
	if ct := w.Header().Get("Content-Type"); ct != "application/problem+json" {
		t.Errorf("Content-Type = %q", ct)
	}
}

func TestRecordBite(t *testing.T) {
	h, _ := newTestRouter(t)

	ev := types.NewEvent(testNow.Add(-time.Minute))
	body, _ := json.Marshal(types.RecordRequest{
		ID:        ev.ID.String(),
		Timestamp: ev.Timestamp.Format(time.RFC3339Nano),
	})

	w := do(t, h, http.MethodPost, "/api/v1/events", body)
	if w.Code != http.StatusCreated {
		t.Fatalf("status = %d, want 201: %s", w.Code, w.Body.String())
	}
	var resp types.RecordResponse
	if err := json.NewDecoder(w.Body).Decode(&resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if !resp.Inserted || resp.TodayCount != 1 || resp.Event.ID != ev.ID {
		t.Errorf("resp = %+v", resp)
	}

	w = do(t, h, http.MethodPost, "/api/v1/events", body)
	if w.Code != http.StatusOK {
		t.Errorf("duplicate status = %d, want 200", w.Code)
	}
}

func TestRecordBite_EmptyBody(t *testing.T) {
	h, _ := newTestRouter(t)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/events", nil)
	req.Header.Set("Authorization", "Bearer "+testAPIKey)
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)

	if w.Code != http.StatusCreated {
		t.Errorf("status = %d, want 201: %s", w.Code, w.Body.String())
	}
}

func TestRecordBite_Invalid(t *testing.T) {
	h, _ := newTestRouter(t)

	tests := []struct {
		name string
		body string
		want int
	}{
		{"bad json", `{`, http.StatusBadRequest},
		{"bad id", `{"id":"123"}`, http.StatusUnprocessableEntity},
		{"nil id", `{"id":"00000000-0000-0000-0000-000000000000"}`, http.StatusUnprocessableEntity},
		{"bad timestamp", `{"timestamp":"yesterday"}`, http.StatusUnprocessableEntity},
		{"timestamp past storable range", `{"timestamp":"2610-08-26T14:34:33Z"}`, http.StatusUnprocessableEntity},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := do(t, h, http.MethodPost, "/api/v1/events", []byte(tt.body))
			if w.Code != tt.want {
				t.Errorf("status = %d, want %d", w.Code, tt.want)
			}
		})
	}
}

func TestToday(t *testing.T) {
	h, s := newTestRouter(t)
	ctx := context.Background()

	s.InsertBatch(ctx, []types.Event{
		types.NewEvent(testNow.Add(-time.Hour)),
		types.NewEvent(testNow.Add(-24 * time.Hour)),
	})

	w := do(t, h, http.MethodGet, "/api/v1/events/today", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}
	var resp types.TodayResponse
	if err := json.NewDecoder(w.Body).Decode(&resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.Date != "2026-02-04" || resp.TodayCount != 1 {
		t.Errorf("resp = %+v", resp)
	}
}

func TestListEvents(t *testing.T) {
	h, s := newTestRouter(t)
	ctx := context.Background()

	older := types.NewEvent(testNow.Add(-26 * time.Hour))
	newer := types.NewEvent(testNow.Add(-time.Hour))
	s.InsertBatch(ctx, []types.Event{newer, older})

	// Defaults to today.
	w := do(t, h, http.MethodGet, "/api/v1/events", nil)
	var resp types.EventListResponse
	if err := json.NewDecoder(w.Body).Decode(&resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.Total != 1 || resp.Events[0].ID != newer.ID {
		t.Errorf("today list = %+v", resp)
	}

	from := testNow.Add(-48 * time.Hour).Format(time.RFC3339)
	to := testNow.Format(time.RFC3339)
	w = do(t, h, http.MethodGet, "/api/v1/events?from="+from+"&to="+to, nil)
	resp = types.EventListResponse{}
	if err := json.NewDecoder(w.Body).Decode(&resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.Total != 2 || resp.Events[0].ID != older.ID {
		t.Errorf("range list = %+v", resp)
	}
}

func TestListEvents_BadParams(t *testing.T) {
	h, _ := newTestRouter(t)

	w := do(t, h, http.MethodGet, "/api/v1/events?from=yesterday", nil)
	if w.Code != http.StatusBadRequest {
		t.Errorf("bad from status = %d, want 400", w.Code)
	}

	from := testNow.Format(time.RFC3339)
	to := testNow.Add(-time.Hour).Format(time.RFC3339)
	w = do(t, h, http.MethodGet, "/api/v1/events?from="+from+"&to="+to, nil)
	if w.Code != http.StatusBadRequest {
		t.Errorf("inverted range status = %d, want 400", w.Code)
	}
}

func TestMetricsEndpoint(t *testing.T) {
	h, _ := newTestRouter(t)

	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Errorf("status = %d, want 200", w.Code)
	}
}
