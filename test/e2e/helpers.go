package e2e

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/hyperengineering/nailguard/internal/api"
	"github.com/hyperengineering/nailguard/internal/merge"
	"github.com/hyperengineering/nailguard/internal/store"
	"github.com/hyperengineering/nailguard/internal/types"
	"github.com/hyperengineering/nailguard/pkg/companion"
)

const testAPIKey = "e2e-test-key"

// testServer is an in-process authoritative server with fault injection
// on the sync routes.
type testServer struct {
	*httptest.Server
	store    *store.SQLiteStore
	endpoint *merge.Endpoint

	// loseReplies applies merges but never answers them.
	loseReplies atomic.Bool
	// corruptPayloads replaces sync request bodies with garbage.
	corruptPayloads atomic.Bool
}

func startServer(t *testing.T) *testServer {
	t.Helper()

	s, err := store.NewSQLiteStore(filepath.Join(t.TempDir(), "server.db"))
	if err != nil {
		t.Fatalf("NewSQLiteStore failed: %v", err)
	}
	t.Cleanup(func() { s.Close() })

	ts := &testServer{
		store:    s,
		endpoint: merge.New(s),
	}
	router := api.NewRouter(api.NewHandler(ts.endpoint, testAPIKey, "e2e"))

	ts.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !strings.HasPrefix(r.URL.Path, "/api/v1/sync/") {
			router.ServeHTTP(w, r)
			return
		}
		if ts.corruptPayloads.Load() {
			garbage := `{"syncBatch":[{"id":"not-a-uuid"}]}`
			r.Body = io.NopCloser(strings.NewReader(garbage))
			r.ContentLength = int64(len(garbage))
		}
		if ts.loseReplies.Load() {
			router.ServeHTTP(httptest.NewRecorder(), r)
			<-r.Context().Done()
			return
		}
		router.ServeHTTP(w, r)
	}))
	t.Cleanup(ts.Close)
	return ts
}

// eventCount returns the number of events in the authoritative store.
func (ts *testServer) eventCount(t *testing.T) int64 {
	t.Helper()
	stats, err := ts.store.GetStats(context.Background())
	if err != nil {
		t.Fatalf("GetStats failed: %v", err)
	}
	return stats.EventCount
}

// seed inserts events directly into the authoritative store.
func (ts *testServer) seed(t *testing.T, events ...types.Event) {
	t.Helper()
	if _, err := ts.store.InsertBatch(context.Background(), events); err != nil {
		t.Fatalf("InsertBatch failed: %v", err)
	}
}

// testCompanion is a companion client talking HTTP to a testServer.
type testCompanion struct {
	client  *companion.Client
	outbox  companion.Outbox
	monitor *companion.Monitor
}

func newCompanion(t *testing.T, serverURL string, cfg companion.Config, preload ...types.Event) *testCompanion {
	t.Helper()

	outbox, err := companion.NewFileOutbox(filepath.Join(t.TempDir(), "outbox.json"))
	if err != nil {
		t.Fatalf("NewFileOutbox failed: %v", err)
	}
	for _, ev := range preload {
		if err := outbox.Enqueue(ev); err != nil {
			t.Fatalf("Enqueue failed: %v", err)
		}
	}

	if cfg.SourceID == "" {
		cfg.SourceID = "e2e-watch"
	}
	monitor := companion.NewMonitor()
	transport := companion.NewHTTPTransport(serverURL, testAPIKey, cfg.SourceID, monitor,
		companion.WithRetry(10*time.Millisecond, 50*time.Millisecond, 3))

	tc := &testCompanion{
		client:  companion.New(cfg, outbox, transport, monitor, nil),
		outbox:  outbox,
		monitor: monitor,
	}
	t.Cleanup(func() { tc.client.Close() })
	return tc
}

func (tc *testCompanion) start(t *testing.T) {
	t.Helper()
	if err := tc.client.Start(context.Background()); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	waitFor(t, 2*time.Second, func() bool {
		return tc.state(t).Activation == companion.Activated
	})
}

func (tc *testCompanion) state(t *testing.T) companion.State {
	t.Helper()
	st, err := tc.client.State(context.Background())
	if err != nil {
		t.Fatalf("State failed: %v", err)
	}
	return st
}

func (tc *testCompanion) pending(t *testing.T) []types.Event {
	t.Helper()
	events, err := tc.outbox.Snapshot()
	if err != nil {
		t.Fatalf("Snapshot failed: %v", err)
	}
	return events
}

// waitFor polls cond until it holds or the timeout elapses.
func waitFor(t *testing.T, timeout time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatal("condition not met before timeout")
		}
		time.Sleep(5 * time.Millisecond)
	}
}
