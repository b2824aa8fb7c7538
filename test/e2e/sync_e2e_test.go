package e2e

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"testing"
	"time"

	nailsync "github.com/hyperengineering/nailguard/internal/sync"
	"github.com/hyperengineering/nailguard/internal/types"
	"github.com/hyperengineering/nailguard/pkg/companion"
)

// A reachable companion drains its outbox on activation and adopts the
// server's count, which includes events from other devices.
func TestSync_ActivationDrainsOutbox(t *testing.T) {
	ts := startServer(t)
	now := time.Now()
	ts.seed(t, types.NewEvent(now), types.NewEvent(now), types.NewEvent(now))

	e1, e2 := types.NewEvent(now), types.NewEvent(now)
	tc := newCompanion(t, ts.URL, companion.Config{}, e1, e2)
	tc.start(t)

	waitFor(t, 2*time.Second, func() bool {
		return len(tc.pending(t)) == 0
	})
	waitFor(t, time.Second, func() bool {
		return tc.state(t).AuthoritativeCount == 5
	})
	if got := ts.eventCount(t); got != 5 {
		t.Errorf("server holds %d events, want 5", got)
	}
}

// A bite logged while reachable is sent immediately; if the send fails it
// lands in the outbox.
func TestSync_ImmediateSendFailureQueues(t *testing.T) {
	ts := startServer(t)
	tc := newCompanion(t, ts.URL, companion.Config{SendTimeout: time.Second})
	tc.start(t)

	if !tc.state(t).Reachable {
		t.Fatal("companion should be reachable after activation")
	}

	ts.Close()

	e3 := types.NewEvent(time.Now())
	if err := tc.client.LogEvent(context.Background(), e3); err != nil {
		t.Fatalf("LogEvent failed: %v", err)
	}

	waitFor(t, 2*time.Second, func() bool {
		return len(tc.pending(t)) == 1
	})
	if got := tc.pending(t)[0]; got.ID != e3.ID {
		t.Errorf("queued %s, want %s", got.ID, e3.ID)
	}
	waitFor(t, time.Second, func() bool {
		return !tc.monitor.Reachable()
	})
}

func TestSync_ImmediateSendAdoptsCount(t *testing.T) {
	ts := startServer(t)
	ts.seed(t, types.NewEvent(time.Now()))

	tc := newCompanion(t, ts.URL, companion.Config{})
	tc.start(t)

	if _, err := tc.client.LogBite(context.Background()); err != nil {
		t.Fatalf("LogBite failed: %v", err)
	}

	waitFor(t, 2*time.Second, func() bool {
		return tc.state(t).AuthoritativeCount == 2
	})
	if n := len(tc.pending(t)); n != 0 {
		t.Errorf("outbox holds %d events, want 0", n)
	}
}

// A merge whose reply is lost leaves the batch queued; the retry on the
// next reachability edge is absorbed by the server without double counting.
func TestSync_LostReplyRetriedOnEdge(t *testing.T) {
	ts := startServer(t)
	ts.loseReplies.Store(true)

	e1 := types.NewEvent(time.Now())
	tc := newCompanion(t, ts.URL, companion.Config{SendTimeout: 200 * time.Millisecond}, e1)
	tc.start(t)

	waitFor(t, 2*time.Second, func() bool {
		st := tc.state(t)
		return st.LastError != "" && !st.InFlightFlush
	})
	if pending := tc.pending(t); len(pending) != 1 || pending[0].ID != e1.ID {
		t.Fatalf("outbox = %v, want [e1]", pending)
	}
	if got := ts.eventCount(t); got != 1 {
		t.Fatalf("server holds %d events after lost reply, want 1", got)
	}

	ts.loseReplies.Store(false)
	tc.monitor.Set(false)
	tc.monitor.Set(true)

	waitFor(t, 2*time.Second, func() bool {
		return len(tc.pending(t)) == 0
	})
	waitFor(t, time.Second, func() bool {
		return tc.state(t).AuthoritativeCount == 1
	})
	if got := ts.eventCount(t); got != 1 {
		t.Errorf("server holds %d events after retry, want 1", got)
	}
}

// A malformed payload is refused before any write, and the companion keeps
// its outbox.
func TestSync_MalformedPayloadRejected(t *testing.T) {
	ts := startServer(t)
	ts.corruptPayloads.Store(true)

	e1 := types.NewEvent(time.Now())
	tc := newCompanion(t, ts.URL, companion.Config{}, e1)
	tc.start(t)

	waitFor(t, 2*time.Second, func() bool {
		st := tc.state(t)
		return st.LastError != "" && !st.InFlightFlush
	})
	if pending := tc.pending(t); len(pending) != 1 || pending[0].ID != e1.ID {
		t.Errorf("outbox = %v, want [e1]", pending)
	}
	if got := ts.eventCount(t); got != 0 {
		t.Errorf("server holds %d events, want 0", got)
	}
}

func TestSync_MalformedPayloadReply(t *testing.T) {
	ts := startServer(t)
	ts.seed(t, types.NewEvent(time.Now()))

	body := []byte(`{"syncBatch":[{"id":"bogus","timestamp":"yesterday"}]}`)
	req, err := http.NewRequest(http.MethodPost, ts.URL+"/api/v1/sync/merge", bytes.NewReader(body))
	if err != nil {
		t.Fatalf("NewRequest failed: %v", err)
	}
	req.Header.Set("Authorization", "Bearer "+testAPIKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusUnprocessableEntity {
		t.Errorf("status = %d, want 422", resp.StatusCode)
	}
	var reply nailsync.MergeReply
	if err := json.NewDecoder(resp.Body).Decode(&reply); err != nil {
		t.Fatalf("decode reply: %v", err)
	}
	if reply.Success || reply.Error == "" || reply.TodayCount != nil {
		t.Errorf("reply = %+v, want failure envelope", reply)
	}
	if got := ts.eventCount(t); got != 1 {
		t.Errorf("server holds %d events, want 1", got)
	}
}

// While unreachable, a flush echoes the outbox over the guaranteed path.
// The outbox stays intact until a reply-capable flush confirms it.
func TestSync_GuaranteedEchoKeepsOutbox(t *testing.T) {
	ts := startServer(t)
	tc := newCompanion(t, ts.URL, companion.Config{GuaranteedEcho: true})
	tc.start(t)

	tc.monitor.Set(false)
	waitFor(t, time.Second, func() bool {
		return !tc.state(t).Reachable
	})

	e1 := types.NewEvent(time.Now())
	if err := tc.client.LogEvent(context.Background(), e1); err != nil {
		t.Fatalf("LogEvent failed: %v", err)
	}

	res := tc.client.Sync(context.Background())
	if res.Err == nil {
		t.Fatal("sync while unreachable should report an error")
	}

	waitFor(t, 2*time.Second, func() bool {
		return ts.eventCount(t) == 1
	})
	if pending := tc.pending(t); len(pending) != 1 || pending[0].ID != e1.ID {
		t.Errorf("outbox = %v, want [e1]", pending)
	}

	// The confirmed flush after reconnecting clears it without a duplicate.
	tc.monitor.Set(true)
	waitFor(t, 2*time.Second, func() bool {
		return len(tc.pending(t)) == 0
	})
	if got := ts.eventCount(t); got != 1 {
		t.Errorf("server holds %d events, want 1", got)
	}
}
