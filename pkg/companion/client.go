// Package companion implements the intermittently connected side of bite
// sync: a durable outbox, a reachability monitor, and a session that
// drains the outbox to the authoritative side and adopts its count.
package companion

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/hyperengineering/nailguard/internal/types"
)

// Client runs a Session and, optionally, a Prober, and owns the outbox.
type Client struct {
	session *Session
	outbox  Outbox
	prober  *Prober

	mu     sync.Mutex
	cancel context.CancelFunc
	wg     sync.WaitGroup
	closed bool
}

// New creates a Client. prober may be nil when something else drives the
// monitor.
func New(cfg Config, outbox Outbox, transport Transport, monitor *Monitor, prober *Prober) *Client {
	return &Client{
		session: NewSession(cfg, outbox, transport, monitor),
		outbox:  outbox,
		prober:  prober,
	}
}

// Start runs the session and prober in the background and begins
// activation.
func (c *Client) Start(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return errors.New("client is closed")
	}
	if c.cancel != nil {
		return errors.New("client already started")
	}

	runCtx, cancel := context.WithCancel(ctx)
	c.cancel = cancel

	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		c.session.Run(runCtx)
	}()

	if c.prober != nil {
		c.wg.Add(1)
		go func() {
			defer c.wg.Done()
			c.prober.Run(runCtx)
		}()
	}

	return c.session.Activate(ctx)
}

// Activate retries activation after a failure.
func (c *Client) Activate(ctx context.Context) error {
	return c.session.Activate(ctx)
}

// LogBite records a bite observed now and returns the event.
func (c *Client) LogBite(ctx context.Context) (types.Event, error) {
	ev := types.NewEvent(time.Now())
	return ev, c.session.LogBite(ctx, ev)
}

// LogEvent records an event created by the caller.
func (c *Client) LogEvent(ctx context.Context, ev types.Event) error {
	return c.session.LogBite(ctx, ev)
}

// Sync flushes the outbox and waits for the result.
func (c *Client) Sync(ctx context.Context) FlushResult {
	return c.session.Flush(ctx)
}

// TodayCount returns the last count adopted from the authoritative side.
func (c *Client) TodayCount(ctx context.Context) (int, error) {
	st, err := c.session.State(ctx)
	if err != nil {
		return 0, err
	}
	return st.AuthoritativeCount, nil
}

// State returns the current session state.
func (c *Client) State(ctx context.Context) (State, error) {
	return c.session.State(ctx)
}

// Updates delivers session state changes.
func (c *Client) Updates() <-chan State {
	return c.session.Updates()
}

// Close stops the session, waits for it to persist anything in flight,
// and closes the outbox.
func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return nil
	}
	c.closed = true

	if c.cancel != nil {
		c.cancel()
		c.wg.Wait()
	}
	return c.outbox.Close()
}
