package companion

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	nailsync "github.com/hyperengineering/nailguard/internal/sync"
	"github.com/hyperengineering/nailguard/internal/types"
)

// Session messages. Everything that changes session state arrives as one
// of these and is handled by the Run loop.
type (
	activateMsg       struct{}
	activationDoneMsg struct{ err error }
	reachabilityMsg   struct{}
	reachableEdgeMsg  struct{}
	echoDoneMsg       struct{}
	logBiteMsg        struct {
		ev    types.Event
		reply chan error
	}
	flushMsg struct {
		reply chan FlushResult // nil for fire-and-forget requests
	}
	sendDoneMsg struct {
		trigger string
		batch   []types.Event
		body    []byte
		err     error
	}
	stateMsg struct {
		reply chan State
	}
)

// Session is the companion-side sync state machine. All state is owned by
// the goroutine running Run; public methods post messages to it.
type Session struct {
	cfg       Config
	outbox    Outbox
	transport Transport
	monitor   *Monitor

	mailbox  chan any
	updates  chan State
	stopping chan struct{} // closed when shutdown begins
	done     chan struct{} // closed when Run returns
	runCtx   context.Context
	wg       sync.WaitGroup

	// Owned by the Run loop.
	state        State
	immediate    *types.Event
	unsaved      []types.Event
	echoing      bool
	chainTrigger string
	chainSent    int
	waiters      []chan FlushResult
}

// NewSession creates a session. It subscribes to the monitor immediately;
// call Run to start processing.
func NewSession(cfg Config, outbox Outbox, transport Transport, monitor *Monitor) *Session {
	cfg = cfg.withDefaults()
	s := &Session{
		cfg:       cfg,
		outbox:    outbox,
		transport: transport,
		monitor:   monitor,
		mailbox:   make(chan any, cfg.MailboxSize),
		updates:   make(chan State, 1),
		stopping:  make(chan struct{}),
		done:      make(chan struct{}),
	}
	monitor.OnChange(func(bool) {
		s.notify(reachabilityMsg{})
	})
	monitor.OnReachableEdge(func() {
		s.notify(reachableEdgeMsg{})
	})
	return s
}

// Run processes messages until ctx is cancelled. It must be called once.
func (s *Session) Run(ctx context.Context) error {
	s.runCtx = ctx
	defer close(s.done)

	s.state.Reachable = s.monitor.Reachable()
	s.refreshPending()
	s.publish()

	slog.Info("companion session started",
		"component", "session",
		"source_id", s.cfg.SourceID,
		"pending", s.state.Pending,
	)

	for {
		select {
		case <-ctx.Done():
			s.shutdown()
			return nil
		case m := <-s.mailbox:
			s.handle(m)
		}
	}
}

// Activate starts transport activation. It is ignored unless the session
// is Inactive.
func (s *Session) Activate(ctx context.Context) error {
	return s.send(ctx, activateMsg{})
}

// LogBite records ev. When the link is up and idle the event is sent
// immediately and queued only if that send fails; otherwise it is queued
// before LogBite returns and queueing errors are returned.
// Events the store cannot hold are refused with types.ErrTimestampOutOfRange.
func (s *Session) LogBite(ctx context.Context, ev types.Event) error {
	if err := ev.CheckTimestamp(); err != nil {
		return err
	}

	reply := make(chan error, 1)
	if err := s.send(ctx, logBiteMsg{ev: ev, reply: reply}); err != nil {
		return err
	}
	select {
	case err := <-reply:
		return err
	case <-s.done:
		return s.closedResult(reply)
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *Session) closedResult(reply chan error) error {
	select {
	case err := <-reply:
		return err
	default:
		return ErrSessionClosed
	}
}

// RequestFlush asks for a flush without waiting for its outcome.
func (s *Session) RequestFlush(ctx context.Context) error {
	return s.send(ctx, flushMsg{})
}

// Flush requests a flush and waits until it and any drain flushes that
// follow it complete. A flush that cannot start returns at once with the
// reason in Err.
func (s *Session) Flush(ctx context.Context) FlushResult {
	reply := make(chan FlushResult, 1)
	if err := s.send(ctx, flushMsg{reply: reply}); err != nil {
		return FlushResult{Trigger: TriggerRequest, Err: err}
	}
	select {
	case res := <-reply:
		return res
	case <-s.done:
		select {
		case res := <-reply:
			return res
		default:
			return FlushResult{Trigger: TriggerRequest, Err: ErrSessionClosed}
		}
	case <-ctx.Done():
		return FlushResult{Trigger: TriggerRequest, Err: ctx.Err()}
	}
}

// State returns a copy of the current session state.
func (s *Session) State(ctx context.Context) (State, error) {
	reply := make(chan State, 1)
	if err := s.send(ctx, stateMsg{reply: reply}); err != nil {
		return State{}, err
	}
	select {
	case st := <-reply:
		return st, nil
	case <-s.done:
		return State{}, ErrSessionClosed
	case <-ctx.Done():
		return State{}, ctx.Err()
	}
}

// Updates delivers the latest state after every change. Only the most
// recent state is retained for slow readers.
func (s *Session) Updates() <-chan State {
	return s.updates
}

func (s *Session) send(ctx context.Context, m any) error {
	select {
	case <-s.done:
		return ErrSessionClosed
	default:
	}
	select {
	case s.mailbox <- m:
		return nil
	case <-s.done:
		return ErrSessionClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

// notify posts monitor callbacks. Messages are dropped once shutdown
// begins.
func (s *Session) notify(m any) {
	select {
	case s.mailbox <- m:
	case <-s.stopping:
	}
}

// post delivers results from goroutines started by the loop.
func (s *Session) post(m any) {
	select {
	case s.mailbox <- m:
	case <-s.runCtx.Done():
	}
}

func (s *Session) spawn(fn func(ctx context.Context)) {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		fn(s.runCtx)
	}()
}

func (s *Session) handle(m any) {
	switch m := m.(type) {
	case activateMsg:
		s.handleActivate()
	case activationDoneMsg:
		s.handleActivationDone(m.err)
	case reachabilityMsg:
		s.syncReachability()
	case reachableEdgeMsg:
		s.syncReachability()
		s.flush(TriggerReachable)
	case logBiteMsg:
		m.reply <- s.handleLogBite(m.ev)
	case flushMsg:
		s.handleFlushRequest(m.reply)
	case sendDoneMsg:
		s.handleSendDone(m)
	case echoDoneMsg:
		s.echoing = false
	case stateMsg:
		m.reply <- s.state
	}
}

func (s *Session) handleActivate() {
	if s.state.Activation != Inactive {
		slog.Debug("activation ignored",
			"component", "session",
			"activation", s.state.Activation.String(),
		)
		return
	}

	s.state.Activation = Activating
	s.publish()
	slog.Info("session activating", "component", "session", "action", "activate")

	s.spawn(func(ctx context.Context) {
		actx, cancel := context.WithTimeout(ctx, s.cfg.SendTimeout)
		defer cancel()
		s.post(activationDoneMsg{err: s.transport.Activate(actx)})
	})
}

func (s *Session) handleActivationDone(err error) {
	if err != nil {
		err = fmt.Errorf("%w: %v", ErrActivation, err)
		s.state.Activation = Inactive
		s.setError(err)
		s.publish()
		slog.Error("session activation failed",
			"component", "session",
			"action", "activate",
			"error", err,
		)
		return
	}

	s.state.Activation = Activated
	s.state.Reachable = s.transport.IsReachable()
	s.publish()
	slog.Info("session activated",
		"component", "session",
		"action", "activate",
		"reachable", s.state.Reachable,
	)
	s.flush(TriggerActivation)
}

// syncReachability adopts the monitor's current value. Notifications from
// concurrent Set calls can arrive out of order, so their payload is not
// trusted.
func (s *Session) syncReachability() {
	reachable := s.monitor.Reachable()
	if s.state.Reachable == reachable {
		return
	}
	s.state.Reachable = reachable
	s.publish()
	slog.Info("reachability changed",
		"component", "session",
		"reachable", reachable,
	)
}

func (s *Session) handleLogBite(ev types.Event) error {
	if s.state.Activation == Activated && s.state.Reachable && !s.state.InFlightFlush {
		payload, err := nailsync.EncodeBatch(nailsync.NewBatch(s.cfg.SourceID, []types.Event{ev}))
		if err == nil {
			s.immediate = &ev
			s.chainTrigger = TriggerImmediate
			s.chainSent = 0
			s.startSend(TriggerImmediate, []types.Event{ev}, payload)
			return nil
		}
		slog.Warn("encode immediate send failed, queueing",
			"component", "session",
			"event_id", ev.ID.String(),
			"error", err,
		)
	}

	err := s.enqueue(ev)
	s.refreshPending()
	s.publish()
	if err == nil {
		slog.Debug("bite queued",
			"component", "session",
			"action", "enqueue",
			"event_id", ev.ID.String(),
			"pending", s.state.Pending,
		)
	}
	return err
}

func (s *Session) handleFlushRequest(reply chan FlushResult) {
	if err := s.attemptFlush(TriggerRequest); err != nil {
		s.logSkipped(TriggerRequest, err)
		if reply != nil {
			reply <- FlushResult{
				Trigger:    TriggerRequest,
				TodayCount: s.state.AuthoritativeCount,
				Err:        err,
			}
		}
		return
	}
	if reply != nil {
		s.waiters = append(s.waiters, reply)
	}
}

// flush runs attemptFlush for triggers nobody waits on.
func (s *Session) flush(trigger string) {
	if err := s.attemptFlush(trigger); err != nil {
		s.logSkipped(trigger, err)
	}
}

// attemptFlush starts sending the head of the outbox, or returns why it
// could not. It never blocks on the transport.
func (s *Session) attemptFlush(trigger string) error {
	if s.state.InFlightFlush {
		return ErrFlushInFlight
	}
	if s.state.Activation != Activated {
		return ErrNotActivated
	}

	s.persistUnsaved()
	events, err := s.outbox.Snapshot()
	if err != nil {
		err = fmt.Errorf("snapshot outbox: %w", err)
		s.setError(err)
		return err
	}
	if len(events) == 0 {
		return ErrOutboxEmpty
	}

	batch := events[:min(len(events), s.cfg.BatchLimit)]
	payload, err := nailsync.EncodeBatch(nailsync.NewBatch(s.cfg.SourceID, batch))
	if err != nil {
		err = fmt.Errorf("encode batch: %w", err)
		s.setError(err)
		return err
	}

	if !s.state.Reachable {
		if s.cfg.GuaranteedEcho {
			s.echo(payload, len(batch))
		}
		return ErrNotReachable
	}

	if trigger != TriggerDrain {
		s.chainTrigger = trigger
		s.chainSent = 0
	}
	s.startSend(trigger, batch, payload)
	return nil
}

func (s *Session) startSend(trigger string, batch []types.Event, payload []byte) {
	s.state.InFlightFlush = true
	s.publish()
	slog.Info("flush started",
		"component", "session",
		"action", "flush",
		"trigger", trigger,
		"events", len(batch),
	)

	s.spawn(func(ctx context.Context) {
		sctx, cancel := context.WithTimeout(ctx, s.cfg.SendTimeout)
		defer cancel()
		body, err := s.transport.SendWithReply(sctx, payload, s.cfg.SendTimeout)
		s.post(sendDoneMsg{trigger: trigger, batch: batch, body: body, err: err})
	})
}

// echo sends a batch on the guaranteed path. The outbox is left as is;
// the batch is resent with a reply once the link is back.
func (s *Session) echo(payload []byte, n int) {
	if s.echoing {
		return
	}
	s.echoing = true
	slog.Info("unreachable, sending batch on guaranteed path",
		"component", "session",
		"action", "echo",
		"events", n,
	)

	s.spawn(func(ctx context.Context) {
		defer s.post(echoDoneMsg{})
		if err := s.transport.SendGuaranteed(ctx, payload); err != nil {
			if ctx.Err() == nil {
				slog.Warn("guaranteed send failed",
					"component", "session",
					"action", "echo",
					"events", n,
					"error", err,
				)
			}
			return
		}
		slog.Debug("guaranteed send delivered",
			"component", "session",
			"action", "echo",
			"events", n,
		)
	})
}

func (s *Session) handleSendDone(m sendDoneMsg) {
	s.state.InFlightFlush = false
	count, err := parseReply(m.body, m.err)

	if m.trigger == TriggerImmediate {
		s.finishImmediate(m.batch[0], count, err)
		return
	}

	if err != nil {
		s.setError(err)
		s.publish()
		slog.Warn("flush failed",
			"component", "session",
			"action", "flush",
			"trigger", m.trigger,
			"events", len(m.batch),
			"error", err,
		)
		s.finishChain(err)
		return
	}

	s.adopt(count)
	if err := s.outbox.ClearPrefix(len(m.batch)); err != nil {
		err = fmt.Errorf("clear flushed prefix: %w", err)
		s.setError(err)
		s.refreshPending()
		s.publish()
		slog.Error("outbox clear failed",
			"component", "session",
			"action", "flush",
			"error", err,
		)
		s.finishChain(err)
		return
	}

	s.chainSent += len(m.batch)
	s.state.LastError = ""
	s.refreshPending()
	s.publish()
	slog.Info("flush complete",
		"component", "session",
		"action", "flush",
		"trigger", m.trigger,
		"events", len(m.batch),
		"today_count", count,
		"pending", s.state.Pending,
	)
	s.drain()
}

func (s *Session) finishImmediate(ev types.Event, count int, err error) {
	s.immediate = nil

	if err != nil {
		s.setError(err)
		slog.Warn("immediate send failed, queueing",
			"component", "session",
			"action", "send",
			"event_id", ev.ID.String(),
			"error", err,
		)
		s.enqueue(ev)
		s.refreshPending()
		s.publish()
		s.finishChain(err)
		return
	}

	s.adopt(count)
	s.chainSent = 1
	s.state.LastError = ""
	s.publish()
	slog.Info("bite sent",
		"component", "session",
		"action", "send",
		"event_id", ev.ID.String(),
		"today_count", count,
	)
	s.drain()
}

// drain continues a successful flush while events remain queued.
func (s *Session) drain() {
	if s.state.Pending == 0 {
		s.finishChain(nil)
		return
	}
	if err := s.attemptFlush(TriggerDrain); err != nil {
		s.logSkipped(TriggerDrain, err)
		if errors.Is(err, ErrOutboxEmpty) {
			err = nil
		}
		s.finishChain(err)
	}
}

func (s *Session) finishChain(err error) {
	res := FlushResult{
		Trigger:    s.chainTrigger,
		Sent:       s.chainSent,
		TodayCount: s.state.AuthoritativeCount,
		Err:        err,
	}
	for _, w := range s.waiters {
		w <- res
	}
	s.waiters = nil
	s.chainSent = 0
}

// enqueue persists ev. An event that cannot be persisted is held in memory
// and written before the next enqueue or flush.
func (s *Session) enqueue(ev types.Event) error {
	s.persistUnsaved()
	if err := s.outbox.Enqueue(ev); err != nil {
		err = fmt.Errorf("enqueue event %s: %w", ev.ID, err)
		s.unsaved = append(s.unsaved, ev)
		s.setError(err)
		slog.Error("outbox enqueue failed",
			"component", "session",
			"action", "enqueue",
			"event_id", ev.ID.String(),
			"error", err,
		)
		return err
	}
	return nil
}

func (s *Session) persistUnsaved() {
	for len(s.unsaved) > 0 {
		if err := s.outbox.Enqueue(s.unsaved[0]); err != nil {
			return
		}
		s.unsaved = s.unsaved[1:]
	}
}

func (s *Session) shutdown() {
	close(s.stopping)
	s.wg.Wait()

	// An event whose immediate send never reported back may not have
	// reached the authoritative side.
	if s.immediate != nil {
		s.enqueue(*s.immediate)
		s.immediate = nil
	}

	// Accept queued bites so callers are not told the session closed
	// while their event sits in the mailbox.
pending:
	for {
		select {
		case m := <-s.mailbox:
			switch m := m.(type) {
			case logBiteMsg:
				m.reply <- s.enqueue(m.ev)
			case flushMsg:
				if m.reply != nil {
					m.reply <- FlushResult{Trigger: TriggerRequest, Err: ErrSessionClosed}
				}
			case stateMsg:
				m.reply <- s.state
			}
		default:
			break pending
		}
	}

	s.persistUnsaved()
	s.finishChain(ErrSessionClosed)
	s.state.InFlightFlush = false
	s.refreshPending()
	s.publish()

	slog.Info("companion session stopped",
		"component", "session",
		"pending", s.state.Pending,
		"unsaved", len(s.unsaved),
	)
}

func (s *Session) adopt(count int) {
	s.state.AuthoritativeCount = count
	s.state.LastSyncAt = time.Now()
}

func (s *Session) setError(err error) {
	s.state.LastError = err.Error()
}

func (s *Session) refreshPending() {
	n, err := s.outbox.Len()
	if err != nil {
		slog.Warn("outbox length unavailable", "component", "session", "error", err)
		return
	}
	s.state.Pending = n + len(s.unsaved)
}

func (s *Session) publish() {
	select {
	case <-s.updates:
	default:
	}
	s.updates <- s.state
}

func (s *Session) logSkipped(trigger string, err error) {
	level := slog.LevelDebug
	if errors.Is(err, ErrNotReachable) {
		level = slog.LevelInfo
	}
	slog.Log(context.Background(), level, "flush skipped",
		"component", "session",
		"action", "flush",
		"trigger", trigger,
		"reason", err.Error(),
	)
}

// parseReply interprets a merge reply. Transport errors pass through.
func parseReply(body []byte, err error) (int, error) {
	if err != nil {
		return 0, err
	}
	reply, err := nailsync.DecodeReply(body)
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrRemoteRejected, err)
	}
	if !reply.Success {
		return 0, fmt.Errorf("%w: %s", ErrRemoteRejected, reply.Error)
	}
	return reply.Count(), nil
}
