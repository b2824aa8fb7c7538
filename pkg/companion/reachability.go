package companion

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// Monitor tracks whether the authoritative side is reachable and notifies
// subscribers of transitions. Callbacks run on the goroutine that called
// Set, after the monitor's lock is released, so callbacks from concurrent
// Set calls may interleave. Subscribers that keep state should read
// Reachable rather than trust the callback argument.
type Monitor struct {
	mu        sync.Mutex
	reachable bool
	onEdge    []func()
	onChange  []func(bool)
}

// NewMonitor creates a Monitor that starts unreachable.
func NewMonitor() *Monitor {
	return &Monitor{}
}

// Reachable reports the current reachability.
func (m *Monitor) Reachable() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.reachable
}

// Set records the current reachability. Repeated values are ignored.
func (m *Monitor) Set(reachable bool) {
	m.mu.Lock()
	if m.reachable == reachable {
		m.mu.Unlock()
		return
	}
	m.reachable = reachable
	changes := append([]func(bool){}, m.onChange...)
	var edges []func()
	if reachable {
		edges = append(edges, m.onEdge...)
	}
	m.mu.Unlock()

	for _, fn := range changes {
		fn(reachable)
	}
	for _, fn := range edges {
		fn()
	}
}

// OnReachableEdge registers fn to run once per false to true transition.
func (m *Monitor) OnReachableEdge(fn func()) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onEdge = append(m.onEdge, fn)
}

// OnChange registers fn to run on every transition.
func (m *Monitor) OnChange(fn func(bool)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onChange = append(m.onChange, fn)
}

// Pinger checks whether the authoritative side answers.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Prober drives a Monitor by pinging on an interval.
type Prober struct {
	pinger   Pinger
	monitor  *Monitor
	interval time.Duration
	timeout  time.Duration
}

// NewProber creates a Prober. Each ping is bounded by timeout.
func NewProber(p Pinger, m *Monitor, interval, timeout time.Duration) *Prober {
	return &Prober{
		pinger:   p,
		monitor:  m,
		interval: interval,
		timeout:  timeout,
	}
}

// Run probes immediately and then on every tick until ctx is cancelled.
func (p *Prober) Run(ctx context.Context) {
	slog.Info("reachability prober started",
		"component", "prober",
		"interval", p.interval.String(),
	)

	p.probe(ctx)

	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			slog.Info("reachability prober stopped", "component", "prober")
			return
		case <-ticker.C:
			p.probe(ctx)
		}
	}
}

func (p *Prober) probe(ctx context.Context) {
	pingCtx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	err := p.pinger.Ping(pingCtx)
	if ctx.Err() != nil {
		return
	}

	reachable := err == nil
	if reachable != p.monitor.Reachable() {
		slog.Info("reachability changed",
			"component", "prober",
			"action", "probe",
			"reachable", reachable,
			"error", err,
		)
	}
	p.monitor.Set(reachable)
}
