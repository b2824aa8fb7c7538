package companion

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/sethvargo/go-retry"

	"github.com/hyperengineering/nailguard/internal/merge"
	nailsync "github.com/hyperengineering/nailguard/internal/sync"
)

// Transport is the companion's link to the authoritative side.
type Transport interface {
	// Activate brings the link up. It returns immediately when the link
	// is already active.
	Activate(ctx context.Context) error

	// IsReachable reports whether a request/reply exchange can be attempted.
	IsReachable() bool

	// SendWithReply delivers payload and waits up to timeout for the
	// encoded reply.
	SendWithReply(ctx context.Context, payload []byte, timeout time.Duration) ([]byte, error)

	// SendGuaranteed delivers payload without a reply, retrying until it is
	// accepted or ctx ends.
	SendGuaranteed(ctx context.Context, payload []byte) error
}

const (
	mergePath   = "/api/v1/sync/merge"
	deliverPath = "/api/v1/sync/deliver"
	healthPath  = "/api/v1/health"

	sourceIDHeader = "X-Source-ID"

	maxReplyBytes = 64 << 10
)

// HTTPTransport talks to the authoritative HTTP API.
type HTTPTransport struct {
	baseURL  string
	apiKey   string
	sourceID string
	client   *http.Client
	monitor  *Monitor

	retryBase  time.Duration
	retryCap   time.Duration
	maxRetries uint64

	mu        sync.Mutex
	activated bool
}

// TransportOption configures an HTTPTransport.
type TransportOption func(*HTTPTransport)

// WithHTTPClient replaces the default HTTP client.
func WithHTTPClient(c *http.Client) TransportOption {
	return func(t *HTTPTransport) {
		if c != nil {
			t.client = c
		}
	}
}

// WithRetry sets the exponential backoff used by SendGuaranteed.
func WithRetry(base, maxDelay time.Duration, maxRetries uint64) TransportOption {
	return func(t *HTTPTransport) {
		t.retryBase = base
		t.retryCap = maxDelay
		t.maxRetries = maxRetries
	}
}

// NewHTTPTransport creates a transport for the server at baseURL. The
// monitor is marked unreachable whenever a request fails to connect.
func NewHTTPTransport(baseURL, apiKey, sourceID string, monitor *Monitor, opts ...TransportOption) *HTTPTransport {
	t := &HTTPTransport{
		baseURL:    strings.TrimRight(baseURL, "/"),
		apiKey:     apiKey,
		sourceID:   sourceID,
		client:     &http.Client{Timeout: 30 * time.Second},
		monitor:    monitor,
		retryBase:  500 * time.Millisecond,
		retryCap:   30 * time.Second,
		maxRetries: 8,
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// Ping checks that the health endpoint answers 200.
func (t *HTTPTransport) Ping(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, t.baseURL+healthPath, nil)
	if err != nil {
		return err
	}

	resp, err := t.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, io.LimitReader(resp.Body, maxReplyBytes))

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("health check failed: %d", resp.StatusCode)
	}
	return nil
}

// Activate verifies the server answers and marks the link reachable.
func (t *HTTPTransport) Activate(ctx context.Context) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.activated {
		return nil
	}
	if err := t.Ping(ctx); err != nil {
		return err
	}
	t.activated = true
	t.monitor.Set(true)
	return nil
}

func (t *HTTPTransport) IsReachable() bool {
	return t.monitor.Reachable()
}

// SendWithReply posts payload to the merge route. The reply envelope is
// returned for 200, 422 and 503, which all carry one.
func (t *HTTPTransport) SendWithReply(ctx context.Context, payload []byte, timeout time.Duration) ([]byte, error) {
	if !t.IsReachable() {
		return nil, ErrNotReachable
	}

	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	resp, err := t.post(ctx, mergePath, payload)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return nil, ErrTimeout
		}
		t.monitor.Set(false)
		return nil, fmt.Errorf("%w: %v", ErrNotReachable, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxReplyBytes))
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return nil, ErrTimeout
		}
		return nil, fmt.Errorf("read reply: %w", err)
	}

	switch resp.StatusCode {
	case http.StatusOK, http.StatusUnprocessableEntity, http.StatusServiceUnavailable:
		return body, nil
	default:
		return nil, fmt.Errorf("%w: status %d", ErrRemoteRejected, resp.StatusCode)
	}
}

// SendGuaranteed posts payload to the deliver route with exponential
// backoff. Client errors other than 429 are not retried.
func (t *HTTPTransport) SendGuaranteed(ctx context.Context, payload []byte) error {
	b := retry.NewExponential(t.retryBase)
	b = retry.WithCappedDuration(t.retryCap, b)
	b = retry.WithMaxRetries(t.maxRetries, b)

	return retry.Do(ctx, b, func(ctx context.Context) error {
		resp, err := t.post(ctx, deliverPath, payload)
		if err != nil {
			return retry.RetryableError(fmt.Errorf("%w: %v", ErrNotReachable, err))
		}
		defer resp.Body.Close()
		io.Copy(io.Discard, io.LimitReader(resp.Body, maxReplyBytes))

		switch {
		case resp.StatusCode == http.StatusAccepted || resp.StatusCode == http.StatusOK:
			return nil
		case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500:
			return retry.RetryableError(fmt.Errorf("deliver: status %d", resp.StatusCode))
		default:
			return fmt.Errorf("%w: status %d", ErrRemoteRejected, resp.StatusCode)
		}
	})
}

func (t *HTTPTransport) post(ctx context.Context, path string, payload []byte) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, t.baseURL+path, bytes.NewReader(payload))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+t.apiKey)
	req.Header.Set("Content-Type", "application/json")
	if t.sourceID != "" {
		req.Header.Set(sourceIDHeader, t.sourceID)
	}
	return t.client.Do(req)
}

// LoopbackTransport connects a session directly to an in-process merge
// endpoint. Reachability is whatever the monitor says.
type LoopbackTransport struct {
	endpoint *merge.Endpoint
	monitor  *Monitor
}

// NewLoopbackTransport creates a LoopbackTransport.
func NewLoopbackTransport(e *merge.Endpoint, m *Monitor) *LoopbackTransport {
	return &LoopbackTransport{endpoint: e, monitor: m}
}

func (l *LoopbackTransport) Activate(ctx context.Context) error {
	return ctx.Err()
}

func (l *LoopbackTransport) IsReachable() bool {
	return l.monitor.Reachable()
}

func (l *LoopbackTransport) SendWithReply(ctx context.Context, payload []byte, timeout time.Duration) ([]byte, error) {
	if !l.IsReachable() {
		return nil, ErrNotReachable
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	// Merge failures are carried in the reply envelope unless the send
	// itself ran out of time, which the caller must see as a lost reply.
	reply, err := l.endpoint.Merge(ctx, payload)
	if err != nil && ctx.Err() != nil {
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return nil, ErrTimeout
		}
		return nil, ctx.Err()
	}
	return nailsync.EncodeReply(reply)
}

func (l *LoopbackTransport) SendGuaranteed(ctx context.Context, payload []byte) error {
	_, err := l.endpoint.Merge(ctx, payload)
	return err
}
