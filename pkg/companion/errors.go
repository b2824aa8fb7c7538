package companion

import "errors"

var (
	// ErrNotReachable is returned when the authoritative side cannot be
	// reached for a request/reply exchange.
	ErrNotReachable = errors.New("authoritative side not reachable")

	// ErrTimeout is returned when no reply arrives within the send timeout.
	ErrTimeout = errors.New("timed out waiting for reply")

	// ErrRemoteRejected is returned when the authoritative side answers
	// with a failure reply or an unexpected status.
	ErrRemoteRejected = errors.New("authoritative side rejected batch")

	// ErrActivation is returned when the transport fails to activate.
	ErrActivation = errors.New("activation failed")

	// ErrFlushInFlight is returned when a flush is requested while another
	// send occupies the single-flight slot.
	ErrFlushInFlight = errors.New("flush already in flight")

	// ErrNotActivated is returned when a flush is requested before
	// activation completes.
	ErrNotActivated = errors.New("session not activated")

	// ErrOutboxEmpty is returned when there is nothing to flush.
	ErrOutboxEmpty = errors.New("outbox is empty")

	// ErrSessionClosed is returned when the session loop has exited.
	ErrSessionClosed = errors.New("session closed")
)
