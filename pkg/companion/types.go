package companion

import (
	"time"
)

// ActivationState is the lifecycle of the session's link to the
// authoritative side.
type ActivationState int

const (
	Inactive ActivationState = iota
	Activating
	Activated
)

func (a ActivationState) String() string {
	switch a {
	case Inactive:
		return "inactive"
	case Activating:
		return "activating"
	case Activated:
		return "activated"
	default:
		return "unknown"
	}
}

// Flush triggers, used in logs and FlushResult.
const (
	TriggerActivation = "activation"
	TriggerReachable  = "reachable"
	TriggerRequest    = "request"
	TriggerDrain      = "drain"
	TriggerImmediate  = "immediate"
)

// Config holds the companion session configuration
type Config struct {
	SourceID       string        // Device identifier sent with each batch
	BatchLimit     int           // Max events per flush (default: 500)
	SendTimeout    time.Duration // Bound on activation and send-with-reply (default: 10s)
	MailboxSize    int           // Session mailbox capacity (default: 64)
	GuaranteedEcho bool          // Send via the guaranteed path when unreachable
}

const (
	defaultBatchLimit  = 500
	defaultSendTimeout = 10 * time.Second
	defaultMailboxSize = 64
)

func (c Config) withDefaults() Config {
	if c.BatchLimit <= 0 {
		c.BatchLimit = defaultBatchLimit
	}
	if c.SendTimeout <= 0 {
		c.SendTimeout = defaultSendTimeout
	}
	if c.MailboxSize <= 0 {
		c.MailboxSize = defaultMailboxSize
	}
	return c
}

// State is a point-in-time copy of the session state.
type State struct {
	Activation         ActivationState
	Reachable          bool
	AuthoritativeCount int
	InFlightFlush      bool
	Pending            int
	LastError          string
	LastSyncAt         time.Time
}

// FlushResult reports the outcome of an explicitly requested flush,
// including any drain flushes that followed it.
type FlushResult struct {
	Trigger    string
	Sent       int
	TodayCount int
	Err        error
}
