// Package replication keeps a local document collection and a remote
// counterpart eventually consistent over a small HTTP document-sync
// protocol: per-collection change-feed pull, bulk document push, and
// revision-conflict reporting. Divergent copies of the same id resolve by
// last-write-wins on the document's updatedAt wall clock, ties to the
// remote copy.
package replication

import (
	"errors"
	"math/rand"
	"time"
)

// State is the per-collection replication state.
type State int

const (
	StateIdle State = iota
	StateConnecting
	StateStreaming
	StateRetrying
	StateStopped
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateConnecting:
		return "connecting"
	case StateStreaming:
		return "streaming"
	case StateRetrying:
		return "retrying"
	case StateStopped:
		return "stopped"
	default:
		return "unknown"
	}
}

var (
	// ErrRemoteUnreachable is returned by a non-continuous Start whose
	// first connection attempt fails.
	ErrRemoteUnreachable = errors.New("remote unreachable")

	// ErrRemoteAuth marks an authentication rejection from the remote;
	// engine-fatal, transitions the handle to Stopped.
	ErrRemoteAuth = errors.New("remote rejected credentials")

	// ErrNotFound is returned by Status and Cancel for unknown or already
	// cancelled handles.
	ErrNotFound = errors.New("replication handle not found")
)

// RetryPolicy is exponential backoff with a cap and proportional jitter.
type RetryPolicy struct {
	Initial    time.Duration
	Max        time.Duration
	Multiplier float64
	Jitter     float64
}

// DefaultRetryPolicy mirrors the usual half-second to one-minute ramp.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		Initial:    500 * time.Millisecond,
		Max:        time.Minute,
		Multiplier: 2,
		Jitter:     0.2,
	}
}

// Backoff returns the delay before retry attempt n (0-based).
func (p RetryPolicy) Backoff(attempt int) time.Duration {
	d := float64(p.Initial)
	for i := 0; i < attempt; i++ {
		d *= p.Multiplier
		if d >= float64(p.Max) {
			d = float64(p.Max)
			break
		}
	}
	if p.Jitter > 0 {
		d += d * p.Jitter * (rand.Float64()*2 - 1)
	}
	if d > float64(p.Max) {
		d = float64(p.Max)
	}
	if d < 0 {
		d = 0
	}
	return time.Duration(d)
}

// Options configures one collection replication.
type Options struct {
	// Continuous keeps pull and push loops running with retry; when false
	// the handle performs one sync cycle and stops.
	Continuous bool
	Retry      RetryPolicy
	// PollInterval paces remote change-feed polling while streaming.
	PollInterval time.Duration
	BatchSize    int
	// Observer, when set, receives every state transition.
	Observer func(Event)
}

func (o Options) withDefaults() Options {
	if o.Retry == (RetryPolicy{}) {
		o.Retry = DefaultRetryPolicy()
	}
	if o.PollInterval <= 0 {
		o.PollInterval = 5 * time.Second
	}
	if o.BatchSize <= 0 {
		o.BatchSize = 100
	}
	return o
}

// Event is one state transition of a replication handle.
type Event struct {
	Collection string
	State      State
	Err        error
	Time       time.Time
}

// Status is the externally visible state of a handle.
type Status struct {
	Collection     string `json:"collection"`
	State          string `json:"state"`
	LastError      string `json:"lastError,omitempty"`
	PullCheckpoint int64  `json:"pullCheckpoint"`
	PushCheckpoint int64  `json:"pushCheckpoint"`
	PendingPull    int64  `json:"pendingPull"`
	PendingPush    int64  `json:"pendingPush"`
}
