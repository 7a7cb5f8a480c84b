package client

import "time"

const (
	// DefaultBackoffUnit is the first wait and the increment.
	DefaultBackoffUnit = time.Second

	// DefaultBackoffMax caps the wait.
	DefaultBackoffMax = 10 * time.Second

	// DefaultEpochReset is the idle period after which the next failure is
	// treated like the first.
	DefaultEpochReset = time.Hour
)

// Backoff computes reconnect waits. Consecutive failures wait Unit, 2*Unit,
// and so on up to Max. The first failure after a connection that started
// more than EpochReset earlier begins again at Unit. Failures with no
// connection in between never shrink the wait.
//
// Backoff is not safe for concurrent use; the lifecycle loop owns it.
type Backoff struct {
	Unit       time.Duration
	Max        time.Duration
	EpochReset time.Duration

	wait      time.Duration
	lastStart time.Time
	connected bool // a connection started since the last failure
}

// NewBackoff creates a Backoff with the default tunables. The process start
// time counts as the first connection start.
func NewBackoff(start time.Time) *Backoff {
	return &Backoff{
		Unit:       DefaultBackoffUnit,
		Max:        DefaultBackoffMax,
		EpochReset: DefaultEpochReset,
		lastStart:  start,
	}
}

// Connected records a successful connection start.
func (b *Backoff) Connected(now time.Time) {
	b.lastStart = now
	b.connected = true
}

// Failure returns the wait before the next attempt.
func (b *Backoff) Failure(now time.Time) time.Duration {
	reset := b.connected && now.Sub(b.lastStart) > b.EpochReset
	b.connected = false
	if reset {
		b.wait = b.Unit
	} else {
		b.wait = min(b.wait+b.Unit, b.Max)
	}
	return b.wait
}

// Wait returns the most recently computed wait, or zero before any failure.
func (b *Backoff) Wait() time.Duration { return b.wait }
