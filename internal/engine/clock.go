package engine

import "time"

// Clock abstracts wall-clock time for backoff decisions and message
// timestamps. Wall time never orders messages; the log order does.
type Clock interface {
	Now() time.Time
}

// SystemClock reads the host clock.
type SystemClock struct{}

// Now returns time.Now().
func (SystemClock) Now() time.Time { return time.Now() }
