package scheduler

import "time"

// Clock abstracts wall time so tests can drive due-evaluation with
// virtual time.
type Clock interface {
	Now() time.Time
}

// SystemClock reads the real wall clock.
type SystemClock struct{}

func (SystemClock) Now() time.Time { return time.Now() }
