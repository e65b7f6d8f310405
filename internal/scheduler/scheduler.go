// Package scheduler runs every session and job mutation on one logical
// thread and provides cancellable delayed callbacks that fire on it.
package scheduler

import (
	"time"
)

// Scheduler serialises callbacks. Implementations guarantee that no two
// callbacks run concurrently and that a stopped Timer never fires.
type Scheduler interface {
	// Post queues fn to run on the scheduler thread.
	Post(fn func())
	// After queues fn to run once d has elapsed.
	After(d time.Duration, fn func()) Timer
	Now() time.Time
}

// Timer is a pending After callback.
type Timer interface {
	// Stop disarms the timer. It reports whether this call prevented the
	// callback from running; calling it again is a no-op.
	Stop() bool
}

// StopTimer stops t when it is non-nil.
func StopTimer(t Timer) {
	if t != nil {
		t.Stop()
	}
}
