// Package scheduler runs the voice coordinator's callbacks on a single
// cooperative task.
//
// Every backend callback and timer expiry is posted onto one queue and
// executed in order, so coordinator state never needs a lock. Loop is the
// production implementation; Virtual is a logical clock for tests.
package scheduler

import "time"

// Timer is a cancellable scheduled callback.
type Timer interface {
	// Stop prevents the callback from running. It reports whether the call
	// stopped the timer before its callback ran.
	Stop() bool
}

// Scheduler posts work onto the cooperative task.
type Scheduler interface {
	Now() time.Time
	AfterFunc(d time.Duration, fn func()) Timer
	Post(fn func())
}

// Stop stops t if it is non-nil. It returns nil so callers can clear their
// handle in one statement.
func Stop(t Timer) Timer {
	if t != nil {
		t.Stop()
	}
	return nil
}
