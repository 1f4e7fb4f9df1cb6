// Package clock abstracts wall-clock time and deferred callbacks so the
// lookup deadlines and join delays can be driven by tests.
package clock

import "time"

// Timer is a cancellable deferred callback.
type Timer interface {
	// Stop prevents the callback from running. It reports false when the
	// callback already ran or the timer was already stopped.
	Stop() bool
}

// Clock abstracts time-related functions for easier testing.
type Clock interface {
	Now() time.Time
	AfterFunc(d time.Duration, f func()) Timer
}

// Real implements Clock using the standard library.
type Real struct{}

// Now returns the current UTC time.
func (Real) Now() time.Time {
	return time.Now().UTC()
}

// AfterFunc runs f in its own goroutine once d has elapsed.
func (Real) AfterFunc(d time.Duration, f func()) Timer {
	return time.AfterFunc(d, f)
}
