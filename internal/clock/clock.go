// Package clock abstracts time so that debounce windows and other timers
// can be driven deterministically in tests.
package clock

import "time"

// Clock is the subset of the time package the engine depends on.
// Production code uses Real(); tests use Fake() and call Advance.
type Clock interface {
	// Now returns the current time.
	Now() time.Time

	// AfterFunc waits for d, then calls f. The returned Timer can
	// cancel the pending call.
	AfterFunc(d time.Duration, f func()) *Timer
}

// Timer is a scheduled callback created by AfterFunc.
type Timer struct {
	stopFunc  func() bool
	resetFunc func(time.Duration) bool
}

// Stop prevents the Timer from firing. It returns false if the timer
// already fired or was already stopped.
func (t *Timer) Stop() bool { return t.stopFunc() }

// Reset reschedules the Timer to fire after d. It returns true if the
// timer was active before the call.
func (t *Timer) Reset(d time.Duration) bool { return t.resetFunc(d) }

// Real returns a Clock backed by the time package.
func Real() Clock {
	return realClock{}
}

type realClock struct{}

func (realClock) Now() time.Time { return time.Now() }

func (realClock) AfterFunc(d time.Duration, f func()) *Timer {
	t := time.AfterFunc(d, f)
	return &Timer{
		stopFunc:  t.Stop,
		resetFunc: t.Reset,
	}
}
