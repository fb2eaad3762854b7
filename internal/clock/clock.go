// Package clock abstracts wall time and deferred callbacks so the detector's
// quiet-period timer can be driven deterministically in tests.
package clock

import "time"

// Timer is a scheduled callback that can be stopped.
// Stop reports whether the call prevented the callback from running; stopping
// an already-fired or already-stopped timer returns false and is harmless.
type Timer interface {
	Stop() bool
}

// Clock provides the current time and one-shot deferred callbacks.
type Clock interface {
	Now() time.Time
	AfterFunc(d time.Duration, f func()) Timer
}

type realClock struct{}

// Real returns a Clock backed by the time package.
func Real() Clock { return realClock{} }

func (realClock) Now() time.Time { return time.Now().UTC() }

func (realClock) AfterFunc(d time.Duration, f func()) Timer {
	return time.AfterFunc(d, f)
}
