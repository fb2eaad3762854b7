package detector

import (
	"time"

	"github.com/BrandonDHaskell/ambiguity-detection/internal/clock"
)

// inactivityTimer is a single-slot, restartable deferred trigger.
//
// Every Reset or Cancel advances the generation. The scheduled callback is
// handed the generation it was armed with, and the owner compares it against
// Current under its own lock before acting: a stale fire (one whose Stop lost
// the race with an already-running callback) is therefore a no-op.
//
// Not safe for concurrent use; the owning Detector's mutex confines it.
type inactivityTimer struct {
	clock  clock.Clock
	onFire func(gen uint64)

	gen     uint64
	pending clock.Timer
}

func newInactivityTimer(c clock.Clock, onFire func(gen uint64)) *inactivityTimer {
	return &inactivityTimer{clock: c, onFire: onFire}
}

// Reset cancels any scheduled fire and arms a new one d from now.
func (t *inactivityTimer) Reset(d time.Duration) {
	t.stop()
	t.gen++
	gen := t.gen
	t.pending = t.clock.AfterFunc(d, func() { t.onFire(gen) })
}

// Cancel disarms the timer. Cancelling an idle, fired or cancelled timer is a no-op.
func (t *inactivityTimer) Cancel() {
	t.stop()
	t.gen++
}

// Current reports whether gen belongs to the most recently armed fire.
func (t *inactivityTimer) Current(gen uint64) bool {
	return t.pending != nil && gen == t.gen
}

// Armed reports whether a fire is scheduled and not yet consumed.
func (t *inactivityTimer) Armed() bool { return t.pending != nil }

// Consumed marks the current fire as handled so the timer reads as idle.
func (t *inactivityTimer) Consumed() { t.pending = nil }

func (t *inactivityTimer) stop() {
	if t.pending != nil {
		t.pending.Stop()
		t.pending = nil
	}
}
