package detector

import "github.com/BrandonDHaskell/ambiguity-detection/internal/ambiguity/types"

// buffer is the ordered set of records accumulated since the last flush.
//
// It has no lock of its own: the Detector's mutex confines it. It is
// unbounded; a burst that never pauses for a quiet period grows it without
// limit.
type buffer struct {
	pending []types.EventRecord
}

func (b *buffer) Append(rec types.EventRecord) {
	b.pending = append(b.pending, rec)
}

// DrainAll returns every pending record in arrival order and leaves the
// buffer empty. The returned slice is owned by the caller.
func (b *buffer) DrainAll() []types.EventRecord {
	out := b.pending
	b.pending = nil
	return out
}

func (b *buffer) Len() int { return len(b.pending) }

func (b *buffer) IsEmpty() bool { return len(b.pending) == 0 }
