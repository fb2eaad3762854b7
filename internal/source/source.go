// Package source holds what the bus subscribers share.
package source

import "context"

// Ingester accepts one raw payload from a named source. Decode failures are
// logged and counted by the implementation; subscribers only need to keep
// going.
type Ingester interface {
	Ingest(ctx context.Context, source string, raw []byte) (int, error)
}

// Source is a running bus subscription.
type Source interface {
	Start(ctx context.Context) error
	Stop()
}

// IntakeContext derives the context a subscriber ingests with. It keeps
// parent's values but not its cancellation: a shutdown signal cancels
// parent before Stop drains, and drained messages must still reach the
// detector. Only the returned cancel, called at the end of Stop, ends it.
func IntakeContext(parent context.Context) (context.Context, context.CancelFunc) {
	return context.WithCancel(context.WithoutCancel(parent))
}
