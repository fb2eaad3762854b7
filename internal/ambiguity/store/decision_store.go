package store

import (
	"context"
	"time"

	"github.com/BrandonDHaskell/ambiguity-detection/internal/ambiguity/types"
)

// DecisionRecord captures one emitted decision and its delivery outcome.
// Failure is empty when the orchestrator accepted the decision.
type DecisionRecord struct {
	ID        string
	Kind      types.DecisionKind
	Records   []types.EventRecord
	EmittedAt time.Time
	Delivered bool
	Failure   string
}

// DecisionStore persists decisions as an append-only journal.
type DecisionStore interface {
	RecordDecision(ctx context.Context, rec DecisionRecord) error

	// Recent returns up to limit entries, newest first.
	Recent(ctx context.Context, limit int) ([]DecisionRecord, error)

	// PruneOlderThan deletes entries emitted before cutoff and returns how many.
	PruneOlderThan(ctx context.Context, cutoff time.Time) (int64, error)
}
