package memory

import (
	"context"
	"sync"
	"time"

	"github.com/BrandonDHaskell/ambiguity-detection/internal/ambiguity/store"
)

// DecisionStore is an in-memory append-only decision journal.
// It is intended for tests and dev environments.
type DecisionStore struct {
	mu        sync.Mutex
	decisions []store.DecisionRecord
}

func NewDecisionStore() *DecisionStore {
	return &DecisionStore{}
}

func (s *DecisionStore) RecordDecision(_ context.Context, rec store.DecisionRecord) error {
	if rec.EmittedAt.IsZero() {
		rec.EmittedAt = time.Now().UTC()
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.decisions = append(s.decisions, rec)
	return nil
}

func (s *DecisionStore) Recent(_ context.Context, limit int) ([]store.DecisionRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	n := len(s.decisions)
	if limit <= 0 || limit > n {
		limit = n
	}
	out := make([]store.DecisionRecord, 0, limit)
	for i := n - 1; i >= 0 && len(out) < limit; i-- {
		out = append(out, s.decisions[i])
	}
	return out, nil
}

func (s *DecisionStore) PruneOlderThan(_ context.Context, cutoff time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	kept := s.decisions[:0]
	var deleted int64
	for _, d := range s.decisions {
		if d.EmittedAt.Before(cutoff) {
			deleted++
			continue
		}
		kept = append(kept, d)
	}
	s.decisions = kept
	return deleted, nil
}

// Decisions returns a copy of all recorded decisions in insertion order.  Test-only helper.
func (s *DecisionStore) Decisions() []store.DecisionRecord {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]store.DecisionRecord, len(s.decisions))
	copy(out, s.decisions)
	return out
}
