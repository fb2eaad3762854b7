package service

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/BrandonDHaskell/ambiguity-detection/internal/ambiguity/store"
	"github.com/BrandonDHaskell/ambiguity-detection/internal/clock"
)

// JournalPruner periodically deletes journalled decisions older than a
// retention period. A retention of 0 disables pruning entirely.
//
// The cutoff is computed from the injected clock, but the interval between
// runs is a real-time ticker: a fake clock drives PruneOnce, not the loop.
type JournalPruner struct {
	store     store.DecisionStore
	retention time.Duration
	interval  time.Duration
	clock     clock.Clock
	logger    *zap.Logger

	mu      sync.Mutex
	started bool
	cancel  context.CancelFunc
	done    chan struct{}
}

// PrunerConfig holds the parameters for NewJournalPruner.
type PrunerConfig struct {
	// RetentionDays is how many days of decisions to keep.
	// 0 means keep everything (pruner will not start).
	RetentionDays int

	// IntervalHours is how often the pruner runs. Defaults to 6.
	IntervalHours int
}

// NewJournalPruner creates a pruner but does not start it.
func NewJournalPruner(s store.DecisionStore, cfg PrunerConfig, c clock.Clock, logger *zap.Logger) *JournalPruner {
	interval := time.Duration(cfg.IntervalHours) * time.Hour
	if interval <= 0 {
		interval = 6 * time.Hour
	}
	if c == nil {
		c = clock.Real()
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &JournalPruner{
		store:     s,
		retention: time.Duration(cfg.RetentionDays) * 24 * time.Hour,
		interval:  interval,
		clock:     c,
		logger:    logger,
		done:      make(chan struct{}),
	}
}

// Start runs an immediate prune, then repeats on the configured interval
// until ctx is cancelled or Stop is called. Only the first call has effect.
func (p *JournalPruner) Start(ctx context.Context) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.started {
		return
	}
	p.started = true

	if p.retention <= 0 {
		p.logger.Info("Journal pruner disabled", zap.Int("retention_days", 0))
		close(p.done)
		return
	}

	ctx, p.cancel = context.WithCancel(ctx)
	go p.loop(ctx)

	p.logger.Info("Journal pruner started",
		zap.Duration("retention", p.retention),
		zap.Duration("interval", p.interval))
}

// Stop signals the pruner to exit and waits for it to finish. It returns
// immediately if Start was never called.
func (p *JournalPruner) Stop() {
	p.mu.Lock()
	started, cancel := p.started, p.cancel
	p.mu.Unlock()

	if !started {
		return
	}
	if cancel != nil {
		cancel()
	}
	<-p.done
}

func (p *JournalPruner) loop(ctx context.Context) {
	defer close(p.done)

	p.PruneOnce(ctx)

	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.PruneOnce(ctx)
		}
	}
}

// PruneOnce deletes everything emitted before now minus the retention.
func (p *JournalPruner) PruneOnce(ctx context.Context) (int64, error) {
	cutoff := p.clock.Now().UTC().Add(-p.retention)
	deleted, err := p.store.PruneOlderThan(ctx, cutoff)
	if err != nil {
		p.logger.Error("Journal prune failed", zap.Error(err))
		return 0, err
	}
	if deleted > 0 {
		p.logger.Info("Journal pruned",
			zap.Int64("deleted", deleted),
			zap.Time("cutoff", cutoff))
	}
	return deleted, nil
}
