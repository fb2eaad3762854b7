// Package detector is the windowed ambiguity-detection engine.
//
// Records arrive through Submit. Every arrival is appended to the window and
// restarts the inactivity timer; when the timer fires after a full quiet
// period with no arrivals, the window is drained and classified:
//
//	0 records  → nothing
//	1 record   → unambiguous-event
//	2+ records → ambiguous-event (arrival order preserved)
//
// Exactly one decision is produced per quiet period. There is no separate
// "last seen" wall-clock check: the timer not having been reset is the
// inactivity signal.
//
// A single mutex covers the window and the timer, so {append, reset} and
// {generation check, drain, classify, enqueue} are each atomic. Decisions are
// handed to an ordered dispatcher while the lock is held and delivered off
// the lock, so arrivals never wait on the orchestrator.
package detector

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/BrandonDHaskell/ambiguity-detection/internal/ambiguity/store"
	"github.com/BrandonDHaskell/ambiguity-detection/internal/ambiguity/types"
	"github.com/BrandonDHaskell/ambiguity-detection/internal/clock"
	"github.com/BrandonDHaskell/ambiguity-detection/internal/metrics"
)

// DefaultQuietPeriod is used when Config.QuietPeriod is not positive.
const DefaultQuietPeriod = time.Second

var ErrClosed = errors.New("detector is closed")

// State is the engine's position in its two-state machine.
type State string

const (
	StateIdle         State = "idle"
	StateAccumulating State = "accumulating"
)

type Config struct {
	// QuietPeriod is how long the stream must stay silent before the
	// window is flushed.
	QuietPeriod time.Duration

	// FlushOnClose emits the pending window on Close instead of discarding it.
	FlushOnClose bool
}

type Dependencies struct {
	// Notifier receives every decision. When nil, decisions are logged and
	// journalled as undelivered with ErrNoNotifier.
	Notifier Notifier
	Journal  store.DecisionStore // optional
	Logger   *zap.Logger
	Metrics  *metrics.Metrics // optional
	Clock    clock.Clock      // defaults to clock.Real()
}

type Detector struct {
	quiet        time.Duration
	flushOnClose bool
	clock        clock.Clock
	logger       *zap.Logger
	metrics      *metrics.Metrics
	out          *dispatcher

	mu     sync.Mutex
	window buffer
	timer  *inactivityTimer
	closed bool
}

// New builds a detector and starts its dispatcher. Call Close to stop it.
func New(cfg Config, deps Dependencies) *Detector {
	quiet := cfg.QuietPeriod
	if quiet <= 0 {
		quiet = DefaultQuietPeriod
	}
	c := deps.Clock
	if c == nil {
		c = clock.Real()
	}
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	d := &Detector{
		quiet:        quiet,
		flushOnClose: cfg.FlushOnClose,
		clock:        c,
		logger:       logger,
		metrics:      deps.Metrics,
		out:          newDispatcher(deps.Notifier, deps.Journal, logger, deps.Metrics),
	}
	d.timer = newInactivityTimer(c, d.onQuietPeriod)
	return d
}

// Submit appends rec to the window and restarts the quiet-period timer.
// It never blocks on delivery. It returns the window size after the append.
func (d *Detector) Submit(rec types.EventRecord) (int, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.closed {
		return 0, ErrClosed
	}

	d.window.Append(rec)
	d.timer.Reset(d.quiet)

	n := d.window.Len()
	d.metrics.SetPending(n)
	return n, nil
}

// onQuietPeriod runs when a timer armed with gen fires.
func (d *Detector) onQuietPeriod(gen uint64) {
	d.mu.Lock()
	defer d.mu.Unlock()

	// A Reset or Cancel got in after this fire was already running.
	if !d.timer.Current(gen) {
		return
	}
	d.timer.Consumed()
	d.flushLocked()
}

func (d *Detector) flushLocked() {
	records := d.window.DrainAll()
	d.metrics.SetPending(0)

	decision, ok := Classify(records)
	if !ok {
		return
	}
	decision.ID = uuid.NewString()
	decision.EmittedAt = d.clock.Now()

	if decision.Kind == types.KindAmbiguous {
		d.logger.Info("Ambiguity detected",
			zap.String("decision_id", decision.ID),
			zap.Int("events", len(decision.Records)))
	} else {
		d.logger.Info("No ambiguity detected",
			zap.String("decision_id", decision.ID),
			zap.String("activity", decision.Records[0].Activity))
	}
	d.metrics.DecisionEmitted(string(decision.Kind), len(decision.Records))

	if !d.out.enqueue(decision) {
		d.logger.Warn("Dispatcher closed, dropping decision",
			zap.String("decision_id", decision.ID))
	}
}

// Classify maps a drained window to its decision. It reports false for an
// empty window, which produces no decision.
func Classify(records []types.EventRecord) (types.FlushDecision, bool) {
	switch len(records) {
	case 0:
		return types.FlushDecision{}, false
	case 1:
		return types.FlushDecision{Kind: types.KindUnambiguous, Records: records}, true
	default:
		return types.FlushDecision{Kind: types.KindAmbiguous, Records: records}, true
	}
}

// State reports Idle or Accumulating.
func (d *Detector) State() State {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.window.IsEmpty() {
		return StateIdle
	}
	return StateAccumulating
}

// Pending returns the number of records in the current window.
func (d *Detector) Pending() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.window.Len()
}

// QuietPeriod returns the configured inactivity interval.
func (d *Detector) QuietPeriod() time.Duration { return d.quiet }

// Status snapshots the detector for the HTTP status endpoint.
func (d *Detector) Status() types.DetectorStatus {
	d.mu.Lock()
	n := d.window.Len()
	d.mu.Unlock()

	state := StateIdle
	if n > 0 {
		state = StateAccumulating
	}
	return types.DetectorStatus{
		State:       string(state),
		Pending:     n,
		QuietPeriod: d.quiet.String(),
		ServerTime:  d.clock.Now().UTC().Format(time.RFC3339Nano),
	}
}

// Close cancels the timer, flushes or discards the open window according to
// FlushOnClose, and waits for queued decisions to be delivered or ctx to end.
// Close is idempotent.
func (d *Detector) Close(ctx context.Context) error {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return nil
	}
	d.closed = true
	d.timer.Cancel()

	if d.flushOnClose {
		d.flushLocked()
	} else if n := d.window.Len(); n > 0 {
		d.window.DrainAll()
		d.metrics.SetPending(0)
		d.logger.Warn("Discarding unflushed window on close", zap.Int("events", n))
	}
	d.mu.Unlock()

	return d.out.Close(ctx)
}
