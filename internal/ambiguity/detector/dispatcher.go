package detector

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/BrandonDHaskell/ambiguity-detection/internal/ambiguity/store"
	"github.com/BrandonDHaskell/ambiguity-detection/internal/ambiguity/types"
	"github.com/BrandonDHaskell/ambiguity-detection/internal/metrics"
)

// Notifier delivers a decision downstream. A nil error means the decision
// was accepted; anything else is logged by the implementation and dropped.
type Notifier interface {
	Notify(ctx context.Context, d types.FlushDecision) error
}

// ErrNoNotifier is the delivery failure recorded when a detector was built
// without a Notifier.
var ErrNoNotifier = errors.New("no notifier configured")

// unconfiguredNotifier stands in for a missing Notifier. Decisions are still
// classified, counted and journalled, as undelivered.
type unconfiguredNotifier struct{ logger *zap.Logger }

func (n unconfiguredNotifier) Notify(_ context.Context, d types.FlushDecision) error {
	n.logger.Warn("No notifier configured, decision not delivered",
		zap.String("decision_id", d.ID),
		zap.String("kind", string(d.Kind)))
	return ErrNoNotifier
}

// dispatcher is an unbounded FIFO of decisions drained by one goroutine.
//
// The detector enqueues while holding its lock, so queue order is quiet-period
// order, and the single consumer delivers in that order without ever making
// the arrival path wait on the network.
type dispatcher struct {
	notifier Notifier
	journal  store.DecisionStore
	logger   *zap.Logger
	metrics  *metrics.Metrics

	mu     sync.Mutex
	queue  []types.FlushDecision
	closed bool
	signal chan struct{} // buffered, size 1; closed on Close

	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}
}

func newDispatcher(n Notifier, j store.DecisionStore, logger *zap.Logger, m *metrics.Metrics) *dispatcher {
	if logger == nil {
		logger = zap.NewNop()
	}
	if n == nil {
		n = unconfiguredNotifier{logger: logger}
	}
	ctx, cancel := context.WithCancel(context.Background())
	q := &dispatcher{
		notifier: n,
		journal:  j,
		logger:   logger,
		metrics:  m,
		queue:    make([]types.FlushDecision, 0, 16),
		signal:   make(chan struct{}, 1),
		ctx:      ctx,
		cancel:   cancel,
		done:     make(chan struct{}),
	}
	go q.loop()
	return q
}

// enqueue appends d. Returns false once the dispatcher is closed.
func (q *dispatcher) enqueue(d types.FlushDecision) bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return false
	}
	q.queue = append(q.queue, d)

	select {
	case q.signal <- struct{}{}:
	default:
	}
	return true
}

// Len returns the number of decisions waiting for delivery.
func (q *dispatcher) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.queue)
}

// Close stops intake and waits for queued decisions to be delivered.
// If ctx ends first, in-flight delivery is cancelled and ctx.Err is returned.
func (q *dispatcher) Close(ctx context.Context) error {
	q.mu.Lock()
	if !q.closed {
		q.closed = true
		close(q.signal)
	}
	q.mu.Unlock()

	select {
	case <-q.done:
		q.cancel()
		return nil
	case <-ctx.Done():
		q.cancel()
		<-q.done
		return ctx.Err()
	}
}

func (q *dispatcher) loop() {
	defer close(q.done)

	for {
		d, ok := q.next()
		if !ok {
			return
		}
		q.deliver(d)
	}
}

// next blocks until a decision is available. It returns false when the
// dispatcher is closed and empty.
func (q *dispatcher) next() (types.FlushDecision, bool) {
	for {
		q.mu.Lock()
		if len(q.queue) > 0 {
			d := q.queue[0]
			q.queue[0] = types.FlushDecision{}
			if len(q.queue) == 1 {
				q.queue = q.queue[:0]
			} else {
				q.queue = q.queue[1:]
			}
			q.mu.Unlock()
			return d, true
		}
		if q.closed {
			q.mu.Unlock()
			return types.FlushDecision{}, false
		}
		q.mu.Unlock()

		<-q.signal
	}
}

func (q *dispatcher) deliver(d types.FlushDecision) {
	start := time.Now()
	err := q.notifier.Notify(q.ctx, d)
	q.metrics.NotifyObserved(time.Since(start).Seconds(), err != nil)

	if q.journal == nil {
		return
	}

	rec := store.DecisionRecord{
		ID:        d.ID,
		Kind:      d.Kind,
		Records:   d.Records,
		EmittedAt: d.EmittedAt,
		Delivered: err == nil,
	}
	if err != nil {
		rec.Failure = err.Error()
	}

	// Journal failures never affect delivery; they are only reported.
	if jerr := q.journal.RecordDecision(context.WithoutCancel(q.ctx), rec); jerr != nil {
		q.metrics.JournalFailed()
		q.logger.Error("Failed to journal decision",
			zap.String("decision_id", d.ID),
			zap.Error(jerr))
	}
}
