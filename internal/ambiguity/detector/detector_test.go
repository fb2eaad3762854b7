package detector_test

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/BrandonDHaskell/ambiguity-detection/internal/ambiguity/detector"
	"github.com/BrandonDHaskell/ambiguity-detection/internal/ambiguity/store/memory"
	"github.com/BrandonDHaskell/ambiguity-detection/internal/ambiguity/types"
	"github.com/BrandonDHaskell/ambiguity-detection/internal/clock"
)

var epoch = time.Date(2024, 9, 11, 16, 0, 0, 0, time.UTC)

// recordingNotifier captures every decision it is handed.
type recordingNotifier struct {
	ch    chan types.FlushDecision
	err   error
	delay time.Duration
}

func newRecordingNotifier() *recordingNotifier {
	return &recordingNotifier{ch: make(chan types.FlushDecision, 256)}
}

func (n *recordingNotifier) Notify(_ context.Context, d types.FlushDecision) error {
	if n.delay > 0 {
		time.Sleep(n.delay)
	}
	n.ch <- d
	return n.err
}

func (n *recordingNotifier) next(t *testing.T) types.FlushDecision {
	t.Helper()
	select {
	case d := <-n.ch:
		return d
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for a decision")
		return types.FlushDecision{}
	}
}

func (n *recordingNotifier) none(t *testing.T) {
	t.Helper()
	select {
	case d := <-n.ch:
		t.Fatalf("unexpected decision %s with %d records", d.Kind, len(d.Records))
	case <-time.After(50 * time.Millisecond):
	}
}

func record(activity string) types.EventRecord {
	return types.EventRecord{
		Activity:   activity,
		Timestamp:  epoch,
		Attributes: map[string]string{"location:station": "Left station"},
	}
}

func activities(d types.FlushDecision) []string {
	out := make([]string, len(d.Records))
	for i, r := range d.Records {
		out[i] = r.Activity
	}
	return out
}

func newFakeDetector(t *testing.T, quiet time.Duration, n detector.Notifier) (*detector.Detector, *clock.Fake) {
	t.Helper()
	clk := clock.NewFake(epoch)
	det := detector.New(detector.Config{QuietPeriod: quiet}, detector.Dependencies{
		Notifier: n,
		Logger:   zaptest.NewLogger(t),
		Clock:    clk,
	})
	t.Cleanup(func() { _ = det.Close(context.Background()) })
	return det, clk
}

func submit(t *testing.T, det *detector.Detector, activity string) {
	t.Helper()
	_, err := det.Submit(record(activity))
	require.NoError(t, err)
}

// ── Scenarios ────────────────────────────────────────────────────────────────

func TestDetector_ScenarioA_TwoArrivalsWithinQuietPeriod(t *testing.T) {
	n := newRecordingNotifier()
	det, clk := newFakeDetector(t, time.Second, n)

	submit(t, det, "Take out samples")
	clk.Advance(500 * time.Millisecond)
	submit(t, det, "HCW check-out")

	clk.Advance(999 * time.Millisecond)
	n.none(t)

	clk.Advance(time.Millisecond)
	d := n.next(t)
	assert.Equal(t, types.KindAmbiguous, d.Kind)
	assert.Equal(t, []string{"Take out samples", "HCW check-out"}, activities(d))
	assert.Equal(t, epoch.Add(1500*time.Millisecond), d.EmittedAt)
	assert.NotEmpty(t, d.ID)

	n.none(t)
}

func TestDetector_ScenarioB_SingleArrival(t *testing.T) {
	n := newRecordingNotifier()
	det, clk := newFakeDetector(t, time.Second, n)

	submit(t, det, "Donor check-in")
	clk.Advance(time.Second)

	d := n.next(t)
	assert.Equal(t, types.KindUnambiguous, d.Kind)
	assert.Equal(t, []string{"Donor check-in"}, activities(d))
	assert.Equal(t, epoch.Add(time.Second), d.EmittedAt)

	clk.Advance(10 * time.Second)
	n.none(t)
}

func TestDetector_ScenarioD_ChainedResets(t *testing.T) {
	n := newRecordingNotifier()
	det, clk := newFakeDetector(t, time.Second, n)

	submit(t, det, "a")
	clk.Advance(900 * time.Millisecond)
	submit(t, det, "b")
	clk.Advance(900 * time.Millisecond)
	submit(t, det, "c")

	clk.Advance(999 * time.Millisecond)
	n.none(t)

	clk.Advance(time.Millisecond)
	d := n.next(t)
	assert.Equal(t, types.KindAmbiguous, d.Kind)
	assert.Equal(t, []string{"a", "b", "c"}, activities(d))
	assert.Equal(t, epoch.Add(2800*time.Millisecond), d.EmittedAt)
}

// ── Properties ───────────────────────────────────────────────────────────────

func TestDetector_IsolatedArrivals_OneUnambiguousEach(t *testing.T) {
	n := newRecordingNotifier()
	det, clk := newFakeDetector(t, time.Second, n)

	for i := 0; i < 3; i++ {
		submit(t, det, fmt.Sprintf("event-%d", i))
		clk.Advance(1500 * time.Millisecond)
	}

	for i := 0; i < 3; i++ {
		d := n.next(t)
		assert.Equal(t, types.KindUnambiguous, d.Kind)
		assert.Equal(t, []string{fmt.Sprintf("event-%d", i)}, activities(d))
	}
	n.none(t)
}

func TestDetector_BurstPreservesArrivalOrder(t *testing.T) {
	n := newRecordingNotifier()
	det, clk := newFakeDetector(t, time.Second, n)

	var want []string
	for i := 0; i < 20; i++ {
		name := fmt.Sprintf("event-%02d", i)
		want = append(want, name)
		submit(t, det, name)
		clk.Advance(100 * time.Millisecond)
	}
	assert.Equal(t, detector.StateAccumulating, det.State())
	assert.Equal(t, 20, det.Pending())

	clk.Advance(time.Second)
	d := n.next(t)
	assert.Equal(t, want, activities(d))
	assert.Equal(t, detector.StateIdle, det.State())
	assert.Equal(t, 0, det.Pending())
}

func TestDetector_SubmitReturnsWindowSize(t *testing.T) {
	det, _ := newFakeDetector(t, time.Second, newRecordingNotifier())

	for want := 1; want <= 3; want++ {
		got, err := det.Submit(record("x"))
		require.NoError(t, err)
		assert.Equal(t, want, got)
	}
}

func TestDetector_DecisionsDeliveredInQuietPeriodOrder(t *testing.T) {
	n := newRecordingNotifier()
	n.delay = 20 * time.Millisecond
	det, clk := newFakeDetector(t, time.Second, n)

	submit(t, det, "first")
	clk.Advance(time.Second)
	submit(t, det, "second-a")
	submit(t, det, "second-b")
	clk.Advance(time.Second)
	submit(t, det, "third")
	clk.Advance(time.Second)

	assert.Equal(t, []string{"first"}, activities(n.next(t)))
	assert.Equal(t, []string{"second-a", "second-b"}, activities(n.next(t)))
	assert.Equal(t, []string{"third"}, activities(n.next(t)))
}

func TestDetector_StatusReflectsWindow(t *testing.T) {
	det, _ := newFakeDetector(t, 3*time.Second, newRecordingNotifier())

	st := det.Status()
	assert.Equal(t, "idle", st.State)
	assert.Equal(t, "3s", st.QuietPeriod)

	submit(t, det, "x")
	st = det.Status()
	assert.Equal(t, "accumulating", st.State)
	assert.Equal(t, 1, st.Pending)
}

func TestDetector_DefaultQuietPeriod(t *testing.T) {
	det, _ := newFakeDetector(t, 0, newRecordingNotifier())
	assert.Equal(t, detector.DefaultQuietPeriod, det.QuietPeriod())
}

// ── Classification ───────────────────────────────────────────────────────────

func TestClassify(t *testing.T) {
	_, ok := detector.Classify(nil)
	assert.False(t, ok, "empty window produces no decision")

	d, ok := detector.Classify([]types.EventRecord{record("a")})
	require.True(t, ok)
	assert.Equal(t, types.KindUnambiguous, d.Kind)

	d, ok = detector.Classify([]types.EventRecord{record("a"), record("b")})
	require.True(t, ok)
	assert.Equal(t, types.KindAmbiguous, d.Kind)
	assert.Equal(t, []string{"a", "b"}, activities(d))
}

// ── Notification failures and journal ───────────────────────────────────────

func TestDetector_NotifyFailureIsJournalledAndDropped(t *testing.T) {
	n := newRecordingNotifier()
	n.err = errors.New("connection refused")
	journal := memory.NewDecisionStore()

	clk := clock.NewFake(epoch)
	det := detector.New(detector.Config{QuietPeriod: time.Second}, detector.Dependencies{
		Notifier: n,
		Journal:  journal,
		Logger:   zaptest.NewLogger(t),
		Clock:    clk,
	})

	submit(t, det, "a")
	clk.Advance(time.Second)
	n.next(t)

	// Detection keeps working after a failed delivery.
	submit(t, det, "b")
	clk.Advance(time.Second)
	n.next(t)

	require.NoError(t, det.Close(context.Background()))

	got := journal.Decisions()
	require.Len(t, got, 2)
	for _, rec := range got {
		assert.False(t, rec.Delivered)
		assert.Equal(t, "connection refused", rec.Failure)
	}
	assert.Equal(t, "a", got[0].Records[0].Activity)
	assert.Equal(t, "b", got[1].Records[0].Activity)
}

func TestDetector_DeliveredDecisionJournalled(t *testing.T) {
	n := newRecordingNotifier()
	journal := memory.NewDecisionStore()

	clk := clock.NewFake(epoch)
	det := detector.New(detector.Config{QuietPeriod: time.Second}, detector.Dependencies{
		Notifier: n,
		Journal:  journal,
		Clock:    clk,
	})

	submit(t, det, "a")
	submit(t, det, "b")
	clk.Advance(time.Second)
	d := n.next(t)
	require.NoError(t, det.Close(context.Background()))

	got := journal.Decisions()
	require.Len(t, got, 1)
	assert.Equal(t, d.ID, got[0].ID)
	assert.Equal(t, types.KindAmbiguous, got[0].Kind)
	assert.True(t, got[0].Delivered)
	assert.Empty(t, got[0].Failure)
	assert.Equal(t, epoch.Add(time.Second), got[0].EmittedAt)
}

func TestDetector_WithoutNotifierJournalsUndelivered(t *testing.T) {
	journal := memory.NewDecisionStore()
	clk := clock.NewFake(epoch)
	det := detector.New(detector.Config{QuietPeriod: time.Second}, detector.Dependencies{
		Journal: journal,
		Clock:   clk,
	})

	submit(t, det, "a")
	clk.Advance(time.Second)
	require.NoError(t, det.Close(context.Background()))

	got := journal.Decisions()
	require.Len(t, got, 1)
	assert.False(t, got[0].Delivered)
	assert.Equal(t, detector.ErrNoNotifier.Error(), got[0].Failure)
}

// ── Close ────────────────────────────────────────────────────────────────────

func TestDetector_CloseFlushesPendingWindow(t *testing.T) {
	n := newRecordingNotifier()
	clk := clock.NewFake(epoch)
	det := detector.New(detector.Config{QuietPeriod: time.Second, FlushOnClose: true}, detector.Dependencies{
		Notifier: n,
		Clock:    clk,
	})

	submit(t, det, "a")
	submit(t, det, "b")
	require.NoError(t, det.Close(context.Background()))

	d := n.next(t)
	assert.Equal(t, types.KindAmbiguous, d.Kind)
	assert.Equal(t, 0, clk.Pending(), "timer cancelled on close")
}

func TestDetector_CloseDiscardsWithoutFlush(t *testing.T) {
	n := newRecordingNotifier()
	clk := clock.NewFake(epoch)
	det := detector.New(detector.Config{QuietPeriod: time.Second}, detector.Dependencies{
		Notifier: n,
		Clock:    clk,
	})

	submit(t, det, "a")
	require.NoError(t, det.Close(context.Background()))
	clk.Advance(5 * time.Second)
	n.none(t)
}

func TestDetector_SubmitAfterClose(t *testing.T) {
	det, _ := newFakeDetector(t, time.Second, newRecordingNotifier())
	require.NoError(t, det.Close(context.Background()))
	require.NoError(t, det.Close(context.Background()), "close is idempotent")

	_, err := det.Submit(record("late"))
	assert.ErrorIs(t, err, detector.ErrClosed)
}

func TestDetector_CloseHonoursContext(t *testing.T) {
	n := newRecordingNotifier()
	n.delay = 500 * time.Millisecond
	clk := clock.NewFake(epoch)
	det := detector.New(detector.Config{QuietPeriod: time.Second, FlushOnClose: true}, detector.Dependencies{
		Notifier: n,
		Clock:    clk,
	})

	submit(t, det, "a")
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()

	err := det.Close(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

// ── Real clock ───────────────────────────────────────────────────────────────

func TestDetector_ConcurrentSubmitters_NoEventLost(t *testing.T) {
	n := newRecordingNotifier()
	det := detector.New(detector.Config{QuietPeriod: 200 * time.Millisecond}, detector.Dependencies{
		Notifier: n,
		Logger:   zaptest.NewLogger(t),
	})
	defer det.Close(context.Background())

	const submitters, perSubmitter = 8, 25
	var wg sync.WaitGroup
	for g := 0; g < submitters; g++ {
		wg.Add(1)
		go func(g int) {
			defer wg.Done()
			for i := 0; i < perSubmitter; i++ {
				_, _ = det.Submit(record(fmt.Sprintf("g%d-%d", g, i)))
			}
		}(g)
	}
	wg.Wait()

	total := 0
	for total < submitters*perSubmitter {
		d := n.next(t)
		total += len(d.Records)
	}
	assert.Equal(t, submitters*perSubmitter, total)
	n.none(t)
}
