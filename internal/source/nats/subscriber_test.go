package nats

import (
	"context"
	"testing"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"github.com/BrandonDHaskell/ambiguity-detection/internal/ambiguity/detector"
	"github.com/BrandonDHaskell/ambiguity-detection/internal/ambiguity/service"
	"github.com/BrandonDHaskell/ambiguity-detection/internal/ambiguity/types"
	"github.com/BrandonDHaskell/ambiguity-detection/internal/source"
)

type discardNotifier struct{}

func (discardNotifier) Notify(context.Context, types.FlushDecision) error { return nil }

type recordingIngester struct {
	sources []string
	raws    []string
	err     error
}

func (r *recordingIngester) Ingest(ctx context.Context, source string, raw []byte) (int, error) {
	r.err = ctx.Err()
	r.sources = append(r.sources, source)
	r.raws = append(r.raws, string(raw))
	return len(r.raws), nil
}

func TestHandle_ForwardsData(t *testing.T) {
	ing := &recordingIngester{}
	s := New(Config{Subject: "xes.events"}, ing, nil)

	s.handle(&nats.Msg{Subject: "xes.events", Data: []byte(`{"concept:name":"a"}`)})

	require.Len(t, ing.raws, 1)
	assert.Equal(t, "nats", ing.sources[0])
	assert.Equal(t, `{"concept:name":"a"}`, ing.raws[0])
	assert.NoError(t, ing.err)
}

func TestNew_Defaults(t *testing.T) {
	s := New(Config{Subject: "xes.events"}, &recordingIngester{}, nil)

	assert.Equal(t, nats.DefaultURL, s.cfg.URL)
	assert.Equal(t, "ambiguity-detector", s.cfg.Name)
	assert.Equal(t, time.Second, s.cfg.ReconnectWait)
	assert.Len(t, s.options(), 9)
}

func TestStop_BeforeStart(t *testing.T) {
	s := New(Config{Subject: "xes.events"}, &recordingIngester{}, nil)
	s.Stop()
}

func TestHandle_DrainedMessageIngestedAfterSignal(t *testing.T) {
	d := detector.New(detector.Config{QuietPeriod: time.Hour}, detector.Dependencies{Notifier: discardNotifier{}})
	defer d.Close(context.Background())

	s := New(Config{Subject: "xes.events"}, service.NewIngestService(d, nil, nil), nil)

	signalCtx, signal := context.WithCancel(context.Background())
	s.ctx, s.cancel = source.IntakeContext(signalCtx)
	signal()

	s.handle(&nats.Msg{Data: []byte(`{"concept:name":"Open Door","time:timestamp":"2024-09-11T15:56:16"}`)})

	assert.Equal(t, 1, d.Pending())
}

type failingIngester struct{ err error }

func (f failingIngester) Ingest(context.Context, string, []byte) (int, error) { return 0, f.err }

func TestHandle_LogsIngestFailure(t *testing.T) {
	core, logs := observer.New(zap.WarnLevel)
	s := New(Config{Subject: "xes.events"}, failingIngester{err: detector.ErrClosed}, zap.New(core))

	s.handle(&nats.Msg{Data: []byte(`{}`)})

	entries := logs.FilterMessage("Event not ingested").All()
	require.Len(t, entries, 1)
	assert.Equal(t, detector.ErrClosed.Error(), entries[0].ContextMap()["error"])
}
