package notify_test

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/BrandonDHaskell/ambiguity-detection/internal/ambiguity/notify"
	"github.com/BrandonDHaskell/ambiguity-detection/internal/ambiguity/types"
)

type captured struct {
	path        string
	contentType string
	body        map[string]json.RawMessage
}

func orchestrator(t *testing.T, status int) (*httptest.Server, chan captured) {
	t.Helper()
	got := make(chan captured, 4)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		raw, _ := io.ReadAll(r.Body)
		var body map[string]json.RawMessage
		_ = json.Unmarshal(raw, &body)
		got <- captured{path: r.URL.Path, contentType: r.Header.Get("Content-Type"), body: body}
		w.WriteHeader(status)
	}))
	t.Cleanup(srv.Close)
	return srv, got
}

func rec(activity string) types.EventRecord {
	return types.EventRecord{
		Activity:  activity,
		Timestamp: time.Date(2024, 9, 11, 16, 0, 0, 0, time.UTC),
	}
}

func TestNotify_UnambiguousPostsObject(t *testing.T) {
	srv, got := orchestrator(t, http.StatusOK)
	core, logs := observer.New(zapcore.InfoLevel)
	n := notify.New(notify.Config{URL: srv.URL + "/orchestrate/"}, srv.Client(), zap.New(core))

	err := n.Notify(context.Background(), types.FlushDecision{
		ID:      "d-1",
		Kind:    types.KindUnambiguous,
		Records: []types.EventRecord{rec("Donor check-in")},
	})
	require.NoError(t, err)

	c := <-got
	assert.Equal(t, "/orchestrate/unambiguous-event", c.path)
	assert.Equal(t, "application/json", c.contentType)

	var event map[string]string
	require.NoError(t, json.Unmarshal(c.body["events"], &event))
	assert.Equal(t, "Donor check-in", event["concept:name"])
	assert.Equal(t, "2024-09-11T16:00:00", event["time:timestamp"])

	assert.Equal(t, 1, logs.FilterMessage("Successfully sent to orchestrator").Len())
}

func TestNotify_AmbiguousPostsArray(t *testing.T) {
	srv, got := orchestrator(t, http.StatusAccepted)
	n := notify.New(notify.Config{URL: srv.URL + "/orchestrate"}, srv.Client(), nil)

	err := n.Notify(context.Background(), types.FlushDecision{
		Kind:    types.KindAmbiguous,
		Records: []types.EventRecord{rec("a"), rec("b")},
	})
	require.NoError(t, err)

	c := <-got
	assert.Equal(t, "/orchestrate/ambiguous-event", c.path)

	var events []map[string]string
	require.NoError(t, json.Unmarshal(c.body["events"], &events))
	require.Len(t, events, 2)
	assert.Equal(t, "a", events[0]["concept:name"])
	assert.Equal(t, "b", events[1]["concept:name"])
}

func TestNotify_Non2xxIsFailure(t *testing.T) {
	srv, _ := orchestrator(t, http.StatusInternalServerError)
	core, logs := observer.New(zapcore.InfoLevel)
	n := notify.New(notify.Config{URL: srv.URL}, srv.Client(), zap.New(core))

	err := n.Notify(context.Background(), types.FlushDecision{
		Kind:    types.KindUnambiguous,
		Records: []types.EventRecord{rec("a")},
	})
	require.Error(t, err)

	ne, ok := notify.IsNotifyError(err)
	require.True(t, ok)
	assert.Equal(t, http.StatusInternalServerError, ne.Status)
	assert.Nil(t, ne.Err)

	failures := logs.FilterMessage("Failed to send to orchestrator")
	require.Equal(t, 1, failures.Len())
	assert.Equal(t, zapcore.ErrorLevel, failures.All()[0].Level)
}

func TestNotify_TransportFailure(t *testing.T) {
	srv, _ := orchestrator(t, http.StatusOK)
	url := srv.URL
	srv.Close()

	n := notify.New(notify.Config{URL: url}, nil, nil)
	err := n.Notify(context.Background(), types.FlushDecision{
		Kind:    types.KindUnambiguous,
		Records: []types.EventRecord{rec("a")},
	})

	ne, ok := notify.IsNotifyError(err)
	require.True(t, ok)
	assert.Zero(t, ne.Status)
	assert.Error(t, ne.Err)
}

func TestNotify_Timeout(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	defer srv.Close()
	defer close(release)

	n := notify.New(notify.Config{URL: srv.URL, Timeout: 20 * time.Millisecond}, srv.Client(), nil)
	err := n.Notify(context.Background(), types.FlushDecision{
		Kind:    types.KindUnambiguous,
		Records: []types.EventRecord{rec("a")},
	})

	ne, ok := notify.IsNotifyError(err)
	require.True(t, ok)
	assert.ErrorIs(t, ne, context.DeadlineExceeded)
}

func TestNotify_Endpoint(t *testing.T) {
	n := notify.New(notify.Config{URL: "http://localhost:8080/orchestrate/"}, nil, nil)
	assert.Equal(t, "http://localhost:8080/orchestrate/ambiguous-event", n.Endpoint(types.KindAmbiguous))
}
