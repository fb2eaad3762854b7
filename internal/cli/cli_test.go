package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/BrandonDHaskell/ambiguity-detection/internal/config"
)

func TestDecodeCommand_PrintsRecord(t *testing.T) {
	cmd := NewRootCommand()
	out := &bytes.Buffer{}
	cmd.SetOut(out)
	cmd.SetIn(strings.NewReader(`<event>
  <string key="concept:name" value="Donor check-in"/>
  <date key="time:timestamp" value="2024-09-11T15:56:16.804+02:00"/>
</event>`))
	cmd.SetArgs([]string{"decode"})

	require.NoError(t, cmd.Execute())

	var rec map[string]string
	require.NoError(t, json.Unmarshal(out.Bytes(), &rec))
	assert.Equal(t, "Donor check-in", rec["concept:name"])
	assert.Equal(t, "2024-09-11T13:56:16", rec["time:timestamp"])
}

func TestDecodeCommand_RejectsBadEvent(t *testing.T) {
	cmd := NewRootCommand()
	cmd.SetOut(&bytes.Buffer{})
	cmd.SetIn(strings.NewReader(`{"concept:name":"no timestamp"}`))
	cmd.SetArgs([]string{"decode"})

	assert.Error(t, cmd.Execute())
}

func TestServeCommand_BadConfig(t *testing.T) {
	cmd := NewRootCommand()
	cmd.SetArgs([]string{"serve", "--config", filepath.Join(t.TempDir(), "missing.yaml")})
	assert.Error(t, cmd.Execute())
}

// The daemon delivers a burst as one ambiguous decision and flushes the open
// window on shutdown.
func TestDaemon_EndToEnd(t *testing.T) {
	got := make(chan string, 8)
	orch := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got <- r.URL.Path
		w.WriteHeader(http.StatusOK)
	}))
	defer orch.Close()

	cfg := config.Defaults()
	cfg.HTTPAddr = "127.0.0.1:0"
	cfg.GRPCAddr = ""
	cfg.Source = config.SourceNone
	cfg.QuietPeriod = 50 * time.Millisecond
	cfg.Orchestrator.URL = orch.URL + "/orchestrate"
	cfg.Journal.Driver = config.DriverSQLite
	cfg.Journal.DBPath = filepath.Join(t.TempDir(), "journal.db")
	require.NoError(t, cfg.Validate())

	ctx, cancel := context.WithCancel(context.Background())
	d, err := newDaemon(ctx, cfg, zaptest.NewLogger(t))
	require.NoError(t, err)

	done := make(chan error, 1)
	go func() { done <- d.run(ctx) }()

	h := d.http.Handler()
	for _, a := range []string{"a", "b"} {
		rec := httptest.NewRecorder()
		body := `{"concept:name":"` + a + `","time:timestamp":"2024-09-11T16:00:00"}`
		req := httptest.NewRequest(http.MethodPost, "/v1/events", strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
		h.ServeHTTP(rec, req)
		require.Equal(t, http.StatusAccepted, rec.Code)
	}

	select {
	case p := <-got:
		assert.Equal(t, "/orchestrate/ambiguous-event", p)
	case <-time.After(2 * time.Second):
		t.Fatal("orchestrator never notified")
	}

	// Left open at shutdown; flushed because flush_on_shutdown defaults to true.
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/v1/events",
		strings.NewReader(`{"concept:name":"last","time:timestamp":"2024-09-11T16:00:05"}`))
	h.ServeHTTP(rec, req)
	require.Equal(t, http.StatusAccepted, rec.Code)

	cancel()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("daemon did not stop")
	}

	select {
	case p := <-got:
		assert.Equal(t, "/orchestrate/unambiguous-event", p)
	default:
		t.Fatal("open window was not flushed on shutdown")
	}
}
