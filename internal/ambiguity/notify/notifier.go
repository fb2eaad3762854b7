// Package notify delivers flush decisions to the orchestrator over HTTP.
package notify

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/BrandonDHaskell/ambiguity-detection/internal/ambiguity/types"
)

const DefaultTimeout = 5 * time.Second

type Config struct {
	// URL is the orchestrator base, e.g. http://localhost:8080/orchestrate.
	// The decision kind is appended as the final path segment.
	URL string

	// Timeout bounds a single request. Zero means DefaultTimeout.
	Timeout time.Duration
}

// HTTPNotifier POSTs each decision's payload to {URL}/{kind}. It never retries.
type HTTPNotifier struct {
	base    string
	timeout time.Duration
	client  *http.Client
	logger  *zap.Logger
}

// New builds a notifier. A nil client uses a fresh http.Client.
func New(cfg Config, client *http.Client, logger *zap.Logger) *HTTPNotifier {
	if client == nil {
		client = &http.Client{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &HTTPNotifier{
		base:    strings.TrimRight(cfg.URL, "/"),
		timeout: timeout,
		client:  client,
		logger:  logger,
	}
}

// Endpoint returns the URL a decision of kind k is posted to.
func (n *HTTPNotifier) Endpoint(k types.DecisionKind) string {
	return n.base + "/" + string(k)
}

func (n *HTTPNotifier) Notify(ctx context.Context, d types.FlushDecision) error {
	body, err := d.Payload()
	if err != nil {
		return n.fail(d, &Error{Kind: d.Kind, Err: fmt.Errorf("encode payload: %w", err)})
	}

	ctx, cancel := context.WithTimeout(ctx, n.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.Endpoint(d.Kind), bytes.NewReader(body))
	if err != nil {
		return n.fail(d, &Error{Kind: d.Kind, Err: err})
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := n.client.Do(req)
	if err != nil {
		return n.fail(d, &Error{Kind: d.Kind, Err: err})
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 64<<10))

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return n.fail(d, &Error{Kind: d.Kind, Status: resp.StatusCode})
	}

	n.logger.Info("Successfully sent to orchestrator",
		zap.String("decision_id", d.ID),
		zap.String("kind", string(d.Kind)),
		zap.Int("events", len(d.Records)),
		zap.Int("status", resp.StatusCode))
	return nil
}

func (n *HTTPNotifier) fail(d types.FlushDecision, err *Error) error {
	fields := []zap.Field{
		zap.String("decision_id", d.ID),
		zap.String("kind", string(d.Kind)),
		zap.Int("events", len(d.Records)),
	}
	if err.Status != 0 {
		fields = append(fields, zap.Int("status", err.Status))
	} else {
		fields = append(fields, zap.Error(err.Err))
	}
	n.logger.Error("Failed to send to orchestrator", fields...)
	return err
}
