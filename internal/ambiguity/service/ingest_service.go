package service

import (
	"context"
	"errors"

	"go.uber.org/zap"

	"github.com/BrandonDHaskell/ambiguity-detection/internal/ambiguity/decode"
	"github.com/BrandonDHaskell/ambiguity-detection/internal/ambiguity/types"
	"github.com/BrandonDHaskell/ambiguity-detection/internal/metrics"
)

// Source labels for logs and metrics.
const (
	SourceHTTP = "http"
	SourceMQTT = "mqtt"
	SourceNATS = "nats"
)

// Submitter is the detector's arrival path.
type Submitter interface {
	Submit(rec types.EventRecord) (int, error)
}

// IngestService is the single entry point for raw events from every source.
// Records that fail to decode are logged once and dropped before they can
// touch the window or the timer.
type IngestService struct {
	detector Submitter
	logger   *zap.Logger
	metrics  *metrics.Metrics
}

func NewIngestService(d Submitter, logger *zap.Logger, m *metrics.Metrics) *IngestService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &IngestService{detector: d, logger: logger, metrics: m}
}

// Ingest decodes raw (XES XML or flat JSON) and submits it. It returns the
// window size after the append.
func (s *IngestService) Ingest(ctx context.Context, source string, raw []byte) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	rec, err := decode.Decode(raw)
	if err != nil {
		s.reject(source, err, zap.Int("bytes", len(raw)))
		return 0, err
	}
	return s.submit(source, rec)
}

// IngestFields is Ingest for payloads that arrive already structured.
func (s *IngestService) IngestFields(ctx context.Context, source string, fields map[string]string) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	rec, err := decode.FromFields(fields)
	if err != nil {
		s.reject(source, err, zap.Int("fields", len(fields)))
		return 0, err
	}
	return s.submit(source, rec)
}

func (s *IngestService) submit(source string, rec types.EventRecord) (int, error) {
	n, err := s.detector.Submit(rec)
	if err != nil {
		s.logger.Warn("Detector rejected event",
			zap.String("source", source),
			zap.String("activity", rec.Activity),
			zap.Error(err))
		return 0, err
	}

	s.metrics.EventReceived(source)
	s.logger.Debug("Received event",
		zap.String("source", source),
		zap.String("activity", rec.Activity),
		zap.Time("timestamp", rec.Timestamp),
		zap.Int("pending", n))
	return n, nil
}

func (s *IngestService) reject(source string, err error, extra zap.Field) {
	s.metrics.EventRejected(source, rejectReason(err))
	s.logger.Warn("Discarding undecodable event",
		zap.String("source", source),
		extra,
		zap.Error(err))
}

func rejectReason(err error) string {
	switch {
	case errors.Is(err, decode.ErrMissingField):
		return "missing_field"
	case errors.Is(err, decode.ErrMalformed):
		return "malformed"
	}
	return "unknown"
}
