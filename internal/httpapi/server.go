package httpapi

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"go.uber.org/zap"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/BrandonDHaskell/ambiguity-detection/internal/ambiguity/decode"
	"github.com/BrandonDHaskell/ambiguity-detection/internal/ambiguity/detector"
	"github.com/BrandonDHaskell/ambiguity-detection/internal/ambiguity/service"
	"github.com/BrandonDHaskell/ambiguity-detection/internal/ambiguity/store"
	"github.com/BrandonDHaskell/ambiguity-detection/internal/ambiguity/types"
	"github.com/BrandonDHaskell/ambiguity-detection/internal/metrics"
)

const (
	defaultDecisionLimit = 50
	maxDecisionLimit     = 500
)

// Ingester is the event entry point (service.IngestService).
type Ingester interface {
	Ingest(ctx context.Context, source string, raw []byte) (int, error)
	IngestFields(ctx context.Context, source string, fields map[string]string) (int, error)
}

// StatusReporter snapshots the detector.
type StatusReporter interface {
	Status() types.DetectorStatus
}

type Dependencies struct {
	Logger   *zap.Logger
	Addr     string
	Ingest   Ingester
	Detector StatusReporter
	Journal  store.DecisionStore // optional; /v1/decisions is empty without it
	Metrics  *metrics.Metrics    // optional; /metrics is absent without it
}

type Server struct {
	httpServer *http.Server
	logger     *zap.Logger
	mux        *http.ServeMux
	ingest     Ingester
	detector   StatusReporter
	journal    store.DecisionStore
}

func NewServer(d Dependencies) *Server {
	logger := d.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	mux := http.NewServeMux()

	s := &Server{
		logger:   logger,
		mux:      mux,
		ingest:   d.Ingest,
		detector: d.Detector,
		journal:  d.Journal,
	}

	mux.HandleFunc("POST /v1/events", s.handleEvent)
	mux.HandleFunc("GET /v1/decisions", s.handleDecisions)
	mux.HandleFunc("GET /v1/status", s.handleStatus)
	mux.HandleFunc("GET /healthz", s.handleHealth)
	if d.Metrics != nil {
		mux.Handle("GET /metrics", d.Metrics.Handler())
	}

	handler := loggingMiddleware(logger, mux)

	s.httpServer = &http.Server{
		Addr:              d.Addr,
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
	}

	return s
}

func (s *Server) Handler() http.Handler { return s.httpServer.Handler }

func (s *Server) Start() error {
	return s.httpServer.ListenAndServe()
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

func (s *Server) handleEvent(w http.ResponseWriter, r *http.Request) {
	protoReq := isProtobuf(r)

	var (
		pending int
		err     error
	)
	if protoReq {
		var msg structpb.Struct
		if perr := readProto(r, &msg); perr != nil {
			writeBodyError(w, perr, "bad_proto", "invalid protobuf Struct body")
			return
		}
		pending, err = s.ingest.IngestFields(r.Context(), service.SourceHTTP, structFields(&msg))
	} else {
		body, rerr := readBody(r)
		if rerr != nil {
			writeBodyError(w, rerr, "bad_body", "could not read request body")
			return
		}
		pending, err = s.ingest.Ingest(r.Context(), service.SourceHTTP, body)
	}

	if err != nil {
		switch {
		case decode.IsDecodeError(err):
			writeError(w, http.StatusBadRequest, "bad_event", err.Error())
		case errors.Is(err, detector.ErrClosed):
			writeError(w, http.StatusServiceUnavailable, "shutting_down", "detector is not accepting events")
		default:
			s.logger.Error("Ingest failed", zap.Error(err))
			writeError(w, http.StatusInternalServerError, "internal_error", "unexpected server error")
		}
		return
	}

	resp := types.IngestResponse{OK: true, Pending: pending}
	if protoReq {
		writeProto(w, http.StatusAccepted, ingestResponseToProto(resp))
		return
	}
	writeJSON(w, http.StatusAccepted, resp)
}

func (s *Server) handleDecisions(w http.ResponseWriter, r *http.Request) {
	limit := defaultDecisionLimit
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			writeError(w, http.StatusBadRequest, "bad_limit", "limit must be a positive integer")
			return
		}
		limit = min(n, maxDecisionLimit)
	}

	views := []types.DecisionView{}
	if s.journal != nil {
		recs, err := s.journal.Recent(r.Context(), limit)
		if err != nil {
			s.logger.Error("Journal read failed", zap.Error(err))
			writeError(w, http.StatusInternalServerError, "internal_error", "unexpected server error")
			return
		}
		for _, rec := range recs {
			views = append(views, decisionView(rec))
		}
	}

	writeJSON(w, http.StatusOK, map[string]any{"decisions": views})
}

func (s *Server) handleStatus(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.detector.Status())
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
}
