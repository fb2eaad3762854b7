// Package nats feeds events published on a NATS subject into the detector.
package nats

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/nats-io/nats.go"
	"go.uber.org/zap"

	"github.com/BrandonDHaskell/ambiguity-detection/internal/ambiguity/decode"
	"github.com/BrandonDHaskell/ambiguity-detection/internal/source"
)

const sourceName = "nats"

type Config struct {
	URL     string
	Subject string

	// Queue, when set, joins a queue group so replicas split the stream.
	// Replicas in one group each see part of the stream, so their windows
	// are independent.
	Queue string

	Name          string
	ReconnectWait time.Duration
	DrainTimeout  time.Duration
}

type Subscriber struct {
	cfg    Config
	ingest source.Ingester
	logger *zap.Logger

	mu     sync.Mutex
	nc     *nats.Conn
	sub    *nats.Subscription
	ctx    context.Context
	cancel context.CancelFunc
	closed chan struct{}
}

var _ source.Source = (*Subscriber)(nil)

func New(cfg Config, ing source.Ingester, logger *zap.Logger) *Subscriber {
	if cfg.URL == "" {
		cfg.URL = nats.DefaultURL
	}
	if cfg.Name == "" {
		cfg.Name = "ambiguity-detector"
	}
	if cfg.ReconnectWait <= 0 {
		cfg.ReconnectWait = time.Second
	}
	if cfg.DrainTimeout <= 0 {
		cfg.DrainTimeout = 5 * time.Second
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Subscriber{cfg: cfg, ingest: ing, logger: logger, closed: make(chan struct{})}
}

func (s *Subscriber) options() []nats.Option {
	return []nats.Option{
		nats.Name(s.cfg.Name),
		nats.RetryOnFailedConnect(true),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(s.cfg.ReconnectWait),
		nats.DrainTimeout(s.cfg.DrainTimeout),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			s.logger.Error("NATS disconnected", zap.Error(err))
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			s.logger.Info("NATS reconnected", zap.String("url", nc.ConnectedUrl()))
		}),
		nats.ErrorHandler(func(_ *nats.Conn, _ *nats.Subscription, err error) {
			s.logger.Error("NATS error", zap.Error(err))
		}),
		nats.ClosedHandler(func(*nats.Conn) {
			close(s.closed)
		}),
	}
}

// Start connects and subscribes. With RetryOnFailedConnect the connection
// may still be pending when Start returns; the subscription is replayed to
// the server once it connects.
func (s *Subscriber) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.ctx, s.cancel = source.IntakeContext(ctx)

	nc, err := nats.Connect(s.cfg.URL, s.options()...)
	if err != nil {
		s.cancel()
		return fmt.Errorf("failed to connect to NATS: %w", err)
	}

	var sub *nats.Subscription
	if s.cfg.Queue != "" {
		sub, err = nc.QueueSubscribe(s.cfg.Subject, s.cfg.Queue, s.handle)
	} else {
		sub, err = nc.Subscribe(s.cfg.Subject, s.handle)
	}
	if err != nil {
		nc.Close()
		s.cancel()
		return fmt.Errorf("subscribe %s: %w", s.cfg.Subject, err)
	}

	s.nc, s.sub = nc, sub
	s.logger.Info("Subscribed to NATS subject",
		zap.String("url", s.cfg.URL),
		zap.String("subject", s.cfg.Subject),
		zap.String("queue", s.cfg.Queue))
	return nil
}

func (s *Subscriber) handle(msg *nats.Msg) {
	s.mu.Lock()
	ctx := s.ctx
	s.mu.Unlock()
	if ctx == nil {
		ctx = context.Background()
	}

	// Undecodable payloads are already logged by the ingester.
	if _, err := s.ingest.Ingest(ctx, sourceName, msg.Data); err != nil && !decode.IsDecodeError(err) {
		s.logger.Warn("Event not ingested", zap.String("source", sourceName), zap.Error(err))
	}
}

// Stop drains the subscription so buffered messages are still ingested,
// then waits for the connection to close.
func (s *Subscriber) Stop() {
	s.mu.Lock()
	nc := s.nc
	s.mu.Unlock()

	if nc == nil {
		return
	}
	if err := nc.Drain(); err != nil {
		s.logger.Warn("NATS drain failed, closing", zap.Error(err))
		nc.Close()
	}

	select {
	case <-s.closed:
	case <-time.After(s.cfg.DrainTimeout + time.Second):
		s.logger.Warn("NATS close timed out")
	}

	s.mu.Lock()
	if s.cancel != nil {
		s.cancel()
	}
	s.mu.Unlock()
	s.logger.Info("NATS subscriber stopped", zap.String("subject", s.cfg.Subject))
}
