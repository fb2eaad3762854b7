package cli

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/BrandonDHaskell/ambiguity-detection/internal/ambiguity/detector"
	"github.com/BrandonDHaskell/ambiguity-detection/internal/ambiguity/notify"
	"github.com/BrandonDHaskell/ambiguity-detection/internal/ambiguity/service"
	"github.com/BrandonDHaskell/ambiguity-detection/internal/ambiguity/store"
	"github.com/BrandonDHaskell/ambiguity-detection/internal/ambiguity/store/memory"
	sqlitestore "github.com/BrandonDHaskell/ambiguity-detection/internal/ambiguity/store/sqlite"
	"github.com/BrandonDHaskell/ambiguity-detection/internal/config"
	"github.com/BrandonDHaskell/ambiguity-detection/internal/db"
	"github.com/BrandonDHaskell/ambiguity-detection/internal/grpcapi"
	"github.com/BrandonDHaskell/ambiguity-detection/internal/httpapi"
	"github.com/BrandonDHaskell/ambiguity-detection/internal/logging"
	"github.com/BrandonDHaskell/ambiguity-detection/internal/metrics"
	"github.com/BrandonDHaskell/ambiguity-detection/internal/source"
	mqttsource "github.com/BrandonDHaskell/ambiguity-detection/internal/source/mqtt"
	natssource "github.com/BrandonDHaskell/ambiguity-detection/internal/source/nats"
)

// NewServeCommand creates the serve command.
func NewServeCommand() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the detector daemon",
		Long: `Run the detector: subscribe to the configured event bus, serve the HTTP
ingest and status API, and notify the orchestrator of each decision.

Settings come from defaults, then --config (YAML), then AMBIGUITY_*
environment variables.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(configPath)
			if err != nil {
				return err
			}
			logger, err := logging.New(logging.Options{Level: cfg.LogLevel, Format: cfg.LogFormat, Env: cfg.Env})
			if err != nil {
				return err
			}
			defer func() { _ = logger.Sync() }()

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			d, err := newDaemon(ctx, cfg, logger)
			if err != nil {
				return err
			}
			return d.run(ctx)
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "", "YAML config file")
	return cmd
}

type daemon struct {
	cfg    config.Config
	logger *zap.Logger

	conn    *sql.DB
	writer  *db.Worker
	journal store.DecisionStore

	detector *detector.Detector
	pruner   *service.JournalPruner
	source   source.Source
	http     *httpapi.Server
	grpc     *grpcapi.Server
}

func newDaemon(ctx context.Context, cfg config.Config, logger *zap.Logger) (*daemon, error) {
	d := &daemon{cfg: cfg, logger: logger}
	m := metrics.New()

	switch cfg.Journal.Driver {
	case config.DriverSQLite:
		conn, err := db.Open(ctx, db.Config{Path: cfg.Journal.DBPath})
		if err != nil {
			return nil, fmt.Errorf("open journal: %w", err)
		}
		d.conn = conn
		d.writer = db.NewWorker(conn)
		d.journal = sqlitestore.NewDecisionStore(conn, d.writer)
	default:
		d.journal = memory.NewDecisionStore()
	}

	notifier := notify.New(notify.Config{
		URL:     cfg.Orchestrator.URL,
		Timeout: cfg.Orchestrator.Timeout,
	}, &http.Client{}, logger.Named("notify"))

	d.detector = detector.New(detector.Config{
		QuietPeriod:  cfg.QuietPeriod,
		FlushOnClose: cfg.FlushOnShutdown,
	}, detector.Dependencies{
		Notifier: notifier,
		Journal:  d.journal,
		Logger:   logger.Named("detector"),
		Metrics:  m,
	})

	ingest := service.NewIngestService(d.detector, logger.Named("ingest"), m)

	d.pruner = service.NewJournalPruner(d.journal, service.PrunerConfig{
		RetentionDays: cfg.Journal.RetentionDays,
		IntervalHours: cfg.Journal.PruneIntervalHours,
	}, nil, logger.Named("pruner"))

	switch cfg.Source {
	case config.SourceMQTT:
		d.source = mqttsource.New(mqttsource.Config{
			Broker:              cfg.MQTT.Broker,
			Topic:               cfg.MQTT.Topic,
			ClientID:            cfg.MQTT.ClientID,
			QoS:                 byte(cfg.MQTT.QoS),
			FirstReconnectDelay: cfg.MQTT.FirstReconnectDelay,
			MaxReconnectDelay:   cfg.MQTT.MaxReconnectDelay,
		}, ingest, logger.Named("mqtt"))
	case config.SourceNATS:
		d.source = natssource.New(natssource.Config{
			URL:     cfg.NATS.URL,
			Subject: cfg.NATS.Subject,
			Queue:   cfg.NATS.Queue,
		}, ingest, logger.Named("nats"))
	}

	d.http = httpapi.NewServer(httpapi.Dependencies{
		Logger:   logger.Named("http"),
		Addr:     cfg.HTTPAddr,
		Ingest:   ingest,
		Detector: d.detector,
		Journal:  d.journal,
		Metrics:  m,
	})
	if cfg.GRPCAddr != "" {
		d.grpc = grpcapi.NewServer(cfg.GRPCAddr, logger.Named("grpc"))
	}

	return d, nil
}

// run serves until ctx ends or a listener fails, then shuts down.
func (d *daemon) run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	d.logger.Info("Starting ambiguity detector",
		zap.Duration("quiet_period", d.cfg.QuietPeriod),
		zap.String("source", d.cfg.Source),
		zap.String("orchestrator", d.cfg.Orchestrator.URL),
		zap.String("journal", d.cfg.Journal.Driver))

	d.pruner.Start(ctx)

	serveErr := make(chan error, 2)
	go func() {
		d.logger.Info("HTTP listening", zap.String("addr", d.cfg.HTTPAddr))
		if err := d.http.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- fmt.Errorf("http: %w", err)
		}
	}()
	if d.grpc != nil {
		go func() {
			if err := d.grpc.Start(); err != nil {
				serveErr <- fmt.Errorf("grpc: %w", err)
			}
		}()
	}

	var runErr error
	if d.source != nil {
		if err := d.source.Start(ctx); err != nil {
			runErr = fmt.Errorf("start %s source: %w", d.cfg.Source, err)
		}
	}

	if runErr == nil {
		select {
		case <-ctx.Done():
			d.logger.Info("Shutdown signal received")
		case runErr = <-serveErr:
			d.logger.Error("Listener failed", zap.Error(runErr))
		}
	}

	d.shutdown()
	return runErr
}

// shutdown stops intake first so the final window is complete, then lets
// the detector flush and deliver before the listeners and storage go away.
func (d *daemon) shutdown() {
	ctx, cancel := context.WithTimeout(context.Background(), d.cfg.Orchestrator.Timeout+5*time.Second)
	defer cancel()

	if d.source != nil {
		d.source.Stop()
	}
	if d.grpc != nil {
		d.grpc.SetServing(false)
	}

	if err := d.detector.Close(ctx); err != nil {
		d.logger.Warn("Detector did not drain before deadline", zap.Error(err))
	}

	if err := d.http.Shutdown(ctx); err != nil {
		d.logger.Warn("HTTP shutdown", zap.Error(err))
	}
	if d.grpc != nil {
		if err := d.grpc.Shutdown(ctx); err != nil {
			d.logger.Warn("gRPC shutdown", zap.Error(err))
		}
	}

	d.pruner.Stop()
	if d.writer != nil {
		d.writer.Close()
	}
	if d.conn != nil {
		_ = d.conn.Close()
	}
	d.logger.Info("Ambiguity detector stopped")
}
