// Package mqtt feeds events published on an MQTT topic into the detector.
package mqtt

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/BrandonDHaskell/ambiguity-detection/internal/ambiguity/decode"
	"github.com/BrandonDHaskell/ambiguity-detection/internal/source"
)

const sourceName = "mqtt"

type Config struct {
	Broker   string // host:port or a full tcp:// / ssl:// / ws:// URL
	Topic    string
	ClientID string // generated when empty
	QoS      byte

	// FirstReconnectDelay is the wait between connection attempts;
	// MaxReconnectDelay caps the backoff after a lost connection.
	FirstReconnectDelay time.Duration
	MaxReconnectDelay   time.Duration

	// ConnectTimeout bounds the initial connect in Start. The client keeps
	// retrying in the background after it expires.
	ConnectTimeout time.Duration
}

type Subscriber struct {
	cfg    Config
	ingest source.Ingester
	logger *zap.Logger

	mu     sync.Mutex
	client paho.Client
	ctx    context.Context
	cancel context.CancelFunc
}

var _ source.Source = (*Subscriber)(nil)

func New(cfg Config, ing source.Ingester, logger *zap.Logger) *Subscriber {
	if cfg.ClientID == "" {
		cfg.ClientID = "ambiguity-detector-" + uuid.NewString()[:8]
	}
	if cfg.FirstReconnectDelay <= 0 {
		cfg.FirstReconnectDelay = time.Second
	}
	if cfg.MaxReconnectDelay <= 0 {
		cfg.MaxReconnectDelay = time.Minute
	}
	if cfg.ConnectTimeout <= 0 {
		cfg.ConnectTimeout = 5 * time.Second
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Subscriber{cfg: cfg, ingest: ing, logger: logger}
}

func brokerURL(b string) string {
	if strings.Contains(b, "://") {
		return b
	}
	return "tcp://" + b
}

func (s *Subscriber) clientOptions() *paho.ClientOptions {
	opts := paho.NewClientOptions()
	opts.AddBroker(brokerURL(s.cfg.Broker))
	opts.SetClientID(s.cfg.ClientID)
	opts.SetCleanSession(true)
	opts.SetAutoReconnect(true)
	opts.SetConnectRetry(true)
	opts.SetConnectRetryInterval(s.cfg.FirstReconnectDelay)
	opts.SetMaxReconnectInterval(s.cfg.MaxReconnectDelay)

	// A clean session drops subscriptions, so subscribe on every (re)connect.
	opts.SetOnConnectHandler(func(c paho.Client) {
		s.logger.Info("MQTT connection established",
			zap.String("broker", s.cfg.Broker),
			zap.String("client_id", s.cfg.ClientID))
		s.subscribe(c)
	})
	opts.SetConnectionLostHandler(func(_ paho.Client, err error) {
		s.logger.Warn("MQTT connection lost, will auto-reconnect",
			zap.String("broker", s.cfg.Broker),
			zap.Duration("max_retry_interval", s.cfg.MaxReconnectDelay),
			zap.Error(err))
	})
	opts.SetReconnectingHandler(func(_ paho.Client, _ *paho.ClientOptions) {
		s.logger.Info("MQTT reconnecting", zap.String("broker", s.cfg.Broker))
	})
	return opts
}

// Start connects and subscribes. If the broker is not reachable within
// ConnectTimeout, Start returns nil and the client keeps retrying.
func (s *Subscriber) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.ctx, s.cancel = source.IntakeContext(ctx)
	s.client = paho.NewClient(s.clientOptions())

	s.logger.Info("Connecting to MQTT broker",
		zap.String("broker", s.cfg.Broker),
		zap.String("topic", s.cfg.Topic))

	token := s.client.Connect()
	if !token.WaitTimeout(s.cfg.ConnectTimeout) {
		s.logger.Warn("MQTT broker not reachable yet, retrying in background",
			zap.String("broker", s.cfg.Broker),
			zap.Duration("timeout", s.cfg.ConnectTimeout))
		return nil
	}
	if err := token.Error(); err != nil {
		s.cancel()
		return fmt.Errorf("mqtt connect %s: %w", s.cfg.Broker, err)
	}
	return nil
}

func (s *Subscriber) subscribe(c paho.Client) {
	token := c.Subscribe(s.cfg.Topic, s.cfg.QoS, s.handle)
	if !token.WaitTimeout(s.cfg.ConnectTimeout) {
		s.logger.Error("MQTT subscribe timed out", zap.String("topic", s.cfg.Topic))
		return
	}
	if err := token.Error(); err != nil {
		s.logger.Error("MQTT subscribe failed", zap.String("topic", s.cfg.Topic), zap.Error(err))
		return
	}
	s.logger.Info("Subscribed to MQTT topic",
		zap.String("topic", s.cfg.Topic),
		zap.Uint8("qos", s.cfg.QoS))
}

func (s *Subscriber) handle(_ paho.Client, msg paho.Message) {
	s.mu.Lock()
	ctx := s.ctx
	s.mu.Unlock()
	if ctx == nil {
		ctx = context.Background()
	}

	// Undecodable payloads are already logged by the ingester.
	if _, err := s.ingest.Ingest(ctx, sourceName, msg.Payload()); err != nil && !decode.IsDecodeError(err) {
		s.logger.Warn("Event not ingested", zap.String("source", sourceName), zap.Error(err))
	}
}

// Stop unsubscribes and disconnects, giving in-flight work 250ms.
func (s *Subscriber) Stop() {
	s.mu.Lock()
	client, cancel := s.client, s.cancel
	s.mu.Unlock()

	if client == nil {
		return
	}
	if client.IsConnected() {
		client.Unsubscribe(s.cfg.Topic).WaitTimeout(time.Second)
	}
	client.Disconnect(250)
	if cancel != nil {
		cancel()
	}
	s.logger.Info("MQTT disconnected", zap.String("broker", s.cfg.Broker))
}
