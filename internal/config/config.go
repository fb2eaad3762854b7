// Package config loads daemon settings: defaults, then an optional YAML
// file, then AMBIGUITY_* environment variables.
package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Event bus sources.
const (
	SourceMQTT = "mqtt"
	SourceNATS = "nats"
	SourceNone = "none"
)

// Journal drivers.
const (
	DriverMemory = "memory"
	DriverSQLite = "sqlite"
)

type Config struct {
	HTTPAddr string `yaml:"http_addr"`
	GRPCAddr string `yaml:"grpc_addr"` // empty disables the health server

	Env       string `yaml:"env"` // "dev" | "prod"
	LogLevel  string `yaml:"log_level"`
	LogFormat string `yaml:"log_format"` // "json" | "console"

	QuietPeriod     time.Duration `yaml:"quiet_period"`
	FlushOnShutdown bool          `yaml:"flush_on_shutdown"`

	Source       string             `yaml:"source"`
	MQTT         MQTTConfig         `yaml:"mqtt"`
	NATS         NATSConfig         `yaml:"nats"`
	Orchestrator OrchestratorConfig `yaml:"orchestrator"`
	Journal      JournalConfig      `yaml:"journal"`
}

type MQTTConfig struct {
	Broker              string        `yaml:"broker"`
	Topic               string        `yaml:"topic"`
	ClientID            string        `yaml:"client_id"`
	QoS                 int           `yaml:"qos"`
	FirstReconnectDelay time.Duration `yaml:"first_reconnect_delay"`
	MaxReconnectDelay   time.Duration `yaml:"max_reconnect_delay"`
}

type NATSConfig struct {
	URL     string `yaml:"url"`
	Subject string `yaml:"subject"`
	Queue   string `yaml:"queue"`
}

type OrchestratorConfig struct {
	URL     string        `yaml:"url"`
	Timeout time.Duration `yaml:"timeout"`
}

type JournalConfig struct {
	Driver             string `yaml:"driver"`
	DBPath             string `yaml:"db_path"`
	RetentionDays      int    `yaml:"retention_days"`       // 0 = keep forever
	PruneIntervalHours int    `yaml:"prune_interval_hours"` // how often the pruner runs
}

func Defaults() Config {
	return Config{
		HTTPAddr:        ":8081",
		GRPCAddr:        ":9091",
		Env:             "dev",
		LogLevel:        "info",
		LogFormat:       "json",
		QuietPeriod:     time.Second,
		FlushOnShutdown: true,
		Source:          SourceMQTT,
		MQTT: MQTTConfig{
			Broker:              "localhost:1883",
			Topic:               "iot/events",
			FirstReconnectDelay: time.Second,
			MaxReconnectDelay:   time.Minute,
		},
		NATS: NATSConfig{
			URL:     "nats://127.0.0.1:4222",
			Subject: "iot-events",
		},
		Orchestrator: OrchestratorConfig{
			URL:     "http://localhost:8080/orchestrate",
			Timeout: 5 * time.Second,
		},
		Journal: JournalConfig{
			Driver:             DriverMemory,
			DBPath:             "./data/ambiguity.db",
			RetentionDays:      30,
			PruneIntervalHours: 6,
		},
	}
}

// FromEnv returns the defaults overridden by the environment.
func FromEnv() Config {
	cfg := Defaults()
	applyEnv(&cfg)
	return cfg
}

// Load reads path (if non-empty) over the defaults, applies the environment
// on top and validates the result.
func Load(path string) (Config, error) {
	cfg := Defaults()
	if path != "" {
		b, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("read config %s: %w", path, err)
		}
		if err := yaml.Unmarshal(b, &cfg); err != nil {
			return Config{}, fmt.Errorf("parse config %s: %w", path, err)
		}
	}
	applyEnv(&cfg)
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func applyEnv(cfg *Config) {
	cfg.HTTPAddr = getenvDefault("AMBIGUITY_HTTP_ADDR", cfg.HTTPAddr)
	if v, ok := os.LookupEnv("AMBIGUITY_GRPC_ADDR"); ok {
		cfg.GRPCAddr = strings.TrimSpace(v)
	}

	cfg.Env = strings.ToLower(getenvDefault("AMBIGUITY_ENV", cfg.Env))
	if cfg.Env != "dev" && cfg.Env != "prod" {
		// fail-soft: treat unknown as dev
		cfg.Env = "dev"
	}
	cfg.LogLevel = strings.ToLower(getenvDefault("AMBIGUITY_LOG_LEVEL", cfg.LogLevel))
	cfg.LogFormat = strings.ToLower(getenvDefault("AMBIGUITY_LOG_FORMAT", cfg.LogFormat))

	cfg.QuietPeriod = getenvDuration("AMBIGUITY_QUIET_PERIOD", cfg.QuietPeriod)
	cfg.FlushOnShutdown = getenvBool("AMBIGUITY_FLUSH_ON_SHUTDOWN", cfg.FlushOnShutdown)
	cfg.Source = strings.ToLower(getenvDefault("AMBIGUITY_SOURCE", cfg.Source))

	cfg.MQTT.Broker = getenvDefault("AMBIGUITY_MQTT_BROKER", cfg.MQTT.Broker)
	cfg.MQTT.Topic = getenvDefault("AMBIGUITY_MQTT_TOPIC", cfg.MQTT.Topic)
	cfg.MQTT.ClientID = getenvDefault("AMBIGUITY_MQTT_CLIENT_ID", cfg.MQTT.ClientID)
	cfg.MQTT.QoS = getenvInt("AMBIGUITY_MQTT_QOS", cfg.MQTT.QoS)
	cfg.MQTT.FirstReconnectDelay = getenvDuration("AMBIGUITY_MQTT_FIRST_RECONNECT_DELAY", cfg.MQTT.FirstReconnectDelay)
	cfg.MQTT.MaxReconnectDelay = getenvDuration("AMBIGUITY_MQTT_MAX_RECONNECT_DELAY", cfg.MQTT.MaxReconnectDelay)

	cfg.NATS.URL = getenvDefault("AMBIGUITY_NATS_URL", cfg.NATS.URL)
	cfg.NATS.Subject = getenvDefault("AMBIGUITY_NATS_SUBJECT", cfg.NATS.Subject)
	cfg.NATS.Queue = getenvDefault("AMBIGUITY_NATS_QUEUE", cfg.NATS.Queue)

	cfg.Orchestrator.URL = getenvDefault("AMBIGUITY_ORCHESTRATOR_URL", cfg.Orchestrator.URL)
	cfg.Orchestrator.Timeout = getenvDuration("AMBIGUITY_ORCHESTRATOR_TIMEOUT", cfg.Orchestrator.Timeout)

	cfg.Journal.Driver = strings.ToLower(getenvDefault("AMBIGUITY_JOURNAL_DRIVER", cfg.Journal.Driver))
	cfg.Journal.DBPath = getenvDefault("AMBIGUITY_DB_PATH", cfg.Journal.DBPath)
	cfg.Journal.RetentionDays = getenvInt("AMBIGUITY_JOURNAL_RETENTION_DAYS", cfg.Journal.RetentionDays)
	cfg.Journal.PruneIntervalHours = getenvInt("AMBIGUITY_PRUNE_INTERVAL_HOURS", cfg.Journal.PruneIntervalHours)
}

// Validate rejects settings the daemon cannot run with. All problems are
// reported together.
func (c Config) Validate() error {
	var errs []error

	if c.QuietPeriod <= 0 {
		errs = append(errs, fmt.Errorf("quiet_period must be positive, got %s", c.QuietPeriod))
	}

	switch c.LogFormat {
	case "json", "console":
	default:
		errs = append(errs, fmt.Errorf("log_format must be json or console, got %q", c.LogFormat))
	}

	switch c.Source {
	case SourceMQTT:
		if strings.TrimSpace(c.MQTT.Broker) == "" || strings.TrimSpace(c.MQTT.Topic) == "" {
			errs = append(errs, errors.New("mqtt source needs mqtt.broker and mqtt.topic"))
		}
		if c.MQTT.QoS < 0 || c.MQTT.QoS > 2 {
			errs = append(errs, fmt.Errorf("mqtt.qos must be 0, 1 or 2, got %d", c.MQTT.QoS))
		}
	case SourceNATS:
		if strings.TrimSpace(c.NATS.Subject) == "" {
			errs = append(errs, errors.New("nats source needs nats.subject"))
		}
	case SourceNone:
	default:
		errs = append(errs, fmt.Errorf("source must be mqtt, nats or none, got %q", c.Source))
	}

	if u, err := url.Parse(c.Orchestrator.URL); err != nil || u.Scheme == "" || u.Host == "" {
		errs = append(errs, fmt.Errorf("orchestrator.url must be an absolute URL, got %q", c.Orchestrator.URL))
	}

	switch c.Journal.Driver {
	case DriverMemory:
	case DriverSQLite:
		if strings.TrimSpace(c.Journal.DBPath) == "" {
			errs = append(errs, errors.New("sqlite journal needs journal.db_path"))
		}
	default:
		errs = append(errs, fmt.Errorf("journal.driver must be memory or sqlite, got %q", c.Journal.Driver))
	}

	return errors.Join(errs...)
}

func getenvDefault(key, def string) string {
	v := os.Getenv(key)
	if strings.TrimSpace(v) == "" {
		return def
	}
	return v
}

func getenvInt(key string, def int) int {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < 0 {
		return def
	}
	return n
}

func getenvBool(key string, def bool) bool {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return def
	}
	return b
}

// getenvDuration accepts a Go duration ("1500ms") or a bare number of
// seconds ("1.5").
func getenvDuration(key string, def time.Duration) time.Duration {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	if d, err := time.ParseDuration(v); err == nil {
		return d
	}
	if secs, err := strconv.ParseFloat(v, 64); err == nil {
		return time.Duration(secs * float64(time.Second))
	}
	return def
}
