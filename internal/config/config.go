// Package config loads the process configuration from a YAML file and
// ALERTENGINE_ prefixed environment variables.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config is the full process configuration
type Config struct {
	App        AppConfig        `mapstructure:"app"`
	Log        LogConfig        `mapstructure:"log"`
	Database   DatabaseConfig   `mapstructure:"database"`
	NATS       NATSConfig       `mapstructure:"nats"`
	Scheduler  SchedulerConfig  `mapstructure:"scheduler"`
	Dispatcher DispatcherConfig `mapstructure:"dispatcher"`
	Engine     EngineConfig     `mapstructure:"engine"`
	Retention  RetentionConfig  `mapstructure:"retention"`
	Server     ServerConfig     `mapstructure:"server"`
	Events     EventsConfig     `mapstructure:"events"`
	Kafka      KafkaConfig      `mapstructure:"kafka"`
	Email      EmailConfig      `mapstructure:"email"`
	Slack      SlackConfig      `mapstructure:"slack"`
	MQTT       MQTTConfig       `mapstructure:"mqtt"`
	DataSource DataSourceConfig `mapstructure:"datasource"`
	Metrics    MetricsConfig    `mapstructure:"metrics"`
}

type AppConfig struct {
	Name string `mapstructure:"name"`
}

type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

type DatabaseConfig struct {
	Path string `mapstructure:"path"`
}

type NATSConfig struct {
	URLs           []string      `mapstructure:"urls"`
	MaxReconnects  int           `mapstructure:"max_reconnects"`
	ReconnectWait  time.Duration `mapstructure:"reconnect_wait"`
	ConnectTimeout time.Duration `mapstructure:"connect_timeout"`
	ConnectRetries int           `mapstructure:"connect_retries"`
}

type SchedulerConfig struct {
	Spec          string        `mapstructure:"spec"`
	RetentionSpec string        `mapstructure:"retention_spec"`
	Workers       int           `mapstructure:"workers"`
	AckWait       time.Duration `mapstructure:"ack_wait"`
	MaxDeliver    int           `mapstructure:"max_deliver"`
}

type DispatcherConfig struct {
	ActionTimeout time.Duration `mapstructure:"action_timeout"`
	Retry         RetryConfig   `mapstructure:"retry"`
}

type RetryConfig struct {
	MaxRetries int           `mapstructure:"max_retries"`
	Delay      time.Duration `mapstructure:"delay"`
	Multiplier float64       `mapstructure:"multiplier"`
	MaxDelay   time.Duration `mapstructure:"max_delay"`
}

type EngineConfig struct {
	StrictCooldown bool `mapstructure:"strict_cooldown"`
	CascadeDelete  bool `mapstructure:"cascade_delete"`
}

type RetentionConfig struct {
	Days int `mapstructure:"days"`
}

type ServerConfig struct {
	Addr string `mapstructure:"addr"`
	Mode string `mapstructure:"mode"`
}

// EventsConfig selects where alert lifecycle events go
type EventsConfig struct {
	Backend string `mapstructure:"backend"`
}

type KafkaConfig struct {
	Brokers []string `mapstructure:"brokers"`
	Topic   string   `mapstructure:"topic"`
}

type EmailConfig struct {
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	Username string `mapstructure:"username"`
	Password string `mapstructure:"password"`
	From     string `mapstructure:"from"`
}

type SlackConfig struct {
	Token string `mapstructure:"token"`
}

type MQTTConfig struct {
	Broker   string        `mapstructure:"broker"`
	ClientID string        `mapstructure:"client_id"`
	Username string        `mapstructure:"username"`
	Password string        `mapstructure:"password"`
	Timeout  time.Duration `mapstructure:"timeout"`
}

type DataSourceConfig struct {
	APITimeout  time.Duration `mapstructure:"api_timeout"`
	WebhookTTL  time.Duration `mapstructure:"webhook_ttl"`
	BaselineTTL time.Duration `mapstructure:"baseline_ttl"`
	// SQLDSN is the SQLite file database conditions read from, opened
	// read-only; empty disables database conditions
	SQLDSN      string        `mapstructure:"sql_dsn"`
	Docker      bool          `mapstructure:"docker"`
}

type MetricsConfig struct {
	CollectInterval time.Duration `mapstructure:"collect_interval"`
}

// Event backends
const (
	EventsNATS  = "nats"
	EventsKafka = "kafka"
	EventsNone  = "none"
)

func setDefaults(v *viper.Viper) {
	v.SetDefault("app.name", "alert-engine")

	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")

	v.SetDefault("database.path", "alert_engine.db")

	v.SetDefault("nats.urls", []string{"nats://127.0.0.1:4222"})
	v.SetDefault("nats.max_reconnects", 60)
	v.SetDefault("nats.reconnect_wait", 2*time.Second)
	v.SetDefault("nats.connect_timeout", 5*time.Second)
	v.SetDefault("nats.connect_retries", 5)

	v.SetDefault("scheduler.spec", "@every 1m")
	v.SetDefault("scheduler.retention_spec", "@daily")
	v.SetDefault("scheduler.workers", 5)
	v.SetDefault("scheduler.ack_wait", 5*time.Minute)
	v.SetDefault("scheduler.max_deliver", 3)

	v.SetDefault("dispatcher.action_timeout", 30*time.Second)
	v.SetDefault("dispatcher.retry.max_retries", 0)
	v.SetDefault("dispatcher.retry.delay", time.Second)
	v.SetDefault("dispatcher.retry.multiplier", 2.0)
	v.SetDefault("dispatcher.retry.max_delay", time.Minute)

	v.SetDefault("engine.strict_cooldown", false)
	v.SetDefault("engine.cascade_delete", true)

	v.SetDefault("retention.days", 90)

	v.SetDefault("server.addr", ":8080")
	v.SetDefault("server.mode", "release")

	v.SetDefault("events.backend", EventsNATS)
	v.SetDefault("kafka.topic", "alert-events")

	v.SetDefault("email.port", 587)
	v.SetDefault("mqtt.client_id", "alert-engine")
	v.SetDefault("mqtt.timeout", 10*time.Second)

	v.SetDefault("datasource.api_timeout", 10*time.Second)
	v.SetDefault("datasource.webhook_ttl", time.Hour)
	v.SetDefault("datasource.baseline_ttl", 24*time.Hour)
	v.SetDefault("datasource.docker", false)

	v.SetDefault("metrics.collect_interval", 15*time.Second)
}

// Load reads path (or config/config.yaml when empty) and the environment.
// A missing default file is not an error; a missing explicit path is.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix("ALERTENGINE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath("./config")
		v.AddConfigPath(".")
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if path != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate rejects settings the process cannot start with
func (c *Config) Validate() error {
	switch c.Events.Backend {
	case EventsNATS, EventsNone:
	case EventsKafka:
		if len(c.Kafka.Brokers) == 0 {
			return fmt.Errorf("kafka.brokers is required for the kafka events backend")
		}
	default:
		return fmt.Errorf("unknown events.backend %q", c.Events.Backend)
	}
	if c.Scheduler.Workers <= 0 {
		return fmt.Errorf("scheduler.workers must be positive, got %d", c.Scheduler.Workers)
	}
	switch c.Server.Mode {
	case "debug", "release", "test":
	default:
		return fmt.Errorf("unknown server.mode %q", c.Server.Mode)
	}
	switch strings.ToLower(c.Log.Format) {
	case "json", "console":
	default:
		return fmt.Errorf("unknown log.format %q", c.Log.Format)
	}
	return nil
}
