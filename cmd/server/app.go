package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.uber.org/zap"

	"github.com/t77yq/alert-engine/internal/alert"
	"github.com/t77yq/alert-engine/internal/config"
	"github.com/t77yq/alert-engine/internal/datasource"
	"github.com/t77yq/alert-engine/internal/dispatcher"
	"github.com/t77yq/alert-engine/internal/engine"
	"github.com/t77yq/alert-engine/internal/evaluator"
	"github.com/t77yq/alert-engine/internal/gatekeeper"
	"github.com/t77yq/alert-engine/internal/handler"
	"github.com/t77yq/alert-engine/internal/model"
	"github.com/t77yq/alert-engine/internal/monitor"
	"github.com/t77yq/alert-engine/internal/rules"
	"github.com/t77yq/alert-engine/internal/storage"
)

// app holds every long-lived component of the process
type app struct {
	cfg    *config.Config
	logger *zap.Logger

	nc       *nats.Conn
	js       nats.JetStreamContext
	store    *storage.SQLiteStore
	registry *prometheus.Registry
	metrics  *monitor.Metrics
	events   *monitor.Events
	webhooks *datasource.WebhookSource
	rules    *rules.Service
	alerts   *alert.Service
	engine   *engine.Engine

	closers []func()
}

// newApp builds the evaluation stack. NATS is connected only when
// needNATS is set or events go to NATS.
func newApp(cfg *config.Config, logger *zap.Logger, needNATS bool) (*app, error) {
	a := &app{cfg: cfg, logger: logger}
	if err := a.build(needNATS); err != nil {
		a.close()
		return nil, err
	}
	return a, nil
}

func (a *app) build(needNATS bool) error {
	cfg, logger := a.cfg, a.logger

	if needNATS || cfg.Events.Backend == config.EventsNATS {
		if err := a.connectNATS(); err != nil {
			return err
		}
	}

	store, err := storage.NewSQLiteStore(logger, cfg.Database.Path)
	if err != nil {
		return fmt.Errorf("failed to open store: %w", err)
	}
	a.store = store
	a.closers = append(a.closers, func() { store.Close() })

	a.registry = prometheus.NewRegistry()
	a.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	a.metrics = monitor.NewMetrics(a.registry)

	publisher, err := a.newPublisher()
	if err != nil {
		return err
	}
	a.events = monitor.NewEvents(publisher, a.metrics, logger)
	a.closers = append(a.closers, func() {
		if err := a.events.Close(); err != nil {
			logger.Warn("Failed to close event publisher", zap.Error(err))
		}
	})

	sources, err := a.newSources()
	if err != nil {
		return err
	}
	custom := evaluator.NewCustomRegistry()
	conditions := evaluator.NewConditionEvaluator(sources, datasource.NewBaselineStore(cfg.DataSource.BaselineTTL), custom, logger)

	actions := dispatcher.New(a.newExecutors(), dispatcher.Config{
		ActionTimeout: cfg.Dispatcher.ActionTimeout,
		DefaultRetry: model.RetryPolicy{
			MaxRetries: cfg.Dispatcher.Retry.MaxRetries,
			Delay:      cfg.Dispatcher.Retry.Delay,
			Multiplier: cfg.Dispatcher.Retry.Multiplier,
			MaxDelay:   cfg.Dispatcher.Retry.MaxDelay,
		},
	}, logger,
		dispatcher.WithRecorder(store),
		dispatcher.WithEvents(a.events),
		dispatcher.WithMetrics(a.metrics),
	)

	a.alerts = alert.NewService(store, a.events, a.metrics, logger)
	a.rules = rules.NewService(store, custom, cfg.Engine.CascadeDelete, logger)
	a.engine = engine.New(store, gatekeeper.New(logger), evaluator.NewRuleEvaluator(conditions),
		a.alerts, actions, a.metrics,
		engine.Config{StrictCooldown: cfg.Engine.StrictCooldown}, logger)
	return nil
}

func (a *app) connectNATS() error {
	if a.nc != nil {
		return nil
	}
	cfg, logger := a.cfg.NATS, a.logger

	opts := []nats.Option{
		nats.Name(a.cfg.App.Name),
		nats.MaxReconnects(cfg.MaxReconnects),
		nats.ReconnectWait(cfg.ReconnectWait),
		nats.Timeout(cfg.ConnectTimeout),
		nats.PingInterval(20 * time.Second),
		nats.MaxPingsOutstanding(5),
		nats.ReconnectBufSize(5 * 1024 * 1024),
		nats.DrainTimeout(30 * time.Second),
		nats.ErrorHandler(func(nc *nats.Conn, sub *nats.Subscription, err error) {
			fields := []zap.Field{zap.Error(err)}
			if sub != nil {
				fields = append(fields, zap.String("subject", sub.Subject))
			}
			logger.Error("NATS connection error", fields...)
		}),
		nats.DisconnectErrHandler(func(nc *nats.Conn, err error) {
			logger.Warn("NATS disconnected", zap.Error(err))
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			logger.Info("NATS reconnected", zap.String("url", nc.ConnectedUrl()))
		}),
	}

	if len(cfg.URLs) == 0 {
		return errors.New("nats.urls is empty")
	}
	retries := cfg.ConnectRetries
	if retries <= 0 {
		retries = 1
	}

	var nc *nats.Conn
	var err error
	for i := 0; i < retries; i++ {
		nc, err = nats.Connect(cfg.URLs[0], opts...)
		if err == nil {
			break
		}
		logger.Warn("Failed to connect to NATS, retrying...",
			zap.Int("attempt", i+1),
			zap.Error(err))
		time.Sleep(time.Second * time.Duration(i+1))
	}
	if err != nil {
		return fmt.Errorf("failed to connect to NATS after %d attempts: %w", retries, err)
	}
	logger.Info("Connected to NATS successfully", zap.String("url", nc.ConnectedUrl()))

	js, err := nc.JetStream()
	if err != nil {
		nc.Close()
		return fmt.Errorf("failed to create JetStream context: %w", err)
	}
	a.nc, a.js = nc, js
	a.closers = append(a.closers, func() {
		if err := nc.Drain(); err != nil {
			logger.Warn("Failed to drain NATS connection", zap.Error(err))
		}
	})
	return nil
}

func (a *app) newPublisher() (monitor.Publisher, error) {
	switch a.cfg.Events.Backend {
	case config.EventsNATS:
		publisher, err := monitor.NewNATSPublisher(a.js)
		if err != nil {
			return nil, fmt.Errorf("failed to create NATS event publisher: %w", err)
		}
		return publisher, nil
	case config.EventsKafka:
		publisher, err := monitor.NewKafkaPublisher(a.cfg.Kafka.Brokers, a.cfg.Kafka.Topic)
		if err != nil {
			return nil, fmt.Errorf("failed to create Kafka event publisher: %w", err)
		}
		return publisher, nil
	default:
		return monitor.NopPublisher{}, nil
	}
}

func (a *app) newSources() (*datasource.Registry, error) {
	cfg, logger := a.cfg.DataSource, a.logger

	a.webhooks = datasource.NewWebhookSource(cfg.WebhookTTL, logger)

	sources := datasource.NewRegistry(logger)
	sources.Register(model.SourceMetric, datasource.NewMetricSource(logger))
	sources.Register(model.SourceAPI, datasource.NewAPISource(&http.Client{Timeout: cfg.APITimeout}, logger))
	sources.Register(model.SourceWebhook, a.webhooks)

	// database conditions never run against the engine's own store
	if cfg.SQLDSN != "" {
		db, err := datasource.OpenDatabaseSource(cfg.SQLDSN, logger)
		if err != nil {
			return nil, err
		}
		a.closers = append(a.closers, func() { db.Close() })
		sources.Register(model.SourceDatabase, db)
	} else {
		logger.Info("Database conditions disabled, datasource.sql_dsn is not set")
	}

	if cfg.Docker {
		logs, err := datasource.NewDockerLogSource(logger)
		if err != nil {
			return nil, err
		}
		sources.Register(model.SourceLog, logs)
	}
	return sources, nil
}

// newExecutors registers an executor for every configured action type.
// Actions of an unconfigured type fail with handler.ErrUnknownAction.
func (a *app) newExecutors() *handler.Registry {
	cfg, logger := a.cfg, a.logger

	executors := handler.NewRegistry(logger)
	executors.Register(model.ActionWebhook, handler.NewWebhookExecutor(&http.Client{Timeout: cfg.Dispatcher.ActionTimeout}, logger))
	executors.Register(model.ActionChat, handler.NewChatExecutor(logger))

	if cfg.Email.Host != "" {
		executors.Register(model.ActionEmail, handler.NewEmailExecutor(handler.EmailConfig{
			Host:     cfg.Email.Host,
			Port:     cfg.Email.Port,
			Username: cfg.Email.Username,
			Password: cfg.Email.Password,
			From:     cfg.Email.From,
		}, logger))
	}
	if cfg.Slack.Token != "" {
		executors.Register(model.ActionSlack, handler.NewSlackExecutor(handler.SlackConfig{Token: cfg.Slack.Token}, logger))
	}
	if cfg.MQTT.Broker != "" {
		mqtt := handler.NewMQTTExecutor(handler.MQTTConfig{
			Broker:   cfg.MQTT.Broker,
			ClientID: cfg.MQTT.ClientID,
			Username: cfg.MQTT.Username,
			Password: cfg.MQTT.Password,
			Timeout:  cfg.MQTT.Timeout,
		}, logger)
		executors.Register(model.ActionMQTT, mqtt)
		a.closers = append(a.closers, mqtt.Close)
	}
	return executors
}

// tenants resolves --tenant/--all into a tenant list
func (a *app) tenants(ctx context.Context, tenantID string, all bool) ([]string, error) {
	if all {
		return a.store.ListTenantsWithEnabledRules(ctx)
	}
	if tenantID == "" {
		return nil, errors.New("either --tenant or --all is required")
	}
	return []string{tenantID}, nil
}

// close releases resources in reverse order of acquisition
func (a *app) close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
	a.closers = nil
	_ = a.logger.Sync()
}
