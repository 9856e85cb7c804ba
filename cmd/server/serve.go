package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/t77yq/alert-engine/internal/api"
	"github.com/t77yq/alert-engine/internal/executor"
	"github.com/t77yq/alert-engine/internal/monitor"
	"github.com/t77yq/alert-engine/internal/scheduler"
)

const shutdownTimeout = 30 * time.Second

func newServeCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API, the scheduler tick and the worker pool",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := loadConfig()
			if err != nil {
				return err
			}
			a, err := newApp(cfg, logger, true)
			if err != nil {
				return err
			}
			defer a.close()
			return serve(cmd.Context(), a)
		},
	}
}

func serve(parent context.Context, a *app) error {
	cfg, logger := a.cfg, a.logger

	ctx, stop := signal.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	queue, err := scheduler.NewQueue(a.js, scheduler.QueueConfig{
		AckWait:    cfg.Scheduler.AckWait,
		MaxDeliver: cfg.Scheduler.MaxDeliver,
	}, logger)
	if err != nil {
		return fmt.Errorf("failed to create work queue: %w", err)
	}
	sub, err := queue.Subscribe()
	if err != nil {
		return err
	}

	pool := executor.NewPool(a.engine, a.metrics, executor.PoolConfig{
		Workers: cfg.Scheduler.Workers,
		AckWait: queue.AckWait(),
	}, logger)
	pool.Start(ctx, sub)

	ticker, err := scheduler.New(a.store, queue, a.store, a.metrics, scheduler.Config{
		Spec:          cfg.Scheduler.Spec,
		RetentionSpec: cfg.Scheduler.RetentionSpec,
		RetentionDays: cfg.Retention.Days,
	}, logger)
	if err != nil {
		pool.Stop()
		return err
	}
	ticker.Start()

	collector := monitor.NewMetricsCollector(a.metrics, pool, cfg.Metrics.CollectInterval, logger)
	collector.Start(ctx)

	gin.SetMode(cfg.Server.Mode)
	handlers := api.NewHandlers(a.rules, a.alerts, a.engine, a.webhooks, a.store, logger)
	server := &http.Server{
		Addr:              cfg.Server.Addr,
		Handler:           api.NewRouter(handlers, a.registry),
		ReadHeaderTimeout: 10 * time.Second,
	}

	serverErr := make(chan error, 1)
	go func() {
		logger.Info("HTTP server listening", zap.String("addr", cfg.Server.Addr))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
		close(serverErr)
	}()

	select {
	case <-ctx.Done():
		logger.Info("Received shutdown signal")
	case err = <-serverErr:
		logger.Error("HTTP server failed", zap.Error(err))
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Warn("HTTP server shutdown incomplete", zap.Error(err))
	}
	ticker.Stop()
	pool.Stop()
	collector.Stop()
	if err := sub.Unsubscribe(); err != nil {
		logger.Warn("Failed to unsubscribe from work queue", zap.Error(err))
	}

	logger.Info("Server shut down gracefully")
	return err
}
