package monitor

import (
	"context"
	"sync"
	"time"

	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/mem"
	"go.uber.org/zap"

	"github.com/t77yq/alert-engine/internal/model"
)

// StatsSource reports worker pool statistics
type StatsSource interface {
	Stats() model.PoolStats
}

// MetricsCollector periodically samples host usage and pool statistics
// into gauges
type MetricsCollector struct {
	logger   *zap.Logger
	metrics  *Metrics
	pool     StatsSource
	interval time.Duration
	stop     chan struct{}
	wg       sync.WaitGroup
}

// NewMetricsCollector creates a new metrics collector
func NewMetricsCollector(metrics *Metrics, pool StatsSource, interval time.Duration, logger *zap.Logger) *MetricsCollector {
	return &MetricsCollector{
		logger:   logger.Named("metrics-collector"),
		metrics:  metrics,
		pool:     pool,
		interval: interval,
		stop:     make(chan struct{}),
	}
}

// Start starts the collection loop
func (c *MetricsCollector) Start(ctx context.Context) {
	c.logger.Info("Starting metrics collector", zap.Duration("interval", c.interval))
	c.wg.Add(1)
	go c.collectLoop(ctx)
}

// Stop stops the collection loop and waits for it to exit
func (c *MetricsCollector) Stop() {
	c.logger.Info("Stopping metrics collector")
	close(c.stop)
	c.wg.Wait()
}

func (c *MetricsCollector) collectLoop(ctx context.Context) {
	defer c.wg.Done()

	ticker := time.NewTicker(c.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-c.stop:
			return
		case <-ticker.C:
			c.Collect(ctx)
		}
	}
}

// Collect takes one sample
func (c *MetricsCollector) Collect(ctx context.Context) {
	if percent, err := cpu.PercentWithContext(ctx, 0, false); err != nil {
		c.logger.Warn("Failed to get CPU usage", zap.Error(err))
	} else if len(percent) > 0 {
		c.metrics.HostCPUPercent.Set(percent[0])
	}

	if vmem, err := mem.VirtualMemoryWithContext(ctx); err != nil {
		c.logger.Warn("Failed to get memory usage", zap.Error(err))
	} else {
		c.metrics.HostMemoryPercent.Set(vmem.UsedPercent)
	}

	if c.pool != nil {
		stats := c.pool.Stats()
		c.metrics.WorkersBusy.Set(float64(stats.Busy))
		c.logger.Debug("Pool stats",
			zap.Int("workers", stats.Workers),
			zap.Int("busy", stats.Busy),
			zap.Int64("processed", stats.Processed),
			zap.Int64("failed", stats.Failed))
	}
}
