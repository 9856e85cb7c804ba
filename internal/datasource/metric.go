package datasource

import (
	"context"
	"fmt"
	"sync"

	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/disk"
	"github.com/shirou/gopsutil/v3/load"
	"github.com/shirou/gopsutil/v3/mem"
	"go.uber.org/zap"

	"github.com/t77yq/alert-engine/internal/evaluator"
	"github.com/t77yq/alert-engine/internal/model"
)

// MetricFunc reads one host metric. endpoint carries the optional argument
// from the descriptor, such as a mount point for disk usage.
type MetricFunc func(ctx context.Context, endpoint string) (float64, error)

// MetricSource serves host metrics by field name
type MetricSource struct {
	logger  *zap.Logger
	mu      sync.RWMutex
	metrics map[string]MetricFunc
}

// NewMetricSource creates a metric source with the gopsutil collectors
func NewMetricSource(logger *zap.Logger) *MetricSource {
	s := &MetricSource{
		logger:  logger.Named("metric-source"),
		metrics: make(map[string]MetricFunc),
	}
	s.metrics["cpu_usage"] = cpuUsage
	s.metrics["memory_usage"] = memoryUsage
	s.metrics["disk_usage"] = diskUsage
	s.metrics["load1"] = loadAvg(func(a *load.AvgStat) float64 { return a.Load1 })
	s.metrics["load5"] = loadAvg(func(a *load.AvgStat) float64 { return a.Load5 })
	s.metrics["load15"] = loadAvg(func(a *load.AvgStat) float64 { return a.Load15 })
	return s
}

// Register adds or replaces a metric
func (s *MetricSource) Register(field string, fn MetricFunc) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.metrics[field] = fn
}

// Fetch implements Source
func (s *MetricSource) Fetch(ctx context.Context, cond *model.Condition, tenantID string, evalCtx *evaluator.Context) (any, error) {
	s.mu.RLock()
	fn, ok := s.metrics[cond.DataSource.Field]
	s.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("unknown metric %q", cond.DataSource.Field)
	}

	value, err := fn(ctx, cond.DataSource.Endpoint)
	if err != nil {
		return nil, fmt.Errorf("failed to collect %s: %w", cond.DataSource.Field, err)
	}
	return value, nil
}

func cpuUsage(ctx context.Context, _ string) (float64, error) {
	percent, err := cpu.PercentWithContext(ctx, 0, false)
	if err != nil {
		return 0, err
	}
	if len(percent) == 0 {
		return 0, fmt.Errorf("no cpu samples")
	}
	return percent[0], nil
}

func memoryUsage(ctx context.Context, _ string) (float64, error) {
	vmem, err := mem.VirtualMemoryWithContext(ctx)
	if err != nil {
		return 0, err
	}
	return vmem.UsedPercent, nil
}

func diskUsage(ctx context.Context, path string) (float64, error) {
	if path == "" {
		path = "/"
	}
	usage, err := disk.UsageWithContext(ctx, path)
	if err != nil {
		return 0, err
	}
	return usage.UsedPercent, nil
}

func loadAvg(pick func(*load.AvgStat) float64) MetricFunc {
	return func(ctx context.Context, _ string) (float64, error) {
		avg, err := load.AvgWithContext(ctx)
		if err != nil {
			return 0, err
		}
		return pick(avg), nil
	}
}
