package scheduler

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"github.com/t77yq/alert-engine/internal/model"
	"github.com/t77yq/alert-engine/internal/monitor"
)

// TenantLister enumerates tenants with at least one enabled rule
type TenantLister interface {
	ListTenantsWithEnabledRules(ctx context.Context) ([]string, error)
}

// Enqueuer accepts tenant jobs
type Enqueuer interface {
	Enqueue(ctx context.Context, job *model.TenantJob) error
}

// InstancePurger deletes finished alert instances
type InstancePurger interface {
	DeleteInstancesBefore(ctx context.Context, before time.Time) (int64, error)
}

// Config holds the cron expressions driving the scheduler
type Config struct {
	Spec          string
	RetentionSpec string
	RetentionDays int
}

// Scheduler ticks on a cron schedule and enqueues one job per tenant
type Scheduler struct {
	logger  *zap.Logger
	cron    *cron.Cron
	tenants TenantLister
	queue   Enqueuer
	purger  InstancePurger
	metrics *monitor.Metrics
	config  Config
	now     func() time.Time

	mu      sync.Mutex
	running bool
}

// cronLogger adapts zap.Logger to cron.Logger
type cronLogger struct {
	logger *zap.Logger
}

func (l *cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.logger.Debug(msg, zap.Any("details", keysAndValues))
}

func (l *cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.logger.Error(msg, zap.Error(err), zap.Any("details", keysAndValues))
}

// New creates a scheduler. purger may be nil, which disables retention;
// metrics may be nil.
func New(tenants TenantLister, queue Enqueuer, purger InstancePurger, metrics *monitor.Metrics, config Config, logger *zap.Logger) (*Scheduler, error) {
	if config.Spec == "" {
		config.Spec = "@every 1m"
	}
	if config.RetentionSpec == "" {
		config.RetentionSpec = "@daily"
	}

	logger = logger.Named("scheduler")
	cronLogger := &cronLogger{logger: logger.Named("cron")}
	cronOptions := []cron.Option{
		cron.WithSeconds(),
		cron.WithLogger(cronLogger),
		cron.WithChain(cron.Recover(cronLogger), cron.SkipIfStillRunning(cronLogger)),
	}

	s := &Scheduler{
		logger:  logger,
		cron:    cron.New(cronOptions...),
		tenants: tenants,
		queue:   queue,
		purger:  purger,
		metrics: metrics,
		config:  config,
		now:     func() time.Time { return time.Now().UTC() },
	}

	if _, err := s.cron.AddFunc(config.Spec, s.runTick); err != nil {
		return nil, fmt.Errorf("%w %q: %v", ErrInvalidSchedule, config.Spec, err)
	}
	if purger != nil && config.RetentionDays > 0 {
		if _, err := s.cron.AddFunc(config.RetentionSpec, s.runRetention); err != nil {
			return nil, fmt.Errorf("%w %q: %v", ErrInvalidSchedule, config.RetentionSpec, err)
		}
	}
	return s, nil
}

// Start starts the cron loop. Calling Start twice is a no-op.
func (s *Scheduler) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return
	}
	s.running = true
	s.cron.Start()
	s.logger.Info("Scheduler started",
		zap.String("spec", s.config.Spec),
		zap.String("retention_spec", s.config.RetentionSpec),
		zap.Int("retention_days", s.config.RetentionDays))
}

// Stop stops the cron loop and waits for a running tick to finish
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	s.running = false
	s.mu.Unlock()

	ctx := s.cron.Stop()
	<-ctx.Done()
	s.logger.Info("Scheduler stopped")
}

func (s *Scheduler) runTick() {
	ctx, cancel := context.WithTimeout(context.Background(), operationTimeout)
	defer cancel()
	if _, err := s.Tick(ctx); err != nil {
		s.logger.Error("Tick failed", zap.Error(err))
	}
}

// Tick enqueues one job for every tenant owning an enabled rule and
// returns how many were enqueued. A tenant that fails to enqueue is logged
// and does not stop the others.
func (s *Scheduler) Tick(ctx context.Context) (int, error) {
	at := s.now()
	tenants, err := s.tenants.ListTenantsWithEnabledRules(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to list tenants: %w", err)
	}

	tickID := at.Format(tickIDLayout)
	enqueued := 0
	for _, tenantID := range tenants {
		job := &model.TenantJob{TenantID: tenantID, TickID: tickID, EnqueuedAt: at}
		if err := s.queue.Enqueue(ctx, job); err != nil {
			s.logger.Error("Failed to enqueue tenant",
				zap.String("tenant_id", tenantID),
				zap.String("tick_id", tickID),
				zap.Error(err))
			continue
		}
		enqueued++
	}

	if s.metrics != nil {
		s.metrics.JobsEnqueued.Add(float64(enqueued))
	}
	s.logger.Info("Tick completed",
		zap.String("tick_id", tickID),
		zap.Int("tenants", len(tenants)),
		zap.Int("enqueued", enqueued))
	return enqueued, nil
}

func (s *Scheduler) runRetention() {
	ctx, cancel := context.WithTimeout(context.Background(), operationTimeout)
	defer cancel()
	if _, err := s.Purge(ctx); err != nil {
		s.logger.Error("Retention failed", zap.Error(err))
	}
}

// Purge deletes resolved and suppressed instances older than the
// retention period
func (s *Scheduler) Purge(ctx context.Context) (int64, error) {
	if s.purger == nil || s.config.RetentionDays <= 0 {
		return 0, nil
	}
	before := s.now().AddDate(0, 0, -s.config.RetentionDays)
	deleted, err := s.purger.DeleteInstancesBefore(ctx, before)
	if err != nil {
		return 0, err
	}
	if s.metrics != nil {
		s.metrics.InstancesPurged.Add(float64(deleted))
	}
	return deleted, nil
}
