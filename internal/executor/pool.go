package executor

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/nats-io/nats.go"
	"go.uber.org/zap"

	"github.com/t77yq/alert-engine/internal/model"
	"github.com/t77yq/alert-engine/internal/monitor"
	"github.com/t77yq/alert-engine/internal/scheduler"
)

// TenantEvaluator runs one tenant's rules
type TenantEvaluator interface {
	EvaluateTenant(ctx context.Context, tenantID string) (*model.TenantReport, error)
}

// Fetcher pulls messages from a durable consumer. *nats.Subscription
// satisfies it.
type Fetcher interface {
	Fetch(batch int, opts ...nats.PullOpt) ([]*nats.Msg, error)
}

// PoolConfig defines the worker pool
type PoolConfig struct {
	Workers   int
	FetchWait time.Duration
	// AckWait must match the consumer's ack wait; running jobs are
	// heartbeated every AckWait/2 so they are not redelivered
	AckWait time.Duration
}

// Pool processes tenant jobs with a fixed number of workers. Each worker
// runs one job to completion before taking the next.
type Pool struct {
	logger    *zap.Logger
	evaluator TenantEvaluator
	metrics   *monitor.Metrics
	config    PoolConfig

	jobs   chan *nats.Msg
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu    sync.Mutex
	stats model.PoolStats
}

// NewPool creates a pool. metrics may be nil.
func NewPool(evaluator TenantEvaluator, metrics *monitor.Metrics, config PoolConfig, logger *zap.Logger) *Pool {
	if config.Workers <= 0 {
		config.Workers = 5
	}
	if config.FetchWait <= 0 {
		config.FetchWait = time.Second
	}
	if config.AckWait <= 0 {
		config.AckWait = 5 * time.Minute
	}
	return &Pool{
		logger:    logger.Named("pool"),
		evaluator: evaluator,
		metrics:   metrics,
		config:    config,
		stats:     model.PoolStats{Workers: config.Workers},
	}
}

// Start launches the workers and the fetch loop. Jobs already running
// when ctx is cancelled or Stop is called still run to completion.
func (p *Pool) Start(ctx context.Context, sub Fetcher) {
	ctx, p.cancel = context.WithCancel(ctx)
	p.jobs = make(chan *nats.Msg)

	p.logger.Info("Starting worker pool", zap.Int("workers", p.config.Workers))
	for i := 0; i < p.config.Workers; i++ {
		p.wg.Add(1)
		go p.worker(context.WithoutCancel(ctx), i)
	}
	p.wg.Add(1)
	go p.fetchLoop(ctx, sub)
}

// Stop stops fetching and waits for the workers to drain
func (p *Pool) Stop() {
	if p.cancel == nil {
		return
	}
	p.logger.Info("Stopping worker pool")
	p.cancel()
	p.wg.Wait()
}

func (p *Pool) fetchLoop(ctx context.Context, sub Fetcher) {
	defer p.wg.Done()
	defer close(p.jobs)

	for {
		if ctx.Err() != nil {
			return
		}
		msgs, err := sub.Fetch(1, nats.MaxWait(p.config.FetchWait))
		if err != nil {
			if errors.Is(err, nats.ErrTimeout) || errors.Is(err, context.DeadlineExceeded) {
				continue
			}
			p.logger.Error("Failed to fetch jobs", zap.Error(err))
			select {
			case <-ctx.Done():
				return
			case <-time.After(p.config.FetchWait):
			}
			continue
		}

		for _, msg := range msgs {
			select {
			case p.jobs <- msg:
			case <-ctx.Done():
				if err := msg.Nak(); err != nil {
					p.logger.Warn("Failed to release job", zap.Error(err))
				}
				return
			}
		}
	}
}

func (p *Pool) worker(ctx context.Context, id int) {
	defer p.wg.Done()
	logger := p.logger.With(zap.Int("worker", id))

	for msg := range p.jobs {
		p.process(ctx, logger, msg)
	}
}

func (p *Pool) process(ctx context.Context, logger *zap.Logger, msg *nats.Msg) {
	job, err := scheduler.DecodeJob(msg.Data)
	if err != nil {
		logger.Error("Dropping malformed job", zap.Error(err))
		p.finish("", "malformed")
		if err := msg.Term(); err != nil {
			logger.Warn("Failed to terminate job", zap.Error(err))
		}
		return
	}

	p.begin()
	stop := p.heartbeat(logger, msg)
	result := p.run(ctx, job.TenantID)
	stop()
	p.finish(job.TenantID, result)

	switch result {
	case "succeeded":
		err = msg.Ack()
	case "failed":
		// the store was unreachable; let another delivery try
		err = msg.Nak()
	default:
		err = msg.Term()
	}
	if err != nil {
		logger.Warn("Failed to settle job", zap.String("tenant_id", job.TenantID), zap.Error(err))
	}
}

// heartbeat keeps extending the ack deadline of msg until the returned
// func is called
func (p *Pool) heartbeat(logger *zap.Logger, msg *nats.Msg) func() {
	extend := func() {
		if err := msg.InProgress(); err != nil {
			logger.Warn("Failed to extend ack deadline", zap.Error(err))
		}
	}
	extend()

	done := make(chan struct{})
	stopped := make(chan struct{})
	go func() {
		defer close(stopped)
		ticker := time.NewTicker(p.config.AckWait / 2)
		defer ticker.Stop()
		for {
			select {
			case <-done:
				return
			case <-ticker.C:
				extend()
			}
		}
	}()

	return func() {
		close(done)
		<-stopped
	}
}

func (p *Pool) run(ctx context.Context, tenantID string) (result string) {
	defer func() {
		if r := recover(); r != nil {
			p.logger.Error("Tenant evaluation panicked",
				zap.String("tenant_id", tenantID),
				zap.Any("panic", r))
			if p.metrics != nil {
				p.metrics.PanicsRecovered.WithLabelValues("worker").Inc()
			}
			result = "panicked"
		}
	}()

	if _, err := p.evaluator.EvaluateTenant(ctx, tenantID); err != nil {
		p.logger.Error("Tenant evaluation failed", zap.String("tenant_id", tenantID), zap.Error(err))
		return "failed"
	}
	return "succeeded"
}

func (p *Pool) begin() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.stats.Busy++
}

func (p *Pool) finish(tenantID, result string) {
	p.mu.Lock()
	if tenantID != "" {
		p.stats.Busy--
		p.stats.LastJobAt = time.Now().UTC()
		p.stats.LastTenantID = tenantID
	}
	if result == "succeeded" {
		p.stats.Processed++
	} else {
		p.stats.Failed++
	}
	p.mu.Unlock()

	if p.metrics != nil {
		p.metrics.JobsProcessed.WithLabelValues(result).Inc()
	}
}

// Stats returns a snapshot of the pool statistics
func (p *Pool) Stats() model.PoolStats {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.stats
}
