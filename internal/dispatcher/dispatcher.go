// Package dispatcher runs the actions of a triggered rule. Actions run
// concurrently and independently: each one is retried under its own policy
// and its result is recorded on the alert instance as it progresses.
package dispatcher

import (
	"context"
	"fmt"
	"math"
	"slices"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/t77yq/alert-engine/internal/handler"
	"github.com/t77yq/alert-engine/internal/model"
	"github.com/t77yq/alert-engine/internal/monitor"
)

const defaultActionTimeout = 30 * time.Second

// ResultRecorder persists action results on an alert instance
type ResultRecorder interface {
	AppendActionResult(ctx context.Context, instanceID string, result model.ActionResult) (int, error)
	UpdateActionResult(ctx context.Context, instanceID string, index int, result model.ActionResult) error
}

// Config controls timeouts and the retry policy used by actions that do not
// carry their own
type Config struct {
	ActionTimeout time.Duration
	DefaultRetry  model.RetryPolicy
}

// Dispatcher executes actions for alert instances
type Dispatcher struct {
	logger   *zap.Logger
	executor handler.Executor
	recorder ResultRecorder
	events   *monitor.Events
	metrics  *monitor.Metrics
	config   Config

	sleep func(ctx context.Context, d time.Duration) error
	now   func() time.Time
}

// Option configures a Dispatcher
type Option func(*Dispatcher)

// WithRecorder persists results as they change. Without one results are
// only returned.
func WithRecorder(recorder ResultRecorder) Option {
	return func(d *Dispatcher) { d.recorder = recorder }
}

// WithEvents publishes alert.action_failed events
func WithEvents(events *monitor.Events) Option {
	return func(d *Dispatcher) { d.events = events }
}

// WithMetrics counts executions and retries
func WithMetrics(metrics *monitor.Metrics) Option {
	return func(d *Dispatcher) { d.metrics = metrics }
}

// WithSleep replaces the backoff wait
func WithSleep(sleep func(ctx context.Context, d time.Duration) error) Option {
	return func(d *Dispatcher) { d.sleep = sleep }
}

// New creates a dispatcher
func New(executor handler.Executor, config Config, logger *zap.Logger, opts ...Option) *Dispatcher {
	if config.ActionTimeout <= 0 {
		config.ActionTimeout = defaultActionTimeout
	}
	d := &Dispatcher{
		logger:   logger.Named("dispatcher"),
		executor: executor,
		config:   config,
		sleep:    sleepContext,
		now:      func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Detached returns a copy of d that does not persist results, for actions
// run against instances that were never stored
func (d *Dispatcher) Detached() *Dispatcher {
	c := *d
	c.recorder = nil
	return &c
}

// Dispatch runs every action of rule for instance and returns the final
// results in action order. It blocks until all actions are finished.
func (d *Dispatcher) Dispatch(ctx context.Context, rule *model.Rule, instance *model.AlertInstance) []model.ActionResult {
	results := make([]model.ActionResult, len(rule.Actions))
	indexes := make([]int, len(rule.Actions))

	for i := range rule.Actions {
		action := &rule.Actions[i]
		results[i] = model.ActionResult{
			ActionID:   action.ID,
			ActionType: action.Type,
			Status:     model.ActionStatusPending,
		}
		indexes[i] = i
		if d.recorder != nil {
			index, err := d.recorder.AppendActionResult(ctx, instance.ID, results[i])
			if err != nil {
				d.logger.Error("Failed to record action result",
					zap.String("instance_id", instance.ID),
					zap.String("action_id", action.ID),
					zap.Error(err))
			} else {
				indexes[i] = index
			}
		}
	}

	var wg sync.WaitGroup
	for i := range rule.Actions {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i] = d.run(ctx, &rule.Actions[i], instance, indexes[i], results[i])
		}(i)
	}
	wg.Wait()

	instance.ActionResults = results
	return results
}

func (d *Dispatcher) run(ctx context.Context, action *model.Action, instance *model.AlertInstance, index int, result model.ActionResult) model.ActionResult {
	logger := d.logger.With(
		zap.String("instance_id", instance.ID),
		zap.String("action_id", action.ID),
		zap.String("type", string(action.Type)))

	policy := d.policyFor(action)
	started := d.now()
	result.Status = model.ActionStatusRunning
	result.StartedAt = &started
	d.record(ctx, instance.ID, index, result)

	for {
		exec, err := d.attempt(ctx, action, instance)
		if err == nil && exec.Success {
			result.Status = model.ActionStatusCompleted
			result.Response = exec.Response
			result.Error = ""
			break
		}
		if err == nil {
			err = fmt.Errorf("%s", exec.Error)
			result.Response = exec.Response
		}
		result.Error = err.Error()

		if result.RetryCount >= policy.MaxRetries || ctx.Err() != nil {
			result.Status = model.ActionStatusFailed
			break
		}

		result.RetryCount++
		result.Status = model.ActionStatusRetrying
		d.record(ctx, instance.ID, index, result)
		if d.metrics != nil {
			d.metrics.ActionRetries.WithLabelValues(string(action.Type)).Inc()
		}

		delay := Backoff(policy, result.RetryCount)
		logger.Warn("Action failed, retrying",
			zap.Int("retry", result.RetryCount),
			zap.Duration("delay", delay),
			zap.Error(err))
		if err := d.sleep(ctx, delay); err != nil {
			result.Status = model.ActionStatusFailed
			break
		}
	}

	completed := d.now()
	result.CompletedAt = &completed
	d.record(ctx, instance.ID, index, result)

	if d.metrics != nil {
		d.metrics.ActionExecutions.WithLabelValues(string(action.Type), string(result.Status)).Inc()
	}

	if result.Status == model.ActionStatusFailed {
		logger.Error("Action failed",
			zap.Int("retries", result.RetryCount),
			zap.String("error", result.Error))
		if d.events != nil {
			event := monitor.NewEvent(monitor.EventActionFailed, instance)
			failedResult := result
			event.Action = &failedResult
			d.events.Emit(ctx, event)
		}
	} else {
		logger.Info("Action completed", zap.Int("retries", result.RetryCount))
	}
	return result
}

type outcome struct {
	exec *model.ExecutionResult
	err  error
}

// attempt runs one execution under the action timeout. An executor that
// panics or overruns the timeout counts as a failed attempt.
func (d *Dispatcher) attempt(ctx context.Context, action *model.Action, instance *model.AlertInstance) (*model.ExecutionResult, error) {
	timeout := action.Timeout
	if timeout <= 0 {
		timeout = d.config.ActionTimeout
	}
	attemptCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	// an overrunning executor may outlive Dispatch and must not share the
	// instance with it
	view := *instance
	view.ActionResults = slices.Clone(instance.ActionResults)

	done := make(chan outcome, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				if d.metrics != nil {
					d.metrics.PanicsRecovered.WithLabelValues("dispatcher").Inc()
				}
				done <- outcome{err: fmt.Errorf("action panicked: %v", r)}
			}
		}()
		exec, err := d.executor.Execute(attemptCtx, action, &view)
		done <- outcome{exec: exec, err: err}
	}()

	select {
	case <-attemptCtx.Done():
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, fmt.Errorf("action timed out after %s", timeout)
	case o := <-done:
		if o.err == nil && o.exec == nil {
			return nil, fmt.Errorf("executor returned no result")
		}
		return o.exec, o.err
	}
}

func (d *Dispatcher) record(ctx context.Context, instanceID string, index int, result model.ActionResult) {
	if d.recorder == nil {
		return
	}
	// keep recording after cancellation so the final state is not lost
	if err := d.recorder.UpdateActionResult(context.WithoutCancel(ctx), instanceID, index, result); err != nil {
		d.logger.Error("Failed to update action result",
			zap.String("instance_id", instanceID),
			zap.Int("index", index),
			zap.Error(err))
	}
}

func (d *Dispatcher) policyFor(action *model.Action) model.RetryPolicy {
	if action.RetryPolicy != nil {
		return *action.RetryPolicy
	}
	return d.config.DefaultRetry
}

// Backoff returns the delay before retry n (1-based):
// Delay * Multiplier^(n-1), capped at MaxDelay when set. A zero multiplier
// means a fixed delay.
func Backoff(policy model.RetryPolicy, n int) time.Duration {
	if n < 1 {
		n = 1
	}
	multiplier := policy.Multiplier
	if multiplier <= 0 {
		multiplier = 1
	}
	delay := float64(policy.Delay) * math.Pow(multiplier, float64(n-1))
	if policy.MaxDelay > 0 && delay > float64(policy.MaxDelay) {
		return policy.MaxDelay
	}
	if delay > math.MaxInt64 {
		return time.Duration(math.MaxInt64)
	}
	return time.Duration(delay)
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
