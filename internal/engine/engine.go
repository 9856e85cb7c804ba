// Package engine runs one evaluation pass over a tenant's enabled rules:
// gatekeeper, rule evaluation, alert creation and action dispatch.
package engine

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/t77yq/alert-engine/internal/alert"
	"github.com/t77yq/alert-engine/internal/dispatcher"
	"github.com/t77yq/alert-engine/internal/evaluator"
	"github.com/t77yq/alert-engine/internal/gatekeeper"
	"github.com/t77yq/alert-engine/internal/model"
	"github.com/t77yq/alert-engine/internal/monitor"
	"github.com/t77yq/alert-engine/internal/storage"
)

// SkipClaimLost marks a trigger dropped because a concurrent evaluation
// claimed the rule first
const SkipClaimLost = "claim_lost"

// Config controls trigger bookkeeping
type Config struct {
	// StrictCooldown claims each trigger with a compare-and-swap on the
	// rule's trigger count before the instance is created
	StrictCooldown bool
}

// Engine evaluates tenants
type Engine struct {
	logger     *zap.Logger
	rules      storage.RuleStore
	gate       *gatekeeper.Gatekeeper
	evaluator  *evaluator.RuleEvaluator
	alerts     *alert.Service
	dispatcher *dispatcher.Dispatcher
	metrics    *monitor.Metrics
	config     Config
	now        func() time.Time
}

// New creates an engine. metrics may be nil.
func New(
	rules storage.RuleStore,
	gate *gatekeeper.Gatekeeper,
	ruleEvaluator *evaluator.RuleEvaluator,
	alerts *alert.Service,
	actions *dispatcher.Dispatcher,
	metrics *monitor.Metrics,
	config Config,
	logger *zap.Logger,
) *Engine {
	return &Engine{
		logger:     logger.Named("engine"),
		rules:      rules,
		gate:       gate,
		evaluator:  ruleEvaluator,
		alerts:     alerts,
		dispatcher: actions,
		metrics:    metrics,
		config:     config,
		now:        func() time.Time { return time.Now().UTC() },
	}
}

// EvaluateTenant runs every enabled rule of tenantID. A failing rule is
// recorded in the report and never stops the others; only failing to list
// the rules is returned as an error.
func (e *Engine) EvaluateTenant(ctx context.Context, tenantID string) (*model.TenantReport, error) {
	started := e.now()
	rules, err := e.rules.ListEnabledRules(ctx, tenantID)
	if err != nil {
		return nil, fmt.Errorf("failed to list rules for tenant %s: %w", tenantID, err)
	}

	report := &model.TenantReport{
		TenantID:  tenantID,
		StartedAt: started,
		Rules:     make([]model.RuleOutcome, 0, len(rules)),
	}
	for _, rule := range rules {
		report.Rules = append(report.Rules, e.evaluateSafely(ctx, rule))
	}
	report.CompletedAt = e.now()

	if e.metrics != nil {
		e.metrics.TenantDuration.Observe(report.CompletedAt.Sub(started).Seconds())
	}
	e.logger.Info("Tenant evaluated",
		zap.String("tenant_id", tenantID),
		zap.Int("rules", len(rules)),
		zap.Int("triggered", report.Triggered()),
		zap.Duration("duration", report.CompletedAt.Sub(started)))
	return report, nil
}

func (e *Engine) evaluateSafely(ctx context.Context, rule *model.Rule) (outcome model.RuleOutcome) {
	defer func() {
		if r := recover(); r != nil {
			e.logger.Error("Rule evaluation panicked",
				zap.String("tenant_id", rule.TenantID),
				zap.String("rule_id", rule.ID),
				zap.Any("panic", r))
			if e.metrics != nil {
				e.metrics.PanicsRecovered.WithLabelValues("rule").Inc()
				e.metrics.RuleEvaluations.WithLabelValues("error").Inc()
			}
			outcome = model.RuleOutcome{
				RuleID:   rule.ID,
				RuleName: rule.Name,
				Error:    fmt.Sprintf("panic: %v", r),
			}
		}
	}()
	return e.EvaluateRule(ctx, rule)
}

// EvaluateRule runs one rule through the gatekeeper and, when it triggers,
// creates the alert instance and dispatches its actions
func (e *Engine) EvaluateRule(ctx context.Context, rule *model.Rule) model.RuleOutcome {
	outcome := model.RuleOutcome{RuleID: rule.ID, RuleName: rule.Name}
	now := e.now()
	logger := e.logger.With(zap.String("tenant_id", rule.TenantID), zap.String("rule_id", rule.ID))

	if decision := e.gate.Check(rule, now); !decision.Allowed {
		outcome.Skipped = string(decision.Reason)
		if e.metrics != nil {
			e.metrics.RulesSkipped.WithLabelValues(string(decision.Reason)).Inc()
		}
		logger.Debug("Rule skipped", zap.String("reason", outcome.Skipped))
		return outcome
	}

	result := e.evaluator.Evaluate(ctx, rule, &evaluator.Context{
		TenantID: rule.TenantID,
		RuleID:   rule.ID,
		Now:      now,
	})
	if !result.Triggered {
		e.count("quiet")
		return outcome
	}

	if e.config.StrictCooldown {
		expected := rule.TriggerCount
		claimed, err := e.rules.MarkTriggered(ctx, rule.ID, now, &expected)
		if err != nil {
			outcome.Error = err.Error()
			e.count("error")
			logger.Error("Failed to claim trigger", zap.Error(err))
			return outcome
		}
		if !claimed {
			outcome.Skipped = SkipClaimLost
			if e.metrics != nil {
				e.metrics.RulesSkipped.WithLabelValues(SkipClaimLost).Inc()
			}
			logger.Info("Trigger claimed by a concurrent evaluation")
			return outcome
		}
	}

	instance, err := e.alerts.Create(ctx, rule, result.TriggerData, now)
	if err != nil {
		outcome.Error = err.Error()
		e.count("error")
		logger.Error("Failed to create alert instance", zap.Error(err))
		if e.config.StrictCooldown {
			e.releaseClaim(ctx, rule, logger)
		}
		return outcome
	}
	outcome.Triggered = true
	outcome.InstanceID = instance.ID

	if !e.config.StrictCooldown {
		if _, err := e.rules.MarkTriggered(ctx, rule.ID, now, nil); err != nil {
			logger.Error("Failed to mark rule triggered", zap.Error(err))
		}
	}

	e.dispatcher.Dispatch(ctx, rule, instance)
	e.count("triggered")
	return outcome
}

// releaseClaim rolls back a strict claim whose instance was never created,
// so the failed trigger starts no cooldown and uses no occurrence
func (e *Engine) releaseClaim(ctx context.Context, rule *model.Rule, logger *zap.Logger) {
	released, err := e.rules.ReleaseTrigger(ctx, rule.ID, rule.LastTriggeredAt, rule.TriggerCount+1)
	switch {
	case err != nil:
		logger.Error("Failed to release trigger claim", zap.Error(err))
	case !released:
		logger.Warn("Trigger claim changed before it could be released")
	}
}

func (e *Engine) count(outcome string) {
	if e.metrics != nil {
		e.metrics.RuleEvaluations.WithLabelValues(outcome).Inc()
	}
}

// TestOptions controls the side effects of a manual rule test
type TestOptions struct {
	Dispatch bool `json:"dispatch"`
	Record   bool `json:"record"`
}

// TestResult reports every condition and action of a manual rule test
type TestResult struct {
	Triggered   bool                        `json:"triggered"`
	TriggerData *model.Snapshot             `json:"trigger_data,omitempty"`
	Conditions  []evaluator.ConditionResult `json:"conditions"`
	Actions     []model.ActionResult        `json:"actions"`
	InstanceID  string                      `json:"instance_id,omitempty"`
}

const testActor = "rule-test"

// TestRule evaluates rule immediately, bypassing the gatekeeper. Baselines
// and trigger bookkeeping are left untouched. With opts.Record the instance
// is stored as suppressed; with opts.Dispatch the actions really run.
func (e *Engine) TestRule(ctx context.Context, rule *model.Rule, opts TestOptions) (*TestResult, error) {
	now := e.now()
	result := e.evaluator.Evaluate(ctx, rule, &evaluator.Context{
		TenantID: rule.TenantID,
		RuleID:   rule.ID,
		Now:      now,
		DryRun:   true,
	})

	out := &TestResult{
		Triggered:   result.Triggered,
		TriggerData: result.TriggerData,
		Conditions:  result.Conditions,
		Actions:     []model.ActionResult{},
	}
	if !result.Triggered || (!opts.Dispatch && !opts.Record) {
		return out, nil
	}

	actions := e.dispatcher.Detached()
	var instance *model.AlertInstance
	if opts.Record {
		created, err := e.alerts.Create(ctx, rule, result.TriggerData, now)
		if err != nil {
			return nil, err
		}
		instance, err = e.alerts.Suppress(ctx, rule.TenantID, created.ID, testActor, "created by a manual rule test")
		if err != nil {
			return nil, err
		}
		actions = e.dispatcher
		out.InstanceID = instance.ID
	} else {
		instance = &model.AlertInstance{
			ID:          uuid.New().String(),
			RuleID:      rule.ID,
			RuleName:    rule.Name,
			TenantID:    rule.TenantID,
			TriggeredAt: now,
			Severity:    rule.Priority,
			Status:      model.AlertStatusSuppressed,
			TriggerData: result.TriggerData,
		}
	}

	if opts.Dispatch {
		out.Actions = actions.Dispatch(ctx, rule, instance)
	}
	return out, nil
}
