package evaluator

import (
	"context"
	"fmt"
	"math"
	"time"

	"go.uber.org/zap"

	"github.com/t77yq/alert-engine/internal/model"
)

// Context carries per-evaluation information to data sources and custom evaluators
type Context struct {
	TenantID string
	RuleID   string
	Now      time.Time
	Vars     map[string]any

	// DryRun evaluations read baselines but never move them
	DryRun bool
}

// DataFetcher fetches the value for a condition. It returns nil, nil when no
// data exists; errors are reserved for infrastructure failures. Array results
// are returned as []any.
type DataFetcher interface {
	Fetch(ctx context.Context, cond *model.Condition, tenantID string, evalCtx *Context) (any, error)
}

// Baseline supplies the previous value of a change condition
type Baseline interface {
	Previous(ctx context.Context, cond *model.Condition, tenantID, ruleID string) (float64, bool, error)
	Record(ctx context.Context, cond *model.Condition, tenantID, ruleID string, value float64) error
}

// ConditionResult is the outcome of one condition. Error holds the local
// failure that degraded the condition to a non-match, if any.
type ConditionResult struct {
	ConditionID string          `json:"condition_id"`
	Matched     bool            `json:"matched"`
	Data        *model.Snapshot `json:"data,omitempty"`
	Error       string          `json:"error,omitempty"`
}

// ConditionEvaluator decides whether a single condition matches
type ConditionEvaluator struct {
	logger   *zap.Logger
	fetcher  DataFetcher
	baseline Baseline
	custom   *CustomRegistry
}

// NewConditionEvaluator creates a condition evaluator
func NewConditionEvaluator(fetcher DataFetcher, baseline Baseline, custom *CustomRegistry, logger *zap.Logger) *ConditionEvaluator {
	if custom == nil {
		custom = NewCustomRegistry()
	}
	return &ConditionEvaluator{
		logger:   logger.Named("condition-evaluator"),
		fetcher:  fetcher,
		baseline: baseline,
		custom:   custom,
	}
}

// Evaluate never fails: fetch errors, coercion errors, bad patterns, custom
// evaluator errors and panics all turn into a non-match with Error set.
func (e *ConditionEvaluator) Evaluate(ctx context.Context, cond *model.Condition, evalCtx *Context) (result ConditionResult) {
	result.ConditionID = cond.ID

	defer func() {
		if r := recover(); r != nil {
			e.logger.Error("Condition evaluation panicked",
				zap.String("tenant_id", evalCtx.TenantID),
				zap.String("rule_id", evalCtx.RuleID),
				zap.String("condition_id", cond.ID),
				zap.Any("panic", r))
			result = ConditionResult{ConditionID: cond.ID, Error: fmt.Sprintf("panic: %v", r)}
		}
	}()

	matched, data, err := e.evaluate(ctx, cond, evalCtx)
	if err != nil {
		e.logger.Warn("Condition degraded to non-match",
			zap.String("tenant_id", evalCtx.TenantID),
			zap.String("rule_id", evalCtx.RuleID),
			zap.String("condition_id", cond.ID),
			zap.String("type", string(cond.Type)),
			zap.Error(err))
		result.Error = err.Error()
		return result
	}
	result.Matched = matched
	result.Data = data
	return result
}

func (e *ConditionEvaluator) evaluate(ctx context.Context, cond *model.Condition, evalCtx *Context) (bool, *model.Snapshot, error) {
	raw, err := e.fetcher.Fetch(ctx, cond, evalCtx.TenantID, evalCtx)
	if err != nil {
		return false, nil, fmt.Errorf("fetch %s: %w", cond.DataSource.Type, err)
	}

	snap := &model.Snapshot{
		ConditionID:   cond.ID,
		ConditionType: cond.Type,
		Operator:      cond.Operator,
	}

	if isNull(raw) {
		if cond.Type == model.ConditionAbsence {
			return true, snap, nil
		}
		return false, nil, nil
	}

	value := e.reduce(cond, raw)
	snap.ObservedValue = value
	snap.Raw = raw

	switch cond.Type {
	case model.ConditionThreshold:
		matched, err := Compare(cond.Operator, value, cond.Value, cond.Values, cond.Pattern)
		return matched, snap, err

	case model.ConditionChange:
		return e.evaluateChange(ctx, cond, evalCtx, value, snap)

	case model.ConditionAbsence:
		// data arrived, so nothing is absent
		return false, nil, nil

	case model.ConditionPattern:
		if cond.Pattern == "" {
			return false, nil, nil
		}
		matched, err := MatchPattern(cond.Pattern, value)
		return matched, snap, err

	case model.ConditionCustom:
		matched, err := e.custom.Evaluate(ctx, cond, value, evalCtx)
		return matched, snap, err

	default:
		return false, nil, fmt.Errorf("unknown condition type %q", cond.Type)
	}
}

// reduce applies the aggregation strategy to array values. Change conditions
// using the percent selector reduce arrays with avg.
func (e *ConditionEvaluator) reduce(cond *model.Condition, raw any) any {
	items, ok := raw.([]any)
	if !ok || cond.Aggregation == "" {
		return raw
	}
	strategy := cond.Aggregation
	if strategy == model.AggPercent {
		strategy = model.AggAvg
	}
	return Aggregate(items, strategy)
}

func (e *ConditionEvaluator) evaluateChange(ctx context.Context, cond *model.Condition, evalCtx *Context, value any, snap *model.Snapshot) (bool, *model.Snapshot, error) {
	if e.baseline == nil {
		return false, nil, ErrNoBaseline
	}
	current, err := ToFloat64(value)
	if err != nil {
		return false, nil, err
	}

	previous, found, err := e.baseline.Previous(ctx, cond, evalCtx.TenantID, evalCtx.RuleID)
	if err != nil {
		return false, nil, fmt.Errorf("previous value: %w", err)
	}
	if !evalCtx.DryRun {
		if err := e.baseline.Record(ctx, cond, evalCtx.TenantID, evalCtx.RuleID, current); err != nil {
			e.logger.Warn("Failed to record baseline",
				zap.String("condition_id", cond.ID),
				zap.Error(err))
		}
	}
	if !found {
		return false, nil, nil
	}

	absolute := math.Abs(current - previous)
	snap.ObservedValue = current
	snap.PreviousValue = &previous
	snap.AbsoluteChange = &absolute

	observed := absolute
	if previous != 0 {
		percent := absolute / math.Abs(previous) * 100
		snap.PercentChange = &percent
		if cond.Aggregation == model.AggPercent {
			observed = percent
		}
	} else if cond.Aggregation == model.AggPercent {
		return false, nil, fmt.Errorf("percentage change undefined for zero baseline")
	}

	matched, err := Compare(cond.Operator, observed, cond.Value, cond.Values, cond.Pattern)
	return matched, snap, err
}
