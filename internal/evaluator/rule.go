package evaluator

import (
	"context"
	"sync"

	"github.com/t77yq/alert-engine/internal/model"
)

// RuleResult is the trigger decision for a rule
type RuleResult struct {
	Triggered   bool              `json:"triggered"`
	TriggerData *model.Snapshot   `json:"trigger_data,omitempty"`
	Conditions  []ConditionResult `json:"conditions"`
}

// RuleEvaluator combines condition results under the rule's logic
type RuleEvaluator struct {
	conditions *ConditionEvaluator
}

// NewRuleEvaluator creates a rule evaluator
func NewRuleEvaluator(conditions *ConditionEvaluator) *RuleEvaluator {
	return &RuleEvaluator{conditions: conditions}
}

// Evaluate runs every condition concurrently and combines the results
func (e *RuleEvaluator) Evaluate(ctx context.Context, rule *model.Rule, evalCtx *Context) RuleResult {
	if len(rule.Conditions) == 0 {
		return RuleResult{}
	}

	results := make([]ConditionResult, len(rule.Conditions))
	var wg sync.WaitGroup
	for i := range rule.Conditions {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i] = e.conditions.Evaluate(ctx, &rule.Conditions[i], evalCtx)
		}(i)
	}
	wg.Wait()

	triggered, data := Combine(rule.Logic(), results)
	return RuleResult{
		Triggered:   triggered,
		TriggerData: data,
		Conditions:  results,
	}
}

// Combine applies AND/OR to results. The trigger data is the data of the
// first matched result in list order.
func Combine(logic model.ConditionLogic, results []ConditionResult) (bool, *model.Snapshot) {
	if len(results) == 0 {
		return false, nil
	}

	matched := 0
	var first *model.Snapshot
	found := false
	for _, r := range results {
		if !r.Matched {
			continue
		}
		matched++
		if !found {
			first = r.Data
			found = true
		}
	}

	var triggered bool
	if logic == model.LogicOr {
		triggered = matched > 0
	} else {
		triggered = matched == len(results)
	}
	if !triggered {
		return false, nil
	}
	return true, first
}
