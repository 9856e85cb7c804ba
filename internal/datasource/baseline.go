package datasource

import (
	"context"
	"time"

	"github.com/patrickmn/go-cache"

	"github.com/t77yq/alert-engine/internal/model"
)

// BaselineStore remembers the last observed value of each change condition
type BaselineStore struct {
	values *cache.Cache
}

// NewBaselineStore creates a baseline store. Values not refreshed within ttl
// are forgotten, so a long pause in evaluation starts from a fresh baseline.
func NewBaselineStore(ttl time.Duration) *BaselineStore {
	return &BaselineStore{values: cache.New(ttl, ttl)}
}

// Previous implements evaluator.Baseline
func (b *BaselineStore) Previous(_ context.Context, cond *model.Condition, tenantID, ruleID string) (float64, bool, error) {
	v, ok := b.values.Get(baselineKey(cond, tenantID, ruleID))
	if !ok {
		return 0, false, nil
	}
	return v.(float64), true, nil
}

// Record implements evaluator.Baseline
func (b *BaselineStore) Record(_ context.Context, cond *model.Condition, tenantID, ruleID string, value float64) error {
	b.values.SetDefault(baselineKey(cond, tenantID, ruleID), value)
	return nil
}

func baselineKey(cond *model.Condition, tenantID, ruleID string) string {
	return tenantID + "/" + ruleID + "/" + cond.ID
}
