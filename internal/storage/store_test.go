package storage

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/t77yq/alert-engine/internal/model"
)

func newTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	store, err := NewSQLiteStore(zap.NewNop(), ":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}

func newRule(tenant, name string, enabled bool) *model.Rule {
	cooldown := 5
	now := time.Now().UTC().Truncate(time.Millisecond)
	return &model.Rule{
		ID:             uuid.New().String(),
		TenantID:       tenant,
		Name:           name,
		Enabled:        enabled,
		Priority:       model.PriorityHigh,
		ConditionLogic: model.LogicAnd,
		Conditions: []model.Condition{{
			ID:         "c1",
			Type:       model.ConditionThreshold,
			DataSource: model.DataSource{Type: model.SourceMetric, Field: "cpu_usage"},
			Operator:   model.OpGreaterThan,
			Value:      90.0,
		}},
		Actions: []model.Action{{
			ID:          "a1",
			Type:        model.ActionEmail,
			Config:      map[string]string{"to": "ops@example.com"},
			RetryPolicy: &model.RetryPolicy{MaxRetries: 2, Delay: time.Second, Multiplier: 2},
		}},
		CooldownPeriod: &cooldown,
		Schedule:       &model.ScheduleRestriction{StartTime: "22:00", EndTime: "06:00", Timezone: "UTC", Days: []time.Weekday{time.Monday}},
		Tags:           []string{"infra"},
		CreatedAt:      now,
		UpdatedAt:      now,
	}
}

func TestRuleStore(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)

	rule := newRule("tenant-a", "cpu", true)
	require.NoError(t, store.CreateRule(ctx, rule))

	t.Run("Get", func(t *testing.T) {
		got, err := store.GetRule(ctx, "tenant-a", rule.ID)
		require.NoError(t, err)
		assert.Equal(t, rule.Name, got.Name)
		assert.Equal(t, rule.Conditions[0].DataSource, got.Conditions[0].DataSource)
		assert.Equal(t, 90.0, got.Conditions[0].Value)
		assert.Equal(t, rule.Actions[0].RetryPolicy, got.Actions[0].RetryPolicy)
		assert.Equal(t, rule.Schedule, got.Schedule)
		assert.Equal(t, 5, *got.CooldownPeriod)
		assert.Nil(t, got.MaxOccurrences)
		assert.Nil(t, got.LastTriggeredAt)
		assert.True(t, got.Enabled)
	})

	t.Run("Get is tenant scoped", func(t *testing.T) {
		_, err := store.GetRule(ctx, "tenant-b", rule.ID)
		assert.ErrorIs(t, err, ErrNotFound)
	})

	t.Run("Update keeps engine fields", func(t *testing.T) {
		ok, err := store.MarkTriggered(ctx, rule.ID, time.Now(), nil)
		require.NoError(t, err)
		require.True(t, ok)

		rule.Name = "cpu renamed"
		rule.TriggerCount = 99
		require.NoError(t, store.UpdateRule(ctx, rule))

		got, err := store.GetRule(ctx, "tenant-a", rule.ID)
		require.NoError(t, err)
		assert.Equal(t, "cpu renamed", got.Name)
		assert.Equal(t, int64(1), got.TriggerCount)
		assert.NotNil(t, got.LastTriggeredAt)
	})

	t.Run("Update missing", func(t *testing.T) {
		missing := newRule("tenant-a", "ghost", true)
		assert.ErrorIs(t, store.UpdateRule(ctx, missing), ErrNotFound)
	})

	t.Run("Tenants with enabled rules", func(t *testing.T) {
		require.NoError(t, store.CreateRule(ctx, newRule("tenant-b", "disk", false)))
		require.NoError(t, store.CreateRule(ctx, newRule("tenant-c", "mem", true)))
		require.NoError(t, store.CreateRule(ctx, newRule("tenant-c", "load", true)))

		tenants, err := store.ListTenantsWithEnabledRules(ctx)
		require.NoError(t, err)
		assert.Equal(t, []string{"tenant-a", "tenant-c"}, tenants)

		enabled, err := store.ListEnabledRules(ctx, "tenant-b")
		require.NoError(t, err)
		assert.Empty(t, enabled)

		all, err := store.ListRules(ctx, "tenant-c", RuleFilter{Tag: "infra"})
		require.NoError(t, err)
		assert.Len(t, all, 2)

		none, err := store.ListRules(ctx, "tenant-c", RuleFilter{Tag: "billing"})
		require.NoError(t, err)
		assert.Empty(t, none)
	})
}

func TestMarkTriggeredCompareAndSwap(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	rule := newRule("tenant-a", "cas", true)
	require.NoError(t, store.CreateRule(ctx, rule))

	expected := int64(0)
	var wg sync.WaitGroup
	var mu sync.Mutex
	wins := 0
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ok, err := store.MarkTriggered(ctx, rule.ID, time.Now(), &expected)
			assert.NoError(t, err)
			if ok {
				mu.Lock()
				wins++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, 1, wins)

	got, err := store.GetRule(ctx, "tenant-a", rule.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(1), got.TriggerCount)
}

func TestReleaseTrigger(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	rule := newRule("tenant-a", "release", true)
	require.NoError(t, store.CreateRule(ctx, rule))

	expected := int64(0)
	ok, err := store.MarkTriggered(ctx, rule.ID, time.Now(), &expected)
	require.NoError(t, err)
	require.True(t, ok)

	// a stale count does not roll back someone else's claim
	ok, err = store.ReleaseTrigger(ctx, rule.ID, nil, 2)
	require.NoError(t, err)
	assert.False(t, ok)

	ok, err = store.ReleaseTrigger(ctx, rule.ID, nil, 1)
	require.NoError(t, err)
	assert.True(t, ok)

	got, err := store.GetRule(ctx, "tenant-a", rule.ID)
	require.NoError(t, err)
	assert.Zero(t, got.TriggerCount)
	assert.Nil(t, got.LastTriggeredAt)
}

func newInstance(rule *model.Rule, status model.AlertStatus, at time.Time) *model.AlertInstance {
	return &model.AlertInstance{
		ID:          uuid.New().String(),
		RuleID:      rule.ID,
		RuleName:    rule.Name,
		TenantID:    rule.TenantID,
		TriggeredAt: at,
		Severity:    rule.Priority,
		Status:      status,
		TriggerData: &model.Snapshot{ConditionID: "c1", ConditionType: model.ConditionThreshold, ObservedValue: 95.0},
	}
}

func TestInstanceStore(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	rule := newRule("tenant-a", "cpu", true)
	require.NoError(t, store.CreateRule(ctx, rule))

	instance := newInstance(rule, model.AlertStatusActive, time.Now())
	require.NoError(t, store.CreateInstance(ctx, instance))

	t.Run("Get", func(t *testing.T) {
		got, err := store.GetInstance(ctx, "tenant-a", instance.ID)
		require.NoError(t, err)
		assert.Equal(t, model.AlertStatusActive, got.Status)
		assert.Equal(t, model.PriorityHigh, got.Severity)
		assert.Equal(t, 95.0, got.TriggerData.ObservedValue)
		assert.Empty(t, got.ActionResults)

		_, err = store.GetInstance(ctx, "tenant-b", instance.ID)
		assert.ErrorIs(t, err, ErrNotFound)
	})

	t.Run("Action results", func(t *testing.T) {
		var wg sync.WaitGroup
		for i := 0; i < 5; i++ {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				idx, err := store.AppendActionResult(ctx, instance.ID, model.ActionResult{
					ActionID: fmt.Sprintf("a%d", i),
					Status:   model.ActionStatusPending,
				})
				assert.NoError(t, err)
				assert.GreaterOrEqual(t, idx, 0)
			}(i)
		}
		wg.Wait()

		got, err := store.GetInstance(ctx, "tenant-a", instance.ID)
		require.NoError(t, err)
		require.Len(t, got.ActionResults, 5)

		done := got.ActionResults[2]
		done.Status = model.ActionStatusCompleted
		done.Response = "250 OK"
		require.NoError(t, store.UpdateActionResult(ctx, instance.ID, 2, done))

		got, err = store.GetInstance(ctx, "tenant-a", instance.ID)
		require.NoError(t, err)
		assert.Equal(t, model.ActionStatusCompleted, got.ActionResults[2].Status)
		assert.Equal(t, "250 OK", got.ActionResults[2].Response)

		assert.ErrorIs(t, store.UpdateActionResult(ctx, instance.ID, 7, done), ErrResultIndex)
		_, err = store.AppendActionResult(ctx, "missing", done)
		assert.ErrorIs(t, err, ErrNotFound)
	})

	t.Run("Status update is conditional", func(t *testing.T) {
		now := time.Now()
		instance.Status = model.AlertStatusAcknowledged
		instance.AcknowledgedAt = &now
		instance.AcknowledgedBy = "alice"
		instance.AcknowledgmentNote = "looking"
		require.NoError(t, store.UpdateInstanceStatus(ctx, instance, model.AlertStatusActive))

		assert.ErrorIs(t, store.UpdateInstanceStatus(ctx, instance, model.AlertStatusActive), ErrStatusConflict)

		got, err := store.GetInstance(ctx, "tenant-a", instance.ID)
		require.NoError(t, err)
		assert.Equal(t, model.AlertStatusAcknowledged, got.Status)
		assert.Equal(t, "alice", got.AcknowledgedBy)
		assert.Equal(t, "looking", got.AcknowledgmentNote)
		require.NotNil(t, got.AcknowledgedAt)
	})

	t.Run("List and count", func(t *testing.T) {
		require.NoError(t, store.CreateInstance(ctx, newInstance(rule, model.AlertStatusActive, time.Now().Add(time.Minute))))

		list, err := store.ListInstances(ctx, "tenant-a", InstanceFilter{}, 0, 10)
		require.NoError(t, err)
		require.Len(t, list, 2)
		assert.True(t, list[0].TriggeredAt.After(list[1].TriggeredAt))

		count, err := store.CountInstances(ctx, "tenant-a", InstanceFilter{Status: model.AlertStatusActive})
		require.NoError(t, err)
		assert.Equal(t, 1, count)

		count, err = store.CountInstances(ctx, "tenant-a", InstanceFilter{RuleID: rule.ID})
		require.NoError(t, err)
		assert.Equal(t, 2, count)
	})
}

func TestDeleteRuleCascade(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)

	kept := newRule("tenant-a", "kept-history", true)
	dropped := newRule("tenant-a", "dropped-history", true)
	require.NoError(t, store.CreateRule(ctx, kept))
	require.NoError(t, store.CreateRule(ctx, dropped))
	require.NoError(t, store.CreateInstance(ctx, newInstance(kept, model.AlertStatusActive, time.Now())))
	require.NoError(t, store.CreateInstance(ctx, newInstance(dropped, model.AlertStatusActive, time.Now())))

	require.NoError(t, store.DeleteRule(ctx, "tenant-a", kept.ID, false))
	require.NoError(t, store.DeleteRule(ctx, "tenant-a", dropped.ID, true))
	assert.ErrorIs(t, store.DeleteRule(ctx, "tenant-a", dropped.ID, true), ErrNotFound)

	count, err := store.CountInstances(ctx, "tenant-a", InstanceFilter{RuleID: kept.ID})
	require.NoError(t, err)
	assert.Equal(t, 1, count)

	count, err = store.CountInstances(ctx, "tenant-a", InstanceFilter{RuleID: dropped.ID})
	require.NoError(t, err)
	assert.Equal(t, 0, count)
}

func TestDeleteInstancesBefore(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	rule := newRule("tenant-a", "cpu", true)
	require.NoError(t, store.CreateRule(ctx, rule))

	old := time.Now().Add(-48 * time.Hour)
	require.NoError(t, store.CreateInstance(ctx, newInstance(rule, model.AlertStatusResolved, old)))
	require.NoError(t, store.CreateInstance(ctx, newInstance(rule, model.AlertStatusActive, old)))
	require.NoError(t, store.CreateInstance(ctx, newInstance(rule, model.AlertStatusResolved, time.Now())))

	deleted, err := store.DeleteInstancesBefore(ctx, time.Now().Add(-24*time.Hour))
	require.NoError(t, err)
	assert.Equal(t, int64(1), deleted)

	count, err := store.CountInstances(ctx, "tenant-a", InstanceFilter{})
	require.NoError(t, err)
	assert.Equal(t, 2, count)
}
