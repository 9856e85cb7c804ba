package model

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validRule() *Rule {
	return &Rule{
		TenantID: "tenant-1",
		Name:     "High CPU",
		Enabled:  true,
		Priority: PriorityHigh,
		Conditions: []Condition{{
			ID:         "c1",
			Type:       ConditionThreshold,
			DataSource: DataSource{Type: SourceMetric, Field: "cpu_usage"},
			Operator:   OpGreaterThan,
			Value:      90,
		}},
		Actions: []Action{{
			ID:     "a1",
			Type:   ActionEmail,
			Config: map[string]string{"to": "ops@example.com"},
		}},
	}
}

func TestRuleValidate(t *testing.T) {
	intPtr := func(v int) *int { return &v }

	tests := []struct {
		name   string
		mutate func(r *Rule)
		field  string
	}{
		{"valid", func(r *Rule) {}, ""},
		{"missing name", func(r *Rule) { r.Name = "" }, "name"},
		{"bad priority", func(r *Rule) { r.Priority = "urgent" }, "priority"},
		{"bad logic", func(r *Rule) { r.ConditionLogic = "XOR" }, "condition_logic"},
		{"no conditions", func(r *Rule) { r.Conditions = nil }, "conditions"},
		{"no actions", func(r *Rule) { r.Actions = nil }, "actions"},
		{"missing data source", func(r *Rule) { r.Conditions[0].DataSource = DataSource{} }, "conditions[0].data_source"},
		{"unknown operator", func(r *Rule) { r.Conditions[0].Operator = "approx" }, "conditions[0].operator"},
		{"database query writes", func(r *Rule) {
			r.Conditions[0].DataSource = DataSource{Type: SourceDatabase, Query: "DELETE FROM rules WHERE tenant_id = :tenant_id"}
		}, "conditions[0].data_source.query"},
		{"database query ignores tenant", func(r *Rule) {
			r.Conditions[0].DataSource = DataSource{Type: SourceDatabase, Query: "SELECT name FROM rules"}
		}, "conditions[0].data_source.query"},
		{"database query scoped to tenant", func(r *Rule) {
			r.Conditions[0].DataSource = DataSource{Type: SourceDatabase, Query: "SELECT COUNT(*) FROM orders WHERE tenant_id = :tenant_id"}
		}, ""},
		{"bad regex", func(r *Rule) {
			r.Conditions[0].Operator = OpRegexMatch
			r.Conditions[0].Pattern = "(["
		}, "conditions[0].pattern"},
		{"in without values", func(r *Rule) { r.Conditions[0].Operator = OpIn }, "conditions[0].values"},
		{"custom without body", func(r *Rule) { r.Conditions[0].Type = ConditionCustom }, "conditions[0]"},
		{"email without recipients", func(r *Rule) { r.Actions[0].Config = nil }, "actions[0].config.to"},
		{"unknown action", func(r *Rule) { r.Actions[0].Type = "pager" }, "actions[0].type"},
		{"negative retries", func(r *Rule) {
			r.Actions[0].RetryPolicy = &RetryPolicy{MaxRetries: -1}
		}, "actions[0].retry_policy.max_retries"},
		{"negative cooldown", func(r *Rule) { r.CooldownPeriod = intPtr(-5) }, "cooldown_period"},
		{"bad timezone", func(r *Rule) {
			r.Schedule = &ScheduleRestriction{Timezone: "Mars/Olympus"}
		}, "schedule.timezone"},
		{"half window", func(r *Rule) {
			r.Schedule = &ScheduleRestriction{StartTime: "22:00"}
		}, "schedule"},
		{"bad clock", func(r *Rule) {
			r.Schedule = &ScheduleRestriction{StartTime: "25:00", EndTime: "06:00"}
		}, "schedule.start_time"},
		{"bad weekday", func(r *Rule) {
			r.Schedule = &ScheduleRestriction{Days: []time.Weekday{7}}
		}, "schedule.days"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := validRule()
			tt.mutate(r)
			err := r.Validate()
			if tt.field == "" {
				require.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.True(t, errors.Is(err, ErrInvalidRule))

			var verr *ValidationError
			require.True(t, errors.As(err, &verr))
			assert.Equal(t, tt.field, verr.Field)
		})
	}
}

func TestAlertStatusTransitions(t *testing.T) {
	assert.True(t, AlertStatusActive.CanTransitionTo(AlertStatusAcknowledged))
	assert.True(t, AlertStatusActive.CanTransitionTo(AlertStatusResolved))
	assert.True(t, AlertStatusActive.CanTransitionTo(AlertStatusSuppressed))
	assert.True(t, AlertStatusAcknowledged.CanTransitionTo(AlertStatusResolved))

	assert.False(t, AlertStatusAcknowledged.CanTransitionTo(AlertStatusActive))
	assert.False(t, AlertStatusAcknowledged.CanTransitionTo(AlertStatusSuppressed))
	for _, next := range []AlertStatus{AlertStatusActive, AlertStatusAcknowledged, AlertStatusSuppressed, AlertStatusResolved} {
		assert.False(t, AlertStatusResolved.CanTransitionTo(next), "resolved -> %s", next)
	}
	assert.True(t, AlertStatusSuppressed.CanTransitionTo(AlertStatusResolved))
	assert.False(t, AlertStatusSuppressed.CanTransitionTo(AlertStatusActive))
	assert.False(t, AlertStatusSuppressed.CanTransitionTo(AlertStatusAcknowledged))

	// resolved is the only terminal status
	for _, s := range []AlertStatus{AlertStatusActive, AlertStatusAcknowledged, AlertStatusSuppressed} {
		assert.False(t, s.Terminal(), s)
	}
	assert.True(t, AlertStatusResolved.Terminal())
}

func TestCheckQuery(t *testing.T) {
	tests := []struct {
		query string
		ok    bool
	}{
		{"SELECT amount FROM orders WHERE tenant_id = :tenant_id", true},
		{"  select amount from orders where tenant_id = :tenant_id;", true},
		{"WITH recent AS (SELECT * FROM orders WHERE tenant_id = :tenant_id) SELECT COUNT(*) FROM recent", true},
		{"DELETE FROM rules WHERE tenant_id = :tenant_id", false},
		{"UPDATE rules SET enabled = 0 WHERE tenant_id = :tenant_id", false},
		{"SELECT 1 WHERE :tenant_id = 'a'; DELETE FROM rules", false},
		{"SELECT tenant_id || ':' || name FROM rules", false},
		{"selector", false},
	}
	for _, tt := range tests {
		err := CheckQuery(tt.query)
		if tt.ok {
			assert.NoError(t, err, tt.query)
		} else {
			assert.Error(t, err, tt.query)
		}
	}
}

func TestParseClock(t *testing.T) {
	m, err := ParseClock("22:30")
	require.NoError(t, err)
	assert.Equal(t, 22*60+30, m)

	_, err = ParseClock("7pm")
	assert.Error(t, err)
}
