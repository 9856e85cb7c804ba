package model

import (
	"fmt"
	"regexp"
	"strings"
)

// Validate checks a rule before it is stored. Rules that pass are safe to
// hand to the evaluator; everything else is rejected at create/update time.
func (r *Rule) Validate() error {
	if r.TenantID == "" {
		return invalid("tenant_id", "is required")
	}
	if r.Name == "" {
		return invalid("name", "is required")
	}
	if !r.Priority.Valid() {
		return invalid("priority", "unknown priority %q", r.Priority)
	}
	switch r.ConditionLogic {
	case "", LogicAnd, LogicOr:
	default:
		return invalid("condition_logic", "must be AND or OR, got %q", r.ConditionLogic)
	}
	if len(r.Conditions) == 0 {
		return invalid("conditions", "at least one condition is required")
	}
	if len(r.Actions) == 0 {
		return invalid("actions", "at least one action is required")
	}
	for i := range r.Conditions {
		if err := r.Conditions[i].validate(fmt.Sprintf("conditions[%d]", i)); err != nil {
			return err
		}
	}
	for i := range r.Actions {
		if err := r.Actions[i].validate(fmt.Sprintf("actions[%d]", i)); err != nil {
			return err
		}
	}
	if r.CooldownPeriod != nil && *r.CooldownPeriod < 0 {
		return invalid("cooldown_period", "must not be negative")
	}
	if r.MaxOccurrences != nil && *r.MaxOccurrences < 0 {
		return invalid("max_occurrences", "must not be negative")
	}
	if r.Schedule != nil {
		if err := r.Schedule.validate("schedule"); err != nil {
			return err
		}
	}
	return nil
}

func (c *Condition) validate(field string) error {
	if !c.Type.Valid() {
		return invalid(field+".type", "unknown condition type %q", c.Type)
	}
	if c.DataSource.Type == "" {
		return invalid(field+".data_source", "is required")
	}
	if !c.DataSource.Type.Valid() {
		return invalid(field+".data_source.type", "unknown data source %q", c.DataSource.Type)
	}
	if c.DataSource.Type == SourceDatabase && c.DataSource.Query != "" {
		if err := CheckQuery(c.DataSource.Query); err != nil {
			return invalid(field+".data_source.query", "%v", err)
		}
	}
	if c.Window != nil && c.Window.Minutes <= 0 {
		return invalid(field+".window.minutes", "must be positive")
	}
	if c.Aggregation != "" {
		switch c.Aggregation {
		case AggCount, AggSum, AggAvg, AggMin, AggMax, AggDistinctCount, AggPercent:
		default:
			return invalid(field+".aggregation", "unknown aggregation %q", c.Aggregation)
		}
	}

	switch c.Type {
	case ConditionThreshold, ConditionChange:
		if !c.Operator.Valid() {
			return invalid(field+".operator", "unknown operator %q", c.Operator)
		}
		if c.Operator == OpRegexMatch {
			if err := validPattern(c.Pattern); err != nil {
				return invalid(field+".pattern", "%v", err)
			}
		}
		if (c.Operator == OpIn || c.Operator == OpNotIn) && len(c.Values) == 0 {
			return invalid(field+".values", "required for operator %s", c.Operator)
		}
	case ConditionPattern:
		if err := validPattern(c.Pattern); err != nil {
			return invalid(field+".pattern", "%v", err)
		}
	case ConditionCustom:
		if c.Evaluator == "" && c.Expression == "" {
			return invalid(field, "custom conditions need an evaluator or an expression")
		}
	}
	return nil
}

var queryKeyword = regexp.MustCompile(`^(?i)(select|with)\b`)

// CheckQuery accepts a single SELECT (or WITH ... SELECT) statement that
// is scoped to the evaluating tenant through the :tenant_id parameter
func CheckQuery(query string) error {
	q := strings.TrimSpace(query)
	q = strings.TrimSpace(strings.TrimSuffix(q, ";"))
	if !queryKeyword.MatchString(q) {
		return fmt.Errorf("must be a SELECT statement")
	}
	if strings.Contains(q, ";") {
		return fmt.Errorf("must be a single statement")
	}
	if !strings.Contains(q, ":tenant_id") {
		return fmt.Errorf("must filter on :tenant_id")
	}
	return nil
}

func validPattern(p string) error {
	if p == "" {
		return fmt.Errorf("pattern is required")
	}
	if _, err := regexp.Compile(p); err != nil {
		return fmt.Errorf("does not compile: %w", err)
	}
	return nil
}

func (a *Action) validate(field string) error {
	switch a.Type {
	case ActionEmail:
		if len(a.List("to")) == 0 {
			return invalid(field+".config.to", "is required for email actions")
		}
	case ActionSlack:
		if a.Get("channel", "") == "" {
			return invalid(field+".config.channel", "is required for slack actions")
		}
	case ActionWebhook, ActionChat:
		if a.Get("url", "") == "" {
			return invalid(field+".config.url", "is required for %s actions", a.Type)
		}
	case ActionMQTT:
		if a.Get("topic", "") == "" {
			return invalid(field+".config.topic", "is required for mqtt actions")
		}
	default:
		return invalid(field+".type", "unknown action type %q", a.Type)
	}
	if p := a.RetryPolicy; p != nil {
		if p.MaxRetries < 0 {
			return invalid(field+".retry_policy.max_retries", "must not be negative")
		}
		if p.Delay < 0 || p.MaxDelay < 0 {
			return invalid(field+".retry_policy.delay", "must not be negative")
		}
		if p.Multiplier < 0 {
			return invalid(field+".retry_policy.multiplier", "must not be negative")
		}
	}
	if a.Timeout < 0 {
		return invalid(field+".timeout", "must not be negative")
	}
	return nil
}

func (s *ScheduleRestriction) validate(field string) error {
	for _, d := range s.Days {
		if d < 0 || d > 6 {
			return invalid(field+".days", "weekday %d out of range 0-6", d)
		}
	}
	if (s.StartTime == "") != (s.EndTime == "") {
		return invalid(field, "start_time and end_time must be set together")
	}
	if s.HasWindow() {
		if _, err := ParseClock(s.StartTime); err != nil {
			return invalid(field+".start_time", "%v", err)
		}
		if _, err := ParseClock(s.EndTime); err != nil {
			return invalid(field+".end_time", "%v", err)
		}
	}
	if _, err := s.Location(); err != nil {
		return invalid(field+".timezone", "%v", err)
	}
	return nil
}
