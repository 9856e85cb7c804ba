// Package gatekeeper decides whether a rule is eligible for evaluation in
// the current cycle. Exclusion is advisory: it is reported as a reason, not
// as an error.
package gatekeeper

import (
	"time"
	_ "time/tzdata"

	"go.uber.org/zap"

	"github.com/t77yq/alert-engine/internal/model"
)

// Reason explains why a rule was excluded
type Reason string

const (
	ReasonNone             Reason = ""
	ReasonCooldown         Reason = "cooldown"
	ReasonScheduleDay      Reason = "schedule_day"
	ReasonScheduleTime     Reason = "schedule_time"
	ReasonScheduleTimezone Reason = "schedule_timezone"
	ReasonMaxOccurrences   Reason = "max_occurrences"
)

// Decision is the gatekeeper verdict for one rule
type Decision struct {
	Allowed bool
	Reason  Reason
}

// Gatekeeper applies cooldown, schedule restriction and max-occurrence checks
type Gatekeeper struct {
	logger *zap.Logger
}

// New creates a gatekeeper
func New(logger *zap.Logger) *Gatekeeper {
	return &Gatekeeper{logger: logger.Named("gatekeeper")}
}

// Check evaluates rule at now
func (g *Gatekeeper) Check(rule *model.Rule, now time.Time) Decision {
	if InCooldown(rule, now) {
		return Decision{Reason: ReasonCooldown}
	}
	if rule.MaxOccurrences != nil && rule.TriggerCount >= int64(*rule.MaxOccurrences) {
		return Decision{Reason: ReasonMaxOccurrences}
	}
	if rule.Schedule != nil {
		reason, err := CheckSchedule(rule.Schedule, now)
		if err != nil {
			g.logger.Warn("Invalid schedule restriction",
				zap.String("rule_id", rule.ID),
				zap.String("timezone", rule.Schedule.Timezone),
				zap.Error(err))
		}
		if reason != ReasonNone {
			return Decision{Reason: reason}
		}
	}
	return Decision{Allowed: true}
}

// InCooldown reports whether now is before lastTriggeredAt + cooldown minutes
func InCooldown(rule *model.Rule, now time.Time) bool {
	if rule.CooldownPeriod == nil || rule.LastTriggeredAt == nil {
		return false
	}
	until := rule.LastTriggeredAt.Add(time.Duration(*rule.CooldownPeriod) * time.Minute)
	return now.Before(until)
}

// CheckSchedule reports the reason now falls outside the restriction, or
// ReasonNone when it is inside. now is converted to the restriction's
// timezone before any comparison.
func CheckSchedule(s *model.ScheduleRestriction, now time.Time) (Reason, error) {
	loc, err := s.Location()
	if err != nil {
		return ReasonScheduleTimezone, err
	}
	local := now.In(loc)

	if len(s.Days) > 0 && !containsDay(s.Days, local.Weekday()) {
		return ReasonScheduleDay, nil
	}

	if s.HasWindow() {
		start, err := model.ParseClock(s.StartTime)
		if err != nil {
			return ReasonScheduleTime, err
		}
		end, err := model.ParseClock(s.EndTime)
		if err != nil {
			return ReasonScheduleTime, err
		}
		if !InWindow(local.Hour()*60+local.Minute(), start, end) {
			return ReasonScheduleTime, nil
		}
	}
	return ReasonNone, nil
}

// InWindow reports whether minute lies in [start, end). A window with
// start > end wraps past midnight; start == end covers the whole day.
func InWindow(minute, start, end int) bool {
	switch {
	case start == end:
		return true
	case start < end:
		return minute >= start && minute < end
	default:
		return minute >= start || minute < end
	}
}

func containsDay(days []time.Weekday, day time.Weekday) bool {
	for _, d := range days {
		if d == day {
			return true
		}
	}
	return false
}
