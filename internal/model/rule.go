package model

import (
	"time"
)

// Priority represents the priority of a rule and the severity of its alerts
type Priority string

const (
	PriorityLow      Priority = "low"
	PriorityMedium   Priority = "medium"
	PriorityHigh     Priority = "high"
	PriorityCritical Priority = "critical"
)

// Valid reports whether p is a known priority
func (p Priority) Valid() bool {
	switch p {
	case PriorityLow, PriorityMedium, PriorityHigh, PriorityCritical:
		return true
	}
	return false
}

// ConditionLogic controls how condition results are combined
type ConditionLogic string

const (
	LogicAnd ConditionLogic = "AND"
	LogicOr  ConditionLogic = "OR"
)

// Rule is a tenant-owned set of conditions and the actions to run when they match
type Rule struct {
	ID             string               `json:"id" yaml:"id,omitempty"`
	TenantID       string               `json:"tenant_id" yaml:"tenant_id,omitempty"`
	Name           string               `json:"name" yaml:"name"`
	Description    string               `json:"description,omitempty" yaml:"description,omitempty"`
	Enabled        bool                 `json:"enabled" yaml:"enabled"`
	Priority       Priority             `json:"priority" yaml:"priority"`
	Conditions     []Condition          `json:"conditions" yaml:"conditions"`
	ConditionLogic ConditionLogic       `json:"condition_logic" yaml:"condition_logic"`
	Actions        []Action             `json:"actions" yaml:"actions"`
	CooldownPeriod *int                 `json:"cooldown_period,omitempty" yaml:"cooldown_period,omitempty"` // minutes
	MaxOccurrences *int                 `json:"max_occurrences,omitempty" yaml:"max_occurrences,omitempty"`
	Schedule       *ScheduleRestriction `json:"schedule,omitempty" yaml:"schedule,omitempty"`
	Tags           []string             `json:"tags,omitempty" yaml:"tags,omitempty"`

	// Written by the engine only
	LastTriggeredAt *time.Time `json:"last_triggered_at,omitempty" yaml:"-"`
	TriggerCount    int64      `json:"trigger_count" yaml:"-"`

	CreatedAt time.Time `json:"created_at" yaml:"-"`
	UpdatedAt time.Time `json:"updated_at" yaml:"-"`
}

// Logic returns the combination logic, defaulting to AND
func (r *Rule) Logic() ConditionLogic {
	if r.ConditionLogic == LogicOr {
		return LogicOr
	}
	return LogicAnd
}

// HasTag reports whether the rule carries tag
func (r *Rule) HasTag(tag string) bool {
	for _, t := range r.Tags {
		if t == tag {
			return true
		}
	}
	return false
}
