package model

import (
	"time"
)

// TenantJob is the unit of work enqueued once per tenant per tick
type TenantJob struct {
	TenantID   string    `json:"tenant_id"`
	TickID     string    `json:"tick_id"`
	EnqueuedAt time.Time `json:"enqueued_at"`
}

// RuleOutcome describes what happened to one rule during a tenant job
type RuleOutcome struct {
	RuleID     string `json:"rule_id"`
	RuleName   string `json:"rule_name"`
	Skipped    string `json:"skipped,omitempty"`
	Triggered  bool   `json:"triggered"`
	InstanceID string `json:"instance_id,omitempty"`
	Error      string `json:"error,omitempty"`
}

// TenantReport summarizes a tenant evaluation
type TenantReport struct {
	TenantID    string        `json:"tenant_id"`
	StartedAt   time.Time     `json:"started_at"`
	CompletedAt time.Time     `json:"completed_at"`
	Rules       []RuleOutcome `json:"rules"`
}

// Triggered returns how many rules fired
func (r *TenantReport) Triggered() int {
	n := 0
	for _, o := range r.Rules {
		if o.Triggered {
			n++
		}
	}
	return n
}
