package model

import "time"

// AlertStatus represents the lifecycle state of an alert instance
type AlertStatus string

const (
	AlertStatusActive       AlertStatus = "active"
	AlertStatusAcknowledged AlertStatus = "acknowledged"
	AlertStatusResolved     AlertStatus = "resolved"
	AlertStatusSuppressed   AlertStatus = "suppressed"
)

var alertTransitions = map[AlertStatus][]AlertStatus{
	AlertStatusActive:       {AlertStatusAcknowledged, AlertStatusResolved, AlertStatusSuppressed},
	AlertStatusAcknowledged: {AlertStatusResolved},
	AlertStatusSuppressed:   {AlertStatusResolved},
}

// CanTransitionTo reports whether moving from s to next is allowed
func (s AlertStatus) CanTransitionTo(next AlertStatus) bool {
	for _, allowed := range alertTransitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

// Terminal reports whether no transition leaves s
func (s AlertStatus) Terminal() bool {
	return len(alertTransitions[s]) == 0
}

// Valid reports whether s is a known status
func (s AlertStatus) Valid() bool {
	switch s {
	case AlertStatusActive, AlertStatusAcknowledged, AlertStatusResolved, AlertStatusSuppressed:
		return true
	}
	return false
}

// AlertInstance is one materialized occurrence of a rule firing
type AlertInstance struct {
	ID            string         `json:"id"`
	RuleID        string         `json:"rule_id"`
	RuleName      string         `json:"rule_name"`
	TenantID      string         `json:"tenant_id"`
	TriggeredAt   time.Time      `json:"triggered_at"`
	Severity      Priority       `json:"severity"`
	Status        AlertStatus    `json:"status"`
	TriggerData   *Snapshot      `json:"trigger_data,omitempty"`
	ActionResults []ActionResult `json:"action_results"`

	AcknowledgedAt     *time.Time `json:"acknowledged_at,omitempty"`
	AcknowledgedBy     string     `json:"acknowledged_by,omitempty"`
	AcknowledgmentNote string     `json:"acknowledgment_note,omitempty"`
	ResolvedAt         *time.Time `json:"resolved_at,omitempty"`
	ResolvedBy         string     `json:"resolved_by,omitempty"`
	ResolutionNote     string     `json:"resolution_note,omitempty"`
	SuppressedAt       *time.Time `json:"suppressed_at,omitempty"`
	SuppressedBy       string     `json:"suppressed_by,omitempty"`
	SuppressionNote    string     `json:"suppression_note,omitempty"`
}
