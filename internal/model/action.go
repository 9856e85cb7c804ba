package model

import (
	"strings"
	"time"
)

// ActionType names the executor that runs an action
type ActionType string

const (
	ActionEmail   ActionType = "email"
	ActionSlack   ActionType = "slack"
	ActionWebhook ActionType = "webhook"
	ActionChat    ActionType = "chat"
	ActionMQTT    ActionType = "mqtt"
)

// RetryPolicy controls how a failed action is retried.
// The delay before retry n (1-based) is Delay * Multiplier^(n-1).
type RetryPolicy struct {
	MaxRetries int           `json:"max_retries" yaml:"max_retries"`
	Delay      time.Duration `json:"delay" yaml:"delay"`
	Multiplier float64       `json:"multiplier,omitempty" yaml:"multiplier,omitempty"`
	MaxDelay   time.Duration `json:"max_delay,omitempty" yaml:"max_delay,omitempty"`
}

// Action is a side effect run when a rule triggers
type Action struct {
	ID          string            `json:"id" yaml:"id,omitempty"`
	Type        ActionType        `json:"type" yaml:"type"`
	Name        string            `json:"name,omitempty" yaml:"name,omitempty"`
	Config      map[string]string `json:"config,omitempty" yaml:"config,omitempty"`
	RetryPolicy *RetryPolicy      `json:"retry_policy,omitempty" yaml:"retry_policy,omitempty"`
	Timeout     time.Duration     `json:"timeout,omitempty" yaml:"timeout,omitempty"`
}

// Get returns a config value or def when unset
func (a *Action) Get(key, def string) string {
	if v, ok := a.Config[key]; ok && v != "" {
		return v
	}
	return def
}

// List splits a comma separated config value
func (a *Action) List(key string) []string {
	var out []string
	for _, part := range strings.Split(a.Config[key], ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

// ActionStatus is the state of one action on one alert instance
type ActionStatus string

const (
	ActionStatusPending   ActionStatus = "pending"
	ActionStatusRunning   ActionStatus = "running"
	ActionStatusRetrying  ActionStatus = "retrying"
	ActionStatusCompleted ActionStatus = "completed"
	ActionStatusFailed    ActionStatus = "failed"
)

// ActionResult tracks the execution of an action for an alert instance
type ActionResult struct {
	ActionID    string       `json:"action_id"`
	ActionType  ActionType   `json:"action_type"`
	Status      ActionStatus `json:"status"`
	StartedAt   *time.Time   `json:"started_at,omitempty"`
	CompletedAt *time.Time   `json:"completed_at,omitempty"`
	RetryCount  int          `json:"retry_count"`
	Response    string       `json:"response,omitempty"`
	Error       string       `json:"error,omitempty"`
}

// ExecutionResult is what an action executor reports for one attempt
type ExecutionResult struct {
	Success  bool   `json:"success"`
	Response string `json:"response,omitempty"`
	Error    string `json:"error,omitempty"`
}
