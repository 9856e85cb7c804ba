package model

// ConditionType selects how a condition interprets fetched data
type ConditionType string

const (
	ConditionThreshold ConditionType = "threshold"
	ConditionChange    ConditionType = "change"
	ConditionAbsence   ConditionType = "absence"
	ConditionPattern   ConditionType = "pattern"
	ConditionCustom    ConditionType = "custom"
)

// Valid reports whether t is a known condition type
func (t ConditionType) Valid() bool {
	switch t {
	case ConditionThreshold, ConditionChange, ConditionAbsence, ConditionPattern, ConditionCustom:
		return true
	}
	return false
}

// Operator is a comparison operator
type Operator string

const (
	OpEquals             Operator = "equals"
	OpNotEquals          Operator = "not_equals"
	OpGreaterThan        Operator = "greater_than"
	OpLessThan           Operator = "less_than"
	OpGreaterThanOrEqual Operator = "greater_than_or_equal"
	OpLessThanOrEqual    Operator = "less_than_or_equal"
	OpContains           Operator = "contains"
	OpNotContains        Operator = "not_contains"
	OpRegexMatch         Operator = "regex_match"
	OpIn                 Operator = "in"
	OpNotIn              Operator = "not_in"
	OpIsNull             Operator = "is_null"
	OpIsNotNull          Operator = "is_not_null"
)

// Valid reports whether op is a known operator
func (op Operator) Valid() bool {
	switch op {
	case OpEquals, OpNotEquals, OpGreaterThan, OpLessThan, OpGreaterThanOrEqual,
		OpLessThanOrEqual, OpContains, OpNotContains, OpRegexMatch, OpIn, OpNotIn,
		OpIsNull, OpIsNotNull:
		return true
	}
	return false
}

// Aggregation reduces an array of samples to a scalar
type Aggregation string

const (
	AggCount         Aggregation = "count"
	AggSum           Aggregation = "sum"
	AggAvg           Aggregation = "avg"
	AggMin           Aggregation = "min"
	AggMax           Aggregation = "max"
	AggDistinctCount Aggregation = "distinct_count"

	// AggPercent is not a reduction. On change conditions it selects the
	// percentage change instead of the absolute change.
	AggPercent Aggregation = "percent"
)

// DataSourceType names the collaborator that fetches data for a condition
type DataSourceType string

const (
	SourceDatabase DataSourceType = "database"
	SourceMetric   DataSourceType = "metric"
	SourceAPI      DataSourceType = "api"
	SourceWebhook  DataSourceType = "webhook"
	SourceLog      DataSourceType = "log"
)

// Valid reports whether t is a known data source type
func (t DataSourceType) Valid() bool {
	switch t {
	case SourceDatabase, SourceMetric, SourceAPI, SourceWebhook, SourceLog:
		return true
	}
	return false
}

// DataSource describes where a condition reads its value from
type DataSource struct {
	Type     DataSourceType    `json:"type" yaml:"type"`
	Query    string            `json:"query,omitempty" yaml:"query,omitempty"`
	Endpoint string            `json:"endpoint,omitempty" yaml:"endpoint,omitempty"`
	Table    string            `json:"table,omitempty" yaml:"table,omitempty"`
	Field    string            `json:"field,omitempty" yaml:"field,omitempty"`
	Params   map[string]string `json:"params,omitempty" yaml:"params,omitempty"`
}

// WindowKind distinguishes sliding from tumbling windows
type WindowKind string

const (
	WindowSliding  WindowKind = "sliding"
	WindowTumbling WindowKind = "tumbling"
)

// TimeWindow bounds the samples a data source returns
type TimeWindow struct {
	Minutes int        `json:"minutes" yaml:"minutes"`
	Kind    WindowKind `json:"kind,omitempty" yaml:"kind,omitempty"`
}

// Condition is a single predicate over a data source
type Condition struct {
	ID          string        `json:"id" yaml:"id,omitempty"`
	Type        ConditionType `json:"type" yaml:"type"`
	DataSource  DataSource    `json:"data_source" yaml:"data_source"`
	Operator    Operator      `json:"operator,omitempty" yaml:"operator,omitempty"`
	Value       any           `json:"value,omitempty" yaml:"value,omitempty"`
	Values      []any         `json:"values,omitempty" yaml:"values,omitempty"`
	Pattern     string        `json:"pattern,omitempty" yaml:"pattern,omitempty"`
	Window      *TimeWindow   `json:"window,omitempty" yaml:"window,omitempty"`
	Aggregation Aggregation   `json:"aggregation,omitempty" yaml:"aggregation,omitempty"`

	// Custom conditions name a registered evaluator or carry an expression
	Evaluator  string `json:"evaluator,omitempty" yaml:"evaluator,omitempty"`
	Expression string `json:"expression,omitempty" yaml:"expression,omitempty"`
}

// Snapshot is the data a matching condition contributes to an alert
type Snapshot struct {
	ConditionID    string        `json:"condition_id"`
	ConditionType  ConditionType `json:"condition_type"`
	Operator       Operator      `json:"operator,omitempty"`
	ObservedValue  any           `json:"observed_value"`
	Raw            any           `json:"raw,omitempty"`
	PreviousValue  *float64      `json:"previous_value,omitempty"`
	AbsoluteChange *float64      `json:"absolute_change,omitempty"`
	PercentChange  *float64      `json:"percent_change,omitempty"`
}
