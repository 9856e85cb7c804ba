package evaluator

import "errors"

var (
	// ErrUnknownOperator is returned for an operator the comparator does not implement
	ErrUnknownOperator = errors.New("unknown operator")

	// ErrMissingPattern is returned when a pattern test has no pattern
	ErrMissingPattern = errors.New("pattern is required")

	// ErrNoBaseline is returned when a change condition has no previous value
	ErrNoBaseline = errors.New("no previous value")

	// ErrUnknownEvaluator is returned when a custom condition names an unregistered evaluator
	ErrUnknownEvaluator = errors.New("unknown custom evaluator")

	// ErrUnknownSource is returned when no fetcher handles a data source type
	ErrUnknownSource = errors.New("unknown data source")
)
