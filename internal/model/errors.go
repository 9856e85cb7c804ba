package model

import (
	"errors"
	"fmt"
)

// ErrInvalidRule is returned when a rule fails validation
var ErrInvalidRule = errors.New("invalid rule")

// ValidationError describes the first problem found in a rule
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// Unwrap lets callers match with errors.Is(err, ErrInvalidRule)
func (e *ValidationError) Unwrap() error {
	return ErrInvalidRule
}

func invalid(field, format string, args ...interface{}) error {
	return &ValidationError{Field: field, Message: fmt.Sprintf(format, args...)}
}
