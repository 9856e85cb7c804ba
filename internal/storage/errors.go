package storage

import "errors"

var (
	// ErrNotFound is returned when a rule or instance does not exist for the tenant
	ErrNotFound = errors.New("not found")

	// ErrStatusConflict is returned when an instance changed status concurrently
	ErrStatusConflict = errors.New("instance status changed concurrently")

	// ErrResultIndex is returned when an action result slot does not exist
	ErrResultIndex = errors.New("action result index out of range")
)
