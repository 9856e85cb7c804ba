package scheduler

import "errors"

var (
	// ErrInvalidSchedule is returned when a cron expression does not parse
	ErrInvalidSchedule = errors.New("invalid schedule expression")

	// ErrInvalidJob is returned when a job has no tenant or tick
	ErrInvalidJob = errors.New("invalid tenant job")
)
