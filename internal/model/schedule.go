package model

import (
	"fmt"
	"time"
)

// ScheduleRestriction limits when a rule is eligible to fire
type ScheduleRestriction struct {
	Days      []time.Weekday `json:"days,omitempty" yaml:"days,omitempty"`
	StartTime string         `json:"start_time,omitempty" yaml:"start_time,omitempty"` // HH:MM
	EndTime   string         `json:"end_time,omitempty" yaml:"end_time,omitempty"`     // HH:MM
	Timezone  string         `json:"timezone,omitempty" yaml:"timezone,omitempty"`
}

// HasWindow reports whether a time-of-day window is configured
func (s *ScheduleRestriction) HasWindow() bool {
	return s.StartTime != "" && s.EndTime != ""
}

// Location resolves the restriction's timezone. Empty means UTC.
func (s *ScheduleRestriction) Location() (*time.Location, error) {
	if s.Timezone == "" {
		return time.UTC, nil
	}
	return time.LoadLocation(s.Timezone)
}

// ParseClock parses an HH:MM string into minutes after midnight
func ParseClock(v string) (int, error) {
	t, err := time.Parse("15:04", v)
	if err != nil {
		return 0, fmt.Errorf("invalid time of day %q: %w", v, err)
	}
	return t.Hour()*60 + t.Minute(), nil
}
