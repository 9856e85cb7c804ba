package model

import (
	"encoding/json"
	"fmt"
	"time"
)

// jsonDuration reads "30s" style strings as well as plain nanosecond
// numbers, and writes strings
type jsonDuration time.Duration

func (d jsonDuration) MarshalJSON() ([]byte, error) {
	return json.Marshal(time.Duration(d).String())
}

func (d *jsonDuration) UnmarshalJSON(data []byte) error {
	var v interface{}
	if err := json.Unmarshal(data, &v); err != nil {
		return err
	}
	switch value := v.(type) {
	case nil:
		return nil
	case float64:
		*d = jsonDuration(value)
	case string:
		parsed, err := time.ParseDuration(value)
		if err != nil {
			return fmt.Errorf("invalid duration %q: %w", value, err)
		}
		*d = jsonDuration(parsed)
	default:
		return fmt.Errorf("invalid duration %s", data)
	}
	return nil
}

// MarshalJSON writes the delays as duration strings
func (p RetryPolicy) MarshalJSON() ([]byte, error) {
	type plain RetryPolicy
	return json.Marshal(struct {
		plain
		Delay    jsonDuration `json:"delay"`
		MaxDelay jsonDuration `json:"max_delay,omitempty"`
	}{plain(p), jsonDuration(p.Delay), jsonDuration(p.MaxDelay)})
}

// UnmarshalJSON accepts "5s" style delays or nanoseconds
func (p *RetryPolicy) UnmarshalJSON(data []byte) error {
	type plain RetryPolicy
	aux := struct {
		*plain
		Delay    jsonDuration `json:"delay"`
		MaxDelay jsonDuration `json:"max_delay,omitempty"`
	}{plain: (*plain)(p), Delay: jsonDuration(p.Delay), MaxDelay: jsonDuration(p.MaxDelay)}
	if err := json.Unmarshal(data, &aux); err != nil {
		return err
	}
	p.Delay = time.Duration(aux.Delay)
	p.MaxDelay = time.Duration(aux.MaxDelay)
	return nil
}

// MarshalJSON writes the timeout as a duration string
func (a Action) MarshalJSON() ([]byte, error) {
	type plain Action
	return json.Marshal(struct {
		plain
		Timeout jsonDuration `json:"timeout,omitempty"`
	}{plain(a), jsonDuration(a.Timeout)})
}

// UnmarshalJSON accepts a "10s" style timeout or nanoseconds
func (a *Action) UnmarshalJSON(data []byte) error {
	type plain Action
	aux := struct {
		*plain
		Timeout jsonDuration `json:"timeout,omitempty"`
	}{plain: (*plain)(a), Timeout: jsonDuration(a.Timeout)}
	if err := json.Unmarshal(data, &aux); err != nil {
		return err
	}
	a.Timeout = time.Duration(aux.Timeout)
	return nil
}
