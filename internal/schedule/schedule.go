// Package schedule parses the schedule strings stored with scheduled tasks
// and computes run times. Three kinds are supported: cron expressions,
// fixed intervals, and one-shot timestamps.
package schedule

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/adhocore/gronx"
)

type Schedule struct {
	Kind     string        `json:"kind"` // "cron", "interval", "once"
	CronExpr string        `json:"cron_expr,omitempty"`
	Interval time.Duration `json:"interval,omitempty"`
	At       time.Time     `json:"at,omitempty"`
}

// Parse reads a normalized schedule string back into its structured form.
func Parse(raw string) (*Schedule, error) {
	var s Schedule
	if err := json.Unmarshal([]byte(raw), &s); err != nil {
		return nil, fmt.Errorf("parse schedule: %w", err)
	}
	switch s.Kind {
	case "cron", "interval", "once":
		return &s, nil
	}
	return nil, fmt.Errorf("unknown schedule kind: %s", s.Kind)
}

// Normalize accepts the user-facing spellings and returns the canonical
// JSON form stored in the database:
//
//	"0 3 * * *"              cron expression
//	"every 15m"              fixed interval
//	"once 2026-09-01T03:00:00Z"  one-shot
func Normalize(raw string) (string, error) {
	raw = strings.TrimSpace(raw)

	var s Schedule
	switch {
	case strings.HasPrefix(raw, "every "):
		d, err := time.ParseDuration(strings.TrimPrefix(raw, "every "))
		if err != nil {
			return "", fmt.Errorf("invalid interval: %w", err)
		}
		if d <= 0 {
			return "", fmt.Errorf("interval must be positive: %s", raw)
		}
		s = Schedule{Kind: "interval", Interval: d}
	case strings.HasPrefix(raw, "once "):
		at, err := time.Parse(time.RFC3339, strings.TrimPrefix(raw, "once "))
		if err != nil {
			return "", fmt.Errorf("invalid timestamp: %w", err)
		}
		s = Schedule{Kind: "once", At: at}
	default:
		if !gronx.New().IsValid(raw) {
			return "", fmt.Errorf("invalid cron expression: %s", raw)
		}
		s = Schedule{Kind: "cron", CronExpr: raw}
	}

	data, err := json.Marshal(s)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

// NextRunAfter computes the next run strictly after the reference time.
// A nil result means the schedule has no further runs.
func NextRunAfter(raw string, ref time.Time) (*time.Time, error) {
	s, err := Parse(raw)
	if err != nil {
		return nil, err
	}

	switch s.Kind {
	case "cron":
		next, err := gronx.NextTickAfter(s.CronExpr, ref, false)
		if err != nil {
			return nil, fmt.Errorf("next cron tick: %w", err)
		}
		return &next, nil
	case "interval":
		next := ref.Add(s.Interval)
		return &next, nil
	case "once":
		if s.At.After(ref) {
			at := s.At
			return &at, nil
		}
		return nil, nil
	}
	return nil, fmt.Errorf("unknown schedule kind: %s", s.Kind)
}

// Describe renders a schedule string for list output.
func Describe(raw string) string {
	s, err := Parse(raw)
	if err != nil {
		return raw
	}
	switch s.Kind {
	case "cron":
		return "cron " + s.CronExpr
	case "interval":
		return "every " + s.Interval.String()
	case "once":
		return "once at " + s.At.Format("Jan 2 15:04")
	}
	return raw
}
