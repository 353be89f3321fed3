package models

import (
	"fmt"
	"path"
	"strings"
	"time"

	"github.com/google/uuid"
)

// RuleConditions is the typed condition set of an alert rule. Every present
// field must hold (implicit AND); within a field, any value may satisfy it
// (OR). Zero-valued fields are absent and impose no constraint.
type RuleConditions struct {
	Cameras         []string    `json:"cameras,omitempty"`
	DetectionTypes  []string    `json:"detection_types,omitempty"`
	Keywords        []string    `json:"keywords,omitempty"`
	TimeStart       string      `json:"time_start,omitempty"` // "HH:MM"; window may wrap past midnight
	TimeEnd         string      `json:"time_end,omitempty"`
	Days            []string    `json:"days,omitempty"` // mon..sun
	EntityIDs       []uuid.UUID `json:"entity_ids,omitempty"`
	EntityNameGlob  string      `json:"entity_name_glob,omitempty"`
	MinAnomalyScore *float64    `json:"min_anomaly_score,omitempty"`
}

var dayNames = map[string]time.Weekday{
	"sun": time.Sunday, "mon": time.Monday, "tue": time.Tuesday,
	"wed": time.Wednesday, "thu": time.Thursday, "fri": time.Friday,
	"sat": time.Saturday,
}

// Validate rejects malformed conditions at rule-save time so evaluation
// never has to deal with them.
func (c *RuleConditions) Validate() error {
	if (c.TimeStart == "") != (c.TimeEnd == "") {
		return fmt.Errorf("time window requires both time_start and time_end")
	}
	if c.TimeStart != "" {
		if _, err := ParseClock(c.TimeStart); err != nil {
			return fmt.Errorf("time_start: %w", err)
		}
		if _, err := ParseClock(c.TimeEnd); err != nil {
			return fmt.Errorf("time_end: %w", err)
		}
	}
	for _, d := range c.Days {
		if _, ok := dayNames[strings.ToLower(d)]; !ok {
			return fmt.Errorf("unknown day %q", d)
		}
	}
	if c.EntityNameGlob != "" {
		if _, err := path.Match(c.EntityNameGlob, "probe"); err != nil {
			return fmt.Errorf("entity_name_glob: %w", err)
		}
	}
	if c.MinAnomalyScore != nil && (*c.MinAnomalyScore < 0 || *c.MinAnomalyScore > 100) {
		return fmt.Errorf("min_anomaly_score must be within [0,100]")
	}
	return nil
}

// Weekdays returns the condition's day set as time.Weekday values.
// Call only after Validate.
func (c *RuleConditions) Weekdays() map[time.Weekday]bool {
	if len(c.Days) == 0 {
		return nil
	}
	days := make(map[time.Weekday]bool, len(c.Days))
	for _, d := range c.Days {
		days[dayNames[strings.ToLower(d)]] = true
	}
	return days
}

// ParseClock parses "HH:MM" into minutes since midnight.
func ParseClock(s string) (int, error) {
	t, err := time.Parse("15:04", s)
	if err != nil {
		return 0, fmt.Errorf("invalid clock time %q", s)
	}
	return t.Hour()*60 + t.Minute(), nil
}

// AlertRule is a user-owned declarative alert definition. The engine reads
// it and advances last_triggered through the store's compare-and-swap.
type AlertRule struct {
	ID            uuid.UUID      `json:"id" db:"id"`
	Name          string         `json:"name" db:"name"`
	Enabled       bool           `json:"enabled" db:"enabled"`
	Priority      int            `json:"priority" db:"priority"` // lower fires first in the action list
	Conditions    RuleConditions `json:"conditions" db:"conditions"`
	Actions       []string       `json:"actions" db:"actions"` // notify, mqtt, webhook, record
	Cooldown      time.Duration  `json:"cooldown" db:"cooldown"`
	LastTriggered time.Time      `json:"last_triggered" db:"last_triggered"`
	CreatedAt     time.Time      `json:"created_at" db:"created_at"`
	UpdatedAt     time.Time      `json:"updated_at" db:"updated_at"`
}

// Validate checks the whole rule at save time.
func (r *AlertRule) Validate() error {
	if strings.TrimSpace(r.Name) == "" {
		return fmt.Errorf("rule name is required")
	}
	if len(r.Actions) == 0 {
		return fmt.Errorf("rule needs at least one action")
	}
	if r.Cooldown < 0 {
		return fmt.Errorf("cooldown must not be negative")
	}
	return r.Conditions.Validate()
}

// TriggeredAction is one rule firing produced by the engine.
type TriggeredAction struct {
	RuleID   uuid.UUID `json:"rule_id"`
	RuleName string    `json:"rule_name"`
	Actions  []string  `json:"actions"`
}
