// Package rules evaluates declarative alert rules against enriched events.
package rules

import (
	"context"
	"fmt"
	"log/slog"
	"path"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/your-org/vigil/internal/models"
	"github.com/your-org/vigil/internal/observability"
)

// TriggerStore is the slice of the event store the engine needs: an atomic
// conditional update of a rule's last-triggered timestamp. The swap succeeds
// for exactly one of any set of concurrent evaluations, which is what keeps
// a rule from double-firing inside its cooldown.
type TriggerStore interface {
	CompareAndSwapLastTriggered(ctx context.Context, ruleID uuid.UUID, expectedOld, newTs time.Time) (bool, error)
}

// Engine evaluates enabled rules against one event at a time. Rules are
// independent: evaluation order never changes outcomes, and one broken rule
// cannot keep the others from firing.
type Engine struct {
	store TriggerStore
	now   func() time.Time
}

func NewEngine(store TriggerStore) *Engine {
	return &Engine{store: store, now: time.Now}
}

// Evaluate returns the actions of every rule that matches the event and wins
// its cooldown. The result preserves rule priority then creation order so
// downstream consumers and tests see a deterministic list.
func (e *Engine) Evaluate(ctx context.Context, event *models.Event, rules []models.AlertRule) []models.TriggeredAction {
	ordered := make([]models.AlertRule, len(rules))
	copy(ordered, rules)
	sort.SliceStable(ordered, func(i, j int) bool {
		if ordered[i].Priority != ordered[j].Priority {
			return ordered[i].Priority < ordered[j].Priority
		}
		return ordered[i].CreatedAt.Before(ordered[j].CreatedAt)
	})

	var triggered []models.TriggeredAction
	for i := range ordered {
		rule := &ordered[i]
		if !rule.Enabled {
			continue
		}

		match, err := Matches(&rule.Conditions, event)
		if err != nil {
			// Per-rule isolation: a malformed rule logs and steps aside.
			slog.Warn("rule evaluation failed", "rule_id", rule.ID, "rule", rule.Name, "error", err)
			continue
		}
		if !match {
			continue
		}

		fired, err := e.passCooldown(ctx, rule)
		if err != nil {
			slog.Warn("cooldown check failed", "rule_id", rule.ID, "error", err)
			continue
		}
		if !fired {
			observability.RulesSuppressed.WithLabelValues(rule.Name).Inc()
			slog.Debug("rule suppressed by cooldown", "rule", rule.Name, "event_id", event.ID)
			continue
		}

		observability.RulesFired.WithLabelValues(rule.Name).Inc()
		triggered = append(triggered, models.TriggeredAction{
			RuleID:   rule.ID,
			RuleName: rule.Name,
			Actions:  rule.Actions,
		})
	}
	return triggered
}

// passCooldown reports whether this evaluation wins the right to fire. The
// compare-and-swap makes the check-and-update atomic against concurrent
// events matching the same rule.
func (e *Engine) passCooldown(ctx context.Context, rule *models.AlertRule) (bool, error) {
	now := e.now()
	if rule.Cooldown > 0 && now.Sub(rule.LastTriggered) < rule.Cooldown {
		return false, nil
	}
	swapped, err := e.store.CompareAndSwapLastTriggered(ctx, rule.ID, rule.LastTriggered, now)
	if err != nil {
		return false, fmt.Errorf("cas last_triggered: %w", err)
	}
	// A lost swap means a concurrent event fired first; this one is inside
	// the fresh cooldown by definition.
	return swapped, nil
}

// Matches evaluates the condition set against the event: implicit AND across
// present fields, OR within each field.
func Matches(c *models.RuleConditions, event *models.Event) (bool, error) {
	if len(c.Cameras) == 0 && len(c.DetectionTypes) == 0 && len(c.Keywords) == 0 &&
		c.TimeStart == "" && len(c.Days) == 0 && len(c.EntityIDs) == 0 &&
		c.EntityNameGlob == "" && c.MinAnomalyScore == nil {
		// A rule with no conditions matches everything.
		return true, nil
	}

	if len(c.Cameras) > 0 && !containsString(c.Cameras, event.CameraID) {
		return false, nil
	}

	if len(c.DetectionTypes) > 0 && !detectionTypeMatch(c.DetectionTypes, event.Description.Detections) {
		return false, nil
	}

	if len(c.Keywords) > 0 && !keywordMatch(c.Keywords, event.Description.Text) {
		return false, nil
	}

	if c.TimeStart != "" {
		ok, err := inTimeWindow(c.TimeStart, c.TimeEnd, event.Timestamp)
		if err != nil {
			return false, err
		}
		if !ok {
			return false, nil
		}
	}

	if days := c.Weekdays(); days != nil && !days[event.Timestamp.Weekday()] {
		return false, nil
	}

	if len(c.EntityIDs) > 0 || c.EntityNameGlob != "" {
		ok, err := entityScopeMatch(c, event.Matches)
		if err != nil {
			return false, err
		}
		if !ok {
			return false, nil
		}
	}

	if c.MinAnomalyScore != nil {
		if event.Anomaly == nil || event.Anomaly.Score < *c.MinAnomalyScore {
			return false, nil
		}
	}

	return true, nil
}

func containsString(set []string, v string) bool {
	for _, s := range set {
		if s == v {
			return true
		}
	}
	return false
}

func detectionTypeMatch(types []string, detections []models.Detection) bool {
	for _, d := range detections {
		if containsString(types, d.Type) {
			return true
		}
	}
	return false
}

func keywordMatch(keywords []string, text string) bool {
	lower := strings.ToLower(text)
	for _, kw := range keywords {
		if kw != "" && strings.Contains(lower, strings.ToLower(kw)) {
			return true
		}
	}
	return false
}

// inTimeWindow checks whether the timestamp's local clock time falls inside
// [start, end]. Windows where start > end wrap past midnight (22:00-06:00).
func inTimeWindow(startStr, endStr string, ts time.Time) (bool, error) {
	start, err := models.ParseClock(startStr)
	if err != nil {
		return false, err
	}
	end, err := models.ParseClock(endStr)
	if err != nil {
		return false, err
	}
	minute := ts.Hour()*60 + ts.Minute()
	if start <= end {
		return minute >= start && minute <= end, nil
	}
	return minute >= start || minute <= end, nil
}

// entityScopeMatch fires when ANY of the event's strong entity matches
// satisfies the scope; weak (ambiguous) candidates do not count.
func entityScopeMatch(c *models.RuleConditions, matches []models.EntityMatch) (bool, error) {
	for _, m := range matches {
		if m.Weak {
			continue
		}
		for _, id := range c.EntityIDs {
			if id == m.EntityID {
				return true, nil
			}
		}
		if c.EntityNameGlob != "" && m.Name != "" {
			ok, err := path.Match(c.EntityNameGlob, m.Name)
			if err != nil {
				return false, fmt.Errorf("entity name glob: %w", err)
			}
			if ok {
				return true, nil
			}
		}
	}
	return false, nil
}
