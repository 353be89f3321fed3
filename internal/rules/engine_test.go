package rules

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/your-org/vigil/internal/models"
)

// memTriggerStore implements the compare-and-swap contract the real
// Postgres store provides with a conditional UPDATE.
type memTriggerStore struct {
	mu   sync.Mutex
	last map[uuid.UUID]time.Time
}

func newMemTriggerStore() *memTriggerStore {
	return &memTriggerStore{last: make(map[uuid.UUID]time.Time)}
}

func (s *memTriggerStore) CompareAndSwapLastTriggered(_ context.Context, ruleID uuid.UUID, expectedOld, newTs time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.last[ruleID].Equal(expectedOld) {
		return false, nil
	}
	s.last[ruleID] = newTs
	return true, nil
}

func enabledRule(name string, priority int) models.AlertRule {
	return models.AlertRule{
		ID:       uuid.New(),
		Name:     name,
		Enabled:  true,
		Priority: priority,
		Actions:  []string{"notify"},
	}
}

func afternoonPersonEvent() *models.Event {
	ts := time.Date(2026, 3, 4, 14, 0, 0, 0, time.Local) // Wednesday 14:00
	return &models.Event{
		ID:        uuid.New(),
		CameraID:  "c1",
		Timestamp: ts,
		Description: models.Description{
			Text:       "person in red jacket at door",
			Detections: []models.Detection{{Type: "person", Confidence: 0.91}},
		},
		Anomaly: &models.AnomalyResult{Score: 12, Tier: models.TierNormal},
	}
}

func TestScenarioPersonAtNightVsAnyPerson(t *testing.T) {
	event := afternoonPersonEvent()
	event.Matches = []models.EntityMatch{{EntityID: uuid.New(), Name: "Unknown-3", Similarity: 1.0}}

	night := enabledRule("Person at Night", 1)
	night.Conditions = models.RuleConditions{
		DetectionTypes: []string{"person"},
		TimeStart:      "22:00",
		TimeEnd:        "06:00",
	}
	anyPerson := enabledRule("Any Person", 2)
	anyPerson.Conditions = models.RuleConditions{DetectionTypes: []string{"person"}}
	anyPerson.Cooldown = time.Minute

	store := newMemTriggerStore()
	e := NewEngine(store)

	actions := e.Evaluate(context.Background(), event, []models.AlertRule{night, anyPerson})

	require.Len(t, actions, 1)
	assert.Equal(t, "Any Person", actions[0].RuleName)
	assert.False(t, store.last[anyPerson.ID].IsZero(), "cooldown timestamp updated")
	assert.True(t, store.last[night.ID].IsZero())
}

func TestOvernightWindowWraps(t *testing.T) {
	cond := models.RuleConditions{TimeStart: "22:00", TimeEnd: "06:00"}

	at := func(hour int) *models.Event {
		ev := afternoonPersonEvent()
		ev.Timestamp = time.Date(2026, 3, 4, hour, 30, 0, 0, time.Local)
		return ev
	}

	for hour, want := range map[int]bool{23: true, 2: true, 5: true, 7: false, 14: false, 21: false} {
		got, err := Matches(&cond, at(hour))
		require.NoError(t, err)
		assert.Equal(t, want, got, "hour %d", hour)
	}
}

func TestMultiEntityORSemantics(t *testing.T) {
	john := uuid.New()
	stranger := uuid.New()

	rule := enabledRule("John is here", 1)
	rule.Conditions = models.RuleConditions{EntityIDs: []uuid.UUID{john}}

	e := NewEngine(newMemTriggerStore())

	both := afternoonPersonEvent()
	both.Matches = []models.EntityMatch{
		{EntityID: john, Name: "John", Similarity: 0.92},
		{EntityID: stranger, Name: "Unknown-17", Similarity: 0.85},
	}
	assert.Len(t, e.Evaluate(context.Background(), both, []models.AlertRule{rule}), 1,
		"rule fires when any matched entity satisfies the scope")

	onlyStranger := afternoonPersonEvent()
	onlyStranger.Matches = []models.EntityMatch{
		{EntityID: stranger, Name: "Unknown-17", Similarity: 0.85},
	}
	assert.Empty(t, e.Evaluate(context.Background(), onlyStranger, []models.AlertRule{rule}))
}

func TestWeakMatchesDoNotSatisfyEntityScope(t *testing.T) {
	john := uuid.New()
	rule := enabledRule("John", 1)
	rule.Conditions = models.RuleConditions{EntityIDs: []uuid.UUID{john}}

	ev := afternoonPersonEvent()
	ev.Matches = []models.EntityMatch{{EntityID: john, Name: "John", Similarity: 0.7, Weak: true}}

	e := NewEngine(newMemTriggerStore())
	assert.Empty(t, e.Evaluate(context.Background(), ev, []models.AlertRule{rule}))
}

func TestEntityNameGlob(t *testing.T) {
	rule := enabledRule("Strangers", 1)
	rule.Conditions = models.RuleConditions{EntityNameGlob: "Unknown-*"}

	ev := afternoonPersonEvent()
	ev.Matches = []models.EntityMatch{{EntityID: uuid.New(), Name: "Unknown-3", Similarity: 0.9}}

	e := NewEngine(newMemTriggerStore())
	assert.Len(t, e.Evaluate(context.Background(), ev, []models.AlertRule{rule}), 1)

	named := afternoonPersonEvent()
	named.Matches = []models.EntityMatch{{EntityID: uuid.New(), Name: "John", Similarity: 0.9}}
	assert.Empty(t, e.Evaluate(context.Background(), named, []models.AlertRule{rule}))
}

func TestAnomalyThreshold(t *testing.T) {
	threshold := 60.0
	rule := enabledRule("Unusual only", 1)
	rule.Conditions = models.RuleConditions{MinAnomalyScore: &threshold}

	e := NewEngine(newMemTriggerStore())

	calm := afternoonPersonEvent() // score 12
	assert.Empty(t, e.Evaluate(context.Background(), calm, []models.AlertRule{rule}))

	odd := afternoonPersonEvent()
	odd.Anomaly = &models.AnomalyResult{Score: 75, Tier: models.TierUnusual}
	assert.Len(t, e.Evaluate(context.Background(), odd, []models.AlertRule{rule}), 1)

	unscored := afternoonPersonEvent()
	unscored.Anomaly = nil
	assert.Empty(t, e.Evaluate(context.Background(), unscored, []models.AlertRule{rule}),
		"events without an anomaly result cannot satisfy a threshold condition")
}

func TestKeywordsCannotMatchFailedInference(t *testing.T) {
	rule := enabledRule("Red jacket", 1)
	rule.Conditions = models.RuleConditions{Keywords: []string{"red jacket"}}

	failed := afternoonPersonEvent()
	failed.Description = models.Description{Failed: true}

	e := NewEngine(newMemTriggerStore())
	assert.Empty(t, e.Evaluate(context.Background(), failed, []models.AlertRule{rule}))
}

func TestCooldownRaceSafety(t *testing.T) {
	rule := enabledRule("R", 1)
	rule.Cooldown = 60 * time.Second
	rule.LastTriggered = time.Time{} // far in the past

	store := newMemTriggerStore()

	const n = 32
	var fired atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			// Each concurrent event gets its own engine clock reading, as
			// concurrent pipeline workers would.
			e := NewEngine(store)
			actions := e.Evaluate(context.Background(), afternoonPersonEvent(), []models.AlertRule{rule})
			fired.Add(int32(len(actions)))
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), fired.Load(),
		"exactly one of N concurrent evaluations may win the cooldown transition")
}

func TestDisabledAndBrokenRulesAreIsolated(t *testing.T) {
	disabled := enabledRule("off", 1)
	disabled.Enabled = false

	broken := enabledRule("broken", 2)
	broken.Conditions = models.RuleConditions{EntityNameGlob: "[unclosed"}

	healthy := enabledRule("healthy", 3)
	healthy.Conditions = models.RuleConditions{DetectionTypes: []string{"person"}}

	ev := afternoonPersonEvent()
	ev.Matches = []models.EntityMatch{{EntityID: uuid.New(), Name: "Unknown-1", Similarity: 0.9}}

	e := NewEngine(newMemTriggerStore())
	actions := e.Evaluate(context.Background(), ev, []models.AlertRule{disabled, broken, healthy})

	require.Len(t, actions, 1, "one malformed rule must not stop the others")
	assert.Equal(t, "healthy", actions[0].RuleName)
}

func TestDeterministicActionOrder(t *testing.T) {
	r1 := enabledRule("second", 2)
	r2 := enabledRule("first", 1)
	r3 := enabledRule("third", 3)

	e := NewEngine(newMemTriggerStore())
	actions := e.Evaluate(context.Background(), afternoonPersonEvent(), []models.AlertRule{r1, r2, r3})

	require.Len(t, actions, 3)
	assert.Equal(t, []string{"first", "second", "third"},
		[]string{actions[0].RuleName, actions[1].RuleName, actions[2].RuleName})
}
