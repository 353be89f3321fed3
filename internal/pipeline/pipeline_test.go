package pipeline

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/your-org/vigil/internal/inference"
	"github.com/your-org/vigil/internal/models"
)

type memFrameStore struct {
	objects map[string][]byte
}

func (s *memFrameStore) GetObject(_ context.Context, key string) ([]byte, error) {
	data, ok := s.objects[key]
	if !ok {
		return nil, errors.New("no such object")
	}
	return data, nil
}

type memEventStore struct {
	mu      sync.Mutex
	saved   []*models.Event
	rules   []models.AlertRule
	saveErr error
	ruleErr error
}

func (s *memEventStore) SaveEvent(_ context.Context, event *models.Event) error {
	if s.saveErr != nil {
		return s.saveErr
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.saved = append(s.saved, event)
	return nil
}

func (s *memEventStore) GetEnabledRules(context.Context) ([]models.AlertRule, error) {
	if s.ruleErr != nil {
		return nil, s.ruleErr
	}
	return s.rules, nil
}

type fakeAnalyzer struct {
	desc     models.Description
	attempts []models.ProviderAttempt
	err      error
	gotInput inference.Input
	gotGen   int
}

func (a *fakeAnalyzer) Analyze(_ context.Context, _ models.TriggerTask, in inference.Input, generation int) (models.Description, []models.ProviderAttempt, error) {
	a.gotInput = in
	a.gotGen = generation
	return a.desc, a.attempts, a.err
}

type fakeResolver struct {
	matches []models.EntityMatch
	isNew   bool
	err     error
	called  bool
}

func (r *fakeResolver) Resolve(_ context.Context, _ *models.Event, _ []byte) ([]models.EntityMatch, bool, error) {
	r.called = true
	return r.matches, r.isNew, r.err
}

type fakeScorer struct {
	result  models.AnomalyResult
	updated []*models.Event
	mu      sync.Mutex
}

func (s *fakeScorer) Score(_ context.Context, _ *models.Event) models.AnomalyResult {
	return s.result
}

func (s *fakeScorer) Update(event *models.Event) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.updated = append(s.updated, event)
}

type fakeEngine struct {
	actions  []models.TriggeredAction
	gotEvent *models.Event
}

func (e *fakeEngine) Evaluate(_ context.Context, event *models.Event, _ []models.AlertRule) []models.TriggeredAction {
	e.gotEvent = event
	return e.actions
}

type recordingNotifier struct {
	mu        sync.Mutex
	decisions []models.AlertDecision
}

func (n *recordingNotifier) Publish(_ context.Context, d models.AlertDecision) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.decisions = append(n.decisions, d)
}

type fixture struct {
	frames   *memFrameStore
	store    *memEventStore
	analyzer *fakeAnalyzer
	resolver *fakeResolver
	scorer   *fakeScorer
	engine   *fakeEngine
	notifier *recordingNotifier
	pipeline *Pipeline
}

func newFixture() *fixture {
	f := &fixture{
		frames: &memFrameStore{objects: map[string][]byte{
			"c1/f1.jpg": []byte("frame-1"),
			"c1/f2.jpg": []byte("frame-2"),
			"c1/f3.jpg": []byte("frame-3"),
		}},
		store: &memEventStore{},
		analyzer: &fakeAnalyzer{
			desc: models.Description{
				Text:       "person at front door",
				Provider:   "primary",
				Detections: []models.Detection{{Type: "person", Confidence: 0.9}},
				UsedMode:   models.ModeMultiFrame,
				Generation: 1,
			},
		},
		resolver: &fakeResolver{},
		scorer:   &fakeScorer{result: models.AnomalyResult{Score: 40, Tier: models.TierSlightlyUnusual}},
		engine:   &fakeEngine{},
		notifier: &recordingNotifier{},
	}
	f.pipeline = New(f.frames, f.store, f.analyzer, f.resolver, f.scorer, f.engine, f.notifier)
	return f
}

func testTask() models.TriggerTask {
	return models.TriggerTask{
		TriggerID:     uuid.New(),
		CameraID:      "c1",
		Timestamp:     time.Now(),
		FrameKeys:     []string{"c1/f1.jpg", "c1/f2.jpg", "c1/f3.jpg"},
		RequestedMode: models.ModeMultiFrame,
	}
}

func TestProcessHappyPath(t *testing.T) {
	f := newFixture()
	ruleID := uuid.New()
	f.engine.actions = []models.TriggeredAction{
		{RuleID: ruleID, RuleName: "Any Person", Actions: []string{"notify"}},
	}
	f.resolver.matches = []models.EntityMatch{
		{EntityID: uuid.New(), Name: "Unknown-1", Similarity: 0.88},
	}

	require.NoError(t, f.pipeline.Process(context.Background(), testTask()))

	require.Len(t, f.store.saved, 1)
	ev := f.store.saved[0]
	assert.Equal(t, "c1", ev.CameraID)
	assert.Equal(t, "person at front door", ev.Description.Text)
	assert.Len(t, ev.Matches, 1)
	require.NotNil(t, ev.Anomaly)
	assert.Equal(t, 40.0, ev.Anomaly.Score)
	assert.Equal(t, []uuid.UUID{ruleID}, ev.FiredRuleIDs)

	require.Len(t, f.notifier.decisions, 1)
	assert.Equal(t, ev.ID, f.notifier.decisions[0].EventID)
	assert.Equal(t, "Any Person", f.notifier.decisions[0].RuleName)
	assert.Equal(t, 40.0, f.notifier.decisions[0].Score)

	assert.Len(t, f.scorer.updated, 1, "baseline always learns from committed events")
	assert.Equal(t, 3, f.analyzer.gotInput.ImageCount())
	assert.Equal(t, 1, f.analyzer.gotGen)
}

func TestInferenceFailureCommitsDegradedEvent(t *testing.T) {
	f := newFixture()
	f.analyzer.err = inference.ErrAllProvidersExhausted
	f.analyzer.desc = models.Description{}
	f.analyzer.attempts = []models.ProviderAttempt{
		{Provider: "primary", Succeeded: false, Error: "timeout"},
		{Provider: "backup", Succeeded: false, Error: "timeout"},
	}

	require.NoError(t, f.pipeline.Process(context.Background(), testTask()),
		"inference failure degrades the event, it does not drop the trigger")

	require.Len(t, f.store.saved, 1)
	ev := f.store.saved[0]
	assert.True(t, ev.Description.Failed)
	assert.Equal(t, models.SkipInferenceFailed, ev.SkipReason)
	assert.Len(t, ev.Attempts, 2, "failed attempts stay on the ledger")
	assert.True(t, f.resolver.called, "entity resolution still runs on the raw frame")
	assert.Len(t, f.scorer.updated, 1)
}

func TestCostLimitSkipReason(t *testing.T) {
	f := newFixture()
	f.analyzer.err = inference.ErrCostLimitExceeded

	require.NoError(t, f.pipeline.Process(context.Background(), testTask()))

	require.Len(t, f.store.saved, 1)
	assert.Equal(t, models.SkipCostLimit, f.store.saved[0].SkipReason)
}

func TestResolverFailureDoesNotAbort(t *testing.T) {
	f := newFixture()
	f.resolver.err = errors.New("model not loaded")

	require.NoError(t, f.pipeline.Process(context.Background(), testTask()))

	require.Len(t, f.store.saved, 1)
	assert.Empty(t, f.store.saved[0].Matches)
	require.NotNil(t, f.store.saved[0].Anomaly, "scoring runs after a resolver failure")
}

func TestRuleLoadFailureCommitsWithoutEvaluation(t *testing.T) {
	f := newFixture()
	f.store.ruleErr = errors.New("db down")
	f.engine.actions = []models.TriggeredAction{{RuleID: uuid.New(), RuleName: "never"}}

	require.NoError(t, f.pipeline.Process(context.Background(), testTask()))

	require.Len(t, f.store.saved, 1)
	assert.Empty(t, f.store.saved[0].FiredRuleIDs)
	assert.Empty(t, f.notifier.decisions)
}

func TestCommitFailureReturnsError(t *testing.T) {
	f := newFixture()
	f.store.saveErr = errors.New("connection refused")
	f.engine.actions = []models.TriggeredAction{{RuleID: uuid.New(), RuleName: "r"}}

	err := f.pipeline.Process(context.Background(), testTask())

	require.Error(t, err, "commit failure must bubble up for redelivery")
	assert.Empty(t, f.notifier.decisions, "no notifications before a successful commit")
}

func TestMissingFramesDegradeToEmptyInput(t *testing.T) {
	f := newFixture()
	f.frames.objects = map[string][]byte{} // storage lost the frames

	require.NoError(t, f.pipeline.Process(context.Background(), testTask()))

	assert.Equal(t, 0, f.analyzer.gotInput.ImageCount())
	assert.False(t, f.resolver.called, "no frame, nothing to embed")
	require.Len(t, f.store.saved, 1)
}

func TestReanalysisKeepsEventIdentity(t *testing.T) {
	f := newFixture()
	original := uuid.New()

	task := testTask()
	task.Reanalysis = true
	task.EventID = &original
	task.Generation = 2

	require.NoError(t, f.pipeline.Process(context.Background(), task))

	require.Len(t, f.store.saved, 1)
	assert.Equal(t, original, f.store.saved[0].ID)
	assert.Equal(t, 2, f.analyzer.gotGen)
}

func TestClipLoadedOnlyForVideoNative(t *testing.T) {
	f := newFixture()
	f.frames.objects["c1/clip.mp4"] = []byte("clip-bytes")

	task := testTask()
	task.ClipKey = "c1/clip.mp4"
	require.NoError(t, f.pipeline.Process(context.Background(), task))
	assert.Nil(t, f.analyzer.gotInput.Clip, "multi_frame requests never load the clip")

	task.RequestedMode = models.ModeVideoNative
	require.NoError(t, f.pipeline.Process(context.Background(), task))
	assert.Equal(t, []byte("clip-bytes"), f.analyzer.gotInput.Clip)
}
