package inference

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/your-org/vigil/internal/config"
	"github.com/your-org/vigil/internal/models"
)

type fakeProvider struct {
	id     string
	multi  bool
	clips  bool
	cost   float64
	err    error
	result *RawResult
	calls  int
}

func (f *fakeProvider) ID() string { return f.id }

func (f *fakeProvider) Supports(mode models.AnalysisMode) bool {
	switch mode {
	case models.ModeSingleFrame:
		return true
	case models.ModeMultiFrame:
		return f.multi
	case models.ModeVideoNative:
		return f.clips
	}
	return false
}

func (f *fakeProvider) EstimateCost(in Input) float64 {
	return f.cost * float64(in.ImageCount())
}

func (f *fakeProvider) Analyze(_ context.Context, _ Input) (*RawResult, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	if f.result != nil {
		return f.result, nil
	}
	return &RawResult{Text: "ok from " + f.id}, nil
}

func testCfg() config.InferenceConfig {
	return config.InferenceConfig{
		AttemptTimeout:   time.Second,
		OverallDeadline:  5 * time.Second,
		TransientRetries: 1,
		BudgetPolicy:     "fallback",
	}
}

func testTask() models.TriggerTask {
	return models.TriggerTask{
		TriggerID:     uuid.New(),
		CameraID:      "front_door",
		Timestamp:     time.Now(),
		RequestedMode: models.ModeSingleFrame,
	}
}

func testInput() Input {
	return Input{CameraID: "front_door", Mode: models.ModeSingleFrame, Frames: [][]byte{{0xff}}}
}

func TestFallbackDeterminism(t *testing.T) {
	a := &fakeProvider{id: "a", err: &TransientError{Err: errors.New("timeout")}}
	b := &fakeProvider{id: "b", err: &TransientError{Err: errors.New("reset")}}
	c := &fakeProvider{id: "c", result: &RawResult{Text: "person in red jacket at door", Confidence: 0.9}}

	o := NewOrchestrator([]Provider{a, b, c}, testCfg(), nil)

	desc, attempts, err := o.Analyze(context.Background(), testTask(), testInput(), 1)
	require.NoError(t, err)

	assert.Equal(t, "c", desc.Provider)
	assert.Equal(t, "person in red jacket at door", desc.Text)
	// 1 + retries attempts for a and b, exactly 1 for c.
	assert.Equal(t, 2, a.calls)
	assert.Equal(t, 2, b.calls)
	assert.Equal(t, 1, c.calls)
	require.Len(t, attempts, 5)
	assert.Equal(t, 5, desc.Attempts)
	assert.True(t, attempts[4].Succeeded)
	assert.False(t, attempts[0].Succeeded)
}

func TestUnavailableSkipsWithoutRetry(t *testing.T) {
	a := &fakeProvider{id: "a", err: &UnavailableError{Err: errors.New("401")}}
	b := &fakeProvider{id: "b"}

	o := NewOrchestrator([]Provider{a, b}, testCfg(), nil)

	desc, attempts, err := o.Analyze(context.Background(), testTask(), testInput(), 1)
	require.NoError(t, err)
	assert.Equal(t, "b", desc.Provider)
	assert.Equal(t, 1, a.calls, "auth errors must not be retried")
	require.Len(t, attempts, 2)
}

func TestAllProvidersExhausted(t *testing.T) {
	a := &fakeProvider{id: "a", err: &TransientError{Err: errors.New("down")}}
	b := &fakeProvider{id: "b", err: &UnavailableError{Err: errors.New("quota")}}

	o := NewOrchestrator([]Provider{a, b}, testCfg(), nil)

	_, attempts, err := o.Analyze(context.Background(), testTask(), testInput(), 1)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrAllProvidersExhausted)
	// Attempt ledger survives failure for cost accounting.
	assert.Len(t, attempts, 3)
}

func TestModeDemotionRecorded(t *testing.T) {
	// Provider handles single frames only; camera requested a clip.
	p := &fakeProvider{id: "frames_only"}
	o := NewOrchestrator([]Provider{p}, testCfg(), nil)

	task := testTask()
	task.RequestedMode = models.ModeVideoNative
	in := testInput()
	in.Mode = models.ModeVideoNative
	in.Clip = []byte{0x01}

	desc, _, err := o.Analyze(context.Background(), task, in, 1)
	require.NoError(t, err)
	assert.Equal(t, models.ModeVideoNative, desc.RequestedMode)
	assert.Equal(t, models.ModeSingleFrame, desc.UsedMode)
}

func TestCostLimitFallbackPolicy(t *testing.T) {
	expensive := &fakeProvider{id: "expensive", cost: 5.0}
	free := &fakeProvider{id: "free"}

	cfg := testCfg()
	cfg.DailyBudgetUSD = 1.0

	o := NewOrchestrator([]Provider{expensive, free}, cfg, nil)

	desc, _, err := o.Analyze(context.Background(), testTask(), testInput(), 1)
	require.NoError(t, err)
	assert.Equal(t, "free", desc.Provider)
	assert.Zero(t, expensive.calls, "over-budget provider must be skipped entirely")
}

func TestCostLimitFailPolicy(t *testing.T) {
	expensive := &fakeProvider{id: "expensive", cost: 5.0}

	cfg := testCfg()
	cfg.DailyBudgetUSD = 1.0
	cfg.BudgetPolicy = "fail"

	o := NewOrchestrator([]Provider{expensive}, cfg, nil)

	_, _, err := o.Analyze(context.Background(), testTask(), testInput(), 1)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrCostLimitExceeded)
	assert.Zero(t, expensive.calls)
}

func TestSpendLedgerRollsOver(t *testing.T) {
	l := NewSpendLedger()
	day1 := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	day2 := day1.Add(24 * time.Hour)

	l.Add(0.50, day1)
	day, month := l.Totals(day1)
	assert.InDelta(t, 0.50, day, 1e-9)
	assert.InDelta(t, 0.50, month, 1e-9)

	day, month = l.Totals(day2)
	assert.Zero(t, day, "daily scope resets at midnight")
	assert.InDelta(t, 0.50, month, 1e-9, "monthly scope carries on")

	assert.True(t, l.WouldExceed(0.6, 0.5, 0, day2.Add(time.Hour)))
	assert.False(t, l.WouldExceed(0.4, 0.5, 0, day2.Add(time.Hour)))
}

func TestReanalyzeProducesNewGeneration(t *testing.T) {
	p := &fakeProvider{id: "p"}
	o := NewOrchestrator([]Provider{p}, testCfg(), nil)

	first, _, err := o.Analyze(context.Background(), testTask(), testInput(), 1)
	require.NoError(t, err)
	second, _, err := o.Analyze(context.Background(), testTask(), testInput(), 2)
	require.NoError(t, err)

	assert.Equal(t, 1, first.Generation)
	assert.Equal(t, 2, second.Generation)
}
