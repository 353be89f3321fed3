package baseline

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/your-org/vigil/internal/config"
	"github.com/your-org/vigil/internal/models"
)

type memBaselineStore struct {
	mu        sync.Mutex
	baselines map[string]*models.CameraBaseline
	getErr    error
}

func newMemBaselineStore() *memBaselineStore {
	return &memBaselineStore{baselines: make(map[string]*models.CameraBaseline)}
}

func (s *memBaselineStore) GetBaseline(_ context.Context, cameraID string) (*models.CameraBaseline, error) {
	if s.getErr != nil {
		return nil, s.getErr
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.baselines[cameraID], nil
}

func (s *memBaselineStore) SaveBaseline(_ context.Context, b *models.CameraBaseline) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.baselines[b.CameraID] = b
	return nil
}

func testBaselineCfg() config.BaselineConfig {
	return config.BaselineConfig{
		DecayHalfLife: 14 * 24 * time.Hour,
		MinWindow:     7 * 24 * time.Hour,
		HourWeight:    0.4,
		TypeWeight:    0.3,
		CountWeight:   0.3,
	}
}

func eventAt(camera string, ts time.Time, detType string) *models.Event {
	return &models.Event{
		ID:        uuid.New(),
		CameraID:  camera,
		Timestamp: ts,
		Description: models.Description{
			Detections: []models.Detection{{Type: detType}},
		},
	}
}

// seedHistory feeds `perDay` person events at the given hour for `days`
// consecutive weekdays ending yesterday.
func seedHistory(t *testing.T, m *Manager, camera string, hour, perDay, days int) {
	t.Helper()
	ctx := context.Background()
	now := time.Now()
	for d := days; d >= 1; d-- {
		day := now.AddDate(0, 0, -d)
		// Pin to weekdays so every event lands in the same day-type bucket.
		for day.Weekday() == time.Saturday || day.Weekday() == time.Sunday {
			day = day.AddDate(0, 0, -1)
		}
		ts := time.Date(day.Year(), day.Month(), day.Day(), hour, 0, 0, 0, time.Local)
		for i := 0; i < perDay; i++ {
			require.NoError(t, m.Apply(ctx, eventAt(camera, ts.Add(time.Duration(i)*time.Minute), "person")))
		}
	}
}

func factor(t *testing.T, res models.AnomalyResult, name string) models.AnomalyFactor {
	t.Helper()
	for _, f := range res.Factors {
		if f.Name == name {
			return f
		}
	}
	t.Fatalf("factor %s missing", name)
	return models.AnomalyFactor{}
}

func weekdayAtHour(hour int) time.Time {
	ts := time.Now()
	for ts.Weekday() == time.Saturday || ts.Weekday() == time.Sunday {
		ts = ts.AddDate(0, 0, -1)
	}
	return time.Date(ts.Year(), ts.Month(), ts.Day(), hour, 30, 0, 0, time.Local)
}

func TestHourRarityMonotonicity(t *testing.T) {
	store := newMemBaselineStore()
	m := NewManager(store, testBaselineCfg())

	// Busy afternoons, dead nights, for two weeks.
	seedHistory(t, m, "yard", 14, 6, 14)

	night := m.Score(context.Background(), eventAt("yard", weekdayAtHour(3), "person"))
	afternoon := m.Score(context.Background(), eventAt("yard", weekdayAtHour(14), "person"))

	assert.False(t, night.BaselineImmature)
	nightHour := factor(t, night, "hour_rarity")
	dayHour := factor(t, afternoon, "hour_rarity")
	assert.Greater(t, nightHour.Score, dayHour.Score,
		"3am on a dead-night camera must out-score 2pm on its busy hours")
	assert.Greater(t, night.Score, afternoon.Score)
}

func TestTypeRarityPrefersUnseenType(t *testing.T) {
	store := newMemBaselineStore()
	m := NewManager(store, testBaselineCfg())
	seedHistory(t, m, "gate", 14, 6, 14)

	person := m.Score(context.Background(), eventAt("gate", weekdayAtHour(14), "person"))
	vehicle := m.Score(context.Background(), eventAt("gate", weekdayAtHour(14), "vehicle"))

	assert.Greater(t, factor(t, vehicle, "type_rarity").Score,
		factor(t, person, "type_rarity").Score)
}

func TestColdStartFlagsImmatureButScores(t *testing.T) {
	store := newMemBaselineStore()
	m := NewManager(store, testBaselineCfg())

	ev := eventAt("new_cam", time.Now(), "person")
	require.NoError(t, m.Apply(context.Background(), ev))

	res := m.Score(context.Background(), eventAt("new_cam", time.Now(), "person"))
	assert.True(t, res.BaselineImmature)
	assert.NotEmpty(t, res.Factors, "immature baselines still produce a full score")
	assert.NotEmpty(t, res.Tier)
}

func TestStoreOutageDegradesToImmatureZero(t *testing.T) {
	store := newMemBaselineStore()
	store.getErr = errors.New("db down")
	m := NewManager(store, testBaselineCfg())

	res := m.Score(context.Background(), eventAt("cam", time.Now(), "person"))
	assert.True(t, res.BaselineImmature)
	assert.Zero(t, res.Score)
	assert.Equal(t, models.TierNormal, res.Tier)
}

func TestTiers(t *testing.T) {
	cases := []struct {
		score float64
		tier  string
	}{
		{0, models.TierNormal},
		{30, models.TierNormal},
		{31, models.TierSlightlyUnusual},
		{60, models.TierSlightlyUnusual},
		{61, models.TierUnusual},
		{80, models.TierUnusual},
		{81, models.TierHighlyAnomalous},
		{100, models.TierHighlyAnomalous},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.tier, tierOf(tc.score), "score %.0f", tc.score)
	}
}

func TestUpdatePersistsThroughStore(t *testing.T) {
	store := newMemBaselineStore()
	m := NewManager(store, testBaselineCfg())

	require.NoError(t, m.Apply(context.Background(), eventAt("cam", time.Now(), "person")))

	saved := store.baselines["cam"]
	require.NotNil(t, saved)
	assert.Equal(t, "cam", saved.CameraID)
	assert.False(t, saved.FirstObserved.IsZero())
	assert.Len(t, saved.Buckets, 1)
}

func TestDayFoldBuildsBucketMean(t *testing.T) {
	store := newMemBaselineStore()
	cfg := testBaselineCfg()
	cfg.DecayHalfLife = 24 * time.Hour // aggressive decay converges fast
	m := NewManager(store, cfg)

	seedHistory(t, m, "door", 9, 4, 10)

	saved := store.baselines["door"]
	require.NotNil(t, saved)
	key := models.BucketKey{Hour: 9, Day: models.DayWeekday}
	bucket := saved.Buckets[key.String()]
	require.NotNil(t, bucket)
	assert.Greater(t, bucket.Mean, 2.0, "EW mean approaches the 4 events/day rate")
	assert.Greater(t, bucket.TypeCounts["person"], 0.0)
}

func TestUpdateIsFireAndForget(t *testing.T) {
	store := newMemBaselineStore()
	m := NewManager(store, testBaselineCfg())

	m.Update(eventAt("cam", time.Now(), "person"))

	require.Eventually(t, func() bool {
		store.mu.Lock()
		defer store.mu.Unlock()
		return store.baselines["cam"] != nil
	}, 2*time.Second, 10*time.Millisecond)
}
