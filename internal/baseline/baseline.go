// Package baseline maintains per-camera decayed activity statistics and
// scores events against them.
package baseline

import (
	"context"
	"log/slog"
	"math"
	"sync"
	"time"

	"github.com/your-org/vigil/internal/config"
	"github.com/your-org/vigil/internal/models"
)

// Store is the slice of the event store the baseline needs.
type Store interface {
	GetBaseline(ctx context.Context, cameraID string) (*models.CameraBaseline, error)
	SaveBaseline(ctx context.Context, b *models.CameraBaseline) error
}

// cameraState serializes all mutation for one camera; scoring reads may be
// slightly stale without correctness impact.
type cameraState struct {
	mu       sync.RWMutex
	baseline *models.CameraBaseline
}

// Manager owns the in-memory working set of camera baselines. Update is
// asynchronous and never blocks the alerting path; Score reads the current
// snapshot.
type Manager struct {
	store Store
	cfg   config.BaselineConfig
	now   func() time.Time

	mu   sync.Mutex
	cams map[string]*cameraState
}

func NewManager(store Store, cfg config.BaselineConfig) *Manager {
	return &Manager{
		store: store,
		cfg:   cfg,
		now:   time.Now,
		cams:  make(map[string]*cameraState),
	}
}

// Update folds the event into its camera's baseline in the background.
// The baseline must reflect ground truth, so callers invoke this for every
// committed event regardless of whether anything alerted on it.
func (m *Manager) Update(event *models.Event) {
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := m.Apply(ctx, event); err != nil {
			slog.Warn("baseline update failed", "camera_id", event.CameraID, "error", err)
		}
	}()
}

// Apply is the synchronous form of Update.
func (m *Manager) Apply(ctx context.Context, event *models.Event) error {
	state, err := m.state(ctx, event.CameraID)
	if err != nil {
		return err
	}

	state.mu.Lock()
	b := state.baseline
	ingest(b, event, m.cfg.DecayHalfLife)
	snapshot := clone(b)
	state.mu.Unlock()

	return m.store.SaveBaseline(ctx, snapshot)
}

// state returns the camera's working state, loading it from the store on
// first touch.
func (m *Manager) state(ctx context.Context, cameraID string) (*cameraState, error) {
	m.mu.Lock()
	st, ok := m.cams[cameraID]
	if !ok {
		st = &cameraState{}
		m.cams[cameraID] = st
	}
	m.mu.Unlock()

	st.mu.Lock()
	defer st.mu.Unlock()
	if st.baseline == nil {
		b, err := m.store.GetBaseline(ctx, cameraID)
		if err != nil {
			return nil, err
		}
		if b == nil {
			b = models.NewCameraBaseline(cameraID)
		}
		st.baseline = b
	}
	return st, nil
}

// ingest mutates the baseline with one observed event. Day-level counts are
// folded into the exponentially weighted statistics when the bucket first
// sees a new day; the fold factor derives from the configured half-life.
func ingest(b *models.CameraBaseline, event *models.Event, halfLife time.Duration) {
	ts := event.Timestamp
	day := ts.Format("2006-01-02")
	alpha := foldAlpha(halfLife)

	if b.FirstObserved.IsZero() || ts.Before(b.FirstObserved) {
		b.FirstObserved = ts
	}

	key := models.BucketKey{Hour: ts.Hour(), Day: models.DayTypeOf(ts)}
	bucket := b.Bucket(key)

	if bucket.PendingDay != day {
		if bucket.PendingDay != "" {
			foldEW(&bucket.Mean, &bucket.Var, bucket.PendingCount, alpha)
			decayMap(bucket.TypeCounts, daysBetween(bucket.PendingDay, day), halfLife)
		}
		bucket.PendingDay = day
		bucket.PendingCount = 0
	}
	bucket.PendingCount++

	for _, d := range event.Description.Detections {
		if d.Type == "" {
			continue
		}
		bucket.TypeCounts[d.Type]++
	}

	if b.TodayDate != day {
		if b.TodayDate != "" {
			foldEW(&b.DailyMean, &b.DailyVar, b.TodayCount, alpha)
		}
		b.TodayDate = day
		b.TodayCount = 0
	}
	b.TodayCount++

	b.UpdatedAt = ts
}

// foldEW folds one day's observed count into an exponentially weighted
// mean/variance pair.
func foldEW(mean, variance *float64, observed, alpha float64) {
	delta := observed - *mean
	*mean += alpha * delta
	*variance = (1 - alpha) * (*variance + alpha*delta*delta)
}

// foldAlpha converts the half-life into a per-day EW factor.
func foldAlpha(halfLife time.Duration) float64 {
	days := halfLife.Hours() / 24
	if days <= 0 {
		days = 14
	}
	return 1 - math.Pow(0.5, 1/days)
}

func decayMap(counts map[string]float64, elapsedDays float64, halfLife time.Duration) {
	if elapsedDays <= 0 {
		return
	}
	days := halfLife.Hours() / 24
	if days <= 0 {
		return
	}
	factor := math.Pow(0.5, elapsedDays/days)
	for k := range counts {
		counts[k] *= factor
	}
}

func daysBetween(from, to string) float64 {
	a, err1 := time.Parse("2006-01-02", from)
	b, err2 := time.Parse("2006-01-02", to)
	if err1 != nil || err2 != nil {
		return 1
	}
	return math.Abs(b.Sub(a).Hours() / 24)
}

func clone(b *models.CameraBaseline) *models.CameraBaseline {
	cp := *b
	cp.Buckets = make(map[string]*models.BaselineBucket, len(b.Buckets))
	for k, v := range b.Buckets {
		bucket := *v
		bucket.TypeCounts = make(map[string]float64, len(v.TypeCounts))
		for t, c := range v.TypeCounts {
			bucket.TypeCounts[t] = c
		}
		cp.Buckets[k] = &bucket
	}
	return &cp
}
