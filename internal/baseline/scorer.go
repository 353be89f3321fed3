package baseline

import (
	"context"
	"fmt"
	"math"

	"github.com/your-org/vigil/internal/models"
	"github.com/your-org/vigil/internal/observability"
)

// Score rates the event's deviation from its camera baseline. It never
// blocks on in-flight updates beyond the camera's read lock and always
// produces a result; cameras without history score against an empty
// baseline flagged immature.
func (m *Manager) Score(ctx context.Context, event *models.Event) models.AnomalyResult {
	result := models.AnomalyResult{EventID: event.ID}

	state, err := m.state(ctx, event.CameraID)
	if err != nil {
		// Degraded: no baseline reachable, report an immature zero score.
		result.Tier = models.TierNormal
		result.BaselineImmature = true
		return result
	}

	state.mu.RLock()
	b := state.baseline
	key := models.BucketKey{Hour: event.Timestamp.Hour(), Day: models.DayTypeOf(event.Timestamp)}
	bucket := b.Buckets[key.String()]

	factors := []models.AnomalyFactor{
		hourRarity(bucket, key, m.cfg.HourWeight),
		typeRarity(bucket, event, m.cfg.TypeWeight),
		countDeviation(b, event, m.cfg.CountWeight),
	}
	mature := b.Mature(m.now(), m.cfg.MinWindow)
	state.mu.RUnlock()

	var score float64
	for _, f := range factors {
		score += f.Score * f.Weight
	}
	score = clamp(score, 0, 100)

	result.Score = math.Round(score)
	result.Tier = tierOf(result.Score)
	result.Factors = factors
	result.BaselineImmature = !mature

	observability.AnomalyScore.WithLabelValues(event.CameraID).Observe(result.Score)
	return result
}

// hourRarity scores how unusual any activity at all is for this hour and
// day type. An empty bucket means the camera has never seen events here.
func hourRarity(bucket *models.BaselineBucket, key models.BucketKey, weight float64) models.AnomalyFactor {
	rate := 0.0
	if bucket != nil {
		rate = bucket.Mean
		// Include the day in progress so a burst today tempers itself.
		if bucket.PendingCount > 0 {
			rate = math.Max(rate, bucket.PendingCount/2)
		}
	}
	score := 100 / (1 + 2*rate)
	return models.AnomalyFactor{
		Name:   "hour_rarity",
		Score:  clamp(score, 0, 100),
		Weight: weight,
		Rationale: fmt.Sprintf("camera averages %.2f events at %02d:00 on a %s",
			rate, key.Hour, key.Day),
	}
}

// typeRarity scores how unusual the event's detection types are for this
// hour. The rarest type observed in the event drives the score.
func typeRarity(bucket *models.BaselineBucket, event *models.Event, weight float64) models.AnomalyFactor {
	if len(event.Description.Detections) == 0 {
		return models.AnomalyFactor{
			Name: "type_rarity", Score: 0, Weight: weight,
			Rationale: "no detections to rate",
		}
	}

	var total float64
	if bucket != nil {
		for _, c := range bucket.TypeCounts {
			total += c
		}
	}
	if total == 0 {
		return models.AnomalyFactor{
			Name: "type_rarity", Score: 50, Weight: weight,
			Rationale: "no detection-type history for this hour",
		}
	}

	best := 0.0
	rarest := ""
	for _, d := range event.Description.Detections {
		freq := bucket.TypeCounts[d.Type] / total
		if s := 100 * (1 - freq); s > best {
			best = s
			rarest = d.Type
		}
	}
	return models.AnomalyFactor{
		Name:   "type_rarity",
		Score:  clamp(best, 0, 100),
		Weight: weight,
		Rationale: fmt.Sprintf("detection type %q seen in %.0f%% of this hour's history",
			rarest, 100-best),
	}
}

// countDeviation scores how far today's running event count sits above the
// camera's expected daily total.
func countDeviation(b *models.CameraBaseline, event *models.Event, weight float64) models.AnomalyFactor {
	today := b.TodayCount
	if b.TodayDate != event.Timestamp.Format("2006-01-02") {
		today = 0
	}
	z := (today + 1 - b.DailyMean) / math.Sqrt(b.DailyVar+1)
	score := clamp(z*20, 0, 100)
	return models.AnomalyFactor{
		Name:   "count_deviation",
		Score:  score,
		Weight: weight,
		Rationale: fmt.Sprintf("today at %.0f events vs expected %.1f/day",
			today+1, b.DailyMean),
	}
}

func tierOf(score float64) string {
	switch {
	case score < 31:
		return models.TierNormal
	case score <= 60:
		return models.TierSlightlyUnusual
	case score <= 80:
		return models.TierUnusual
	default:
		return models.TierHighlyAnomalous
	}
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
