package handlers

import (
	"context"
	"math"
	"net/http"
	"sort"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/your-org/vigil/internal/queue"
	"github.com/your-org/vigil/internal/storage"
)

type SystemHandler struct {
	db       *storage.PostgresStore
	minio    *storage.MinIOStore
	producer *queue.Producer
}

func NewSystemHandler(db *storage.PostgresStore, minio *storage.MinIOStore, producer *queue.Producer) *SystemHandler {
	return &SystemHandler{db: db, minio: minio, producer: producer}
}

func (h *SystemHandler) Healthz(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (h *SystemHandler) Readyz(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 3*time.Second)
	defer cancel()

	checks := map[string]string{}
	healthy := true

	if err := h.db.Ping(ctx); err != nil {
		checks["postgres"] = err.Error()
		healthy = false
	} else {
		checks["postgres"] = "ok"
	}

	if err := h.minio.Ping(ctx); err != nil {
		checks["minio"] = err.Error()
		healthy = false
	} else {
		checks["minio"] = "ok"
	}

	if err := h.producer.Ping(); err != nil {
		checks["nats"] = err.Error()
		healthy = false
	} else {
		checks["nats"] = "ok"
	}

	status := http.StatusOK
	if !healthy {
		status = http.StatusServiceUnavailable
	}

	c.JSON(status, gin.H{
		"status": map[bool]string{true: "ready", false: "not ready"}[healthy],
		"checks": checks,
	})
}

// CameraBaseline summarizes the learned activity profile for one camera:
// how long it has been observed, its daily event statistics and the busiest
// learned hour buckets.
func (h *SystemHandler) CameraBaseline(c *gin.Context) {
	cameraID := c.Param("id")

	b, err := h.db.GetBaseline(c.Request.Context(), cameraID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	if b == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "no baseline for camera"})
		return
	}

	type bucketSummary struct {
		Bucket string  `json:"bucket"` // "HH|weekday" / "HH|weekend"
		Mean   float64 `json:"mean"`
	}
	buckets := make([]bucketSummary, 0, len(b.Buckets))
	for key, bucket := range b.Buckets {
		buckets = append(buckets, bucketSummary{Bucket: key, Mean: bucket.Mean})
	}
	sort.Slice(buckets, func(i, j int) bool { return buckets[i].Mean > buckets[j].Mean })
	if len(buckets) > 10 {
		buckets = buckets[:10]
	}

	c.JSON(http.StatusOK, gin.H{
		"camera_id":      b.CameraID,
		"first_observed": b.FirstObserved.Format(time.RFC3339),
		"observed_days":  int(time.Since(b.FirstObserved).Hours() / 24),
		"daily_mean":     b.DailyMean,
		"daily_stddev":   math.Sqrt(b.DailyVar),
		"busiest":        buckets,
		"updated_at":     b.UpdatedAt.Format(time.RFC3339),
	})
}

// Spend reports accumulated provider costs for the current day and month,
// summed from the persisted attempt ledger.
func (h *SystemHandler) Spend(c *gin.Context) {
	now := time.Now()
	dayStart := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, now.Location())
	monthStart := time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, now.Location())

	day, err := h.db.SumAttemptCosts(c.Request.Context(), dayStart)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	month, err := h.db.SumAttemptCosts(c.Request.Context(), monthStart)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"day_usd":   day,
		"month_usd": month,
	})
}
