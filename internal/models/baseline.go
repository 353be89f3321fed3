package models

import (
	"fmt"
	"time"
)

type DayType string

const (
	DayWeekday DayType = "weekday"
	DayWeekend DayType = "weekend"
)

// DayTypeOf buckets a timestamp into weekday/weekend.
func DayTypeOf(t time.Time) DayType {
	switch t.Weekday() {
	case time.Saturday, time.Sunday:
		return DayWeekend
	default:
		return DayWeekday
	}
}

// BucketKey addresses one cell of a camera's sparse baseline matrix.
type BucketKey struct {
	Hour int     `json:"hour"`
	Day  DayType `json:"day"`
}

func (k BucketKey) String() string {
	return fmt.Sprintf("%02d|%s", k.Hour, k.Day)
}

// BaselineBucket holds decay-weighted activity statistics for one
// (hour-of-day, day-type) cell: an exponentially weighted mean and variance
// of per-day event counts, plus a decayed detection-type frequency
// distribution.
type BaselineBucket struct {
	Mean       float64            `json:"mean"`
	Var        float64            `json:"var"`
	TypeCounts map[string]float64 `json:"type_counts,omitempty"`

	// Running count for the day currently being observed; folded into
	// Mean/Var when the bucket next sees a different day.
	PendingCount float64 `json:"pending_count,omitempty"`
	PendingDay   string  `json:"pending_day,omitempty"` // 2006-01-02
}

// CameraBaseline is the per-camera statistical model of normal activity.
// Mutated incrementally by every committed event for the camera.
type CameraBaseline struct {
	CameraID      string                     `json:"camera_id" db:"camera_id"`
	Buckets       map[string]*BaselineBucket `json:"buckets" db:"buckets"`
	FirstObserved time.Time                  `json:"first_observed" db:"first_observed"`

	// Camera-level daily totals used for the count-deviation factor.
	DailyMean  float64 `json:"daily_mean"`
	DailyVar   float64 `json:"daily_var"`
	TodayCount float64 `json:"today_count,omitempty"`
	TodayDate  string  `json:"today_date,omitempty"`

	UpdatedAt time.Time `json:"updated_at" db:"updated_at"`
}

// NewCameraBaseline returns an empty baseline for a camera.
func NewCameraBaseline(cameraID string) *CameraBaseline {
	return &CameraBaseline{
		CameraID: cameraID,
		Buckets:  make(map[string]*BaselineBucket),
	}
}

// Bucket returns the cell for the key, creating it on first use.
func (b *CameraBaseline) Bucket(key BucketKey) *BaselineBucket {
	k := key.String()
	bucket, ok := b.Buckets[k]
	if !ok {
		bucket = &BaselineBucket{TypeCounts: make(map[string]float64)}
		b.Buckets[k] = bucket
	}
	return bucket
}

// Mature reports whether the camera has at least minWindow of observed
// history behind its statistics.
func (b *CameraBaseline) Mature(now time.Time, minWindow time.Duration) bool {
	if b.FirstObserved.IsZero() {
		return false
	}
	return now.Sub(b.FirstObserved) >= minWindow
}
