package models

import (
	"time"

	"github.com/google/uuid"
)

// AnalysisMode is the granularity of visual input sent to inference.
type AnalysisMode string

const (
	ModeSingleFrame AnalysisMode = "single_frame"
	ModeMultiFrame  AnalysisMode = "multi_frame"
	ModeVideoNative AnalysisMode = "video_native"
)

// Skip reasons recorded on events whose enrichment did not run.
const (
	SkipInferenceFailed = "inference_failed"
	SkipCostLimit       = "cost_limit"
)

// TriggerTask is the message published to NATS for worker processing.
// One task per camera trigger; frames are already in object storage.
type TriggerTask struct {
	TriggerID     uuid.UUID    `json:"trigger_id"`
	CameraID      string       `json:"camera_id"`
	Timestamp     time.Time    `json:"timestamp"`
	FrameKeys     []string     `json:"frame_keys"`
	ClipKey       string       `json:"clip_key,omitempty"`
	RequestedMode AnalysisMode `json:"requested_mode"`
	// Reanalysis re-runs inference for an existing event; the original
	// description is preserved and the new one gets a higher generation.
	Reanalysis bool       `json:"reanalysis,omitempty"`
	EventID    *uuid.UUID `json:"event_id,omitempty"`
	Generation int        `json:"generation,omitempty"`
}

// Detection is one recognized subject within a description.
type Detection struct {
	Type       string      `json:"type"` // person, vehicle, animal, package, motion
	Label      string      `json:"label,omitempty"`
	Confidence float32     `json:"confidence,omitempty"`
	BBox       *[4]float32 `json:"bbox,omitempty"` // x1, y1, x2, y2; nil when provider returns none
}

// Description is the normalized inference output for one analysis attempt
// generation. Immutable once produced.
type Description struct {
	Text          string        `json:"text"`
	Confidence    float32       `json:"confidence,omitempty"`
	Detections    []Detection   `json:"detections,omitempty"`
	Provider      string        `json:"provider,omitempty"`
	Attempts      int           `json:"attempts"`
	CostUSD       float64       `json:"cost_usd"`
	Latency       time.Duration `json:"latency"`
	RequestedMode AnalysisMode  `json:"requested_mode"`
	UsedMode      AnalysisMode  `json:"used_mode"`
	Generation    int           `json:"generation"`
	Failed        bool          `json:"failed,omitempty"`
}

// ProviderAttempt is the cost/usage record for a single provider call,
// kept whether or not the attempt succeeded.
type ProviderAttempt struct {
	Provider  string        `json:"provider"`
	Mode      AnalysisMode  `json:"mode"`
	Images    int           `json:"images"`
	CostUSD   float64       `json:"cost_usd"`
	Latency   time.Duration `json:"latency"`
	Succeeded bool          `json:"succeeded"`
	Error     string        `json:"error,omitempty"`
	At        time.Time     `json:"at"`
}

// AnomalyFactor is one contributing sub-score with its rationale.
type AnomalyFactor struct {
	Name      string  `json:"name"`
	Score     float64 `json:"score"` // 0-100
	Weight    float64 `json:"weight"`
	Rationale string  `json:"rationale"`
}

// Severity tiers for anomaly scores.
const (
	TierNormal          = "normal"
	TierSlightlyUnusual = "slightly_unusual"
	TierUnusual         = "unusual"
	TierHighlyAnomalous = "highly_anomalous"
)

// AnomalyResult is the scored deviation of an event from its camera baseline.
type AnomalyResult struct {
	EventID          uuid.UUID       `json:"event_id"`
	Score            float64         `json:"score"` // 0-100
	Tier             string          `json:"tier"`
	Factors          []AnomalyFactor `json:"factors"`
	BaselineImmature bool            `json:"baseline_immature,omitempty"`
}

// EntityMatch is one resolved entity for an event. Weak matches fall in the
// ambiguity band and are attached without merging into the entity centroid.
type EntityMatch struct {
	EntityID   uuid.UUID `json:"entity_id"`
	Name       string    `json:"name,omitempty"`
	Similarity float32   `json:"similarity"`
	Weak       bool      `json:"weak,omitempty"`
}

// Event is the aggregate root: trigger metadata enriched stage by stage,
// then committed immutably.
type Event struct {
	ID           uuid.UUID         `json:"id" db:"id"`
	CameraID     string            `json:"camera_id" db:"camera_id"`
	Timestamp    time.Time         `json:"timestamp" db:"timestamp"`
	FrameKeys    []string          `json:"frame_keys" db:"frame_keys"`
	ClipKey      string            `json:"clip_key,omitempty" db:"clip_key"`
	Description  Description       `json:"description" db:"description"`
	Embedding    []float32         `json:"-" db:"embedding"`
	Matches      []EntityMatch     `json:"matches,omitempty" db:"matches"`
	Anomaly      *AnomalyResult    `json:"anomaly,omitempty" db:"anomaly"`
	Attempts     []ProviderAttempt `json:"attempts,omitempty" db:"attempts"`
	FiredRuleIDs []uuid.UUID       `json:"fired_rule_ids,omitempty" db:"fired_rule_ids"`
	SkipReason   string            `json:"skip_reason,omitempty" db:"skip_reason"`
	NewEntity    bool              `json:"new_entity,omitempty" db:"new_entity"`
	CreatedAt    time.Time         `json:"created_at" db:"created_at"`
}

// MatchedEntityIDs returns the ids of strong (non-weak) matches.
func (e *Event) MatchedEntityIDs() []uuid.UUID {
	var ids []uuid.UUID
	for _, m := range e.Matches {
		if !m.Weak {
			ids = append(ids, m.EntityID)
		}
	}
	return ids
}

// RepresentativeFrame returns the object key of the frame used for
// embedding extraction, or "" when the trigger carried no frames.
func (e *Event) RepresentativeFrame() string {
	if len(e.FrameKeys) == 0 {
		return ""
	}
	return e.FrameKeys[len(e.FrameKeys)/2]
}

// AlertDecision is the finalized notification contract handed to sinks.
type AlertDecision struct {
	EventID   uuid.UUID `json:"event_id"`
	CameraID  string    `json:"camera_id"`
	RuleID    uuid.UUID `json:"rule_id"`
	RuleName  string    `json:"rule_name"`
	Actions   []string  `json:"actions"`
	Score     float64   `json:"score,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}
