package dto

import (
	"github.com/google/uuid"

	"github.com/your-org/vigil/internal/models"
)

type EventResponse struct {
	ID           uuid.UUID             `json:"id"`
	CameraID     string                `json:"camera_id"`
	Timestamp    string                `json:"timestamp"`
	Text         string                `json:"text"`
	Detections   []models.Detection    `json:"detections,omitempty"`
	Provider     string                `json:"provider,omitempty"`
	UsedMode     string                `json:"used_mode,omitempty"`
	Generation   int                   `json:"generation"`
	Failed       bool                  `json:"failed,omitempty"`
	SkipReason   string                `json:"skip_reason,omitempty"`
	Matches      []models.EntityMatch  `json:"matches,omitempty"`
	Anomaly      *models.AnomalyResult `json:"anomaly,omitempty"`
	FiredRuleIDs []uuid.UUID           `json:"fired_rule_ids,omitempty"`
	NewEntity    bool                  `json:"new_entity,omitempty"`
	FrameURLs    []string              `json:"frame_urls,omitempty"`
	CreatedAt    string                `json:"created_at"`
}

type EventListResponse struct {
	Events []EventResponse `json:"events"`
	Total  int             `json:"total"`
}

// EventDetailResponse adds the provider attempt ledger to the event view.
type EventDetailResponse struct {
	EventResponse
	Attempts []models.ProviderAttempt `json:"attempts,omitempty"`
}

// ReanalyzeRequest re-runs inference for an existing event. Mode is optional;
// empty keeps the event's original requested mode.
type ReanalyzeRequest struct {
	Mode string `json:"mode,omitempty"`
}

// WSAlert is a WebSocket message for real-time alert delivery.
type WSAlert struct {
	Type     string               `json:"type"` // alert
	CameraID string               `json:"camera_id"`
	Data     models.AlertDecision `json:"data"`
}
