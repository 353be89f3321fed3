package dto

import "github.com/google/uuid"

// TriggerResponse acknowledges an accepted camera trigger.
type TriggerResponse struct {
	TriggerID uuid.UUID `json:"trigger_id"`
	CameraID  string    `json:"camera_id"`
	FrameKeys []string  `json:"frame_keys"`
	ClipKey   string    `json:"clip_key,omitempty"`
	Mode      string    `json:"mode"`
}
