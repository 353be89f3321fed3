package dto

import "github.com/google/uuid"

type EntityResponse struct {
	ID          uuid.UUID `json:"id"`
	Type        string    `json:"type"`
	Name        string    `json:"name"`
	FirstSeen   string    `json:"first_seen"`
	LastSeen    string    `json:"last_seen"`
	Occurrences int       `json:"occurrences"`
	VIP         bool      `json:"vip"`
	Blocked     bool      `json:"blocked"`
	CreatedAt   string    `json:"created_at"`
}

type EntityListResponse struct {
	Entities []EntityResponse `json:"entities"`
	Total    int              `json:"total"`
}

// UpdateEntityRequest covers the user-editable entity fields.
type UpdateEntityRequest struct {
	Name    *string `json:"name,omitempty"`
	VIP     *bool   `json:"vip,omitempty"`
	Blocked *bool   `json:"blocked,omitempty"`
}
