package dto

import (
	"github.com/google/uuid"

	"github.com/your-org/vigil/internal/models"
)

type RuleRequest struct {
	Name            string                `json:"name" binding:"required"`
	Enabled         *bool                 `json:"enabled,omitempty"` // defaults to true
	Priority        int                   `json:"priority"`
	Conditions      models.RuleConditions `json:"conditions"`
	Actions         []string              `json:"actions" binding:"required"`
	CooldownSeconds int                   `json:"cooldown_seconds"`
}

type RuleResponse struct {
	ID              uuid.UUID             `json:"id"`
	Name            string                `json:"name"`
	Enabled         bool                  `json:"enabled"`
	Priority        int                   `json:"priority"`
	Conditions      models.RuleConditions `json:"conditions"`
	Actions         []string              `json:"actions"`
	CooldownSeconds int                   `json:"cooldown_seconds"`
	LastTriggered   string                `json:"last_triggered,omitempty"`
	CreatedAt       string                `json:"created_at"`
	UpdatedAt       string                `json:"updated_at"`
}

type RuleListResponse struct {
	Rules []RuleResponse `json:"rules"`
	Total int            `json:"total"`
}
