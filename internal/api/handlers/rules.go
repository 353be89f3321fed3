package handlers

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/your-org/vigil/internal/models"
	"github.com/your-org/vigil/internal/storage"
	"github.com/your-org/vigil/pkg/dto"
)

type RuleHandler struct {
	db *storage.PostgresStore
}

func NewRuleHandler(db *storage.PostgresStore) *RuleHandler {
	return &RuleHandler{db: db}
}

func (h *RuleHandler) Create(c *gin.Context) {
	var req dto.RuleRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	rule := ruleFromRequest(&req)
	if err := rule.Validate(); err != nil {
		c.JSON(http.StatusUnprocessableEntity, gin.H{"error": err.Error()})
		return
	}

	if err := h.db.CreateRule(c.Request.Context(), rule); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusCreated, toRuleResponse(rule))
}

func (h *RuleHandler) List(c *gin.Context) {
	rules, err := h.db.ListRules(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	resp := make([]dto.RuleResponse, 0, len(rules))
	for i := range rules {
		resp = append(resp, toRuleResponse(&rules[i]))
	}

	c.JSON(http.StatusOK, dto.RuleListResponse{Rules: resp, Total: len(resp)})
}

func (h *RuleHandler) Get(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid rule id"})
		return
	}

	rule, err := h.db.GetRule(c.Request.Context(), id)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	if rule == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "rule not found"})
		return
	}

	c.JSON(http.StatusOK, toRuleResponse(rule))
}

func (h *RuleHandler) Update(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid rule id"})
		return
	}

	var req dto.RuleRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	rule := ruleFromRequest(&req)
	rule.ID = id
	if err := rule.Validate(); err != nil {
		c.JSON(http.StatusUnprocessableEntity, gin.H{"error": err.Error()})
		return
	}

	if err := h.db.UpdateRule(c.Request.Context(), rule); err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, toRuleResponse(rule))
}

func (h *RuleHandler) Delete(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid rule id"})
		return
	}

	if err := h.db.DeleteRule(c.Request.Context(), id); err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{"status": "deleted"})
}

// Events lists the events this rule fired on, newest first.
func (h *RuleHandler) Events(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid rule id"})
		return
	}

	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "50"))
	offset, _ := strconv.Atoi(c.DefaultQuery("offset", "0"))

	events, total, err := h.db.QueryEvents(c.Request.Context(),
		storage.EventFilter{RuleID: &id}, limit, offset)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	resp := make([]dto.EventResponse, 0, len(events))
	for i := range events {
		resp = append(resp, toEventResponse(&events[i]))
	}

	c.JSON(http.StatusOK, dto.EventListResponse{Events: resp, Total: total})
}

func ruleFromRequest(req *dto.RuleRequest) *models.AlertRule {
	enabled := true
	if req.Enabled != nil {
		enabled = *req.Enabled
	}
	return &models.AlertRule{
		Name:       req.Name,
		Enabled:    enabled,
		Priority:   req.Priority,
		Conditions: req.Conditions,
		Actions:    req.Actions,
		Cooldown:   time.Duration(req.CooldownSeconds) * time.Second,
	}
}

func toRuleResponse(r *models.AlertRule) dto.RuleResponse {
	resp := dto.RuleResponse{
		ID:              r.ID,
		Name:            r.Name,
		Enabled:         r.Enabled,
		Priority:        r.Priority,
		Conditions:      r.Conditions,
		Actions:         r.Actions,
		CooldownSeconds: int(r.Cooldown / time.Second),
		CreatedAt:       r.CreatedAt.Format(time.RFC3339),
		UpdatedAt:       r.UpdatedAt.Format(time.RFC3339),
	}
	if !r.LastTriggered.IsZero() {
		resp.LastTriggered = r.LastTriggered.Format(time.RFC3339)
	}
	return resp
}
