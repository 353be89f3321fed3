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

type EntityHandler struct {
	db *storage.PostgresStore
}

func NewEntityHandler(db *storage.PostgresStore) *EntityHandler {
	return &EntityHandler{db: db}
}

func (h *EntityHandler) List(c *gin.Context) {
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "50"))
	offset, _ := strconv.Atoi(c.DefaultQuery("offset", "0"))

	entities, total, err := h.db.ListEntities(c.Request.Context(), c.Query("type"), limit, offset)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	resp := make([]dto.EntityResponse, 0, len(entities))
	for i := range entities {
		resp = append(resp, toEntityResponse(&entities[i]))
	}

	c.JSON(http.StatusOK, dto.EntityListResponse{Entities: resp, Total: total})
}

func (h *EntityHandler) Get(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid entity id"})
		return
	}

	entity, err := h.db.GetEntity(c.Request.Context(), id)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	if entity == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "entity not found"})
		return
	}

	c.JSON(http.StatusOK, toEntityResponse(entity))
}

// Update applies the user-editable fields: naming an entity (John, Mail
// Truck) and the VIP/blocked flags. Omitted fields keep their values.
func (h *EntityHandler) Update(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid entity id"})
		return
	}

	var req dto.UpdateEntityRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	entity, err := h.db.GetEntity(c.Request.Context(), id)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	if entity == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "entity not found"})
		return
	}

	name := entity.Name
	if req.Name != nil {
		name = *req.Name
	}
	vip := entity.VIP
	if req.VIP != nil {
		vip = *req.VIP
	}
	blocked := entity.Blocked
	if req.Blocked != nil {
		blocked = *req.Blocked
	}

	if err := h.db.UpdateEntityMeta(c.Request.Context(), id, name, vip, blocked); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	entity.Name = name
	entity.VIP = vip
	entity.Blocked = blocked
	c.JSON(http.StatusOK, toEntityResponse(entity))
}

func (h *EntityHandler) Delete(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid entity id"})
		return
	}

	if err := h.db.DeleteEntity(c.Request.Context(), id); err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{"status": "deleted"})
}

// Events lists the events this entity was matched in.
func (h *EntityHandler) Events(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid entity id"})
		return
	}

	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "50"))
	offset, _ := strconv.Atoi(c.DefaultQuery("offset", "0"))

	events, total, err := h.db.QueryEvents(c.Request.Context(),
		storage.EventFilter{EntityID: &id}, limit, offset)
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

func toEntityResponse(e *models.Entity) dto.EntityResponse {
	return dto.EntityResponse{
		ID:          e.ID,
		Type:        string(e.Type),
		Name:        e.Name,
		FirstSeen:   e.FirstSeen.Format(time.RFC3339),
		LastSeen:    e.LastSeen.Format(time.RFC3339),
		Occurrences: e.Occurrences,
		VIP:         e.VIP,
		Blocked:     e.Blocked,
		CreatedAt:   e.CreatedAt.Format(time.RFC3339),
	}
}
