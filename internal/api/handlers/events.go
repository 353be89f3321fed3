package handlers

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/your-org/vigil/internal/models"
	"github.com/your-org/vigil/internal/queue"
	"github.com/your-org/vigil/internal/storage"
	"github.com/your-org/vigil/pkg/dto"
)

type EventHandler struct {
	db       *storage.PostgresStore
	minio    *storage.MinIOStore
	producer *queue.Producer
}

func NewEventHandler(db *storage.PostgresStore, minio *storage.MinIOStore, producer *queue.Producer) *EventHandler {
	return &EventHandler{db: db, minio: minio, producer: producer}
}

func (h *EventHandler) List(c *gin.Context) {
	var f storage.EventFilter
	f.CameraID = c.Query("camera_id")

	if fromStr := c.Query("from"); fromStr != "" {
		if t, err := time.Parse(time.RFC3339, fromStr); err == nil {
			f.From = &t
		}
	}
	if toStr := c.Query("to"); toStr != "" {
		if t, err := time.Parse(time.RFC3339, toStr); err == nil {
			f.To = &t
		}
	}
	if eidStr := c.Query("entity_id"); eidStr != "" {
		if id, err := uuid.Parse(eidStr); err == nil {
			f.EntityID = &id
		}
	}
	if minStr := c.Query("min_score"); minStr != "" {
		if v, err := strconv.ParseFloat(minStr, 64); err == nil {
			f.MinScore = &v
		}
	}
	if degradedStr := c.Query("degraded"); degradedStr != "" {
		b := degradedStr == "true" || degradedStr == "1"
		f.Degraded = &b
	}

	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "50"))
	offset, _ := strconv.Atoi(c.DefaultQuery("offset", "0"))

	events, total, err := h.db.QueryEvents(c.Request.Context(), f, limit, offset)
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

func (h *EventHandler) Get(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid event id"})
		return
	}

	ev, err := h.db.GetEvent(c.Request.Context(), id)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	if ev == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "event not found"})
		return
	}

	c.JSON(http.StatusOK, dto.EventDetailResponse{
		EventResponse: toEventResponse(ev),
		Attempts:      ev.Attempts,
	})
}

// Frame proxies one of the event's stored frames from MinIO.
func (h *EventHandler) Frame(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid event id"})
		return
	}

	ev, err := h.db.GetEvent(c.Request.Context(), id)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	if ev == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "event not found"})
		return
	}

	idx, _ := strconv.Atoi(c.DefaultQuery("index", "0"))
	if idx < 0 || idx >= len(ev.FrameKeys) {
		c.JSON(http.StatusNotFound, gin.H{"error": "frame index out of range"})
		return
	}

	data, err := h.minio.GetObject(c.Request.Context(), ev.FrameKeys[idx])
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "frame not found"})
		return
	}

	c.Data(http.StatusOK, "image/jpeg", data)
}

// Reanalyze queues the event's stored frames for a fresh inference pass.
// The new description supersedes at a higher generation; the original is
// kept on the event's history.
func (h *EventHandler) Reanalyze(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid event id"})
		return
	}

	ev, err := h.db.GetEvent(c.Request.Context(), id)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	if ev == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "event not found"})
		return
	}
	if len(ev.FrameKeys) == 0 {
		c.JSON(http.StatusConflict, gin.H{"error": "event has no stored frames to reanalyze"})
		return
	}

	var req dto.ReanalyzeRequest
	_ = c.ShouldBindJSON(&req) // body is optional

	mode := ev.Description.RequestedMode
	if req.Mode != "" {
		switch models.AnalysisMode(req.Mode) {
		case models.ModeSingleFrame, models.ModeMultiFrame, models.ModeVideoNative:
			mode = models.AnalysisMode(req.Mode)
		default:
			c.JSON(http.StatusBadRequest, gin.H{"error": "unknown analysis mode"})
			return
		}
	}
	if mode == "" {
		mode = models.ModeMultiFrame
	}

	task := models.TriggerTask{
		TriggerID:     uuid.New(),
		CameraID:      ev.CameraID,
		Timestamp:     ev.Timestamp,
		FrameKeys:     ev.FrameKeys,
		ClipKey:       ev.ClipKey,
		RequestedMode: mode,
		Reanalysis:    true,
		EventID:       &ev.ID,
		Generation:    ev.Description.Generation + 1,
	}
	if err := h.producer.PublishTrigger(c.Request.Context(), ev.CameraID, task); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusAccepted, gin.H{
		"status":     "queued",
		"event_id":   ev.ID,
		"generation": task.Generation,
	})
}

func toEventResponse(ev *models.Event) dto.EventResponse {
	r := dto.EventResponse{
		ID:           ev.ID,
		CameraID:     ev.CameraID,
		Timestamp:    ev.Timestamp.Format(time.RFC3339),
		Text:         ev.Description.Text,
		Detections:   ev.Description.Detections,
		Provider:     ev.Description.Provider,
		UsedMode:     string(ev.Description.UsedMode),
		Generation:   ev.Description.Generation,
		Failed:       ev.Description.Failed,
		SkipReason:   ev.SkipReason,
		Matches:      ev.Matches,
		Anomaly:      ev.Anomaly,
		FiredRuleIDs: ev.FiredRuleIDs,
		NewEntity:    ev.NewEntity,
		CreatedAt:    ev.CreatedAt.Format(time.RFC3339),
	}
	for i := range ev.FrameKeys {
		r.FrameURLs = append(r.FrameURLs,
			"/v1/events/"+ev.ID.String()+"/frame?index="+strconv.Itoa(i))
	}
	return r
}
