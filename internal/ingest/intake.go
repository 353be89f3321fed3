// Package ingest accepts camera triggers at the edge: it persists the
// uploaded media and queues the trigger for worker processing.
package ingest

import (
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/your-org/vigil/internal/models"
	"github.com/your-org/vigil/internal/queue"
	"github.com/your-org/vigil/internal/storage"
	"github.com/your-org/vigil/pkg/dto"
)

const maxFramesPerTrigger = 10

type Intake struct {
	minio    *storage.MinIOStore
	producer *queue.Producer
}

func NewIntake(minio *storage.MinIOStore, producer *queue.Producer) *Intake {
	return &Intake{minio: minio, producer: producer}
}

// HandleTrigger accepts a multipart camera trigger: camera_id, an optional
// mode and timestamp, 1..N "frames" files and an optional "clip" file. Media
// lands in object storage before the task is queued, so a worker crash never
// loses the evidence.
func (i *Intake) HandleTrigger(c *gin.Context) {
	cameraID := c.PostForm("camera_id")
	if cameraID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "camera_id required"})
		return
	}

	mode := models.ModeMultiFrame
	if m := c.PostForm("mode"); m != "" {
		switch models.AnalysisMode(m) {
		case models.ModeSingleFrame, models.ModeMultiFrame, models.ModeVideoNative:
			mode = models.AnalysisMode(m)
		default:
			c.JSON(http.StatusBadRequest, gin.H{"error": "unknown analysis mode"})
			return
		}
	}

	ts := time.Now()
	if tsStr := c.PostForm("timestamp"); tsStr != "" {
		parsed, err := time.Parse(time.RFC3339, tsStr)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "timestamp must be RFC3339"})
			return
		}
		ts = parsed
	}

	form, err := c.MultipartForm()
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "multipart form required"})
		return
	}
	frames := form.File["frames"]
	if len(frames) == 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "at least one frame required"})
		return
	}
	if len(frames) > maxFramesPerTrigger {
		frames = frames[:maxFramesPerTrigger]
	}

	triggerID := uuid.New()
	task := models.TriggerTask{
		TriggerID:     triggerID,
		CameraID:      cameraID,
		Timestamp:     ts,
		RequestedMode: mode,
	}

	for idx, fh := range frames {
		key := fmt.Sprintf("%s/frames/%s/%02d.jpg", cameraID, triggerID, idx)
		if err := i.storeUpload(c, fh, key); err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		task.FrameKeys = append(task.FrameKeys, key)
	}

	if clips := form.File["clip"]; len(clips) > 0 {
		key := fmt.Sprintf("%s/clips/%s.mp4", cameraID, triggerID)
		if err := i.storeUpload(c, clips[0], key); err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		task.ClipKey = key
	}
	if mode == models.ModeVideoNative && task.ClipKey == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "video_native requires a clip"})
		return
	}

	if err := i.producer.PublishTrigger(c.Request.Context(), cameraID, task); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusAccepted, dto.TriggerResponse{
		TriggerID: triggerID,
		CameraID:  cameraID,
		FrameKeys: task.FrameKeys,
		ClipKey:   task.ClipKey,
		Mode:      string(mode),
	})
}

func (i *Intake) storeUpload(c *gin.Context, fh *multipart.FileHeader, key string) error {
	file, err := fh.Open()
	if err != nil {
		return fmt.Errorf("open upload %s: %w", fh.Filename, err)
	}
	defer file.Close()

	data, err := io.ReadAll(file)
	if err != nil {
		return fmt.Errorf("read upload %s: %w", fh.Filename, err)
	}

	contentType := fh.Header.Get("Content-Type")
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	return i.minio.PutObject(c.Request.Context(), key, data, contentType)
}
