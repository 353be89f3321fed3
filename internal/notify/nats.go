package notify

import (
	"context"

	"github.com/your-org/vigil/internal/models"
	"github.com/your-org/vigil/internal/queue"
)

// NATSSink republishes decisions onto the ALERTS stream, where the API
// process picks them up for WebSocket broadcast.
type NATSSink struct {
	producer *queue.Producer
}

func NewNATSSink(producer *queue.Producer) *NATSSink {
	return &NATSSink{producer: producer}
}

func (s *NATSSink) Name() string { return "nats" }

func (s *NATSSink) Send(ctx context.Context, decision models.AlertDecision) error {
	return s.producer.PublishAlert(ctx, decision.CameraID, decision)
}
