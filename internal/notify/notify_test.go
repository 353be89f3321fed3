package notify

import (
	"context"
	"errors"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"

	"github.com/your-org/vigil/internal/models"
)

type stubSink struct {
	name string
	err  error
	sent []models.AlertDecision
}

func (s *stubSink) Name() string { return s.name }

func (s *stubSink) Send(_ context.Context, d models.AlertDecision) error {
	if s.err != nil {
		return s.err
	}
	s.sent = append(s.sent, d)
	return nil
}

func TestFanoutIsolatesFailingSink(t *testing.T) {
	broken := &stubSink{name: "mqtt", err: errors.New("broker down")}
	healthy := &stubSink{name: "nats"}

	f := NewFanout(broken, healthy)
	f.Publish(context.Background(), models.AlertDecision{
		EventID:  uuid.New(),
		CameraID: "c1",
		RuleName: "Any Person",
	})

	assert.Len(t, healthy.sent, 1, "one dead broker must not stop the other sinks")
	assert.Equal(t, "c1", healthy.sent[0].CameraID)
}

func TestFanoutWithNoSinks(t *testing.T) {
	f := NewFanout()
	assert.NotPanics(t, func() {
		f.Publish(context.Background(), models.AlertDecision{EventID: uuid.New()})
	})
}
