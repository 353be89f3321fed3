// Package notify fans finalized alert decisions out to delivery sinks.
package notify

import (
	"context"
	"log/slog"

	"github.com/your-org/vigil/internal/models"
)

// Sink is one alert delivery channel.
type Sink interface {
	Name() string
	Send(ctx context.Context, decision models.AlertDecision) error
}

// Fanout delivers each decision to every sink. Sinks are independent: a
// failing broker never blocks the others or the pipeline, delivery is
// best-effort after the durable commit.
type Fanout struct {
	sinks []Sink
}

func NewFanout(sinks ...Sink) *Fanout {
	return &Fanout{sinks: sinks}
}

func (f *Fanout) Publish(ctx context.Context, decision models.AlertDecision) {
	for _, sink := range f.sinks {
		if err := sink.Send(ctx, decision); err != nil {
			slog.Warn("alert delivery failed",
				"sink", sink.Name(),
				"rule", decision.RuleName,
				"event_id", decision.EventID,
				"error", err)
		}
	}
}
