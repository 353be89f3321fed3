// Package pipeline runs the event intelligence core: one trigger in, one
// committed event and zero-or-more alert decisions out.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/your-org/vigil/internal/inference"
	"github.com/your-org/vigil/internal/models"
	"github.com/your-org/vigil/internal/observability"
)

// EventStore is the durable side of the pipeline.
type EventStore interface {
	SaveEvent(ctx context.Context, event *models.Event) error
	GetEnabledRules(ctx context.Context) ([]models.AlertRule, error)
}

// FrameStore loads trigger frames from object storage.
type FrameStore interface {
	GetObject(ctx context.Context, key string) ([]byte, error)
}

// Analyzer is the inference orchestrator's contract.
type Analyzer interface {
	Analyze(ctx context.Context, task models.TriggerTask, in inference.Input, generation int) (models.Description, []models.ProviderAttempt, error)
}

// EntityResolver annotates the event with matched entities.
type EntityResolver interface {
	Resolve(ctx context.Context, event *models.Event, frame []byte) ([]models.EntityMatch, bool, error)
}

// Scorer rates and learns from events.
type Scorer interface {
	Score(ctx context.Context, event *models.Event) models.AnomalyResult
	Update(event *models.Event)
}

// RuleEvaluator decides which alert rules fire.
type RuleEvaluator interface {
	Evaluate(ctx context.Context, event *models.Event, rules []models.AlertRule) []models.TriggeredAction
}

// Notifier fans out finalized alert decisions. Best-effort: delivery
// guarantees belong to the sinks.
type Notifier interface {
	Publish(ctx context.Context, decision models.AlertDecision)
}

// Pipeline executes the stages strictly in order per event: inference →
// entity resolution → anomaly scoring → rule evaluation → commit → notify.
// Events from different cameras run concurrently on separate workers.
type Pipeline struct {
	frames   FrameStore
	store    EventStore
	analyzer Analyzer
	resolver EntityResolver
	scorer   Scorer
	engine   RuleEvaluator
	notifier Notifier
}

func New(frames FrameStore, store EventStore, analyzer Analyzer, resolver EntityResolver, scorer Scorer, engine RuleEvaluator, notifier Notifier) *Pipeline {
	return &Pipeline{
		frames:   frames,
		store:    store,
		analyzer: analyzer,
		resolver: resolver,
		scorer:   scorer,
		engine:   engine,
		notifier: notifier,
	}
}

// Process handles one trigger task end to end. Only a commit failure is
// returned as an error (the task is then redelivered); every enrichment
// failure degrades the event instead of dropping it.
func (p *Pipeline) Process(ctx context.Context, task models.TriggerTask) error {
	event := p.newEvent(task)

	frames, clip := p.loadMedia(ctx, task)

	// 1. Inference: fallback chain under the overall deadline.
	start := time.Now()
	generation := task.Generation
	if generation <= 0 {
		generation = 1
	}
	desc, attempts, err := p.analyzer.Analyze(ctx, task, inference.Input{
		CameraID:  task.CameraID,
		Timestamp: task.Timestamp,
		Mode:      task.RequestedMode,
		Frames:    frames,
		Clip:      clip,
	}, generation)
	observability.StageDuration.WithLabelValues("inference").Observe(time.Since(start).Seconds())

	if err != nil {
		// Degraded, not dropped: the event commits with a failed
		// description and downstream stages work with what remains.
		desc = models.Description{
			Failed:        true,
			RequestedMode: task.RequestedMode,
			UsedMode:      task.RequestedMode,
			Attempts:      len(attempts),
			Generation:    generation,
		}
		if errors.Is(err, inference.ErrCostLimitExceeded) {
			event.SkipReason = models.SkipCostLimit
		} else {
			event.SkipReason = models.SkipInferenceFailed
		}
		slog.Warn("inference degraded", "trigger_id", task.TriggerID, "reason", event.SkipReason, "error", err)
	}
	event.Description = desc
	event.Attempts = attempts

	// 2. Entity resolution: works off the representative frame, so it still
	// runs when inference failed.
	start = time.Now()
	if frame := representative(frames); len(frame) > 0 {
		matches, isNew, rerr := p.resolver.Resolve(ctx, event, frame)
		if rerr != nil {
			slog.Warn("entity resolution failed", "event_id", event.ID, "error", rerr)
		} else {
			event.Matches = matches
			event.NewEntity = isNew
		}
	}
	observability.StageDuration.WithLabelValues("resolve").Observe(time.Since(start).Seconds())

	// 3. Anomaly scoring, then the always-run baseline update. The update
	// must reflect ground truth, not just alerted events, and never blocks.
	start = time.Now()
	anomaly := p.scorer.Score(ctx, event)
	event.Anomaly = &anomaly
	p.scorer.Update(event)
	observability.StageDuration.WithLabelValues("score").Observe(time.Since(start).Seconds())

	// 4. Rule evaluation.
	start = time.Now()
	var actions []models.TriggeredAction
	rules, err := p.store.GetEnabledRules(ctx)
	if err != nil {
		slog.Warn("loading rules failed, event commits without evaluation",
			"event_id", event.ID, "error", err)
	} else {
		actions = p.engine.Evaluate(ctx, event, rules)
		for _, a := range actions {
			event.FiredRuleIDs = append(event.FiredRuleIDs, a.RuleID)
		}
	}
	observability.StageDuration.WithLabelValues("evaluate").Observe(time.Since(start).Seconds())

	// 5. Commit. Failure here is the one fatal outcome: losing a trigger
	// silently would be data loss, so the caller requeues or dead-letters.
	start = time.Now()
	if err := p.store.SaveEvent(ctx, event); err != nil {
		observability.TriggersProcessed.WithLabelValues(task.CameraID, "commit_failed").Inc()
		return fmt.Errorf("commit event %s: %w", event.ID, err)
	}
	observability.StageDuration.WithLabelValues("commit").Observe(time.Since(start).Seconds())

	// 6. Notify: fire-and-forget fan-out of the decisions.
	for _, a := range actions {
		p.notifier.Publish(ctx, models.AlertDecision{
			EventID:   event.ID,
			CameraID:  event.CameraID,
			RuleID:    a.RuleID,
			RuleName:  a.RuleName,
			Actions:   a.Actions,
			Score:     anomaly.Score,
			Timestamp: event.Timestamp,
		})
	}

	outcome := "ok"
	if event.SkipReason != "" {
		outcome = event.SkipReason
	}
	observability.TriggersProcessed.WithLabelValues(task.CameraID, outcome).Inc()
	slog.Info("event committed",
		"event_id", event.ID,
		"camera_id", event.CameraID,
		"provider", desc.Provider,
		"matches", len(event.Matches),
		"anomaly", anomaly.Score,
		"fired_rules", len(actions),
		"degraded", event.SkipReason != "",
	)
	return nil
}

func (p *Pipeline) newEvent(task models.TriggerTask) *models.Event {
	id := uuid.New()
	if task.Reanalysis && task.EventID != nil {
		// Reanalysis keeps event identity; the new description supersedes
		// at a higher generation without mutating the original.
		id = *task.EventID
	}
	return &models.Event{
		ID:        id,
		CameraID:  task.CameraID,
		Timestamp: task.Timestamp,
		FrameKeys: task.FrameKeys,
		ClipKey:   task.ClipKey,
		CreatedAt: time.Now(),
	}
}

// loadMedia fetches frames (and the clip for video_native) from object
// storage. Missing media degrades to empty input; inference then fails into
// a degraded commit rather than a crash.
func (p *Pipeline) loadMedia(ctx context.Context, task models.TriggerTask) (frames [][]byte, clip []byte) {
	for _, key := range task.FrameKeys {
		data, err := p.frames.GetObject(ctx, key)
		if err != nil {
			slog.Warn("frame load failed", "key", key, "error", err)
			continue
		}
		frames = append(frames, data)
	}
	if task.ClipKey != "" && task.RequestedMode == models.ModeVideoNative {
		data, err := p.frames.GetObject(ctx, task.ClipKey)
		if err != nil {
			slog.Warn("clip load failed", "key", task.ClipKey, "error", err)
		} else {
			clip = data
		}
	}
	return frames, clip
}

func representative(frames [][]byte) []byte {
	if len(frames) == 0 {
		return nil
	}
	return frames[len(frames)/2]
}
