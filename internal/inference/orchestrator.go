package inference

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/your-org/vigil/internal/config"
	"github.com/your-org/vigil/internal/models"
	"github.com/your-org/vigil/internal/observability"
)

// Orchestrator runs the ordered provider fallback chain for one trigger and
// normalizes whichever provider succeeds into a canonical Description.
//
// Control flow is an explicit loop over the chain: per-attempt timeout,
// bounded retry on transient errors, immediate advance on unavailable
// errors, all under one overall deadline. Every attempt lands in the
// returned ledger whether or not it succeeded.
type Orchestrator struct {
	chain  []Provider
	cfg    config.InferenceConfig
	ledger *SpendLedger
	now    func() time.Time
}

func NewOrchestrator(chain []Provider, cfg config.InferenceConfig, ledger *SpendLedger) *Orchestrator {
	if ledger == nil {
		ledger = NewSpendLedger()
	}
	return &Orchestrator{
		chain:  chain,
		cfg:    cfg,
		ledger: ledger,
		now:    time.Now,
	}
}

// Analyze runs the fallback chain for the trigger's frames. It returns the
// normalized description, the full attempt ledger, and an error only when no
// provider produced a result. Re-invoking for the same trigger (reanalyze)
// produces a fresh Description at the given generation; nothing is mutated.
func (o *Orchestrator) Analyze(ctx context.Context, task models.TriggerTask, in Input, generation int) (models.Description, []models.ProviderAttempt, error) {
	start := o.now()
	ctx, cancel := context.WithTimeout(ctx, o.cfg.OverallDeadline)
	defer cancel()

	var attempts []models.ProviderAttempt
	budgetHit := false

	for i, p := range o.chain {
		mode, ok := demote(p, task.RequestedMode)
		if !ok {
			slog.Warn("provider supports no usable mode, skipping",
				"provider", p.ID(), "requested_mode", task.RequestedMode)
			continue
		}
		attemptIn := in
		attemptIn.Mode = mode

		estimate := p.EstimateCost(attemptIn)
		if o.ledger.WouldExceed(estimate, o.cfg.DailyBudgetUSD, o.cfg.MonthlyBudgetUSD, o.now()) {
			budgetHit = true
			if o.cfg.BudgetPolicy == "fail" {
				return models.Description{}, attempts,
					fmt.Errorf("provider %s estimate $%.4f: %w", p.ID(), estimate, ErrCostLimitExceeded)
			}
			// fallback policy: only the designated low/no-cost tail of the
			// chain is still eligible.
			if i != len(o.chain)-1 {
				slog.Warn("spend ceiling reached, skipping to fallback provider",
					"provider", p.ID(), "estimate_usd", estimate)
				continue
			}
		}

		raw, attempt, err := o.tryProvider(ctx, p, attemptIn)
		attempts = append(attempts, attempt...)
		if err == nil {
			desc := normalize(raw, task.RequestedMode, mode, p.ID(), len(attempts), attempts, o.now().Sub(start), generation)
			return desc, attempts, nil
		}
		if ctx.Err() != nil {
			slog.Warn("overall inference deadline exceeded",
				"trigger_id", task.TriggerID, "providers_tried", i+1)
			break
		}
		slog.Warn("provider exhausted, advancing chain",
			"provider", p.ID(), "error", err)
	}

	if budgetHit && len(attempts) == 0 {
		return models.Description{}, attempts, ErrCostLimitExceeded
	}
	return models.Description{}, attempts,
		fmt.Errorf("%d attempts across chain: %w", len(attempts), ErrAllProvidersExhausted)
}

// tryProvider runs one provider with bounded transient retries. It returns
// the raw result on success, and always the attempt records.
func (o *Orchestrator) tryProvider(ctx context.Context, p Provider, in Input) (*RawResult, []models.ProviderAttempt, error) {
	var attempts []models.ProviderAttempt
	var lastErr error

	maxTries := 1 + o.cfg.TransientRetries
	for try := 0; try < maxTries; try++ {
		if ctx.Err() != nil {
			return nil, attempts, ctx.Err()
		}

		attemptCtx, cancel := context.WithTimeout(ctx, o.cfg.AttemptTimeout)
		begin := o.now()
		raw, err := p.Analyze(attemptCtx, in)
		cancel()
		latency := o.now().Sub(begin)

		attempt := models.ProviderAttempt{
			Provider:  p.ID(),
			Mode:      in.Mode,
			Images:    in.ImageCount(),
			CostUSD:   p.EstimateCost(in),
			Latency:   latency,
			Succeeded: err == nil,
			At:        begin,
		}
		if err != nil {
			attempt.Error = err.Error()
		}
		attempts = append(attempts, attempt)
		observability.ProviderCost.WithLabelValues(p.ID()).Add(attempt.CostUSD)
		o.ledger.Add(attempt.CostUSD, begin)

		if err == nil {
			observability.ProviderAttempts.WithLabelValues(p.ID(), "success").Inc()
			return raw, attempts, nil
		}
		lastErr = err
		if !IsTransient(err) {
			observability.ProviderAttempts.WithLabelValues(p.ID(), "unavailable").Inc()
			return nil, attempts, err
		}
		observability.ProviderAttempts.WithLabelValues(p.ID(), "transient").Inc()
	}
	return nil, attempts, lastErr
}

// demote lowers the requested mode to the richest one the provider can
// handle: video_native → multi_frame → single_frame.
func demote(p Provider, requested models.AnalysisMode) (models.AnalysisMode, bool) {
	mode := requested
	if mode == models.ModeVideoNative && !p.Supports(mode) {
		mode = models.ModeMultiFrame
	}
	if mode == models.ModeMultiFrame && !p.Supports(mode) {
		mode = models.ModeSingleFrame
	}
	if !p.Supports(mode) {
		return "", false
	}
	return mode, true
}

func normalize(raw *RawResult, requested, used models.AnalysisMode, provider string, attemptCount int, attempts []models.ProviderAttempt, latency time.Duration, generation int) models.Description {
	var cost float64
	for _, a := range attempts {
		cost += a.CostUSD
	}
	return models.Description{
		Text:          raw.Text,
		Confidence:    raw.Confidence,
		Detections:    raw.Detections,
		Provider:      provider,
		Attempts:      attemptCount,
		CostUSD:       cost,
		Latency:       latency,
		RequestedMode: requested,
		UsedMode:      used,
		Generation:    generation,
	}
}
