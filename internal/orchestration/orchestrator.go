package orchestration

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"metismedia/internal/contracts"
	"metismedia/internal/shared/events"
	"metismedia/internal/store"
	"metismedia/internal/worker"
)

const (
	defaultPollInterval = 100 * time.Millisecond
	defaultMaxPollIters = 600
)

// Orchestrator starts runs and awaits their dossiers. The heavy lifting
// happens in the stage handlers; this is the entry and exit surface.
type Orchestrator struct {
	Sessions store.Sessions
	Bus      events.Publisher
	Clock    worker.Clock
	Logger   *slog.Logger

	PollInterval      time.Duration
	MaxPollIterations int
}

// StartRun creates the run and campaign rows, links them, and publishes the
// brief-finalized event that wakes the pipeline.
func (o Orchestrator) StartRun(ctx context.Context, tenantID uuid.UUID, brief contracts.CampaignBrief) (uuid.UUID, error) {
	logger := worker.ResolveLogger(o.Logger)
	if !brief.Finalized {
		return uuid.Nil, fmt.Errorf("brief is not finalized")
	}

	runID := uuid.New()
	campaignID := brief.CampaignID
	if campaignID == uuid.Nil {
		campaignID = uuid.New()
	}
	traceID := brief.TraceID.String()

	err := o.Sessions.WithTx(ctx, func(txCtx context.Context, s store.Stores) error {
		startedAt := time.Now().UTC()
		if o.Clock != nil {
			startedAt = o.Clock.Now().UTC()
		}
		if _, err := s.Runs.Create(txCtx, store.Run{
			ID:        runID,
			TenantID:  tenantID,
			TraceID:   traceID,
			Status:    store.RunRunning,
			StartedAt: &startedAt,
		}); err != nil {
			return err
		}
		if _, err := s.Campaigns.Create(txCtx, store.Campaign{
			ID:       campaignID,
			TenantID: tenantID,
			TraceID:  traceID,
			RunID:    runID.String(),
			Brief:    brief,
		}); err != nil {
			return err
		}
		return s.Runs.LinkCampaign(txCtx, tenantID, runID, campaignID)
	})
	if err != nil {
		return uuid.Nil, fmt.Errorf("start run: %w", err)
	}

	key := events.MakeIdempotencyKey(tenantID, runID.String(), contracts.NodeA, events.EventBriefFinalized, "brief_finalized")
	envelope := events.New(tenantID, contracts.NodeA, events.EventBriefFinalized, traceID, runID.String(), key, map[string]any{
		"campaign_id": campaignID.String(),
		"brief":       brief,
	})
	if _, err := o.Bus.Publish(ctx, envelope); err != nil {
		return uuid.Nil, fmt.Errorf("publish brief finalized: %w", err)
	}

	logger.Info("run started",
		"event", "run_started",
		"module", "internal/orchestration",
		"layer", "worker",
		"run_id", runID.String(),
		"campaign_id", campaignID.String(),
		"tenant_id", tenantID.String(),
	)
	return runID, nil
}

// AwaitCompletion polls the run row until it turns terminal or the timeout
// lapses. Timeouts synthesize a failed dossier; in-flight workers keep
// running.
func (o Orchestrator) AwaitCompletion(ctx context.Context, tenantID, runID uuid.UUID, timeout time.Duration) (DossierResult, error) {
	interval := o.PollInterval
	if interval <= 0 {
		interval = defaultPollInterval
	}
	maxIters := o.MaxPollIterations
	if maxIters <= 0 {
		maxIters = defaultMaxPollIters
	}
	deadline := time.Now().Add(timeout)

	for i := 0; i < maxIters; i++ {
		if timeout > 0 && time.Now().After(deadline) {
			break
		}
		var run store.Run
		err := o.Sessions.WithTx(ctx, func(txCtx context.Context, s store.Stores) error {
			var txErr error
			run, txErr = s.Runs.Get(txCtx, tenantID, runID)
			return txErr
		})
		if err != nil {
			return DossierResult{}, fmt.Errorf("await completion: %w", err)
		}
		if run.Terminal() {
			return dossierFromRun(run), nil
		}

		select {
		case <-ctx.Done():
			return DossierResult{}, ctx.Err()
		case <-time.After(interval):
		}
	}

	return DossierResult{
		RunID:        runID,
		TenantID:     tenantID,
		Status:       store.RunFailed,
		ErrorMessage: "await_completion timeout",
	}, nil
}
