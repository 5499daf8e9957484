package nodeb

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/google/uuid"

	"metismedia/internal/contracts"
	"metismedia/internal/core"
	"metismedia/internal/shared/events"
	"metismedia/internal/store"
	"metismedia/internal/worker"
)

const (
	defaultPreselectK = 200
	defaultDesired    = 5
	defaultReserveFor = 30 * time.Minute
	prefilterUnitCost = 0.001
	vectorSearchCost  = 0.001
)

// Handler is the matching stage: safety prefilter, fused scoring, atomic
// reservation, pulse verification, directive emission.
type Handler struct {
	Checker    PulseChecker
	Thresholds Thresholds
	Weights    Weights
	PreselectK int
	ReserveFor time.Duration
	Clock      worker.Clock
	Logger     *slog.Logger
}

type scoredCandidate struct {
	candidate store.Candidate
	mms       float64
}

func (h Handler) Handle(ctx context.Context, sc worker.StageContext) error {
	logger := worker.ResolveLogger(h.Logger)
	tenantID := sc.Envelope.TenantID
	runID, err := uuid.Parse(sc.Envelope.RunID)
	if err != nil {
		return fmt.Errorf("parse run id %q: %w", sc.Envelope.RunID, err)
	}

	campaignID, err := uuid.Parse(sc.Envelope.PayloadString("campaign_id"))
	if err != nil {
		return fmt.Errorf("parse campaign id: %w", err)
	}
	campaign, err := sc.Stores.Campaigns.Get(ctx, tenantID, campaignID)
	if errors.Is(err, store.ErrNotFound) {
		return h.failRun(ctx, sc, runID, "campaign not found")
	}
	if err != nil {
		return err
	}

	queryEmbeddingID := uuid.Nil
	if raw := sc.Envelope.PayloadString("query_embedding_id"); raw != "" {
		queryEmbeddingID, _ = uuid.Parse(raw)
	}
	if queryEmbeddingID == uuid.Nil {
		queryEmbeddingID = campaign.Brief.QueryEmbeddingID()
	}
	if queryEmbeddingID == uuid.Nil {
		return h.completeRunZeroTargets(ctx, sc, runID, "no query embedding on brief")
	}

	campaignVec, err := sc.Stores.Embeddings.Vector(ctx, tenantID, queryEmbeddingID)
	if errors.Is(err, store.ErrNotFound) {
		return h.failRun(ctx, sc, runID, "campaign embedding missing")
	}
	if err != nil {
		return err
	}

	desired := sc.Envelope.PayloadInt("limit", defaultDesired)
	if desired < 1 {
		desired = 1
	}

	preselectK := h.PreselectK
	if preselectK <= 0 {
		preselectK = defaultPreselectK
	}
	filter := store.CandidateFilter{
		ThirdRailTerms: campaign.Brief.ThirdRailTerms(),
		Platforms:      campaign.Brief.PlatformVector(),
		Geography:      campaign.Brief.Geography(),
	}
	if err := sc.Spend("postgres", "safety_prefilter", prefilterUnitCost, 1, 1, nil); err != nil {
		return err
	}
	candidates, err := sc.Stores.Candidates.Prefilter(ctx, tenantID, queryEmbeddingID, filter, preselectK)
	if err != nil {
		return err
	}

	now := time.Now().UTC()
	if h.Clock != nil {
		now = h.Clock.Now().UTC()
	}
	weights := h.Weights
	if weights == (Weights{}) {
		weights = DefaultWeights()
	}
	thresholds := h.Thresholds
	if thresholds == (Thresholds{}) {
		thresholds = DefaultThresholds()
	}
	desiredPolarity := campaign.Brief.PolarityIntent.DesiredPolarity()

	passing := make([]scoredCandidate, 0, len(candidates))
	for _, c := range candidates {
		recency := RecencyScore(AgeDays(c.LastScrapedAt, now))
		polarity := PolarityAlignmentOf(desiredPolarity, c.PolarityScore)
		mms := MMS(c.Similarity, recency, polarity, weights)
		if mms >= thresholds.Precheck {
			passing = append(passing, scoredCandidate{candidate: c, mms: mms})
		}
	}
	if err := sc.Spend("internal", "mms_compute", 0, float64(len(candidates)), 0, nil); err != nil {
		return err
	}
	sort.SliceStable(passing, func(i, j int) bool {
		return passing[i].mms > passing[j].mms
	})

	// Only candidates that cleared the prefilter and the fused-score
	// threshold are ever leased.
	reserveCount := 2 * desired
	if reserveCount > len(passing) {
		reserveCount = len(passing)
	}
	reservations := map[uuid.UUID]uuid.UUID{}
	if reserveCount > 0 {
		reserveFor := h.ReserveFor
		if reserveFor <= 0 {
			reserveFor = defaultReserveFor
		}
		if err := sc.Spend("postgres", "vector_search", vectorSearchCost, float64(reserveCount), 1, nil); err != nil {
			return err
		}
		ids := make([]uuid.UUID, 0, reserveCount)
		for _, c := range passing[:reserveCount] {
			ids = append(ids, c.candidate.InfluencerID)
		}
		reservations, err = sc.Stores.Candidates.Reserve(ctx, tenantID, ids, reserveFor,
			fmt.Sprintf("campaign:%s", campaignID))
		if err != nil {
			return err
		}
	}

	// Pulse-check reserved candidates in fused-score order until the fleet
	// is filled.
	type passed struct {
		scoredCandidate
		reservationID uuid.UUID
		outcome       PulseOutcome
	}
	var fleet []passed
	for _, c := range passing {
		if len(fleet) >= desired {
			break
		}
		reservationID, ok := reservations[c.candidate.InfluencerID]
		if !ok {
			continue
		}
		outcome, err := h.Checker.Check(ctx, sc, c.candidate, campaignVec)
		if err != nil {
			return err
		}
		if outcome.Status == contracts.PulsePass {
			fleet = append(fleet, passed{scoredCandidate: c, reservationID: reservationID, outcome: outcome})
		}
	}

	cacheStatus := contracts.CacheMiss
	switch {
	case len(fleet) >= desired:
		cacheStatus = contracts.CacheHit
	case len(fleet) > 0:
		cacheStatus = contracts.PartialHit
	}
	logger.Info("matching stage settled",
		"event", "matching_settled",
		"module", "internal/nodes/nodeb",
		"layer", "worker",
		"campaign_id", campaignID.String(),
		"candidates", len(candidates),
		"passing", len(passing),
		"reserved", len(reservations),
		"fleet", len(fleet),
		"cache_status", string(cacheStatus),
	)

	for _, member := range fleet {
		payload := map[string]any{
			"campaign_id":    campaignID.String(),
			"influencer_id":  member.candidate.InfluencerID.String(),
			"reservation_id": member.reservationID.String(),
			"action":         "proceed",
			"mms":            member.mms,
			"similarity":     member.candidate.Similarity,
			"cache_status":   string(cacheStatus),
			"pulse_status":   string(member.outcome.Status),
		}
		step := fmt.Sprintf("proceed:%s", member.candidate.InfluencerID)
		if err := sc.Emit(ctx, contracts.NodeB, events.EventDirectiveEmitted, step, payload); err != nil {
			return err
		}
	}

	if cacheStatus == contracts.CacheMiss {
		payload := map[string]any{
			"campaign_id":  campaignID.String(),
			"needed_count": desired - len(fleet),
		}
		if err := sc.Emit(ctx, contracts.NodeC, events.EventDiscoveryNeeded, "bulk", payload); err != nil {
			return err
		}
	}
	if len(fleet) == 0 {
		return h.completeRunZeroTargets(ctx, sc, runID, "no passing candidates")
	}
	return nil
}

func (h Handler) failRun(ctx context.Context, sc worker.StageContext, runID uuid.UUID, message string) error {
	err := sc.Stores.Runs.MarkFailed(ctx, sc.Envelope.TenantID, runID, message)
	if errors.Is(err, store.ErrTerminalStatus) {
		return nil
	}
	return err
}

func (h Handler) completeRunZeroTargets(ctx context.Context, sc worker.StageContext, runID uuid.UUID, notes string) error {
	total := 0.0
	summary := core.Summary{ByNode: map[string]float64{}, ByProvider: map[string]float64{}}
	if agg, ok := sc.Ledger.(core.Aggregator); ok {
		total = agg.TotalDollars(sc.Envelope.RunID)
		summary = agg.Summary(sc.Envelope.RunID)
	}
	result := map[string]any{
		"target_cards_count": 0,
		"targets_count":      0,
		"drafts_count":       0,
		"total_cost_dollars": total,
		"cost_summary":       summary,
		"notes":              notes,
	}
	err := sc.Stores.Runs.MarkCompleted(ctx, sc.Envelope.TenantID, runID, result)
	if errors.Is(err, store.ErrTerminalStatus) {
		return nil
	}
	return err
}
