package orchestration

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"metismedia/internal/contracts"
	"metismedia/internal/core"
	"metismedia/internal/shared/events"
	"metismedia/internal/store"
	"metismedia/internal/worker"
)

// Per-stage cost constants.
const (
	costBriefValidate = 0.0
	costScrape        = 0.02
	costProfile       = 0.01
	costContactLookup = 0.005
	costDraft         = 0.015
	costFinalize      = 0.0
)

func parseIDs(sc worker.StageContext) (runID, campaignID uuid.UUID, err error) {
	runID, err = uuid.Parse(sc.Envelope.RunID)
	if err != nil {
		return uuid.Nil, uuid.Nil, fmt.Errorf("parse run id %q: %w", sc.Envelope.RunID, err)
	}
	campaignID, err = uuid.Parse(sc.Envelope.PayloadString("campaign_id"))
	if err != nil {
		return uuid.Nil, uuid.Nil, fmt.Errorf("parse campaign id: %w", err)
	}
	return runID, campaignID, nil
}

func parseInfluencerID(sc worker.StageContext) (uuid.UUID, error) {
	id, err := uuid.Parse(sc.Envelope.PayloadString("influencer_id"))
	if err != nil {
		return uuid.Nil, fmt.Errorf("parse influencer id: %w", err)
	}
	return id, nil
}

// terminalOK swallows the already-terminal error: a replayed terminal write
// is a no-op, not a failure.
func terminalOK(err error) error {
	if errors.Is(err, store.ErrTerminalStatus) {
		return nil
	}
	return err
}

// forwardPayload copies the triggering payload so a stage can add its own
// fields without mutating the envelope.
func forwardPayload(sc worker.StageContext) map[string]any {
	out := make(map[string]any, len(sc.Envelope.Payload)+2)
	for k, v := range sc.Envelope.Payload {
		out[k] = v
	}
	return out
}

// StageA validates the finalized brief and opens the matching stage. A brief
// without a query embedding completes the run immediately with zero targets.
type StageA struct {
	Logger *slog.Logger
}

func (h StageA) Handle(ctx context.Context, sc worker.StageContext) error {
	runID, campaignID, err := parseIDs(sc)
	if err != nil {
		return err
	}
	campaign, err := sc.Stores.Campaigns.Get(ctx, sc.Envelope.TenantID, campaignID)
	if err != nil {
		return err
	}
	if err := sc.Spend("internal", "brief_validate", costBriefValidate, 1, 0, nil); err != nil {
		return err
	}

	queryEmbeddingID := campaign.Brief.QueryEmbeddingID()
	if queryEmbeddingID == uuid.Nil {
		return terminalOK(sc.Stores.Runs.MarkCompleted(ctx, sc.Envelope.TenantID, runID, zeroTargetResult(sc, "brief has no query embedding")))
	}

	payload := map[string]any{
		"campaign_id":        campaignID.String(),
		"query_embedding_id": queryEmbeddingID.String(),
	}
	if limit := sc.Envelope.PayloadInt("limit", 0); limit > 0 {
		payload["limit"] = limit
	}
	return sc.Emit(ctx, contracts.NodeB, events.EventNodeBInput, "reserve", payload)
}

// DirectiveForward routes an emitted proceed-directive into the enrichment
// chain. Non-proceed actions stop here.
type DirectiveForward struct {
	Logger *slog.Logger
}

func (h DirectiveForward) Handle(ctx context.Context, sc worker.StageContext) error {
	action := sc.Envelope.PayloadString("action")
	if err := contracts.ValidateAction(action); err != nil {
		return err
	}
	if action != "proceed" {
		worker.ResolveLogger(h.Logger).Info("directive not forwarded",
			"event", "directive_dropped",
			"module", "internal/orchestration",
			"layer", "worker",
			"action", action,
		)
		return nil
	}
	influencerID, err := parseInfluencerID(sc)
	if err != nil {
		return err
	}
	step := fmt.Sprintf("discover:%s", influencerID)
	return sc.Emit(ctx, contracts.NodeC, events.EventNodeCInput, step, forwardPayload(sc))
}

// DiscoveryIntake acknowledges a cache-miss discovery request. Bulk
// discovery runs out of band; the event records how many candidates the
// fleet still needs.
type DiscoveryIntake struct {
	Logger *slog.Logger
}

func (h DiscoveryIntake) Handle(ctx context.Context, sc worker.StageContext) error {
	worker.ResolveLogger(h.Logger).Info("discovery requested",
		"event", "discovery_requested",
		"module", "internal/orchestration",
		"layer", "worker",
		"campaign_id", sc.Envelope.PayloadString("campaign_id"),
		"needed_count", sc.Envelope.PayloadInt("needed_count", 0),
	)
	return nil
}

// StageC scrapes one receipt of recent activity for the influencer.
type StageC struct {
	Clock  worker.Clock
	Logger *slog.Logger
}

func (h StageC) Handle(ctx context.Context, sc worker.StageContext) error {
	_, campaignID, err := parseIDs(sc)
	if err != nil {
		return err
	}
	influencerID, err := parseInfluencerID(sc)
	if err != nil {
		return err
	}
	if err := sc.Spend("mock_discovery", "scrape", costScrape, 1, 1, nil); err != nil {
		return err
	}

	now := time.Now().UTC()
	if h.Clock != nil {
		now = h.Clock.Now().UTC()
	}
	influencer, err := sc.Stores.Influencers.Get(ctx, sc.Envelope.TenantID, influencerID)
	if err != nil {
		return err
	}
	url := ""
	if influencer.PrimaryURL != nil {
		url = *influencer.PrimaryURL
	}
	receiptID, err := sc.Stores.Receipts.Insert(ctx, store.Receipt{
		TenantID:       sc.Envelope.TenantID,
		InfluencerID:   influencerID,
		Type:           contracts.ReceiptSocial,
		URL:            url,
		Excerpt:        fmt.Sprintf("Recent activity by %s", influencer.CanonicalName),
		OccurredAt:     now,
		SourcePlatform: "mock_discovery",
		Confidence:     0.9,
		Provenance:     map[string]any{"campaign_id": campaignID.String()},
	})
	if err != nil {
		return err
	}

	payload := forwardPayload(sc)
	payload["receipt_id"] = receiptID.String()
	step := fmt.Sprintf("profile:%s", influencerID)
	return sc.Emit(ctx, contracts.NodeD, events.EventNodeDInput, step, payload)
}

// StageD assembles the target card for the (campaign, influencer) pair.
// Replays land on the same card via upsert.
type StageD struct {
	Logger *slog.Logger
}

func (h StageD) Handle(ctx context.Context, sc worker.StageContext) error {
	_, campaignID, err := parseIDs(sc)
	if err != nil {
		return err
	}
	influencerID, err := parseInfluencerID(sc)
	if err != nil {
		return err
	}
	if err := sc.Spend("mock_llm", "profile", costProfile, 1, 1, nil); err != nil {
		return err
	}

	cardPayload := map[string]any{
		"mms":          sc.Envelope.Payload["mms"],
		"similarity":   sc.Envelope.Payload["similarity"],
		"cache_status": sc.Envelope.PayloadString("cache_status"),
		"pulse_status": sc.Envelope.PayloadString("pulse_status"),
		"receipt_id":   sc.Envelope.PayloadString("receipt_id"),
	}
	cardID, err := sc.Stores.TargetCards.Upsert(ctx, store.TargetCard{
		TenantID:     sc.Envelope.TenantID,
		CampaignID:   campaignID,
		InfluencerID: influencerID,
		Payload:      cardPayload,
	})
	if err != nil {
		return err
	}

	payload := forwardPayload(sc)
	payload["target_card_id"] = cardID.String()
	step := fmt.Sprintf("contact:%s", influencerID)
	return sc.Emit(ctx, contracts.NodeE, events.EventNodeEInput, step, payload)
}

// StageE resolves one contact method for the influencer.
type StageE struct {
	Logger *slog.Logger
}

func (h StageE) Handle(ctx context.Context, sc worker.StageContext) error {
	influencerID, err := parseInfluencerID(sc)
	if err != nil {
		return err
	}
	if err := sc.Spend("mock_contact", "lookup", costContactLookup, 1, 1, nil); err != nil {
		return err
	}

	contactID, err := sc.Stores.Contacts.Insert(ctx, store.ContactMethod{
		TenantID:     sc.Envelope.TenantID,
		InfluencerID: influencerID,
		Method:       "email",
		Value:        fmt.Sprintf("creator-%s@example.com", shortID(influencerID)),
		Confidence:   0.7,
		Verified:     false,
		Provenance:   map[string]any{"source": "mock_contact"},
	})
	if err != nil {
		return err
	}

	payload := forwardPayload(sc)
	payload["contact_method_id"] = contactID.String()
	step := fmt.Sprintf("draft:%s", influencerID)
	return sc.Emit(ctx, contracts.NodeF, events.EventNodeFInput, step, payload)
}

// StageF generates the outreach draft.
type StageF struct {
	Logger *slog.Logger
}

func (h StageF) Handle(ctx context.Context, sc worker.StageContext) error {
	_, campaignID, err := parseIDs(sc)
	if err != nil {
		return err
	}
	influencerID, err := parseInfluencerID(sc)
	if err != nil {
		return err
	}
	if err := sc.Spend("mock_llm", "draft_generate", costDraft, 1, 1, nil); err != nil {
		return err
	}

	campaign, err := sc.Stores.Campaigns.Get(ctx, sc.Envelope.TenantID, campaignID)
	if err != nil {
		return err
	}
	influencer, err := sc.Stores.Influencers.Get(ctx, sc.Envelope.TenantID, influencerID)
	if err != nil {
		return err
	}
	draftID, err := sc.Stores.Drafts.Insert(ctx, store.Draft{
		TenantID:     sc.Envelope.TenantID,
		CampaignID:   campaignID,
		InfluencerID: influencerID,
		Channel:      "email",
		Subject:      fmt.Sprintf("Collaboration on %s", campaign.Brief.Name),
		Body: fmt.Sprintf(
			"Hi %s,\n\nWe have been following your work and think you would be a great fit for %s. Would you be open to a quick conversation?\n",
			influencer.CanonicalName, campaign.Brief.Name,
		),
		Status: "draft",
	})
	if err != nil {
		return err
	}

	payload := forwardPayload(sc)
	payload["draft_id"] = draftID.String()
	step := fmt.Sprintf("finalize:%s", influencerID)
	return sc.Emit(ctx, contracts.NodeG, events.EventNodeGInput, step, payload)
}

// StageG closes the run: counts the produced artifacts, folds the ledger
// into the dossier, and writes the single terminal success transition.
type StageG struct {
	Logger *slog.Logger
}

func (h StageG) Handle(ctx context.Context, sc worker.StageContext) error {
	runID, campaignID, err := parseIDs(sc)
	if err != nil {
		return err
	}
	if err := sc.Spend("internal", "finalize", costFinalize, 1, 0, nil); err != nil {
		return err
	}

	cards, err := sc.Stores.TargetCards.CountByCampaign(ctx, sc.Envelope.TenantID, campaignID)
	if err != nil {
		return err
	}
	drafts, err := sc.Stores.Drafts.CountByCampaign(ctx, sc.Envelope.TenantID, campaignID)
	if err != nil {
		return err
	}

	total := 0.0
	summary := core.Summary{ByNode: map[string]float64{}, ByProvider: map[string]float64{}}
	if agg, ok := sc.Ledger.(core.Aggregator); ok {
		total = agg.TotalDollars(sc.Envelope.RunID)
		summary = agg.Summary(sc.Envelope.RunID)
	}
	result := map[string]any{
		"target_cards_count": cards,
		"targets_count":      cards,
		"drafts_count":       drafts,
		"total_cost_dollars": total,
		"cost_summary":       summary,
		"notes":              "dossier assembled",
	}
	return terminalOK(sc.Stores.Runs.MarkCompleted(ctx, sc.Envelope.TenantID, runID, result))
}

func zeroTargetResult(sc worker.StageContext, notes string) map[string]any {
	total := 0.0
	summary := core.Summary{ByNode: map[string]float64{}, ByProvider: map[string]float64{}}
	if agg, ok := sc.Ledger.(core.Aggregator); ok {
		total = agg.TotalDollars(sc.Envelope.RunID)
		summary = agg.Summary(sc.Envelope.RunID)
	}
	return map[string]any{
		"target_cards_count": 0,
		"targets_count":      0,
		"drafts_count":       0,
		"total_cost_dollars": total,
		"cost_summary":       summary,
		"notes":              notes,
	}
}

func shortID(id uuid.UUID) string {
	s := id.String()
	return s[:8]
}
