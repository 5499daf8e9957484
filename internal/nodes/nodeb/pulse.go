package nodeb

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"metismedia/internal/contracts"
	"metismedia/internal/providers"
	"metismedia/internal/store"
	"metismedia/internal/worker"
)

// Pulse provider cost constants.
const (
	pulseFetchUnitCost = 0.01
	pulseEmbedUnitCost = 0.0001
	pulseFetchLimit    = 3
	pulseCacheTTL      = 24 * time.Hour
)

// PulseOutcome is the result of one freshness check.
type PulseOutcome struct {
	Status     contracts.PulseStatus
	Similarity float64
	Reason     contracts.ReasonCode
}

// PulseChecker verifies that a reserved candidate's recent activity still
// aligns with the campaign. A recent check within the cache TTL is answered
// from the stored recent vector; otherwise the provider is scraped, the
// summaries embedded, and the result persisted for the next 24 hours.
type PulseChecker struct {
	Pulse      providers.PulseProvider
	Embedder   providers.EmbeddingProvider
	Thresholds Thresholds
	CacheTTL   time.Duration
	Clock      worker.Clock
	Logger     *slog.Logger
}

func (p PulseChecker) Check(ctx context.Context, sc worker.StageContext, candidate store.Candidate, campaignVec []float32) (PulseOutcome, error) {
	logger := worker.ResolveLogger(p.Logger)
	now := time.Now().UTC()
	if p.Clock != nil {
		now = p.Clock.Now().UTC()
	}
	ttl := p.CacheTTL
	if ttl <= 0 {
		ttl = pulseCacheTTL
	}

	// Cached path: a recent vector checked within the TTL answers without
	// touching any provider.
	if candidate.LastPulseCheckedAt != nil &&
		now.Sub(*candidate.LastPulseCheckedAt) <= ttl &&
		candidate.RecentEmbeddingID != nil {
		recentVec, err := sc.Stores.Embeddings.Vector(ctx, sc.Envelope.TenantID, *candidate.RecentEmbeddingID)
		if err != nil {
			return PulseOutcome{}, err
		}
		return p.judge(providers.CosineSimilarity(campaignVec, recentVec)), nil
	}

	if candidate.PrimaryURL == nil || strings.TrimSpace(*candidate.PrimaryURL) == "" {
		return PulseOutcome{
			Status: contracts.PulseInconclusive,
			Reason: contracts.ReasonPulseInconclusiveScrape,
		}, nil
	}

	meta := map[string]any{"influencer_id": candidate.InfluencerID.String()}
	if err := sc.Spend("pulse_provider", "fetch_summaries", pulseFetchUnitCost, 1, 1, meta); err != nil {
		return PulseOutcome{}, err
	}
	summaries, err := p.Pulse.FetchRecentSummaries(ctx, *candidate.PrimaryURL, pulseFetchLimit)
	if err != nil || len(summaries) == 0 {
		if err != nil {
			logger.Warn("pulse scrape failed",
				"event", "pulse_scrape_failed",
				"module", "internal/nodes/nodeb",
				"layer", "worker",
				"influencer_id", candidate.InfluencerID.String(),
				"error", err.Error(),
			)
		}
		return PulseOutcome{
			Status: contracts.PulseInconclusive,
			Reason: contracts.ReasonPulseInconclusiveScrape,
		}, nil
	}

	if err := sc.Spend("embedding_provider", "embed", pulseEmbedUnitCost, 1, 1, meta); err != nil {
		return PulseOutcome{}, err
	}
	texts := make([]string, 0, len(summaries))
	for _, s := range summaries {
		texts = append(texts, s.Text)
	}
	vectors, err := p.Embedder.Embed(ctx, []string{strings.Join(texts, "\n")})
	if err != nil {
		return PulseOutcome{}, err
	}
	recentVec := vectors[0]

	// The embedding insert and the influencer pulse columns commit together
	// with the rest of the handler's transaction.
	embeddingID, err := sc.Stores.Embeddings.Create(ctx, store.Embedding{
		ID:       uuid.New(),
		TenantID: sc.Envelope.TenantID,
		Kind:     store.EmbeddingRecent,
		Model:    p.Embedder.Model(),
		Vector:   recentVec,
	})
	if err != nil {
		return PulseOutcome{}, err
	}
	if err := sc.Stores.Influencers.RecordPulse(ctx, sc.Envelope.TenantID, candidate.InfluencerID, embeddingID, now); err != nil {
		return PulseOutcome{}, err
	}

	return p.judge(providers.CosineSimilarity(campaignVec, recentVec)), nil
}

func (p PulseChecker) judge(similarity float64) PulseOutcome {
	if similarity >= p.Thresholds.PulseMin {
		return PulseOutcome{Status: contracts.PulsePass, Similarity: similarity}
	}
	return PulseOutcome{
		Status:     contracts.PulseFail,
		Similarity: similarity,
		Reason:     contracts.ReasonPulseFailDrift,
	}
}
