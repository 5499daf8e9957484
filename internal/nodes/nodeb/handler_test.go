package nodeb

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"

	"metismedia/internal/contracts"
	"metismedia/internal/core"
	"metismedia/internal/providers"
	"metismedia/internal/shared/events"
	"metismedia/internal/store"
)

func intPtr(v int) *int              { return &v }
func strPtr(v string) *string        { return &v }
func timePtr(v time.Time) *time.Time { return &v }

func alliesBrief(queryID uuid.UUID) contracts.CampaignBrief {
	slots := map[string]any{
		"third_rail_terms": []string{"gambling", "vaping"},
		"platform_vector":  []string{"substack", "newsletter"},
	}
	if queryID != uuid.Nil {
		slots["query_embedding_id"] = queryID.String()
	}
	return contracts.CampaignBrief{
		Name:           "repair right launch",
		PolarityIntent: contracts.PolarityAllies,
		SlotValues:     slots,
		Finalized:      true,
	}
}

func matchEnvelope(tenantID, runID, campaignID uuid.UUID, limit int) events.Envelope {
	key := events.MakeIdempotencyKey(tenantID, runID.String(), contracts.NodeB, events.EventNodeBInput, "reserve")
	payload := map[string]any{"campaign_id": campaignID.String()}
	if limit > 0 {
		payload["limit"] = limit
	}
	return events.New(tenantID, contracts.NodeB, events.EventNodeBInput, "trace-1", runID.String(), key, payload)
}

// freshCandidate builds a candidate that scores above the precheck threshold
// for an allies campaign and passes pulse from cache.
func freshCandidate(now time.Time, recentID uuid.UUID) store.Candidate {
	return store.Candidate{
		InfluencerID:       uuid.New(),
		Similarity:         0.95,
		LastScrapedAt:      timePtr(now),
		PolarityScore:      intPtr(10),
		PrimaryURL:         strPtr("https://example.com/creator"),
		LastPulseCheckedAt: timePtr(now),
		RecentEmbeddingID:  &recentID,
	}
}

func newMatchHandler() Handler {
	return Handler{
		Checker: PulseChecker{
			Pulse:      providers.NewMockPulseProvider(),
			Embedder:   providers.NewMockEmbeddingProvider(),
			Thresholds: DefaultThresholds(),
		},
		Thresholds: DefaultThresholds(),
		Weights:    DefaultWeights(),
	}
}

func TestMatchingHappyPathEmitsDirectives(t *testing.T) {
	tenantID := uuid.New()
	runID := uuid.New()
	campaignID := uuid.New()
	queryID := uuid.New()
	now := time.Now().UTC()
	campaignVec := []float32{1, 0, 0}

	vectors := map[uuid.UUID][]float32{queryID: campaignVec}
	candidates := make([]store.Candidate, 0, 3)
	for i := 0; i < 3; i++ {
		recentID := uuid.New()
		vectors[recentID] = campaignVec
		candidates = append(candidates, freshCandidate(now, recentID))
	}

	deps := stageDeps{
		bus:         &stubBus{},
		runs:        &stubRunStore{},
		campaigns:   &stubCampaignStore{campaign: store.Campaign{ID: campaignID, TenantID: tenantID, Brief: alliesBrief(queryID)}},
		embeddings:  &stubEmbeddingStore{vectors: vectors},
		influencers: &stubInfluencerStore{},
		candidates:  &stubCandidateStore{candidates: candidates},
		ledger:      core.NewMemoryLedger(),
		state:       core.NewBudgetState(),
	}
	sc := newStageContext(matchEnvelope(tenantID, runID, campaignID, 2), deps)

	if err := newMatchHandler().Handle(context.Background(), sc); err != nil {
		t.Fatalf("handle: %v", err)
	}

	if got := len(deps.candidates.reserveGot); got != 3 {
		t.Fatalf("reserve request = %d ids, want min(2*desired, passing) = 3", got)
	}
	for i, id := range deps.candidates.reserveGot {
		if id != candidates[i].InfluencerID {
			t.Fatalf("reserve request %d = %s, want the ranked passing candidate", i, id)
		}
	}
	filter := deps.candidates.filterGot
	if len(filter.ThirdRailTerms) != 2 || filter.ThirdRailTerms[0] != "gambling" {
		t.Fatalf("third-rail terms not passed to the prefilter: %v", filter.ThirdRailTerms)
	}
	if len(filter.Platforms) != 2 || filter.Platforms[0] != "substack" {
		t.Fatalf("platform whitelist not passed to the prefilter: %v", filter.Platforms)
	}
	if len(deps.bus.published) != 2 {
		t.Fatalf("published = %d envelopes, want 2 directives", len(deps.bus.published))
	}
	for i, e := range deps.bus.published {
		if e.EventName != events.EventDirectiveEmitted || e.Node != contracts.NodeB {
			t.Fatalf("envelope %d = %s from %s", i, e.EventName, e.Node)
		}
		if e.PayloadString("action") != "proceed" {
			t.Fatalf("action = %q", e.PayloadString("action"))
		}
		if e.PayloadString("cache_status") != string(contracts.CacheHit) {
			t.Fatalf("cache_status = %q, want cache_hit", e.PayloadString("cache_status"))
		}
		if e.PayloadString("pulse_status") != string(contracts.PulsePass) {
			t.Fatalf("pulse_status = %q", e.PayloadString("pulse_status"))
		}
		influencerID := e.PayloadString("influencer_id")
		if !strings.HasSuffix(e.IdempotencyKey, "proceed:"+influencerID) {
			t.Fatalf("idempotency key %q does not end with the proceed step", e.IdempotencyKey)
		}
		if e.PayloadString("reservation_id") == "" {
			t.Fatal("directive missing reservation_id")
		}
	}

	// Directives go out in fused-score order; all scores tie here so the top
	// two candidates are the first two reserved.
	if deps.bus.published[0].PayloadString("influencer_id") != candidates[0].InfluencerID.String() {
		t.Fatal("first directive is not the top-ranked candidate")
	}

	if len(deps.runs.completed) != 0 || len(deps.runs.failed) != 0 {
		t.Fatal("cache hit must leave the run open for downstream stages")
	}
	if entries := deps.ledger.Entries(); len(entries) != 3 {
		t.Fatalf("cost entries = %d, want prefilter + mms + vector_search", len(entries))
	}
}

func TestMatchingPartialHit(t *testing.T) {
	tenantID := uuid.New()
	runID := uuid.New()
	campaignID := uuid.New()
	queryID := uuid.New()
	now := time.Now().UTC()
	campaignVec := []float32{1, 0, 0}

	vectors := map[uuid.UUID][]float32{queryID: campaignVec}
	candidates := make([]store.Candidate, 0, 3)
	for i := 0; i < 3; i++ {
		recentID := uuid.New()
		vectors[recentID] = campaignVec
		candidates = append(candidates, freshCandidate(now, recentID))
	}
	// Only one lease is won; concurrent workers hold the rest.
	reservations := map[uuid.UUID]uuid.UUID{
		candidates[1].InfluencerID: uuid.New(),
	}

	deps := stageDeps{
		bus:         &stubBus{},
		runs:        &stubRunStore{},
		campaigns:   &stubCampaignStore{campaign: store.Campaign{ID: campaignID, TenantID: tenantID, Brief: alliesBrief(queryID)}},
		embeddings:  &stubEmbeddingStore{vectors: vectors},
		influencers: &stubInfluencerStore{},
		candidates:  &stubCandidateStore{candidates: candidates, reservations: reservations},
		ledger:      core.NewMemoryLedger(),
		state:       core.NewBudgetState(),
	}
	sc := newStageContext(matchEnvelope(tenantID, runID, campaignID, 2), deps)

	if err := newMatchHandler().Handle(context.Background(), sc); err != nil {
		t.Fatalf("handle: %v", err)
	}

	if len(deps.bus.published) != 1 {
		t.Fatalf("published = %d, want the single reserved candidate", len(deps.bus.published))
	}
	directive := deps.bus.published[0]
	if directive.PayloadString("influencer_id") != candidates[1].InfluencerID.String() {
		t.Fatal("directive emitted for an unreserved candidate")
	}
	if directive.PayloadString("cache_status") != string(contracts.PartialHit) {
		t.Fatalf("cache_status = %q, want partial_hit", directive.PayloadString("cache_status"))
	}
	if len(deps.runs.completed) != 0 {
		t.Fatal("partial hit must not complete the run")
	}
}

func TestMatchingReservesOnlyPassingCandidates(t *testing.T) {
	tenantID := uuid.New()
	runID := uuid.New()
	campaignID := uuid.New()
	queryID := uuid.New()
	now := time.Now().UTC()
	campaignVec := []float32{1, 0, 0}

	vectors := map[uuid.UUID][]float32{queryID: campaignVec}
	recentID := uuid.New()
	vectors[recentID] = campaignVec
	passing := freshCandidate(now, recentID)

	// Higher raw similarity, but vetoed by polarity and stale: must never
	// reach the reservation request even though it would top a similarity
	// ranking.
	vetoed := freshCandidate(now, uuid.New())
	vetoed.Similarity = 0.99
	vetoed.PolarityScore = intPtr(-8)
	stale := freshCandidate(now, uuid.New())
	stale.Similarity = 0.99
	stale.LastScrapedAt = timePtr(now.Add(-20 * 24 * time.Hour))

	deps := stageDeps{
		bus:         &stubBus{},
		runs:        &stubRunStore{},
		campaigns:   &stubCampaignStore{campaign: store.Campaign{ID: campaignID, TenantID: tenantID, Brief: alliesBrief(queryID)}},
		embeddings:  &stubEmbeddingStore{vectors: vectors},
		influencers: &stubInfluencerStore{},
		candidates:  &stubCandidateStore{candidates: []store.Candidate{vetoed, stale, passing}},
		ledger:      core.NewMemoryLedger(),
		state:       core.NewBudgetState(),
	}
	sc := newStageContext(matchEnvelope(tenantID, runID, campaignID, 2), deps)

	if err := newMatchHandler().Handle(context.Background(), sc); err != nil {
		t.Fatalf("handle: %v", err)
	}

	got := deps.candidates.reserveGot
	if len(got) != 1 || got[0] != passing.InfluencerID {
		t.Fatalf("reserve request = %v, want only the fused-score passer %s", got, passing.InfluencerID)
	}
	if len(deps.bus.published) != 1 {
		t.Fatalf("published = %d envelopes, want the single directive", len(deps.bus.published))
	}
	if deps.bus.published[0].PayloadString("influencer_id") != passing.InfluencerID.String() {
		t.Fatal("directive emitted for a candidate that never passed the threshold")
	}
}

func TestMatchingPolarityVetoCompletesZeroTargets(t *testing.T) {
	tenantID := uuid.New()
	runID := uuid.New()
	campaignID := uuid.New()
	queryID := uuid.New()
	now := time.Now().UTC()

	critic := freshCandidate(now, uuid.New())
	critic.PolarityScore = intPtr(-5)

	deps := stageDeps{
		bus:        &stubBus{},
		runs:       &stubRunStore{},
		campaigns:  &stubCampaignStore{campaign: store.Campaign{ID: campaignID, TenantID: tenantID, Brief: alliesBrief(queryID)}},
		embeddings: &stubEmbeddingStore{vectors: map[uuid.UUID][]float32{queryID: {1, 0, 0}}},
		candidates: &stubCandidateStore{candidates: []store.Candidate{critic}},
		ledger:     core.NewMemoryLedger(),
		state:      core.NewBudgetState(),
	}
	sc := newStageContext(matchEnvelope(tenantID, runID, campaignID, 3), deps)

	if err := newMatchHandler().Handle(context.Background(), sc); err != nil {
		t.Fatalf("handle: %v", err)
	}

	if got := len(deps.candidates.reserveGot); got != 0 {
		t.Fatalf("reserve request = %d ids, nothing should be reserved", got)
	}
	if len(deps.bus.published) != 1 {
		t.Fatalf("published = %d, want only the discovery request", len(deps.bus.published))
	}
	discovery := deps.bus.published[0]
	if discovery.EventName != events.EventDiscoveryNeeded || discovery.Node != contracts.NodeC {
		t.Fatalf("event = %s from %s, want discovery_needed for C", discovery.EventName, discovery.Node)
	}
	if got := discovery.PayloadInt("needed_count", -1); got != 3 {
		t.Fatalf("needed_count = %d, want 3", got)
	}
	if len(deps.runs.completed) != 1 {
		t.Fatalf("completed calls = %d, want 1", len(deps.runs.completed))
	}
	result := deps.runs.completed[0]
	if result["target_cards_count"] != 0 || result["drafts_count"] != 0 {
		t.Fatalf("zero-target result wrong: %v", result)
	}
}

func TestMatchingNoQueryEmbeddingCompletes(t *testing.T) {
	tenantID := uuid.New()
	runID := uuid.New()
	campaignID := uuid.New()

	deps := stageDeps{
		bus:       &stubBus{},
		runs:      &stubRunStore{},
		campaigns: &stubCampaignStore{campaign: store.Campaign{ID: campaignID, TenantID: tenantID, Brief: alliesBrief(uuid.Nil)}},
		ledger:    core.NewMemoryLedger(),
		state:     core.NewBudgetState(),
	}
	sc := newStageContext(matchEnvelope(tenantID, runID, campaignID, 0), deps)

	if err := newMatchHandler().Handle(context.Background(), sc); err != nil {
		t.Fatalf("handle: %v", err)
	}
	if len(deps.runs.completed) != 1 {
		t.Fatalf("completed calls = %d, want 1", len(deps.runs.completed))
	}
	if notes := deps.runs.completed[0]["notes"]; notes != "no query embedding on brief" {
		t.Fatalf("notes = %v", notes)
	}
	if len(deps.bus.published) != 0 {
		t.Fatal("nothing should be emitted without a query embedding")
	}
	if len(deps.ledger.Entries()) != 0 {
		t.Fatal("no cost should accrue before the prefilter")
	}
}

func TestMatchingCampaignNotFoundFailsRun(t *testing.T) {
	deps := stageDeps{
		bus:       &stubBus{},
		runs:      &stubRunStore{},
		campaigns: &stubCampaignStore{err: store.ErrNotFound},
		ledger:    core.NewMemoryLedger(),
		state:     core.NewBudgetState(),
	}
	sc := newStageContext(matchEnvelope(uuid.New(), uuid.New(), uuid.New(), 0), deps)

	if err := newMatchHandler().Handle(context.Background(), sc); err != nil {
		t.Fatalf("handle: %v", err)
	}
	if len(deps.runs.failed) != 1 || deps.runs.failed[0] != "campaign not found" {
		t.Fatalf("failed calls = %v", deps.runs.failed)
	}
}

func TestMatchingMissingEmbeddingFailsRun(t *testing.T) {
	tenantID := uuid.New()
	campaignID := uuid.New()
	queryID := uuid.New()

	deps := stageDeps{
		bus:        &stubBus{},
		runs:       &stubRunStore{},
		campaigns:  &stubCampaignStore{campaign: store.Campaign{ID: campaignID, TenantID: tenantID, Brief: alliesBrief(queryID)}},
		embeddings: &stubEmbeddingStore{},
		ledger:     core.NewMemoryLedger(),
		state:      core.NewBudgetState(),
	}
	sc := newStageContext(matchEnvelope(tenantID, uuid.New(), campaignID, 0), deps)

	if err := newMatchHandler().Handle(context.Background(), sc); err != nil {
		t.Fatalf("handle: %v", err)
	}
	if len(deps.runs.failed) != 1 || deps.runs.failed[0] != "campaign embedding missing" {
		t.Fatalf("failed calls = %v", deps.runs.failed)
	}
}
