package nodeb

import (
	"context"
	"time"

	"github.com/google/uuid"

	"metismedia/internal/core"
	"metismedia/internal/shared/events"
	"metismedia/internal/store"
	"metismedia/internal/worker"
)

// Hand-written stubs for the ports this stage touches.

type stubBus struct {
	published  []events.Envelope
	publishErr error
}

func (b *stubBus) Publish(ctx context.Context, envelope events.Envelope) (string, error) {
	if b.publishErr != nil {
		return "", b.publishErr
	}
	b.published = append(b.published, envelope)
	return "1-1", nil
}

func (b *stubBus) PublishDLQ(ctx context.Context, envelope events.Envelope, errMsg string) (string, error) {
	return "1-1", nil
}

type stubCampaignStore struct {
	store.CampaignStore

	campaign store.Campaign
	err      error
}

func (s *stubCampaignStore) Get(ctx context.Context, tenantID, campaignID uuid.UUID) (store.Campaign, error) {
	if s.err != nil {
		return store.Campaign{}, s.err
	}
	return s.campaign, nil
}

type stubEmbeddingStore struct {
	store.EmbeddingStore

	vectors   map[uuid.UUID][]float32
	created   []store.Embedding
	createErr error
}

func (s *stubEmbeddingStore) Vector(ctx context.Context, tenantID, embeddingID uuid.UUID) ([]float32, error) {
	vec, ok := s.vectors[embeddingID]
	if !ok {
		return nil, store.ErrNotFound
	}
	return vec, nil
}

func (s *stubEmbeddingStore) Create(ctx context.Context, embedding store.Embedding) (uuid.UUID, error) {
	if s.createErr != nil {
		return uuid.Nil, s.createErr
	}
	if embedding.ID == uuid.Nil {
		embedding.ID = uuid.New()
	}
	s.created = append(s.created, embedding)
	return embedding.ID, nil
}

type stubInfluencerStore struct {
	store.InfluencerStore

	pulses []uuid.UUID
}

func (s *stubInfluencerStore) RecordPulse(ctx context.Context, tenantID, influencerID, recentEmbeddingID uuid.UUID, checkedAt time.Time) error {
	s.pulses = append(s.pulses, influencerID)
	return nil
}

type stubCandidateStore struct {
	store.CandidateStore

	candidates   []store.Candidate
	prefilterErr error
	filterGot    store.CandidateFilter

	// reservations limits which requested influencers win a lease; nil
	// grants every request.
	reservations map[uuid.UUID]uuid.UUID
	reserveErr   error
	reserveGot   []uuid.UUID
}

func (s *stubCandidateStore) Prefilter(ctx context.Context, tenantID, queryEmbeddingID uuid.UUID, filter store.CandidateFilter, limit int) ([]store.Candidate, error) {
	s.filterGot = filter
	if s.prefilterErr != nil {
		return nil, s.prefilterErr
	}
	return s.candidates, nil
}

func (s *stubCandidateStore) Reserve(ctx context.Context, tenantID uuid.UUID, influencerIDs []uuid.UUID, duration time.Duration, reason string) (map[uuid.UUID]uuid.UUID, error) {
	s.reserveGot = append([]uuid.UUID(nil), influencerIDs...)
	if s.reserveErr != nil {
		return nil, s.reserveErr
	}
	out := make(map[uuid.UUID]uuid.UUID, len(influencerIDs))
	for _, id := range influencerIDs {
		if s.reservations == nil {
			out[id] = uuid.New()
			continue
		}
		if reservationID, ok := s.reservations[id]; ok {
			out[id] = reservationID
		}
	}
	return out, nil
}

type stubRunStore struct {
	store.RunStore

	completed []map[string]any
	failed    []string
}

func (s *stubRunStore) MarkCompleted(ctx context.Context, tenantID, runID uuid.UUID, result map[string]any) error {
	s.completed = append(s.completed, result)
	return nil
}

func (s *stubRunStore) MarkFailed(ctx context.Context, tenantID, runID uuid.UUID, errorMessage string) error {
	s.failed = append(s.failed, errorMessage)
	return nil
}

type stageDeps struct {
	bus         *stubBus
	runs        *stubRunStore
	campaigns   *stubCampaignStore
	embeddings  *stubEmbeddingStore
	influencers *stubInfluencerStore
	candidates  *stubCandidateStore
	ledger      *core.MemoryLedger
	state       *core.BudgetState
}

func newStageContext(envelope events.Envelope, deps stageDeps) worker.StageContext {
	return worker.StageContext{
		Envelope: envelope,
		Stores: store.Stores{
			Runs:        deps.runs,
			Campaigns:   deps.campaigns,
			Embeddings:  deps.embeddings,
			Influencers: deps.influencers,
			Candidates:  deps.candidates,
		},
		Budget: core.Budget{MaxDollars: 5},
		State:  deps.state,
		Ledger: deps.ledger,
		Bus:    deps.bus,
	}
}
