package orchestration

import (
	"context"
	"time"

	"github.com/google/uuid"

	"metismedia/internal/core"
	"metismedia/internal/shared/events"
	"metismedia/internal/store"
	"metismedia/internal/worker"
)

// Hand-written stubs for the stage chain tests.

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

type stubRunStore struct {
	store.RunStore

	runs      map[uuid.UUID]store.Run
	created   []store.Run
	completed []map[string]any
	failed    []string

	markCompletedErr error
}

func (s *stubRunStore) Create(ctx context.Context, run store.Run) (uuid.UUID, error) {
	if s.runs == nil {
		s.runs = map[uuid.UUID]store.Run{}
	}
	s.runs[run.ID] = run
	s.created = append(s.created, run)
	return run.ID, nil
}

func (s *stubRunStore) Get(ctx context.Context, tenantID, runID uuid.UUID) (store.Run, error) {
	run, ok := s.runs[runID]
	if !ok {
		return store.Run{}, store.ErrNotFound
	}
	return run, nil
}

func (s *stubRunStore) LinkCampaign(ctx context.Context, tenantID, runID, campaignID uuid.UUID) error {
	if run, ok := s.runs[runID]; ok {
		run.CampaignID = &campaignID
		s.runs[runID] = run
	}
	return nil
}

func (s *stubRunStore) MarkCompleted(ctx context.Context, tenantID, runID uuid.UUID, result map[string]any) error {
	if s.markCompletedErr != nil {
		return s.markCompletedErr
	}
	s.completed = append(s.completed, result)
	return nil
}

func (s *stubRunStore) MarkFailed(ctx context.Context, tenantID, runID uuid.UUID, errorMessage string) error {
	s.failed = append(s.failed, errorMessage)
	return nil
}

type stubCampaignStore struct {
	store.CampaignStore

	campaign store.Campaign
	created  []store.Campaign
	err      error
}

func (s *stubCampaignStore) Create(ctx context.Context, campaign store.Campaign) (uuid.UUID, error) {
	s.created = append(s.created, campaign)
	return campaign.ID, nil
}

func (s *stubCampaignStore) Get(ctx context.Context, tenantID, campaignID uuid.UUID) (store.Campaign, error) {
	if s.err != nil {
		return store.Campaign{}, s.err
	}
	return s.campaign, nil
}

type stubInfluencerStore struct {
	store.InfluencerStore

	influencer store.Influencer
}

func (s *stubInfluencerStore) Get(ctx context.Context, tenantID, influencerID uuid.UUID) (store.Influencer, error) {
	return s.influencer, nil
}

type stubReceiptStore struct {
	inserted []store.Receipt
}

func (s *stubReceiptStore) Insert(ctx context.Context, receipt store.Receipt) (uuid.UUID, error) {
	if receipt.ID == uuid.Nil {
		receipt.ID = uuid.New()
	}
	s.inserted = append(s.inserted, receipt)
	return receipt.ID, nil
}

type stubTargetCardStore struct {
	upserted []store.TargetCard
	count    int64
}

func (s *stubTargetCardStore) Upsert(ctx context.Context, card store.TargetCard) (uuid.UUID, error) {
	if card.ID == uuid.Nil {
		card.ID = uuid.New()
	}
	s.upserted = append(s.upserted, card)
	return card.ID, nil
}

func (s *stubTargetCardStore) CountByCampaign(ctx context.Context, tenantID, campaignID uuid.UUID) (int64, error) {
	return s.count, nil
}

type stubContactStore struct {
	inserted []store.ContactMethod
}

func (s *stubContactStore) Insert(ctx context.Context, contact store.ContactMethod) (uuid.UUID, error) {
	if contact.ID == uuid.Nil {
		contact.ID = uuid.New()
	}
	s.inserted = append(s.inserted, contact)
	return contact.ID, nil
}

type stubDraftStore struct {
	inserted []store.Draft
	count    int64
}

func (s *stubDraftStore) Insert(ctx context.Context, draft store.Draft) (uuid.UUID, error) {
	if draft.ID == uuid.Nil {
		draft.ID = uuid.New()
	}
	s.inserted = append(s.inserted, draft)
	return draft.ID, nil
}

func (s *stubDraftStore) CountByCampaign(ctx context.Context, tenantID, campaignID uuid.UUID) (int64, error) {
	return s.count, nil
}

type stubSessions struct {
	stores store.Stores
}

func (s stubSessions) WithTx(ctx context.Context, fn func(ctx context.Context, st store.Stores) error) error {
	return fn(ctx, s.stores)
}

type stageDeps struct {
	bus         *stubBus
	runs        *stubRunStore
	campaigns   *stubCampaignStore
	influencers *stubInfluencerStore
	receipts    *stubReceiptStore
	cards       *stubTargetCardStore
	contacts    *stubContactStore
	drafts      *stubDraftStore
	ledger      *core.MemoryLedger
}

func newStageDeps() stageDeps {
	return stageDeps{
		bus:         &stubBus{},
		runs:        &stubRunStore{},
		campaigns:   &stubCampaignStore{},
		influencers: &stubInfluencerStore{},
		receipts:    &stubReceiptStore{},
		cards:       &stubTargetCardStore{},
		contacts:    &stubContactStore{},
		drafts:      &stubDraftStore{},
		ledger:      core.NewMemoryLedger(),
	}
}

func (d stageDeps) stores() store.Stores {
	return store.Stores{
		Runs:        d.runs,
		Campaigns:   d.campaigns,
		Influencers: d.influencers,
		Receipts:    d.receipts,
		TargetCards: d.cards,
		Contacts:    d.contacts,
		Drafts:      d.drafts,
	}
}

func newStageContext(envelope events.Envelope, deps stageDeps) worker.StageContext {
	return worker.StageContext{
		Envelope: envelope,
		Stores:   deps.stores(),
		Budget:   core.Budget{MaxDollars: 5},
		State:    core.NewBudgetState(),
		Ledger:   deps.ledger,
		Bus:      deps.bus,
	}
}

type fixedClock struct{ now time.Time }

func (c fixedClock) Now() time.Time { return c.now }
