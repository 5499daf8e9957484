package store

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
)

// Narrow per-table interfaces. Each store exposes only the methods the
// pipeline needs; adapters live in store/postgres.

var (
	ErrNotFound = errors.New("row not found")
	// ErrTerminalStatus is returned when a second terminal transition is
	// attempted on a run.
	ErrTerminalStatus = errors.New("run already in terminal status")
)

type RunStore interface {
	Create(ctx context.Context, run Run) (uuid.UUID, error)
	Get(ctx context.Context, tenantID, runID uuid.UUID) (Run, error)
	LinkCampaign(ctx context.Context, tenantID, runID, campaignID uuid.UUID) error
	// MarkCompleted writes the single terminal success transition.
	MarkCompleted(ctx context.Context, tenantID, runID uuid.UUID, result map[string]any) error
	// MarkFailed writes the single terminal failure transition.
	MarkFailed(ctx context.Context, tenantID, runID uuid.UUID, errorMessage string) error
}

type CampaignStore interface {
	Create(ctx context.Context, campaign Campaign) (uuid.UUID, error)
	Get(ctx context.Context, tenantID, campaignID uuid.UUID) (Campaign, error)
}

type EmbeddingStore interface {
	Create(ctx context.Context, embedding Embedding) (uuid.UUID, error)
	// Vector loads only the stored vector for one embedding row.
	Vector(ctx context.Context, tenantID, embeddingID uuid.UUID) ([]float32, error)
}

type InfluencerStore interface {
	Create(ctx context.Context, influencer Influencer) (uuid.UUID, error)
	Get(ctx context.Context, tenantID, influencerID uuid.UUID) (Influencer, error)
	// RecordPulse stores the freshness check outcome: new recent embedding
	// reference plus last_pulse_checked_at.
	RecordPulse(ctx context.Context, tenantID, influencerID, recentEmbeddingID uuid.UUID, checkedAt time.Time) error
}

type ReceiptStore interface {
	Insert(ctx context.Context, receipt Receipt) (uuid.UUID, error)
}

type TargetCardStore interface {
	// Upsert is keyed by (tenant, campaign, influencer); replays update the
	// payload in place instead of inserting a second row.
	Upsert(ctx context.Context, card TargetCard) (uuid.UUID, error)
	CountByCampaign(ctx context.Context, tenantID, campaignID uuid.UUID) (int64, error)
}

type ContactStore interface {
	Insert(ctx context.Context, contact ContactMethod) (uuid.UUID, error)
}

type DraftStore interface {
	Insert(ctx context.Context, draft Draft) (uuid.UUID, error)
	CountByCampaign(ctx context.Context, tenantID, campaignID uuid.UUID) (int64, error)
}

type ReservationStore interface {
	// DeleteExpired removes rows whose lease has lapsed. Stages already
	// treat lapsed rows as unreserved; this keeps the table small.
	DeleteExpired(ctx context.Context, now time.Time) (int64, error)
}

// CandidateStore hosts the vector-search queries Stage B composes.
type CandidateStore interface {
	// Prefilter returns the top candidates by ascending cosine distance to
	// the query embedding, after the safety predicates, the optional brief
	// filters, and exclusion of actively reserved influencers.
	Prefilter(ctx context.Context, tenantID, queryEmbeddingID uuid.UUID, filter CandidateFilter, limit int) ([]Candidate, error)

	// Reserve atomically leases the given influencers, locking the rows with
	// FOR UPDATE SKIP LOCKED and skipping any with an active reservation, so
	// concurrent workers win disjoint sets. Returns influencer id ->
	// reservation id for the rows won.
	Reserve(ctx context.Context, tenantID uuid.UUID, influencerIDs []uuid.UUID, duration time.Duration, reason string) (map[uuid.UUID]uuid.UUID, error)
}

// Stores bundles the per-table interfaces bound to one transaction.
type Stores struct {
	Runs         RunStore
	Campaigns    CampaignStore
	Embeddings   EmbeddingStore
	Influencers  InfluencerStore
	Receipts     ReceiptStore
	TargetCards  TargetCardStore
	Contacts     ContactStore
	Drafts       DraftStore
	Reservations ReservationStore
	Candidates   CandidateStore
}

// Sessions runs a function inside a single database transaction. The stores
// passed to fn are bound to that transaction; returning an error rolls back
// every write of the step.
type Sessions interface {
	WithTx(ctx context.Context, fn func(ctx context.Context, s Stores) error) error
}
