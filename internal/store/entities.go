package store

import (
	"time"

	"github.com/google/uuid"

	"metismedia/internal/contracts"
)

// Entities are the storage-level rows the pipeline reads and writes. All of
// them carry a tenant id and every query is scoped by it.

// Run statuses. Exactly one terminal transition happens per run.
const (
	RunPending   = "pending"
	RunRunning   = "running"
	RunCompleted = "completed"
	RunFailed    = "failed"
)

type Run struct {
	ID           uuid.UUID
	TenantID     uuid.UUID
	TraceID      string
	CampaignID   *uuid.UUID
	Status       string
	StartedAt    *time.Time
	CompletedAt  *time.Time
	ErrorMessage string
	Result       map[string]any
}

// Terminal reports whether the run has reached a final status.
func (r Run) Terminal() bool {
	return r.Status == RunCompleted || r.Status == RunFailed
}

type Campaign struct {
	ID       uuid.UUID
	TenantID uuid.UUID
	TraceID  string
	RunID    string
	Brief    contracts.CampaignBrief
}

// Embedding kinds.
const (
	EmbeddingCampaign = "campaign"
	EmbeddingBio      = "bio"
	EmbeddingRecent   = "recent"
)

// Embedding rows are immutable after insert.
type Embedding struct {
	ID       uuid.UUID
	TenantID uuid.UUID
	Kind     string
	Model    string
	Dims     int
	Norm     string
	Vector   []float32
}

type Influencer struct {
	ID                 uuid.UUID
	TenantID           uuid.UUID
	CanonicalName      string
	PrimaryURL         *string
	Platform           *string
	Geography          *string
	FollowerCount      *int
	PolarityScore      *int
	BioEmbeddingID     *uuid.UUID
	RecentEmbeddingID  *uuid.UUID
	BioText            *string
	LastScrapedAt      *time.Time
	LastPulseCheckedAt *time.Time
	DoNotContact       bool
	CoolingOffUntil    *time.Time
}

// Reservation is a soft lease on an influencer. Active iff
// reserved_until > now; expired rows are treated as unreserved even before
// the sweeper deletes them.
type Reservation struct {
	ID            uuid.UUID
	TenantID      uuid.UUID
	InfluencerID  uuid.UUID
	ReservedUntil time.Time
	Reason        string
}

type Receipt struct {
	ID             uuid.UUID
	TenantID       uuid.UUID
	InfluencerID   uuid.UUID
	Type           contracts.ReceiptType
	URL            string
	Excerpt        string
	OccurredAt     time.Time
	SourcePlatform string
	Confidence     float64
	Provenance     map[string]any
}

// TargetCard rows are keyed uniquely by (tenant, campaign, influencer) and
// written with upsert semantics.
type TargetCard struct {
	ID           uuid.UUID
	TenantID     uuid.UUID
	CampaignID   uuid.UUID
	InfluencerID uuid.UUID
	Payload      map[string]any
}

type ContactMethod struct {
	ID           uuid.UUID
	TenantID     uuid.UUID
	InfluencerID uuid.UUID
	Method       string
	Value        string
	Confidence   float64
	Verified     bool
	Provenance   map[string]any
}

type Draft struct {
	ID           uuid.UUID
	TenantID     uuid.UUID
	CampaignID   uuid.UUID
	InfluencerID uuid.UUID
	Channel      string
	Subject      string
	Body         string
	Status       string
}

// Candidate is one influencer row surfaced by the Stage B prefilter, joined
// with its bio-vector similarity to the campaign query.
type Candidate struct {
	InfluencerID       uuid.UUID
	Similarity         float64
	LastScrapedAt      *time.Time
	PolarityScore      *int
	PrimaryURL         *string
	BioText            *string
	LastPulseCheckedAt *time.Time
	RecentEmbeddingID  *uuid.UUID
}

// CandidateFilter carries the brief-derived optional filters applied during
// the safety prefilter.
type CandidateFilter struct {
	// ThirdRailTerms are matched case-insensitively as a regex alternation
	// against bio_text; a null bio passes.
	ThirdRailTerms []string
	// Platforms is a whitelist; a null platform passes.
	Platforms []string
	// Geography is a substring filter; a null geography passes.
	Geography string
}
