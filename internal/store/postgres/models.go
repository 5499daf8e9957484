package postgresstore

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	pgvector "github.com/pgvector/pgvector-go"

	"metismedia/internal/contracts"
	"metismedia/internal/store"
)

// Row models mirror the migrated schema. Entities in internal/store stay
// free of gorm tags; mappers below translate both ways.

type runModel struct {
	ID           uuid.UUID  `gorm:"column:id;type:uuid;primaryKey"`
	TenantID     uuid.UUID  `gorm:"column:tenant_id;type:uuid"`
	CampaignID   *uuid.UUID `gorm:"column:campaign_id;type:uuid"`
	TraceID      string     `gorm:"column:trace_id"`
	Status       string     `gorm:"column:status"`
	StartedAt    *time.Time `gorm:"column:started_at"`
	CompletedAt  *time.Time `gorm:"column:completed_at"`
	ErrorMessage *string    `gorm:"column:error_message"`
	ResultJSON   []byte     `gorm:"column:result_json;type:jsonb"`
	CreatedAt    time.Time  `gorm:"column:created_at"`
	UpdatedAt    time.Time  `gorm:"column:updated_at"`
}

func (runModel) TableName() string { return "runs" }

func (m runModel) toEntity() (store.Run, error) {
	run := store.Run{
		ID:          m.ID,
		TenantID:    m.TenantID,
		TraceID:     m.TraceID,
		CampaignID:  m.CampaignID,
		Status:      m.Status,
		StartedAt:   m.StartedAt,
		CompletedAt: m.CompletedAt,
	}
	if m.ErrorMessage != nil {
		run.ErrorMessage = *m.ErrorMessage
	}
	if len(m.ResultJSON) > 0 {
		if err := json.Unmarshal(m.ResultJSON, &run.Result); err != nil {
			return store.Run{}, fmt.Errorf("decode run result_json: %w", err)
		}
	}
	return run, nil
}

type campaignModel struct {
	ID        uuid.UUID `gorm:"column:id;type:uuid;primaryKey"`
	TenantID  uuid.UUID `gorm:"column:tenant_id;type:uuid"`
	TraceID   string    `gorm:"column:trace_id"`
	RunID     string    `gorm:"column:run_id"`
	BriefJSON []byte    `gorm:"column:brief_json;type:jsonb"`
	CreatedAt time.Time `gorm:"column:created_at"`
	UpdatedAt time.Time `gorm:"column:updated_at"`
}

func (campaignModel) TableName() string { return "campaigns" }

func (m campaignModel) toEntity() (store.Campaign, error) {
	brief, err := contracts.BriefFromJSON(m.BriefJSON)
	if err != nil {
		return store.Campaign{}, err
	}
	return store.Campaign{
		ID:       m.ID,
		TenantID: m.TenantID,
		TraceID:  m.TraceID,
		RunID:    m.RunID,
		Brief:    brief,
	}, nil
}

type embeddingModel struct {
	ID        uuid.UUID       `gorm:"column:id;type:uuid;primaryKey"`
	TenantID  uuid.UUID       `gorm:"column:tenant_id;type:uuid"`
	Kind      string          `gorm:"column:kind"`
	Model     string          `gorm:"column:embedding_model"`
	Dims      int             `gorm:"column:embedding_dims"`
	Norm      string          `gorm:"column:embedding_norm"`
	Vector    pgvector.Vector `gorm:"column:vector;type:vector(1536)"`
	CreatedAt time.Time       `gorm:"column:created_at"`
	UpdatedAt time.Time       `gorm:"column:updated_at"`
}

func (embeddingModel) TableName() string { return "embeddings" }

type influencerModel struct {
	ID                 uuid.UUID  `gorm:"column:id;type:uuid;primaryKey"`
	TenantID           uuid.UUID  `gorm:"column:tenant_id;type:uuid"`
	CanonicalName      string     `gorm:"column:canonical_name"`
	PrimaryURL         *string    `gorm:"column:primary_url"`
	Platform           *string    `gorm:"column:platform"`
	Geography          *string    `gorm:"column:geography"`
	FollowerCount      *int       `gorm:"column:follower_count"`
	PolarityScore      *int       `gorm:"column:polarity_score"`
	BioEmbeddingID     *uuid.UUID `gorm:"column:bio_embedding_id;type:uuid"`
	RecentEmbeddingID  *uuid.UUID `gorm:"column:recent_embedding_id;type:uuid"`
	BioText            *string    `gorm:"column:bio_text"`
	LastScrapedAt      *time.Time `gorm:"column:last_scraped_at"`
	LastPulseCheckedAt *time.Time `gorm:"column:last_pulse_checked_at"`
	DoNotContact       bool       `gorm:"column:do_not_contact"`
	CoolingOffUntil    *time.Time `gorm:"column:cooling_off_until"`
	CreatedAt          time.Time  `gorm:"column:created_at"`
	UpdatedAt          time.Time  `gorm:"column:updated_at"`
}

func (influencerModel) TableName() string { return "influencers" }

func (m influencerModel) toEntity() store.Influencer {
	return store.Influencer{
		ID:                 m.ID,
		TenantID:           m.TenantID,
		CanonicalName:      m.CanonicalName,
		PrimaryURL:         m.PrimaryURL,
		Platform:           m.Platform,
		Geography:          m.Geography,
		FollowerCount:      m.FollowerCount,
		PolarityScore:      m.PolarityScore,
		BioEmbeddingID:     m.BioEmbeddingID,
		RecentEmbeddingID:  m.RecentEmbeddingID,
		BioText:            m.BioText,
		LastScrapedAt:      m.LastScrapedAt,
		LastPulseCheckedAt: m.LastPulseCheckedAt,
		DoNotContact:       m.DoNotContact,
		CoolingOffUntil:    m.CoolingOffUntil,
	}
}

type reservationModel struct {
	ID            uuid.UUID `gorm:"column:id;type:uuid;primaryKey"`
	TenantID      uuid.UUID `gorm:"column:tenant_id;type:uuid"`
	InfluencerID  uuid.UUID `gorm:"column:influencer_id;type:uuid"`
	ReservedUntil time.Time `gorm:"column:reserved_until"`
	Reason        *string   `gorm:"column:reason"`
	CreatedAt     time.Time `gorm:"column:created_at"`
	UpdatedAt     time.Time `gorm:"column:updated_at"`
}

func (reservationModel) TableName() string { return "reservations" }

type receiptModel struct {
	ID             uuid.UUID `gorm:"column:id;type:uuid;primaryKey"`
	TenantID       uuid.UUID `gorm:"column:tenant_id;type:uuid"`
	InfluencerID   uuid.UUID `gorm:"column:influencer_id;type:uuid"`
	Type           string    `gorm:"column:type"`
	URL            string    `gorm:"column:url"`
	Excerpt        string    `gorm:"column:excerpt"`
	OccurredAt     time.Time `gorm:"column:occurred_at"`
	SourcePlatform string    `gorm:"column:source_platform"`
	Confidence     float64   `gorm:"column:confidence"`
	ProvenanceJSON []byte    `gorm:"column:provenance_json;type:jsonb"`
	CreatedAt      time.Time `gorm:"column:created_at"`
	UpdatedAt      time.Time `gorm:"column:updated_at"`
}

func (receiptModel) TableName() string { return "receipts" }

type targetCardModel struct {
	ID           uuid.UUID `gorm:"column:id;type:uuid;primaryKey"`
	TenantID     uuid.UUID `gorm:"column:tenant_id;type:uuid;uniqueIndex:uq_target_cards_key"`
	CampaignID   uuid.UUID `gorm:"column:campaign_id;type:uuid;uniqueIndex:uq_target_cards_key"`
	InfluencerID uuid.UUID `gorm:"column:influencer_id;type:uuid;uniqueIndex:uq_target_cards_key"`
	PayloadJSON  []byte    `gorm:"column:payload_json;type:jsonb"`
	CreatedAt    time.Time `gorm:"column:created_at"`
	UpdatedAt    time.Time `gorm:"column:updated_at"`
}

func (targetCardModel) TableName() string { return "target_cards" }

type contactMethodModel struct {
	ID             uuid.UUID `gorm:"column:id;type:uuid;primaryKey"`
	TenantID       uuid.UUID `gorm:"column:tenant_id;type:uuid"`
	InfluencerID   uuid.UUID `gorm:"column:influencer_id;type:uuid"`
	Method         string    `gorm:"column:method"`
	Value          string    `gorm:"column:value"`
	Confidence     float64   `gorm:"column:confidence"`
	Verified       bool      `gorm:"column:verified"`
	ProvenanceJSON []byte    `gorm:"column:provenance_json;type:jsonb"`
	CreatedAt      time.Time `gorm:"column:created_at"`
	UpdatedAt      time.Time `gorm:"column:updated_at"`
}

func (contactMethodModel) TableName() string { return "contact_methods" }

type draftModel struct {
	ID           uuid.UUID `gorm:"column:id;type:uuid;primaryKey"`
	TenantID     uuid.UUID `gorm:"column:tenant_id;type:uuid"`
	CampaignID   uuid.UUID `gorm:"column:campaign_id;type:uuid"`
	InfluencerID uuid.UUID `gorm:"column:influencer_id;type:uuid"`
	Channel      string    `gorm:"column:channel"`
	Subject      string    `gorm:"column:subject"`
	Body         string    `gorm:"column:body"`
	Status       string    `gorm:"column:status"`
	CreatedAt    time.Time `gorm:"column:created_at"`
	UpdatedAt    time.Time `gorm:"column:updated_at"`
}

func (draftModel) TableName() string { return "drafts" }

func marshalJSON(value map[string]any) ([]byte, error) {
	if value == nil {
		return nil, nil
	}
	raw, err := json.Marshal(value)
	if err != nil {
		return nil, fmt.Errorf("encode jsonb column: %w", err)
	}
	return raw, nil
}
