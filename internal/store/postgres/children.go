package postgresstore

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"metismedia/internal/store"
)

// Child rows written by the pass-through stages: receipts, target cards,
// contact methods, drafts.

type ReceiptRepo struct {
	db *gorm.DB
}

func (r *ReceiptRepo) Insert(ctx context.Context, receipt store.Receipt) (uuid.UUID, error) {
	id := receipt.ID
	if id == uuid.Nil {
		id = uuid.New()
	}
	provenance, err := marshalJSON(receipt.Provenance)
	if err != nil {
		return uuid.Nil, err
	}
	row := receiptModel{
		ID:             id,
		TenantID:       receipt.TenantID,
		InfluencerID:   receipt.InfluencerID,
		Type:           string(receipt.Type),
		URL:            receipt.URL,
		Excerpt:        receipt.Excerpt,
		OccurredAt:     receipt.OccurredAt,
		SourcePlatform: receipt.SourcePlatform,
		Confidence:     receipt.Confidence,
		ProvenanceJSON: provenance,
	}
	if err := r.db.WithContext(ctx).Create(&row).Error; err != nil {
		return uuid.Nil, fmt.Errorf("insert receipt: %w", err)
	}
	return id, nil
}

type TargetCardRepo struct {
	db *gorm.DB
}

// Upsert keeps one card per (tenant, campaign, influencer); replayed steps
// refresh the payload instead of inserting a second row.
func (r *TargetCardRepo) Upsert(ctx context.Context, card store.TargetCard) (uuid.UUID, error) {
	id := card.ID
	if id == uuid.Nil {
		id = uuid.New()
	}
	payload, err := marshalJSON(card.Payload)
	if err != nil {
		return uuid.Nil, err
	}
	row := targetCardModel{
		ID:           id,
		TenantID:     card.TenantID,
		CampaignID:   card.CampaignID,
		InfluencerID: card.InfluencerID,
		PayloadJSON:  payload,
	}
	err = r.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns: []clause.Column{
				{Name: "tenant_id"}, {Name: "campaign_id"}, {Name: "influencer_id"},
			},
			DoUpdates: clause.AssignmentColumns([]string{"payload_json", "updated_at"}),
		}).
		Create(&row).
		Error
	if err != nil {
		return uuid.Nil, fmt.Errorf("upsert target card: %w", err)
	}

	// The insert id is discarded on conflict; read the surviving row's id.
	var existing targetCardModel
	err = r.db.WithContext(ctx).
		Select("id").
		Where("tenant_id = ? AND campaign_id = ? AND influencer_id = ?",
			card.TenantID, card.CampaignID, card.InfluencerID).
		First(&existing).
		Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return uuid.Nil, store.ErrNotFound
		}
		return uuid.Nil, fmt.Errorf("select target card after upsert: %w", err)
	}
	return existing.ID, nil
}

func (r *TargetCardRepo) CountByCampaign(ctx context.Context, tenantID, campaignID uuid.UUID) (int64, error) {
	var count int64
	err := r.db.WithContext(ctx).
		Model(&targetCardModel{}).
		Where("tenant_id = ? AND campaign_id = ?", tenantID, campaignID).
		Count(&count).
		Error
	if err != nil {
		return 0, fmt.Errorf("count target cards: %w", err)
	}
	return count, nil
}

type ContactRepo struct {
	db *gorm.DB
}

func (r *ContactRepo) Insert(ctx context.Context, contact store.ContactMethod) (uuid.UUID, error) {
	id := contact.ID
	if id == uuid.Nil {
		id = uuid.New()
	}
	provenance, err := marshalJSON(contact.Provenance)
	if err != nil {
		return uuid.Nil, err
	}
	row := contactMethodModel{
		ID:             id,
		TenantID:       contact.TenantID,
		InfluencerID:   contact.InfluencerID,
		Method:         contact.Method,
		Value:          contact.Value,
		Confidence:     contact.Confidence,
		Verified:       contact.Verified,
		ProvenanceJSON: provenance,
	}
	if err := r.db.WithContext(ctx).Create(&row).Error; err != nil {
		return uuid.Nil, fmt.Errorf("insert contact method: %w", err)
	}
	return id, nil
}

type DraftRepo struct {
	db *gorm.DB
}

func (r *DraftRepo) Insert(ctx context.Context, draft store.Draft) (uuid.UUID, error) {
	id := draft.ID
	if id == uuid.Nil {
		id = uuid.New()
	}
	row := draftModel{
		ID:           id,
		TenantID:     draft.TenantID,
		CampaignID:   draft.CampaignID,
		InfluencerID: draft.InfluencerID,
		Channel:      draft.Channel,
		Subject:      draft.Subject,
		Body:         draft.Body,
		Status:       draft.Status,
	}
	if err := r.db.WithContext(ctx).Create(&row).Error; err != nil {
		return uuid.Nil, fmt.Errorf("insert draft: %w", err)
	}
	return id, nil
}

func (r *DraftRepo) CountByCampaign(ctx context.Context, tenantID, campaignID uuid.UUID) (int64, error) {
	var count int64
	err := r.db.WithContext(ctx).
		Model(&draftModel{}).
		Where("tenant_id = ? AND campaign_id = ?", tenantID, campaignID).
		Count(&count).
		Error
	if err != nil {
		return 0, fmt.Errorf("count drafts: %w", err)
	}
	return count, nil
}
