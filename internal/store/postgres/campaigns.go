package postgresstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"metismedia/internal/store"
)

type CampaignRepo struct {
	db *gorm.DB
}

func (r *CampaignRepo) Create(ctx context.Context, campaign store.Campaign) (uuid.UUID, error) {
	id := campaign.ID
	if id == uuid.Nil {
		id = uuid.New()
	}
	brief, err := json.Marshal(campaign.Brief)
	if err != nil {
		return uuid.Nil, fmt.Errorf("encode campaign brief: %w", err)
	}
	row := campaignModel{
		ID:        id,
		TenantID:  campaign.TenantID,
		TraceID:   campaign.TraceID,
		RunID:     campaign.RunID,
		BriefJSON: brief,
	}
	if err := r.db.WithContext(ctx).Create(&row).Error; err != nil {
		return uuid.Nil, fmt.Errorf("insert campaign: %w", err)
	}
	return id, nil
}

func (r *CampaignRepo) Get(ctx context.Context, tenantID, campaignID uuid.UUID) (store.Campaign, error) {
	var row campaignModel
	err := r.db.WithContext(ctx).
		Where("tenant_id = ? AND id = ?", tenantID, campaignID).
		First(&row).
		Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return store.Campaign{}, store.ErrNotFound
		}
		return store.Campaign{}, fmt.Errorf("select campaign: %w", err)
	}
	return row.toEntity()
}
