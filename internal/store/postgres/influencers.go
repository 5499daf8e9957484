package postgresstore

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"metismedia/internal/store"
)

// ErrDuplicateInfluencer maps the (tenant_id, primary_url) unique constraint.
var ErrDuplicateInfluencer = errors.New("influencer with this primary url already exists")

type InfluencerRepo struct {
	db *gorm.DB
}

func (r *InfluencerRepo) Create(ctx context.Context, influencer store.Influencer) (uuid.UUID, error) {
	id := influencer.ID
	if id == uuid.Nil {
		id = uuid.New()
	}
	row := influencerModel{
		ID:                 id,
		TenantID:           influencer.TenantID,
		CanonicalName:      influencer.CanonicalName,
		PrimaryURL:         influencer.PrimaryURL,
		Platform:           influencer.Platform,
		Geography:          influencer.Geography,
		FollowerCount:      influencer.FollowerCount,
		PolarityScore:      influencer.PolarityScore,
		BioEmbeddingID:     influencer.BioEmbeddingID,
		RecentEmbeddingID:  influencer.RecentEmbeddingID,
		BioText:            influencer.BioText,
		LastScrapedAt:      influencer.LastScrapedAt,
		LastPulseCheckedAt: influencer.LastPulseCheckedAt,
		DoNotContact:       influencer.DoNotContact,
		CoolingOffUntil:    influencer.CoolingOffUntil,
	}
	if err := r.db.WithContext(ctx).Create(&row).Error; err != nil {
		if isUniqueViolation(err) {
			return uuid.Nil, ErrDuplicateInfluencer
		}
		return uuid.Nil, fmt.Errorf("insert influencer: %w", err)
	}
	return id, nil
}

func (r *InfluencerRepo) Get(ctx context.Context, tenantID, influencerID uuid.UUID) (store.Influencer, error) {
	var row influencerModel
	err := r.db.WithContext(ctx).
		Where("tenant_id = ? AND id = ?", tenantID, influencerID).
		First(&row).
		Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return store.Influencer{}, store.ErrNotFound
		}
		return store.Influencer{}, fmt.Errorf("select influencer: %w", err)
	}
	return row.toEntity(), nil
}

func (r *InfluencerRepo) RecordPulse(ctx context.Context, tenantID, influencerID, recentEmbeddingID uuid.UUID, checkedAt time.Time) error {
	res := r.db.WithContext(ctx).
		Model(&influencerModel{}).
		Where("tenant_id = ? AND id = ?", tenantID, influencerID).
		Updates(map[string]any{
			"recent_embedding_id":   recentEmbeddingID,
			"last_pulse_checked_at": checkedAt.UTC(),
			"updated_at":            time.Now().UTC(),
		})
	if res.Error != nil {
		return fmt.Errorf("record influencer pulse: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return store.ErrNotFound
	}
	return nil
}
