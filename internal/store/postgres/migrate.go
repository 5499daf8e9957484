package postgresstore

import (
	"fmt"

	"gorm.io/gorm"
)

// AutoMigrate creates the schema. The pgvector extension must be installable
// by the connecting role; the partial unique index on influencers cannot be
// expressed with struct tags, so it is created explicitly.
func AutoMigrate(db *gorm.DB) error {
	if err := db.Exec("CREATE EXTENSION IF NOT EXISTS vector").Error; err != nil {
		return fmt.Errorf("create vector extension: %w", err)
	}
	err := db.AutoMigrate(
		&runModel{},
		&campaignModel{},
		&embeddingModel{},
		&influencerModel{},
		&reservationModel{},
		&receiptModel{},
		&targetCardModel{},
		&contactMethodModel{},
		&draftModel{},
	)
	if err != nil {
		return fmt.Errorf("auto migrate: %w", err)
	}
	err = db.Exec(`CREATE UNIQUE INDEX IF NOT EXISTS uq_influencers_tenant_url
ON influencers (tenant_id, primary_url) WHERE primary_url IS NOT NULL`).Error
	if err != nil {
		return fmt.Errorf("create influencer url index: %w", err)
	}
	return nil
}
