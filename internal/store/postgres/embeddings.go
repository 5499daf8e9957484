package postgresstore

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	pgvector "github.com/pgvector/pgvector-go"
	"gorm.io/gorm"

	"metismedia/internal/store"
)

type EmbeddingRepo struct {
	db *gorm.DB
}

func (r *EmbeddingRepo) Create(ctx context.Context, embedding store.Embedding) (uuid.UUID, error) {
	id := embedding.ID
	if id == uuid.Nil {
		id = uuid.New()
	}
	row := embeddingModel{
		ID:       id,
		TenantID: embedding.TenantID,
		Kind:     embedding.Kind,
		Model:    embedding.Model,
		Dims:     embedding.Dims,
		Norm:     embedding.Norm,
		Vector:   pgvector.NewVector(embedding.Vector),
	}
	if row.Dims == 0 {
		row.Dims = len(embedding.Vector)
	}
	if err := r.db.WithContext(ctx).Create(&row).Error; err != nil {
		return uuid.Nil, fmt.Errorf("insert embedding: %w", err)
	}
	return id, nil
}

func (r *EmbeddingRepo) Vector(ctx context.Context, tenantID, embeddingID uuid.UUID) ([]float32, error) {
	var row embeddingModel
	err := r.db.WithContext(ctx).
		Select("id", "vector").
		Where("tenant_id = ? AND id = ?", tenantID, embeddingID).
		First(&row).
		Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, store.ErrNotFound
		}
		return nil, fmt.Errorf("select embedding vector: %w", err)
	}
	return row.Vector.Slice(), nil
}
