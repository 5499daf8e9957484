package postgresstore

import (
	"context"
	"errors"
	"log/slog"

	"github.com/jackc/pgx/v5/pgconn"
	"gorm.io/gorm"

	"metismedia/internal/store"
)

// Sessions binds a fresh Stores bundle to one transaction per step. A
// handler's writes either all commit or all roll back before a retry.
type Sessions struct {
	db     *gorm.DB
	logger *slog.Logger
}

func NewSessions(db *gorm.DB, logger *slog.Logger) *Sessions {
	if logger == nil {
		logger = slog.Default()
	}
	return &Sessions{db: db, logger: logger}
}

func (s *Sessions) WithTx(ctx context.Context, fn func(ctx context.Context, st store.Stores) error) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return fn(ctx, NewStores(tx, s.logger))
	})
}

// NewStores builds the per-table adapters over one gorm handle, normally a
// transaction.
func NewStores(tx *gorm.DB, logger *slog.Logger) store.Stores {
	if logger == nil {
		logger = slog.Default()
	}
	return store.Stores{
		Runs:         &RunRepo{db: tx},
		Campaigns:    &CampaignRepo{db: tx},
		Embeddings:   &EmbeddingRepo{db: tx},
		Influencers:  &InfluencerRepo{db: tx},
		Receipts:     &ReceiptRepo{db: tx},
		TargetCards:  &TargetCardRepo{db: tx},
		Contacts:     &ContactRepo{db: tx},
		Drafts:       &DraftRepo{db: tx},
		Reservations: &ReservationRepo{db: tx},
		Candidates:   &CandidateRepo{db: tx, logger: logger},
	}
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23505"
	}
	return false
}
