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

type RunRepo struct {
	db *gorm.DB
}

func (r *RunRepo) Create(ctx context.Context, run store.Run) (uuid.UUID, error) {
	id := run.ID
	if id == uuid.Nil {
		id = uuid.New()
	}
	now := time.Now().UTC()
	row := runModel{
		ID:         id,
		TenantID:   run.TenantID,
		CampaignID: run.CampaignID,
		TraceID:    run.TraceID,
		Status:     run.Status,
	}
	if row.Status == "" {
		row.Status = store.RunPending
	}
	if row.Status == store.RunRunning {
		row.StartedAt = &now
	}
	if err := r.db.WithContext(ctx).Create(&row).Error; err != nil {
		return uuid.Nil, fmt.Errorf("insert run: %w", err)
	}
	return id, nil
}

func (r *RunRepo) Get(ctx context.Context, tenantID, runID uuid.UUID) (store.Run, error) {
	var row runModel
	err := r.db.WithContext(ctx).
		Where("tenant_id = ? AND id = ?", tenantID, runID).
		First(&row).
		Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return store.Run{}, store.ErrNotFound
		}
		return store.Run{}, fmt.Errorf("select run: %w", err)
	}
	return row.toEntity()
}

func (r *RunRepo) LinkCampaign(ctx context.Context, tenantID, runID, campaignID uuid.UUID) error {
	result := r.db.WithContext(ctx).
		Model(&runModel{}).
		Where("tenant_id = ? AND id = ?", tenantID, runID).
		Update("campaign_id", campaignID)
	if result.Error != nil {
		return fmt.Errorf("link run campaign: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return store.ErrNotFound
	}
	return nil
}

// terminalWriteResult maps the outcome of a guarded terminal update. Zero
// rows means the status predicate filtered the run out, so it is already
// terminal and the caller gets the sentinel.
func terminalWriteResult(rowsAffected int64, err error, op string) error {
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	if rowsAffected == 0 {
		return store.ErrTerminalStatus
	}
	return nil
}

// MarkCompleted writes the terminal success state. The status predicate
// keeps terminal transitions single-shot (invariant: at most one per run).
func (r *RunRepo) MarkCompleted(ctx context.Context, tenantID, runID uuid.UUID, result map[string]any) error {
	raw, err := marshalJSON(result)
	if err != nil {
		return err
	}
	now := time.Now().UTC()
	res := r.db.WithContext(ctx).
		Model(&runModel{}).
		Where("tenant_id = ? AND id = ? AND status NOT IN ?", tenantID, runID,
			[]string{store.RunCompleted, store.RunFailed}).
		Updates(map[string]any{
			"status":       store.RunCompleted,
			"result_json":  raw,
			"completed_at": now,
			"updated_at":   now,
		})
	return terminalWriteResult(res.RowsAffected, res.Error, "mark run completed")
}

func (r *RunRepo) MarkFailed(ctx context.Context, tenantID, runID uuid.UUID, errorMessage string) error {
	now := time.Now().UTC()
	res := r.db.WithContext(ctx).
		Model(&runModel{}).
		Where("tenant_id = ? AND id = ? AND status NOT IN ?", tenantID, runID,
			[]string{store.RunCompleted, store.RunFailed}).
		Updates(map[string]any{
			"status":        store.RunFailed,
			"error_message": errorMessage,
			"completed_at":  now,
			"updated_at":    now,
		})
	return terminalWriteResult(res.RowsAffected, res.Error, "mark run failed")
}
