package postgresstore

import (
	"context"
	"fmt"
	"time"

	"gorm.io/gorm"
)

type ReservationRepo struct {
	db *gorm.DB
}

// DeleteExpired sweeps lapsed leases across all tenants. Expiry is purely
// wall-clock; readers already ignore lapsed rows, so this only reclaims
// space.
func (r *ReservationRepo) DeleteExpired(ctx context.Context, now time.Time) (int64, error) {
	res := r.db.WithContext(ctx).
		Where("reserved_until <= ?", now.UTC()).
		Delete(&reservationModel{})
	if res.Error != nil {
		return 0, fmt.Errorf("delete expired reservations: %w", res.Error)
	}
	return res.RowsAffected, nil
}
