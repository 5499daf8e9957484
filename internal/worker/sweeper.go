package worker

import (
	"context"
	"log/slog"
	"time"

	"metismedia/internal/store"
)

// ReservationSweeper deletes reservations whose lease crossed reserved_until.
// Stages already treat lapsed rows as unreserved; sweeping keeps the table
// small.
type ReservationSweeper struct {
	Sessions store.Sessions
	Clock    Clock
	Logger   *slog.Logger
	Interval time.Duration
}

func (s ReservationSweeper) RunOnce(ctx context.Context) error {
	logger := ResolveLogger(s.Logger)
	now := time.Now().UTC()
	if s.Clock != nil {
		now = s.Clock.Now().UTC()
	}

	var deleted int64
	err := s.Sessions.WithTx(ctx, func(txCtx context.Context, st store.Stores) error {
		var txErr error
		deleted, txErr = st.Reservations.DeleteExpired(txCtx, now)
		return txErr
	})
	if err != nil {
		logger.Error("reservation sweep failed",
			"event", "reservation_sweep_failed",
			"module", "internal/worker",
			"layer", "worker",
			"error", err.Error(),
		)
		return err
	}
	if deleted > 0 {
		logger.Info("reservation sweep completed",
			"event", "reservation_sweep_completed",
			"module", "internal/worker",
			"layer", "worker",
			"deleted_count", deleted,
		)
	}
	return nil
}

// Start runs the sweep on the configured interval until the context ends.
func (s ReservationSweeper) Start(ctx context.Context) {
	interval := s.Interval
	if interval <= 0 {
		interval = 5 * time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			_ = s.RunOnce(ctx)
		}
	}
}
