package worker

import (
	"context"
	"time"

	"github.com/google/uuid"

	"metismedia/internal/shared/events"
	"metismedia/internal/store"
)

// Hand-written stubs for the store ports. Only the methods a test exercises
// carry behavior; the rest panic to surface accidental calls.

type stubSessions struct {
	stores store.Stores
	err    error
}

func (s stubSessions) WithTx(ctx context.Context, fn func(ctx context.Context, st store.Stores) error) error {
	if s.err != nil {
		return s.err
	}
	return fn(ctx, s.stores)
}

type stubRunStore struct {
	store.RunStore

	markFailedCalls []string
	markFailedErr   error
}

func (s *stubRunStore) MarkFailed(ctx context.Context, tenantID, runID uuid.UUID, errorMessage string) error {
	s.markFailedCalls = append(s.markFailedCalls, errorMessage)
	return s.markFailedErr
}

// recordingKeyStore counts gate checks while delegating to the real gate.
type recordingKeyStore struct {
	inner  KeyStore
	checks int
	marks  int
}

func (k *recordingKeyStore) AlreadyProcessed(ctx context.Context, envelope events.Envelope) (bool, error) {
	k.checks++
	return k.inner.AlreadyProcessed(ctx, envelope)
}

func (k *recordingKeyStore) MarkProcessed(ctx context.Context, envelope events.Envelope, ttl time.Duration) error {
	k.marks++
	return k.inner.MarkProcessed(ctx, envelope, ttl)
}

type stubReservationStore struct {
	store.ReservationStore

	deleted    int64
	deleteErr  error
	sweepTimes []time.Time
}

func (s *stubReservationStore) DeleteExpired(ctx context.Context, now time.Time) (int64, error) {
	s.sweepTimes = append(s.sweepTimes, now)
	return s.deleted, s.deleteErr
}
