package messaging

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"metismedia/internal/shared/events"
)

// KeyStore is the idempotency gate backing store: keys marked here suppress
// duplicate effects for as long as their TTL lasts.
type KeyStore struct {
	rdb *redis.Client
}

func NewKeyStore(rdb *redis.Client) *KeyStore {
	return &KeyStore{rdb: rdb}
}

// AlreadyProcessed reports whether the envelope's logical step has been
// completed before.
func (k *KeyStore) AlreadyProcessed(ctx context.Context, envelope events.Envelope) (bool, error) {
	_, err := k.rdb.Get(ctx, events.GateKey(envelope)).Result()
	if errors.Is(err, redis.Nil) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("idempotency get: %w", err)
	}
	return true, nil
}

// MarkProcessed records the envelope's step as done. Called only after the
// handler succeeded, so effects execute at most once per key.
func (k *KeyStore) MarkProcessed(ctx context.Context, envelope events.Envelope, ttl time.Duration) error {
	if ttl <= 0 {
		ttl = events.IdemTTL
	}
	if err := k.rdb.Set(ctx, events.GateKey(envelope), "1", ttl).Err(); err != nil {
		return fmt.Errorf("idempotency set: %w", err)
	}
	return nil
}
