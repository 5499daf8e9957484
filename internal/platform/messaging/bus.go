package messaging

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/redis/go-redis/v9"

	"metismedia/internal/shared/events"
)

// Bus is the event bus adapter over Redis Streams. Envelopes are appended as
// flat string-field entries; consumers lease them through a consumer group.
type Bus struct {
	rdb    *redis.Client
	logger *slog.Logger
}

func NewBus(rdb *redis.Client, logger *slog.Logger) *Bus {
	if logger == nil {
		logger = slog.Default()
	}
	return &Bus{rdb: rdb, logger: logger}
}

// Publish appends the envelope to the main stream and returns the stream
// entry id. Publish failure propagates to the caller; the worker leaves the
// consumed message unacked in that case so the broker redelivers it.
func (b *Bus) Publish(ctx context.Context, envelope events.Envelope) (string, error) {
	fields, err := envelope.Fields()
	if err != nil {
		return "", err
	}
	id, err := b.rdb.XAdd(ctx, &redis.XAddArgs{
		Stream: events.StreamMain,
		Values: fields,
	}).Result()
	if err != nil {
		return "", fmt.Errorf("xadd %s: %w", events.StreamMain, err)
	}
	b.logger.Debug("event published",
		"event", "bus_publish",
		"module", "internal/platform/messaging",
		"layer", "platform",
		"stream", events.StreamMain,
		"event_id", envelope.EventID.String(),
		"event_name", envelope.EventName,
		"attempt", envelope.Attempt,
	)
	return id, nil
}

// PublishDLQ appends the envelope to the dead-letter stream with the error
// string and a dlq_reason field.
func (b *Bus) PublishDLQ(ctx context.Context, envelope events.Envelope, errMsg string) (string, error) {
	fields, err := envelope.Fields()
	if err != nil {
		return "", err
	}
	fields["error"] = errMsg
	fields["dlq_reason"] = events.DLQReasonMaxRetries

	id, err := b.rdb.XAdd(ctx, &redis.XAddArgs{
		Stream: events.StreamDLQ,
		Values: fields,
	}).Result()
	if err != nil {
		return "", fmt.Errorf("xadd %s: %w", events.StreamDLQ, err)
	}
	b.logger.Warn("event dead-lettered",
		"event", "bus_publish_dlq",
		"module", "internal/platform/messaging",
		"layer", "platform",
		"stream", events.StreamDLQ,
		"event_id", envelope.EventID.String(),
		"event_name", envelope.EventName,
		"attempt", envelope.Attempt,
		"error", errMsg,
	)
	return id, nil
}
