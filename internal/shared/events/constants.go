package events

import "time"

// Stream names on the bus.
const (
	StreamMain = "metismedia:events"
	StreamDLQ  = "metismedia:events:dlq"
)

// GroupName is the consumer group shared by all worker instances.
const GroupName = "metismedia-workers"

// MaxRetries bounds handler retries before an envelope is dead-lettered.
const MaxRetries = 5

// IdemTTL is how long a processed idempotency key stays in the key store.
const IdemTTL = 24 * time.Hour

// DLQReasonMaxRetries is the dlq_reason recorded on dead-lettered envelopes.
const DLQReasonMaxRetries = "max_retries_exceeded"
