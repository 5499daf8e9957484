package events

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"

	"metismedia/internal/contracts"
)

// Envelope is the canonical event shape carried over the bus. Every event is
// tenant-scoped and originates from a specific node. On the wire all fields
// are strings; the payload is a JSON-encoded document.
type Envelope struct {
	EventID        uuid.UUID
	OccurredAt     time.Time
	TenantID       uuid.UUID
	Node           contracts.NodeName
	EventName      string
	Payload        map[string]any
	TraceID        string
	RunID          string
	IdempotencyKey string
	Attempt        int
}

// New builds a fresh envelope for first publication: new event id, attempt 0,
// occurred_at now.
func New(
	tenantID uuid.UUID,
	node contracts.NodeName,
	eventName string,
	traceID string,
	runID string,
	idempotencyKey string,
	payload map[string]any,
) Envelope {
	if payload == nil {
		payload = map[string]any{}
	}
	return Envelope{
		EventID:        uuid.New(),
		OccurredAt:     time.Now().UTC(),
		TenantID:       tenantID,
		Node:           node,
		EventName:      eventName,
		Payload:        payload,
		TraceID:        traceID,
		RunID:          runID,
		IdempotencyKey: idempotencyKey,
		Attempt:        0,
	}
}

// WithAttempt returns a copy of the envelope with the attempt counter set.
// The event id and idempotency key are preserved so the gate still recognizes
// the logical step.
func (e Envelope) WithAttempt(attempt int) Envelope {
	e.Attempt = attempt
	return e
}

// Fields serializes the envelope into the flat string map appended to a
// stream entry.
func (e Envelope) Fields() (map[string]any, error) {
	payload, err := json.Marshal(e.Payload)
	if err != nil {
		return nil, fmt.Errorf("encode envelope payload: %w", err)
	}
	return map[string]any{
		"event_id":        e.EventID.String(),
		"occurred_at":     e.OccurredAt.UTC().Format(time.RFC3339Nano),
		"tenant_id":       e.TenantID.String(),
		"node":            string(e.Node),
		"event_name":      e.EventName,
		"payload":         string(payload),
		"trace_id":        e.TraceID,
		"run_id":          e.RunID,
		"idempotency_key": e.IdempotencyKey,
		"attempt":         strconv.Itoa(e.Attempt),
	}, nil
}

// Decode parses a raw stream entry back into an envelope. tenant_id and node
// are required; anything failing here is treated as garbage by the worker
// (ack and drop, never retried).
func Decode(values map[string]any) (Envelope, error) {
	get := func(key string) string {
		raw, ok := values[key]
		if !ok {
			return ""
		}
		s, _ := raw.(string)
		return s
	}

	nodeRaw := get("node")
	if nodeRaw == "" {
		return Envelope{}, fmt.Errorf("envelope missing required field: node")
	}
	node := contracts.NodeName(nodeRaw)
	if !node.Valid() {
		return Envelope{}, fmt.Errorf("envelope has invalid node value: %q", nodeRaw)
	}

	tenantRaw := get("tenant_id")
	if tenantRaw == "" {
		return Envelope{}, fmt.Errorf("envelope missing required field: tenant_id")
	}
	tenantID, err := uuid.Parse(tenantRaw)
	if err != nil {
		return Envelope{}, fmt.Errorf("envelope has invalid tenant_id %q: %w", tenantRaw, err)
	}

	eventID, err := uuid.Parse(get("event_id"))
	if err != nil {
		return Envelope{}, fmt.Errorf("envelope has invalid event_id: %w", err)
	}

	occurredAt, err := time.Parse(time.RFC3339Nano, get("occurred_at"))
	if err != nil {
		return Envelope{}, fmt.Errorf("envelope has invalid occurred_at: %w", err)
	}

	payload := map[string]any{}
	if raw := get("payload"); raw != "" {
		if err := json.Unmarshal([]byte(raw), &payload); err != nil {
			return Envelope{}, fmt.Errorf("envelope has invalid payload: %w", err)
		}
	}

	attempt := 0
	if raw := get("attempt"); raw != "" {
		attempt, err = strconv.Atoi(raw)
		if err != nil {
			return Envelope{}, fmt.Errorf("envelope has invalid attempt %q: %w", raw, err)
		}
	}

	return Envelope{
		EventID:        eventID,
		OccurredAt:     occurredAt,
		TenantID:       tenantID,
		Node:           node,
		EventName:      get("event_name"),
		Payload:        payload,
		TraceID:        get("trace_id"),
		RunID:          get("run_id"),
		IdempotencyKey: get("idempotency_key"),
		Attempt:        attempt,
	}, nil
}

// PayloadString fetches a string payload field, empty when absent.
func (e Envelope) PayloadString(key string) string {
	raw, ok := e.Payload[key]
	if !ok {
		return ""
	}
	s, _ := raw.(string)
	return s
}

// PayloadInt fetches an integer payload field with a fallback. JSON decoding
// yields float64 for numbers.
func (e Envelope) PayloadInt(key string, fallback int) int {
	raw, ok := e.Payload[key]
	if !ok {
		return fallback
	}
	switch v := raw.(type) {
	case float64:
		return int(v)
	case int:
		return v
	case string:
		n, err := strconv.Atoi(v)
		if err != nil {
			return fallback
		}
		return n
	}
	return fallback
}

// Publisher appends envelopes to the main stream.
type Publisher interface {
	Publish(ctx context.Context, envelope Envelope) (string, error)
}
