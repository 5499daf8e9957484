package events

import (
	"fmt"

	"github.com/google/uuid"

	"metismedia/internal/contracts"
)

// MakeIdempotencyKey builds the deterministic key identifying one logical
// step of one run. A replay of the same step reproduces the same key, which
// lets the gate suppress duplicate effects.
//
// Format: "{tenant_id}:{run_id}:{node}:{event_name}:{step}"
func MakeIdempotencyKey(
	tenantID uuid.UUID,
	runID string,
	node contracts.NodeName,
	eventName string,
	step string,
) string {
	return fmt.Sprintf("%s:%s:%s:%s:%s", tenantID, runID, node, eventName, step)
}

// GateKey is the key-store entry name for an envelope's idempotency gate.
func GateKey(envelope Envelope) string {
	return fmt.Sprintf("idem:%s:%s", envelope.Node, envelope.IdempotencyKey)
}
