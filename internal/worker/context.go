package worker

import (
	"context"
	"time"

	"metismedia/internal/contracts"
	"metismedia/internal/core"
	"metismedia/internal/shared/events"
	"metismedia/internal/store"
)

// Bus is the worker-side view of the event bus.
type Bus interface {
	Publish(ctx context.Context, envelope events.Envelope) (string, error)
	PublishDLQ(ctx context.Context, envelope events.Envelope, errMsg string) (string, error)
}

// KeyStore is the worker-side view of the idempotency gate.
type KeyStore interface {
	AlreadyProcessed(ctx context.Context, envelope events.Envelope) (bool, error)
	MarkProcessed(ctx context.Context, envelope events.Envelope, ttl time.Duration) error
}

// StageContext carries everything a stage handler may touch: the triggering
// envelope, transaction-bound stores, the run's budget and spend state, the
// cost ledger, and the bus for successor events. Handlers ignore what they
// do not need.
type StageContext struct {
	Envelope events.Envelope
	Stores   store.Stores
	Budget   core.Budget
	State    *core.BudgetState
	Ledger   core.Ledger
	Bus      Bus
}

// Spend runs the pre-flight budget check for one provider operation, applies
// the deltas on success, and records the cost entry. A BudgetExceededError
// propagates unchanged and is fatal for the run.
func (sc StageContext) Spend(provider, operation string, unitCost, quantity float64, calls int, metadata map[string]any) error {
	dollars := core.ComputeCost(unitCost, quantity)
	if err := core.Guard(sc.Budget, sc.State, dollars, provider, calls); err != nil {
		return err
	}
	sc.State.Apply(dollars, provider, calls)
	if sc.Ledger != nil {
		sc.Ledger.Record(core.CostEntry{
			OccurredAt: time.Now().UTC(),
			TenantID:   sc.Envelope.TenantID,
			TraceID:    sc.Envelope.TraceID,
			RunID:      sc.Envelope.RunID,
			Node:       sc.Envelope.Node,
			Provider:   provider,
			Operation:  operation,
			UnitCost:   unitCost,
			Quantity:   quantity,
			Dollars:    dollars,
			Metadata:   metadata,
		})
	}
	return nil
}

// Emit publishes a successor event carrying over the trace, run, and tenant
// of the triggering envelope. The step makes the idempotency key
// deterministic under replay.
func (sc StageContext) Emit(ctx context.Context, node contracts.NodeName, eventName, step string, payload map[string]any) error {
	key := events.MakeIdempotencyKey(sc.Envelope.TenantID, sc.Envelope.RunID, node, eventName, step)
	envelope := events.New(sc.Envelope.TenantID, node, eventName, sc.Envelope.TraceID, sc.Envelope.RunID, key, payload)
	_, err := sc.Bus.Publish(ctx, envelope)
	return err
}

// Handler processes one envelope inside one DB transaction. Returning nil
// commits and acks; a BudgetExceededError fails the run; any other error
// rolls back and goes through the retry path.
type Handler interface {
	Handle(ctx context.Context, sc StageContext) error
}

// HandlerFunc adapts a plain function to Handler.
type HandlerFunc func(ctx context.Context, sc StageContext) error

func (f HandlerFunc) Handle(ctx context.Context, sc StageContext) error {
	return f(ctx, sc)
}

// Registry maps event names to their handlers.
type Registry map[string]Handler
