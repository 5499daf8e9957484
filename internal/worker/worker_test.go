package worker

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"metismedia/internal/contracts"
	"metismedia/internal/core"
	"metismedia/internal/platform/messaging"
	"metismedia/internal/shared/events"
	"metismedia/internal/store"
)

func testWorker(t *testing.T, registry Registry, runs *stubRunStore) (*Worker, *redis.Client, *messaging.Bus) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	bus := messaging.NewBus(rdb, nil)
	keys := messaging.NewKeyStore(rdb)
	if runs == nil {
		runs = &stubRunStore{}
	}
	sessions := stubSessions{stores: store.Stores{Runs: runs}}

	w := New(rdb, bus, keys, sessions, registry, core.Budget{MaxDollars: 5}, core.NewMemoryLedger(), nil)
	w.Block = 10 * time.Millisecond
	w.sleep = func(context.Context, time.Duration) {}
	w.jitter = func() float64 { return 0 }
	return w, rdb, bus
}

func publish(t *testing.T, bus *messaging.Bus, envelope events.Envelope) {
	t.Helper()
	if _, err := bus.Publish(context.Background(), envelope); err != nil {
		t.Fatalf("publish: %v", err)
	}
}

func newEnvelope(eventName string) events.Envelope {
	tenantID := uuid.New()
	runID := uuid.New().String()
	key := events.MakeIdempotencyKey(tenantID, runID, contracts.NodeC, eventName, "discover:x")
	return events.New(tenantID, contracts.NodeC, eventName, "trace-1", runID, key, map[string]any{"campaign_id": "c"})
}

func TestWorkerSuccessPathMarksAndAcks(t *testing.T) {
	calls := 0
	registry := Registry{
		"node_c.input": HandlerFunc(func(ctx context.Context, sc StageContext) error {
			calls++
			return nil
		}),
	}
	w, rdb, bus := testWorker(t, registry, nil)
	envelope := newEnvelope("node_c.input")
	publish(t, bus, envelope)

	w.StopAfter(1)
	if err := w.Run(context.Background()); err != nil {
		t.Fatalf("run: %v", err)
	}
	if calls != 1 {
		t.Fatalf("handler calls = %d, want 1", calls)
	}

	ctx := context.Background()
	exists, err := rdb.Exists(ctx, events.GateKey(envelope)).Result()
	if err != nil || exists != 1 {
		t.Fatalf("idempotency key not set: exists=%d err=%v", exists, err)
	}
	pending, err := rdb.XPending(ctx, events.StreamMain, w.Group).Result()
	if err != nil {
		t.Fatalf("xpending: %v", err)
	}
	if pending.Count != 0 {
		t.Fatalf("pending = %d, want 0", pending.Count)
	}
}

func TestWorkerSuppressesDuplicates(t *testing.T) {
	calls := 0
	registry := Registry{
		"node_c.input": HandlerFunc(func(ctx context.Context, sc StageContext) error {
			calls++
			return nil
		}),
	}
	w, rdb, bus := testWorker(t, registry, nil)
	envelope := newEnvelope("node_c.input")

	keys := messaging.NewKeyStore(rdb)
	if err := keys.MarkProcessed(context.Background(), envelope, time.Hour); err != nil {
		t.Fatalf("premark: %v", err)
	}
	publish(t, bus, envelope)

	w.StopAfter(1)
	if err := w.Run(context.Background()); err != nil {
		t.Fatalf("run: %v", err)
	}
	if calls != 0 {
		t.Fatalf("duplicate reached handler %d times", calls)
	}
}

func TestWorkerDropsUnknownEventName(t *testing.T) {
	registry := Registry{}
	w, rdb, bus := testWorker(t, registry, nil)
	publish(t, bus, newEnvelope("node_z.unknown"))

	w.StopAfter(1)
	if err := w.Run(context.Background()); err != nil {
		t.Fatalf("run: %v", err)
	}

	pending, err := rdb.XPending(context.Background(), events.StreamMain, w.Group).Result()
	if err != nil {
		t.Fatalf("xpending: %v", err)
	}
	if pending.Count != 0 {
		t.Fatalf("unknown event left pending = %d", pending.Count)
	}
}

func TestWorkerChecksGateBeforeHandlerResolution(t *testing.T) {
	w, rdb, bus := testWorker(t, Registry{}, nil)
	gate := &recordingKeyStore{inner: messaging.NewKeyStore(rdb)}
	w.Keys = gate
	publish(t, bus, newEnvelope("node_z.unknown"))

	w.StopAfter(1)
	if err := w.Run(context.Background()); err != nil {
		t.Fatalf("run: %v", err)
	}

	if gate.checks != 1 {
		t.Fatalf("gate checks = %d, the gate must be consulted before handler lookup", gate.checks)
	}
	pending, err := rdb.XPending(context.Background(), events.StreamMain, w.Group).Result()
	if err != nil {
		t.Fatalf("xpending: %v", err)
	}
	if pending.Count != 0 {
		t.Fatalf("unknown event left pending = %d", pending.Count)
	}
}

func TestWorkerDropsGarbageEntries(t *testing.T) {
	w, rdb, _ := testWorker(t, Registry{}, nil)
	ctx := context.Background()
	_, err := rdb.XAdd(ctx, &redis.XAddArgs{
		Stream: events.StreamMain,
		Values: map[string]any{"junk": "true"},
	}).Result()
	if err != nil {
		t.Fatalf("xadd: %v", err)
	}

	w.StopAfter(1)
	if err := w.Run(ctx); err != nil {
		t.Fatalf("run: %v", err)
	}
	pending, err := rdb.XPending(ctx, events.StreamMain, w.Group).Result()
	if err != nil {
		t.Fatalf("xpending: %v", err)
	}
	if pending.Count != 0 {
		t.Fatalf("garbage entry left pending = %d", pending.Count)
	}
}

func TestWorkerRetriesWithBumpedAttempt(t *testing.T) {
	registry := Registry{
		"node_c.input": HandlerFunc(func(ctx context.Context, sc StageContext) error {
			return errors.New("transient provider failure")
		}),
	}
	w, rdb, bus := testWorker(t, registry, nil)
	envelope := newEnvelope("node_c.input")
	publish(t, bus, envelope)

	w.StopAfter(1)
	if err := w.Run(context.Background()); err != nil {
		t.Fatalf("run: %v", err)
	}

	entries, err := rdb.XRange(context.Background(), events.StreamMain, "-", "+").Result()
	if err != nil {
		t.Fatalf("xrange: %v", err)
	}
	if len(entries) != 2 {
		t.Fatalf("stream entries = %d, want original plus retry", len(entries))
	}
	retry := entries[1].Values
	if retry["attempt"] != "1" {
		t.Fatalf("retry attempt = %v, want 1", retry["attempt"])
	}
	if retry["event_id"] != envelope.EventID.String() {
		t.Fatal("retry must keep the event id")
	}
	if retry["idempotency_key"] != envelope.IdempotencyKey {
		t.Fatal("retry must keep the idempotency key")
	}
}

func TestWorkerDeadLettersAfterMaxRetries(t *testing.T) {
	registry := Registry{
		"node_c.input": HandlerFunc(func(ctx context.Context, sc StageContext) error {
			return errors.New("still failing")
		}),
	}
	w, rdb, bus := testWorker(t, registry, nil)
	envelope := newEnvelope("node_c.input").WithAttempt(events.MaxRetries - 1)
	publish(t, bus, envelope)

	w.StopAfter(1)
	if err := w.Run(context.Background()); err != nil {
		t.Fatalf("run: %v", err)
	}

	ctx := context.Background()
	dlq, err := rdb.XRange(ctx, events.StreamDLQ, "-", "+").Result()
	if err != nil {
		t.Fatalf("xrange dlq: %v", err)
	}
	if len(dlq) != 1 {
		t.Fatalf("dlq entries = %d, want 1", len(dlq))
	}
	if dlq[0].Values["error"] != "still failing" {
		t.Fatalf("dlq error = %v", dlq[0].Values["error"])
	}
	if dlq[0].Values["dlq_reason"] != events.DLQReasonMaxRetries {
		t.Fatalf("dlq reason = %v", dlq[0].Values["dlq_reason"])
	}

	main, err := rdb.XRange(ctx, events.StreamMain, "-", "+").Result()
	if err != nil {
		t.Fatalf("xrange main: %v", err)
	}
	if len(main) != 1 {
		t.Fatalf("main entries = %d, dead-lettered envelope must not be republished", len(main))
	}
}

func TestWorkerBudgetViolationFailsRun(t *testing.T) {
	registry := Registry{
		"node_c.input": HandlerFunc(func(ctx context.Context, sc StageContext) error {
			return &core.BudgetExceededError{LimitType: core.LimitMaxDollars, Message: "over budget"}
		}),
	}
	runs := &stubRunStore{}
	w, rdb, bus := testWorker(t, registry, runs)
	publish(t, bus, newEnvelope("node_c.input"))

	w.StopAfter(1)
	if err := w.Run(context.Background()); err != nil {
		t.Fatalf("run: %v", err)
	}

	if len(runs.markFailedCalls) != 1 || runs.markFailedCalls[0] != "over budget" {
		t.Fatalf("run not failed correctly: %v", runs.markFailedCalls)
	}

	ctx := context.Background()
	main, _ := rdb.XRange(ctx, events.StreamMain, "-", "+").Result()
	if len(main) != 1 {
		t.Fatalf("budget violation must not retry, entries = %d", len(main))
	}
	dlq, _ := rdb.XRange(ctx, events.StreamDLQ, "-", "+").Result()
	if len(dlq) != 0 {
		t.Fatalf("budget violation must not dead-letter, entries = %d", len(dlq))
	}
}

func TestWorkerBudgetStatePerRun(t *testing.T) {
	w, _, _ := testWorker(t, Registry{}, nil)
	e1 := newEnvelope("node_c.input")
	e2 := newEnvelope("node_c.input")

	s1 := w.budgetState(e1)
	s1again := w.budgetState(e1)
	s2 := w.budgetState(e2)

	if s1 != s1again {
		t.Fatal("same run must share one budget state")
	}
	if s1 == s2 {
		t.Fatal("different runs must not share budget state")
	}
}

func TestBackoffDelayGrowth(t *testing.T) {
	w, _, _ := testWorker(t, Registry{}, nil)
	first := w.backoffDelay(1)
	second := w.backoffDelay(2)
	third := w.backoffDelay(3)

	if first != 500*time.Millisecond {
		t.Fatalf("first delay = %v, want 500ms", first)
	}
	if second != time.Second || third != 2*time.Second {
		t.Fatalf("delays = %v, %v; want 1s, 2s", second, third)
	}
}
