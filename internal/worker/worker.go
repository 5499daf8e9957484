package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"math/rand"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"metismedia/internal/core"
	"metismedia/internal/shared/events"
	"metismedia/internal/store"
)

// Worker consumes envelopes from the main stream through a consumer group
// and dispatches them to registered handlers. Each handler invocation runs
// inside one DB transaction; the idempotency gate suppresses replays and the
// retry path republishes transient failures with exponential backoff until
// they dead-letter.
type Worker struct {
	Rdb      *redis.Client
	Bus      Bus
	Keys     KeyStore
	Sessions store.Sessions
	Registry Registry
	Budget   core.Budget
	Ledger   core.Ledger
	Clock    Clock
	Logger   *slog.Logger

	Group       string
	Consumer    string
	Block       time.Duration
	Count       int64
	MaxRetries  int
	IdemTTL     time.Duration
	BackoffBase float64
	JitterMax   float64

	mu     sync.Mutex
	states map[string]*core.BudgetState

	processed atomic.Int64
	target    atomic.Int64
	stopped   atomic.Bool

	// Test seams. Production uses real sleep and rand jitter.
	sleep  func(ctx context.Context, d time.Duration)
	jitter func() float64
}

// New builds a worker with the documented defaults filled in.
func New(rdb *redis.Client, bus Bus, keys KeyStore, sessions store.Sessions, registry Registry, budget core.Budget, ledger core.Ledger, logger *slog.Logger) *Worker {
	return &Worker{
		Rdb:         rdb,
		Bus:         bus,
		Keys:        keys,
		Sessions:    sessions,
		Registry:    registry,
		Budget:      budget,
		Ledger:      ledger,
		Clock:       SystemClock{},
		Logger:      ResolveLogger(logger),
		Group:       events.GroupName,
		Consumer:    "worker-1",
		Block:       time.Second,
		Count:       10,
		MaxRetries:  events.MaxRetries,
		IdemTTL:     events.IdemTTL,
		BackoffBase: 0.5,
		JitterMax:   0.2,
		states:      make(map[string]*core.BudgetState),
		sleep: func(ctx context.Context, d time.Duration) {
			timer := time.NewTimer(d)
			defer timer.Stop()
			select {
			case <-ctx.Done():
			case <-timer.C:
			}
		},
		jitter: rand.Float64,
	}
}

// EnsureGroup creates the consumer group on the main stream if it does not
// exist yet. Safe to call from every worker instance.
func (w *Worker) EnsureGroup(ctx context.Context) error {
	err := w.Rdb.XGroupCreateMkStream(ctx, events.StreamMain, w.Group, "0").Err()
	if err != nil && !strings.Contains(err.Error(), "BUSYGROUP") {
		return fmt.Errorf("create consumer group %s: %w", w.Group, err)
	}
	return nil
}

// Stop makes Run exit after the batch currently in flight.
func (w *Worker) Stop() {
	w.stopped.Store(true)
}

// StopAfter makes Run exit once n messages have been processed. Zero means
// run until Stop or context cancellation.
func (w *Worker) StopAfter(n int) {
	w.target.Store(int64(n))
}

// Run is the consumer loop. It returns when the context is cancelled, Stop
// is called, or the StopAfter target is reached.
func (w *Worker) Run(ctx context.Context) error {
	if err := w.EnsureGroup(ctx); err != nil {
		return err
	}
	logger := ResolveLogger(w.Logger)
	logger.Info("worker started",
		"event", "worker_started",
		"module", "internal/worker",
		"layer", "worker",
		"group", w.Group,
		"consumer", w.Consumer,
	)

	for {
		if ctx.Err() != nil {
			return nil
		}
		if w.stopped.Load() {
			return nil
		}
		if target := w.target.Load(); target > 0 && w.processed.Load() >= target {
			return nil
		}

		messages, err := w.readBatch(ctx)
		if err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				return nil
			}
			logger.Warn("stream read failed",
				"event", "worker_read_failed",
				"module", "internal/worker",
				"layer", "worker",
				"error", err.Error(),
			)
			w.sleep(ctx, 100*time.Millisecond)
			continue
		}
		for _, msg := range messages {
			w.processMessage(ctx, msg)
			w.processed.Add(1)
			if target := w.target.Load(); target > 0 && w.processed.Load() >= target {
				return nil
			}
		}
	}
}

// Processed reports how many messages this worker has handled.
func (w *Worker) Processed() int64 {
	return w.processed.Load()
}

func (w *Worker) readBatch(ctx context.Context) ([]redis.XMessage, error) {
	streams, err := w.Rdb.XReadGroup(ctx, &redis.XReadGroupArgs{
		Group:    w.Group,
		Consumer: w.Consumer,
		Streams:  []string{events.StreamMain, ">"},
		Count:    w.Count,
		Block:    w.Block,
	}).Result()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("xreadgroup %s: %w", events.StreamMain, err)
	}
	var out []redis.XMessage
	for _, s := range streams {
		out = append(out, s.Messages...)
	}
	return out, nil
}

func (w *Worker) processMessage(ctx context.Context, msg redis.XMessage) {
	logger := ResolveLogger(w.Logger)

	envelope, err := events.Decode(msg.Values)
	if err != nil {
		// Garbage entries are acked and dropped; retrying cannot fix them.
		logger.Warn("envelope decode failed",
			"event", "envelope_decode_failed",
			"module", "internal/worker",
			"layer", "worker",
			"stream_id", msg.ID,
			"error", err.Error(),
		)
		w.ack(ctx, msg.ID)
		return
	}

	// The gate comes before handler resolution so replays are suppressed
	// even for events no handler is registered for.
	duplicate, err := w.Keys.AlreadyProcessed(ctx, envelope)
	if err != nil {
		w.retryOrDeadLetter(ctx, msg, envelope, err)
		return
	}
	if duplicate {
		logger.Debug("duplicate envelope suppressed",
			"event", "duplicate_suppressed",
			"module", "internal/worker",
			"layer", "worker",
			"event_id", envelope.EventID.String(),
			"idempotency_key", envelope.IdempotencyKey,
		)
		w.ack(ctx, msg.ID)
		return
	}

	handler, ok := w.Registry[envelope.EventName]
	if !ok {
		logger.Warn("unknown event name",
			"event", "unknown_event_name",
			"module", "internal/worker",
			"layer", "worker",
			"event_name", envelope.EventName,
			"event_id", envelope.EventID.String(),
		)
		w.ack(ctx, msg.ID)
		return
	}

	sc := StageContext{
		Envelope: envelope,
		Budget:   w.Budget,
		State:    w.budgetState(envelope),
		Ledger:   w.Ledger,
		Bus:      w.Bus,
	}

	hctx := ctx
	if timeout := w.Budget.NodeTimeout(string(envelope.Node)); timeout > 0 {
		var cancel context.CancelFunc
		hctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	err = w.Sessions.WithTx(hctx, func(txCtx context.Context, s store.Stores) error {
		sc.Stores = s
		return handler.Handle(txCtx, sc)
	})

	switch {
	case err == nil:
		if markErr := w.Keys.MarkProcessed(ctx, envelope, w.IdemTTL); markErr != nil {
			// The transaction committed; a lost gate entry only risks one
			// extra replay absorbed by idempotent writes.
			logger.Warn("idempotency mark failed",
				"event", "idempotency_mark_failed",
				"module", "internal/worker",
				"layer", "worker",
				"event_id", envelope.EventID.String(),
				"error", markErr.Error(),
			)
		}
		w.ack(ctx, msg.ID)

	case core.IsBudgetExceeded(err):
		w.failRun(ctx, envelope, err)
		w.ack(ctx, msg.ID)

	default:
		w.retryOrDeadLetter(ctx, msg, envelope, err)
	}
}

// failRun writes the run's terminal failure. Budget violations never retry.
func (w *Worker) failRun(ctx context.Context, envelope events.Envelope, cause error) {
	logger := ResolveLogger(w.Logger)
	logger.Warn("run failed on budget",
		"event", "run_budget_failed",
		"module", "internal/worker",
		"layer", "worker",
		"run_id", envelope.RunID,
		"event_name", envelope.EventName,
		"error", cause.Error(),
	)
	if envelope.RunID == "" {
		return
	}
	runID, err := parseRunID(envelope.RunID)
	if err != nil {
		logger.Warn("run id unparseable",
			"event", "run_id_unparseable",
			"module", "internal/worker",
			"layer", "worker",
			"run_id", envelope.RunID,
		)
		return
	}
	err = w.Sessions.WithTx(ctx, func(txCtx context.Context, s store.Stores) error {
		return s.Runs.MarkFailed(txCtx, envelope.TenantID, runID, cause.Error())
	})
	if err != nil && !errors.Is(err, store.ErrTerminalStatus) {
		logger.Error("run failure write failed",
			"event", "run_failure_write_failed",
			"module", "internal/worker",
			"layer", "worker",
			"run_id", envelope.RunID,
			"error", err.Error(),
		)
	}
}

func (w *Worker) retryOrDeadLetter(ctx context.Context, msg redis.XMessage, envelope events.Envelope, cause error) {
	logger := ResolveLogger(w.Logger)
	nextAttempt := envelope.Attempt + 1

	if nextAttempt < w.MaxRetries {
		delay := w.backoffDelay(nextAttempt)
		logger.Info("envelope retry scheduled",
			"event", "envelope_retry",
			"module", "internal/worker",
			"layer", "worker",
			"event_id", envelope.EventID.String(),
			"event_name", envelope.EventName,
			"attempt", nextAttempt,
			"delay_ms", delay.Milliseconds(),
			"error", cause.Error(),
		)
		w.sleep(ctx, delay)
		if _, err := w.Bus.Publish(ctx, envelope.WithAttempt(nextAttempt)); err != nil {
			// Leave the message unacked so the broker redelivers it.
			logger.Error("retry publish failed",
				"event", "retry_publish_failed",
				"module", "internal/worker",
				"layer", "worker",
				"event_id", envelope.EventID.String(),
				"error", err.Error(),
			)
			return
		}
		w.ack(ctx, msg.ID)
		return
	}

	if _, err := w.Bus.PublishDLQ(ctx, envelope, cause.Error()); err != nil {
		logger.Error("dlq publish failed",
			"event", "dlq_publish_failed",
			"module", "internal/worker",
			"layer", "worker",
			"event_id", envelope.EventID.String(),
			"error", err.Error(),
		)
		return
	}
	w.ack(ctx, msg.ID)
}

// backoffDelay is base * 2^(attempt-1) seconds plus bounded jitter.
func (w *Worker) backoffDelay(attempt int) time.Duration {
	seconds := w.BackoffBase * math.Pow(2, float64(attempt-1))
	seconds += w.jitter() * w.JitterMax
	return time.Duration(seconds * float64(time.Second))
}

// budgetState returns the lazily created per-run spend state. Two workers
// hold independent states for the same run; the ledger stays authoritative.
func (w *Worker) budgetState(envelope events.Envelope) *core.BudgetState {
	key := fmt.Sprintf("%s:%s", envelope.TenantID, envelope.RunID)
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.states == nil {
		w.states = make(map[string]*core.BudgetState)
	}
	state, ok := w.states[key]
	if !ok {
		state = core.NewBudgetState()
		w.states[key] = state
	}
	return state
}

func parseRunID(raw string) (uuid.UUID, error) {
	return uuid.Parse(raw)
}

func (w *Worker) ack(ctx context.Context, streamID string) {
	if err := w.Rdb.XAck(ctx, events.StreamMain, w.Group, streamID).Err(); err != nil {
		ResolveLogger(w.Logger).Warn("ack failed",
			"event", "ack_failed",
			"module", "internal/worker",
			"layer", "worker",
			"stream_id", streamID,
			"error", err.Error(),
		)
	}
}
