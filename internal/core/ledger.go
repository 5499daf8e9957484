package core

import (
	"encoding/json"
	"log/slog"
	"math"
	"sync"
	"time"

	"github.com/google/uuid"

	"metismedia/internal/contracts"
)

// ComputeCost derives the dollar amount for an operation, rounded to six
// decimal places so ledger sums stay stable across aggregation order.
func ComputeCost(unitCost, quantity float64) float64 {
	return round6(unitCost * quantity)
}

func round6(x float64) float64 {
	return math.Round(x*1e6) / 1e6
}

// CostEntry is one recorded provider or node operation.
type CostEntry struct {
	OccurredAt time.Time
	TenantID   uuid.UUID
	TraceID    string
	RunID      string
	Node       contracts.NodeName
	Provider   string
	Operation  string
	UnitCost   float64
	Quantity   float64
	Dollars    float64
	Metadata   map[string]any
}

// Ledger records cost entries. Implementations must be safe for use from
// multiple goroutines.
type Ledger interface {
	Record(entry CostEntry)
}

// Summary aggregates dollars by node and by provider.
type Summary struct {
	ByNode     map[string]float64 `json:"by_node"`
	ByProvider map[string]float64 `json:"by_provider"`
}

// MemoryLedger keeps entries in memory and supports per-run aggregation.
// Used by tests and by the terminal stage when composing the dossier.
type MemoryLedger struct {
	mu      sync.Mutex
	entries []CostEntry
}

func NewMemoryLedger() *MemoryLedger {
	return &MemoryLedger{}
}

func (l *MemoryLedger) Record(entry CostEntry) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.entries = append(l.entries, entry)
}

// Entries returns a copy of all recorded entries.
func (l *MemoryLedger) Entries() []CostEntry {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]CostEntry, len(l.entries))
	copy(out, l.entries)
	return out
}

// TotalDollars sums dollars for entries of one run; runID "" sums everything.
func (l *MemoryLedger) TotalDollars(runID string) float64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	total := 0.0
	for _, e := range l.entries {
		if runID == "" || e.RunID == runID {
			total += e.Dollars
		}
	}
	return round6(total)
}

// Summary aggregates by node and provider for one run; runID "" covers all.
func (l *MemoryLedger) Summary(runID string) Summary {
	l.mu.Lock()
	defer l.mu.Unlock()
	summary := Summary{
		ByNode:     make(map[string]float64),
		ByProvider: make(map[string]float64),
	}
	for _, e := range l.entries {
		if runID != "" && e.RunID != runID {
			continue
		}
		summary.ByNode[string(e.Node)] = round6(summary.ByNode[string(e.Node)] + e.Dollars)
		summary.ByProvider[e.Provider] = round6(summary.ByProvider[e.Provider] + e.Dollars)
	}
	return summary
}

// Aggregator is the read side of a ledger, consumed by the terminal stage.
type Aggregator interface {
	TotalDollars(runID string) float64
	Summary(runID string) Summary
}

// LogLedger writes one JSON line per entry through slog. Production sink;
// aggregation happens downstream of the log pipeline.
type LogLedger struct {
	logger *slog.Logger
}

func NewLogLedger(logger *slog.Logger) *LogLedger {
	if logger == nil {
		logger = slog.Default()
	}
	return &LogLedger{logger: logger}
}

func (l *LogLedger) Record(entry CostEntry) {
	line, err := json.Marshal(map[string]any{
		"occurred_at": entry.OccurredAt.UTC().Format(time.RFC3339Nano),
		"tenant_id":   entry.TenantID.String(),
		"trace_id":    entry.TraceID,
		"run_id":      entry.RunID,
		"node":        string(entry.Node),
		"provider":    entry.Provider,
		"operation":   entry.Operation,
		"unit_cost":   entry.UnitCost,
		"quantity":    entry.Quantity,
		"dollars":     entry.Dollars,
		"metadata":    entry.Metadata,
	})
	if err != nil {
		l.logger.Error("cost entry encode failed",
			"event", "cost_entry_encode_failed",
			"module", "internal/core",
			"layer", "platform",
			"error", err.Error(),
		)
		return
	}
	l.logger.Info(string(line),
		"event", "cost_entry",
		"module", "internal/core",
		"layer", "platform",
	)
}
