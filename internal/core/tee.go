package core

// TeeLedger records through memory for aggregation and mirrors each entry to
// a secondary sink, typically the JSON log ledger.
type TeeLedger struct {
	Memory *MemoryLedger
	Sink   Ledger
}

func (t TeeLedger) Record(entry CostEntry) {
	t.Memory.Record(entry)
	if t.Sink != nil {
		t.Sink.Record(entry)
	}
}

func (t TeeLedger) TotalDollars(runID string) float64 {
	return t.Memory.TotalDollars(runID)
}

func (t TeeLedger) Summary(runID string) Summary {
	return t.Memory.Summary(runID)
}
