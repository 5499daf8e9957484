package core

import (
	"errors"
	"fmt"
	"time"
)

// Limit types reported by BudgetExceededError.
const (
	LimitMaxDollars       = "max_dollars"
	LimitMaxProviderCalls = "max_provider_calls"
)

// BudgetExceededError is fatal for a run: the worker writes the run failed
// and does not retry the envelope.
type BudgetExceededError struct {
	LimitType string
	Message   string
}

func (e *BudgetExceededError) Error() string {
	return e.Message
}

// IsBudgetExceeded reports whether err is (or wraps) a budget violation.
func IsBudgetExceeded(err error) bool {
	var be *BudgetExceededError
	return errors.As(err, &be)
}

// Budget holds the limits for a run. MaxNodeSeconds is advisory: when set
// for a node it bounds a single handler invocation via a timeout wrapper,
// not via the guard.
type Budget struct {
	MaxDollars       float64
	MaxProviderCalls map[string]int
	MaxNodeSeconds   map[string]float64
}

// NodeTimeout returns the configured per-node handler timeout, or zero.
func (b Budget) NodeTimeout(node string) time.Duration {
	seconds, ok := b.MaxNodeSeconds[node]
	if !ok || seconds <= 0 {
		return 0
	}
	return time.Duration(seconds * float64(time.Second))
}

// BudgetState tracks spend against a budget. One state exists per
// (tenant, run) inside each worker; the authoritative view is the ledger.
type BudgetState struct {
	DollarsSpent  float64
	ProviderCalls map[string]int
	StartedAt     time.Time
}

// NewBudgetState returns an empty state started now.
func NewBudgetState() *BudgetState {
	return &BudgetState{
		ProviderCalls: make(map[string]int),
		StartedAt:     time.Now().UTC(),
	}
}

// Apply records spend after a successful guard check.
func (s *BudgetState) Apply(dollars float64, provider string, calls int) {
	s.DollarsSpent += dollars
	if provider != "" && calls > 0 {
		if s.ProviderCalls == nil {
			s.ProviderCalls = make(map[string]int)
		}
		s.ProviderCalls[provider] += calls
	}
}

// Guard checks that applying the deltas would not exceed the budget. It is
// purely functional: on success the caller applies the deltas to the state,
// which allows pre-flight checks without mutation.
func Guard(budget Budget, state *BudgetState, costDelta float64, provider string, callsDelta int) error {
	if costDelta < 0 {
		return fmt.Errorf("cost delta must be >= 0, got %v", costDelta)
	}
	if callsDelta < 0 {
		return fmt.Errorf("calls delta must be >= 0, got %d", callsDelta)
	}

	newDollars := state.DollarsSpent + costDelta
	if newDollars > budget.MaxDollars {
		return &BudgetExceededError{
			LimitType: LimitMaxDollars,
			Message:   fmt.Sprintf("Budget exceeded: %.4f > %v max_dollars", newDollars, budget.MaxDollars),
		}
	}

	if provider != "" && callsDelta > 0 {
		if cap, ok := budget.MaxProviderCalls[provider]; ok {
			newCalls := state.ProviderCalls[provider] + callsDelta
			if newCalls > cap {
				return &BudgetExceededError{
					LimitType: LimitMaxProviderCalls,
					Message:   fmt.Sprintf("Provider call cap exceeded: %s would be %d > %d", provider, newCalls, cap),
				}
			}
		}
	}
	return nil
}
