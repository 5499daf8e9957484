package providers

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// RecentSummary is one piece of recent public activity fetched during a
// pulse check.
type RecentSummary struct {
	Text       string
	URL        string
	OccurredAt time.Time
}

// PulseProvider fetches recent-activity summaries for an influencer's
// primary URL. An empty result is a valid outcome, not an error.
type PulseProvider interface {
	FetchRecentSummaries(ctx context.Context, primaryURL string, limit int) ([]RecentSummary, error)
}

// MockPulseProvider serves canned summaries keyed by URL. URLs without an
// entry return nothing, which the pulse check treats as inconclusive.
type MockPulseProvider struct {
	mu        sync.Mutex
	summaries map[string][]RecentSummary
	failures  map[string]error
	calls     int
}

func NewMockPulseProvider() *MockPulseProvider {
	return &MockPulseProvider{
		summaries: make(map[string][]RecentSummary),
		failures:  make(map[string]error),
	}
}

func (p *MockPulseProvider) FetchRecentSummaries(ctx context.Context, primaryURL string, limit int) ([]RecentSummary, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.calls++

	if err, ok := p.failures[primaryURL]; ok {
		return nil, fmt.Errorf("fetch summaries for %s: %w", primaryURL, err)
	}
	found := p.summaries[primaryURL]
	if limit > 0 && len(found) > limit {
		found = found[:limit]
	}
	return append([]RecentSummary(nil), found...), nil
}

// SetSummaries replaces the canned summaries for one URL.
func (p *MockPulseProvider) SetSummaries(primaryURL string, summaries []RecentSummary) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.summaries[primaryURL] = append([]RecentSummary(nil), summaries...)
}

// FailWith makes every fetch for the URL return the given error.
func (p *MockPulseProvider) FailWith(primaryURL string, err error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.failures[primaryURL] = err
}

// Calls reports how many fetches happened.
func (p *MockPulseProvider) Calls() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.calls
}
