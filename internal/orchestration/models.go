package orchestration

import (
	"time"

	"github.com/google/uuid"

	"metismedia/internal/store"
)

// DossierResult is the caller-facing outcome of one run.
type DossierResult struct {
	RunID            uuid.UUID      `json:"run_id"`
	CampaignID       *uuid.UUID     `json:"campaign_id,omitempty"`
	TenantID         uuid.UUID      `json:"tenant_id"`
	TraceID          string         `json:"trace_id"`
	Status           string         `json:"status"`
	TargetCardsCount int            `json:"target_cards_count"`
	DraftsCount      int            `json:"drafts_count"`
	TotalCostDollars float64        `json:"total_cost_dollars"`
	CostSummary      map[string]any `json:"cost_summary,omitempty"`
	Notes            string         `json:"notes,omitempty"`
	CompletedAt      *time.Time     `json:"completed_at,omitempty"`
	ErrorMessage     string         `json:"error_message,omitempty"`
}

// dossierFromRun maps a terminal run row onto the dossier shape.
func dossierFromRun(run store.Run) DossierResult {
	result := DossierResult{
		RunID:        run.ID,
		CampaignID:   run.CampaignID,
		TenantID:     run.TenantID,
		TraceID:      run.TraceID,
		Status:       run.Status,
		CompletedAt:  run.CompletedAt,
		ErrorMessage: run.ErrorMessage,
	}
	if run.Result == nil {
		return result
	}
	result.TargetCardsCount = intField(run.Result, "target_cards_count")
	result.DraftsCount = intField(run.Result, "drafts_count")
	result.TotalCostDollars = floatField(run.Result, "total_cost_dollars")
	if notes, ok := run.Result["notes"].(string); ok {
		result.Notes = notes
	}
	if summary, ok := run.Result["cost_summary"].(map[string]any); ok {
		result.CostSummary = summary
	}
	return result
}

func intField(m map[string]any, key string) int {
	switch v := m[key].(type) {
	case int:
		return v
	case int64:
		return int(v)
	case float64:
		return int(v)
	}
	return 0
}

func floatField(m map[string]any, key string) float64 {
	switch v := m[key].(type) {
	case float64:
		return v
	case int:
		return float64(v)
	case int64:
		return float64(v)
	}
	return 0
}
