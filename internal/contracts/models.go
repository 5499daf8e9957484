package contracts

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/google/uuid"
)

// CampaignBrief is the slot-filled configuration document produced by the
// briefing frontend. The orchestrator treats it as opaque input apart from
// the fields named here.
type CampaignBrief struct {
	CampaignID     uuid.UUID      `json:"campaign_id"`
	TenantID       uuid.UUID      `json:"tenant_id"`
	TraceID        uuid.UUID      `json:"trace_id"`
	Name           string         `json:"name"`
	Description    string         `json:"description"`
	PolarityIntent PolarityIntent `json:"polarity_intent"`
	CommercialMode CommercialMode `json:"commercial_mode"`
	BudgetLimit    *float64       `json:"budget_limit,omitempty"`
	SlotValues     map[string]any `json:"slot_values"`
	MissingSlots   []string       `json:"missing_slots,omitempty"`
	Finalized      bool           `json:"finalized"`
}

// QueryEmbeddingID extracts the campaign query embedding reference from the
// brief's slot values. Returns uuid.Nil when the slot is absent or malformed.
func (b CampaignBrief) QueryEmbeddingID() uuid.UUID {
	raw, ok := b.SlotValues["query_embedding_id"]
	if !ok {
		return uuid.Nil
	}
	s, ok := raw.(string)
	if !ok {
		return uuid.Nil
	}
	id, err := uuid.Parse(strings.TrimSpace(s))
	if err != nil {
		return uuid.Nil
	}
	return id
}

// ThirdRailTerms returns the brief's third-rail exclusion terms. Accepts
// either a list of strings or a comma-separated string.
func (b CampaignBrief) ThirdRailTerms() []string {
	raw, ok := b.SlotValues["third_rail_terms"]
	if !ok {
		return nil
	}
	switch v := raw.(type) {
	case []string:
		return trimNonEmpty(v)
	case []any:
		terms := make([]string, 0, len(v))
		for _, item := range v {
			if s, ok := item.(string); ok {
				terms = append(terms, s)
			}
		}
		return trimNonEmpty(terms)
	case string:
		return trimNonEmpty(strings.Split(v, ","))
	}
	return nil
}

// PlatformVector returns the brief's platform whitelist, if any.
func (b CampaignBrief) PlatformVector() []string {
	raw, ok := b.SlotValues["platform_vector"]
	if !ok {
		return nil
	}
	switch v := raw.(type) {
	case []string:
		return trimNonEmpty(v)
	case []any:
		platforms := make([]string, 0, len(v))
		for _, item := range v {
			if s, ok := item.(string); ok {
				platforms = append(platforms, s)
			}
		}
		return trimNonEmpty(platforms)
	case string:
		return trimNonEmpty([]string{v})
	}
	return nil
}

// Geography returns the brief's geography substring filter, if any.
func (b CampaignBrief) Geography() string {
	raw, ok := b.SlotValues["geography"]
	if !ok {
		return ""
	}
	s, _ := raw.(string)
	return strings.TrimSpace(s)
}

func trimNonEmpty(items []string) []string {
	out := make([]string, 0, len(items))
	for _, item := range items {
		item = strings.TrimSpace(item)
		if item != "" {
			out = append(out, item)
		}
	}
	if len(out) == 0 {
		return nil
	}
	return out
}

// BriefFromJSON decodes a brief previously serialized into a campaign row.
func BriefFromJSON(raw []byte) (CampaignBrief, error) {
	var brief CampaignBrief
	if len(raw) == 0 {
		return brief, nil
	}
	if err := json.Unmarshal(raw, &brief); err != nil {
		return brief, fmt.Errorf("decode campaign brief: %w", err)
	}
	return brief, nil
}

// Directive actions a stage is allowed to emit.
var directiveActions = map[string]struct{}{
	"proceed": {},
	"skip":    {},
	"reserve": {},
	"block":   {},
}

// ValidateAction reports whether a directive action is allowed.
func ValidateAction(action string) error {
	if _, ok := directiveActions[action]; !ok {
		return fmt.Errorf("invalid directive action %q", action)
	}
	return nil
}
