package types

// Priority orders follow-up suggestions. HIGH sorts before MEDIUM, MEDIUM
// before LOW.
type Priority string

const (
	PriorityHigh   Priority = "HIGH"
	PriorityMedium Priority = "MEDIUM"
	PriorityLow    Priority = "LOW"
)

// Rank returns the sort rank of the priority (lower sorts first).
func (p Priority) Rank() int {
	switch p {
	case PriorityHigh:
		return 0
	case PriorityMedium:
		return 1
	case PriorityLow:
		return 2
	default:
		return 3
	}
}

// SuggestedSearch is one concrete search a follow-up suggestion recommends.
type SuggestedSearch struct {
	Tool      string `json:"tool"`
	Query     string `json:"query"`
	Reasoning string `json:"reasoning"`
}

// OneClickAction describes how a presentation layer can launch the suggested
// search against an external tool's declared API contract. The engine never
// calls the endpoint itself.
type OneClickAction struct {
	Endpoint   string            `json:"endpoint"`
	Method     string            `json:"method"`
	Params     map[string]string `json:"params"`
	ButtonText string            `json:"button_text"`
}

// Suggestion is a prioritized, actionable next-investigation recommendation
// derived from one entity of a report. IDs are assigned in final output order
// and are unique within a single generation call.
type Suggestion struct {
	ID                string            `json:"id"`
	Type              string            `json:"type"`
	Priority          Priority          `json:"priority"`
	Category          Category          `json:"category"`
	Title             string            `json:"title"`
	Description       string            `json:"description"`
	EntityFields      map[string]string `json:"entity_fields,omitempty"`
	SuggestedSearches []SuggestedSearch `json:"suggested_searches"`
	OneClickAction    OneClickAction    `json:"one_click_action"`
}
