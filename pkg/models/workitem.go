package models

import "time"

// WorkItem is a cross-source cluster of Sessions representing one continuous
// block of labor. Work items reference sessions by identity only and carry no
// human-owned state, so the builder recomputes them wholesale on every run.
type WorkItem struct {
	WorkItemID           string    `json:"work_item_id"`
	CustomerID           *int      `json:"customer_id,omitempty"`
	ComponentSessionIDs  []string  `json:"component_session_ids"`
	StartTime            time.Time `json:"start_time_utc"`
	EndTime              time.Time `json:"end_time_utc"`
	TotalDurationMinutes int       `json:"total_duration_minutes"`
	CalculatedLinks      []string  `json:"calculated_links,omitempty"`
	LLMCombinedSummary   string    `json:"llm_combined_summary,omitempty"`
	GeneratedAt          time.Time `json:"generated_at_utc"`
}
