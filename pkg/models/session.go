package models

import "time"

// SchemaVersion is the current Session schema version.
const SchemaVersion = "2.0"

// ProcessingStatus is the workflow state of a Session record.
type ProcessingStatus string

const (
	StatusNeedsLinking ProcessingStatus = "Needs Linking"
	StatusLinked       ProcessingStatus = "Linked"
	StatusComplete     ProcessingStatus = "Complete"
	StatusReviewed     ProcessingStatus = "Reviewed"
	StatusError        ProcessingStatus = "Error"
)

// Rank orders statuses by workflow progress. Re-ingestion must never move a
// record backwards; the merge controller keeps whichever status ranks higher.
func (s ProcessingStatus) Rank() int {
	switch s {
	case StatusNeedsLinking:
		return 0
	case StatusError:
		return 1
	case StatusLinked:
		return 2
	case StatusComplete:
		return 3
	case StatusReviewed:
		return 4
	default:
		return 0
	}
}

// SessionMeta tracks the record itself: identity, provenance and workflow
// state. The session ID is a deterministic fingerprint of the source
// identifiers and the session's time window, so re-ingesting unchanged source
// data always addresses the same record.
type SessionMeta struct {
	SessionID         string           `json:"session_id"`
	SchemaVersion     string           `json:"schema_version"`
	SourceSystem      string           `json:"source_system"`
	SourceIdentifiers []string         `json:"source_identifiers"`
	ProcessingStatus  ProcessingStatus `json:"processing_status"`
	ProcessingLog     []string         `json:"processing_log,omitempty"`
	IngestedAt        time.Time        `json:"ingested_at_utc"`
	LastUpdatedAt     time.Time        `json:"last_updated_at_utc"`
}

// SessionContext links the Session to business entities. Field ownership is
// declared with `owner` tags and read generically by the merge controller:
//   - "human":    entered by a person, never overwritten by re-ingestion
//   - "enriched": written by a later processing step (linker, analyzer);
//     preserved from the existing record when set, since a fresh
//     ingestion candidate cannot produce it
//
// Untagged fields are automated and refreshed from the candidate on merge.
type SessionContext struct {
	CustomerID   *int     `json:"customer_id,omitempty" owner:"enriched"`
	CustomerName string   `json:"customer_name,omitempty" owner:"enriched"`
	ContactID    *int     `json:"contact_id,omitempty" owner:"enriched"`
	ContactName  string   `json:"contact_name,omitempty" owner:"enriched"`
	Links        []string `json:"links,omitempty" owner:"human"`
}

// GuessedCustomerName is the ingestion-time guess. Before linking,
// CustomerName holds the guess; after linking it holds the authoritative
// roster name.
func (c SessionContext) GuessedCustomerName() string { return c.CustomerName }

// IsCustomerAuthoritative reports whether the linker has already attached an
// authoritative customer.
func (c SessionContext) IsCustomerAuthoritative() bool { return c.CustomerID != nil }

// SessionInsights holds information derived from the session's content.
type SessionInsights struct {
	StartTime          time.Time         `json:"session_start_time_utc"`
	EndTime            time.Time         `json:"session_end_time_utc"`
	DurationMinutes    int               `json:"session_duration_minutes"`
	SourceTitle        string            `json:"source_title,omitempty"`
	LLMGeneratedTitle  string            `json:"llm_generated_title,omitempty" owner:"enriched"`
	GeneratedSummaries map[string]string `json:"generated_summaries,omitempty" owner:"enriched"`
	UserNotes          string            `json:"user_notes,omitempty" owner:"human"`
}

// Session is the durable, human-editable record of a single continuous
// activity from one source. Segments are kept in chronological order.
type Session struct {
	Meta     SessionMeta     `json:"meta"`
	Context  SessionContext  `json:"context"`
	Insights SessionInsights `json:"insights"`
	Segments []Segment       `json:"segments"`
}

// AppendLog records an applied processing step marker. The log is append-only.
func (s *Session) AppendLog(step string) {
	s.Meta.ProcessingLog = append(s.Meta.ProcessingLog, step)
}
