package models

import (
	"time"

	"github.com/opsledger/worklog-engine/pkg/fingerprint"
)

// SegmentType identifies the kind of atomic activity a segment records.
type SegmentType string

const (
	SegmentChatMessage      SegmentType = "ChatMessage"
	SegmentRemoteConnection SegmentType = "RemoteConnection"
	SegmentTicketComment    SegmentType = "TicketComment"
	SegmentNote             SegmentType = "Note"
)

// Segment is the smallest unit of recorded activity: one message, one remote
// connection, one ticket comment. Segments are produced by ingestion readers
// and never mutated afterwards.
type Segment struct {
	SegmentID string         `json:"segment_id"`
	StartTime time.Time      `json:"start_time_utc"`
	EndTime   time.Time      `json:"end_time_utc"`
	Type      SegmentType    `json:"type"`
	Author    string         `json:"author,omitempty"`
	Content   string         `json:"content,omitempty"`
	Metadata  map[string]any `json:"metadata,omitempty"`
}

// HasValidTimes reports whether both timestamps parsed. Readers stamp
// unparseable source timestamps as the zero time; such segments are excluded
// from clustering and surfaced as skipped.
func (s Segment) HasValidTimes() bool {
	return !s.StartTime.IsZero() && !s.EndTime.IsZero()
}

// DedupKey is the content fingerprint of the event. Two parses of the same
// source row produce the same key even though each parse stamps a fresh
// SegmentID, which is how the pipeline recognizes events it already holds
// when an overlapping export is re-ingested.
func (s Segment) DedupKey() string {
	return fingerprint.SegmentKey(s.StartTime, s.Author, s.Content)
}
