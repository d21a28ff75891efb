package services

import (
	"fmt"
	"math"
	"time"

	"github.com/opsledger/worklog-engine/pkg/fingerprint"
	"github.com/opsledger/worklog-engine/pkg/models"
)

// SessionSeed carries the per-cluster inputs a reader contributes beyond the
// segments themselves.
type SessionSeed struct {
	SourceSystem      string
	SourceIdentifiers []string
	CustomerNameGuess string
	ContactNameGuess  string
	SourceTitle       string
}

// BuildSession assembles a candidate Session from one cluster of segments.
// The session ID is the fingerprint of the source identifiers plus the
// cluster's time window, so rebuilding from unchanged source data addresses
// the same persisted record.
func BuildSession(segments []models.Segment, seed SessionSeed, now time.Time) (*models.Session, error) {
	if len(segments) == 0 {
		return nil, fmt.Errorf("cannot build a session with no segments")
	}

	start := segments[0].StartTime
	end := segments[0].EndTime
	for _, seg := range segments[1:] {
		if seg.StartTime.Before(start) {
			start = seg.StartTime
		}
		if seg.EndTime.After(end) {
			end = seg.EndTime
		}
	}

	session := &models.Session{
		Meta: models.SessionMeta{
			SessionID:         fingerprint.SessionID(seed.SourceIdentifiers, start, end),
			SchemaVersion:     models.SchemaVersion,
			SourceSystem:      seed.SourceSystem,
			SourceIdentifiers: seed.SourceIdentifiers,
			ProcessingStatus:  models.StatusNeedsLinking,
			IngestedAt:        now,
			LastUpdatedAt:     now,
		},
		Context: models.SessionContext{
			CustomerName: seed.CustomerNameGuess,
			ContactName:  seed.ContactNameGuess,
		},
		Insights: models.SessionInsights{
			StartTime:       start,
			EndTime:         end,
			DurationMinutes: durationMinutes(start, end),
			SourceTitle:     seed.SourceTitle,
		},
		Segments: segments,
	}
	return session, nil
}

// durationMinutes rounds the span to whole minutes.
func durationMinutes(start, end time.Time) int {
	if !end.After(start) {
		return 0
	}
	return int(math.Round(end.Sub(start).Minutes()))
}
