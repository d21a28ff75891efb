package services

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/opsledger/worklog-engine/pkg/apperrors"
	"github.com/opsledger/worklog-engine/pkg/models"
)

func baseSession(t *testing.T) *models.Session {
	t.Helper()

	segments := []models.Segment{
		{
			SegmentID: "seg-1",
			StartTime: time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC),
			EndTime:   time.Date(2026, 3, 1, 10, 5, 0, 0, time.UTC),
			Type:      models.SegmentChatMessage,
			Author:    "tech",
			Content:   "restarting the print spooler",
		},
	}
	session, err := BuildSession(segments, SessionSeed{
		SourceSystem:      "screenconnect",
		SourceIdentifiers: []string{"sc-session-42"},
		CustomerNameGuess: "Acme Corp",
		SourceTitle:       "Support Session",
	}, time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC))
	require.NoError(t, err)
	return session
}

func TestMerge_FirstWriteReturnsCandidate(t *testing.T) {
	svc := NewMergeService(zap.NewNop())
	candidate := baseSession(t)

	merged, err := svc.Merge(candidate, nil)

	require.NoError(t, err)
	assert.Same(t, candidate, merged)
}

func TestMerge_NilCandidateIsAnError(t *testing.T) {
	svc := NewMergeService(zap.NewNop())

	_, err := svc.Merge(nil, baseSession(t))

	assert.Error(t, err)
}

func TestMerge_PreservesHumanFields(t *testing.T) {
	svc := NewMergeService(zap.NewNop())

	existing := baseSession(t)
	existing.Insights.UserNotes = "called back, left voicemail"
	existing.Context.Links = []string{"ticket-991"}

	candidate := baseSession(t)
	candidate.Insights.UserNotes = ""
	candidate.Context.Links = nil

	merged, err := svc.Merge(candidate, existing)

	require.NoError(t, err)
	assert.Equal(t, "called back, left voicemail", merged.Insights.UserNotes)
	assert.Equal(t, []string{"ticket-991"}, merged.Context.Links)
}

func TestMerge_PreservesEnrichedFieldsWhenSet(t *testing.T) {
	svc := NewMergeService(zap.NewNop())

	customerID := 7
	existing := baseSession(t)
	existing.Context.CustomerID = &customerID
	existing.Context.CustomerName = "Acme Corporation"
	existing.Insights.LLMGeneratedTitle = "Print spooler restart"

	candidate := baseSession(t)

	merged, err := svc.Merge(candidate, existing)

	require.NoError(t, err)
	require.NotNil(t, merged.Context.CustomerID)
	assert.Equal(t, 7, *merged.Context.CustomerID)
	assert.Equal(t, "Acme Corporation", merged.Context.CustomerName)
	assert.Equal(t, "Print spooler restart", merged.Insights.LLMGeneratedTitle)
}

func TestMerge_EnrichedFieldsFlowInOnFirstEnrichment(t *testing.T) {
	svc := NewMergeService(zap.NewNop())

	existing := baseSession(t)
	existing.Insights.LLMGeneratedTitle = ""

	candidate := baseSession(t)
	candidate.Insights.LLMGeneratedTitle = "Print spooler restart"

	merged, err := svc.Merge(candidate, existing)

	require.NoError(t, err)
	assert.Equal(t, "Print spooler restart", merged.Insights.LLMGeneratedTitle)
}

func TestMerge_RefreshesAutomatedFields(t *testing.T) {
	svc := NewMergeService(zap.NewNop())

	existing := baseSession(t)

	candidate := baseSession(t)
	candidate.Segments = append(candidate.Segments, models.Segment{
		SegmentID: "seg-2",
		StartTime: time.Date(2026, 3, 1, 10, 6, 0, 0, time.UTC),
		EndTime:   time.Date(2026, 3, 1, 10, 8, 0, 0, time.UTC),
		Type:      models.SegmentChatMessage,
		Author:    "tech",
		Content:   "done",
	})
	candidate.Insights.SourceTitle = "Support Session (updated)"

	merged, err := svc.Merge(candidate, existing)

	require.NoError(t, err)
	assert.Len(t, merged.Segments, 2)
	assert.Equal(t, "Support Session (updated)", merged.Insights.SourceTitle)
	assert.Equal(t, existing.Meta.IngestedAt, merged.Meta.IngestedAt)
	assert.True(t, merged.Meta.LastUpdatedAt.After(existing.Meta.LastUpdatedAt))
}

func TestMerge_IdenticalSessionIsIdempotent(t *testing.T) {
	svc := NewMergeService(zap.NewNop())

	existing := baseSession(t)
	existing.Meta.ProcessingLog = []string{"ingested from screenconnect"}

	candidate := baseSession(t)
	candidate.Meta.ProcessingLog = []string{"ingested from screenconnect"}

	merged, err := svc.Merge(candidate, existing)
	require.NoError(t, err)

	again, err := svc.Merge(candidate, merged)
	require.NoError(t, err)

	assert.Equal(t, []string{"ingested from screenconnect"}, again.Meta.ProcessingLog)
	assert.Equal(t, merged.Segments, again.Segments)
	assert.Equal(t, merged.Context, again.Context)
	assert.Equal(t, merged.Insights, again.Insights)
}

func TestMerge_ProcessingLogIsAppendOnly(t *testing.T) {
	svc := NewMergeService(zap.NewNop())

	existing := baseSession(t)
	existing.Meta.ProcessingLog = []string{"ingested", "linked to customer 7"}

	candidate := baseSession(t)
	candidate.Meta.ProcessingLog = []string{"ingested", "re-ingested with 2 segments"}

	merged, err := svc.Merge(candidate, existing)

	require.NoError(t, err)
	assert.Equal(t,
		[]string{"ingested", "linked to customer 7", "re-ingested with 2 segments"},
		merged.Meta.ProcessingLog)
}

func TestMerge_StatusNeverMovesBackwards(t *testing.T) {
	svc := NewMergeService(zap.NewNop())

	existing := baseSession(t)
	existing.Meta.ProcessingStatus = models.StatusComplete

	candidate := baseSession(t)

	merged, err := svc.Merge(candidate, existing)

	require.NoError(t, err)
	assert.Equal(t, models.StatusComplete, merged.Meta.ProcessingStatus)
}

func TestMerge_ErrorStatusIsRetried(t *testing.T) {
	// Error ranks below Linked so a clean re-ingestion can move the record
	// forward again.
	svc := NewMergeService(zap.NewNop())

	existing := baseSession(t)
	existing.Meta.ProcessingStatus = models.StatusError

	candidate := baseSession(t)
	candidate.Meta.ProcessingStatus = models.StatusLinked

	merged, err := svc.Merge(candidate, existing)

	require.NoError(t, err)
	assert.Equal(t, models.StatusLinked, merged.Meta.ProcessingStatus)
}

func TestMerge_DifferentIdentityRefused(t *testing.T) {
	svc := NewMergeService(zap.NewNop())

	existing := baseSession(t)
	candidate := baseSession(t)
	candidate.Meta.SessionID = "completely-different"

	_, err := svc.Merge(candidate, existing)

	assert.Error(t, err)
}

func TestMerge_SourceSystemChangeIsConflict(t *testing.T) {
	svc := NewMergeService(zap.NewNop())

	existing := baseSession(t)
	candidate := baseSession(t)
	candidate.Meta.SourceSystem = "notes"

	_, err := svc.Merge(candidate, existing)

	assert.ErrorIs(t, err, apperrors.ErrConflict)
}

// extendedSession builds the candidate a regrown export produces: the same
// events plus one more, so the time window and the identity both change.
func extendedSession(t *testing.T) *models.Session {
	t.Helper()

	stale := baseSession(t)
	segments := append([]models.Segment(nil), stale.Segments...)
	segments = append(segments, models.Segment{
		SegmentID: "seg-2",
		StartTime: time.Date(2026, 3, 1, 10, 10, 0, 0, time.UTC),
		EndTime:   time.Date(2026, 3, 1, 10, 20, 0, 0, time.UTC),
		Type:      models.SegmentChatMessage,
		Author:    "tech",
		Content:   "spooler back up, verifying print queue",
	})
	session, err := BuildSession(segments, SessionSeed{
		SourceSystem:      "screenconnect",
		SourceIdentifiers: []string{"sc-session-42"},
		CustomerNameGuess: "Acme Corp",
		SourceTitle:       "Support Session",
	}, time.Date(2026, 3, 1, 13, 0, 0, 0, time.UTC))
	require.NoError(t, err)
	return session
}

func TestSupersede_CandidateIdentityWins(t *testing.T) {
	svc := NewMergeService(zap.NewNop())
	stale := baseSession(t)
	candidate := extendedSession(t)
	require.NotEqual(t, stale.Meta.SessionID, candidate.Meta.SessionID)

	merged, err := svc.Supersede(candidate, stale)

	require.NoError(t, err)
	assert.Equal(t, candidate.Meta.SessionID, merged.Meta.SessionID)
	assert.Len(t, merged.Segments, 2)
}

func TestSupersede_PreservesProtectedFields(t *testing.T) {
	svc := NewMergeService(zap.NewNop())

	stale := baseSession(t)
	stale.Insights.UserNotes = "customer approved overtime"
	customerID := 1
	stale.Context.CustomerID = &customerID
	stale.Context.CustomerName = "Acme Corporation"
	stale.Meta.ProcessingStatus = models.StatusLinked

	candidate := extendedSession(t)

	merged, err := svc.Supersede(candidate, stale)

	require.NoError(t, err)
	assert.Equal(t, "customer approved overtime", merged.Insights.UserNotes)
	require.NotNil(t, merged.Context.CustomerID)
	assert.Equal(t, 1, *merged.Context.CustomerID)
	assert.Equal(t, models.StatusLinked, merged.Meta.ProcessingStatus)
	assert.Equal(t, stale.Meta.IngestedAt, merged.Meta.IngestedAt)
}

func TestSupersede_NilStaleReturnsCandidate(t *testing.T) {
	svc := NewMergeService(zap.NewNop())
	candidate := extendedSession(t)

	merged, err := svc.Supersede(candidate, nil)

	require.NoError(t, err)
	assert.Same(t, candidate, merged)
}

func TestSupersede_SourceSystemChangeIsConflict(t *testing.T) {
	svc := NewMergeService(zap.NewNop())

	stale := baseSession(t)
	candidate := extendedSession(t)
	candidate.Meta.SourceSystem = "notes"

	_, err := svc.Supersede(candidate, stale)

	assert.ErrorIs(t, err, apperrors.ErrConflict)
}
