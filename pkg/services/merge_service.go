package services

import (
	"fmt"
	"reflect"
	"time"

	"go.uber.org/zap"

	"github.com/opsledger/worklog-engine/pkg/apperrors"
	"github.com/opsledger/worklog-engine/pkg/models"
)

// MergeService implements the smart-update protocol: re-running ingestion
// refreshes everything the pipeline can recompute while never destroying
// what a person typed in.
type MergeService interface {
	// Merge combines a freshly built candidate with the persisted record
	// sharing its deterministic identity. A nil existing record means first
	// write and the candidate is returned as-is. Returns
	// apperrors.ErrConflict when the two records disagree on an automated
	// field that cannot be recomputed (the source system).
	Merge(candidate, existing *models.Session) (*models.Session, error)

	// Supersede folds a stale record into a candidate that carries the same
	// events under a new identity. This happens when a source export grows
	// and the extended time window changes the deterministic session ID:
	// the candidate's identity wins, the stale record's protected fields
	// survive, and the caller retires the stale record afterwards.
	Supersede(candidate, stale *models.Session) (*models.Session, error)
}

type mergeService struct {
	logger *zap.Logger
	now    func() time.Time
}

// NewMergeService creates a new MergeService.
func NewMergeService(logger *zap.Logger) MergeService {
	return &mergeService{
		logger: logger.Named("merge"),
		now:    func() time.Time { return time.Now().UTC() },
	}
}

var _ MergeService = (*mergeService)(nil)

func (s *mergeService) Merge(candidate, existing *models.Session) (*models.Session, error) {
	if candidate == nil {
		return nil, fmt.Errorf("candidate session is required")
	}

	if existing == nil {
		return candidate, nil
	}

	if existing.Meta.SessionID != candidate.Meta.SessionID {
		return nil, fmt.Errorf("cannot merge sessions with different identities: %s vs %s",
			existing.Meta.SessionID, candidate.Meta.SessionID)
	}

	merged, err := s.combine(candidate, existing)
	if err != nil {
		return nil, err
	}

	s.logger.Debug("Merged session",
		zap.String("session_id", merged.Meta.SessionID),
		zap.String("status", string(merged.Meta.ProcessingStatus)),
		zap.Int("segments", len(merged.Segments)))

	return merged, nil
}

func (s *mergeService) Supersede(candidate, stale *models.Session) (*models.Session, error) {
	if candidate == nil {
		return nil, fmt.Errorf("candidate session is required")
	}
	if stale == nil {
		return candidate, nil
	}

	merged, err := s.combine(candidate, stale)
	if err != nil {
		return nil, err
	}

	s.logger.Info("Superseded stale session",
		zap.String("stale_id", stale.Meta.SessionID),
		zap.String("session_id", merged.Meta.SessionID),
		zap.Int("segments", len(merged.Segments)))

	return merged, nil
}

// combine applies the smart-update rules: the candidate's automated fields
// (time window, duration, segments, source title) are kept and the existing
// record's protected fields come back.
func (s *mergeService) combine(candidate, existing *models.Session) (*models.Session, error) {
	if existing.Meta.SourceSystem != candidate.Meta.SourceSystem {
		return nil, fmt.Errorf("session %s: source system changed from %q to %q: %w",
			candidate.Meta.SessionID, existing.Meta.SourceSystem, candidate.Meta.SourceSystem,
			apperrors.ErrConflict)
	}

	merged := *candidate

	// Protected fields come back from the existing record, driven by the
	// `owner` tags on the schema rather than a hard-coded field list.
	preserveOwnedFields(&merged.Context, &existing.Context)
	preserveOwnedFields(&merged.Insights, &existing.Insights)

	// Record bookkeeping: the earliest ingestion time survives, the update
	// stamp advances, the log is appended to and the workflow status never
	// moves backwards.
	if existing.Meta.IngestedAt.Before(merged.Meta.IngestedAt) {
		merged.Meta.IngestedAt = existing.Meta.IngestedAt
	}
	merged.Meta.LastUpdatedAt = s.now()
	merged.Meta.ProcessingLog = appendNewEntries(existing.Meta.ProcessingLog, candidate.Meta.ProcessingLog)
	if existing.Meta.ProcessingStatus.Rank() > candidate.Meta.ProcessingStatus.Rank() {
		merged.Meta.ProcessingStatus = existing.Meta.ProcessingStatus
	}

	return &merged, nil
}

// preserveOwnedFields copies protected fields from the existing record into
// the merged one. dst and src must point to the same struct type.
//
//   - owner:"human"    - always kept from the existing record
//   - owner:"enriched" - kept from the existing record when set, because a
//     fresh ingestion candidate cannot produce it
func preserveOwnedFields[T any](dst, src *T) {
	dstVal := reflect.ValueOf(dst).Elem()
	srcVal := reflect.ValueOf(src).Elem()
	structType := dstVal.Type()

	for i := 0; i < structType.NumField(); i++ {
		switch structType.Field(i).Tag.Get("owner") {
		case "human":
			dstVal.Field(i).Set(srcVal.Field(i))
		case "enriched":
			if !srcVal.Field(i).IsZero() {
				dstVal.Field(i).Set(srcVal.Field(i))
			}
		}
	}
}

// appendNewEntries keeps the log append-only while staying idempotent when
// the same candidate is merged twice.
func appendNewEntries(existing, incoming []string) []string {
	seen := make(map[string]bool, len(existing))
	out := make([]string, 0, len(existing)+len(incoming))
	for _, entry := range existing {
		seen[entry] = true
		out = append(out, entry)
	}
	for _, entry := range incoming {
		if !seen[entry] {
			seen[entry] = true
			out = append(out, entry)
		}
	}
	return out
}
