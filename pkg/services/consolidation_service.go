package services

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"go.uber.org/zap"

	"github.com/opsledger/worklog-engine/pkg/apperrors"
	"github.com/opsledger/worklog-engine/pkg/cluster"
	"github.com/opsledger/worklog-engine/pkg/ingest"
	"github.com/opsledger/worklog-engine/pkg/models"
	"github.com/opsledger/worklog-engine/pkg/repositories"
)

// RunSummary counts what one consolidation run did. Record-level problems
// are counted here, never raised as run-ending errors.
type RunSummary struct {
	SessionsCreated int `json:"sessions_created"`
	SessionsUpdated int `json:"sessions_updated"`
	MergeConflicts  int `json:"merge_conflicts"`
	SkippedSegments int `json:"skipped_segments"`
	RecordErrors    int `json:"record_errors"`

	ResolvedExact int `json:"resolved_exact"`
	ResolvedFuzzy int `json:"resolved_fuzzy"`
	ResolvedLLM   int `json:"resolved_llm"`
	Unresolved    int `json:"unresolved"`

	SessionsAnalyzed int `json:"sessions_analyzed"`
	WorkItemsBuilt   int `json:"work_items_built"`
}

// ConsolidationService drives the full pipeline: ingest sources into
// sessions, link sessions to customers, analyze linked sessions and rebuild
// work items. Failures stay local to one record or phase; the summary
// reports them.
type ConsolidationService interface {
	// Ingest runs stage 1: cluster new source events into sessions and
	// merge them into the store.
	Ingest(ctx context.Context, summary *RunSummary) error
	// Link resolves unlinked sessions against the roster. Returns
	// apperrors.ErrRosterUnavailable when no roster can be obtained at all.
	Link(ctx context.Context, summary *RunSummary) error
	// Analyze generates titles and summaries for linked sessions.
	Analyze(ctx context.Context, summary *RunSummary) error
	// BuildWorkItems runs stage 2: rebuild the full work item set from
	// linked sessions.
	BuildWorkItems(ctx context.Context, summary *RunSummary) error
	// Run executes all phases in order and returns the combined summary.
	Run(ctx context.Context) (*RunSummary, error)
}

type consolidationService struct {
	readers     []ingest.Reader
	sessions    repositories.SessionRepository
	workItems   repositories.WorkItemRepository
	roster      RosterService
	merger      MergeService
	resolver    ResolverService
	analyzer    AnalyzerService
	itemBuilder WorkItemBuilder
	segmentGap  time.Duration
	logger      *zap.Logger
	now         func() time.Time
}

// NewConsolidationService creates the orchestrator. analyzer may be nil, in
// which case sessions stay Linked and work items are still built.
func NewConsolidationService(
	readers []ingest.Reader,
	sessions repositories.SessionRepository,
	workItems repositories.WorkItemRepository,
	roster RosterService,
	merger MergeService,
	resolver ResolverService,
	analyzer AnalyzerService,
	itemBuilder WorkItemBuilder,
	segmentGap time.Duration,
	logger *zap.Logger,
) ConsolidationService {
	return &consolidationService{
		readers:     readers,
		sessions:    sessions,
		workItems:   workItems,
		roster:      roster,
		merger:      merger,
		resolver:    resolver,
		analyzer:    analyzer,
		itemBuilder: itemBuilder,
		segmentGap:  segmentGap,
		logger:      logger.Named("consolidation"),
		now:         func() time.Time { return time.Now().UTC() },
	}
}

var _ ConsolidationService = (*consolidationService)(nil)

func (s *consolidationService) Run(ctx context.Context) (*RunSummary, error) {
	summary := &RunSummary{}

	if err := s.Ingest(ctx, summary); err != nil {
		return summary, err
	}

	// A missing roster aborts linking only; ingested sessions are already
	// persisted and everything else still runs.
	if err := s.Link(ctx, summary); err != nil {
		if !errors.Is(err, apperrors.ErrRosterUnavailable) {
			return summary, err
		}
		s.logger.Error("Skipping linking, no roster available", zap.Error(err))
	}

	if err := s.Analyze(ctx, summary); err != nil {
		return summary, err
	}
	if err := s.BuildWorkItems(ctx, summary); err != nil {
		return summary, err
	}

	s.logger.Info("Run complete",
		zap.Int("sessions_created", summary.SessionsCreated),
		zap.Int("sessions_updated", summary.SessionsUpdated),
		zap.Int("merge_conflicts", summary.MergeConflicts),
		zap.Int("skipped_segments", summary.SkippedSegments),
		zap.Int("resolved_exact", summary.ResolvedExact),
		zap.Int("resolved_fuzzy", summary.ResolvedFuzzy),
		zap.Int("resolved_llm", summary.ResolvedLLM),
		zap.Int("unresolved", summary.Unresolved),
		zap.Int("sessions_analyzed", summary.SessionsAnalyzed),
		zap.Int("work_items_built", summary.WorkItemsBuilt),
		zap.Int("record_errors", summary.RecordErrors))
	return summary, nil
}

// segmentIndex maps event dedup keys to the session currently holding them,
// so a re-ingested event is recognized even when it arrives under a new
// session identity.
type segmentIndex map[string]string

func (idx segmentIndex) record(session *models.Session) {
	for _, seg := range session.Segments {
		idx[seg.DedupKey()] = session.Meta.SessionID
	}
}

// staleOwners returns the IDs of persisted sessions, other than the
// candidate itself, that already hold any of the candidate's events.
func (idx segmentIndex) staleOwners(candidate *models.Session) []string {
	seen := make(map[string]bool)
	var ids []string
	for _, seg := range candidate.Segments {
		id, ok := idx[seg.DedupKey()]
		if !ok || id == candidate.Meta.SessionID || seen[id] {
			continue
		}
		seen[id] = true
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

func (s *consolidationService) Ingest(ctx context.Context, summary *RunSummary) error {
	index, err := s.buildSegmentIndex(ctx)
	if err != nil {
		return err
	}

	for _, reader := range s.readers {
		batches, err := reader.Read(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return err
			}
			// One broken source does not stop the others.
			s.logger.Error("Reader failed",
				zap.String("source", reader.Source()),
				zap.Error(err))
			summary.RecordErrors++
			continue
		}

		errorsBefore := summary.RecordErrors
		for _, batch := range batches {
			if err := ctx.Err(); err != nil {
				return err
			}
			s.ingestBatch(ctx, batch, index, summary)
		}

		// Ingest state only advances once every record of the source
		// persisted; failed records stay unrecorded and are re-read next
		// run.
		if summary.RecordErrors > errorsBefore {
			s.logger.Warn("Records failed, leaving ingest state unadvanced",
				zap.String("source", reader.Source()),
				zap.Int("failed", summary.RecordErrors-errorsBefore))
			continue
		}
		if err := reader.Commit(); err != nil {
			s.logger.Warn("Failed to commit ingest state",
				zap.String("source", reader.Source()),
				zap.Error(err))
		}
	}
	return nil
}

func (s *consolidationService) buildSegmentIndex(ctx context.Context) (segmentIndex, error) {
	sessions, err := s.sessions.ListAll(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list sessions for dedup index: %w", err)
	}
	index := make(segmentIndex)
	for _, session := range sessions {
		index.record(session)
	}
	return index, nil
}

func (s *consolidationService) ingestBatch(ctx context.Context, batch ingest.Batch, index segmentIndex, summary *RunSummary) {
	result := cluster.Group(batch.Segments, cluster.Options[models.Segment]{
		Gap:   s.segmentGap,
		Start: func(seg models.Segment) time.Time { return seg.StartTime },
		End:   func(seg models.Segment) time.Time { return seg.EndTime },
		Valid: models.Segment.HasValidTimes,
	})
	if n := len(result.Skipped); n > 0 {
		summary.SkippedSegments += n
		s.logger.Warn("Segments with invalid timestamps skipped",
			zap.String("source", batch.SourceSystem),
			zap.String("file", batch.SourceFile),
			zap.Int("count", n))
	}

	for _, group := range result.Clusters {
		candidate, err := BuildSession(group, SessionSeed{
			SourceSystem:      batch.SourceSystem,
			SourceIdentifiers: batch.Identifiers(group),
			CustomerNameGuess: batch.CustomerNameGuess,
			ContactNameGuess:  batch.ContactNameGuess,
			SourceTitle:       batch.SourceTitle,
		}, s.now())
		if err != nil {
			s.logger.Error("Failed to build session", zap.Error(err))
			summary.RecordErrors++
			continue
		}
		candidate.AppendLog("ingested from " + batch.SourceSystem)

		if err := s.upsertSession(ctx, candidate, index, summary); err != nil {
			s.logger.Error("Failed to persist session",
				zap.String("session_id", candidate.Meta.SessionID),
				zap.Error(err))
			summary.RecordErrors++
		}
	}
}

func (s *consolidationService) upsertSession(ctx context.Context, candidate *models.Session, index segmentIndex, summary *RunSummary) error {
	existing, err := s.sessions.Get(ctx, candidate.Meta.SessionID)
	if err != nil && !errors.Is(err, apperrors.ErrNotFound) {
		return err
	}

	// A regrown export changes the session's time window and with it the
	// deterministic ID. The events betray the old record: fold it into the
	// candidate and retire it, or the store double-counts the same work.
	superseded := false
	if existing == nil {
		for _, staleID := range index.staleOwners(candidate) {
			stale, err := s.sessions.Get(ctx, staleID)
			if errors.Is(err, apperrors.ErrNotFound) {
				continue
			}
			if err != nil {
				return err
			}

			merged, err := s.merger.Supersede(candidate, stale)
			if errors.Is(err, apperrors.ErrConflict) {
				s.logger.Warn("Supersede conflict, keeping both records",
					zap.String("session_id", candidate.Meta.SessionID),
					zap.String("stale_id", staleID),
					zap.Error(err))
				summary.MergeConflicts++
				continue
			}
			if err != nil {
				return err
			}

			candidate = merged
			if err := s.sessions.Delete(ctx, staleID); err != nil {
				return err
			}
			superseded = true
		}
	}

	merged, err := s.merger.Merge(candidate, existing)
	if err != nil {
		if errors.Is(err, apperrors.ErrConflict) {
			// The existing record stands; the candidate is discarded.
			s.logger.Warn("Merge conflict, keeping existing record",
				zap.String("session_id", candidate.Meta.SessionID),
				zap.Error(err))
			summary.MergeConflicts++
			return nil
		}
		return err
	}

	if err := s.sessions.Save(ctx, merged); err != nil {
		return err
	}
	index.record(merged)

	if existing == nil && !superseded {
		summary.SessionsCreated++
	} else {
		summary.SessionsUpdated++
	}
	return nil
}

func (s *consolidationService) Link(ctx context.Context, summary *RunSummary) error {
	roster, err := s.roster.EnsureFresh(ctx)
	if err != nil {
		return err
	}

	pending, err := s.linkableSessions(ctx)
	if err != nil {
		return err
	}
	if len(pending) == 0 {
		return nil
	}

	// Identical guesses within one run resolve once; hits and misses are
	// both cached.
	customerCache := make(map[string]models.MatchDecision)
	contactCache := make(map[string]models.MatchDecision)

	for _, session := range pending {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := s.linkSession(ctx, session, roster, customerCache, contactCache, summary); err != nil {
			s.logger.Error("Failed to link session",
				zap.String("session_id", session.Meta.SessionID),
				zap.Error(err))
			summary.RecordErrors++
		}
	}
	return nil
}

func (s *consolidationService) linkableSessions(ctx context.Context) ([]*models.Session, error) {
	pending, err := s.sessions.ListByStatus(ctx, models.StatusNeedsLinking)
	if err != nil {
		return nil, fmt.Errorf("failed to list sessions needing linking: %w", err)
	}
	// Errored sessions get another chance each run.
	failed, err := s.sessions.ListByStatus(ctx, models.StatusError)
	if err != nil {
		return nil, fmt.Errorf("failed to list errored sessions: %w", err)
	}
	return append(pending, failed...), nil
}

func (s *consolidationService) linkSession(
	ctx context.Context,
	session *models.Session,
	roster *models.Roster,
	customerCache, contactCache map[string]models.MatchDecision,
	summary *RunSummary,
) error {
	if session.Context.IsCustomerAuthoritative() {
		// Already linked, only the status needs repair.
		session.Meta.ProcessingStatus = models.StatusLinked
		return s.sessions.Save(ctx, session)
	}

	guess := session.Context.GuessedCustomerName()
	if guess == "" {
		session.Meta.ProcessingStatus = models.StatusError
		session.AppendLog("linking failed: no guessed customer name")
		if err := s.sessions.Save(ctx, session); err != nil {
			return err
		}
		return fmt.Errorf("session %s: %w", session.Meta.SessionID, apperrors.ErrNoGuessedName)
	}

	decision, cached := customerCache[guess]
	if !cached {
		decision = s.resolver.ResolveCustomer(ctx, guess, roster)
		customerCache[guess] = decision
	}

	switch decision.Status {
	case models.MatchResolved:
		customer := findCustomer(roster, decision.EntityID)
		session.Context.CustomerID = &decision.EntityID
		session.Context.CustomerName = decision.EntityName
		session.Meta.ProcessingStatus = models.StatusLinked
		session.AppendLog(fmt.Sprintf("linked to customer %d (%s match)", decision.EntityID, decision.Tier))
		s.countResolution(decision.Tier, summary)

		s.linkContact(ctx, session, customer, contactCache)

	case models.MatchUnresolved:
		// Stays in its current status for a later run or manual review.
		summary.Unresolved++
		s.logger.Info("Session unresolved",
			zap.String("session_id", session.Meta.SessionID),
			zap.String("guess", guess),
			zap.String("reason", string(decision.Reason)))
		return nil

	default:
		session.Meta.ProcessingStatus = models.StatusError
		session.AppendLog("linking failed: customer resolution errored")
		if err := s.sessions.Save(ctx, session); err != nil {
			return err
		}
		return fmt.Errorf("resolution errored for session %s", session.Meta.SessionID)
	}

	return s.sessions.Save(ctx, session)
}

// linkContact attaches a contact when the session carries a guess. Contact
// resolution is best effort; failures never block the customer link.
func (s *consolidationService) linkContact(ctx context.Context, session *models.Session, customer *models.Customer, cache map[string]models.MatchDecision) {
	guess := session.Context.ContactName
	if guess == "" || session.Context.ContactID != nil || customer == nil {
		return
	}

	key := fmt.Sprintf("%d/%s", customer.ID, guess)
	decision, cached := cache[key]
	if !cached {
		decision = s.resolver.ResolveContact(ctx, guess, customer)
		cache[key] = decision
	}
	if decision.Status == models.MatchResolved {
		session.Context.ContactID = &decision.EntityID
		session.Context.ContactName = decision.EntityName
	}
}

func (s *consolidationService) countResolution(tier models.MatchTier, summary *RunSummary) {
	switch tier {
	case models.TierExact:
		summary.ResolvedExact++
	case models.TierFuzzy:
		summary.ResolvedFuzzy++
	case models.TierLLM:
		summary.ResolvedLLM++
	}
}

func (s *consolidationService) Analyze(ctx context.Context, summary *RunSummary) error {
	if s.analyzer == nil {
		return nil
	}

	linked, err := s.sessions.ListByStatus(ctx, models.StatusLinked)
	if err != nil {
		return fmt.Errorf("failed to list linked sessions: %w", err)
	}

	for _, session := range linked {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := s.analyzer.Analyze(ctx, session); err != nil {
			s.logger.Warn("Analysis failed, session stays linked",
				zap.String("session_id", session.Meta.SessionID),
				zap.Error(err))
			summary.RecordErrors++
			continue
		}
		if err := s.sessions.Save(ctx, session); err != nil {
			s.logger.Error("Failed to save analyzed session",
				zap.String("session_id", session.Meta.SessionID),
				zap.Error(err))
			summary.RecordErrors++
			continue
		}
		summary.SessionsAnalyzed++
	}
	return nil
}

func (s *consolidationService) BuildWorkItems(ctx context.Context, summary *RunSummary) error {
	sessions, err := s.sessions.ListAll(ctx)
	if err != nil {
		return fmt.Errorf("failed to list sessions: %w", err)
	}

	items := s.itemBuilder.Build(sessions, s.now())
	if err := s.workItems.ReplaceAll(ctx, items); err != nil {
		return fmt.Errorf("failed to replace work items: %w", err)
	}
	summary.WorkItemsBuilt = len(items)
	return nil
}

func findCustomer(roster *models.Roster, id int) *models.Customer {
	for i := range roster.Customers {
		if roster.Customers[i].ID == id {
			return &roster.Customers[i]
		}
	}
	return nil
}
