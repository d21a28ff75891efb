package services

import (
	"sort"
	"strconv"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/opsledger/worklog-engine/pkg/cluster"
	"github.com/opsledger/worklog-engine/pkg/models"
)

// WorkItemBuilder regenerates work items from linked sessions. Work items
// are derived records with no human-owned state, so every run rebuilds the
// full set from scratch.
type WorkItemBuilder interface {
	// Build clusters the eligible sessions per customer by time proximity
	// and returns one work item per cluster. Sessions without an
	// authoritative customer are ignored.
	Build(sessions []*models.Session, now time.Time) []*models.WorkItem
}

type workItemBuilder struct {
	gap    time.Duration
	logger *zap.Logger
}

// NewWorkItemBuilder creates a new WorkItemBuilder. gap is the maximum idle
// time between sessions of the same customer before a new work item starts.
func NewWorkItemBuilder(gap time.Duration, logger *zap.Logger) WorkItemBuilder {
	return &workItemBuilder{
		gap:    gap,
		logger: logger.Named("workitems"),
	}
}

var _ WorkItemBuilder = (*workItemBuilder)(nil)

func (b *workItemBuilder) Build(sessions []*models.Session, now time.Time) []*models.WorkItem {
	eligible := make([]*models.Session, 0, len(sessions))
	for _, s := range sessions {
		if isWorkItemEligible(s) {
			eligible = append(eligible, s)
		}
	}

	result := cluster.Group(eligible, cluster.Options[*models.Session]{
		Gap:   b.gap,
		Start: func(s *models.Session) time.Time { return s.Insights.StartTime },
		End:   func(s *models.Session) time.Time { return s.Insights.EndTime },
		Key:   customerKey,
		Valid: func(s *models.Session) bool { return !s.Insights.StartTime.IsZero() },
	})
	if len(result.Skipped) > 0 {
		b.logger.Warn("Sessions without a time window excluded from work items",
			zap.Int("count", len(result.Skipped)))
	}

	items := make([]*models.WorkItem, 0, len(result.Clusters))
	for _, group := range result.Clusters {
		items = append(items, buildWorkItem(group, now))
	}

	b.logger.Info("Rebuilt work items",
		zap.Int("sessions", len(eligible)),
		zap.Int("work_items", len(items)))
	return items
}

// isWorkItemEligible keeps sessions that are linked to a customer and have
// progressed past linking.
func isWorkItemEligible(s *models.Session) bool {
	if !s.Context.IsCustomerAuthoritative() {
		return false
	}
	switch s.Meta.ProcessingStatus {
	case models.StatusLinked, models.StatusComplete, models.StatusReviewed:
		return true
	default:
		return false
	}
}

func buildWorkItem(group []*models.Session, now time.Time) *models.WorkItem {
	item := &models.WorkItem{
		WorkItemID:  uuid.NewString(),
		CustomerID:  group[0].Context.CustomerID,
		StartTime:   group[0].Insights.StartTime,
		EndTime:     group[0].Insights.EndTime,
		GeneratedAt: now,
	}

	linkSeen := make(map[string]bool)
	for _, s := range group {
		item.ComponentSessionIDs = append(item.ComponentSessionIDs, s.Meta.SessionID)
		// The total is worked time, not wall-clock span: gaps between
		// component sessions do not count.
		item.TotalDurationMinutes += s.Insights.DurationMinutes
		if s.Insights.StartTime.Before(item.StartTime) {
			item.StartTime = s.Insights.StartTime
		}
		if s.Insights.EndTime.After(item.EndTime) {
			item.EndTime = s.Insights.EndTime
		}
		for _, link := range s.Context.Links {
			if !linkSeen[link] {
				linkSeen[link] = true
				item.CalculatedLinks = append(item.CalculatedLinks, link)
			}
		}
	}
	sort.Strings(item.CalculatedLinks)
	return item
}

func customerKey(s *models.Session) string {
	if s.Context.CustomerID == nil {
		return ""
	}
	return "customer:" + strconv.Itoa(*s.Context.CustomerID)
}
