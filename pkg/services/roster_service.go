package services

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/opsledger/worklog-engine/pkg/apperrors"
	"github.com/opsledger/worklog-engine/pkg/config"
	"github.com/opsledger/worklog-engine/pkg/models"
	"github.com/opsledger/worklog-engine/pkg/repositories"
)

// RosterFetcher pulls the authoritative customer and contact list from the
// PSA. Implemented by the syncro gateway.
type RosterFetcher interface {
	FetchRoster(ctx context.Context) (*models.Roster, error)
}

// RosterService manages the cached roster snapshot the linker resolves
// against. The cache policy decides when a run refreshes from the PSA and
// when it runs off the stored snapshot.
type RosterService interface {
	// EnsureFresh returns a roster suitable for this run, refreshing from
	// the PSA when the policy calls for it. A failed refresh falls back to
	// the stored snapshot; apperrors.ErrRosterUnavailable is returned only
	// when no snapshot exists either.
	EnsureFresh(ctx context.Context) (*models.Roster, error)
	// Refresh fetches and stores a new snapshot regardless of policy.
	Refresh(ctx context.Context) (*models.Roster, error)
}

type rosterService struct {
	cfg     config.RosterConfig
	fetcher RosterFetcher
	repo    repositories.RosterRepository
	logger  *zap.Logger
	now     func() time.Time
}

// NewRosterService creates a new RosterService.
func NewRosterService(cfg config.RosterConfig, fetcher RosterFetcher, repo repositories.RosterRepository, logger *zap.Logger) RosterService {
	return &rosterService{
		cfg:     cfg,
		fetcher: fetcher,
		repo:    repo,
		logger:  logger.Named("roster"),
		now:     func() time.Time { return time.Now().UTC() },
	}
}

var _ RosterService = (*rosterService)(nil)

func (s *rosterService) EnsureFresh(ctx context.Context) (*models.Roster, error) {
	cached, err := s.repo.Load(ctx)
	if err != nil && !errors.Is(err, apperrors.ErrNotFound) {
		return nil, fmt.Errorf("failed to load roster snapshot: %w", err)
	}

	if !s.shouldRefresh(cached) {
		if cached == nil || cached.IsEmpty() {
			return nil, fmt.Errorf("cache policy %q forbids refresh and no snapshot is stored: %w",
				s.cfg.CachePolicy, apperrors.ErrRosterUnavailable)
		}
		s.logger.Debug("Using cached roster",
			zap.Int("customers", len(cached.Customers)),
			zap.Duration("age", cached.Age(s.now())))
		return cached, nil
	}

	fresh, err := s.Refresh(ctx)
	if err != nil {
		if cached != nil && !cached.IsEmpty() {
			s.logger.Warn("Roster refresh failed, continuing with stale snapshot",
				zap.Duration("age", cached.Age(s.now())),
				zap.Error(err))
			return cached, nil
		}
		return nil, fmt.Errorf("roster refresh failed with no snapshot to fall back to: %w",
			errors.Join(err, apperrors.ErrRosterUnavailable))
	}
	return fresh, nil
}

func (s *rosterService) Refresh(ctx context.Context) (*models.Roster, error) {
	roster, err := s.fetcher.FetchRoster(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch roster: %w", err)
	}
	// An empty fetch means a broken export or credentials, not an MSP with
	// zero customers. Storing it would turn every resolve into an error.
	if roster.IsEmpty() {
		return nil, fmt.Errorf("fetched roster has no customers")
	}

	if err := s.repo.Save(ctx, roster); err != nil {
		return nil, fmt.Errorf("failed to store roster snapshot: %w", err)
	}
	s.logger.Info("Roster refreshed",
		zap.Int("customers", len(roster.Customers)))

	if s.cfg.ExportPath != "" {
		if err := s.exportYAML(roster); err != nil {
			// Export is a convenience copy; the run proceeds without it.
			s.logger.Warn("Roster export failed",
				zap.String("path", s.cfg.ExportPath),
				zap.Error(err))
		}
	}
	return roster, nil
}

func (s *rosterService) shouldRefresh(cached *models.Roster) bool {
	switch s.cfg.CachePolicy {
	case config.CachePolicyOnEachRun:
		return true
	case config.CachePolicyManualOnly:
		return false
	default:
		if cached == nil || cached.IsEmpty() {
			return true
		}
		return cached.Age(s.now()) > s.cfg.Expiry()
	}
}

func (s *rosterService) exportYAML(roster *models.Roster) error {
	doc, err := yaml.Marshal(roster)
	if err != nil {
		return fmt.Errorf("failed to encode roster: %w", err)
	}
	if err := os.WriteFile(s.cfg.ExportPath, doc, 0o644); err != nil {
		return fmt.Errorf("failed to write roster export: %w", err)
	}
	return nil
}
