package services

import (
	"context"
	"sort"
	"time"

	"go.uber.org/zap"

	"github.com/opsledger/worklog-engine/pkg/llm"
	"github.com/opsledger/worklog-engine/pkg/models"
	"github.com/opsledger/worklog-engine/pkg/prompts"
)

const (
	// topKCandidates is how many fuzzy candidates are carried into
	// arbitration.
	topKCandidates = 5
	// viableScoreFloor is the minimum fuzzy score for a candidate to be
	// considered at all.
	viableScoreFloor = 60
)

// ResolverConfig holds the cascade thresholds.
type ResolverConfig struct {
	// FuzzyThreshold (0-100) is the minimum top score for fuzzy
	// auto-resolution.
	FuzzyThreshold int
	// FuzzyMargin is how far the top score must exceed the runner-up before
	// auto-resolving; near-ties go to the arbiter.
	FuzzyMargin int
	// ArbiterTimeout bounds the tier-3 completion call.
	ArbiterTimeout time.Duration
}

// ResolverService attaches authoritative roster entities to guessed names
// via a three-tier cascade: exact match, fuzzy match, LLM arbitration. It
// never mutates the roster or the record; callers apply the decision.
type ResolverService interface {
	ResolveCustomer(ctx context.Context, nameGuess string, roster *models.Roster) models.MatchDecision
	ResolveContact(ctx context.Context, nameGuess string, customer *models.Customer) models.MatchDecision
}

type resolverService struct {
	cfg     ResolverConfig
	arbiter llm.Client
	logger  *zap.Logger
}

// NewResolverService creates a new ResolverService. The arbiter client may
// be nil, in which case ambiguous fuzzy matches stay unresolved.
func NewResolverService(cfg ResolverConfig, arbiter llm.Client, logger *zap.Logger) ResolverService {
	return &resolverService{
		cfg:     cfg,
		arbiter: arbiter,
		logger:  logger.Named("resolver"),
	}
}

var _ ResolverService = (*resolverService)(nil)

func (s *resolverService) ResolveCustomer(ctx context.Context, nameGuess string, roster *models.Roster) models.MatchDecision {
	if roster.IsEmpty() {
		s.logger.Error("Customer resolution attempted with empty roster")
		return models.MatchDecision{Status: models.MatchError}
	}

	candidates := make([]models.MatchCandidate, 0, len(roster.Customers))
	for _, c := range roster.Customers {
		candidates = append(candidates, models.MatchCandidate{EntityID: c.ID, Name: c.BusinessName})
	}
	return s.resolve(ctx, nameGuess, candidates, "company")
}

func (s *resolverService) ResolveContact(ctx context.Context, nameGuess string, customer *models.Customer) models.MatchDecision {
	if customer == nil || len(customer.Contacts) == 0 {
		return models.MatchDecision{Status: models.MatchError}
	}

	candidates := make([]models.MatchCandidate, 0, len(customer.Contacts))
	for _, c := range customer.Contacts {
		candidates = append(candidates, models.MatchCandidate{EntityID: c.ID, Name: c.Name})
	}
	return s.resolve(ctx, nameGuess, candidates, "contact")
}

// resolve runs the cascade. Each tier is attempted only if the previous one
// did not produce a decision.
func (s *resolverService) resolve(ctx context.Context, nameGuess string, candidates []models.MatchCandidate, itemType string) models.MatchDecision {
	// Tier 1: case-insensitive, whitespace-normalized exact match. Exactly
	// one hit decides; zero or several fall through.
	guessNorm := normalizeName(nameGuess)
	var exact []models.MatchCandidate
	for _, c := range candidates {
		if normalizeName(c.Name) == guessNorm {
			exact = append(exact, c)
		}
	}
	if len(exact) == 1 {
		s.logger.Info("Exact match",
			zap.String("item_type", itemType),
			zap.String("guess", nameGuess),
			zap.String("winner", exact[0].Name))
		return models.MatchDecision{
			Status:     models.MatchResolved,
			EntityID:   exact[0].EntityID,
			EntityName: exact[0].Name,
			Tier:       models.TierExact,
		}
	}

	// Tier 2: fuzzy scoring, top-K candidates carried forward.
	viable := s.rankViable(nameGuess, candidates)
	if len(viable) == 0 {
		s.logger.Warn("No plausible candidates",
			zap.String("item_type", itemType),
			zap.String("guess", nameGuess))
		return models.MatchDecision{
			Status: models.MatchUnresolved,
			Reason: models.ReasonNoViableCandidate,
		}
	}

	best := viable[0]
	clearWinner := len(viable) == 1 ||
		best.Score-viable[1].Score > s.cfg.FuzzyMargin
	if best.Score >= s.cfg.FuzzyThreshold && clearWinner {
		s.logger.Info("Fuzzy match",
			zap.String("item_type", itemType),
			zap.String("guess", nameGuess),
			zap.String("winner", best.Name),
			zap.Int("score", best.Score))
		return models.MatchDecision{
			Status:     models.MatchResolved,
			EntityID:   best.EntityID,
			EntityName: best.Name,
			Tier:       models.TierFuzzy,
			Candidates: viable,
		}
	}

	// Tier 3: ambiguous; let the arbiter pick among the carried candidates.
	return s.arbitrate(ctx, nameGuess, viable, itemType)
}

// rankViable scores every candidate and returns the top-K at or above the
// viability floor, ranked by score descending. Ties rank alphabetically so
// output is deterministic across runs.
func (s *resolverService) rankViable(nameGuess string, candidates []models.MatchCandidate) []models.MatchCandidate {
	scored := make([]models.MatchCandidate, 0, len(candidates))
	for _, c := range candidates {
		c.Score = tokenSetRatio(nameGuess, c.Name)
		if c.Score >= viableScoreFloor {
			scored = append(scored, c)
		}
	}

	sort.SliceStable(scored, func(i, j int) bool {
		if scored[i].Score != scored[j].Score {
			return scored[i].Score > scored[j].Score
		}
		return scored[i].Name < scored[j].Name
	})

	if len(scored) > topKCandidates {
		scored = scored[:topKCandidates]
	}
	return scored
}

// arbitrate presents the ambiguous candidates to the completion model and
// accepts only a verbatim (post-normalization) candidate name back. Arbiter
// failure is reported distinctly from an "none" answer so callers can retry
// transient failures on a later run.
func (s *resolverService) arbitrate(ctx context.Context, nameGuess string, viable []models.MatchCandidate, itemType string) models.MatchDecision {
	decision := models.MatchDecision{
		Status:     models.MatchUnresolved,
		Candidates: viable,
	}

	if s.arbiter == nil {
		decision.Reason = models.ReasonAmbiguous
		return decision
	}

	names := make([]string, len(viable))
	for i, c := range viable {
		names[i] = c.Name
	}

	callCtx := ctx
	if s.cfg.ArbiterTimeout > 0 {
		var cancel context.CancelFunc
		callCtx, cancel = context.WithTimeout(ctx, s.cfg.ArbiterTimeout)
		defer cancel()
	}

	reply, err := s.arbiter.Complete(callCtx,
		prompts.DisambiguationSystem,
		prompts.BuildDisambiguationPrompt(itemType, nameGuess, names))
	if err != nil {
		s.logger.Warn("Arbiter call failed",
			zap.String("item_type", itemType),
			zap.String("guess", nameGuess),
			zap.Error(err))
		decision.Reason = models.ReasonArbiterFailed
		return decision
	}

	replyNorm := normalizeName(reply)
	if replyNorm == "none" {
		s.logger.Info("Arbiter found no match",
			zap.String("item_type", itemType),
			zap.String("guess", nameGuess))
		decision.Reason = models.ReasonArbiterSaidNone
		return decision
	}

	var winners []models.MatchCandidate
	for _, c := range viable {
		if normalizeName(c.Name) == replyNorm {
			winners = append(winners, c)
		}
	}
	if len(winners) != 1 {
		s.logger.Error("Arbiter reply did not match exactly one candidate",
			zap.String("item_type", itemType),
			zap.String("guess", nameGuess),
			zap.String("reply", reply),
			zap.Int("matches", len(winners)))
		decision.Reason = models.ReasonAmbiguous
		return decision
	}

	s.logger.Info("Arbiter match",
		zap.String("item_type", itemType),
		zap.String("guess", nameGuess),
		zap.String("winner", winners[0].Name))
	return models.MatchDecision{
		Status:     models.MatchResolved,
		EntityID:   winners[0].EntityID,
		EntityName: winners[0].Name,
		Tier:       models.TierLLM,
		Candidates: viable,
	}
}
