package services

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/opsledger/worklog-engine/pkg/llm"
	"github.com/opsledger/worklog-engine/pkg/models"
)

func testResolverConfig() ResolverConfig {
	return ResolverConfig{
		FuzzyThreshold: 95,
		FuzzyMargin:    10,
		ArbiterTimeout: time.Second,
	}
}

func testRoster() *models.Roster {
	return &models.Roster{
		Customers: []models.Customer{
			{ID: 1, BusinessName: "Acme Corporation", Contacts: []models.Contact{
				{ID: 10, Name: "Jane Smith"},
				{ID: 11, Name: "John Smith"},
			}},
			{ID: 2, BusinessName: "Acme Corp Holdings"},
			{ID: 3, BusinessName: "Globex Industries"},
		},
		RefreshedAt: time.Now().UTC(),
	}
}

func TestResolveCustomer_ExactMatchShortCircuits(t *testing.T) {
	arbiter := &llm.MockClient{
		CompleteFunc: func(ctx context.Context, system, prompt string) (string, error) {
			t.Fatal("arbiter must not be called for an exact match")
			return "", nil
		},
	}
	svc := NewResolverService(testResolverConfig(), arbiter, zap.NewNop())

	decision := svc.ResolveCustomer(context.Background(), "  acme CORPORATION ", testRoster())

	assert.Equal(t, models.MatchResolved, decision.Status)
	assert.Equal(t, models.TierExact, decision.Tier)
	assert.Equal(t, 1, decision.EntityID)
	assert.Equal(t, "Acme Corporation", decision.EntityName)
}

func TestResolveCustomer_NearTieGoesToArbiter(t *testing.T) {
	// "Acme" is a token subset of both Acme entries so both score 100.
	// Neither may auto-resolve even though the top score clears the
	// threshold.
	arbiter := &llm.MockClient{
		CompleteFunc: func(ctx context.Context, system, prompt string) (string, error) {
			return "Acme Corporation", nil
		},
	}
	svc := NewResolverService(testResolverConfig(), arbiter, zap.NewNop())

	decision := svc.ResolveCustomer(context.Background(), "Acme", testRoster())

	assert.Equal(t, models.MatchResolved, decision.Status)
	assert.Equal(t, models.TierLLM, decision.Tier)
	assert.Equal(t, 1, decision.EntityID)
	assert.Equal(t, 1, arbiter.CompleteCalls)
	require.NotEmpty(t, decision.Candidates)
	assert.GreaterOrEqual(t, decision.Candidates[0].Score, 95)
}

func TestResolveCustomer_ClearFuzzyWinner(t *testing.T) {
	roster := &models.Roster{
		Customers: []models.Customer{
			{ID: 1, BusinessName: "Acme Corporation"},
			{ID: 3, BusinessName: "Globex Industries"},
		},
		RefreshedAt: time.Now().UTC(),
	}
	svc := NewResolverService(testResolverConfig(), nil, zap.NewNop())

	decision := svc.ResolveCustomer(context.Background(), "acme corporation inc", roster)

	assert.Equal(t, models.MatchResolved, decision.Status)
	assert.Equal(t, models.TierFuzzy, decision.Tier)
	assert.Equal(t, 1, decision.EntityID)
}

func TestResolveCustomer_ArbiterSaysNone(t *testing.T) {
	arbiter := &llm.MockClient{
		CompleteFunc: func(ctx context.Context, system, prompt string) (string, error) {
			return "none", nil
		},
	}
	svc := NewResolverService(testResolverConfig(), arbiter, zap.NewNop())

	decision := svc.ResolveCustomer(context.Background(), "Acme", testRoster())

	assert.Equal(t, models.MatchUnresolved, decision.Status)
	assert.Equal(t, models.ReasonArbiterSaidNone, decision.Reason)
	assert.Empty(t, decision.EntityName)
}

func TestResolveCustomer_ArbiterFailureIsDistinct(t *testing.T) {
	arbiter := &llm.MockClient{
		CompleteFunc: func(ctx context.Context, system, prompt string) (string, error) {
			return "", errors.New("connection refused")
		},
	}
	svc := NewResolverService(testResolverConfig(), arbiter, zap.NewNop())

	decision := svc.ResolveCustomer(context.Background(), "Acme", testRoster())

	assert.Equal(t, models.MatchUnresolved, decision.Status)
	assert.Equal(t, models.ReasonArbiterFailed, decision.Reason)
}

func TestResolveCustomer_ArbiterReplyNotACandidate(t *testing.T) {
	arbiter := &llm.MockClient{
		CompleteFunc: func(ctx context.Context, system, prompt string) (string, error) {
			return "Some Other Company", nil
		},
	}
	svc := NewResolverService(testResolverConfig(), arbiter, zap.NewNop())

	decision := svc.ResolveCustomer(context.Background(), "Acme", testRoster())

	assert.Equal(t, models.MatchUnresolved, decision.Status)
	assert.Equal(t, models.ReasonAmbiguous, decision.Reason)
}

func TestResolveCustomer_NoViableCandidates(t *testing.T) {
	svc := NewResolverService(testResolverConfig(), nil, zap.NewNop())

	decision := svc.ResolveCustomer(context.Background(), "Completely Unrelated Zebra Farm", testRoster())

	assert.Equal(t, models.MatchUnresolved, decision.Status)
	assert.Equal(t, models.ReasonNoViableCandidate, decision.Reason)
	assert.Empty(t, decision.Candidates)
}

func TestResolveCustomer_EmptyRosterIsError(t *testing.T) {
	svc := NewResolverService(testResolverConfig(), nil, zap.NewNop())

	decision := svc.ResolveCustomer(context.Background(), "Acme", &models.Roster{})

	assert.Equal(t, models.MatchError, decision.Status)
}

func TestResolveContact(t *testing.T) {
	roster := testRoster()

	svc := NewResolverService(testResolverConfig(), nil, zap.NewNop())

	t.Run("exact match within customer scope", func(t *testing.T) {
		decision := svc.ResolveContact(context.Background(), "jane smith", &roster.Customers[0])
		assert.Equal(t, models.MatchResolved, decision.Status)
		assert.Equal(t, models.TierExact, decision.Tier)
		assert.Equal(t, 10, decision.EntityID)
	})

	t.Run("customer without contacts is an error", func(t *testing.T) {
		decision := svc.ResolveContact(context.Background(), "Jane Smith", &roster.Customers[1])
		assert.Equal(t, models.MatchError, decision.Status)
	})

	t.Run("nil customer is an error", func(t *testing.T) {
		decision := svc.ResolveContact(context.Background(), "Jane Smith", nil)
		assert.Equal(t, models.MatchError, decision.Status)
	})
}

func TestResolve_NoArbiterConfigured(t *testing.T) {
	svc := NewResolverService(testResolverConfig(), nil, zap.NewNop())

	decision := svc.ResolveCustomer(context.Background(), "Acme", testRoster())

	assert.Equal(t, models.MatchUnresolved, decision.Status)
	assert.Equal(t, models.ReasonAmbiguous, decision.Reason)
	assert.NotEmpty(t, decision.Candidates)
}
