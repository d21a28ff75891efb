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

func linkedForAnalysis(t *testing.T) *models.Session {
	t.Helper()
	session := baseSession(t)
	customerID := 7
	session.Context.CustomerID = &customerID
	session.Context.CustomerName = "Acme Corporation"
	session.Meta.ProcessingStatus = models.StatusLinked
	return session
}

func TestAnalyze_Success(t *testing.T) {
	client := &llm.MockClient{
		ModelName: "gpt-test",
		CompleteFunc: func(ctx context.Context, system, prompt string) (string, error) {
			assert.Contains(t, prompt, "Acme Corporation")
			return "Print spooler restart\n\nRestarted the print spooler on the customer workstation.", nil
		},
	}
	svc := NewAnalyzerService(client, time.Second, zap.NewNop())
	session := linkedForAnalysis(t)

	err := svc.Analyze(context.Background(), session)

	require.NoError(t, err)
	assert.Equal(t, models.StatusComplete, session.Meta.ProcessingStatus)
	assert.Equal(t, "Print spooler restart", session.Insights.LLMGeneratedTitle)
	assert.Equal(t,
		"Restarted the print spooler on the customer workstation.",
		session.Insights.GeneratedSummaries["gpt-test"])
	require.NotEmpty(t, session.Meta.ProcessingLog)
	assert.Contains(t, session.Meta.ProcessingLog[len(session.Meta.ProcessingLog)-1], "gpt-test")
}

func TestAnalyze_FailureLeavesSessionLinked(t *testing.T) {
	client := &llm.MockClient{
		CompleteFunc: func(ctx context.Context, system, prompt string) (string, error) {
			return "", errors.New("model overloaded")
		},
	}
	svc := NewAnalyzerService(client, time.Second, zap.NewNop())
	session := linkedForAnalysis(t)

	err := svc.Analyze(context.Background(), session)

	assert.Error(t, err)
	assert.Equal(t, models.StatusLinked, session.Meta.ProcessingStatus)
	assert.Empty(t, session.Insights.LLMGeneratedTitle)
}

func TestAnalyze_EmptyReplyIsAnError(t *testing.T) {
	client := &llm.MockClient{
		CompleteFunc: func(ctx context.Context, system, prompt string) (string, error) {
			return "   \n  ", nil
		},
	}
	svc := NewAnalyzerService(client, time.Second, zap.NewNop())
	session := linkedForAnalysis(t)

	err := svc.Analyze(context.Background(), session)

	assert.Error(t, err)
	assert.Equal(t, models.StatusLinked, session.Meta.ProcessingStatus)
}

func TestAnalyze_RefusesUnlinkedSessions(t *testing.T) {
	client := llm.NewMockClient()
	svc := NewAnalyzerService(client, time.Second, zap.NewNop())
	session := baseSession(t)

	err := svc.Analyze(context.Background(), session)

	assert.Error(t, err)
	assert.Zero(t, client.CompleteCalls)
}

func TestSplitTitleAndSummary(t *testing.T) {
	tests := []struct {
		name    string
		reply   string
		title   string
		summary string
	}{
		{
			name:    "title then body",
			reply:   "Server patching\nApplied updates.\nRebooted.",
			title:   "Server patching",
			summary: "Applied updates.\nRebooted.",
		},
		{
			name:    "quoted markdown title",
			reply:   `**"Server patching"**` + "\n\nApplied updates.",
			title:   "Server patching",
			summary: "Applied updates.",
		},
		{
			name:    "single line doubles as summary",
			reply:   "Server patching",
			title:   "Server patching",
			summary: "Server patching",
		},
		{
			name:    "empty",
			reply:   "",
			title:   "",
			summary: "",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			title, summary := splitTitleAndSummary(tt.reply)
			assert.Equal(t, tt.title, title)
			assert.Equal(t, tt.summary, summary)
		})
	}
}
