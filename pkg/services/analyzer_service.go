package services

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/opsledger/worklog-engine/pkg/llm"
	"github.com/opsledger/worklog-engine/pkg/models"
	"github.com/opsledger/worklog-engine/pkg/prompts"
)

// AnalyzerService generates a title and summary for linked sessions. It
// mutates the given session in place: on success the status advances to
// Complete, on failure the session stays Linked so the next run retries.
type AnalyzerService interface {
	Analyze(ctx context.Context, session *models.Session) error
}

type analyzerService struct {
	client  llm.Client
	timeout time.Duration
	logger  *zap.Logger
}

// NewAnalyzerService creates a new AnalyzerService.
func NewAnalyzerService(client llm.Client, timeout time.Duration, logger *zap.Logger) AnalyzerService {
	return &analyzerService{
		client:  client,
		timeout: timeout,
		logger:  logger.Named("analyzer"),
	}
}

var _ AnalyzerService = (*analyzerService)(nil)

func (s *analyzerService) Analyze(ctx context.Context, session *models.Session) error {
	if session.Meta.ProcessingStatus != models.StatusLinked {
		return fmt.Errorf("session %s is %q, only linked sessions are analyzed",
			session.Meta.SessionID, session.Meta.ProcessingStatus)
	}

	callCtx := ctx
	if s.timeout > 0 {
		var cancel context.CancelFunc
		callCtx, cancel = context.WithTimeout(ctx, s.timeout)
		defer cancel()
	}

	// On failure the session stays Linked so the next run retries it.
	reply, err := s.client.Complete(callCtx,
		prompts.SummarySystem,
		prompts.BuildSessionSummaryPrompt(session))
	if err != nil {
		return fmt.Errorf("failed to analyze session %s: %w", session.Meta.SessionID, err)
	}

	title, summary := splitTitleAndSummary(reply)
	if title == "" {
		return fmt.Errorf("empty analysis reply for session %s", session.Meta.SessionID)
	}

	session.Insights.LLMGeneratedTitle = title
	if session.Insights.GeneratedSummaries == nil {
		session.Insights.GeneratedSummaries = make(map[string]string)
	}
	session.Insights.GeneratedSummaries[s.client.Model()] = summary
	session.Meta.ProcessingStatus = models.StatusComplete
	session.AppendLog(fmt.Sprintf("summarized by %s", s.client.Model()))

	s.logger.Debug("Session analyzed",
		zap.String("session_id", session.Meta.SessionID),
		zap.String("title", title))
	return nil
}

// splitTitleAndSummary treats the first non-empty line as the title and the
// remainder as the summary. Models sometimes wrap the title in quotes or
// markdown emphasis; both are stripped.
func splitTitleAndSummary(reply string) (string, string) {
	lines := strings.Split(strings.TrimSpace(reply), "\n")
	title := ""
	rest := 0
	for i, line := range lines {
		if trimmed := strings.TrimSpace(line); trimmed != "" {
			title = strings.Trim(trimmed, `"*# `)
			rest = i + 1
			break
		}
	}
	summary := strings.TrimSpace(strings.Join(lines[rest:], "\n"))
	if summary == "" {
		summary = title
	}
	return title, summary
}
