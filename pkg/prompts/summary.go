package prompts

import (
	"fmt"
	"strings"

	"github.com/opsledger/worklog-engine/pkg/models"
)

// SummarySystem instructs the model to write terse invoice-ready summaries.
const SummarySystem = "You summarize technician activity records for invoicing. " +
	"Write in plain factual prose. Never invent activity that is not in the record."

// maxSegmentsInPrompt caps how much raw content one summary prompt carries.
const maxSegmentsInPrompt = 40

// BuildSessionSummaryPrompt creates the analyzer prompt for one session.
// The first line of the reply is used as the generated title, the rest as
// the summary body.
func BuildSessionSummaryPrompt(session *models.Session) string {
	var prompt strings.Builder

	prompt.WriteString(fmt.Sprintf("Source system: %s\n", session.Meta.SourceSystem))
	if session.Context.CustomerName != "" {
		prompt.WriteString(fmt.Sprintf("Customer: %s\n", session.Context.CustomerName))
	}
	if session.Insights.SourceTitle != "" {
		prompt.WriteString(fmt.Sprintf("Source title: %s\n", session.Insights.SourceTitle))
	}
	prompt.WriteString(fmt.Sprintf("Duration: %d minutes\n\nActivity:\n", session.Insights.DurationMinutes))

	for i, seg := range session.Segments {
		if i >= maxSegmentsInPrompt {
			prompt.WriteString(fmt.Sprintf("... and %d more events\n", len(session.Segments)-i))
			break
		}
		line := fmt.Sprintf("[%s] %s", seg.StartTime.Format("15:04"), seg.Type)
		if seg.Author != "" {
			line += " by " + seg.Author
		}
		if seg.Content != "" {
			line += ": " + seg.Content
		}
		prompt.WriteString(line + "\n")
	}

	prompt.WriteString("\nWrite a short title on the first line, then a 2-4 sentence summary of the work performed.")
	return prompt.String()
}
