// Package prompts builds the prompt strings sent to the completion model.
package prompts

import (
	"fmt"
	"strings"
)

// DisambiguationSystem instructs the model to act as a strict selector: it
// must answer with one candidate name verbatim, or "none". The resolver
// parses the reply by normalized equality against the candidate set, so any
// extra prose makes the reply unparseable and the record stays unresolved.
const DisambiguationSystem = "You match messy names from activity logs to an authoritative list. " +
	"Reply with exactly one name from the candidate list, copied verbatim, or the single word \"none\" " +
	"if no candidate is the same real-world entity. Do not explain."

// BuildDisambiguationPrompt creates the tier-3 arbitration prompt for an
// ambiguous fuzzy match.
func BuildDisambiguationPrompt(itemType, guessedName string, candidateNames []string) string {
	var prompt strings.Builder

	prompt.WriteString(fmt.Sprintf("A %s appeared in an activity log as: %q\n\n", itemType, guessedName))
	prompt.WriteString("Candidates:\n")
	for _, name := range candidateNames {
		prompt.WriteString(fmt.Sprintf("- %s\n", name))
	}
	prompt.WriteString("\nWhich candidate is this? Answer with the name verbatim, or \"none\".")

	return prompt.String()
}
