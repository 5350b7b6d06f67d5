package prompts

import (
	"fmt"

	"github.com/soundprediction/anamnesis/pkg/types"
)

// AdjudicateFactMessages builds the conversation that decides whether a
// candidate fact restates an existing edge, contradicts it, or says
// something new. Called only when embedding similarity already crossed
// the dedupe threshold.
func AdjudicateFactMessages(candidateFact, existingFact string) []types.Message {
	sys := "You compare two factual statements about the same pair of entities.\n" +
		"Report is_duplicate=true when they state the same thing, even with different wording.\n" +
		"Report contradicts=true when the new statement supersedes the existing one (a state change, a correction, or a reversal). A fact can be neither.\n" +
		"When contradicts is true, give a one-sentence update_reason."

	user := fmt.Sprintf("<EXISTING_FACT>\n%s\n</EXISTING_FACT>\n<NEW_FACT>\n%s\n</NEW_FACT>",
		existingFact, candidateFact)

	return []types.Message{
		types.NewSystemMessage(sys),
		types.NewUserMessage(user),
	}
}
