package prompts

import (
	"fmt"
	"strings"

	"github.com/soundprediction/anamnesis/pkg/types"
)

// IncidentSummary is the slice of an incident handed to the recurrence
// prompt: its name, the root-cause text, and the causality chains the
// timeline analysis produced.
type IncidentSummary struct {
	Name            string
	RootCause       string
	CausalityChains []string
}

// RecurrenceMessages builds the conversation that judges whether two
// incidents share a recurring failure pattern. Called only after their
// root-cause embeddings already crossed the similarity threshold.
func RecurrenceMessages(a, b IncidentSummary) []types.Message {
	sys := "You compare two production incidents and judge whether they represent the same recurring failure pattern.\n" +
		"Base your judgment on the root causes and causality chains, not on superficial naming.\n" +
		"Report similarity_score in [0,1], a one-sentence similarity_reason, the common_pattern if any, and is_recurring."

	var user strings.Builder
	writeIncident(&user, "INCIDENT_A", a)
	writeIncident(&user, "INCIDENT_B", b)
	return []types.Message{
		types.NewSystemMessage(sys),
		types.NewUserMessage(user.String()),
	}
}

func writeIncident(b *strings.Builder, tag string, incident IncidentSummary) {
	fmt.Fprintf(b, "<%s name=%q>\n", tag, incident.Name)
	fmt.Fprintf(b, "Root cause:\n%s\n", incident.RootCause)
	if len(incident.CausalityChains) > 0 {
		b.WriteString("Causality chains:\n")
		for _, chain := range incident.CausalityChains {
			fmt.Fprintf(b, "- %s\n", chain)
		}
	}
	fmt.Fprintf(b, "</%s>\n", tag)
}
