package prompts

import (
	"fmt"
	"strings"
	"time"

	"github.com/soundprediction/anamnesis/pkg/types"
)

// MaxPreviousEpisodes caps the prior-episode context included for
// coreference resolution.
const MaxPreviousEpisodes = 5

// ExtractEntitiesMessages builds the entity extraction conversation.
// Previous episodes from the same group give the model coreference
// context ("the service" resolving to an entity named earlier).
func ExtractEntitiesMessages(episodeContent string, source types.EpisodeSource, previousEpisodes []string, entityTypes []types.EntityTypeDef) []types.Message {
	var sys strings.Builder
	sys.WriteString("You extract the significant entities mentioned in operational text: services, components, infrastructure, alerts, people, and teams.\n")
	sys.WriteString("Only extract entities that are explicitly mentioned. Do not invent entities, and do not extract generic tooling unless it plays a role in the events described.\n")

	if len(entityTypes) > 0 {
		sys.WriteString("\nClassify each entity as one of these types:\n")
		for _, et := range entityTypes {
			fmt.Fprintf(&sys, "- %s: %s\n", et.Name, et.Description)
		}
	} else {
		sys.WriteString("\nClassify each entity with a short descriptive type such as Service, Component, Alert, or Person.\n")
	}

	var user strings.Builder
	writePreviousEpisodes(&user, previousEpisodes)
	fmt.Fprintf(&user, "<CURRENT_EPISODE source=%q>\n%s\n</CURRENT_EPISODE>\n", source, episodeContent)
	user.WriteString("\nExtract the entities from the current episode.")

	return []types.Message{
		types.NewSystemMessage(sys.String()),
		types.NewUserMessage(user.String()),
	}
}

// ExtractFactsMessages builds the fact extraction conversation. The
// model relates previously extracted entities with short declarative
// facts and may date them relative to the episode reference time.
func ExtractFactsMessages(episodeContent string, entityNames []string, referenceTime time.Time, previousEpisodes []string) []types.Message {
	var sys strings.Builder
	sys.WriteString("You extract factual relationships between known entities from operational text.\n")
	sys.WriteString("Each fact is a single declarative sentence naming both entities. Prefer facts that describe causality, state changes, deployments, or incident impact.\n")
	sys.WriteString("When the text states when a fact became true or stopped being true, resolve it against the reference time and report it as RFC 3339; otherwise leave the field empty.\n")

	var user strings.Builder
	writePreviousEpisodes(&user, previousEpisodes)
	fmt.Fprintf(&user, "<REFERENCE_TIME>%s</REFERENCE_TIME>\n", referenceTime.UTC().Format(time.RFC3339))
	fmt.Fprintf(&user, "<ENTITIES>\n%s\n</ENTITIES>\n", strings.Join(entityNames, "\n"))
	fmt.Fprintf(&user, "<CURRENT_EPISODE>\n%s\n</CURRENT_EPISODE>\n", episodeContent)
	user.WriteString("\nExtract the relationships between the listed entities.")

	return []types.Message{
		types.NewSystemMessage(sys.String()),
		types.NewUserMessage(user.String()),
	}
}

func writePreviousEpisodes(b *strings.Builder, previousEpisodes []string) {
	if len(previousEpisodes) == 0 {
		return
	}
	if len(previousEpisodes) > MaxPreviousEpisodes {
		previousEpisodes = previousEpisodes[len(previousEpisodes)-MaxPreviousEpisodes:]
	}
	b.WriteString("<PREVIOUS_EPISODES>\n")
	for _, episode := range previousEpisodes {
		b.WriteString(episode)
		b.WriteString("\n---\n")
	}
	b.WriteString("</PREVIOUS_EPISODES>\n")
}
