package prompts

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/soundprediction/anamnesis/pkg/types"
)

func TestExtractEntitiesMessages(t *testing.T) {
	entityTypes := []types.EntityTypeDef{
		{Name: "Service", Description: "A deployed service"},
		{Name: "Alert", Description: "A monitoring alert"},
	}
	messages := ExtractEntitiesMessages("checkout-service threw 500s", types.SourceText,
		[]string{"earlier episode"}, entityTypes)

	require.Len(t, messages, 2)
	assert.Equal(t, types.RoleSystem, messages[0].Role)
	assert.Contains(t, messages[0].Content, "Service: A deployed service")
	assert.Contains(t, messages[1].Content, "checkout-service threw 500s")
	assert.Contains(t, messages[1].Content, "earlier episode")
}

func TestExtractEntitiesMessagesCapsPreviousEpisodes(t *testing.T) {
	previous := []string{"one", "two", "three", "four", "five", "six", "seven"}
	messages := ExtractEntitiesMessages("content", types.SourceText, previous, nil)

	user := messages[1].Content
	assert.NotContains(t, user, "one")
	assert.NotContains(t, user, "two")
	assert.Contains(t, user, "three")
	assert.Contains(t, user, "seven")
}

func TestExtractFactsMessages(t *testing.T) {
	ref := time.Date(2026, 2, 1, 12, 0, 0, 0, time.UTC)
	messages := ExtractFactsMessages("deploy 4122 caused the outage",
		[]string{"deploy 4122", "checkout-service"}, ref, nil)

	require.Len(t, messages, 2)
	assert.Contains(t, messages[1].Content, "2026-02-01T12:00:00Z")
	assert.Contains(t, messages[1].Content, "checkout-service")
}

func TestEntityExtractionSchemaEnum(t *testing.T) {
	schema := EntityExtractionSchema([]string{"Service", "Alert"})
	items := schema.Definition["properties"].(map[string]any)["entities"].(map[string]any)["items"].(map[string]any)
	entityType := items["properties"].(map[string]any)["entity_type"].(map[string]any)
	assert.Equal(t, []any{"Service", "Alert"}, entityType["enum"])

	open := EntityExtractionSchema(nil)
	items = open.Definition["properties"].(map[string]any)["entities"].(map[string]any)["items"].(map[string]any)
	entityType = items["properties"].(map[string]any)["entity_type"].(map[string]any)
	_, hasEnum := entityType["enum"]
	assert.False(t, hasEnum)
}

func TestAdjudicateFactMessages(t *testing.T) {
	messages := AdjudicateFactMessages("new fact", "old fact")
	require.Len(t, messages, 2)
	assert.Contains(t, messages[1].Content, "<EXISTING_FACT>\nold fact")
	assert.Contains(t, messages[1].Content, "<NEW_FACT>\nnew fact")
}

func TestRecurrenceMessages(t *testing.T) {
	messages := RecurrenceMessages(
		IncidentSummary{Name: "incident-a", RootCause: "connection pool exhausted", CausalityChains: []string{"deploy -> caused -> outage"}},
		IncidentSummary{Name: "incident-b", RootCause: "pool exhaustion under load"},
	)
	require.Len(t, messages, 2)
	assert.Contains(t, messages[1].Content, `<INCIDENT_A name="incident-a">`)
	assert.Contains(t, messages[1].Content, "connection pool exhausted")
	assert.Contains(t, messages[1].Content, "deploy -> caused -> outage")
	assert.Contains(t, messages[1].Content, `<INCIDENT_B name="incident-b">`)
}
