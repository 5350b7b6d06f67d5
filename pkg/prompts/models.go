package prompts

import "github.com/soundprediction/anamnesis/pkg/nlp"

// ExtractedEntity is one entity the model found in an episode.
type ExtractedEntity struct {
	Name       string `json:"name"`
	EntityType string `json:"entity_type"`
}

// EntityExtractionResult is the structured response of entity extraction.
type EntityExtractionResult struct {
	Entities []ExtractedEntity `json:"entities"`
}

// ExtractedFact is one candidate relationship between two extracted
// entities. ValidAt/InvalidAt are RFC 3339 hints resolved against the
// episode reference time, or empty when the text gives no signal.
type ExtractedFact struct {
	SourceEntity string `json:"source_entity"`
	TargetEntity string `json:"target_entity"`
	RelationType string `json:"relation_type"`
	Fact         string `json:"fact"`
	ValidAt      string `json:"valid_at"`
	InvalidAt    string `json:"invalid_at"`
}

// FactExtractionResult is the structured response of fact extraction.
type FactExtractionResult struct {
	Facts []ExtractedFact `json:"facts"`
}

// FactAdjudication decides whether a candidate fact duplicates or
// contradicts an existing edge.
type FactAdjudication struct {
	IsDuplicate  bool   `json:"is_duplicate"`
	Contradicts  bool   `json:"contradicts"`
	UpdateReason string `json:"update_reason"`
}

// RecurrenceAssessment is the model's judgment on whether two incidents
// share a recurring failure pattern.
type RecurrenceAssessment struct {
	SimilarityScore  float64 `json:"similarity_score"`
	SimilarityReason string  `json:"similarity_reason"`
	CommonPattern    string  `json:"common_pattern"`
	IsRecurring      bool    `json:"is_recurring"`
}

// EntityExtractionSchema constrains entity extraction output. The
// entity_type enum is narrowed to the configured schema when present.
func EntityExtractionSchema(entityTypeNames []string) nlp.Schema {
	entityType := map[string]any{"type": "string"}
	if len(entityTypeNames) > 0 {
		values := make([]any, len(entityTypeNames))
		for i, name := range entityTypeNames {
			values[i] = name
		}
		entityType["enum"] = values
	}
	return nlp.Schema{
		Name:        "extracted_entities",
		Description: "Entities mentioned in the episode",
		Definition: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"entities": map[string]any{
					"type": "array",
					"items": map[string]any{
						"type": "object",
						"properties": map[string]any{
							"name":        map[string]any{"type": "string"},
							"entity_type": entityType,
						},
					},
				},
			},
		},
	}
}

// FactExtractionSchema constrains fact extraction output.
func FactExtractionSchema() nlp.Schema {
	return nlp.Schema{
		Name:        "extracted_facts",
		Description: "Relationships between extracted entities",
		Definition: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"facts": map[string]any{
					"type": "array",
					"items": map[string]any{
						"type": "object",
						"properties": map[string]any{
							"source_entity": map[string]any{"type": "string"},
							"target_entity": map[string]any{"type": "string"},
							"relation_type": map[string]any{"type": "string"},
							"fact":          map[string]any{"type": "string"},
							"valid_at":      map[string]any{"type": "string"},
							"invalid_at":    map[string]any{"type": "string"},
						},
					},
				},
			},
		},
	}
}

// FactAdjudicationSchema constrains duplicate-fact adjudication output.
func FactAdjudicationSchema() nlp.Schema {
	return nlp.Schema{
		Name:        "fact_adjudication",
		Description: "Whether a candidate fact duplicates or contradicts an existing one",
		Definition: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"is_duplicate":  map[string]any{"type": "boolean"},
				"contradicts":   map[string]any{"type": "boolean"},
				"update_reason": map[string]any{"type": "string"},
			},
		},
	}
}

// RecurrenceSchema constrains recurrence assessment output.
func RecurrenceSchema() nlp.Schema {
	return nlp.Schema{
		Name:        "recurrence_assessment",
		Description: "Whether two incidents share a recurring failure pattern",
		Definition: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"similarity_score":  map[string]any{"type": "number", "minimum": 0, "maximum": 1},
				"similarity_reason": map[string]any{"type": "string"},
				"common_pattern":    map[string]any{"type": "string"},
				"is_recurring":      map[string]any{"type": "boolean"},
			},
		},
	}
}
