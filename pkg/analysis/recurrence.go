package analysis

import (
	"context"
	"fmt"

	"github.com/soundprediction/anamnesis/pkg/embedder"
	"github.com/soundprediction/anamnesis/pkg/prompts"
)

// DefaultRecurrenceThreshold gates the LLM confirmation step: only
// episode pairs whose root-cause embeddings are at least this similar
// are worth a model call.
const DefaultRecurrenceThreshold = 0.75

// RecurrencePattern is one confirmed recurring failure between two
// incidents.
type RecurrencePattern struct {
	EpisodeAUUID        string  `json:"episode_a_uuid"`
	EpisodeAName        string  `json:"episode_a_name"`
	EpisodeBUUID        string  `json:"episode_b_uuid"`
	EpisodeBName        string  `json:"episode_b_name"`
	EmbeddingSimilarity float64 `json:"embedding_similarity"`
	LLMScore            float64 `json:"llm_score,omitempty"`
	SimilarityReason    string  `json:"similarity_reason,omitempty"`
	CommonPattern       string  `json:"common_pattern,omitempty"`
	IntervalDays        float64 `json:"interval_days"`
}

// DetectRecurrence scans episode pairs with root-cause sections for
// recurring failures. threshold <= 0 uses the default; useLLM=false
// reports every pair above the embedding threshold without model
// confirmation.
func (a *Analyzer) DetectRecurrence(ctx context.Context, groupIDs []string, threshold float64, useLLM bool) ([]RecurrencePattern, error) {
	if threshold <= 0 {
		threshold = DefaultRecurrenceThreshold
	}

	timeline, err := a.Timeline(ctx, groupIDs, "")
	if err != nil {
		return nil, err
	}

	// Episodes without a root-cause section cannot be compared.
	type candidate struct {
		entry     TimelineEntry
		rootCause string
		vector    []float32
	}
	var candidates []candidate
	var texts []string
	episodes, err := a.store.EpisodesChronological(ctx, groupIDs, "")
	if err != nil {
		return nil, err
	}
	entryByUUID := make(map[string]TimelineEntry, len(timeline.Entries))
	for _, entry := range timeline.Entries {
		entryByUUID[entry.EpisodeUUID] = entry
	}
	for _, episode := range episodes {
		rootCause := RootCause(episode.Content)
		if rootCause == "" {
			continue
		}
		candidates = append(candidates, candidate{
			entry:     entryByUUID[episode.UUID],
			rootCause: rootCause,
		})
		texts = append(texts, rootCause)
	}
	if len(candidates) < 2 {
		return nil, nil
	}

	vectors, err := a.embedder.Embed(ctx, texts)
	if err != nil {
		return nil, fmt.Errorf("embed root causes: %w", err)
	}
	for i := range candidates {
		candidates[i].vector = vectors[i]
	}

	var patterns []RecurrencePattern
	for i := 0; i < len(candidates); i++ {
		for j := i + 1; j < len(candidates); j++ {
			first, second := candidates[i], candidates[j]
			similarity := embedder.Cosine(first.vector, second.vector)
			if similarity < threshold {
				continue
			}

			pattern := RecurrencePattern{
				EpisodeAUUID:        first.entry.EpisodeUUID,
				EpisodeAName:        first.entry.EpisodeName,
				EpisodeBUUID:        second.entry.EpisodeUUID,
				EpisodeBName:        second.entry.EpisodeName,
				EmbeddingSimilarity: similarity,
				IntervalDays:        second.entry.Date.Sub(first.entry.Date).Hours() / 24,
			}

			if useLLM {
				var verdict prompts.RecurrenceAssessment
				messages := prompts.RecurrenceMessages(
					prompts.IncidentSummary{Name: first.entry.EpisodeName, RootCause: first.rootCause, CausalityChains: first.entry.CausalityChains},
					prompts.IncidentSummary{Name: second.entry.EpisodeName, RootCause: second.rootCause, CausalityChains: second.entry.CausalityChains},
				)
				if _, err := a.llm.ChatStructured(ctx, messages, prompts.RecurrenceSchema(), &verdict); err != nil {
					a.logger.Warn("recurrence assessment failed",
						"episode_a", first.entry.EpisodeUUID,
						"episode_b", second.entry.EpisodeUUID,
						"error", err)
					continue
				}
				if !verdict.IsRecurring {
					continue
				}
				pattern.LLMScore = verdict.SimilarityScore
				pattern.SimilarityReason = verdict.SimilarityReason
				pattern.CommonPattern = verdict.CommonPattern
			}
			patterns = append(patterns, pattern)
		}
	}
	return patterns, nil
}
