package analysis

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/soundprediction/anamnesis/pkg/driver"
	"github.com/soundprediction/anamnesis/pkg/embedder"
	"github.com/soundprediction/anamnesis/pkg/nlp"
)

// analysisStore is the slice of the graph driver analytics reads from.
type analysisStore interface {
	driver.EpisodeStore
	driver.MentionStore
}

// TimelineEntry is one episode's causality view.
type TimelineEntry struct {
	Date            time.Time `json:"date"`
	EpisodeUUID     string    `json:"episode_uuid"`
	EpisodeName     string    `json:"episode_name"`
	CauseCategory   string    `json:"cause_category"`
	CausalityChains []string  `json:"causality_chains"`
	Components      []string  `json:"components"`
}

// ComponentAggregate summarizes one component across the timeline.
type ComponentAggregate struct {
	Occurrences   int       `json:"occurrences"`
	FirstIncident time.Time `json:"first_incident"`
	LastIncident  time.Time `json:"last_incident"`
	Incidents     []string  `json:"incidents"`
}

// TimelineResult is the full causality timeline for a namespace.
type TimelineResult struct {
	Entries    []TimelineEntry                `json:"entries"`
	Components map[string]*ComponentAggregate `json:"components"`
}

// Analyzer runs the analytics queries.
type Analyzer struct {
	store        analysisStore
	embedder     embedder.Client
	llm          nlp.Client
	toolEntities map[string]struct{}
	logger       *slog.Logger
}

// NewAnalyzer builds an Analyzer. toolEntities overrides the component
// blocklist; nil keeps DefaultToolEntities.
func NewAnalyzer(store analysisStore, embedderClient embedder.Client, llm nlp.Client, toolEntities []string, logger *slog.Logger) *Analyzer {
	if toolEntities == nil {
		toolEntities = DefaultToolEntities
	}
	if logger == nil {
		logger = slog.Default()
	}
	blocked := make(map[string]struct{}, len(toolEntities))
	for _, name := range toolEntities {
		blocked[strings.ToLower(name)] = struct{}{}
	}
	return &Analyzer{
		store:        store,
		embedder:     embedderClient,
		llm:          llm,
		toolEntities: blocked,
		logger:       logger,
	}
}

// Timeline builds the chronological causality timeline. component, when
// non-empty, restricts the scan to episodes mentioning that entity.
func (a *Analyzer) Timeline(ctx context.Context, groupIDs []string, component string) (*TimelineResult, error) {
	episodes, err := a.store.EpisodesChronological(ctx, groupIDs, component)
	if err != nil {
		return nil, err
	}

	result := &TimelineResult{
		Entries:    make([]TimelineEntry, 0, len(episodes)),
		Components: map[string]*ComponentAggregate{},
	}
	keywords := CausalityKeywords()

	for _, episode := range episodes {
		relations, err := a.store.CausalRelationsForEpisode(ctx, episode.UUID, keywords)
		if err != nil {
			return nil, fmt.Errorf("causal relations for %s: %w", episode.UUID, err)
		}

		entry := TimelineEntry{
			Date:          episode.ValidAt,
			EpisodeUUID:   episode.UUID,
			EpisodeName:   episode.Name,
			CauseCategory: CauseCategory(episode.Content),
		}
		componentSet := map[string]struct{}{}
		for _, relation := range relations {
			entry.CausalityChains = append(entry.CausalityChains, formatChain(relation))
			for _, endpoint := range []string{relation.FromEntity, relation.ToEntity} {
				if a.isToolEntity(endpoint) {
					continue
				}
				componentSet[endpoint] = struct{}{}
			}
		}
		entry.Components = sortedKeys(componentSet)
		result.Entries = append(result.Entries, entry)

		for _, name := range entry.Components {
			agg, ok := result.Components[name]
			if !ok {
				agg = &ComponentAggregate{FirstIncident: entry.Date}
				result.Components[name] = agg
			}
			agg.Occurrences++
			agg.LastIncident = entry.Date
			agg.Incidents = append(agg.Incidents, episode.UUID)
		}
	}
	return result, nil
}

func (a *Analyzer) isToolEntity(name string) bool {
	_, blocked := a.toolEntities[strings.ToLower(name)]
	return blocked
}

func formatChain(relation driver.CausalRelation) string {
	return fmt.Sprintf("%s -> %s -> %s", relation.FromEntity, relation.Relationship, relation.ToEntity)
}

func sortedKeys(set map[string]struct{}) []string {
	keys := make([]string, 0, len(set))
	for key := range set {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys
}
