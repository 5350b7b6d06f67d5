package citations

import (
	"context"
	"fmt"
	"log/slog"
	"regexp"
	"sort"
	"time"

	"github.com/soundprediction/anamnesis/pkg/driver"
	"github.com/soundprediction/anamnesis/pkg/types"
)

// sourceURLPattern recovers a source URL embedded in a legacy
// source_description. New writes carry source_url as its own property;
// the regex stays for rows written before that.
var sourceURLPattern = regexp.MustCompile(`source_url:\s*(https?://\S+)`)

// resolverStore is the slice of the graph driver the resolver needs.
type resolverStore interface {
	driver.EpisodeStore
	driver.EntityStore
	driver.MentionStore
}

// Resolver turns episode references into citations and citation chains.
type Resolver struct {
	store  resolverStore
	logger *slog.Logger
}

// NewResolver builds a Resolver.
func NewResolver(store resolverStore, logger *slog.Logger) *Resolver {
	if logger == nil {
		logger = slog.Default()
	}
	return &Resolver{store: store, logger: logger}
}

// ForEdge resolves the edge's episodes[] into citations. Episodes that
// have since been deleted are skipped, not errors.
func (r *Resolver) ForEdge(ctx context.Context, edge *types.EntityEdge) ([]types.Citation, error) {
	episodes, err := r.store.GetEpisodes(ctx, edge.Episodes)
	if err != nil {
		return nil, fmt.Errorf("resolve citations for edge %s: %w", edge.UUID, err)
	}
	citations := make([]types.Citation, 0, len(episodes))
	for _, episode := range episodes {
		citations = append(citations, citationFromEpisode(episode))
	}
	sort.Slice(citations, func(i, j int) bool {
		return citations[i].CreatedAt.Before(citations[j].CreatedAt)
	})
	return citations, nil
}

// ForEntity resolves the episodes that mention the entity into citations.
func (r *Resolver) ForEntity(ctx context.Context, entityUUID string) ([]types.Citation, error) {
	episodes, err := r.store.EpisodesMentioning(ctx, entityUUID)
	if err != nil {
		return nil, fmt.Errorf("resolve citations for entity %s: %w", entityUUID, err)
	}
	citations := make([]types.Citation, 0, len(episodes))
	for _, episode := range episodes {
		citations = append(citations, citationFromEpisode(episode))
	}
	return citations, nil
}

// ChainForEdge reconstructs the provenance chain of a fact: its citing
// episodes in chronological order, each tagged with the operation the
// episode performed on the fact.
func (r *Resolver) ChainForEdge(ctx context.Context, edge *types.EntityEdge) ([]types.CitationChainEntry, error) {
	citations, err := r.ForEdge(ctx, edge)
	if err != nil {
		return nil, err
	}
	entries := make([]types.CitationChainEntry, 0, len(citations))
	for i, citation := range citations {
		entries = append(entries, types.CitationChainEntry{
			Citation:  citation,
			Operation: classifyOperation(i, citation, edge.CreatedAt, edge.UpdatedAt),
		})
	}
	return entries, nil
}

// ChainForEntity reconstructs the provenance chain of an entity from the
// episodes that mention it.
func (r *Resolver) ChainForEntity(ctx context.Context, entityUUID string) ([]types.CitationChainEntry, error) {
	entity, err := r.store.GetEntity(ctx, entityUUID)
	if err != nil {
		return nil, err
	}
	citations, err := r.ForEntity(ctx, entityUUID)
	if err != nil {
		return nil, err
	}
	entries := make([]types.CitationChainEntry, 0, len(citations))
	for i, citation := range citations {
		entries = append(entries, types.CitationChainEntry{
			Citation:  citation,
			Operation: classifyOperation(i, citation, entity.CreatedAt, entity.UpdatedAt),
		})
	}
	return entries, nil
}

func citationFromEpisode(episode *types.EpisodicNode) types.Citation {
	citation := types.Citation{
		EpisodeUUID:       episode.UUID,
		EpisodeName:       episode.Name,
		Source:            string(episode.Source),
		SourceDescription: episode.SourceDescription,
		SourceURL:         episode.SourceURL,
		CreatedAt:         episode.CreatedAt,
	}
	if citation.SourceURL == "" {
		if match := sourceURLPattern.FindStringSubmatch(episode.SourceDescription); match != nil {
			citation.SourceURL = match[1]
		}
	}
	return citation
}

// classifyOperation tags a citation by comparing the episode timestamp
// to the subject's lifecycle: the earliest citation created it, episodes
// at or after the last update updated it, everything between referenced
// it.
func classifyOperation(index int, citation types.Citation, createdAt time.Time, updatedAt *time.Time) types.CitationOperation {
	if index == 0 || !citation.CreatedAt.After(createdAt) {
		return types.CitationCreated
	}
	if updatedAt != nil && !citation.CreatedAt.Before(*updatedAt) {
		return types.CitationUpdated
	}
	return types.CitationReferenced
}
