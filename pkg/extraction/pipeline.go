package extraction

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/soundprediction/anamnesis/pkg/driver"
	"github.com/soundprediction/anamnesis/pkg/embedder"
	"github.com/soundprediction/anamnesis/pkg/nlp"
	"github.com/soundprediction/anamnesis/pkg/prompts"
	"github.com/soundprediction/anamnesis/pkg/types"
)

// Similarity thresholds for deduplication against the existing graph.
// Entities match aggressively on name embeddings; facts get a cheaper
// embedding gate before the LLM adjudicates.
const (
	EntityDedupeThreshold = 0.8
	FactDedupeThreshold   = 0.7
)

// pipelineStore is the slice of the graph driver the pipeline needs.
type pipelineStore interface {
	driver.EpisodeStore
	driver.EntityStore
	driver.EdgeStore
	driver.MentionStore
}

// Result summarizes the graph effects of processing one episode.
type Result struct {
	EpisodeUUID      string `json:"episode_uuid"`
	AlreadyProcessed bool   `json:"already_processed"`
	EntitiesCreated  int    `json:"entities_created"`
	EntitiesMatched  int    `json:"entities_matched"`
	EdgesCreated     int    `json:"edges_created"`
	EdgesCited       int    `json:"edges_cited"`
	EdgesSuperseded  int    `json:"edges_superseded"`
}

// Pipeline extracts graph structure from episodes.
type Pipeline struct {
	store       pipelineStore
	llm         nlp.Client
	embedder    embedder.Client
	entityTypes []types.EntityTypeDef
	logger      *slog.Logger
	now         func() time.Time
}

// NewPipeline builds a Pipeline. entityTypes constrains the extraction
// schema when non-empty.
func NewPipeline(store pipelineStore, llm nlp.Client, embedderClient embedder.Client, entityTypes []types.EntityTypeDef, logger *slog.Logger) *Pipeline {
	if logger == nil {
		logger = slog.Default()
	}
	return &Pipeline{
		store:       store,
		llm:         llm,
		embedder:    embedderClient,
		entityTypes: entityTypes,
		logger:      logger,
		now:         func() time.Time { return time.Now().UTC() },
	}
}

// Process ingests one episode submission. Submissions carrying a uuid
// that already exists are acknowledged without reprocessing, which makes
// retries idempotent.
func (p *Pipeline) Process(ctx context.Context, sub types.EpisodeSubmission) (*Result, error) {
	if err := sub.Validate(); err != nil {
		return nil, err
	}

	episodeUUID := sub.UUID
	if episodeUUID == "" {
		episodeUUID = uuid.New().String()
	} else if _, err := p.store.GetEpisode(ctx, episodeUUID); err == nil {
		return &Result{EpisodeUUID: episodeUUID, AlreadyProcessed: true}, nil
	} else if !errors.Is(err, driver.ErrNotFound) {
		return nil, err
	}

	now := p.now()
	validAt := now
	if sub.ValidAt != nil {
		validAt = sub.ValidAt.UTC()
	}

	previous, err := p.previousEpisodeContext(ctx, sub.GroupID)
	if err != nil {
		return nil, err
	}

	episode := &types.EpisodicNode{
		UUID:              episodeUUID,
		Name:              sub.Name,
		Content:           sub.Content,
		GroupID:           sub.GroupID,
		Source:            sub.Source,
		SourceDescription: sub.SourceDescription,
		SourceURL:         sub.SourceURL,
		CreatedAt:         now,
		ValidAt:           validAt,
	}
	if err := p.store.SaveEpisode(ctx, episode); err != nil {
		return nil, err
	}

	result := &Result{EpisodeUUID: episodeUUID}

	entities, err := p.resolveEntities(ctx, episode, previous, result)
	if err != nil {
		return nil, err
	}
	if len(entities) < 2 {
		// Facts need two endpoints.
		return result, nil
	}

	if err := p.resolveFacts(ctx, episode, entities, previous, result); err != nil {
		return nil, err
	}

	p.logger.Info("episode processed",
		"episode_uuid", episodeUUID,
		"group_id", sub.GroupID,
		"entities_created", result.EntitiesCreated,
		"entities_matched", result.EntitiesMatched,
		"edges_created", result.EdgesCreated,
		"edges_cited", result.EdgesCited,
		"edges_superseded", result.EdgesSuperseded)
	return result, nil
}

// previousEpisodeContext fetches recent episodes from the group for
// coreference context, oldest first.
func (p *Pipeline) previousEpisodeContext(ctx context.Context, groupID string) ([]string, error) {
	episodes, err := p.store.EpisodesByGroup(ctx, []string{groupID}, prompts.MaxPreviousEpisodes)
	if err != nil {
		return nil, err
	}
	// EpisodesByGroup is newest-first; the prompt wants chronology.
	lines := make([]string, 0, len(episodes))
	for i := len(episodes) - 1; i >= 0; i-- {
		lines = append(lines, episodes[i].Name+": "+episodes[i].Content)
	}
	return lines, nil
}

// resolveEntities extracts entities, dedupes them against the group by
// name-embedding similarity, and records MENTIONS links. Returns the
// resolved entity per lowercased extracted name.
func (p *Pipeline) resolveEntities(ctx context.Context, episode *types.EpisodicNode, previous []string, result *Result) (map[string]*types.EntityNode, error) {
	typeNames := make([]string, len(p.entityTypes))
	for i, et := range p.entityTypes {
		typeNames[i] = et.Name
	}

	var extracted prompts.EntityExtractionResult
	messages := prompts.ExtractEntitiesMessages(episode.Content, episode.Source, previous, p.entityTypes)
	if _, err := p.llm.ChatStructured(ctx, messages, prompts.EntityExtractionSchema(typeNames), &extracted); err != nil {
		return nil, fmt.Errorf("extract entities: %w", err)
	}

	// In-episode dedupe first: the model sometimes repeats a name.
	unique := make([]prompts.ExtractedEntity, 0, len(extracted.Entities))
	seen := make(map[string]struct{}, len(extracted.Entities))
	for _, entity := range extracted.Entities {
		name := strings.TrimSpace(entity.Name)
		if name == "" {
			continue
		}
		key := strings.ToLower(name)
		if _, dup := seen[key]; dup {
			continue
		}
		seen[key] = struct{}{}
		entity.Name = name
		unique = append(unique, entity)
	}
	if len(unique) == 0 {
		return map[string]*types.EntityNode{}, nil
	}

	names := make([]string, len(unique))
	for i, entity := range unique {
		names[i] = entity.Name
	}
	vectors, err := p.embedder.Embed(ctx, names)
	if err != nil {
		return nil, fmt.Errorf("embed entity names: %w", err)
	}

	resolved := make(map[string]*types.EntityNode, len(unique))
	for i, entity := range unique {
		node, created, err := p.resolveEntity(ctx, episode, entity, vectors[i])
		if err != nil {
			return nil, err
		}
		if created {
			result.EntitiesCreated++
		} else {
			result.EntitiesMatched++
		}
		resolved[strings.ToLower(entity.Name)] = node

		if err := p.store.SaveMention(ctx, episode.UUID, node.UUID, episode.GroupID); err != nil {
			return nil, err
		}
	}
	return resolved, nil
}

func (p *Pipeline) resolveEntity(ctx context.Context, episode *types.EpisodicNode, entity prompts.ExtractedEntity, vector []float32) (*types.EntityNode, bool, error) {
	candidates, err := p.store.SearchEntitiesByEmbedding(ctx, vector, []string{episode.GroupID}, 5)
	if err != nil {
		return nil, false, err
	}

	var best *types.EntityNode
	bestScore := 0.0
	for _, candidate := range candidates {
		score := embedder.Cosine(vector, candidate.NameEmbedding)
		if score > bestScore || (score == bestScore && best != nil && candidate.UUID < best.UUID) {
			best, bestScore = candidate, score
		}
	}
	if best != nil && bestScore >= EntityDedupeThreshold {
		p.logger.Debug("entity matched existing node",
			"name", entity.Name, "matched", best.Name, "score", bestScore)
		return best, false, nil
	}

	node := &types.EntityNode{
		UUID:          uuid.New().String(),
		Name:          entity.Name,
		GroupID:       episode.GroupID,
		NameEmbedding: vector,
		CreatedAt:     p.now(),
	}
	if entity.EntityType != "" {
		node.Labels = []string{entity.EntityType}
	}
	if err := p.store.SaveEntity(ctx, node); err != nil {
		return nil, false, err
	}
	return node, true, nil
}

// resolveFacts extracts candidate facts and folds them into the graph:
// duplicates cite the existing edge, contradictions supersede it, and
// everything else becomes a new edge.
func (p *Pipeline) resolveFacts(ctx context.Context, episode *types.EpisodicNode, entities map[string]*types.EntityNode, previous []string, result *Result) error {
	names := make([]string, 0, len(entities))
	for _, node := range entities {
		names = append(names, node.Name)
	}
	sort.Strings(names)

	var extracted prompts.FactExtractionResult
	messages := prompts.ExtractFactsMessages(episode.Content, names, episode.ValidAt, previous)
	if _, err := p.llm.ChatStructured(ctx, messages, prompts.FactExtractionSchema(), &extracted); err != nil {
		return fmt.Errorf("extract facts: %w", err)
	}

	for _, fact := range extracted.Facts {
		source := entities[strings.ToLower(strings.TrimSpace(fact.SourceEntity))]
		target := entities[strings.ToLower(strings.TrimSpace(fact.TargetEntity))]
		if source == nil || target == nil || source.UUID == target.UUID || strings.TrimSpace(fact.Fact) == "" {
			p.logger.Debug("skipping fact with unresolved endpoints",
				"source", fact.SourceEntity, "target", fact.TargetEntity)
			continue
		}
		if err := p.resolveFact(ctx, episode, source, target, fact, result); err != nil {
			return err
		}
	}
	return nil
}

func (p *Pipeline) resolveFact(ctx context.Context, episode *types.EpisodicNode, source, target *types.EntityNode, fact prompts.ExtractedFact, result *Result) error {
	vector, err := p.embedder.EmbedSingle(ctx, fact.Fact)
	if err != nil {
		return fmt.Errorf("embed fact: %w", err)
	}

	existing, err := p.store.EdgesBetween(ctx, source.UUID, target.UUID)
	if err != nil {
		return err
	}

	now := p.now()
	var best *types.EntityEdge
	bestScore := 0.0
	for _, edge := range existing {
		if !edge.IsCurrent(now) {
			continue
		}
		score := embedder.Cosine(vector, edge.FactEmbedding)
		if score > bestScore || (score == bestScore && best != nil && edge.UUID < best.UUID) {
			best, bestScore = edge, score
		}
	}

	validAt := p.factValidAt(fact, episode.ValidAt)

	var superseded *types.EntityEdge
	var updateReason string
	if best != nil && bestScore >= FactDedupeThreshold {
		var verdict prompts.FactAdjudication
		messages := prompts.AdjudicateFactMessages(fact.Fact, best.Fact)
		if _, err := p.llm.ChatStructured(ctx, messages, prompts.FactAdjudicationSchema(), &verdict); err != nil {
			return fmt.Errorf("adjudicate fact: %w", err)
		}

		switch {
		case verdict.IsDuplicate:
			if err := p.store.AppendEpisodeToEdge(ctx, best.UUID, episode.UUID, &validAt); err != nil {
				return err
			}
			result.EdgesCited++
			return nil
		case verdict.Contradicts:
			// The contradicted edge is expired in place so its embedding
			// survives, and invalid_at closes its validity interval at the
			// moment the new fact became true. The replacement is a fresh
			// edge citing only the contradicting episode, under the newly
			// extracted relation type.
			if err := p.store.ExpireEdge(ctx, best.UUID, now); err != nil {
				return err
			}
			if err := p.store.InvalidateEdge(ctx, best.UUID, validAt); err != nil {
				return err
			}
			superseded = best
			updateReason = verdict.UpdateReason
		}
		// Otherwise: similar wording, but the model says it is a distinct
		// fact. Fall through to edge creation.
	}

	edge := &types.EntityEdge{
		UUID:           uuid.New().String(),
		Name:           normalizeRelationType(fact.RelationType),
		GroupID:        episode.GroupID,
		SourceNodeUUID: source.UUID,
		TargetNodeUUID: target.UUID,
		Fact:           fact.Fact,
		FactEmbedding:  vector,
		Episodes:       []string{episode.UUID},
		CreatedAt:      now,
		ValidAt:        &validAt,
	}
	if superseded != nil {
		edge.Attributes = map[string]any{
			types.AttrOriginalFact: superseded.Fact,
		}
		if updateReason != "" {
			edge.Attributes[types.AttrUpdateReason] = updateReason
		}
	}
	if fact.InvalidAt != "" {
		if invalidAt, err := time.Parse(time.RFC3339, fact.InvalidAt); err == nil {
			utc := invalidAt.UTC()
			edge.InvalidAt = &utc
		}
	}
	if err := p.store.SaveEdge(ctx, edge); err != nil {
		return err
	}
	if superseded != nil {
		result.EdgesSuperseded++
	} else {
		result.EdgesCreated++
	}
	return nil
}

// factValidAt resolves the model's valid_at hint, falling back to the
// episode reference time.
func (p *Pipeline) factValidAt(fact prompts.ExtractedFact, fallback time.Time) time.Time {
	if fact.ValidAt != "" {
		if t, err := time.Parse(time.RFC3339, fact.ValidAt); err == nil {
			return t.UTC()
		}
		p.logger.Debug("unparseable valid_at hint", "value", fact.ValidAt)
	}
	return fallback
}

// normalizeRelationType upper-snake-cases the model's relation type for
// use as an edge name.
func normalizeRelationType(relationType string) string {
	cleaned := strings.TrimSpace(relationType)
	if cleaned == "" {
		return "RELATES_TO"
	}
	cleaned = strings.ToUpper(cleaned)
	return strings.Map(func(r rune) rune {
		switch {
		case r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
			return r
		default:
			return '_'
		}
	}, cleaned)
}
