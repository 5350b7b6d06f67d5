package search

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/soundprediction/anamnesis/pkg/citations"
	"github.com/soundprediction/anamnesis/pkg/driver"
	"github.com/soundprediction/anamnesis/pkg/embedder"
	"github.com/soundprediction/anamnesis/pkg/types"
)

// minFetchLimit floors the store-side candidate fetch so small
// max_results values still see a meaningful pool.
const minFetchLimit = 50

// unreachableHops sorts unreachable candidates behind every reachable
// one during center-node re-ranking.
const unreachableHops = 1 << 20

// searchStore is the slice of the graph driver search needs.
type searchStore interface {
	driver.EpisodeStore
	driver.EntityStore
	driver.EdgeStore
	driver.PathFinder
}

// FactResult is one ranked fact with its citations. Embeddings are
// deliberately absent.
type FactResult struct {
	UUID           string           `json:"uuid"`
	Name           string           `json:"name"`
	Fact           string           `json:"fact"`
	GroupID        string           `json:"group_id"`
	SourceNodeUUID string           `json:"source_node_uuid"`
	TargetNodeUUID string           `json:"target_node_uuid"`
	CreatedAt      time.Time        `json:"created_at"`
	ValidAt        *time.Time       `json:"valid_at,omitempty"`
	InvalidAt      *time.Time       `json:"invalid_at,omitempty"`
	ExpiredAt      *time.Time       `json:"expired_at,omitempty"`
	Attributes     map[string]any   `json:"attributes,omitempty"`
	Citations      []types.Citation `json:"citations"`
}

// NodeResult is one ranked entity.
type NodeResult struct {
	UUID      string     `json:"uuid"`
	Name      string     `json:"name"`
	Summary   string     `json:"summary"`
	Labels    []string   `json:"labels,omitempty"`
	GroupID   string     `json:"group_id"`
	CreatedAt time.Time  `json:"created_at"`
	UpdatedAt *time.Time `json:"updated_at,omitempty"`
}

// FactQuery parameterizes a fact search.
type FactQuery struct {
	Query          string
	GroupIDs       []string
	MaxResults     int
	CenterNodeUUID string
}

// NodeQuery parameterizes a node search.
type NodeQuery struct {
	Query            string
	GroupIDs         []string
	MaxResults       int
	EntityTypeLabels []string
}

// Service executes hybrid searches.
type Service struct {
	store    searchStore
	embedder embedder.Client
	resolver *citations.Resolver
	logger   *slog.Logger
}

// NewService builds a search Service.
func NewService(store searchStore, embedderClient embedder.Client, resolver *citations.Resolver, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{store: store, embedder: embedderClient, resolver: resolver, logger: logger}
}

func validate(query string, groupIDs []string, maxResults int) error {
	if query == "" {
		return types.ErrEmptyQuery
	}
	if maxResults <= 0 {
		return types.ErrInvalidLimit
	}
	if len(groupIDs) == 0 {
		return types.ErrEmptyGroupID
	}
	return nil
}

func fetchLimit(maxResults int) int {
	if limit := 2 * maxResults; limit > minFetchLimit {
		return limit
	}
	return minFetchLimit
}

// SearchFacts ranks RELATES_TO edges against the query.
func (s *Service) SearchFacts(ctx context.Context, q FactQuery) ([]FactResult, error) {
	if err := validate(q.Query, q.GroupIDs, q.MaxResults); err != nil {
		return nil, err
	}

	vector, err := s.embedder.EmbedSingle(ctx, q.Query)
	if err != nil {
		return nil, fmt.Errorf("embed query: %w", err)
	}

	limit := fetchLimit(q.MaxResults)
	vectorRanked, err := s.store.SearchEdgesByEmbedding(ctx, vector, q.GroupIDs, limit)
	if err != nil {
		return nil, err
	}
	lexicalPool, err := s.store.EdgesByGroup(ctx, q.GroupIDs, limit)
	if err != nil {
		return nil, err
	}

	// Union the pools; the store's vector ranking orders the first list.
	byUUID := make(map[string]*types.EntityEdge, len(vectorRanked)+len(lexicalPool))
	vectorRanking := make([]string, 0, len(vectorRanked))
	for _, edge := range vectorRanked {
		if _, seen := byUUID[edge.UUID]; !seen {
			byUUID[edge.UUID] = edge
			vectorRanking = append(vectorRanking, edge.UUID)
		}
	}
	for _, edge := range lexicalPool {
		if _, seen := byUUID[edge.UUID]; !seen {
			byUUID[edge.UUID] = edge
		}
	}

	lexicalRanking := s.lexicalRankEdges(q.Query, byUUID)
	fused := fuseRankings(vectorRanking, lexicalRanking)
	ranked := rankByScore(fused)

	if q.CenterNodeUUID != "" {
		ranked, err = s.rerankByDistance(ctx, q.CenterNodeUUID, ranked, byUUID, fused)
		if err != nil {
			return nil, err
		}
	}

	if len(ranked) > q.MaxResults {
		ranked = ranked[:q.MaxResults]
	}

	results := make([]FactResult, 0, len(ranked))
	for _, uuid := range ranked {
		edge := byUUID[uuid]
		edgeCitations, err := s.resolver.ForEdge(ctx, edge)
		if err != nil {
			return nil, err
		}
		results = append(results, factResultFromEdge(edge, edgeCitations))
	}
	return results, nil
}

// lexicalRankEdges orders candidate uuids by BM25 score of their fact
// text, dropping zero-score candidates.
func (s *Service) lexicalRankEdges(query string, byUUID map[string]*types.EntityEdge) []string {
	uuids := make([]string, 0, len(byUUID))
	for uuid := range byUUID {
		uuids = append(uuids, uuid)
	}
	sort.Strings(uuids)

	docs := make([]string, len(uuids))
	for i, uuid := range uuids {
		docs[i] = byUUID[uuid].Fact
	}
	scores := bm25Scores(query, docs)

	scored := make(map[string]float64, len(uuids))
	for i, uuid := range uuids {
		if scores[i] > 0 {
			scored[uuid] = scores[i]
		}
	}
	return rankByScore(scored)
}

// rerankByDistance promotes edges closer to the center entity; the
// fused score breaks ties within a distance band.
func (s *Service) rerankByDistance(ctx context.Context, centerUUID string, ranked []string, byUUID map[string]*types.EntityEdge, fused map[string]float64) ([]string, error) {
	endpointSet := make(map[string]struct{})
	for _, uuid := range ranked {
		edge := byUUID[uuid]
		endpointSet[edge.SourceNodeUUID] = struct{}{}
		endpointSet[edge.TargetNodeUUID] = struct{}{}
	}
	endpoints := make([]string, 0, len(endpointSet))
	for uuid := range endpointSet {
		endpoints = append(endpoints, uuid)
	}

	hops, err := s.store.PathLengths(ctx, centerUUID, endpoints)
	if err != nil {
		return nil, err
	}

	distance := func(uuid string) int {
		edge := byUUID[uuid]
		d := unreachableHops
		if h, ok := hops[edge.SourceNodeUUID]; ok && h < d {
			d = h
		}
		if h, ok := hops[edge.TargetNodeUUID]; ok && h < d {
			d = h
		}
		return d
	}

	reranked := append([]string(nil), ranked...)
	sort.SliceStable(reranked, func(i, j int) bool {
		di, dj := distance(reranked[i]), distance(reranked[j])
		if di != dj {
			return di < dj
		}
		return fused[reranked[i]] > fused[reranked[j]]
	})
	return reranked, nil
}

// SearchNodes ranks entity nodes against the query.
func (s *Service) SearchNodes(ctx context.Context, q NodeQuery) ([]NodeResult, error) {
	if err := validate(q.Query, q.GroupIDs, q.MaxResults); err != nil {
		return nil, err
	}

	vector, err := s.embedder.EmbedSingle(ctx, q.Query)
	if err != nil {
		return nil, fmt.Errorf("embed query: %w", err)
	}

	limit := fetchLimit(q.MaxResults)
	vectorRanked, err := s.store.SearchEntitiesByEmbedding(ctx, vector, q.GroupIDs, limit)
	if err != nil {
		return nil, err
	}
	lexicalPool, err := s.store.EntitiesByGroup(ctx, q.GroupIDs, limit)
	if err != nil {
		return nil, err
	}

	byUUID := make(map[string]*types.EntityNode, len(vectorRanked)+len(lexicalPool))
	vectorRanking := make([]string, 0, len(vectorRanked))
	for _, node := range vectorRanked {
		if _, seen := byUUID[node.UUID]; !seen {
			byUUID[node.UUID] = node
			vectorRanking = append(vectorRanking, node.UUID)
		}
	}
	for _, node := range lexicalPool {
		if _, seen := byUUID[node.UUID]; !seen {
			byUUID[node.UUID] = node
		}
	}

	if len(q.EntityTypeLabels) > 0 {
		byUUID = filterByLabels(byUUID, q.EntityTypeLabels)
		vectorRanking = keepKnown(vectorRanking, byUUID)
	}

	lexicalRanking := s.lexicalRankNodes(q.Query, byUUID)
	ranked := rankByScore(fuseRankings(vectorRanking, lexicalRanking))
	if len(ranked) > q.MaxResults {
		ranked = ranked[:q.MaxResults]
	}

	results := make([]NodeResult, 0, len(ranked))
	for _, uuid := range ranked {
		node := byUUID[uuid]
		results = append(results, NodeResult{
			UUID:      node.UUID,
			Name:      node.Name,
			Summary:   node.Summary,
			Labels:    node.Labels,
			GroupID:   node.GroupID,
			CreatedAt: node.CreatedAt,
			UpdatedAt: node.UpdatedAt,
		})
	}
	return results, nil
}

func (s *Service) lexicalRankNodes(query string, byUUID map[string]*types.EntityNode) []string {
	uuids := make([]string, 0, len(byUUID))
	for uuid := range byUUID {
		uuids = append(uuids, uuid)
	}
	sort.Strings(uuids)

	docs := make([]string, len(uuids))
	for i, uuid := range uuids {
		docs[i] = byUUID[uuid].Name
	}
	scores := bm25Scores(query, docs)

	scored := make(map[string]float64, len(uuids))
	for i, uuid := range uuids {
		if scores[i] > 0 {
			scored[uuid] = scores[i]
		}
	}
	return rankByScore(scored)
}

func filterByLabels(byUUID map[string]*types.EntityNode, labels []string) map[string]*types.EntityNode {
	wanted := make(map[string]struct{}, len(labels))
	for _, label := range labels {
		wanted[label] = struct{}{}
	}
	filtered := make(map[string]*types.EntityNode)
	for uuid, node := range byUUID {
		for _, label := range node.Labels {
			if _, ok := wanted[label]; ok {
				filtered[uuid] = node
				break
			}
		}
	}
	return filtered
}

func keepKnown(ranking []string, byUUID map[string]*types.EntityNode) []string {
	kept := ranking[:0]
	for _, uuid := range ranking {
		if _, ok := byUUID[uuid]; ok {
			kept = append(kept, uuid)
		}
	}
	return kept
}

// SearchEpisodes is a plain created_at-descending scan.
func (s *Service) SearchEpisodes(ctx context.Context, groupIDs []string, maxResults int) ([]*types.EpisodicNode, error) {
	if maxResults <= 0 {
		return nil, types.ErrInvalidLimit
	}
	if len(groupIDs) == 0 {
		return nil, types.ErrEmptyGroupID
	}
	return s.store.EpisodesByGroup(ctx, groupIDs, maxResults)
}

func factResultFromEdge(edge *types.EntityEdge, edgeCitations []types.Citation) FactResult {
	return FactResult{
		UUID:           edge.UUID,
		Name:           edge.Name,
		Fact:           edge.Fact,
		GroupID:        edge.GroupID,
		SourceNodeUUID: edge.SourceNodeUUID,
		TargetNodeUUID: edge.TargetNodeUUID,
		CreatedAt:      edge.CreatedAt,
		ValidAt:        edge.ValidAt,
		InvalidAt:      edge.InvalidAt,
		ExpiredAt:      edge.ExpiredAt,
		Attributes:     edge.Attributes,
		Citations:      edgeCitations,
	}
}
