package search

import (
	"context"
	"fmt"
	"sort"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/soundprediction/anamnesis/pkg/citations"
	"github.com/soundprediction/anamnesis/pkg/driver"
	"github.com/soundprediction/anamnesis/pkg/embedder"
	"github.com/soundprediction/anamnesis/pkg/types"
)

// graphFake serves canned candidates and path lengths.
type graphFake struct {
	episodes map[string]*types.EpisodicNode
	entities []*types.EntityNode
	edges    []*types.EntityEdge
	hops     map[string]int

	lastEdgeLimit int
}

func (g *graphFake) GetEpisode(_ context.Context, uuid string) (*types.EpisodicNode, error) {
	if ep, ok := g.episodes[uuid]; ok {
		return ep, nil
	}
	return nil, fmt.Errorf("episode %s: %w", uuid, driver.ErrNotFound)
}

func (g *graphFake) GetEpisodes(_ context.Context, uuids []string) ([]*types.EpisodicNode, error) {
	var out []*types.EpisodicNode
	for _, uuid := range uuids {
		if ep, ok := g.episodes[uuid]; ok {
			out = append(out, ep)
		}
	}
	return out, nil
}

func (g *graphFake) SaveEpisode(_ context.Context, _ *types.EpisodicNode) error { return nil }
func (g *graphFake) DeleteEpisode(_ context.Context, _ string) error            { return nil }

func (g *graphFake) EpisodesByGroup(_ context.Context, _ []string, limit int) ([]*types.EpisodicNode, error) {
	var out []*types.EpisodicNode
	for _, ep := range g.episodes {
		out = append(out, ep)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (g *graphFake) EpisodesChronological(_ context.Context, _ []string, _ string) ([]*types.EpisodicNode, error) {
	return nil, nil
}

func (g *graphFake) GetEntity(_ context.Context, _ string) (*types.EntityNode, error) {
	return nil, driver.ErrNotFound
}
func (g *graphFake) SaveEntity(_ context.Context, _ *types.EntityNode) error { return nil }

func (g *graphFake) EntitiesByGroup(_ context.Context, _ []string, limit int) ([]*types.EntityNode, error) {
	if len(g.entities) > limit {
		return g.entities[:limit], nil
	}
	return g.entities, nil
}

func (g *graphFake) SearchEntitiesByEmbedding(_ context.Context, vector []float32, _ []string, limit int) ([]*types.EntityNode, error) {
	ranked := append([]*types.EntityNode(nil), g.entities...)
	sort.Slice(ranked, func(i, j int) bool {
		return embedder.Cosine(vector, ranked[i].NameEmbedding) > embedder.Cosine(vector, ranked[j].NameEmbedding)
	})
	if len(ranked) > limit {
		ranked = ranked[:limit]
	}
	return ranked, nil
}

func (g *graphFake) GetEdge(_ context.Context, _ string) (*types.EntityEdge, error) {
	return nil, driver.ErrNotFound
}
func (g *graphFake) SaveEdge(_ context.Context, _ *types.EntityEdge) error { return nil }
func (g *graphFake) ExpireEdge(_ context.Context, _ string, _ time.Time) error {
	return nil
}
func (g *graphFake) InvalidateEdge(_ context.Context, _ string, _ time.Time) error {
	return nil
}
func (g *graphFake) AppendEpisodeToEdge(_ context.Context, _, _ string, _ *time.Time) error {
	return nil
}
func (g *graphFake) DeleteEdge(_ context.Context, _ string) error { return nil }
func (g *graphFake) EdgesBetween(_ context.Context, _, _ string) ([]*types.EntityEdge, error) {
	return nil, nil
}

func (g *graphFake) EdgesByGroup(_ context.Context, _ []string, limit int) ([]*types.EntityEdge, error) {
	g.lastEdgeLimit = limit
	if len(g.edges) > limit {
		return g.edges[:limit], nil
	}
	return g.edges, nil
}

func (g *graphFake) SearchEdgesByEmbedding(_ context.Context, vector []float32, _ []string, limit int) ([]*types.EntityEdge, error) {
	ranked := append([]*types.EntityEdge(nil), g.edges...)
	sort.Slice(ranked, func(i, j int) bool {
		return embedder.Cosine(vector, ranked[i].FactEmbedding) > embedder.Cosine(vector, ranked[j].FactEmbedding)
	})
	if len(ranked) > limit {
		ranked = ranked[:limit]
	}
	return ranked, nil
}

func (g *graphFake) SaveMention(_ context.Context, _, _, _ string) error { return nil }
func (g *graphFake) MentionedEntities(_ context.Context, _ string) ([]*types.EntityNode, error) {
	return nil, nil
}
func (g *graphFake) EpisodesMentioning(_ context.Context, _ string) ([]*types.EpisodicNode, error) {
	return nil, nil
}

func (g *graphFake) CausalRelationsForEpisode(_ context.Context, _ string, _ []string) ([]driver.CausalRelation, error) {
	return nil, nil
}

func (g *graphFake) PathLengths(_ context.Context, _ string, targets []string) (map[string]int, error) {
	out := map[string]int{}
	for _, target := range targets {
		if hops, ok := g.hops[target]; ok {
			out[target] = hops
		}
	}
	return out, nil
}

// queryEmbedder returns a fixed vector for every text.
type queryEmbedder struct{ vector []float32 }

func (q *queryEmbedder) Embed(_ context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i := range texts {
		out[i] = q.vector
	}
	return out, nil
}
func (q *queryEmbedder) EmbedSingle(_ context.Context, _ string) ([]float32, error) {
	return q.vector, nil
}
func (q *queryEmbedder) Dimensions() int { return len(q.vector) }
func (q *queryEmbedder) Close() error    { return nil }

func edge(uuid, fact string, vec []float32, src, tgt string) *types.EntityEdge {
	return &types.EntityEdge{
		UUID:           uuid,
		Name:           "RELATES_TO",
		Fact:           fact,
		FactEmbedding:  vec,
		GroupID:        "g1",
		SourceNodeUUID: src,
		TargetNodeUUID: tgt,
		Episodes:       []string{"ep-1"},
		CreatedAt:      time.Now().UTC(),
	}
}

func newSearchService(g *graphFake, vec []float32) *Service {
	resolver := citations.NewResolver(g, nil)
	return NewService(g, &queryEmbedder{vector: vec}, resolver, nil)
}

func seedEpisode(g *graphFake) {
	if g.episodes == nil {
		g.episodes = map[string]*types.EpisodicNode{}
	}
	g.episodes["ep-1"] = &types.EpisodicNode{
		UUID:      "ep-1",
		Name:      "incident report",
		GroupID:   "g1",
		Source:    types.SourceText,
		CreatedAt: time.Now().UTC(),
	}
}

func TestSearchFactsFusesVectorAndLexical(t *testing.T) {
	g := &graphFake{
		edges: []*types.EntityEdge{
			// Strong vector match, weak lexical match.
			edge("edge-vec", "latency regression in payments", []float32{1, 0}, "n1", "n2"),
			// Weak vector match, strong lexical match.
			edge("edge-lex", "checkout outage caused by deploy", []float32{0, 1}, "n3", "n4"),
			// Weak on both.
			edge("edge-meh", "unrelated maintenance note", []float32{0, 1}, "n5", "n6"),
		},
	}
	seedEpisode(g)
	service := newSearchService(g, []float32{1, 0})

	results, err := service.SearchFacts(context.Background(), FactQuery{
		Query:      "checkout outage deploy",
		GroupIDs:   []string{"g1"},
		MaxResults: 2,
	})
	require.NoError(t, err)
	require.Len(t, results, 2)

	uuids := []string{results[0].UUID, results[1].UUID}
	assert.Contains(t, uuids, "edge-vec")
	assert.Contains(t, uuids, "edge-lex")

	// Citations decorate every returned fact; embeddings never appear.
	require.Len(t, results[0].Citations, 1)
	assert.Equal(t, "ep-1", results[0].Citations[0].EpisodeUUID)
}

func TestSearchFactsCenterNodeRerank(t *testing.T) {
	g := &graphFake{
		edges: []*types.EntityEdge{
			edge("edge-far", "checkout deploy outage alpha", []float32{1, 0}, "far-a", "far-b"),
			edge("edge-near", "checkout deploy outage beta", []float32{0.9, 0.1}, "near-a", "near-b"),
		},
		hops: map[string]int{"near-a": 1, "far-a": 4},
	}
	seedEpisode(g)
	service := newSearchService(g, []float32{1, 0})

	results, err := service.SearchFacts(context.Background(), FactQuery{
		Query:          "checkout deploy outage",
		GroupIDs:       []string{"g1"},
		MaxResults:     2,
		CenterNodeUUID: "center",
	})
	require.NoError(t, err)
	require.Len(t, results, 2)

	// Closer edge wins despite the weaker vector score.
	assert.Equal(t, "edge-near", results[0].UUID)
	assert.Equal(t, "edge-far", results[1].UUID)
}

func TestSearchFactsFetchLimit(t *testing.T) {
	g := &graphFake{}
	seedEpisode(g)
	service := newSearchService(g, []float32{1, 0})

	_, err := service.SearchFacts(context.Background(), FactQuery{
		Query: "q", GroupIDs: []string{"g1"}, MaxResults: 3,
	})
	require.NoError(t, err)
	assert.Equal(t, 50, g.lastEdgeLimit, "small max_results floors at 50")

	_, err = service.SearchFacts(context.Background(), FactQuery{
		Query: "q", GroupIDs: []string{"g1"}, MaxResults: 40,
	})
	require.NoError(t, err)
	assert.Equal(t, 80, g.lastEdgeLimit, "large max_results fetches double")
}

func TestSearchFactsValidation(t *testing.T) {
	service := newSearchService(&graphFake{}, []float32{1})

	_, err := service.SearchFacts(context.Background(), FactQuery{GroupIDs: []string{"g"}, MaxResults: 5})
	assert.ErrorIs(t, err, types.ErrEmptyQuery)

	_, err = service.SearchFacts(context.Background(), FactQuery{Query: "q", GroupIDs: []string{"g"}})
	assert.ErrorIs(t, err, types.ErrInvalidLimit)

	_, err = service.SearchFacts(context.Background(), FactQuery{Query: "q", MaxResults: 5})
	assert.ErrorIs(t, err, types.ErrEmptyGroupID)
}

func TestSearchNodesFiltersByLabel(t *testing.T) {
	now := time.Now().UTC()
	g := &graphFake{
		entities: []*types.EntityNode{
			{UUID: "n1", Name: "checkout-service", GroupID: "g1", Labels: []string{"Service"}, NameEmbedding: []float32{1, 0}, CreatedAt: now},
			{UUID: "n2", Name: "checkout alert", GroupID: "g1", Labels: []string{"Alert"}, NameEmbedding: []float32{0.9, 0.1}, CreatedAt: now},
		},
	}
	service := newSearchService(g, []float32{1, 0})

	results, err := service.SearchNodes(context.Background(), NodeQuery{
		Query:            "checkout",
		GroupIDs:         []string{"g1"},
		MaxResults:       10,
		EntityTypeLabels: []string{"Service"},
	})
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "n1", results[0].UUID)
}

func TestSearchEpisodes(t *testing.T) {
	g := &graphFake{}
	seedEpisode(g)
	service := newSearchService(g, []float32{1})

	episodes, err := service.SearchEpisodes(context.Background(), []string{"g1"}, 10)
	require.NoError(t, err)
	assert.Len(t, episodes, 1)

	_, err = service.SearchEpisodes(context.Background(), nil, 10)
	assert.ErrorIs(t, err, types.ErrEmptyGroupID)
}

func TestBM25PrefersMatchingDocs(t *testing.T) {
	docs := []string{
		"checkout outage caused by deploy",
		"payments latency regression",
		"checkout checkout checkout",
	}
	scores := bm25Scores("checkout outage", docs)
	assert.Greater(t, scores[0], scores[1])
	assert.Greater(t, scores[0], 0.0)
	assert.Equal(t, 0.0, scores[1])
}

func TestFuseRankings(t *testing.T) {
	fused := fuseRankings([]string{"a", "b"}, []string{"b", "c"})
	ranked := rankByScore(fused)
	assert.Equal(t, "b", ranked[0], "item on both lists wins")
	assert.InDelta(t, 1.0/61+1.0/62, fused["b"], 1e-9)
}
