package citations

import (
	"context"
	"fmt"
	"sort"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/soundprediction/anamnesis/pkg/driver"
	"github.com/soundprediction/anamnesis/pkg/types"
)

// fakeStore is an in-memory stand-in for the graph driver slices the
// citations package uses.
type fakeStore struct {
	episodes map[string]*types.EpisodicNode
	entities map[string]*types.EntityNode
	edges    map[string]*types.EntityEdge
	// mentions maps entity uuid to episode uuids in insertion order.
	mentions map[string][]string
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		episodes: map[string]*types.EpisodicNode{},
		entities: map[string]*types.EntityNode{},
		edges:    map[string]*types.EntityEdge{},
		mentions: map[string][]string{},
	}
}

func (f *fakeStore) GetEpisode(_ context.Context, uuid string) (*types.EpisodicNode, error) {
	if ep, ok := f.episodes[uuid]; ok {
		return ep, nil
	}
	return nil, fmt.Errorf("episode %s: %w", uuid, driver.ErrNotFound)
}

func (f *fakeStore) GetEpisodes(_ context.Context, uuids []string) ([]*types.EpisodicNode, error) {
	var out []*types.EpisodicNode
	for _, uuid := range uuids {
		if ep, ok := f.episodes[uuid]; ok {
			out = append(out, ep)
		}
	}
	return out, nil
}

func (f *fakeStore) SaveEpisode(_ context.Context, episode *types.EpisodicNode) error {
	f.episodes[episode.UUID] = episode
	return nil
}

func (f *fakeStore) DeleteEpisode(_ context.Context, uuid string) error {
	delete(f.episodes, uuid)
	return nil
}

func (f *fakeStore) EpisodesByGroup(_ context.Context, groupIDs []string, limit int) ([]*types.EpisodicNode, error) {
	var out []*types.EpisodicNode
	for _, ep := range f.episodes {
		for _, g := range groupIDs {
			if ep.GroupID == g {
				out = append(out, ep)
			}
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (f *fakeStore) EpisodesChronological(_ context.Context, groupIDs []string, _ string) ([]*types.EpisodicNode, error) {
	out, _ := f.EpisodesByGroup(context.Background(), groupIDs, len(f.episodes))
	sort.Slice(out, func(i, j int) bool { return out[i].ValidAt.Before(out[j].ValidAt) })
	return out, nil
}

func (f *fakeStore) GetEntity(_ context.Context, uuid string) (*types.EntityNode, error) {
	if n, ok := f.entities[uuid]; ok {
		return n, nil
	}
	return nil, fmt.Errorf("entity %s: %w", uuid, driver.ErrNotFound)
}

func (f *fakeStore) SaveEntity(_ context.Context, entity *types.EntityNode) error {
	f.entities[entity.UUID] = entity
	return nil
}

func (f *fakeStore) EntitiesByGroup(_ context.Context, _ []string, _ int) ([]*types.EntityNode, error) {
	return nil, nil
}

func (f *fakeStore) SearchEntitiesByEmbedding(_ context.Context, _ []float32, _ []string, _ int) ([]*types.EntityNode, error) {
	return nil, nil
}

func (f *fakeStore) GetEdge(_ context.Context, uuid string) (*types.EntityEdge, error) {
	if e, ok := f.edges[uuid]; ok {
		return e, nil
	}
	return nil, fmt.Errorf("edge %s: %w", uuid, driver.ErrNotFound)
}

func (f *fakeStore) SaveEdge(_ context.Context, edge *types.EntityEdge) error {
	f.edges[edge.UUID] = edge
	return nil
}

func (f *fakeStore) ExpireEdge(_ context.Context, uuid string, expiredAt time.Time) error {
	edge, ok := f.edges[uuid]
	if !ok {
		return fmt.Errorf("edge %s: %w", uuid, driver.ErrNotFound)
	}
	edge.ExpiredAt = &expiredAt
	return nil
}

func (f *fakeStore) InvalidateEdge(_ context.Context, uuid string, invalidAt time.Time) error {
	edge, ok := f.edges[uuid]
	if !ok {
		return fmt.Errorf("edge %s: %w", uuid, driver.ErrNotFound)
	}
	edge.InvalidAt = &invalidAt
	return nil
}

func (f *fakeStore) AppendEpisodeToEdge(_ context.Context, edgeUUID, episodeUUID string, validAt *time.Time) error {
	edge, ok := f.edges[edgeUUID]
	if !ok {
		return fmt.Errorf("edge %s: %w", edgeUUID, driver.ErrNotFound)
	}
	for _, existing := range edge.Episodes {
		if existing == episodeUUID {
			return nil
		}
	}
	edge.Episodes = append(edge.Episodes, episodeUUID)
	if validAt != nil {
		edge.ValidAt = validAt
	}
	return nil
}

func (f *fakeStore) DeleteEdge(_ context.Context, uuid string) error {
	delete(f.edges, uuid)
	return nil
}

func (f *fakeStore) EdgesBetween(_ context.Context, sourceUUID, targetUUID string) ([]*types.EntityEdge, error) {
	var out []*types.EntityEdge
	for _, e := range f.edges {
		if (e.SourceNodeUUID == sourceUUID && e.TargetNodeUUID == targetUUID) ||
			(e.SourceNodeUUID == targetUUID && e.TargetNodeUUID == sourceUUID) {
			out = append(out, e)
		}
	}
	return out, nil
}

func (f *fakeStore) EdgesByGroup(_ context.Context, _ []string, _ int) ([]*types.EntityEdge, error) {
	return nil, nil
}

func (f *fakeStore) SearchEdgesByEmbedding(_ context.Context, _ []float32, _ []string, _ int) ([]*types.EntityEdge, error) {
	return nil, nil
}

func (f *fakeStore) SaveMention(_ context.Context, episodeUUID, entityUUID, _ string) error {
	f.mentions[entityUUID] = append(f.mentions[entityUUID], episodeUUID)
	return nil
}

func (f *fakeStore) MentionedEntities(_ context.Context, _ string) ([]*types.EntityNode, error) {
	return nil, nil
}

func (f *fakeStore) CausalRelationsForEpisode(_ context.Context, _ string, _ []string) ([]driver.CausalRelation, error) {
	return nil, nil
}

func (f *fakeStore) EpisodesMentioning(_ context.Context, entityUUID string) ([]*types.EpisodicNode, error) {
	var out []*types.EpisodicNode
	for _, epUUID := range f.mentions[entityUUID] {
		if ep, ok := f.episodes[epUUID]; ok {
			out = append(out, ep)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

// fakeEmbedder returns a constant vector.
type fakeEmbedder struct {
	vector []float32
}

func (f *fakeEmbedder) Embed(_ context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i := range texts {
		out[i] = f.vector
	}
	return out, nil
}

func (f *fakeEmbedder) EmbedSingle(_ context.Context, _ string) ([]float32, error) {
	return f.vector, nil
}

func (f *fakeEmbedder) Dimensions() int { return len(f.vector) }
func (f *fakeEmbedder) Close() error    { return nil }

func seedEpisode(store *fakeStore, uuid, name, description string, createdAt time.Time) {
	store.episodes[uuid] = &types.EpisodicNode{
		UUID:              uuid,
		Name:              name,
		Content:           "content of " + name,
		GroupID:           "g1",
		Source:            types.SourceText,
		SourceDescription: description,
		CreatedAt:         createdAt,
		ValidAt:           createdAt,
	}
}

func TestForEdgeResolvesCitations(t *testing.T) {
	store := newFakeStore()
	base := time.Date(2026, 1, 10, 0, 0, 0, 0, time.UTC)
	seedEpisode(store, "ep-2", "alert fired", "pagerduty export, source_url: https://pd.example/i/42", base.Add(time.Hour))
	seedEpisode(store, "ep-1", "deploy log", "", base)

	edge := &types.EntityEdge{UUID: "edge-1", Episodes: []string{"ep-2", "ep-1", "ep-gone"}}
	resolver := NewResolver(store, nil)

	citations, err := resolver.ForEdge(context.Background(), edge)
	require.NoError(t, err)
	require.Len(t, citations, 2, "deleted episodes are skipped")

	// Chronological order regardless of episodes[] order.
	assert.Equal(t, "ep-1", citations[0].EpisodeUUID)
	assert.Equal(t, "ep-2", citations[1].EpisodeUUID)

	assert.Equal(t, "text", citations[0].Source)
	assert.True(t, citations[0].CreatedAt.Equal(base))
	assert.True(t, citations[1].CreatedAt.Equal(base.Add(time.Hour)))

	// Legacy source_url recovered from the description.
	assert.Equal(t, "https://pd.example/i/42", citations[1].SourceURL)
	assert.Empty(t, citations[0].SourceURL)
}

func TestForEdgePrefersFirstClassSourceURL(t *testing.T) {
	store := newFakeStore()
	base := time.Date(2026, 1, 10, 0, 0, 0, 0, time.UTC)
	seedEpisode(store, "ep-1", "incident doc", "source_url: https://legacy.example/doc", base)
	store.episodes["ep-1"].SourceURL = "https://canonical.example/doc"

	resolver := NewResolver(store, nil)
	citations, err := resolver.ForEdge(context.Background(), &types.EntityEdge{UUID: "e", Episodes: []string{"ep-1"}})
	require.NoError(t, err)
	require.Len(t, citations, 1)
	assert.Equal(t, "https://canonical.example/doc", citations[0].SourceURL)
}

func TestChainForEdgeClassifiesOperations(t *testing.T) {
	store := newFakeStore()
	base := time.Date(2026, 1, 10, 0, 0, 0, 0, time.UTC)
	seedEpisode(store, "ep-1", "first report", "", base)
	seedEpisode(store, "ep-2", "follow-up", "", base.Add(time.Hour))
	seedEpisode(store, "ep-3", "correction", "", base.Add(3*time.Hour))

	updatedAt := base.Add(2 * time.Hour)
	edge := &types.EntityEdge{
		UUID:      "edge-1",
		CreatedAt: base,
		UpdatedAt: &updatedAt,
		Episodes:  []string{"ep-1", "ep-2", "ep-3"},
	}

	resolver := NewResolver(store, nil)
	chain, err := resolver.ChainForEdge(context.Background(), edge)
	require.NoError(t, err)
	require.Len(t, chain, 3)

	assert.Equal(t, types.CitationCreated, chain[0].Operation)
	assert.Equal(t, types.CitationReferenced, chain[1].Operation)
	assert.Equal(t, types.CitationUpdated, chain[2].Operation)
}

func TestChainForEntity(t *testing.T) {
	store := newFakeStore()
	base := time.Date(2026, 1, 10, 0, 0, 0, 0, time.UTC)
	seedEpisode(store, "ep-1", "first mention", "", base)
	seedEpisode(store, "ep-2", "later mention", "", base.Add(time.Hour))
	store.entities["ent-1"] = &types.EntityNode{UUID: "ent-1", Name: "checkout", GroupID: "g1", CreatedAt: base}
	store.mentions["ent-1"] = []string{"ep-1", "ep-2"}

	resolver := NewResolver(store, nil)
	chain, err := resolver.ChainForEntity(context.Background(), "ent-1")
	require.NoError(t, err)
	require.Len(t, chain, 2)
	assert.Equal(t, types.CitationCreated, chain[0].Operation)
	assert.Equal(t, types.CitationReferenced, chain[1].Operation)
}

func TestUpdateFact(t *testing.T) {
	store := newFakeStore()
	base := time.Date(2026, 1, 10, 0, 0, 0, 0, time.UTC)
	seedEpisode(store, "ep-1", "original evidence", "", base)
	seedEpisode(store, "ep-2", "new evidence", "", base.Add(time.Hour))

	store.edges["edge-old"] = &types.EntityEdge{
		UUID:           "edge-old",
		Name:           "RUNS_ON",
		GroupID:        "g1",
		SourceNodeUUID: "ent-1",
		TargetNodeUUID: "ent-2",
		Fact:           "checkout runs on cluster-a",
		FactEmbedding:  []float32{0.9, 0.1},
		Episodes:       []string{"ep-1"},
		CreatedAt:      base,
	}

	resolver := NewResolver(store, nil)
	updater := NewUpdater(store, &fakeEmbedder{vector: []float32{0.2, 0.8}}, resolver, nil)
	frozen := base.Add(2 * time.Hour)
	updater.now = func() time.Time { return frozen }

	result, err := updater.UpdateFact(context.Background(), "edge-old", UpdateRequest{
		Fact:         "checkout runs on cluster-b",
		UpdateReason: "migrated during incident",
		EpisodeUUID:  "ep-2",
	})
	require.NoError(t, err)

	// Old version expired in place, embedding untouched. With no validAt
	// the old edge is superseded as a record, not contradicted, so
	// invalid_at stays null.
	oldEdge := store.edges["edge-old"]
	require.NotNil(t, oldEdge.ExpiredAt)
	assert.True(t, oldEdge.ExpiredAt.Equal(frozen))
	assert.Nil(t, oldEdge.InvalidAt)
	assert.Equal(t, []float32{0.9, 0.1}, oldEdge.FactEmbedding)

	// Successor inherits citations and records provenance attributes.
	newEdge := store.edges[result.NewUUID]
	require.NotNil(t, newEdge)
	assert.NotEqual(t, "edge-old", newEdge.UUID)
	assert.Equal(t, "RUNS_ON", newEdge.Name)
	assert.Equal(t, []string{"ep-1", "ep-2"}, newEdge.Episodes)
	assert.Equal(t, []float32{0.2, 0.8}, newEdge.FactEmbedding)
	assert.Nil(t, newEdge.ExpiredAt)
	assert.Nil(t, newEdge.InvalidAt)
	assert.Equal(t, "checkout runs on cluster-a", newEdge.Attributes[types.AttrOriginalFact])
	assert.Equal(t, "migrated during incident", newEdge.Attributes[types.AttrUpdateReason])

	require.Len(t, result.Citations, 2)
	assert.Equal(t, "ep-1", result.Citations[0].EpisodeUUID)
}

func TestUpdateFactEndpointOverridesAndAttributes(t *testing.T) {
	store := newFakeStore()
	base := time.Date(2026, 1, 10, 0, 0, 0, 0, time.UTC)
	store.edges["edge-old"] = &types.EntityEdge{
		UUID:           "edge-old",
		Name:           "RUNS_ON",
		GroupID:        "g1",
		SourceNodeUUID: "ent-1",
		TargetNodeUUID: "ent-2",
		Fact:           "checkout runs on cluster-a",
		CreatedAt:      base,
	}

	resolver := NewResolver(store, nil)
	updater := NewUpdater(store, &fakeEmbedder{vector: []float32{1}}, resolver, nil)

	result, err := updater.UpdateFact(context.Background(), "edge-old", UpdateRequest{
		Fact:           "checkout runs on cluster-b",
		UpdateReason:   "service moved",
		TargetNodeUUID: "ent-3",
		Attributes:     map[string]any{"region": "eu-west-1", "original_fact": "caller noise"},
	})
	require.NoError(t, err)

	newEdge := store.edges[result.NewUUID]
	require.NotNil(t, newEdge)
	assert.Equal(t, "ent-1", newEdge.SourceNodeUUID, "unset override keeps the old endpoint")
	assert.Equal(t, "ent-3", newEdge.TargetNodeUUID)
	assert.Equal(t, "eu-west-1", newEdge.Attributes["region"])

	// Provenance keys win over caller-supplied values.
	assert.Equal(t, "checkout runs on cluster-a", newEdge.Attributes[types.AttrOriginalFact])
	assert.Equal(t, "service moved", newEdge.Attributes[types.AttrUpdateReason])
}

func TestUpdateFactNotFound(t *testing.T) {
	store := newFakeStore()
	resolver := NewResolver(store, nil)
	updater := NewUpdater(store, &fakeEmbedder{vector: []float32{1}}, resolver, nil)

	_, err := updater.UpdateFact(context.Background(), "missing", UpdateRequest{Fact: "fact"})
	assert.ErrorIs(t, err, driver.ErrNotFound)
}

func TestUpdateFactWithValidAtClosesOldInterval(t *testing.T) {
	store := newFakeStore()
	base := time.Date(2026, 1, 10, 0, 0, 0, 0, time.UTC)
	store.edges["edge-old"] = &types.EntityEdge{
		UUID:           "edge-old",
		Name:           "RUNS_ON",
		GroupID:        "g1",
		SourceNodeUUID: "ent-1",
		TargetNodeUUID: "ent-2",
		Fact:           "checkout runs on cluster-a",
		CreatedAt:      base,
	}

	resolver := NewResolver(store, nil)
	updater := NewUpdater(store, &fakeEmbedder{vector: []float32{1}}, resolver, nil)

	becameTrue := base.Add(6 * time.Hour)
	result, err := updater.UpdateFact(context.Background(), "edge-old", UpdateRequest{
		Fact:         "checkout runs on cluster-b",
		UpdateReason: "contradicted by new episode",
		ValidAt:      &becameTrue,
	})
	require.NoError(t, err)

	oldEdge := store.edges["edge-old"]
	require.NotNil(t, oldEdge.InvalidAt)
	assert.True(t, oldEdge.InvalidAt.Equal(becameTrue))

	newEdge := store.edges[result.NewUUID]
	require.NotNil(t, newEdge.ValidAt)
	assert.True(t, newEdge.ValidAt.Equal(becameTrue))
}
