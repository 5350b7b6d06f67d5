package driver

import (
	"context"
	"time"

	"github.com/soundprediction/anamnesis/pkg/types"
)

// Provider identifies the graph database flavour behind the adapter.
type Provider string

const (
	ProviderNeo4j    Provider = "neo4j"
	ProviderFalkorDB Provider = "falkordb"
)

// CausalRelation is one causality edge between two named entities, as
// surfaced by the analytics queries.
type CausalRelation struct {
	FromEntity   string `json:"from_entity"`
	ToEntity     string `json:"to_entity"`
	Relationship string `json:"relationship"`
}

// EpisodeStore provides operations on episodic nodes.
type EpisodeStore interface {
	// GetEpisode retrieves one episodic node by uuid.
	GetEpisode(ctx context.Context, uuid string) (*types.EpisodicNode, error)

	// GetEpisodes retrieves episodic nodes for the given uuids, skipping
	// any that no longer exist.
	GetEpisodes(ctx context.Context, uuids []string) ([]*types.EpisodicNode, error)

	// SaveEpisode creates or updates an episodic node.
	SaveEpisode(ctx context.Context, episode *types.EpisodicNode) error

	// DeleteEpisode removes an episode, its MENTIONS links, and any
	// entities no other episode mentions.
	DeleteEpisode(ctx context.Context, uuid string) error

	// EpisodesByGroup lists episodes for the groups, newest created_at first.
	EpisodesByGroup(ctx context.Context, groupIDs []string, limit int) ([]*types.EpisodicNode, error)

	// EpisodesChronological lists episodes for the groups ordered by
	// valid_at ascending, optionally restricted to episodes that mention
	// the named entity.
	EpisodesChronological(ctx context.Context, groupIDs []string, mentionsEntity string) ([]*types.EpisodicNode, error)
}

// EntityStore provides operations on entity nodes.
type EntityStore interface {
	// GetEntity retrieves one entity node by uuid.
	GetEntity(ctx context.Context, uuid string) (*types.EntityNode, error)

	// SaveEntity creates or updates an entity node.
	SaveEntity(ctx context.Context, entity *types.EntityNode) error

	// EntitiesByGroup lists entity nodes for the groups.
	EntitiesByGroup(ctx context.Context, groupIDs []string, limit int) ([]*types.EntityNode, error)

	// SearchEntitiesByEmbedding returns entities ranked by cosine
	// similarity of name_embedding against the query vector.
	SearchEntitiesByEmbedding(ctx context.Context, vector []float32, groupIDs []string, limit int) ([]*types.EntityNode, error)
}

// EdgeStore provides operations on RELATES_TO edges.
type EdgeStore interface {
	// GetEdge retrieves one entity edge by uuid.
	GetEdge(ctx context.Context, uuid string) (*types.EntityEdge, error)

	// SaveEdge creates or replaces an entity edge with its full property set.
	SaveEdge(ctx context.Context, edge *types.EntityEdge) error

	// ExpireEdge sets expired_at on the edge as a direct property update.
	// It must not rewrite the remaining properties: a full save round-trip
	// can strip fact_embedding on stores that re-serialize vectors.
	ExpireEdge(ctx context.Context, uuid string, expiredAt time.Time) error

	// InvalidateEdge sets invalid_at on the edge as a direct property
	// update, marking when the fact stopped being true in the world.
	InvalidateEdge(ctx context.Context, uuid string, invalidAt time.Time) error

	// AppendEpisodeToEdge adds an episode uuid to the edge's episodes list
	// if not already present, optionally refreshing valid_at.
	AppendEpisodeToEdge(ctx context.Context, edgeUUID, episodeUUID string, validAt *time.Time) error

	// DeleteEdge removes an entity edge.
	DeleteEdge(ctx context.Context, uuid string) error

	// EdgesBetween lists edges in either direction between two entities.
	EdgesBetween(ctx context.Context, sourceUUID, targetUUID string) ([]*types.EntityEdge, error)

	// EdgesByGroup lists entity edges for the groups, newest created_at first.
	EdgesByGroup(ctx context.Context, groupIDs []string, limit int) ([]*types.EntityEdge, error)

	// SearchEdgesByEmbedding returns edges ranked by cosine similarity of
	// fact_embedding against the query vector.
	SearchEdgesByEmbedding(ctx context.Context, vector []float32, groupIDs []string, limit int) ([]*types.EntityEdge, error)
}

// MentionStore provides operations on episode→entity MENTIONS links.
type MentionStore interface {
	// SaveMention links an episode to an entity it mentions.
	SaveMention(ctx context.Context, episodeUUID, entityUUID, groupID string) error

	// MentionedEntities lists entities a given episode mentions.
	MentionedEntities(ctx context.Context, episodeUUID string) ([]*types.EntityNode, error)

	// EpisodesMentioning lists episodes that mention a given entity,
	// ordered by episode created_at ascending.
	EpisodesMentioning(ctx context.Context, entityUUID string) ([]*types.EpisodicNode, error)

	// CausalRelationsForEpisode lists RELATES_TO edges between entities the
	// episode mentions whose fact text contains one of the keywords
	// (case-insensitive).
	CausalRelationsForEpisode(ctx context.Context, episodeUUID string, keywords []string) ([]CausalRelation, error)
}

// PathFinder exposes graph-distance queries for search re-ranking.
type PathFinder interface {
	// PathLengths returns, for each target entity uuid, the shortest
	// RELATES_TO hop count from the center entity. Unreachable targets
	// are absent from the result map.
	PathLengths(ctx context.Context, centerUUID string, targetUUIDs []string) (map[string]int, error)
}

// Admin provides maintenance operations.
type Admin interface {
	// CreateIndices creates uuid uniqueness constraints and group_id
	// range indexes.
	CreateIndices(ctx context.Context) error

	// ClearGroup removes every node and edge belonging to the group.
	ClearGroup(ctx context.Context, groupID string) error

	// VerifyConnectivity checks the store can be reached.
	VerifyConnectivity(ctx context.Context) error
}

// GraphDriver is the full adapter contract. Consumers should depend on
// the narrowest of the composed interfaces that covers their needs.
type GraphDriver interface {
	EpisodeStore
	EntityStore
	EdgeStore
	MentionStore
	PathFinder
	Admin

	// ExecuteQuery runs raw Cypher and returns the records as maps. It is
	// the escape hatch for one-off analytics queries.
	ExecuteQuery(ctx context.Context, cypher string, params map[string]any) ([]map[string]any, error)

	// Provider reports the database flavour.
	Provider() Provider

	// Close releases the connection pool.
	Close(ctx context.Context) error
}
