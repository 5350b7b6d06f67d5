package driver

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j"
	"github.com/soundprediction/anamnesis/pkg/types"
)

var _ GraphDriver = (*Neo4jDriver)(nil)

// Neo4jDriver implements GraphDriver against a bolt-protocol store.
type Neo4jDriver struct {
	client   neo4j.DriverWithContext
	database string
	provider Provider
	logger   *slog.Logger
}

// NewNeo4jDriver connects to a Neo4j-compatible server. FalkorDB in bolt
// mode uses the same wire protocol; pass ProviderFalkorDB so operators
// see the right name in logs.
func NewNeo4jDriver(uri, username, password, database string, provider Provider, logger *slog.Logger) (*Neo4jDriver, error) {
	client, err := neo4j.NewDriverWithContext(uri, neo4j.BasicAuth(username, password, ""))
	if err != nil {
		return nil, fmt.Errorf("failed to create bolt driver: %w", err)
	}
	if database == "" {
		database = "neo4j"
	}
	if provider == "" {
		provider = ProviderNeo4j
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Neo4jDriver{client: client, database: database, provider: provider, logger: logger}, nil
}

// Provider reports the database flavour.
func (d *Neo4jDriver) Provider() Provider { return d.provider }

// Close releases the connection pool.
func (d *Neo4jDriver) Close(ctx context.Context) error {
	return d.client.Close(ctx)
}

// VerifyConnectivity checks the store can be reached.
func (d *Neo4jDriver) VerifyConnectivity(ctx context.Context) error {
	if err := d.client.VerifyConnectivity(ctx); err != nil {
		return fmt.Errorf("verify connectivity: %w", ErrUnavailable)
	}
	return nil
}

func (d *Neo4jDriver) session(ctx context.Context) neo4j.SessionWithContext {
	return d.client.NewSession(ctx, neo4j.SessionConfig{DatabaseName: d.database})
}

// readRecords runs a read query and collects the records as maps.
func (d *Neo4jDriver) readRecords(ctx context.Context, op, cypher string, params map[string]any) ([]map[string]any, error) {
	session := d.session(ctx)
	defer session.Close(ctx)

	result, err := session.ExecuteRead(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		res, err := tx.Run(ctx, cypher, params)
		if err != nil {
			return nil, err
		}
		var rows []map[string]any
		for res.Next(ctx) {
			rows = append(rows, res.Record().AsMap())
		}
		return rows, res.Err()
	})
	if err != nil {
		return nil, classifyError(op, err)
	}
	rows, _ := result.([]map[string]any)
	return rows, nil
}

// writeRecords runs a write query and collects the records as maps.
func (d *Neo4jDriver) writeRecords(ctx context.Context, op, cypher string, params map[string]any) ([]map[string]any, error) {
	session := d.session(ctx)
	defer session.Close(ctx)

	result, err := session.ExecuteWrite(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		res, err := tx.Run(ctx, cypher, params)
		if err != nil {
			return nil, err
		}
		var rows []map[string]any
		for res.Next(ctx) {
			rows = append(rows, res.Record().AsMap())
		}
		return rows, res.Err()
	})
	if err != nil {
		return nil, classifyError(op, err)
	}
	rows, _ := result.([]map[string]any)
	return rows, nil
}

// ExecuteQuery runs raw Cypher and returns the records as maps.
func (d *Neo4jDriver) ExecuteQuery(ctx context.Context, cypher string, params map[string]any) ([]map[string]any, error) {
	return d.readRecords(ctx, "execute_query", cypher, params)
}

// --- Episodes ---

const episodeReturn = `e.uuid AS uuid, e.name AS name, e.content AS content,
	       e.source AS source, e.source_description AS source_description,
	       e.source_url AS source_url, e.group_id AS group_id,
	       e.created_at AS created_at, e.valid_at AS valid_at`

func episodeFromRecord(rec map[string]any) *types.EpisodicNode {
	ep := &types.EpisodicNode{
		UUID:              asString(rec["uuid"]),
		Name:              asString(rec["name"]),
		Content:           asString(rec["content"]),
		Source:            types.EpisodeSource(asString(rec["source"])),
		SourceDescription: asString(rec["source_description"]),
		SourceURL:         asString(rec["source_url"]),
		GroupID:           asString(rec["group_id"]),
	}
	if t, ok := asTime(rec["created_at"]); ok {
		ep.CreatedAt = t
	}
	if t, ok := asTime(rec["valid_at"]); ok {
		ep.ValidAt = t
	}
	return ep
}

// GetEpisode retrieves one episodic node by uuid.
func (d *Neo4jDriver) GetEpisode(ctx context.Context, uuid string) (*types.EpisodicNode, error) {
	rows, err := d.readRecords(ctx, "get_episode", `
		MATCH (e:Episodic {uuid: $uuid})
		RETURN `+episodeReturn,
		map[string]any{"uuid": uuid})
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, fmt.Errorf("episode %s: %w", uuid, ErrNotFound)
	}
	return episodeFromRecord(rows[0]), nil
}

// GetEpisodes retrieves episodic nodes for the given uuids.
func (d *Neo4jDriver) GetEpisodes(ctx context.Context, uuids []string) ([]*types.EpisodicNode, error) {
	if len(uuids) == 0 {
		return nil, nil
	}
	rows, err := d.readRecords(ctx, "get_episodes", `
		MATCH (e:Episodic)
		WHERE e.uuid IN $uuids
		RETURN `+episodeReturn,
		map[string]any{"uuids": uuids})
	if err != nil {
		return nil, err
	}
	episodes := make([]*types.EpisodicNode, 0, len(rows))
	for _, rec := range rows {
		episodes = append(episodes, episodeFromRecord(rec))
	}
	return episodes, nil
}

// SaveEpisode creates or updates an episodic node.
func (d *Neo4jDriver) SaveEpisode(ctx context.Context, episode *types.EpisodicNode) error {
	if err := episode.Validate(); err != nil {
		return err
	}
	_, err := d.writeRecords(ctx, "save_episode", `
		MERGE (e:Episodic {uuid: $uuid})
		SET e.name = $name,
		    e.content = $content,
		    e.source = $source,
		    e.source_description = $source_description,
		    e.source_url = $source_url,
		    e.group_id = $group_id,
		    e.created_at = $created_at,
		    e.valid_at = $valid_at`,
		map[string]any{
			"uuid":               episode.UUID,
			"name":               episode.Name,
			"content":            episode.Content,
			"source":             string(episode.Source),
			"source_description": episode.SourceDescription,
			"source_url":         episode.SourceURL,
			"group_id":           episode.GroupID,
			"created_at":         episode.CreatedAt.UTC(),
			"valid_at":           episode.ValidAt.UTC(),
		})
	return err
}

// DeleteEpisode removes an episode, its MENTIONS links, and any entities
// no surviving episode mentions (together with their edges).
func (d *Neo4jDriver) DeleteEpisode(ctx context.Context, uuid string) error {
	if _, err := d.GetEpisode(ctx, uuid); err != nil {
		return err
	}
	_, err := d.writeRecords(ctx, "delete_episode", `
		MATCH (e:Episodic {uuid: $uuid})
		OPTIONAL MATCH (e)-[:MENTIONS]->(n:Entity)
		WITH e, collect(DISTINCT n) AS mentioned
		DETACH DELETE e
		WITH mentioned
		UNWIND mentioned AS n
		WITH n
		WHERE NOT EXISTS { MATCH (:Episodic)-[:MENTIONS]->(n) }
		DETACH DELETE n`,
		map[string]any{"uuid": uuid})
	return err
}

// EpisodesByGroup lists episodes for the groups, newest created_at first.
func (d *Neo4jDriver) EpisodesByGroup(ctx context.Context, groupIDs []string, limit int) ([]*types.EpisodicNode, error) {
	if len(groupIDs) == 0 {
		return nil, nil
	}
	rows, err := d.readRecords(ctx, "episodes_by_group", `
		MATCH (e:Episodic)
		WHERE e.group_id IN $group_ids
		RETURN `+episodeReturn+`
		ORDER BY e.created_at DESC
		LIMIT $limit`,
		map[string]any{"group_ids": groupIDs, "limit": limit})
	if err != nil {
		return nil, err
	}
	episodes := make([]*types.EpisodicNode, 0, len(rows))
	for _, rec := range rows {
		episodes = append(episodes, episodeFromRecord(rec))
	}
	return episodes, nil
}

// EpisodesChronological lists episodes ordered by valid_at ascending,
// optionally restricted to episodes mentioning the named entity.
func (d *Neo4jDriver) EpisodesChronological(ctx context.Context, groupIDs []string, mentionsEntity string) ([]*types.EpisodicNode, error) {
	if len(groupIDs) == 0 {
		return nil, nil
	}
	cypher := `
		MATCH (e:Episodic)
		WHERE e.group_id IN $group_ids`
	params := map[string]any{"group_ids": groupIDs}
	if mentionsEntity != "" {
		cypher += `
		AND EXISTS { MATCH (e)-[:MENTIONS]->(:Entity {name: $component}) }`
		params["component"] = mentionsEntity
	}
	cypher += `
		RETURN ` + episodeReturn + `
		ORDER BY e.valid_at ASC`

	rows, err := d.readRecords(ctx, "episodes_chronological", cypher, params)
	if err != nil {
		return nil, err
	}
	episodes := make([]*types.EpisodicNode, 0, len(rows))
	for _, rec := range rows {
		episodes = append(episodes, episodeFromRecord(rec))
	}
	return episodes, nil
}

// --- Entities ---

const entityReturn = `n.uuid AS uuid, n.name AS name, n.summary AS summary,
	       labels(n) AS labels, n.group_id AS group_id, n.name_embedding AS name_embedding,
	       n.created_at AS created_at, n.updated_at AS updated_at`

func entityFromRecord(rec map[string]any) *types.EntityNode {
	node := &types.EntityNode{
		UUID:          asString(rec["uuid"]),
		Name:          asString(rec["name"]),
		Summary:       asString(rec["summary"]),
		GroupID:       asString(rec["group_id"]),
		NameEmbedding: asFloat32Slice(rec["name_embedding"]),
		UpdatedAt:     asTimePtr(rec["updated_at"]),
	}
	for _, label := range asStringSlice(rec["labels"]) {
		if label != "Entity" {
			node.Labels = append(node.Labels, label)
		}
	}
	if t, ok := asTime(rec["created_at"]); ok {
		node.CreatedAt = t
	}
	if attrs := asMap(rec["attributes"]); attrs != nil {
		node.Attributes = attrs
	}
	return node
}

// GetEntity retrieves one entity node by uuid.
func (d *Neo4jDriver) GetEntity(ctx context.Context, uuid string) (*types.EntityNode, error) {
	rows, err := d.readRecords(ctx, "get_entity", `
		MATCH (n:Entity {uuid: $uuid})
		RETURN `+entityReturn,
		map[string]any{"uuid": uuid})
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, fmt.Errorf("entity %s: %w", uuid, ErrNotFound)
	}
	return entityFromRecord(rows[0]), nil
}

// SaveEntity creates or updates an entity node. Custom type labels from
// the entity schema are applied in addition to :Entity.
func (d *Neo4jDriver) SaveEntity(ctx context.Context, entity *types.EntityNode) error {
	if err := entity.Validate(); err != nil {
		return err
	}
	cypher := `
		MERGE (n:Entity {uuid: $uuid})
		SET n.name = $name,
		    n.summary = $summary,
		    n.group_id = $group_id,
		    n.name_embedding = $name_embedding,
		    n.created_at = $created_at,
		    n.updated_at = $updated_at`
	for _, label := range entity.Labels {
		if isSafeLabel(label) {
			cypher += fmt.Sprintf("\n\t\tSET n:%s", label)
		}
	}
	var updatedAt any
	if entity.UpdatedAt != nil {
		updatedAt = entity.UpdatedAt.UTC()
	}
	_, err := d.writeRecords(ctx, "save_entity", cypher, map[string]any{
		"uuid":           entity.UUID,
		"name":           entity.Name,
		"summary":        entity.Summary,
		"group_id":       entity.GroupID,
		"name_embedding": float32sToFloat64s(entity.NameEmbedding),
		"created_at":     entity.CreatedAt.UTC(),
		"updated_at":     updatedAt,
	})
	return err
}

// EntitiesByGroup lists entity nodes for the groups.
func (d *Neo4jDriver) EntitiesByGroup(ctx context.Context, groupIDs []string, limit int) ([]*types.EntityNode, error) {
	if len(groupIDs) == 0 {
		return nil, nil
	}
	rows, err := d.readRecords(ctx, "entities_by_group", `
		MATCH (n:Entity)
		WHERE n.group_id IN $group_ids
		RETURN `+entityReturn+`
		ORDER BY n.created_at DESC
		LIMIT $limit`,
		map[string]any{"group_ids": groupIDs, "limit": limit})
	if err != nil {
		return nil, err
	}
	nodes := make([]*types.EntityNode, 0, len(rows))
	for _, rec := range rows {
		nodes = append(nodes, entityFromRecord(rec))
	}
	return nodes, nil
}

// SearchEntitiesByEmbedding ranks entities by cosine similarity of
// name_embedding against the query vector. Similarity is computed in
// Cypher so the same query works on stores without a vector index.
func (d *Neo4jDriver) SearchEntitiesByEmbedding(ctx context.Context, vector []float32, groupIDs []string, limit int) ([]*types.EntityNode, error) {
	if len(groupIDs) == 0 || len(vector) == 0 {
		return nil, nil
	}
	rows, err := d.readRecords(ctx, "search_entities_by_embedding", `
		MATCH (n:Entity)
		WHERE n.group_id IN $group_ids AND n.name_embedding IS NOT NULL
		WITH n,
		     reduce(dot = 0.0, i IN range(0, size(n.name_embedding)-1) |
		            dot + n.name_embedding[i] * $vector[i]) AS dot,
		     sqrt(reduce(l2 = 0.0, x IN n.name_embedding | l2 + x * x)) AS norm
		WHERE norm > 0
		RETURN `+entityReturn+`, dot / (norm * $query_norm) AS score
		ORDER BY score DESC
		LIMIT $limit`,
		map[string]any{
			"group_ids":  groupIDs,
			"vector":     float32sToFloat64s(vector),
			"query_norm": vectorNorm(vector),
			"limit":      limit,
		})
	if err != nil {
		return nil, err
	}
	nodes := make([]*types.EntityNode, 0, len(rows))
	for _, rec := range rows {
		nodes = append(nodes, entityFromRecord(rec))
	}
	return nodes, nil
}

// --- Edges ---

const edgeReturn = `e.uuid AS uuid, e.name AS name, e.fact AS fact,
	       e.fact_embedding AS fact_embedding, e.episodes AS episodes,
	       e.group_id AS group_id, e.created_at AS created_at,
	       e.valid_at AS valid_at, e.invalid_at AS invalid_at,
	       e.expired_at AS expired_at, e.updated_at AS updated_at,
	       properties(e) AS attributes,
	       n.uuid AS source_node_uuid, m.uuid AS target_node_uuid`

// edgePropertyKeys are the reserved edge columns excluded from the open
// attribute bag.
var edgePropertyKeys = map[string]struct{}{
	"uuid": {}, "name": {}, "fact": {}, "fact_embedding": {}, "episodes": {},
	"group_id": {}, "created_at": {}, "valid_at": {}, "invalid_at": {},
	"expired_at": {}, "updated_at": {},
}

func edgeFromRecord(rec map[string]any) *types.EntityEdge {
	edge := &types.EntityEdge{
		UUID:           asString(rec["uuid"]),
		Name:           asString(rec["name"]),
		Fact:           asString(rec["fact"]),
		FactEmbedding:  asFloat32Slice(rec["fact_embedding"]),
		Episodes:       asStringSlice(rec["episodes"]),
		GroupID:        asString(rec["group_id"]),
		SourceNodeUUID: asString(rec["source_node_uuid"]),
		TargetNodeUUID: asString(rec["target_node_uuid"]),
		ValidAt:        asTimePtr(rec["valid_at"]),
		InvalidAt:      asTimePtr(rec["invalid_at"]),
		ExpiredAt:      asTimePtr(rec["expired_at"]),
		UpdatedAt:      asTimePtr(rec["updated_at"]),
	}
	if t, ok := asTime(rec["created_at"]); ok {
		edge.CreatedAt = t
	}
	if props := asMap(rec["attributes"]); props != nil {
		for k, v := range props {
			if _, reserved := edgePropertyKeys[k]; reserved {
				continue
			}
			if edge.Attributes == nil {
				edge.Attributes = make(map[string]any)
			}
			edge.Attributes[k] = v
		}
	}
	return edge
}

// GetEdge retrieves one entity edge by uuid.
func (d *Neo4jDriver) GetEdge(ctx context.Context, uuid string) (*types.EntityEdge, error) {
	rows, err := d.readRecords(ctx, "get_edge", `
		MATCH (n:Entity)-[e:RELATES_TO {uuid: $uuid}]->(m:Entity)
		RETURN `+edgeReturn,
		map[string]any{"uuid": uuid})
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, fmt.Errorf("edge %s: %w", uuid, ErrNotFound)
	}
	return edgeFromRecord(rows[0]), nil
}

// SaveEdge creates or replaces an entity edge with its full property set.
func (d *Neo4jDriver) SaveEdge(ctx context.Context, edge *types.EntityEdge) error {
	if err := edge.Validate(); err != nil {
		return err
	}
	props := map[string]any{
		"uuid":           edge.UUID,
		"name":           edge.Name,
		"fact":           edge.Fact,
		"fact_embedding": float32sToFloat64s(edge.FactEmbedding),
		"episodes":       edge.Episodes,
		"group_id":       edge.GroupID,
		"created_at":     edge.CreatedAt.UTC(),
	}
	for key, t := range map[string]*time.Time{
		"valid_at":   edge.ValidAt,
		"invalid_at": edge.InvalidAt,
		"expired_at": edge.ExpiredAt,
		"updated_at": edge.UpdatedAt,
	} {
		if t != nil {
			props[key] = t.UTC()
		}
	}
	for k, v := range edge.Attributes {
		if _, reserved := edgePropertyKeys[k]; !reserved {
			props[k] = v
		}
	}
	_, err := d.writeRecords(ctx, "save_edge", `
		MATCH (n:Entity {uuid: $source_uuid})
		MATCH (m:Entity {uuid: $target_uuid})
		MERGE (n)-[e:RELATES_TO {uuid: $uuid}]->(m)
		SET e = $props`,
		map[string]any{
			"source_uuid": edge.SourceNodeUUID,
			"target_uuid": edge.TargetNodeUUID,
			"uuid":        edge.UUID,
			"props":       props,
		})
	return err
}

// ExpireEdge sets expired_at as a direct property update so the stored
// fact_embedding survives untouched.
func (d *Neo4jDriver) ExpireEdge(ctx context.Context, uuid string, expiredAt time.Time) error {
	rows, err := d.writeRecords(ctx, "expire_edge", `
		MATCH ()-[e:RELATES_TO {uuid: $uuid}]->()
		SET e.expired_at = $expired_at
		RETURN e.uuid AS uuid`,
		map[string]any{"uuid": uuid, "expired_at": expiredAt.UTC()})
	if err != nil {
		return err
	}
	if len(rows) == 0 {
		return fmt.Errorf("edge %s: %w", uuid, ErrNotFound)
	}
	return nil
}

// InvalidateEdge sets invalid_at as a direct property update.
func (d *Neo4jDriver) InvalidateEdge(ctx context.Context, uuid string, invalidAt time.Time) error {
	rows, err := d.writeRecords(ctx, "invalidate_edge", `
		MATCH ()-[e:RELATES_TO {uuid: $uuid}]->()
		SET e.invalid_at = $invalid_at
		RETURN e.uuid AS uuid`,
		map[string]any{"uuid": uuid, "invalid_at": invalidAt.UTC()})
	if err != nil {
		return err
	}
	if len(rows) == 0 {
		return fmt.Errorf("edge %s: %w", uuid, ErrNotFound)
	}
	return nil
}

// AppendEpisodeToEdge adds an episode uuid to the edge's citation list.
func (d *Neo4jDriver) AppendEpisodeToEdge(ctx context.Context, edgeUUID, episodeUUID string, validAt *time.Time) error {
	cypher := `
		MATCH ()-[e:RELATES_TO {uuid: $uuid}]->()
		SET e.episodes = [x IN coalesce(e.episodes, []) WHERE x <> $episode] + $episode`
	params := map[string]any{"uuid": edgeUUID, "episode": episodeUUID}
	if validAt != nil {
		cypher += `,
		    e.valid_at = $valid_at`
		params["valid_at"] = validAt.UTC()
	}
	cypher += `
		RETURN e.uuid AS uuid`
	rows, err := d.writeRecords(ctx, "append_episode_to_edge", cypher, params)
	if err != nil {
		return err
	}
	if len(rows) == 0 {
		return fmt.Errorf("edge %s: %w", edgeUUID, ErrNotFound)
	}
	return nil
}

// DeleteEdge removes an entity edge.
func (d *Neo4jDriver) DeleteEdge(ctx context.Context, uuid string) error {
	rows, err := d.writeRecords(ctx, "delete_edge", `
		MATCH ()-[e:RELATES_TO {uuid: $uuid}]->()
		DELETE e
		RETURN $uuid AS uuid`,
		map[string]any{"uuid": uuid})
	if err != nil {
		return err
	}
	if len(rows) == 0 {
		return fmt.Errorf("edge %s: %w", uuid, ErrNotFound)
	}
	return nil
}

// edgesBetweenQuery matches the pair undirected, then realigns n/m to
// the stored edge direction so edgeReturn reads the true endpoints. The
// undirected MATCH binds fresh variables; Cypher rejects re-aliasing a
// bound variable in WITH.
const edgesBetweenQuery = `
	MATCH (a:Entity {uuid: $source_uuid})-[e:RELATES_TO]-(b:Entity {uuid: $target_uuid})
	WITH startNode(e) AS n, endNode(e) AS m, e
	RETURN ` + edgeReturn

// EdgesBetween lists edges in either direction between two entities.
func (d *Neo4jDriver) EdgesBetween(ctx context.Context, sourceUUID, targetUUID string) ([]*types.EntityEdge, error) {
	rows, err := d.readRecords(ctx, "edges_between", edgesBetweenQuery,
		map[string]any{"source_uuid": sourceUUID, "target_uuid": targetUUID})
	if err != nil {
		return nil, err
	}
	edges := make([]*types.EntityEdge, 0, len(rows))
	for _, rec := range rows {
		edges = append(edges, edgeFromRecord(rec))
	}
	return edges, nil
}

// EdgesByGroup lists entity edges for the groups, newest created_at first.
func (d *Neo4jDriver) EdgesByGroup(ctx context.Context, groupIDs []string, limit int) ([]*types.EntityEdge, error) {
	if len(groupIDs) == 0 {
		return nil, nil
	}
	rows, err := d.readRecords(ctx, "edges_by_group", `
		MATCH (n:Entity)-[e:RELATES_TO]->(m:Entity)
		WHERE e.group_id IN $group_ids
		RETURN `+edgeReturn+`
		ORDER BY e.created_at DESC
		LIMIT $limit`,
		map[string]any{"group_ids": groupIDs, "limit": limit})
	if err != nil {
		return nil, err
	}
	edges := make([]*types.EntityEdge, 0, len(rows))
	for _, rec := range rows {
		edges = append(edges, edgeFromRecord(rec))
	}
	return edges, nil
}

// SearchEdgesByEmbedding ranks edges by cosine similarity of
// fact_embedding against the query vector.
func (d *Neo4jDriver) SearchEdgesByEmbedding(ctx context.Context, vector []float32, groupIDs []string, limit int) ([]*types.EntityEdge, error) {
	if len(groupIDs) == 0 || len(vector) == 0 {
		return nil, nil
	}
	rows, err := d.readRecords(ctx, "search_edges_by_embedding", `
		MATCH (n:Entity)-[e:RELATES_TO]->(m:Entity)
		WHERE e.group_id IN $group_ids AND e.fact_embedding IS NOT NULL
		WITH n, m, e,
		     reduce(dot = 0.0, i IN range(0, size(e.fact_embedding)-1) |
		            dot + e.fact_embedding[i] * $vector[i]) AS dot,
		     sqrt(reduce(l2 = 0.0, x IN e.fact_embedding | l2 + x * x)) AS norm
		WHERE norm > 0
		RETURN `+edgeReturn+`, dot / (norm * $query_norm) AS score
		ORDER BY score DESC
		LIMIT $limit`,
		map[string]any{
			"group_ids":  groupIDs,
			"vector":     float32sToFloat64s(vector),
			"query_norm": vectorNorm(vector),
			"limit":      limit,
		})
	if err != nil {
		return nil, err
	}
	edges := make([]*types.EntityEdge, 0, len(rows))
	for _, rec := range rows {
		edges = append(edges, edgeFromRecord(rec))
	}
	return edges, nil
}

// --- Mentions ---

// SaveMention links an episode to an entity it mentions.
func (d *Neo4jDriver) SaveMention(ctx context.Context, episodeUUID, entityUUID, groupID string) error {
	_, err := d.writeRecords(ctx, "save_mention", `
		MATCH (e:Episodic {uuid: $episode_uuid})
		MATCH (n:Entity {uuid: $entity_uuid})
		MERGE (e)-[r:MENTIONS]->(n)
		SET r.group_id = $group_id,
		    r.created_at = coalesce(r.created_at, $created_at)`,
		map[string]any{
			"episode_uuid": episodeUUID,
			"entity_uuid":  entityUUID,
			"group_id":     groupID,
			"created_at":   time.Now().UTC(),
		})
	return err
}

// MentionedEntities lists entities a given episode mentions.
func (d *Neo4jDriver) MentionedEntities(ctx context.Context, episodeUUID string) ([]*types.EntityNode, error) {
	rows, err := d.readRecords(ctx, "mentioned_entities", `
		MATCH (:Episodic {uuid: $episode_uuid})-[:MENTIONS]->(n:Entity)
		RETURN `+entityReturn,
		map[string]any{"episode_uuid": episodeUUID})
	if err != nil {
		return nil, err
	}
	nodes := make([]*types.EntityNode, 0, len(rows))
	for _, rec := range rows {
		nodes = append(nodes, entityFromRecord(rec))
	}
	return nodes, nil
}

// EpisodesMentioning lists episodes that mention a given entity, oldest
// first so citation chains come back in chronological order.
func (d *Neo4jDriver) EpisodesMentioning(ctx context.Context, entityUUID string) ([]*types.EpisodicNode, error) {
	rows, err := d.readRecords(ctx, "episodes_mentioning", `
		MATCH (e:Episodic)-[:MENTIONS]->(:Entity {uuid: $entity_uuid})
		RETURN `+episodeReturn+`
		ORDER BY e.created_at ASC`,
		map[string]any{"entity_uuid": entityUUID})
	if err != nil {
		return nil, err
	}
	episodes := make([]*types.EpisodicNode, 0, len(rows))
	for _, rec := range rows {
		episodes = append(episodes, episodeFromRecord(rec))
	}
	return episodes, nil
}

// CausalRelationsForEpisode lists RELATES_TO edges between entities the
// episode mentions whose fact text contains a causality keyword.
func (d *Neo4jDriver) CausalRelationsForEpisode(ctx context.Context, episodeUUID string, keywords []string) ([]CausalRelation, error) {
	rows, err := d.readRecords(ctx, "causal_relations_for_episode", `
		MATCH (ep:Episodic {uuid: $episode_uuid})-[:MENTIONS]->(a:Entity)
		MATCH (a)-[r:RELATES_TO]->(b:Entity)
		WHERE any(keyword IN $keywords WHERE toLower(r.fact) CONTAINS keyword)
		RETURN a.name AS from_entity, r.fact AS relationship, b.name AS to_entity`,
		map[string]any{"episode_uuid": episodeUUID, "keywords": keywords})
	if err != nil {
		return nil, err
	}
	relations := make([]CausalRelation, 0, len(rows))
	for _, rec := range rows {
		relations = append(relations, CausalRelation{
			FromEntity:   asString(rec["from_entity"]),
			ToEntity:     asString(rec["to_entity"]),
			Relationship: asString(rec["relationship"]),
		})
	}
	return relations, nil
}

// --- Paths ---

// PathLengths returns the shortest RELATES_TO hop count from the center
// entity to each target. Unreachable targets are absent from the result.
func (d *Neo4jDriver) PathLengths(ctx context.Context, centerUUID string, targetUUIDs []string) (map[string]int, error) {
	if len(targetUUIDs) == 0 {
		return map[string]int{}, nil
	}
	rows, err := d.readRecords(ctx, "path_lengths", `
		MATCH (c:Entity {uuid: $center})
		UNWIND $targets AS target
		MATCH (t:Entity {uuid: target})
		MATCH p = shortestPath((c)-[:RELATES_TO*..10]-(t))
		RETURN target AS uuid, length(p) AS hops`,
		map[string]any{"center": centerUUID, "targets": targetUUIDs})
	if err != nil {
		return nil, err
	}
	lengths := make(map[string]int, len(rows))
	for _, rec := range rows {
		if hops, ok := rec["hops"].(int64); ok {
			lengths[asString(rec["uuid"])] = int(hops)
		}
	}
	return lengths, nil
}

// --- Admin ---

// CreateIndices creates uuid uniqueness constraints and group_id indexes.
func (d *Neo4jDriver) CreateIndices(ctx context.Context) error {
	statements := []string{
		`CREATE CONSTRAINT episodic_uuid IF NOT EXISTS FOR (e:Episodic) REQUIRE e.uuid IS UNIQUE`,
		`CREATE CONSTRAINT entity_uuid IF NOT EXISTS FOR (n:Entity) REQUIRE n.uuid IS UNIQUE`,
		`CREATE INDEX episodic_group_id IF NOT EXISTS FOR (e:Episodic) ON (e.group_id)`,
		`CREATE INDEX entity_group_id IF NOT EXISTS FOR (n:Entity) ON (n.group_id)`,
		`CREATE INDEX relates_to_group_id IF NOT EXISTS FOR ()-[e:RELATES_TO]-() ON (e.group_id)`,
	}
	for _, stmt := range statements {
		if _, err := d.writeRecords(ctx, "create_indices", stmt, nil); err != nil {
			return err
		}
	}
	return nil
}

// ClearGroup removes every node and edge belonging to the group.
func (d *Neo4jDriver) ClearGroup(ctx context.Context, groupID string) error {
	_, err := d.writeRecords(ctx, "clear_group", `
		MATCH (n {group_id: $group_id})
		DETACH DELETE n`,
		map[string]any{"group_id": groupID})
	return err
}
