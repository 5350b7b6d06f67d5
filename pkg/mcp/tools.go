package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/soundprediction/anamnesis/pkg/citations"
	"github.com/soundprediction/anamnesis/pkg/driver"
	"github.com/soundprediction/anamnesis/pkg/search"
	"github.com/soundprediction/anamnesis/pkg/types"
)

const defaultToolResults = 10

func stringProp(description string) map[string]any {
	return map[string]any{"type": "string", "description": description}
}

func intProp(description string) map[string]any {
	return map[string]any{"type": "integer", "description": description}
}

func stringArrayProp(description string) map[string]any {
	return map[string]any{
		"type":        "array",
		"items":       map[string]any{"type": "string"},
		"description": description,
	}
}

func objectProp(description string) map[string]any {
	return map[string]any{
		"type":                 "object",
		"additionalProperties": true,
		"description":          description,
	}
}

func objectSchema(properties map[string]any, required ...string) map[string]any {
	schema := map[string]any{
		"type":       "object",
		"properties": properties,
	}
	if len(required) > 0 {
		schema["required"] = required
	}
	return schema
}

func (s *Server) registerTools() {
	s.registerTool(
		"add_memory",
		"Add an episode to the memory graph. The episode is queued and processed asynchronously; entities and facts are extracted in the background.",
		objectSchema(map[string]any{
			"name":               stringProp("Short episode name"),
			"episode_body":       stringProp("Episode content to ingest"),
			"group_id":           stringProp("Optional namespace; the configured default is used when omitted"),
			"source":             stringProp("Content shape: text, message, or json"),
			"source_description": stringProp("Optional provenance description"),
			"source_url":         stringProp("Optional provenance URL"),
			"uuid":               stringProp("Optional episode uuid; re-submitting the same uuid is idempotent"),
		}, "name", "episode_body"),
		s.addMemory,
	)

	s.registerTool(
		"search_memory_facts",
		"Hybrid search over facts: vector similarity fused with BM25, optionally re-ranked by graph distance from a center node.",
		objectSchema(map[string]any{
			"query":            stringProp("Natural-language search query"),
			"group_ids":        stringArrayProp("Optional namespaces to search"),
			"max_facts":        intProp("Maximum facts to return (default 10, max 100)"),
			"center_node_uuid": stringProp("Optional entity uuid to re-rank results by graph proximity"),
		}, "query"),
		s.searchFacts,
	)

	s.registerTool(
		"search_nodes",
		"Hybrid search over entity nodes, optionally restricted to entity type labels.",
		objectSchema(map[string]any{
			"query":        stringProp("Natural-language search query"),
			"group_ids":    stringArrayProp("Optional namespaces to search"),
			"max_nodes":    intProp("Maximum nodes to return (default 10, max 100)"),
			"entity_types": stringArrayProp("Optional entity type labels to filter on"),
		}, "query"),
		s.searchNodes,
	)

	s.registerTool(
		"search_with_citations",
		"Fact search where every result carries its supporting episode citations.",
		objectSchema(map[string]any{
			"query":     stringProp("Natural-language search query"),
			"group_ids": stringArrayProp("Optional namespaces to search"),
			"max_facts": intProp("Maximum facts to return (default 10, max 100)"),
		}, "query"),
		s.searchWithCitations,
	)

	s.registerTool(
		"get_citation_chain",
		"Chronological provenance chain for a fact or entity: which episode created it, which updated it, which merely referenced it.",
		objectSchema(map[string]any{
			"uuid": stringProp("Fact (edge) or entity uuid"),
		}, "uuid"),
		s.getCitationChain,
	)

	s.registerTool(
		"update_fact",
		"Supersede a fact with corrected text. The old version is expired, never mutated; the successor inherits its citations.",
		objectSchema(map[string]any{
			"uuid":             stringProp("Edge uuid of the fact to update"),
			"fact":             stringProp("Corrected fact text"),
			"update_reason":    stringProp("Optional reason recorded on the new version"),
			"episode_uuid":     stringProp("Optional episode justifying the update"),
			"valid_at":         stringProp("Optional RFC3339 time the new fact became true; also closes the old version's validity"),
			"source_node_uuid": stringProp("Optional replacement source entity uuid for the successor"),
			"target_node_uuid": stringProp("Optional replacement target entity uuid for the successor"),
			"attributes":       objectProp("Optional attributes merged onto the successor edge"),
		}, "uuid", "fact"),
		s.updateFact,
	)

	s.registerTool(
		"get_entity_edge",
		"Fetch one fact by uuid, with citations.",
		objectSchema(map[string]any{
			"uuid": stringProp("Edge uuid"),
		}, "uuid"),
		s.getEntityEdge,
	)

	s.registerTool(
		"delete_entity_edge",
		"Delete one fact edge by uuid.",
		objectSchema(map[string]any{
			"uuid": stringProp("Edge uuid"),
		}, "uuid"),
		s.deleteEntityEdge,
	)

	s.registerTool(
		"get_episodes",
		"List the most recent episodes for a namespace.",
		objectSchema(map[string]any{
			"group_id": stringProp("Optional namespace; the configured default is used when omitted"),
			"last_n":   intProp("Number of episodes to return (default 10)"),
		}),
		s.getEpisodes,
	)

	s.registerTool(
		"delete_episode",
		"Delete an episode, its mention links, and any entities no other episode mentions.",
		objectSchema(map[string]any{
			"uuid": stringProp("Episode uuid"),
		}, "uuid"),
		s.deleteEpisode,
	)

	s.registerTool(
		"clear_graph",
		"Remove every node and edge in the given namespaces. Explicit group ids are required.",
		objectSchema(map[string]any{
			"group_ids": stringArrayProp("Namespaces to wipe"),
		}, "group_ids"),
		s.clearGraph,
	)

	s.registerTool(
		"get_status",
		"Report graph database connectivity and ingestion queue counters.",
		objectSchema(map[string]any{}),
		s.getStatus,
	)
}

func (s *Server) addMemory(ctx context.Context, args json.RawMessage) (any, error) {
	var req struct {
		Name              string `json:"name"`
		EpisodeBody       string `json:"episode_body"`
		GroupID           string `json:"group_id"`
		Source            string `json:"source"`
		SourceDescription string `json:"source_description"`
		SourceURL         string `json:"source_url"`
		UUID              string `json:"uuid"`
	}
	if err := json.Unmarshal(args, &req); err != nil {
		return nil, fmt.Errorf("invalid arguments: %w", err)
	}

	groupID := req.GroupID
	if groupID == "" {
		groupID = s.deps.DefaultGroupID
	}
	sub := types.EpisodeSubmission{
		UUID:              req.UUID,
		Name:              req.Name,
		Content:           req.EpisodeBody,
		Source:            types.ParseEpisodeSource(req.Source),
		SourceDescription: req.SourceDescription,
		SourceURL:         req.SourceURL,
		GroupID:           groupID,
	}
	if err := s.deps.Queue.Submit(sub); err != nil {
		return nil, err
	}
	return map[string]any{
		"status":   "success",
		"message":  fmt.Sprintf("episode %q queued for processing", req.Name),
		"group_id": groupID,
	}, nil
}

func (s *Server) searchFacts(ctx context.Context, args json.RawMessage) (any, error) {
	var req struct {
		Query          string   `json:"query"`
		GroupIDs       []string `json:"group_ids"`
		MaxFacts       int      `json:"max_facts"`
		CenterNodeUUID string   `json:"center_node_uuid"`
	}
	if err := json.Unmarshal(args, &req); err != nil {
		return nil, fmt.Errorf("invalid arguments: %w", err)
	}
	if req.MaxFacts <= 0 {
		req.MaxFacts = defaultToolResults
	}

	facts, err := s.deps.Search.SearchFacts(ctx, search.FactQuery{
		Query:          req.Query,
		GroupIDs:       s.groupIDs(req.GroupIDs),
		MaxResults:     req.MaxFacts,
		CenterNodeUUID: req.CenterNodeUUID,
	})
	if err != nil {
		return nil, err
	}
	return map[string]any{"facts": facts, "count": len(facts)}, nil
}

func (s *Server) searchNodes(ctx context.Context, args json.RawMessage) (any, error) {
	var req struct {
		Query       string   `json:"query"`
		GroupIDs    []string `json:"group_ids"`
		MaxNodes    int      `json:"max_nodes"`
		EntityTypes []string `json:"entity_types"`
	}
	if err := json.Unmarshal(args, &req); err != nil {
		return nil, fmt.Errorf("invalid arguments: %w", err)
	}
	if req.MaxNodes <= 0 {
		req.MaxNodes = defaultToolResults
	}

	nodes, err := s.deps.Search.SearchNodes(ctx, search.NodeQuery{
		Query:            req.Query,
		GroupIDs:         s.groupIDs(req.GroupIDs),
		MaxResults:       req.MaxNodes,
		EntityTypeLabels: req.EntityTypes,
	})
	if err != nil {
		return nil, err
	}
	return map[string]any{"nodes": nodes, "count": len(nodes)}, nil
}

func (s *Server) searchWithCitations(ctx context.Context, args json.RawMessage) (any, error) {
	var req struct {
		Query    string   `json:"query"`
		GroupIDs []string `json:"group_ids"`
		MaxFacts int      `json:"max_facts"`
	}
	if err := json.Unmarshal(args, &req); err != nil {
		return nil, fmt.Errorf("invalid arguments: %w", err)
	}
	if req.MaxFacts <= 0 {
		req.MaxFacts = defaultToolResults
	}

	facts, err := s.deps.Search.SearchFacts(ctx, search.FactQuery{
		Query:      req.Query,
		GroupIDs:   s.groupIDs(req.GroupIDs),
		MaxResults: req.MaxFacts,
	})
	if err != nil {
		return nil, err
	}

	cited := 0
	for _, fact := range facts {
		if len(fact.Citations) > 0 {
			cited++
		}
	}
	return map[string]any{
		"facts":            facts,
		"count":            len(facts),
		"facts_with_cites": cited,
	}, nil
}

func (s *Server) getCitationChain(ctx context.Context, args json.RawMessage) (any, error) {
	var req struct {
		UUID string `json:"uuid"`
	}
	if err := json.Unmarshal(args, &req); err != nil {
		return nil, fmt.Errorf("invalid arguments: %w", err)
	}

	if edge, err := s.deps.Store.GetEdge(ctx, req.UUID); err == nil {
		chain, err := s.deps.Resolver.ChainForEdge(ctx, edge)
		if err != nil {
			return nil, err
		}
		return map[string]any{"uuid": req.UUID, "kind": "fact", "chain": chain, "count": len(chain)}, nil
	} else if !errors.Is(err, driver.ErrNotFound) {
		return nil, err
	}

	chain, err := s.deps.Resolver.ChainForEntity(ctx, req.UUID)
	if err != nil {
		return nil, err
	}
	return map[string]any{"uuid": req.UUID, "kind": "entity", "chain": chain, "count": len(chain)}, nil
}

func (s *Server) updateFact(ctx context.Context, args json.RawMessage) (any, error) {
	var req struct {
		UUID           string         `json:"uuid"`
		Fact           string         `json:"fact"`
		UpdateReason   string         `json:"update_reason"`
		EpisodeUUID    string         `json:"episode_uuid"`
		ValidAt        string         `json:"valid_at"`
		SourceNodeUUID string         `json:"source_node_uuid"`
		TargetNodeUUID string         `json:"target_node_uuid"`
		Attributes     map[string]any `json:"attributes"`
	}
	if err := json.Unmarshal(args, &req); err != nil {
		return nil, fmt.Errorf("invalid arguments: %w", err)
	}

	var validAt *time.Time
	if req.ValidAt != "" {
		parsed, err := time.Parse(time.RFC3339, req.ValidAt)
		if err != nil {
			return nil, fmt.Errorf("valid_at must be RFC3339: %w", err)
		}
		validAt = &parsed
	}

	result, err := s.deps.Updater.UpdateFact(ctx, req.UUID, citations.UpdateRequest{
		Fact:           req.Fact,
		UpdateReason:   req.UpdateReason,
		EpisodeUUID:    req.EpisodeUUID,
		ValidAt:        validAt,
		SourceNodeUUID: req.SourceNodeUUID,
		TargetNodeUUID: req.TargetNodeUUID,
		Attributes:     req.Attributes,
	})
	if err != nil {
		return nil, err
	}
	return map[string]any{
		"status":   "updated",
		"old_uuid": result.OldUUID,
		"new_uuid": result.NewUUID,
		"new_edge": result.Edge,
	}, nil
}

func (s *Server) getEntityEdge(ctx context.Context, args json.RawMessage) (any, error) {
	var req struct {
		UUID string `json:"uuid"`
	}
	if err := json.Unmarshal(args, &req); err != nil {
		return nil, fmt.Errorf("invalid arguments: %w", err)
	}

	edge, err := s.deps.Store.GetEdge(ctx, req.UUID)
	if err != nil {
		return nil, err
	}
	edgeCitations, err := s.deps.Resolver.ForEdge(ctx, edge)
	if err != nil {
		s.logger.Warn("citation resolution failed", "edge", edge.UUID, "error", err)
	}

	// Strip the embedding before returning.
	edge.FactEmbedding = nil
	return map[string]any{"fact": edge, "citations": edgeCitations}, nil
}

func (s *Server) deleteEntityEdge(ctx context.Context, args json.RawMessage) (any, error) {
	var req struct {
		UUID string `json:"uuid"`
	}
	if err := json.Unmarshal(args, &req); err != nil {
		return nil, fmt.Errorf("invalid arguments: %w", err)
	}
	if err := s.deps.Store.DeleteEdge(ctx, req.UUID); err != nil {
		return nil, err
	}
	return map[string]any{"status": "deleted", "uuid": req.UUID}, nil
}

func (s *Server) getEpisodes(ctx context.Context, args json.RawMessage) (any, error) {
	var req struct {
		GroupID string `json:"group_id"`
		LastN   int    `json:"last_n"`
	}
	if err := json.Unmarshal(args, &req); err != nil {
		return nil, fmt.Errorf("invalid arguments: %w", err)
	}
	if req.GroupID == "" {
		req.GroupID = s.deps.DefaultGroupID
	}
	if req.LastN <= 0 {
		req.LastN = defaultToolResults
	}

	episodes, err := s.deps.Store.EpisodesByGroup(ctx, []string{req.GroupID}, req.LastN)
	if err != nil {
		return nil, err
	}
	return map[string]any{"episodes": episodes, "count": len(episodes)}, nil
}

func (s *Server) deleteEpisode(ctx context.Context, args json.RawMessage) (any, error) {
	var req struct {
		UUID string `json:"uuid"`
	}
	if err := json.Unmarshal(args, &req); err != nil {
		return nil, fmt.Errorf("invalid arguments: %w", err)
	}
	if err := s.deps.Store.DeleteEpisode(ctx, req.UUID); err != nil {
		return nil, err
	}
	return map[string]any{"status": "deleted", "uuid": req.UUID}, nil
}

func (s *Server) clearGraph(ctx context.Context, args json.RawMessage) (any, error) {
	var req struct {
		GroupIDs []string `json:"group_ids"`
	}
	if err := json.Unmarshal(args, &req); err != nil {
		return nil, fmt.Errorf("invalid arguments: %w", err)
	}
	if len(req.GroupIDs) == 0 {
		return nil, errors.New("group_ids must be specified; clearing all data is not supported")
	}

	for _, groupID := range req.GroupIDs {
		if groupID == "" {
			return nil, errors.New("group_ids must not contain empty values")
		}
		if err := s.deps.Store.ClearGroup(ctx, groupID); err != nil {
			return nil, fmt.Errorf("clear group %s: %w", groupID, err)
		}
	}
	return map[string]any{"status": "cleared", "group_ids": req.GroupIDs}, nil
}

func (s *Server) getStatus(ctx context.Context, args json.RawMessage) (any, error) {
	status := map[string]any{
		"status":   "ok",
		"database": "connected",
	}
	if err := s.deps.Store.VerifyConnectivity(ctx); err != nil {
		status["status"] = "degraded"
		status["database"] = "unavailable"
	}
	if s.deps.Queue != nil {
		counters := s.deps.Queue.Counters()
		status["queue"] = counters
	}
	return status, nil
}
