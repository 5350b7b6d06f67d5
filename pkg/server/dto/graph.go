package dto

import (
	"time"

	"github.com/soundprediction/anamnesis/pkg/search"
	"github.com/soundprediction/anamnesis/pkg/types"
)

// AddEpisodeRequest queues one episode for ingestion
type AddEpisodeRequest struct {
	Name              string     `json:"name" binding:"required"`
	Content           string     `json:"content" binding:"required"`
	GroupID           string     `json:"group_id"`
	Source            string     `json:"source"`
	SourceDescription string     `json:"source_description"`
	SourceURL         string     `json:"source_url"`
	UUID              string     `json:"uuid"`
	ValidAt           *time.Time `json:"valid_at"`
}

// AddEpisodeResponse acknowledges a queued episode
type AddEpisodeResponse struct {
	Status      string `json:"status"`
	Message     string `json:"message"`
	EpisodeName string `json:"episode_name"`
	GroupID     string `json:"group_id"`
}

// SearchRequest is the unified search body
type SearchRequest struct {
	Query          string   `json:"query" binding:"required"`
	SearchType     string   `json:"search_type"`
	MaxResults     int      `json:"max_results"`
	GroupIDs       []string `json:"group_ids"`
	EntityTypes    []string `json:"entity_types"`
	CenterNodeUUID string   `json:"center_node_uuid"`
}

// SearchResponse carries ranked results of any search type
type SearchResponse struct {
	Message    string `json:"message"`
	SearchType string `json:"search_type"`
	Results    any    `json:"results"`
	Count      int    `json:"count"`
}

// FactResponse wraps a single edge lookup
type FactResponse struct {
	Fact search.FactResult `json:"fact"`
}

// UpdateFactRequest supersedes a fact with new content. The node uuids
// move the successor onto different endpoints; attributes are merged
// onto the new edge.
type UpdateFactRequest struct {
	Fact           string         `json:"fact" binding:"required"`
	UpdateReason   string         `json:"update_reason"`
	EpisodeUUID    string         `json:"episode_uuid"`
	ValidAt        *time.Time     `json:"valid_at"`
	SourceNodeUUID string         `json:"source_node_uuid"`
	TargetNodeUUID string         `json:"target_node_uuid"`
	Attributes     map[string]any `json:"attributes"`
}

// UpdateFactResponse reports the supersede outcome
type UpdateFactResponse struct {
	Status  string            `json:"status"`
	OldUUID string            `json:"old_uuid"`
	NewUUID string            `json:"new_uuid"`
	Message string            `json:"message"`
	NewEdge search.FactResult `json:"new_edge"`
}

// DeleteResponse acknowledges a deletion
type DeleteResponse struct {
	Status  string `json:"status"`
	UUID    string `json:"uuid"`
	Message string `json:"message"`
}

// ClearRequest names the groups to wipe
type ClearRequest struct {
	GroupIDs []string `json:"group_ids" binding:"required"`
}

// ClearResponse acknowledges a wipe
type ClearResponse struct {
	Status   string   `json:"status"`
	GroupIDs []string `json:"group_ids"`
	Message  string   `json:"message"`
}

// EpisodesResponse lists episodes for a group
type EpisodesResponse struct {
	Episodes []*types.EpisodicNode `json:"episodes"`
	Count    int                   `json:"count"`
}

// CitationsResponse lists supporting episodes for a fact or entity
type CitationsResponse struct {
	UUID      string           `json:"uuid"`
	Kind      string           `json:"kind"`
	Citations []types.Citation `json:"citations"`
	Count     int              `json:"count"`
}

// CitationChainResponse is the chronological provenance chain
type CitationChainResponse struct {
	UUID  string                     `json:"uuid"`
	Kind  string                     `json:"kind"`
	Chain []types.CitationChainEntry `json:"chain"`
	Count int                        `json:"count"`
}
