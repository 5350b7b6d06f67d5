package handlers

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/soundprediction/anamnesis/pkg/search"
	"github.com/soundprediction/anamnesis/pkg/server/dto"
	"github.com/soundprediction/anamnesis/pkg/types"
)

const (
	defaultMaxResults = 10
	maxMaxResults     = 100
)

// searchService is the hybrid search surface the handler depends on.
type searchService interface {
	SearchFacts(ctx context.Context, q search.FactQuery) ([]search.FactResult, error)
	SearchNodes(ctx context.Context, q search.NodeQuery) ([]search.NodeResult, error)
	SearchEpisodes(ctx context.Context, groupIDs []string, maxResults int) ([]*types.EpisodicNode, error)
}

// SearchHandler handles hybrid search requests
type SearchHandler struct {
	search         searchService
	defaultGroupID string
	logger         *slog.Logger
}

// NewSearchHandler creates a new search handler
func NewSearchHandler(searchSvc searchService, defaultGroupID string, logger *slog.Logger) *SearchHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &SearchHandler{
		search:         searchSvc,
		defaultGroupID: defaultGroupID,
		logger:         logger,
	}
}

// Search handles POST /graph/search. search_type selects facts, nodes, or
// episodes; facts is the default.
func (h *SearchHandler) Search(c *gin.Context) {
	var req dto.SearchRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err.Error())
		return
	}

	if req.MaxResults == 0 {
		req.MaxResults = defaultMaxResults
	}
	if req.MaxResults < 1 || req.MaxResults > maxMaxResults {
		badRequest(c, fmt.Sprintf("max_results must be between 1 and %d", maxMaxResults))
		return
	}
	if req.SearchType == "" {
		req.SearchType = "facts"
	}
	groupIDs := req.GroupIDs
	if len(groupIDs) == 0 {
		groupIDs = []string{h.defaultGroupID}
	}

	ctx := c.Request.Context()
	var (
		results any
		count   int
		err     error
	)
	switch req.SearchType {
	case "facts":
		var facts []search.FactResult
		facts, err = h.search.SearchFacts(ctx, search.FactQuery{
			Query:          req.Query,
			GroupIDs:       groupIDs,
			MaxResults:     req.MaxResults,
			CenterNodeUUID: req.CenterNodeUUID,
		})
		results, count = facts, len(facts)
	case "nodes":
		var nodes []search.NodeResult
		nodes, err = h.search.SearchNodes(ctx, search.NodeQuery{
			Query:            req.Query,
			GroupIDs:         groupIDs,
			MaxResults:       req.MaxResults,
			EntityTypeLabels: req.EntityTypes,
		})
		results, count = nodes, len(nodes)
	case "episodes":
		var episodes []*types.EpisodicNode
		episodes, err = h.search.SearchEpisodes(ctx, groupIDs, req.MaxResults)
		results, count = episodes, len(episodes)
	default:
		badRequest(c, fmt.Sprintf("unknown search_type %q: must be facts, nodes, or episodes", req.SearchType))
		return
	}
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, dto.SearchResponse{
		Message:    fmt.Sprintf("found %d %s", count, req.SearchType),
		SearchType: req.SearchType,
		Results:    results,
		Count:      count,
	})
}
