package handlers

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/soundprediction/anamnesis/pkg/citations"
	"github.com/soundprediction/anamnesis/pkg/search"
	"github.com/soundprediction/anamnesis/pkg/server/dto"
	"github.com/soundprediction/anamnesis/pkg/types"
)

const defaultEpisodeLimit = 20

// graphStore is the driver slice the graph CRUD handlers depend on.
type graphStore interface {
	GetEdge(ctx context.Context, uuid string) (*types.EntityEdge, error)
	DeleteEdge(ctx context.Context, uuid string) error
	DeleteEpisode(ctx context.Context, uuid string) error
	EpisodesByGroup(ctx context.Context, groupIDs []string, limit int) ([]*types.EpisodicNode, error)
	ClearGroup(ctx context.Context, groupID string) error
}

// factUpdater supersedes a fact with a new edge version.
type factUpdater interface {
	UpdateFact(ctx context.Context, edgeUUID string, req citations.UpdateRequest) (*citations.UpdateResult, error)
}

// edgeCiter resolves the citation list for an edge lookup.
type edgeCiter interface {
	ForEdge(ctx context.Context, edge *types.EntityEdge) ([]types.Citation, error)
}

// GraphHandler handles fact and episode CRUD requests
type GraphHandler struct {
	store          graphStore
	updater        factUpdater
	citer          edgeCiter
	defaultGroupID string
	logger         *slog.Logger
}

// NewGraphHandler creates a new graph handler
func NewGraphHandler(store graphStore, updater factUpdater, citer edgeCiter, defaultGroupID string, logger *slog.Logger) *GraphHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &GraphHandler{
		store:          store,
		updater:        updater,
		citer:          citer,
		defaultGroupID: defaultGroupID,
		logger:         logger,
	}
}

// GetFact handles GET /graph/facts/:uuid
func (h *GraphHandler) GetFact(c *gin.Context) {
	ctx := c.Request.Context()
	edge, err := h.store.GetEdge(ctx, c.Param("uuid"))
	if err != nil {
		respondError(c, err)
		return
	}

	edgeCitations, err := h.citer.ForEdge(ctx, edge)
	if err != nil {
		h.logger.Warn("citation resolution failed", "edge", edge.UUID, "error", err)
	}
	c.JSON(http.StatusOK, dto.FactResponse{Fact: factResultFromEdge(edge, edgeCitations)})
}

// DeleteFact handles DELETE /graph/facts/:uuid
func (h *GraphHandler) DeleteFact(c *gin.Context) {
	uuid := c.Param("uuid")
	if err := h.store.DeleteEdge(c.Request.Context(), uuid); err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, dto.DeleteResponse{
		Status:  "deleted",
		UUID:    uuid,
		Message: "entity edge deleted",
	})
}

// UpdateFact handles PATCH /graph/facts/:uuid. The old edge version is
// expired and a successor inheriting its citations is written.
func (h *GraphHandler) UpdateFact(c *gin.Context) {
	var req dto.UpdateFactRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err.Error())
		return
	}

	result, err := h.updater.UpdateFact(c.Request.Context(), c.Param("uuid"), citations.UpdateRequest{
		Fact:           req.Fact,
		UpdateReason:   req.UpdateReason,
		EpisodeUUID:    req.EpisodeUUID,
		ValidAt:        req.ValidAt,
		SourceNodeUUID: req.SourceNodeUUID,
		TargetNodeUUID: req.TargetNodeUUID,
		Attributes:     req.Attributes,
	})
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, dto.UpdateFactResponse{
		Status:  "updated",
		OldUUID: result.OldUUID,
		NewUUID: result.NewUUID,
		Message: fmt.Sprintf("fact %s superseded by %s", result.OldUUID, result.NewUUID),
		NewEdge: factResultFromEdge(result.Edge, result.Citations),
	})
}

// ListEpisodes handles GET /graph/episodes?group_id=&last_n=
func (h *GraphHandler) ListEpisodes(c *gin.Context) {
	groupID := c.Query("group_id")
	if groupID == "" {
		groupID = h.defaultGroupID
	}
	limit := defaultEpisodeLimit
	if raw := c.Query("last_n"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 1 {
			badRequest(c, "last_n must be a positive integer")
			return
		}
		limit = parsed
	}

	episodes, err := h.store.EpisodesByGroup(c.Request.Context(), []string{groupID}, limit)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, dto.EpisodesResponse{Episodes: episodes, Count: len(episodes)})
}

// DeleteEpisode handles DELETE /graph/episodes/:uuid
func (h *GraphHandler) DeleteEpisode(c *gin.Context) {
	uuid := c.Param("uuid")
	if err := h.store.DeleteEpisode(c.Request.Context(), uuid); err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, dto.DeleteResponse{
		Status:  "deleted",
		UUID:    uuid,
		Message: "episode and orphaned mentions deleted",
	})
}

// ClearGraph handles POST /graph/clear. Clearing requires explicit group
// ids; wiping every namespace in one call is not supported.
func (h *GraphHandler) ClearGraph(c *gin.Context) {
	var req dto.ClearRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err.Error())
		return
	}

	ctx := c.Request.Context()
	for _, groupID := range req.GroupIDs {
		if groupID == "" {
			badRequest(c, "group_ids must not contain empty values")
			return
		}
		if err := h.store.ClearGroup(ctx, groupID); err != nil {
			respondError(c, err)
			return
		}
		h.logger.Info("group cleared", "group_id", groupID)
	}
	c.JSON(http.StatusOK, dto.ClearResponse{
		Status:   "cleared",
		GroupIDs: req.GroupIDs,
		Message:  fmt.Sprintf("cleared %d group(s)", len(req.GroupIDs)),
	})
}

// factResultFromEdge mirrors the search result shape for single-edge
// lookups; embeddings never leave the service.
func factResultFromEdge(edge *types.EntityEdge, edgeCitations []types.Citation) search.FactResult {
	return search.FactResult{
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
