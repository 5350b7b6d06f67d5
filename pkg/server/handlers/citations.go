package handlers

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/soundprediction/anamnesis/pkg/driver"
	"github.com/soundprediction/anamnesis/pkg/server/dto"
	"github.com/soundprediction/anamnesis/pkg/types"
)

// citationResolver resolves provenance for edges and entities.
type citationResolver interface {
	ForEdge(ctx context.Context, edge *types.EntityEdge) ([]types.Citation, error)
	ForEntity(ctx context.Context, entityUUID string) ([]types.Citation, error)
	ChainForEdge(ctx context.Context, edge *types.EntityEdge) ([]types.CitationChainEntry, error)
	ChainForEntity(ctx context.Context, entityUUID string) ([]types.CitationChainEntry, error)
}

// citationStore looks up the subject of a citation query. A uuid may name
// either an edge or an entity; the edge is tried first.
type citationStore interface {
	GetEdge(ctx context.Context, uuid string) (*types.EntityEdge, error)
	GetEntity(ctx context.Context, uuid string) (*types.EntityNode, error)
}

// CitationsHandler handles citation and provenance-chain requests
type CitationsHandler struct {
	resolver citationResolver
	store    citationStore
	logger   *slog.Logger
}

// NewCitationsHandler creates a new citations handler
func NewCitationsHandler(resolver citationResolver, store citationStore, logger *slog.Logger) *CitationsHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &CitationsHandler{
		resolver: resolver,
		store:    store,
		logger:   logger,
	}
}

// GetCitations handles GET /graph/citations/:uuid
func (h *CitationsHandler) GetCitations(c *gin.Context) {
	ctx := c.Request.Context()
	uuid := c.Param("uuid")

	if edge, err := h.store.GetEdge(ctx, uuid); err == nil {
		edgeCitations, err := h.resolver.ForEdge(ctx, edge)
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, dto.CitationsResponse{
			UUID:      uuid,
			Kind:      "fact",
			Citations: edgeCitations,
			Count:     len(edgeCitations),
		})
		return
	} else if !errors.Is(err, driver.ErrNotFound) {
		respondError(c, err)
		return
	}

	if _, err := h.store.GetEntity(ctx, uuid); err != nil {
		respondError(c, err)
		return
	}
	entityCitations, err := h.resolver.ForEntity(ctx, uuid)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, dto.CitationsResponse{
		UUID:      uuid,
		Kind:      "entity",
		Citations: entityCitations,
		Count:     len(entityCitations),
	})
}

// GetCitationChain handles GET /graph/citations/:uuid/chain
func (h *CitationsHandler) GetCitationChain(c *gin.Context) {
	ctx := c.Request.Context()
	uuid := c.Param("uuid")

	if edge, err := h.store.GetEdge(ctx, uuid); err == nil {
		chain, err := h.resolver.ChainForEdge(ctx, edge)
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, dto.CitationChainResponse{
			UUID:  uuid,
			Kind:  "fact",
			Chain: chain,
			Count: len(chain),
		})
		return
	} else if !errors.Is(err, driver.ErrNotFound) {
		respondError(c, err)
		return
	}

	if _, err := h.store.GetEntity(ctx, uuid); err != nil {
		respondError(c, err)
		return
	}
	chain, err := h.resolver.ChainForEntity(ctx, uuid)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, dto.CitationChainResponse{
		UUID:  uuid,
		Kind:  "entity",
		Chain: chain,
		Count: len(chain),
	})
}
