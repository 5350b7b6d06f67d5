package handlers

import (
	"fmt"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/soundprediction/anamnesis/pkg/server/dto"
	"github.com/soundprediction/anamnesis/pkg/types"
)

// episodeQueue accepts episodes for asynchronous processing.
type episodeQueue interface {
	Submit(sub types.EpisodeSubmission) error
}

// IngestHandler handles episode ingestion requests
type IngestHandler struct {
	queue          episodeQueue
	defaultGroupID string
	logger         *slog.Logger
}

// NewIngestHandler creates a new ingest handler
func NewIngestHandler(queue episodeQueue, defaultGroupID string, logger *slog.Logger) *IngestHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &IngestHandler{
		queue:          queue,
		defaultGroupID: defaultGroupID,
		logger:         logger,
	}
}

// AddEpisode handles POST /graph/episodes. The episode is queued; extraction
// happens in the background worker for its group.
func (h *IngestHandler) AddEpisode(c *gin.Context) {
	var req dto.AddEpisodeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err.Error())
		return
	}

	groupID := req.GroupID
	if groupID == "" {
		groupID = h.defaultGroupID
	}

	sub := types.EpisodeSubmission{
		UUID:              req.UUID,
		Name:              req.Name,
		Content:           req.Content,
		Source:            types.ParseEpisodeSource(req.Source),
		SourceDescription: req.SourceDescription,
		SourceURL:         req.SourceURL,
		GroupID:           groupID,
		ValidAt:           req.ValidAt,
	}
	if err := h.queue.Submit(sub); err != nil {
		respondError(c, err)
		return
	}

	h.logger.Info("episode queued", "name", req.Name, "group_id", groupID)
	c.JSON(http.StatusAccepted, dto.AddEpisodeResponse{
		Status:      "success",
		Message:     fmt.Sprintf("episode %q queued for processing", req.Name),
		EpisodeName: req.Name,
		GroupID:     groupID,
	})
}
