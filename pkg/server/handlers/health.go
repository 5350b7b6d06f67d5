package handlers

import (
	"context"
	"net/http"
	"runtime"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/soundprediction/anamnesis/pkg/queue"
	"github.com/soundprediction/anamnesis/pkg/server/dto"
)

// Build information - can be set at build time using ldflags
var (
	Version   = "dev"
	GitCommit = "unknown"
	BuildTime = "unknown"
	GoVersion = runtime.Version()
)

// connectivityChecker is the driver slice health checks need.
type connectivityChecker interface {
	VerifyConnectivity(ctx context.Context) error
}

// queueInspector exposes ingestion progress.
type queueInspector interface {
	Counters() queue.Counters
}

// HealthHandler handles health and status requests
type HealthHandler struct {
	store connectivityChecker
	queue queueInspector
}

// NewHealthHandler creates a new health handler
func NewHealthHandler(store connectivityChecker, queueService queueInspector) *HealthHandler {
	return &HealthHandler{
		store: store,
		queue: queueService,
	}
}

// HealthCheck handles GET /health - basic liveness check
func (h *HealthHandler) HealthCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":    "healthy",
		"service":   "anamnesis",
		"timestamp": time.Now().UTC().Format(time.RFC3339),
		"version":   Version,
	})
}

// Status handles GET /status - database connectivity plus queue counters
func (h *HealthHandler) Status(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 5*time.Second)
	defer cancel()

	response := dto.StatusResponse{
		Status:   "ok",
		Service:  "anamnesis",
		Database: "connected",
	}
	if err := h.store.VerifyConnectivity(ctx); err != nil {
		response.Status = "degraded"
		response.Database = "unavailable"
	}
	if h.queue != nil {
		counters := h.queue.Counters()
		response.Queue = dto.QueueCounters{
			Enqueued:  counters.Enqueued,
			Succeeded: counters.Succeeded,
			Failed:    counters.Failed,
			Pending:   counters.Pending,
		}
	}

	status := http.StatusOK
	if response.Status != "ok" {
		status = http.StatusServiceUnavailable
	}
	c.JSON(status, response)
}
