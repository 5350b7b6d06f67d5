package server

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/soundprediction/anamnesis/pkg/analysis"
	"github.com/soundprediction/anamnesis/pkg/citations"
	"github.com/soundprediction/anamnesis/pkg/config"
	"github.com/soundprediction/anamnesis/pkg/driver"
	"github.com/soundprediction/anamnesis/pkg/queue"
	"github.com/soundprediction/anamnesis/pkg/search"
	"github.com/soundprediction/anamnesis/pkg/server/handlers"
)

// Dependencies carries the wired services the REST surface exposes.
type Dependencies struct {
	Store    driver.GraphDriver
	Queue    *queue.Service
	Search   *search.Service
	Resolver *citations.Resolver
	Updater  *citations.Updater
	Analyzer *analysis.Analyzer
	Logger   *slog.Logger
}

// Server represents the HTTP server
type Server struct {
	config *config.Config
	deps   Dependencies
	router *gin.Engine
	server *http.Server
}

// New creates a new server instance
func New(cfg *config.Config, deps Dependencies) *Server {
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	return &Server{
		config: cfg,
		deps:   deps,
	}
}

// Setup sets up the server routes and middleware
func (s *Server) Setup() {
	gin.SetMode(s.config.Server.Mode)

	s.router = gin.New()
	s.router.Use(gin.Logger())
	s.router.Use(gin.Recovery())
	s.router.Use(corsMiddleware())

	s.setupRoutes()

	addr := fmt.Sprintf("%s:%d", s.config.Server.Host, s.config.Server.Port)
	s.server = &http.Server{
		Addr:    addr,
		Handler: s.router,
	}
}

// Router returns the configured gin engine. Setup must run first.
func (s *Server) Router() *gin.Engine {
	return s.router
}

// setupRoutes sets up all the routes
func (s *Server) setupRoutes() {
	groupID := s.config.Graph.GroupID
	logger := s.deps.Logger

	healthHandler := handlers.NewHealthHandler(s.deps.Store, s.deps.Queue)
	ingestHandler := handlers.NewIngestHandler(s.deps.Queue, groupID, logger)
	searchHandler := handlers.NewSearchHandler(s.deps.Search, groupID, logger)
	graphHandler := handlers.NewGraphHandler(s.deps.Store, s.deps.Updater, s.deps.Resolver, groupID, logger)
	citationsHandler := handlers.NewCitationsHandler(s.deps.Resolver, s.deps.Store, logger)
	analysisHandler := handlers.NewAnalysisHandler(s.deps.Analyzer, groupID, s.config.Analysis.RecurrenceThreshold, logger)

	// Health endpoints
	s.router.GET("/health", healthHandler.HealthCheck)
	s.router.GET("/healthcheck", healthHandler.HealthCheck) // Legacy endpoint
	s.router.GET("/status", healthHandler.Status)

	graph := s.router.Group("/graph")
	{
		graph.POST("/episodes", ingestHandler.AddEpisode)
		graph.GET("/episodes", graphHandler.ListEpisodes)
		graph.DELETE("/episodes/:uuid", graphHandler.DeleteEpisode)

		graph.POST("/search", searchHandler.Search)

		graph.GET("/facts/:uuid", graphHandler.GetFact)
		graph.PATCH("/facts/:uuid", graphHandler.UpdateFact)
		graph.DELETE("/facts/:uuid", graphHandler.DeleteFact)

		graph.GET("/citations/:uuid", citationsHandler.GetCitations)
		graph.GET("/citations/:uuid/chain", citationsHandler.GetCitationChain)

		graph.POST("/clear", graphHandler.ClearGraph)

		analysisGroup := graph.Group("/analysis")
		{
			analysisGroup.GET("/causality-timeline", analysisHandler.CausalityTimeline)
			analysisGroup.GET("/recurring-incidents", analysisHandler.RecurringIncidents)
			analysisGroup.GET("/component-impact", analysisHandler.ComponentImpact)
			analysisGroup.GET("/component-severity", analysisHandler.ComponentSeverity)
			analysisGroup.GET("/flow-metrics", analysisHandler.FlowMetrics)
		}
	}
}

// Start starts the server
func (s *Server) Start() error {
	s.deps.Logger.Info("starting server", "addr", s.server.Addr)
	return s.server.ListenAndServe()
}

// Stop stops the server gracefully
func (s *Server) Stop(ctx context.Context) error {
	s.deps.Logger.Info("stopping server")
	return s.server.Shutdown(ctx)
}

// corsMiddleware adds CORS headers
func corsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Header("Access-Control-Allow-Origin", "*")
		c.Header("Access-Control-Allow-Credentials", "true")
		c.Header("Access-Control-Allow-Headers", "Content-Type, Content-Length, Accept-Encoding, X-CSRF-Token, Authorization, accept, origin, Cache-Control, X-Requested-With")
		c.Header("Access-Control-Allow-Methods", "POST, OPTIONS, GET, PUT, PATCH, DELETE")

		if c.Request.Method == "OPTIONS" {
			c.AbortWithStatus(204)
			return
		}

		c.Next()
	}
}
