package commands

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/soundprediction/anamnesis/pkg/analysis"
	"github.com/soundprediction/anamnesis/pkg/citations"
	"github.com/soundprediction/anamnesis/pkg/config"
	"github.com/soundprediction/anamnesis/pkg/driver"
	"github.com/soundprediction/anamnesis/pkg/embedder"
	"github.com/soundprediction/anamnesis/pkg/extraction"
	"github.com/soundprediction/anamnesis/pkg/logger"
	"github.com/soundprediction/anamnesis/pkg/nlp"
	"github.com/soundprediction/anamnesis/pkg/queue"
	"github.com/soundprediction/anamnesis/pkg/search"
	"github.com/soundprediction/anamnesis/pkg/types"
)

// Services bundles the wired components shared by the serve and mcp
// commands.
type Services struct {
	Config   *config.Config
	Logger   *slog.Logger
	Driver   *driver.Neo4jDriver
	LLM      nlp.Client
	Embedder embedder.Client
	Resolver *citations.Resolver
	Updater  *citations.Updater
	Queue    *queue.Service
	Search   *search.Service
	Analyzer *analysis.Analyzer
}

// buildServices loads configuration and wires the full service graph:
// driver, LLM and embedding gateways, citation machinery, extraction
// pipeline, ingestion queue, search, and analytics.
func buildServices() (*Services, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}

	log := logger.NewDefaultLogger(logger.ParseLevel(cfg.Log.Level))

	graphDriver, err := driver.NewNeo4jDriver(
		cfg.Database.URI,
		cfg.Database.Username,
		cfg.Database.Password,
		cfg.Database.Database,
		driver.Provider(cfg.Database.Provider),
		log,
	)
	if err != nil {
		return nil, fmt.Errorf("connecting to graph database: %w", err)
	}

	temperature := cfg.LLM.Temperature
	maxTokens := cfg.LLM.MaxTokens
	var llmClient nlp.Client
	llmClient, err = nlp.NewOpenAIClient(cfg.LLM.APIKey, nlp.OpenAIConfig{
		Model:       cfg.LLM.Model,
		Temperature: &temperature,
		MaxTokens:   &maxTokens,
		BaseURL:     cfg.LLM.BaseURL,
	}, log)
	if err != nil {
		return nil, fmt.Errorf("building language model client: %w", err)
	}
	if cfg.CircuitBreaker.Enabled {
		llmClient = nlp.NewBreakerClient(llmClient, nlp.BreakerConfig{
			MaxRequests:      cfg.CircuitBreaker.MaxRequests,
			Interval:         cfg.CircuitBreaker.Interval,
			Timeout:          cfg.CircuitBreaker.Timeout,
			ReadyToTripRatio: cfg.CircuitBreaker.ReadyToTripRatio,
		}, log)
	}

	embedderClient, err := embedder.NewOpenAIEmbedder(cfg.Embedding.APIKey, embedder.Config{
		Model:   cfg.Embedding.Model,
		BaseURL: cfg.Embedding.BaseURL,
	})
	if err != nil {
		return nil, fmt.Errorf("building embedder client: %w", err)
	}

	resolver := citations.NewResolver(graphDriver, log)
	updater := citations.NewUpdater(graphDriver, embedderClient, resolver, log)

	entityTypes := make([]types.EntityTypeDef, 0, len(cfg.Graph.EntityTypes))
	for _, et := range cfg.Graph.EntityTypes {
		entityTypes = append(entityTypes, types.EntityTypeDef{
			Name:        et.Name,
			Description: et.Description,
		})
	}

	pipeline := extraction.NewPipeline(graphDriver, llmClient, embedderClient, entityTypes, log)

	queueService := queue.NewService(queue.ProcessorFunc(
		func(ctx context.Context, sub types.EpisodeSubmission) error {
			_, err := pipeline.Process(ctx, sub)
			return err
		},
	), cfg.Queue.Concurrency, log)

	searchService := search.NewService(graphDriver, embedderClient, resolver, log)
	analyzer := analysis.NewAnalyzer(graphDriver, embedderClient, llmClient, cfg.Analysis.ToolEntities, log)

	indexCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := graphDriver.CreateIndices(indexCtx); err != nil {
		// Some managed deployments restrict schema changes; the service
		// still works, just slower.
		log.Warn("creating graph indices", "error", err)
	}

	return &Services{
		Config:   cfg,
		Logger:   log,
		Driver:   graphDriver,
		LLM:      llmClient,
		Embedder: embedderClient,
		Resolver: resolver,
		Updater:  updater,
		Queue:    queueService,
		Search:   searchService,
		Analyzer: analyzer,
	}, nil
}

// Close drains the ingestion queue within the configured grace window
// and closes the database connection.
func (s *Services) Close(ctx context.Context) {
	grace := time.Duration(s.Config.Queue.ShutdownGraceSeconds) * time.Second
	s.Queue.Shutdown(grace)

	if err := s.Driver.Close(ctx); err != nil {
		s.Logger.Error("closing graph driver", "error", err)
	}
}
