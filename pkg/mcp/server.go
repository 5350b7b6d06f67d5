// Package mcp exposes the graph memory service as Model Context
// Protocol tools over stdio, SSE, or streamable-HTTP transports.
package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/soundprediction/anamnesis/pkg/analysis"
	"github.com/soundprediction/anamnesis/pkg/citations"
	"github.com/soundprediction/anamnesis/pkg/queue"
	"github.com/soundprediction/anamnesis/pkg/search"
	"github.com/soundprediction/anamnesis/pkg/types"
)

// episodeQueue accepts episodes for asynchronous processing.
type episodeQueue interface {
	Submit(sub types.EpisodeSubmission) error
	Counters() queue.Counters
}

// searchService is the hybrid search surface.
type searchService interface {
	SearchFacts(ctx context.Context, q search.FactQuery) ([]search.FactResult, error)
	SearchNodes(ctx context.Context, q search.NodeQuery) ([]search.NodeResult, error)
	SearchEpisodes(ctx context.Context, groupIDs []string, maxResults int) ([]*types.EpisodicNode, error)
}

// graphStore is the driver slice the tools operate on.
type graphStore interface {
	GetEdge(ctx context.Context, uuid string) (*types.EntityEdge, error)
	DeleteEdge(ctx context.Context, uuid string) error
	DeleteEpisode(ctx context.Context, uuid string) error
	EpisodesByGroup(ctx context.Context, groupIDs []string, limit int) ([]*types.EpisodicNode, error)
	ClearGroup(ctx context.Context, groupID string) error
	VerifyConnectivity(ctx context.Context) error
}

// citationResolver resolves provenance chains.
type citationResolver interface {
	ForEdge(ctx context.Context, edge *types.EntityEdge) ([]types.Citation, error)
	ChainForEdge(ctx context.Context, edge *types.EntityEdge) ([]types.CitationChainEntry, error)
	ChainForEntity(ctx context.Context, entityUUID string) ([]types.CitationChainEntry, error)
}

// factUpdater supersedes facts.
type factUpdater interface {
	UpdateFact(ctx context.Context, edgeUUID string, req citations.UpdateRequest) (*citations.UpdateResult, error)
}

// analyzer runs incident analytics.
type analyzer interface {
	Timeline(ctx context.Context, groupIDs []string, component string) (*analysis.TimelineResult, error)
	DetectRecurrence(ctx context.Context, groupIDs []string, threshold float64, useLLM bool) ([]analysis.RecurrencePattern, error)
}

// Dependencies carries the wired services the MCP tools expose.
type Dependencies struct {
	Queue    episodeQueue
	Search   searchService
	Store    graphStore
	Resolver citationResolver
	Updater  factUpdater
	Analyzer analyzer
	// DefaultGroupID is used when a tool call omits group ids.
	DefaultGroupID string
	Logger         *slog.Logger
}

// Server wraps the mcp-go server with the memory tool set.
type Server struct {
	mcpServer *server.MCPServer
	deps      Dependencies
	logger    *slog.Logger
}

// NewServer builds the MCP server and registers every tool.
func NewServer(version string, deps Dependencies) *Server {
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	mcpServer := server.NewMCPServer(
		"Anamnesis Memory Server",
		version,
		server.WithToolCapabilities(false),
		server.WithLogging(),
	)

	s := &Server{
		mcpServer: mcpServer,
		deps:      deps,
		logger:    deps.Logger,
	}
	s.registerTools()
	return s
}

// MCPServer returns the underlying mcp-go server for transport setup.
func (s *Server) MCPServer() *server.MCPServer {
	return s.mcpServer
}

// registerTool wires one raw-schema tool into the mcp-go server.
func (s *Server) registerTool(name, description string, inputSchema map[string]any, fn toolFunc) {
	schemaJSON, err := json.Marshal(inputSchema)
	if err != nil {
		panic(fmt.Sprintf("failed to marshal schema for tool %s: %v", name, err))
	}
	tool := mcp.NewToolWithRawSchema(name, description, schemaJSON)
	s.mcpServer.AddTool(tool, s.adapt(fn))
}

// toolFunc is the internal tool shape: raw JSON arguments in, any
// JSON-marshalable result out.
type toolFunc func(ctx context.Context, args json.RawMessage) (any, error)

func (s *Server) adapt(fn toolFunc) server.ToolHandlerFunc {
	return func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		args, err := json.Marshal(request.Params.Arguments)
		if err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("invalid arguments: %v", err)), nil
		}

		result, err := fn(ctx, args)
		if err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}

		resultJSON, err := json.MarshalIndent(result, "", "  ")
		if err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("failed to format result: %v", err)), nil
		}
		return mcp.NewToolResultText(string(resultJSON)), nil
	}
}

// Serve runs the selected transport until ctx is cancelled. addr is only
// used by the sse and http transports.
func (s *Server) Serve(ctx context.Context, transport, addr string) error {
	switch transport {
	case "stdio":
		s.logger.Info("serving MCP over stdio")
		return server.ServeStdio(s.mcpServer)
	case "sse":
		s.logger.Info("serving MCP over SSE", "addr", addr)
		sseServer := server.NewSSEServer(s.mcpServer)
		return s.runHTTP(ctx, addr, func() error { return sseServer.Start(addr) }, sseServer.Shutdown)
	case "http":
		s.logger.Info("serving MCP over streamable HTTP", "addr", addr)
		streamable := server.NewStreamableHTTPServer(
			s.mcpServer,
			server.WithEndpointPath("/mcp"),
			server.WithStateLess(true),
		)
		return s.runHTTP(ctx, addr, func() error { return streamable.Start(addr) }, streamable.Shutdown)
	default:
		return fmt.Errorf("unknown transport %q: must be stdio, sse, or http", transport)
	}
}

func (s *Server) runHTTP(ctx context.Context, addr string, start func() error, shutdown func(ctx context.Context) error) error {
	errCh := make(chan error, 1)
	go func() {
		if err := start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return shutdown(shutdownCtx)
	case err := <-errCh:
		return err
	}
}

func (s *Server) groupIDs(requested []string) []string {
	if len(requested) > 0 {
		return requested
	}
	return []string{s.deps.DefaultGroupID}
}
