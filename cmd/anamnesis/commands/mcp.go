package commands

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/soundprediction/anamnesis/pkg/mcp"
)

var mcpTransport string

var mcpCmd = &cobra.Command{
	Use:   "mcp",
	Short: "Start the Model Context Protocol server",
	Long: `Start the MCP server exposing the graph memory as tools for AI
agents. Supports stdio for editor integrations and SSE or streamable
HTTP for networked clients.`,
	RunE: runMCP,
}

func init() {
	rootCmd.AddCommand(mcpCmd)

	mcpCmd.Flags().StringVar(&mcpTransport, "transport", "", "transport: stdio, sse, or http (overrides config)")
}

func runMCP(cmd *cobra.Command, args []string) error {
	svcs, err := buildServices()
	if err != nil {
		return err
	}
	cfg, log := svcs.Config, svcs.Logger

	transport := mcpTransport
	if transport == "" {
		transport = cfg.Server.Transport
	}

	mcpServer := mcp.NewServer(Version, mcp.Dependencies{
		Queue:          svcs.Queue,
		Search:         svcs.Search,
		Store:          svcs.Driver,
		Resolver:       svcs.Resolver,
		Updater:        svcs.Updater,
		Analyzer:       svcs.Analyzer,
		DefaultGroupID: cfg.Graph.GroupID,
		Logger:         log,
	})

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	serveErr := mcpServer.Serve(ctx, transport, addr)

	closeCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	svcs.Close(closeCtx)
	return serveErr
}
