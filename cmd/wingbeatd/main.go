package main

import (
	"context"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	wmcp "github.com/sanonone/wingbeat/internal/mcp"
	"github.com/sanonone/wingbeat/internal/server"
	"github.com/sanonone/wingbeat/pkg/config"
	"github.com/sanonone/wingbeat/pkg/pipeline"
	"github.com/sanonone/wingbeat/pkg/swarm"
	"github.com/sanonone/wingbeat/pkg/transport"
)

func main() {
	configPath := flag.String("config", "", "Path to the YAML configuration file")
	httpAddr := flag.String("http-addr", "", "Address for the HTTP API (overrides server.http_addr)")
	mcpMode := flag.Bool("mcp", false, "Serve MCP tools over stdio instead of the HTTP API")
	flag.Parse()

	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		slog.Error("Failed to load configuration", "path", *configPath, "error", err)
		os.Exit(1)
	}
	if *httpAddr != "" {
		cfg.Server.HTTPAddr = *httpAddr
	}
	logger := config.SetupLogger(cfg.Log)

	sw := swarm.New(cfg.Swarm,
		swarm.WithObserver(swarm.NewLogObserver(logger)),
		swarm.WithObserver(swarm.MetricsObserver{}),
	)
	dispatcher := transport.NewHTTPDispatcher(cfg.Transport)
	proc := pipeline.NewProcessor(sw, dispatcher, cfg.Pipeline, pipeline.WithLogger(logger))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if *mcpMode {
		// stdout belongs to the protocol; logs stay on stderr.
		slog.Info("[MCP] Serving tools over stdio")
		if err := wmcp.NewMCPServer(proc).Run(ctx, &mcp.StdioTransport{}); err != nil && ctx.Err() == nil {
			slog.Error("[MCP] Server stopped", "error", err)
			os.Exit(1)
		}
		return
	}

	var node *transport.NodeHandler
	if cfg.Server.ServeNode {
		node = transport.NewNodeHandler(cfg.Transport.NodeID)
	}
	srv, err := server.NewServer(proc, cfg.Server, node)
	if err != nil {
		slog.Error("Failed to create server", "error", err)
		os.Exit(1)
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Run()
	}()

	select {
	case err := <-errCh:
		if err != nil {
			slog.Error("Server stopped", "error", err)
			srv.Close()
			os.Exit(1)
		}
	case <-ctx.Done():
		slog.Info("Shutdown signal received")
	}

	if err := srv.Shutdown(context.Background()); err != nil {
		slog.Error("Graceful shutdown failed", "error", err)
	}
	slog.Info("wingbeatd stopped")
}
