// Package mcp exposes the listing importer as Model Context Protocol tools.
package mcp

import (
	"context"
	"fmt"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
	"github.com/sirupsen/logrus"

	"github.com/fabiosalasm-zz/uy-home-finder/pkg/api"
	"github.com/fabiosalasm-zz/uy-home-finder/pkg/config"
	"github.com/fabiosalasm-zz/uy-home-finder/pkg/fetch"
	"github.com/fabiosalasm-zz/uy-home-finder/pkg/filter"
	"github.com/fabiosalasm-zz/uy-home-finder/pkg/models"
	"github.com/fabiosalasm-zz/uy-home-finder/pkg/source"
	"github.com/fabiosalasm-zz/uy-home-finder/pkg/storage"
)

const (
	serverName    = "uy-home-finder"
	serverVersion = "0.4.0"
)

// ServerConfig holds configuration for the MCP server
type ServerConfig struct {
	AppConfig  *config.AppConfig
	ConfigPath string
	Transport  string // "stdio" or "sse"
	Port       int
	Logger     *logrus.Logger

	Registry *source.Registry
	Fetcher  *fetch.DocumentFetcher
	Store    storage.ListingStore
	Importer api.Importer
}

// Server wraps the MCP server with the listing tools
type Server struct {
	mcpServer  *server.MCPServer
	cfg        *ServerConfig
	log        *logrus.Entry
	jobManager *api.JobManager
	chain      filter.Chain
	storeMode  models.StoreMode
}

// NewServer creates a new MCP server instance. AppConfig must have been validated.
func NewServer(cfg *ServerConfig) (*Server, error) {
	if cfg.AppConfig == nil {
		return nil, fmt.Errorf("AppConfig is required")
	}
	if cfg.Registry == nil || cfg.Store == nil || cfg.Importer == nil {
		return nil, fmt.Errorf("registry, store and importer are required")
	}
	if cfg.Logger == nil {
		cfg.Logger = logrus.New()
	}

	mode, err := models.ParseStoreMode(cfg.AppConfig.StoreMode)
	if err != nil {
		mode = models.StoreModeManual
	}

	mcpServer := server.NewMCPServer(
		serverName,
		serverVersion,
		server.WithLogging(),
	)

	s := &Server{
		mcpServer:  mcpServer,
		cfg:        cfg,
		log:        cfg.Logger.WithField("component", "mcp"),
		jobManager: api.NewJobManager(),
		chain:      filter.NewChain(cfg.AppConfig.Eligibility),
		storeMode:  mode,
	}

	s.registerTools()
	return s, nil
}

// registerTools registers all available MCP tools
func (s *Server) registerTools() {
	listSourcesTool := mcp.NewTool("list_sources",
		mcp.WithDescription("List the configured rental listing sources with their stored listing counts"),
	)
	s.mcpServer.AddTool(listSourcesTool, s.handleListSources)

	previewTool := mcp.NewTool("preview_listing",
		mcp.WithDescription("Fetch one listing page, extract it and report whether the eligibility rules accept it. Nothing is stored."),
		mcp.WithString("source",
			mcp.Required(),
			mcp.Description("Source alias (e.g., 'gallito', 'mercadolibre', 'infocasas')"),
		),
		mcp.WithString("url",
			mcp.Required(),
			mcp.Description("The listing detail URL"),
		),
	)
	s.mcpServer.AddTool(previewTool, s.handlePreviewListing)

	importTool := mcp.NewTool("import_sources",
		mcp.WithDescription("Start a background import of one or more sources. Returns immediately with a job ID."),
		mcp.WithString("from",
			mcp.Required(),
			mcp.Description("'all', a source alias, or comma separated aliases"),
		),
	)
	s.mcpServer.AddTool(importTool, s.handleImportSources)

	jobStatusTool := mcp.NewTool("get_job_status",
		mcp.WithDescription("Get the status of an import job"),
		mcp.WithString("job_id",
			mcp.Required(),
			mcp.Description("The job ID returned by import_sources"),
		),
	)
	s.mcpServer.AddTool(jobStatusTool, s.handleGetJobStatus)

	searchTool := mcp.NewTool("search_listings",
		mcp.WithDescription("Search stored listings by title, neighbourhood and description"),
		mcp.WithString("query",
			mcp.Required(),
			mcp.Description("Search query (case and accent insensitive substring match)"),
		),
		mcp.WithString("source",
			mcp.Description("Limit search to one source (optional)"),
		),
		mcp.WithNumber("max_results",
			mcp.Description("Maximum number of results to return (default: 10, max: 100)"),
		),
	)
	s.mcpServer.AddTool(searchTool, s.handleSearchListings)

	s.log.Infof("Registered %d MCP tools", 5)
}

// Run starts the MCP server with the configured transport
func (s *Server) Run() error {
	switch s.cfg.Transport {
	case "stdio":
		s.log.Info("Starting MCP server with stdio transport")
		return server.ServeStdio(s.mcpServer)
	case "sse":
		addr := fmt.Sprintf(":%d", s.cfg.Port)
		s.log.Infof("Starting MCP server with SSE transport on %s", addr)
		sseServer := server.NewSSEServer(s.mcpServer)
		return sseServer.Start(addr)
	default:
		return fmt.Errorf("unknown transport: %s (supported: stdio, sse)", s.cfg.Transport)
	}
}

// Shutdown cancels running import jobs and waits for them.
func (s *Server) Shutdown(ctx context.Context) error {
	s.log.Info("Shutting down MCP server...")
	s.jobManager.CancelAll()

	done := make(chan struct{})
	go func() {
		s.jobManager.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
