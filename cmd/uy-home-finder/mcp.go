package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/fabiosalasm-zz/uy-home-finder/pkg/mcp"
	applog "github.com/fabiosalasm-zz/uy-home-finder/pkg/log"
)

// runMcpServer handles the mcp-server subcommand
func runMcpServer(args []string) {
	fs := flag.NewFlagSet("mcp-server", flag.ExitOnError)
	configFile := fs.String("config", "config.yaml", "Path to config file")
	transport := fs.String("transport", "stdio", "Transport type (stdio, sse)")
	port := fs.Int("port", 8090, "HTTP port (for sse transport)")
	logLevel := fs.String("loglevel", "info", "Log level (debug, info, warn, error)")

	fs.Usage = func() {
		fmt.Fprintf(os.Stderr, `Usage: uy-home-finder mcp-server [options]

Start an MCP (Model Context Protocol) server for AI tool integration.

Options:
`)
		fs.PrintDefaults()
		fmt.Fprintf(os.Stderr, `
Examples:
  # Start with stdio transport
  uy-home-finder mcp-server -config config.yaml

  # Start with SSE transport on port 8090
  uy-home-finder mcp-server -config config.yaml -transport sse -port 8090

Available MCP Tools:
  list_sources     List configured sources and stored listing counts
  preview_listing  Extract one listing page and evaluate the eligibility rules
  import_sources   Start a background import
  get_job_status   Check an import job
  search_listings  Search stored listings
`)
	}

	if err := fs.Parse(args); err != nil {
		os.Exit(1)
	}

	exitCode := doMcpServer(*configFile, *transport, *port, *logLevel, os.Stderr)
	os.Exit(exitCode)
}

// doMcpServer is the testable implementation of the MCP server.
// stdout belongs to the protocol, so everything else goes to stderr.
func doMcpServer(configPath, transport string, port int, logLevel string, stderr io.Writer) int {
	log, err := applog.New(logLevel, applog.FormatText, stderr)
	if err != nil {
		fmt.Fprintf(stderr, "Invalid log level: %s\n", logLevel)
		return 1
	}

	appCfg, err := loadConfig(configPath)
	if err != nil {
		fmt.Fprintf(stderr, "Error loading config: %v\n", err)
		return 1
	}
	warnings, err := appCfg.Validate()
	for _, w := range warnings {
		log.Warn(w)
	}
	if err != nil {
		fmt.Fprintf(stderr, "Config error: %v\n", err)
		return 1
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	a, err := newApp(ctx, appCfg, log.WithField("command", "mcp-server"))
	if err != nil {
		fmt.Fprintf(stderr, "Error initializing: %v\n", err)
		return 1
	}
	defer a.close()

	server, err := mcp.NewServer(&mcp.ServerConfig{
		AppConfig:  appCfg,
		ConfigPath: configPath,
		Transport:  transport,
		Port:       port,
		Logger:     log,
		Registry:   a.registry,
		Fetcher:    a.fetcher,
		Store:      a.store,
		Importer:   a.orch,
	})
	if err != nil {
		fmt.Fprintf(stderr, "Error creating MCP server: %v\n", err)
		return 1
	}
	defer func() {
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer shutdownCancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			log.Warnf("Import jobs still running at exit: %v", err)
		}
	}()

	log.Infof("Starting MCP server (transport: %s)", transport)

	if err := server.Run(); err != nil {
		fmt.Fprintf(stderr, "MCP server error: %v\n", err)
		return 1
	}

	return 0
}
