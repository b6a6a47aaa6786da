// Package api exposes imports and stored listings over HTTP.
package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/sirupsen/logrus"

	"github.com/fabiosalasm-zz/uy-home-finder/pkg/models"
	"github.com/fabiosalasm-zz/uy-home-finder/pkg/orchestrate"
	"github.com/fabiosalasm-zz/uy-home-finder/pkg/storage"
)

// Importer runs one import of the given sources.
type Importer interface {
	Run(ctx context.Context, aliases []string, mode models.StoreMode) (*orchestrate.RunSummary, error)
}

// Resolver turns a "from" selector into source aliases.
type Resolver func(selector string) ([]string, error)

// ServerConfig holds the dependencies of the HTTP API
type ServerConfig struct {
	Importer  Importer
	Resolve   Resolver
	Store     storage.ListingStore
	StoreMode models.StoreMode
	Logger    *logrus.Entry
}

// Server serves the import and listing endpoints.
type Server struct {
	cfg    ServerConfig
	log    *logrus.Entry
	jobs   *JobManager
	router *mux.Router
}

// NewServer creates a server and registers its routes.
func NewServer(cfg ServerConfig) (*Server, error) {
	if cfg.Importer == nil || cfg.Resolve == nil || cfg.Store == nil {
		return nil, fmt.Errorf("importer, resolver and store are required")
	}
	if !cfg.StoreMode.IsValid() {
		cfg.StoreMode = models.StoreModeManual
	}
	if cfg.Logger == nil {
		cfg.Logger = logrus.NewEntry(logrus.New())
	}

	s := &Server{
		cfg:    cfg,
		log:    cfg.Logger.WithField("component", "api"),
		jobs:   NewJobManager(),
		router: mux.NewRouter(),
	}
	s.registerRoutes()
	return s, nil
}

func (s *Server) registerRoutes() {
	s.router.HandleFunc("/healthz", s.handleHealth).Methods(http.MethodGet)
	s.router.HandleFunc("/rental/import", s.handleImport).Methods(http.MethodGet)
	s.router.HandleFunc("/imports", s.handleStartImport).Methods(http.MethodPost)
	s.router.HandleFunc("/imports", s.handleListImports).Methods(http.MethodGet)
	s.router.HandleFunc("/imports/{id}", s.handleGetImport).Methods(http.MethodGet)
	s.router.HandleFunc("/imports/{id}", s.handleCancelImport).Methods(http.MethodDelete)
	s.router.HandleFunc("/listings/{source}", s.handleListings).Methods(http.MethodGet)
	s.router.Use(s.logRequests)
}

// Handler returns the routed handler.
func (s *Server) Handler() http.Handler { return s.router }

// Jobs exposes the job registry.
func (s *Server) Jobs() *JobManager { return s.jobs }

// ListenAndServe serves on addr until ctx is done, then shuts down
// gracefully, cancelling background imports.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	httpServer := &http.Server{
		Addr:              addr,
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.log.Infof("Starting HTTP API on %s", addr)
		errCh <- httpServer.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	return s.Shutdown(httpServer)
}

// Shutdown stops httpServer, cancels running jobs and waits for them.
func (s *Server) Shutdown(httpServer *http.Server) error {
	s.log.Info("Shutting down HTTP API...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	err := httpServer.Shutdown(shutdownCtx)
	s.jobs.CancelAll()
	s.jobs.Wait()
	return err
}

// startJob launches an import job for aliases unless one is active for the same target.
func (s *Server) startJob(aliases []string) (Job, bool) {
	return s.jobs.Launch(aliases, func(ctx context.Context, aliases []string) (*orchestrate.RunSummary, error) {
		return s.cfg.Importer.Run(ctx, aliases, s.cfg.StoreMode)
	}, s.log)
}
