package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	"github.com/artpar/deployseq/internal/shell/api"
	"github.com/artpar/deployseq/internal/shell/artifact"
)

// =============================================================================
// Server
// =============================================================================

// Server serves recorded artifacts over HTTP.
type Server struct {
	config     *Config
	httpServer *http.Server
	store      artifact.Store
	logger     *slog.Logger
}

// NewServer creates a server over store. The server owns store and closes it
// on shutdown.
func NewServer(cfg *Config, store artifact.Store, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	handler := api.NewHandler(store, logger.With("component", "api"))

	return &Server{
		config: cfg,
		httpServer: &http.Server{
			Addr:         cfg.Server.Address(),
			Handler:      handler.Routes(),
			ReadTimeout:  cfg.Server.ReadTimeout,
			WriteTimeout: cfg.Server.WriteTimeout,
		},
		store:  store,
		logger: logger,
	}
}

// Start starts the server and blocks until ctx is done or the listener
// fails.
func (s *Server) Start(ctx context.Context) error {
	errCh := make(chan error, 1)

	// Start HTTP server in goroutine
	go func() {
		s.logger.Info("starting HTTP server",
			"address", s.config.Server.Address(),
			"store", s.config.Store.Backend)
		if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	// Wait for shutdown signal or error
	select {
	case err := <-errCh:
		s.closeStore()
		return &CommandError{
			Op:       "serve",
			Err:      err,
			ExitCode: ExitInternalError,
		}
	case <-ctx.Done():
		s.logger.Info("received shutdown signal")
	}

	return s.Shutdown(context.Background())
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("initiating graceful shutdown")

	// Create shutdown context with timeout
	shutdownCtx, cancel := context.WithTimeout(ctx, s.config.Server.ShutdownTimeout)
	defer cancel()

	if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
		s.logger.Error("HTTP server shutdown error", "error", err)
	}
	s.closeStore()

	s.logger.Info("shutdown complete")
	return nil
}

func (s *Server) closeStore() {
	if err := s.store.Close(); err != nil {
		s.logger.Error("store close error", "error", err)
	}
}
