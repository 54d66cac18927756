// Package api provides the HTTP REST API for the knowledge base engine.
//
// Endpoints:
//
//	POST /api/ingest        →  ingest raw documents
//	POST /api/reindex       →  re-embed stored documents
//	POST /api/search        →  resolve a query (vector with keyword fallback)
//	POST /api/chat          →  conversational retrieval
//	GET  /api/documents     →  list stored documents
//	GET  /api/jobs          →  list ingestion jobs
//	GET  /api/jobs/metrics  →  aggregate pipeline health
//	GET  /health            →  liveness probe
//	GET  /ready             →  readiness probe
//
// File structure:
//   - server.go: HTTP server setup and lifecycle
//   - middleware.go: HTTP middleware (logging, recovery)
//   - health.go: health check endpoints (/health, /ready)
//   - ingest.go: ingestion and reindex endpoints
//   - search.go: query resolution endpoint
//   - chat.go: conversational endpoint
//   - documents.go: document and job listing endpoints
//   - response.go: JSON request/response helpers
package api

import (
	"context"
	"net/http"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/ibimina/kbengine/internal/agent"
	"github.com/ibimina/kbengine/internal/ingest"
	"github.com/ibimina/kbengine/internal/kb"
	"github.com/ibimina/kbengine/internal/log"
	"github.com/ibimina/kbengine/internal/resolver"
)

const (
	// DefaultAddr is the default address for the HTTP server.
	DefaultAddr = "127.0.0.1:3500"

	// ShutdownTimeout is the maximum time to wait for graceful shutdown.
	ShutdownTimeout = 10 * time.Second

	// ReadHeaderTimeout is the timeout for reading request headers.
	// This prevents Slowloris attacks (CWE-400).
	ReadHeaderTimeout = 10 * time.Second

	// ReadTimeout is the maximum duration for reading the entire request.
	ReadTimeout = 30 * time.Second

	// WriteTimeout is the maximum duration for writing the response.
	WriteTimeout = 60 * time.Second

	// IdleTimeout is the maximum time to wait for the next request on keep-alive connections.
	IdleTimeout = 120 * time.Second
)

// Server is the HTTP server for the knowledge base REST API.
type Server struct {
	mux    *http.ServeMux
	logger log.Logger

	// Handlers
	health    *HealthHandler
	ingest    *IngestHandler
	search    *SearchHandler
	chat      *ChatHandler
	documents *DocumentHandler
}

// NewServer creates a new HTTP server with all routes registered.
// pool may be nil when the server runs on the in-memory store; the
// readiness probe then reports ready unconditionally.
func NewServer(store kb.Store, pipeline *ingest.Pipeline, res *resolver.Resolver, facade *agent.Facade, pool *pgxpool.Pool, logger log.Logger) *Server {
	mux := http.NewServeMux()

	s := &Server{
		mux:       mux,
		logger:    logger,
		health:    NewHealthHandler(pool, logger),
		ingest:    NewIngestHandler(pipeline, logger),
		search:    NewSearchHandler(res, logger),
		chat:      NewChatHandler(facade, logger),
		documents: NewDocumentHandler(store, logger),
	}

	s.health.RegisterRoutes(mux)
	s.ingest.RegisterRoutes(mux)
	s.search.RegisterRoutes(mux)
	s.chat.RegisterRoutes(mux)
	s.documents.RegisterRoutes(mux)

	return s
}

// Handler returns the HTTP handler with middleware applied.
// Middleware order: recovery → logging → handler
func (s *Server) Handler() http.Handler {
	return chain(s.mux,
		recoveryMiddleware(s.logger),
		loggingMiddleware(s.logger),
	)
}

// Run starts the HTTP server and blocks until the context is cancelled.
// It handles graceful shutdown when the context is done.
func (s *Server) Run(ctx context.Context, addr string) error {
	if addr == "" {
		addr = DefaultAddr
	}

	srv := &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: ReadHeaderTimeout,
		ReadTimeout:       ReadTimeout,
		WriteTimeout:      WriteTimeout,
		IdleTimeout:       IdleTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("starting HTTP server", "addr", addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		s.logger.Info("shutting down HTTP server")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), ShutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	case err := <-errCh:
		if err == http.ErrServerClosed {
			return nil
		}
		return err
	}
}
