package api

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/tracelens/tracelens/internal/config"
	"github.com/tracelens/tracelens/internal/report"
)

// Server exposes the report catalog of one trace database over HTTP:
// a JSON listing, CSV report runs, and a websocket row stream.
type Server struct {
	config     config.ServerConfig
	dbPath     string
	catalog    *report.Catalog
	runner     *report.Runner
	mux        *http.ServeMux
	httpServer *http.Server
	logger     *slog.Logger
}

// NewServer creates a report server bound to the trace database at
// dbPath.
func NewServer(cfg config.ServerConfig, dbPath string, catalog *report.Catalog, logger *slog.Logger) *Server {
	s := &Server{
		config:  cfg,
		dbPath:  dbPath,
		catalog: catalog,
		runner:  report.NewRunner(catalog, logger),
		mux:     http.NewServeMux(),
		logger:  logger,
	}

	s.registerRoutes()
	return s
}

func (s *Server) registerRoutes() {
	s.mux.HandleFunc("GET /api/reports", s.handleListReports)
	s.mux.HandleFunc("GET /api/reports/{name}", s.handleGetReport)
	s.mux.HandleFunc("GET /api/reports/{name}/run", s.handleRunReport)

	s.mux.HandleFunc("GET /api/ws/reports/{name}", s.handleReportSocket)

	s.mux.HandleFunc("GET /api/health", s.handleHealth)
}

// Handler returns the HTTP handler.
func (s *Server) Handler() http.Handler {
	if s.config.CORS {
		return corsMiddleware(s.mux)
	}
	return s.mux
}

// Start starts the server on the given address.
func (s *Server) Start(addr string) error {
	s.httpServer = &http.Server{
		Addr:        addr,
		Handler:     s.Handler(),
		ReadTimeout: 15 * time.Second,
		IdleTimeout: 60 * time.Second,
	}

	s.logger.Info("report API listening", "addr", addr, "db", s.dbPath)
	return s.httpServer.ListenAndServe()
}

// Shutdown gracefully stops the server.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.httpServer != nil {
		return s.httpServer.Shutdown(ctx)
	}
	return nil
}

// Mux returns the underlying ServeMux for mounting additional routes.
func (s *Server) Mux() *http.ServeMux {
	return s.mux
}

// corsMiddleware adds CORS headers for development.
func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}

		next.ServeHTTP(w, r)
	})
}

// APIAddr makes a listen address from a port number.
func APIAddr(port int) string {
	return fmt.Sprintf(":%d", port)
}
