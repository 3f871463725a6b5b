// Package server wires the handler graph and owns the process lifecycle:
// bind, background workers, and signal-driven graceful shutdown.
package server

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/julienschmidt/httprouter"
	"go.uber.org/zap"

	"github.com/wudi/agentrouter/internal/config"
	"github.com/wudi/agentrouter/internal/logging"
	"github.com/wudi/agentrouter/internal/metrics"
	"github.com/wudi/agentrouter/internal/middleware"
	"github.com/wudi/agentrouter/internal/middleware/headers"
	"github.com/wudi/agentrouter/internal/proxy"
	"github.com/wudi/agentrouter/internal/routing"
	"github.com/wudi/agentrouter/internal/store"
)

// shutdownTimeout bounds how long in-flight requests may drain.
const shutdownTimeout = 5 * time.Second

// Server is the router process.
type Server struct {
	cfg        *config.Config
	httpServer *http.Server
	reclaimer  *proxy.Reclaimer
	collector  *metrics.Collector
}

// New builds the full handler graph over the given store.
func New(cfg *config.Config, st store.Store) *Server {
	collector := metrics.NewCollector()
	rt := routing.NewManager(st, cfg.BackendIPs, cfg.MaxRequestsPerBackend, cfg.MappingTTL, collector)
	handler := proxy.NewHandler(rt, collector)
	reclaimer := proxy.NewReclaimer(st, cfg.BackendIPs, cfg.MappingTTL, collector)

	s := &Server{
		cfg:       cfg,
		reclaimer: reclaimer,
		collector: collector,
	}
	s.httpServer = &http.Server{
		Addr:    ":" + cfg.Port,
		Handler: s.buildRoutes(handler),
	}
	return s
}

// buildRoutes registers the endpoints. The routed endpoints share the header
// middleware chain; /ping and /metrics bypass it.
func (s *Server) buildRoutes(h *proxy.Handler) http.Handler {
	hdr := headers.New(s.cfg.AllowOrigin)
	chain := middleware.NewChain(
		middleware.Recovery(),
		middleware.RequestID(),
		hdr.CORS(),
		hdr.NoCache(),
		hdr.Timestamp(),
	)

	// Preflights never reach a handler; the CORS middleware answers them.
	preflight := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {})

	router := httprouter.New()
	router.Handler(http.MethodPost, "/start_agent", chain.Then(s.instrument("/start_agent", h.Start)))
	router.Handler(http.MethodOptions, "/start_agent", chain.Then(preflight))
	router.Handler(http.MethodPost, "/stop_agent", chain.Then(s.instrument("/stop_agent", h.Stop)))
	router.Handler(http.MethodOptions, "/stop_agent", chain.Then(preflight))
	router.Handler(http.MethodGet, "/health", chain.Then(s.instrument("/health", h.Health)))
	router.HandlerFunc(http.MethodGet, "/ping", h.Ping)
	router.HandlerFunc(http.MethodGet, "/metrics", func(w http.ResponseWriter, r *http.Request) {
		s.collector.WritePrometheus(w)
	})
	return router
}

// instrument records request count and duration per path.
func (s *Server) instrument(path string, fn http.HandlerFunc) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		sw := &statusWriter{ResponseWriter: w, status: http.StatusOK}
		fn(sw, r)
		s.collector.RecordRequest(path, r.Method, sw.status, time.Since(start))
	})
}

type statusWriter struct {
	http.ResponseWriter
	status int
}

func (sw *statusWriter) WriteHeader(code int) {
	sw.status = code
	sw.ResponseWriter.WriteHeader(code)
}

// Handler returns the root handler. Used by tests.
func (s *Server) Handler() http.Handler {
	return s.httpServer.Handler
}

// Run starts the HTTP server and the reclamation workers, then blocks until
// SIGINT or SIGTERM. Returns an error if serving fails or the graceful
// shutdown deadline is exceeded.
func (s *Server) Run() error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go s.reclaimer.RunStaleMappings(ctx, proxy.StaleMappingInterval)
	go s.reclaimer.RunExpiredTokens(ctx, proxy.ExpiredTokenInterval)

	errCh := make(chan error, 1)
	go func() {
		logging.Info("Router listening",
			zap.String("addr", s.httpServer.Addr),
			zap.Strings("backends", s.cfg.BackendIPs),
		)
		if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errCh:
		return err
	case sig := <-quit:
		logging.Info("Shutting down gracefully", zap.String("signal", sig.String()))
	}

	// Stop the reclaimers along with the listener.
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer shutdownCancel()
	if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
		logging.Error("Server forced to shutdown", zap.Error(err))
		return err
	}

	logging.Info("Server exiting")
	return nil
}
