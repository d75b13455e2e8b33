// Package gateway implements §6: the HTTP surface that wires routing,
// context building, memory, the agent pipeline, and the dialect
// translator into the request/response cycle of POST /v1/messages and
// its supporting endpoints. Follows the established
// internal/gateway/http_server.go (plain net/http.ServeMux, a
// long-lived *http.Server plus a net.Listener the process shuts down
// gracefully) and internal/web (middleware chaining, JSON helpers).
package gateway

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"path/filepath"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/ccr-gateway/ccr/internal/agents"
	"github.com/ccr-gateway/ccr/internal/config"
	"github.com/ccr-gateway/ccr/internal/hooks"
	"github.com/ccr-gateway/ccr/internal/memory"
	"github.com/ccr-gateway/ccr/internal/metrics"
	"github.com/ccr-gateway/ccr/internal/plugins"
	"github.com/ccr-gateway/ccr/internal/routing"
	"github.com/ccr-gateway/ccr/internal/skills"
	"github.com/ccr-gateway/ccr/internal/tracing"
)

// Deps collects every collaborator the gateway wires into one request
// cycle. The process entrypoint (cmd/ccr) builds these once at startup;
// Server itself owns no singleton construction.
type Deps struct {
	Config      *config.Config
	ConfigPath  string
	LogsDir     string
	Router      *routing.Router
	Memory      *memory.Manager
	Pipeline    *agents.Pipeline
	Hooks       *hooks.Registry
	Plugins     *plugins.Registry
	Skills      *skills.Manager
	Metrics     *metrics.Metrics
	Tracer      *tracing.Tracer
	Logger      *slog.Logger
	StartTime   time.Time
	RestartFunc func()
}

// Server is the gateway's HTTP surface.
type Server struct {
	deps Deps
	log  *slog.Logger
	mux  *http.ServeMux

	// loopback is used for the recursive /v1/messages calls described
	// in §9 ("the tool-call loop re-enters the same endpoint over the
	// loopback interface"): both RequestContext.Reenter (non-streaming,
	// handler-initiated) and the streaming tool loop's re-entry make a
	// real HTTP call back into this same process over 127.0.0.1.
	loopback   *http.Client
	outbound   *http.Client
	selfOrigin string

	mu         sync.Mutex
	httpServer *http.Server
	listener   net.Listener
}

// New builds a Server and registers every route. Routes are registered
// eagerly; binding happens in ListenAndServe.
func New(deps Deps) *Server {
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	if deps.StartTime.IsZero() {
		deps.StartTime = time.Now()
	}

	s := &Server{
		deps:     deps,
		log:      deps.Logger.With("component", "gateway"),
		mux:      http.NewServeMux(),
		loopback: &http.Client{Timeout: 120 * time.Second},
		outbound: &http.Client{Timeout: 120 * time.Second},
	}
	s.setupRoutes()
	return s
}

func (s *Server) setupRoutes() {
	s.mux.HandleFunc("/v1/messages", s.handleMessages)
	s.mux.HandleFunc("/v1/messages/count_tokens", s.handleCountTokens)
	s.mux.HandleFunc("/health", s.handleHealth)
	s.mux.Handle("/metrics", promhttp.Handler())
	s.mux.HandleFunc("/api/config", s.handleConfigAPI)
	s.mux.HandleFunc("/api/restart", s.handleRestart)
	s.mux.HandleFunc("/api/logs/files", s.handleLogFiles)
	s.mux.HandleFunc("/api/logs", s.handleLog)
	s.mux.HandleFunc("/api/plugins", s.handlePlugins)
	s.mux.HandleFunc("/api/plugins/", s.handlePluginToggle)
	s.mux.HandleFunc("/api/hooks", s.handleHooksList)
	s.mux.HandleFunc("/api/hooks/events", s.handleHookEvents)
	s.mux.HandleFunc("/api/skills", s.handleSkillsList)
	s.mux.HandleFunc("/", s.handleRoot)
}

func (s *Server) handleRoot(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/" {
		http.NotFound(w, r)
		return
	}
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	fmt.Fprintln(w, "ccr gateway")
}

// Handler returns the fully wrapped request handler (auth + logging
// middleware over the route mux), in the same shape as the established
// web.Handler.Mount pattern.
func (s *Server) Handler() http.Handler {
	var h http.Handler = s.mux
	h = s.authMiddleware(h)
	h = s.loggingMiddleware(h)
	return h
}

// ListenAndServe binds to the configured host/port and serves until ctx
// is cancelled, then shuts the server down gracefully.
func (s *Server) ListenAndServe(ctx context.Context) error {
	addr := fmt.Sprintf("%s:%d", s.deps.Config.Host, s.deps.Config.Port)
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("gateway: listen %s: %w", addr, err)
	}

	s.selfOrigin = fmt.Sprintf("http://%s", addr)
	if s.deps.Config.Host == "0.0.0.0" || s.deps.Config.Host == "" {
		s.selfOrigin = fmt.Sprintf("http://127.0.0.1:%d", s.deps.Config.Port)
	}

	server := &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	s.mu.Lock()
	s.httpServer = server
	s.listener = listener
	s.mu.Unlock()

	errCh := make(chan error, 1)
	go func() {
		if err := server.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
			return
		}
		errCh <- nil
	}()

	s.log.Info("gateway listening", "addr", addr)

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			s.log.Warn("gateway shutdown error", "error", err)
		}
		return nil
	case err := <-errCh:
		return err
	}
}

// logsRoot resolves the directory that the /api/logs endpoints operate
// on, defaulting to "<config dir>/logs" matching §6's on-disk layout.
func (s *Server) logsRoot() string {
	if s.deps.LogsDir != "" {
		return s.deps.LogsDir
	}
	if s.deps.ConfigPath != "" {
		return filepath.Join(filepath.Dir(s.deps.ConfigPath), "logs")
	}
	return "logs"
}

func (s *Server) now() time.Time { return time.Now() }
