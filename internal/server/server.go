// Package server wires the job store, pipeline workers, webhook notifier,
// and HTTP API into a single process.
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/jackzampolin/docpipe/internal/api"
	"github.com/jackzampolin/docpipe/internal/config"
	"github.com/jackzampolin/docpipe/internal/embed"
	"github.com/jackzampolin/docpipe/internal/extract"
	"github.com/jackzampolin/docpipe/internal/home"
	"github.com/jackzampolin/docpipe/internal/pipeline"
	"github.com/jackzampolin/docpipe/internal/server/endpoints"
	"github.com/jackzampolin/docpipe/internal/server/ws"
	"github.com/jackzampolin/docpipe/internal/store"
	"github.com/jackzampolin/docpipe/internal/svcctx"
	"github.com/jackzampolin/docpipe/internal/webhook"
)

// Server is the main docpipe HTTP server. It owns the SQLite job store,
// the pipeline worker pool, the webhook notifier, and the websocket hub,
// starting them on Start and draining them on shutdown.
type Server struct {
	httpServer   *http.Server
	store        *store.Store
	orchestrator *pipeline.Orchestrator
	pool         *pipeline.Pool
	notifier     *webhook.Notifier
	hub          *ws.Hub
	configMgr    *config.Manager
	home         *home.Dir
	logger       *slog.Logger

	// services holds all core services for context enrichment
	services *svcctx.Services

	// endpoints registry for HTTP routes
	endpointRegistry *api.Registry

	mu      sync.RWMutex
	running bool
}

// Config holds server configuration.
type Config struct {
	// Host is the address to bind to (default: 127.0.0.1)
	Host string
	// Port is the port to listen on (default: 8573)
	Port string
	// Home is the docpipe home directory holding the database
	Home *home.Dir
	// ConfigManager provides configuration with hot-reload support
	ConfigManager *config.Manager
	// Logger is the structured logger to use
	Logger *slog.Logger
	// SwaggerSpecPath overrides the default OpenAPI spec location
	SwaggerSpecPath string
}

// New creates a new Server with the given configuration.
func New(cfg Config) (*Server, error) {
	if cfg.Host == "" {
		cfg.Host = "127.0.0.1"
	}
	if cfg.Port == "" {
		cfg.Port = "8573"
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Home == nil {
		return nil, errors.New("home directory is required")
	}
	if cfg.ConfigManager == nil {
		return nil, errors.New("config manager is required")
	}

	s := &Server{
		configMgr: cfg.ConfigManager,
		home:      cfg.Home,
		logger:    cfg.Logger,
		hub:       ws.NewHub(cfg.Logger),
	}

	// Create endpoint registry and register all endpoints
	s.endpointRegistry = api.NewRegistry()
	for _, ep := range endpoints.All(endpoints.Config{SwaggerSpecPath: cfg.SwaggerSpecPath}) {
		s.endpointRegistry.Register(ep)
	}

	// Set up HTTP server
	mux := http.NewServeMux()
	s.endpointRegistry.RegisterRoutes(mux, s.requireInit)

	s.httpServer = &http.Server{
		Addr:         net.JoinHostPort(cfg.Host, cfg.Port),
		Handler:      s.withServices(mux),
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	return s, nil
}

// Start opens the store, starts the worker pool, and serves HTTP.
// It blocks until the context is cancelled or an error occurs.
func (s *Server) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return errors.New("server already running")
	}
	s.running = true
	s.mu.Unlock()

	cfg := s.configMgr.Get()

	if err := s.home.EnsureExists(); err != nil {
		s.setNotRunning()
		return fmt.Errorf("failed to create home directory: %w", err)
	}

	st, err := store.Open(s.home.DBPath())
	if err != nil {
		s.setNotRunning()
		return fmt.Errorf("failed to open job store: %w", err)
	}
	s.store = st
	s.logger.Info("job store ready", "path", s.home.DBPath())

	s.notifier = webhook.New(webhook.Config{
		Store:       st,
		Logger:      s.logger,
		Timeout:     time.Duration(cfg.Webhook.TimeoutSeconds) * time.Second,
		MaxInFlight: cfg.Webhook.MaxInFlight,
	})

	s.orchestrator = pipeline.New(pipeline.Config{
		Store:     st,
		Extractor: extract.NewFileExtractor(s.logger),
		Chunker:   extract.NewTextChunker(cfg.Chunking.MaxChars),
		Embedder:  s.buildEmbedder(cfg),
		Notifier:  s.notifier,
		Logger:    s.logger,
		Options: pipeline.Options{
			StageTimeout: time.Duration(cfg.Pipeline.StageTimeoutSeconds) * time.Second,
			ClaimLease:   time.Duration(cfg.Pipeline.ClaimLeaseSeconds) * time.Second,
			MaxAttempts:  cfg.Pipeline.MaxAttempts,
		},
	})
	s.orchestrator.OnUpdate(s.hub.Broadcast)

	// Requeue jobs whose worker died mid-stage before the pool starts.
	if n, err := s.orchestrator.Reconcile(ctx); err != nil {
		s.logger.Error("startup reconcile failed", "error", err)
	} else if n > 0 {
		s.logger.Info("requeued stale jobs from previous run", "count", n)
	}

	metadataSchema, err := config.LoadMetadataSchema(cfg.MetadataSchema)
	if err != nil {
		_ = st.Close()
		s.setNotRunning()
		return err
	}

	s.services = &svcctx.Services{
		Store:          st,
		Orchestrator:   s.orchestrator,
		Hub:            s.hub,
		ConfigManager:  s.configMgr,
		MetadataSchema: metadataSchema,
		Logger:         s.logger,
		Home:           s.home,
	}

	s.configMgr.OnChange(func(c *config.Config) {
		s.logger.Info("configuration reloaded; worker and embedder settings apply on restart")
	})

	// Start worker pool
	poolCtx, stopPool := context.WithCancel(context.Background())
	poolDone := make(chan struct{})
	s.pool = pipeline.NewPool(pipeline.PoolConfig{
		Orchestrator: s.orchestrator,
		Workers:      cfg.Pipeline.Workers,
		PollInterval: time.Duration(cfg.Pipeline.PollIntervalMS) * time.Millisecond,
		Logger:       s.logger,
	})
	go func() {
		defer close(poolDone)
		s.pool.Run(poolCtx)
	}()

	// Start HTTP server in goroutine
	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("starting HTTP server", "addr", s.httpServer.Addr)
		if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	// Wait for context cancellation or error
	var serveErr error
	select {
	case <-ctx.Done():
		s.logger.Info("shutdown signal received")
	case err := <-errCh:
		if err != nil {
			serveErr = fmt.Errorf("HTTP server error: %w", err)
		}
	}

	stopPool()
	<-poolDone

	if err := s.shutdown(); err != nil && serveErr == nil {
		serveErr = err
	}
	return serveErr
}

// buildEmbedder selects the embedding provider from config.
func (s *Server) buildEmbedder(cfg *config.Config) pipeline.Embedder {
	switch cfg.Embedding.Provider {
	case "local":
		s.logger.Info("using local embedder", "dimensions", cfg.Embedding.Dimensions)
		return embed.NewLocal(cfg.Embedding.Dimensions)
	default:
		return embed.NewOpenAI(embed.OpenAIConfig{
			APIKey: config.ResolveEnvVars(cfg.Embedding.APIKey),
			Model:  cfg.Embedding.Model,
		})
	}
}

// shutdown drains the HTTP server, notifier, and store. The worker pool
// must already be stopped.
func (s *Server) shutdown() error {
	s.logger.Info("shutting down server")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
		s.logger.Error("HTTP server shutdown error", "error", err)
	}

	s.hub.Close()

	// Wait for in-flight webhook deliveries
	if s.notifier != nil {
		s.notifier.Close()
	}

	if s.store != nil {
		if err := s.store.Close(); err != nil {
			s.logger.Error("store close error", "error", err)
		}
	}

	s.setNotRunning()
	s.logger.Info("server stopped")
	return nil
}

func (s *Server) setNotRunning() {
	s.mu.Lock()
	s.running = false
	s.mu.Unlock()
}

// IsRunning returns whether the server is currently running.
func (s *Server) IsRunning() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.running
}

// Store returns the job store. Returns nil if the server hasn't started yet.
func (s *Server) Store() *store.Store {
	return s.store
}

// Orchestrator returns the pipeline orchestrator.
// Returns nil if the server hasn't started yet.
func (s *Server) Orchestrator() *pipeline.Orchestrator {
	return s.orchestrator
}

// Addr returns the server's listen address.
func (s *Server) Addr() string {
	return s.httpServer.Addr
}

// withServices wraps a handler to enrich the request context with services.
func (s *Server) withServices(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		if s.services != nil {
			ctx = svcctx.WithServices(ctx, s.services)
		}
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// requireInit is middleware that ensures the server is fully initialized.
// Returns 503 Service Unavailable if the store or pipeline aren't ready.
func (s *Server) requireInit(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if s.store == nil || s.orchestrator == nil {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusServiceUnavailable)
			w.Write([]byte(`{"error":"server not fully initialized"}`))
			return
		}
		next(w, r)
	}
}
