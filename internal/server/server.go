// Package server wires the telemetry API onto a gin engine and runs it.
package server

import (
	"context"
	"errors"
	"net/http"
	"slices"
	"sync/atomic"

	"github.com/Iseeumhmm/projectace-demo/internal/apiroutes"
	"github.com/Iseeumhmm/projectace-demo/internal/config"
	apperrors "github.com/Iseeumhmm/projectace-demo/internal/errors"
	"github.com/Iseeumhmm/projectace-demo/internal/events"
	"github.com/Iseeumhmm/projectace-demo/internal/middleware"
	"github.com/Iseeumhmm/projectace-demo/internal/server/handlers"
	"github.com/gin-gonic/gin"
	"github.com/hashicorp/go-hclog"
)

// Server is the ingest and query API.
type Server struct {
	cfg    config.ServerConfig
	store  handlers.EventStore
	bus    events.EventBus
	logger hclog.Logger

	origins atomic.Pointer[[]string]

	routes *apiroutes.Registry
	ingest *handlers.VideoEventsHandler
	stream *handlers.StreamHandler
	engine *gin.Engine
	http   *http.Server
}

// New builds the router. bus may be nil, which disables publishing and the
// stream endpoint.
func New(cfg config.ServerConfig, store handlers.EventStore, bus events.EventBus, logger hclog.Logger) *Server {
	if logger == nil {
		logger = hclog.NewNullLogger()
	}

	s := &Server{
		cfg:    cfg,
		store:  store,
		bus:    bus,
		logger: logger,
		routes: apiroutes.NewRegistry(),
	}
	s.setOrigins(cfg.AllowedOrigins)
	s.stream = handlers.NewStreamHandler(bus, s.allowedOrigins, logger.Named("stream"))
	s.engine = s.setupRouter()
	s.http = &http.Server{
		Addr:           cfg.Addr(),
		Handler:        s.engine,
		ReadTimeout:    cfg.ReadTimeout,
		WriteTimeout:   cfg.WriteTimeout,
		MaxHeaderBytes: cfg.MaxHeaderBytes,
	}
	return s
}

// setupRouter configures middleware and routes on a new engine.
func (s *Server) setupRouter() *gin.Engine {
	r := gin.New()
	if err := r.SetTrustedProxies(s.cfg.TrustedProxies); err != nil {
		s.logger.Warn("invalid trusted proxies, trusting none", "error", err)
		r.SetTrustedProxies(nil)
	}

	r.Use(apperrors.RequestID())
	r.Use(apperrors.Recovery())
	r.Use(middleware.RequestLogger(s.logger.Named("http")))
	r.Use(middleware.ErrorLogger(s.logger.Named("http")))
	if s.cfg.EnableCORS {
		r.Use(middleware.CORS(s.allowedOrigins))
	}
	r.Use(middleware.GeoHeaders())

	s.setupRoutes(r)
	return r
}

// ApplyConfig swaps in the settings a running server can change: ingest
// limits and allowed origins. Listener, timeout and proxy settings take
// effect on the next start.
func (s *Server) ApplyConfig(cfg config.ServerConfig) {
	s.ingest.SetLimits(limitsFor(cfg))
	s.setOrigins(cfg.AllowedOrigins)
	s.logger.Info("server settings applied",
		"max_batch_size", cfg.MaxBatchSize,
		"max_body_bytes", cfg.MaxBodyBytes,
		"allowed_origins", cfg.AllowedOrigins)
}

func (s *Server) setOrigins(origins []string) {
	copied := slices.Clone(origins)
	s.origins.Store(&copied)
}

func (s *Server) allowedOrigins() []string {
	return *s.origins.Load()
}

func limitsFor(cfg config.ServerConfig) handlers.Limits {
	return handlers.Limits{MaxBatch: cfg.MaxBatchSize, MaxBodyBytes: cfg.MaxBodyBytes}
}

// Handler returns the root handler, for tests and embedding.
func (s *Server) Handler() http.Handler {
	return s.engine
}

// Routes lists the registered API routes.
func (s *Server) Routes() []apiroutes.APIRoute {
	return s.routes.Get()
}

// ListenAndServe blocks until the server stops. It returns nil after
// Shutdown.
func (s *Server) ListenAndServe() error {
	s.logger.Info("starting server", "addr", s.http.Addr)
	if err := s.http.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown disconnects stream clients and drains in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	s.stream.Close()
	return s.http.Shutdown(ctx)
}
