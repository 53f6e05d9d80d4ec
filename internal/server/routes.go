package server

import (
	"github.com/Iseeumhmm/projectace-demo/internal/server/handlers"
	"github.com/gin-gonic/gin"
)

// setupRoutes registers every endpoint and records it for discovery.
func (s *Server) setupRoutes(r *gin.Engine) {
	api := r.Group("/api")

	api.GET("", s.routes.Handler())
	s.routes.Register("/api", "GET", "Lists all available API endpoints.")

	s.setupHealthRoutes(api)
	s.setupEventRoutes(api)
	s.setupSessionRoutes(api)
}

func (s *Server) setupHealthRoutes(api *gin.RouterGroup) {
	health := handlers.NewHealthHandler(s.store, s.bus)
	api.GET("/health", health.HandleHealthCheck)
	s.routes.Register(api.BasePath()+"/health", "GET", "Database, event bus and host health.")

	api.GET("/cf", handlers.HandleCloudflareEcho)
	s.routes.Register(api.BasePath()+"/cf", "GET", "Echo request headers and the resolved visitor location.")
}

func (s *Server) setupEventRoutes(api *gin.RouterGroup) {
	s.ingest = handlers.NewVideoEventsHandler(s.store, s.bus, limitsFor(s.cfg), s.logger.Named("ingest"))

	videoEvents := api.Group("/video-events")
	{
		videoEvents.POST("", s.ingest.Ingest)
		s.routes.Register(videoEvents.BasePath(), "POST", "Ingest one tracker event or an array of events.")

		videoEvents.GET("/stream", s.stream.Stream)
		s.routes.Register(videoEvents.BasePath()+"/stream", "GET", "Stream accepted events over a websocket.")
	}
}

func (s *Server) setupSessionRoutes(api *gin.RouterGroup) {
	sessions := handlers.NewSessionsHandler(s.store)

	api.GET("/sessions/:id", sessions.GetSession)
	s.routes.Register(api.BasePath()+"/sessions/:id", "GET", "Get a viewer session aggregate.")

	api.GET("/sessions/:id/events", sessions.ListEvents)
	s.routes.Register(api.BasePath()+"/sessions/:id/events", "GET", "List the events of a session.")

	api.GET("/playbacks/:playbackId/sessions", sessions.ListByPlayback)
	s.routes.Register(api.BasePath()+"/playbacks/:playbackId/sessions", "GET", "List the sessions of a video.")
}
