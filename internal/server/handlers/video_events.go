// Package handlers contains the HTTP handlers of the telemetry API.
package handlers

import (
	"context"
	"errors"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/Iseeumhmm/projectace-demo/internal/database"
	apperrors "github.com/Iseeumhmm/projectace-demo/internal/errors"
	"github.com/Iseeumhmm/projectace-demo/internal/events"
	"github.com/Iseeumhmm/projectace-demo/internal/geo"
	"github.com/Iseeumhmm/projectace-demo/internal/middleware"
	"github.com/Iseeumhmm/projectace-demo/internal/tracker"
	"github.com/gin-gonic/gin"
	"github.com/hashicorp/go-hclog"
)

// EventSource labels bus events published by the ingest endpoint.
const EventSource = "ingest"

// EventStore is the persistence the handlers need.
type EventStore interface {
	SaveEvents(ctx context.Context, batch []tracker.Event, loc geo.Geo) ([]database.SaveResult, error)
	GetSession(ctx context.Context, sessionID string) (*database.ViewerSession, error)
	ListSessionEvents(ctx context.Context, sessionID string, limit int) ([]database.VideoEvent, error)
	ListSessionsByPlayback(ctx context.Context, playbackID string, limit, offset int) ([]database.ViewerSession, int64, error)
	Ping(ctx context.Context) error
}

// AcceptedEvent is published on the bus for every stored event. Geo is
// omitted when the request carried no location headers.
type AcceptedEvent struct {
	ID         uint          `json:"id"`
	Event      tracker.Event `json:"event"`
	Geo        *geo.Geo      `json:"geo,omitempty"`
	ReceivedAt time.Time     `json:"receivedAt"`
}

// Limits bound a single ingest request.
type Limits struct {
	MaxBatch     int
	MaxBodyBytes int64
}

// DefaultLimits match the server config defaults.
func DefaultLimits() Limits {
	return Limits{MaxBatch: 100, MaxBodyBytes: 1 << 20}
}

// VideoEventsHandler ingests tracker telemetry.
type VideoEventsHandler struct {
	store  EventStore
	bus    events.EventBus
	limits atomic.Pointer[Limits]
	logger hclog.Logger
}

// NewVideoEventsHandler creates the ingest handler. bus may be nil.
func NewVideoEventsHandler(store EventStore, bus events.EventBus, limits Limits, logger hclog.Logger) *VideoEventsHandler {
	if logger == nil {
		logger = hclog.NewNullLogger()
	}
	h := &VideoEventsHandler{store: store, bus: bus, logger: logger}
	h.SetLimits(limits)
	return h
}

// SetLimits replaces the request limits. Requests already being read keep
// the limits they started with. Non-positive values fall back to
// DefaultLimits.
func (h *VideoEventsHandler) SetLimits(limits Limits) {
	def := DefaultLimits()
	if limits.MaxBatch < 1 {
		limits.MaxBatch = def.MaxBatch
	}
	if limits.MaxBodyBytes < 1 {
		limits.MaxBodyBytes = def.MaxBodyBytes
	}
	h.limits.Store(&limits)
}

// Limits returns the limits in effect.
func (h *VideoEventsHandler) Limits() Limits {
	return *h.limits.Load()
}

// Ingest accepts one event or an array of events. The whole request is
// validated before anything is stored, and the batch is stored atomically.
// Bus events are published only after the batch is committed.
func (h *VideoEventsHandler) Ingest(c *gin.Context) {
	limits := h.Limits()

	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, limits.MaxBodyBytes)
	raw, err := c.GetRawData()
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			apperrors.NewBodyTooLargeError(tooLarge.Limit).ToGinResponse(c)
			return
		}
		apperrors.HandleValidationError(c, "Failed to read request body", "body")
		return
	}

	payloads, err := decodePayloads(raw)
	if err != nil {
		apperrors.Respond(c, err)
		return
	}
	if len(payloads) > limits.MaxBatch {
		apperrors.NewPayloadTooLargeError(limits.MaxBatch, len(payloads)).ToGinResponse(c)
		return
	}

	batch := make([]tracker.Event, 0, len(payloads))
	for i, p := range payloads {
		evt, err := p.toEvent(i)
		if err != nil {
			apperrors.Respond(c, err)
			return
		}
		batch = append(batch, evt)
	}

	loc := middleware.GeoFrom(c)
	ctx := c.Request.Context()
	results, err := h.store.SaveEvents(ctx, batch, loc)
	if err != nil {
		apperrors.NewDatabaseError("save_events", err).
			WithContext("events", len(batch)).
			ToGinResponse(c)
		return
	}

	started := 0
	for i, res := range results {
		if res.NewSession {
			started++
		}
		h.publish(ctx, res, batch[i], loc)
	}

	c.JSON(http.StatusAccepted, gin.H{
		"accepted":         len(batch),
		"sessions_started": started,
	})
}

func (h *VideoEventsHandler) publish(ctx context.Context, res database.SaveResult, evt tracker.Event, loc geo.Geo) {
	if h.bus == nil {
		return
	}

	send := func(t events.EventType, data interface{}) {
		if err := h.bus.Publish(ctx, events.Event{Type: t, Source: EventSource, Data: data}); err != nil {
			h.logger.Warn("failed to publish event", "type", t, "session_id", evt.SessionID, "error", err)
		}
	}

	if res.NewSession {
		send(events.EventSessionStarted, res.Session)
	}
	accepted := AcceptedEvent{
		ID:         res.Event.ID,
		Event:      evt,
		ReceivedAt: res.Event.ReceivedAt,
	}
	if !loc.Empty() {
		accepted.Geo = &loc
	}
	send(events.EventVideoReceived, accepted)
	if evt.Name == tracker.EventEnded {
		send(events.EventSessionCompleted, res.Session)
	}
}
