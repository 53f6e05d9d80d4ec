package handlers

import (
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/Iseeumhmm/projectace-demo/internal/database"
	apperrors "github.com/Iseeumhmm/projectace-demo/internal/errors"
	"github.com/Iseeumhmm/projectace-demo/internal/events"
	"github.com/Iseeumhmm/projectace-demo/internal/tracker"
	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/hashicorp/go-hclog"
	"github.com/samber/lo"
)

// StreamMessage is one websocket frame sent to stream clients.
type StreamMessage struct {
	Type string           `json:"type"`
	Kind events.EventType `json:"kind,omitempty"`
	Data interface{}      `json:"data,omitempty"`
	Time time.Time        `json:"time"`
}

var streamTypes = []events.EventType{
	events.EventVideoReceived,
	events.EventSessionStarted,
	events.EventSessionCompleted,
}

// StreamHandler pushes bus events to websocket clients.
type StreamHandler struct {
	bus          events.EventBus
	upgrader     websocket.Upgrader
	logger       hclog.Logger
	pingInterval time.Duration
	writeTimeout time.Duration
	clients      atomic.Int64

	closing   chan struct{}
	closeOnce sync.Once
}

// NewStreamHandler creates a StreamHandler accepting connections from the
// origins returned by allowedOrigins ("*" or an empty list allows any). The
// list is read on every upgrade.
func NewStreamHandler(bus events.EventBus, allowedOrigins func() []string, logger hclog.Logger) *StreamHandler {
	if logger == nil {
		logger = hclog.NewNullLogger()
	}
	return &StreamHandler{
		bus:    bus,
		logger: logger,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool {
				origin := r.Header.Get("Origin")
				allowed := allowedOrigins()
				return origin == "" || len(allowed) == 0 || lo.Contains(allowed, "*") || lo.Contains(allowed, origin)
			},
		},
		pingInterval: 30 * time.Second,
		writeTimeout: 10 * time.Second,
		closing:      make(chan struct{}),
	}
}

// Close disconnects every stream client. Hijacked websocket connections are
// not closed by http.Server.Shutdown.
func (h *StreamHandler) Close() {
	h.closeOnce.Do(func() { close(h.closing) })
}

// Clients returns the number of connected stream clients.
func (h *StreamHandler) Clients() int64 {
	return h.clients.Load()
}

// Stream upgrades the request and forwards matching bus events until the
// client disconnects. Query parameters: types (comma-separated event types)
// and playbackId.
func (h *StreamHandler) Stream(c *gin.Context) {
	if h.bus == nil {
		apperrors.NewUnavailableError("event stream", nil).ToGinResponse(c)
		return
	}

	filter := events.EventFilter{Types: streamTypes}
	if raw := c.Query("types"); raw != "" {
		filter.Types = lo.Map(parseCSVParam(raw), func(s string, _ int) events.EventType {
			return events.EventType(s)
		})
	}
	playbackID := c.Query("playbackId")

	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.logger.Debug("websocket upgrade failed", "error", err)
		return
	}
	defer conn.Close()

	queue := make(chan StreamMessage, 64)
	var dropped atomic.Int64
	sub, err := h.bus.Subscribe("stream:"+c.ClientIP(), filter, func(e events.Event) error {
		if playbackID != "" && playbackOf(e.Data) != playbackID {
			return nil
		}
		select {
		case queue <- StreamMessage{Type: "event", Kind: e.Type, Data: e.Data, Time: e.Timestamp}:
		default:
			dropped.Add(1)
		}
		return nil
	})
	if err != nil {
		h.write(conn, StreamMessage{Type: "error", Data: err.Error(), Time: time.Now()})
		return
	}
	defer h.bus.Unsubscribe(sub.ID)

	h.clients.Add(1)
	defer h.clients.Add(-1)

	// The read loop only detects the client going away.
	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	if err := h.write(conn, StreamMessage{Type: "connected", Data: gin.H{"types": filter.Types}, Time: time.Now()}); err != nil {
		return
	}

	ticker := time.NewTicker(h.pingInterval)
	defer ticker.Stop()

	for {
		select {
		case msg := <-queue:
			if err := h.write(conn, msg); err != nil {
				return
			}
		case <-ticker.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(h.writeTimeout)); err != nil {
				return
			}
		case <-done:
			if n := dropped.Load(); n > 0 {
				h.logger.Debug("stream client lagged", "dropped", n)
			}
			return
		case <-h.closing:
			conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseGoingAway, "server shutting down"),
				time.Now().Add(h.writeTimeout))
			return
		case <-c.Request.Context().Done():
			return
		}
	}
}

func (h *StreamHandler) write(conn *websocket.Conn, msg StreamMessage) error {
	conn.SetWriteDeadline(time.Now().Add(h.writeTimeout))
	return conn.WriteJSON(msg)
}

func playbackOf(data interface{}) string {
	switch d := data.(type) {
	case AcceptedEvent:
		return d.Event.PlaybackID
	case tracker.Event:
		return d.PlaybackID
	case database.ViewerSession:
		return d.PlaybackID
	}
	return ""
}

func parseCSVParam(param string) []string {
	var result []string
	for _, v := range strings.Split(param, ",") {
		if trimmed := strings.TrimSpace(v); trimmed != "" {
			result = append(result, trimmed)
		}
	}
	return result
}
