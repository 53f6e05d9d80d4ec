package handlers

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/Iseeumhmm/projectace-demo/internal/database"
	apperrors "github.com/Iseeumhmm/projectace-demo/internal/errors"
	"github.com/gin-gonic/gin"
)

// SessionsHandler serves stored sessions and their events.
type SessionsHandler struct {
	store EventStore
}

// NewSessionsHandler creates a SessionsHandler.
func NewSessionsHandler(store EventStore) *SessionsHandler {
	return &SessionsHandler{store: store}
}

// GetSession returns one session aggregate.
func (h *SessionsHandler) GetSession(c *gin.Context) {
	id, ok := apperrors.RequireParam(c, "id")
	if !ok {
		return
	}

	session, err := h.store.GetSession(c.Request.Context(), id)
	if errors.Is(err, database.ErrNotFound) {
		apperrors.HandleNotFound(c, "session", id)
		return
	}
	if err != nil {
		apperrors.HandleDatabaseError(c, "get_session", err)
		return
	}
	c.JSON(http.StatusOK, session)
}

// ListEvents returns a session's events in arrival order.
func (h *SessionsHandler) ListEvents(c *gin.Context) {
	id, ok := apperrors.RequireParam(c, "id")
	if !ok {
		return
	}
	limit, ok := queryInt(c, "limit", 0)
	if !ok {
		return
	}

	list, err := h.store.ListSessionEvents(c.Request.Context(), id, limit)
	if err != nil {
		apperrors.HandleDatabaseError(c, "list_session_events", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"session_id": id,
		"events":     list,
		"count":      len(list),
	})
}

// ListByPlayback pages through the sessions of one video.
func (h *SessionsHandler) ListByPlayback(c *gin.Context) {
	playbackID, ok := apperrors.RequireParam(c, "playbackId")
	if !ok {
		return
	}
	limit, ok := queryInt(c, "limit", 50)
	if !ok {
		return
	}
	offset, ok := queryInt(c, "offset", 0)
	if !ok {
		return
	}

	sessions, total, err := h.store.ListSessionsByPlayback(c.Request.Context(), playbackID, limit, offset)
	if err != nil {
		apperrors.HandleDatabaseError(c, "list_sessions", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"playback_id": playbackID,
		"sessions":    sessions,
		"total":       total,
		"limit":       limit,
		"offset":      offset,
	})
}

func queryInt(c *gin.Context, name string, def int) (int, bool) {
	raw := c.Query(name)
	if raw == "" {
		return def, true
	}
	v, err := strconv.Atoi(raw)
	if err != nil || v < 0 {
		apperrors.HandleValidationError(c, name+" must be a non-negative integer", name)
		return 0, false
	}
	return v, true
}
