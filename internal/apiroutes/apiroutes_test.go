package apiroutes

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegistryHandler(t *testing.T) {
	gin.SetMode(gin.TestMode)

	reg := NewRegistry()
	reg.Register("/api/video-events", "POST", "Ingest telemetry events.")
	reg.Register("/api", "GET", "API root discovery.")
	reg.Register("/api/video-events", "GET", "Stream accepted events.")

	r := gin.New()
	r.GET("/api", reg.Handler())

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api", nil))
	require.Equal(t, http.StatusOK, w.Code)

	var body struct {
		Status string     `json:"status"`
		Routes []APIRoute `json:"registered_routes"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, "OK", body.Status)
	require.Len(t, body.Routes, 3)
	assert.Equal(t, "/api", body.Routes[0].Path)
	assert.Equal(t, "GET", body.Routes[1].Method)
	assert.Equal(t, "POST", body.Routes[2].Method)
}

func TestGetReturnsCopy(t *testing.T) {
	reg := NewRegistry()
	reg.Register("/a", "GET", "")
	routes := reg.Get()
	routes[0].Path = "/changed"
	assert.Equal(t, "/a", reg.Get()[0].Path)
}
