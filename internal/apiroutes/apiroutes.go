// Package apiroutes keeps the list of endpoints served under /api for the
// discovery route.
package apiroutes

import (
	"net/http"
	"sort"
	"sync"

	"github.com/gin-gonic/gin"
)

// APIRoute is one registered endpoint.
type APIRoute struct {
	Path        string `json:"path"`
	Method      string `json:"method"`
	Description string `json:"description"`
}

// Registry is a concurrency-safe route list.
type Registry struct {
	mu     sync.RWMutex
	routes []APIRoute
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{}
}

// Register adds a route.
func (r *Registry) Register(path, method, description string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.routes = append(r.routes, APIRoute{Path: path, Method: method, Description: description})
}

// Get returns a copy of the routes sorted by path then method.
func (r *Registry) Get() []APIRoute {
	r.mu.RLock()
	out := make([]APIRoute, len(r.routes))
	copy(out, r.routes)
	r.mu.RUnlock()

	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Path != out[j].Path {
			return out[i].Path < out[j].Path
		}
		return out[i].Method < out[j].Method
	})
	return out
}

// Handler lists the registered routes.
func (r *Registry) Handler() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status":            "OK",
			"version":           "v1",
			"message":           "projectace telemetry API",
			"registered_routes": r.Get(),
		})
	}
}
