package handlers

import (
	"net/http"
	"strings"

	"github.com/Iseeumhmm/projectace-demo/internal/middleware"
	"github.com/gin-gonic/gin"
)

// HandleCloudflareEcho returns the request headers and the location parsed
// from them, for checking what the edge forwards.
func HandleCloudflareEcho(c *gin.Context) {
	headers := make(map[string]string, len(c.Request.Header))
	for name, values := range c.Request.Header {
		headers[strings.ToLower(name)] = strings.Join(values, ", ")
	}

	c.JSON(http.StatusOK, gin.H{
		"headers": headers,
		"geo":     middleware.GeoFrom(c),
	})
}
