package middleware

import (
	"github.com/Iseeumhmm/projectace-demo/internal/geo"
	"github.com/gin-gonic/gin"
)

// GeoKey is the gin context key holding the request's geo.Geo.
const GeoKey = "geo"

// GeoHeaders republishes Cloudflare location headers on the response as
// x-cf-* (and the client addresses as x-client-ip / x-client-ips) and stores
// the parsed location for handlers.
func GeoHeaders() gin.HandlerFunc {
	return func(c *gin.Context) {
		h := c.Request.Header
		for _, pair := range geo.HeaderPairs {
			if v := h.Get(pair.From); v != "" {
				c.Header(pair.To, v)
			}
		}
		c.Set(GeoKey, geo.FromHeaders(h))
		c.Next()
	}
}

// GeoFrom returns the location stored by GeoHeaders, or the zero Geo.
func GeoFrom(c *gin.Context) geo.Geo {
	if v, ok := c.Get(GeoKey); ok {
		if g, ok := v.(geo.Geo); ok {
			return g
		}
	}
	return geo.Geo{}
}
