package middleware

import (
	"bytes"
	"io"
	"time"

	apperrors "github.com/Iseeumhmm/projectace-demo/internal/errors"
	"github.com/gin-gonic/gin"
	"github.com/hashicorp/go-hclog"
)

const maxLoggedBody = 4096

// RequestLogger logs every request at debug level and every response at
// info. Health checks are skipped.
func RequestLogger(logger hclog.Logger) gin.HandlerFunc {
	if logger == nil {
		logger = hclog.NewNullLogger()
	}
	return func(c *gin.Context) {
		if c.Request.URL.Path == "/api/health" {
			c.Next()
			return
		}

		start := time.Now()

		if logger.IsDebug() && c.Request.Body != nil {
			bodyBytes, _ := io.ReadAll(c.Request.Body)
			c.Request.Body = io.NopCloser(bytes.NewBuffer(bodyBytes))
			if len(bodyBytes) > maxLoggedBody {
				bodyBytes = bodyBytes[:maxLoggedBody]
			}
			logger.Debug("http request",
				"method", c.Request.Method,
				"path", c.Request.URL.Path,
				"query", c.Request.URL.RawQuery,
				"body", string(bodyBytes),
				"ip", c.ClientIP(),
			)
		}

		c.Next()

		logger.Info("http response",
			"method", c.Request.Method,
			"path", c.Request.URL.Path,
			"status", c.Writer.Status(),
			"duration", time.Since(start).String(),
			"size", c.Writer.Size(),
			"request_id", c.GetString(apperrors.RequestIDKey),
		)
	}
}

// ErrorLogger logs errors handlers attached with c.Error.
func ErrorLogger(logger hclog.Logger) gin.HandlerFunc {
	if logger == nil {
		logger = hclog.NewNullLogger()
	}
	return func(c *gin.Context) {
		c.Next()

		for _, err := range c.Errors {
			logger.Error("request error",
				"path", c.Request.URL.Path,
				"method", c.Request.Method,
				"error", err.Error(),
				"type", err.Type,
				"request_id", c.GetString(apperrors.RequestIDKey),
			)
		}
	}
}
