package errors

import (
	"errors"
	"net/http"

	"github.com/Iseeumhmm/projectace-demo/internal/logger"
	"github.com/gin-gonic/gin"
)

// AppError represents a structured error with HTTP context
type AppError struct {
	Code       string                 `json:"code"`
	Message    string                 `json:"message"`
	Context    map[string]interface{} `json:"context,omitempty"`
	Cause      error                  `json:"-"`
	HTTPStatus int                    `json:"-"`
}

func (e *AppError) Error() string {
	if e.Cause != nil {
		return e.Message + ": " + e.Cause.Error()
	}
	return e.Message
}

func (e *AppError) Unwrap() error {
	return e.Cause
}

// WithContext adds a detail to the error response.
func (e *AppError) WithContext(key string, value interface{}) *AppError {
	if e.Context == nil {
		e.Context = make(map[string]interface{})
	}
	e.Context[key] = value
	return e
}

// ToGinResponse sends the error as a standardized JSON response
func (e *AppError) ToGinResponse(c *gin.Context) {
	statusCode := e.HTTPStatus
	if statusCode == 0 {
		statusCode = http.StatusInternalServerError
	}

	response := gin.H{
		"error": e.Message,
		"code":  e.Code,
	}

	if len(e.Context) > 0 {
		response["details"] = e.Context
	}

	args := []interface{}{
		"status", statusCode,
		"code", e.Code,
		"message", e.Message,
		"path", c.Request.URL.Path,
		"method", c.Request.Method,
	}
	if e.Cause != nil {
		args = append(args, "error", e.Cause)
	}
	if statusCode >= http.StatusInternalServerError {
		logger.Error("HTTP error response", args...)
	} else {
		logger.Debug("HTTP error response", args...)
	}

	c.AbortWithStatusJSON(statusCode, response)
}

// As extracts an *AppError from err's chain.
func As(err error) (*AppError, bool) {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr, true
	}
	return nil, false
}

// Respond writes err to the client, wrapping non-AppErrors as internal errors.
func Respond(c *gin.Context, err error) {
	if appErr, ok := As(err); ok {
		appErr.ToGinResponse(c)
		return
	}
	NewInternalError("Internal server error", err).ToGinResponse(c)
}

// Common error constructors
func NewValidationError(message string, field string) *AppError {
	return &AppError{
		Code:       "VALIDATION_ERROR",
		Message:    message,
		HTTPStatus: http.StatusBadRequest,
		Context:    map[string]interface{}{"field": field},
	}
}

func NewNotFoundError(resource string, id string) *AppError {
	return &AppError{
		Code:       "NOT_FOUND",
		Message:    resource + " not found",
		HTTPStatus: http.StatusNotFound,
		Context:    map[string]interface{}{"resource": resource, "id": id},
	}
}

func NewInternalError(message string, cause error) *AppError {
	return &AppError{
		Code:       "INTERNAL_ERROR",
		Message:    message,
		HTTPStatus: http.StatusInternalServerError,
		Cause:      cause,
	}
}

func NewDatabaseError(operation string, cause error) *AppError {
	return &AppError{
		Code:       "DATABASE_ERROR",
		Message:    "Database operation failed",
		HTTPStatus: http.StatusInternalServerError,
		Context:    map[string]interface{}{"operation": operation},
		Cause:      cause,
	}
}

// NewPayloadTooLargeError rejects a request carrying more items than allowed.
func NewPayloadTooLargeError(limit int, got int) *AppError {
	return &AppError{
		Code:       "PAYLOAD_TOO_LARGE",
		Message:    "Too many items in request",
		HTTPStatus: http.StatusRequestEntityTooLarge,
		Context:    map[string]interface{}{"limit": limit, "received": got},
	}
}

// NewBodyTooLargeError rejects a request body longer than limit bytes.
func NewBodyTooLargeError(limit int64) *AppError {
	return &AppError{
		Code:       "PAYLOAD_TOO_LARGE",
		Message:    "Request body too large",
		HTTPStatus: http.StatusRequestEntityTooLarge,
		Context:    map[string]interface{}{"limit_bytes": limit},
	}
}

// NewUnavailableError reports a dependency that is down.
func NewUnavailableError(component string, cause error) *AppError {
	return &AppError{
		Code:       "UNAVAILABLE",
		Message:    component + " unavailable",
		HTTPStatus: http.StatusServiceUnavailable,
		Context:    map[string]interface{}{"component": component},
		Cause:      cause,
	}
}

// HTTP helpers

// HandleValidationError sends a validation error response
func HandleValidationError(c *gin.Context, message string, field string) {
	NewValidationError(message, field).ToGinResponse(c)
}

// HandleNotFound sends a not found error response
func HandleNotFound(c *gin.Context, resource string, id string) {
	NewNotFoundError(resource, id).ToGinResponse(c)
}

// HandleInternalError sends an internal server error response
func HandleInternalError(c *gin.Context, message string, err error) {
	NewInternalError(message, err).ToGinResponse(c)
}

// HandleDatabaseError sends a database error response
func HandleDatabaseError(c *gin.Context, operation string, err error) {
	NewDatabaseError(operation, err).ToGinResponse(c)
}

// RequireParam reads a path parameter, answering 400 when it is empty.
func RequireParam(c *gin.Context, paramName string) (string, bool) {
	id := c.Param(paramName)
	if id == "" {
		HandleValidationError(c, "Missing "+paramName, paramName)
		return "", false
	}
	return id, true
}
