// file: internal/server/error_handler.go
// version: 2.0.0
// guid: 5d6e7f8a-9b0c-1d2e-3f4a-5b6c7d8e9f0a

package server

import (
	"errors"
	"log"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/jdfalk/ebook-organizer/internal/library"
	"github.com/jdfalk/ebook-organizer/internal/models"
	"github.com/jdfalk/ebook-organizer/internal/operations"
	"github.com/jdfalk/ebook-organizer/internal/organizer"
	"github.com/jdfalk/ebook-organizer/internal/syncer"
)

// ErrorResponse provides a consistent error response format
type ErrorResponse struct {
	Error  string `json:"error"`
	Code   string `json:"code,omitempty"`
	Status int    `json:"status"`
}

// RespondWithError sends a standardized error response and logs the error
func RespondWithError(c *gin.Context, statusCode int, message string, code string) {
	logErrorWithContext(c, statusCode, message)

	c.JSON(statusCode, ErrorResponse{
		Error:  message,
		Code:   code,
		Status: statusCode,
	})
}

// RespondWithBadRequest sends a 400 Bad Request error response
func RespondWithBadRequest(c *gin.Context, message string) {
	RespondWithError(c, http.StatusBadRequest, message, "BAD_REQUEST")
}

// RespondWithValidationError sends a 400 error for validation failures
func RespondWithValidationError(c *gin.Context, field string, reason string) {
	message := "validation error: " + field
	if reason != "" {
		message = message + " (" + reason + ")"
	}
	RespondWithError(c, http.StatusBadRequest, message, "VALIDATION_ERROR")
}

// RespondWithNotFound sends a 404 Not Found error response
func RespondWithNotFound(c *gin.Context, resourceType string, id string) {
	message := resourceType + " not found"
	if id != "" {
		message = message + ": " + id
	}
	RespondWithError(c, http.StatusNotFound, message, "NOT_FOUND")
}

// RespondWithInternalError sends a 500 Internal Server Error response
func RespondWithInternalError(c *gin.Context, message string) {
	RespondWithError(c, http.StatusInternalServerError, message, "INTERNAL_ERROR")
}

// RespondWithConflict sends a 409 Conflict error response
func RespondWithConflict(c *gin.Context, message string) {
	RespondWithError(c, http.StatusConflict, message, "CONFLICT")
}

// RespondWithUnavailable sends a 503 Service Unavailable error response
func RespondWithUnavailable(c *gin.Context, message string) {
	RespondWithError(c, http.StatusServiceUnavailable, message, "UNAVAILABLE")
}

// RespondWithNoContent sends a 204 No Content response
func RespondWithNoContent(c *gin.Context) {
	c.Status(http.StatusNoContent)
}

// RespondWithEngineError maps library, coordinator and queue errors onto
// HTTP statuses. It returns the status it sent.
func RespondWithEngineError(c *gin.Context, err error, resourceType, id string) int {
	switch {
	case errors.Is(err, library.ErrNotFound):
		RespondWithNotFound(c, resourceType, id)
		return http.StatusNotFound
	case errors.Is(err, syncer.ErrUnknownProvider):
		RespondWithNotFound(c, "provider", id)
		return http.StatusNotFound
	case errors.Is(err, operations.ErrOperationNotFound):
		RespondWithNotFound(c, "operation", id)
		return http.StatusNotFound
	case errors.Is(err, library.ErrInvalidField), errors.Is(err, library.ErrInvalidTag),
		errors.Is(err, organizer.ErrInvalidCategory), errors.Is(err, organizer.ErrInvalidSubGenre):
		RespondWithValidationError(c, resourceType, err.Error())
		return http.StatusBadRequest
	case errors.Is(err, library.ErrConflict), errors.Is(err, library.ErrNoConflict):
		RespondWithConflict(c, err.Error())
		return http.StatusConflict
	case errors.Is(err, syncer.ErrProviderPaused), errors.Is(err, syncer.ErrProviderDisabled),
		errors.Is(err, syncer.ErrAlreadyRunning):
		RespondWithConflict(c, err.Error())
		return http.StatusConflict
	case errors.Is(err, operations.ErrQueueFull), errors.Is(err, operations.ErrQueueClosed):
		RespondWithUnavailable(c, err.Error())
		return http.StatusServiceUnavailable
	}
	RespondWithInternalError(c, err.Error())
	return http.StatusInternalServerError
}

// logErrorWithContext logs an error with request context for debugging
func logErrorWithContext(c *gin.Context, statusCode int, message string) {
	method := c.Request.Method
	path := c.Request.URL.Path
	clientIP := c.ClientIP()

	logLevel := "WARNING"
	if statusCode >= 500 {
		logLevel = "ERROR"
	}

	log.Printf("[%s] %s %s %d - %s (from %s)", logLevel, method, path, statusCode, message, clientIP)
}

// HandleBindError handles JSON binding errors with a consistent response
func HandleBindError(c *gin.Context, err error) bool {
	if err == nil {
		return false
	}

	errMsg := err.Error()
	if strings.Contains(errMsg, "required") || strings.Contains(errMsg, "binding") {
		RespondWithValidationError(c, "request body", errMsg)
	} else {
		RespondWithBadRequest(c, "invalid request: "+errMsg)
	}
	return true
}

// ParseQueryInt parses an integer query parameter with a default value
func ParseQueryInt(c *gin.Context, key string, defaultValue int) int {
	valueStr := c.DefaultQuery(key, "")
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.Atoi(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}

// ParseQueryBool parses a boolean query parameter with a default value
func ParseQueryBool(c *gin.Context, key string, defaultValue bool) bool {
	valueStr := c.DefaultQuery(key, "")
	if valueStr == "" {
		return defaultValue
	}
	return strings.ToLower(valueStr) == "true" || valueStr == "1"
}

// ParsePaginationParams parses common pagination parameters from query string
func ParsePaginationParams(c *gin.Context) PaginationParams {
	limit := ParseQueryInt(c, "limit", 50)
	offset := ParseQueryInt(c, "offset", 0)

	if limit < 1 {
		limit = 50
	}
	if limit > 1000 {
		limit = 1000
	}
	if offset < 0 {
		offset = 0
	}

	return PaginationParams{
		Limit:  limit,
		Offset: offset,
		Search: c.Query("search"),
	}
}

// parseRecordRef reads the :provider and :remote_id path parameters.
// Remote ids that contain slashes arrive percent-encoded.
func parseRecordRef(c *gin.Context) (models.RecordRef, bool) {
	ref := models.RecordRef{Provider: c.Param("provider"), RemoteID: c.Param("remote_id")}
	if ref.IsZero() {
		RespondWithBadRequest(c, "provider and remote_id are required")
		return ref, false
	}
	return ref, true
}
