// file: internal/server/logger.go
// version: 2.0.0
// guid: 1d2e3f4a-5b6c-7d8e-9f0a-1b2c3d4e5f6a

package server

import (
	"fmt"
	"log"
	"time"

	"github.com/gin-gonic/gin"
	ulid "github.com/oklog/ulid/v2"
)

const requestIDHeader = "X-Request-ID"

// requestIDMiddleware tags every request with an id, reusing the caller's
// when one is supplied.
func requestIDMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.GetHeader(requestIDHeader)
		if id == "" {
			id = ulid.Make().String()
		}
		c.Set(requestIDHeader, id)
		c.Header(requestIDHeader, id)
		c.Next()
	}
}

func requestID(c *gin.Context) string {
	return c.GetString(requestIDHeader)
}

// OperationLogger tracks the lifecycle of a handler operation
type OperationLogger struct {
	handler    string
	method     string
	path       string
	startTime  time.Time
	requestID  string
	resourceID string
}

// NewOperationLogger creates a new operation logger
func NewOperationLogger(handler, method, path, requestID string) *OperationLogger {
	return &OperationLogger{
		handler:   handler,
		method:    method,
		path:      path,
		startTime: time.Now(),
		requestID: requestID,
	}
}

// newOperationLogger starts an operation log for the current request.
func newOperationLogger(c *gin.Context, handler, resourceID string) *OperationLogger {
	ol := NewOperationLogger(handler, c.Request.Method, c.Request.URL.Path, requestID(c))
	ol.SetResourceID(resourceID)
	ol.LogStart()
	return ol
}

// SetResourceID sets the resource ID being operated on
func (ol *OperationLogger) SetResourceID(id string) {
	ol.resourceID = id
}

// LogStart logs the start of the operation
func (ol *OperationLogger) LogStart() {
	msg := fmt.Sprintf("[START] %s %s", ol.method, ol.path)
	if ol.resourceID != "" {
		msg = fmt.Sprintf("%s (resource: %s)", msg, ol.resourceID)
	}
	log.Printf("[INFO] %s [request-id: %s]", msg, ol.requestID)
}

// LogSuccess logs the successful completion of the operation
func (ol *OperationLogger) LogSuccess(statusCode int) {
	duration := time.Since(ol.startTime)
	msg := fmt.Sprintf("[SUCCESS] %s %s (%d) in %v",
		ol.method, ol.path, statusCode, duration)
	if ol.resourceID != "" {
		msg = fmt.Sprintf("%s (resource: %s)", msg, ol.resourceID)
	}
	log.Printf("[INFO] %s [request-id: %s]", msg, ol.requestID)
}

// LogError logs an error that occurred during the operation
func (ol *OperationLogger) LogError(statusCode int, err error) {
	duration := time.Since(ol.startTime)
	msg := fmt.Sprintf("[ERROR] %s %s (%d) in %v: %v",
		ol.method, ol.path, statusCode, duration, err)
	if ol.resourceID != "" {
		msg = fmt.Sprintf("%s (resource: %s)", msg, ol.resourceID)
	}
	log.Printf("[ERROR] %s [request-id: %s]", msg, ol.requestID)
}

// LogAuditEvent logs a user action that changed the library
func LogAuditEvent(eventType string, resourceID string, action string, details string) {
	log.Printf("[AUDIT] %s on %s: %s - %s", eventType, resourceID, action, details)
}
