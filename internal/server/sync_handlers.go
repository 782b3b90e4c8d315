// file: internal/server/sync_handlers.go
// version: 1.0.0
// guid: 3e1b8d74-6a2c-4f95-8b30-d9c4e7a1f256

package server

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/jdfalk/ebook-organizer/internal/models"
	"github.com/jdfalk/ebook-organizer/internal/operations"
	"github.com/jdfalk/ebook-organizer/internal/syncer"
)

const maxSyncLogPage = 1000

func (s *Server) listSyncStatus(c *gin.Context) {
	statuses, err := s.eng.Coordinator.Statuses()
	if err != nil {
		RespondWithInternalError(c, "failed to load sync status: "+err.Error())
		return
	}
	c.JSON(http.StatusOK, NewListResponse(statuses, len(statuses), len(statuses), 0))
}

func (s *Server) getSyncStatus(c *gin.Context) {
	id := c.Param("provider")
	st, err := s.eng.Coordinator.SyncStatus(id)
	if err != nil {
		RespondWithEngineError(c, err, "provider", id)
		return
	}
	c.JSON(http.StatusOK, st)
}

func (s *Server) triggerAll(c *gin.Context) {
	ol := newOperationLogger(c, "triggerAll", "")
	results := s.eng.Coordinator.TriggerAll()
	out := make([]TriggerResponse, 0, len(results))
	for _, id := range s.eng.Registry.IDs() {
		if res, ok := results[id]; ok {
			out = append(out, TriggerResponse{Provider: id, Result: res})
		}
	}
	ol.LogSuccess(http.StatusAccepted)
	c.JSON(http.StatusAccepted, NewListResponse(out, len(out), len(out), 0))
}

// triggerSync answers 202 when a pass was queued and 200 when one was
// already in flight.
func (s *Server) triggerSync(c *gin.Context) {
	id := c.Param("provider")
	ol := newOperationLogger(c, "triggerSync", id)
	res, err := s.eng.Coordinator.TriggerSync(id)
	if err != nil {
		ol.LogError(RespondWithEngineError(c, err, "provider", id), err)
		return
	}
	status := http.StatusAccepted
	if res == syncer.TriggerAlreadyRunning {
		status = http.StatusOK
	}
	ol.LogSuccess(status)
	c.JSON(status, TriggerResponse{Provider: id, Result: res})
}

func (s *Server) resumeProvider(c *gin.Context) {
	id := c.Param("provider")
	ol := newOperationLogger(c, "resumeProvider", id)
	if err := s.eng.Coordinator.ResumeProvider(id); err != nil {
		ol.LogError(RespondWithEngineError(c, err, "provider", id), err)
		return
	}
	ol.LogSuccess(http.StatusOK)
	LogAuditEvent("provider.resume", id, "resumed", "pause cleared")
	st, err := s.eng.Coordinator.SyncStatus(id)
	if err != nil {
		RespondWithEngineError(c, err, "provider", id)
		return
	}
	c.JSON(http.StatusOK, st)
}

// syncLog pages through a provider's sync log by cursor position.
func (s *Server) syncLog(c *gin.Context) {
	id := c.Param("provider")
	if _, ok := s.eng.Registry.Get(id); !ok {
		RespondWithNotFound(c, "provider", id)
		return
	}
	var after uint64
	if v := c.Query("after"); v != "" {
		n, err := strconv.ParseUint(v, 10, 64)
		if err != nil {
			RespondWithValidationError(c, "after", "must be a non-negative integer")
			return
		}
		after = n
	}
	limit := ParseQueryInt(c, "limit", 100)
	if limit < 1 || limit > maxSyncLogPage {
		limit = 100
	}
	entries, err := s.eng.Library.SyncLog(id, after, limit)
	if err != nil {
		RespondWithInternalError(c, "failed to read sync log: "+err.Error())
		return
	}
	if entries == nil {
		entries = []models.SyncLogEntry{}
	}
	c.JSON(http.StatusOK, NewListResponse(entries, len(entries), limit, 0))
}

func (s *Server) listActiveOperations(c *gin.Context) {
	ops := s.eng.Queue.ActiveOperations()
	c.JSON(http.StatusOK, NewListResponse(ops, len(ops), len(ops), 0))
}

func (s *Server) getOperationStatus(c *gin.Context) {
	id := c.Param("id")
	st, err := s.eng.Queue.GetStatus(id)
	if err != nil {
		RespondWithEngineError(c, err, "operation", id)
		return
	}
	c.JSON(http.StatusOK, st)
}

func (s *Server) cancelOperation(c *gin.Context) {
	id := c.Param("id")
	ol := newOperationLogger(c, "cancelOperation", id)
	if err := s.eng.Queue.Cancel(id); err != nil {
		ol.LogError(RespondWithEngineError(c, err, "operation", id), err)
		return
	}
	ol.LogSuccess(http.StatusOK)
	c.JSON(http.StatusOK, NewMessageResponse("operation "+id+" canceled", operations.StatusCanceled))
}
