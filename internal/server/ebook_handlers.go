// file: internal/server/ebook_handlers.go
// version: 1.1.0
// guid: 8a3f6c21-4d9e-4b07-9e15-2c7b0d5f8a43

package server

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/jdfalk/ebook-organizer/internal/database"
	"github.com/jdfalk/ebook-organizer/internal/library"
	"github.com/jdfalk/ebook-organizer/internal/models"
	"github.com/jdfalk/ebook-organizer/internal/search"
)

func (s *Server) searchEbooks(c *gin.Context) {
	q := search.Query{
		Text:     c.Query("q"),
		Category: c.Query("category"),
		Format:   c.Query("format"),
		Page:     ParseQueryInt(c, "page", 1),
		PageSize: ParseQueryInt(c, "page_size", 0),
	}
	c.JSON(http.StatusOK, s.eng.Index.Search(q))
}

func (s *Server) suggest(c *gin.Context) {
	limit := ParseQueryInt(c, "limit", 10)
	if limit < 1 || limit > 100 {
		limit = 10
	}
	suggestions := s.eng.Index.Suggest(c.Query("prefix"), limit)
	if suggestions == nil {
		suggestions = []string{}
	}
	c.JSON(http.StatusOK, gin.H{"suggestions": suggestions})
}

func (s *Server) listEbooks(c *gin.Context) {
	params := ParsePaginationParams(c)
	filter := database.RecordFilter{
		Provider:       c.Query("provider"),
		Category:       c.Query("category"),
		SubGenre:       c.Query("sub_genre"),
		PathPrefix:     c.Query("path_prefix"),
		Format:         c.Query("format"),
		SyncState:      models.SyncState(c.Query("sync_state")),
		Tag:            c.Query("tag"),
		IncludeDeleted: ParseQueryBool(c, "include_deleted", false),
	}
	if filter.Tag != "" {
		filter.Tag = library.NormalizeTag(filter.Tag)
	}

	total, err := s.eng.Library.Count(filter)
	if err != nil {
		RespondWithInternalError(c, "failed to count ebooks: "+err.Error())
		return
	}
	filter.Limit = params.Limit
	filter.Offset = params.Offset
	records, err := s.eng.Library.List(filter)
	if err != nil {
		RespondWithInternalError(c, "failed to list ebooks: "+err.Error())
		return
	}
	c.JSON(http.StatusOK, NewListResponseWithTotal(records, len(records), params.Limit, params.Offset, total))
}

func (s *Server) getEbook(c *gin.Context) {
	ref, ok := parseRecordRef(c)
	if !ok {
		return
	}
	rec, err := s.eng.Library.Get(ref)
	if err != nil {
		RespondWithEngineError(c, err, "ebook", ref.String())
		return
	}
	overlay, err := s.eng.Library.Overlay(ref)
	if err != nil {
		RespondWithInternalError(c, "failed to load overlay: "+err.Error())
		return
	}
	c.JSON(http.StatusOK, EbookResponse{Ebook: rec, Overlay: overlay})
}

type editRequest struct {
	Fields map[string]string `json:"fields" binding:"required"`
}

func (s *Server) editEbook(c *gin.Context) {
	ref, ok := parseRecordRef(c)
	if !ok {
		return
	}
	var req editRequest
	if HandleBindError(c, c.ShouldBindJSON(&req)) {
		return
	}
	if len(req.Fields) == 0 {
		RespondWithValidationError(c, "fields", "at least one field is required")
		return
	}

	ol := newOperationLogger(c, "editEbook", ref.String())
	rec, err := s.eng.Library.ApplyLocalEdit(ref, req.Fields)
	if err != nil {
		ol.LogError(RespondWithEngineError(c, err, "ebook", ref.String()), err)
		return
	}
	overlay, err := s.eng.Library.Overlay(ref)
	if err != nil {
		ol.LogError(http.StatusInternalServerError, err)
		RespondWithInternalError(c, "failed to load overlay: "+err.Error())
		return
	}
	ol.LogSuccess(http.StatusOK)
	c.JSON(http.StatusOK, EbookResponse{Ebook: rec, Overlay: overlay})
}

func (s *Server) deleteEbook(c *gin.Context) {
	ref, ok := parseRecordRef(c)
	if !ok {
		return
	}
	ol := newOperationLogger(c, "deleteEbook", ref.String())
	if err := s.eng.Library.DeleteRecord(ref); err != nil {
		ol.LogError(RespondWithEngineError(c, err, "ebook", ref.String()), err)
		return
	}
	ol.LogSuccess(http.StatusOK)
	LogAuditEvent("ebook.delete", ref.String(), "tombstoned", "local delete")
	c.JSON(http.StatusOK, DeleteResponse{Deleted: true, ID: ref.String()})
}

func (s *Server) discardEdit(c *gin.Context) {
	ref, ok := parseRecordRef(c)
	if !ok {
		return
	}
	ol := newOperationLogger(c, "discardEdit", ref.String())
	if err := s.eng.Library.DiscardEdit(ref); err != nil {
		ol.LogError(RespondWithEngineError(c, err, "ebook", ref.String()), err)
		return
	}
	ol.LogSuccess(http.StatusNoContent)
	RespondWithNoContent(c)
}

func (s *Server) listTags(c *gin.Context) {
	ref, ok := parseRecordRef(c)
	if !ok {
		return
	}
	if _, err := s.eng.Library.Get(ref); err != nil {
		RespondWithEngineError(c, err, "ebook", ref.String())
		return
	}
	s.respondWithTags(c, ref, http.StatusOK, false)
}

type tagRequest struct {
	Tag string `json:"tag" binding:"required"`
}

func (s *Server) addTag(c *gin.Context) {
	ref, ok := parseRecordRef(c)
	if !ok {
		return
	}
	var req tagRequest
	if HandleBindError(c, c.ShouldBindJSON(&req)) {
		return
	}
	added, err := s.eng.Library.AddTag(ref, req.Tag)
	if err != nil {
		RespondWithEngineError(c, err, "ebook", ref.String())
		return
	}
	status := http.StatusOK
	if added {
		status = http.StatusCreated
	}
	s.respondWithTags(c, ref, status, added)
}

func (s *Server) removeTag(c *gin.Context) {
	ref, ok := parseRecordRef(c)
	if !ok {
		return
	}
	removed, err := s.eng.Library.RemoveTag(ref, c.Param("tag"))
	if err != nil {
		RespondWithEngineError(c, err, "ebook", ref.String())
		return
	}
	s.respondWithTags(c, ref, http.StatusOK, removed)
}

func (s *Server) respondWithTags(c *gin.Context, ref models.RecordRef, status int, changed bool) {
	tags, err := s.eng.Library.Tags(ref)
	if err != nil {
		RespondWithInternalError(c, "failed to load tags: "+err.Error())
		return
	}
	if tags == nil {
		tags = []string{}
	}
	c.JSON(status, TagResponse{Tags: tags, Changed: changed})
}

func (s *Server) libraryStats(c *gin.Context) {
	stats, err := s.eng.Library.Stats()
	if err != nil {
		RespondWithInternalError(c, "failed to compute stats: "+err.Error())
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"library": stats,
		"indexed": s.eng.Index.Len(),
	})
}

func (s *Server) listConflicts(c *gin.Context) {
	records, err := s.eng.Library.Conflicts()
	if err != nil {
		RespondWithInternalError(c, "failed to list conflicts: "+err.Error())
		return
	}
	out := make([]ConflictResponse, 0, len(records))
	for i := range records {
		rec := &records[i]
		overlay, err := s.eng.Library.Overlay(rec.Ref())
		if err != nil {
			RespondWithInternalError(c, "failed to load overlay: "+err.Error())
			return
		}
		out = append(out, ConflictResponse{
			Ref:     rec.Ref(),
			Local:   rec,
			Remote:  rec.PendingRemote,
			Overlay: overlay,
		})
	}
	c.JSON(http.StatusOK, NewListResponse(out, len(out), len(out), 0))
}

type resolveRequest struct {
	Resolution string `json:"resolution" binding:"required"`
}

func (s *Server) resolveConflict(c *gin.Context) {
	ref, ok := parseRecordRef(c)
	if !ok {
		return
	}
	var req resolveRequest
	if HandleBindError(c, c.ShouldBindJSON(&req)) {
		return
	}
	resolution, err := library.ParseResolution(req.Resolution)
	if err != nil {
		RespondWithValidationError(c, "resolution", err.Error())
		return
	}

	ol := newOperationLogger(c, "resolveConflict", ref.String())
	rec, err := s.eng.Coordinator.ResolveConflict(ref, resolution)
	if err != nil {
		ol.LogError(RespondWithEngineError(c, err, "ebook", ref.String()), err)
		return
	}
	ol.LogSuccess(http.StatusOK)
	LogAuditEvent("conflict.resolve", ref.String(), string(resolution), rec.ContentHash)
	c.JSON(http.StatusOK, EbookResponse{Ebook: rec})
}

func (s *Server) refreshMetadata(c *gin.Context) {
	limit := ParseQueryInt(c, "limit", 0)
	ol := newOperationLogger(c, "refreshMetadata", "")
	updated, err := s.eng.Enricher.ReEnrich(c.Request.Context(), s.eng.Library, limit)
	if err != nil {
		ol.LogError(http.StatusBadGateway, err)
		RespondWithError(c, http.StatusBadGateway, "metadata lookup failed: "+err.Error(), "LOOKUP_FAILED")
		return
	}
	ol.LogSuccess(http.StatusOK)
	c.JSON(http.StatusOK, gin.H{"updated": updated})
}
