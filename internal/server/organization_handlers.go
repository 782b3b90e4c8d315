// file: internal/server/organization_handlers.go
// version: 1.0.0
// guid: 3c5e7a91-2b4d-4f6a-8e0c-9d1b3f5a7c24

package server

import (
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/jdfalk/ebook-organizer/internal/metadata"
	"github.com/jdfalk/ebook-organizer/internal/models"
	"github.com/jdfalk/ebook-organizer/internal/organizer"
)

func organizerScope(c *gin.Context) organizer.Scope {
	return organizer.Scope{Provider: c.Query("provider"), PathPrefix: c.Query("path_prefix")}
}

func (s *Server) getTaxonomy(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"taxonomy": organizer.Taxonomy()})
}

func (s *Server) classificationStats(c *gin.Context) {
	st, err := s.eng.Organizer.Stats(organizerScope(c))
	if err != nil {
		RespondWithInternalError(c, "failed to compute classification stats: "+err.Error())
		return
	}
	c.JSON(http.StatusOK, st)
}

func (s *Server) previewClassification(c *gin.Context) {
	limit := ParseQueryInt(c, "limit", 100)
	if limit < 1 || limit > 500 {
		RespondWithValidationError(c, "limit", "must be between 1 and 500")
		return
	}
	pv, err := s.eng.Organizer.Preview(organizerScope(c), limit)
	if err != nil {
		RespondWithInternalError(c, "failed to preview classification: "+err.Error())
		return
	}
	c.JSON(http.StatusOK, pv)
}

func (s *Server) listUnclassified(c *gin.Context) {
	params := ParsePaginationParams(c)
	records, total, err := s.eng.Organizer.Unclassified(organizerScope(c), params.Limit, params.Offset)
	if err != nil {
		RespondWithInternalError(c, "failed to list unclassified ebooks: "+err.Error())
		return
	}
	if records == nil {
		records = []models.EbookRecord{}
	}
	c.JSON(http.StatusOK, NewListResponseWithTotal(records, len(records), params.Limit, params.Offset, total))
}

type classifyRequest struct {
	Force bool `json:"force"`
}

func (s *Server) classifyEbook(c *gin.Context) {
	ref, ok := parseRecordRef(c)
	if !ok {
		return
	}
	var req classifyRequest
	if c.Request.ContentLength > 0 && HandleBindError(c, c.ShouldBindJSON(&req)) {
		return
	}

	ol := newOperationLogger(c, "classifyEbook", ref.String())
	res, err := s.eng.Organizer.Classify(ref, req.Force)
	if err != nil {
		ol.LogError(RespondWithEngineError(c, err, "ebook", ref.String()), err)
		return
	}
	ol.LogSuccess(http.StatusOK)
	c.JSON(http.StatusOK, res)
}

type setClassificationRequest struct {
	Category string `json:"category"`
	SubGenre string `json:"sub_genre"`
}

func (s *Server) setClassification(c *gin.Context) {
	ref, ok := parseRecordRef(c)
	if !ok {
		return
	}
	var req setClassificationRequest
	if HandleBindError(c, c.ShouldBindJSON(&req)) {
		return
	}

	ol := newOperationLogger(c, "setClassification", ref.String())
	rec, err := s.eng.Organizer.SetClassification(ref, req.Category, req.SubGenre)
	if err != nil {
		ol.LogError(RespondWithEngineError(c, err, "classification", ref.String()), err)
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

type batchClassifyRequest struct {
	Refs       []string                           `json:"refs"`
	Provider   string                             `json:"provider"`
	PathPrefix string                             `json:"path_prefix"`
	Force      bool                               `json:"force"`
	Limit      int                                `json:"limit"`
	Overrides  map[string]metadata.Classification `json:"overrides"`
}

func (s *Server) batchClassify(c *gin.Context) {
	var body batchClassifyRequest
	if HandleBindError(c, c.ShouldBindJSON(&body)) {
		return
	}
	if body.Limit < 0 || body.Limit > 500 {
		RespondWithValidationError(c, "limit", "must be between 1 and 500")
		return
	}
	req := organizer.BatchRequest{
		Scope:     organizer.Scope{Provider: body.Provider, PathPrefix: body.PathPrefix},
		Force:     body.Force,
		Limit:     body.Limit,
		Overrides: make(map[models.RecordRef]metadata.Classification, len(body.Overrides)),
	}
	for _, raw := range body.Refs {
		ref, err := models.ParseRecordRef(raw)
		if err != nil {
			RespondWithValidationError(c, "refs", err.Error())
			return
		}
		req.Refs = append(req.Refs, ref)
	}
	for raw, cls := range body.Overrides {
		ref, err := models.ParseRecordRef(raw)
		if err != nil {
			RespondWithValidationError(c, "overrides", err.Error())
			return
		}
		req.Overrides[ref] = cls
	}

	ol := newOperationLogger(c, "batchClassify", body.Provider)
	res, err := s.eng.Organizer.BatchClassify(c.Request.Context(), req)
	if err != nil {
		ol.LogError(RespondWithEngineError(c, err, "classification", body.Provider), err)
		return
	}
	ol.LogSuccess(http.StatusOK)
	LogAuditEvent("organization.batch_classify", body.Provider, "classified",
		fmt.Sprintf("%d processed, %d newly classified", res.TotalProcessed, res.NewlyClassified))
	c.JSON(http.StatusOK, res)
}
