// file: internal/server/response_types.go
// version: 2.0.0
// guid: 7f8a9b0c-1d2e-3f4a-5b6c-7d8e9f0a1b2c

package server

import (
	"github.com/jdfalk/ebook-organizer/internal/models"
	"github.com/jdfalk/ebook-organizer/internal/syncer"
)

// ListResponse provides a consistent format for paginated list responses
type ListResponse struct {
	Items  any `json:"items"`
	Count  int `json:"count"`
	Limit  int `json:"limit"`
	Offset int `json:"offset"`
	Total  int `json:"total,omitempty"`
}

// MessageResponse provides a consistent format for status messages
type MessageResponse struct {
	Message string `json:"message"`
	Code    string `json:"code,omitempty"`
}

// DeleteResponse provides a consistent format for deletion responses
type DeleteResponse struct {
	Deleted bool   `json:"deleted"`
	ID      string `json:"id"`
}

// StatusResponse provides a consistent format for status check responses
type StatusResponse struct {
	Status string `json:"status"` // "ok", "degraded", "error"
	Code   string `json:"code,omitempty"`
	Data   any    `json:"data,omitempty"`
}

// PaginationParams holds common pagination parameters
type PaginationParams struct {
	Limit  int
	Offset int
	Search string
}

// EbookResponse is one ebook with its pending local edit, if any.
type EbookResponse struct {
	Ebook   *models.EbookRecord      `json:"ebook"`
	Overlay *models.LocalEditOverlay `json:"overlay,omitempty"`
}

// ConflictResponse pairs a conflicted record with both competing versions.
type ConflictResponse struct {
	Ref     models.RecordRef         `json:"record_ref"`
	Local   *models.EbookRecord      `json:"local"`
	Remote  *models.RemoteVersion    `json:"remote,omitempty"`
	Overlay *models.LocalEditOverlay `json:"overlay,omitempty"`
}

// TriggerResponse answers a sync trigger.
type TriggerResponse struct {
	Provider string               `json:"provider"`
	Result   syncer.TriggerResult `json:"result"`
}

// TagResponse answers tag mutations.
type TagResponse struct {
	Tags    []string `json:"tags"`
	Changed bool     `json:"changed"`
}

// HealthResponse is returned by the health endpoint.
type HealthResponse struct {
	Status       string         `json:"status"`
	Timestamp    int64          `json:"timestamp"`
	Version      string         `json:"version"`
	DatabaseType string         `json:"database_type"`
	Metrics      map[string]int `json:"metrics"`
	PartialError string         `json:"partial_error,omitempty"`
}

// NewListResponse creates a new ListResponse with pagination info
func NewListResponse(items any, count int, limit int, offset int) *ListResponse {
	return &ListResponse{
		Items:  items,
		Count:  count,
		Limit:  limit,
		Offset: offset,
		Total:  count,
	}
}

// NewListResponseWithTotal creates a new ListResponse with a distinct total
func NewListResponseWithTotal(items any, count int, limit int, offset int, total int) *ListResponse {
	return &ListResponse{
		Items:  items,
		Count:  count,
		Limit:  limit,
		Offset: offset,
		Total:  total,
	}
}

// NewMessageResponse creates a new MessageResponse
func NewMessageResponse(message string, code string) *MessageResponse {
	return &MessageResponse{
		Message: message,
		Code:    code,
	}
}
