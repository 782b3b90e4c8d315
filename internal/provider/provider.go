// file: internal/provider/provider.go
// version: 1.0.0
// guid: 4d2f8a16-3c7e-4b91-a5d0-8e6f1c3b9a27

// Package provider abstracts the remote file stores an ebook library is
// synced from. Every store is reduced to a resumable stream of changes and
// a way to read one file; the sync coordinator never branches on which
// store it is talking to.
package provider

import (
	"context"
	"fmt"
	"io"
	"sort"
	"sync"
	"time"
)

// ChangeKind is what happened to a remote file.
type ChangeKind string

const (
	ChangeCreated ChangeKind = "created"
	ChangeUpdated ChangeKind = "updated"
	ChangeDeleted ChangeKind = "deleted"
	ChangeMoved   ChangeKind = "moved"
)

// Change is one entry of a provider's change stream.
type Change struct {
	RemoteID         string     `json:"remote_id"`
	Kind             ChangeKind `json:"kind"`
	ContentHash      string     `json:"content_hash,omitempty"`
	RemoteModifiedAt time.Time  `json:"remote_modified_at"`
	SizeBytes        int64      `json:"size_bytes,omitempty"`
	// Metadata carries whatever the listing already knows, keyed by the
	// metadata package's Key* names (path, title, mime_type, ...).
	Metadata map[string]string `json:"metadata,omitempty"`
}

// Clone returns a copy that shares nothing with c.
func (c Change) Clone() Change {
	out := c
	if c.Metadata != nil {
		out.Metadata = make(map[string]string, len(c.Metadata))
		for k, v := range c.Metadata {
			out.Metadata[k] = v
		}
	}
	return out
}

// DeltaPage is one page of changes. NextCursor resumes after the page;
// HasMore is false once the stream is caught up.
type DeltaPage struct {
	Changes    []Change
	NextCursor string
	HasMore    bool
}

// Content is an open file body. The caller closes Body.
type Content struct {
	Body     io.ReadCloser
	Size     int64
	Metadata map[string]string
}

// Adapter is a remote file store.
type Adapter interface {
	// ID is the provider id records are keyed by.
	ID() string
	// ListChanges returns the page of changes after cursor. An empty cursor
	// enumerates every file as Created. Passing the returned NextCursor
	// yields the remainder of the stream.
	ListChanges(ctx context.Context, cursor string) (*DeltaPage, error)
	// FetchContent opens a file. Missing files return ErrNotFound.
	FetchContent(ctx context.Context, remoteID string) (*Content, error)
}

// Registry holds the adapters of the configured providers.
type Registry struct {
	mu       sync.RWMutex
	adapters map[string]Adapter
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{adapters: make(map[string]Adapter)}
}

// Register adds an adapter. Ids must be unique.
func (r *Registry) Register(a Adapter) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.adapters[a.ID()]; exists {
		return fmt.Errorf("provider %s already registered", a.ID())
	}
	r.adapters[a.ID()] = a
	return nil
}

// Get returns the adapter for id.
func (r *Registry) Get(id string) (Adapter, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	a, ok := r.adapters[id]
	return a, ok
}

// IDs returns the registered ids in sorted order.
func (r *Registry) IDs() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ids := make([]string, 0, len(r.adapters))
	for id := range r.adapters {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}
