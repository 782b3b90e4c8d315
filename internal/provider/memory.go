// file: internal/provider/memory.go
// version: 1.0.0
// guid: 7a3e9c51-0b6d-4f28-9e14-5c8a2d7f3b60

package provider

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/jdfalk/ebook-organizer/internal/fileops"
	"github.com/jdfalk/ebook-organizer/internal/metadata"
)

const (
	memoryCursorPrefix = "mem:"
	defaultPageSize    = 100
)

// Operation names used for fault injection.
const (
	OpListChanges  = "ListChanges"
	OpFetchContent = "FetchContent"
)

type memoryItem struct {
	body     []byte
	metadata map[string]string
	path     string
}

// MemoryAdapter is a deterministic provider backed by an append-only change
// log. Its cursor is the log offset ("mem:<n>"). Faults queued with FailNext
// are returned by the next matching calls.
type MemoryAdapter struct {
	mu       sync.Mutex
	id       string
	pageSize int
	log      []Change
	items    map[string]*memoryItem
	faults   map[string][]error
	calls    map[string]int
}

// NewMemoryAdapter creates an empty adapter. pageSize <= 0 uses the default.
func NewMemoryAdapter(id string, pageSize int) *MemoryAdapter {
	if pageSize <= 0 {
		pageSize = defaultPageSize
	}
	return &MemoryAdapter{
		id:       id,
		pageSize: pageSize,
		items:    make(map[string]*memoryItem),
		faults:   make(map[string][]error),
		calls:    make(map[string]int),
	}
}

// ID returns the provider id.
func (m *MemoryAdapter) ID() string {
	return m.id
}

// Append adds raw changes to the log without touching stored content.
func (m *MemoryAdapter) Append(changes ...Change) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, c := range changes {
		m.log = append(m.log, c.Clone())
	}
}

// SetContent stores the body and embedded metadata FetchContent returns.
func (m *MemoryAdapter) SetContent(remoteID string, body []byte, meta map[string]string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	item := m.items[remoteID]
	if item == nil {
		item = &memoryItem{}
		m.items[remoteID] = item
	}
	item.body = append([]byte(nil), body...)
	item.metadata = copyMetadata(meta)
	if item.metadata == nil {
		item.metadata = make(map[string]string)
	}
	if p := meta[metadata.KeyPath]; p != "" {
		item.path = p
	} else if item.path != "" {
		item.metadata[metadata.KeyPath] = item.path
	}
}

// Upsert stores a file and appends a Created change for new ids or an
// Updated change for known ones. The content hash is the SHA256 of body.
func (m *MemoryAdapter) Upsert(remoteID, path string, body []byte, meta map[string]string, modifiedAt time.Time) Change {
	m.mu.Lock()
	defer m.mu.Unlock()

	kind := ChangeUpdated
	item := m.items[remoteID]
	if item == nil {
		kind = ChangeCreated
		item = &memoryItem{}
		m.items[remoteID] = item
	}
	full := copyMetadata(meta)
	if full == nil {
		full = make(map[string]string)
	}
	full[metadata.KeyPath] = path
	item.body = append([]byte(nil), body...)
	item.metadata = full
	item.path = path

	c := Change{
		RemoteID:         remoteID,
		Kind:             kind,
		ContentHash:      fileops.HashBytes(body),
		RemoteModifiedAt: modifiedAt,
		SizeBytes:        int64(len(body)),
		Metadata:         copyMetadata(full),
	}
	m.log = append(m.log, c)
	return c.Clone()
}

// Move renames a stored file and appends a Moved change.
func (m *MemoryAdapter) Move(remoteID, newPath string, modifiedAt time.Time) (Change, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	item := m.items[remoteID]
	if item == nil {
		return Change{}, fmt.Errorf("%w: %s", ErrNotFound, remoteID)
	}
	item.path = newPath
	if item.metadata == nil {
		item.metadata = make(map[string]string)
	}
	item.metadata[metadata.KeyPath] = newPath
	c := Change{
		RemoteID:         remoteID,
		Kind:             ChangeMoved,
		ContentHash:      fileops.HashBytes(item.body),
		RemoteModifiedAt: modifiedAt,
		SizeBytes:        int64(len(item.body)),
		Metadata:         copyMetadata(item.metadata),
	}
	m.log = append(m.log, c)
	return c.Clone(), nil
}

// Delete removes a stored file and appends a Deleted change.
func (m *MemoryAdapter) Delete(remoteID string, modifiedAt time.Time) Change {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.items, remoteID)
	c := Change{RemoteID: remoteID, Kind: ChangeDeleted, RemoteModifiedAt: modifiedAt}
	m.log = append(m.log, c)
	return c
}

// RemoveContent drops stored content without logging a change, as if the
// file vanished between listing and download.
func (m *MemoryAdapter) RemoveContent(remoteID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.items, remoteID)
}

// FailNext queues err for the next call of op (OpListChanges or
// OpFetchContent). Queued faults are returned in order.
func (m *MemoryAdapter) FailNext(op string, errs ...error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.faults[op] = append(m.faults[op], errs...)
}

// Calls returns how many times op was invoked.
func (m *MemoryAdapter) Calls(op string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls[op]
}

// Len returns the number of changes in the log.
func (m *MemoryAdapter) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.log)
}

// takeFault counts the call and pops its queued fault. Caller holds mu.
func (m *MemoryAdapter) takeFault(op string) error {
	m.calls[op]++
	queue := m.faults[op]
	if len(queue) == 0 {
		return nil
	}
	m.faults[op] = queue[1:]
	return queue[0]
}

// MemoryCursor formats a log offset as a cursor.
func MemoryCursor(offset int) string {
	return memoryCursorPrefix + strconv.Itoa(offset)
}

func parseMemoryCursor(cursor string) (int, error) {
	if cursor == "" {
		return 0, nil
	}
	if !strings.HasPrefix(cursor, memoryCursorPrefix) {
		return 0, fmt.Errorf("%w: %q is not a memory cursor", ErrCursorExpired, cursor)
	}
	n, err := strconv.Atoi(strings.TrimPrefix(cursor, memoryCursorPrefix))
	if err != nil || n < 0 {
		return 0, fmt.Errorf("%w: bad offset in %q", ErrCursorExpired, cursor)
	}
	return n, nil
}

// ListChanges returns up to pageSize log entries after cursor.
func (m *MemoryAdapter) ListChanges(ctx context.Context, cursor string) (*DeltaPage, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.takeFault(OpListChanges); err != nil {
		return nil, err
	}

	offset, err := parseMemoryCursor(cursor)
	if err != nil {
		return nil, err
	}
	if offset > len(m.log) {
		return nil, fmt.Errorf("%w: offset %d beyond log length %d", ErrCursorExpired, offset, len(m.log))
	}
	end := offset + m.pageSize
	if end > len(m.log) {
		end = len(m.log)
	}
	page := &DeltaPage{
		Changes:    make([]Change, 0, end-offset),
		NextCursor: MemoryCursor(end),
		HasMore:    end < len(m.log),
	}
	for _, c := range m.log[offset:end] {
		page.Changes = append(page.Changes, c.Clone())
	}
	return page, nil
}

// FetchContent returns the stored body of remoteID.
func (m *MemoryAdapter) FetchContent(ctx context.Context, remoteID string) (*Content, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.takeFault(OpFetchContent); err != nil {
		return nil, err
	}
	item := m.items[remoteID]
	if item == nil {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, remoteID)
	}
	body := append([]byte(nil), item.body...)
	return &Content{
		Body:     io.NopCloser(bytes.NewReader(body)),
		Size:     int64(len(body)),
		Metadata: copyMetadata(item.metadata),
	}, nil
}

func copyMetadata(in map[string]string) map[string]string {
	if in == nil {
		return nil
	}
	out := make(map[string]string, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}
