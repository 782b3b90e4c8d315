// file: internal/syncer/helpers_test.go
// version: 1.1.0
// guid: 5c3e8a17-9d2f-4b60-8e14-7a0f6c2d9b38

package syncer

import (
	"context"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/jdfalk/ebook-organizer/internal/database"
	"github.com/jdfalk/ebook-organizer/internal/library"
	"github.com/jdfalk/ebook-organizer/internal/metadata"
	"github.com/jdfalk/ebook-organizer/internal/models"
	"github.com/jdfalk/ebook-organizer/internal/provider"
	"github.com/jdfalk/ebook-organizer/internal/realtime"
)

var base = time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)

type clock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *clock) Set(t time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = t
}

type testEnv struct {
	lib      *library.Library
	hub      *realtime.EventHub
	registry *provider.Registry
	mem      *provider.MemoryAdapter
	coord    *Coordinator
	clock    *clock
}

func fastOptions() Options {
	return Options{
		MaxConcurrentDownloads: 2,
		RetryMaxAttempts:       3,
		RetryInitialInterval:   time.Millisecond,
		RetryMaxInterval:       2 * time.Millisecond,
		PauseErrorThreshold:    2,
	}
}

// newEnv wires a pebble-backed library to a memory provider "mem".
func newEnv(t *testing.T, pageSize int, opts Options, extra ...provider.Adapter) *testEnv {
	t.Helper()
	store, err := database.NewPebbleStore(filepath.Join(t.TempDir(), "sync.pebble"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	return newEnvOn(t, store, pageSize, opts, extra...)
}

func newEnvOn(t *testing.T, store database.Store, pageSize int, opts Options, extra ...provider.Adapter) *testEnv {
	t.Helper()
	hub := realtime.NewEventHub()
	t.Cleanup(hub.Close)

	clk := &clock{now: base}
	lib := library.New(store, hub, library.WithClock(clk.Now))
	mem := provider.NewMemoryAdapter("mem", pageSize)
	reg := provider.NewRegistry()
	require.NoError(t, reg.Register(mem))
	for _, a := range extra {
		require.NoError(t, reg.Register(a))
	}
	coord := New(lib, reg, metadata.NewEnricher(nil), hub, nil, opts)
	coord.now = clk.Now
	return &testEnv{lib: lib, hub: hub, registry: reg, mem: mem, coord: coord, clock: clk}
}

func bookMeta(title, author string) map[string]string {
	return map[string]string{metadata.KeyTitle: title, metadata.KeyAuthor: author, metadata.KeyGenre: "science fiction"}
}

func memRef(id string) models.RecordRef {
	return models.RecordRef{Provider: "mem", RemoteID: id}
}

func (e *testEnv) pass(t *testing.T) *PassResult {
	t.Helper()
	res, err := e.coord.RunPass(context.Background(), "mem")
	require.NoError(t, err)
	return res
}

func (e *testEnv) logOps(t *testing.T, providerID string) []string {
	t.Helper()
	entries, err := e.lib.SyncLog(providerID, 0, 0)
	require.NoError(t, err)
	out := make([]string, len(entries))
	for i, entry := range entries {
		out[i] = fmt.Sprintf("%s %s", entry.Operation, entry.Ref.RemoteID)
	}
	return out
}

// scriptedAdapter serves fixed pages keyed by cursor. A non-nil gate blocks
// ListChanges until it is closed.
type scriptedAdapter struct {
	id    string
	mu    sync.Mutex
	pages map[string]*provider.DeltaPage
	gate  chan struct{}
	calls int
}

func newScripted(id string) *scriptedAdapter {
	return &scriptedAdapter{id: id, pages: make(map[string]*provider.DeltaPage)}
}

func (s *scriptedAdapter) ID() string { return s.id }

func (s *scriptedAdapter) Script(cursor string, page *provider.DeltaPage) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pages[cursor] = page
}

func (s *scriptedAdapter) ListChanges(ctx context.Context, cursor string) (*provider.DeltaPage, error) {
	s.mu.Lock()
	gate := s.gate
	s.calls++
	s.mu.Unlock()
	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	page, ok := s.pages[cursor]
	if !ok {
		return &provider.DeltaPage{NextCursor: cursor}, nil
	}
	return page, nil
}

func (s *scriptedAdapter) FetchContent(ctx context.Context, remoteID string) (*provider.Content, error) {
	return nil, fmt.Errorf("%w: %s", provider.ErrNotFound, remoteID)
}

// failingStore rejects the next failCommits commits.
type failingStore struct {
	database.Store
	mu          sync.Mutex
	failCommits int
}

func (s *failingStore) FailCommits(n int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failCommits = n
}

func (s *failingStore) Commit(batch *database.Batch) error {
	s.mu.Lock()
	fail := s.failCommits > 0
	if fail {
		s.failCommits--
	}
	s.mu.Unlock()
	if fail {
		return errors.New("no space left on device")
	}
	return s.Store.Commit(batch)
}

// gatedFetcher serves a scripted listing and holds every content download
// until release is closed, tracking how many run at once.
type gatedFetcher struct {
	*scriptedAdapter
	release chan struct{}
	active  atomic.Int32
	peak    atomic.Int32
}

func (g *gatedFetcher) FetchContent(ctx context.Context, remoteID string) (*provider.Content, error) {
	n := g.active.Add(1)
	defer g.active.Add(-1)
	for {
		p := g.peak.Load()
		if n <= p || g.peak.CompareAndSwap(p, n) {
			break
		}
	}
	select {
	case <-g.release:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	return &provider.Content{
		Body:     io.NopCloser(strings.NewReader(remoteID)),
		Metadata: bookMeta(remoteID, "Ursula K. Le Guin"),
	}, nil
}

var (
	allRecords               = database.RecordFilter{}
	allRecordsWithTombstones = database.RecordFilter{IncludeDeleted: true}
)
