// file: internal/engine/engine_test.go
// version: 1.0.0
// guid: 6b3e9d28-1f4c-4a70-8e52-7c0d3a9f6b14

package engine

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jdfalk/ebook-organizer/internal/config"
	"github.com/jdfalk/ebook-organizer/internal/database"
	"github.com/jdfalk/ebook-organizer/internal/models"
	"github.com/jdfalk/ebook-organizer/internal/organizer"
	"github.com/jdfalk/ebook-organizer/internal/provider"
	"github.com/jdfalk/ebook-organizer/internal/search"
	"github.com/jdfalk/ebook-organizer/internal/syncer"
)

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	dir := t.TempDir()
	return &config.Config{
		DatabasePath:           filepath.Join(dir, "ebooks.pebble"),
		DatabaseType:           "pebble",
		SyncWorkers:            1,
		MaxConcurrentDownloads: 2,
		RetryMaxAttempts:       2,
		RetryInitialInterval:   time.Millisecond,
		RetryMaxInterval:       time.Millisecond,
		PauseErrorThreshold:    3,
		Providers: map[string]config.ProviderConfig{
			"mem": {Type: config.ProviderTypeMemory, Enabled: true},
		},
	}
}

func TestOpenRejectsInvalidConfig(t *testing.T) {
	cfg := testConfig(t)
	cfg.Providers["bad"] = config.ProviderConfig{Type: "dropbox", Enabled: true}

	e, err := Open(cfg)

	assert.Error(t, err)
	assert.Nil(t, e)
}

func TestOpenWiresMemoryProvider(t *testing.T) {
	// Arrange
	cfg := testConfig(t)
	cfg.Providers["off"] = config.ProviderConfig{Type: config.ProviderTypeMemory, Enabled: false}
	e, err := Open(cfg)
	require.NoError(t, err)
	t.Cleanup(func() { assert.NoError(t, e.Close()) })
	require.NoError(t, e.Start(context.Background()))

	a, ok := e.Registry.Get("mem")
	require.True(t, ok)
	mem := a.(*provider.MemoryAdapter)
	mem.Upsert("dune", "SF/Dune.epub", []byte("dune"),
		map[string]string{"title": "Dune", "author": "Frank Herbert"}, time.Now())

	// Act
	res, err := e.Coordinator.RunPass(context.Background(), "mem")

	// Assert
	require.NoError(t, err)
	assert.Equal(t, 1, res.Created)
	assert.Eventually(t, func() bool {
		return e.Index.Search(search.Query{Text: "dune"}).Total == 1
	}, 2*time.Second, 10*time.Millisecond, "indexer follows the library")

	n, err := e.RefreshRecordGauge()
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	stats, err := e.Organizer.Stats(organizer.Scope{Provider: "mem"})
	require.NoError(t, err)
	assert.Equal(t, 1, stats.TotalBooks)

	st, err := e.Coordinator.SyncStatus("off")
	require.NoError(t, err)
	assert.Equal(t, syncer.StateDisabled, st.State)
}

func TestStartRebuildsIndexFromStore(t *testing.T) {
	cfg := testConfig(t)
	e, err := Open(cfg)
	require.NoError(t, err)
	a, _ := e.Registry.Get("mem")
	a.(*provider.MemoryAdapter).Upsert("emma", "Emma.epub", []byte("emma"),
		map[string]string{"title": "Emma", "author": "Jane Austen"}, time.Now())
	_, err = e.Coordinator.RunPass(context.Background(), "mem")
	require.NoError(t, err)
	require.NoError(t, e.Close())

	reopened, err := Open(cfg)
	require.NoError(t, err)
	t.Cleanup(func() { _ = reopened.Close() })
	require.NoError(t, reopened.Start(context.Background()))

	assert.Equal(t, 1, reopened.Index.Len())
	assert.Equal(t, []string{"Emma"}, reopened.Index.Suggest("em", 5))
}

func TestLocalFolderChangesTriggerSync(t *testing.T) {
	cfg := testConfig(t)
	shelf := t.TempDir()
	cfg.WatchLocalFolders = true
	cfg.Providers = map[string]config.ProviderConfig{
		"shelf": {Type: config.ProviderTypeLocal, Enabled: true, Root: shelf},
	}
	e, err := Open(cfg, WithWatchDebounce(50*time.Millisecond))
	require.NoError(t, err)
	t.Cleanup(func() { _ = e.Close() })
	require.NoError(t, e.Start(context.Background()))

	require.NoError(t, os.WriteFile(filepath.Join(shelf, "Frank Herbert - Dune.epub"), []byte("epub"), 0o644))

	assert.Eventually(t, func() bool {
		n, err := e.Library.Count(database.RecordFilter{Provider: "shelf"})
		return err == nil && n == 1
	}, 5*time.Second, 20*time.Millisecond)

	recs, err := e.Library.List(database.RecordFilter{Provider: "shelf"})
	require.NoError(t, err)
	require.Len(t, recs, 1)
	assert.Equal(t, "epub", recs[0].Format)
	assert.Equal(t, models.SyncStateSynced, recs[0].SyncState)
}
