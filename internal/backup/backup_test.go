// file: internal/backup/backup_test.go
// version: 2.0.0
// guid: c3d4e5f6-a7b8-9c0d-1e2f-3a4b5c6d7e8f

package backup

import (
	"archive/tar"
	"compress/gzip"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/jdfalk/ebook-organizer/internal/database"
	"github.com/jdfalk/ebook-organizer/internal/models"
)

func testRecord(id, title string) *models.EbookRecord {
	ts := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	return &models.EbookRecord{
		Provider:         "shelf",
		RemoteID:         id,
		Title:            title,
		Author:           "Mary Shelley",
		Format:           "epub",
		ContentHash:      "hash-" + id,
		RemoteModifiedAt: ts,
		LocalModifiedAt:  ts,
		CreatedAt:        ts,
		SyncState:        models.SyncStateSynced,
	}
}

// seedPebble opens a Pebble store under dir holding one record, plus a
// provider state directory with one snapshot file.
func seedPebble(t *testing.T, dir string) (database.Store, Source, Target) {
	t.Helper()
	dbPath := filepath.Join(dir, "ebooks.pebble")
	store, err := database.NewPebbleStore(dbPath)
	if err != nil {
		t.Fatalf("failed to open pebble store: %v", err)
	}
	b := database.NewBatch()
	b.PutRecord(testRecord("1", "Frankenstein"))
	if err := store.Commit(b); err != nil {
		t.Fatalf("failed to seed store: %v", err)
	}

	state := filepath.Join(dir, "provider-state")
	if err := os.MkdirAll(filepath.Join(state, "shelf"), 0o755); err != nil {
		t.Fatalf("failed to create state dir: %v", err)
	}
	if err := os.WriteFile(filepath.Join(state, "shelf", "snapshot-1.json"), []byte(`{"gen":1}`), 0o644); err != nil {
		t.Fatalf("failed to write snapshot: %v", err)
	}

	src := Source{Store: store, DatabaseType: "pebble", StateDir: state}
	target := Target{DatabasePath: dbPath, DatabaseType: "pebble", StateDir: state}
	return store, src, target
}

// TestDefaultConfig tests the default backup configuration
func TestDefaultConfig(t *testing.T) {
	// Arrange-Act
	cfg := DefaultConfig("/var/lib/ebooks/ebooks.pebble")

	// Assert
	if cfg.Dir != filepath.Join("/var/lib/ebooks", "backups") {
		t.Errorf("Expected Dir next to the database, got '%s'", cfg.Dir)
	}
	if cfg.MaxBackups != 10 {
		t.Errorf("Expected MaxBackups to be 10, got %d", cfg.MaxBackups)
	}
	if cfg.CompressionLevel != gzip.BestCompression {
		t.Errorf("Expected CompressionLevel to be %d, got %d", gzip.BestCompression, cfg.CompressionLevel)
	}
}

// TestCreateBackupPebble tests archive contents and checksum file
func TestCreateBackupPebble(t *testing.T) {
	// Arrange
	dir := t.TempDir()
	store, src, _ := seedPebble(t, dir)
	defer store.Close()
	cfg := Config{Dir: filepath.Join(dir, "backups"), MaxBackups: 5, CompressionLevel: gzip.BestSpeed}

	// Act
	info, err := Create(src, cfg)

	// Assert
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	if !strings.HasPrefix(info.Filename, "ebooks_pebble_") || !strings.HasSuffix(info.Filename, ".tar.gz") {
		t.Errorf("Unexpected filename %s", info.Filename)
	}
	if info.Size <= 0 {
		t.Error("Expected a non-empty archive")
	}
	if len(info.Checksum) != 64 {
		t.Errorf("Expected a sha256 checksum, got %q", info.Checksum)
	}
	if err := Verify(info.Path); err != nil {
		t.Errorf("Verify failed: %v", err)
	}

	names := archiveNames(t, info.Path)
	if names[0] != "manifest.yaml" {
		t.Errorf("Expected manifest first, got %s", names[0])
	}
	if !containsPrefix(names, "database/") {
		t.Error("Expected database entries in archive")
	}
	if !contains(names, "provider-state/shelf/snapshot-1.json") {
		t.Errorf("Expected provider state in archive, got %v", names)
	}

	entries, err := os.ReadDir(cfg.Dir)
	if err != nil {
		t.Fatalf("Failed to read backup dir: %v", err)
	}
	for _, e := range entries {
		if e.IsDir() {
			t.Errorf("Checkpoint working directory %s was left behind", e.Name())
		}
	}
}

// TestCreateBackupRequiresStore tests the nil store guard
func TestCreateBackupRequiresStore(t *testing.T) {
	_, err := Create(Source{DatabaseType: "pebble"}, Config{Dir: t.TempDir()})
	if err == nil {
		t.Fatal("Expected error without a store")
	}
}

// TestRestoreBackupRoundTrip tests the database and state come back
func TestRestoreBackupRoundTrip(t *testing.T) {
	// Arrange
	dir := t.TempDir()
	store, src, target := seedPebble(t, dir)
	info, err := Create(src, Config{Dir: filepath.Join(dir, "backups"), MaxBackups: 5, CompressionLevel: gzip.BestSpeed})
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}

	b := database.NewBatch()
	b.PutRecord(testRecord("2", "The Last Man"))
	if err := store.Commit(b); err != nil {
		t.Fatalf("Commit failed: %v", err)
	}
	if err := store.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}
	if err := os.RemoveAll(target.StateDir); err != nil {
		t.Fatalf("Failed to remove state: %v", err)
	}

	// Act
	if err := Restore(info.Path, target, true); err != nil {
		t.Fatalf("Restore failed: %v", err)
	}

	// Assert
	restored, err := database.NewPebbleStore(target.DatabasePath)
	if err != nil {
		t.Fatalf("Failed to open restored store: %v", err)
	}
	defer restored.Close()
	n, err := restored.CountRecords(database.RecordFilter{IncludeDeleted: true})
	if err != nil {
		t.Fatalf("CountRecords failed: %v", err)
	}
	if n != 1 {
		t.Errorf("Expected the record written after the backup to be gone, got %d records", n)
	}
	if _, err := os.Stat(filepath.Join(target.StateDir, "shelf", "snapshot-1.json")); err != nil {
		t.Errorf("Expected provider state to be restored: %v", err)
	}
}

// TestRestoreBackupSQLite tests the sqlite checkpoint file is moved into place
func TestRestoreBackupSQLite(t *testing.T) {
	// Arrange
	dir := t.TempDir()
	dbPath := filepath.Join(dir, "ebooks.db")
	store, err := database.NewSQLiteStore(dbPath)
	if err != nil {
		t.Fatalf("Failed to open sqlite store: %v", err)
	}
	b := database.NewBatch()
	b.PutRecord(testRecord("1", "Mathilda"))
	if err := store.Commit(b); err != nil {
		t.Fatalf("Commit failed: %v", err)
	}
	info, err := Create(Source{Store: store, DatabaseType: "sqlite"}, Config{Dir: filepath.Join(dir, "backups"), CompressionLevel: gzip.BestSpeed})
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	if err := store.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}

	// Act
	err = Restore(info.Path, Target{DatabasePath: dbPath, DatabaseType: "sqlite"}, true)

	// Assert
	if err != nil {
		t.Fatalf("Restore failed: %v", err)
	}
	restored, err := database.NewSQLiteStore(dbPath)
	if err != nil {
		t.Fatalf("Failed to open restored store: %v", err)
	}
	defer restored.Close()
	rec, err := restored.GetRecord(models.RecordRef{Provider: "shelf", RemoteID: "1"})
	if err != nil {
		t.Fatalf("GetRecord failed: %v", err)
	}
	if rec.Title != "Mathilda" {
		t.Errorf("Expected Mathilda, got %s", rec.Title)
	}
}

// TestRestoreBackupRejectsWrongType tests the manifest type check
func TestRestoreBackupRejectsWrongType(t *testing.T) {
	dir := t.TempDir()
	store, src, target := seedPebble(t, dir)
	defer store.Close()
	info, err := Create(src, Config{Dir: filepath.Join(dir, "backups"), CompressionLevel: gzip.BestSpeed})
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}

	target.DatabaseType = "sqlite"
	target.DatabasePath = filepath.Join(dir, "other.db")
	if err := Restore(info.Path, target, false); err == nil {
		t.Fatal("Expected error restoring a pebble backup into sqlite")
	}
}

// TestRestoreBackupChecksumMismatch tests tampered archives are refused
func TestRestoreBackupChecksumMismatch(t *testing.T) {
	dir := t.TempDir()
	store, src, target := seedPebble(t, dir)
	defer store.Close()
	info, err := Create(src, Config{Dir: filepath.Join(dir, "backups"), CompressionLevel: gzip.BestSpeed})
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	if err := os.WriteFile(info.Path+".sha256", []byte(strings.Repeat("0", 64)+"  x\n"), 0o644); err != nil {
		t.Fatalf("Failed to overwrite checksum: %v", err)
	}

	err = Restore(info.Path, target, true)
	if !errors.Is(err, ErrChecksumMismatch) {
		t.Fatalf("Expected ErrChecksumMismatch, got %v", err)
	}
}

// TestRestoreBackupInvalidPath tests a missing archive
func TestRestoreBackupInvalidPath(t *testing.T) {
	dir := t.TempDir()
	err := Restore(filepath.Join(dir, "missing.tar.gz"), Target{DatabasePath: filepath.Join(dir, "db"), DatabaseType: "pebble"}, false)
	if err == nil {
		t.Fatal("Expected error for missing archive")
	}
}

// TestRestoreRejectsPathTraversal tests entries outside the restore dir
func TestRestoreRejectsPathTraversal(t *testing.T) {
	// Arrange
	dir := t.TempDir()
	archive := filepath.Join(dir, "evil.tar.gz")
	f, err := os.Create(archive)
	if err != nil {
		t.Fatalf("Failed to create archive: %v", err)
	}
	gz := gzip.NewWriter(f)
	tw := tar.NewWriter(gz)
	body := []byte("pwned")
	if err := tw.WriteHeader(&tar.Header{Name: "../../escape.txt", Mode: 0o644, Size: int64(len(body)), Typeflag: tar.TypeReg}); err != nil {
		t.Fatalf("WriteHeader failed: %v", err)
	}
	_, _ = tw.Write(body)
	_ = tw.Close()
	_ = gz.Close()
	_ = f.Close()

	// Act
	err = Restore(archive, Target{DatabasePath: filepath.Join(dir, "db", "ebooks.pebble"), DatabaseType: "pebble"}, false)

	// Assert
	if err == nil || !strings.Contains(err.Error(), "escapes") {
		t.Fatalf("Expected traversal error, got %v", err)
	}
	if _, err := os.Stat(filepath.Join(dir, "escape.txt")); !os.IsNotExist(err) {
		t.Error("Traversal entry was written")
	}
}

// TestListBackupsNewestFirst tests ordering and metadata parsing
func TestListBackupsNewestFirst(t *testing.T) {
	// Arrange
	dir := t.TempDir()
	store, src, _ := seedPebble(t, dir)
	defer store.Close()
	cfg := Config{Dir: filepath.Join(dir, "backups"), CompressionLevel: gzip.BestSpeed}

	first, err := Create(src, cfg)
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	time.Sleep(1100 * time.Millisecond)
	second, err := Create(src, cfg)
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	if err := os.WriteFile(filepath.Join(cfg.Dir, "notes.txt"), []byte("x"), 0o644); err != nil {
		t.Fatalf("Failed to write stray file: %v", err)
	}

	// Act
	backups, err := List(cfg.Dir)

	// Assert
	if err != nil {
		t.Fatalf("List failed: %v", err)
	}
	if len(backups) != 2 {
		t.Fatalf("Expected 2 backups, got %d", len(backups))
	}
	if backups[0].Filename != second.Filename || backups[1].Filename != first.Filename {
		t.Errorf("Expected newest first, got %s then %s", backups[0].Filename, backups[1].Filename)
	}
	if backups[0].DatabaseType != "pebble" {
		t.Errorf("Expected pebble, got %s", backups[0].DatabaseType)
	}
	if backups[0].Checksum != second.Checksum {
		t.Error("Expected checksum read from the sidecar file")
	}
}

// TestListBackupsMissingDirectory tests a backup dir that was never created
func TestListBackupsMissingDirectory(t *testing.T) {
	backups, err := List(filepath.Join(t.TempDir(), "nope"))
	if err != nil {
		t.Fatalf("List failed: %v", err)
	}
	if len(backups) != 0 {
		t.Errorf("Expected no backups, got %d", len(backups))
	}
}

// TestPruneKeepsNewest tests MaxBackups enforcement on create
func TestPruneKeepsNewest(t *testing.T) {
	dir := t.TempDir()
	store, src, _ := seedPebble(t, dir)
	defer store.Close()
	cfg := Config{Dir: filepath.Join(dir, "backups"), MaxBackups: 2, CompressionLevel: gzip.BestSpeed}

	var last *Info
	for i := 0; i < 3; i++ {
		info, err := Create(src, cfg)
		if err != nil {
			t.Fatalf("Create %d failed: %v", i, err)
		}
		last = info
	}

	backups, err := List(cfg.Dir)
	if err != nil {
		t.Fatalf("List failed: %v", err)
	}
	if len(backups) != 2 {
		t.Fatalf("Expected 2 backups after pruning, got %d", len(backups))
	}
	if backups[0].Filename != last.Filename {
		t.Errorf("Expected newest backup kept, got %s", backups[0].Filename)
	}
	sums, _ := filepath.Glob(filepath.Join(cfg.Dir, "*.sha256"))
	if len(sums) != 2 {
		t.Errorf("Expected checksum files pruned with archives, got %d", len(sums))
	}
}

// TestDeleteBackup tests archive and sidecar removal
func TestDeleteBackup(t *testing.T) {
	dir := t.TempDir()
	store, src, _ := seedPebble(t, dir)
	defer store.Close()
	info, err := Create(src, Config{Dir: filepath.Join(dir, "backups"), CompressionLevel: gzip.BestSpeed})
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}

	if err := Delete(info.Path); err != nil {
		t.Fatalf("Delete failed: %v", err)
	}
	if _, err := os.Stat(info.Path); !os.IsNotExist(err) {
		t.Error("Expected archive to be removed")
	}
	if _, err := os.Stat(info.Path + ".sha256"); !os.IsNotExist(err) {
		t.Error("Expected checksum file to be removed")
	}
	if err := Delete(info.Path); err == nil {
		t.Error("Expected error deleting a missing backup")
	}
}

func archiveNames(t *testing.T, path string) []string {
	t.Helper()
	f, err := os.Open(path)
	if err != nil {
		t.Fatalf("Failed to open archive: %v", err)
	}
	defer f.Close()
	gz, err := gzip.NewReader(f)
	if err != nil {
		t.Fatalf("Failed to open gzip: %v", err)
	}
	tr := tar.NewReader(gz)
	var names []string
	for {
		h, err := tr.Next()
		if err != nil {
			break
		}
		names = append(names, h.Name)
	}
	return names
}

func contains(names []string, want string) bool {
	for _, n := range names {
		if n == want {
			return true
		}
	}
	return false
}

func containsPrefix(names []string, prefix string) bool {
	for _, n := range names {
		if strings.HasPrefix(n, prefix) {
			return true
		}
	}
	return false
}
