// file: internal/database/sqlite_store.go
// version: 2.0.0
// guid: 8b9c0d1e-2f3a-4b5c-6d7e-8f9a0b1c2d3e

package database

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	sqlite3 "github.com/mattn/go-sqlite3"

	"github.com/jdfalk/ebook-organizer/internal/models"
)

type rowScanner interface {
	Scan(dest ...interface{}) error
}

const ebookSelectColumns = `
	provider, remote_id, title, author, description, category, sub_genre,
	publisher, language, isbn, format, size_bytes, remote_path, content_hash,
	remote_modified_at, local_modified_at, created_at, sync_state,
	metadata_source, needs_enrichment, deleted, deleted_at, pending_remote
`

func scanEbook(scanner rowScanner, rec *models.EbookRecord) error {
	var deletedAt sql.NullTime
	var pending sql.NullString
	var state string
	if err := scanner.Scan(
		&rec.Provider, &rec.RemoteID, &rec.Title, &rec.Author, &rec.Description,
		&rec.Category, &rec.SubGenre, &rec.Publisher, &rec.Language, &rec.ISBN,
		&rec.Format, &rec.SizeBytes, &rec.RemotePath, &rec.ContentHash,
		&rec.RemoteModifiedAt, &rec.LocalModifiedAt, &rec.CreatedAt, &state,
		&rec.MetadataSource, &rec.NeedsEnrichment, &rec.Deleted, &deletedAt, &pending,
	); err != nil {
		return err
	}
	rec.SyncState = models.SyncState(state)
	if deletedAt.Valid {
		t := deletedAt.Time
		rec.DeletedAt = &t
	}
	if pending.Valid && pending.String != "" {
		rec.PendingRemote = &models.RemoteVersion{}
		if err := json.Unmarshal([]byte(pending.String), rec.PendingRemote); err != nil {
			return fmt.Errorf("corrupt pending_remote for %s: %w", rec.Ref(), err)
		}
	}
	return nil
}

// SQLiteStore implements the Store interface using SQLite3
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore creates a new SQLite store
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite3", path+"?_foreign_keys=on&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("failed to open SQLite database: %w", err)
	}

	// Test connection
	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("failed to ping SQLite database: %w", err)
	}

	store := &SQLiteStore{db: db}

	// Create tables
	if err := store.createTables(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create tables: %w", err)
	}

	return store, nil
}

// createTables creates all required tables
func (s *SQLiteStore) createTables() error {
	schema := `
	CREATE TABLE IF NOT EXISTS ebooks (
		provider TEXT NOT NULL,
		remote_id TEXT NOT NULL,
		title TEXT NOT NULL DEFAULT '',
		author TEXT NOT NULL DEFAULT '',
		description TEXT NOT NULL DEFAULT '',
		category TEXT NOT NULL DEFAULT '',
		sub_genre TEXT NOT NULL DEFAULT '',
		publisher TEXT NOT NULL DEFAULT '',
		language TEXT NOT NULL DEFAULT '',
		isbn TEXT NOT NULL DEFAULT '',
		format TEXT NOT NULL DEFAULT '',
		size_bytes INTEGER NOT NULL DEFAULT 0,
		remote_path TEXT NOT NULL DEFAULT '',
		content_hash TEXT NOT NULL DEFAULT '',
		remote_modified_at DATETIME NOT NULL,
		local_modified_at DATETIME NOT NULL,
		created_at DATETIME NOT NULL,
		sync_state TEXT NOT NULL,
		metadata_source TEXT NOT NULL DEFAULT '',
		needs_enrichment BOOLEAN NOT NULL DEFAULT 0,
		deleted BOOLEAN NOT NULL DEFAULT 0,
		deleted_at DATETIME,
		pending_remote TEXT,
		PRIMARY KEY (provider, remote_id)
	);

	CREATE INDEX IF NOT EXISTS idx_ebooks_category ON ebooks(category);
	CREATE INDEX IF NOT EXISTS idx_ebooks_sub_genre ON ebooks(sub_genre);
	CREATE INDEX IF NOT EXISTS idx_ebooks_sync_state ON ebooks(sync_state);

	CREATE TABLE IF NOT EXISTS tags (
		provider TEXT NOT NULL,
		remote_id TEXT NOT NULL,
		name TEXT NOT NULL,
		created_at DATETIME NOT NULL,
		PRIMARY KEY (provider, remote_id, name)
	);

	CREATE INDEX IF NOT EXISTS idx_tags_name ON tags(name);

	CREATE TABLE IF NOT EXISTS local_edits (
		provider TEXT NOT NULL,
		remote_id TEXT NOT NULL,
		fields TEXT NOT NULL,
		modified_at DATETIME NOT NULL,
		PRIMARY KEY (provider, remote_id)
	);

	CREATE TABLE IF NOT EXISTS provider_accounts (
		provider_id TEXT PRIMARY KEY,
		enabled BOOLEAN NOT NULL DEFAULT 1,
		last_cursor TEXT NOT NULL DEFAULT '',
		last_sync_at DATETIME,
		consecutive_error_count INTEGER NOT NULL DEFAULT 0,
		paused BOOLEAN NOT NULL DEFAULT 0,
		pause_reason TEXT NOT NULL DEFAULT '',
		last_error TEXT NOT NULL DEFAULT '',
		log_sequence INTEGER NOT NULL DEFAULT 0,
		pages_synced INTEGER NOT NULL DEFAULT 0
	);

	CREATE TABLE IF NOT EXISTS sync_log (
		provider TEXT NOT NULL,
		cursor_position INTEGER NOT NULL,
		cursor TEXT NOT NULL,
		operation TEXT NOT NULL,
		record_provider TEXT NOT NULL DEFAULT '',
		record_remote_id TEXT NOT NULL DEFAULT '',
		timestamp DATETIME NOT NULL,
		message TEXT NOT NULL DEFAULT '',
		PRIMARY KEY (provider, cursor_position)
	);
	`
	_, err := s.db.Exec(schema)
	return err
}

// Close closes the database connection
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// Reset empties every table.
func (s *SQLiteStore) Reset() error {
	for _, table := range []string{"ebooks", "tags", "local_edits", "provider_accounts", "sync_log"} {
		if _, err := s.db.Exec("DELETE FROM " + table); err != nil {
			return fmt.Errorf("failed to reset %s: %w", table, err)
		}
	}
	return nil
}

// SQLiteCheckpointFile is the file name a SQLite checkpoint is written to.
const SQLiteCheckpointFile = "ebooks.db"

// Checkpoint writes a compacted copy of the database to
// destDir/SQLiteCheckpointFile.
func (s *SQLiteStore) Checkpoint(destDir string) error {
	if _, err := os.Stat(destDir); err == nil {
		return fmt.Errorf("checkpoint directory %s already exists", destDir)
	}
	if err := os.MkdirAll(destDir, 0o755); err != nil {
		return fmt.Errorf("failed to create checkpoint directory: %w", err)
	}
	if _, err := s.db.Exec("VACUUM INTO ?", filepath.Join(destDir, SQLiteCheckpointFile)); err != nil {
		return fmt.Errorf("failed to checkpoint SQLite database: %w", err)
	}
	return nil
}

// Record operations

func (s *SQLiteStore) GetRecord(ref models.RecordRef) (*models.EbookRecord, error) {
	query := "SELECT " + ebookSelectColumns + " FROM ebooks WHERE provider = ? AND remote_id = ?"
	var rec models.EbookRecord
	err := scanEbook(s.db.QueryRow(query, ref.Provider, ref.RemoteID), &rec)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if rec.Tags, err = s.GetTags(ref); err != nil {
		return nil, err
	}
	return &rec, nil
}

func (s *SQLiteStore) ListRecords(filter RecordFilter) ([]models.EbookRecord, error) {
	var where []string
	var args []interface{}
	if !filter.IncludeDeleted {
		where = append(where, "deleted = 0")
	}
	if filter.Provider != "" {
		where = append(where, "provider = ?")
		args = append(args, filter.Provider)
	}
	if filter.Category != "" {
		where = append(where, "category = ?")
		args = append(args, filter.Category)
	}
	if filter.SubGenre != "" {
		where = append(where, "sub_genre = ?")
		args = append(args, filter.SubGenre)
	}
	if filter.PathPrefix != "" {
		where = append(where, "substr(remote_path, 1, length(?)) = ?")
		args = append(args, filter.PathPrefix, filter.PathPrefix)
	}
	if filter.Unclassified {
		where = append(where, "(category = '' OR category = ? OR sub_genre = '')")
		args = append(args, models.UncategorizedLabel)
	}
	if filter.Format != "" {
		where = append(where, "format = ?")
		args = append(args, filter.Format)
	}
	if filter.SyncState != "" {
		where = append(where, "sync_state = ?")
		args = append(args, string(filter.SyncState))
	}
	if filter.NeedsEnrichment {
		where = append(where, "needs_enrichment = 1")
	}
	if filter.Tag != "" {
		where = append(where, "EXISTS (SELECT 1 FROM tags t WHERE t.provider = ebooks.provider AND t.remote_id = ebooks.remote_id AND t.name = ?)")
		args = append(args, filter.Tag)
	}

	query := "SELECT " + ebookSelectColumns + " FROM ebooks"
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY provider, remote_id"
	if filter.Limit > 0 {
		query += " LIMIT ? OFFSET ?"
		args = append(args, filter.Limit, filter.Offset)
	} else if filter.Offset > 0 {
		query += " LIMIT -1 OFFSET ?"
		args = append(args, filter.Offset)
	}

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var records []models.EbookRecord
	for rows.Next() {
		var rec models.EbookRecord
		if err := scanEbook(rows, &rec); err != nil {
			return nil, err
		}
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	for i := range records {
		if records[i].Tags, err = s.GetTags(records[i].Ref()); err != nil {
			return nil, err
		}
	}
	return records, nil
}

func (s *SQLiteStore) CountRecords(filter RecordFilter) (int, error) {
	filter.Limit, filter.Offset = 0, 0
	records, err := s.ListRecords(filter)
	if err != nil {
		return 0, err
	}
	return len(records), nil
}

// Tag operations

func (s *SQLiteStore) GetTags(ref models.RecordRef) ([]string, error) {
	rows, err := s.db.Query("SELECT name FROM tags WHERE provider = ? AND remote_id = ? ORDER BY name", ref.Provider, ref.RemoteID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var tags []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, err
		}
		tags = append(tags, name)
	}
	return tags, rows.Err()
}

// Overlay operations

func scanOverlay(scanner rowScanner, overlay *models.LocalEditOverlay) error {
	var fields string
	if err := scanner.Scan(&overlay.Ref.Provider, &overlay.Ref.RemoteID, &fields, &overlay.ModifiedAt); err != nil {
		return err
	}
	return json.Unmarshal([]byte(fields), &overlay.Fields)
}

func (s *SQLiteStore) GetOverlay(ref models.RecordRef) (*models.LocalEditOverlay, error) {
	var overlay models.LocalEditOverlay
	err := scanOverlay(s.db.QueryRow(
		"SELECT provider, remote_id, fields, modified_at FROM local_edits WHERE provider = ? AND remote_id = ?",
		ref.Provider, ref.RemoteID), &overlay)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &overlay, nil
}

func (s *SQLiteStore) ListOverlays() ([]models.LocalEditOverlay, error) {
	rows, err := s.db.Query("SELECT provider, remote_id, fields, modified_at FROM local_edits ORDER BY provider, remote_id")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var overlays []models.LocalEditOverlay
	for rows.Next() {
		var overlay models.LocalEditOverlay
		if err := scanOverlay(rows, &overlay); err != nil {
			return nil, err
		}
		overlays = append(overlays, overlay)
	}
	return overlays, rows.Err()
}

// Account operations

const accountSelectColumns = `
	provider_id, enabled, last_cursor, last_sync_at, consecutive_error_count,
	paused, pause_reason, last_error, log_sequence, pages_synced
`

func scanAccount(scanner rowScanner, account *models.CloudProviderAccount) error {
	var lastSync sql.NullTime
	if err := scanner.Scan(
		&account.ProviderID, &account.Enabled, &account.LastCursor, &lastSync,
		&account.ConsecutiveErrorCount, &account.Paused, &account.PauseReason,
		&account.LastError, &account.LogSequence, &account.PagesSynced,
	); err != nil {
		return err
	}
	if lastSync.Valid {
		t := lastSync.Time
		account.LastSyncAt = &t
	}
	return nil
}

func (s *SQLiteStore) GetAccount(providerID string) (*models.CloudProviderAccount, error) {
	var account models.CloudProviderAccount
	err := scanAccount(s.db.QueryRow("SELECT "+accountSelectColumns+" FROM provider_accounts WHERE provider_id = ?", providerID), &account)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &account, nil
}

func (s *SQLiteStore) ListAccounts() ([]models.CloudProviderAccount, error) {
	rows, err := s.db.Query("SELECT " + accountSelectColumns + " FROM provider_accounts ORDER BY provider_id")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var accounts []models.CloudProviderAccount
	for rows.Next() {
		var account models.CloudProviderAccount
		if err := scanAccount(rows, &account); err != nil {
			return nil, err
		}
		accounts = append(accounts, account)
	}
	return accounts, rows.Err()
}

// Sync log operations

func (s *SQLiteStore) ListSyncLog(providerID string, afterPosition uint64, limit int) ([]models.SyncLogEntry, error) {
	query := `SELECT provider, cursor_position, cursor, operation, record_provider,
		record_remote_id, timestamp, message FROM sync_log WHERE cursor_position > ?`
	args := []interface{}{afterPosition}
	if providerID != "" {
		query += " AND provider = ? ORDER BY cursor_position"
		args = append(args, providerID)
	} else {
		query += " ORDER BY timestamp, provider, cursor_position"
	}
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entries []models.SyncLogEntry
	for rows.Next() {
		var entry models.SyncLogEntry
		var op string
		if err := rows.Scan(&entry.Provider, &entry.CursorPosition, &entry.Cursor, &op,
			&entry.Ref.Provider, &entry.Ref.RemoteID, &entry.Timestamp, &entry.Message); err != nil {
			return nil, err
		}
		entry.Operation = models.SyncOperation(op)
		entries = append(entries, entry)
	}
	return entries, rows.Err()
}

// Commit applies the batch inside one SQL transaction.
func (s *SQLiteStore) Commit(b *Batch) error {
	if b == nil || b.Len() == 0 {
		return nil
	}
	if err := b.validate(); err != nil {
		return err
	}

	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	for _, op := range b.ops {
		if err := s.apply(tx, op); err != nil {
			return err
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

func nullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: *t, Valid: true}
}

func (s *SQLiteStore) apply(tx *sql.Tx, op batchOp) error {
	var err error
	switch op.kind {
	case opPutRecord:
		rec := op.record
		pending := sql.NullString{}
		if rec.PendingRemote != nil {
			data, mErr := json.Marshal(rec.PendingRemote)
			if mErr != nil {
				return mErr
			}
			pending = sql.NullString{String: string(data), Valid: true}
		}
		_, err = tx.Exec(`INSERT OR REPLACE INTO ebooks (`+ebookSelectColumns+`)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			rec.Provider, rec.RemoteID, rec.Title, rec.Author, rec.Description,
			rec.Category, rec.SubGenre, rec.Publisher, rec.Language, rec.ISBN,
			rec.Format, rec.SizeBytes, rec.RemotePath, rec.ContentHash,
			rec.RemoteModifiedAt.UTC(), rec.LocalModifiedAt.UTC(), rec.CreatedAt.UTC(), string(rec.SyncState),
			rec.MetadataSource, rec.NeedsEnrichment, rec.Deleted, nullTime(rec.DeletedAt), pending)

	case opAddTag:
		_, err = tx.Exec(`INSERT INTO tags (provider, remote_id, name, created_at) VALUES (?, ?, ?, ?)
			ON CONFLICT(provider, remote_id, name) DO NOTHING`,
			op.ref.Provider, op.ref.RemoteID, op.tag, time.Now().UTC())

	case opRemoveTag:
		_, err = tx.Exec("DELETE FROM tags WHERE provider = ? AND remote_id = ? AND name = ?",
			op.ref.Provider, op.ref.RemoteID, op.tag)

	case opPutOverlay:
		data, mErr := json.Marshal(op.overlay.Fields)
		if mErr != nil {
			return mErr
		}
		_, err = tx.Exec(`INSERT INTO local_edits (provider, remote_id, fields, modified_at) VALUES (?, ?, ?, ?)
			ON CONFLICT(provider, remote_id) DO UPDATE SET fields = excluded.fields, modified_at = excluded.modified_at`,
			op.overlay.Ref.Provider, op.overlay.Ref.RemoteID, string(data), op.overlay.ModifiedAt.UTC())

	case opDeleteOverlay:
		_, err = tx.Exec("DELETE FROM local_edits WHERE provider = ? AND remote_id = ?", op.ref.Provider, op.ref.RemoteID)

	case opAppendLog:
		e := op.entry
		_, err = tx.Exec(`INSERT INTO sync_log (provider, cursor_position, cursor, operation,
			record_provider, record_remote_id, timestamp, message) VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
			e.Provider, e.CursorPosition, e.Cursor, string(e.Operation),
			e.Ref.Provider, e.Ref.RemoteID, e.Timestamp.UTC(), e.Message)
		var sqliteErr sqlite3.Error
		if errors.As(err, &sqliteErr) && sqliteErr.Code == sqlite3.ErrConstraint {
			return fmt.Errorf("%w: %s/%d", ErrLogConflict, e.Provider, e.CursorPosition)
		}

	case opPutAccount:
		a := op.account
		_, err = tx.Exec(`INSERT OR REPLACE INTO provider_accounts (`+accountSelectColumns+`)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			a.ProviderID, a.Enabled, a.LastCursor, nullTime(a.LastSyncAt), a.ConsecutiveErrorCount,
			a.Paused, a.PauseReason, a.LastError, a.LogSequence, a.PagesSynced)

	default:
		return fmt.Errorf("unknown batch operation %d", op.kind)
	}
	return err
}
