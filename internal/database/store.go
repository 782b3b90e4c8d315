// file: internal/database/store.go
// version: 3.0.0
// guid: 8a9b0c1d-2e3f-4a5b-6c7d-8e9f0a1b2c3d

package database

import (
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/jdfalk/ebook-organizer/internal/models"
)

// ErrLogConflict is returned when a commit tries to rewrite an existing
// sync log position. The log is append-only.
var ErrLogConflict = errors.New("sync log position already written")

// Store defines the persistence contract for the local cache.
// This abstraction allows us to support both PebbleDB (default) and SQLite3 (opt-in).
// Every write goes through Commit so that one delta page, or one local edit,
// lands atomically.
type Store interface {
	// Lifecycle
	Close() error
	Reset() error
	// Checkpoint writes a consistent copy of the database into destDir,
	// which must not exist yet.
	Checkpoint(destDir string) error

	// Records (tombstones included; Tags populated)
	GetRecord(ref models.RecordRef) (*models.EbookRecord, error)
	ListRecords(filter RecordFilter) ([]models.EbookRecord, error)
	CountRecords(filter RecordFilter) (int, error)

	// Tags
	GetTags(ref models.RecordRef) ([]string, error)

	// Local edit overlays
	GetOverlay(ref models.RecordRef) (*models.LocalEditOverlay, error)
	ListOverlays() ([]models.LocalEditOverlay, error)

	// Provider accounts
	GetAccount(providerID string) (*models.CloudProviderAccount, error)
	ListAccounts() ([]models.CloudProviderAccount, error)

	// Sync log, ordered by cursor position
	ListSyncLog(providerID string, afterPosition uint64, limit int) ([]models.SyncLogEntry, error)

	// Commit applies every mutation in the batch in one transaction.
	Commit(batch *Batch) error
}

// RecordFilter narrows ListRecords/CountRecords. Zero values match everything.
type RecordFilter struct {
	Provider        string
	Category        string
	SubGenre        string
	Format          string
	SyncState       models.SyncState
	Tag             string
	// PathPrefix keeps records whose remote path starts with it.
	PathPrefix      string
	IncludeDeleted  bool
	NeedsEnrichment bool
	// Unclassified keeps records without a full Category/SubGenre placement.
	Unclassified    bool
	Limit           int
	Offset          int
}

// Matches reports whether rec passes the filter (tag excluded; engines
// resolve tags through their own index).
func (f RecordFilter) Matches(rec *models.EbookRecord) bool {
	if rec.Deleted && !f.IncludeDeleted {
		return false
	}
	if f.Provider != "" && rec.Provider != f.Provider {
		return false
	}
	if f.Category != "" && rec.Category != f.Category {
		return false
	}
	if f.SubGenre != "" && rec.SubGenre != f.SubGenre {
		return false
	}
	if f.PathPrefix != "" && !strings.HasPrefix(rec.RemotePath, f.PathPrefix) {
		return false
	}
	if f.Unclassified && rec.Classified() {
		return false
	}
	if f.Format != "" && rec.Format != f.Format {
		return false
	}
	if f.SyncState != "" && rec.SyncState != f.SyncState {
		return false
	}
	if f.NeedsEnrichment && !rec.NeedsEnrichment {
		return false
	}
	return true
}

func paginate(records []models.EbookRecord, limit, offset int) []models.EbookRecord {
	if offset > 0 {
		if offset >= len(records) {
			return []models.EbookRecord{}
		}
		records = records[offset:]
	}
	if limit > 0 && limit < len(records) {
		records = records[:limit]
	}
	return records
}

func sortRecords(records []models.EbookRecord) {
	sort.Slice(records, func(i, j int) bool {
		return records[i].Ref().Less(records[j].Ref())
	})
}

type opKind int

const (
	opPutRecord opKind = iota
	opAddTag
	opRemoveTag
	opPutOverlay
	opDeleteOverlay
	opAppendLog
	opPutAccount
)

type batchOp struct {
	kind    opKind
	record  *models.EbookRecord
	ref     models.RecordRef
	tag     string
	overlay *models.LocalEditOverlay
	entry   models.SyncLogEntry
	account *models.CloudProviderAccount
}

// Batch collects mutations to be committed atomically. Operations are
// applied in the order they were added.
type Batch struct {
	ops []batchOp
}

// NewBatch creates an empty batch.
func NewBatch() *Batch {
	return &Batch{}
}

// PutRecord inserts or replaces a record. Tags on the record are ignored;
// use AddTag/RemoveTag.
func (b *Batch) PutRecord(rec *models.EbookRecord) {
	b.ops = append(b.ops, batchOp{kind: opPutRecord, record: rec.Clone()})
}

// AddTag attaches a normalized tag to a record.
func (b *Batch) AddTag(ref models.RecordRef, tag string) {
	b.ops = append(b.ops, batchOp{kind: opAddTag, ref: ref, tag: tag})
}

// RemoveTag detaches a tag from a record.
func (b *Batch) RemoveTag(ref models.RecordRef, tag string) {
	b.ops = append(b.ops, batchOp{kind: opRemoveTag, ref: ref, tag: tag})
}

// PutOverlay stores the pending local edit for a record.
func (b *Batch) PutOverlay(overlay *models.LocalEditOverlay) {
	b.ops = append(b.ops, batchOp{kind: opPutOverlay, overlay: overlay.Clone()})
}

// DeleteOverlay clears the pending local edit for a record.
func (b *Batch) DeleteOverlay(ref models.RecordRef) {
	b.ops = append(b.ops, batchOp{kind: opDeleteOverlay, ref: ref})
}

// AppendLog adds a sync log entry. The position must not exist yet.
func (b *Batch) AppendLog(entry models.SyncLogEntry) {
	b.ops = append(b.ops, batchOp{kind: opAppendLog, entry: entry})
}

// PutAccount stores provider account state (cursor included).
func (b *Batch) PutAccount(account *models.CloudProviderAccount) {
	b.ops = append(b.ops, batchOp{kind: opPutAccount, account: account.Clone()})
}

// Len returns the number of queued mutations.
func (b *Batch) Len() int {
	return len(b.ops)
}

func (b *Batch) validate() error {
	seen := make(map[string]bool)
	for _, op := range b.ops {
		switch op.kind {
		case opPutRecord:
			if op.record.Ref().IsZero() {
				return fmt.Errorf("record without identity")
			}
		case opAddTag, opRemoveTag:
			if op.ref.IsZero() || op.tag == "" {
				return fmt.Errorf("invalid tag mutation for %s", op.ref)
			}
		case opPutOverlay:
			if op.overlay.Ref.IsZero() {
				return fmt.Errorf("overlay without identity")
			}
		case opAppendLog:
			if op.entry.Provider == "" || op.entry.CursorPosition == 0 {
				return fmt.Errorf("sync log entry needs provider and position")
			}
			key := fmt.Sprintf("%s/%d", op.entry.Provider, op.entry.CursorPosition)
			if seen[key] {
				return fmt.Errorf("%w: %s", ErrLogConflict, key)
			}
			seen[key] = true
		case opPutAccount:
			if op.account.ProviderID == "" {
				return fmt.Errorf("account without provider id")
			}
		}
	}
	return nil
}

// OpenStore opens a store of the given type.
func OpenStore(dbType, path string, enableSQLite bool) (Store, error) {
	switch dbType {
	case "sqlite", "sqlite3":
		if !enableSQLite {
			return nil, fmt.Errorf("SQLite3 is not enabled. To use SQLite3, you must explicitly enable it with --enable-sqlite3-i-know-the-risks or set 'enable_sqlite3_i_know_the_risks: true' in your config file. PebbleDB is the recommended database for production use")
		}
		store, err := NewSQLiteStore(path)
		if err != nil {
			return nil, fmt.Errorf("failed to initialize SQLite store: %w", err)
		}
		return store, nil
	case "pebble", "":
		store, err := NewPebbleStore(path)
		if err != nil {
			return nil, fmt.Errorf("failed to initialize PebbleDB store: %w", err)
		}
		return store, nil
	default:
		return nil, fmt.Errorf("unsupported database type: %s (supported: pebble, sqlite)", dbType)
	}
}
