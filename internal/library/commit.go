// file: internal/library/commit.go
// version: 1.0.1
// guid: 2c8e5a31-7d94-4b0f-8e6a-1f3b9c5d7a20

package library

import (
	"fmt"
	"time"

	"github.com/jdfalk/ebook-organizer/internal/database"
	"github.com/jdfalk/ebook-organizer/internal/models"
	"github.com/jdfalk/ebook-organizer/internal/realtime"
)

// PageSummary counts what one committed page did.
type PageSummary struct {
	Created   int
	Updated   int
	Deleted   int
	Conflicts int
	Skipped   int
	NoOps     int
	// LastPosition is the provider's sync log sequence after the commit.
	LastPosition uint64
}

// Changed reports whether the page wrote any record.
func (s PageSummary) Changed() bool {
	return s.Created+s.Updated+s.Deleted+s.Conflicts > 0
}

// PageTx is the view a reconcile callback gets while its page's records are
// locked. Reads see writes staged earlier in the same page.
type PageTx struct {
	providerID string
	now        time.Time
	store      database.Store
	locked     map[models.RecordRef]bool
	records    map[models.RecordRef]*models.EbookRecord
	overlays   map[models.RecordRef]*models.LocalEditOverlay
	batch      *database.Batch
	entries    []models.SyncLogEntry
	changes    []change
	summary    PageSummary
}

// Now is the commit timestamp shared by every write in the page.
func (tx *PageTx) Now() time.Time {
	return tx.now
}

// ProviderID is the provider whose page is being committed.
func (tx *PageTx) ProviderID() string {
	return tx.providerID
}

func (tx *PageTx) checkLocked(ref models.RecordRef) error {
	if !tx.locked[ref] {
		return fmt.Errorf("%w: %s", ErrUnlockedRef, ref)
	}
	return nil
}

// Lookup returns the canonical record, including tombstones, or nil.
func (tx *PageTx) Lookup(ref models.RecordRef) (*models.EbookRecord, error) {
	if err := tx.checkLocked(ref); err != nil {
		return nil, err
	}
	if rec, ok := tx.records[ref]; ok {
		return rec.Clone(), nil
	}
	rec, err := tx.store.GetRecord(ref)
	if err != nil {
		return nil, err
	}
	return rec, nil
}

// Overlay returns the pending local edit of ref, or nil.
func (tx *PageTx) Overlay(ref models.RecordRef) (*models.LocalEditOverlay, error) {
	if err := tx.checkLocked(ref); err != nil {
		return nil, err
	}
	if overlay, ok := tx.overlays[ref]; ok {
		return overlay.Clone(), nil
	}
	return tx.store.GetOverlay(ref)
}

// Put stages a record write and the log entry describing it.
func (tx *PageTx) Put(rec *models.EbookRecord, op models.SyncOperation, message string) error {
	ref := rec.Ref()
	if err := tx.checkLocked(ref); err != nil {
		return err
	}
	staged := rec.Clone()
	staged.Tags = nil
	tx.records[ref] = staged
	tx.batch.PutRecord(staged)
	tx.log(op, ref, message)

	switch op {
	case models.OpCreated:
		tx.summary.Created++
		tx.changes = append(tx.changes, change{realtime.EventRecordAdded, ref})
	case models.OpDeleted:
		tx.summary.Deleted++
		tx.changes = append(tx.changes, change{realtime.EventRecordRemoved, ref})
	case models.OpConflictDetected:
		tx.summary.Conflicts++
		tx.changes = append(tx.changes, change{realtime.EventRecordUpdated, ref})
	default:
		tx.summary.Updated++
		tx.changes = append(tx.changes, change{realtime.EventRecordUpdated, ref})
	}
	return nil
}

// ClearOverlay stages removal of the pending local edit of ref.
func (tx *PageTx) ClearOverlay(ref models.RecordRef) error {
	if err := tx.checkLocked(ref); err != nil {
		return err
	}
	tx.overlays[ref] = nil
	tx.batch.DeleteOverlay(ref)
	return nil
}

// Skip records an item that could not be applied. No record is written.
func (tx *PageTx) Skip(ref models.RecordRef, message string) {
	tx.summary.Skipped++
	tx.log(models.OpErrorSkipped, ref, message)
}

// NoOp counts an item that needed no write.
func (tx *PageTx) NoOp() {
	tx.summary.NoOps++
}

func (tx *PageTx) log(op models.SyncOperation, ref models.RecordRef, message string) {
	tx.entries = append(tx.entries, models.SyncLogEntry{
		Provider:  tx.providerID,
		Operation: op,
		Ref:       ref,
		Timestamp: tx.now,
		Message:   message,
	})
}

// CommitPage locks refs, lets reconcile stage the page, and commits the staged
// records, overlays, log entries and nextCursor as one transaction. If
// reconcile fails nothing is written and the cursor stays where it was.
func (l *Library) CommitPage(providerID string, refs []models.RecordRef, nextCursor string, reconcile func(tx *PageTx) error) (*PageSummary, error) {
	pk := providerKey(providerID)
	l.locks.Lock(pk)
	defer l.locks.Unlock(pk)

	keys := make([]string, 0, len(refs))
	locked := make(map[models.RecordRef]bool, len(refs))
	for _, ref := range refs {
		if ref.Provider != providerID {
			return nil, fmt.Errorf("ref %s does not belong to provider %s", ref, providerID)
		}
		keys = append(keys, recordKey(ref))
		locked[ref] = true
	}
	unlock := l.locks.LockAll(keys)
	defer unlock()

	account, err := l.Account(providerID)
	if err != nil {
		return nil, err
	}

	tx := &PageTx{
		providerID: providerID,
		now:        l.now().UTC(),
		store:      l.store,
		locked:     locked,
		records:    make(map[models.RecordRef]*models.EbookRecord),
		overlays:   make(map[models.RecordRef]*models.LocalEditOverlay),
		batch:      database.NewBatch(),
	}
	if err := reconcile(tx); err != nil {
		return nil, err
	}

	seq := account.LogSequence
	for _, entry := range tx.entries {
		seq++
		entry.CursorPosition = seq
		entry.Cursor = nextCursor
		tx.batch.AppendLog(entry)
	}
	account.LogSequence = seq
	account.LastCursor = nextCursor
	if tx.summary.Changed() {
		account.PagesSynced++
	}
	tx.batch.PutAccount(account)

	if err := l.commit(tx.batch, tx.changes); err != nil {
		return nil, fmt.Errorf("failed to commit page for %s: %w", providerID, err)
	}
	tx.summary.LastPosition = seq
	return &tx.summary, nil
}
