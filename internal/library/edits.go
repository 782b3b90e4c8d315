// file: internal/library/edits.go
// version: 1.0.0
// guid: 9d4f1b63-2a7c-4e85-b0d3-6c8e2f5a9b17

package library

import (
	"fmt"

	"github.com/jdfalk/ebook-organizer/internal/database"
	"github.com/jdfalk/ebook-organizer/internal/models"
	"github.com/jdfalk/ebook-organizer/internal/realtime"
)

// Resolution chooses the winner of a sync conflict.
type Resolution string

const (
	KeepLocal  Resolution = "keep_local"
	KeepRemote Resolution = "keep_remote"
)

// ParseResolution validates a resolution name.
func ParseResolution(s string) (Resolution, error) {
	switch Resolution(s) {
	case KeepLocal, KeepRemote:
		return Resolution(s), nil
	}
	return "", fmt.Errorf("unknown resolution %q (want keep_local or keep_remote)", s)
}

// loadLive reads a live record and its overlay. Caller holds the record lock.
func (l *Library) loadLive(ref models.RecordRef) (*models.EbookRecord, *models.LocalEditOverlay, error) {
	rec, err := l.store.GetRecord(ref)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load %s: %w", ref, err)
	}
	if rec == nil || rec.Deleted {
		return nil, nil, ErrNotFound
	}
	overlay, err := l.store.GetOverlay(ref)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load overlay for %s: %w", ref, err)
	}
	return rec, overlay, nil
}

// ApplyLocalEdit records user edits as an overlay on top of the canonical
// record. Canonical fields are untouched until a later remote update merges
// or a conflict resolution accepts them. Edits that change nothing are a no-op.
func (l *Library) ApplyLocalEdit(ref models.RecordRef, fields map[string]string) (*models.EbookRecord, error) {
	for name := range fields {
		if !models.IsEditableField(name) {
			return nil, fmt.Errorf("%w: %s", ErrInvalidField, name)
		}
	}

	key := recordKey(ref)
	l.locks.Lock(key)
	defer l.locks.Unlock(key)

	rec, overlay, err := l.loadLive(ref)
	if err != nil {
		return nil, err
	}
	current := effective(rec, overlay)

	diff := make(map[string]string)
	for name, value := range fields {
		if current.Field(name) != value {
			diff[name] = value
		}
	}
	if len(diff) == 0 {
		return current, nil
	}

	now := l.now().UTC()
	if overlay == nil {
		overlay = &models.LocalEditOverlay{Ref: ref, Fields: make(map[string]string)}
	}
	for name, value := range diff {
		if rec.Field(name) == value {
			// Edited back to the canonical value.
			delete(overlay.Fields, name)
			continue
		}
		overlay.Fields[name] = value
	}
	overlay.ModifiedAt = now

	batch := database.NewBatch()
	rec.LocalModifiedAt = now
	if len(overlay.Fields) == 0 {
		batch.DeleteOverlay(ref)
		if rec.SyncState == models.SyncStateLocalModified {
			rec.SyncState = models.SyncStateSynced
		}
		overlay = nil
	} else {
		batch.PutOverlay(overlay)
		if rec.SyncState == models.SyncStateSynced {
			rec.SyncState = models.SyncStateLocalModified
		}
	}
	batch.PutRecord(rec)

	if err := l.commit(batch, []change{{realtime.EventRecordUpdated, ref}}); err != nil {
		return nil, fmt.Errorf("failed to save edit for %s: %w", ref, err)
	}
	return effective(rec, overlay), nil
}

// DiscardEdit drops the pending overlay of ref.
func (l *Library) DiscardEdit(ref models.RecordRef) error {
	key := recordKey(ref)
	l.locks.Lock(key)
	defer l.locks.Unlock(key)

	rec, overlay, err := l.loadLive(ref)
	if err != nil {
		return err
	}
	if rec.SyncState == models.SyncStateConflict {
		return ErrConflict
	}
	if overlay == nil {
		return nil
	}

	rec.SyncState = models.SyncStateSynced
	rec.LocalModifiedAt = l.now().UTC()
	batch := database.NewBatch()
	batch.DeleteOverlay(ref)
	batch.PutRecord(rec)
	return l.commit(batch, []change{{realtime.EventRecordUpdated, ref}})
}

// DeleteRecord tombstones a record locally. A later remote change newer than
// the deletion brings it back.
func (l *Library) DeleteRecord(ref models.RecordRef) error {
	key := recordKey(ref)
	l.locks.Lock(key)
	defer l.locks.Unlock(key)

	rec, _, err := l.loadLive(ref)
	if err != nil {
		return err
	}

	now := l.now().UTC()
	rec.Deleted = true
	rec.DeletedAt = &now
	rec.SyncState = models.SyncStateDeleted
	rec.PendingRemote = nil
	rec.LocalModifiedAt = now

	batch := database.NewBatch()
	batch.PutRecord(rec)
	batch.DeleteOverlay(ref)
	return l.commit(batch, []change{{realtime.EventRecordRemoved, ref}})
}

// AddTag attaches a tag. It reports false, and writes nothing, when the
// record already carries the normalized tag.
func (l *Library) AddTag(ref models.RecordRef, tag string) (bool, error) {
	name := NormalizeTag(tag)
	if name == "" {
		return false, ErrInvalidTag
	}

	key := recordKey(ref)
	l.locks.Lock(key)
	defer l.locks.Unlock(key)

	rec, _, err := l.loadLive(ref)
	if err != nil {
		return false, err
	}
	for _, existing := range rec.Tags {
		if existing == name {
			return false, nil
		}
	}

	rec.LocalModifiedAt = l.now().UTC()
	batch := database.NewBatch()
	batch.AddTag(ref, name)
	batch.PutRecord(rec)
	if err := l.commit(batch, []change{{realtime.EventRecordUpdated, ref}}); err != nil {
		return false, fmt.Errorf("failed to tag %s: %w", ref, err)
	}
	return true, nil
}

// RemoveTag detaches a tag. It reports false when the tag was not present.
func (l *Library) RemoveTag(ref models.RecordRef, tag string) (bool, error) {
	name := NormalizeTag(tag)
	if name == "" {
		return false, ErrInvalidTag
	}

	key := recordKey(ref)
	l.locks.Lock(key)
	defer l.locks.Unlock(key)

	rec, _, err := l.loadLive(ref)
	if err != nil {
		return false, err
	}
	found := false
	for _, existing := range rec.Tags {
		if existing == name {
			found = true
			break
		}
	}
	if !found {
		return false, nil
	}

	rec.LocalModifiedAt = l.now().UTC()
	batch := database.NewBatch()
	batch.RemoveTag(ref, name)
	batch.PutRecord(rec)
	if err := l.commit(batch, []change{{realtime.EventRecordUpdated, ref}}); err != nil {
		return false, fmt.Errorf("failed to untag %s: %w", ref, err)
	}
	return true, nil
}

// ResolveConflict settles a conflicted record. KeepRemote accepts the held
// back remote version and drops the local edits; KeepLocal accepts the remote
// version and then the local edits on top of it. Either way the overlay is
// cleared and the resolution is appended to the provider's sync log.
func (l *Library) ResolveConflict(ref models.RecordRef, resolution Resolution) (*models.EbookRecord, error) {
	if _, err := ParseResolution(string(resolution)); err != nil {
		return nil, err
	}

	pk := providerKey(ref.Provider)
	l.locks.Lock(pk)
	defer l.locks.Unlock(pk)
	key := recordKey(ref)
	l.locks.Lock(key)
	defer l.locks.Unlock(key)

	rec, overlay, err := l.loadLive(ref)
	if err != nil {
		return nil, err
	}
	if rec.SyncState != models.SyncStateConflict || rec.PendingRemote == nil {
		return nil, ErrNoConflict
	}

	now := l.now().UTC()
	ApplyRemoteVersion(rec, rec.PendingRemote)
	if resolution == KeepLocal && overlay != nil {
		rec.ApplyFields(overlay.Fields)
	}
	rec.PendingRemote = nil
	rec.SyncState = models.SyncStateSynced
	rec.LocalModifiedAt = now

	account, err := l.Account(ref.Provider)
	if err != nil {
		return nil, err
	}
	account.LogSequence++

	batch := database.NewBatch()
	batch.PutRecord(rec)
	batch.DeleteOverlay(ref)
	batch.AppendLog(models.SyncLogEntry{
		Provider:       ref.Provider,
		CursorPosition: account.LogSequence,
		Cursor:         account.LastCursor,
		Operation:      models.OpUpdated,
		Ref:            ref,
		Timestamp:      now,
		Message:        "conflict resolved: " + string(resolution),
	})
	batch.PutAccount(account)

	if err := l.commit(batch, []change{{realtime.EventRecordUpdated, ref}}); err != nil {
		return nil, fmt.Errorf("failed to resolve conflict for %s: %w", ref, err)
	}
	return rec, nil
}

// ApplyRemoteVersion copies a remote version's content identity and fields onto rec.
func ApplyRemoteVersion(rec *models.EbookRecord, v *models.RemoteVersion) {
	rec.ContentHash = v.ContentHash
	rec.RemoteModifiedAt = v.RemoteModifiedAt
	rec.SizeBytes = v.SizeBytes
	if v.RemotePath != "" {
		rec.RemotePath = v.RemotePath
	}
	if v.Format != "" {
		rec.Format = v.Format
	}
	rec.ApplyFields(v.Fields)
}

// UpdateMetadata rewrites canonical metadata outside a sync page, used by
// the enrichment sweep. fn reports whether it changed anything.
func (l *Library) UpdateMetadata(ref models.RecordRef, fn func(rec *models.EbookRecord) bool) (bool, error) {
	key := recordKey(ref)
	l.locks.Lock(key)
	defer l.locks.Unlock(key)

	rec, _, err := l.loadLive(ref)
	if err != nil {
		return false, err
	}
	if !fn(rec) {
		return false, nil
	}
	rec.LocalModifiedAt = l.now().UTC()
	batch := database.NewBatch()
	batch.PutRecord(rec)
	if err := l.commit(batch, []change{{realtime.EventRecordUpdated, ref}}); err != nil {
		return false, fmt.Errorf("failed to update %s: %w", ref, err)
	}
	return true, nil
}
