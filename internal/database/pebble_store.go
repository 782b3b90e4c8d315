// file: internal/database/pebble_store.go
// version: 2.0.0
// guid: 0c1d2e3f-4a5b-6c7d-8e9f-0a1b2c3d4e5f

package database

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"sort"
	"sync"
	"time"

	"github.com/cockroachdb/pebble/v2"

	"github.com/jdfalk/ebook-organizer/internal/models"
)

// PebbleStore implements the Store interface using PebbleDB (LSM key-value store)
//
// Key Schema (every component is query-escaped so ':' never appears inside one):
// - record:<provider>:<remote_id>              -> EbookRecord JSON (tags stripped)
// - tag:<provider>:<remote_id>:<tag>           -> created_at (RFC3339Nano)
// - tagref:<tag>:<provider>:<remote_id>        -> RecordRef JSON (for tag queries)
// - overlay:<provider>:<remote_id>             -> LocalEditOverlay JSON
// - account:<provider>                         -> CloudProviderAccount JSON
// - synclog:<provider>:<%020d position>        -> SyncLogEntry JSON
type PebbleStore struct {
	db *pebble.DB
	// commitMu makes the sync log existence check and the batch write one step.
	commitMu sync.Mutex
}

// NewPebbleStore creates a new PebbleDB store
func NewPebbleStore(path string) (*PebbleStore, error) {
	db, err := pebble.Open(path, &pebble.Options{FormatMajorVersion: pebble.FormatNewest})
	if err != nil {
		return nil, fmt.Errorf("failed to open PebbleDB: %w", err)
	}
	return &PebbleStore{db: db}, nil
}

// Close closes the database
func (p *PebbleStore) Close() error {
	return p.db.Close()
}

// Reset removes every key.
func (p *PebbleStore) Reset() error {
	return p.db.DeleteRange([]byte{0x00}, []byte{0xff}, pebble.Sync)
}

// Checkpoint copies the live database into destDir. The WAL is flushed
// first so the checkpoint holds every committed page.
func (p *PebbleStore) Checkpoint(destDir string) error {
	if err := p.db.Checkpoint(destDir, pebble.WithFlushedWAL()); err != nil {
		return fmt.Errorf("failed to checkpoint PebbleDB: %w", err)
	}
	return nil
}

func esc(s string) string {
	return url.QueryEscape(s)
}

func refSuffix(ref models.RecordRef) string {
	return esc(ref.Provider) + ":" + esc(ref.RemoteID)
}

func recordKey(ref models.RecordRef) []byte {
	return []byte("record:" + refSuffix(ref))
}

func tagKey(ref models.RecordRef, tag string) []byte {
	return []byte("tag:" + refSuffix(ref) + ":" + esc(tag))
}

func tagRefKey(tag string, ref models.RecordRef) []byte {
	return []byte("tagref:" + esc(tag) + ":" + refSuffix(ref))
}

func overlayKey(ref models.RecordRef) []byte {
	return []byte("overlay:" + refSuffix(ref))
}

func accountKey(providerID string) []byte {
	return []byte("account:" + esc(providerID))
}

func logKey(providerID string, position uint64) []byte {
	return []byte(fmt.Sprintf("synclog:%s:%020d", esc(providerID), position))
}

// prefixRange returns iterator bounds covering every key that starts with
// prefix. The prefix must end in ':' so the upper bound is the ';' sibling.
func prefixRange(prefix string) *pebble.IterOptions {
	upper := []byte(prefix)
	upper[len(upper)-1]++
	return &pebble.IterOptions{LowerBound: []byte(prefix), UpperBound: upper}
}

func (p *PebbleStore) getJSON(key []byte, out interface{}) (bool, error) {
	value, closer, err := p.db.Get(key)
	if errors.Is(err, pebble.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	defer closer.Close()
	if err := json.Unmarshal(value, out); err != nil {
		return false, err
	}
	return true, nil
}

// Record operations

func (p *PebbleStore) GetRecord(ref models.RecordRef) (*models.EbookRecord, error) {
	var rec models.EbookRecord
	found, err := p.getJSON(recordKey(ref), &rec)
	if err != nil || !found {
		return nil, err
	}
	if rec.Tags, err = p.GetTags(ref); err != nil {
		return nil, err
	}
	return &rec, nil
}

func (p *PebbleStore) ListRecords(filter RecordFilter) ([]models.EbookRecord, error) {
	var records []models.EbookRecord

	if filter.Tag != "" {
		refs, err := p.refsForTag(filter.Tag)
		if err != nil {
			return nil, err
		}
		for _, ref := range refs {
			rec, err := p.GetRecord(ref)
			if err != nil {
				return nil, err
			}
			if rec != nil && filter.Matches(rec) {
				records = append(records, *rec)
			}
		}
	} else {
		iter, err := p.db.NewIter(prefixRange("record:"))
		if err != nil {
			return nil, err
		}
		defer iter.Close()

		for iter.First(); iter.Valid(); iter.Next() {
			var rec models.EbookRecord
			if err := json.Unmarshal(iter.Value(), &rec); err != nil {
				return nil, err
			}
			if !filter.Matches(&rec) {
				continue
			}
			if rec.Tags, err = p.GetTags(rec.Ref()); err != nil {
				return nil, err
			}
			records = append(records, rec)
		}
	}

	sortRecords(records)
	return paginate(records, filter.Limit, filter.Offset), nil
}

func (p *PebbleStore) CountRecords(filter RecordFilter) (int, error) {
	filter.Limit, filter.Offset = 0, 0
	records, err := p.ListRecords(filter)
	if err != nil {
		return 0, err
	}
	return len(records), nil
}

// Tag operations

func (p *PebbleStore) GetTags(ref models.RecordRef) ([]string, error) {
	prefix := "tag:" + refSuffix(ref) + ":"
	iter, err := p.db.NewIter(prefixRange(prefix))
	if err != nil {
		return nil, err
	}
	defer iter.Close()

	var tags []string
	for iter.First(); iter.Valid(); iter.Next() {
		name, err := url.QueryUnescape(string(iter.Key()[len(prefix):]))
		if err != nil {
			return nil, fmt.Errorf("corrupt tag key %q: %w", iter.Key(), err)
		}
		tags = append(tags, name)
	}
	sort.Strings(tags)
	return tags, nil
}

func (p *PebbleStore) refsForTag(tag string) ([]models.RecordRef, error) {
	iter, err := p.db.NewIter(prefixRange("tagref:" + esc(tag) + ":"))
	if err != nil {
		return nil, err
	}
	defer iter.Close()

	var refs []models.RecordRef
	for iter.First(); iter.Valid(); iter.Next() {
		var ref models.RecordRef
		if err := json.Unmarshal(iter.Value(), &ref); err != nil {
			return nil, err
		}
		refs = append(refs, ref)
	}
	return refs, nil
}

// Overlay operations

func (p *PebbleStore) GetOverlay(ref models.RecordRef) (*models.LocalEditOverlay, error) {
	var overlay models.LocalEditOverlay
	found, err := p.getJSON(overlayKey(ref), &overlay)
	if err != nil || !found {
		return nil, err
	}
	return &overlay, nil
}

func (p *PebbleStore) ListOverlays() ([]models.LocalEditOverlay, error) {
	iter, err := p.db.NewIter(prefixRange("overlay:"))
	if err != nil {
		return nil, err
	}
	defer iter.Close()

	var overlays []models.LocalEditOverlay
	for iter.First(); iter.Valid(); iter.Next() {
		var overlay models.LocalEditOverlay
		if err := json.Unmarshal(iter.Value(), &overlay); err != nil {
			return nil, err
		}
		overlays = append(overlays, overlay)
	}
	sort.Slice(overlays, func(i, j int) bool { return overlays[i].Ref.Less(overlays[j].Ref) })
	return overlays, nil
}

// Account operations

func (p *PebbleStore) GetAccount(providerID string) (*models.CloudProviderAccount, error) {
	var account models.CloudProviderAccount
	found, err := p.getJSON(accountKey(providerID), &account)
	if err != nil || !found {
		return nil, err
	}
	return &account, nil
}

func (p *PebbleStore) ListAccounts() ([]models.CloudProviderAccount, error) {
	iter, err := p.db.NewIter(prefixRange("account:"))
	if err != nil {
		return nil, err
	}
	defer iter.Close()

	var accounts []models.CloudProviderAccount
	for iter.First(); iter.Valid(); iter.Next() {
		var account models.CloudProviderAccount
		if err := json.Unmarshal(iter.Value(), &account); err != nil {
			return nil, err
		}
		accounts = append(accounts, account)
	}
	sort.Slice(accounts, func(i, j int) bool { return accounts[i].ProviderID < accounts[j].ProviderID })
	return accounts, nil
}

// Sync log operations

func (p *PebbleStore) ListSyncLog(providerID string, afterPosition uint64, limit int) ([]models.SyncLogEntry, error) {
	var opts *pebble.IterOptions
	if providerID == "" {
		opts = prefixRange("synclog:")
	} else {
		opts = prefixRange("synclog:" + esc(providerID) + ":")
		opts.LowerBound = logKey(providerID, afterPosition+1)
	}
	iter, err := p.db.NewIter(opts)
	if err != nil {
		return nil, err
	}
	defer iter.Close()

	var entries []models.SyncLogEntry
	for iter.First(); iter.Valid(); iter.Next() {
		var entry models.SyncLogEntry
		if err := json.Unmarshal(iter.Value(), &entry); err != nil {
			return nil, err
		}
		if entry.CursorPosition <= afterPosition {
			continue
		}
		entries = append(entries, entry)
	}
	if providerID == "" {
		sortLogEntries(entries)
	}
	if limit > 0 && len(entries) > limit {
		entries = entries[:limit]
	}
	return entries, nil
}

func sortLogEntries(entries []models.SyncLogEntry) {
	sort.SliceStable(entries, func(i, j int) bool {
		if !entries[i].Timestamp.Equal(entries[j].Timestamp) {
			return entries[i].Timestamp.Before(entries[j].Timestamp)
		}
		if entries[i].Provider != entries[j].Provider {
			return entries[i].Provider < entries[j].Provider
		}
		return entries[i].CursorPosition < entries[j].CursorPosition
	})
}

// Commit writes the batch with a single synced pebble batch.
func (p *PebbleStore) Commit(b *Batch) error {
	if b == nil || b.Len() == 0 {
		return nil
	}
	if err := b.validate(); err != nil {
		return err
	}

	p.commitMu.Lock()
	defer p.commitMu.Unlock()

	batch := p.db.NewBatch()
	defer batch.Close()

	for _, op := range b.ops {
		if err := p.stage(batch, op); err != nil {
			return err
		}
	}

	if err := batch.Commit(pebble.Sync); err != nil {
		return fmt.Errorf("failed to commit batch: %w", err)
	}
	return nil
}

func (p *PebbleStore) stage(batch *pebble.Batch, op batchOp) error {
	switch op.kind {
	case opPutRecord:
		rec := op.record.Clone()
		rec.Tags = nil
		data, err := json.Marshal(rec)
		if err != nil {
			return err
		}
		return batch.Set(recordKey(rec.Ref()), data, nil)

	case opAddTag:
		refData, err := json.Marshal(op.ref)
		if err != nil {
			return err
		}
		if err := batch.Set(tagKey(op.ref, op.tag), []byte(time.Now().UTC().Format(time.RFC3339Nano)), nil); err != nil {
			return err
		}
		return batch.Set(tagRefKey(op.tag, op.ref), refData, nil)

	case opRemoveTag:
		if err := batch.Delete(tagKey(op.ref, op.tag), nil); err != nil {
			return err
		}
		return batch.Delete(tagRefKey(op.tag, op.ref), nil)

	case opPutOverlay:
		data, err := json.Marshal(op.overlay)
		if err != nil {
			return err
		}
		return batch.Set(overlayKey(op.overlay.Ref), data, nil)

	case opDeleteOverlay:
		return batch.Delete(overlayKey(op.ref), nil)

	case opAppendLog:
		key := logKey(op.entry.Provider, op.entry.CursorPosition)
		_, closer, err := p.db.Get(key)
		if err == nil {
			closer.Close()
			return fmt.Errorf("%w: %s/%d", ErrLogConflict, op.entry.Provider, op.entry.CursorPosition)
		}
		if !errors.Is(err, pebble.ErrNotFound) {
			return err
		}
		data, err := json.Marshal(op.entry)
		if err != nil {
			return err
		}
		return batch.Set(key, data, nil)

	case opPutAccount:
		data, err := json.Marshal(op.account)
		if err != nil {
			return err
		}
		return batch.Set(accountKey(op.account.ProviderID), data, nil)
	}
	return fmt.Errorf("unknown batch operation %d", op.kind)
}
