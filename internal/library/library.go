// file: internal/library/library.go
// version: 1.0.0
// guid: 6f3a9d12-4b8e-4c71-b2d5-9e0f1a7c3b68

// Package library is the local cache of the ebook collection. It is the only
// writer of the database: sync pages, local edits, tags and conflict
// resolutions all commit through it, and each commit is announced on the
// realtime hub afterwards.
package library

import (
	"fmt"
	"log"
	"strings"
	"time"

	"golang.org/x/text/cases"

	"github.com/jdfalk/ebook-organizer/internal/database"
	"github.com/jdfalk/ebook-organizer/internal/models"
	"github.com/jdfalk/ebook-organizer/internal/realtime"
)

// Library wraps a database.Store with locking, overlays and change publication.
type Library struct {
	store database.Store
	hub   *realtime.EventHub
	locks *keyedMutex
	now   func() time.Time
}

// Option configures a Library.
type Option func(*Library)

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(l *Library) { l.now = now }
}

// New creates a library over store. hub may be nil.
func New(store database.Store, hub *realtime.EventHub, opts ...Option) *Library {
	l := &Library{
		store: store,
		hub:   hub,
		locks: newKeyedMutex(),
		now:   time.Now,
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Store exposes the underlying store for read-only maintenance commands.
func (l *Library) Store() database.Store {
	return l.store
}

func recordKey(ref models.RecordRef) string {
	return "record:" + ref.String()
}

func providerKey(providerID string) string {
	return "provider:" + providerID
}

// NormalizeTag case-folds a tag and collapses internal whitespace.
func NormalizeTag(tag string) string {
	// A Caser carries state, so each call gets its own.
	return strings.Join(strings.Fields(cases.Fold().String(tag)), " ")
}

// effective applies a pending overlay on top of the canonical record.
func effective(rec *models.EbookRecord, overlay *models.LocalEditOverlay) *models.EbookRecord {
	out := rec.Clone()
	if overlay == nil || len(overlay.Fields) == 0 {
		return out
	}
	out.ApplyFields(overlay.Fields)
	if out.SyncState == models.SyncStateSynced {
		out.SyncState = models.SyncStateLocalModified
	}
	if overlay.ModifiedAt.After(out.LocalModifiedAt) {
		out.LocalModifiedAt = overlay.ModifiedAt
	}
	return out
}

// Get returns the effective view of a live record.
func (l *Library) Get(ref models.RecordRef) (*models.EbookRecord, error) {
	rec, err := l.store.GetRecord(ref)
	if err != nil {
		return nil, fmt.Errorf("failed to load %s: %w", ref, err)
	}
	if rec == nil || rec.Deleted {
		return nil, ErrNotFound
	}
	overlay, err := l.store.GetOverlay(ref)
	if err != nil {
		return nil, fmt.Errorf("failed to load overlay for %s: %w", ref, err)
	}
	return effective(rec, overlay), nil
}

// Lookup returns the canonical record including tombstones, or nil.
func (l *Library) Lookup(ref models.RecordRef) (*models.EbookRecord, error) {
	return l.store.GetRecord(ref)
}

// List returns effective views of the records matching filter.
func (l *Library) List(filter database.RecordFilter) ([]models.EbookRecord, error) {
	records, err := l.store.ListRecords(filter)
	if err != nil {
		return nil, fmt.Errorf("failed to list records: %w", err)
	}
	overlays, err := l.overlayIndex()
	if err != nil {
		return nil, err
	}
	out := make([]models.EbookRecord, 0, len(records))
	for i := range records {
		out = append(out, *effective(&records[i], overlays[records[i].Ref()]))
	}
	return out, nil
}

// Count returns the number of records matching filter.
func (l *Library) Count(filter database.RecordFilter) (int, error) {
	return l.store.CountRecords(filter)
}

// Overlay returns the pending local edit for ref, or nil.
func (l *Library) Overlay(ref models.RecordRef) (*models.LocalEditOverlay, error) {
	return l.store.GetOverlay(ref)
}

// Tags returns the normalized tags of ref.
func (l *Library) Tags(ref models.RecordRef) ([]string, error) {
	return l.store.GetTags(ref)
}

// Conflicts lists records waiting for ResolveConflict.
func (l *Library) Conflicts() ([]models.EbookRecord, error) {
	return l.List(database.RecordFilter{SyncState: models.SyncStateConflict})
}

// SyncLog returns log entries for a provider after the given position.
func (l *Library) SyncLog(providerID string, afterPosition uint64, limit int) ([]models.SyncLogEntry, error) {
	return l.store.ListSyncLog(providerID, afterPosition, limit)
}

// PendingCount is the number of records of a provider with local edits
// not yet reconciled (conflicts included).
func (l *Library) PendingCount(providerID string) (int, error) {
	overlays, err := l.store.ListOverlays()
	if err != nil {
		return 0, err
	}
	n := 0
	for _, o := range overlays {
		if providerID == "" || o.Ref.Provider == providerID {
			n++
		}
	}
	return n, nil
}

func (l *Library) overlayIndex() (map[models.RecordRef]*models.LocalEditOverlay, error) {
	overlays, err := l.store.ListOverlays()
	if err != nil {
		return nil, fmt.Errorf("failed to list overlays: %w", err)
	}
	idx := make(map[models.RecordRef]*models.LocalEditOverlay, len(overlays))
	for i := range overlays {
		idx[overlays[i].Ref] = &overlays[i]
	}
	return idx, nil
}

// Account returns the stored account, or a fresh enabled one.
func (l *Library) Account(providerID string) (*models.CloudProviderAccount, error) {
	account, err := l.store.GetAccount(providerID)
	if err != nil {
		return nil, fmt.Errorf("failed to load account %s: %w", providerID, err)
	}
	if account == nil {
		account = &models.CloudProviderAccount{ProviderID: providerID, Enabled: true}
	}
	return account, nil
}

// Accounts lists every stored provider account.
func (l *Library) Accounts() ([]models.CloudProviderAccount, error) {
	return l.store.ListAccounts()
}

// UpdateAccount applies fn to the account under the provider lock and saves it.
func (l *Library) UpdateAccount(providerID string, fn func(*models.CloudProviderAccount)) (*models.CloudProviderAccount, error) {
	key := providerKey(providerID)
	l.locks.Lock(key)
	defer l.locks.Unlock(key)

	account, err := l.Account(providerID)
	if err != nil {
		return nil, err
	}
	fn(account)
	account.ProviderID = providerID

	batch := database.NewBatch()
	batch.PutAccount(account)
	if err := l.store.Commit(batch); err != nil {
		return nil, fmt.Errorf("failed to save account %s: %w", providerID, err)
	}
	return account, nil
}

// Stats aggregates the live library.
func (l *Library) Stats() (*models.LibraryStats, error) {
	records, err := l.List(database.RecordFilter{})
	if err != nil {
		return nil, err
	}
	stats := &models.LibraryStats{
		ByCategory: make(map[string]int),
		ByFormat:   make(map[string]int),
		ByProvider: make(map[string]int),
		LastSyncAt: make(map[string]*time.Time),
	}
	for _, rec := range records {
		stats.TotalRecords++
		stats.TotalSizeBytes += rec.SizeBytes
		category := rec.Category
		if category == "" {
			category = models.UncategorizedLabel
		}
		stats.ByCategory[category]++
		stats.ByFormat[rec.Format]++
		stats.ByProvider[rec.Provider]++
		if rec.SyncState == models.SyncStateConflict {
			stats.Conflicts++
		}
	}

	accounts, err := l.store.ListAccounts()
	if err != nil {
		return nil, err
	}
	for _, a := range accounts {
		stats.LastSyncAt[a.ProviderID] = a.LastSyncAt
	}
	return stats, nil
}

func (l *Library) publish(changes []change) {
	if l.hub == nil {
		return
	}
	for _, c := range changes {
		l.hub.PublishRecordChange(c.eventType, c.ref)
	}
}

type change struct {
	eventType realtime.EventType
	ref       models.RecordRef
}

func (l *Library) commit(batch *database.Batch, changes []change) error {
	if err := l.store.Commit(batch); err != nil {
		log.Printf("[ERROR] library commit failed: %v", err)
		return err
	}
	l.publish(changes)
	return nil
}
