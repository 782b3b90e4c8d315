// file: internal/syncer/reconcile.go
// version: 1.1.0
// guid: 6d2a9f47-1c8e-4b35-a7d0-9e4f2b6c8a13

package syncer

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"sync"
	"time"

	"github.com/jdfalk/ebook-organizer/internal/library"
	"github.com/jdfalk/ebook-organizer/internal/metadata"
	"github.com/jdfalk/ebook-organizer/internal/models"
	"github.com/jdfalk/ebook-organizer/internal/provider"
)

// item is one delta change with everything fetched and enriched ahead of
// the page commit, so no network call happens while records are locked.
type item struct {
	change provider.Change
	ref    models.RecordRef
	meta   *metadata.Result
	size   int64
	// gone is set when the content fetch reported the file missing.
	gone bool
	err  error
}

// needsMetadata reports whether applying ch on top of rec rewrites the
// record's metadata. Replays of known content and deletions do not.
func needsMetadata(rec *models.EbookRecord, ch provider.Change) bool {
	if ch.Kind == provider.ChangeDeleted {
		return false
	}
	if rec == nil || rec.Deleted {
		return true
	}
	return !sameVersion(rec.ContentHash, rec.RemoteModifiedAt, rec.SizeBytes, ch)
}

// sameVersion reports whether ch describes content already known by its
// hash. Providers that report no hash are matched on modification time and
// size instead.
func sameVersion(hash string, modifiedAt time.Time, size int64, ch provider.Change) bool {
	if ch.ContentHash != "" {
		return ch.ContentHash == hash
	}
	if ch.RemoteModifiedAt.IsZero() || !ch.RemoteModifiedAt.Equal(modifiedAt) {
		return false
	}
	return ch.SizeBytes <= 0 || ch.SizeBytes == size
}

// prepare resolves metadata for every item that needs it. Fetches share the
// coordinator's download semaphore. Item failures are recorded on the item;
// only cancellation aborts the page.
func (c *Coordinator) prepare(ctx context.Context, adapter provider.Adapter, changes []provider.Change) ([]*item, error) {
	items := make([]*item, len(changes))
	var wg sync.WaitGroup
	for i, ch := range changes {
		it := &item{
			change: ch,
			ref:    models.RecordRef{Provider: adapter.ID(), RemoteID: ch.RemoteID},
			size:   ch.SizeBytes,
		}
		items[i] = it
		if ch.RemoteID == "" {
			it.err = &ItemError{Stage: "validate", Err: errors.New("change carries no remote id")}
			continue
		}
		existing, err := c.lib.Lookup(it.ref)
		if err != nil {
			return nil, fmt.Errorf("failed to read %s: %w", it.ref, err)
		}
		if !needsMetadata(existing, ch) {
			continue
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			c.resolve(ctx, adapter, it)
		}()
	}
	wg.Wait()
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return items, nil
}

// resolve fills it.meta. Content is only downloaded when the change's own
// metadata lacks a usable title or author.
func (c *Coordinator) resolve(ctx context.Context, adapter provider.Adapter, it *item) {
	embedded := metadata.EmbeddedFromMap(it.change.Metadata)
	if !embedded.Complete() {
		content, err := c.fetch(ctx, adapter, it.change.RemoteID)
		switch {
		case errors.Is(err, provider.ErrNotFound):
			it.gone = true
			return
		case err != nil:
			it.err = &ItemError{RemoteID: it.change.RemoteID, Stage: "fetch", Err: err}
			return
		}
		// Binary parsing is not done here; the body is drained for its size
		// only when the listing did not report one.
		if it.size <= 0 {
			if content.Size > 0 {
				it.size = content.Size
			} else if n, err := io.Copy(io.Discard, content.Body); err == nil {
				it.size = n
			}
		}
		if err := content.Body.Close(); err != nil {
			log.Printf("[WARN] closing content of %s: %v", it.ref, err)
		}
		embedded = embedded.Merge(metadata.EmbeddedFromMap(content.Metadata))
	}

	res, err := c.enricher.Enrich(ctx, embedded)
	if err != nil {
		it.err = &ItemError{RemoteID: it.change.RemoteID, Stage: "enrich", Err: err}
		return
	}
	it.meta = res
}

// fetch downloads content under the global download limit, retrying
// transient failures.
func (c *Coordinator) fetch(ctx context.Context, adapter provider.Adapter, remoteID string) (*provider.Content, error) {
	if err := c.downloads.Acquire(ctx, 1); err != nil {
		return nil, err
	}
	defer c.downloads.Release(1)

	var content *provider.Content
	err := c.retry(ctx, adapter.ID(), "fetch "+remoteID, func() error {
		var err error
		content, err = adapter.FetchContent(ctx, remoteID)
		return err
	})
	return content, err
}

// exhausted returns the item failures that were still transient after the
// last retry.
func exhausted(items []*item) []error {
	var out []error
	for _, it := range items {
		if it.err != nil && provider.IsTransient(it.err) {
			out = append(out, it.err)
		}
	}
	return out
}

// reconcile applies one prepared item inside the page transaction.
func reconcile(tx *library.PageTx, it *item) error {
	rec, err := tx.Lookup(it.ref)
	if err != nil {
		return err
	}
	ch := it.change
	if it.gone {
		ch.Kind = provider.ChangeDeleted
	}

	if ch.Kind == provider.ChangeDeleted {
		return reconcileDelete(tx, rec, it.ref)
	}
	if it.err != nil {
		tx.Skip(it.ref, it.err.Error())
		return nil
	}

	if rec != nil && !rec.Deleted && sameVersion(rec.ContentHash, rec.RemoteModifiedAt, rec.SizeBytes, ch) {
		return reconcilePath(tx, rec, ch)
	}
	if it.meta == nil {
		// Only possible if the record changed between prepare and commit.
		tx.Skip(it.ref, "metadata was not resolved for this change")
		return nil
	}

	now := tx.Now()
	switch {
	case rec == nil:
		rec = &models.EbookRecord{
			Provider:  it.ref.Provider,
			RemoteID:  it.ref.RemoteID,
			CreatedAt: now,
		}
		applyRemote(rec, it, now)
		return tx.Put(rec, models.OpCreated, "created from "+string(ch.Kind))

	case rec.Deleted:
		if rec.DeletedAt != nil && !ch.RemoteModifiedAt.After(*rec.DeletedAt) {
			tx.NoOp()
			return nil
		}
		rec.Deleted = false
		rec.DeletedAt = nil
		rec.PendingRemote = nil
		applyRemote(rec, it, now)
		return tx.Put(rec, models.OpCreated, "resurrected by a newer remote change")
	}

	if rec.SyncState == models.SyncStateConflict && rec.PendingRemote != nil &&
		sameVersion(rec.PendingRemote.ContentHash, rec.PendingRemote.RemoteModifiedAt, rec.PendingRemote.SizeBytes, ch) {
		tx.NoOp()
		return nil
	}

	overlay, err := tx.Overlay(it.ref)
	if err != nil {
		return err
	}
	baseline := rec.RemoteModifiedAt
	if overlay != nil && overlay.ModifiedAt.After(baseline) && ch.RemoteModifiedAt.After(baseline) {
		rec.SyncState = models.SyncStateConflict
		rec.PendingRemote = remoteVersion(it)
		rec.LocalModifiedAt = now
		return tx.Put(rec, models.OpConflictDetected,
			fmt.Sprintf("local edit of %s and remote change of %s both follow %s",
				overlay.ModifiedAt.Format(time.RFC3339), ch.RemoteModifiedAt.Format(time.RFC3339), baseline.Format(time.RFC3339)))
	}

	rec.PendingRemote = nil
	applyRemote(rec, it, now)
	if overlay != nil {
		if err := tx.ClearOverlay(it.ref); err != nil {
			return err
		}
		return tx.Put(rec, models.OpUpdated, "remote change replaced older local edits")
	}
	return tx.Put(rec, models.OpUpdated, "content changed")
}

func reconcileDelete(tx *library.PageTx, rec *models.EbookRecord, ref models.RecordRef) error {
	if rec == nil || rec.Deleted {
		tx.NoOp()
		return nil
	}
	now := tx.Now()
	rec.Deleted = true
	rec.DeletedAt = &now
	rec.SyncState = models.SyncStateDeleted
	rec.PendingRemote = nil
	rec.LocalModifiedAt = now
	overlay, err := tx.Overlay(ref)
	if err != nil {
		return err
	}
	if overlay != nil {
		if err := tx.ClearOverlay(ref); err != nil {
			return err
		}
	}
	return tx.Put(rec, models.OpDeleted, "deleted remotely")
}

// reconcilePath handles a change whose content is already known: only a
// rename is applied.
func reconcilePath(tx *library.PageTx, rec *models.EbookRecord, ch provider.Change) error {
	p := ch.Metadata[metadata.KeyPath]
	if p == "" || p == rec.RemotePath {
		tx.NoOp()
		return nil
	}
	old := rec.RemotePath
	rec.RemotePath = p
	rec.LocalModifiedAt = tx.Now()
	return tx.Put(rec, models.OpUpdated, fmt.Sprintf("moved from %q to %q", old, p))
}

// applyRemote makes rec the remote version described by it. Local state is
// reset to synced; the caller clears any overlay.
func applyRemote(rec *models.EbookRecord, it *item, now time.Time) {
	it.meta.Apply(rec)
	rec.ContentHash = it.change.ContentHash
	rec.RemoteModifiedAt = it.change.RemoteModifiedAt
	rec.SizeBytes = it.size
	if p := it.change.Metadata[metadata.KeyPath]; p != "" {
		rec.RemotePath = p
	}
	rec.SyncState = models.SyncStateSynced
	rec.LocalModifiedAt = now
}

// remoteVersion captures the incoming version held back by a conflict.
func remoteVersion(it *item) *models.RemoteVersion {
	shadow := &models.EbookRecord{}
	it.meta.Apply(shadow)
	return &models.RemoteVersion{
		ContentHash:      it.change.ContentHash,
		RemoteModifiedAt: it.change.RemoteModifiedAt,
		SizeBytes:        it.size,
		RemotePath:       it.change.Metadata[metadata.KeyPath],
		Format:           shadow.Format,
		Fields:           shadow.Fields(),
	}
}
