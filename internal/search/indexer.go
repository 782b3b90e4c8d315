// file: internal/search/indexer.go
// version: 1.0.0
// guid: 5a9c2e74-0f3b-4d18-a6e2-9b1d7c4f8e05

package search

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"

	"github.com/jdfalk/ebook-organizer/internal/database"
	"github.com/jdfalk/ebook-organizer/internal/library"
	"github.com/jdfalk/ebook-organizer/internal/metrics"
	"github.com/jdfalk/ebook-organizer/internal/models"
	"github.com/jdfalk/ebook-organizer/internal/realtime"
)

// RecordSource is the read side of the library the indexer reloads from.
type RecordSource interface {
	Get(ref models.RecordRef) (*models.EbookRecord, error)
	List(filter database.RecordFilter) ([]models.EbookRecord, error)
}

// Indexer keeps an Index converged with the library by consuming record
// change notifications. Each notification reloads the record, so duplicate
// or reordered notifications settle on the stored state.
type Indexer struct {
	index  *Index
	source RecordSource
	hub    *realtime.EventHub

	mu   sync.Mutex
	sub  *realtime.Subscription
	done chan struct{}
}

// NewIndexer wires index to the hub's record change feed.
func NewIndexer(index *Index, source RecordSource, hub *realtime.EventHub) *Indexer {
	return &Indexer{index: index, source: source, hub: hub}
}

// Rebuild reloads every live record. It is the recovery path used at startup.
func (ix *Indexer) Rebuild() error {
	records, err := ix.source.List(database.RecordFilter{})
	if err != nil {
		return fmt.Errorf("failed to load records for index rebuild: %w", err)
	}
	ix.index.Reset(records)
	metrics.SetIndexDocuments(ix.index.Len())
	log.Printf("[INFO] search index rebuilt with %d documents", ix.index.Len())
	return nil
}

// Start subscribes to the change feed and applies notifications until ctx
// ends or Stop is called.
func (ix *Indexer) Start(ctx context.Context) {
	ix.mu.Lock()
	defer ix.mu.Unlock()
	if ix.sub != nil {
		return
	}
	ix.sub = ix.hub.Subscribe("search-indexer",
		realtime.EventRecordAdded, realtime.EventRecordUpdated, realtime.EventRecordRemoved)
	ix.done = make(chan struct{})
	go ix.run(ctx, ix.sub, ix.done)
}

// Stop unsubscribes and waits for the consumer goroutine to exit.
func (ix *Indexer) Stop() {
	ix.mu.Lock()
	sub, done := ix.sub, ix.done
	ix.sub, ix.done = nil, nil
	ix.mu.Unlock()
	if sub == nil {
		return
	}
	ix.hub.Unsubscribe(sub)
	<-done
}

func (ix *Indexer) run(ctx context.Context, sub *realtime.Subscription, done chan struct{}) {
	defer close(done)
	for {
		select {
		case <-ctx.Done():
			return
		case event, ok := <-sub.Events():
			if !ok {
				return
			}
			ref, ok := event.Ref()
			if !ok {
				continue
			}
			ix.Apply(ref)
		}
	}
}

// Apply brings one ref in line with the library.
func (ix *Indexer) Apply(ref models.RecordRef) {
	rec, err := ix.source.Get(ref)
	switch {
	case errors.Is(err, library.ErrNotFound):
		ix.index.Remove(ref)
	case err != nil:
		log.Printf("[WARN] search index could not reload %s: %v", ref, err)
		return
	default:
		ix.index.Upsert(rec)
	}
	metrics.SetIndexDocuments(ix.index.Len())
}
