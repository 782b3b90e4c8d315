// file: internal/engine/engine.go
// version: 1.1.0
// guid: 2d7a4c91-5e3f-4b68-9c10-8f6e2b4d7a35

// Package engine assembles the sync engine from configuration: the store,
// the library, the search index, the provider adapters, the coordinator and
// its background helpers.
package engine

import (
	"context"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"time"

	"go.uber.org/multierr"

	"github.com/jdfalk/ebook-organizer/internal/config"
	"github.com/jdfalk/ebook-organizer/internal/database"
	"github.com/jdfalk/ebook-organizer/internal/library"
	"github.com/jdfalk/ebook-organizer/internal/metadata"
	"github.com/jdfalk/ebook-organizer/internal/metrics"
	"github.com/jdfalk/ebook-organizer/internal/operations"
	"github.com/jdfalk/ebook-organizer/internal/organizer"
	"github.com/jdfalk/ebook-organizer/internal/provider"
	"github.com/jdfalk/ebook-organizer/internal/realtime"
	"github.com/jdfalk/ebook-organizer/internal/scheduler"
	"github.com/jdfalk/ebook-organizer/internal/search"
	"github.com/jdfalk/ebook-organizer/internal/syncer"
	"github.com/jdfalk/ebook-organizer/internal/watcher"
)

const shutdownTimeout = 30 * time.Second

// Engine owns every long-lived component. Build it with Open and release it
// with Close.
type Engine struct {
	Config      *config.Config
	Store       database.Store
	Hub         *realtime.EventHub
	Library     *library.Library
	Index       *search.Index
	Indexer     *search.Indexer
	Registry    *provider.Registry
	Enricher    *metadata.Enricher
	Organizer   *organizer.Organizer
	Queue       *operations.OperationQueue
	Coordinator *syncer.Coordinator
	Scheduler   *scheduler.Scheduler
	// StateDir holds local folder snapshots; backups carry it with the store.
	StateDir    string

	watchers []*watcher.FolderWatcher
	cancel   context.CancelFunc
	started  bool
}

type options struct {
	clients  provider.ClientFunc
	stateDir string
	lookup   metadata.Lookup
	debounce time.Duration
}

// Option customizes Open.
type Option func(*options)

// WithClients supplies authenticated HTTP clients for cloud providers.
func WithClients(fn provider.ClientFunc) Option {
	return func(o *options) { o.clients = fn }
}

// WithStateDir overrides where local-folder snapshots are kept.
func WithStateDir(dir string) Option {
	return func(o *options) { o.stateDir = dir }
}

// WithLookup replaces the metadata lookup built from configuration.
func WithLookup(l metadata.Lookup) Option {
	return func(o *options) { o.lookup = l }
}

// WithWatchDebounce sets how long local folders must be quiet before a
// watcher triggers a pass.
func WithWatchDebounce(d time.Duration) Option {
	return func(o *options) { o.debounce = d }
}

// Open builds the engine. Nothing runs in the background until Start.
func Open(cfg *config.Config, opts ...Option) (e *Engine, err error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	o := options{stateDir: filepath.Join(filepath.Dir(cfg.DatabasePath), "provider-state")}
	for _, opt := range opts {
		opt(&o)
	}

	metrics.Register()

	store, err := database.OpenStore(cfg.DatabaseType, cfg.DatabasePath, cfg.EnableSQLite)
	if err != nil {
		return nil, err
	}
	e = &Engine{Config: cfg, Store: store, Hub: realtime.NewEventHub(), StateDir: o.stateDir}
	defer func() {
		if err != nil {
			err = multierr.Append(err, e.Close())
			e = nil
		}
	}()

	e.Library = library.New(store, e.Hub)
	e.Organizer = organizer.NewOrganizer(e.Library)
	e.Index = search.NewIndex()
	e.Indexer = search.NewIndexer(e.Index, e.Library, e.Hub)

	if err := os.MkdirAll(o.stateDir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create provider state directory: %w", err)
	}
	e.Registry, err = provider.NewRegistryFromConfig(cfg, o.stateDir, o.clients)
	if err != nil {
		return nil, err
	}

	lookup := o.lookup
	if lookup == nil && cfg.EnableMetadataLookup {
		if cfg.OpenLibraryBaseURL != "" {
			lookup = metadata.NewOpenLibraryLookupWithBaseURL(cfg.OpenLibraryBaseURL, cfg.OpenLibraryRequestsPerSecond)
		} else {
			lookup = metadata.NewOpenLibraryLookup(cfg.OpenLibraryRequestsPerSecond)
		}
	}
	e.Enricher = metadata.NewEnricher(lookup)

	e.Queue = operations.NewOperationQueue(e.Hub, cfg.SyncWorkers)
	e.Coordinator = syncer.New(e.Library, e.Registry, e.Enricher, e.Hub, e.Queue, syncer.OptionsFromConfig(cfg))
	for _, id := range cfg.ProviderIDs() {
		if err := e.Coordinator.SetEnabled(id, cfg.Providers[id].Enabled); err != nil {
			return nil, err
		}
	}

	e.Scheduler = scheduler.New(cfg.SyncSchedule, e.Coordinator, func(ctx context.Context) (int, error) {
		return e.Enricher.ReEnrich(ctx, e.Library, 0)
	})

	if cfg.WatchLocalFolders {
		for _, id := range cfg.ProviderIDs() {
			p := cfg.Providers[id]
			if p.Type != config.ProviderTypeLocal || !p.Enabled {
				continue
			}
			e.watchers = append(e.watchers, watcher.New(id, p.Root, e.triggerFromWatcher, o.debounce))
		}
	}
	return e, nil
}

// triggerFromWatcher queues a pass for a local folder provider. A pass
// already in flight is reported so the watcher asks again later.
func (e *Engine) triggerFromWatcher(providerID string, changed []string) (bool, error) {
	res, err := e.Coordinator.TriggerSync(providerID)
	if err != nil {
		return false, err
	}
	log.Printf("[DEBUG] %d local changes for %s: %s", len(changed), providerID, res)
	return res == syncer.TriggerAccepted, nil
}

// Start rebuilds the search index from the store and starts the indexer,
// the scheduler and the local folder watchers.
func (e *Engine) Start(ctx context.Context) error {
	if e.started {
		return nil
	}
	if err := e.Indexer.Rebuild(); err != nil {
		return err
	}
	ctx, e.cancel = context.WithCancel(ctx)
	e.Indexer.Start(ctx)
	if err := e.Scheduler.Start(); err != nil {
		return err
	}

	for _, w := range e.watchers {
		if err := w.Start(); err != nil {
			log.Printf("[WARN] cannot watch %s for provider %s: %v", w.Root(), w.ProviderID(), err)
		}
	}
	e.started = true
	return nil
}

// RefreshRecordGauge updates the record count metric.
func (e *Engine) RefreshRecordGauge() (int, error) {
	n, err := e.Library.Count(database.RecordFilter{})
	if err != nil {
		return 0, err
	}
	metrics.SetRecords(n)
	return n, nil
}

// Close stops background work and releases the store. Errors from every
// step are combined.
func (e *Engine) Close() error {
	var err error
	for _, w := range e.watchers {
		w.Stop()
	}
	if e.Scheduler != nil {
		e.Scheduler.Stop()
	}
	if e.Queue != nil {
		err = multierr.Append(err, e.Queue.Shutdown(shutdownTimeout))
	}
	if e.Indexer != nil {
		e.Indexer.Stop()
	}
	if e.cancel != nil {
		e.cancel()
	}
	if e.Hub != nil {
		e.Hub.Close()
	}
	if e.Store != nil {
		err = multierr.Append(err, e.Store.Close())
	}
	return err
}
