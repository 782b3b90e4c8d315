// file: internal/syncer/coordinator.go
// version: 1.1.0
// guid: 3e8b1c64-7a2d-4f90-b5e1-8c6d0a4f2e77

// Package syncer reconciles provider change streams into the library. One
// pass per provider walks the stream page by page from the stored cursor;
// each page is reconciled and committed atomically together with the
// cursor, so an interrupted pass resumes without loss or duplication.
package syncer

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sort"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
	"go.uber.org/multierr"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"

	"github.com/jdfalk/ebook-organizer/internal/config"
	"github.com/jdfalk/ebook-organizer/internal/database"
	"github.com/jdfalk/ebook-organizer/internal/library"
	"github.com/jdfalk/ebook-organizer/internal/metadata"
	"github.com/jdfalk/ebook-organizer/internal/metrics"
	"github.com/jdfalk/ebook-organizer/internal/models"
	"github.com/jdfalk/ebook-organizer/internal/operations"
	"github.com/jdfalk/ebook-organizer/internal/provider"
	"github.com/jdfalk/ebook-organizer/internal/realtime"
)

// Options bounds passes and the retry policy.
type Options struct {
	MaxPagesPerPass        int
	MaxPassDuration        time.Duration
	MaxConcurrentDownloads int
	RetryMaxAttempts       int
	RetryInitialInterval   time.Duration
	RetryMaxInterval       time.Duration
	PauseErrorThreshold    int
}

// OptionsFromConfig reads the sync settings of cfg.
func OptionsFromConfig(cfg *config.Config) Options {
	return Options{
		MaxPagesPerPass:        cfg.SyncMaxPagesPerPass,
		MaxPassDuration:        cfg.SyncMaxPassDuration,
		MaxConcurrentDownloads: cfg.MaxConcurrentDownloads,
		RetryMaxAttempts:       cfg.RetryMaxAttempts,
		RetryInitialInterval:   cfg.RetryInitialInterval,
		RetryMaxInterval:       cfg.RetryMaxInterval,
		PauseErrorThreshold:    cfg.PauseErrorThreshold,
	}
}

func (o Options) withDefaults() Options {
	if o.MaxConcurrentDownloads <= 0 {
		o.MaxConcurrentDownloads = 4
	}
	if o.RetryMaxAttempts <= 0 {
		o.RetryMaxAttempts = 5
	}
	if o.RetryInitialInterval <= 0 {
		o.RetryInitialInterval = 500 * time.Millisecond
	}
	if o.RetryMaxInterval <= 0 {
		o.RetryMaxInterval = 30 * time.Second
	}
	if o.PauseErrorThreshold <= 0 {
		o.PauseErrorThreshold = 3
	}
	return o
}

// Provider states reported by SyncStatus.
const (
	StateIdle     = "idle"
	StateRunning  = "running"
	StatePaused   = "paused"
	StateDisabled = "disabled"
)

// TriggerResult answers a sync request.
type TriggerResult string

const (
	TriggerAccepted       TriggerResult = "accepted"
	TriggerAlreadyRunning TriggerResult = "already-running"
)

// StopReason says why a pass ended.
type StopReason string

const (
	StopCaughtUp   StopReason = "caught_up"
	StopPageBudget StopReason = "page_budget"
	StopTimeBudget StopReason = "time_budget"
	StopCanceled   StopReason = "canceled"
	StopError      StopReason = "error"
)

// PassResult summarizes one pass.
type PassResult struct {
	ID           string        `json:"id"`
	Provider     string        `json:"provider"`
	StartedAt    time.Time     `json:"started_at"`
	Duration     time.Duration `json:"duration"`
	Pages        int           `json:"pages"`
	Created      int           `json:"created"`
	Updated      int           `json:"updated"`
	Deleted      int           `json:"deleted"`
	Conflicts    int           `json:"conflicts"`
	Skipped      int           `json:"skipped"`
	NoOps        int           `json:"no_ops"`
	// ItemFailures counts items skipped after running out of retries.
	ItemFailures int           `json:"item_failures,omitempty"`
	Restarted    bool          `json:"restarted,omitempty"`
	Cursor       string        `json:"cursor"`
	StopReason   StopReason    `json:"stop_reason"`
	Error        string        `json:"error,omitempty"`
}

func (r *PassResult) add(s *library.PageSummary) {
	r.Pages++
	r.Created += s.Created
	r.Updated += s.Updated
	r.Deleted += s.Deleted
	r.Conflicts += s.Conflicts
	r.Skipped += s.Skipped
	r.NoOps += s.NoOps
}

func (r *PassResult) asMap() map[string]interface{} {
	return map[string]interface{}{
		"id":          r.ID,
		"provider":    r.Provider,
		"pages":       r.Pages,
		"created":     r.Created,
		"updated":     r.Updated,
		"deleted":     r.Deleted,
		"conflicts":   r.Conflicts,
		"skipped":     r.Skipped,
		"item_errors": r.ItemFailures,
		"duration_ms": r.Duration.Milliseconds(),
		"stop_reason": string(r.StopReason),
		"error":       r.Error,
	}
}

// ProviderStatus is the externally visible sync state of a provider.
type ProviderStatus struct {
	Provider              string      `json:"provider"`
	State                 string      `json:"state"`
	LastSyncAt            *time.Time  `json:"last_sync_at,omitempty"`
	Cursor                string      `json:"cursor"`
	PendingCount          int         `json:"pending_count"`
	ConsecutiveErrorCount int         `json:"consecutive_error_count"`
	PauseReason           string      `json:"pause_reason,omitempty"`
	LastError             string      `json:"last_error,omitempty"`
	LastPass              *PassResult `json:"last_pass,omitempty"`
}

// Coordinator runs sync passes. Passes of one provider are strictly
// sequential; passes of different providers run concurrently.
type Coordinator struct {
	lib       *library.Library
	registry  *provider.Registry
	enricher  *metadata.Enricher
	hub       *realtime.EventHub
	queue     *operations.OperationQueue
	opts      Options
	downloads *semaphore.Weighted
	now       func() time.Time

	mu       sync.Mutex
	running  map[string]string
	lastPass map[string]*PassResult
}

// New creates a coordinator. hub and queue may be nil; without a queue
// TriggerSync runs passes on their own goroutines.
func New(lib *library.Library, registry *provider.Registry, enricher *metadata.Enricher, hub *realtime.EventHub, queue *operations.OperationQueue, opts Options) *Coordinator {
	opts = opts.withDefaults()
	if enricher == nil {
		enricher = metadata.NewEnricher(nil)
	}
	return &Coordinator{
		lib:       lib,
		registry:  registry,
		enricher:  enricher,
		hub:       hub,
		queue:     queue,
		opts:      opts,
		downloads: semaphore.NewWeighted(int64(opts.MaxConcurrentDownloads)),
		now:       time.Now,
		running:   make(map[string]string),
		lastPass:  make(map[string]*PassResult),
	}
}

// SetEnabled records whether a provider takes part in syncing.
func (c *Coordinator) SetEnabled(providerID string, enabled bool) error {
	if _, ok := c.registry.Get(providerID); !ok {
		return fmt.Errorf("%w: %s", ErrUnknownProvider, providerID)
	}
	_, err := c.lib.UpdateAccount(providerID, func(a *models.CloudProviderAccount) {
		a.Enabled = enabled
	})
	return err
}

// claim marks providerID running. It fails if a pass is already in flight.
func (c *Coordinator) claim(providerID, passID string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, busy := c.running[providerID]; busy {
		return false
	}
	c.running[providerID] = passID
	return true
}

func (c *Coordinator) release(providerID string, res *PassResult) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.running, providerID)
	if res != nil {
		c.lastPass[providerID] = res
	}
}

// checkRunnable verifies the provider exists, is enabled and is not paused.
func (c *Coordinator) checkRunnable(providerID string) (provider.Adapter, *models.CloudProviderAccount, error) {
	adapter, ok := c.registry.Get(providerID)
	if !ok {
		return nil, nil, fmt.Errorf("%w: %s", ErrUnknownProvider, providerID)
	}
	account, err := c.lib.Account(providerID)
	if err != nil {
		return nil, nil, err
	}
	if !account.Enabled {
		return nil, nil, fmt.Errorf("%w: %s", ErrProviderDisabled, providerID)
	}
	if account.Paused {
		return nil, nil, fmt.Errorf("%w: %s (%s)", ErrProviderPaused, providerID, account.PauseReason)
	}
	return adapter, account, nil
}

// TriggerSync starts a pass in the background. A provider with a pass in
// flight answers TriggerAlreadyRunning.
func (c *Coordinator) TriggerSync(providerID string) (TriggerResult, error) {
	if _, _, err := c.checkRunnable(providerID); err != nil {
		return "", err
	}
	passID := ulid.Make().String()
	if !c.claim(providerID, passID) {
		return TriggerAlreadyRunning, nil
	}

	run := func(ctx context.Context, progress operations.ProgressReporter) error {
		_, err := c.runClaimed(ctx, providerID, passID, progress)
		return err
	}
	if c.queue == nil {
		go func() { _ = run(context.Background(), nil) }()
		return TriggerAccepted, nil
	}
	if err := c.queue.Enqueue(passID, "sync:"+providerID, operations.PriorityNormal, run); err != nil {
		c.release(providerID, nil)
		return "", err
	}
	return TriggerAccepted, nil
}

// TriggerAll triggers every enabled, unpaused provider and reports the
// answer of each. Providers that cannot run are left out.
func (c *Coordinator) TriggerAll() map[string]TriggerResult {
	out := make(map[string]TriggerResult)
	for _, id := range c.registry.IDs() {
		res, err := c.TriggerSync(id)
		if err != nil {
			if !errors.Is(err, ErrProviderDisabled) && !errors.Is(err, ErrProviderPaused) {
				log.Printf("[WARN] could not trigger sync of %s: %v", id, err)
			}
			continue
		}
		out[id] = res
	}
	return out
}

// RunPass runs one pass synchronously.
func (c *Coordinator) RunPass(ctx context.Context, providerID string) (*PassResult, error) {
	if _, _, err := c.checkRunnable(providerID); err != nil {
		return nil, err
	}
	passID := ulid.Make().String()
	if !c.claim(providerID, passID) {
		return nil, fmt.Errorf("%w: %s", ErrAlreadyRunning, providerID)
	}
	return c.runClaimed(ctx, providerID, passID, nil)
}

// SyncAll runs a pass for every enabled, unpaused provider concurrently and
// waits for all of them. Per-provider failures are combined.
func (c *Coordinator) SyncAll(ctx context.Context) (map[string]*PassResult, error) {
	var (
		mu      sync.Mutex
		results = make(map[string]*PassResult)
		errs    error
	)
	g, gctx := errgroup.WithContext(ctx)
	for _, id := range c.registry.IDs() {
		id := id
		if _, _, err := c.checkRunnable(id); err != nil {
			if errors.Is(err, ErrProviderDisabled) || errors.Is(err, ErrProviderPaused) {
				continue
			}
			errs = multierr.Append(errs, err)
			continue
		}
		g.Go(func() error {
			res, err := c.RunPass(gctx, id)
			mu.Lock()
			defer mu.Unlock()
			if res != nil {
				results[id] = res
			}
			if err != nil && !errors.Is(err, context.Canceled) {
				errs = multierr.Append(errs, fmt.Errorf("%s: %w", id, err))
			}
			// Provider failures stay independent; only cancellation stops the group.
			return nil
		})
	}
	_ = g.Wait()
	if err := ctx.Err(); err != nil {
		errs = multierr.Append(errs, err)
	}
	return results, errs
}

// runClaimed executes a pass for a provider already claimed by passID.
func (c *Coordinator) runClaimed(ctx context.Context, providerID, passID string, progress operations.ProgressReporter) (res *PassResult, err error) {
	res = &PassResult{ID: passID, Provider: providerID, StartedAt: c.now().UTC()}
	defer func() {
		res.Duration = c.now().Sub(res.StartedAt)
		c.release(providerID, res)
		c.finish(res)
	}()

	adapter, account, err := c.checkRunnable(providerID)
	if err != nil {
		res.StopReason = StopError
		res.Error = err.Error()
		return res, err
	}
	c.sendStatus(providerID, StateRunning, map[string]interface{}{"pass_id": passID})
	log.Printf("[SYNC] %s.pass started [pass: %s] [cursor: %q]", providerID, passID, account.LastCursor)

	cursor := account.LastCursor
	res.Cursor = cursor
	var itemErrs error
	deadline := time.Time{}
	if c.opts.MaxPassDuration > 0 {
		deadline = res.StartedAt.Add(c.opts.MaxPassDuration)
	}

	for {
		if ctx.Err() != nil {
			res.StopReason = StopCanceled
			return res, ctx.Err()
		}
		if c.opts.MaxPagesPerPass > 0 && res.Pages >= c.opts.MaxPagesPerPass {
			res.StopReason = StopPageBudget
			break
		}
		if !deadline.IsZero() && !c.now().Before(deadline) {
			res.StopReason = StopTimeBudget
			break
		}

		page, err := c.list(ctx, adapter, cursor)
		if err != nil {
			if ctx.Err() != nil {
				res.StopReason = StopCanceled
				return res, ctx.Err()
			}
			if errors.Is(err, provider.ErrCursorExpired) && cursor != "" && !res.Restarted {
				log.Printf("[WARN] %s: cursor expired, restarting from a full enumeration: %v", providerID, err)
				cursor = ""
				res.Restarted = true
				continue
			}
			return res, c.fail(providerID, res, err)
		}

		summary, failed, err := c.applyPage(ctx, adapter, cursor, page)
		if err != nil {
			if ctx.Err() != nil {
				res.StopReason = StopCanceled
				return res, ctx.Err()
			}
			return res, c.fail(providerID, res, err)
		}
		res.add(summary)
		res.ItemFailures += len(failed)
		itemErrs = multierr.Append(itemErrs, multierr.Combine(failed...))
		cursor = page.NextCursor
		res.Cursor = cursor

		msg := fmt.Sprintf("page %d: %d created, %d updated, %d deleted, %d conflicts, %d skipped",
			res.Pages, summary.Created, summary.Updated, summary.Deleted, summary.Conflicts, summary.Skipped)
		if c.hub != nil {
			c.hub.SendSyncProgress(providerID, passID, res.Pages, msg)
		}
		if progress != nil {
			_ = progress.UpdateProgress(res.Pages, c.opts.MaxPagesPerPass, msg)
		}
		if !page.HasMore {
			res.StopReason = StopCaughtUp
			break
		}
	}

	now := c.now().UTC()
	if itemErrs != nil {
		// The pages are committed, but items that kept failing transiently
		// count against the provider like a failed pass.
		cause := fmt.Errorf("%d items ran out of retries: %w", res.ItemFailures, itemErrs)
		res.Error = cause.Error()
		log.Printf("[WARN] %s.pass [pass: %s]: %v", providerID, res.ID, cause)
		if err := c.recordFailure(providerID, cause, &now); err != nil {
			return res, err
		}
		return res, nil
	}
	if _, err := c.lib.UpdateAccount(providerID, func(a *models.CloudProviderAccount) {
		a.LastSyncAt = &now
		a.ConsecutiveErrorCount = 0
		a.LastError = ""
	}); err != nil {
		res.StopReason = StopError
		res.Error = err.Error()
		return res, err
	}
	return res, nil
}

// applyPage prepares and commits one page. It also returns the errors of
// items that were skipped because a transient failure outlasted the retries.
func (c *Coordinator) applyPage(ctx context.Context, adapter provider.Adapter, cursor string, page *provider.DeltaPage) (*library.PageSummary, []error, error) {
	start := time.Now()
	items, err := c.prepare(ctx, adapter, page.Changes)
	if err != nil {
		return nil, nil, err
	}
	refs := make([]models.RecordRef, 0, len(items))
	for _, it := range items {
		if it.ref.RemoteID != "" {
			refs = append(refs, it.ref)
		}
	}

	summary, err := c.lib.CommitPage(adapter.ID(), refs, page.NextCursor, func(tx *library.PageTx) error {
		for _, it := range items {
			if it.ref.RemoteID == "" {
				tx.Skip(it.ref, it.err.Error())
				continue
			}
			if err := reconcile(tx, it); err != nil {
				return fmt.Errorf("failed to reconcile %s: %w", it.ref, err)
			}
		}
		return nil
	})
	if err != nil {
		return nil, nil, &CommitError{Provider: adapter.ID(), Cursor: cursor, Err: err}
	}
	metrics.ObservePageCommit(adapter.ID(), time.Since(start))
	metrics.AddSyncItems(adapter.ID(), string(models.OpCreated), summary.Created)
	metrics.AddSyncItems(adapter.ID(), string(models.OpUpdated), summary.Updated)
	metrics.AddSyncItems(adapter.ID(), string(models.OpDeleted), summary.Deleted)
	metrics.AddSyncItems(adapter.ID(), string(models.OpConflictDetected), summary.Conflicts)
	metrics.AddSyncItems(adapter.ID(), string(models.OpErrorSkipped), summary.Skipped)
	return summary, exhausted(items), nil
}

// list fetches a page, retrying transient failures.
func (c *Coordinator) list(ctx context.Context, adapter provider.Adapter, cursor string) (*provider.DeltaPage, error) {
	var page *provider.DeltaPage
	err := c.retry(ctx, adapter.ID(), "list", func() error {
		var err error
		page, err = adapter.ListChanges(ctx, cursor)
		return err
	})
	if err == nil && page == nil {
		err = &provider.NetworkError{Op: "list", Err: errors.New("adapter returned no page")}
	}
	return page, err
}

// fail records a failed pass on the provider account. Expired
// authorization pauses the provider at once; other failures pause it
// once they happen PauseErrorThreshold passes in a row.
func (c *Coordinator) fail(providerID string, res *PassResult, cause error) error {
	res.StopReason = StopError
	res.Error = cause.Error()
	log.Printf("[ERROR] %s.pass failed [pass: %s]: %v", providerID, res.ID, cause)
	if err := c.recordFailure(providerID, cause, nil); err != nil {
		return err
	}
	return cause
}

// recordFailure bumps the provider's error streak and pauses it when the
// streak reaches the threshold. syncedAt is set when pages were committed
// despite the failure.
func (c *Coordinator) recordFailure(providerID string, cause error, syncedAt *time.Time) error {
	account, err := c.lib.UpdateAccount(providerID, func(a *models.CloudProviderAccount) {
		if syncedAt != nil {
			a.LastSyncAt = syncedAt
		}
		a.ConsecutiveErrorCount++
		a.LastError = cause.Error()
		switch {
		case errors.Is(cause, provider.ErrAuthExpired):
			a.Paused = true
			a.PauseReason = models.PauseReasonAuthExpired
		case a.ConsecutiveErrorCount >= c.opts.PauseErrorThreshold:
			a.Paused = true
			a.PauseReason = models.PauseReasonErrorThreshold
		}
	})
	if err != nil {
		return multierr.Append(cause, err)
	}
	if account.Paused {
		log.Printf("[WARN] provider %s paused: %s", providerID, account.PauseReason)
		metrics.SetProviderPaused(providerID, true)
		c.sendStatus(providerID, StatePaused, map[string]interface{}{
			"reason": account.PauseReason,
			"error":  account.LastError,
		})
	}
	return nil
}

// finish publishes a pass result.
func (c *Coordinator) finish(res *PassResult) {
	metrics.IncSyncPass(res.Provider, string(res.StopReason))
	if n, err := c.lib.Count(database.RecordFilter{}); err == nil {
		metrics.SetRecords(n)
	}
	log.Printf("[SYNC] %s.pass finished [pass: %s] %v", res.Provider, res.ID, res.asMap())
	if c.hub == nil {
		return
	}
	c.hub.SendSyncPass(res.Provider, res.asMap())
	if account, err := c.lib.Account(res.Provider); err == nil && !account.Paused {
		c.sendStatus(res.Provider, StateIdle, nil)
	}
}

func (c *Coordinator) sendStatus(providerID, state string, details map[string]interface{}) {
	if c.hub != nil {
		c.hub.SendSyncStatus(providerID, state, details)
	}
}

// ResumeProvider clears a pause and the error streak.
func (c *Coordinator) ResumeProvider(providerID string) error {
	if _, ok := c.registry.Get(providerID); !ok {
		return fmt.Errorf("%w: %s", ErrUnknownProvider, providerID)
	}
	if _, err := c.lib.UpdateAccount(providerID, func(a *models.CloudProviderAccount) {
		a.Paused = false
		a.PauseReason = ""
		a.ConsecutiveErrorCount = 0
	}); err != nil {
		return err
	}
	metrics.SetProviderPaused(providerID, false)
	c.sendStatus(providerID, StateIdle, map[string]interface{}{"resumed": true})
	log.Printf("[INFO] provider %s resumed", providerID)
	return nil
}

// ResolveConflict settles a conflicted record.
func (c *Coordinator) ResolveConflict(ref models.RecordRef, resolution library.Resolution) (*models.EbookRecord, error) {
	return c.lib.ResolveConflict(ref, resolution)
}

// SyncStatus reports the state of one provider.
func (c *Coordinator) SyncStatus(providerID string) (*ProviderStatus, error) {
	if _, ok := c.registry.Get(providerID); !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownProvider, providerID)
	}
	account, err := c.lib.Account(providerID)
	if err != nil {
		return nil, err
	}
	pending, err := c.lib.PendingCount(providerID)
	if err != nil {
		return nil, err
	}

	c.mu.Lock()
	_, running := c.running[providerID]
	last := c.lastPass[providerID]
	c.mu.Unlock()

	st := &ProviderStatus{
		Provider:              providerID,
		State:                 StateIdle,
		LastSyncAt:            account.LastSyncAt,
		Cursor:                account.LastCursor,
		PendingCount:          pending,
		ConsecutiveErrorCount: account.ConsecutiveErrorCount,
		PauseReason:           account.PauseReason,
		LastError:             account.LastError,
	}
	if last != nil {
		lp := *last
		st.LastPass = &lp
	}
	switch {
	case running:
		st.State = StateRunning
	case !account.Enabled:
		st.State = StateDisabled
	case account.Paused:
		st.State = StatePaused
	}
	return st, nil
}

// Statuses reports every registered provider, ordered by id.
func (c *Coordinator) Statuses() ([]ProviderStatus, error) {
	ids := c.registry.IDs()
	sort.Strings(ids)
	out := make([]ProviderStatus, 0, len(ids))
	for _, id := range ids {
		st, err := c.SyncStatus(id)
		if err != nil {
			return nil, err
		}
		out = append(out, *st)
	}
	return out, nil
}
