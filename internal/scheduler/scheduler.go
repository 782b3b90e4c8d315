// file: internal/scheduler/scheduler.go
// version: 1.0.0
// guid: 3b4c5d6e-7f8a-4b0c-9d2e-3f4a5b6c7d8e

// Package scheduler runs sync passes and re-enrichment sweeps on a cron
// schedule.
package scheduler

import (
	"context"
	"fmt"
	"log"
	"sort"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/jdfalk/ebook-organizer/internal/syncer"
)

// SyncTrigger starts passes for every runnable provider.
type SyncTrigger interface {
	TriggerAll() map[string]syncer.TriggerResult
}

// EnrichFunc retries lookups for records still carrying placeholders and
// returns how many were updated.
type EnrichFunc func(ctx context.Context) (int, error)

// Scheduler triggers a sync of all providers, followed by a re-enrichment
// sweep, on every tick of a cron schedule.
type Scheduler struct {
	schedule string
	trigger  SyncTrigger
	enrich   EnrichFunc

	mu      sync.Mutex
	cron    *cron.Cron
	entryID cron.EntryID
	ctx     context.Context
	cancel  context.CancelFunc
	running bool
}

// New creates a scheduler. An empty schedule disables it; enrich may be nil.
func New(schedule string, trigger SyncTrigger, enrich EnrichFunc) *Scheduler {
	return &Scheduler{schedule: schedule, trigger: trigger, enrich: enrich}
}

// Validate parses a standard five-field spec or a descriptor such as
// "@every 15m".
func Validate(schedule string) error {
	if _, err := cron.ParseStandard(schedule); err != nil {
		return fmt.Errorf("invalid sync schedule %q: %w", schedule, err)
	}
	return nil
}

// Start begins the schedule. It is a no-op when disabled or already started.
func (s *Scheduler) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running {
		return nil
	}
	if s.schedule == "" {
		log.Printf("[INFO] Sync scheduler disabled")
		return nil
	}
	if err := Validate(s.schedule); err != nil {
		return err
	}

	s.cron = cron.New(cron.WithChain(cron.SkipIfStillRunning(cron.DiscardLogger)))
	s.ctx, s.cancel = context.WithCancel(context.Background())
	id, err := s.cron.AddFunc(s.schedule, func() { s.tick(s.ctx) })
	if err != nil {
		s.cancel()
		return fmt.Errorf("failed to schedule sync job: %w", err)
	}
	s.entryID = id
	s.cron.Start()
	s.running = true

	log.Printf("[INFO] Sync scheduler started with schedule %q, next run %s",
		s.schedule, s.cron.Entry(id).Next.Format(time.RFC3339))
	return nil
}

// Stop halts the schedule and waits for a running tick to finish.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	s.running = false
	c := s.cron
	s.cancel()
	s.mu.Unlock()

	<-c.Stop().Done()
	log.Printf("[INFO] Sync scheduler stopped")
}

// NextRun returns when the next tick fires, or nil when not running.
func (s *Scheduler) NextRun() *time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.running {
		return nil
	}
	next := s.cron.Entry(s.entryID).Next
	return &next
}

// RunNow performs one tick synchronously.
func (s *Scheduler) RunNow(ctx context.Context) {
	s.tick(ctx)
}

func (s *Scheduler) tick(ctx context.Context) {
	if s.trigger != nil {
		results := s.trigger.TriggerAll()
		ids := make([]string, 0, len(results))
		for id := range results {
			ids = append(ids, id)
		}
		sort.Strings(ids)
		for _, id := range ids {
			log.Printf("[INFO] scheduled sync of %s: %s", id, results[id])
		}
	}

	if s.enrich == nil {
		return
	}
	n, err := s.enrich(ctx)
	if err != nil {
		log.Printf("[WARN] scheduled re-enrichment failed after %d updates: %v", n, err)
		return
	}
	if n > 0 {
		log.Printf("[INFO] scheduled re-enrichment updated %d records", n)
	}
}
