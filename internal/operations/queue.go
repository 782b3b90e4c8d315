// file: internal/operations/queue.go
// version: 2.1.0
// guid: 7d6e5f4a-3c2b-1a09-8f7e-6d5c4b3a2190

package operations

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sort"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/jdfalk/ebook-organizer/internal/cache"
	"github.com/jdfalk/ebook-organizer/internal/metrics"
	"github.com/jdfalk/ebook-organizer/internal/realtime"
)

// Priority levels for operations
const (
	PriorityLow    = 0
	PriorityNormal = 1
	PriorityHigh   = 2
)

// Operation states
const (
	StatusQueued    = "queued"
	StatusRunning   = "running"
	StatusCompleted = "completed"
	StatusFailed    = "failed"
	StatusCanceled  = "canceled"
)

const (
	pendingCapacity  = 100
	finishedRetained = time.Hour
)

var (
	// ErrQueueFull is returned when a priority lane has no room left.
	ErrQueueFull = errors.New("operation queue is full")
	// ErrQueueClosed is returned by Enqueue after Shutdown.
	ErrQueueClosed = errors.New("operation queue is shut down")
	// ErrOperationNotFound is returned for unknown operation ids.
	ErrOperationNotFound = errors.New("operation not found")
)

// OperationFunc represents an operation that can be executed
type OperationFunc func(ctx context.Context, progress ProgressReporter) error

// ProgressReporter allows operations to report their progress
type ProgressReporter interface {
	UpdateProgress(current, total int, message string) error
	IsCanceled() bool
}

// QueuedOperation represents an operation in the queue
type QueuedOperation struct {
	ID       string
	Type     string
	Priority int
	Func     OperationFunc
	Context  context.Context
	Cancel   context.CancelFunc
}

// OperationStatus is the observable state of an operation.
type OperationStatus struct {
	ID          string     `json:"id"`
	Type        string     `json:"type"`
	Status      string     `json:"status"`
	Current     int        `json:"current"`
	Total       int        `json:"total"`
	Message     string     `json:"message,omitempty"`
	Error       string     `json:"error,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
	StartedAt   *time.Time `json:"started_at,omitempty"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
}

// OperationQueue runs operations on a fixed pool of workers. Higher
// priority lanes are drained first.
type OperationQueue struct {
	mu         sync.RWMutex
	operations map[string]*QueuedOperation
	statuses   map[string]*OperationStatus
	finished   *cache.Cache[OperationStatus]
	lanes      [3]chan *QueuedOperation
	wake       chan struct{}
	workers    int
	hub        *realtime.EventHub
	wg         sync.WaitGroup
	ctx        context.Context
	cancel     context.CancelFunc
	closed     bool
	listeners  map[string][]ProgressListener
}

// ProgressListener receives progress updates
type ProgressListener func(operationID string, progress OperationProgress)

// OperationProgress represents the current state of an operation
type OperationProgress struct {
	Current int
	Total   int
	Message string
}

// NewOperationQueue creates a new operation queue. hub may be nil.
func NewOperationQueue(hub *realtime.EventHub, workers int) *OperationQueue {
	if workers <= 0 {
		workers = 2 // Default to 2 workers
	}

	ctx, cancel := context.WithCancel(context.Background())

	q := &OperationQueue{
		operations: make(map[string]*QueuedOperation),
		statuses:   make(map[string]*OperationStatus),
		finished:   cache.New[OperationStatus](finishedRetained),
		wake:       make(chan struct{}, pendingCapacity*3),
		workers:    workers,
		hub:        hub,
		ctx:        ctx,
		cancel:     cancel,
		listeners:  make(map[string][]ProgressListener),
	}
	for i := range q.lanes {
		q.lanes[i] = make(chan *QueuedOperation, pendingCapacity)
	}

	// Start worker goroutines
	for i := 0; i < workers; i++ {
		q.wg.Add(1)
		go q.worker(i)
	}

	return q
}

// NewOperationID returns a sortable unique id.
func NewOperationID() string {
	return ulid.Make().String()
}

// Enqueue adds a new operation to the queue
func (q *OperationQueue) Enqueue(id, opType string, priority int, fn OperationFunc) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return ErrQueueClosed
	}
	// Check if operation already exists
	if _, exists := q.operations[id]; exists {
		return fmt.Errorf("operation %s already exists", id)
	}
	if priority < PriorityLow {
		priority = PriorityLow
	} else if priority > PriorityHigh {
		priority = PriorityHigh
	}

	// Create cancellable context
	ctx, cancel := context.WithCancel(q.ctx)

	op := &QueuedOperation{
		ID:       id,
		Type:     opType,
		Priority: priority,
		Func:     fn,
		Context:  ctx,
		Cancel:   cancel,
	}

	select {
	case q.lanes[priority] <- op:
	default:
		cancel()
		log.Printf("[WARN] pending queue full, rejecting operation %s", id)
		return fmt.Errorf("%w: %s", ErrQueueFull, id)
	}
	q.operations[id] = op
	q.statuses[id] = &OperationStatus{ID: id, Type: opType, Status: StatusQueued, CreatedAt: time.Now()}
	q.wake <- struct{}{}

	log.Printf("[DEBUG] operation %s (%s) enqueued with priority %d", id, opType, priority)
	q.publish(id, StatusQueued, nil)
	return nil
}

// Cancel cancels an operation
func (q *OperationQueue) Cancel(id string) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	op, exists := q.operations[id]
	if !exists {
		return fmt.Errorf("%w: %s", ErrOperationNotFound, id)
	}

	// Cancel the context
	op.Cancel()

	log.Printf("[INFO] operation %s canceled", id)
	return nil
}

// GetStatus returns the current status of a queued, running or recently
// finished operation.
func (q *OperationQueue) GetStatus(id string) (*OperationStatus, error) {
	q.mu.RLock()
	st, ok := q.statuses[id]
	if ok {
		c := *st
		q.mu.RUnlock()
		return &c, nil
	}
	q.mu.RUnlock()
	if done, ok := q.finished.Get(id); ok {
		return &done, nil
	}
	return nil, fmt.Errorf("%w: %s", ErrOperationNotFound, id)
}

// AddListener adds a progress listener for an operation
func (q *OperationQueue) AddListener(operationID string, listener ProgressListener) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.listeners[operationID] = append(q.listeners[operationID], listener)
}

// RemoveListeners removes all listeners for an operation
func (q *OperationQueue) RemoveListeners(operationID string) {
	q.mu.Lock()
	defer q.mu.Unlock()
	delete(q.listeners, operationID)
}

// notifyListeners sends progress updates to all listeners
func (q *OperationQueue) notifyListeners(operationID string, progress OperationProgress) {
	q.mu.RLock()
	listeners := q.listeners[operationID]
	q.mu.RUnlock()

	for _, listener := range listeners {
		// Call listener in a goroutine to avoid blocking
		go listener(operationID, progress)
	}
}

func (q *OperationQueue) publish(id, status string, details map[string]interface{}) {
	if q.hub != nil {
		q.hub.SendOperationStatus(id, status, details)
	}
}

// next pops the highest priority pending operation.
func (q *OperationQueue) next() *QueuedOperation {
	for p := PriorityHigh; p >= PriorityLow; p-- {
		select {
		case op := <-q.lanes[p]:
			return op
		default:
		}
	}
	return nil
}

// worker processes operations from the queue
func (q *OperationQueue) worker(id int) {
	defer q.wg.Done()

	log.Printf("[DEBUG] worker %d started", id)

	for {
		select {
		case <-q.ctx.Done():
			log.Printf("[DEBUG] worker %d stopped", id)
			return
		case <-q.wake:
			if op := q.next(); op != nil {
				q.run(id, op)
			}
		}
	}
}

func (q *OperationQueue) run(worker int, op *QueuedOperation) {
	log.Printf("[DEBUG] worker %d processing operation %s", worker, op.ID)

	// Metrics: mark start
	start := time.Now()
	metrics.IncOperationStarted(op.Type)
	q.setStatus(op.ID, func(st *OperationStatus) {
		st.Status = StatusRunning
		st.StartedAt = &start
	})
	q.publish(op.ID, StatusRunning, nil)

	reporter := &operationProgressReporter{
		operationID: op.ID,
		queue:       q,
		ctx:         op.Context,
	}

	// Func runs even when the operation was canceled while queued so it can
	// release whatever it claimed at enqueue time.
	err := op.Func(op.Context, reporter)

	status := StatusCompleted
	details := map[string]interface{}{"current": reporter.current, "total": reporter.total}
	switch {
	case op.Context.Err() != nil && (err == nil || errors.Is(err, context.Canceled)):
		status = StatusCanceled
		metrics.IncOperationCanceled(op.Type)
		log.Printf("[INFO] operation %s was canceled", op.ID)
	case err != nil:
		status = StatusFailed
		details["error"] = err.Error()
		metrics.IncOperationFailed(op.Type)
		log.Printf("[ERROR] operation %s failed: %v", op.ID, err)
	default:
		metrics.IncOperationCompleted(op.Type)
		log.Printf("[INFO] operation %s completed successfully", op.ID)
	}
	metrics.ObserveOperationDuration(op.Type, time.Since(start))

	end := time.Now()
	q.mu.Lock()
	if st := q.statuses[op.ID]; st != nil {
		st.Status = status
		st.CompletedAt = &end
		st.Current, st.Total = reporter.current, reporter.total
		if err != nil {
			st.Error = err.Error()
		}
		q.finished.Set(op.ID, *st)
	}
	delete(q.statuses, op.ID)
	delete(q.operations, op.ID)
	delete(q.listeners, op.ID)
	q.mu.Unlock()
	op.Cancel()

	q.publish(op.ID, status, details)
}

func (q *OperationQueue) setStatus(id string, fn func(*OperationStatus)) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if st := q.statuses[id]; st != nil {
		fn(st)
	}
}

// Shutdown cancels every operation and waits for the workers to exit.
func (q *OperationQueue) Shutdown(timeout time.Duration) error {
	log.Println("[INFO] shutting down operation queue...")

	q.mu.Lock()
	q.closed = true
	q.mu.Unlock()

	// Cancel all operations
	q.cancel()

	// Wait for workers to finish with timeout
	done := make(chan struct{})
	go func() {
		q.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		// Operations still queued see a canceled context.
		for op := q.next(); op != nil; op = q.next() {
			q.run(-1, op)
		}
		log.Println("[INFO] operation queue shut down gracefully")
		return nil
	case <-time.After(timeout):
		return fmt.Errorf("shutdown timeout after %v", timeout)
	}
}

// operationProgressReporter implements ProgressReporter
type operationProgressReporter struct {
	operationID string
	queue       *OperationQueue
	ctx         context.Context
	current     int
	total       int
}

func (r *operationProgressReporter) UpdateProgress(current, total int, message string) error {
	r.current = current
	r.total = total

	if r.queue.statuses != nil {
		r.queue.setStatus(r.operationID, func(st *OperationStatus) {
			st.Current, st.Total, st.Message = current, total, message
		})
	}

	// Notify listeners
	r.queue.notifyListeners(r.operationID, OperationProgress{
		Current: current,
		Total:   total,
		Message: message,
	})

	r.queue.publish(r.operationID, StatusRunning, map[string]interface{}{
		"current": current,
		"total":   total,
		"message": message,
	})
	return nil
}

func (r *operationProgressReporter) IsCanceled() bool {
	return r.ctx != nil && r.ctx.Err() != nil
}

// ActiveOperation represents lightweight info about an in-flight operation.
type ActiveOperation struct {
	ID   string `json:"id"`
	Type string `json:"type"`
}

// ActiveOperations returns a snapshot of currently queued/running
// operations, ordered by id.
func (q *OperationQueue) ActiveOperations() []ActiveOperation {
	if q == nil {
		return []ActiveOperation{}
	}
	q.mu.RLock()
	defer q.mu.RUnlock()
	results := make([]ActiveOperation, 0, len(q.operations))
	for id, op := range q.operations {
		results = append(results, ActiveOperation{ID: id, Type: op.Type})
	}
	sort.Slice(results, func(i, j int) bool { return results[i].ID < results[j].ID })
	return results
}
