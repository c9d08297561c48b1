// Package update owns the change queue: debounced, per-subject coalesced
// pending changes drained by a worker pool into a pluggable handling
// strategy. The queue is unbounded; dropping an update would leave an
// index permanently stale, so back-pressure is a logged warning only.
package update

import (
	"context"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/semweb/searchsync/internal/metrics"
)

// ChangeKind declares what a delta said happened to a subject. For the
// automatic strategy it is advisory only; triplestore state at handling
// time is authoritative.
type ChangeKind string

const (
	KindUpdate ChangeKind = "update"
	KindDelete ChangeKind = "delete"
)

// PendingChange is one coalesced queue entry per subject. IndexTypes only
// widens while the entry is pending; EnqueuedAt stays at the first enqueue
// so a burst of edits shares one debounce window.
type PendingChange struct {
	Subject    string
	Kind       ChangeKind
	EnqueuedAt time.Time
	IndexTypes map[string]struct{}
}

// Types returns the index types sorted, for deterministic handling and
// persistence.
func (c *PendingChange) Types() []string {
	out := make([]string, 0, len(c.IndexTypes))
	for t := range c.IndexTypes {
		out = append(out, t)
	}
	sort.Strings(out)
	return out
}

// Strategy applies one ready change. Errors are logged by the queue; the
// entry is not retried (the next delta for the subject re-enqueues it).
type Strategy interface {
	Handle(ctx context.Context, subject string, indexTypes []string, kind ChangeKind) error
}

// Queue is the debounced change queue. Its lock protects only the entry
// map and FIFO order; it is never held during Handle, which may block on
// network I/O for seconds.
type Queue struct {
	strategy  Strategy
	wait      time.Duration
	workers   int
	highWater int
	store     *Store // optional write-through persistence
	now       func() time.Time

	mu      sync.Mutex
	entries map[string]*PendingChange
	order   []string

	wake chan struct{}
	done chan struct{}
	wg   sync.WaitGroup
}

// NewQueue creates a queue. store may be nil to run without persistence.
func NewQueue(strategy Strategy, wait time.Duration, workers, highWater int, store *Store) *Queue {
	return &Queue{
		strategy:  strategy,
		wait:      wait,
		workers:   workers,
		highWater: highWater,
		store:     store,
		now:       time.Now,
		entries:   make(map[string]*PendingChange),
		wake:      make(chan struct{}, 1),
		done:      make(chan struct{}),
	}
}

// Restore loads persisted entries at startup, keeping their original
// enqueue times so interrupted debounce windows resume where they were.
func (q *Queue) Restore() error {
	if q.store == nil {
		return nil
	}
	changes, err := q.store.LoadAll()
	if err != nil {
		return err
	}

	q.mu.Lock()
	for _, c := range changes {
		q.entries[c.Subject] = c
		q.order = append(q.order, c.Subject)
	}
	depth := len(q.entries)
	q.mu.Unlock()

	if depth > 0 {
		slog.Info("change queue restored", slog.Int("entries", depth))
		metrics.QueueDepth.Set(float64(depth))
	}
	return nil
}

// Start launches the drain workers.
func (q *Queue) Start(ctx context.Context) {
	for i := 0; i < q.workers; i++ {
		q.wg.Add(1)
		go q.drain(ctx)
	}
}

// Close stops the workers. Pending entries stay persisted.
func (q *Queue) Close() {
	close(q.done)
	q.wg.Wait()
}

// Enqueue records a change for subject against indexType. A subject with
// a pending entry widens that entry instead of queueing again.
func (q *Queue) Enqueue(subject, indexType string, kind ChangeKind) {
	q.mu.Lock()
	entry, ok := q.entries[subject]
	if ok {
		entry.IndexTypes[indexType] = struct{}{}
		entry.Kind = kind
	} else {
		entry = &PendingChange{
			Subject:    subject,
			Kind:       kind,
			EnqueuedAt: q.now(),
			IndexTypes: map[string]struct{}{indexType: {}},
		}
		q.entries[subject] = entry
		q.order = append(q.order, subject)
	}
	depth := len(q.entries)
	snapshot := PendingChange{
		Subject:    entry.Subject,
		Kind:       entry.Kind,
		EnqueuedAt: entry.EnqueuedAt,
		IndexTypes: make(map[string]struct{}, len(entry.IndexTypes)),
	}
	for t := range entry.IndexTypes {
		snapshot.IndexTypes[t] = struct{}{}
	}
	q.mu.Unlock()

	outcome := "new"
	if ok {
		outcome = "coalesced"
	}
	metrics.ChangesEnqueued.WithLabelValues(outcome).Inc()
	metrics.QueueDepth.Set(float64(depth))
	if q.highWater > 0 && depth >= q.highWater {
		slog.Warn("change queue depth above high-water mark",
			slog.Int("depth", depth),
			slog.Int("high_water", q.highWater))
	}

	if q.store != nil {
		if err := q.store.Upsert(&snapshot); err != nil {
			slog.Error("cannot persist pending change",
				slog.String("subject", subject),
				slog.String("error", err.Error()))
		}
	}

	select {
	case q.wake <- struct{}{}:
	default:
	}
}

// Depth returns the number of pending entries.
func (q *Queue) Depth() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.entries)
}

// drain is one worker loop: pop the head entry once its debounce window
// has elapsed, handle it outside the queue lock, then drop its persisted
// row.
func (q *Queue) drain(ctx context.Context) {
	defer q.wg.Done()
	for {
		entry, sleep := q.pop()
		if entry == nil {
			select {
			case <-q.done:
				return
			case <-ctx.Done():
				return
			case <-q.wake:
			case <-time.After(sleep):
			}
			continue
		}

		if err := q.strategy.Handle(ctx, entry.Subject, entry.Types(), entry.Kind); err != nil {
			slog.Error("change handling failed",
				slog.String("subject", entry.Subject),
				slog.String("error", err.Error()))
		}
		if q.store != nil {
			if err := q.store.Delete(entry.Subject); err != nil {
				slog.Error("cannot unpersist handled change",
					slog.String("subject", entry.Subject),
					slog.String("error", err.Error()))
			}
		}
	}
}

// pop removes and returns the head entry if its debounce window elapsed.
// Otherwise it returns nil and how long to sleep before rechecking.
func (q *Queue) pop() (*PendingChange, time.Duration) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if len(q.order) == 0 {
		return nil, time.Second
	}
	head := q.entries[q.order[0]]
	remaining := q.wait - q.now().Sub(head.EnqueuedAt)
	if remaining > 0 {
		if remaining > time.Second {
			remaining = time.Second
		}
		return nil, remaining
	}

	q.order = q.order[1:]
	delete(q.entries, head.Subject)
	metrics.QueueDepth.Set(float64(len(q.entries)))
	return head, 0
}
