package ledger

import (
	"context"
	"fmt"
	"sync"
	"time"

	"marketplace-ledger-go/internal/metrics"
	"marketplace-ledger-go/internal/models"
	"marketplace-ledger-go/internal/store"

	"go.uber.org/zap"
)

// Mirror posts one committed entry to an external ledger. Posting the same
// entry twice must be a no-op.
type Mirror interface {
	MirrorEntry(ctx context.Context, entry *models.LedgerEntry) error
}

const (
	defaultMirrorQueueSize = 1024
	defaultMirrorTimeout   = 10 * time.Second
)

// MirrorQueue posts committed entries from a background worker. An entry that
// cannot be queued or posted is recorded as a mirror_entry reconciliation
// task and posted again by Repost.
type MirrorQueue struct {
	mirror  Mirror
	store   store.Transactor
	timeout time.Duration

	mu       sync.RWMutex
	stopped  bool
	queue    chan *models.LedgerEntry
	stopOnce sync.Once
	doneChan chan struct{}
}

// NewMirrorQueue buffers up to size entries. Zero values select the defaults.
func NewMirrorQueue(mirror Mirror, st store.Transactor, size int, timeout time.Duration) *MirrorQueue {
	if size <= 0 {
		size = defaultMirrorQueueSize
	}
	if timeout <= 0 {
		timeout = defaultMirrorTimeout
	}
	return &MirrorQueue{
		mirror:   mirror,
		store:    st,
		timeout:  timeout,
		queue:    make(chan *models.LedgerEntry, size),
		doneChan: make(chan struct{}),
	}
}

// Start launches the worker.
func (q *MirrorQueue) Start() {
	go q.run()
	zap.L().Info("Mirror queue started", zap.Int("capacity", cap(q.queue)))
}

// Stop refuses new entries, drains the queue and waits for the worker.
func (q *MirrorQueue) Stop() {
	q.stopOnce.Do(func() {
		q.mu.Lock()
		q.stopped = true
		close(q.queue)
		q.mu.Unlock()
	})
	<-q.doneChan
	zap.L().Info("Mirror queue stopped")
}

// Publish queues entries without blocking the caller.
func (q *MirrorQueue) Publish(entries ...*models.LedgerEntry) {
	q.mu.RLock()
	defer q.mu.RUnlock()

	for _, entry := range entries {
		if entry == nil {
			continue
		}
		if q.stopped {
			q.deferEntry(entry, "mirror queue stopped")
			continue
		}
		select {
		case q.queue <- entry:
		default:
			q.deferEntry(entry, "mirror queue full")
		}
	}
}

// Repost posts the entry named by a mirror_entry task and resolves the task.
func (q *MirrorQueue) Repost(ctx context.Context, task *models.ReconciliationTask) error {
	entry, err := q.store.Repos().Entries().GetEntry(ctx, task.Reference)
	if err != nil {
		return err
	}
	postCtx, cancel := context.WithTimeout(ctx, q.timeout)
	defer cancel()
	if err := q.mirror.MirrorEntry(postCtx, entry); err != nil {
		metrics.Business.MirrorFailuresTotal.Inc()
		return fmt.Errorf("repost of entry %s failed: %w", entry.Id, err)
	}
	return q.store.Repos().Tasks().ResolveTask(ctx, task.Id, time.Now())
}

func (q *MirrorQueue) run() {
	defer close(q.doneChan)
	for entry := range q.queue {
		q.post(entry)
	}
}

func (q *MirrorQueue) post(entry *models.LedgerEntry) {
	ctx, cancel := context.WithTimeout(context.Background(), q.timeout)
	defer cancel()

	if err := q.mirror.MirrorEntry(ctx, entry); err != nil {
		metrics.Business.MirrorFailuresTotal.Inc()
		zap.L().Error("Failed to mirror ledger entry",
			zap.String("entry_id", entry.Id),
			zap.String("user_id", entry.UserId),
			zap.String("kind", string(entry.Kind)),
			zap.Int64("amount", entry.Amount),
			zap.String("currency", entry.Currency),
			zap.Error(err))
		q.deferEntry(entry, err.Error())
	}
}

func (q *MirrorQueue) deferEntry(entry *models.LedgerEntry, reason string) {
	ctx, cancel := context.WithTimeout(context.Background(), q.timeout)
	defer cancel()

	err := q.store.Repos().Tasks().CreateTask(ctx, &models.ReconciliationTask{
		Kind:      models.TaskMirrorEntry,
		Reference: entry.Id,
		UserId:    entry.UserId,
		Currency:  entry.Currency,
		Amount:    entry.Amount,
		Reason:    reason,
	})
	if err != nil {
		zap.L().Error("Failed to record unmirrored entry",
			zap.String("entry_id", entry.Id),
			zap.String("reason", reason),
			zap.Error(err))
	}
}
