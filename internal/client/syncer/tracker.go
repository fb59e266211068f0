// Package syncer drains the durable mutation queue against the remote API,
// classifying failures into retry, quarantine, and give-up paths, and
// rewriting temporary ids once the server confirms creation.
package syncer

import (
	"context"
	"sync"
	"time"

	"github.com/peerassess/fieldsync/internal/client/models"
	"github.com/peerassess/fieldsync/internal/client/store"
)

// Status is the sync state surfaced to the UI.
type Status struct {
	Pending    int
	Failed     []models.QueueEntry
	LastSyncAt time.Time
	LastError  string
}

// Tracker records drain outcomes for status reporting. Counts come from the
// queue itself so restarts do not lose them.
type Tracker struct {
	queue *store.Queue

	mu         sync.Mutex
	lastSyncAt time.Time
	lastError  string
}

func NewTracker(q *store.Queue) *Tracker {
	return &Tracker{queue: q}
}

func (t *Tracker) recordSuccess() {
	t.mu.Lock()
	t.lastSyncAt = time.Now()
	t.lastError = ""
	t.mu.Unlock()
}

func (t *Tracker) recordError(err error) {
	t.mu.Lock()
	t.lastError = err.Error()
	t.mu.Unlock()
}

// Status snapshots the queue and the last drain outcome.
func (t *Tracker) Status(ctx context.Context) (*Status, error) {
	pending, err := t.queue.Count(ctx)
	if err != nil {
		return nil, err
	}
	failed, err := t.queue.Failed(ctx)
	if err != nil {
		return nil, err
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	return &Status{
		Pending:    pending,
		Failed:     failed,
		LastSyncAt: t.lastSyncAt,
		LastError:  t.lastError,
	}, nil
}
