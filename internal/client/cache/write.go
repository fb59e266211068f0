package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/peerassess/fieldsync/internal/client/api"
	"github.com/peerassess/fieldsync/internal/client/models"
	"github.com/peerassess/fieldsync/internal/client/store"
	"github.com/peerassess/fieldsync/internal/logging"
)

// Writer is the write-through accessor. Online, mutations go straight to the
// server and the confirmed record lands in the cache. Offline, the mutation
// applies to the cache optimistically and a queue entry preserves it for the
// sync engine.
type Writer struct {
	store  *store.Store
	queue  *store.Queue
	client api.Client
	conn   Connectivity
	logger logging.Logger

	// wake nudges the sync engine after an enqueue so queued work does not
	// wait for the next tick. Optional.
	wake func()
}

func NewWriter(st *store.Store, q *store.Queue, client api.Client, conn Connectivity, logger logging.Logger) *Writer {
	return &Writer{store: st, queue: q, client: client, conn: conn, logger: logger}
}

// SetWake installs the sync-engine kick called after offline enqueues.
func (w *Writer) SetWake(wake func()) {
	w.wake = wake
}

// Create stores a new entity. Online it round-trips immediately and returns
// the server's record (permanent id). Offline it assigns a temporary id,
// stores optimistically and enqueues a CREATE; the returned record carries
// the temporary id until the sync engine rewrites it.
//
// An online attempt that fails is returned as an error, not silently queued:
// the caller asked for a confirmed write and gets to decide what to do.
func (w *Writer) Create(ctx context.Context, kind models.Kind, payload json.RawMessage) (*Cached, error) {
	tempID := models.NewTempID()
	payload, err := models.WithID(payload, tempID)
	if err != nil {
		return nil, err
	}

	if w.conn.Online() {
		res, err := w.client.Create(ctx, kind, tempID, payload)
		if err != nil {
			return nil, fmt.Errorf("create %s: %w", kind, err)
		}
		if err := w.store.Put(ctx, &res.Record, true); err != nil {
			return nil, err
		}
		c := wrap(res.Record, false, false)
		return &c, nil
	}

	rec := &models.Record{
		Kind:      kind,
		ID:        tempID,
		Payload:   payload,
		UpdatedAt: time.Now(),
	}
	if err := w.store.Put(ctx, rec, false); err != nil {
		return nil, err
	}
	if _, err := w.queue.Enqueue(ctx, models.ActionCreate, kind, tempID, payload); err != nil {
		return nil, err
	}
	w.logger.Info(ctx, "queued offline create", "kind", kind, "id", tempID)
	w.kick()

	c := wrap(*rec, true, false)
	return &c, nil
}

// CreateQueued stores a new entity locally and enqueues its CREATE without
// ever attempting a direct server call, regardless of connectivity. Used for
// evidence capture, where the write path must never block on the network.
func (w *Writer) CreateQueued(ctx context.Context, kind models.Kind, payload json.RawMessage) (*Cached, error) {
	tempID := models.NewTempID()
	payload, err := models.WithID(payload, tempID)
	if err != nil {
		return nil, err
	}

	rec := &models.Record{
		Kind:      kind,
		ID:        tempID,
		Payload:   payload,
		UpdatedAt: time.Now(),
	}
	if err := w.store.Put(ctx, rec, false); err != nil {
		return nil, err
	}
	if _, err := w.queue.Enqueue(ctx, models.ActionCreate, kind, tempID, payload); err != nil {
		return nil, err
	}
	w.kick()

	c := wrap(*rec, true, false)
	return &c, nil
}

// Update mutates an existing entity, online directly or offline via the
// queue. The payload must carry the full entity state including its id.
func (w *Writer) Update(ctx context.Context, kind models.Kind, id string, payload json.RawMessage) (*Cached, error) {
	if w.conn.Online() && !models.IsTempID(id) {
		res, err := w.client.Update(ctx, kind, id, payload)
		if err != nil {
			return nil, fmt.Errorf("update %s/%s: %w", kind, id, err)
		}
		if err := w.store.Put(ctx, &res.Record, true); err != nil {
			return nil, err
		}
		c := wrap(res.Record, false, false)
		return &c, nil
	}

	rec := &models.Record{
		Kind:      kind,
		ID:        id,
		Payload:   payload,
		UpdatedAt: time.Now(),
	}
	if err := w.store.Put(ctx, rec, false); err != nil {
		return nil, err
	}
	if _, err := w.queue.Enqueue(ctx, models.ActionUpdate, kind, id, payload); err != nil {
		return nil, err
	}
	w.logger.Info(ctx, "queued offline update", "kind", kind, "id", id)
	w.kick()

	c := wrap(*rec, true, false)
	return &c, nil
}

// Delete removes an entity. Deleting an entity that only ever existed
// locally (temporary id with its CREATE still queued) cancels the queued
// work instead of telling the server about something it never saw.
func (w *Writer) Delete(ctx context.Context, kind models.Kind, id string) error {
	if models.IsTempID(id) {
		if _, err := w.queue.CancelPending(ctx, kind, id); err != nil {
			return err
		}
		return w.store.Delete(ctx, kind, id)
	}

	if w.conn.Online() {
		if err := w.client.Delete(ctx, kind, id); err != nil {
			return fmt.Errorf("delete %s/%s: %w", kind, id, err)
		}
		return w.store.Delete(ctx, kind, id)
	}

	if err := w.store.Delete(ctx, kind, id); err != nil {
		return err
	}
	if _, err := w.queue.Enqueue(ctx, models.ActionDelete, kind, id, nil); err != nil {
		return err
	}
	w.logger.Info(ctx, "queued offline delete", "kind", kind, "id", id)
	w.kick()
	return nil
}

func (w *Writer) kick() {
	if w.wake != nil {
		w.wake()
	}
}
