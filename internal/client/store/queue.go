package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/peerassess/fieldsync/internal/client/models"
)

// Queue is the durable Sync Queue. Entries are ordered by an autoincrement
// sequence so mutations for the same entity always replay in creation order.
type Queue struct {
	db *sql.DB
}

func NewQueue(db *sql.DB) *Queue {
	return &Queue{db: db}
}

// Enqueue appends a mutation. The entry id doubles as the idempotency key
// for CREATE retries when EntityID is a temporary id.
func (q *Queue) Enqueue(ctx context.Context, action models.Action, kind models.Kind, entityID string, payload []byte) (*models.QueueEntry, error) {
	entry := &models.QueueEntry{
		ID:        uuid.NewString(),
		Action:    action,
		Kind:      kind,
		EntityID:  entityID,
		Payload:   payload,
		Status:    models.StatusPending,
		CreatedAt: time.Now(),
	}

	_, err := q.db.ExecContext(ctx, `
		INSERT INTO sync_queue (id, action, kind, entity_id, payload, attempts, last_error, status, created_at, next_retry_at)
		VALUES (?, ?, ?, ?, ?, 0, '', ?, ?, 0)
	`, entry.ID, string(action), string(kind), entityID, string(payload), string(models.StatusPending), entry.CreatedAt.UnixNano())
	if err != nil {
		return nil, fmt.Errorf("enqueue %s %s/%s: %w", action, kind, entityID, err)
	}
	return entry, nil
}

const queueColumns = `id, action, kind, entity_id, payload, attempts, last_error, status, created_at, next_retry_at`

func scanEntry(row interface {
	Scan(dest ...any) error
}) (*models.QueueEntry, error) {
	var e models.QueueEntry
	var payload sql.NullString
	var createdAt, nextRetryAt int64
	err := row.Scan(&e.ID, &e.Action, &e.Kind, &e.EntityID, &payload, &e.Attempts, &e.LastError, &e.Status, &createdAt, &nextRetryAt)
	if err != nil {
		return nil, err
	}
	if payload.Valid {
		e.Payload = []byte(payload.String)
	}
	e.CreatedAt = time.Unix(0, createdAt)
	e.NextRetryAt = time.Unix(0, nextRetryAt)
	return &e, nil
}

// NextEligible returns the oldest PENDING entry whose retry time has passed
// and that is not preceded by an older entry for the same entity. The
// ordering clause is what prevents two mutations for one entity from being
// in flight at once, and lets a FAILED entry hold back later mutations for
// that entity without stalling the rest of the queue.
//
// Returns (nil, nil) when nothing is eligible.
func (q *Queue) NextEligible(ctx context.Context, now time.Time) (*models.QueueEntry, error) {
	row := q.db.QueryRowContext(ctx, `
		SELECT `+queueColumns+` FROM sync_queue q
		WHERE q.status = 'PENDING'
		  AND q.next_retry_at <= ?
		  AND NOT EXISTS (
			SELECT 1 FROM sync_queue b
			WHERE b.kind = q.kind AND b.entity_id = q.entity_id AND b.seq < q.seq
		  )
		ORDER BY q.seq
		LIMIT 1
	`, now.UnixNano())

	entry, err := scanEntry(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("next eligible: %w", err)
	}
	return entry, nil
}

// MarkInFlight transitions an entry PENDING -> IN_FLIGHT.
func (q *Queue) MarkInFlight(ctx context.Context, id string) error {
	return q.setStatus(ctx, id, models.StatusInFlight)
}

// Remove deletes a successfully confirmed entry.
func (q *Queue) Remove(ctx context.Context, id string) error {
	_, err := q.db.ExecContext(ctx, `DELETE FROM sync_queue WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("remove queue entry %s: %w", id, err)
	}
	return nil
}

// Reschedule records a transient failure: the entry goes back to PENDING
// with an incremented attempt count and a retry-after time.
func (q *Queue) Reschedule(ctx context.Context, id string, lastError string, nextRetryAt time.Time) error {
	_, err := q.db.ExecContext(ctx, `
		UPDATE sync_queue
		SET status = 'PENDING', attempts = attempts + 1, last_error = ?, next_retry_at = ?
		WHERE id = ?
	`, lastError, nextRetryAt.UnixNano(), id)
	if err != nil {
		return fmt.Errorf("reschedule queue entry %s: %w", id, err)
	}
	return nil
}

// Quarantine marks an entry FAILED. Quarantined entries are skipped by the
// drain loop until a manual Retry; later entries for the same entity stay
// blocked behind it.
func (q *Queue) Quarantine(ctx context.Context, id string, lastError string) error {
	_, err := q.db.ExecContext(ctx, `
		UPDATE sync_queue SET status = 'FAILED', last_error = ? WHERE id = ?
	`, lastError, id)
	if err != nil {
		return fmt.Errorf("quarantine queue entry %s: %w", id, err)
	}
	return nil
}

// Retry moves a FAILED entry back to PENDING with its attempt counter and
// backoff reset.
func (q *Queue) Retry(ctx context.Context, id string) error {
	res, err := q.db.ExecContext(ctx, `
		UPDATE sync_queue
		SET status = 'PENDING', attempts = 0, next_retry_at = 0
		WHERE id = ? AND status = 'FAILED'
	`, id)
	if err != nil {
		return fmt.Errorf("retry queue entry %s: %w", id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("retry queue entry %s: no failed entry", id)
	}
	return nil
}

// RetryAll resets every FAILED entry to PENDING.
func (q *Queue) RetryAll(ctx context.Context) (int64, error) {
	res, err := q.db.ExecContext(ctx, `
		UPDATE sync_queue
		SET status = 'PENDING', attempts = 0, next_retry_at = 0
		WHERE status = 'FAILED'
	`)
	if err != nil {
		return 0, fmt.Errorf("retry all: %w", err)
	}
	return res.RowsAffected()
}

// ResetInFlight moves IN_FLIGHT entries back to PENDING. Called on startup:
// an entry stuck IN_FLIGHT means the process died mid-push, and the
// idempotency key makes replaying it safe.
func (q *Queue) ResetInFlight(ctx context.Context) error {
	_, err := q.db.ExecContext(ctx, `
		UPDATE sync_queue SET status = 'PENDING' WHERE status = 'IN_FLIGHT'
	`)
	if err != nil {
		return fmt.Errorf("reset in-flight: %w", err)
	}
	return nil
}

// Count returns the number of entries still awaiting sync (PENDING and
// IN_FLIGHT; FAILED entries are counted separately via Failed).
func (q *Queue) Count(ctx context.Context) (int, error) {
	var n int
	err := q.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM sync_queue WHERE status IN ('PENDING', 'IN_FLIGHT')`).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("queue count: %w", err)
	}
	return n, nil
}

// Failed lists quarantined entries for surfacing to the operator.
func (q *Queue) Failed(ctx context.Context) ([]models.QueueEntry, error) {
	return q.list(ctx, `SELECT `+queueColumns+` FROM sync_queue WHERE status = 'FAILED' ORDER BY seq`)
}

// All lists every entry in queue order.
func (q *Queue) All(ctx context.Context) ([]models.QueueEntry, error) {
	return q.list(ctx, `SELECT `+queueColumns+` FROM sync_queue ORDER BY seq`)
}

// PendingForEntity lists the not-yet-confirmed entries for one entity in
// creation order.
func (q *Queue) PendingForEntity(ctx context.Context, kind models.Kind, entityID string) ([]models.QueueEntry, error) {
	return q.list(ctx, `
		SELECT `+queueColumns+` FROM sync_queue
		WHERE kind = ? AND entity_id = ? AND status != 'IN_FLIGHT'
		ORDER BY seq
	`, string(kind), entityID)
}

// CancelPending deletes every non-in-flight entry for an entity and reports
// whether any were removed. Used when a local-only entity (temporary id) is
// discarded before its CREATE ever reached the server.
func (q *Queue) CancelPending(ctx context.Context, kind models.Kind, entityID string) (bool, error) {
	res, err := q.db.ExecContext(ctx, `
		DELETE FROM sync_queue
		WHERE kind = ? AND entity_id = ? AND status != 'IN_FLIGHT'
	`, string(kind), entityID)
	if err != nil {
		return false, fmt.Errorf("cancel pending %s/%s: %w", kind, entityID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// RewriteEntityID repoints queued entries from a temporary id to the server
// id and patches the "id" field inside their payloads.
func (q *Queue) RewriteEntityID(ctx context.Context, kind models.Kind, oldID, newID string) error {
	rows, err := q.db.QueryContext(ctx, `
		SELECT id, payload FROM sync_queue WHERE kind = ? AND entity_id = ?
	`, string(kind), oldID)
	if err != nil {
		return fmt.Errorf("rewrite entity id %s/%s: %w", kind, oldID, err)
	}
	defer rows.Close()

	type patch struct {
		id      string
		payload []byte
	}
	var patches []patch
	for rows.Next() {
		var p patch
		var payload sql.NullString
		if err := rows.Scan(&p.id, &payload); err != nil {
			return err
		}
		if payload.Valid && payload.String != "" {
			patched, err := models.WithID([]byte(payload.String), newID)
			if err != nil {
				return fmt.Errorf("rewrite entity id %s/%s: %w", kind, oldID, err)
			}
			p.payload = patched
		}
		patches = append(patches, p)
	}
	if err := rows.Err(); err != nil {
		return err
	}

	for _, p := range patches {
		if p.payload != nil {
			_, err = q.db.ExecContext(ctx,
				`UPDATE sync_queue SET entity_id = ?, payload = ? WHERE id = ?`,
				newID, string(p.payload), p.id)
		} else {
			_, err = q.db.ExecContext(ctx,
				`UPDATE sync_queue SET entity_id = ? WHERE id = ?`, newID, p.id)
		}
		if err != nil {
			return fmt.Errorf("rewrite entity id %s/%s: %w", kind, oldID, err)
		}
	}
	return nil
}

func (q *Queue) list(ctx context.Context, query string, args ...any) ([]models.QueueEntry, error) {
	rows, err := q.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list queue: %w", err)
	}
	defer rows.Close()

	var result []models.QueueEntry
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, *e)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}

func (q *Queue) setStatus(ctx context.Context, id string, status models.QueueStatus) error {
	_, err := q.db.ExecContext(ctx,
		`UPDATE sync_queue SET status = ? WHERE id = ?`, string(status), id)
	if err != nil {
		return fmt.Errorf("set queue status %s: %w", id, err)
	}
	return nil
}
