// Package store implements the device-local persistent cache: one logical
// table per entity kind, the durable sync queue, and per-kind sync metadata
// used for staleness decisions. Everything lives in a single SQLite file so
// optimistic writes and queue entries commit together.
package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/peerassess/fieldsync/internal/client/models"
	"github.com/peerassess/fieldsync/internal/client/store/migrations"
	"github.com/peerassess/fieldsync/internal/dbx"
	"github.com/pressly/goose/v3"
)

// Store is the Local Store. All methods are safe for concurrent use; SQLite
// serializes writes per connection, which is the per-key guarantee the cache
// layer relies on.
type Store struct {
	db *sql.DB
}

// New wraps an already-open database handle. The schema must be migrated
// (see RunMigrations); Open does both.
func New(db *sql.DB) *Store {
	return &Store{db: db}
}

// Open opens (creating if necessary) the SQLite store at dsn and applies
// pending migrations.
func Open(ctx context.Context, dsn string) (*Store, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}

	if err := RunMigrations(ctx, db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("migrate store: %w", err)
	}

	return New(db), nil
}

// RunMigrations applies the embedded goose migrations to db.
func RunMigrations(ctx context.Context, db *sql.DB) error {
	goose.SetBaseFS(migrations.Migrations)

	if err := goose.SetDialect("sqlite3"); err != nil {
		return err
	}

	return goose.UpContext(ctx, db, ".")
}

// DB exposes the underlying handle so the sync queue can share it.
func (s *Store) DB() *sql.DB {
	return s.db
}

func (s *Store) Close() error {
	return s.db.Close()
}

// Get returns the cached record for (kind, id), or (nil, nil) when absent.
// A missing key is an expected state, never an error.
func (s *Store) Get(ctx context.Context, kind models.Kind, id string) (*models.Record, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT payload, updated_at, synced FROM records WHERE kind = ? AND id = ?`, string(kind), id)

	rec := &models.Record{Kind: kind, ID: id}
	var payload sql.NullString
	var updatedAt string
	err := row.Scan(&payload, &updatedAt, &rec.Synced)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get record %s/%s: %w", kind, id, err)
	}
	if payload.Valid {
		rec.Payload = []byte(payload.String)
	}

	rec.UpdatedAt, err = time.Parse(time.RFC3339Nano, updatedAt)
	if err != nil {
		return nil, fmt.Errorf("get record %s/%s: %w", kind, id, err)
	}
	return rec, nil
}

// GetAll returns every cached record of the given kind. An empty table
// yields an empty slice.
func (s *Store) GetAll(ctx context.Context, kind models.Kind) ([]models.Record, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, payload, updated_at, synced FROM records WHERE kind = ? ORDER BY id`, string(kind))
	if err != nil {
		return nil, fmt.Errorf("get all %s: %w", kind, err)
	}
	defer rows.Close()

	var result []models.Record
	for rows.Next() {
		rec := models.Record{Kind: kind}
		var payload sql.NullString
		var updatedAt string
		if err := rows.Scan(&rec.ID, &payload, &updatedAt, &rec.Synced); err != nil {
			return nil, err
		}
		if payload.Valid {
			rec.Payload = []byte(payload.String)
		}
		rec.UpdatedAt, err = time.Parse(time.RFC3339Nano, updatedAt)
		if err != nil {
			return nil, err
		}
		result = append(result, rec)
	}

	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}

// Put upserts a record. With markSynced=true the record is stored as
// server-confirmed and the kind's last-sync time advances; with
// markSynced=false (optimistic local writes) the staleness clock is left
// untouched so a later online refresh still fires.
func (s *Store) Put(ctx context.Context, rec *models.Record, markSynced bool) error {
	return dbx.WithTx(ctx, s.db, nil, func(ctx context.Context, tx dbx.DBTX) error {
		if err := putRecord(ctx, tx, rec, markSynced); err != nil {
			return err
		}
		if markSynced {
			return setLastSyncTime(ctx, tx, rec.Kind, time.Now())
		}
		return nil
	})
}

// BulkPut upserts a batch of server-confirmed records in one transaction and
// advances the last-sync time for each kind present in the batch.
func (s *Store) BulkPut(ctx context.Context, recs []models.Record) error {
	if len(recs) == 0 {
		return nil
	}
	return dbx.WithTx(ctx, s.db, nil, func(ctx context.Context, tx dbx.DBTX) error {
		kinds := make(map[models.Kind]struct{})
		for i := range recs {
			if err := putRecord(ctx, tx, &recs[i], true); err != nil {
				return err
			}
			kinds[recs[i].Kind] = struct{}{}
		}
		now := time.Now()
		for kind := range kinds {
			if err := setLastSyncTime(ctx, tx, kind, now); err != nil {
				return err
			}
		}
		return nil
	})
}

func putRecord(ctx context.Context, tx dbx.DBTX, rec *models.Record, synced bool) error {
	updatedAt := rec.UpdatedAt
	if updatedAt.IsZero() {
		updatedAt = time.Now()
	}
	_, err := tx.ExecContext(ctx, `
		INSERT INTO records (kind, id, payload, updated_at, synced)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(kind, id) DO UPDATE SET
			payload = excluded.payload,
			updated_at = excluded.updated_at,
			synced = excluded.synced
	`, string(rec.Kind), rec.ID, string(rec.Payload), updatedAt.UTC().Format(time.RFC3339Nano), synced)
	if err != nil {
		return fmt.Errorf("put record %s/%s: %w", rec.Kind, rec.ID, err)
	}
	rec.Synced = synced
	return nil
}

// Delete removes a record. Deleting a missing key is a no-op.
func (s *Store) Delete(ctx context.Context, kind models.Kind, id string) error {
	_, err := s.db.ExecContext(ctx,
		`DELETE FROM records WHERE kind = ? AND id = ?`, string(kind), id)
	if err != nil {
		return fmt.Errorf("delete record %s/%s: %w", kind, id, err)
	}
	return nil
}

// RewriteID changes a record's id in place, patching the "id" field inside
// the payload as well. Used when the server confirms a CREATE and hands back
// the permanent id for a temporary one.
func (s *Store) RewriteID(ctx context.Context, kind models.Kind, oldID, newID string) error {
	return dbx.WithTx(ctx, s.db, nil, func(ctx context.Context, tx dbx.DBTX) error {
		var payload []byte
		err := tx.QueryRowContext(ctx,
			`SELECT payload FROM records WHERE kind = ? AND id = ?`, string(kind), oldID).Scan(&payload)
		if err == sql.ErrNoRows {
			return nil
		}
		if err != nil {
			return fmt.Errorf("rewrite id %s/%s: %w", kind, oldID, err)
		}

		patched, err := models.WithID(payload, newID)
		if err != nil {
			return fmt.Errorf("rewrite id %s/%s: %w", kind, oldID, err)
		}

		_, err = tx.ExecContext(ctx,
			`UPDATE records SET id = ?, payload = ? WHERE kind = ? AND id = ?`,
			newID, string(patched), string(kind), oldID)
		if err != nil {
			return fmt.Errorf("rewrite id %s/%s: %w", kind, oldID, err)
		}
		return nil
	})
}

// LastSyncTime returns the recorded last-sync time for a kind, with ok=false
// when the kind has never synced.
func (s *Store) LastSyncTime(ctx context.Context, kind models.Kind) (time.Time, bool, error) {
	var nanos int64
	err := s.db.QueryRowContext(ctx,
		`SELECT last_sync_time FROM sync_metadata WHERE kind = ?`, string(kind)).Scan(&nanos)
	if err == sql.ErrNoRows {
		return time.Time{}, false, nil
	}
	if err != nil {
		return time.Time{}, false, fmt.Errorf("last sync time %s: %w", kind, err)
	}
	return time.Unix(0, nanos), true, nil
}

// IsDataStale reports whether the kind's table is older than maxAge. A kind
// that has never synced is always stale.
func (s *Store) IsDataStale(ctx context.Context, kind models.Kind, maxAge time.Duration) (bool, error) {
	last, ok, err := s.LastSyncTime(ctx, kind)
	if err != nil {
		return false, err
	}
	if !ok {
		return true, nil
	}
	return time.Since(last) > maxAge, nil
}

// SetLastSyncTime stamps the kind's table as fresh as of now.
func (s *Store) SetLastSyncTime(ctx context.Context, kind models.Kind) error {
	return dbx.WithTx(ctx, s.db, nil, func(ctx context.Context, tx dbx.DBTX) error {
		return setLastSyncTime(ctx, tx, kind, time.Now())
	})
}

func setLastSyncTime(ctx context.Context, tx dbx.DBTX, kind models.Kind, t time.Time) error {
	_, err := tx.ExecContext(ctx, `
		INSERT INTO sync_metadata (kind, last_sync_time) VALUES (?, ?)
		ON CONFLICT(kind) DO UPDATE SET last_sync_time = excluded.last_sync_time
	`, string(kind), t.UnixNano())
	if err != nil {
		return fmt.Errorf("set last sync time %s: %w", kind, err)
	}
	return nil
}
