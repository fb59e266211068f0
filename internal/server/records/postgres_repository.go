package records

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/peerassess/fieldsync/internal/common"
	"github.com/peerassess/fieldsync/internal/server/models"
)

type PostgresRepository struct {
	db *sql.DB
}

func NewPostgresRepository(db *sql.DB) *PostgresRepository {
	return &PostgresRepository{db: db}
}

func (r *PostgresRepository) Get(ctx context.Context, kind, id string) (*models.StoredRecord, error) {
	rec := &models.StoredRecord{Kind: kind, ID: id}

	err := r.db.QueryRowContext(ctx,
		`SELECT payload, updated_at FROM records WHERE kind = $1 AND id = $2`,
		kind, id).Scan(&rec.Payload, &rec.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, common.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get record %s/%s: %w", kind, id, err)
	}

	return rec, nil
}

func (r *PostgresRepository) List(ctx context.Context, kind string, filter map[string]string) ([]models.StoredRecord, error) {
	query := `SELECT id, payload, updated_at FROM records WHERE kind = $1`
	args := []any{kind}

	for k, v := range filter {
		query += fmt.Sprintf(" AND payload->>$%d = $%d", len(args)+1, len(args)+2)
		args = append(args, k, v)
	}
	query += ` ORDER BY id`

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list %s: %w", kind, err)
	}
	defer rows.Close()

	var result []models.StoredRecord
	for rows.Next() {
		rec := models.StoredRecord{Kind: kind}
		if err := rows.Scan(&rec.ID, &rec.Payload, &rec.UpdatedAt); err != nil {
			return nil, err
		}
		result = append(result, rec)
	}
	return result, rows.Err()
}

func (r *PostgresRepository) Upsert(ctx context.Context, rec *models.StoredRecord) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO records (kind, id, payload, updated_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (kind, id) DO UPDATE SET
			payload = EXCLUDED.payload,
			updated_at = EXCLUDED.updated_at
	`, rec.Kind, rec.ID, []byte(rec.Payload), rec.UpdatedAt)
	if err != nil {
		return fmt.Errorf("upsert record %s/%s: %w", rec.Kind, rec.ID, err)
	}
	return nil
}

func (r *PostgresRepository) Delete(ctx context.Context, kind, id string) error {
	res, err := r.db.ExecContext(ctx,
		`DELETE FROM records WHERE kind = $1 AND id = $2`, kind, id)
	if err != nil {
		return fmt.Errorf("delete record %s/%s: %w", kind, id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return common.ErrNotFound
	}
	return nil
}

func (r *PostgresRepository) LookupIdempotency(ctx context.Context, key string) (string, bool, error) {
	var recordID string
	err := r.db.QueryRowContext(ctx,
		`SELECT record_id FROM idempotency_keys WHERE key = $1`, key).Scan(&recordID)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("lookup idempotency key: %w", err)
	}
	return recordID, true, nil
}

func (r *PostgresRepository) SaveIdempotency(ctx context.Context, key, kind, recordID string) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO idempotency_keys (key, kind, record_id) VALUES ($1, $2, $3)
		ON CONFLICT (key) DO NOTHING
	`, key, kind, recordID)
	if err != nil {
		return fmt.Errorf("save idempotency key: %w", err)
	}
	return nil
}
