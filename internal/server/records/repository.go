package records

import (
	"context"

	"github.com/peerassess/fieldsync/internal/server/models"
)

type Repository interface {
	Get(ctx context.Context, kind, id string) (*models.StoredRecord, error)
	// List returns records of a kind; filter keys are matched against
	// top-level payload fields.
	List(ctx context.Context, kind string, filter map[string]string) ([]models.StoredRecord, error)
	Upsert(ctx context.Context, rec *models.StoredRecord) error
	Delete(ctx context.Context, kind, id string) error

	// LookupIdempotency resolves a previously used create key to the
	// record id it produced. ok=false when the key is new.
	LookupIdempotency(ctx context.Context, key string) (recordID string, ok bool, err error)
	SaveIdempotency(ctx context.Context, key, kind, recordID string) error
}
