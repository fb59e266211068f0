// Package records implements the generic entity API behind the sync
// protocol: idempotent creates, last-write-wins updates with conflict
// surfacing, and the evidence blob hand-off via presigned URLs.
package records

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/peerassess/fieldsync/internal/common"
	"github.com/peerassess/fieldsync/internal/logging"
	"github.com/peerassess/fieldsync/internal/server/models"
)

// KindEvidence triggers the blob hand-off on create.
const KindEvidence = "evidence"

// BlobSigner issues presigned URLs for evidence blobs. PresignPut signs the
// given key so a replayed create can re-sign the key its record already
// holds.
type BlobSigner interface {
	NewStorageKey() string
	PresignPut(ctx context.Context, key string) (string, error)
	PresignGet(ctx context.Context, key string) (string, error)
}

// Notifier pushes change notifications to connected clients.
type Notifier interface {
	Broadcast(kind, id string)
}

type Service struct {
	repo     Repository
	blobs    BlobSigner
	notifier Notifier
	logger   logging.Logger
}

func NewService(repo Repository, blobs BlobSigner, notifier Notifier, logger logging.Logger) *Service {
	return &Service{repo: repo, blobs: blobs, notifier: notifier, logger: logger}
}

// CreateResult is a confirmed create: the authoritative record plus, for
// evidence, the presigned URL the client must PUT the blob to.
type CreateResult struct {
	Record    models.StoredRecord
	UploadURL string
}

// Create stores a new record under a fresh server id. A replay with a known
// idempotency key returns the originally created record instead of
// duplicating; for evidence, the replay re-signs the upload URL so an
// interrupted upload can finish.
func (s *Service) Create(ctx context.Context, kind, idempotencyKey string, payload json.RawMessage) (*CreateResult, error) {
	if idempotencyKey != "" {
		existingID, ok, err := s.repo.LookupIdempotency(ctx, idempotencyKey)
		if err != nil {
			return nil, err
		}
		if ok {
			return s.replayCreate(ctx, kind, existingID)
		}
	}

	fields, err := decodePayload(payload)
	if err != nil {
		return nil, err
	}

	id := uuid.NewString()
	fields["id"] = id

	var uploadURL string
	if kind == KindEvidence {
		key := s.blobs.NewStorageKey()
		url, err := s.blobs.PresignPut(ctx, key)
		if err != nil {
			return nil, fmt.Errorf("presign upload: %w", err)
		}
		fields["storageKey"] = key
		fields["uploaded"] = false
		uploadURL = url
	}

	rec, err := s.store(ctx, kind, id, fields)
	if err != nil {
		return nil, err
	}

	if idempotencyKey != "" {
		if err := s.repo.SaveIdempotency(ctx, idempotencyKey, kind, id); err != nil {
			return nil, err
		}
	}

	s.notifier.Broadcast(kind, id)
	s.logger.Info(ctx, "record created", "kind", kind, "id", id)
	return &CreateResult{Record: *rec, UploadURL: uploadURL}, nil
}

func (s *Service) replayCreate(ctx context.Context, kind, id string) (*CreateResult, error) {
	rec, err := s.repo.Get(ctx, kind, id)
	if err != nil {
		return nil, err
	}

	res := &CreateResult{Record: *rec}
	if kind == KindEvidence {
		fields, err := decodePayload(rec.Payload)
		if err != nil {
			return nil, err
		}
		// re-sign the key the record already holds, only while the blob has
		// not landed yet; minting a fresh key here would strand the upload at
		// a key nothing references
		if uploaded, _ := fields["uploaded"].(bool); !uploaded {
			key, _ := fields["storageKey"].(string)
			if key == "" {
				return nil, fmt.Errorf("%w: evidence %s has no storage key", common.ErrRejected, id)
			}
			url, err := s.blobs.PresignPut(ctx, key)
			if err != nil {
				return nil, fmt.Errorf("presign upload: %w", err)
			}
			res.UploadURL = url
		}
	}
	return res, nil
}

// Update overwrites a record, last write wins by the client-side updatedAt
// timestamp. An update older than the stored copy is rejected so the client
// can surface the conflict instead of silently clobbering newer data.
func (s *Service) Update(ctx context.Context, kind, id string, payload json.RawMessage) (*models.StoredRecord, error) {
	existing, err := s.repo.Get(ctx, kind, id)
	if err != nil {
		return nil, err
	}

	if incoming, ok := payloadTime(payload); ok {
		if stored, ok := payloadTime(existing.Payload); ok && incoming.Before(stored) {
			return nil, fmt.Errorf("%w: record %s/%s changed at %s, update is from %s",
				common.ErrRejected, kind, id, stored.Format(time.RFC3339), incoming.Format(time.RFC3339))
		}
	}

	fields, err := decodePayload(payload)
	if err != nil {
		return nil, err
	}
	fields["id"] = id

	rec, err := s.store(ctx, kind, id, fields)
	if err != nil {
		return nil, err
	}

	s.notifier.Broadcast(kind, id)
	return rec, nil
}

func (s *Service) Delete(ctx context.Context, kind, id string) error {
	if err := s.repo.Delete(ctx, kind, id); err != nil {
		return err
	}
	s.notifier.Broadcast(kind, id)
	return nil
}

func (s *Service) Get(ctx context.Context, kind, id string) (*models.StoredRecord, error) {
	return s.repo.Get(ctx, kind, id)
}

func (s *Service) List(ctx context.Context, kind string, filter map[string]string) ([]models.StoredRecord, error) {
	return s.repo.List(ctx, kind, filter)
}

// MarkEvidenceUploaded flips the uploaded flag once the client confirms the
// blob landed at its presigned URL.
func (s *Service) MarkEvidenceUploaded(ctx context.Context, id string) error {
	rec, err := s.repo.Get(ctx, KindEvidence, id)
	if err != nil {
		return err
	}

	fields, err := decodePayload(rec.Payload)
	if err != nil {
		return err
	}
	fields["uploaded"] = true

	if _, err := s.store(ctx, KindEvidence, id, fields); err != nil {
		return err
	}
	s.notifier.Broadcast(KindEvidence, id)
	return nil
}

// EvidenceDownloadURL presigns a GET for a stored blob.
func (s *Service) EvidenceDownloadURL(ctx context.Context, id string) (string, error) {
	rec, err := s.repo.Get(ctx, KindEvidence, id)
	if err != nil {
		return "", err
	}

	fields, err := decodePayload(rec.Payload)
	if err != nil {
		return "", err
	}
	key, _ := fields["storageKey"].(string)
	if key == "" {
		return "", fmt.Errorf("%w: evidence %s has no blob", common.ErrNotFound, id)
	}

	return s.blobs.PresignGet(ctx, key)
}

// store persists the record. The client-supplied updatedAt is kept when
// present: it is the LWW ordering timestamp, and overwriting it with server
// time would make every replayed offline mutation look stale.
func (s *Service) store(ctx context.Context, kind, id string, fields map[string]any) (*models.StoredRecord, error) {
	now := time.Now().UTC()
	if _, ok := fields["updatedAt"]; !ok {
		fields["updatedAt"] = now.Format(time.RFC3339Nano)
	}

	payload, err := json.Marshal(fields)
	if err != nil {
		return nil, err
	}

	rec := &models.StoredRecord{Kind: kind, ID: id, Payload: payload, UpdatedAt: now}
	if err := s.repo.Upsert(ctx, rec); err != nil {
		return nil, err
	}
	return rec, nil
}

func decodePayload(payload json.RawMessage) (map[string]any, error) {
	var fields map[string]any
	if err := json.Unmarshal(payload, &fields); err != nil {
		return nil, fmt.Errorf("%w: malformed payload: %v", common.ErrRejected, err)
	}
	return fields, nil
}

func payloadTime(payload json.RawMessage) (time.Time, bool) {
	var holder struct {
		UpdatedAt time.Time `json:"updatedAt"`
	}
	if err := json.Unmarshal(payload, &holder); err != nil || holder.UpdatedAt.IsZero() {
		return time.Time{}, false
	}
	return holder.UpdatedAt, true
}
