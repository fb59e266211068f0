// Package api defines the remote API surface the sync layer depends on, plus
// an HTTP implementation of it. The cache and sync engine only see the Client
// interface, so tests substitute fakes and the transport can change without
// touching them.
package api

import (
	"context"
	"encoding/json"

	"github.com/peerassess/fieldsync/internal/client/models"
)

// PushResult is the server's answer to a confirmed mutation. Record carries
// the authoritative copy (with the permanent id on CREATE). UploadURL is set
// on evidence CREATEs: a presigned PUT target for the photo blob.
type PushResult struct {
	Record    models.Record
	UploadURL string
}

// Client is the remote API as seen by the offline layer. Implementations
// translate transport failures into the sentinel errors in internal/common:
// ErrUnavailable for anything retryable, ErrRejected for mutations the server
// will never accept, ErrUnauthorized when the session is no longer valid.
type Client interface {
	// Ping is a lightweight health probe used by the connectivity monitor.
	Ping(ctx context.Context) error

	// Login exchanges credentials for a bearer token. The token is kept by
	// the client and attached to every subsequent call.
	Login(ctx context.Context, login, password string) error

	FetchOne(ctx context.Context, kind models.Kind, id string) (*models.Record, error)

	// FetchAll lists records of a kind, optionally filtered by indexed
	// fields (e.g. reviewId for checklist items).
	FetchAll(ctx context.Context, kind models.Kind, filter map[string]string) ([]models.Record, error)

	// Create pushes a new entity. idempotencyKey makes retries safe: the
	// server returns the previously created record instead of duplicating.
	Create(ctx context.Context, kind models.Kind, idempotencyKey string, payload json.RawMessage) (*PushResult, error)

	Update(ctx context.Context, kind models.Kind, id string, payload json.RawMessage) (*PushResult, error)

	Delete(ctx context.Context, kind models.Kind, id string) error

	// MarkEvidenceUploaded confirms the blob behind an evidence record landed
	// at its presigned URL.
	MarkEvidenceUploaded(ctx context.Context, id string) error

	Close() error
}
