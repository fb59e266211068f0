// Package models defines the client-side data model for the offline cache:
// generic entity records, sync-queue entries, and the fieldwork checklist
// types built on top of them.
package models

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Kind names one entity-type table in the local store.
type Kind string

const (
	KindReview        Kind = "reviews"
	KindFinding       Kind = "findings"
	KindCAP           Kind = "caps"
	KindChecklistItem Kind = "checklist_items"
	KindEvidence      Kind = "evidence"
)

// Kinds lists every entity kind the cache layer knows about.
var Kinds = []Kind{KindReview, KindFinding, KindCAP, KindChecklistItem, KindEvidence}

// TempIDPrefix marks client-generated ids awaiting server confirmation.
// The sync engine rewrites them to server ids once the CREATE round-trips.
const TempIDPrefix = "tmp-"

// NewTempID returns a fresh client-side temporary id.
func NewTempID() string {
	return TempIDPrefix + uuid.NewString()
}

// IsTempID reports whether id was generated locally and is not yet
// server-confirmed.
func IsTempID(id string) bool {
	return strings.HasPrefix(id, TempIDPrefix)
}

// Record is one cached domain entity. Payload holds the full domain JSON
// (including its "id" field); Kind and ID are duplicated as columns so the
// store can address records without parsing payloads.
//
// Synced reports whether this copy completed a server round trip. A record
// with Synced=false is an optimistic local write.
type Record struct {
	Kind      Kind
	ID        string
	Payload   json.RawMessage
	UpdatedAt time.Time
	Synced    bool
}

// WithID returns a copy of payload with its "id" field set to id. Used when
// assigning temporary ids to offline creates and when rewriting temporary
// ids to server ids.
func WithID(payload json.RawMessage, id string) (json.RawMessage, error) {
	var m map[string]any
	if err := json.Unmarshal(payload, &m); err != nil {
		return nil, fmt.Errorf("patch payload id: %w", err)
	}
	m["id"] = id
	out, err := json.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("patch payload id: %w", err)
	}
	return out, nil
}

// Action is the mutation verb carried by a queue entry.
type Action string

const (
	ActionCreate Action = "CREATE"
	ActionUpdate Action = "UPDATE"
	ActionDelete Action = "DELETE"
)

// QueueStatus is the sync-queue entry state machine:
// PENDING → IN_FLIGHT → (removed on success) | FAILED → PENDING on manual retry.
type QueueStatus string

const (
	StatusPending  QueueStatus = "PENDING"
	StatusInFlight QueueStatus = "IN_FLIGHT"
	StatusFailed   QueueStatus = "FAILED"
)

// QueueEntry is one durable pending mutation.
type QueueEntry struct {
	ID          string
	Action      Action
	Kind        Kind
	EntityID    string
	Payload     json.RawMessage
	Attempts    int
	LastError   string
	Status      QueueStatus
	CreatedAt   time.Time
	NextRetryAt time.Time
}
