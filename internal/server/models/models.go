// Package models holds the server-side data model: users and the generic
// per-kind entity records the sync API serves.
package models

import (
	"encoding/json"
	"time"
)

type User struct {
	ID           string
	Login        string
	PasswordHash string
	CreatedAt    time.Time
}

// StoredRecord is one persisted entity. The payload is the full domain JSON;
// kind and id are first-class columns so records can be addressed and listed
// without parsing.
type StoredRecord struct {
	Kind      string
	ID        string
	Payload   json.RawMessage
	UpdatedAt time.Time
}
