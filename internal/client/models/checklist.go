package models

import "time"

// ItemStatus is the lifecycle state of a checklist item.
type ItemStatus string

const (
	ItemNotStarted    ItemStatus = "NOT_STARTED"
	ItemInProgress    ItemStatus = "IN_PROGRESS"
	ItemCompleted     ItemStatus = "COMPLETED"
	ItemNotApplicable ItemStatus = "NOT_APPLICABLE"
)

// ChecklistItem is one fieldwork checklist entry. Items are created
// server-side when a review enters fieldwork and are only ever mutated, not
// deleted, by the client.
type ChecklistItem struct {
	ID          string     `json:"id"`
	ReviewID    string     `json:"reviewId"`
	CategoryID  string     `json:"categoryId"`
	Status      ItemStatus `json:"status"`
	Notes       string     `json:"notes,omitempty"`
	EvidenceIDs []string   `json:"evidenceIds,omitempty"`
	CompletedBy string     `json:"completedBy,omitempty"`
	CompletedAt *time.Time `json:"completedAt,omitempty"`
	UpdatedAt   time.Time  `json:"updatedAt"`
}

// EvidenceType currently only covers photos; the wire field exists so other
// capture types can be added without a schema change.
type EvidenceType string

const EvidencePhoto EvidenceType = "PHOTO"

// EvidenceMetadata carries the capture context recorded on-device.
type EvidenceMetadata struct {
	Latitude   *float64  `json:"latitude,omitempty"`
	Longitude  *float64  `json:"longitude,omitempty"`
	CapturedAt time.Time `json:"capturedAt"`
}

// Evidence is a photo attachment owned by a checklist item. DataURL holds
// the locally-encoded binary payload until the blob is uploaded; it is
// stripped from payloads sent to the API (the blob travels via a presigned
// URL instead).
type Evidence struct {
	ID       string           `json:"id"`
	ItemID   string           `json:"itemId"`
	Type     EvidenceType     `json:"type"`
	DataURL  string           `json:"dataUrl,omitempty"`
	FileName string           `json:"fileName"`
	MimeType string           `json:"mimeType"`
	Size     int64            `json:"size"`
	Metadata EvidenceMetadata `json:"metadata"`
}

// Progress summarizes checklist completion, computed purely from the local
// store snapshot.
type Progress struct {
	Total      int     `json:"total"`
	Completed  int     `json:"completed"`
	Percentage float64 `json:"percentage"`
}
