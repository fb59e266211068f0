// Package checklist implements the fieldwork checklist on top of the offline
// cache: item lifecycle, photo evidence capture with GPS metadata, and
// progress reporting. Evidence capture is strictly local-first; it never
// waits on the network.
package checklist

import (
	"context"
	"encoding/json"
	"fmt"
	"slices"
	"time"

	"github.com/peerassess/fieldsync/internal/client/cache"
	"github.com/peerassess/fieldsync/internal/client/models"
	"github.com/peerassess/fieldsync/internal/client/store"
	"github.com/peerassess/fieldsync/internal/common"
	"github.com/peerassess/fieldsync/internal/logging"
)

// ItemView is a checklist item together with its cache provenance, so the UI
// can badge pending-sync and stale items.
type ItemView struct {
	Item      models.ChecklistItem
	State     cache.State
	FromCache bool
	Stale     bool
}

// EvidenceInput is a photo captured on-device.
type EvidenceInput struct {
	DataURL    string
	FileName   string
	MimeType   string
	Size       int64
	Latitude   *float64
	Longitude  *float64
	CapturedAt time.Time
}

// Service coordinates checklist operations through the cache accessors.
type Service struct {
	reader *cache.Reader
	writer *cache.Writer
	store  *store.Store
	logger logging.Logger
}

func NewService(reader *cache.Reader, writer *cache.Writer, st *store.Store, logger logging.Logger) *Service {
	return &Service{reader: reader, writer: writer, store: st, logger: logger}
}

// InitializeChecklist seeds the local store with the server-authored items
// for a review entering fieldwork. Items originate server-side; the client
// only caches and mutates them. Categories that already have a local item
// are left untouched, so re-entering fieldwork never clobbers work in
// progress.
func (s *Service) InitializeChecklist(ctx context.Context, reviewID string, serverItems []models.ChecklistItem) ([]models.ChecklistItem, error) {
	existing, err := s.GetChecklist(ctx, reviewID)
	if err != nil && len(existing) == 0 {
		return nil, err
	}

	have := make(map[string]bool, len(existing))
	for _, v := range existing {
		have[v.Item.CategoryID] = true
	}

	var recs []models.Record
	var seeded []models.ChecklistItem
	for _, item := range serverItems {
		if item.ReviewID != reviewID || have[item.CategoryID] {
			continue
		}
		if item.Status == "" {
			item.Status = models.ItemNotStarted
		}
		if item.UpdatedAt.IsZero() {
			item.UpdatedAt = time.Now()
		}

		payload, err := json.Marshal(item)
		if err != nil {
			return nil, err
		}
		recs = append(recs, models.Record{
			Kind:      models.KindChecklistItem,
			ID:        item.ID,
			Payload:   payload,
			UpdatedAt: item.UpdatedAt,
		})
		seeded = append(seeded, item)
	}

	if len(recs) > 0 {
		if err := s.store.BulkPut(ctx, recs); err != nil {
			return nil, fmt.Errorf("initialize checklist: %w", err)
		}
	}

	s.logger.Info(ctx, "checklist seeded", "reviewId", reviewID, "items", len(seeded))
	return seeded, nil
}

// GetChecklist lists the review's items. The error may be non-nil alongside
// results when the server refresh failed and cached data was served instead.
func (s *Service) GetChecklist(ctx context.Context, reviewID string) ([]ItemView, error) {
	cached, fetchErr := s.reader.GetAll(ctx, models.KindChecklistItem, map[string]string{"reviewId": reviewID})
	if cached == nil && fetchErr != nil {
		return nil, fetchErr
	}

	views := make([]ItemView, 0, len(cached))
	for _, c := range cached {
		var item models.ChecklistItem
		if err := json.Unmarshal(c.Record.Payload, &item); err != nil {
			return nil, fmt.Errorf("decode checklist item %s: %w", c.Record.ID, err)
		}
		views = append(views, ItemView{Item: item, State: c.State, FromCache: c.FromCache, Stale: c.Stale})
	}
	return views, fetchErr
}

// UpdateItem changes an item's status and notes.
func (s *Service) UpdateItem(ctx context.Context, itemID string, status models.ItemStatus, notes string) (*models.ChecklistItem, error) {
	item, err := s.getItem(ctx, itemID)
	if err != nil {
		return nil, err
	}

	item.Status = status
	item.Notes = notes
	item.UpdatedAt = time.Now()
	return s.putItem(ctx, item)
}

// CompleteItem marks an item COMPLETED, stamping who finished it and when.
func (s *Service) CompleteItem(ctx context.Context, itemID, completedBy string) (*models.ChecklistItem, error) {
	item, err := s.getItem(ctx, itemID)
	if err != nil {
		return nil, err
	}

	now := time.Now()
	item.Status = models.ItemCompleted
	item.CompletedBy = completedBy
	item.CompletedAt = &now
	item.UpdatedAt = now
	return s.putItem(ctx, item)
}

// AddEvidence stores a captured photo locally and queues its upload. The
// returned evidence carries a temporary id until the sync engine confirms
// the create; the owning item's evidence list is updated in the local store
// only, since the server derives it from the evidence itself.
func (s *Service) AddEvidence(ctx context.Context, itemID string, input EvidenceInput) (*models.Evidence, error) {
	if input.DataURL == "" {
		return nil, fmt.Errorf("%w: evidence has no photo data", common.ErrRejected)
	}

	capturedAt := input.CapturedAt
	if capturedAt.IsZero() {
		capturedAt = time.Now()
	}

	ev := models.Evidence{
		ItemID:   itemID,
		Type:     models.EvidencePhoto,
		DataURL:  input.DataURL,
		FileName: input.FileName,
		MimeType: input.MimeType,
		Size:     input.Size,
		Metadata: models.EvidenceMetadata{
			Latitude:   input.Latitude,
			Longitude:  input.Longitude,
			CapturedAt: capturedAt,
		},
	}
	payload, err := json.Marshal(ev)
	if err != nil {
		return nil, err
	}

	cached, err := s.writer.CreateQueued(ctx, models.KindEvidence, payload)
	if err != nil {
		return nil, fmt.Errorf("add evidence: %w", err)
	}
	if err := json.Unmarshal(cached.Record.Payload, &ev); err != nil {
		return nil, err
	}

	if err := s.linkEvidence(ctx, itemID, ev.ID); err != nil {
		return nil, err
	}

	s.logger.Info(ctx, "evidence captured", "itemId", itemID, "evidenceId", ev.ID, "size", ev.Size)
	return &ev, nil
}

// RemoveEvidence detaches and deletes a photo. Evidence that never reached
// the server (temporary id with its create still queued) is simply discarded
// locally.
func (s *Service) RemoveEvidence(ctx context.Context, evidenceID string) error {
	rec, err := s.store.Get(ctx, models.KindEvidence, evidenceID)
	if err != nil {
		return err
	}
	if rec == nil {
		return fmt.Errorf("%w: evidence %s", common.ErrNotFound, evidenceID)
	}

	var ev models.Evidence
	if err := json.Unmarshal(rec.Payload, &ev); err != nil {
		return err
	}

	if err := s.writer.Delete(ctx, models.KindEvidence, evidenceID); err != nil {
		return err
	}
	return s.unlinkEvidence(ctx, ev.ItemID, evidenceID)
}

// GetProgress computes completion from the local snapshot. NOT_APPLICABLE
// items are excluded from the denominator; a checklist of only N/A items is
// 100% complete.
func (s *Service) GetProgress(ctx context.Context, reviewID string) (*models.Progress, error) {
	recs, err := s.store.GetAll(ctx, models.KindChecklistItem)
	if err != nil {
		return nil, err
	}

	var p models.Progress
	for _, rec := range recs {
		var item models.ChecklistItem
		if err := json.Unmarshal(rec.Payload, &item); err != nil {
			return nil, err
		}
		if item.ReviewID != reviewID || item.Status == models.ItemNotApplicable {
			continue
		}
		p.Total++
		if item.Status == models.ItemCompleted {
			p.Completed++
		}
	}

	if p.Total == 0 {
		p.Percentage = 100
	} else {
		p.Percentage = float64(p.Completed) / float64(p.Total) * 100
	}
	return &p, nil
}

// RelinkEvidence is the id-rewrite hook: when the sync engine swaps an
// evidence temporary id for the server id, the owning item's local evidence
// list follows.
func (s *Service) RelinkEvidence(ctx context.Context, kind models.Kind, oldID, newID string) error {
	if kind != models.KindEvidence {
		return nil
	}

	recs, err := s.store.GetAll(ctx, models.KindChecklistItem)
	if err != nil {
		return err
	}

	for _, rec := range recs {
		var item models.ChecklistItem
		if err := json.Unmarshal(rec.Payload, &item); err != nil {
			return err
		}
		i := slices.Index(item.EvidenceIDs, oldID)
		if i < 0 {
			continue
		}
		item.EvidenceIDs[i] = newID
		if err := s.storeItem(ctx, rec, item); err != nil {
			return err
		}
	}
	return nil
}

func (s *Service) getItem(ctx context.Context, itemID string) (*models.ChecklistItem, error) {
	// a fetch error with a cached copy present is the offline fallback; the
	// edit proceeds on the cached copy
	cached, err := s.reader.Get(ctx, models.KindChecklistItem, itemID)
	if cached == nil {
		if err != nil {
			return nil, err
		}
		return nil, fmt.Errorf("%w: checklist item %s", common.ErrNotFound, itemID)
	}

	var item models.ChecklistItem
	if err := json.Unmarshal(cached.Record.Payload, &item); err != nil {
		return nil, err
	}
	return &item, nil
}

func (s *Service) putItem(ctx context.Context, item *models.ChecklistItem) (*models.ChecklistItem, error) {
	payload, err := json.Marshal(item)
	if err != nil {
		return nil, err
	}

	cached, err := s.writer.Update(ctx, models.KindChecklistItem, item.ID, payload)
	if err != nil {
		return nil, err
	}

	var updated models.ChecklistItem
	if err := json.Unmarshal(cached.Record.Payload, &updated); err != nil {
		return nil, err
	}
	return &updated, nil
}

func (s *Service) linkEvidence(ctx context.Context, itemID, evidenceID string) error {
	return s.patchItemEvidence(ctx, itemID, func(ids []string) []string {
		if slices.Contains(ids, evidenceID) {
			return ids
		}
		return append(ids, evidenceID)
	})
}

func (s *Service) unlinkEvidence(ctx context.Context, itemID, evidenceID string) error {
	return s.patchItemEvidence(ctx, itemID, func(ids []string) []string {
		return slices.DeleteFunc(ids, func(id string) bool { return id == evidenceID })
	})
}

// patchItemEvidence edits an item's evidence list in the local store without
// queueing a mutation: the list is derived server-side from the evidence
// records themselves.
func (s *Service) patchItemEvidence(ctx context.Context, itemID string, edit func([]string) []string) error {
	rec, err := s.store.Get(ctx, models.KindChecklistItem, itemID)
	if err != nil {
		return err
	}
	if rec == nil {
		return fmt.Errorf("%w: checklist item %s", common.ErrNotFound, itemID)
	}

	var item models.ChecklistItem
	if err := json.Unmarshal(rec.Payload, &item); err != nil {
		return err
	}
	item.EvidenceIDs = edit(item.EvidenceIDs)
	return s.storeItem(ctx, *rec, item)
}

func (s *Service) storeItem(ctx context.Context, rec models.Record, item models.ChecklistItem) error {
	payload, err := json.Marshal(item)
	if err != nil {
		return err
	}
	rec.Payload = payload
	return s.store.Put(ctx, &rec, rec.Synced)
}
