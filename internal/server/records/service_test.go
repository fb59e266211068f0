package records

import (
	"context"
	"encoding/json"
	"fmt"
	"testing"
	"time"

	"github.com/peerassess/fieldsync/internal/common"
	"github.com/peerassess/fieldsync/internal/logging"
	"github.com/peerassess/fieldsync/internal/server/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type memoryRepo struct {
	recs map[string]*models.StoredRecord
	keys map[string]string
}

func newMemoryRepo() *memoryRepo {
	return &memoryRepo{
		recs: make(map[string]*models.StoredRecord),
		keys: make(map[string]string),
	}
}

func recKey(kind, id string) string { return kind + "/" + id }

func (m *memoryRepo) Get(ctx context.Context, kind, id string) (*models.StoredRecord, error) {
	rec, ok := m.recs[recKey(kind, id)]
	if !ok {
		return nil, common.ErrNotFound
	}
	cp := *rec
	return &cp, nil
}

func (m *memoryRepo) List(ctx context.Context, kind string, filter map[string]string) ([]models.StoredRecord, error) {
	var out []models.StoredRecord
	for _, rec := range m.recs {
		if rec.Kind != kind {
			continue
		}
		var fields map[string]any
		if err := json.Unmarshal(rec.Payload, &fields); err != nil {
			return nil, err
		}
		match := true
		for k, v := range filter {
			if fmt.Sprintf("%v", fields[k]) != v {
				match = false
				break
			}
		}
		if match {
			out = append(out, *rec)
		}
	}
	return out, nil
}

func (m *memoryRepo) Upsert(ctx context.Context, rec *models.StoredRecord) error {
	cp := *rec
	m.recs[recKey(rec.Kind, rec.ID)] = &cp
	return nil
}

func (m *memoryRepo) Delete(ctx context.Context, kind, id string) error {
	if _, ok := m.recs[recKey(kind, id)]; !ok {
		return common.ErrNotFound
	}
	delete(m.recs, recKey(kind, id))
	return nil
}

func (m *memoryRepo) LookupIdempotency(ctx context.Context, key string) (string, bool, error) {
	id, ok := m.keys[key]
	return id, ok, nil
}

func (m *memoryRepo) SaveIdempotency(ctx context.Context, key, kind, recordID string) error {
	m.keys[key] = recordID
	return nil
}

type fakeSigner struct {
	keys int
	puts []string
}

func (f *fakeSigner) NewStorageKey() string {
	f.keys++
	return fmt.Sprintf("evidence/key-%d", f.keys)
}

func (f *fakeSigner) PresignPut(ctx context.Context, key string) (string, error) {
	f.puts = append(f.puts, key)
	return "https://blobs.test/put/" + key, nil
}

func (f *fakeSigner) PresignGet(ctx context.Context, key string) (string, error) {
	return "https://blobs.test/get/" + key, nil
}

type fakeNotifier struct {
	notes []string
}

func (f *fakeNotifier) Broadcast(kind, id string) {
	f.notes = append(f.notes, kind+"/"+id)
}

func newTestService() (*Service, *memoryRepo, *fakeSigner, *fakeNotifier) {
	repo := newMemoryRepo()
	signer := &fakeSigner{}
	notifier := &fakeNotifier{}
	return NewService(repo, signer, notifier, logging.Discard()), repo, signer, notifier
}

func payloadFields(t *testing.T, payload json.RawMessage) map[string]any {
	t.Helper()
	var fields map[string]any
	require.NoError(t, json.Unmarshal(payload, &fields))
	return fields
}

func TestCreateAssignsServerID(t *testing.T) {
	svc, _, _, notifier := newTestService()
	ctx := context.Background()

	res, err := svc.Create(ctx, "findings", "tmp-abc", json.RawMessage(`{"id":"tmp-abc","title":"broken gauge"}`))
	require.NoError(t, err)

	fields := payloadFields(t, res.Record.Payload)
	assert.NotEqual(t, "tmp-abc", fields["id"])
	assert.NotEmpty(t, fields["id"])
	assert.Equal(t, "broken gauge", fields["title"])
	assert.Empty(t, res.UploadURL)
	assert.Len(t, notifier.notes, 1)
}

func TestCreateIdempotentReplay(t *testing.T) {
	svc, _, _, _ := newTestService()
	ctx := context.Background()

	first, err := svc.Create(ctx, "findings", "tmp-abc", json.RawMessage(`{"title":"one"}`))
	require.NoError(t, err)

	second, err := svc.Create(ctx, "findings", "tmp-abc", json.RawMessage(`{"title":"one"}`))
	require.NoError(t, err)

	assert.Equal(t, first.Record.ID, second.Record.ID)
}

func TestCreateEvidencePresignsUpload(t *testing.T) {
	svc, _, signer, _ := newTestService()
	ctx := context.Background()

	res, err := svc.Create(ctx, "evidence", "tmp-ev", json.RawMessage(`{"itemId":"item-1","mimeType":"image/jpeg"}`))
	require.NoError(t, err)

	assert.Equal(t, "https://blobs.test/put/evidence/key-1", res.UploadURL)
	assert.Equal(t, []string{"evidence/key-1"}, signer.puts)

	fields := payloadFields(t, res.Record.Payload)
	assert.Equal(t, "evidence/key-1", fields["storageKey"])
	assert.Equal(t, false, fields["uploaded"])
}

func TestCreateEvidenceReplayResignsUntilUploaded(t *testing.T) {
	svc, _, signer, _ := newTestService()
	ctx := context.Background()

	first, err := svc.Create(ctx, "evidence", "tmp-ev", json.RawMessage(`{"itemId":"item-1"}`))
	require.NoError(t, err)

	replay, err := svc.Create(ctx, "evidence", "tmp-ev", json.RawMessage(`{"itemId":"item-1"}`))
	require.NoError(t, err)
	assert.Equal(t, first.Record.ID, replay.Record.ID)
	assert.Equal(t, first.UploadURL, replay.UploadURL, "replay must re-sign the original key")
	assert.Equal(t, []string{"evidence/key-1", "evidence/key-1"}, signer.puts,
		"a fresh key on replay would strand the upload")

	require.NoError(t, svc.MarkEvidenceUploaded(ctx, first.Record.ID))

	after, err := svc.Create(ctx, "evidence", "tmp-ev", json.RawMessage(`{"itemId":"item-1"}`))
	require.NoError(t, err)
	assert.Empty(t, after.UploadURL)
	assert.Len(t, signer.puts, 2)
}

func TestUpdateLastWriteWins(t *testing.T) {
	svc, _, _, _ := newTestService()
	ctx := context.Background()

	newer := time.Now().UTC()
	older := newer.Add(-time.Hour)

	res, err := svc.Create(ctx, "findings", "", mustPayload(t, map[string]any{"title": "v1", "updatedAt": older.Format(time.RFC3339Nano)}))
	require.NoError(t, err)
	id := res.Record.ID

	updated, err := svc.Update(ctx, "findings", id, mustPayload(t, map[string]any{"title": "v2", "updatedAt": newer.Format(time.RFC3339Nano)}))
	require.NoError(t, err)
	assert.Equal(t, "v2", payloadFields(t, updated.Payload)["title"])

	_, err = svc.Update(ctx, "findings", id, mustPayload(t, map[string]any{"title": "stale", "updatedAt": older.Format(time.RFC3339Nano)}))
	require.ErrorIs(t, err, common.ErrRejected)

	rec, err := svc.Get(ctx, "findings", id)
	require.NoError(t, err)
	assert.Equal(t, "v2", payloadFields(t, rec.Payload)["title"], "stale update must not clobber")
}

func TestUpdatePreservesClientTimestamp(t *testing.T) {
	svc, _, _, _ := newTestService()
	ctx := context.Background()

	stamp := time.Now().UTC().Add(-30 * time.Minute).Format(time.RFC3339Nano)
	res, err := svc.Create(ctx, "reviews", "", mustPayload(t, map[string]any{"name": "Q3", "updatedAt": stamp}))
	require.NoError(t, err)

	assert.Equal(t, stamp, payloadFields(t, res.Record.Payload)["updatedAt"])
}

func TestUpdateMissingRecord(t *testing.T) {
	svc, _, _, _ := newTestService()

	_, err := svc.Update(context.Background(), "findings", "nope", json.RawMessage(`{"title":"x"}`))
	assert.ErrorIs(t, err, common.ErrNotFound)
}

func TestCreateMalformedPayload(t *testing.T) {
	svc, _, _, _ := newTestService()

	_, err := svc.Create(context.Background(), "findings", "", json.RawMessage(`not json`))
	assert.ErrorIs(t, err, common.ErrRejected)
}

func TestEvidenceDownloadURL(t *testing.T) {
	svc, _, _, _ := newTestService()
	ctx := context.Background()

	res, err := svc.Create(ctx, "evidence", "", json.RawMessage(`{"itemId":"item-1"}`))
	require.NoError(t, err)

	url, err := svc.EvidenceDownloadURL(ctx, res.Record.ID)
	require.NoError(t, err)
	assert.Equal(t, "https://blobs.test/get/evidence/key-1", url)
}

func TestDeleteBroadcasts(t *testing.T) {
	svc, _, _, notifier := newTestService()
	ctx := context.Background()

	res, err := svc.Create(ctx, "caps", "", json.RawMessage(`{"summary":"fix it"}`))
	require.NoError(t, err)

	require.NoError(t, svc.Delete(ctx, "caps", res.Record.ID))
	assert.Contains(t, notifier.notes, "caps/"+res.Record.ID)

	_, err = svc.Get(ctx, "caps", res.Record.ID)
	assert.ErrorIs(t, err, common.ErrNotFound)
}

func mustPayload(t *testing.T, fields map[string]any) json.RawMessage {
	t.Helper()
	data, err := json.Marshal(fields)
	require.NoError(t, err)
	return data
}
