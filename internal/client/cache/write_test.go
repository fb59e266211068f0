package cache

import (
	"context"
	"testing"

	"github.com/peerassess/fieldsync/internal/client/models"
	"github.com/peerassess/fieldsync/internal/common"
	"github.com/peerassess/fieldsync/internal/logging"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWriterCreateOnline(t *testing.T) {
	st, q := newTestStore(t)
	remote := newFakeAPI()
	w := NewWriter(st, q, remote, newFakeConn(true), logging.Discard())

	got, err := w.Create(context.Background(), models.KindFinding, []byte(`{"severity":"high"}`))
	require.NoError(t, err)
	assert.Equal(t, "srv-1", got.Record.ID)
	assert.Equal(t, Confirmed, got.State)
	assert.False(t, got.FromCache)

	// nothing queued, record cached as confirmed
	n, err := q.Count(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, n)

	rec, err := st.Get(context.Background(), models.KindFinding, "srv-1")
	require.NoError(t, err)
	require.NotNil(t, rec)
	assert.True(t, rec.Synced)
}

func TestWriterCreateOffline(t *testing.T) {
	st, q := newTestStore(t)
	var woken bool
	w := NewWriter(st, q, newFakeAPI(), newFakeConn(false), logging.Discard())
	w.SetWake(func() { woken = true })

	got, err := w.Create(context.Background(), models.KindFinding, []byte(`{"severity":"high"}`))
	require.NoError(t, err)
	assert.True(t, models.IsTempID(got.Record.ID))
	assert.Equal(t, Optimistic, got.State)
	assert.True(t, got.FromCache)
	assert.True(t, woken)

	entries, err := q.All(context.Background())
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, models.ActionCreate, entries[0].Action)
	assert.Equal(t, got.Record.ID, entries[0].EntityID)
}

func TestWriterCreateOnlineFailureNotQueued(t *testing.T) {
	st, q := newTestStore(t)
	remote := newFakeAPI()
	remote.fail(common.ErrRejected)
	w := NewWriter(st, q, remote, newFakeConn(true), logging.Discard())

	_, err := w.Create(context.Background(), models.KindFinding, []byte(`{}`))
	assert.ErrorIs(t, err, common.ErrRejected)

	n, err := q.Count(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, n)
}

func TestWriterCreateQueuedIgnoresConnectivity(t *testing.T) {
	st, q := newTestStore(t)
	remote := newFakeAPI()
	w := NewWriter(st, q, remote, newFakeConn(true), logging.Discard())

	got, err := w.CreateQueued(context.Background(), models.KindEvidence, []byte(`{"fileName":"door.jpg"}`))
	require.NoError(t, err)
	assert.True(t, models.IsTempID(got.Record.ID))

	// online, yet no direct call was made
	assert.Empty(t, remote.calls)

	entries, err := q.All(context.Background())
	require.NoError(t, err)
	require.Len(t, entries, 1)
}

func TestWriterUpdateOffline(t *testing.T) {
	st, q := newTestStore(t)
	w := NewWriter(st, q, newFakeAPI(), newFakeConn(false), logging.Discard())

	got, err := w.Update(context.Background(), models.KindReview, "r1", []byte(`{"id":"r1","title":"v2"}`))
	require.NoError(t, err)
	assert.Equal(t, Optimistic, got.State)

	rec, err := st.Get(context.Background(), models.KindReview, "r1")
	require.NoError(t, err)
	assert.False(t, rec.Synced)
}

func TestWriterUpdateTempIDQueuesEvenOnline(t *testing.T) {
	st, q := newTestStore(t)
	remote := newFakeAPI()
	w := NewWriter(st, q, remote, newFakeConn(true), logging.Discard())

	tmp := models.NewTempID()
	_, err := w.Update(context.Background(), models.KindFinding, tmp, []byte(`{"id":"`+tmp+`"}`))
	require.NoError(t, err)

	// the update must wait behind the entity's pending CREATE
	assert.Empty(t, remote.calls)
	entries, err := q.All(context.Background())
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, models.ActionUpdate, entries[0].Action)
}

func TestWriterDeleteTempCancelsCreate(t *testing.T) {
	st, q := newTestStore(t)
	w := NewWriter(st, q, newFakeAPI(), newFakeConn(false), logging.Discard())

	got, err := w.Create(context.Background(), models.KindEvidence, []byte(`{}`))
	require.NoError(t, err)

	require.NoError(t, w.Delete(context.Background(), models.KindEvidence, got.Record.ID))

	n, err := q.Count(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, n)

	rec, err := st.Get(context.Background(), models.KindEvidence, got.Record.ID)
	require.NoError(t, err)
	assert.Nil(t, rec)
}

func TestWriterDeleteOffline(t *testing.T) {
	st, q := newTestStore(t)
	require.NoError(t, st.Put(context.Background(), &models.Record{
		Kind: models.KindCAP, ID: "c1", Payload: []byte(`{"id":"c1"}`),
	}, true))

	w := NewWriter(st, q, newFakeAPI(), newFakeConn(false), logging.Discard())
	require.NoError(t, w.Delete(context.Background(), models.KindCAP, "c1"))

	rec, err := st.Get(context.Background(), models.KindCAP, "c1")
	require.NoError(t, err)
	assert.Nil(t, rec)

	entries, err := q.All(context.Background())
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, models.ActionDelete, entries[0].Action)
}
