package cache

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/peerassess/fieldsync/internal/client/api"
	"github.com/peerassess/fieldsync/internal/client/models"
	"github.com/peerassess/fieldsync/internal/client/monitor"
	"github.com/peerassess/fieldsync/internal/client/store"
	"github.com/peerassess/fieldsync/internal/common"
	"github.com/stretchr/testify/require"

	_ "modernc.org/sqlite"
)

// fakeConn is a Connectivity with a settable state.
type fakeConn struct {
	mu     sync.Mutex
	online bool
	events chan monitor.Event
}

func newFakeConn(online bool) *fakeConn {
	return &fakeConn{online: online, events: make(chan monitor.Event, 16)}
}

func (c *fakeConn) Online() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.online
}

func (c *fakeConn) SetOnline(v bool) {
	c.mu.Lock()
	c.online = v
	c.mu.Unlock()
}

func (c *fakeConn) Subscribe() <-chan monitor.Event { return c.events }

// fakeAPI is an in-memory api.Client recording calls.
type fakeAPI struct {
	mu      sync.Mutex
	records map[string]models.Record // key kind/id
	err     error
	calls   []string
	nextID  int
}

func newFakeAPI() *fakeAPI {
	return &fakeAPI{records: make(map[string]models.Record)}
}

func (f *fakeAPI) key(kind models.Kind, id string) string { return string(kind) + "/" + id }

func (f *fakeAPI) put(rec models.Record) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.records[f.key(rec.Kind, rec.ID)] = rec
}

func (f *fakeAPI) fail(err error) {
	f.mu.Lock()
	f.err = err
	f.mu.Unlock()
}

func (f *fakeAPI) record(call string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, call)
	return f.err
}

func (f *fakeAPI) Ping(ctx context.Context) error { return f.record("ping") }

func (f *fakeAPI) Login(ctx context.Context, login, password string) error {
	return f.record("login")
}

func (f *fakeAPI) FetchOne(ctx context.Context, kind models.Kind, id string) (*models.Record, error) {
	if err := f.record("fetchOne " + f.key(kind, id)); err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	rec, ok := f.records[f.key(kind, id)]
	if !ok {
		return nil, fmt.Errorf("%w: %s/%s", common.ErrNotFound, kind, id)
	}
	return &rec, nil
}

func (f *fakeAPI) FetchAll(ctx context.Context, kind models.Kind, filter map[string]string) ([]models.Record, error) {
	if err := f.record("fetchAll " + string(kind)); err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []models.Record
	for _, rec := range f.records {
		if rec.Kind == kind {
			out = append(out, rec)
		}
	}
	return out, nil
}

func (f *fakeAPI) Create(ctx context.Context, kind models.Kind, idempotencyKey string, payload json.RawMessage) (*api.PushResult, error) {
	if err := f.record("create " + string(kind)); err != nil {
		return nil, err
	}
	f.mu.Lock()
	f.nextID++
	id := fmt.Sprintf("srv-%d", f.nextID)
	f.mu.Unlock()

	patched, err := models.WithID(payload, id)
	if err != nil {
		return nil, err
	}
	rec := models.Record{Kind: kind, ID: id, Payload: patched, UpdatedAt: time.Now(), Synced: true}
	f.put(rec)
	return &api.PushResult{Record: rec}, nil
}

func (f *fakeAPI) Update(ctx context.Context, kind models.Kind, id string, payload json.RawMessage) (*api.PushResult, error) {
	if err := f.record("update " + f.key(kind, id)); err != nil {
		return nil, err
	}
	rec := models.Record{Kind: kind, ID: id, Payload: payload, UpdatedAt: time.Now(), Synced: true}
	f.put(rec)
	return &api.PushResult{Record: rec}, nil
}

func (f *fakeAPI) Delete(ctx context.Context, kind models.Kind, id string) error {
	if err := f.record("delete " + f.key(kind, id)); err != nil {
		return err
	}
	f.mu.Lock()
	delete(f.records, f.key(kind, id))
	f.mu.Unlock()
	return nil
}

func (f *fakeAPI) MarkEvidenceUploaded(ctx context.Context, id string) error {
	return f.record("markUploaded " + id)
}

func (f *fakeAPI) Close() error { return nil }

func newTestStore(t *testing.T) (*store.Store, *store.Queue) {
	t.Helper()
	db, err := sql.Open("sqlite", ":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	require.NoError(t, store.RunMigrations(context.Background(), db))
	st := store.New(db)
	return st, store.NewQueue(db)
}
