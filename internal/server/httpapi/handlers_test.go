package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/peerassess/fieldsync/internal/common"
	"github.com/peerassess/fieldsync/internal/logging"
	"github.com/peerassess/fieldsync/internal/server/config"
	"github.com/peerassess/fieldsync/internal/server/models"
	"github.com/peerassess/fieldsync/internal/server/records"
	"github.com/peerassess/fieldsync/internal/server/users"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type memoryUserRepo struct {
	byLogin map[string]*models.User
}

func (m *memoryUserRepo) Create(ctx context.Context, login, passwordHash string) (*models.User, error) {
	user := &models.User{ID: fmt.Sprintf("user-%d", len(m.byLogin)+1), Login: login, PasswordHash: passwordHash, CreatedAt: time.Now()}
	m.byLogin[login] = user
	return user, nil
}

func (m *memoryUserRepo) GetByLogin(ctx context.Context, login string) (*models.User, error) {
	user, ok := m.byLogin[login]
	if !ok {
		return nil, common.ErrNotFound
	}
	return user, nil
}

type memoryRecordRepo struct {
	recs map[string]*models.StoredRecord
	keys map[string]string
}

func (m *memoryRecordRepo) Get(ctx context.Context, kind, id string) (*models.StoredRecord, error) {
	rec, ok := m.recs[kind+"/"+id]
	if !ok {
		return nil, common.ErrNotFound
	}
	cp := *rec
	return &cp, nil
}

func (m *memoryRecordRepo) List(ctx context.Context, kind string, filter map[string]string) ([]models.StoredRecord, error) {
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

func (m *memoryRecordRepo) Upsert(ctx context.Context, rec *models.StoredRecord) error {
	cp := *rec
	m.recs[rec.Kind+"/"+rec.ID] = &cp
	return nil
}

func (m *memoryRecordRepo) Delete(ctx context.Context, kind, id string) error {
	if _, ok := m.recs[kind+"/"+id]; !ok {
		return common.ErrNotFound
	}
	delete(m.recs, kind+"/"+id)
	return nil
}

func (m *memoryRecordRepo) LookupIdempotency(ctx context.Context, key string) (string, bool, error) {
	id, ok := m.keys[key]
	return id, ok, nil
}

func (m *memoryRecordRepo) SaveIdempotency(ctx context.Context, key, kind, recordID string) error {
	m.keys[key] = recordID
	return nil
}

type stubSigner struct{}

func (stubSigner) NewStorageKey() string { return "evidence/stub-key" }

func (stubSigner) PresignPut(ctx context.Context, key string) (string, error) {
	return "https://blobs.test/put/" + key, nil
}

func (stubSigner) PresignGet(ctx context.Context, key string) (string, error) {
	return "https://blobs.test/get/" + key, nil
}

func newTestServer(t *testing.T) (*httptest.Server, *Hub) {
	t.Helper()

	cfg := &config.Config{}
	cfg.LoadDefaults()
	cfg.SecretKey = "test-secret"
	cfg.LoginRPS = 1000
	cfg.LoginBurst = 1000

	logger := logging.Discard()
	hub := NewHub(logger)

	us := users.NewService(&memoryUserRepo{byLogin: make(map[string]*models.User)}, cfg)
	rs := records.NewService(&memoryRecordRepo{
		recs: make(map[string]*models.StoredRecord),
		keys: make(map[string]string),
	}, stubSigner{}, hub, logger)

	srv := httptest.NewServer(NewRouter(cfg, NewHandlers(us, rs, logger), hub))
	t.Cleanup(srv.Close)
	return srv, hub
}

func doJSON(t *testing.T, method, url, token string, body any) *http.Response {
	t.Helper()

	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}

	req, err := http.NewRequest(method, url, &buf)
	require.NoError(t, err)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	return resp
}

func login(t *testing.T, srv *httptest.Server) string {
	t.Helper()

	resp := doJSON(t, http.MethodPost, srv.URL+"/api/v1/auth/register", "", map[string]string{"login": "auditor", "password": "s3cret"})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	resp.Body.Close()

	resp = doJSON(t, http.MethodPost, srv.URL+"/api/v1/auth/login", "", map[string]string{"login": "auditor", "password": "s3cret"})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	defer resp.Body.Close()

	var out struct {
		Token string `json:"token"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	require.NotEmpty(t, out.Token)
	return out.Token
}

func TestPingIsPublic(t *testing.T) {
	srv, _ := newTestServer(t)

	resp, err := http.Get(srv.URL + "/api/v1/ping")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestLoginRejectsBadPassword(t *testing.T) {
	srv, _ := newTestServer(t)
	login(t, srv)

	resp := doJSON(t, http.MethodPost, srv.URL+"/api/v1/auth/login", "", map[string]string{"login": "auditor", "password": "wrong"})
	defer resp.Body.Close()
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestRecordEndpointsRequireAuth(t *testing.T) {
	srv, _ := newTestServer(t)

	resp := doJSON(t, http.MethodGet, srv.URL+"/api/v1/reviews", "", nil)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	resp = doJSON(t, http.MethodGet, srv.URL+"/api/v1/reviews", "not-a-token", nil)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestCreateGetUpdateDelete(t *testing.T) {
	srv, _ := newTestServer(t)
	token := login(t, srv)

	resp := doJSON(t, http.MethodPost, srv.URL+"/api/v1/findings", token, map[string]any{"title": "leaky valve", "reviewId": "rev-1"})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	var created struct {
		Record map[string]any `json:"record"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&created))
	resp.Body.Close()

	id, _ := created.Record["id"].(string)
	require.NotEmpty(t, id)

	resp = doJSON(t, http.MethodGet, srv.URL+"/api/v1/findings/"+id, token, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var got map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&got))
	resp.Body.Close()
	assert.Equal(t, "leaky valve", got["title"])

	resp = doJSON(t, http.MethodPut, srv.URL+"/api/v1/findings/"+id, token,
		map[string]any{"title": "leaky valve, confirmed", "reviewId": "rev-1", "updatedAt": time.Now().UTC().Format(time.RFC3339Nano)})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	resp.Body.Close()

	resp = doJSON(t, http.MethodDelete, srv.URL+"/api/v1/findings/"+id, token, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	resp.Body.Close()

	resp = doJSON(t, http.MethodGet, srv.URL+"/api/v1/findings/"+id, token, nil)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestListFiltersByQuery(t *testing.T) {
	srv, _ := newTestServer(t)
	token := login(t, srv)

	for _, rev := range []string{"rev-1", "rev-1", "rev-2"} {
		resp := doJSON(t, http.MethodPost, srv.URL+"/api/v1/checklist_items", token, map[string]any{"reviewId": rev})
		require.Equal(t, http.StatusCreated, resp.StatusCode)
		resp.Body.Close()
	}

	resp := doJSON(t, http.MethodGet, srv.URL+"/api/v1/checklist_items?reviewId=rev-1", token, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	defer resp.Body.Close()

	var items []map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&items))
	assert.Len(t, items, 2)
}

func TestCreateHonorsIdempotencyKey(t *testing.T) {
	srv, _ := newTestServer(t)
	token := login(t, srv)

	post := func() string {
		var buf bytes.Buffer
		require.NoError(t, json.NewEncoder(&buf).Encode(map[string]any{"title": "dup?"}))
		req, err := http.NewRequest(http.MethodPost, srv.URL+"/api/v1/findings", &buf)
		require.NoError(t, err)
		req.Header.Set("Authorization", "Bearer "+token)
		req.Header.Set(common.IdempotencyKeyHeaderName, "tmp-same")

		resp, err := http.DefaultClient.Do(req)
		require.NoError(t, err)
		defer resp.Body.Close()
		require.Equal(t, http.StatusCreated, resp.StatusCode)

		var out struct {
			Record map[string]any `json:"record"`
		}
		require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
		id, _ := out.Record["id"].(string)
		return id
	}

	assert.Equal(t, post(), post())
}

func TestStaleUpdateConflicts(t *testing.T) {
	srv, _ := newTestServer(t)
	token := login(t, srv)

	now := time.Now().UTC()
	resp := doJSON(t, http.MethodPost, srv.URL+"/api/v1/caps", token,
		map[string]any{"summary": "newer", "updatedAt": now.Format(time.RFC3339Nano)})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	var created struct {
		Record map[string]any `json:"record"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&created))
	resp.Body.Close()
	id, _ := created.Record["id"].(string)

	resp = doJSON(t, http.MethodPut, srv.URL+"/api/v1/caps/"+id, token,
		map[string]any{"summary": "stale", "updatedAt": now.Add(-time.Hour).Format(time.RFC3339Nano)})
	defer resp.Body.Close()
	assert.Equal(t, http.StatusConflict, resp.StatusCode)
}

func TestUnknownKindIsNotFound(t *testing.T) {
	srv, _ := newTestServer(t)
	token := login(t, srv)

	resp := doJSON(t, http.MethodGet, srv.URL+"/api/v1/invoices", token, nil)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestEvidenceUploadFlow(t *testing.T) {
	srv, _ := newTestServer(t)
	token := login(t, srv)

	resp := doJSON(t, http.MethodPost, srv.URL+"/api/v1/evidence", token, map[string]any{"itemId": "item-1", "mimeType": "image/jpeg"})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	var created struct {
		Record    map[string]any `json:"record"`
		UploadURL string         `json:"uploadUrl"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&created))
	resp.Body.Close()

	assert.Equal(t, "https://blobs.test/put/evidence/stub-key", created.UploadURL)
	id, _ := created.Record["id"].(string)
	require.NotEmpty(t, id)

	resp = doJSON(t, http.MethodPost, srv.URL+"/api/v1/evidence/"+id+"/uploaded", token, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	resp.Body.Close()

	resp = doJSON(t, http.MethodGet, srv.URL+"/api/v1/evidence/"+id+"/url", token, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	defer resp.Body.Close()
	var urlOut struct {
		URL string `json:"url"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&urlOut))
	assert.Equal(t, "https://blobs.test/get/evidence/stub-key", urlOut.URL)
}

func TestLoginRateLimit(t *testing.T) {
	cfg := &config.Config{}
	cfg.LoadDefaults()
	cfg.SecretKey = "test-secret"
	cfg.LoginRPS = 1
	cfg.LoginBurst = 2

	logger := logging.Discard()
	hub := NewHub(logger)
	us := users.NewService(&memoryUserRepo{byLogin: make(map[string]*models.User)}, cfg)
	rs := records.NewService(&memoryRecordRepo{
		recs: make(map[string]*models.StoredRecord),
		keys: make(map[string]string),
	}, stubSigner{}, hub, logger)

	srv := httptest.NewServer(NewRouter(cfg, NewHandlers(us, rs, logger), hub))
	defer srv.Close()

	var limited bool
	for i := 0; i < 5; i++ {
		resp := doJSON(t, http.MethodPost, srv.URL+"/api/v1/auth/login", "", map[string]string{"login": "x", "password": "y"})
		if resp.StatusCode == http.StatusTooManyRequests {
			limited = true
		}
		resp.Body.Close()
	}
	assert.True(t, limited, "burst of logins should trip the limiter")
}
