package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/peerassess/fieldsync/internal/client/models"
	"github.com/peerassess/fieldsync/internal/common"
)

// HTTPClient talks JSON over HTTP to the assessment platform API. It is safe
// for concurrent use; the bearer token is guarded by a mutex because Login
// may race with in-flight sync calls.
type HTTPClient struct {
	baseURL string
	client  *http.Client

	mu    sync.RWMutex
	token string
}

// pushResponse is the wire shape of a confirmed mutation.
type pushResponse struct {
	Record    json.RawMessage `json:"record"`
	UploadURL string          `json:"uploadUrl,omitempty"`
}

type loginRequest struct {
	Login    string `json:"login"`
	Password string `json:"password"`
}

type loginResponse struct {
	Token string `json:"token"`
}

func NewHTTPClient(baseURL string, timeout time.Duration) *HTTPClient {
	return &HTTPClient{
		baseURL: baseURL,
		client:  &http.Client{Timeout: timeout},
	}
}

// Token returns the current bearer token, empty before Login.
func (c *HTTPClient) Token() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.token
}

// SetToken installs a previously saved token, letting a restarted client
// resume its session without re-prompting for credentials.
func (c *HTTPClient) SetToken(token string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.token = token
}

func (c *HTTPClient) Close() error {
	c.client.CloseIdleConnections()
	return nil
}

func (c *HTTPClient) Ping(ctx context.Context) error {
	_, err := c.do(ctx, http.MethodGet, "/api/v1/ping", nil, nil)
	return err
}

func (c *HTTPClient) Login(ctx context.Context, login, password string) error {
	body, err := json.Marshal(loginRequest{Login: login, Password: password})
	if err != nil {
		return err
	}

	data, err := c.do(ctx, http.MethodPost, "/api/v1/auth/login", body, nil)
	if err != nil {
		return err
	}

	var resp loginResponse
	if err := json.Unmarshal(data, &resp); err != nil {
		return fmt.Errorf("decode login response: %w", err)
	}

	c.SetToken(resp.Token)
	return nil
}

func (c *HTTPClient) FetchOne(ctx context.Context, kind models.Kind, id string) (*models.Record, error) {
	data, err := c.do(ctx, http.MethodGet, "/api/v1/"+string(kind)+"/"+url.PathEscape(id), nil, nil)
	if err != nil {
		return nil, err
	}
	return recordFromPayload(kind, data)
}

func (c *HTTPClient) FetchAll(ctx context.Context, kind models.Kind, filter map[string]string) ([]models.Record, error) {
	path := "/api/v1/" + string(kind)
	if len(filter) > 0 {
		q := url.Values{}
		for k, v := range filter {
			q.Set(k, v)
		}
		path += "?" + q.Encode()
	}

	data, err := c.do(ctx, http.MethodGet, path, nil, nil)
	if err != nil {
		return nil, err
	}

	var payloads []json.RawMessage
	if err := json.Unmarshal(data, &payloads); err != nil {
		return nil, fmt.Errorf("decode %s list: %w", kind, err)
	}

	records := make([]models.Record, 0, len(payloads))
	for _, p := range payloads {
		rec, err := recordFromPayload(kind, p)
		if err != nil {
			return nil, err
		}
		records = append(records, *rec)
	}
	return records, nil
}

func (c *HTTPClient) Create(ctx context.Context, kind models.Kind, idempotencyKey string, payload json.RawMessage) (*PushResult, error) {
	headers := map[string]string{common.IdempotencyKeyHeaderName: idempotencyKey}
	data, err := c.do(ctx, http.MethodPost, "/api/v1/"+string(kind), payload, headers)
	if err != nil {
		return nil, err
	}
	return pushResultFromBody(kind, data)
}

func (c *HTTPClient) Update(ctx context.Context, kind models.Kind, id string, payload json.RawMessage) (*PushResult, error) {
	data, err := c.do(ctx, http.MethodPut, "/api/v1/"+string(kind)+"/"+url.PathEscape(id), payload, nil)
	if err != nil {
		return nil, err
	}
	return pushResultFromBody(kind, data)
}

func (c *HTTPClient) Delete(ctx context.Context, kind models.Kind, id string) error {
	_, err := c.do(ctx, http.MethodDelete, "/api/v1/"+string(kind)+"/"+url.PathEscape(id), nil, nil)
	return err
}

func (c *HTTPClient) MarkEvidenceUploaded(ctx context.Context, id string) error {
	_, err := c.do(ctx, http.MethodPost, "/api/v1/evidence/"+url.PathEscape(id)+"/uploaded", nil, nil)
	return err
}

// do performs one request and maps failures onto the sentinel errors the sync
// layer classifies on. Network-level failures and 5xx responses are
// ErrUnavailable; 4xx responses that no retry can fix are ErrRejected.
func (c *HTTPClient) do(ctx context.Context, method, path string, body []byte, headers map[string]string) ([]byte, error) {
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	if token := c.Token(); token != "" {
		req.Header.Set(common.AccessTokenHeaderName, "Bearer "+token)
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %s %s: %v", common.ErrUnavailable, method, path, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("%w: read response: %v", common.ErrUnavailable, err)
	}

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		return data, nil
	case resp.StatusCode == http.StatusUnauthorized:
		return nil, fmt.Errorf("%w: %s %s", common.ErrUnauthorized, method, path)
	case resp.StatusCode == http.StatusNotFound:
		return nil, fmt.Errorf("%w: %s %s", common.ErrNotFound, method, path)
	case resp.StatusCode == http.StatusBadRequest,
		resp.StatusCode == http.StatusConflict,
		resp.StatusCode == http.StatusUnprocessableEntity:
		return nil, fmt.Errorf("%w: %s %s: %s", common.ErrRejected, method, path, firstLine(data))
	default:
		return nil, fmt.Errorf("%w: %s %s: status %d", common.ErrUnavailable, method, path, resp.StatusCode)
	}
}

func firstLine(data []byte) string {
	s := string(data)
	if len(s) > 200 {
		s = s[:200]
	}
	for i, r := range s {
		if r == '\n' {
			return s[:i]
		}
	}
	return s
}

func recordFromPayload(kind models.Kind, payload json.RawMessage) (*models.Record, error) {
	var idHolder struct {
		ID        string    `json:"id"`
		UpdatedAt time.Time `json:"updatedAt"`
	}
	if err := json.Unmarshal(payload, &idHolder); err != nil {
		return nil, fmt.Errorf("decode %s record: %w", kind, err)
	}
	if idHolder.ID == "" {
		return nil, fmt.Errorf("decode %s record: missing id", kind)
	}

	updatedAt := idHolder.UpdatedAt
	if updatedAt.IsZero() {
		updatedAt = time.Now()
	}

	return &models.Record{
		Kind:      kind,
		ID:        idHolder.ID,
		Payload:   payload,
		UpdatedAt: updatedAt,
		Synced:    true,
	}, nil
}

func pushResultFromBody(kind models.Kind, data []byte) (*PushResult, error) {
	var resp pushResponse
	if err := json.Unmarshal(data, &resp); err != nil {
		return nil, fmt.Errorf("decode push response: %w", err)
	}

	rec, err := recordFromPayload(kind, resp.Record)
	if err != nil {
		return nil, err
	}

	return &PushResult{Record: *rec, UploadURL: resp.UploadURL}, nil
}
