package httpapi

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/peerassess/fieldsync/internal/common"
	"github.com/peerassess/fieldsync/internal/logging"
	"github.com/peerassess/fieldsync/internal/server/records"
	"github.com/peerassess/fieldsync/internal/server/users"
)

// allowedKinds whitelists the entity tables the generic record API serves.
var allowedKinds = map[string]bool{
	"reviews":         true,
	"findings":        true,
	"caps":            true,
	"checklist_items": true,
	"evidence":        true,
}

type Handlers struct {
	users   *users.Service
	records *records.Service
	logger  logging.Logger
}

func NewHandlers(us *users.Service, rs *records.Service, logger logging.Logger) *Handlers {
	return &Handlers{users: us, records: rs, logger: logger}
}

func (h *Handlers) HandlePing(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("ok"))
}

type credentials struct {
	Login    string `json:"login"`
	Password string `json:"password"`
}

func (h *Handlers) HandleRegister(w http.ResponseWriter, r *http.Request) {
	var creds credentials
	if err := json.NewDecoder(r.Body).Decode(&creds); err != nil || creds.Login == "" || creds.Password == "" {
		writeError(w, http.StatusBadRequest, "login and password required")
		return
	}

	if err := h.users.Register(r.Context(), creds.Login, creds.Password); err != nil {
		h.fail(w, r, err)
		return
	}
	w.WriteHeader(http.StatusCreated)
}

func (h *Handlers) HandleLogin(w http.ResponseWriter, r *http.Request) {
	var creds credentials
	if err := json.NewDecoder(r.Body).Decode(&creds); err != nil {
		writeError(w, http.StatusBadRequest, "malformed request")
		return
	}

	token, err := h.users.Login(r.Context(), creds.Login, creds.Password)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"token": token})
}

func (h *Handlers) HandleList(w http.ResponseWriter, r *http.Request) {
	kind, ok := h.kind(w, r)
	if !ok {
		return
	}

	filter := make(map[string]string)
	for k, vs := range r.URL.Query() {
		if len(vs) > 0 {
			filter[k] = vs[0]
		}
	}

	recs, err := h.records.List(r.Context(), kind, filter)
	if err != nil {
		h.fail(w, r, err)
		return
	}

	payloads := make([]json.RawMessage, 0, len(recs))
	for _, rec := range recs {
		payloads = append(payloads, rec.Payload)
	}
	writeJSON(w, http.StatusOK, payloads)
}

func (h *Handlers) HandleGet(w http.ResponseWriter, r *http.Request) {
	kind, ok := h.kind(w, r)
	if !ok {
		return
	}

	rec, err := h.records.Get(r.Context(), kind, chi.URLParam(r, "id"))
	if err != nil {
		h.fail(w, r, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	w.Write(rec.Payload)
}

type pushResponse struct {
	Record    json.RawMessage `json:"record"`
	UploadURL string          `json:"uploadUrl,omitempty"`
}

func (h *Handlers) HandleCreate(w http.ResponseWriter, r *http.Request) {
	kind, ok := h.kind(w, r)
	if !ok {
		return
	}

	payload, err := io.ReadAll(r.Body)
	if err != nil {
		writeError(w, http.StatusBadRequest, "unreadable body")
		return
	}

	res, err := h.records.Create(r.Context(), kind, r.Header.Get(common.IdempotencyKeyHeaderName), payload)
	if err != nil {
		h.fail(w, r, err)
		return
	}

	writeJSON(w, http.StatusCreated, pushResponse{Record: res.Record.Payload, UploadURL: res.UploadURL})
}

func (h *Handlers) HandleUpdate(w http.ResponseWriter, r *http.Request) {
	kind, ok := h.kind(w, r)
	if !ok {
		return
	}

	payload, err := io.ReadAll(r.Body)
	if err != nil {
		writeError(w, http.StatusBadRequest, "unreadable body")
		return
	}

	rec, err := h.records.Update(r.Context(), kind, chi.URLParam(r, "id"), payload)
	if err != nil {
		h.fail(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, pushResponse{Record: rec.Payload})
}

func (h *Handlers) HandleDelete(w http.ResponseWriter, r *http.Request) {
	kind, ok := h.kind(w, r)
	if !ok {
		return
	}

	if err := h.records.Delete(r.Context(), kind, chi.URLParam(r, "id")); err != nil {
		h.fail(w, r, err)
		return
	}
	w.WriteHeader(http.StatusOK)
}

func (h *Handlers) HandleMarkUploaded(w http.ResponseWriter, r *http.Request) {
	if err := h.records.MarkEvidenceUploaded(r.Context(), chi.URLParam(r, "id")); err != nil {
		h.fail(w, r, err)
		return
	}
	w.WriteHeader(http.StatusOK)
}

func (h *Handlers) HandleEvidenceURL(w http.ResponseWriter, r *http.Request) {
	url, err := h.records.EvidenceDownloadURL(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"url": url})
}

func (h *Handlers) kind(w http.ResponseWriter, r *http.Request) (string, bool) {
	kind := chi.URLParam(r, "kind")
	if !allowedKinds[kind] {
		writeError(w, http.StatusNotFound, "unknown entity kind")
		return "", false
	}
	return kind, true
}

func (h *Handlers) fail(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, common.ErrNotFound):
		writeError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, common.ErrRejected):
		writeError(w, http.StatusConflict, err.Error())
	case errors.Is(err, common.ErrUnauthorized):
		writeError(w, http.StatusUnauthorized, "invalid credentials")
	default:
		h.logger.Error(r.Context(), "request failed", "method", r.Method, "path", r.URL.Path, "error", err)
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}
