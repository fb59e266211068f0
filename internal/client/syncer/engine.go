package syncer

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/peerassess/fieldsync/internal/client/api"
	"github.com/peerassess/fieldsync/internal/client/models"
	"github.com/peerassess/fieldsync/internal/client/monitor"
	"github.com/peerassess/fieldsync/internal/client/store"
	"github.com/peerassess/fieldsync/internal/common"
	"github.com/peerassess/fieldsync/internal/logging"
	"github.com/peerassess/fieldsync/internal/netx"
)

// Connectivity is the slice of the monitor the engine depends on.
type Connectivity interface {
	Online() bool
	Subscribe() <-chan monitor.Event
}

// UploadFunc puts a blob at a presigned URL.
type UploadFunc func(ctx context.Context, client *http.Client, url string, data []byte, contentType string) error

// IDRewriteHook is invoked after a temporary id is rewritten to a server id,
// so domain services can patch records that reference the old id.
type IDRewriteHook func(ctx context.Context, kind models.Kind, oldID, newID string) error

// Config bounds the engine's retry behavior.
type Config struct {
	// Interval between periodic drain attempts.
	Interval time.Duration
	// AttemptTimeout bounds a single push round trip.
	AttemptTimeout time.Duration
	// MaxAttempts is the transient-retry ceiling before an entry is
	// quarantined as FAILED.
	MaxAttempts int
	// BackoffBase doubles per attempt, capped at BackoffCap.
	BackoffBase time.Duration
	BackoffCap  time.Duration
}

// Engine replays queued mutations in order once connectivity allows. One
// drain loop runs at a time; entries for the same entity are never replayed
// concurrently (the queue's eligibility query enforces that).
type Engine struct {
	store   *store.Store
	queue   *store.Queue
	client  api.Client
	conn    Connectivity
	tracker *Tracker
	cfg     Config
	logger  logging.Logger

	kick       chan struct{}
	upload     UploadFunc
	httpClient *http.Client

	rewriteHooks []IDRewriteHook
}

func NewEngine(st *store.Store, q *store.Queue, client api.Client, conn Connectivity, tracker *Tracker, cfg Config, logger logging.Logger) *Engine {
	return &Engine{
		store:      st,
		queue:      q,
		client:     client,
		conn:       conn,
		tracker:    tracker,
		cfg:        cfg,
		logger:     logger,
		kick:       make(chan struct{}, 1),
		upload:     netx.UploadToPresignedURL,
		httpClient: &http.Client{Timeout: cfg.AttemptTimeout},
	}
}

// OnIDRewrite registers a hook called after each temporary-id rewrite.
func (e *Engine) OnIDRewrite(hook IDRewriteHook) {
	e.rewriteHooks = append(e.rewriteHooks, hook)
}

// SyncNow asks the drain loop to run as soon as possible. Never blocks.
func (e *Engine) SyncNow() {
	select {
	case e.kick <- struct{}{}:
	default:
	}
}

// Run drains the queue on a timer, on explicit kicks, and on reconnects.
// Stuck IN_FLIGHT entries from a previous crash are reset first. Blocks
// until ctx is cancelled.
func (e *Engine) Run(ctx context.Context) error {
	if err := e.queue.ResetInFlight(ctx); err != nil {
		return err
	}

	events := e.conn.Subscribe()
	ticker := time.NewTicker(e.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		case <-e.kick:
		case ev := <-events:
			if !ev.Online || ev.Change != nil {
				continue
			}
		}

		if err := e.DrainOnce(ctx); err != nil && ctx.Err() == nil {
			e.logger.Error(ctx, "sync drain failed", "error", err)
		}
	}
}

// DrainOnce replays eligible entries until the queue is exhausted, the
// connection drops, or an auth failure stops the run. Per-entry failures are
// classified and recorded; they do not abort the drain.
func (e *Engine) DrainOnce(ctx context.Context) error {
	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if !e.conn.Online() {
			return nil
		}

		entry, err := e.queue.NextEligible(ctx, time.Now())
		if err != nil {
			return err
		}
		if entry == nil {
			return nil
		}

		if err := e.queue.MarkInFlight(ctx, entry.ID); err != nil {
			return err
		}

		pushErr := e.push(ctx, entry)
		switch {
		case pushErr == nil:
			if err := e.queue.Remove(ctx, entry.ID); err != nil {
				return err
			}
			e.tracker.recordSuccess()
			e.logger.Info(ctx, "synced", "action", entry.Action, "kind", entry.Kind, "id", entry.EntityID)

		case errors.Is(pushErr, common.ErrUnauthorized):
			// put the entry back untouched and stop: nothing will succeed
			// until the session is renewed
			if err := e.queue.ResetInFlight(ctx); err != nil {
				return err
			}
			e.tracker.recordError(pushErr)
			e.logger.Warn(ctx, "sync stopped, session expired")
			return nil

		case errors.Is(pushErr, common.ErrRejected):
			if err := e.queue.Quarantine(ctx, entry.ID, pushErr.Error()); err != nil {
				return err
			}
			e.tracker.recordError(pushErr)
			e.logger.Warn(ctx, "mutation rejected", "action", entry.Action, "kind", entry.Kind, "id", entry.EntityID, "error", pushErr)

		default:
			if err := e.retryLater(ctx, entry, pushErr); err != nil {
				return err
			}
			e.tracker.recordError(pushErr)
		}
	}
}

func (e *Engine) retryLater(ctx context.Context, entry *models.QueueEntry, pushErr error) error {
	attempts := entry.Attempts + 1
	if attempts >= e.cfg.MaxAttempts {
		e.logger.Warn(ctx, "retry limit reached", "kind", entry.Kind, "id", entry.EntityID, "attempts", attempts)
		return e.queue.Quarantine(ctx, entry.ID,
			fmt.Sprintf("gave up after %d attempts: %s", attempts, pushErr))
	}

	backoff := e.cfg.BackoffBase << entry.Attempts
	if backoff > e.cfg.BackoffCap || backoff <= 0 {
		backoff = e.cfg.BackoffCap
	}
	e.logger.Debug(ctx, "retrying later", "kind", entry.Kind, "id", entry.EntityID, "attempt", attempts, "backoff", backoff)
	return e.queue.Reschedule(ctx, entry.ID, pushErr.Error(), time.Now().Add(backoff))
}

// push replays one entry against the API within the attempt timeout.
func (e *Engine) push(ctx context.Context, entry *models.QueueEntry) error {
	ctx, cancel := context.WithTimeout(ctx, e.cfg.AttemptTimeout)
	defer cancel()

	switch entry.Action {
	case models.ActionCreate:
		return e.pushCreate(ctx, entry)

	case models.ActionUpdate:
		res, err := e.client.Update(ctx, entry.Kind, entry.EntityID, entry.Payload)
		if err != nil {
			return err
		}
		return e.store.Put(ctx, &res.Record, true)

	case models.ActionDelete:
		err := e.client.Delete(ctx, entry.Kind, entry.EntityID)
		if errors.Is(err, common.ErrNotFound) {
			// already gone server-side, which is what we wanted
			return nil
		}
		return err

	default:
		return fmt.Errorf("%w: unknown action %q", common.ErrRejected, entry.Action)
	}
}

// pushCreate replays a CREATE. The entity id in the entry is the temporary
// id and doubles as the idempotency key, so a replay after a half-finished
// attempt returns the same server record. Evidence blobs ride separately:
// the inline data URL is stripped from the payload, uploaded to the
// presigned URL the server hands back, then confirmed. Only after the whole
// chain succeeds are local ids rewritten.
func (e *Engine) pushCreate(ctx context.Context, entry *models.QueueEntry) error {
	payload := entry.Payload
	var blob []byte
	var contentType string

	if entry.Kind == models.KindEvidence {
		var err error
		payload, blob, contentType, err = splitInlineBlob(payload)
		if err != nil {
			return fmt.Errorf("%w: %v", common.ErrRejected, err)
		}
	}

	res, err := e.client.Create(ctx, entry.Kind, entry.EntityID, payload)
	if err != nil {
		return err
	}

	if res.UploadURL != "" && blob != nil {
		if err := e.upload(ctx, e.httpClient, res.UploadURL, blob, contentType); err != nil {
			return fmt.Errorf("%w: upload blob: %v", common.ErrUnavailable, err)
		}
		if err := e.client.MarkEvidenceUploaded(ctx, res.Record.ID); err != nil {
			return err
		}
	}

	if models.IsTempID(entry.EntityID) && res.Record.ID != entry.EntityID {
		if err := e.rewriteID(ctx, entry.Kind, entry.EntityID, res.Record.ID); err != nil {
			return err
		}
	}

	return e.store.Put(ctx, &res.Record, true)
}

func (e *Engine) rewriteID(ctx context.Context, kind models.Kind, oldID, newID string) error {
	if err := e.store.RewriteID(ctx, kind, oldID, newID); err != nil {
		return err
	}
	if err := e.queue.RewriteEntityID(ctx, kind, oldID, newID); err != nil {
		return err
	}
	for _, hook := range e.rewriteHooks {
		if err := hook(ctx, kind, oldID, newID); err != nil {
			return err
		}
	}
	e.logger.Info(ctx, "assigned server id", "kind", kind, "tempId", oldID, "id", newID)
	return nil
}

// splitInlineBlob strips the dataUrl field from an evidence payload and
// decodes it into raw bytes plus a content type.
func splitInlineBlob(payload []byte) (apiPayload, blob []byte, contentType string, err error) {
	var ev models.Evidence
	if err := json.Unmarshal(payload, &ev); err != nil {
		return nil, nil, "", err
	}
	if ev.DataURL == "" {
		return payload, nil, "", nil
	}

	blob, contentType, err = decodeDataURL(ev.DataURL)
	if err != nil {
		return nil, nil, "", err
	}

	ev.DataURL = ""
	apiPayload, err = json.Marshal(ev)
	if err != nil {
		return nil, nil, "", err
	}
	return apiPayload, blob, contentType, nil
}

// decodeDataURL parses "data:<mime>;base64,<data>".
func decodeDataURL(dataURL string) ([]byte, string, error) {
	rest, ok := strings.CutPrefix(dataURL, "data:")
	if !ok {
		return nil, "", fmt.Errorf("not a data url")
	}
	meta, encoded, ok := strings.Cut(rest, ",")
	if !ok {
		return nil, "", fmt.Errorf("malformed data url")
	}
	contentType, isBase64 := strings.CutSuffix(meta, ";base64")
	if !isBase64 {
		return nil, "", fmt.Errorf("data url is not base64-encoded")
	}

	blob, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return nil, "", fmt.Errorf("decode data url: %w", err)
	}
	return blob, contentType, nil
}
