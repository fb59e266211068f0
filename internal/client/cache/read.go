package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/peerassess/fieldsync/internal/client/api"
	"github.com/peerassess/fieldsync/internal/client/models"
	"github.com/peerassess/fieldsync/internal/client/store"
	"github.com/peerassess/fieldsync/internal/common"
	"github.com/peerassess/fieldsync/internal/logging"
)

// Reader is the read-through accessor. Online it fetches from the server and
// refreshes the cache; offline (or when the fetch fails) it serves the local
// copy, flagged as cached and possibly stale.
type Reader struct {
	store      *store.Store
	client     api.Client
	conn       Connectivity
	staleAfter time.Duration
	logger     logging.Logger

	// queries remembers every list the caller has asked for, so a later
	// online transition can refresh them in the background.
	mu      sync.Mutex
	queries map[string]listQuery
}

type listQuery struct {
	kind   models.Kind
	filter map[string]string
}

func NewReader(st *store.Store, client api.Client, conn Connectivity, staleAfter time.Duration, logger logging.Logger) *Reader {
	return &Reader{
		store:      st,
		client:     client,
		conn:       conn,
		staleAfter: staleAfter,
		logger:     logger,
		queries:    make(map[string]listQuery),
	}
}

// Get returns one record, cache first. A cached copy within the staleness
// window is returned without any network call; only a missing or stale
// record triggers a fetch (and only while online). On fetch failure the
// cached copy is returned with FromCache set and the fetch error alongside,
// so the caller can surface it. A record found nowhere is (nil, nil): a
// missing read resolves empty, not as a failure.
func (r *Reader) Get(ctx context.Context, kind models.Kind, id string) (*Cached, error) {
	cached, err := r.store.Get(ctx, kind, id)
	if err != nil {
		return nil, err
	}

	stale := true
	if cached != nil {
		if !cached.Synced {
			// a pending local mutation is the freshest truth there is;
			// refreshing from the server would clobber it
			c := wrap(*cached, true, false)
			return &c, nil
		}
		stale, err = r.store.IsDataStale(ctx, kind, r.staleAfter)
		if err != nil {
			return nil, err
		}
		if !stale {
			c := wrap(*cached, true, false)
			return &c, nil
		}
	}

	var fetchErr error
	if r.conn.Online() {
		rec, err := r.client.FetchOne(ctx, kind, id)
		if err == nil {
			if err := r.store.Put(ctx, rec, true); err != nil {
				return nil, err
			}
			c := wrap(*rec, false, false)
			return &c, nil
		}
		if errors.Is(err, common.ErrNotFound) && cached == nil {
			return nil, nil
		}
		fetchErr = err
		r.logger.Debug(ctx, "fetch failed, falling back to cache", "kind", kind, "id", id, "error", err)
	}

	if cached == nil {
		return nil, fetchErr
	}
	c := wrap(*cached, true, stale)
	return &c, fetchErr
}

// GetAll returns every record of a kind matching filter, cache first. While
// the kind's table is within the staleness window the list is served locally
// with no network call; a stale (or never-synced) table triggers a fetch when
// online. The same fallback contract as Get applies: a non-nil slice may be
// returned together with the fetch error that forced it out of cache. The
// query is remembered and re-fetched when connectivity returns (see Run).
func (r *Reader) GetAll(ctx context.Context, kind models.Kind, filter map[string]string) ([]Cached, error) {
	r.remember(kind, filter)

	stale, err := r.store.IsDataStale(ctx, kind, r.staleAfter)
	if err != nil {
		return nil, err
	}

	var fetchErr error
	if stale && r.conn.Online() {
		recs, err := r.client.FetchAll(ctx, kind, filter)
		if err == nil {
			if err := r.store.BulkPut(ctx, recs); err != nil {
				return nil, err
			}
			out := make([]Cached, 0, len(recs))
			for _, rec := range recs {
				out = append(out, wrap(rec, false, false))
			}
			return out, nil
		}
		fetchErr = err
		r.logger.Debug(ctx, "list fetch failed, falling back to cache", "kind", kind, "error", err)
	}

	recs, err := r.store.GetAll(ctx, kind)
	if err != nil {
		return nil, err
	}

	out := make([]Cached, 0, len(recs))
	for _, rec := range recs {
		match, err := matchFilter(rec.Payload, filter)
		if err != nil {
			return nil, err
		}
		if match {
			out = append(out, wrap(rec, true, stale))
		}
	}
	return out, fetchErr
}

// Refresh force-fetches a single record from the server and caches it.
// Used when the notify socket reports a server-side change.
func (r *Reader) Refresh(ctx context.Context, kind models.Kind, id string) error {
	rec, err := r.client.FetchOne(ctx, kind, id)
	if err != nil {
		return err
	}
	return r.store.Put(ctx, rec, true)
}

// Run refreshes remembered list queries whenever connectivity returns and
// re-fetches individual records named by pushed change notifications. Blocks
// until ctx is cancelled.
func (r *Reader) Run(ctx context.Context) {
	events := r.conn.Subscribe()
	for {
		select {
		case <-ctx.Done():
			return
		case ev := <-events:
			switch {
			case ev.Change != nil:
				if err := r.Refresh(ctx, ev.Change.Kind, ev.Change.ID); err != nil {
					r.logger.Debug(ctx, "change refresh failed", "kind", ev.Change.Kind, "id", ev.Change.ID, "error", err)
				}
			case ev.Online:
				r.refreshAll(ctx)
			}
		}
	}
}

func (r *Reader) refreshAll(ctx context.Context) {
	r.mu.Lock()
	queries := make([]listQuery, 0, len(r.queries))
	for _, q := range r.queries {
		queries = append(queries, q)
	}
	r.mu.Unlock()

	for _, q := range queries {
		recs, err := r.client.FetchAll(ctx, q.kind, q.filter)
		if err != nil {
			r.logger.Debug(ctx, "background refresh failed", "kind", q.kind, "error", err)
			continue
		}
		if err := r.store.BulkPut(ctx, recs); err != nil {
			r.logger.Error(ctx, "background refresh store failed", "kind", q.kind, "error", err)
		}
	}
}

func (r *Reader) remember(kind models.Kind, filter map[string]string) {
	key := string(kind)
	for k, v := range filter {
		key += "|" + k + "=" + v
	}
	r.mu.Lock()
	r.queries[key] = listQuery{kind: kind, filter: filter}
	r.mu.Unlock()
}

// matchFilter applies a server-side list filter to a cached payload: every
// filter key must equal the payload's top-level field, compared as strings.
func matchFilter(payload json.RawMessage, filter map[string]string) (bool, error) {
	if len(filter) == 0 {
		return true, nil
	}

	var fields map[string]any
	if err := json.Unmarshal(payload, &fields); err != nil {
		return false, fmt.Errorf("filter payload: %w", err)
	}

	for k, want := range filter {
		got, ok := fields[k]
		if !ok {
			return false, nil
		}
		if fmt.Sprintf("%v", got) != want {
			return false, nil
		}
	}
	return true, nil
}
