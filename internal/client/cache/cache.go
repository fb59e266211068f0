// Package cache provides the read-through and write-through accessors that
// sit between domain services and the local store. Reads prefer the server
// and fall back to the cache; writes apply locally first and queue for sync
// when the server cannot be reached.
package cache

import (
	"github.com/peerassess/fieldsync/internal/client/models"
	"github.com/peerassess/fieldsync/internal/client/monitor"
)

// State tells the caller how much to trust a record.
type State string

const (
	// Confirmed records completed a server round trip.
	Confirmed State = "CONFIRMED"
	// Optimistic records exist locally with mutations still awaiting sync.
	Optimistic State = "OPTIMISTIC"
)

// Cached wraps a record with its provenance so the UI can badge offline and
// stale data.
type Cached struct {
	Record models.Record
	State  State
	// FromCache is true when the record was served from the local store
	// rather than a live server response.
	FromCache bool
	// Stale is true when FromCache is set and the kind's last refresh is
	// older than the configured threshold.
	Stale bool
}

func wrap(rec models.Record, fromCache, stale bool) Cached {
	state := Confirmed
	if !rec.Synced {
		state = Optimistic
	}
	return Cached{Record: rec, State: state, FromCache: fromCache, Stale: stale}
}

// Connectivity is the slice of the monitor the accessors depend on, kept
// small so tests can substitute a fixed state.
type Connectivity interface {
	Online() bool
	Subscribe() <-chan monitor.Event
}
