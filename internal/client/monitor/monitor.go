// Package monitor watches connectivity to the platform API. It combines a
// periodic health-check ping with a websocket subscription for server-pushed
// change notifications, and fans both out to subscribers as events.
package monitor

import (
	"context"
	"encoding/json"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"github.com/peerassess/fieldsync/internal/client/models"
	"github.com/peerassess/fieldsync/internal/logging"
)

// Change identifies one server-side record update pushed over the notify
// socket.
type Change struct {
	Kind models.Kind `json:"kind"`
	ID   string      `json:"id"`
}

// Event is delivered to subscribers on every online/offline transition and
// on every pushed change. Change is nil for pure connectivity transitions.
type Event struct {
	Online bool
	Change *Change
}

// Pinger is the slice of the API client the monitor needs.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Monitor tracks whether the platform is reachable. Status flips only on
// state change; every flip is broadcast. When notifyURL is set the monitor
// also maintains a websocket to the server's notify endpoint while online.
type Monitor struct {
	pinger    Pinger
	notifyURL string
	interval  time.Duration
	logger    logging.Logger

	online atomic.Bool

	mu   sync.Mutex
	subs []chan Event

	// tokenFn supplies the current bearer token for the notify socket.
	tokenFn func() string
}

func New(pinger Pinger, notifyURL string, interval time.Duration, tokenFn func() string, logger logging.Logger) *Monitor {
	return &Monitor{
		pinger:    pinger,
		notifyURL: notifyURL,
		interval:  interval,
		tokenFn:   tokenFn,
		logger:    logger,
	}
}

// Online reports the last observed connectivity state.
func (m *Monitor) Online() bool {
	return m.online.Load()
}

// Subscribe returns a channel of connectivity and change events. The channel
// is buffered; a slow consumer drops events rather than blocking the monitor.
func (m *Monitor) Subscribe() <-chan Event {
	ch := make(chan Event, 16)
	m.mu.Lock()
	m.subs = append(m.subs, ch)
	m.mu.Unlock()
	return ch
}

func (m *Monitor) broadcast(ev Event) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, ch := range m.subs {
		select {
		case ch <- ev:
		default:
		}
	}
}

// Run blocks until ctx is cancelled, probing connectivity every interval.
// An immediate probe runs on start so callers do not wait a full tick for
// the first status.
func (m *Monitor) Run(ctx context.Context) {
	if m.notifyURL != "" {
		go m.listenNotify(ctx)
	}

	m.check(ctx)

	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.check(ctx)
		}
	}
}

// check probes the server and records the result, broadcasting on change.
func (m *Monitor) check(ctx context.Context) {
	pingCtx, cancel := context.WithTimeout(ctx, m.interval)
	defer cancel()

	nowOnline := m.pinger.Ping(pingCtx) == nil
	if m.online.Swap(nowOnline) != nowOnline {
		if nowOnline {
			m.logger.Info(ctx, "connectivity restored")
		} else {
			m.logger.Warn(ctx, "connectivity lost")
		}
		m.broadcast(Event{Online: nowOnline})
	}
}

// listenNotify keeps a websocket to the notify endpoint while the process
// runs, reconnecting with a flat delay. Pushed changes are fanned out as
// events with a non-nil Change.
func (m *Monitor) listenNotify(ctx context.Context) {
	for {
		if ctx.Err() != nil {
			return
		}

		if err := m.readNotify(ctx); err != nil && ctx.Err() == nil {
			m.logger.Debug(ctx, "notify socket closed", "error", err)
		}

		select {
		case <-ctx.Done():
			return
		case <-time.After(m.interval):
		}
	}
}

func (m *Monitor) readNotify(ctx context.Context) error {
	header := make(map[string][]string)
	if m.tokenFn != nil {
		if token := m.tokenFn(); token != "" {
			header["Authorization"] = []string{"Bearer " + token}
		}
	}

	conn, _, err := websocket.DefaultDialer.DialContext(ctx, m.notifyURL, header)
	if err != nil {
		return err
	}
	defer conn.Close()

	go func() {
		<-ctx.Done()
		conn.Close()
	}()

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return err
		}

		var change Change
		if err := json.Unmarshal(data, &change); err != nil {
			m.logger.Debug(ctx, "malformed notify message", "error", err)
			continue
		}
		m.broadcast(Event{Online: true, Change: &change})
	}
}
