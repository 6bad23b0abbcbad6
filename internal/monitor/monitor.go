// Package monitor turns foreground-application changes into focus sessions.
//
// A Monitor is either Idle or tracking exactly one active session. Each
// focus event is applied under a single lock, so the store never sees two
// sessions from the same monitor active at once: the previous session is
// fully ended before the next one is created.
package monitor

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/hashicorp/go-multierror"

	"github.com/fakeyudi/focustrack/internal/session"
	"github.com/fakeyudi/focustrack/internal/watcher"
)

// TransitionError reports a store failure while starting or ending a session.
type TransitionError struct {
	Op    string // "create" or "end"
	AppID string
	Err   error
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("%s session for %s: %v", e.Op, e.AppID, e.Err)
}

func (e *TransitionError) Unwrap() error {
	return e.Err
}

// Option configures a Monitor.
type Option func(*Monitor)

// WithLogger sets the logger used for transitions and delivery failures.
func WithLogger(l *slog.Logger) Option {
	return func(m *Monitor) { m.logger = l }
}

// Monitor tracks which application holds focus.
type Monitor struct {
	store  session.SessionStore
	source watcher.Source
	selfID string
	logger *slog.Logger

	mu     sync.Mutex // serializes transitions, Start and Stop
	active *session.Session
	sub    watcher.Subscription
	gen    uint64 // bumped on every Start/Stop; stale deliveries are dropped
}

// New returns an Idle, unsubscribed Monitor. Events whose identifier equals
// selfID are never recorded.
func New(store session.SessionStore, source watcher.Source, selfID string, opts ...Option) *Monitor {
	m := &Monitor{
		store:  store,
		source: source,
		selfID: selfID,
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Start subscribes to the source. Calling it again replaces the existing
// subscription rather than adding a second one. It never creates or ends a
// session.
func (m *Monitor) Start() {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.sub != nil {
		m.sub.Unsubscribe()
	}
	m.gen++
	gen := m.gen
	m.sub = m.source.Subscribe(func(ev watcher.Event) error { return m.deliver(gen, ev) })
	m.logger.Debug("monitoring started")
}

// Stop unsubscribes and ends the current session. It is safe to call from
// any state and any number of times. If ending fails the session stays
// tracked so a later Stop can retry.
func (m *Monitor) Stop() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.sub != nil {
		m.sub.Unsubscribe()
		m.sub = nil
		m.logger.Debug("monitoring stopped")
	}
	m.gen++

	if m.active == nil {
		return nil
	}
	return m.endActive()
}

// Subscribed reports whether the monitor is currently receiving events.
func (m *Monitor) Subscribed() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.sub != nil
}

// Active returns a copy of the tracked session, or nil when Idle.
func (m *Monitor) Active() *session.Session {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.active == nil {
		return nil
	}
	return m.active.Clone()
}

// HandleActivation applies one focus change.
func (m *Monitor) HandleActivation(ev watcher.Event) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.transition(ev)
}

// UpdateActive merges metadata into the tracked session. It is a no-op when
// Idle.
func (m *Monitor) UpdateActive(upd session.MetadataUpdate) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.active == nil {
		return nil
	}
	if err := m.store.Update(m.active, upd); err != nil {
		return fmt.Errorf("update session for %s: %w", m.active.AppID, err)
	}
	return nil
}

// CloseOrphans ends sessions left active in the store that this monitor
// does not own, typically by a previous process that exited without
// stopping. Every orphan is attempted; it returns how many were ended along
// with the failures.
func (m *Monitor) CloseOrphans() (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	stale, err := m.store.ActiveSessions()
	if err != nil {
		return 0, fmt.Errorf("listing active sessions: %w", err)
	}
	var result *multierror.Error
	closed := 0
	for _, s := range stale {
		if m.active != nil && s.ID == m.active.ID {
			continue
		}
		if err := m.store.End(s); err != nil {
			result = multierror.Append(result, &TransitionError{Op: "end", AppID: s.AppID, Err: err})
			continue
		}
		m.logger.Info("closed orphaned session", "app", s.AppName, "id", s.ID)
		closed++
	}
	return closed, result.ErrorOrNil()
}

// deliver is the subscription callback. A failed transition is logged and
// returned so the source offers the event again; the monitor's state already
// reflects how far the transition got.
func (m *Monitor) deliver(gen uint64, ev watcher.Event) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	// Delivered after Stop or a newer Start.
	if gen != m.gen || m.sub == nil {
		return nil
	}
	if err := m.transition(ev); err != nil {
		m.logger.Warn("focus transition failed", "app", ev.AppName, "app_id", ev.AppID, "error", err)
		return err
	}
	return nil
}

// transition must be called with mu held.
func (m *Monitor) transition(ev watcher.Event) error {
	ev = watcher.Normalize(ev.AppName, ev.AppID)

	if m.selfID != "" && ev.AppID == m.selfID {
		m.logger.Debug("ignoring activation of self", "app", ev.AppName)
		return nil
	}

	if m.active != nil {
		if m.active.AppID == ev.AppID {
			return nil
		}
		if err := m.endActive(); err != nil {
			return err
		}
	}

	s, err := m.store.Create(ev.AppName, ev.AppID, session.Metadata{})
	if err != nil {
		return &TransitionError{Op: "create", AppID: ev.AppID, Err: err}
	}
	m.active = s
	m.logger.Debug("session started", "app", ev.AppName, "app_id", ev.AppID, "id", s.ID)
	return nil
}

// endActive ends the tracked session and returns to Idle. On failure the
// session remains tracked. A record that is already terminal, or gone, in the
// store is released without error. Must be called with mu held.
func (m *Monitor) endActive() error {
	cur := m.active
	if err := m.store.End(cur); err != nil {
		if !errors.Is(err, session.ErrAlreadyEnded) && !errors.Is(err, session.ErrNotFound) {
			return &TransitionError{Op: "end", AppID: cur.AppID, Err: err}
		}
		m.logger.Warn("tracked session was ended elsewhere", "app", cur.AppName, "id", cur.ID, "error", err)
	}
	m.active = nil
	m.logger.Debug("session ended", "app", cur.AppName, "app_id", cur.AppID, "id", cur.ID)
	return nil
}
