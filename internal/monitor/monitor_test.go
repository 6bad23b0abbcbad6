package monitor

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/hashicorp/go-multierror"
	"pgregory.net/rapid"

	"github.com/fakeyudi/focustrack/internal/session"
	"github.com/fakeyudi/focustrack/internal/watcher"
)

const selfID = "com.example.focustrack"

var errDisk = errors.New("disk full")

// flakyStore wraps a real store and fails on demand.
type flakyStore struct {
	session.SessionStore
	failCreate bool
	failEnd    bool
}

func (f *flakyStore) Create(name, id string, meta session.Metadata) (*session.Session, error) {
	if f.failCreate {
		return nil, errDisk
	}
	return f.SessionStore.Create(name, id, meta)
}

func (f *flakyStore) End(s *session.Session) error {
	if f.failEnd {
		return errDisk
	}
	return f.SessionStore.End(s)
}

// countingSource records how many times the monitor subscribed.
type countingSource struct {
	*watcher.Feed
	subscribes int
}

func (c *countingSource) Subscribe(h watcher.Handler) watcher.Subscription {
	c.subscribes++
	return c.Feed.Subscribe(h)
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestMonitor(t *testing.T) (*Monitor, *flakyStore, *watcher.Feed) {
	t.Helper()
	store, err := session.OpenSessionStore(t.TempDir())
	if err != nil {
		t.Fatalf("OpenSessionStore: %v", err)
	}
	flaky := &flakyStore{SessionStore: store}
	feed := watcher.NewFeed()
	return New(flaky, feed, selfID, WithLogger(discardLogger())), flaky, feed
}

func event(name, id string) watcher.Event {
	return watcher.Normalize(name, id)
}

func mustActivate(t *testing.T, m *Monitor, name, id string) {
	t.Helper()
	if err := m.HandleActivation(event(name, id)); err != nil {
		t.Fatalf("HandleActivation(%s): %v", id, err)
	}
}

func activeSessions(t *testing.T, store session.SessionStore) []*session.Session {
	t.Helper()
	active, err := store.ActiveSessions()
	if err != nil {
		t.Fatalf("ActiveSessions: %v", err)
	}
	return active
}

func allSessions(t *testing.T, store session.SessionStore) []*session.Session {
	t.Helper()
	all, err := store.All()
	if err != nil {
		t.Fatalf("All: %v", err)
	}
	return all
}

func TestActivationFromIdleStartsSession(t *testing.T) {
	m, store, _ := newTestMonitor(t)

	if len(activeSessions(t, store)) != 0 {
		t.Fatal("expected no active sessions initially")
	}

	mustActivate(t, m, "App1", "com.example.app1")

	active := activeSessions(t, store)
	if len(active) != 1 {
		t.Fatalf("expected 1 active session, got %d", len(active))
	}
	if active[0].AppName != "App1" || !active[0].Active || active[0].EndTime != nil {
		t.Errorf("unexpected session %+v", active[0])
	}
	if got := m.Active(); got == nil || got.AppID != "com.example.app1" {
		t.Errorf("monitor should track App1, got %+v", got)
	}
}

func TestReactivatingSameAppIsNoOp(t *testing.T) {
	m, store, _ := newTestMonitor(t)

	mustActivate(t, m, "App1", "com.example.app1")
	before := m.Active()

	mustActivate(t, m, "App1", "com.example.app1")
	// Same identifier with a different display name is still the same app.
	mustActivate(t, m, "App One", "com.example.app1")

	active := activeSessions(t, store)
	if len(active) != 1 {
		t.Fatalf("expected 1 active session, got %d", len(active))
	}
	if active[0].ID != before.ID || !active[0].StartTime.Equal(before.StartTime) {
		t.Errorf("session changed on reactivation: before %+v, after %+v", before, active[0])
	}
	if n := len(allSessions(t, store)); n != 1 {
		t.Errorf("expected 1 record in store, got %d", n)
	}
}

func TestSwitchingAppsEndsPreviousSession(t *testing.T) {
	m, store, _ := newTestMonitor(t)

	mustActivate(t, m, "App1", "com.example.app1")
	app1 := m.Active()

	mustActivate(t, m, "App2", "com.example.app2")

	all := allSessions(t, store)
	if len(all) != 2 {
		t.Fatalf("expected 2 records, got %d", len(all))
	}
	var ended, current *session.Session
	for _, s := range all {
		if s.ID == app1.ID {
			ended = s
		} else {
			current = s
		}
	}
	if ended == nil || ended.Active || ended.EndTime == nil {
		t.Fatalf("App1 session should be ended, got %+v", ended)
	}
	if ended.EndTime.Before(ended.StartTime) {
		t.Errorf("App1 ends before it starts: %v < %v", *ended.EndTime, ended.StartTime)
	}
	if current == nil || !current.Active || current.AppID != "com.example.app2" {
		t.Fatalf("App2 session should be active, got %+v", current)
	}
	if current.ID == app1.ID {
		t.Error("App2 session reused App1's identity")
	}
	if len(activeSessions(t, store)) != 1 {
		t.Error("expected exactly one active session after switch")
	}
}

func TestSelfActivationIsIgnored(t *testing.T) {
	m, store, _ := newTestMonitor(t)

	// Idle: nothing is created.
	mustActivate(t, m, "focustrack", selfID)
	if n := len(allSessions(t, store)); n != 0 {
		t.Fatalf("self activation from Idle created %d records", n)
	}
	if m.Active() != nil {
		t.Fatal("monitor should stay Idle")
	}

	// Tracking: the current session is untouched.
	mustActivate(t, m, "App1", "com.example.app1")
	before := m.Active()
	mustActivate(t, m, "focustrack", selfID)

	active := activeSessions(t, store)
	if len(active) != 1 || active[0].ID != before.ID {
		t.Fatalf("App1 should remain the sole active session, got %+v", active)
	}
	if n := len(allSessions(t, store)); n != 1 {
		t.Errorf("expected 1 record, got %d", n)
	}
}

func TestStopEndsActiveSession(t *testing.T) {
	m, store, feed := newTestMonitor(t)
	m.Start()

	feed.Emit("App1", "com.example.app1")
	app1 := m.Active()
	if app1 == nil {
		t.Fatal("expected App1 to be tracked after feed event")
	}

	if err := m.Stop(); err != nil {
		t.Fatalf("Stop: %v", err)
	}

	if n := len(activeSessions(t, store)); n != 0 {
		t.Errorf("expected 0 active sessions after Stop, got %d", n)
	}
	all := allSessions(t, store)
	if len(all) != 1 || all[0].ID != app1.ID || all[0].Active || all[0].EndTime == nil {
		t.Errorf("App1 should be ended, got %+v", all)
	}
	if m.Active() != nil {
		t.Error("monitor should be Idle after Stop")
	}
	if err := feed.Emit("App2", "com.example.app2"); !errors.Is(err, watcher.ErrNoListener) {
		t.Errorf("feed should have no listener after Stop, got %v", err)
	}
}

func TestStopIsIdempotent(t *testing.T) {
	m, store, _ := newTestMonitor(t)

	if err := m.Stop(); err != nil {
		t.Fatalf("Stop while Idle: %v", err)
	}
	mustActivate(t, m, "App1", "com.example.app1")
	for i := 0; i < 3; i++ {
		if err := m.Stop(); err != nil {
			t.Fatalf("Stop #%d: %v", i, err)
		}
	}
	if n := len(activeSessions(t, store)); n != 0 {
		t.Errorf("expected 0 active sessions, got %d", n)
	}
}

func TestStartTwiceKeepsSingleSubscription(t *testing.T) {
	store, err := session.OpenSessionStore(t.TempDir())
	if err != nil {
		t.Fatalf("OpenSessionStore: %v", err)
	}
	src := &countingSource{Feed: watcher.NewFeed()}
	m := New(store, src, selfID, WithLogger(discardLogger()))

	m.Start()
	m.Start()
	if !m.Subscribed() {
		t.Fatal("expected monitor to be subscribed")
	}
	if src.subscribes != 2 {
		t.Fatalf("expected Start to resubscribe, got %d subscribes", src.subscribes)
	}

	src.Emit("App1", "com.example.app1")
	if n := len(allSessions(t, store)); n != 1 {
		t.Fatalf("expected one record per event, got %d", n)
	}
	if n := len(activeSessions(t, store)); n != 1 {
		t.Fatalf("expected 1 active session, got %d", n)
	}

	if err := m.Stop(); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	if m.Subscribed() {
		t.Error("expected no subscription after Stop")
	}
}

func TestStartDoesNotTouchSessions(t *testing.T) {
	m, store, _ := newTestMonitor(t)

	mustActivate(t, m, "App1", "com.example.app1")
	before := m.Active()
	m.Start()
	m.Start()

	active := activeSessions(t, store)
	if len(active) != 1 || active[0].ID != before.ID {
		t.Fatalf("Start changed sessions: %+v", active)
	}
}

func TestFailedEndKeepsCurrentSession(t *testing.T) {
	m, store, _ := newTestMonitor(t)

	mustActivate(t, m, "App1", "com.example.app1")
	app1 := m.Active()

	store.failEnd = true
	err := m.HandleActivation(event("App2", "com.example.app2"))
	var terr *TransitionError
	if !errors.As(err, &terr) || terr.Op != "end" || !errors.Is(err, errDisk) {
		t.Fatalf("expected end TransitionError wrapping errDisk, got %v", err)
	}

	if got := m.Active(); got == nil || got.ID != app1.ID {
		t.Fatalf("monitor should still track App1, got %+v", got)
	}
	active := activeSessions(t, store)
	if len(active) != 1 || active[0].ID != app1.ID {
		t.Fatalf("store should hold only App1 active, got %+v", active)
	}

	// Once the store recovers the switch goes through.
	store.failEnd = false
	mustActivate(t, m, "App2", "com.example.app2")
	if got := m.Active(); got == nil || got.AppID != "com.example.app2" {
		t.Fatalf("expected App2 after recovery, got %+v", got)
	}
}

func TestFailedCreateLeavesMonitorIdle(t *testing.T) {
	m, store, _ := newTestMonitor(t)

	mustActivate(t, m, "App1", "com.example.app1")

	store.failCreate = true
	err := m.HandleActivation(event("App2", "com.example.app2"))
	var terr *TransitionError
	if !errors.As(err, &terr) || terr.Op != "create" || terr.AppID != "com.example.app2" {
		t.Fatalf("expected create TransitionError, got %v", err)
	}
	if m.Active() != nil {
		t.Fatal("monitor must not hold a session after a failed create")
	}
	if n := len(activeSessions(t, store)); n != 0 {
		t.Errorf("expected App1 ended and nothing active, got %d active", n)
	}

	store.failCreate = false
	mustActivate(t, m, "App2", "com.example.app2")
	if n := len(activeSessions(t, store)); n != 1 {
		t.Errorf("expected App2 active after recovery, got %d", n)
	}
}

func TestFailedStopCanBeRetried(t *testing.T) {
	m, store, _ := newTestMonitor(t)
	m.Start()
	mustActivate(t, m, "App1", "com.example.app1")

	store.failEnd = true
	if err := m.Stop(); !errors.Is(err, errDisk) {
		t.Fatalf("expected errDisk from Stop, got %v", err)
	}
	if m.Subscribed() {
		t.Error("Stop should release the subscription even when ending fails")
	}
	if m.Active() == nil {
		t.Fatal("session should stay tracked until it is ended")
	}

	store.failEnd = false
	if err := m.Stop(); err != nil {
		t.Fatalf("retry Stop: %v", err)
	}
	if n := len(activeSessions(t, store)); n != 0 {
		t.Errorf("expected 0 active sessions, got %d", n)
	}
}

func TestSessionEndedElsewhereIsReleased(t *testing.T) {
	m, store, _ := newTestMonitor(t)

	mustActivate(t, m, "App1", "com.example.app1")
	if err := store.End(m.Active()); err != nil {
		t.Fatalf("End: %v", err)
	}

	mustActivate(t, m, "App2", "com.example.app2")
	active := activeSessions(t, store)
	if len(active) != 1 || active[0].AppID != "com.example.app2" {
		t.Fatalf("expected only App2 active, got %+v", active)
	}
}

func TestMissingIdentifiersUsePlaceholders(t *testing.T) {
	m, store, _ := newTestMonitor(t)

	if err := m.HandleActivation(watcher.Event{}); err != nil {
		t.Fatalf("HandleActivation: %v", err)
	}
	active := activeSessions(t, store)
	if len(active) != 1 {
		t.Fatalf("expected 1 active session, got %d", len(active))
	}
	if active[0].AppName != watcher.UnknownAppName || active[0].AppID != watcher.UnknownAppID {
		t.Errorf("expected placeholders, got %q / %q", active[0].AppName, active[0].AppID)
	}
}

func TestUpdateActiveMergesMetadata(t *testing.T) {
	m, store, _ := newTestMonitor(t)

	if err := m.UpdateActive(session.MetadataUpdate{WindowTitle: session.String("ignored")}); err != nil {
		t.Fatalf("UpdateActive while Idle: %v", err)
	}

	mustActivate(t, m, "Xcode", "com.apple.dt.Xcode")
	if err := m.UpdateActive(session.MetadataUpdate{WindowTitle: session.String("DataManager.swift")}); err != nil {
		t.Fatalf("UpdateActive: %v", err)
	}
	if err := m.UpdateActive(session.MetadataUpdate{ProjectName: session.String("tracker")}); err != nil {
		t.Fatalf("UpdateActive: %v", err)
	}

	active := activeSessions(t, store)
	if active[0].WindowTitle != "DataManager.swift" || active[0].ProjectName != "tracker" {
		t.Errorf("metadata not merged: %+v", active[0].Metadata)
	}
	if got := m.Active(); got.WindowTitle != "DataManager.swift" {
		t.Errorf("monitor copy not updated: %+v", got.Metadata)
	}
}

func TestCloseOrphansEndsForeignActiveSessions(t *testing.T) {
	m, store, _ := newTestMonitor(t)

	// Left behind by a previous process.
	if _, err := store.Create("Stale", "com.example.stale", session.Metadata{}); err != nil {
		t.Fatalf("Create: %v", err)
	}
	mustActivate(t, m, "App1", "com.example.app1")

	n, err := m.CloseOrphans()
	if err != nil {
		t.Fatalf("CloseOrphans: %v", err)
	}
	if n != 1 {
		t.Errorf("expected 1 orphan closed, got %d", n)
	}
	active := activeSessions(t, store)
	if len(active) != 1 || active[0].AppID != "com.example.app1" {
		t.Fatalf("only the tracked session should stay active, got %+v", active)
	}
}

func TestCloseOrphansReportsEveryFailure(t *testing.T) {
	m, store, _ := newTestMonitor(t)
	for _, id := range []string{"com.example.one", "com.example.two"} {
		if _, err := store.Create("Stale", id, session.Metadata{}); err != nil {
			t.Fatalf("Create: %v", err)
		}
	}
	store.failEnd = true

	n, err := m.CloseOrphans()
	if n != 0 {
		t.Errorf("expected nothing closed, got %d", n)
	}
	var merr *multierror.Error
	if !errors.As(err, &merr) || len(merr.Errors) != 2 {
		t.Fatalf("expected two collected failures, got %v", err)
	}
	var terr *TransitionError
	if !errors.As(err, &terr) || terr.Op != "end" || !errors.Is(err, errDisk) {
		t.Errorf("failures should be end TransitionErrors wrapping the store error, got %v", err)
	}
}

func TestDeliveryAfterStopIsDropped(t *testing.T) {
	store, err := session.OpenSessionStore(t.TempDir())
	if err != nil {
		t.Fatalf("OpenSessionStore: %v", err)
	}
	var captured watcher.Handler
	src := &capturingSource{Feed: watcher.NewFeed(), capture: &captured}
	m := New(store, src, selfID, WithLogger(discardLogger()))

	m.Start()
	if err := m.Stop(); err != nil {
		t.Fatalf("Stop: %v", err)
	}

	// A delivery already in flight when Stop ran must not start a session.
	if err := captured(event("App1", "com.example.app1")); err != nil {
		t.Fatalf("stale delivery should be dropped silently, got %v", err)
	}
	if n := len(allSessions(t, store)); n != 0 {
		t.Errorf("stale delivery created %d records", n)
	}
}

type capturingSource struct {
	*watcher.Feed
	capture *watcher.Handler
}

func (c *capturingSource) Subscribe(h watcher.Handler) watcher.Subscription {
	*c.capture = h
	return c.Feed.Subscribe(h)
}

// Random event sequences with interleaved stop/start keep the store and the
// monitor consistent: at most one active session, and it matches what the
// monitor tracks.
func TestMonitorInvariantsHold(t *testing.T) {
	rapid.Check(t, func(rt *rapid.T) {
		store, err := session.OpenSessionStore(t.TempDir())
		if err != nil {
			rt.Fatalf("OpenSessionStore: %v", err)
		}
		feed := watcher.NewFeed()
		m := New(store, feed, selfID, WithLogger(discardLogger()))
		m.Start()

		apps := []string{"com.example.a", "com.example.b", "com.example.c", selfID}
		steps := rapid.IntRange(1, 30).Draw(rt, "steps")
		for i := 0; i < steps; i++ {
			before := m.Active()
			recordsBefore, _ := store.All()

			switch rapid.IntRange(0, 9).Draw(rt, "action") {
			case 0:
				if err := m.Stop(); err != nil {
					rt.Fatalf("Stop: %v", err)
				}
				if m.Active() != nil {
					rt.Fatal("monitor should be Idle after Stop")
				}
			case 1:
				m.Start()
			default:
				id := rapid.SampledFrom(apps).Draw(rt, "app")
				delivered := feed.Emit(id, id) == nil
				after := m.Active()
				recordsAfter, _ := store.All()

				switch {
				case !delivered:
					if len(recordsAfter) != len(recordsBefore) {
						rt.Fatal("undelivered event changed the store")
					}
				case id == selfID:
					if len(recordsAfter) != len(recordsBefore) {
						rt.Fatal("self activation created a record")
					}
					if (before == nil) != (after == nil) || (before != nil && before.ID != after.ID) {
						rt.Fatal("self activation changed the tracked session")
					}
				case before != nil && before.AppID == id:
					if after == nil || after.ID != before.ID || !after.StartTime.Equal(before.StartTime) {
						rt.Fatal("reactivation changed the tracked session")
					}
					if len(recordsAfter) != len(recordsBefore) {
						rt.Fatal("reactivation created a record")
					}
				default:
					if after == nil || after.AppID != id {
						rt.Fatalf("expected %s to be tracked, got %+v", id, after)
					}
					if len(recordsAfter) != len(recordsBefore)+1 {
						rt.Fatal("switch should create exactly one record")
					}
				}
			}

			active, err := store.ActiveSessions()
			if err != nil {
				rt.Fatalf("ActiveSessions: %v", err)
			}
			if len(active) > 1 {
				rt.Fatalf("%d sessions active at once", len(active))
			}
			cur := m.Active()
			switch {
			case cur == nil && len(active) != 0:
				rt.Fatalf("Idle monitor but store has active %+v", active[0])
			case cur != nil && (len(active) != 1 || active[0].ID != cur.ID):
				rt.Fatalf("tracked %s but store active %+v", cur.ID, active)
			}
			for _, s := range active {
				if s.AppID == selfID {
					rt.Fatal("self was recorded")
				}
			}
		}
	})
}

// recoveringStore fails a set number of creates and ends, then recovers.
type recoveringStore struct {
	session.SessionStore
	createFailures atomic.Int32
	endFailures    atomic.Int32
}

func (r *recoveringStore) Create(name, id string, meta session.Metadata) (*session.Session, error) {
	if r.createFailures.Add(-1) >= 0 {
		return nil, errDisk
	}
	return r.SessionStore.Create(name, id, meta)
}

func (r *recoveringStore) End(s *session.Session) error {
	if r.endFailures.Add(-1) >= 0 {
		return errDisk
	}
	return r.SessionStore.End(s)
}

// fixedProbe reports the same foreground app until told otherwise.
type fixedProbe struct {
	mu sync.Mutex
	id string
}

func (p *fixedProbe) set(id string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.id = id
}

func (p *fixedProbe) Available() error { return nil }

func (p *fixedProbe) Frontmost(context.Context) (string, string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.id, p.id, nil
}

func runPoller(t *testing.T, store session.SessionStore, probe watcher.Probe) *Monitor {
	t.Helper()
	poller := watcher.NewPoller(probe, 2*time.Millisecond)
	poller.Logger = discardLogger()
	m := New(store, poller, selfID, WithLogger(discardLogger()))
	m.Start()

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- poller.Run(ctx) }()
	t.Cleanup(func() {
		cancel()
		if err := <-done; err != nil {
			t.Errorf("poller: %v", err)
		}
		if err := m.Stop(); err != nil {
			t.Errorf("Stop: %v", err)
		}
	})
	return m
}

func waitForActive(t *testing.T, m *Monitor, id string) *session.Session {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if s := m.Active(); s != nil && s.AppID == id {
			return s
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatalf("%s never became the tracked session; tracking %+v", id, m.Active())
	return nil
}

func TestPolledAppTrackedOnceStoreRecoversFromCreateFailure(t *testing.T) {
	base, err := session.OpenSessionStore(t.TempDir())
	if err != nil {
		t.Fatalf("OpenSessionStore: %v", err)
	}
	store := &recoveringStore{SessionStore: base}
	store.createFailures.Store(3)

	m := runPoller(t, store, &fixedProbe{id: "com.example.app2"})
	waitForActive(t, m, "com.example.app2")

	if n := len(allSessions(t, base)); n != 1 {
		t.Errorf("expected exactly 1 record, got %d", n)
	}
}

func TestPolledSwitchCompletesOnceStoreRecoversFromEndFailure(t *testing.T) {
	base, err := session.OpenSessionStore(t.TempDir())
	if err != nil {
		t.Fatalf("OpenSessionStore: %v", err)
	}
	store := &recoveringStore{SessionStore: base}
	probe := &fixedProbe{id: "com.example.app1"}

	m := runPoller(t, store, probe)
	app1 := waitForActive(t, m, "com.example.app1")

	store.endFailures.Store(3)
	probe.set("com.example.app2")
	waitForActive(t, m, "com.example.app2")

	active := activeSessions(t, base)
	if len(active) != 1 || active[0].AppID != "com.example.app2" {
		t.Fatalf("expected only App2 active, got %+v", active)
	}
	all := allSessions(t, base)
	if len(all) != 2 || all[0].ID != app1.ID || all[0].EndTime == nil {
		t.Errorf("App1 should be ended and followed by App2, got %+v", all)
	}
}
