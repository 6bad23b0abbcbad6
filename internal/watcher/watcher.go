// Package watcher relays foreground-application changes to a single listener.
//
// Sources differ in how they learn about focus changes (an in-process feed,
// a tailed feed file, or polling the window system) but share one contract:
// at most one listener is registered, events are delivered one at a time in
// order, and unsubscribing is idempotent.
package watcher

import (
	"context"
	"errors"
	"strings"
	"sync"
)

// Placeholders substituted when the OS omits the application's name or
// identifier.
const (
	UnknownAppName = "Unknown App"
	UnknownAppID   = "unknown.bundle.id"
)

// Event is a focus change.
type Event struct {
	AppName string
	AppID   string
}

// Normalize builds an Event, substituting placeholders for missing fields.
func Normalize(name, id string) Event {
	name = strings.TrimSpace(name)
	id = strings.TrimSpace(id)
	if name == "" {
		name = UnknownAppName
	}
	if id == "" {
		id = UnknownAppID
	}
	return Event{AppName: name, AppID: id}
}

// Handler receives focus events. It is never called concurrently. A non-nil
// error means the event was not applied; sources that sample state offer it
// again instead of treating it as seen.
type Handler func(Event) error

// ErrNoListener is returned by deliveries made while nobody is subscribed.
var ErrNoListener = errors.New("no focus listener subscribed")

// Subscription is a registered listener.
type Subscription interface {
	// Unsubscribe stops delivery to the listener. Safe to call repeatedly.
	Unsubscribe()
}

// Source delivers focus events to exactly one listener. Subscribing replaces
// any previous listener.
type Source interface {
	Subscribe(h Handler) Subscription
}

// Runner is a Source that owns a goroutine producing events until ctx ends.
type Runner interface {
	Source
	Run(ctx context.Context) error
}

// relay holds the single listener and serializes delivery to it.
type relay struct {
	mu      sync.Mutex // guards handler and gen
	handler Handler
	gen     uint64

	deliverMu sync.Mutex // one event in flight at a time
}

// Subscribe registers h as the only listener.
func (r *relay) Subscribe(h Handler) Subscription {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.gen++
	r.handler = h
	return &subscription{r: r, gen: r.gen}
}

// Subscribed reports whether a listener is registered.
func (r *relay) Subscribed() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.handler != nil
}

// deliver hands ev to the listener and returns its verdict, or
// ErrNoListener when nobody is listening.
func (r *relay) deliver(ev Event) error {
	r.deliverMu.Lock()
	defer r.deliverMu.Unlock()

	r.mu.Lock()
	h := r.handler
	r.mu.Unlock()
	if h == nil {
		return ErrNoListener
	}
	return h(ev)
}

type subscription struct {
	r    *relay
	gen  uint64
	once sync.Once
}

func (s *subscription) Unsubscribe() {
	s.once.Do(func() {
		s.r.mu.Lock()
		defer s.r.mu.Unlock()
		// A newer subscription has already replaced this one.
		if s.r.gen == s.gen {
			s.r.handler = nil
		}
	})
}
