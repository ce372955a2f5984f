// Package events delivers lifecycle notifications to explicitly registered
// observers and keeps a bounded per-subject history for late readers.
package events

import (
	"sync"
	"time"
)

// Type identifies what happened to a subject.
type Type string

const (
	Connecting      Type = "connecting"
	Connected       Type = "connected"
	ConnectError    Type = "error"
	Disconnected    Type = "disconnected"
	Reconnecting    Type = "reconnecting"
	ReconnectFailed Type = "reconnect-failed"
	KeyAdded        Type = "key:added"
	KeyRemoved      Type = "key:removed"
)

// Event is a single notification. Subject is the session or key id the
// event concerns.
type Event struct {
	Subject   string    `json:"subject"`
	Type      Type      `json:"type"`
	Details   string    `json:"details,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// Listener receives events. Listeners are invoked synchronously from
// Publish; long-running handlers should hand off to their own goroutine.
type Listener func(Event)

const maxHistoryPerSubject = 100

// Bus fans events out to listeners and records recent history per subject.
type Bus struct {
	mu        sync.RWMutex
	nextID    int
	listeners map[int]Listener
	history   map[string][]Event
}

func NewBus() *Bus {
	return &Bus{
		listeners: make(map[int]Listener),
		history:   make(map[string][]Event),
	}
}

// Subscribe registers a listener and returns a function that removes it.
func (b *Bus) Subscribe(l Listener) (cancel func()) {
	b.mu.Lock()
	id := b.nextID
	b.nextID++
	b.listeners[id] = l
	b.mu.Unlock()

	return func() {
		b.mu.Lock()
		delete(b.listeners, id)
		b.mu.Unlock()
	}
}

// Publish records the event and notifies all current listeners.
// Listeners are collected under the lock but invoked outside it.
func (b *Bus) Publish(subject string, t Type, details string) {
	ev := Event{
		Subject:   subject,
		Type:      t,
		Details:   details,
		Timestamp: time.Now(),
	}

	b.mu.Lock()
	hist := append(b.history[subject], ev)
	if len(hist) > maxHistoryPerSubject {
		hist = hist[len(hist)-maxHistoryPerSubject:]
	}
	b.history[subject] = hist

	targets := make([]Listener, 0, len(b.listeners))
	for _, l := range b.listeners {
		targets = append(targets, l)
	}
	b.mu.Unlock()

	for _, l := range targets {
		l(ev)
	}
}

// History returns a copy of the recorded events for a subject, oldest first.
func (b *Bus) History(subject string) []Event {
	b.mu.RLock()
	defer b.mu.RUnlock()

	hist := b.history[subject]
	out := make([]Event, len(hist))
	copy(out, hist)
	return out
}

// Forget drops the recorded history for a subject.
func (b *Bus) Forget(subject string) {
	b.mu.Lock()
	delete(b.history, subject)
	b.mu.Unlock()
}
