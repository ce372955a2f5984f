package session

import (
	"sync"
	"time"
)

// Status is the lifecycle state of a session.
type Status string

const (
	StatusConnecting   Status = "connecting"
	StatusConnected    Status = "connected"
	StatusDisconnected Status = "disconnected"
	StatusError        Status = "error"
)

// Terminal reports whether a session in this state can never leave it.
// A new Connect always allocates a fresh session.
func (s Status) Terminal() bool {
	return s == StatusDisconnected || s == StatusError
}

// validTransition encodes the lifecycle: connecting may complete or fail,
// connected may only be torn down.
func validTransition(from, to Status) bool {
	switch from {
	case StatusConnecting:
		return to == StatusConnected || to == StatusError
	case StatusConnected:
		return to == StatusDisconnected
	}
	return false
}

// Transition is one recorded state change.
type Transition struct {
	From      Status    `json:"from"`
	To        Status    `json:"to"`
	Timestamp time.Time `json:"timestamp"`
	Reason    string    `json:"reason,omitempty"`
}

const maxTransitionsPerSession = 50

// tracker keeps a bounded transition history per session for diagnostics.
type tracker struct {
	mu          sync.Mutex
	transitions map[string][]Transition
}

func newTracker() *tracker {
	return &tracker{transitions: make(map[string][]Transition)}
}

func (t *tracker) record(id string, from, to Status, reason string) {
	t.mu.Lock()
	defer t.mu.Unlock()

	hist := append(t.transitions[id], Transition{
		From:      from,
		To:        to,
		Timestamp: time.Now(),
		Reason:    reason,
	})
	if len(hist) > maxTransitionsPerSession {
		hist = hist[len(hist)-maxTransitionsPerSession:]
	}
	t.transitions[id] = hist
}

func (t *tracker) history(id string) []Transition {
	t.mu.Lock()
	defer t.mu.Unlock()

	hist := t.transitions[id]
	out := make([]Transition, len(hist))
	copy(out, hist)
	return out
}
