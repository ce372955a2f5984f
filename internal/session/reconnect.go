package session

import (
	"context"
	"fmt"
	"time"

	"github.com/halyard-ssh/halyard/internal/events"
)

// Unit for the exponential backoff between reconnect attempts.
// Package-level so tests can shrink the delays.
var reconnectBackoffUnit = time.Second

// Reconnect re-establishes a dropped session from its retained connect
// configuration. It only accepts sessions in a terminal state, and since
// terminal states are terminal, success yields a NEW session with a fresh
// id. Attempts are spaced 2^attempt backoff units apart, capped by the
// registry's ReconnectAttempts. Reconnect is never triggered automatically
// on remote close; the caller decides.
func (r *Registry) Reconnect(ctx context.Context, id string) (Session, error) {
	ms, ok := r.lookup(id)
	if !ok {
		return Session{}, &NotFoundError{ID: id}
	}
	// Only dropped sessions reconnect; a live one would silently gain a
	// duplicate transport to the same host.
	if st := ms.currentStatus(); !st.Terminal() {
		return Session{}, &UnavailableError{ID: id, Status: st}
	}
	cfg := ms.cfg

	max := r.opts.ReconnectAttempts
	var lastErr error
	for attempt := 1; attempt <= max; attempt++ {
		r.bus.Publish(id, events.Reconnecting, fmt.Sprintf("attempt %d/%d", attempt, max))

		sess, err := r.Connect(ctx, cfg)
		if err == nil {
			return sess, nil
		}
		lastErr = err

		if attempt < max {
			delay := time.Duration(1<<uint(attempt)) * reconnectBackoffUnit
			select {
			case <-ctx.Done():
				return Session{}, ctx.Err()
			case <-time.After(delay):
			}
		}
	}

	r.bus.Publish(id, events.ReconnectFailed, fmt.Sprintf("gave up after %d attempts: %v", max, lastErr))
	return Session{}, fmt.Errorf("reconnect session %s: %w", id, lastErr)
}
