package session

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/sftp"
	"golang.org/x/crypto/ssh"

	"github.com/halyard-ssh/halyard/internal/events"
	"github.com/halyard-ssh/halyard/internal/logging"
)

// Registry defaults.
const (
	DefaultConnectTimeout    = 20 * time.Second
	DefaultKeepaliveInterval = 30 * time.Second
	DefaultKeepaliveMissed   = 3
	DefaultDisconnectGrace   = 5 * time.Second
	DefaultReconnectAttempts = 3
)

// Options tunes the registry. Zero values take the defaults above.
type Options struct {
	ConnectTimeout    time.Duration
	KeepaliveInterval time.Duration
	KeepaliveMissed   int
	DisconnectGrace   time.Duration
	ReconnectAttempts int
}

func (o Options) withDefaults() Options {
	if o.ConnectTimeout <= 0 {
		o.ConnectTimeout = DefaultConnectTimeout
	}
	if o.KeepaliveInterval <= 0 {
		o.KeepaliveInterval = DefaultKeepaliveInterval
	}
	if o.KeepaliveMissed <= 0 {
		o.KeepaliveMissed = DefaultKeepaliveMissed
	}
	if o.DisconnectGrace <= 0 {
		o.DisconnectGrace = DefaultDisconnectGrace
	}
	if o.ReconnectAttempts <= 0 {
		o.ReconnectAttempts = DefaultReconnectAttempts
	}
	return o
}

// Registry tracks every session created during its lifetime. Records stay
// in the table after reaching a terminal state so snapshots and transition
// history remain readable; ids are never reused.
type Registry struct {
	opts    Options
	bus     *events.Bus
	tracker *tracker

	mu       sync.RWMutex
	sessions map[string]*managedSession
}

func NewRegistry(bus *events.Bus, opts Options) *Registry {
	return &Registry{
		opts:     opts.withDefaults(),
		bus:      bus,
		tracker:  newTracker(),
		sessions: make(map[string]*managedSession),
	}
}

// Connect establishes a new session. The session is registered (and
// observable) as connecting before the dial starts; on failure it remains
// in the table with status error.
func (r *Registry) Connect(ctx context.Context, cfg Config) (Session, error) {
	if err := cfg.validate(); err != nil {
		return Session{}, err
	}
	auth, err := cfg.authMethod()
	if err != nil {
		return Session{}, err
	}

	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = r.opts.ConnectTimeout
	}

	now := time.Now()
	ms := &managedSession{
		id:           uuid.New().String(),
		cfg:          cfg,
		status:       StatusConnecting,
		createdAt:    now,
		lastActivity: now,
	}
	r.mu.Lock()
	r.sessions[ms.id] = ms
	r.mu.Unlock()

	addr := cfg.addr()
	r.bus.Publish(ms.id, events.Connecting, fmt.Sprintf("connecting to %s", addr))
	log.Printf("[session] %s connecting to %s as %s", ms.id, logging.Sanitize(addr), logging.Sanitize(cfg.Username))

	clientCfg := &ssh.ClientConfig{
		User:            cfg.Username,
		Auth:            []ssh.AuthMethod{auth},
		HostKeyCallback: ssh.InsecureIgnoreHostKey(),
		Timeout:         timeout,
	}

	dialCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	ms.mu.Lock()
	ms.cancelDial = cancel
	ms.mu.Unlock()

	dialer := net.Dialer{Timeout: timeout}
	netConn, err := dialer.DialContext(dialCtx, "tcp", addr)
	if err != nil {
		terr := &TransportError{SessionID: ms.id, Op: "dial " + addr, Err: err}
		r.fail(ms, terr.Error())
		return Session{}, terr
	}

	// Record the socket before the handshake so a concurrent Disconnect
	// can abort a session that is still connecting.
	ms.mu.Lock()
	ms.netConn = netConn
	ms.mu.Unlock()

	sshConn, chans, reqs, err := ssh.NewClientConn(netConn, addr, clientCfg)
	if err != nil {
		netConn.Close()
		if isAuthFailure(err) {
			aerr := &AuthError{Host: cfg.Host, Username: cfg.Username, Err: err}
			r.fail(ms, aerr.Error())
			return Session{}, aerr
		}
		terr := &TransportError{SessionID: ms.id, Op: "handshake with " + addr, Err: err}
		r.fail(ms, terr.Error())
		return Session{}, terr
	}
	client := ssh.NewClient(sshConn, chans, reqs)

	// Commit the client and the connected status in one critical section
	// so an abort requested while connecting cannot slip between them.
	keepCtx, stopKeep := context.WithCancel(context.Background())
	ms.mu.Lock()
	if ms.aborted {
		ms.mu.Unlock()
		stopKeep()
		client.Close()
		terr := &TransportError{SessionID: ms.id, Op: "connect", Err: errors.New("session closed while connecting")}
		r.fail(ms, terr.Error())
		return Session{}, terr
	}
	ms.client = client
	ms.stopKeep = stopKeep
	ms.status = StatusConnected
	ms.mu.Unlock()

	r.tracker.record(ms.id, StatusConnecting, StatusConnected, "handshake complete")
	r.bus.Publish(ms.id, events.Connected, "handshake complete")
	log.Printf("[session] %s %s -> %s (handshake complete)", ms.id, StatusConnecting, StatusConnected)
	go r.keepalive(keepCtx, ms.id, client)

	return ms.snapshot(), nil
}

// Disconnect tears a session down. Graceful close first; if the remote
// does not finish within the grace period the underlying socket is closed.
// A session already in a terminal state is a successful no-op.
func (r *Registry) Disconnect(id string) error {
	ms, ok := r.lookup(id)
	if !ok {
		return &NotFoundError{ID: id}
	}

	ms.mu.Lock()
	status := ms.status
	if status == StatusConnecting {
		// Abort the in-flight dial or handshake under the lock; the
		// connect path observes the dead socket (or the aborted flag)
		// and marks the session itself.
		ms.aborted = true
		if ms.cancelDial != nil {
			ms.cancelDial()
		}
		if ms.netConn != nil {
			ms.netConn.Close()
		}
		ms.mu.Unlock()
		return nil
	}
	client := ms.client
	netConn := ms.netConn
	stopKeep := ms.stopKeep
	ms.mu.Unlock()

	if status.Terminal() {
		return nil
	}

	if stopKeep != nil {
		stopKeep()
	}
	r.closeFileClient(ms)

	done := make(chan struct{})
	go func() {
		client.Wait()
		close(done)
	}()
	client.Close()

	select {
	case <-done:
	case <-time.After(r.opts.DisconnectGrace):
		log.Printf("[session] %s did not close within %s, forcing teardown", id, r.opts.DisconnectGrace)
		netConn.Close()
	}

	r.setStatus(ms, StatusDisconnected, "disconnect requested")
	return nil
}

// DisconnectAll tears down every live session. Failures are collected so
// one bad session cannot block the rest.
func (r *Registry) DisconnectAll() error {
	r.mu.RLock()
	ids := make([]string, 0, len(r.sessions))
	for id := range r.sessions {
		ids = append(ids, id)
	}
	r.mu.RUnlock()

	var errs []error
	for _, id := range ids {
		if err := r.Disconnect(id); err != nil {
			log.Printf("[session] shutdown of %s failed: %v", id, err)
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Session returns a snapshot of one session, known or terminal.
func (r *Registry) Session(id string) (Session, error) {
	ms, ok := r.lookup(id)
	if !ok {
		return Session{}, &NotFoundError{ID: id}
	}
	return ms.snapshot(), nil
}

// ActiveSessions returns snapshots of all sessions not in a terminal state.
func (r *Registry) ActiveSessions() []Session {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]Session, 0, len(r.sessions))
	for _, ms := range r.sessions {
		snap := ms.snapshot()
		if !snap.Status.Terminal() {
			out = append(out, snap)
		}
	}
	return out
}

// Transitions returns the recorded state changes for a session.
func (r *Registry) Transitions(id string) ([]Transition, error) {
	if _, ok := r.lookup(id); !ok {
		return nil, &NotFoundError{ID: id}
	}
	return r.tracker.history(id), nil
}

// AcquireFileClient returns the session's SFTP sub-channel, creating and
// caching it on first use, together with a release function. At most one
// sub-channel exists per session and all file operations serialize on it;
// callers must invoke release when the operation finishes.
func (r *Registry) AcquireFileClient(id string) (*sftp.Client, func(), error) {
	ms, err := r.connected(id)
	if err != nil {
		return nil, nil, err
	}

	ms.sftpMu.Lock()
	ms.mu.Lock()
	c := ms.sftpClient
	ms.mu.Unlock()
	if c == nil {
		c, err = sftp.NewClient(ms.clientRef())
		if err != nil {
			ms.sftpMu.Unlock()
			return nil, nil, &TransportError{SessionID: id, Op: "open sftp sub-channel", Err: err}
		}
		ms.mu.Lock()
		ms.sftpClient = c
		ms.mu.Unlock()
	}
	release := func() {
		ms.touch()
		ms.sftpMu.Unlock()
	}
	return c, release, nil
}

func (r *Registry) lookup(id string) (*managedSession, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ms, ok := r.sessions[id]
	return ms, ok
}

// connected resolves a session and verifies it is usable, before any I/O.
func (r *Registry) connected(id string) (*managedSession, error) {
	ms, ok := r.lookup(id)
	if !ok {
		return nil, &NotFoundError{ID: id}
	}
	if st := ms.currentStatus(); st != StatusConnected {
		return nil, &UnavailableError{ID: id, Status: st}
	}
	return ms, nil
}

// setStatus moves a session through the lifecycle, records the transition,
// and publishes the matching notification. Repeated or invalid moves are
// dropped, so concurrent teardown paths cannot double-fire.
func (r *Registry) setStatus(ms *managedSession, to Status, reason string) bool {
	ms.mu.Lock()
	from := ms.status
	if from == to || !validTransition(from, to) {
		ms.mu.Unlock()
		return false
	}
	ms.status = to
	ms.mu.Unlock()

	r.tracker.record(ms.id, from, to, reason)
	r.bus.Publish(ms.id, eventFor(to), reason)
	log.Printf("[session] %s %s -> %s (%s)", ms.id, from, to, logging.Sanitize(reason))
	return true
}

func eventFor(s Status) events.Type {
	switch s {
	case StatusConnecting:
		return events.Connecting
	case StatusConnected:
		return events.Connected
	case StatusDisconnected:
		return events.Disconnected
	}
	return events.ConnectError
}

func (r *Registry) fail(ms *managedSession, reason string) {
	r.setStatus(ms, StatusError, reason)
}

// closeFileClient drops the cached SFTP sub-channel without waiting on
// sftpMu: an in-flight transfer holds that mutex for its whole duration,
// and teardown must not queue behind it. Closing the client makes the
// stalled operation fail and release the mutex.
func (r *Registry) closeFileClient(ms *managedSession) {
	ms.mu.Lock()
	c := ms.sftpClient
	ms.sftpClient = nil
	ms.mu.Unlock()
	if c != nil {
		c.Close()
	}
}

// keepalive probes the transport on a fixed interval. After the configured
// number of consecutive failed probes the link is considered dead and the
// session is torn down. The session is resolved through the table by id so
// a session removed or replaced underneath us is simply abandoned.
func (r *Registry) keepalive(ctx context.Context, id string, client *ssh.Client) {
	ticker := time.NewTicker(r.opts.KeepaliveInterval)
	defer ticker.Stop()

	missed := 0
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			_, _, err := client.SendRequest("keepalive@openssh.com", true, nil)
			if err == nil {
				missed = 0
				continue
			}
			missed++
			if missed < r.opts.KeepaliveMissed {
				continue
			}

			ms, ok := r.lookup(id)
			if !ok || ms.clientRef() != client {
				return
			}
			log.Printf("[session] %s keepalive lost after %d probes: %v", id, missed, err)
			r.teardownDead(ms, fmt.Sprintf("keepalive failed: %v", err))
			return
		}
	}
}

// teardownDead handles a link declared dead by keepalive: close everything
// and mark the session disconnected.
func (r *Registry) teardownDead(ms *managedSession, reason string) {
	ms.mu.Lock()
	client := ms.client
	netConn := ms.netConn
	ms.mu.Unlock()

	r.closeFileClient(ms)
	if client != nil {
		client.Close()
	}
	if netConn != nil {
		netConn.Close()
	}
	r.setStatus(ms, StatusDisconnected, reason)
}

// isAuthFailure distinguishes rejected credentials from transport problems
// in the handshake error.
func isAuthFailure(err error) bool {
	return err != nil && strings.Contains(err.Error(), "unable to authenticate")
}
