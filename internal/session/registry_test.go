package session

import (
	"context"
	"errors"
	"net"
	"strconv"
	"testing"
	"time"

	"github.com/halyard-ssh/halyard/internal/events"
)

func newTestRegistry(opts Options) (*Registry, *events.Bus) {
	bus := events.NewBus()
	return NewRegistry(bus, opts), bus
}

func TestConnectWithPassword(t *testing.T) {
	ts := startTestServer(t, nil)
	reg, _ := newTestRegistry(Options{})

	sess, err := reg.Connect(context.Background(), passwordConfig(ts))
	if err != nil {
		t.Fatalf("connect: %v", err)
	}
	if sess.Status != StatusConnected {
		t.Errorf("status = %s, want %s", sess.Status, StatusConnected)
	}
	if sess.ID == "" {
		t.Error("expected a session id")
	}
	if sess.Host != ts.host || sess.Port != ts.port || sess.Username != "tester" {
		t.Errorf("snapshot fields wrong: %+v", sess)
	}
	if sess.CreatedAt.IsZero() || sess.LastActivity.IsZero() {
		t.Error("timestamps not set")
	}
}

func TestConnectWithPrivateKey(t *testing.T) {
	privPEM, pub := newTestKey(t)
	ts := startTestServer(t, pub)
	reg, _ := newTestRegistry(Options{})

	cfg := Config{
		Host:       ts.host,
		Port:       ts.port,
		Username:   "tester",
		PrivateKey: privPEM,
	}
	sess, err := reg.Connect(context.Background(), cfg)
	if err != nil {
		t.Fatalf("connect: %v", err)
	}
	if sess.Status != StatusConnected {
		t.Errorf("status = %s, want %s", sess.Status, StatusConnected)
	}
}

func TestConnectAllocatesUniqueIDs(t *testing.T) {
	ts := startTestServer(t, nil)
	reg, _ := newTestRegistry(Options{})

	a, err := reg.Connect(context.Background(), passwordConfig(ts))
	if err != nil {
		t.Fatalf("first connect: %v", err)
	}
	b, err := reg.Connect(context.Background(), passwordConfig(ts))
	if err != nil {
		t.Fatalf("second connect: %v", err)
	}
	if a.ID == b.ID {
		t.Errorf("both sessions share id %s", a.ID)
	}
	if got := len(reg.ActiveSessions()); got != 2 {
		t.Errorf("active sessions = %d, want 2", got)
	}
}

func TestConnectAuthFailure(t *testing.T) {
	ts := startTestServer(t, nil)
	reg, _ := newTestRegistry(Options{})

	cfg := passwordConfig(ts)
	cfg.Password = "wrong"

	_, err := reg.Connect(context.Background(), cfg)
	var authErr *AuthError
	if !errors.As(err, &authErr) {
		t.Fatalf("expected AuthError, got %v", err)
	}
	if got := len(reg.ActiveSessions()); got != 0 {
		t.Errorf("failed session listed as active (%d)", got)
	}
}

func TestConnectBadKeyMaterial(t *testing.T) {
	reg, _ := newTestRegistry(Options{})

	cfg := Config{Host: "example.com", Port: 22, Username: "u", PrivateKey: "not a pem"}
	_, err := reg.Connect(context.Background(), cfg)
	var authErr *AuthError
	if !errors.As(err, &authErr) {
		t.Fatalf("expected AuthError for bad key material, got %v", err)
	}
}

func TestConnectRefused(t *testing.T) {
	reg, _ := newTestRegistry(Options{ConnectTimeout: 2 * time.Second})

	// Port from a listener we already closed; nothing is listening.
	ts := startTestServer(t, nil)
	cfg := passwordConfig(ts)
	ts.stop()

	_, err := reg.Connect(context.Background(), cfg)
	var terr *TransportError
	if !errors.As(err, &terr) {
		t.Fatalf("expected TransportError, got %v", err)
	}
}

func TestConnectValidation(t *testing.T) {
	reg, _ := newTestRegistry(Options{})

	_, err := reg.Connect(context.Background(), Config{Port: 22, Username: "u", Password: "p"})
	var invalid *InvalidConfigError
	if !errors.As(err, &invalid) {
		t.Fatalf("expected InvalidConfigError, got %v", err)
	}
}

func TestDisconnect(t *testing.T) {
	ts := startTestServer(t, nil)
	reg, _ := newTestRegistry(Options{DisconnectGrace: time.Second})

	sess, err := reg.Connect(context.Background(), passwordConfig(ts))
	if err != nil {
		t.Fatalf("connect: %v", err)
	}

	if err := reg.Disconnect(sess.ID); err != nil {
		t.Fatalf("disconnect: %v", err)
	}

	got, err := reg.Session(sess.ID)
	if err != nil {
		t.Fatalf("session lookup after disconnect: %v", err)
	}
	if got.Status != StatusDisconnected {
		t.Errorf("status = %s, want %s", got.Status, StatusDisconnected)
	}

	// Terminal sessions make disconnect a successful no-op.
	if err := reg.Disconnect(sess.ID); err != nil {
		t.Errorf("second disconnect: %v", err)
	}
}

func TestDisconnectWhileConnecting(t *testing.T) {
	// A listener that accepts TCP but never speaks SSH keeps the session
	// in the connecting state until the handshake times out.
	listener, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	t.Cleanup(func() { listener.Close() })
	go func() {
		for {
			if _, err := listener.Accept(); err != nil {
				return
			}
		}
	}()

	host, portStr, err := net.SplitHostPort(listener.Addr().String())
	if err != nil {
		t.Fatalf("split addr: %v", err)
	}
	port, _ := strconv.Atoi(portStr)

	reg, _ := newTestRegistry(Options{ConnectTimeout: 10 * time.Second})

	result := make(chan error, 1)
	go func() {
		_, err := reg.Connect(context.Background(), Config{
			Host: host, Port: port, Username: "tester", Password: testPassword,
		})
		result <- err
	}()

	var id string
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) && id == "" {
		for _, sess := range allSessions(reg) {
			if sess.Status == StatusConnecting {
				id = sess.ID
			}
		}
		time.Sleep(10 * time.Millisecond)
	}
	if id == "" {
		t.Fatal("session never observed in the connecting state")
	}

	if err := reg.Disconnect(id); err != nil {
		t.Fatalf("disconnect while connecting: %v", err)
	}

	select {
	case err := <-result:
		if err == nil {
			t.Fatal("connect succeeded after the session was disconnected")
		}
	case <-time.After(5 * time.Second):
		t.Fatal("connect did not abort after disconnect")
	}

	got, err := reg.Session(id)
	if err != nil {
		t.Fatalf("lookup: %v", err)
	}
	if !got.Status.Terminal() {
		t.Errorf("status = %s, want a terminal state", got.Status)
	}
}

func TestDisconnectUnknown(t *testing.T) {
	reg, _ := newTestRegistry(Options{})

	err := reg.Disconnect("no-such-id")
	var notFound *NotFoundError
	if !errors.As(err, &notFound) {
		t.Fatalf("expected NotFoundError, got %v", err)
	}
}

func TestDisconnectAll(t *testing.T) {
	ts := startTestServer(t, nil)
	reg, _ := newTestRegistry(Options{DisconnectGrace: time.Second})

	a, err := reg.Connect(context.Background(), passwordConfig(ts))
	if err != nil {
		t.Fatalf("connect a: %v", err)
	}
	b, err := reg.Connect(context.Background(), passwordConfig(ts))
	if err != nil {
		t.Fatalf("connect b: %v", err)
	}

	if err := reg.DisconnectAll(); err != nil {
		t.Fatalf("disconnect all: %v", err)
	}
	for _, id := range []string{a.ID, b.ID} {
		got, err := reg.Session(id)
		if err != nil {
			t.Fatalf("lookup %s: %v", id, err)
		}
		if got.Status != StatusDisconnected {
			t.Errorf("session %s status = %s, want %s", id, got.Status, StatusDisconnected)
		}
	}
}

func TestLifecycleEvents(t *testing.T) {
	ts := startTestServer(t, nil)
	reg, bus := newTestRegistry(Options{DisconnectGrace: time.Second})

	sess, err := reg.Connect(context.Background(), passwordConfig(ts))
	if err != nil {
		t.Fatalf("connect: %v", err)
	}
	if err := reg.Disconnect(sess.ID); err != nil {
		t.Fatalf("disconnect: %v", err)
	}

	hist := bus.History(sess.ID)
	want := []events.Type{events.Connecting, events.Connected, events.Disconnected}
	if len(hist) != len(want) {
		t.Fatalf("expected %d events, got %d: %+v", len(want), len(hist), hist)
	}
	for i, typ := range want {
		if hist[i].Type != typ {
			t.Errorf("event %d = %s, want %s", i, hist[i].Type, typ)
		}
	}
}

func TestErrorEventOnFailedConnect(t *testing.T) {
	ts := startTestServer(t, nil)
	reg, bus := newTestRegistry(Options{})

	cfg := passwordConfig(ts)
	cfg.Password = "wrong"
	_, err := reg.Connect(context.Background(), cfg)
	if err == nil {
		t.Fatal("expected connect to fail")
	}

	// The failed session is still in the table with its history.
	var found bool
	for _, sess := range allSessions(reg) {
		hist := bus.History(sess.ID)
		if len(hist) == 2 && hist[0].Type == events.Connecting && hist[1].Type == events.ConnectError {
			found = true
		}
	}
	if !found {
		t.Error("expected connecting followed by error in event history")
	}
}

func TestTransitionsEndpointData(t *testing.T) {
	ts := startTestServer(t, nil)
	reg, _ := newTestRegistry(Options{DisconnectGrace: time.Second})

	sess, err := reg.Connect(context.Background(), passwordConfig(ts))
	if err != nil {
		t.Fatalf("connect: %v", err)
	}
	if err := reg.Disconnect(sess.ID); err != nil {
		t.Fatalf("disconnect: %v", err)
	}

	transitions, err := reg.Transitions(sess.ID)
	if err != nil {
		t.Fatalf("transitions: %v", err)
	}
	if len(transitions) != 2 {
		t.Fatalf("expected 2 transitions, got %d", len(transitions))
	}
	if transitions[0].To != StatusConnected || transitions[1].To != StatusDisconnected {
		t.Errorf("unexpected transitions: %+v", transitions)
	}
}

func TestKeepaliveDetectsDeadLink(t *testing.T) {
	ts := startTestServer(t, nil)
	reg, _ := newTestRegistry(Options{
		KeepaliveInterval: 30 * time.Millisecond,
		KeepaliveMissed:   2,
	})

	sess, err := reg.Connect(context.Background(), passwordConfig(ts))
	if err != nil {
		t.Fatalf("connect: %v", err)
	}

	ts.closeAllConns()

	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		got, err := reg.Session(sess.ID)
		if err != nil {
			t.Fatalf("lookup: %v", err)
		}
		if got.Status == StatusDisconnected {
			return
		}
		time.Sleep(20 * time.Millisecond)
	}
	t.Fatal("keepalive never marked the session disconnected")
}

// allSessions returns snapshots of every session the registry knows,
// terminal ones included.
func allSessions(r *Registry) []Session {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]Session, 0, len(r.sessions))
	for _, ms := range r.sessions {
		out = append(out, ms.snapshot())
	}
	return out
}
