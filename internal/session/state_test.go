package session

import (
	"fmt"
	"testing"
)

func TestValidTransition(t *testing.T) {
	tests := []struct {
		from, to Status
		want     bool
	}{
		{StatusConnecting, StatusConnected, true},
		{StatusConnecting, StatusError, true},
		{StatusConnected, StatusDisconnected, true},
		{StatusConnecting, StatusDisconnected, false},
		{StatusConnected, StatusConnecting, false},
		{StatusConnected, StatusError, false},
		{StatusDisconnected, StatusConnecting, false},
		{StatusDisconnected, StatusConnected, false},
		{StatusError, StatusConnecting, false},
		{StatusError, StatusConnected, false},
	}

	for _, tt := range tests {
		if got := validTransition(tt.from, tt.to); got != tt.want {
			t.Errorf("validTransition(%s, %s) = %v, want %v", tt.from, tt.to, got, tt.want)
		}
	}
}

func TestStatusTerminal(t *testing.T) {
	tests := []struct {
		status Status
		want   bool
	}{
		{StatusConnecting, false},
		{StatusConnected, false},
		{StatusDisconnected, true},
		{StatusError, true},
	}

	for _, tt := range tests {
		if got := tt.status.Terminal(); got != tt.want {
			t.Errorf("%s.Terminal() = %v, want %v", tt.status, got, tt.want)
		}
	}
}

func TestTrackerRecordsHistory(t *testing.T) {
	tr := newTracker()
	tr.record("s1", StatusConnecting, StatusConnected, "handshake complete")
	tr.record("s1", StatusConnected, StatusDisconnected, "disconnect requested")

	hist := tr.history("s1")
	if len(hist) != 2 {
		t.Fatalf("expected 2 transitions, got %d", len(hist))
	}
	if hist[0].To != StatusConnected || hist[1].To != StatusDisconnected {
		t.Errorf("unexpected transition order: %+v", hist)
	}
	if hist[0].Reason != "handshake complete" {
		t.Errorf("reason not recorded: %q", hist[0].Reason)
	}
}

func TestTrackerBoundedHistory(t *testing.T) {
	tr := newTracker()
	for i := 0; i < maxTransitionsPerSession+20; i++ {
		tr.record("s1", StatusConnecting, StatusConnected, fmt.Sprintf("n%d", i))
	}

	hist := tr.history("s1")
	if len(hist) != maxTransitionsPerSession {
		t.Fatalf("expected %d transitions, got %d", maxTransitionsPerSession, len(hist))
	}
	if hist[len(hist)-1].Reason != fmt.Sprintf("n%d", maxTransitionsPerSession+19) {
		t.Errorf("newest transition missing, got %q", hist[len(hist)-1].Reason)
	}
	if hist[0].Reason != "n20" {
		t.Errorf("expected oldest entries trimmed, first is %q", hist[0].Reason)
	}
}

func TestTrackerUnknownSession(t *testing.T) {
	tr := newTracker()
	if hist := tr.history("nope"); len(hist) != 0 {
		t.Errorf("expected empty history, got %d entries", len(hist))
	}
}

func TestConfigValidate(t *testing.T) {
	base := Config{Host: "example.com", Port: 22, Username: "u", Password: "p"}

	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr bool
	}{
		{"valid password", func(c *Config) {}, false},
		{"valid key", func(c *Config) { c.Password = ""; c.PrivateKey = "pem" }, false},
		{"missing host", func(c *Config) { c.Host = "" }, true},
		{"port zero", func(c *Config) { c.Port = 0 }, true},
		{"port too large", func(c *Config) { c.Port = 70000 }, true},
		{"missing username", func(c *Config) { c.Username = "" }, true},
		{"no auth", func(c *Config) { c.Password = "" }, true},
		{"both auth", func(c *Config) { c.PrivateKey = "pem" }, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := base
			tt.mutate(&cfg)
			err := cfg.validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}
