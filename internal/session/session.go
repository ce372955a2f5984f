// Package session owns the lifecycle of outbound SSH sessions: a registry
// keyed by generated ids, a per-session state machine, keepalive
// monitoring, graceful and forced teardown, command execution, and a
// reconnect helper with exponential backoff.
package session

import (
	"context"
	"fmt"
	"net"
	"strconv"
	"sync"
	"time"

	"github.com/pkg/sftp"
	"golang.org/x/crypto/ssh"
)

// Session is a read-only snapshot of a managed session.
type Session struct {
	ID           string    `json:"id"`
	Host         string    `json:"host"`
	Port         int       `json:"port"`
	Username     string    `json:"username"`
	Status       Status    `json:"status"`
	CreatedAt    time.Time `json:"created_at"`
	LastActivity time.Time `json:"last_activity"`
}

// Config describes a connect request. Exactly one of Password or
// PrivateKey must be set; Passphrase only applies with PrivateKey.
// Timeout of zero uses the registry default.
type Config struct {
	Host       string
	Port       int
	Username   string
	Password   string
	PrivateKey string // PEM
	Passphrase string
	Timeout    time.Duration
}

func (c Config) addr() string {
	return net.JoinHostPort(c.Host, strconv.Itoa(c.Port))
}

func (c Config) validate() error {
	if c.Host == "" {
		return &InvalidConfigError{Reason: "host is required"}
	}
	if c.Port < 1 || c.Port > 65535 {
		return &InvalidConfigError{Reason: fmt.Sprintf("port %d out of range", c.Port)}
	}
	if c.Username == "" {
		return &InvalidConfigError{Reason: "username is required"}
	}
	if (c.Password == "") == (c.PrivateKey == "") {
		return &InvalidConfigError{Reason: "exactly one of password or private key is required"}
	}
	return nil
}

// authMethod builds the ssh auth method from the config. Unparseable key
// material is an authentication failure, reported before dialing.
func (c Config) authMethod() (ssh.AuthMethod, error) {
	if c.Password != "" {
		return ssh.Password(c.Password), nil
	}

	var signer ssh.Signer
	var err error
	if c.Passphrase != "" {
		signer, err = ssh.ParsePrivateKeyWithPassphrase([]byte(c.PrivateKey), []byte(c.Passphrase))
	} else {
		signer, err = ssh.ParsePrivateKey([]byte(c.PrivateKey))
	}
	if err != nil {
		return nil, &AuthError{Host: c.Host, Username: c.Username, Err: err}
	}
	return ssh.PublicKeys(signer), nil
}

// managedSession is the registry-owned record backing a Session snapshot.
// mu guards the mutable fields, including the cached SFTP sub-channel
// pointer. sftpMu only serializes operations on that sub-channel, so a
// stalled transfer cannot block status reads or teardown.
type managedSession struct {
	id  string
	cfg Config

	mu           sync.Mutex
	status       Status
	createdAt    time.Time
	lastActivity time.Time
	client       *ssh.Client
	netConn      net.Conn
	cancelDial   context.CancelFunc
	stopKeep     func()
	sftpClient   *sftp.Client
	aborted      bool

	sftpMu sync.Mutex
}

func (m *managedSession) snapshot() Session {
	m.mu.Lock()
	defer m.mu.Unlock()
	return Session{
		ID:           m.id,
		Host:         m.cfg.Host,
		Port:         m.cfg.Port,
		Username:     m.cfg.Username,
		Status:       m.status,
		CreatedAt:    m.createdAt,
		LastActivity: m.lastActivity,
	}
}

func (m *managedSession) currentStatus() Status {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.status
}

func (m *managedSession) clientRef() *ssh.Client {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.client
}

func (m *managedSession) touch() {
	m.mu.Lock()
	m.lastActivity = time.Now()
	m.mu.Unlock()
}
