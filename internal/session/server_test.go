package session

import (
	"crypto/ed25519"
	"crypto/rand"
	"encoding/binary"
	"encoding/pem"
	"fmt"
	"net"
	"strconv"
	"strings"
	"sync"
	"testing"

	"golang.org/x/crypto/ssh"
)

const testPassword = "hunter2"

// testServer tracks an in-process SSH server's state.
type testServer struct {
	host string
	port int

	mu       sync.Mutex
	netConns []net.Conn
	cleanup  func()
}

// closeAllConns forcefully closes all accepted TCP connections, simulating
// a dead link.
func (ts *testServer) closeAllConns() {
	ts.mu.Lock()
	defer ts.mu.Unlock()
	for _, c := range ts.netConns {
		c.Close()
	}
	ts.netConns = nil
}

func (ts *testServer) stop() {
	ts.cleanup()
}

// newTestKey generates an ed25519 key pair and returns the private key PEM
// and the corresponding public key.
func newTestKey(t *testing.T) (string, ssh.PublicKey) {
	t.Helper()

	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	block, err := ssh.MarshalPrivateKey(priv, "")
	if err != nil {
		t.Fatalf("marshal private key: %v", err)
	}
	sshPub, err := ssh.NewPublicKey(pub)
	if err != nil {
		t.Fatalf("derive public key: %v", err)
	}
	return string(pem.EncodeToMemory(block)), sshPub
}

// startTestServer runs an in-process SSH server accepting testPassword and,
// when authorizedKey is non-nil, that public key. Its exec handler
// understands "echo <text>" (text to stdout, exit 0) and "fail <text>"
// (text to stderr, exit 3); anything else prints "ok" and exits 0.
func startTestServer(t *testing.T, authorizedKey ssh.PublicKey) *testServer {
	t.Helper()

	hostPEM, _ := newTestKey(t)
	hostSigner, err := ssh.ParsePrivateKey([]byte(hostPEM))
	if err != nil {
		t.Fatalf("parse host key: %v", err)
	}

	config := &ssh.ServerConfig{
		PasswordCallback: func(conn ssh.ConnMetadata, password []byte) (*ssh.Permissions, error) {
			if string(password) == testPassword {
				return &ssh.Permissions{}, nil
			}
			return nil, fmt.Errorf("wrong password")
		},
	}
	if authorizedKey != nil {
		config.PublicKeyCallback = func(conn ssh.ConnMetadata, key ssh.PublicKey) (*ssh.Permissions, error) {
			if ssh.FingerprintSHA256(key) == ssh.FingerprintSHA256(authorizedKey) {
				return &ssh.Permissions{}, nil
			}
			return nil, fmt.Errorf("unknown public key")
		}
	}
	config.AddHostKey(hostSigner)

	listener, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	host, portStr, err := net.SplitHostPort(listener.Addr().String())
	if err != nil {
		t.Fatalf("split addr: %v", err)
	}
	port, _ := strconv.Atoi(portStr)

	ts := &testServer{host: host, port: port}

	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			netConn, err := listener.Accept()
			if err != nil {
				return
			}
			ts.mu.Lock()
			ts.netConns = append(ts.netConns, netConn)
			ts.mu.Unlock()
			go handleTestConnection(netConn, config)
		}
	}()

	ts.cleanup = func() {
		listener.Close()
		ts.closeAllConns()
		<-done
	}
	t.Cleanup(ts.cleanup)

	return ts
}

func handleTestConnection(netConn net.Conn, config *ssh.ServerConfig) {
	sshConn, chans, reqs, err := ssh.NewServerConn(netConn, config)
	if err != nil {
		netConn.Close()
		return
	}
	defer sshConn.Close()

	go func() {
		for req := range reqs {
			if req.WantReply {
				req.Reply(true, nil)
			}
		}
	}()

	for newChan := range chans {
		if newChan.ChannelType() != "session" {
			newChan.Reject(ssh.UnknownChannelType, "unknown channel type")
			continue
		}
		ch, requests, err := newChan.Accept()
		if err != nil {
			continue
		}
		go serveTestChannel(ch, requests)
	}
}

func serveTestChannel(ch ssh.Channel, requests <-chan *ssh.Request) {
	defer ch.Close()
	for req := range requests {
		if req.Type != "exec" {
			if req.WantReply {
				req.Reply(true, nil)
			}
			continue
		}
		if req.WantReply {
			req.Reply(true, nil)
		}
		runTestCommand(ch, execPayloadCommand(req.Payload))
		return
	}
}

// execPayloadCommand extracts the command string from an exec request
// payload (uint32 length prefix plus the command bytes).
func execPayloadCommand(payload []byte) string {
	if len(payload) < 4 {
		return ""
	}
	n := binary.BigEndian.Uint32(payload)
	if int(n) > len(payload)-4 {
		return ""
	}
	return string(payload[4 : 4+n])
}

func runTestCommand(ch ssh.Channel, command string) {
	switch {
	case strings.HasPrefix(command, "echo "):
		fmt.Fprintln(ch, strings.TrimPrefix(command, "echo "))
		ch.SendRequest("exit-status", false, []byte{0, 0, 0, 0})
	case strings.HasPrefix(command, "fail "):
		fmt.Fprintln(ch.Stderr(), strings.TrimPrefix(command, "fail "))
		ch.SendRequest("exit-status", false, []byte{0, 0, 0, 3})
	default:
		fmt.Fprintln(ch, "ok")
		ch.SendRequest("exit-status", false, []byte{0, 0, 0, 0})
	}
}

func passwordConfig(ts *testServer) Config {
	return Config{
		Host:     ts.host,
		Port:     ts.port,
		Username: "tester",
		Password: testPassword,
	}
}
