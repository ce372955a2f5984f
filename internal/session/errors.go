package session

import "fmt"

// InvalidConfigError reports a connect request rejected before dialing.
type InvalidConfigError struct {
	Reason string
}

func (e *InvalidConfigError) Error() string {
	return fmt.Sprintf("invalid session config: %s", e.Reason)
}

// NotFoundError reports an operation against a session id the registry has
// never seen.
type NotFoundError struct {
	ID string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("session %s not found", e.ID)
}

// UnavailableError reports an operation against a session whose current
// state does not allow it: I/O on a session that is not connected, or a
// reconnect of one that still is.
type UnavailableError struct {
	ID     string
	Status Status
}

func (e *UnavailableError) Error() string {
	return fmt.Sprintf("session %s is %s", e.ID, e.Status)
}

// AuthError reports credentials rejected while establishing a session, or
// key material that could not be parsed.
type AuthError struct {
	Host     string
	Username string
	Err      error
}

func (e *AuthError) Error() string {
	return fmt.Sprintf("authentication failed for %s@%s: %v", e.Username, e.Host, e.Err)
}

func (e *AuthError) Unwrap() error { return e.Err }

// TransportError wraps network, handshake, channel, and stream failures.
type TransportError struct {
	SessionID string
	Op        string
	Err       error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("session %s: %s: %v", e.SessionID, e.Op, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }
