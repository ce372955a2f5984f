package session

import (
	"bytes"
	"errors"
	"time"

	"golang.org/x/crypto/ssh"
)

// CommandResult is the outcome of one remote command. Immutable once
// returned.
type CommandResult struct {
	Stdout   []byte        `json:"-"`
	Stderr   []byte        `json:"-"`
	ExitCode int           `json:"exit_code"`
	Duration time.Duration `json:"duration"`
}

// Executor runs commands over connected sessions. Each call opens its own
// channel, so concurrent executions on one session are independent.
type Executor struct {
	reg *Registry
}

func NewExecutor(reg *Registry) *Executor {
	return &Executor{reg: reg}
}

// Execute runs command on the session and captures stdout and stderr
// separately. The session gate is checked before any I/O: a missing or
// non-connected session fails without touching the transport. A non-zero
// remote exit status is a result, not an error; only channel or stream
// failures surface as TransportError. No retries and no timeout here —
// cancelling a command means disconnecting the session.
func (e *Executor) Execute(id, command string) (*CommandResult, error) {
	ms, err := e.reg.connected(id)
	if err != nil {
		return nil, err
	}

	ch, err := ms.clientRef().NewSession()
	if err != nil {
		return nil, &TransportError{SessionID: id, Op: "open exec channel", Err: err}
	}
	defer ch.Close()

	var outBuf, errBuf bytes.Buffer
	ch.Stdout = &outBuf
	ch.Stderr = &errBuf

	start := time.Now()
	runErr := ch.Run(command)
	elapsed := time.Since(start)

	exitCode := 0
	if runErr != nil {
		var exitErr *ssh.ExitError
		var missingErr *ssh.ExitMissingError
		switch {
		case errors.As(runErr, &exitErr):
			exitCode = exitErr.ExitStatus()
		case errors.As(runErr, &missingErr):
			// Transport reported no status; treat as success.
		default:
			return nil, &TransportError{SessionID: id, Op: "run command", Err: runErr}
		}
	}

	ms.touch()
	return &CommandResult{
		Stdout:   outBuf.Bytes(),
		Stderr:   errBuf.Bytes(),
		ExitCode: exitCode,
		Duration: elapsed,
	}, nil
}
