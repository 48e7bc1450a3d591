package shell

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
)

var (
	// ErrProcessDied is the class of every failure that leaves the session
	// unusable. Use errors.Is to test for it.
	ErrProcessDied = errors.New("shell process died")

	// ErrSessionClosed is returned by calls made after Shutdown.
	ErrSessionClosed = errors.New("shell session is closed")

	// ErrConcurrentAccess marks a second invocation entering the protocol
	// while another one is in flight. The session lock makes it unreachable;
	// seeing it means the lock was bypassed.
	ErrConcurrentAccess = errors.New("concurrent command on the same shell session")

	ErrAlreadyStarted = errors.New("shell process already started")
	ErrNotRunning     = errors.New("shell process is not running")
)

// CommandFailedError is returned when a command completed with a non-zero
// exit status and the caller did not allow errors.
type CommandFailedError struct {
	Command string
	Status  int
	Stdout  string
	Stderr  string
}

func (e *CommandFailedError) Error() string {
	msg := fmt.Sprintf("command %q exited with status %d", e.Command, e.Status)
	if stderr := strings.TrimSpace(e.Stderr); stderr != "" {
		msg += ": " + stderr
	}
	return msg
}

// ProcessDiedError reports that the shell went away, or could no longer be
// trusted, while a command was in flight.
type ProcessDiedError struct {
	Reason string
	PID    int
	State  *os.ProcessState
	Err    error
}

func (e *ProcessDiedError) Error() string {
	msg := fmt.Sprintf("shell process (pid %d) died: %s", e.PID, e.Reason)
	if e.State != nil {
		msg += " (" + e.State.String() + ")"
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *ProcessDiedError) Unwrap() []error {
	if e.Err == nil {
		return []error{ErrProcessDied}
	}
	return []error{ErrProcessDied, e.Err}
}

// ProtocolError is returned when the status line could not be parsed. It
// belongs to the ErrProcessDied class since the channel cannot be trusted.
type ProtocolError struct {
	Line string
	Err  error
}

func (e *ProtocolError) Error() string {
	return fmt.Sprintf("malformed status line %q: %v", e.Line, e.Err)
}

func (e *ProtocolError) Unwrap() []error {
	return []error{ErrProcessDied, e.Err}
}

// SyntaxError is returned, before anything is written to the shell, for a
// command that is incomplete or cannot be passed to the shell at all.
type SyntaxError struct {
	Command string
	Err     error
}

func (e *SyntaxError) Error() string {
	return fmt.Sprintf("invalid command %q: %v", e.Command, e.Err)
}

func (e *SyntaxError) Unwrap() error {
	return e.Err
}

// IsProcessDied checks if an error means the session can no longer be used.
func IsProcessDied(err error) bool {
	return errors.Is(err, ErrProcessDied) || errors.Is(err, ErrSessionClosed)
}

// IsInterrupt checks if an error is due to interruption
func IsInterrupt(err error) bool {
	return errors.Is(err, context.Canceled) ||
		errors.Is(err, context.DeadlineExceeded)
}

// ExitCode extracts the exit code from an error
func ExitCode(err error) int {
	if err == nil {
		return 0
	}
	var failed *CommandFailedError
	if errors.As(err, &failed) {
		return failed.Status
	}
	return 1
}
