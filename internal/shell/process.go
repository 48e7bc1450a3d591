package shell

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"golang.org/x/sys/unix"
)

// ProcessOptions describes the shell binary to spawn.
type ProcessOptions struct {
	// Path is the shell binary, looked up in PATH when it has no slash.
	Path string
	// Args must make the shell read commands from stdin one line at a time
	// and keep going after each one (e.g. "bash -s").
	Args []string
	// Env is appended to the environment inherited from this process. It
	// only matters at spawn time.
	Env []string
	// Dir is the initial working directory. Empty means inherit.
	Dir string
}

// Process owns the spawned shell and its three standard streams. It is the
// only writer to the shell's stdin.
type Process struct {
	opts ProcessOptions
	log  *slog.Logger

	mu      sync.Mutex
	cmd     *exec.Cmd
	stdin   io.WriteCloser
	stdout  *os.File
	stderr  *os.File
	started time.Time
	state   *os.ProcessState

	// done is closed by monitorExit once cmd.Wait returns.
	done chan struct{}

	terminated atomic.Bool
}

// NewProcess creates a process handle. Nothing is spawned until Start.
func NewProcess(opts ProcessOptions, log *slog.Logger) *Process {
	if log == nil {
		log = slog.Default()
	}
	return &Process{
		opts: opts,
		log:  log,
		done: make(chan struct{}),
	}
}

// Start spawns the shell. stdout and stderr are os.Pipe pairs owned by the
// handle: exec.Cmd hands the write ends straight to the child, so Wait never
// closes the read ends while the readers are still draining them.
func (p *Process) Start() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.cmd != nil {
		return ErrAlreadyStarted
	}

	cmd := exec.Command(p.opts.Path, p.opts.Args...)
	cmd.Dir = p.opts.Dir
	if len(p.opts.Env) > 0 {
		cmd.Env = append(os.Environ(), p.opts.Env...)
	}
	// Own process group, so Terminate also reaches whatever the shell is
	// running in the foreground.
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return fmt.Errorf("failed to get stdin pipe: %w", err)
	}
	outR, outW, err := os.Pipe()
	if err != nil {
		stdin.Close()
		return fmt.Errorf("failed to create stdout pipe: %w", err)
	}
	errR, errW, err := os.Pipe()
	if err != nil {
		stdin.Close()
		outR.Close()
		outW.Close()
		return fmt.Errorf("failed to create stderr pipe: %w", err)
	}
	cmd.Stdout = outW
	cmd.Stderr = errW

	if err := cmd.Start(); err != nil {
		stdin.Close()
		outR.Close()
		outW.Close()
		errR.Close()
		errW.Close()
		return fmt.Errorf("failed to start shell %q: %w", p.opts.Path, err)
	}
	// The child holds its own copies now; ours would keep EOF from arriving.
	outW.Close()
	errW.Close()

	p.cmd = cmd
	p.stdin = stdin
	p.stdout = outR
	p.stderr = errR
	p.started = time.Now()
	p.log.Debug("shell process started", "pid", cmd.Process.Pid, "path", p.opts.Path, "args", p.opts.Args)

	go p.monitorExit(cmd)
	return nil
}

func (p *Process) monitorExit(cmd *exec.Cmd) {
	err := cmd.Wait()

	p.mu.Lock()
	p.state = cmd.ProcessState
	p.mu.Unlock()

	var exitErr *exec.ExitError
	if err != nil && !errors.As(err, &exitErr) {
		p.log.Warn("failed to wait for shell process", "pid", cmd.Process.Pid, "error", err)
	}
	p.log.Debug("shell process exited", "pid", cmd.Process.Pid, "state", cmd.ProcessState.String(), "terminated", p.terminated.Load())
	close(p.done)
}

// Write sends raw bytes to the shell's stdin. There is no buffering: the
// bytes are visible to the shell as soon as Write returns.
func (p *Process) Write(b []byte) error {
	p.mu.Lock()
	stdin := p.stdin
	p.mu.Unlock()

	if stdin == nil || !p.IsAlive() {
		return ErrNotRunning
	}
	if _, err := stdin.Write(b); err != nil {
		return fmt.Errorf("failed to write to shell stdin: %w", err)
	}
	return nil
}

// Terminate asks the shell's process group to exit with SIGTERM and kills it
// if it is still there after grace. It waits for the exit and is safe to call
// any number of times.
func (p *Process) Terminate(grace time.Duration) error {
	p.mu.Lock()
	cmd := p.cmd
	p.mu.Unlock()

	if cmd == nil {
		return nil
	}
	first := !p.terminated.Swap(true)
	pid := cmd.Process.Pid

	select {
	case <-p.done:
		if first {
			// The shell is gone but whatever it left running in its group
			// still holds the output pipes.
			if err := unix.Kill(-pid, unix.SIGKILL); err != nil && !errors.Is(err, unix.ESRCH) {
				p.log.Debug("failed to kill leftover process group", "pgid", pid, "error", err)
			}
		}
		return nil
	default:
	}

	p.log.Debug("terminating shell process", "pid", pid, "grace", grace)
	if err := unix.Kill(-pid, unix.SIGTERM); err != nil && !errors.Is(err, unix.ESRCH) {
		p.log.Warn("failed to send SIGTERM to shell", "pid", pid, "error", err)
	}

	select {
	case <-p.done:
		return nil
	case <-time.After(grace):
	}

	p.log.Warn("shell did not exit after SIGTERM, killing", "pid", pid, "grace", grace)
	if err := unix.Kill(-pid, unix.SIGKILL); err != nil && !errors.Is(err, unix.ESRCH) {
		return fmt.Errorf("failed to kill shell process %d: %w", pid, err)
	}
	<-p.done
	return nil
}

// Signal delivers sig to the shell process only (not its group).
func (p *Process) Signal(sig os.Signal) error {
	p.mu.Lock()
	cmd := p.cmd
	p.mu.Unlock()

	if cmd == nil {
		return ErrNotRunning
	}
	return cmd.Process.Signal(sig)
}

// IsAlive reports whether the shell has been started and has not exited.
func (p *Process) IsAlive() bool {
	p.mu.Lock()
	started := p.cmd != nil
	p.mu.Unlock()

	if !started {
		return false
	}
	select {
	case <-p.done:
		return false
	default:
		return true
	}
}

// Done returns a channel that is closed when the shell exits.
func (p *Process) Done() <-chan struct{} {
	return p.done
}

// Terminated reports whether Terminate has been called.
func (p *Process) Terminated() bool {
	return p.terminated.Load()
}

// PID returns the process ID, or -1 if not started.
func (p *Process) PID() int {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.cmd == nil || p.cmd.Process == nil {
		return -1
	}
	return p.cmd.Process.Pid
}

// ExitState returns the shell's exit state, or nil while it is running.
func (p *Process) ExitState() *os.ProcessState {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.state
}

// StartedAt returns when the shell was spawned.
func (p *Process) StartedAt() time.Time {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.started
}

// Stdout returns the read end of the shell's stdout.
func (p *Process) Stdout() io.ReadCloser {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.stdout
}

// Stderr returns the read end of the shell's stderr.
func (p *Process) Stderr() io.ReadCloser {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.stderr
}

// exitedNormally reports whether the shell left on its own, with an exit
// status rather than a signal. Only meaningful once Done is closed.
func (p *Process) exitedNormally() (int, bool) {
	state := p.ExitState()
	if state == nil || p.terminated.Load() {
		return 0, false
	}
	ws, ok := state.Sys().(syscall.WaitStatus)
	if !ok || !ws.Exited() {
		return 0, false
	}
	return ws.ExitStatus(), true
}
