package shell

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
)

const (
	DefaultGracePeriod  = 2 * time.Second
	DefaultStderrSettle = 250 * time.Millisecond
)

// Options configures a Session.
type Options struct {
	Process ProcessOptions
	Echo    EchoOptions

	// GracePeriod is how long a terminated shell gets before SIGKILL, and how
	// long a closed stream waits for the shell's exit status.
	GracePeriod time.Duration
	// StderrSettle bounds the wait for the stderr fence once the status is in.
	StderrSettle time.Duration

	ValidateSyntax bool
	// BlockFuncs refuse commands before they reach the shell.
	BlockFuncs []BlockFunc
	// StripANSI removes escape sequences from captured output. Echo keeps them.
	StripANSI bool

	// InteractiveInput forwards lines read from Input to the running command.
	InteractiveInput bool
	Input            io.Reader

	Stdout io.Writer
	Stderr io.Writer

	// NotifyAfter sends a notification through Notifier when a timing scope
	// runs at least this long. Zero disables it.
	NotifyAfter time.Duration
	Notifier    SlowNotifier

	Logger *slog.Logger
}

// DefaultOptions returns the options of a plain "bash -s" session that
// echoes commands and their output.
func DefaultOptions() Options {
	return Options{
		Process: ProcessOptions{Path: "bash", Args: []string{"-s"}},
		Echo: EchoOptions{
			PrintCommands:   true,
			PrintErrors:     true,
			PrintEmptyLines: true,
		},
		GracePeriod:    DefaultGracePeriod,
		StderrSettle:   DefaultStderrSettle,
		ValidateSyntax: true,
	}
}

// Result is the outcome of one command.
type Result struct {
	Command string `json:"command" yaml:"command"`
	// Stdout and Stderr hold the captured lines with their newlines.
	Stdout   []string      `json:"stdout" yaml:"stdout"`
	Stderr   []string      `json:"stderr" yaml:"stderr"`
	Status   int           `json:"status" yaml:"status"`
	Duration time.Duration `json:"duration" yaml:"duration"`
	// Exited is set when the command made the shell exit. The next command
	// starts a new shell.
	Exited bool `json:"exited,omitempty" yaml:"exited,omitempty"`
}

// Output returns the captured stdout as printed.
func (r *Result) Output() string {
	return strings.Join(r.Stdout, "")
}

// ErrorOutput returns the captured stderr as printed.
func (r *Result) ErrorOutput() string {
	return strings.Join(r.Stderr, "")
}

func (r *Result) Failed() bool {
	return r.Status != 0
}

type execConfig struct {
	allowError bool
	silent     *bool
}

// ExecOption tweaks a single Execute call.
type ExecOption func(*execConfig)

// AllowError makes a non-zero status a normal result instead of a
// *CommandFailedError.
func AllowError() ExecOption {
	return func(c *execConfig) { c.allowError = true }
}

// Silent overrides the session's Silent echo setting for one call.
func Silent(silent bool) ExecOption {
	return func(c *execConfig) { c.silent = &silent }
}

// Session runs commands one at a time against a single long-lived shell, so
// that the shell's own state (working directory, exported variables,
// functions) carries over from one command to the next.
type Session struct {
	opts Options
	id   string
	log  *slog.Logger
	echo *echoer

	// mu admits one invocation at a time.
	mu       sync.Mutex
	inFlight atomic.Bool

	stateMu     sync.Mutex
	proc        *Process
	lines       *Queue[Line]
	readers     *readers
	broken      error
	closed      bool
	scoped      bool
	interactive bool
	input       *inputPump
	dirs        []string
}

// NewSession creates a session. The shell is spawned on first use.
func NewSession(opts Options) *Session {
	if opts.Process.Path == "" {
		opts.Process.Path = "bash"
		if opts.Process.Args == nil {
			opts.Process.Args = []string{"-s"}
		}
	}
	if opts.GracePeriod <= 0 {
		opts.GracePeriod = DefaultGracePeriod
	}
	if opts.StderrSettle <= 0 {
		opts.StderrSettle = DefaultStderrSettle
	}
	if opts.Input == nil {
		opts.Input = os.Stdin
	}
	if opts.Stdout == nil {
		opts.Stdout = os.Stdout
	}
	if opts.Stderr == nil {
		opts.Stderr = os.Stderr
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}

	id := uuid.NewString()
	return &Session{
		opts:        opts,
		id:          id,
		log:         opts.Logger.With("component", "shell", "session_id", id),
		echo:        &echoer{out: opts.Stdout, err: opts.Stderr, opts: opts.Echo},
		interactive: opts.InteractiveInput,
	}
}

// ID identifies the session in logs.
func (s *Session) ID() string {
	return s.id
}

// Execute runs command and waits for it. A non-zero status is returned as a
// *CommandFailedError unless AllowError is given; the result is returned
// alongside it.
func (s *Session) Execute(ctx context.Context, command string, opts ...ExecOption) (*Result, error) {
	cfg := s.execConfig(opts)
	res, err := s.run(ctx, command, cfg)
	if err != nil {
		return res, err
	}
	if res.Failed() && !cfg.allowError {
		return res, &CommandFailedError{
			Command: res.Command,
			Status:  res.Status,
			Stdout:  res.Output(),
			Stderr:  res.ErrorOutput(),
		}
	}
	return res, nil
}

// Run runs command and returns its result whatever the status. Errors only
// come from the session itself.
func (s *Session) Run(ctx context.Context, command string, opts ...ExecOption) (*Result, error) {
	return s.run(ctx, command, s.execConfig(opts))
}

func (s *Session) execConfig(opts []ExecOption) execConfig {
	var cfg execConfig
	for _, opt := range opts {
		opt(&cfg)
	}
	return cfg
}

func (s *Session) run(ctx context.Context, command string, cfg execConfig) (*Result, error) {
	command = strings.TrimRight(command, " \t\r\n")
	if err := check(command, s.opts.ValidateSyntax, s.opts.BlockFuncs); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.inFlight.CompareAndSwap(false, true) {
		return nil, ErrConcurrentAccess
	}
	defer s.inFlight.Store(false)

	proc, lines, err := s.ready(ctx)
	if err != nil {
		return nil, err
	}

	silent := s.opts.Echo.Silent
	if cfg.silent != nil {
		silent = *cfg.silent
	}
	s.echo.command(command, silent)

	inv := &invocation{command: command, allowError: cfg.allowError, silent: silent}
	res, err := s.protocol(ctx, proc, lines, inv)
	if err != nil {
		return res, err
	}
	if res.Exited {
		s.dropProcess(proc)
	}
	s.log.Debug("command finished", "command", command, "status", res.Status, "duration", res.Duration)
	return res, nil
}

// Start spawns the shell now instead of on the first command.
func (s *Session) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, _, err := s.ready(ctx)
	return err
}

// ready returns a live process, spawning one if needed, with output left
// over from earlier commands flushed. Requires s.mu.
func (s *Session) ready(ctx context.Context) (*Process, *Queue[Line], error) {
	proc, lines, fresh, err := s.ensureStarted()
	if err != nil {
		return nil, nil, err
	}
	if err := s.flushStale(proc, lines); err != nil {
		return nil, nil, err
	}
	if fresh {
		if err := s.restoreDir(ctx, proc, lines); err != nil {
			return nil, nil, err
		}
	}
	return proc, lines, nil
}

func (s *Session) ensureStarted() (*Process, *Queue[Line], bool, error) {
	s.stateMu.Lock()
	defer s.stateMu.Unlock()

	if s.closed {
		return nil, nil, false, ErrSessionClosed
	}
	if s.broken != nil {
		return nil, nil, false, s.broken
	}
	if s.proc != nil {
		if !s.proc.IsAlive() {
			err := &ProcessDiedError{
				Reason: "exited while idle",
				PID:    s.proc.PID(),
				State:  s.proc.ExitState(),
			}
			s.broken = err
			s.log.Error("shell process is gone", "error", err)
			return nil, nil, false, err
		}
		return s.proc, s.lines, false, nil
	}

	proc := NewProcess(s.opts.Process, s.log)
	if err := proc.Start(); err != nil {
		return nil, nil, false, err
	}
	lines := NewQueue[Line]()
	s.proc = proc
	s.lines = lines
	s.readers = startReaders(proc.Stdout(), proc.Stderr(), lines, s.log)

	s.log.Info("shell process created", "pid", proc.PID(), "path", s.opts.Process.Path)
	s.echo.lifecycle("Created shell process with pid=%d", proc.PID())
	return proc, lines, true, nil
}

// flushStale shows output that arrived between commands, such as a
// background job's, without attributing it to the next command.
func (s *Session) flushStale(proc *Process, lines *Queue[Line]) error {
	for {
		line, ok := lines.TryConsume()
		if !ok {
			return nil
		}
		if line.Closed {
			return s.died(proc, line.Stream.String()+" closed while idle", line.Err)
		}
		if line.Fragment {
			continue
		}
		text := staleFence.ReplaceAllString(line.Text, "")
		s.log.Debug("output between commands", "stream", line.Stream, "text", text)
		s.echo.line(line.Stream, text, s.opts.Echo.Silent)
	}
}

// restoreDir puts a replacement shell back into the innermost directory scope.
func (s *Session) restoreDir(ctx context.Context, proc *Process, lines *Queue[Line]) error {
	dirs := s.Dirs()
	if len(dirs) == 0 {
		return nil
	}
	dir := dirs[len(dirs)-1]
	quoted, err := Quote(dir)
	if err != nil {
		return err
	}
	inv := &invocation{command: "cd -- " + quoted, silent: true}
	res, err := s.protocol(ctx, proc, lines, inv)
	if err != nil {
		return err
	}
	if res.Failed() {
		return fmt.Errorf("failed to restore directory %s in new shell: %w", dir, &CommandFailedError{
			Command: res.Command,
			Status:  res.Status,
			Stderr:  res.ErrorOutput(),
		})
	}
	return nil
}

// died ends proc and, if it is still the session's shell, leaves the
// session broken. It returns the error for the caller.
func (s *Session) died(proc *Process, reason string, cause error) error {
	if err := proc.Terminate(s.opts.GracePeriod); err != nil {
		s.log.Warn("failed to terminate shell", "pid", proc.PID(), "error", err)
	}
	err := &ProcessDiedError{
		Reason: reason,
		PID:    proc.PID(),
		State:  proc.ExitState(),
		Err:    cause,
	}

	s.stateMu.Lock()
	defer s.stateMu.Unlock()
	if s.proc == proc && s.broken == nil {
		s.broken = err
		s.log.Error("shell session broken", "error", err)
	}
	return err
}

func (s *Session) dropProcess(proc *Process) {
	s.stateMu.Lock()
	defer s.stateMu.Unlock()
	if s.proc != proc {
		return
	}
	s.proc = nil
	s.lines = nil
	s.readers = nil
	s.log.Info("shell process exited, next command starts a new one", "pid", proc.PID())
}

// Stop terminates the shell but keeps the session usable: the next command
// starts a new shell, inside the innermost directory scope if any. A broken
// session stays broken.
func (s *Session) Stop() error {
	s.stateMu.Lock()
	proc, rd := s.proc, s.readers
	s.proc = nil
	s.lines = nil
	s.readers = nil
	s.stateMu.Unlock()

	return s.stopProcess(proc, rd)
}

// Shutdown terminates the shell. Later calls fail with ErrSessionClosed.
// It does not wait for a running command, which fails with a
// *ProcessDiedError.
func (s *Session) Shutdown() error {
	s.stateMu.Lock()
	if s.closed {
		s.stateMu.Unlock()
		return nil
	}
	s.closed = true
	proc, rd, pump := s.proc, s.readers, s.input
	s.proc = nil
	s.lines = nil
	s.readers = nil
	s.input = nil
	s.stateMu.Unlock()

	if pump != nil {
		pump.stop()
	}
	return s.stopProcess(proc, rd)
}

func (s *Session) stopProcess(proc *Process, rd *readers) error {
	if proc == nil {
		return nil
	}
	pid := proc.PID()
	err := proc.Terminate(s.opts.GracePeriod)
	if rd != nil && !rd.wait(s.opts.GracePeriod) {
		s.log.Warn("shell output still open after stop", "pid", pid)
	}
	s.log.Info("shell process stopped", "pid", pid, "uptime", time.Since(proc.StartedAt()).Round(time.Millisecond))
	s.echo.lifecycle("Stopped shell process with pid=%d", pid)
	if err != nil {
		return fmt.Errorf("failed to stop shell process %d: %w", pid, err)
	}
	return nil
}

// Broken reports whether the shell died under a command. A broken session
// fails every call with the original error.
func (s *Session) Broken() bool {
	s.stateMu.Lock()
	defer s.stateMu.Unlock()
	return s.broken != nil
}

// PID returns the shell's process ID, or -1 when none is running.
func (s *Session) PID() int {
	s.stateMu.Lock()
	defer s.stateMu.Unlock()
	if s.proc == nil {
		return -1
	}
	return s.proc.PID()
}

// SetInteractiveInput turns forwarding of operator input on or off. It takes
// effect for the next command.
func (s *Session) SetInteractiveInput(on bool) {
	s.stateMu.Lock()
	defer s.stateMu.Unlock()
	s.interactive = on
}

func (s *Session) InteractiveInput() bool {
	s.stateMu.Lock()
	defer s.stateMu.Unlock()
	return s.interactive
}

// interactiveLines returns the operator input channel, or nil when input is
// not forwarded.
func (s *Session) interactiveLines() <-chan string {
	s.stateMu.Lock()
	defer s.stateMu.Unlock()
	if !s.interactive || s.closed {
		return nil
	}
	if s.input == nil {
		s.input = newInputPump(s.opts.Input, s.log)
	}
	return s.input.lines
}

// inputClosed turns forwarding off once the operator input reached its end.
func (s *Session) inputClosed() {
	s.stateMu.Lock()
	defer s.stateMu.Unlock()
	s.interactive = false
	s.log.Debug("operator input closed")
}

// Dirs returns the stack of directories entered with EnterDir, innermost
// last.
func (s *Session) Dirs() []string {
	s.stateMu.Lock()
	defer s.stateMu.Unlock()
	return append([]string(nil), s.dirs...)
}

func (s *Session) pushDir(dir string) {
	s.stateMu.Lock()
	defer s.stateMu.Unlock()
	s.dirs = append(s.dirs, dir)
}

func (s *Session) popDir(dir string) {
	s.stateMu.Lock()
	defer s.stateMu.Unlock()
	for i := len(s.dirs) - 1; i >= 0; i-- {
		if s.dirs[i] == dir {
			s.dirs = append(s.dirs[:i], s.dirs[i+1:]...)
			return
		}
	}
}

// ScopeOptions configures Scope.
type ScopeOptions struct {
	// StopOnError stops the shell when fn fails. Otherwise it is left
	// running for the caller to inspect.
	StopOnError bool
	// ShowElapsed reports how long fn took.
	ShowElapsed bool
}

var errScopeActive = errors.New("shell scope already active")

// Scope starts the shell, runs fn and stops the shell once fn returns. When
// fn fails the error is reported and returned unchanged, and the shell is
// only stopped if StopOnError is set.
func (s *Session) Scope(ctx context.Context, opts ScopeOptions, fn func(context.Context) error) error {
	s.stateMu.Lock()
	if s.scoped {
		s.stateMu.Unlock()
		return errScopeActive
	}
	s.scoped = true
	s.stateMu.Unlock()
	defer func() {
		s.stateMu.Lock()
		s.scoped = false
		s.stateMu.Unlock()
	}()

	if err := s.Start(ctx); err != nil {
		return err
	}

	var timing *TimingScope
	if opts.ShowElapsed {
		timing = s.EnterTiming("")
	}
	err := fn(ctx)
	if timing != nil {
		timing.Exit()
	}

	if err != nil {
		pid := s.PID()
		s.echo.errorf("Exception during shell process with pid=%d: %v", pid, err)
		s.log.Error("shell scope failed", "pid", pid, "error", err)
		if opts.StopOnError {
			if stopErr := s.Stop(); stopErr != nil {
				s.log.Warn("failed to stop shell after error", "error", stopErr)
			}
		}
		return err
	}
	return s.Stop()
}
