package shell

import (
	"context"
	"fmt"
	"strings"
	"time"
)

// DirScope is a directory override entered with EnterDir. Exit puts the
// shell back where it was.
type DirScope struct {
	s      *Session
	dir    string
	prev   string
	exited bool
}

// EnterDir changes the shell's directory to path and pushes it on the
// session's directory stack.
func (s *Session) EnterDir(ctx context.Context, path string) (*DirScope, error) {
	quoted, err := Quote(path)
	if err != nil {
		return nil, err
	}
	// One round trip: where we are, the cd, and where we ended up (cd may
	// resolve path through CDPATH). Directory names may hold newlines, so
	// each one ends with a NUL.
	res, err := s.Execute(ctx, `printf '%s\0' "$PWD" && cd -- `+quoted+` && printf '%s\0' "$PWD"`, Silent(true))
	if err != nil {
		return nil, fmt.Errorf("failed to enter directory %s: %w", path, err)
	}
	dirs := strings.Split(res.Output(), "\x00")
	if len(dirs) != 3 || dirs[2] != "" {
		return nil, fmt.Errorf("failed to enter directory %s: unexpected output %q", path, res.Output())
	}

	scope := &DirScope{
		s:    s,
		prev: dirs[0],
		dir:  dirs[1],
	}
	s.pushDir(scope.dir)
	s.log.Debug("entered directory", "dir", scope.dir, "previous", scope.prev)
	return scope, nil
}

// Dir returns the absolute directory the scope entered.
func (d *DirScope) Dir() string {
	return d.dir
}

// Exit pops the scope and changes back to the previous directory. The pop
// happens even if the cd fails. Calling Exit again does nothing.
func (d *DirScope) Exit(ctx context.Context) error {
	if d.exited {
		return nil
	}
	d.exited = true
	d.s.popDir(d.dir)

	quoted, err := Quote(d.prev)
	if err != nil {
		return err
	}
	if _, err := d.s.Execute(ctx, "cd -- "+quoted, Silent(true)); err != nil {
		return fmt.Errorf("failed to return to directory %s: %w", d.prev, err)
	}
	d.s.log.Debug("left directory", "dir", d.dir, "back_to", d.prev)
	return nil
}

// InDir runs fn with the shell in path. fn's error is returned unchanged;
// a failure to change back is returned only when fn succeeded.
func (s *Session) InDir(ctx context.Context, path string, fn func(context.Context) error) error {
	scope, err := s.EnterDir(ctx, path)
	if err != nil {
		return err
	}

	err = fn(ctx)
	if exitErr := scope.Exit(context.WithoutCancel(ctx)); exitErr != nil {
		if err == nil {
			return exitErr
		}
		s.log.Warn("failed to leave directory after error", "dir", path, "error", exitErr)
	}
	return err
}

// SlowNotifier is told about timing scopes that ran longer than
// Options.NotifyAfter.
type SlowNotifier interface {
	NotifyTaskComplete(ctx context.Context, title, message string)
}

// TimingScope measures the time between EnterTiming and Exit.
type TimingScope struct {
	s       *Session
	label   string
	started time.Time
	exited  bool
	elapsed time.Duration
}

// EnterTiming starts a timing scope. An empty label reports the shell's pid.
func (s *Session) EnterTiming(label string) *TimingScope {
	return &TimingScope{s: s, label: label, started: time.Now()}
}

// Exit reports and returns the elapsed time. Calling it again returns the
// first measurement without reporting it twice.
func (t *TimingScope) Exit() time.Duration {
	if t.exited {
		return t.elapsed
	}
	t.exited = true
	t.elapsed = time.Since(t.started)

	s := t.s
	pid := s.PID()
	secs := t.elapsed.Seconds()
	if t.label == "" {
		s.echo.message("Time elapsed (sec) of shell with pid=%d: %.3f", pid, secs)
	} else {
		s.echo.message("Time elapsed (sec) of %s: %.3f", t.label, secs)
	}
	s.log.Info("timing scope finished", "label", t.label, "pid", pid, "elapsed", t.elapsed)

	if s.opts.Notifier != nil && s.opts.NotifyAfter > 0 && t.elapsed >= s.opts.NotifyAfter {
		title := "pshell"
		if t.label != "" {
			title = "pshell: " + t.label
		}
		s.opts.Notifier.NotifyTaskComplete(context.Background(), title, fmt.Sprintf("Finished after %s", t.elapsed.Round(time.Millisecond)))
	}
	return t.elapsed
}

// Timed runs fn inside a timing scope and returns fn's error unchanged.
func (s *Session) Timed(label string, fn func() error) error {
	t := s.EnterTiming(label)
	defer t.Exit()
	return fn()
}
