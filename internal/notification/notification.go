package notification

import (
	"context"
	"fmt"
	"log/slog"
	"os/exec"
	"runtime"
	"strings"
	"time"
)

// Runner runs an external command. Tests replace it.
type Runner func(ctx context.Context, name string, args ...string) error

func execRunner(ctx context.Context, name string, args ...string) error {
	output, err := exec.CommandContext(ctx, name, args...).CombinedOutput()
	if err != nil {
		return fmt.Errorf("%s failed: %w, output: %s", name, err, strings.TrimSpace(string(output)))
	}
	return nil
}

// Notifier sends native desktop notifications when a long shell run ends.
type Notifier struct {
	enabled bool
	goos    string
	run     Runner
	timeout time.Duration
}

// New creates a new Notifier instance
func New(enabled bool) *Notifier {
	return &Notifier{
		enabled: enabled,
		goos:    runtime.GOOS,
		run:     execRunner,
		timeout: 5 * time.Second,
	}
}

// WithRunner replaces how notification commands are run.
func (n *Notifier) WithRunner(run Runner) *Notifier {
	n.run = run
	return n
}

// NotifyTaskComplete sends a notification in the background. Failures are
// logged only.
func (n *Notifier) NotifyTaskComplete(ctx context.Context, title, message string) {
	if !n.enabled {
		slog.Debug("Notifications disabled, skipping notification")
		return
	}

	slog.Debug("Sending notification", "title", title, "message", message)
	go func() {
		if err := n.Send(context.WithoutCancel(ctx), title, message); err != nil {
			slog.Warn("Failed to send notification", "error", err, "title", title)
		}
	}()
}

// Send delivers a notification and waits for the platform tool to finish.
func (n *Notifier) Send(ctx context.Context, title, message string) error {
	ctx, cancel := context.WithTimeout(ctx, n.timeout)
	defer cancel()

	switch n.goos {
	case "darwin":
		script := fmt.Sprintf(`display notification %s with title %s sound name "Glass"`, appleScriptString(message), appleScriptString(title))
		return n.run(ctx, "osascript", "-e", script)
	case "linux", "freebsd", "openbsd", "netbsd":
		return n.run(ctx, "notify-send", "--app-name=pshell", title, message)
	default:
		return fmt.Errorf("notifications not supported on %s", n.goos)
	}
}

// appleScriptString quotes s as an AppleScript string literal.
func appleScriptString(s string) string {
	s = strings.ReplaceAll(s, `\`, `\\`)
	s = strings.ReplaceAll(s, `"`, `\"`)
	return `"` + s + `"`
}
