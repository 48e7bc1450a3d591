package shell

import (
	"context"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/charmbracelet/x/ansi"
	"github.com/google/uuid"
)

const (
	sentinelPrefix = "pshell_"
	statusVar      = "__pshell_rc"
)

// The user command runs inside a brace group so the shell reads it together
// with the status line before running any of it. Whatever the command reads
// from stdin is therefore what comes after, never the status line. The
// command itself is handed to eval as one quoted word: a non-interactive
// shell exits on a syntax error in its input, but only fails the eval. $? is
// put back afterwards so the next command sees it as a terminal would.
const statusLineFormat = "}; %[2]s=$?; printf '%%s %%d\\n' '%[1]s' \"$%[2]s\"; printf '%%s\\n' '%[1]s' >&2; (exit \"$%[2]s\")\n"

var staleFence = regexp.MustCompile(sentinelPrefix + `[0-9a-f]{32}\n$`)

// newSentinel returns a token with 128 random bits behind a fixed prefix.
func newSentinel() string {
	return sentinelPrefix + strings.ReplaceAll(uuid.NewString(), "-", "")
}

// frame builds the bytes written for one invocation: the quoted command,
// terminated by a newline, then the protocol-owned line that reports the
// status on stdout and a bare token fence on stderr.
func frame(command, token string) (string, error) {
	if strings.TrimSpace(command) == "" {
		command = ":"
	}
	quoted, err := Quote(command)
	if err != nil {
		return "", err
	}
	return "{ eval " + quoted + "\n" + fmt.Sprintf(statusLineFormat, token, statusVar), nil
}

// parseTerminator checks whether a stdout line carries the status for token.
// Anything before the token is output of a command that did not end its last
// line, and stays user output.
func parseTerminator(text, token string) (prefix string, status int, ok bool, err error) {
	body := strings.TrimSuffix(text, "\n")
	i := strings.LastIndex(body, token+" ")
	if i < 0 {
		return "", 0, false, nil
	}
	prefix = body[:i]
	digits := body[i+len(token)+1:]
	if digits == "" || strings.TrimLeft(digits, "0123456789") != "" {
		return prefix, 0, true, &ProtocolError{Line: text, Err: fmt.Errorf("status %q is not a number", digits)}
	}
	status, err = strconv.Atoi(digits)
	if err != nil {
		return prefix, 0, true, &ProtocolError{Line: text, Err: err}
	}
	return prefix, status, true, nil
}

// parseFence checks whether a stderr line is the fence for token.
func parseFence(text, token string) (prefix string, ok bool) {
	if !strings.HasSuffix(text, token+"\n") {
		return "", false
	}
	return strings.TrimSuffix(text, token+"\n"), true
}

// State is the lifecycle of one invocation.
type State int

const (
	StateIdle State = iota
	StateWriting
	StateDraining
	StateCompleted
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateWriting:
		return "writing"
	case StateDraining:
		return "draining"
	case StateCompleted:
		return "completed"
	case StateFailed:
		return "failed"
	default:
		return fmt.Sprintf("unknown(%d)", int(s))
	}
}

// invocation is the bookkeeping of one command in flight.
type invocation struct {
	command    string
	allowError bool
	silent     bool
	token      string
	state      State
	stdout     []string
	stderr     []string
	status     int
	exited     bool
	started    time.Time
}

func (inv *invocation) result() *Result {
	return &Result{
		Command:  inv.command,
		Stdout:   inv.stdout,
		Stderr:   inv.stderr,
		Status:   inv.status,
		Exited:   inv.exited,
		Duration: time.Since(inv.started),
	}
}

// drain consumes the shared queue for one invocation until its status is
// known. It is the only suspend point of an invocation.
type drain struct {
	s     *Session
	inv   *invocation
	proc  *Process
	lines *Queue[Line]

	echoed    [2]int
	held      [2]string
	cut       [2]bool
	gotStatus bool
	gotFence  bool
	closed    [2]bool
}

func (s *Session) protocol(ctx context.Context, proc *Process, lines *Queue[Line], inv *invocation) (*Result, error) {
	inv.token = newSentinel()
	inv.started = time.Now()

	framed, err := frame(inv.command, inv.token)
	if err != nil {
		inv.state = StateFailed
		return nil, &SyntaxError{Command: inv.command, Err: err}
	}

	inv.state = StateWriting
	if err := proc.Write([]byte(framed)); err != nil {
		inv.state = StateFailed
		return nil, s.died(proc, "write failed", err)
	}

	inv.state = StateDraining
	d := &drain{s: s, inv: inv, proc: proc, lines: lines}
	res, err := d.run(ctx)
	if err != nil {
		inv.state = StateFailed
		return res, err
	}
	inv.state = StateCompleted
	return res, nil
}

func (d *drain) run(ctx context.Context) (*Result, error) {
	var settle <-chan time.Time
	input := d.s.interactiveLines()
	exited := d.proc.Done()

	for !d.gotStatus || !d.gotFence {
		line, ok := d.lines.TryConsume()
		if ok {
			if line.Closed {
				d.closed[line.Stream] = true
				return d.streamClosed(ctx, line.Stream.String()+" closed", line.Err)
			}
			if err := d.handle(line); err != nil {
				return d.inv.result(), d.s.died(d.proc, "protocol violation", err)
			}
			if d.gotStatus && !d.gotFence && settle == nil {
				settle = time.After(d.s.opts.StderrSettle)
			}
			continue
		}

		select {
		case <-d.lines.Ready():
		case text, ok := <-input:
			if !ok {
				input = nil
				d.s.inputClosed()
				continue
			}
			if err := d.proc.Write([]byte(text)); err != nil {
				d.s.log.Debug("failed to forward operator input", "error", err)
			}
		case <-exited:
			// A child of the shell may hold the streams open, so EOF is
			// not a reliable sign that the shell is gone.
			return d.streamClosed(ctx, "shell exited", nil)
		case <-settle:
			d.s.log.Debug("stderr fence not seen, giving up on it", "command", d.inv.command)
			d.gotFence = true
		case <-ctx.Done():
			d.s.log.Warn("command interrupted, terminating shell", "command", d.inv.command, "error", ctx.Err())
			return d.inv.result(), d.s.died(d.proc, "command interrupted", ctx.Err())
		}
	}
	return d.inv.result(), nil
}

func (d *drain) handle(line Line) error {
	if line.Fragment {
		d.echoFragment(line)
		return nil
	}

	switch line.Stream {
	case Stdout:
		prefix, status, ok, err := parseTerminator(line.Text, d.inv.token)
		if err != nil {
			return err
		}
		if ok {
			d.capture(Stdout, prefix)
			d.inv.status = status
			d.gotStatus = true
			return nil
		}
		d.capture(Stdout, line.Text)
	case Stderr:
		if prefix, ok := parseFence(line.Text, d.inv.token); ok {
			d.capture(Stderr, prefix)
			d.gotFence = true
			return nil
		}
		text := line.Text
		if staleFence.MatchString(text) {
			// Fence of an earlier invocation that gave up waiting for it.
			text = staleFence.ReplaceAllString(text, "")
		}
		d.capture(Stderr, text)
	}
	return nil
}

// capture records a complete piece of output and echoes the part of it that
// was not already shown as a fragment.
func (d *drain) capture(stream StreamID, text string) {
	n := d.echoed[stream]
	d.echoed[stream] = 0
	d.held[stream] = ""
	d.cut[stream] = false
	if text == "" {
		return
	}
	if n <= len(text) {
		d.s.echo.line(stream, text[n:], d.inv.silent)
	}

	if d.s.opts.StripANSI {
		text = ansi.Strip(text)
	}
	if stream == Stdout {
		d.inv.stdout = append(d.inv.stdout, text)
	} else {
		d.inv.stderr = append(d.inv.stderr, text)
	}
}

// echoFragment shows the new bytes of an incomplete line. A tail that may be
// the start of a sentinel is held back until the next bytes tell, and nothing
// from a sentinel on is shown.
func (d *drain) echoFragment(line Line) {
	stream := line.Stream
	if d.cut[stream] {
		return
	}
	text := d.held[stream] + line.Text
	d.held[stream] = ""
	if i := strings.Index(text, sentinelPrefix); i >= 0 {
		text = text[:i]
		d.cut[stream] = true
	} else if k := partialPrefix(text, sentinelPrefix); k > 0 {
		d.held[stream] = text[len(text)-k:]
		text = text[:len(text)-k]
	}
	if text != "" {
		d.s.echo.line(stream, text, d.inv.silent)
		d.echoed[stream] += len(text)
	}
}

// partialPrefix returns the length of the longest suffix of s that is a
// proper prefix of p.
func partialPrefix(s, p string) int {
	for k := min(len(s), len(p)-1); k > 0; k-- {
		if strings.HasSuffix(s, p[:k]) {
			return k
		}
	}
	return 0
}

// streamClosed runs when a stream ends, or the shell exits, before the
// invocation completed. If the shell exited on its own (the command was
// "exit N"), the exit status is the command's status. Anything else means the
// session is gone.
func (d *drain) streamClosed(ctx context.Context, reason string, cause error) (*Result, error) {
	grace := d.s.opts.GracePeriod

	select {
	case <-d.proc.Done():
	case <-time.After(grace):
	case <-ctx.Done():
	}

	if status, ok := d.proc.exitedNormally(); ok {
		d.collectRest(grace)
		d.inv.status = status
		d.inv.exited = true
		d.s.log.Info("shell exited during command", "command", d.inv.command, "status", status)
		return d.inv.result(), nil
	}

	if d.proc.Terminated() {
		reason = "terminated"
	}
	if cause == nil && ctx.Err() != nil {
		cause = ctx.Err()
	}
	return d.inv.result(), d.s.died(d.proc, reason, cause)
}

// collectRest picks up output still queued after the shell exited.
func (d *drain) collectRest(grace time.Duration) {
	deadline := time.After(grace)
	for !d.closed[Stdout] || !d.closed[Stderr] {
		line, ok := d.lines.TryConsume()
		if ok {
			if line.Closed {
				d.closed[line.Stream] = true
				continue
			}
			if !line.Fragment {
				d.capture(line.Stream, line.Text)
			}
			continue
		}
		select {
		case <-d.lines.Ready():
		case <-deadline:
			return
		}
	}
}
