package cmd

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/MakeNowJust/heredoc"
	"github.com/spf13/cobra"
	"github.com/tujuhre12/pshell/internal/config"
	"github.com/tujuhre12/pshell/internal/log"
	"github.com/tujuhre12/pshell/internal/shell"
	"golang.org/x/term"
)

var replCmd = &cobra.Command{
	Use:   "repl",
	Short: "Read commands from stdin and run them in one shell",
	Long: heredoc.Doc(`
		Read one command per line and run it in the same shell process.
		Failed commands do not end the session. When stdin is a terminal,
		lines typed while a command runs are sent to that command.

		Lines starting with ':' are handled by pshell itself; type :help
		for the list.
	`),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runRepl(cmd)
	},
}

func init() {
	rootCmd.AddCommand(replCmd)
}

const replHelp = `:cd <dir>             enter a directory scope
:back                 leave the innermost directory scope
:dirs                 list directory scopes
:interactive on|off   forward typed lines to running commands
:time <command>       run a command and report how long it took
:history              list the commands run so far
:restart              stop the shell; the next command starts a new one
                      in the innermost directory scope
:quit                 leave pshell
`

func runRepl(cmd *cobra.Command) error {
	cfg, err := setup(cmd)
	if err != nil {
		return err
	}
	in := cmd.InOrStdin()
	return repl(cmd.Context(), cfg, in, cmd.OutOrStdout(), cmd.ErrOrStderr(), isTerminal(in))
}

func isTerminal(r io.Reader) bool {
	f, ok := r.(*os.File)
	return ok && term.IsTerminal(int(f.Fd()))
}

type replState struct {
	sess    *shell.Session
	stdout  io.Writer
	stderr  io.Writer
	scopes  []*shell.DirScope
	history []*shell.Result
	// forward holds typed lines for the running command.
	forward *shell.Queue[string]
	pending []string
	eof     bool
}

func repl(ctx context.Context, cfg *config.Config, in io.Reader, stdout, stderr io.Writer, interactive bool) error {
	inputR, inputW := io.Pipe()
	defer inputW.Close()

	opts := sessionOptions(cfg, stdout, stderr, inputR)
	opts.InteractiveInput = interactive
	sess := shell.NewSession(opts)
	defer sess.Shutdown()

	r := &replState{
		sess:    sess,
		stdout:  stdout,
		stderr:  stderr,
		forward: shell.NewQueue[string](),
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	go r.pumpForward(ctx, inputW)
	lines := readLines(in)

	var last *shell.Result
	for {
		if interactive {
			fmt.Fprint(stderr, "pshell> ")
		}
		line, ok := r.next(ctx, lines)
		if !ok {
			break
		}
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}

		if strings.HasPrefix(line, ":") {
			quit, err := r.builtin(ctx, line, lines)
			if err != nil {
				fmt.Fprintf(stderr, "pshell: %v\n", err)
				if shell.IsProcessDied(err) {
					return err
				}
			}
			if quit {
				return nil
			}
			continue
		}

		res, err := r.execute(ctx, line, lines)
		if err != nil {
			if shell.IsProcessDied(err) || errors.Is(err, context.Canceled) {
				return err
			}
			fmt.Fprintf(stderr, "pshell: %v\n", err)
			continue
		}
		last = res
		if interactive && res.Failed() {
			fmt.Fprintf(stderr, "[status %d]\n", res.Status)
		}
	}

	if last != nil && last.Failed() {
		return &shell.CommandFailedError{Command: last.Command, Status: last.Status}
	}
	return nil
}

// readLines reads lines from in until EOF.
func readLines(in io.Reader) <-chan string {
	lines := make(chan string)
	go func() {
		defer log.RecoverPanic("repl-input", nil)
		defer close(lines)
		br := bufio.NewReader(in)
		for {
			line, err := br.ReadString('\n')
			if line != "" {
				lines <- line
			}
			if err != nil {
				return
			}
		}
	}()
	return lines
}

func (r *replState) next(ctx context.Context, lines <-chan string) (string, bool) {
	if len(r.pending) > 0 {
		line := r.pending[0]
		r.pending = r.pending[1:]
		return line, true
	}
	if r.eof {
		return "", false
	}
	select {
	case line, ok := <-lines:
		if !ok {
			r.eof = true
		}
		return line, ok
	case <-ctx.Done():
		return "", false
	}
}

// execute runs one command. Lines read meanwhile go to the command when
// interactive input is on and are queued as the next commands otherwise.
func (r *replState) execute(ctx context.Context, command string, lines <-chan string) (*shell.Result, error) {
	type outcome struct {
		res *shell.Result
		err error
	}
	done := make(chan outcome, 1)
	go func() {
		res, err := r.sess.Execute(ctx, command, shell.AllowError())
		done <- outcome{res: res, err: err}
	}()

	if r.eof {
		lines = nil
	}
	for {
		select {
		case o := <-done:
			if o.res != nil {
				r.history = append(r.history, o.res)
			}
			return o.res, o.err
		case line, ok := <-lines:
			if !ok {
				r.eof = true
				lines = nil
				continue
			}
			if r.sess.InteractiveInput() {
				r.forward.Publish(line)
			} else {
				r.pending = append(r.pending, line)
			}
		}
	}
}

// pumpForward writes forwarded lines into the session's input pipe.
func (r *replState) pumpForward(ctx context.Context, w io.Writer) {
	defer log.RecoverPanic("repl-forward", nil)
	for {
		line, err := r.forward.Consume(ctx)
		if err != nil {
			return
		}
		if _, err := io.WriteString(w, line); err != nil {
			return
		}
	}
}

func (r *replState) builtin(ctx context.Context, line string, lines <-chan string) (bool, error) {
	name, arg, _ := strings.Cut(strings.TrimPrefix(line, ":"), " ")
	arg = strings.TrimSpace(arg)

	switch name {
	case "quit", "exit", "q":
		return true, nil
	case "help":
		fmt.Fprint(r.stdout, replHelp)
	case "cd":
		if arg == "" {
			return false, errors.New("usage: :cd <dir>")
		}
		scope, err := r.sess.EnterDir(ctx, arg)
		if err != nil {
			return false, err
		}
		r.scopes = append(r.scopes, scope)
		fmt.Fprintln(r.stdout, scope.Dir())
	case "back":
		if len(r.scopes) == 0 {
			return false, errors.New("no directory scope to leave")
		}
		scope := r.scopes[len(r.scopes)-1]
		r.scopes = r.scopes[:len(r.scopes)-1]
		return false, scope.Exit(ctx)
	case "dirs":
		for _, dir := range r.sess.Dirs() {
			fmt.Fprintln(r.stdout, dir)
		}
	case "interactive":
		switch arg {
		case "on":
			r.sess.SetInteractiveInput(true)
		case "off":
			r.sess.SetInteractiveInput(false)
		case "":
			fmt.Fprintln(r.stdout, r.sess.InteractiveInput())
		default:
			return false, errors.New("usage: :interactive on|off")
		}
	case "time":
		if arg == "" {
			return false, errors.New("usage: :time <command>")
		}
		return false, r.sess.Timed(arg, func() error {
			_, err := r.execute(ctx, arg, lines)
			return err
		})
	case "history":
		return false, printReport(r.stdout, "text", r.history)
	case "restart":
		return false, r.sess.Stop()
	default:
		return false, fmt.Errorf("unknown command :%s, try :help", name)
	}
	return false, nil
}
