package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/MakeNowJust/heredoc"
	"github.com/spf13/cobra"
	"github.com/tujuhre12/pshell/internal/config"
	"github.com/tujuhre12/pshell/internal/shell"
	"gopkg.in/yaml.v3"
)

type runOptions struct {
	allowError  bool
	silent      bool
	timed       bool
	interactive bool
	format      string
	dir         string
}

var runCmd = &cobra.Command{
	Use:   "run [flags] -- <command>...",
	Short: "Run commands one after another in one shell",
	Long: heredoc.Doc(`
		Run each argument as a command in the same shell process. Shell state
		carries over from one command to the next. pshell stops at the first
		command that fails and exits with its status, unless --allow-error is
		given.
	`),
	Example: heredoc.Doc(`
		# State carries over
		pshell run -- 'cd /tmp' 'pwd'

		# Keep going after failures and report every status as YAML
		pshell run --allow-error --format yaml -- 'false' 'echo ok'

		# Run inside a directory and report how long it took
		pshell run --dir ./build --time -- 'make' 'make test'
	`),
	Args: cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		var ro runOptions
		ro.allowError, _ = cmd.Flags().GetBool("allow-error")
		ro.silent, _ = cmd.Flags().GetBool("silent")
		ro.timed, _ = cmd.Flags().GetBool("time")
		ro.interactive, _ = cmd.Flags().GetBool("interactive")
		ro.format, _ = cmd.Flags().GetString("format")
		ro.dir, _ = cmd.Flags().GetString("dir")

		if !validFormat(ro.format) {
			return fmt.Errorf("unsupported format: %s", ro.format)
		}

		cfg, err := setup(cmd)
		if err != nil {
			return err
		}
		return runCommands(cmd.Context(), cfg, ro, args, cmd.OutOrStdout(), cmd.ErrOrStderr(), cmd.InOrStdin())
	},
}

func init() {
	rootCmd.AddCommand(runCmd)
	runCmd.Flags().Bool("allow-error", false, "Keep going when a command fails")
	runCmd.Flags().BoolP("silent", "s", false, "Do not echo commands and their output")
	runCmd.Flags().BoolP("time", "t", false, "Report how long the commands took")
	runCmd.Flags().BoolP("interactive", "i", false, "Forward stdin to the running command")
	runCmd.Flags().StringP("format", "f", "text", "Output format (text, json, yaml)")
	runCmd.Flags().String("dir", "", "Run the commands in this directory")
}

func validFormat(format string) bool {
	switch format {
	case "text", "json", "yaml":
		return true
	}
	return false
}

// runCommands runs commands in a fresh session. With a report format the
// live echo is dropped and stdout only carries the report.
func runCommands(ctx context.Context, cfg *config.Config, ro runOptions, commands []string, stdout, stderr io.Writer, stdin io.Reader) error {
	report := ro.format != "text"

	echo := stdout
	if report {
		echo = io.Discard
	}
	opts := sessionOptions(cfg, echo, stderr, stdin)
	if ro.silent {
		opts.Echo.Silent = true
	}
	opts.InteractiveInput = ro.interactive

	sess := shell.NewSession(opts)
	defer sess.Shutdown()

	var execOpts []shell.ExecOption
	if ro.allowError {
		execOpts = append(execOpts, shell.AllowError())
	}

	var results []*shell.Result
	body := func(ctx context.Context) error {
		for _, command := range commands {
			res, err := sess.Execute(ctx, command, execOpts...)
			if res != nil {
				results = append(results, res)
			}
			if err != nil {
				return err
			}
		}
		return nil
	}

	err := sess.Scope(ctx, shell.ScopeOptions{StopOnError: true, ShowElapsed: ro.timed}, func(ctx context.Context) error {
		if ro.dir != "" {
			return sess.InDir(ctx, ro.dir, body)
		}
		return body(ctx)
	})

	if report {
		if perr := printReport(stdout, ro.format, results); perr != nil {
			return perr
		}
	}
	return err
}

type reportEntry struct {
	Command  string `json:"command" yaml:"command"`
	Status   int    `json:"status" yaml:"status"`
	Stdout   string `json:"stdout" yaml:"stdout"`
	Stderr   string `json:"stderr,omitempty" yaml:"stderr,omitempty"`
	Duration string `json:"duration" yaml:"duration"`
	Exited   bool   `json:"exited,omitempty" yaml:"exited,omitempty"`
}

type runReport struct {
	Results []reportEntry `json:"results" yaml:"results"`
	Failed  int           `json:"failed" yaml:"failed"`
}

func buildReport(results []*shell.Result) runReport {
	report := runReport{Results: make([]reportEntry, 0, len(results))}
	for _, res := range results {
		report.Results = append(report.Results, reportEntry{
			Command:  res.Command,
			Status:   res.Status,
			Stdout:   res.Output(),
			Stderr:   res.ErrorOutput(),
			Duration: res.Duration.String(),
			Exited:   res.Exited,
		})
		if res.Failed() {
			report.Failed++
		}
	}
	return report
}

func printReport(w io.Writer, format string, results []*shell.Result) error {
	report := buildReport(results)

	switch format {
	case "json":
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(report)
	case "yaml":
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		if err := enc.Encode(report); err != nil {
			return err
		}
		return enc.Close()
	case "text":
		for _, entry := range report.Results {
			fmt.Fprintf(w, "[%d] %s (%s)\n", entry.Status, entry.Command, entry.Duration)
			if entry.Stdout != "" {
				fmt.Fprint(w, indent(entry.Stdout))
			}
		}
		return nil
	default:
		return fmt.Errorf("unsupported format: %s", format)
	}
}

func indent(s string) string {
	lines := strings.SplitAfter(s, "\n")
	var b strings.Builder
	for _, line := range lines {
		if line == "" {
			continue
		}
		b.WriteString("    ")
		b.WriteString(line)
	}
	if !strings.HasSuffix(s, "\n") {
		b.WriteString("\n")
	}
	return b.String()
}
