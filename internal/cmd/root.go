package cmd

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/MakeNowJust/heredoc"
	"github.com/charmbracelet/fang"
	"github.com/spf13/cobra"
	"github.com/tujuhre12/pshell/internal/config"
	"github.com/tujuhre12/pshell/internal/log"
	"github.com/tujuhre12/pshell/internal/shell"
	"github.com/tujuhre12/pshell/internal/version"
)

func init() {
	rootCmd.PersistentFlags().StringP("cwd", "c", "", "Current working directory")
	rootCmd.PersistentFlags().BoolP("debug", "d", false, "Debug")
	rootCmd.PersistentFlags().String("config", "", "Extra config file, merged last; config set writes to it")

	rootCmd.Flags().BoolP("help", "h", false, "Help")
}

var rootCmd = &cobra.Command{
	Use:   "pshell",
	Short: "Run commands in one persistent shell",
	Long: heredoc.Doc(`
		pshell runs a sequence of commands against a single long-lived shell
		process. The working directory, exported variables and functions
		carry over from one command to the next, and every command reports
		its own output and exit status.

		Without a subcommand pshell reads commands from stdin, like repl.
	`),
	Example: heredoc.Doc(`
		# Start an interactive session
		pshell

		# Run commands in one shell, stopping at the first failure
		pshell run -- 'cd /tmp' 'export FOO=bar' 'echo $FOO'

		# Report the results as JSON
		pshell run --format json -- 'uname -a' 'id'

		# Feed a script, one command per line
		pshell < setup.sh
	`),
	SilenceUsage: true,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runRepl(cmd)
	},
}

// setup resolves the working directory, loads the config and starts logging.
func setup(cmd *cobra.Command) (*config.Config, error) {
	debug, _ := cmd.Flags().GetBool("debug")
	configFile, _ := cmd.Flags().GetString("config")

	cwd, err := ResolveCwd(cmd)
	if err != nil {
		return nil, err
	}

	var extra []string
	if configFile != "" {
		abs, err := filepath.Abs(configFile)
		if err != nil {
			return nil, fmt.Errorf("failed to resolve config file: %w", err)
		}
		extra = append(extra, abs)
	}

	cfg, err := config.Load(cwd, debug, extra...)
	if err != nil {
		return nil, err
	}

	if err := os.MkdirAll(cfg.Options.DataDirectory, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}
	log.Setup(cfg.LogFile(), cfg.Options.Debug)
	return cfg, nil
}

// ResolveCwd returns the absolute working directory, changing to the one
// given with --cwd.
func ResolveCwd(cmd *cobra.Command) (string, error) {
	cwd, _ := cmd.Flags().GetString("cwd")
	if cwd != "" {
		if err := os.Chdir(cwd); err != nil {
			return "", fmt.Errorf("failed to change directory: %w", err)
		}
	}
	cwd, err := os.Getwd()
	if err != nil {
		return "", fmt.Errorf("failed to get current working directory: %w", err)
	}
	return cwd, nil
}

func Execute() {
	if err := fang.Execute(
		context.Background(),
		rootCmd,
		fang.WithVersion(version.Version),
		fang.WithNotifySignal(os.Interrupt),
	); err != nil {
		os.Exit(shell.ExitCode(err))
	}
}
