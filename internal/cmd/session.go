package cmd

import (
	"io"
	"log/slog"

	"github.com/tujuhre12/pshell/internal/config"
	"github.com/tujuhre12/pshell/internal/notification"
	"github.com/tujuhre12/pshell/internal/shell"
)

// sessionOptions maps the loaded config onto a shell session.
func sessionOptions(cfg *config.Config, stdout, stderr io.Writer, input io.Reader) shell.Options {
	opts := shell.Options{
		Process: shell.ProcessOptions{
			Path: cfg.Shell.Path,
			Args: cfg.Shell.Args,
			Env:  cfg.Shell.Environ(),
			Dir:  cfg.WorkingDir(),
		},
		Echo: shell.EchoOptions{
			Silent:          cfg.Echo.Silent,
			PrintCommands:   cfg.Echo.PrintCommands,
			PrintErrors:     cfg.Echo.PrintErrors,
			PrintEmptyLines: cfg.Echo.PrintEmptyLines,
			PrintStartStop:  cfg.Echo.PrintStartStop,
		},
		GracePeriod:    cfg.GracePeriod.Std(),
		StderrSettle:   cfg.StderrSettle.Std(),
		ValidateSyntax: cfg.ValidateSyntax,
		StripANSI:      cfg.StripANSI,
		NotifyAfter:    cfg.NotifyAfter.Std(),
		Input:          input,
		Stdout:         stdout,
		Stderr:         stderr,
		Logger:         slog.Default(),
	}
	if len(cfg.BlockedCommands) > 0 {
		opts.BlockFuncs = []shell.BlockFunc{shell.CommandsBlocker(cfg.BlockedCommands)}
	}
	if cfg.NotifyAfter > 0 {
		opts.Notifier = notification.New(true)
	}
	return opts
}
