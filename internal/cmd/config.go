package cmd

import (
	"encoding/json"
	"fmt"

	"github.com/MakeNowJust/heredoc"
	"github.com/spf13/cobra"
	"github.com/tujuhre12/pshell/internal/config"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Show and change the configuration",
	Long: heredoc.Doc(`
		Show and change pshell's configuration. Settings are read from the
		global config file, then pshell.json and .pshell.json in the working
		directory, then the file given with --config.
	`),
}

var configGetCmd = &cobra.Command{
	Use:   "get <key>",
	Short: "Print the effective value of a setting",
	Example: heredoc.Doc(`
		pshell config get shell.path
		pshell config get echo
	`),
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := setup(cmd)
		if err != nil {
			return err
		}
		value, err := cfg.GetConfigField(args[0])
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), value)
		return nil
	},
}

var configSetCmd = &cobra.Command{
	Use:   "set <key> <value>",
	Short: "Change a setting in the global config file",
	Long: heredoc.Doc(`
		Change a setting in the global config file, or in the file given with
		--config. The value is stored as JSON when it parses as JSON and as a
		string otherwise.
	`),
	Example: heredoc.Doc(`
		pshell config set shell.path zsh
		pshell config set shell.args '["-s"]'
		pshell config set grace_period 5s
		pshell config set echo.silent true
	`),
	Args: cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := setup(cmd)
		if err != nil {
			return err
		}
		if err := cfg.SetConfigField(args[0], config.ParseValue(args[1])); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Set %s in %s\n", args[0], cfg.ConfigFile())
		return nil
	},
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Print the effective configuration",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := setup(cmd)
		if err != nil {
			return err
		}
		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", "  ")
		return enc.Encode(cfg)
	},
}

var configInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Write a pshell.json with the defaults to the working directory",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cwd, err := ResolveCwd(cmd)
		if err != nil {
			return err
		}
		path, err := config.InitProject(cwd)
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Created %s\n", path)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(configCmd)
	configCmd.AddCommand(configGetCmd, configSetCmd, configShowCmd, configInitCmd)
}
