package cmd

import (
	"fmt"
	"path/filepath"

	"github.com/MakeNowJust/heredoc"
	"github.com/spf13/cobra"
	"github.com/tujuhre12/pshell/internal/config"
)

var dirsCmd = &cobra.Command{
	Use:   "dirs",
	Short: "Print directories used by pshell",
	Long: heredoc.Doc(`
		Print the directories where pshell keeps its configuration and data.
		The project data directory holds the logs of runs started from the
		working directory.
	`),
	Example: heredoc.Doc(`
		# Print all directories
		pshell dirs

		# Print only the config directory
		pshell dirs --config-dir

		# Print only the project data directory
		pshell dirs --data
	`),
	RunE: func(cmd *cobra.Command, args []string) error {
		configOnly, _ := cmd.Flags().GetBool("config-dir")
		dataOnly, _ := cmd.Flags().GetBool("data")

		if configOnly && dataOnly {
			return fmt.Errorf("cannot specify both --config-dir and --data flags")
		}

		cfg, err := setup(cmd)
		if err != nil {
			return err
		}
		configDir := filepath.Dir(config.GlobalConfig())
		dataDir := cfg.Options.DataDirectory
		out := cmd.OutOrStdout()

		if configOnly {
			fmt.Fprintln(out, configDir)
			return nil
		}

		if dataOnly {
			fmt.Fprintln(out, dataDir)
			return nil
		}

		// Print all by default
		fmt.Fprintf(out, "Config directory: %s\n", configDir)
		fmt.Fprintf(out, "Data directory:   %s\n", dataDir)
		fmt.Fprintf(out, "Log file:         %s\n", cfg.LogFile())
		return nil
	},
}

func init() {
	rootCmd.AddCommand(dirsCmd)
	dirsCmd.Flags().Bool("config-dir", false, "Print only the config directory")
	dirsCmd.Flags().Bool("data", false, "Print only the data directory")
}
