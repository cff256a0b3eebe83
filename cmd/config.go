package cmd

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"jugaad-backup/internal/config"
)

// configCmd prints a sample configuration
var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Generate a sample configuration file",
	Long: `Print an annotated configuration template with every option and its
default. Redirect it to jugaad.yaml in the project, or use --write to
create the file in the user config directory.

Examples:
  # Project config
  jugaad config > jugaad.yaml

  # User config in ` + config.ConfigDir() + `
  jugaad config --write`,
	Args: cobra.NoArgs,
	RunE: runConfig,
}

var configWrite bool

func init() {
	rootCmd.AddCommand(configCmd)
	configCmd.Flags().BoolVar(&configWrite, "write", false, "write the defaults to the user config directory")
}

func runConfig(cmd *cobra.Command, args []string) error {
	if !configWrite {
		fmt.Fprint(cmd.OutOrStdout(), config.GenerateConfigTemplate())
		return nil
	}

	path := filepath.Join(config.ConfigDir(), config.AppName+".yaml")
	if _, err := os.Stat(path); err == nil && !autoApprove {
		return fmt.Errorf("%s already exists, use --yes to overwrite", path)
	}
	if err := config.WriteConfig(config.NewDefaultConfig(), path); err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Configuration written to %s\n", path)
	return nil
}
