package config

import (
	"fmt"
	"os"

	"github.com/marmos91/smbiod/internal/cli/prompt"
	"github.com/marmos91/smbiod/pkg/config"
	"github.com/spf13/cobra"
)

var initForce bool

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Create a configuration file with defaults",
	Long: `Write a commented configuration file with every default value.

Without --config the file is created at $XDG_CONFIG_HOME/smbiod/config.yaml.
The password is never written; set SMBIOD_CLIENT_PASSWORD or answer the
prompt instead.

Examples:
  # Create the default config file
  smbiod config init

  # Overwrite an existing file without asking
  smbiod config init --config ./smbiod.yaml --force`,
	RunE: runConfigInit,
}

func init() {
	initCmd.Flags().BoolVarP(&initForce, "force", "f", false, "overwrite an existing file without asking")
}

func runConfigInit(cmd *cobra.Command, args []string) error {
	configPath, _ := cmd.Flags().GetString("config")
	if configPath == "" {
		configPath = config.GetDefaultConfigPath()
	}

	force := initForce
	if _, err := os.Stat(configPath); err == nil && !force {
		ok, err := prompt.ConfirmWithForce(fmt.Sprintf("%s exists. Overwrite", configPath), false)
		if err != nil {
			if prompt.IsAborted(err) {
				return nil
			}
			return fmt.Errorf("%s already exists (use --force to overwrite): %w", configPath, err)
		}
		if !ok {
			_, _ = fmt.Fprintln(cmd.OutOrStdout(), "Aborted.")
			return nil
		}
		force = true
	}

	if err := config.InitConfigToPath(configPath, force); err != nil {
		return err
	}

	_, _ = fmt.Fprintf(cmd.OutOrStdout(), "Configuration written to %s\n", configPath)
	return nil
}
