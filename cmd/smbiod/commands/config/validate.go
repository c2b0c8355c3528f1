package config

import (
	"fmt"

	"github.com/marmos91/smbiod/pkg/config"
	"github.com/spf13/cobra"
)

var validateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Validate configuration file",
	Long: `Validate the smbiod configuration file.

Checks for syntax errors and invalid values, then prints a summary.

Examples:
  # Validate default config
  smbiod config validate

  # Validate specific config file
  smbiod config validate --config /etc/smbiod/config.yaml`,
	RunE: runConfigValidate,
}

func runConfigValidate(cmd *cobra.Command, args []string) error {
	configPath, _ := cmd.Flags().GetString("config")

	cfg, err := config.MustLoad(configPath)
	if err != nil {
		return err
	}

	displayPath := configPath
	if displayPath == "" {
		displayPath = config.GetDefaultConfigPath()
	}

	out := cmd.OutOrStdout()
	_, _ = fmt.Fprintf(out, "Configuration file: %s\n", displayPath)
	_, _ = fmt.Fprintln(out, "Validation: OK")

	if w := warnings(cfg); len(w) > 0 {
		_, _ = fmt.Fprintln(out, "\nWarnings:")
		for _, msg := range w {
			_, _ = fmt.Fprintf(out, "  - %s\n", msg)
		}
	}

	_, _ = fmt.Fprintf(out, "\nConfiguration summary:\n")
	_, _ = fmt.Fprintf(out, "  Dialects:        %v\n", cfg.Client.Dialects)
	_, _ = fmt.Fprintf(out, "  Request timeout: %s\n", cfg.Connection.RequestTimeout)
	_, _ = fmt.Fprintf(out, "  Max outstanding: %d\n", cfg.Connection.MaxOutstanding)
	_, _ = fmt.Fprintf(out, "  Log level:       %s\n", cfg.Logging.Level)

	return nil
}

// warnings flags settings that are valid but likely unintended.
func warnings(cfg *config.Config) []string {
	var w []string
	if cfg.Client.Username == "" {
		w = append(w, "client.username is empty: sessions log on anonymously")
	}
	if cfg.Client.Password != "" {
		w = append(w, "password set through the environment; it is never written to the file")
	}
	if cfg.Connection.KeepaliveInterval < cfg.Connection.UnresponsiveWindow {
		w = append(w, "connection.keepalive_interval is shorter than connection.unresponsive_window: idle probes overlap")
	}
	if cfg.Connection.MaxSendAttempts == 1 {
		w = append(w, "connection.max_send_attempts is 1: transient send failures are fatal")
	}
	return w
}
