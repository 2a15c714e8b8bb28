// Package cmd implements the CLI commands for mtxctl.
package cmd

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/dan246/mtx-toolkit/internal/config"
	"github.com/dan246/mtx-toolkit/internal/observability"
	"github.com/dan246/mtx-toolkit/internal/version"
)

// cfgFile holds the config file path from the --config flag.
var cfgFile string

// rootCmd represents the base command when called without any subcommands.
var rootCmd = &cobra.Command{
	Use:     "mtxctl",
	Short:   "Reliability control plane for MediaMTX relay fleets",
	Version: version.Short(),
	Long: `mtxctl manages a fleet of MediaMTX relay nodes: it classifies stream
health, runs tiered auto-remediation, keeps the stream inventory in sync,
rolls configuration changes across the fleet with snapshots and rollback,
and enforces recording retention and archival policy.`,
	// PersistentPreRunE is set in init() to avoid an initialization cycle
}

// Execute adds all child commands to the root command and sets flags appropriately.
func Execute() error {
	if err := rootCmd.Execute(); err != nil {
		return fmt.Errorf("executing root command: %w", err)
	}
	return nil
}

func init() {
	rootCmd.PersistentPreRunE = func(_ *cobra.Command, _ []string) error {
		initLogging()
		return nil
	}

	// These flags are NOT bound to viper. We check Changed() and only then
	// override the env/config values, preserving the priority:
	// CLI flag > env var > config > default.
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default searches ., ./configs, /etc/mtx-toolkit, $HOME/.mtx-toolkit)")
	rootCmd.PersistentFlags().String("log-level", "info", "log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().String("log-format", "json", "log format (text, json)")
}

// initLogging configures the default slog logger before any command runs.
// serve rebuilds the logger once the full configuration is loaded; this
// bootstrap logger covers config loading itself and the lighter commands.
//
// Priority order (highest to lowest):
//  1. CLI flags (--log-level, --log-format), only when explicitly provided
//  2. Environment variables (MTX_LOGGING_LEVEL, MTX_LOGGING_FORMAT)
//  3. Built-in defaults (info, json)
func initLogging() {
	logCfg := loggingConfigFromFlags(rootCmd.PersistentFlags(), config.LoggingConfig{Level: "info", Format: "json"})
	observability.SetDefault(observability.NewLoggerWithWriter(logCfg, os.Stderr))
}

// loggingConfigFromFlags layers env vars and explicit CLI flags over base.
func loggingConfigFromFlags(flags *pflag.FlagSet, base config.LoggingConfig) config.LoggingConfig {
	if v := os.Getenv("MTX_LOGGING_LEVEL"); v != "" {
		base.Level = v
	}
	if v := os.Getenv("MTX_LOGGING_FORMAT"); v != "" {
		base.Format = v
	}

	if flags.Changed("log-level") {
		base.Level, _ = flags.GetString("log-level")
	}
	if flags.Changed("log-format") {
		base.Format, _ = flags.GetString("log-format")
	}

	base.Level = strings.ToLower(base.Level)
	base.Format = strings.ToLower(base.Format)
	if base.Level == "warning" {
		base.Level = "warn"
	}
	return base
}
