package cmd

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"github.com/dan246/mtx-toolkit/internal/config"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Configuration management commands",
	Long:  `Commands for managing mtxctl configuration.`,
}

var configDumpCmd = &cobra.Command{
	Use:   "dump",
	Short: "Dump the default configuration",
	Long: `Dump the default configuration values in YAML format.

This shows all available configuration options with their default values.
You can redirect this output to a file to create a configuration template:

  mtxctl config dump > config.yaml

Configuration can be set via:
  - Config file (config.yaml in ., ./configs, /etc/mtx-toolkit, $HOME/.mtx-toolkit)
  - Environment variables (MTX_SERVER_PORT, MTX_DATABASE_DSN, etc.)
  - Command-line flags (for some options)

Environment variables use the MTX_ prefix and underscores for nesting.
Example: server.port -> MTX_SERVER_PORT`,
	RunE: runConfigDump,
}

func init() {
	rootCmd.AddCommand(configCmd)
	configCmd.AddCommand(configDumpCmd)
}

func runConfigDump(cmd *cobra.Command, args []string) error {
	v := viper.New()
	config.SetDefaults(v)

	out, err := yaml.Marshal(formatValue(v.AllSettings()))
	if err != nil {
		return fmt.Errorf("marshaling configuration: %w", err)
	}

	fmt.Print(string(out))
	return nil
}

// formatValue renders durations as strings so the dump round-trips through
// the duration-aware config loader.
func formatValue(v any) any {
	switch val := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(val))
		for k, item := range val {
			out[k] = formatValue(item)
		}
		return out
	case []any:
		out := make([]any, len(val))
		for i, item := range val {
			out[i] = formatValue(item)
		}
		return out
	case time.Duration:
		return val.String()
	default:
		return val
	}
}
