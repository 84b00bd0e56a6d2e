package cmd

import (
	"os"

	"github.com/spf13/cobra"
)

var (
	// Global flags
	configPath   string
	outputFormat string
	logLevel     string
	workers      int

	rootCmd = &cobra.Command{
		Use:   "gsr",
		Short: "Global Schema Registry - one compatibility view across many schema registries",
		Long: `gsr federates Confluent Schema Registry, Databricks Unity Catalog and local
registries behind a single control plane: health, discovery, transitive
compatibility checks and bulk compatibility-mode changes across every instance.

Configure your registries in config/registries.yaml, point --config or
REGISTRY_CONFIG at another file, or fall back to the environment variables
SCHEMA_REGISTRY_URL and SCHEMA_REGISTRY_BASIC_AUTH_USER_INFO.

Settings can be overridden with GSR_-prefixed variables, e.g. GSR_BULK_WORKERS.
See 'gsr [command] --help' for command-specific options.`,
		Version:      "1.0.0",
		SilenceUsage: true,
	}
)

// Command group IDs
const (
	groupRegistry = "registry"
	groupCompat   = "compat"
	groupBulk     = "bulk"
	groupServer   = "server"
)

func init() {
	rootCmd.AddGroup(
		&cobra.Group{ID: groupRegistry, Title: "Registry Operations:"},
		&cobra.Group{ID: groupCompat, Title: "Compatibility:"},
		&cobra.Group{ID: groupBulk, Title: "Bulk Operations:"},
		&cobra.Group{ID: groupServer, Title: "Server & Streaming:"},
	)

	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "Config file (default $REGISTRY_CONFIG or config/registries.yaml)")
	rootCmd.PersistentFlags().StringVarP(&outputFormat, "output", "o", "table", "Output format: table, json, yaml, plain")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "Log level: debug, info, warn, error (overrides config)")
	rootCmd.PersistentFlags().IntVarP(&workers, "workers", "w", 0, "Bulk worker pool size (overrides config)")
}

// Execute runs the root command
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
