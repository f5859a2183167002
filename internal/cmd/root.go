// Package cmd provides the CLI commands for the symposium conductor.
package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/symposium-dev/symposium-conductor/internal/logging"
)

var (
	// Global flags
	logLevel   string
	logFile    string
	logJSON    bool
	configPath string
	debug      bool
)

var rootCmd = &cobra.Command{
	Use:   "symposium",
	Short: "Conductor runtime for composable ACP proxy chains",
	Long: `symposium is the core orchestration runtime that sits between a code
editor and an AI coding agent, assembling a chain of ACP proxy components
and routing protocol traffic hop by hop.`,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if cmd.Name() == "help" || cmd.Name() == "completion" {
			return nil
		}
		effectiveLevel := "info"
		if logLevel != "" {
			effectiveLevel = logLevel
		} else if debug {
			effectiveLevel = "debug"
		}
		if err := logging.Initialize(logging.Config{
			Level:   effectiveLevel,
			LogFile: logFile,
			JSON:    logJSON,
		}); err != nil {
			return fmt.Errorf("failed to initialize logging: %w", err)
		}
		return nil
	},
	PersistentPostRunE: func(cmd *cobra.Command, args []string) error {
		return logging.Close()
	},
}

// Execute adds all child commands to the root command and runs it.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "Log level: debug, info, warn, error (default: info)")
	rootCmd.PersistentFlags().StringVar(&logFile, "log-file", "", "Log file path (logs are also written to stderr)")
	rootCmd.PersistentFlags().BoolVar(&logJSON, "log-json", false, "Emit logs as JSON instead of text")
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "Configuration file path (overrides ~/.symposium/config.jsonc)")
	rootCmd.PersistentFlags().BoolVar(&debug, "debug", false, "Enable debug logging (shorthand for --log-level=debug)")
}

// resolvedConfigPath returns the --config override if set, otherwise the
// default location under the configuration directory.
func resolvedConfigPath() (string, error) {
	if configPath != "" {
		return configPath, nil
	}
	return defaultConfigPath()
}
