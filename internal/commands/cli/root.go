// Package cli provides the CLI command structure for procgen.
package cli

import (
	"fmt"

	"github.com/andrei-cloud/go_procgen/internal/config"
	"github.com/andrei-cloud/go_procgen/internal/logging"
	"github.com/spf13/cobra"
)

var cfgFile string

// flagBindings maps configuration keys to the persistent flags overriding them.
var flagBindings = map[string]string{
	"log.level":            "log-level",
	"log.format":           "log-format",
	"interpreter.strategy": "strategy",
	"interpreter.dispatch": "dispatch",
}

// NewRootCommand creates and returns the root command with all subcommands.
func NewRootCommand() (*cobra.Command, error) {
	rootCmd := &cobra.Command{
		Use:   "procgen",
		Short: "Scripted procedural plugin and host simulator",
		Long: `procgen expands procedural nodes of a scene by running the script each
node references, the way a renderer drives a procedural plugin.`,
		SilenceErrors: true,
		SilenceUsage:  true,
	}

	rootCmd.PersistentPreRunE = func(cmd *cobra.Command, _ []string) error {
		// Initialize configuration before running any command.
		config.SetFile(cfgFile)
		if err := config.Initialize(); err != nil {
			return fmt.Errorf("failed to initialize configuration: %w", err)
		}

		// Flags override config file and environment.
		v := config.GetViper()
		for key, name := range flagBindings {
			if err := v.BindPFlag(key, rootCmd.PersistentFlags().Lookup(name)); err != nil {
				return fmt.Errorf("failed to bind flag %s: %w", name, err)
			}
		}
		if err := config.Reload(); err != nil {
			return fmt.Errorf("failed to initialize configuration: %w", err)
		}

		cfg := config.Get()

		return logging.InitLoggerTo(cmd.ErrOrStderr(), cfg.Log.Level, cfg.Log.Format == "human")
	}

	// Add persistent flags that affect all commands.
	rootCmd.PersistentFlags().
		StringVar(&cfgFile, "config", "", "config file (default is $HOME/.procgen/config.yaml)")

	// Add global flags that can override config file settings.
	rootCmd.PersistentFlags().String("log-level", "", "logging level (debug, info, warn, error)")
	rootCmd.PersistentFlags().String("log-format", "", "logging format (human, json)")
	rootCmd.PersistentFlags().String("strategy", "", "interpreter context strategy (auto, fresh)")
	rootCmd.PersistentFlags().String("dispatch", "", "scoped call dispatch (direct, worker)")

	// Register all commands.
	if err := RegisterCommands(rootCmd); err != nil {
		return nil, fmt.Errorf("failed to register commands: %w", err)
	}

	return rootCmd, nil
}
