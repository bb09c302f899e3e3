package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"fleetsync/internal/config"
	"fleetsync/internal/daemonrun"
)

// runAgent is swapped in tests so the command tree can be checked without
// starting an agent.
var runAgent = daemonrun.Run

func newRootCommand() *cobra.Command {
	var (
		configPath string
		opts       daemonrun.Options
	)

	rootCmd := &cobra.Command{
		Use:           "fleetsyncd",
		Short:         "Run the fleetsync agent until interrupted",
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, _, _, err := config.Load(configPath)
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			return runAgent(cmd.Context(), cfg, opts)
		},
	}

	flags := rootCmd.PersistentFlags()
	flags.StringVarP(&configPath, "config", "c", "", "Configuration file path")
	flags.StringVar(&opts.LogLevel, "log-level", "", "Override logging.level")
	flags.BoolVar(&opts.Development, "dev", false, "Include source locations in log output")
	return rootCmd
}
