package main

import (
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"fleetsync/internal/daemonctl"
	"fleetsync/internal/daemonrun"
)

func newDaemonCommand(ctx *commandContext) *cobra.Command {
	var opts daemonrun.Options

	cmd := &cobra.Command{
		Use:   "daemon",
		Short: "Run the sync agent in the foreground",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			return daemonrun.Run(cmd.Context(), cfg, opts)
		},
	}
	cmd.Flags().StringVar(&opts.LogLevel, "log-level", "", "Override logging.level")
	cmd.Flags().BoolVar(&opts.Development, "dev", false, "Include source locations in log output")
	return cmd
}

func newStopCommand(ctx *commandContext) *cobra.Command {
	var grace time.Duration

	cmd := &cobra.Command{
		Use:   "stop",
		Short: "Stop the running sync agent",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			forced, err := daemonctl.Stop(cfg, grace)
			if errors.Is(err, daemonctl.ErrDaemonNotRunning) {
				fmt.Fprintln(cmd.OutOrStdout(), "Agent is not running")
				return nil
			}
			if err != nil {
				return err
			}
			if forced {
				fmt.Fprintln(cmd.OutOrStdout(), "Agent did not exit in time and was killed")
				return nil
			}
			fmt.Fprintln(cmd.OutOrStdout(), "Agent stopped")
			return nil
		},
	}
	cmd.Flags().DurationVar(&grace, "grace", 10*time.Second, "How long to wait before killing the agent")
	return cmd
}
