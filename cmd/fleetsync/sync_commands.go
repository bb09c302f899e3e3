package main

import (
	"errors"
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"fleetsync/internal/backend"
	"fleetsync/internal/config"
	"fleetsync/internal/daemonctl"
	"fleetsync/internal/processor"
	"fleetsync/internal/queue"
)

func newSyncCommand(ctx *commandContext) *cobra.Command {
	var retry bool
	var maxRetries int
	var cleanup bool

	cmd := &cobra.Command{
		Use:   "sync",
		Short: "Replay queued actions against the backend",
		Long: "Replay pending actions against the backend in enqueue order. With --retry,\n" +
			"failed actions below the retry budget are attempted first. When an agent\n" +
			"is running the request is handed to it instead.",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			state, err := daemonctl.Inspect(cfg)
			if err != nil {
				return err
			}
			if state.Running {
				if err := daemonctl.Trigger(cfg); err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), "Agent is running; sync requested")
				return nil
			}

			budget := maxRetries
			if !cmd.Flags().Changed("max-retries") {
				budget = cfg.Queue.MaxRetries
			}
			return ctx.withStore(cmd, func(cfg *config.Config, store *queue.Store) error {
				sender, err := backend.New(cfg)
				if err != nil {
					return err
				}
				defer sender.Close()

				handlers := backend.Handlers(sender)
				proc := processor.NewFromConfig(store, cfg, ctx.logger(), nil)
				var rows [][]string
				if retry {
					result, err := proc.Retry(cmd.Context(), handlers, budget)
					if err != nil {
						return err
					}
					rows = append(rows, resultRow("Retry", result))
				}
				result, err := proc.Process(cmd.Context(), handlers)
				if err != nil {
					return err
				}
				rows = append(rows, resultRow("Process", result))

				removed := 0
				if cleanup {
					if removed, err = proc.Cleanup(cmd.Context(), cfg.CleanupAfter()); err != nil {
						return err
					}
				}

				out := cmd.OutOrStdout()
				fmt.Fprint(out, renderTable(
					[]string{"Pass", "Attempted", "Succeeded", "Failed"},
					rows,
					[]columnAlignment{alignLeft, alignRight, alignRight, alignRight},
				))
				if cleanup {
					fmt.Fprintf(out, "Removed %d completed actions\n", removed)
				}
				return nil
			})
		},
	}
	cmd.Flags().BoolVar(&retry, "retry", false, "Also retry failed actions below the retry budget")
	cmd.Flags().IntVar(&maxRetries, "max-retries", processor.DefaultMaxRetries, "Retry budget (defaults to queue.max_retries)")
	cmd.Flags().BoolVar(&cleanup, "cleanup", false, "Remove old completed actions afterwards")
	return cmd
}

func resultRow(pass string, r processor.Result) []string {
	return []string{pass, strconv.Itoa(r.Processed), strconv.Itoa(r.Succeeded), strconv.Itoa(r.Failed)}
}

func newTriggerCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "trigger",
		Short: "Ask the running agent to sync now",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			if err := daemonctl.Trigger(cfg); err != nil {
				if errors.Is(err, daemonctl.ErrDaemonNotRunning) {
					return errors.New("agent is not running; use `fleetsync sync` to replay in the foreground")
				}
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "Sync requested")
			return nil
		},
	}
}
