package main

import (
	"context"
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"fleetsync/internal/backend"
	"fleetsync/internal/config"
	"fleetsync/internal/daemonctl"
	"fleetsync/internal/preflight"
	"fleetsync/internal/queue"
)

func newStatusCommand(ctx *commandContext) *cobra.Command {
	var skipBackend bool

	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show agent, queue, and backend status",
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withStore(cmd, func(cfg *config.Config, store *queue.Store) error {
				out := cmd.OutOrStdout()
				rep := newReport(out)

				state, err := daemonctl.Inspect(cfg)
				if err != nil {
					return err
				}
				rep.section("Agent")
				if state.Running {
					detail := "Running"
					if state.PID > 0 {
						detail = fmt.Sprintf("Running (pid %d)", state.PID)
					}
					rep.line("Fleetsync", toneOK, detail)
				} else {
					rep.line("Fleetsync", toneWarn, "Not running (run `fleetsync daemon`)")
				}
				if cfg.Notifications.NtfyTopic != "" {
					rep.line("Notifications", toneOK, "Configured")
				} else {
					rep.line("Notifications", toneInfo, "Not configured")
				}

				actions := store.Queue(cmd.Context())
				counts := make(map[queue.Status]int, len(queue.AllStatuses()))
				budget := cfg.Queue.MaxRetries
				exhausted := 0
				for _, action := range actions {
					counts[action.Status]++
					if action.Status == queue.StatusFailed && !action.Retryable(budget) {
						exhausted++
					}
				}
				rep.section("Queue")
				rep.line("Storage", toneInfo, store.Describe())
				for _, status := range queue.AllStatuses() {
					rep.queueState(status, counts[status], state.Running)
				}
				rep.exhausted(exhausted, budget)

				if !skipBackend {
					rep.section("Backend")
					backendStatus(cmd.Context(), cfg, rep)
				}
				rep.flush(out)
				return nil
			})
		},
	}
	cmd.Flags().BoolVar(&skipBackend, "offline", false, "Skip the backend reachability probe")
	return cmd
}

func backendStatus(ctx context.Context, cfg *config.Config, rep *report) {
	label := displayLabel(cfg.Backend.Transport)
	sender, err := backend.New(cfg)
	if err != nil {
		rep.line(label, toneError, err.Error())
		return
	}
	defer sender.Close()
	result := preflight.CheckBackend(ctx, sender)
	if result.Passed {
		rep.line(label, toneOK, result.Detail)
		return
	}
	rep.line(label, toneWarn, result.Detail)
}

func newDoctorCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "doctor",
		Short: "Run the agent's startup checks",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			rep := newReport(out)

			var pinger preflight.Pinger
			sender, senderErr := backend.New(cfg)
			if senderErr == nil {
				defer sender.Close()
				pinger = sender
			}
			results := preflight.RunAll(cmd.Context(), cfg, pinger)

			rep.section("Checks")
			for _, r := range results {
				t := toneOK
				if !r.Passed {
					t = toneWarn
					if r.Required {
						t = toneError
					}
				}
				rep.line(r.Name, t, r.Detail)
			}
			if senderErr != nil {
				rep.line("Backend", toneError, senderErr.Error())
			}
			rep.flush(out)

			if blocking := preflight.Blocking(results); len(blocking) > 0 {
				return fmt.Errorf("%d required check(s) failed", len(blocking))
			}
			if senderErr != nil {
				return errors.New("backend transport could not be created")
			}
			return nil
		},
	}
}
