package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"fleetsync/internal/backend"
	"fleetsync/internal/config"
	"fleetsync/internal/daemonctl"
	"fleetsync/internal/processor"
	"fleetsync/internal/queue"
)

func newQueueCommand(ctx *commandContext) *cobra.Command {
	queueCmd := &cobra.Command{
		Use:   "queue",
		Short: "Inspect and manage queued actions",
	}

	queueCmd.AddCommand(newQueueStatusCommand(ctx))
	queueCmd.AddCommand(newQueueListCommand(ctx))
	queueCmd.AddCommand(newQueueShowCommand(ctx))
	queueCmd.AddCommand(newQueueEnqueueCommand(ctx))
	queueCmd.AddCommand(newQueueRemoveCommand(ctx))
	queueCmd.AddCommand(newQueueClearCommand(ctx))
	queueCmd.AddCommand(newQueueCleanupCommand(ctx))
	queueCmd.AddCommand(newQueueRecoverCommand(ctx))

	return queueCmd
}

func newQueueStatusCommand(ctx *commandContext) *cobra.Command {
	var format string

	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show action counts by status",
		RunE: func(cmd *cobra.Command, args []string) error {
			outFormat, err := parseFormat(format)
			if err != nil {
				return err
			}
			return ctx.withStore(cmd, func(_ *config.Config, store *queue.Store) error {
				summary := store.Health(cmd.Context())
				if ok, err := writeStructured(cmd, outFormat, summary); ok {
					return err
				}
				fmt.Fprint(cmd.OutOrStdout(), renderTable(
					[]string{"Status", "Count"},
					buildQueueStatusRows(summary),
					[]columnAlignment{alignLeft, alignRight},
				))
				return nil
			})
		},
	}
	cmd.Flags().StringVarP(&format, "format", "o", formatTable, "Output format: table, json, or yaml")
	return cmd
}

func newQueueListCommand(ctx *commandContext) *cobra.Command {
	var statuses []string
	var actionType string
	var format string

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List queued actions in enqueue order",
		RunE: func(cmd *cobra.Command, args []string) error {
			outFormat, err := parseFormat(format)
			if err != nil {
				return err
			}
			filter, err := parseStatuses(statuses)
			if err != nil {
				return err
			}
			return ctx.withStore(cmd, func(_ *config.Config, store *queue.Store) error {
				actions := store.Queue(cmd.Context())
				if len(filter) > 0 {
					actions = store.ListByStatus(cmd.Context(), filter...)
				}
				if actionType = strings.TrimSpace(actionType); actionType != "" {
					actions = filterType(actions, actionType)
				}
				if ok, err := writeStructured(cmd, outFormat, newActionViews(actions)); ok {
					return err
				}
				if len(actions) == 0 {
					fmt.Fprintln(cmd.OutOrStdout(), "Queue is empty")
					return nil
				}
				fmt.Fprint(cmd.OutOrStdout(), renderTable(
					[]string{"ID", "Type", "Status", "Retries", "Queued", "Error"},
					buildQueueListRows(actions),
					[]columnAlignment{alignLeft, alignLeft, alignLeft, alignRight, alignLeft, alignLeft},
				))
				return nil
			})
		},
	}
	cmd.Flags().StringSliceVarP(&statuses, "status", "s", nil, "Only show actions with these statuses")
	cmd.Flags().StringVarP(&actionType, "type", "t", "", "Only show actions of this type")
	cmd.Flags().StringVarP(&format, "format", "o", formatTable, "Output format: table, json, or yaml")
	return cmd
}

func newQueueShowCommand(ctx *commandContext) *cobra.Command {
	var format string

	cmd := &cobra.Command{
		Use:   "show <id>",
		Short: "Show a single action including its payload",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			outFormat, err := parseFormat(format)
			if err != nil {
				return err
			}
			return ctx.withStore(cmd, func(_ *config.Config, store *queue.Store) error {
				action, ok := store.Get(cmd.Context(), strings.TrimSpace(args[0]))
				if !ok {
					return fmt.Errorf("action %s not found", args[0])
				}
				if ok, err := writeStructured(cmd, outFormat, newActionView(action)); ok {
					return err
				}
				fmt.Fprint(cmd.OutOrStdout(), renderTable(
					[]string{"Field", "Value"},
					buildActionDetailRows(action),
					[]columnAlignment{alignLeft, alignLeft},
				))
				return nil
			})
		},
	}
	cmd.Flags().StringVarP(&format, "format", "o", formatTable, "Output format: table, json, or yaml")
	return cmd
}

func newQueueEnqueueCommand(ctx *commandContext) *cobra.Command {
	var payloadFile string
	var allowUnknown bool

	cmd := &cobra.Command{
		Use:   "enqueue <type> [payload-json]",
		Short: "Queue an action for the next sync",
		Long: "Queue an action for the next sync. The payload is read from the second\n" +
			"argument, from --payload-file, or from stdin when --payload-file is '-'.\n" +
			"Known types: " + strings.Join(backend.KnownTypes(), ", "),
		Args: cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			actionType := strings.TrimSpace(args[0])
			if !allowUnknown && !backend.IsKnownType(actionType) {
				return fmt.Errorf("unknown action type %q (known: %s; pass --allow-unknown to queue anyway)",
					actionType, strings.Join(backend.KnownTypes(), ", "))
			}
			payload, err := readPayload(cmd, args[1:], payloadFile)
			if err != nil {
				return err
			}
			return ctx.withStore(cmd, func(_ *config.Config, store *queue.Store) error {
				id, err := store.Enqueue(cmd.Context(), actionType, payload)
				if err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), id)
				return nil
			})
		},
	}
	cmd.Flags().StringVarP(&payloadFile, "payload-file", "f", "", "Read the JSON payload from a file ('-' for stdin)")
	cmd.Flags().BoolVar(&allowUnknown, "allow-unknown", false, "Queue types the backend has no route for")
	return cmd
}

func newQueueRemoveCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "remove <id>...",
		Short: "Remove actions by id",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withStore(cmd, func(_ *config.Config, store *queue.Store) error {
				out := cmd.OutOrStdout()
				missing := 0
				for _, id := range args {
					removed, err := store.Remove(cmd.Context(), strings.TrimSpace(id))
					if err != nil {
						return err
					}
					if removed {
						fmt.Fprintf(out, "Removed %s\n", id)
					} else {
						missing++
						fmt.Fprintf(out, "Not found: %s\n", id)
					}
				}
				if missing == len(args) {
					return errors.New("no matching actions")
				}
				return nil
			})
		},
	}
}

func newQueueClearCommand(ctx *commandContext) *cobra.Command {
	var statuses []string
	var confirm bool

	cmd := &cobra.Command{
		Use:   "clear",
		Short: "Remove every action, or only those with the given statuses",
		RunE: func(cmd *cobra.Command, args []string) error {
			filter, err := parseStatuses(statuses)
			if err != nil {
				return err
			}
			if len(filter) == 0 && !confirm {
				return errors.New("refusing to drop every queued action without --yes")
			}
			return ctx.withStore(cmd, func(_ *config.Config, store *queue.Store) error {
				if len(filter) == 0 {
					total := store.Health(cmd.Context()).Total
					if err := store.Clear(cmd.Context()); err != nil {
						return err
					}
					fmt.Fprintf(cmd.OutOrStdout(), "Cleared %d actions\n", total)
					return nil
				}
				removed, err := store.RemoveByStatus(cmd.Context(), filter...)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Removed %d actions\n", removed)
				return nil
			})
		},
	}
	cmd.Flags().StringSliceVarP(&statuses, "status", "s", nil, "Only remove actions with these statuses")
	cmd.Flags().BoolVarP(&confirm, "yes", "y", false, "Confirm clearing the whole queue")
	return cmd
}

func newQueueCleanupCommand(ctx *commandContext) *cobra.Command {
	var olderThan time.Duration

	cmd := &cobra.Command{
		Use:   "cleanup",
		Short: "Remove completed actions older than the retention window",
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withStore(cmd, func(cfg *config.Config, store *queue.Store) error {
				age := olderThan
				if !cmd.Flags().Changed("older-than") {
					age = cfg.CleanupAfter()
				}
				if age <= 0 {
					return errors.New("--older-than must be positive")
				}
				proc := processor.NewFromConfig(store, cfg, ctx.logger(), nil)
				removed, err := proc.Cleanup(cmd.Context(), age)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Removed %d completed actions older than %s\n", removed, age)
				return nil
			})
		},
	}
	cmd.Flags().DurationVar(&olderThan, "older-than", processor.DefaultCleanupAge, "Age threshold (defaults to queue.cleanup_after_hours)")
	return cmd
}

func newQueueRecoverCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "recover",
		Short: "Mark actions stuck in processing as failed",
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
				return errors.New("the agent is running; its in-flight actions are not stuck")
			}
			return ctx.withStore(cmd, func(_ *config.Config, store *queue.Store) error {
				recovered, err := store.RecoverInterrupted(cmd.Context())
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Recovered %d interrupted actions\n", recovered)
				return nil
			})
		},
	}
}

func parseStatuses(values []string) ([]queue.Status, error) {
	statuses := make([]queue.Status, 0, len(values))
	for _, value := range values {
		status, ok := queue.ParseStatus(value)
		if !ok {
			return nil, fmt.Errorf("unknown status %q", value)
		}
		statuses = append(statuses, status)
	}
	return statuses, nil
}

func filterType(actions []queue.Action, actionType string) []queue.Action {
	out := make([]queue.Action, 0, len(actions))
	for _, a := range actions {
		if a.Type == actionType {
			out = append(out, a)
		}
	}
	return out
}

func readPayload(cmd *cobra.Command, args []string, payloadFile string) (json.RawMessage, error) {
	var data []byte
	switch {
	case len(args) > 0 && payloadFile != "":
		return nil, errors.New("pass the payload as an argument or with --payload-file, not both")
	case len(args) > 0:
		data = []byte(args[0])
	case payloadFile == "-":
		var err error
		if data, err = io.ReadAll(cmd.InOrStdin()); err != nil {
			return nil, fmt.Errorf("read payload from stdin: %w", err)
		}
	case payloadFile != "":
		var err error
		if data, err = os.ReadFile(payloadFile); err != nil {
			return nil, fmt.Errorf("read payload file: %w", err)
		}
	default:
		return json.RawMessage("null"), nil
	}
	trimmed := strings.TrimSpace(string(data))
	if trimmed == "" {
		return json.RawMessage("null"), nil
	}
	if !json.Valid([]byte(trimmed)) {
		return nil, errors.New("payload is not valid JSON")
	}
	return json.RawMessage(trimmed), nil
}
