package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/alfredjeanlab/lambdaq/internal/client"
	"github.com/alfredjeanlab/lambdaq/internal/ui"
)

// readPayload returns args[i] if present and not "-", otherwise stdin.
func readPayload(cmd *cobra.Command, args []string, i int, file string) (string, error) {
	if file != "" {
		data, err := os.ReadFile(file)
		if err != nil {
			return "", fmt.Errorf("reading %s: %w", file, err)
		}
		return string(data), nil
	}
	if len(args) > i && args[i] != "-" {
		return args[i], nil
	}
	data, err := io.ReadAll(cmd.InOrStdin())
	if err != nil {
		return "", fmt.Errorf("reading stdin: %w", err)
	}
	return strings.TrimRight(string(data), "\n"), nil
}

func newEnqueueCmd(c *cli) *cobra.Command {
	var (
		file  string
		count int
	)
	cmd := &cobra.Command{
		Use:     "enqueue [payload|-]",
		Aliases: []string{"invoke"},
		Short:   "Queue an invocation event",
		Long:    "Queue an invocation event. The payload is taken from the argument, --file, or stdin.",
		GroupID: "queue",
		Args:    cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			payload, err := readPayload(cmd, args, 0, file)
			if err != nil {
				return err
			}
			if count < 1 {
				return fmt.Errorf("--count must be at least 1")
			}
			for i := 0; i < count; i++ {
				ev, err := c.client.Enqueue(cmd.Context(), payload)
				if err != nil {
					return fmt.Errorf("enqueueing event: %w", err)
				}
				if c.jsonOutput {
					if err := printJSON(c.out, ev); err != nil {
						return err
					}
				} else {
					fmt.Fprintf(c.out, "Queued %s\n", ui.RenderAccent(ev.ID))
				}
			}
			return nil
		},
	}
	cmd.Flags().StringVarP(&file, "file", "f", "", "read the payload from a file")
	cmd.Flags().IntVarP(&count, "count", "n", 1, "queue the payload this many times")
	return cmd
}

func newNextCmd(c *cli) *cobra.Command {
	return &cobra.Command{
		Use:     "next",
		Short:   "Activate the oldest pending event and print it",
		GroupID: "queue",
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ev, err := c.client.Next(cmd.Context())
			if errors.Is(err, client.ErrNoEvent) {
				if c.jsonOutput {
					return printJSON(c.out, nil)
				}
				fmt.Fprintln(c.out, ui.RenderMuted("No pending events."))
				return nil
			}
			if err != nil {
				return fmt.Errorf("fetching next event: %w", err)
			}
			if c.jsonOutput {
				return printJSON(c.out, ev)
			}
			printEvent(c.out, ev)
			return nil
		},
	}
}

func newRespondCmd(c *cli) *cobra.Command {
	var file string
	cmd := &cobra.Command{
		Use:     "respond <id> [response|-]",
		Short:   "Report a successful result for an invocation",
		GroupID: "queue",
		Args:    cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			resp := ""
			if len(args) > 1 || file != "" {
				var err error
				if resp, err = readPayload(cmd, args, 1, file); err != nil {
					return err
				}
			}
			if err := c.client.ReportSuccess(cmd.Context(), args[0], resp); err != nil {
				return fmt.Errorf("reporting success for %s: %w", args[0], err)
			}
			if !c.jsonOutput {
				fmt.Fprintf(c.out, "Reported success for %s\n", ui.RenderAccent(args[0]))
			}
			return nil
		},
	}
	cmd.Flags().StringVarP(&file, "file", "f", "", "read the response from a file")
	return cmd
}

func newFailCmd(c *cli) *cobra.Command {
	var errorType, message, body string
	cmd := &cobra.Command{
		Use:     "fail <id>",
		Short:   "Report an error for an invocation",
		GroupID: "queue",
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if body == "" {
				data, err := json.Marshal(map[string]string{
					"errorType":    errorType,
					"errorMessage": message,
				})
				if err != nil {
					return fmt.Errorf("marshaling error body: %w", err)
				}
				body = string(data)
			}
			if err := c.client.ReportError(cmd.Context(), args[0], errorType, body); err != nil {
				return fmt.Errorf("reporting error for %s: %w", args[0], err)
			}
			if !c.jsonOutput {
				fmt.Fprintf(c.out, "Reported %s for %s\n", errorType, ui.RenderAccent(args[0]))
			}
			return nil
		},
	}
	cmd.Flags().StringVarP(&errorType, "type", "t", "Unhandled", "error type")
	cmd.Flags().StringVarP(&message, "message", "m", "", "error message")
	cmd.Flags().StringVar(&body, "body", "", "raw error body (overrides --message)")
	return cmd
}

func newDeleteCmd(c *cli) *cobra.Command {
	return &cobra.Command{
		Use:     "delete <id>...",
		Aliases: []string{"rm"},
		Short:   "Remove events by id from any partition",
		GroupID: "queue",
		Args:    cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			for _, id := range args {
				if err := c.client.Delete(cmd.Context(), id); err != nil {
					return fmt.Errorf("deleting %s: %w", id, err)
				}
				if !c.jsonOutput {
					fmt.Fprintf(c.out, "Deleted %s\n", id)
				}
			}
			return nil
		},
	}
}

func newClearCmd(c *cli) *cobra.Command {
	return &cobra.Command{
		Use:       "clear [pending|completed|all]",
		Short:     "Discard pending or completed events",
		GroupID:   "queue",
		Args:      cobra.MatchAll(cobra.MaximumNArgs(1), cobra.OnlyValidArgs),
		ValidArgs: []string{"pending", "completed", "all"},
		RunE: func(cmd *cobra.Command, args []string) error {
			which := "all"
			if len(args) == 1 {
				which = args[0]
			}
			if which == "pending" || which == "all" {
				if err := c.client.ClearPending(cmd.Context()); err != nil {
					return fmt.Errorf("clearing pending: %w", err)
				}
			}
			if which == "completed" || which == "all" {
				if err := c.client.ClearCompleted(cmd.Context()); err != nil {
					return fmt.Errorf("clearing completed: %w", err)
				}
			}
			if !c.jsonOutput {
				fmt.Fprintf(c.out, "Cleared %s\n", which)
			}
			return nil
		},
	}
}
