package main

import (
	"errors"
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/alfredjeanlab/lambdaq/internal/model"
	"github.com/alfredjeanlab/lambdaq/internal/ui"
)

func newListCmd(c *cli) *cobra.Command {
	return &cobra.Command{
		Use:       "list [pending|completed|all]",
		Aliases:   []string{"ls"},
		Short:     "List pending and completed events",
		GroupID:   "views",
		Args:      cobra.MatchAll(cobra.MaximumNArgs(1), cobra.OnlyValidArgs),
		ValidArgs: []string{"pending", "completed", "all"},
		RunE: func(cmd *cobra.Command, args []string) error {
			which := "all"
			if len(args) == 1 {
				which = args[0]
			}

			var pending, completed []model.Event
			var err error
			if which != "completed" {
				if pending, err = c.client.ListPending(cmd.Context()); err != nil {
					return fmt.Errorf("listing pending: %w", err)
				}
			}
			if which != "pending" {
				if completed, err = c.client.ListCompleted(cmd.Context()); err != nil {
					return fmt.Errorf("listing completed: %w", err)
				}
			}

			if c.jsonOutput {
				switch which {
				case "pending":
					return printJSON(c.out, nonNilEvents(pending))
				case "completed":
					return printJSON(c.out, nonNilEvents(completed))
				}
				return printJSON(c.out, map[string][]model.Event{
					"pending":   nonNilEvents(pending),
					"completed": nonNilEvents(completed),
				})
			}

			if which != "completed" {
				printEventTable(c.out, "Pending", pending)
			}
			if which == "all" {
				fmt.Fprintln(c.out)
			}
			if which != "pending" {
				printEventTable(c.out, "Completed", completed)
			}
			return nil
		},
	}
}

func nonNilEvents(evs []model.Event) []model.Event {
	if evs == nil {
		return []model.Event{}
	}
	return evs
}

func newActiveCmd(c *cli) *cobra.Command {
	return &cobra.Command{
		Use:     "active",
		Aliases: []string{"status"},
		Short:   "Show queue counts and the executing invocation",
		GroupID: "views",
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			sum, err := c.http.Summary(cmd.Context())
			if err != nil {
				return fmt.Errorf("fetching summary: %w", err)
			}
			active, err := c.http.Active(cmd.Context())
			if err != nil {
				return fmt.Errorf("fetching active event: %w", err)
			}

			if c.jsonOutput {
				return printJSON(c.out, map[string]any{
					"pending":   sum.Pending,
					"completed": sum.Completed,
					"active":    active,
				})
			}
			fmt.Fprintf(c.out, "Pending:   %d\nCompleted: %d\n", sum.Pending, sum.Completed)
			if active == nil {
				fmt.Fprintln(c.out, "Active:    "+ui.RenderMuted("none"))
				return nil
			}
			fmt.Fprintln(c.out)
			printEvent(c.out, active)
			return nil
		},
	}
}

func newHistoryCmd(c *cli) *cobra.Command {
	var (
		session string
		limit   int
	)
	cmd := &cobra.Command{
		Use:     "history",
		Short:   "List finished invocations from the persistent trail",
		GroupID: "views",
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if limit < 0 {
				return errors.New("--limit must not be negative")
			}
			recs, err := c.http.History(cmd.Context(), session, limit)
			if err != nil {
				return fmt.Errorf("fetching history: %w", err)
			}
			if c.jsonOutput {
				return printJSON(c.out, recs)
			}
			if len(recs) == 0 {
				fmt.Fprintln(c.out, ui.RenderMuted("No recorded invocations."))
				return nil
			}
			tw := tabwriter.NewWriter(c.out, 0, 0, 2, ' ', 0)
			fmt.Fprintln(tw, "SESSION\tID\tFINISHED\tPAYLOAD\tSTATUS")
			for _, r := range recs {
				fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n",
					r.SessionID,
					r.RequestID,
					r.FinishedAt.Local().Format("2006-01-02 15:04:05"),
					ui.Truncate(r.Payload, payloadColumnWidth),
					ui.RenderStatus(r.Status),
				)
			}
			return tw.Flush()
		},
	}
	cmd.Flags().StringVar(&session, "session", "", "only show this server session")
	cmd.Flags().IntVar(&limit, "limit", 50, "maximum records (0 = no limit)")
	return cmd
}
