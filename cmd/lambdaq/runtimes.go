package main

import (
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/alfredjeanlab/lambdaq/internal/ui"
)

func newRuntimesCmd(c *cli) *cobra.Command {
	var stale time.Duration
	cmd := &cobra.Command{
		Use:     "runtimes",
		Short:   "List runtime clients polling the runtime API",
		GroupID: "views",
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			entries, err := c.http.Runtimes(cmd.Context(), stale)
			if err != nil {
				return fmt.Errorf("listing runtimes: %w", err)
			}
			if c.jsonOutput {
				return printJSON(c.out, entries)
			}
			if len(entries) == 0 {
				fmt.Fprintln(c.out, ui.RenderMuted("No runtime clients seen."))
				return nil
			}
			tw := tabwriter.NewWriter(c.out, 0, 0, 2, ' ', 0)
			fmt.Fprintln(tw, "CLIENT\tLAST CALL\tREQUEST\tIDLE\tCALLS\tSTATE")
			for _, e := range entries {
				state := ui.RenderAccent("live")
				switch {
				case e.Lost:
					state = ui.RenderMuted("lost")
				case e.Waiting > 0:
					state = ui.RenderAccent("polling")
				}
				fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%d\t%s\n",
					e.Client,
					e.LastCall,
					e.LastRequestID,
					time.Duration(e.IdleSecs*float64(time.Second)).Round(time.Second),
					e.Calls,
					state,
				)
			}
			return tw.Flush()
		},
	}
	cmd.Flags().DurationVar(&stale, "stale", 0, "hide clients idle longer than this (0 = show all)")
	return cmd
}
