package main

import (
	"encoding/json"
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/alfredjeanlab/lambdaq/internal/model"
	"github.com/alfredjeanlab/lambdaq/internal/ui"
)

// payloadColumnWidth caps the payload column in tables. main widens it to
// fit the terminal.
var payloadColumnWidth = 48

func printJSON(w io.Writer, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("marshaling JSON: %w", err)
	}
	fmt.Fprintln(w, string(data))
	return nil
}

func printEvent(w io.Writer, ev *model.Event) {
	fmt.Fprintf(w, "ID:           %s\n", ui.RenderAccent(ev.ID))
	fmt.Fprintf(w, "Status:       %s\n", ui.RenderStatus(ev.Status))
	fmt.Fprintf(w, "Function:     %s\n", ev.FunctionARN)
	fmt.Fprintf(w, "Payload:      %s\n", ev.Payload)
	if ev.Response != "" {
		fmt.Fprintf(w, "Response:     %s\n", ev.Response)
	}
	if ev.ErrorType != "" {
		fmt.Fprintf(w, "Error Type:   %s\n", ev.ErrorType)
		fmt.Fprintf(w, "Error:        %s\n", ev.ErrorBody)
	}
	if !ev.LastUpdated.IsZero() {
		fmt.Fprintf(w, "Last Updated: %s\n", ev.LastUpdated.Format("2006-01-02 15:04:05"))
	}
}

// printEventTable writes one row per event. The header is plain text so
// tabwriter can align it; colored cells go last on each row.
func printEventTable(w io.Writer, title string, evs []model.Event) {
	fmt.Fprintf(w, "%s (%d)\n", title, len(evs))
	if len(evs) == 0 {
		return
	}
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tUPDATED\tPAYLOAD\tSTATUS")
	for _, ev := range evs {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n",
			ev.ID,
			ev.LastUpdated.Format("15:04:05"),
			ui.Truncate(ev.Payload, payloadColumnWidth),
			ui.RenderStatus(ev.Status),
		)
	}
	tw.Flush()
}
