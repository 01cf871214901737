// Command lambdaq runs a local Lambda runtime-API invocation queue and
// drives it from the command line.
package main

import (
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/alfredjeanlab/lambdaq/internal/client"
	"github.com/alfredjeanlab/lambdaq/internal/ui"
)

// cli holds flag values and the connection shared by one command tree.
type cli struct {
	httpURL    string
	grpcAddr   string
	transport  string
	jsonOutput bool

	client client.QueueClient
	// http serves the HTTP-only views (active, summary, history, watch).
	http *client.HTTPClient

	out io.Writer
	err io.Writer
}

func defaultHTTPURL() string {
	if s := os.Getenv("LAMBDAQ_URL"); s != "" {
		return s
	}
	return "http://localhost:9001"
}

func defaultGRPCAddr() string {
	if s := os.Getenv("LAMBDAQ_SERVER"); s != "" {
		return s
	}
	return "localhost:9090"
}

func newRootCmd(out, errOut io.Writer) *cobra.Command {
	c := &cli{out: out, err: errOut}

	root := &cobra.Command{
		Use:           "lambdaq <command>",
		Short:         "Local Lambda runtime API invocation queue",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			c.http = client.NewHTTPClient(c.httpURL)
			switch c.transport {
			case "http":
				c.client = c.http
			case "grpc":
				gc, err := client.NewGRPCClient(c.grpcAddr)
				if err != nil {
					return fmt.Errorf("failed to connect to server: %w", err)
				}
				c.client = gc
			default:
				return fmt.Errorf("unknown transport %q (must be http or grpc)", c.transport)
			}
			return nil
		},
		PersistentPostRun: func(cmd *cobra.Command, args []string) {
			if c.client != nil {
				c.client.Close()
			}
		},
	}
	root.SetOut(out)
	root.SetErr(errOut)

	root.PersistentFlags().StringVar(&c.httpURL, "url", defaultHTTPURL(), "HTTP server URL")
	root.PersistentFlags().StringVar(&c.grpcAddr, "server", defaultGRPCAddr(), "gRPC server address")
	root.PersistentFlags().StringVar(&c.transport, "transport", "http", "transport protocol (http or grpc)")
	root.PersistentFlags().BoolVar(&c.jsonOutput, "json", false, "output as JSON")

	root.AddGroup(
		&cobra.Group{ID: "queue", Title: "Queue:"},
		&cobra.Group{ID: "views", Title: "Views:"},
		&cobra.Group{ID: "system", Title: "System:"},
	)

	root.AddCommand(
		newEnqueueCmd(c),
		newNextCmd(c),
		newRespondCmd(c),
		newFailCmd(c),
		newDeleteCmd(c),
		newClearCmd(c),

		newListCmd(c),
		newActiveCmd(c),
		newHistoryCmd(c),
		newRuntimesCmd(c),
		newWatchCmd(c),

		newServeCmd(),
		newHealthCmd(c),
	)
	return root
}

func main() {
	ui.SetColor(ui.ShouldUseColor(os.Stdout))
	payloadColumnWidth = max(payloadColumnWidth, ui.Width(os.Stdout, 0)-40)
	if err := newRootCmd(os.Stdout, os.Stderr).Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
