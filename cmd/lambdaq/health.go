package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

func newHealthCmd(c *cli) *cobra.Command {
	return &cobra.Command{
		Use:     "health",
		Short:   "Check the health of the lambdaq server",
		GroupID: "system",
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			status, err := c.client.Health(cmd.Context())
			if err != nil {
				return fmt.Errorf("checking health: %w", err)
			}

			if c.jsonOutput {
				if err := printJSON(c.out, map[string]string{"status": status}); err != nil {
					return err
				}
			} else {
				fmt.Fprintf(c.out, "Health: %s\n", status)
			}

			if status != "ok" {
				return fmt.Errorf("unhealthy: %s", status)
			}
			return nil
		},
	}
}
