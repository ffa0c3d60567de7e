package main

import (
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"video-effects-backend/internal/effects"
)

func newEffectsCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "effects",
		Short: "List available effects",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "ID\tNAME\tFILTER")
			for _, e := range effects.All() {
				filter := e.Filter
				if filter == "" {
					filter = "-"
				}
				fmt.Fprintf(tw, "%s\t%s\t%s\n", e.ID, e.Label, filter)
			}
			return tw.Flush()
		},
	}
}
