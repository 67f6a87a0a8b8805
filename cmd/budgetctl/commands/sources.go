package commands

import (
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"
)

func (c *CLI) newSourcesCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "sources",
		Short: "List the configured candidate sources in fallback order",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			infos := c.engine.Sources()
			if c.asJSON {
				return writeJSON(cmd.OutOrStdout(), infos)
			}
			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
			fmt.Fprintln(tw, "PIPELINE\t#\tNAME\tLOCATION")
			for _, s := range infos {
				fmt.Fprintf(tw, "%s\t%d\t%s\t%s\n", s.Pipeline, s.Position, s.Name, s.Location)
			}
			return tw.Flush()
		},
	}
}
