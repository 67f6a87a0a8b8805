package commands

import (
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"presupuesto/internal/core"
)

func (c *CLI) newMobilityCmd() *cobra.Command {
	var top int
	cmd := &cobra.Command{
		Use:   "mobility",
		Short: "Compare mobility spend per category against the prior year",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			v := c.engine.Mobility(cmd.Context())
			if top > 0 && top < len(v.Profiles) {
				v.Profiles = v.Profiles[:top]
			}
			if c.asJSON {
				return writeJSON(cmd.OutOrStdout(), v)
			}
			return printMobility(cmd.OutOrStdout(), v)
		},
	}
	cmd.Flags().IntVarP(&top, "top", "n", 0, "Show only the N categories with the most mobility spend")
	return cmd
}

func printMobility(w io.Writer, v core.MobilityView) error {
	prior := v.PriorSource
	if prior == "" {
		prior = "none"
	}
	fmt.Fprintf(w, "Fiscal year %d vs %d, source %s, prior %s", v.FiscalYear, v.PriorFiscalYear, v.Source, prior)
	if v.Fallback {
		fmt.Fprintf(w, " (fallback snapshot %s)", v.SnapshotVersion)
	}
	fmt.Fprintln(w)
	printFailures(w, v.Failures)

	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', tabwriter.AlignRight)
	fmt.Fprintln(tw, "ID\tCATEGORY\tFLIGHTS\tLODGING\tFUEL\tMOBILITY\tSHARE\tPRIOR\tCHANGE\t")
	for _, p := range v.Profiles {
		mark := ""
		if p.PriorSynthesized {
			mark = "*"
		}
		fmt.Fprintf(tw, "%d\t%s\t%s\t%s\t%s\t%s\t%.2f%%\t%s%s\t%+.1f%%\t\n",
			p.CategoryID, p.CategoryName,
			p.FlightsTotal.StringFixed(2), p.LodgingMealsTotal.StringFixed(2), p.FuelTotal.StringFixed(2),
			p.CurrentMobilityTotal.StringFixed(2), p.MobilityShare*100,
			p.PriorYearMobilityTotal.StringFixed(2), mark, p.YearOverYearVariancePct)
	}
	if err := tw.Flush(); err != nil {
		return err
	}
	fmt.Fprintln(w, "* prior year estimated from the current year")
	return nil
}
