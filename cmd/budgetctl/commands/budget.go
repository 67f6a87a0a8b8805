package commands

import (
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"presupuesto/internal/core"
)

func (c *CLI) newBudgetCmd() *cobra.Command {
	var top int
	cmd := &cobra.Command{
		Use:   "budget",
		Short: "Compute the per-category budget model",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			m := c.engine.Budget(cmd.Context())
			if top > 0 && top < len(m.Categories) {
				m.Categories = m.Categories[:top]
			}
			if c.asJSON {
				return writeJSON(cmd.OutOrStdout(), m)
			}
			return printBudget(cmd.OutOrStdout(), m)
		},
	}
	cmd.Flags().IntVarP(&top, "top", "n", 0, "Show only the N largest categories")
	return cmd
}

func printBudget(w io.Writer, m core.BudgetModel) error {
	fmt.Fprintf(w, "Fiscal year %d, source %s", m.FiscalYear, m.Source)
	if m.Fallback {
		fmt.Fprintf(w, " (fallback snapshot %s)", m.SnapshotVersion)
	}
	fmt.Fprintln(w)
	printFailures(w, m.Failures)

	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', tabwriter.AlignRight)
	fmt.Fprintln(tw, "ID\tCATEGORY\tAPPROVED\tEXERCISED\tEXECUTION\t")
	for _, cat := range m.Categories {
		fmt.Fprintf(tw, "%d\t%s\t%s\t%s\t%.1f%%\t\n",
			cat.ID, cat.Name, cat.Approved.StringFixed(2), cat.Exercised.StringFixed(2), cat.ExecutionRatio*100)
	}
	fmt.Fprintf(tw, "\tTOTAL\t%s\t%s\t\t\n", m.TotalApproved.StringFixed(2), m.TotalExercised.StringFixed(2))
	if err := tw.Flush(); err != nil {
		return err
	}

	if !m.Stats.Clean() {
		fmt.Fprintf(w, "Skipped: %d short rows, %d invalid ids; %d amounts read as zero\n",
			m.Stats.ShortRows, m.Stats.InvalidIDs, m.Stats.ZeroedAmounts)
	}
	return nil
}

func printFailures(w io.Writer, failures []core.SourceFailure) {
	for _, f := range failures {
		fmt.Fprintf(w, "  skipped %s: %s\n", f.Source, f.Reason)
	}
}
