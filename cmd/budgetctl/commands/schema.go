package commands

import (
	"fmt"
	"io"
	"sort"

	"github.com/spf13/cobra"

	"presupuesto/internal/core"
	"presupuesto/internal/ingest"
)

func (c *CLI) newSchemaCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "schema <source>",
		Short: "Fetch one source and show how its header resolves",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			report, err := c.engine.Probe(cmd.Context(), args[0])
			if c.asJSON {
				if jerr := writeJSON(cmd.OutOrStdout(), report); jerr != nil {
					return jerr
				}
			} else {
				printReport(cmd.OutOrStdout(), report)
			}
			if err != nil {
				return fmt.Errorf("probe %s: %w", args[0], err)
			}
			return nil
		},
	}
}

func printReport(w io.Writer, r ingest.ProbeReport) {
	fmt.Fprintf(w, "%s  %s\n", r.Source, r.Location)
	if r.Header == nil {
		return
	}
	fmt.Fprintf(w, "%d data rows, %d columns\n", r.Rows, len(r.Header))

	fields := make([]core.Field, 0, len(r.Schema))
	for f := range r.Schema {
		fields = append(fields, f)
	}
	sort.Slice(fields, func(i, j int) bool { return r.Schema[fields[i]] < r.Schema[fields[j]] })
	for _, f := range fields {
		idx := r.Schema[f]
		fmt.Fprintf(w, "  %-18s <- column %d %q\n", f, idx, r.Header[idx])
	}
	for _, f := range r.Missing {
		fmt.Fprintf(w, "  %-18s    missing\n", f)
	}

	if r.TotalApproved != "" {
		fmt.Fprintf(w, "%d categories, approved total %s\n", r.Categories, r.TotalApproved)
	}
}
