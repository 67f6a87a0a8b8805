// Package commands implements the budgetctl operator commands.
package commands

import (
	"context"
	"encoding/json"
	"io"

	"github.com/spf13/cobra"

	"presupuesto/internal/core"
	"presupuesto/internal/ingest"
)

// Engine is the part of the ingestion engine the commands use.
type Engine interface {
	Budget(ctx context.Context) core.BudgetModel
	Mobility(ctx context.Context) core.MobilityView
	Probe(ctx context.Context, name string) (ingest.ProbeReport, error)
	Sources() []ingest.SourceInfo
}

// CLI represents the budgetctl command line interface.
type CLI struct {
	engine  Engine
	rootCmd *cobra.Command
	asJSON  bool
}

func New(engine Engine) *CLI {
	rootCmd := &cobra.Command{
		Use:           "budgetctl",
		Short:         "Inspect the federal budget ingestion pipelines",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	c := &CLI{engine: engine, rootCmd: rootCmd}
	rootCmd.PersistentFlags().BoolVar(&c.asJSON, "json", false, "Print results as JSON")

	rootCmd.AddCommand(c.newBudgetCmd())
	rootCmd.AddCommand(c.newMobilityCmd())
	rootCmd.AddCommand(c.newSchemaCmd())
	rootCmd.AddCommand(c.newSourcesCmd())
	return c
}

// Execute runs the root command with the given context.
func (c *CLI) Execute(ctx context.Context) error {
	c.rootCmd.SetContext(ctx)
	return c.rootCmd.Execute()
}

// SetArgs sets the arguments for the root command. Used for testing.
func (c *CLI) SetArgs(args []string) {
	c.rootCmd.SetArgs(args)
}

// SetOutput redirects standard and error output.
func (c *CLI) SetOutput(out, errOut io.Writer) {
	c.rootCmd.SetOut(out)
	c.rootCmd.SetErr(errOut)
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
