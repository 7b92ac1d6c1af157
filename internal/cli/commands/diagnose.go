package commands

import (
	"fmt"
	"math"

	json "github.com/goccy/go-json"
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"

	"github.com/mixstack-labs/mixpipe/internal/artifact"
	"github.com/mixstack-labs/mixpipe/internal/diagnostics"
)

// NewDiagnoseCommand creates the diagnose command.
func NewDiagnoseCommand() *cobra.Command {
	var format string
	var threshold float64

	cmd := &cobra.Command{
		Use:   "diagnose <artifact>",
		Short: "Show convergence diagnostics for a fitted model",
		Long: `Show split R-hat and effective sample size for every sampled parameter
of a fitted model artifact.

Diagnostics are recomputed from the stored posterior draws, so a custom
--rhat-threshold can be applied after the fact.`,
		Example: `  mixpipe diagnose artifacts/my-mmm.mmm.json.gz
  mixpipe diagnose artifacts/my-mmm.mmm.json.gz --rhat-threshold 1.05
  mixpipe diagnose artifacts/my-mmm.mmm.json.gz --format json`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runDiagnose(cmd, args[0], format, threshold)
		},
	}

	cmd.Flags().StringVarP(&format, "format", "f", "table", "Output format: table, json")
	cmd.Flags().Float64Var(&threshold, "rhat-threshold", diagnostics.DefaultRHatThreshold, "Maximum acceptable split R-hat")

	return cmd
}

func runDiagnose(cmd *cobra.Command, path, format string, threshold float64) error {
	a, err := artifact.Load(path)
	if err != nil {
		return err
	}

	report, err := diagnostics.Compute(a.Posterior, threshold)
	if err != nil {
		return err
	}

	if format == "json" {
		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", "  ")
		return enc.Encode(report)
	}

	_, _ = fmt.Fprintf(cmd.OutOrStdout(), "Model: %s (fitted %s)\n",
		a.Name, a.CreatedAt.Format("2006-01-02 15:04 UTC"))

	t := table.NewWriter()
	t.SetOutputMirror(cmd.OutOrStdout())
	t.SetStyle(table.StyleLight)
	t.AppendHeader(table.Row{"Parameter", "R-hat", "ESS", "Mean", "SD", "5%", "Median", "95%"})

	for _, p := range report.Params {
		t.AppendRow(table.Row{
			p.Name,
			formatRHat(p.RHat, threshold),
			fmt.Sprintf("%.0f", p.ESS),
			fmt.Sprintf("%.3f", p.Mean),
			fmt.Sprintf("%.3f", p.SD),
			fmt.Sprintf("%.3f", p.Q5),
			fmt.Sprintf("%.3f", p.Median),
			fmt.Sprintf("%.3f", p.Q95),
		})
	}
	t.Render()

	if report.Converged() {
		_, _ = fmt.Fprintf(cmd.OutOrStdout(), "Converged: max R-hat %.3f <= %.2f\n", report.MaxRHat, threshold)
	} else {
		_, _ = fmt.Fprintf(cmd.OutOrStdout(), "NOT converged: max R-hat %.3f > %.2f\n", report.MaxRHat, threshold)
	}
	return nil
}

func formatRHat(v, threshold float64) string {
	if math.IsNaN(v) {
		return "n/a"
	}
	s := fmt.Sprintf("%.3f", v)
	if v > threshold {
		s += " !"
	}
	return s
}
