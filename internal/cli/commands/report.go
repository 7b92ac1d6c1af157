package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/mixstack-labs/mixpipe/internal/artifact"
	"github.com/mixstack-labs/mixpipe/internal/inference"
	"github.com/mixstack-labs/mixpipe/internal/report"
	"github.com/mixstack-labs/mixpipe/internal/state"
)

// NewReportCommand creates the report command and its subcommands.
func NewReportCommand() *cobra.Command {
	var outputDir string

	cmd := &cobra.Command{
		Use:   "report <artifact>",
		Short: "Generate an HTML model-results report",
		Long: `Generate a self-contained HTML report for a fitted model artifact:
sampling setup, convergence diagnostics with an R-hat boxplot, posterior
parameter summaries, and per-channel ROI.`,
		Example: `  mixpipe report artifacts/my-mmm.mmm.json.gz
  mixpipe report artifacts/my-mmm.mmm.json.gz --output-dir /tmp/reports`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runReport(cmd, args[0], outputDir)
		},
	}

	cmd.Flags().StringVar(&outputDir, "output-dir", "", "Directory for generated reports (default: <reports-dir>)")

	cmd.AddCommand(newReportOptimizeCommand())
	cmd.AddCommand(newReportServeCommand())

	return cmd
}

func runReport(cmd *cobra.Command, path, outputDir string) error {
	cfg := getConfig(cmd)

	a, err := artifact.Load(path)
	if err != nil {
		return err
	}

	gen, err := report.NewGenerator()
	if err != nil {
		return err
	}

	if outputDir == "" {
		outputDir = cfg.ReportsDir
	}
	written, err := gen.WriteSummary(a, outputDir)
	if err != nil {
		return err
	}

	_, _ = fmt.Fprintf(cmd.OutOrStdout(), "Wrote %s\n", written)
	return nil
}

// newReportOptimizeCommand creates the report optimize subcommand.
func newReportOptimizeCommand() *cobra.Command {
	opts := &OptimizeOptions{}
	var outputDir string

	cmd := &cobra.Command{
		Use:   "optimize <artifact>",
		Short: "Generate an HTML budget-optimization report",
		Long: `Run a budget optimization against the inference service and render the
result as an HTML report: current vs optimized allocation per channel and
the expected outcome lift.`,
		Example: `  mixpipe report optimize artifacts/my-mmm.mmm.json.gz --budget 100000`,
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runReportOptimize(cmd, args[0], opts, outputDir)
		},
	}

	cmd.Flags().Float64Var(&opts.Budget, "budget", 0, "Total budget to allocate (required)")
	cmd.Flags().StringSliceVar(&opts.Bounds, "bound", nil, "Per-channel bound as channel=lower:upper budget fractions")
	cmd.Flags().StringVar(&outputDir, "output-dir", "", "Directory for generated reports (default: <reports-dir>)")
	_ = cmd.MarkFlagRequired("budget")

	return cmd
}

func runReportOptimize(cmd *cobra.Command, path string, opts *OptimizeOptions, outputDir string) error {
	ctx := cmd.Context()
	cfg := getConfig(cmd)
	logger := getLogger(cmd)

	if err := opts.validate(); err != nil {
		return err
	}

	a, err := artifact.Load(path)
	if err != nil {
		return err
	}

	bounds, err := parseBounds(opts.Bounds, a.Spec.ChannelNames())
	if err != nil {
		return err
	}

	client, err := newServiceClient(cfg, logger)
	if err != nil {
		return err
	}

	store, err := openStore(cfg, logger)
	if err != nil {
		return err
	}
	defer func() { _ = store.Close() }()

	run, err := store.CreateRun(state.RunKindOptimize, cfg.Environment)
	if err != nil {
		return err
	}

	result, err := client.Optimize(ctx, &inference.OptimizeRequest{
		Model:     a.Spec.Name,
		KPIKind:   a.Spec.KPI.Kind,
		Mapping:   a.Spec.Data,
		Posterior: a.Posterior,
		Budget:    opts.Budget,
		Bounds:    bounds,
	})
	finishRun(store, logger, run.ID, err)
	if err != nil {
		return err
	}

	gen, err := report.NewGenerator()
	if err != nil {
		return err
	}

	if outputDir == "" {
		outputDir = cfg.ReportsDir
	}
	written, err := gen.WriteOptimization(a, result, outputDir)
	if err != nil {
		return err
	}

	if fp, err := artifact.Fingerprint(written); err == nil {
		if _, err := store.RecordArtifact(run.ID, "report", written, fp); err != nil {
			logger.Warn("failed to record report artifact", "error", err)
		}
	}

	_, _ = fmt.Fprintf(cmd.OutOrStdout(), "Wrote %s\n", written)
	return nil
}

// newReportServeCommand creates the report serve subcommand.
func newReportServeCommand() *cobra.Command {
	var port int

	cmd := &cobra.Command{
		Use:   "serve <artifact>",
		Short: "Serve the model report with live reload",
		Long: `Serve the model-results report over HTTP. The artifact file is watched
and the page reloads automatically when a new fit replaces it.`,
		Example: `  mixpipe report serve artifacts/my-mmm.mmm.json.gz
  mixpipe report serve artifacts/my-mmm.mmm.json.gz --port 9090`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			srv, err := report.NewServer(args[0], port, getLogger(cmd))
			if err != nil {
				return err
			}
			return srv.Serve(cmd.Context())
		},
	}

	cmd.Flags().IntVarP(&port, "port", "p", 8642, "Port to serve the report on")

	return cmd
}
