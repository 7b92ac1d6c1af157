package commands

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/mixstack-labs/mixpipe/internal/artifact"
	"github.com/mixstack-labs/mixpipe/internal/duck"
	"github.com/mixstack-labs/mixpipe/internal/prepare"
	"github.com/mixstack-labs/mixpipe/internal/state"
)

// NewMergeCommand creates the merge command.
func NewMergeCommand() *cobra.Command {
	opts := prepare.Options{}

	cmd := &cobra.Command{
		Use:   "merge",
		Short: "Merge raw input tables into a modeling dataset",
		Long: `Merge the media and extra input tables into one model-ready CSV.

Both inputs are cleaned (locale-aware number parsing, date coercion),
deduplicated, joined on the date column (and geo when present), optionally
aggregated into Monday-start weeks, placed on a regular time index, and gap
weeks are filled so the dataset has no holes. KPI columns are renamed to the
canonical names the model expects.`,
		Example: `  # With positional defaults: data/media.csv + data/extra.csv -> data/merged.csv
  mixpipe merge

  # European locale inputs, weekly aggregation
  mixpipe merge --media ventas.csv --extra medios.csv \
    --sep ';' --decimal ',' --thousands '.' --date-format '%d/%m/%Y' \
    --aggregate-weekly

  # Map non-standard KPI columns
  mixpipe merge --kpi-column sales --revenue-column revenue --compute-per-conversion`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runMerge(cmd, opts)
		},
	}

	cmd.Flags().StringVar(&opts.MediaPath, "media", "", "Path to the media input file (csv, xlsx)")
	cmd.Flags().StringVar(&opts.ExtraPath, "extra", "", "Path to the extra input file (csv, xlsx)")
	cmd.Flags().StringVarP(&opts.OutputPath, "output", "o", "", "Output CSV path (default: <data-dir>/merged.csv)")
	cmd.Flags().StringVar(&opts.DateColumn, "date-column", "", "Name of the date column (default: time)")
	cmd.Flags().StringVar(&opts.KPIColumn, "kpi-column", "", "Input column holding the KPI (default: conversions)")
	cmd.Flags().StringVar(&opts.RevenueColumn, "revenue-column", "", "Input column holding revenue per KPI unit")
	cmd.Flags().StringVar(&opts.PopulationColumn, "population-column", "", "Input column holding population")
	cmd.Flags().StringVar(&opts.Sep, "sep", "", "Field separator of the input files (default: ,)")
	cmd.Flags().StringVar(&opts.Decimal, "decimal", "", "Decimal character of the input files (default: .)")
	cmd.Flags().StringVar(&opts.Thousands, "thousands", "", "Thousands separator stripped before parsing")
	cmd.Flags().StringVar(&opts.DateFormat, "date-format", "", "strptime format of the date column (e.g. %d/%m/%Y)")
	cmd.Flags().BoolVar(&opts.ComputePerConversion, "compute-per-conversion", false, "Divide the revenue column by the KPI column")
	cmd.Flags().BoolVar(&opts.AggregateWeekly, "aggregate-weekly", false, "Collapse daily rows into Monday-start weeks")
	cmd.Flags().StringSliceVar(&opts.MeanColumns, "mean-columns", nil, "Columns averaged instead of summed during weekly aggregation")

	return cmd
}

func runMerge(cmd *cobra.Command, opts prepare.Options) error {
	cfg := getConfig(cmd)
	logger := getLogger(cmd)

	if opts.MediaPath == "" {
		opts.MediaPath = filepath.Join(cfg.DataDir, "media.csv")
	}
	if opts.ExtraPath == "" {
		opts.ExtraPath = filepath.Join(cfg.DataDir, "extra.csv")
	}
	if opts.OutputPath == "" {
		opts.OutputPath = datasetPath(cfg, "")
	}

	store, err := openStore(cfg, logger)
	if err != nil {
		return err
	}
	defer func() { _ = store.Close() }()

	run, err := store.CreateRun(state.RunKindMerge, cfg.Environment)
	if err != nil {
		return err
	}

	result, err := mergeOnce(cmd, opts)
	finishRun(store, logger, run.ID, err)
	if err != nil {
		return err
	}

	fingerprint, err := artifact.Fingerprint(result.OutputPath)
	if err != nil {
		logger.Warn("failed to fingerprint dataset", "error", err)
	} else if _, err := store.RecordArtifact(run.ID, "dataset", result.OutputPath, fingerprint); err != nil {
		logger.Warn("failed to record dataset artifact", "error", err)
	}

	_, _ = fmt.Fprintf(cmd.OutOrStdout(), "Wrote %s (%d rows, %d columns)\n",
		result.OutputPath, result.Rows, len(result.Columns))
	if cfg.Verbose {
		_, _ = fmt.Fprintf(cmd.OutOrStdout(), "Columns: %s\n", strings.Join(result.Columns, ", "))
	}
	return nil
}

func mergeOnce(cmd *cobra.Command, opts prepare.Options) (*prepare.Result, error) {
	ctx := cmd.Context()

	db, err := duck.Open(ctx, ":memory:")
	if err != nil {
		return nil, err
	}
	defer func() { _ = db.Close() }()

	pipeline := prepare.New(db, opts, getLogger(cmd))
	return pipeline.Run(ctx)
}
