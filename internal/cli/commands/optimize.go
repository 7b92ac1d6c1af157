package commands

import (
	"fmt"
	"strconv"
	"strings"

	json "github.com/goccy/go-json"
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"

	"github.com/mixstack-labs/mixpipe/internal/artifact"
	"github.com/mixstack-labs/mixpipe/internal/inference"
	"github.com/mixstack-labs/mixpipe/internal/state"
)

// OptimizeOptions holds options for the optimize command.
type OptimizeOptions struct {
	Budget float64
	Bounds []string
	Format string
}

func (o *OptimizeOptions) validate() error {
	if o.Budget <= 0 {
		return fmt.Errorf("budget must be positive, got %v", o.Budget)
	}
	return nil
}

// NewOptimizeCommand creates the optimize command.
func NewOptimizeCommand() *cobra.Command {
	opts := &OptimizeOptions{}

	cmd := &cobra.Command{
		Use:   "optimize <artifact>",
		Short: "Find the budget allocation maximizing the modeled outcome",
		Long: `Ask the inference service for the spend allocation that maximizes the
expected outcome under the fitted model, for a fixed total budget.

Per-channel bounds constrain each channel's share of the total budget,
expressed as fractions.`,
		Example: `  mixpipe optimize artifacts/my-mmm.mmm.json.gz --budget 100000

  # Keep tv between 20% and 60% of the budget
  mixpipe optimize artifacts/my-mmm.mmm.json.gz --budget 100000 --bound tv=0.2:0.6`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runOptimize(cmd, args[0], opts)
		},
	}

	cmd.Flags().Float64Var(&opts.Budget, "budget", 0, "Total budget to allocate (required)")
	cmd.Flags().StringSliceVar(&opts.Bounds, "bound", nil, "Per-channel bound as channel=lower:upper budget fractions")
	cmd.Flags().StringVarP(&opts.Format, "format", "f", "table", "Output format: table, json")
	_ = cmd.MarkFlagRequired("budget")

	return cmd
}

func runOptimize(cmd *cobra.Command, path string, opts *OptimizeOptions) error {
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

	req := &inference.OptimizeRequest{
		Model:     a.Spec.Name,
		KPIKind:   a.Spec.KPI.Kind,
		Mapping:   a.Spec.Data,
		Posterior: a.Posterior,
		Budget:    opts.Budget,
		Bounds:    bounds,
	}

	result, err := client.Optimize(ctx, req)
	finishRun(store, logger, run.ID, err)
	if err != nil {
		return err
	}

	return renderOptimizeResult(cmd, result, opts.Format)
}

// parseBounds parses channel=lower:upper flags and checks the channels exist.
func parseBounds(specs, channels []string) (map[string]inference.ChannelBound, error) {
	if len(specs) == 0 {
		return nil, nil
	}

	known := make(map[string]bool, len(channels))
	for _, c := range channels {
		known[c] = true
	}

	bounds := make(map[string]inference.ChannelBound, len(specs))
	for _, spec := range specs {
		name, rangeSpec, ok := strings.Cut(spec, "=")
		if !ok {
			return nil, fmt.Errorf("invalid bound %q: expected channel=lower:upper", spec)
		}
		if !known[name] {
			return nil, fmt.Errorf("unknown channel %q in bound (channels: %s)", name, strings.Join(channels, ", "))
		}
		loStr, hiStr, ok := strings.Cut(rangeSpec, ":")
		if !ok {
			return nil, fmt.Errorf("invalid bound %q: expected channel=lower:upper", spec)
		}
		lo, err := strconv.ParseFloat(loStr, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid lower bound in %q: %w", spec, err)
		}
		hi, err := strconv.ParseFloat(hiStr, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid upper bound in %q: %w", spec, err)
		}
		if lo < 0 || hi > 1 || lo > hi {
			return nil, fmt.Errorf("bound %q out of range: fractions must satisfy 0 <= lower <= upper <= 1", spec)
		}
		bounds[name] = inference.ChannelBound{Lower: lo, Upper: hi}
	}
	return bounds, nil
}

func renderOptimizeResult(cmd *cobra.Command, result *inference.OptimizeResult, format string) error {
	if format == "json" {
		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", "  ")
		return enc.Encode(result)
	}

	t := table.NewWriter()
	t.SetOutputMirror(cmd.OutOrStdout())
	t.SetStyle(table.StyleLight)
	t.AppendHeader(table.Row{"Channel", "Current Spend", "Optimized Spend", "Change", "ROI (mean)"})

	for _, alloc := range result.Allocations {
		t.AppendRow(table.Row{
			alloc.Channel,
			fmt.Sprintf("%.0f", alloc.CurrentSpend),
			fmt.Sprintf("%.0f", alloc.OptimizedSpend),
			fmt.Sprintf("%+.0f", alloc.OptimizedSpend-alloc.CurrentSpend),
			fmt.Sprintf("%.2f", alloc.ROIMean),
		})
	}
	t.Render()

	_, _ = fmt.Fprintf(cmd.OutOrStdout(), "Expected outcome: %.0f -> %.0f (%+.1f%%)\n",
		result.CurrentOutcome, result.OptimizedOutcome, result.Lift()*100)
	return nil
}
