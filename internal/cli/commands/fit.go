package commands

import (
	"fmt"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/mixstack-labs/mixpipe/internal/artifact"
	"github.com/mixstack-labs/mixpipe/internal/diagnostics"
	"github.com/mixstack-labs/mixpipe/internal/inference"
	"github.com/mixstack-labs/mixpipe/internal/modelspec"
	"github.com/mixstack-labs/mixpipe/internal/state"
)

// FitOptions holds options for the fit command.
type FitOptions struct {
	ModelPath     string
	DataPath      string
	OutputPath    string
	RHatThreshold float64
	SkipPrior     bool
	Force         bool
}

// NewFitCommand creates the fit command.
func NewFitCommand() *cobra.Command {
	opts := &FitOptions{}

	cmd := &cobra.Command{
		Use:   "fit",
		Short: "Fit the model on the prepared dataset",
		Long: `Fit the Bayesian marketing mix model described by the model spec.

The prepared dataset and model configuration are sent to the inference
service, which samples the prior and posterior distributions. Convergence
diagnostics (split R-hat, effective sample size) are computed locally from
the returned draws, and the fitted model is saved as a reusable artifact.

A fit whose worst R-hat exceeds the threshold is rejected; pass --force to
save it anyway.`,
		Example: `  mixpipe fit
  mixpipe fit --model model.yaml --data data/merged.csv
  mixpipe fit --rhat-threshold 1.05
  mixpipe fit --force`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runFit(cmd, opts)
		},
	}

	cmd.Flags().StringVarP(&opts.ModelPath, "model", "m", "model.yaml", "Path to the model spec")
	cmd.Flags().StringVar(&opts.DataPath, "data", "", "Path to the prepared dataset (default: <data-dir>/merged.csv)")
	cmd.Flags().StringVarP(&opts.OutputPath, "output", "o", "", "Artifact output path (default: <artifacts-dir>/<model name>.mmm.json.gz)")
	cmd.Flags().Float64Var(&opts.RHatThreshold, "rhat-threshold", diagnostics.DefaultRHatThreshold, "Maximum acceptable split R-hat")
	cmd.Flags().BoolVar(&opts.SkipPrior, "skip-prior", false, "Skip prior sampling")
	cmd.Flags().BoolVar(&opts.Force, "force", false, "Save the artifact even when chains have not converged")

	return cmd
}

func runFit(cmd *cobra.Command, opts *FitOptions) error {
	ctx := cmd.Context()
	cfg := getConfig(cmd)
	logger := getLogger(cmd)

	spec, err := modelspec.Load(opts.ModelPath)
	if err != nil {
		return err
	}

	dataPath := datasetPath(cfg, opts.DataPath)
	data, err := loadDataset(ctx, dataPath)
	if err != nil {
		return err
	}

	fingerprint, err := artifact.Fingerprint(dataPath)
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

	run, err := store.CreateRun(state.RunKindFit, cfg.Environment)
	if err != nil {
		return err
	}

	outputPath := opts.OutputPath
	if outputPath == "" {
		outputPath = filepath.Join(cfg.ArtifactsDir, spec.Name+artifact.DefaultExtension)
	}

	savedPath, fitErr := fitOnce(cmd, opts, spec, data, dataPath, fingerprint, outputPath, client, run.ID)
	finishRun(store, logger, run.ID, fitErr)
	if fitErr != nil {
		return fitErr
	}

	if _, err := store.RecordArtifact(run.ID, "model", savedPath, fingerprint); err != nil {
		logger.Warn("failed to record model artifact", "error", err)
	}
	return nil
}

func fitOnce(
	cmd *cobra.Command,
	opts *FitOptions,
	spec *modelspec.Spec,
	data *inference.Table,
	dataPath, fingerprint, outputPath string,
	client *inference.Client,
	runID string,
) (string, error) {
	ctx := cmd.Context()
	logger := getLogger(cmd)

	req := &inference.SampleRequest{
		Model:    spec.Name,
		KPIKind:  spec.KPI.Kind,
		Mapping:  spec.Data,
		Priors:   spec.Priors,
		Sampling: spec.Sampling,
		Data:     data,
	}

	logger.Info("sampling", "model", spec.Name, "rows", len(data.Rows),
		"chains", spec.Sampling.Chains, "keep", spec.Sampling.Keep)
	start := time.Now()

	// Prior and posterior sampling are independent service calls.
	var prior, posterior *inference.DrawSet
	g, gctx := errgroup.WithContext(ctx)
	if !opts.SkipPrior {
		g.Go(func() error {
			var err error
			prior, err = client.SamplePrior(gctx, req)
			return err
		})
	}
	g.Go(func() error {
		var err error
		posterior, err = client.SamplePosterior(gctx, req)
		return err
	})
	if err := g.Wait(); err != nil {
		return "", err
	}

	logger.Info("sampling finished", "elapsed", time.Since(start).Round(time.Second))

	diag, err := diagnostics.Compute(posterior, opts.RHatThreshold)
	if err != nil {
		return "", err
	}

	_, _ = fmt.Fprintf(cmd.OutOrStdout(), "Max R-hat: %.3f (threshold %.2f), min ESS: %.0f\n",
		diag.MaxRHat, diag.Threshold, diag.MinESS)

	if !diag.Converged() {
		if !opts.Force {
			return "", fmt.Errorf("chains have not converged (max R-hat %.3f > %.2f); increase sampling or pass --force to save anyway",
				diag.MaxRHat, diag.Threshold)
		}
		logger.Warn("saving artifact despite convergence failure", "max_rhat", diag.MaxRHat)
	}

	a := &artifact.Artifact{
		Name:            spec.Name,
		RunID:           runID,
		DataPath:        dataPath,
		DataFingerprint: fingerprint,
		Spec:            spec,
		Prior:           prior,
		Posterior:       posterior,
		Diagnostics:     diag,
	}
	if err := artifact.Save(a, outputPath); err != nil {
		return "", err
	}

	_, _ = fmt.Fprintf(cmd.OutOrStdout(), "Saved model artifact to %s\n", outputPath)
	return outputPath, nil
}
