package commands

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
)

const configTemplate = `# mixpipe project configuration
data_dir: data
artifacts_dir: artifacts
reports_dir: reports
state_path: .mixpipe/state.db
environment: dev

service:
  url: http://localhost:8600
  timeout_minutes: 30

# environments:
#   prod:
#     data_dir: /srv/mixpipe/data
#     service:
#       url: http://mmm.internal:8600
`

const modelTemplate = `# Marketing mix model specification
name: my-mmm

kpi:
  kind: non_revenue          # revenue | non_revenue
  column: conversions
  revenue_per_kpi_column: revenue_per_conversion

data:
  time_column: time
  geo_column: geo
  population_column: population
  media_channels:
    - name: tv
      spend_column: tv_spend
      impressions_column: tv_impressions
    - name: digital
      spend_column: digital_spend
      impressions_column: digital_impressions
  controls: []

priors:
  roi:
    mu: 0.2
    sigma: 0.9

sampling:
  chains: 7
  adapt: 500
  burnin: 500
  keep: 1000
  seed: 1
`

// NewInitCommand creates the init command.
func NewInitCommand() *cobra.Command {
	var force bool

	cmd := &cobra.Command{
		Use:   "init [directory]",
		Short: "Initialize a new mixpipe project",
		Long: `Initialize a new mixpipe project with default directory structure and configuration.

This creates:
  - data/ directory for raw and prepared datasets
  - artifacts/ directory for fitted model artifacts
  - reports/ directory for generated HTML reports
  - mixpipe.yaml configuration file
  - model.yaml model specification`,
		Example: `  # Initialize in current directory
  mixpipe init

  # Initialize in a new directory
  mixpipe init my-mmm-project

  # Force overwrite existing config
  mixpipe init --force`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			dir := "."
			if len(args) > 0 {
				dir = args[0]
			}
			return runInit(cmd, dir, force)
		},
	}

	cmd.Flags().BoolVar(&force, "force", false, "Overwrite existing configuration")

	return cmd
}

func runInit(cmd *cobra.Command, dir string, force bool) error {
	if dir != "." {
		if err := os.MkdirAll(dir, 0750); err != nil {
			return fmt.Errorf("failed to create directory %s: %w", dir, err)
		}
	}

	configPath := filepath.Join(dir, "mixpipe.yaml")
	if _, err := os.Stat(configPath); err == nil && !force {
		return fmt.Errorf("mixpipe.yaml already exists. Use --force to overwrite")
	}

	for _, sub := range []string{"data", "artifacts", "reports"} {
		if err := os.MkdirAll(filepath.Join(dir, sub), 0750); err != nil {
			return fmt.Errorf("failed to create %s directory: %w", sub, err)
		}
	}

	files := []struct {
		path    string
		content string
	}{
		{configPath, configTemplate},
		{filepath.Join(dir, "model.yaml"), modelTemplate},
	}
	for _, f := range files {
		if f.path != configPath && !force {
			if _, err := os.Stat(f.path); err == nil {
				continue
			}
		}
		if err := os.WriteFile(f.path, []byte(f.content), 0600); err != nil {
			return fmt.Errorf("failed to write %s: %w", f.path, err)
		}
		_, _ = fmt.Fprintf(cmd.OutOrStdout(), "  created %s\n", f.path)
	}

	_, _ = fmt.Fprintln(cmd.OutOrStdout())
	_, _ = fmt.Fprintln(cmd.OutOrStdout(), "mixpipe project initialized!")
	_, _ = fmt.Fprintln(cmd.OutOrStdout())
	_, _ = fmt.Fprintln(cmd.OutOrStdout(), "Next steps:")
	_, _ = fmt.Fprintln(cmd.OutOrStdout(), "  1. Drop your media and extra input files into data/")
	_, _ = fmt.Fprintln(cmd.OutOrStdout(), "  2. Run 'mixpipe merge' to build the modeling dataset")
	_, _ = fmt.Fprintln(cmd.OutOrStdout(), "  3. Edit model.yaml to map your columns and channels")
	_, _ = fmt.Fprintln(cmd.OutOrStdout(), "  4. Run 'mixpipe fit' to fit the model")

	return nil
}
