package commands

import (
	"errors"
	"fmt"
	"io/fs"
	"os"

	json "github.com/goccy/go-json"
	"github.com/spf13/cobra"

	"github.com/mixstack-labs/mixpipe/internal/artifact"
	"github.com/mixstack-labs/mixpipe/internal/cli/config"
	"github.com/mixstack-labs/mixpipe/internal/duck"
	"github.com/mixstack-labs/mixpipe/internal/modelspec"
)

// DoctorOptions holds options for the doctor command.
type DoctorOptions struct {
	Format    string
	ModelPath string
}

// HealthCheck represents a single health check result.
type HealthCheck struct {
	Name   string `json:"name"`
	Status string `json:"status"` // "pass", "warn", "fail"
	Detail string `json:"detail,omitempty"`
}

// DoctorOutput is the JSON output for the doctor command.
type DoctorOutput struct {
	Checks  []HealthCheck `json:"checks"`
	Healthy bool          `json:"healthy"`
}

// NewDoctorCommand creates the doctor command.
func NewDoctorCommand() *cobra.Command {
	opts := &DoctorOptions{}

	cmd := &cobra.Command{
		Use:   "doctor",
		Short: "Check the project setup and the inference service",
		Long: `Check that the project is ready to fit models:
- configuration is valid
- the data directory and prepared dataset exist
- the model spec parses and its columns exist in the dataset
- the run-tracking database is reachable
- the inference service answers its health endpoint`,
		Example: `  mixpipe doctor
  mixpipe doctor --format json`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runDoctor(cmd, opts)
		},
	}

	cmd.Flags().StringVarP(&opts.Format, "format", "f", "text", "Output format: text, json")
	cmd.Flags().StringVarP(&opts.ModelPath, "model", "m", "model.yaml", "Path to the model spec")

	return cmd
}

func runDoctor(cmd *cobra.Command, opts *DoctorOptions) error {
	cfg := getConfig(cmd)
	out := &DoctorOutput{Healthy: true}

	add := func(name, status, detail string) {
		out.Checks = append(out.Checks, HealthCheck{Name: name, Status: status, Detail: detail})
		if status == "fail" {
			out.Healthy = false
		}
	}

	// Config file
	if configFile := config.GetConfigFileUsed(); configFile != "" {
		add("config", "pass", configFile)
	} else {
		add("config", "warn", "no mixpipe.yaml found, using defaults")
	}

	// Data directory and dataset
	if err := cfg.ValidateDataDir(); err != nil {
		add("data directory", "fail", err.Error())
	} else {
		add("data directory", "pass", cfg.DataDir)
	}

	dataset := datasetPath(cfg, "")
	datasetColumns := checkDataset(cmd, dataset, add)

	// Model spec
	spec, err := modelspec.Load(opts.ModelPath)
	switch {
	case errors.Is(err, fs.ErrNotExist):
		add("model spec", "warn", fmt.Sprintf("%s not found (run 'mixpipe init')", opts.ModelPath))
	case err != nil:
		add("model spec", "fail", err.Error())
	default:
		add("model spec", "pass", fmt.Sprintf("%s (%d channels)", spec.Name, len(spec.Data.MediaChannels)))
		checkSpecColumns(spec, datasetColumns, add)
	}

	// State database
	if _, err := os.Stat(cfg.StatePath); os.IsNotExist(err) {
		add("state database", "warn", fmt.Sprintf("%s not created yet", cfg.StatePath))
	} else {
		store, err := openStore(cfg, getLogger(cmd))
		if err != nil {
			add("state database", "fail", err.Error())
		} else {
			_ = store.Close()
			add("state database", "pass", cfg.StatePath)
		}
	}

	// Inference service
	if cfg.Service.URL == "" {
		add("inference service", "warn", "service.url is not configured")
	} else if client, err := newServiceClient(cfg, getLogger(cmd)); err != nil {
		add("inference service", "fail", err.Error())
	} else if err := client.Health(cmd.Context()); err != nil {
		add("inference service", "fail", err.Error())
	} else {
		add("inference service", "pass", cfg.Service.URL)
	}

	if opts.Format == "json" {
		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", "  ")
		return enc.Encode(out)
	}

	for _, c := range out.Checks {
		marker := map[string]string{"pass": "ok", "warn": "warn", "fail": "FAIL"}[c.Status]
		_, _ = fmt.Fprintf(cmd.OutOrStdout(), "  [%-4s] %-18s %s\n", marker, c.Name, c.Detail)
	}
	if !out.Healthy {
		return fmt.Errorf("project is not healthy")
	}
	_, _ = fmt.Fprintln(cmd.OutOrStdout(), "\nAll checks passed")
	return nil
}

// checkDataset verifies the prepared dataset and returns its column names.
func checkDataset(cmd *cobra.Command, path string, add func(name, status, detail string)) map[string]bool {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		add("dataset", "warn", fmt.Sprintf("%s not found (run 'mixpipe merge')", path))
		return nil
	}

	ctx := cmd.Context()
	db, err := duck.Open(ctx, ":memory:")
	if err != nil {
		add("dataset", "fail", err.Error())
		return nil
	}
	defer func() { _ = db.Close() }()

	row := db.QueryRow(ctx, fmt.Sprintf("SELECT count(*) FROM read_csv_auto(%s, header=true)", duck.QuoteString(path)))
	var rows int64
	if err := row.Scan(&rows); err != nil {
		add("dataset", "fail", fmt.Sprintf("%s is not readable: %v", path, err))
		return nil
	}

	fingerprint, err := artifact.Fingerprint(path)
	if err != nil {
		add("dataset", "fail", err.Error())
		return nil
	}
	add("dataset", "pass", fmt.Sprintf("%s (%d rows, sha256 %.12s…)", path, rows, fingerprint))

	cols, err := db.Query(ctx, fmt.Sprintf("SELECT * FROM read_csv_auto(%s, header=true) LIMIT 0", duck.QuoteString(path)))
	if err != nil {
		return nil
	}
	defer func() { _ = cols.Close() }()
	names, err := cols.Columns()
	if err != nil {
		return nil
	}

	set := make(map[string]bool, len(names))
	for _, n := range names {
		set[n] = true
	}
	return set
}

// checkSpecColumns verifies that every column the spec references exists in
// the prepared dataset.
func checkSpecColumns(spec *modelspec.Spec, datasetColumns map[string]bool, add func(name, status, detail string)) {
	if datasetColumns == nil {
		return
	}

	var missing []string
	for _, col := range spec.Columns() {
		if col != "" && !datasetColumns[col] {
			missing = append(missing, col)
		}
	}
	if len(missing) > 0 {
		add("spec columns", "fail", fmt.Sprintf("missing from dataset: %v", missing))
	} else {
		add("spec columns", "pass", "all mapped columns present in dataset")
	}
}
