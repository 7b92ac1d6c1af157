// Package commands implements the mixpipe CLI subcommands.
package commands

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"

	"github.com/mixstack-labs/mixpipe/internal/cli/config"
	"github.com/mixstack-labs/mixpipe/internal/duck"
	"github.com/mixstack-labs/mixpipe/internal/inference"
	"github.com/mixstack-labs/mixpipe/internal/state"
)

// defaultDatasetFile is the prepared dataset written by the merge command.
const defaultDatasetFile = "merged.csv"

func getConfig(cmd *cobra.Command) *config.Config {
	return config.GetConfig(cmd.Context())
}

func getLogger(cmd *cobra.Command) *slog.Logger {
	return config.GetLogger(cmd.Context())
}

// datasetPath resolves the prepared dataset location: an explicit flag value
// wins, otherwise <data_dir>/merged.csv.
func datasetPath(cfg *config.Config, explicit string) string {
	if explicit != "" {
		return explicit
	}
	return filepath.Join(cfg.DataDir, defaultDatasetFile)
}

// openStore opens the run-tracking database, creating its directory and
// schema as needed.
func openStore(cfg *config.Config, logger *slog.Logger) (*state.SQLiteStore, error) {
	stateDir := filepath.Dir(cfg.StatePath)
	if stateDir != "." && stateDir != "" {
		if err := os.MkdirAll(stateDir, 0750); err != nil {
			return nil, fmt.Errorf("failed to create state directory: %w", err)
		}
	}

	store := state.NewSQLiteStore(logger)
	if err := store.Open(cfg.StatePath); err != nil {
		return nil, err
	}
	if err := store.Migrate(); err != nil {
		_ = store.Close()
		return nil, err
	}
	return store, nil
}

// finishRun records the outcome of a tracked run. Best effort: state
// bookkeeping must not mask the command's own error.
func finishRun(store *state.SQLiteStore, logger *slog.Logger, runID string, runErr error) {
	status := state.RunStatusCompleted
	msg := ""
	if runErr != nil {
		status = state.RunStatusFailed
		msg = runErr.Error()
	}
	if err := store.CompleteRun(runID, status, msg); err != nil {
		logger.Warn("failed to record run outcome", "run_id", runID, "error", err)
	}
}

// newServiceClient builds the inference client from config.
func newServiceClient(cfg *config.Config, logger *slog.Logger) (*inference.Client, error) {
	if err := cfg.ValidateService(); err != nil {
		return nil, err
	}
	return inference.NewClient(inference.Config{
		BaseURL: cfg.Service.URL,
		Timeout: time.Duration(cfg.Service.TimeoutMinutes) * time.Minute,
	}, logger)
}

// loadDataset reads a prepared CSV into the wire table format. DuckDB's
// sniffer is fine here: the prepared file always uses '.' decimals and
// ISO dates.
func loadDataset(ctx context.Context, path string) (*inference.Table, error) {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return nil, fmt.Errorf("dataset not found at %s (run 'mixpipe merge' first)", path)
	}

	db, err := duck.Open(ctx, ":memory:")
	if err != nil {
		return nil, err
	}
	defer func() { _ = db.Close() }()

	rows, err := db.Query(ctx, fmt.Sprintf("SELECT * FROM read_csv_auto(%s, header=true)", duck.QuoteString(path)))
	if err != nil {
		return nil, fmt.Errorf("failed to read dataset: %w", err)
	}
	defer func() { _ = rows.Close() }()

	cols, err := rows.Columns()
	if err != nil {
		return nil, err
	}

	t := &inference.Table{Columns: cols}
	for rows.Next() {
		values := make([]any, len(cols))
		ptrs := make([]any, len(cols))
		for i := range values {
			ptrs[i] = &values[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return nil, fmt.Errorf("failed to scan dataset row: %w", err)
		}
		for i, v := range values {
			switch tv := v.(type) {
			case []byte:
				values[i] = string(tv)
			case time.Time:
				values[i] = tv.Format("2006-01-02")
			}
		}
		t.Rows = append(t.Rows, values)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if len(t.Rows) == 0 {
		return nil, fmt.Errorf("dataset %s is empty", path)
	}
	return t, nil
}
