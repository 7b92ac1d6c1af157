package commands

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/mixstack-labs/mixpipe/internal/duck"
)

// QueryOptions holds options for the query command.
type QueryOptions struct {
	Format  string
	Input   string
	Dataset string
}

// NewQueryCommand creates the query command.
func NewQueryCommand() *cobra.Command {
	opts := &QueryOptions{}

	cmd := &cobra.Command{
		Use:   "query [SQL]",
		Short: "Query the prepared dataset with SQL",
		Long: `Run DuckDB SQL against the prepared modeling dataset.

The dataset is exposed as a view named 'dataset'. Supports multiple output
formats for scripting and integration.

When invoked without arguments, enters interactive REPL mode.`,
		Example: `  # Execute SQL directly
  mixpipe query "SELECT geo, sum(conversions) FROM dataset GROUP BY geo"

  # Output as JSON
  mixpipe query "SELECT * FROM dataset LIMIT 5" --format json

  # Query a specific file
  mixpipe query "SELECT count(*) FROM dataset" --dataset data/q3.csv

  # Interactive mode
  mixpipe query`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runQuery(cmd, args, opts)
		},
	}

	cmd.Flags().StringVarP(&opts.Format, "format", "f", "table", "Output format: table, json, csv, md")
	cmd.Flags().StringVarP(&opts.Input, "input", "i", "", "Read SQL from file")
	cmd.Flags().StringVar(&opts.Dataset, "dataset", "", "Dataset CSV to query (default: <data-dir>/merged.csv)")

	return cmd
}

func runQuery(cmd *cobra.Command, args []string, opts *QueryOptions) error {
	cfg := getConfig(cmd)
	path := datasetPath(cfg, opts.Dataset)

	if _, err := os.Stat(path); os.IsNotExist(err) {
		return fmt.Errorf("dataset not found at %s (run 'mixpipe merge' first)", path)
	}

	// Determine SQL source
	var sqlQuery string

	switch {
	case len(args) > 0:
		sqlQuery = strings.Join(args, " ")
	case opts.Input != "":
		content, err := os.ReadFile(opts.Input)
		if err != nil {
			return fmt.Errorf("failed to read file: %w", err)
		}
		sqlQuery = string(content)
	case !isTerminal(os.Stdin):
		// Read from stdin (piped input)
		content, err := io.ReadAll(os.Stdin)
		if err != nil {
			return fmt.Errorf("failed to read stdin: %w", err)
		}
		sqlQuery = string(content)
	default:
		// No input, TTY detected - enter REPL mode
		return runQueryREPL(cmd, path, opts)
	}

	db, err := openDatasetDB(cmd.Context(), path)
	if err != nil {
		return err
	}
	defer func() { _ = db.Close() }()

	return executeAndRenderQuery(cmd.Context(), cmd, db, sqlQuery, opts.Format)
}

// openDatasetDB opens an in-memory DuckDB with the dataset exposed as a view.
func openDatasetDB(ctx context.Context, path string) (*duck.DB, error) {
	db, err := duck.Open(ctx, ":memory:")
	if err != nil {
		return nil, err
	}

	view := fmt.Sprintf("CREATE VIEW dataset AS SELECT * FROM read_csv_auto(%s, header=true)",
		duck.QuoteString(path))
	if err := db.Exec(ctx, view); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to open dataset %s: %w", path, err)
	}
	return db, nil
}

func executeAndRenderQuery(ctx context.Context, cmd *cobra.Command, db *duck.DB, query, format string) error {
	rows, err := db.Query(ctx, query)
	if err != nil {
		return fmt.Errorf("query failed: %w", err)
	}
	defer func() { _ = rows.Close() }()

	return renderResults(cmd.OutOrStdout(), rows, format)
}

func isTerminal(f *os.File) bool {
	fi, err := f.Stat()
	if err != nil {
		return false
	}
	return (fi.Mode() & os.ModeCharDevice) != 0
}
