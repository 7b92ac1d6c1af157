package commands

import (
	"fmt"
	"os"
	"time"

	json "github.com/goccy/go-json"
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"

	"github.com/mixstack-labs/mixpipe/internal/state"
)

// NewRunsCommand creates the runs command.
func NewRunsCommand() *cobra.Command {
	var limit int
	var format string
	var showArtifacts bool

	cmd := &cobra.Command{
		Use:   "runs",
		Short: "List recent pipeline runs",
		Long: `List recent merge, fit and optimize runs from the run-tracking database,
newest first.`,
		Example: `  mixpipe runs
  mixpipe runs --limit 50
  mixpipe runs --artifacts
  mixpipe runs --format json`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runRuns(cmd, limit, format, showArtifacts)
		},
	}

	cmd.Flags().IntVarP(&limit, "limit", "n", 20, "Maximum number of runs to show")
	cmd.Flags().StringVarP(&format, "format", "f", "table", "Output format: table, json")
	cmd.Flags().BoolVar(&showArtifacts, "artifacts", false, "List produced artifacts instead of runs")

	return cmd
}

func runRuns(cmd *cobra.Command, limit int, format string, showArtifacts bool) error {
	cfg := getConfig(cmd)

	if _, err := os.Stat(cfg.StatePath); os.IsNotExist(err) {
		return fmt.Errorf("no runs recorded yet (state database %s does not exist)", cfg.StatePath)
	}

	store, err := openStore(cfg, getLogger(cmd))
	if err != nil {
		return err
	}
	defer func() { _ = store.Close() }()

	if showArtifacts {
		return renderArtifacts(cmd, store, limit, format)
	}

	runs, err := store.ListRuns(limit)
	if err != nil {
		return err
	}

	if format == "json" {
		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", "  ")
		return enc.Encode(runs)
	}

	if len(runs) == 0 {
		_, _ = fmt.Fprintln(cmd.OutOrStdout(), "(no runs)")
		return nil
	}

	t := table.NewWriter()
	t.SetOutputMirror(cmd.OutOrStdout())
	t.SetStyle(table.StyleLight)
	t.AppendHeader(table.Row{"ID", "Kind", "Env", "Status", "Started", "Duration", "Error"})

	for _, run := range runs {
		t.AppendRow(table.Row{
			shortID(run.ID),
			run.Kind,
			run.Environment,
			run.Status,
			run.StartedAt.Local().Format("2006-01-02 15:04:05"),
			runDuration(run),
			truncate(run.Error, 40),
		})
	}
	t.Render()
	return nil
}

func renderArtifacts(cmd *cobra.Command, store *state.SQLiteStore, limit int, format string) error {
	artifacts, err := store.ListArtifacts(limit)
	if err != nil {
		return err
	}

	if format == "json" {
		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", "  ")
		return enc.Encode(artifacts)
	}

	if len(artifacts) == 0 {
		_, _ = fmt.Fprintln(cmd.OutOrStdout(), "(no artifacts)")
		return nil
	}

	t := table.NewWriter()
	t.SetOutputMirror(cmd.OutOrStdout())
	t.SetStyle(table.StyleLight)
	t.AppendHeader(table.Row{"ID", "Run", "Kind", "Path", "Created"})

	for _, a := range artifacts {
		t.AppendRow(table.Row{
			shortID(a.ID),
			shortID(a.RunID),
			a.Kind,
			a.Path,
			a.CreatedAt.Local().Format("2006-01-02 15:04:05"),
		})
	}
	t.Render()
	return nil
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

func runDuration(run *state.Run) string {
	if run.CompletedAt == nil {
		return "-"
	}
	return run.CompletedAt.Sub(run.StartedAt).Round(time.Millisecond).String()
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n-1] + "…"
}
