// Package prepare builds model-ready datasets from raw marketing tables.
// It merges a media table with an extra-features table on the date (and
// optional geo) column, normalizes dates, renames KPI columns to their
// canonical names, optionally aggregates daily rows to weeks, inserts
// missing time periods so the index is regularly spaced, and fills gaps
// in media columns so downstream validation does not reject the file.
//
// All heavy lifting happens inside DuckDB; this package generates and
// sequences the SQL.
package prepare

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/mixstack-labs/mixpipe/internal/duck"
)

// Canonical column names expected by the inference service.
const (
	ColConversions = "conversions"
	ColRevenue     = "revenue_per_conversion"
	ColPopulation  = "population"
	ColGeo         = "geo"
)

// Working table names inside the DuckDB session.
const (
	tableMedia  = "media"
	tableExtra  = "extra"
	tableMerged = "merged"
)

// Options configures a preparation run.
type Options struct {
	MediaPath  string
	ExtraPath  string
	OutputPath string

	DateColumn       string // default "time"
	KPIColumn        string // default "conversions"
	RevenueColumn    string // default "revenue_per_conversion"
	PopulationColumn string // default "population"

	Sep       string // field separator, default ","
	Decimal   string // decimal character, default "."
	Thousands string // thousands separator stripped before casting, default none

	// DateFormat is a strptime format for the date column. When empty the
	// dates are cast directly; either way the output uses YYYY-MM-DD.
	DateFormat string

	// ComputePerConversion divides the revenue column by the KPI column
	// before renaming it to revenue_per_conversion.
	ComputePerConversion bool

	// AggregateWeekly collapses daily rows into Monday-start weeks.
	// Columns in MeanColumns (plus any column whose name starts with
	// "descuento") are averaged; all other numeric columns are summed.
	AggregateWeekly bool
	MeanColumns     []string
}

// withDefaults returns a copy of o with zero values replaced by defaults.
func (o Options) withDefaults() Options {
	if o.DateColumn == "" {
		o.DateColumn = "time"
	}
	if o.KPIColumn == "" {
		o.KPIColumn = ColConversions
	}
	if o.RevenueColumn == "" {
		o.RevenueColumn = ColRevenue
	}
	if o.PopulationColumn == "" {
		o.PopulationColumn = ColPopulation
	}
	if o.Sep == "" {
		o.Sep = ","
	}
	if o.Decimal == "" {
		o.Decimal = "."
	}
	return o
}

// Result summarizes a completed preparation run.
type Result struct {
	OutputPath string
	Rows       int64
	Columns    []string
}

// Pipeline runs the preparation steps against a DuckDB session.
type Pipeline struct {
	db     *duck.DB
	opts   Options
	logger *slog.Logger
}

// New creates a pipeline. A nil logger discards output.
func New(db *duck.DB, opts Options, logger *slog.Logger) *Pipeline {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Pipeline{db: db, opts: opts.withDefaults(), logger: logger}
}

// Run executes the full preparation pipeline and writes the merged CSV.
func (p *Pipeline) Run(ctx context.Context) (*Result, error) {
	for _, step := range []struct {
		name string
		fn   func(context.Context) error
	}{
		{"load media", func(ctx context.Context) error { return p.loadTable(ctx, tableMedia, p.opts.MediaPath) }},
		{"load extra", func(ctx context.Context) error { return p.loadTable(ctx, tableExtra, p.opts.ExtraPath) }},
		{"clean media", func(ctx context.Context) error { return p.cleanTable(ctx, tableMedia) }},
		{"clean extra", func(ctx context.Context) error { return p.cleanTable(ctx, tableExtra) }},
		{"merge", p.merge},
		{"aggregate weekly", p.aggregateWeekly},
		{"regularize time index", p.regularize},
		{"rename KPI columns", p.renameKPIColumns},
		{"fill gaps", p.fillGaps},
	} {
		p.logger.Debug("prepare step", "step", step.name)
		if err := step.fn(ctx); err != nil {
			return nil, fmt.Errorf("%s: %w", step.name, err)
		}
	}

	if err := p.export(ctx); err != nil {
		return nil, fmt.Errorf("export: %w", err)
	}

	rows, err := p.db.RowCount(ctx, tableMerged)
	if err != nil {
		return nil, err
	}
	cols, err := p.columnNames(ctx, tableMerged)
	if err != nil {
		return nil, err
	}

	return &Result{OutputPath: p.opts.OutputPath, Rows: rows, Columns: cols}, nil
}

// hasGeo reports whether the merged table carries a geo column.
func (p *Pipeline) hasGeo(ctx context.Context, table string) (bool, error) {
	cols, err := p.columnNames(ctx, table)
	if err != nil {
		return false, err
	}
	for _, c := range cols {
		if c == ColGeo {
			return true, nil
		}
	}
	return false, nil
}

// mergeKeys returns the join/grouping key columns for a table.
func (p *Pipeline) mergeKeys(ctx context.Context, table string) ([]string, error) {
	keys := []string{p.opts.DateColumn}
	geo, err := p.hasGeo(ctx, table)
	if err != nil {
		return nil, err
	}
	if geo {
		keys = append(keys, ColGeo)
	}
	return keys, nil
}

func (p *Pipeline) columnNames(ctx context.Context, table string) ([]string, error) {
	cols, err := p.db.Columns(ctx, table)
	if err != nil {
		return nil, err
	}
	names := make([]string, len(cols))
	for i, c := range cols {
		names[i] = c.Name
	}
	return names, nil
}

// numericColumns returns the DOUBLE-typed columns of a table, excluding keys.
func (p *Pipeline) numericColumns(ctx context.Context, table string, exclude []string) ([]string, error) {
	cols, err := p.db.Columns(ctx, table)
	if err != nil {
		return nil, err
	}
	skip := make(map[string]bool, len(exclude))
	for _, e := range exclude {
		skip[e] = true
	}
	var numeric []string
	for _, c := range cols {
		if skip[c.Name] {
			continue
		}
		if strings.EqualFold(c.Type, "DOUBLE") {
			numeric = append(numeric, c.Name)
		}
	}
	return numeric, nil
}

func quoteAll(cols []string) []string {
	out := make([]string, len(cols))
	for i, c := range cols {
		out[i] = duck.QuoteIdent(c)
	}
	return out
}
