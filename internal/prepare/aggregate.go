package prepare

import (
	"context"
	"fmt"
	"strings"

	"github.com/mixstack-labs/mixpipe/internal/duck"
)

// aggregateWeekly collapses daily rows into Monday-start weeks. Survey-style
// columns (the configured mean columns plus anything named descuento*) are
// averaged; every other numeric column is summed. Non-numeric columns other
// than the keys do not survive aggregation.
func (p *Pipeline) aggregateWeekly(ctx context.Context) error {
	if !p.opts.AggregateWeekly {
		return nil
	}

	keys, err := p.mergeKeys(ctx, tableMerged)
	if err != nil {
		return err
	}
	numeric, err := p.numericColumns(ctx, tableMerged, keys)
	if err != nil {
		return err
	}
	if len(numeric) == 0 {
		return fmt.Errorf("no numeric columns to aggregate")
	}

	meanCols := meanColumnSet(numeric, p.opts.MeanColumns)

	dateQ := duck.QuoteIdent(p.opts.DateColumn)
	selects := make([]string, 0, len(numeric)+2)
	groups := make([]string, 0, 2)
	if len(keys) > 1 { // geo first, matching the input ordering convention
		selects = append(selects, duck.QuoteIdent(ColGeo))
		groups = append(groups, duck.QuoteIdent(ColGeo))
	}
	selects = append(selects, fmt.Sprintf("CAST(date_trunc('week', %s) AS DATE) AS %s", dateQ, dateQ))
	groups = append(groups, fmt.Sprintf("date_trunc('week', %s)", dateQ))

	for _, col := range numeric {
		q := duck.QuoteIdent(col)
		agg := "SUM"
		if meanCols[col] {
			agg = "AVG"
		}
		selects = append(selects, fmt.Sprintf("%s(%s) AS %s", agg, q, q))
	}

	query := fmt.Sprintf("CREATE OR REPLACE TABLE %s AS SELECT %s FROM %s GROUP BY %s",
		duck.QuoteIdent(tableMerged),
		strings.Join(selects, ", "),
		duck.QuoteIdent(tableMerged),
		strings.Join(groups, ", "))
	return p.db.Exec(ctx, query)
}

// meanColumnSet resolves which numeric columns are averaged rather than
// summed during weekly aggregation.
func meanColumnSet(numeric, configured []string) map[string]bool {
	present := make(map[string]bool, len(numeric))
	for _, c := range numeric {
		present[c] = true
	}

	mean := make(map[string]bool)
	for _, c := range configured {
		if present[c] {
			mean[c] = true
		}
	}
	for _, c := range numeric {
		if strings.HasPrefix(strings.ToLower(c), "descuento") {
			mean[c] = true
		}
	}
	return mean
}
