package prepare

import (
	"context"
	"fmt"
	"strings"

	"github.com/mixstack-labs/mixpipe/internal/duck"
)

// renameKPIColumns renames the KPI, revenue and population columns to the
// canonical names the inference service expects. A missing population column
// is synthesized with the national-model default of 1.
func (p *Pipeline) renameKPIColumns(ctx context.Context) error {
	cols, err := p.columnNames(ctx, tableMerged)
	if err != nil {
		return err
	}
	present := make(map[string]bool, len(cols))
	for _, c := range cols {
		present[c] = true
	}

	if !present[p.opts.PopulationColumn] && !present[ColPopulation] {
		stmt := fmt.Sprintf("ALTER TABLE %s ADD COLUMN %s DOUBLE DEFAULT 1",
			duck.QuoteIdent(tableMerged), duck.QuoteIdent(ColPopulation))
		if err := p.db.Exec(ctx, stmt); err != nil {
			return err
		}
		present[ColPopulation] = true
	}

	if p.opts.ComputePerConversion && present[p.opts.RevenueColumn] && present[p.opts.KPIColumn] {
		stmt := fmt.Sprintf("UPDATE %s SET %s = %s / %s",
			duck.QuoteIdent(tableMerged),
			duck.QuoteIdent(p.opts.RevenueColumn),
			duck.QuoteIdent(p.opts.RevenueColumn),
			duck.QuoteIdent(p.opts.KPIColumn))
		if err := p.db.Exec(ctx, stmt); err != nil {
			return err
		}
	}

	renames := map[string]string{}
	var missing []string
	for _, m := range []struct {
		from, to string
	}{
		{p.opts.KPIColumn, ColConversions},
		{p.opts.RevenueColumn, ColRevenue},
		{p.opts.PopulationColumn, ColPopulation},
	} {
		switch {
		case present[m.from]:
			if m.from != m.to {
				renames[m.from] = m.to
			}
		case present[m.to]:
			// Already canonical.
		default:
			missing = append(missing, m.from)
		}
	}

	if len(missing) > 0 {
		return fmt.Errorf(
			"column(s) %s not found in the input files; use --kpi-column/--revenue-column/--population-column to set the correct names",
			strings.Join(missing, ", "))
	}

	for from, to := range renames {
		stmt := fmt.Sprintf("ALTER TABLE %s RENAME COLUMN %s TO %s",
			duck.QuoteIdent(tableMerged), duck.QuoteIdent(from), duck.QuoteIdent(to))
		if err := p.db.Exec(ctx, stmt); err != nil {
			return err
		}
	}
	return nil
}
