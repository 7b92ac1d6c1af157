package prepare

import (
	"context"
	"fmt"
	"strings"

	"github.com/mixstack-labs/mixpipe/internal/duck"
)

// gapFill is the small positive value written into media gaps. Zero would
// trip the inference service's log-scale validation.
const gapFill = 0.001

// mediaLikeColumn reports whether a column name looks like media activity.
func mediaLikeColumn(name string) bool {
	lower := strings.ToLower(name)
	return strings.Contains(lower, "impression") ||
		strings.Contains(lower, "spend") ||
		strings.Contains(lower, "investment")
}

// fillGaps replaces NULLs left by the regularized time index. Media columns
// are filled first, then every remaining numeric column; the date and geo
// keys are never touched.
func (p *Pipeline) fillGaps(ctx context.Context) error {
	keys, err := p.mergeKeys(ctx, tableMerged)
	if err != nil {
		return err
	}
	numeric, err := p.numericColumns(ctx, tableMerged, keys)
	if err != nil {
		return err
	}

	var sets []string
	for _, col := range numeric {
		q := duck.QuoteIdent(col)
		sets = append(sets, fmt.Sprintf("%s = COALESCE(%s, %v)", q, q, gapFill))
	}
	if len(sets) == 0 {
		return nil
	}

	stmt := fmt.Sprintf("UPDATE %s SET %s", duck.QuoteIdent(tableMerged), strings.Join(sets, ", "))
	return p.db.Exec(ctx, stmt)
}

// export writes the merged table to the output CSV with the configured
// separator and decimal character. Dates always serialize as YYYY-MM-DD.
func (p *Pipeline) export(ctx context.Context) error {
	cols, err := p.db.Columns(ctx, tableMerged)
	if err != nil {
		return err
	}

	selects := make([]string, 0, len(cols))
	for _, col := range cols {
		q := duck.QuoteIdent(col.Name)
		switch {
		case col.Name == p.opts.DateColumn:
			selects = append(selects, fmt.Sprintf("strftime(%s, '%%Y-%%m-%%d') AS %s", q, q))
		case p.opts.Decimal != "." && strings.EqualFold(col.Type, "DOUBLE"):
			selects = append(selects, fmt.Sprintf("REPLACE(CAST(%s AS VARCHAR), '.', %s) AS %s",
				q, duck.QuoteString(p.opts.Decimal), q))
		default:
			selects = append(selects, q)
		}
	}

	orderBy := duck.QuoteIdent(p.opts.DateColumn)
	if geo, err := p.hasGeo(ctx, tableMerged); err != nil {
		return err
	} else if geo {
		orderBy = duck.QuoteIdent(ColGeo) + ", " + orderBy
	}

	query := fmt.Sprintf("SELECT %s FROM %s ORDER BY %s",
		strings.Join(selects, ", "), duck.QuoteIdent(tableMerged), orderBy)
	return p.db.CopyCSV(ctx, query, p.opts.OutputPath, p.opts.Sep)
}
