package prepare

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/mixstack-labs/mixpipe/internal/duck"
)

// regularize inserts missing time periods so the date index is regularly
// spaced. The cadence is the modal day gap between consecutive dates,
// detected independently per geo. Inserted rows carry NULLs, which fillGaps
// later replaces.
func (p *Pipeline) regularize(ctx context.Context) error {
	geo, err := p.hasGeo(ctx, tableMerged)
	if err != nil {
		return err
	}

	var parts []string
	if geo {
		geos, err := p.distinctGeos(ctx)
		if err != nil {
			return err
		}
		for _, g := range geos {
			part, err := p.spinePart(ctx, &g)
			if err != nil {
				return err
			}
			parts = append(parts, part)
		}
	} else {
		part, err := p.spinePart(ctx, nil)
		if err != nil {
			return err
		}
		parts = append(parts, part)
	}

	keys := []string{p.opts.DateColumn}
	if geo {
		keys = append(keys, ColGeo)
	}
	quotedKeys := strings.Join(quoteAll(keys), ", ")

	query := fmt.Sprintf(
		"CREATE OR REPLACE TABLE %s AS SELECT s.*, m.* EXCLUDE (%s) FROM (%s) s LEFT JOIN %s m USING (%s) ORDER BY %s",
		duck.QuoteIdent(tableMerged), quotedKeys,
		strings.Join(parts, " UNION ALL "),
		duck.QuoteIdent(tableMerged), quotedKeys,
		strings.Join(reverseCopy(quoteAll(keys)), ", "))
	return p.db.Exec(ctx, query)
}

// spinePart builds the SELECT producing the regular date spine for one geo
// (or for the whole table when geo is nil).
func (p *Pipeline) spinePart(ctx context.Context, geo *string) (string, error) {
	dates, err := p.sortedDates(ctx, geo)
	if err != nil {
		return "", err
	}

	dateQ := duck.QuoteIdent(p.opts.DateColumn)
	geoExpr := ""
	if geo != nil {
		geoExpr = fmt.Sprintf(", %s AS %s", duck.QuoteString(*geo), duck.QuoteIdent(ColGeo))
	}

	// Fewer than two observations: nothing to infer, keep the dates as-is.
	if len(dates) < 2 {
		selects := make([]string, 0, len(dates))
		for _, d := range dates {
			selects = append(selects, fmt.Sprintf("SELECT DATE %s AS %s%s",
				duck.QuoteString(d.Format("2006-01-02")), dateQ, geoExpr))
		}
		if len(selects) == 0 {
			// Empty geo partition; emit nothing that would join.
			return fmt.Sprintf("SELECT CAST(NULL AS DATE) AS %s%s WHERE false", dateQ, geoExpr), nil
		}
		return strings.Join(selects, " UNION ALL "), nil
	}

	freq := modalGapDays(dates)
	return fmt.Sprintf(
		"SELECT CAST(unnest(generate_series(TIMESTAMP %s, TIMESTAMP %s, INTERVAL %d DAY)) AS DATE) AS %s%s",
		duck.QuoteString(dates[0].Format("2006-01-02")),
		duck.QuoteString(dates[len(dates)-1].Format("2006-01-02")),
		freq, dateQ, geoExpr), nil
}

func (p *Pipeline) distinctGeos(ctx context.Context) ([]string, error) {
	rows, err := p.db.Query(ctx, fmt.Sprintf("SELECT DISTINCT %s FROM %s ORDER BY 1",
		duck.QuoteIdent(ColGeo), duck.QuoteIdent(tableMerged)))
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var geos []string
	for rows.Next() {
		var g string
		if err := rows.Scan(&g); err != nil {
			return nil, fmt.Errorf("failed to scan geo: %w", err)
		}
		geos = append(geos, g)
	}
	return geos, rows.Err()
}

func (p *Pipeline) sortedDates(ctx context.Context, geo *string) ([]time.Time, error) {
	dateQ := duck.QuoteIdent(p.opts.DateColumn)
	query := fmt.Sprintf("SELECT DISTINCT %s FROM %s", dateQ, duck.QuoteIdent(tableMerged))
	args := []any{}
	if geo != nil {
		query += fmt.Sprintf(" WHERE %s = ?", duck.QuoteIdent(ColGeo))
		args = append(args, *geo)
	}
	query += fmt.Sprintf(" ORDER BY %s", dateQ)

	rows, err := p.db.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var dates []time.Time
	for rows.Next() {
		var d time.Time
		if err := rows.Scan(&d); err != nil {
			return nil, fmt.Errorf("failed to scan date: %w", err)
		}
		dates = append(dates, d)
	}
	return dates, rows.Err()
}

// modalGapDays returns the most frequent day gap between consecutive dates,
// preferring the smallest gap on ties.
func modalGapDays(dates []time.Time) int {
	counts := make(map[int]int)
	for i := 1; i < len(dates); i++ {
		gap := int(dates[i].Sub(dates[i-1]).Hours() / 24)
		if gap > 0 {
			counts[gap]++
		}
	}

	best, bestCount := 0, 0
	for gap, n := range counts {
		if n > bestCount || (n == bestCount && (best == 0 || gap < best)) {
			best, bestCount = gap, n
		}
	}
	if best == 0 {
		best = 1
	}
	return best
}

// reverseCopy returns a reversed copy so geo sorts before the date column.
func reverseCopy(s []string) []string {
	out := make([]string, len(s))
	for i, v := range s {
		out[len(s)-1-i] = v
	}
	return out
}
