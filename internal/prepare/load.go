package prepare

import (
	"context"
	"fmt"
	"strings"

	"github.com/mixstack-labs/mixpipe/internal/duck"
)

// loadTable loads a CSV or Excel source into a working table. Everything is
// read as VARCHAR; cleanTable handles dates and numeric coercion afterwards.
func (p *Pipeline) loadTable(ctx context.Context, table, path string) error {
	if path == "" {
		return fmt.Errorf("no input path for table %s", table)
	}

	lower := strings.ToLower(path)
	if strings.HasSuffix(lower, ".xlsx") || strings.HasSuffix(lower, ".xls") {
		csvPath, cleanup, err := excelToCSV(path)
		if err != nil {
			return fmt.Errorf("failed to convert Excel input: %w", err)
		}
		defer cleanup()
		return p.db.LoadCSV(ctx, table, csvPath, ",")
	}

	return p.db.LoadCSV(ctx, table, path, p.opts.Sep)
}

// cleanTable drops pandas index columns, normalizes the date column to a
// DATE, and casts the remaining columns to DOUBLE where every non-empty
// value parses as a number under the configured decimal and thousands
// separators. Columns with genuinely textual values (geo names) stay VARCHAR.
func (p *Pipeline) cleanTable(ctx context.Context, table string) error {
	if err := p.dropUnnamedColumns(ctx, table); err != nil {
		return err
	}

	cols, err := p.columnNames(ctx, table)
	if err != nil {
		return err
	}

	dateCol := p.opts.DateColumn
	foundDate := false
	exprs := make([]string, 0, len(cols))
	for _, col := range cols {
		q := duck.QuoteIdent(col)
		if col == dateCol {
			foundDate = true
			exprs = append(exprs, fmt.Sprintf("%s AS %s", p.dateExpr(q), q))
			continue
		}

		numeric, err := p.columnIsNumeric(ctx, table, col)
		if err != nil {
			return err
		}
		if numeric {
			exprs = append(exprs, fmt.Sprintf("%s AS %s", p.numericExpr(q), q))
		} else {
			exprs = append(exprs, q)
		}
	}
	if !foundDate {
		return fmt.Errorf("date column %q not found in %s", dateCol, table)
	}

	query := fmt.Sprintf("CREATE OR REPLACE TABLE %s AS SELECT %s FROM %s",
		duck.QuoteIdent(table), strings.Join(exprs, ", "), duck.QuoteIdent(table))
	if err := p.db.Exec(ctx, query); err != nil {
		return err
	}

	// An unparseable date column produces an all-NULL table, which would
	// otherwise surface much later as an empty merge.
	var bad int64
	check := fmt.Sprintf("SELECT COUNT(*) FROM %s WHERE %s IS NULL",
		duck.QuoteIdent(table), duck.QuoteIdent(dateCol))
	if err := p.db.QueryRow(ctx, check).Scan(&bad); err != nil {
		return fmt.Errorf("failed to check date column: %w", err)
	}
	if bad > 0 {
		return fmt.Errorf("%d rows in %s have unparseable %q values; use --date-format to set the input format", bad, table, dateCol)
	}

	return nil
}

// dropUnnamedColumns removes index columns written by pandas' to_csv.
func (p *Pipeline) dropUnnamedColumns(ctx context.Context, table string) error {
	cols, err := p.columnNames(ctx, table)
	if err != nil {
		return err
	}
	for _, col := range cols {
		if strings.HasPrefix(col, "Unnamed") {
			stmt := fmt.Sprintf("ALTER TABLE %s DROP COLUMN %s",
				duck.QuoteIdent(table), duck.QuoteIdent(col))
			if err := p.db.Exec(ctx, stmt); err != nil {
				return err
			}
		}
	}
	return nil
}

// dateExpr builds the SQL expression converting the raw date column to DATE.
func (p *Pipeline) dateExpr(quoted string) string {
	if p.opts.DateFormat != "" {
		return fmt.Sprintf("CAST(try_strptime(%s, %s) AS DATE)",
			quoted, duck.QuoteString(p.opts.DateFormat))
	}
	return fmt.Sprintf("TRY_CAST(%s AS DATE)", quoted)
}

// numericExpr builds the SQL expression cleaning a raw value and casting it
// to DOUBLE: trims whitespace, strips the thousands separator and a trailing
// percent sign, and replaces the configured decimal character with a dot.
func (p *Pipeline) numericExpr(quoted string) string {
	expr := fmt.Sprintf("NULLIF(TRIM(%s), '')", quoted)
	if p.opts.Thousands != "" {
		expr = fmt.Sprintf("REPLACE(%s, %s, '')", expr, duck.QuoteString(p.opts.Thousands))
	}
	expr = fmt.Sprintf("RTRIM(%s, '%%')", expr)
	if p.opts.Decimal != "." {
		expr = fmt.Sprintf("REPLACE(%s, %s, '.')", expr, duck.QuoteString(p.opts.Decimal))
	}
	return fmt.Sprintf("TRY_CAST(%s AS DOUBLE)", expr)
}

// columnIsNumeric reports whether every non-empty value of the column parses
// as a number after cleaning. All-empty columns stay textual.
func (p *Pipeline) columnIsNumeric(ctx context.Context, table, col string) (bool, error) {
	q := duck.QuoteIdent(col)
	query := fmt.Sprintf(
		"SELECT COUNT(*) FILTER (WHERE NULLIF(TRIM(%s), '') IS NOT NULL), COUNT(*) FILTER (WHERE NULLIF(TRIM(%s), '') IS NOT NULL AND %s IS NULL) FROM %s",
		q, q, p.numericExpr(q), duck.QuoteIdent(table))

	var nonEmpty, failed int64
	if err := p.db.QueryRow(ctx, query).Scan(&nonEmpty, &failed); err != nil {
		return false, fmt.Errorf("failed to probe column %s: %w", col, err)
	}
	return nonEmpty > 0 && failed == 0, nil
}
