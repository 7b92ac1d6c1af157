package prepare

import (
	"context"
	"fmt"
	"strings"

	"github.com/mixstack-labs/mixpipe/internal/duck"
)

// merge inner-joins the media and extra tables on the date column, plus geo
// when both sides carry one. Duplicate key rows are removed first so the
// join cannot produce a Cartesian product.
func (p *Pipeline) merge(ctx context.Context) error {
	mediaGeo, err := p.hasGeo(ctx, tableMedia)
	if err != nil {
		return err
	}
	extraGeo, err := p.hasGeo(ctx, tableExtra)
	if err != nil {
		return err
	}

	keys := []string{p.opts.DateColumn}
	if mediaGeo && extraGeo {
		keys = append(keys, ColGeo)
	}

	for _, table := range []string{tableMedia, tableExtra} {
		if err := p.dedupe(ctx, table, keys); err != nil {
			return err
		}
	}

	// Non-key columns present on both sides would collide in the joined
	// table; the extra-features copy gets an _extra suffix.
	if err := p.renameOverlaps(ctx, keys); err != nil {
		return err
	}

	quotedKeys := strings.Join(quoteAll(keys), ", ")
	query := fmt.Sprintf(
		"CREATE OR REPLACE TABLE %s AS SELECT m.*, e.* EXCLUDE (%s) FROM %s m JOIN %s e USING (%s)",
		duck.QuoteIdent(tableMerged), quotedKeys,
		duck.QuoteIdent(tableMedia), duck.QuoteIdent(tableExtra), quotedKeys)
	if err := p.db.Exec(ctx, query); err != nil {
		return err
	}

	rows, err := p.db.RowCount(ctx, tableMerged)
	if err != nil {
		return err
	}
	if rows == 0 {
		return fmt.Errorf("media and extra tables share no %s values", strings.Join(keys, "+"))
	}
	p.logger.Debug("merged tables", "rows", rows, "keys", strings.Join(keys, ","))
	return nil
}

// dedupe keeps one row per key combination.
func (p *Pipeline) dedupe(ctx context.Context, table string, keys []string) error {
	quoted := strings.Join(quoteAll(keys), ", ")
	query := fmt.Sprintf(
		"CREATE OR REPLACE TABLE %s AS SELECT * FROM %s QUALIFY row_number() OVER (PARTITION BY %s ORDER BY %s) = 1",
		duck.QuoteIdent(table), duck.QuoteIdent(table), quoted, quoted)
	return p.db.Exec(ctx, query)
}

func (p *Pipeline) renameOverlaps(ctx context.Context, keys []string) error {
	mediaCols, err := p.columnNames(ctx, tableMedia)
	if err != nil {
		return err
	}
	extraCols, err := p.columnNames(ctx, tableExtra)
	if err != nil {
		return err
	}

	isKey := make(map[string]bool, len(keys))
	for _, k := range keys {
		isKey[k] = true
	}
	inMedia := make(map[string]bool, len(mediaCols))
	for _, c := range mediaCols {
		inMedia[c] = true
	}

	for _, col := range extraCols {
		if isKey[col] || !inMedia[col] {
			continue
		}
		p.logger.Warn("column present in both inputs; renaming extra copy",
			"column", col, "renamed", col+"_extra")
		stmt := fmt.Sprintf("ALTER TABLE %s RENAME COLUMN %s TO %s",
			duck.QuoteIdent(tableExtra), duck.QuoteIdent(col), duck.QuoteIdent(col+"_extra"))
		if err := p.db.Exec(ctx, stmt); err != nil {
			return err
		}
	}
	return nil
}
