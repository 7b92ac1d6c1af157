// Package duck wraps the DuckDB connection used as the tabular workbench
// for dataset preparation and inspection.
package duck

import (
	"context"
	"database/sql"
	"fmt"
	"path/filepath"
	"strings"

	_ "github.com/marcboeker/go-duckdb" // duckdb driver
)

// DB is a thin handle over a DuckDB connection.
type DB struct {
	db   *sql.DB
	path string
}

// Column describes a table column.
type Column struct {
	Name     string
	Type     string
	Nullable bool
	Position int
}

// Open opens a DuckDB database. Use ":memory:" or the empty string for an
// in-memory database.
func Open(ctx context.Context, path string) (*DB, error) {
	dsn := path
	if dsn == ":memory:" {
		dsn = ""
	}

	db, err := sql.Open("duckdb", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open duckdb connection: %w", err)
	}

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to ping duckdb: %w", err)
	}

	return &DB{db: db, path: path}, nil
}

// Close closes the database connection.
func (d *DB) Close() error {
	if d.db == nil {
		return nil
	}
	return d.db.Close()
}

// Exec executes a statement that returns no rows.
func (d *DB) Exec(ctx context.Context, query string, args ...any) error {
	if _, err := d.db.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("exec failed: %w", err)
	}
	return nil
}

// Query executes a statement that returns rows.
func (d *DB) Query(ctx context.Context, query string, args ...any) (*sql.Rows, error) {
	rows, err := d.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query failed: %w", err)
	}
	return rows, nil
}

// QueryRow executes a statement expected to return at most one row.
func (d *DB) QueryRow(ctx context.Context, query string, args ...any) *sql.Row {
	return d.db.QueryRowContext(ctx, query, args...)
}

// SQLDB exposes the underlying *sql.DB for callers that need to drive
// database/sql directly (the query REPL).
func (d *DB) SQLDB() *sql.DB {
	return d.db
}

// Columns returns column metadata for a table in ordinal order.
func (d *DB) Columns(ctx context.Context, table string) ([]Column, error) {
	schema := "main"
	name := table
	if parts := strings.Split(table, "."); len(parts) == 2 {
		schema, name = parts[0], parts[1]
	}

	rows, err := d.db.QueryContext(ctx, `
		SELECT column_name, data_type, is_nullable, ordinal_position
		FROM information_schema.columns
		WHERE table_schema = ? AND table_name = ?
		ORDER BY ordinal_position`, schema, name)
	if err != nil {
		return nil, fmt.Errorf("failed to query column metadata: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var cols []Column
	for rows.Next() {
		var col Column
		var nullable string
		if err := rows.Scan(&col.Name, &col.Type, &nullable, &col.Position); err != nil {
			return nil, fmt.Errorf("failed to scan column metadata: %w", err)
		}
		col.Nullable = nullable == "YES"
		cols = append(cols, col)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating column metadata: %w", err)
	}

	if len(cols) == 0 {
		return nil, fmt.Errorf("table %s not found", table)
	}
	return cols, nil
}

// RowCount returns the number of rows in a table.
func (d *DB) RowCount(ctx context.Context, table string) (int64, error) {
	var n int64
	query := fmt.Sprintf("SELECT COUNT(*) FROM %s", QuoteIdent(table))
	if err := d.db.QueryRowContext(ctx, query).Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count rows in %s: %w", table, err)
	}
	return n, nil
}

// LoadCSV loads a CSV file into a table using read_csv. All columns are read
// as VARCHAR so the caller controls numeric coercion; DuckDB's sniffer is
// deliberately not trusted with locale-specific decimals.
func (d *DB) LoadCSV(ctx context.Context, table, path, delim string) error {
	absPath, err := filepath.Abs(path)
	if err != nil {
		return fmt.Errorf("failed to get absolute path: %w", err)
	}

	query := fmt.Sprintf(
		"CREATE OR REPLACE TABLE %s AS SELECT * FROM read_csv(%s, header=true, delim=%s, all_varchar=true)",
		QuoteIdent(table), QuoteString(absPath), QuoteString(delim),
	)
	if err := d.Exec(ctx, query); err != nil {
		return fmt.Errorf("failed to load CSV %s: %w", path, err)
	}
	return nil
}

// CopyCSV writes the result of query to a CSV file.
func (d *DB) CopyCSV(ctx context.Context, query, path, delim string) error {
	absPath, err := filepath.Abs(path)
	if err != nil {
		return fmt.Errorf("failed to get absolute path: %w", err)
	}

	stmt := fmt.Sprintf("COPY (%s) TO %s (HEADER, DELIMITER %s)",
		query, QuoteString(absPath), QuoteString(delim))
	if err := d.Exec(ctx, stmt); err != nil {
		return fmt.Errorf("failed to export CSV %s: %w", path, err)
	}
	return nil
}

// QuoteIdent quotes an identifier for safe interpolation into SQL.
func QuoteIdent(ident string) string {
	parts := strings.Split(ident, ".")
	for i, p := range parts {
		parts[i] = `"` + strings.ReplaceAll(p, `"`, `""`) + `"`
	}
	return strings.Join(parts, ".")
}

// QuoteString quotes a string literal for safe interpolation into SQL.
func QuoteString(s string) string {
	return "'" + strings.ReplaceAll(s, "'", "''") + "'"
}
