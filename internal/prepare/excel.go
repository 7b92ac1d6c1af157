package prepare

import (
	"encoding/csv"
	"fmt"
	"os"

	"github.com/xuri/excelize/v2"
)

// excelToCSV converts the first sheet of an Excel workbook to a temporary
// CSV file so DuckDB can load it. The caller must invoke cleanup.
func excelToCSV(path string) (csvPath string, cleanup func(), err error) {
	f, err := excelize.OpenFile(path)
	if err != nil {
		return "", nil, fmt.Errorf("failed to open workbook: %w", err)
	}
	defer func() { _ = f.Close() }()

	sheets := f.GetSheetList()
	if len(sheets) == 0 {
		return "", nil, fmt.Errorf("workbook %s has no sheets", path)
	}

	rows, err := f.GetRows(sheets[0])
	if err != nil {
		return "", nil, fmt.Errorf("failed to read sheet %s: %w", sheets[0], err)
	}
	if len(rows) == 0 {
		return "", nil, fmt.Errorf("sheet %s is empty", sheets[0])
	}

	tmp, err := os.CreateTemp("", "mixpipe-xlsx-*.csv")
	if err != nil {
		return "", nil, fmt.Errorf("failed to create temp file: %w", err)
	}
	cleanup = func() { _ = os.Remove(tmp.Name()) }

	w := csv.NewWriter(tmp)
	width := len(rows[0])
	for _, row := range rows {
		// Trailing empty cells are dropped by excelize; pad to header width.
		for len(row) < width {
			row = append(row, "")
		}
		if err := w.Write(row[:width]); err != nil {
			cleanup()
			return "", nil, fmt.Errorf("failed to write temp CSV: %w", err)
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		cleanup()
		return "", nil, fmt.Errorf("failed to flush temp CSV: %w", err)
	}
	if err := tmp.Close(); err != nil {
		cleanup()
		return "", nil, fmt.Errorf("failed to close temp CSV: %w", err)
	}

	return tmp.Name(), cleanup, nil
}
