package prepare

import (
	"context"
	"encoding/csv"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"testing"

	"github.com/xuri/excelize/v2"

	"github.com/mixstack-labs/mixpipe/internal/duck"
)

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("failed to write %s: %v", name, err)
	}
	return path
}

func readCSV(t *testing.T, path string) (header []string, rows [][]string) {
	t.Helper()
	f, err := os.Open(path)
	if err != nil {
		t.Fatalf("failed to open output: %v", err)
	}
	defer func() { _ = f.Close() }()

	records, err := csv.NewReader(f).ReadAll()
	if err != nil {
		t.Fatalf("failed to parse output CSV: %v", err)
	}
	if len(records) == 0 {
		t.Fatal("output CSV is empty")
	}
	return records[0], records[1:]
}

func columnIndex(t *testing.T, header []string, name string) int {
	t.Helper()
	for i, h := range header {
		if h == name {
			return i
		}
	}
	t.Fatalf("column %q not found in output header %v", name, header)
	return -1
}

func TestPipelineRun_EndToEnd(t *testing.T) {
	dir := t.TempDir()
	// Weekly data with 2023-01-16 missing from both inputs.
	media := writeFile(t, dir, "media.csv",
		"time,tv_spend,units,revenue\n"+
			"2023-01-02,100.0,10,1000\n"+
			"2023-01-09,200.0,20,2000\n"+
			"2023-01-09,200.0,20,2000\n"+ // duplicate row, must be dropped
			"2023-01-23,300.0,30,3000\n")
	extra := writeFile(t, dir, "extra.csv",
		"time,descuento_cocinas,nps\n"+
			"2023-01-02,5.0,60\n"+
			"2023-01-09,4.0,61\n"+
			"2023-01-23,3.0,62\n")
	out := filepath.Join(dir, "merged.csv")

	db, err := duck.Open(context.Background(), ":memory:")
	if err != nil {
		t.Fatalf("failed to open duckdb: %v", err)
	}
	defer func() { _ = db.Close() }()

	p := New(db, Options{
		MediaPath:            media,
		ExtraPath:            extra,
		OutputPath:           out,
		KPIColumn:            "units",
		RevenueColumn:        "revenue",
		ComputePerConversion: true,
	}, nil)

	res, err := p.Run(context.Background())
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if res.Rows != 4 {
		t.Errorf("expected 4 rows (missing week inserted), got %d", res.Rows)
	}

	header, rows := readCSV(t, out)
	for _, want := range []string{"time", ColConversions, ColRevenue, ColPopulation, "tv_spend", "nps"} {
		columnIndex(t, header, want)
	}
	if len(rows) != 4 {
		t.Fatalf("expected 4 output rows, got %d", len(rows))
	}

	timeIdx := columnIndex(t, header, "time")
	spendIdx := columnIndex(t, header, "tv_spend")
	revIdx := columnIndex(t, header, ColRevenue)
	popIdx := columnIndex(t, header, ColPopulation)

	wantDates := []string{"2023-01-02", "2023-01-09", "2023-01-16", "2023-01-23"}
	for i, row := range rows {
		if row[timeIdx] != wantDates[i] {
			t.Errorf("row %d: time = %s, want %s", i, row[timeIdx], wantDates[i])
		}
	}

	// Revenue per conversion: 1000/10 = 100 on the first row.
	if got := mustFloat(t, rows[0][revIdx]); got != 100 {
		t.Errorf("revenue_per_conversion = %v, want 100", got)
	}

	// The inserted 2023-01-16 row gets the media gap fill.
	if got := mustFloat(t, rows[2][spendIdx]); got != gapFill {
		t.Errorf("inserted week tv_spend = %v, want %v", got, gapFill)
	}

	// Population is synthesized after the spine, so every row gets 1.
	for i, row := range rows {
		if got := mustFloat(t, row[popIdx]); got != 1 {
			t.Errorf("row %d population = %v, want 1", i, got)
		}
	}
}

func TestPipelineRun_CommaDecimalAndPercent(t *testing.T) {
	dir := t.TempDir()
	media := writeFile(t, dir, "media.csv",
		"fecha;inversion_tv;conversions;revenue_per_conversion\n"+
			"24/08/2023;1.234,5;10;100\n"+
			"25/08/2023;2.000,0;20;100\n")
	extra := writeFile(t, dir, "extra.csv",
		"fecha;descuento_cocinas\n"+
			"24/08/2023;5,9%\n"+
			"25/08/2023;4,5%\n")
	out := filepath.Join(dir, "merged.csv")

	db, err := duck.Open(context.Background(), ":memory:")
	if err != nil {
		t.Fatalf("failed to open duckdb: %v", err)
	}
	defer func() { _ = db.Close() }()

	p := New(db, Options{
		MediaPath:  media,
		ExtraPath:  extra,
		OutputPath: out,
		DateColumn: "fecha",
		Sep:        ";",
		Decimal:    ",",
		Thousands:  ".",
		DateFormat: "%d/%m/%Y",
	}, nil)

	if _, err := p.Run(context.Background()); err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	// Output keeps the configured separator and decimal character.
	f, err := os.Open(out)
	if err != nil {
		t.Fatalf("failed to open output: %v", err)
	}
	defer func() { _ = f.Close() }()
	r := csv.NewReader(f)
	r.Comma = ';'
	records, err := r.ReadAll()
	if err != nil {
		t.Fatalf("failed to parse output: %v", err)
	}

	header := records[0]
	dateIdx := columnIndex(t, header, "fecha")
	descIdx := columnIndex(t, header, "descuento_cocinas")
	invIdx := columnIndex(t, header, "inversion_tv")

	if records[1][dateIdx] != "2023-08-24" {
		t.Errorf("date = %s, want 2023-08-24", records[1][dateIdx])
	}
	if records[1][descIdx] != "5,9" {
		t.Errorf("descuento_cocinas = %s, want 5,9", records[1][descIdx])
	}
	if records[1][invIdx] != "1234,5" {
		t.Errorf("inversion_tv = %s, want 1234,5", records[1][invIdx])
	}
}

func TestPipelineRun_WeeklyAggregation(t *testing.T) {
	dir := t.TempDir()
	// Mon 2023-01-02 .. Wed 2023-01-04 fall in the same ISO week.
	media := writeFile(t, dir, "media.csv",
		"time,tv_spend,conversions,revenue_per_conversion,population\n"+
			"2023-01-02,10,1,100,50\n"+
			"2023-01-03,20,2,100,50\n"+
			"2023-01-04,30,3,100,50\n")
	extra := writeFile(t, dir, "extra.csv",
		"time,descuento_cocinas\n"+
			"2023-01-02,6\n"+
			"2023-01-03,4\n"+
			"2023-01-04,2\n")
	out := filepath.Join(dir, "merged.csv")

	db, err := duck.Open(context.Background(), ":memory:")
	if err != nil {
		t.Fatalf("failed to open duckdb: %v", err)
	}
	defer func() { _ = db.Close() }()

	p := New(db, Options{
		MediaPath:       media,
		ExtraPath:       extra,
		OutputPath:      out,
		AggregateWeekly: true,
	}, nil)

	res, err := p.Run(context.Background())
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if res.Rows != 1 {
		t.Fatalf("expected 1 weekly row, got %d", res.Rows)
	}

	header, rows := readCSV(t, out)
	if got := rows[0][columnIndex(t, header, "time")]; got != "2023-01-02" {
		t.Errorf("week start = %s, want 2023-01-02 (Monday)", got)
	}
	if got := mustFloat(t, rows[0][columnIndex(t, header, "tv_spend")]); got != 60 {
		t.Errorf("tv_spend = %v, want 60 (summed)", got)
	}
	if got := mustFloat(t, rows[0][columnIndex(t, header, "descuento_cocinas")]); got != 4 {
		t.Errorf("descuento_cocinas = %v, want 4 (averaged)", got)
	}
}

func TestPipelineRun_DropsUnnamedIndexColumns(t *testing.T) {
	dir := t.TempDir()
	// "Unnamed: 0" is the index column pandas' to_csv leaves behind.
	media := writeFile(t, dir, "media.csv",
		"Unnamed: 0,time,tv_spend,conversions,revenue_per_conversion\n"+
			"0,2023-01-02,10,1,100\n"+
			"1,2023-01-09,20,2,100\n")
	extra := writeFile(t, dir, "extra.csv",
		"Unnamed: 0,time,nps\n"+
			"0,2023-01-02,60\n"+
			"1,2023-01-09,61\n")
	out := filepath.Join(dir, "merged.csv")

	db, err := duck.Open(context.Background(), ":memory:")
	if err != nil {
		t.Fatalf("failed to open duckdb: %v", err)
	}
	defer func() { _ = db.Close() }()

	p := New(db, Options{MediaPath: media, ExtraPath: extra, OutputPath: out}, nil)
	if _, err := p.Run(context.Background()); err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	header, rows := readCSV(t, out)
	for _, h := range header {
		if strings.HasPrefix(h, "Unnamed") {
			t.Errorf("index column %q survived into the output", h)
		}
	}
	if len(rows) != 2 {
		t.Errorf("expected 2 rows, got %d", len(rows))
	}
	columnIndex(t, header, "nps")
}

func TestPipelineRun_ExcelInput(t *testing.T) {
	dir := t.TempDir()

	xlsxPath := filepath.Join(dir, "media.xlsx")
	wb := excelize.NewFile()
	sheet := wb.GetSheetName(0)
	sheetRows := [][]any{
		{"time", "tv_spend", "conversions", "revenue_per_conversion"},
		{"2023-01-02", 10.5, 1, 100},
		{"2023-01-09", 20.0, 2, 100},
	}
	for i, row := range sheetRows {
		cell, err := excelize.CoordinatesToCellName(1, i+1)
		if err != nil {
			t.Fatalf("failed to build cell name: %v", err)
		}
		if err := wb.SetSheetRow(sheet, cell, &row); err != nil {
			t.Fatalf("failed to write sheet row: %v", err)
		}
	}
	if err := wb.SaveAs(xlsxPath); err != nil {
		t.Fatalf("failed to save workbook: %v", err)
	}

	extra := writeFile(t, dir, "extra.csv",
		"time,nps\n2023-01-02,60\n2023-01-09,61\n")
	out := filepath.Join(dir, "merged.csv")

	db, err := duck.Open(context.Background(), ":memory:")
	if err != nil {
		t.Fatalf("failed to open duckdb: %v", err)
	}
	defer func() { _ = db.Close() }()

	p := New(db, Options{MediaPath: xlsxPath, ExtraPath: extra, OutputPath: out}, nil)
	res, err := p.Run(context.Background())
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if res.Rows != 2 {
		t.Fatalf("expected 2 rows, got %d", res.Rows)
	}

	header, rows := readCSV(t, out)
	spendIdx := columnIndex(t, header, "tv_spend")
	columnIndex(t, header, "nps")
	if got := mustFloat(t, rows[0][spendIdx]); got != 10.5 {
		t.Errorf("tv_spend = %v, want 10.5", got)
	}
}

func TestPipelineRun_MissingKPIColumns(t *testing.T) {
	dir := t.TempDir()
	media := writeFile(t, dir, "media.csv", "time,tv_spend\n2023-01-02,10\n2023-01-09,20\n")
	extra := writeFile(t, dir, "extra.csv", "time,nps\n2023-01-02,60\n2023-01-09,61\n")

	db, err := duck.Open(context.Background(), ":memory:")
	if err != nil {
		t.Fatalf("failed to open duckdb: %v", err)
	}
	defer func() { _ = db.Close() }()

	p := New(db, Options{
		MediaPath:  media,
		ExtraPath:  extra,
		OutputPath: filepath.Join(dir, "out.csv"),
	}, nil)

	_, err = p.Run(context.Background())
	if err == nil {
		t.Fatal("expected error for missing KPI columns")
	}
}

func TestPipelineRun_GeoSpine(t *testing.T) {
	dir := t.TempDir()
	// Two geos, the second missing its middle week.
	media := writeFile(t, dir, "media.csv",
		"time,geo,tv_spend,conversions,revenue_per_conversion\n"+
			"2023-01-02,north,10,1,100\n"+
			"2023-01-09,north,20,2,100\n"+
			"2023-01-16,north,30,3,100\n"+
			"2023-01-02,south,40,4,100\n"+
			"2023-01-16,south,50,5,100\n")
	extra := writeFile(t, dir, "extra.csv",
		"time,geo,nps\n"+
			"2023-01-02,north,60\n"+
			"2023-01-09,north,61\n"+
			"2023-01-16,north,62\n"+
			"2023-01-02,south,63\n"+
			"2023-01-16,south,64\n")
	out := filepath.Join(dir, "merged.csv")

	db, err := duck.Open(context.Background(), ":memory:")
	if err != nil {
		t.Fatalf("failed to open duckdb: %v", err)
	}
	defer func() { _ = db.Close() }()

	p := New(db, Options{MediaPath: media, ExtraPath: extra, OutputPath: out}, nil)
	res, err := p.Run(context.Background())
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	// north keeps 3 rows; south gets 2023-01-09 inserted (modal gap 14 days
	// would give 2 rows, but with a single 14-day gap the cadence is 14).
	header, rows := readCSV(t, out)
	geoIdx := columnIndex(t, header, "geo")
	timeIdx := columnIndex(t, header, "time")

	var south []string
	for _, row := range rows {
		if row[geoIdx] == "south" {
			south = append(south, row[timeIdx])
		}
	}
	if len(south) != 2 {
		t.Errorf("south rows = %v, want 2 rows at its own 14-day cadence", south)
	}
	if res.Rows != 5 {
		t.Errorf("total rows = %d, want 5", res.Rows)
	}
}

func mustFloat(t *testing.T, s string) float64 {
	t.Helper()
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		t.Fatalf("failed to parse float %q: %v", s, err)
	}
	return f
}
