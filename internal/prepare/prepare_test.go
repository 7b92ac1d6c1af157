package prepare

import (
	"testing"
	"time"
)

func TestMeanColumnSet(t *testing.T) {
	numeric := []string{"tv_spend", "nps", "descuento_cocinas", "Descuento_neveras"}
	mean := meanColumnSet(numeric, []string{"nps", "not_present"})

	if !mean["nps"] {
		t.Error("configured column nps should be averaged")
	}
	if !mean["descuento_cocinas"] || !mean["Descuento_neveras"] {
		t.Error("descuento* columns should be averaged regardless of case")
	}
	if mean["tv_spend"] {
		t.Error("tv_spend should be summed, not averaged")
	}
	if mean["not_present"] {
		t.Error("columns absent from the table must not appear in the mean set")
	}
}

func TestModalGapDays(t *testing.T) {
	day := func(s string) time.Time {
		d, err := time.Parse("2006-01-02", s)
		if err != nil {
			t.Fatalf("bad test date %s: %v", s, err)
		}
		return d
	}

	tests := []struct {
		name  string
		dates []string
		want  int
	}{
		{
			name:  "weekly",
			dates: []string{"2023-01-02", "2023-01-09", "2023-01-16", "2023-01-23"},
			want:  7,
		},
		{
			name:  "weekly with one gap",
			dates: []string{"2023-01-02", "2023-01-09", "2023-01-23", "2023-01-30"},
			want:  7,
		},
		{
			name:  "daily",
			dates: []string{"2023-01-01", "2023-01-02", "2023-01-03"},
			want:  1,
		},
		{
			name:  "tie prefers smaller gap",
			dates: []string{"2023-01-01", "2023-01-02", "2023-01-09"},
			want:  1,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dates := make([]time.Time, len(tt.dates))
			for i, s := range tt.dates {
				dates[i] = day(s)
			}
			if got := modalGapDays(dates); got != tt.want {
				t.Errorf("modalGapDays() = %d, want %d", got, tt.want)
			}
		})
	}
}

func TestMediaLikeColumn(t *testing.T) {
	tests := []struct {
		name string
		want bool
	}{
		{"tv_spend", true},
		{"Impressions_radio", true},
		{"inversion_digital", true},
		{"nps", false},
		{"descuento_cocinas", false},
	}
	for _, tt := range tests {
		if got := mediaLikeColumn(tt.name); got != tt.want {
			t.Errorf("mediaLikeColumn(%q) = %v, want %v", tt.name, got, tt.want)
		}
	}
}

func TestOptionsDefaults(t *testing.T) {
	o := Options{}.withDefaults()

	if o.DateColumn != "time" {
		t.Errorf("DateColumn = %q, want time", o.DateColumn)
	}
	if o.KPIColumn != ColConversions {
		t.Errorf("KPIColumn = %q, want %s", o.KPIColumn, ColConversions)
	}
	if o.Sep != "," || o.Decimal != "." {
		t.Errorf("Sep/Decimal = %q/%q, want ,/.", o.Sep, o.Decimal)
	}
}
