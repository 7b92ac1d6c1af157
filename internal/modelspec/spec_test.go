package modelspec

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeSpec(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "model.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestLoad_AppliesDefaults(t *testing.T) {
	path := writeSpec(t, `
name: demo
data:
  media_channels:
    - name: tv
      spend_column: tv_spend
`)

	spec, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, KPINonRevenue, spec.KPI.Kind)
	assert.Equal(t, "conversions", spec.KPI.Column)
	assert.Equal(t, "revenue_per_conversion", spec.KPI.RevenuePerKPIColumn)
	assert.Equal(t, "time", spec.Data.TimeColumn)
	assert.Equal(t, DefaultROIMu, spec.Priors.ROI.Mu)
	assert.Equal(t, DefaultROISigma, spec.Priors.ROI.Sigma)
	assert.Equal(t, DefaultChains, spec.Sampling.Chains)
	assert.Equal(t, DefaultKeep, spec.Sampling.Keep)
}

func TestLoad_FullSpec(t *testing.T) {
	path := writeSpec(t, `
name: haceb
kpi:
  kind: non_revenue
  column: conversions
  revenue_per_kpi_column: revenue_per_conversion
data:
  time_column: time
  geo_column: geo
  media_channels:
    - name: tv
      spend_column: tv_spend
      impressions_column: tv_impressions
    - name: digital
      spend_column: digital_spend
  controls: [descuento_cocinas, nps]
priors:
  roi:
    mu: 0.3
    sigma: 0.7
sampling:
  chains: 4
  adapt: 200
  burnin: 200
  keep: 500
  seed: 42
`)

	spec, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, []string{"tv", "digital"}, spec.ChannelNames())
	assert.Equal(t, 0.3, spec.Priors.ROI.Mu)
	assert.Equal(t, int64(42), spec.Sampling.Seed)

	cols := spec.Columns()
	assert.Contains(t, cols, "tv_impressions")
	assert.Contains(t, cols, "geo")
	assert.Contains(t, cols, "nps")
}

func TestValidate_Errors(t *testing.T) {
	base := func() *Spec {
		s := &Spec{
			Name: "demo",
			Data: Mapping{MediaChannels: []MediaChannel{{Name: "tv", SpendColumn: "tv_spend"}}},
		}
		s.applyDefaults()
		return s
	}

	tests := []struct {
		name   string
		mutate func(*Spec)
	}{
		{"missing name", func(s *Spec) { s.Name = "" }},
		{"bad kpi kind", func(s *Spec) { s.KPI.Kind = "weird" }},
		{"no channels", func(s *Spec) { s.Data.MediaChannels = nil }},
		{"channel without spend", func(s *Spec) { s.Data.MediaChannels[0].SpendColumn = "" }},
		{"duplicate channel", func(s *Spec) {
			s.Data.MediaChannels = append(s.Data.MediaChannels, MediaChannel{Name: "tv", SpendColumn: "x"})
		}},
		{"negative sigma", func(s *Spec) { s.Priors.ROI.Sigma = -1 }},
		{"zero chains", func(s *Spec) { s.Sampling.Chains = -1 }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := base()
			tt.mutate(s)
			assert.Error(t, s.Validate())
		})
	}
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.Error(t, err)
}
