// Package modelspec defines the YAML model specification: which dataset
// columns feed the model, the ROI prior, and the sampling parameters sent
// to the inference service.
package modelspec

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// KPI kinds. A revenue KPI is modeled directly; a non-revenue KPI is scaled
// by revenue-per-KPI to express outcomes in currency.
const (
	KPIRevenue    = "revenue"
	KPINonRevenue = "non_revenue"
)

// Default sampling and prior values, matching common practice for weekly
// national-level marketing-mix models.
const (
	DefaultROIMu    = 0.2
	DefaultROISigma = 0.9
	DefaultChains   = 7
	DefaultAdapt    = 500
	DefaultBurnin   = 500
	DefaultKeep     = 1000
)

// Spec is the root of the model specification file.
type Spec struct {
	Name     string   `yaml:"name" json:"name"`
	KPI      KPI      `yaml:"kpi" json:"kpi"`
	Data     Mapping  `yaml:"data" json:"data"`
	Priors   Priors   `yaml:"priors" json:"priors"`
	Sampling Sampling `yaml:"sampling" json:"sampling"`
}

// KPI describes the outcome being modeled.
type KPI struct {
	Kind string `yaml:"kind" json:"kind"` // revenue | non_revenue
	// Column holds the KPI values; RevenuePerKPIColumn converts a
	// non-revenue KPI into currency.
	Column              string `yaml:"column" json:"column"`
	RevenuePerKPIColumn string `yaml:"revenue_per_kpi_column" json:"revenue_per_kpi_column"`
}

// Mapping names the dataset columns.
type Mapping struct {
	TimeColumn       string         `yaml:"time_column" json:"time_column"`
	GeoColumn        string         `yaml:"geo_column" json:"geo_column"`
	PopulationColumn string         `yaml:"population_column" json:"population_column"`
	MediaChannels    []MediaChannel `yaml:"media_channels" json:"media_channels"`
	Controls         []string       `yaml:"controls" json:"controls"`
}

// MediaChannel maps one paid channel to its dataset columns.
type MediaChannel struct {
	Name              string `yaml:"name" json:"name"`
	SpendColumn       string `yaml:"spend_column" json:"spend_column"`
	ImpressionsColumn string `yaml:"impressions_column" json:"impressions_column"`
}

// Priors holds the prior distributions the service should place on model
// parameters. Only the ROI prior is exposed; it is by far the most
// consequential knob.
type Priors struct {
	ROI LogNormal `yaml:"roi" json:"roi"`
}

// LogNormal parameterizes a lognormal distribution.
type LogNormal struct {
	Mu    float64 `yaml:"mu" json:"mu"`
	Sigma float64 `yaml:"sigma" json:"sigma"`
}

// Sampling holds MCMC schedule parameters.
type Sampling struct {
	Chains int   `yaml:"chains" json:"chains"`
	Adapt  int   `yaml:"adapt" json:"adapt"`
	Burnin int   `yaml:"burnin" json:"burnin"`
	Keep   int   `yaml:"keep" json:"keep"`
	Seed   int64 `yaml:"seed" json:"seed"`
}

// Load reads and validates a spec file, applying defaults for unset sampling
// and prior values.
func Load(path string) (*Spec, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read model spec: %w", err)
	}

	var spec Spec
	if err := yaml.Unmarshal(data, &spec); err != nil {
		return nil, fmt.Errorf("failed to parse model spec %s: %w", path, err)
	}

	spec.applyDefaults()
	if err := spec.Validate(); err != nil {
		return nil, fmt.Errorf("invalid model spec %s: %w", path, err)
	}
	return &spec, nil
}

func (s *Spec) applyDefaults() {
	if s.KPI.Kind == "" {
		s.KPI.Kind = KPINonRevenue
	}
	if s.KPI.Column == "" {
		s.KPI.Column = "conversions"
	}
	if s.KPI.Kind == KPINonRevenue && s.KPI.RevenuePerKPIColumn == "" {
		s.KPI.RevenuePerKPIColumn = "revenue_per_conversion"
	}
	if s.Data.TimeColumn == "" {
		s.Data.TimeColumn = "time"
	}
	if s.Data.PopulationColumn == "" {
		s.Data.PopulationColumn = "population"
	}
	if s.Priors.ROI.Mu == 0 {
		s.Priors.ROI.Mu = DefaultROIMu
	}
	if s.Priors.ROI.Sigma == 0 {
		s.Priors.ROI.Sigma = DefaultROISigma
	}
	if s.Sampling.Chains == 0 {
		s.Sampling.Chains = DefaultChains
	}
	if s.Sampling.Adapt == 0 {
		s.Sampling.Adapt = DefaultAdapt
	}
	if s.Sampling.Burnin == 0 {
		s.Sampling.Burnin = DefaultBurnin
	}
	if s.Sampling.Keep == 0 {
		s.Sampling.Keep = DefaultKeep
	}
}

// Validate checks the spec for values the inference service would reject.
func (s *Spec) Validate() error {
	if s.Name == "" {
		return fmt.Errorf("name is required")
	}
	if s.KPI.Kind != KPIRevenue && s.KPI.Kind != KPINonRevenue {
		return fmt.Errorf("kpi.kind must be %q or %q, got %q", KPIRevenue, KPINonRevenue, s.KPI.Kind)
	}
	if len(s.Data.MediaChannels) == 0 {
		return fmt.Errorf("at least one media channel is required")
	}

	seen := make(map[string]bool, len(s.Data.MediaChannels))
	for i, ch := range s.Data.MediaChannels {
		if ch.Name == "" {
			return fmt.Errorf("media channel %d has no name", i)
		}
		if ch.SpendColumn == "" {
			return fmt.Errorf("media channel %q has no spend_column", ch.Name)
		}
		if seen[ch.Name] {
			return fmt.Errorf("duplicate media channel %q", ch.Name)
		}
		seen[ch.Name] = true
	}

	if s.Priors.ROI.Sigma <= 0 {
		return fmt.Errorf("priors.roi.sigma must be positive, got %v", s.Priors.ROI.Sigma)
	}
	if s.Sampling.Chains < 1 {
		return fmt.Errorf("sampling.chains must be at least 1, got %d", s.Sampling.Chains)
	}
	if s.Sampling.Keep < 1 {
		return fmt.Errorf("sampling.keep must be at least 1, got %d", s.Sampling.Keep)
	}
	if s.Sampling.Adapt < 0 || s.Sampling.Burnin < 0 {
		return fmt.Errorf("sampling.adapt and sampling.burnin must not be negative")
	}
	return nil
}

// ChannelNames returns the media channel names in spec order.
func (s *Spec) ChannelNames() []string {
	names := make([]string, len(s.Data.MediaChannels))
	for i, ch := range s.Data.MediaChannels {
		names[i] = ch.Name
	}
	return names
}

// Columns returns every dataset column the spec references.
func (s *Spec) Columns() []string {
	cols := []string{s.Data.TimeColumn, s.KPI.Column}
	if s.KPI.Kind == KPINonRevenue {
		cols = append(cols, s.KPI.RevenuePerKPIColumn)
	}
	if s.Data.GeoColumn != "" {
		cols = append(cols, s.Data.GeoColumn)
	}
	if s.Data.PopulationColumn != "" {
		cols = append(cols, s.Data.PopulationColumn)
	}
	for _, ch := range s.Data.MediaChannels {
		cols = append(cols, ch.SpendColumn)
		if ch.ImpressionsColumn != "" {
			cols = append(cols, ch.ImpressionsColumn)
		}
	}
	cols = append(cols, s.Data.Controls...)
	return cols
}
