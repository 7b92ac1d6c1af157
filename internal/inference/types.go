package inference

import (
	"fmt"

	"github.com/mixstack-labs/mixpipe/internal/modelspec"
)

// Table is a columnar dataset payload.
type Table struct {
	Columns []string `json:"columns"`
	Rows    [][]any  `json:"rows"`
}

// SampleRequest asks the service to draw from the prior or posterior of the
// configured model.
type SampleRequest struct {
	Model    string             `json:"model"`
	KPIKind  string             `json:"kpi_kind"`
	Mapping  modelspec.Mapping  `json:"mapping"`
	Priors   modelspec.Priors   `json:"priors"`
	Sampling modelspec.Sampling `json:"sampling"`
	Data     *Table             `json:"data,omitempty"`
}

// ParamDraws holds the sampled values for one parameter, one row per chain.
type ParamDraws struct {
	Name   string      `json:"name"`
	Chains [][]float64 `json:"chains"`
}

// DrawSet is a collection of sampled parameters.
type DrawSet struct {
	Kind   string       `json:"kind"` // prior | posterior
	Params []ParamDraws `json:"params"`
}

// Param returns the draws for a named parameter, or nil.
func (d *DrawSet) Param(name string) *ParamDraws {
	for i := range d.Params {
		if d.Params[i].Name == name {
			return &d.Params[i]
		}
	}
	return nil
}

// Validate checks the structural invariants of a draw set: at least one
// parameter, and every chain of a parameter with the same length.
func (d *DrawSet) Validate() error {
	if len(d.Params) == 0 {
		return fmt.Errorf("%s draw set has no parameters", d.Kind)
	}
	for _, p := range d.Params {
		if len(p.Chains) == 0 {
			return fmt.Errorf("parameter %s has no chains", p.Name)
		}
		n := len(p.Chains[0])
		if n == 0 {
			return fmt.Errorf("parameter %s has empty chains", p.Name)
		}
		for i, c := range p.Chains {
			if len(c) != n {
				return fmt.Errorf("parameter %s: chain %d has %d draws, expected %d", p.Name, i, len(c), n)
			}
		}
	}
	return nil
}

// ChannelBound constrains one channel's share of the optimized budget.
type ChannelBound struct {
	Lower float64 `json:"lower"` // fraction of total budget, 0..1
	Upper float64 `json:"upper"`
}

// OptimizeRequest asks the service to search spend allocations maximizing
// the modeled outcome under a fixed total budget.
type OptimizeRequest struct {
	Model     string                  `json:"model"`
	KPIKind   string                  `json:"kpi_kind"`
	Mapping   modelspec.Mapping       `json:"mapping"`
	Posterior *DrawSet                `json:"posterior"`
	Budget    float64                 `json:"budget"`
	Bounds    map[string]ChannelBound `json:"bounds,omitempty"`
	Data      *Table                  `json:"data,omitempty"`
}

// ChannelAllocation is one channel's spend before and after optimization.
type ChannelAllocation struct {
	Channel        string  `json:"channel"`
	CurrentSpend   float64 `json:"current_spend"`
	OptimizedSpend float64 `json:"optimized_spend"`
	ROIMean        float64 `json:"roi_mean"`
}

// OptimizeResult is the service's allocation answer.
type OptimizeResult struct {
	Allocations      []ChannelAllocation `json:"allocations"`
	CurrentOutcome   float64             `json:"current_outcome"`
	OptimizedOutcome float64             `json:"optimized_outcome"`
}

// Lift returns the relative outcome improvement of the optimized allocation.
func (r *OptimizeResult) Lift() float64 {
	if r.CurrentOutcome == 0 {
		return 0
	}
	return (r.OptimizedOutcome - r.CurrentOutcome) / r.CurrentOutcome
}
