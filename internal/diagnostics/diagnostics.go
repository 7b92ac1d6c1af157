// Package diagnostics computes convergence diagnostics and posterior
// summaries from MCMC draws returned by the inference service. Only summary
// statistics live here; sampling itself is the service's job.
package diagnostics

import (
	"fmt"
	"math"
	"sort"

	"github.com/mixstack-labs/mixpipe/internal/inference"
)

// DefaultRHatThreshold is the conventional cutoff above which chains are
// considered not to have mixed.
const DefaultRHatThreshold = 1.1

// Param holds the diagnostics and summary for one parameter.
type Param struct {
	Name   string  `json:"name"`
	RHat   float64 `json:"rhat"`
	ESS    float64 `json:"ess"`
	Mean   float64 `json:"mean"`
	SD     float64 `json:"sd"`
	Median float64 `json:"median"`
	Q5     float64 `json:"q5"`
	Q95    float64 `json:"q95"`
}

// Report covers a full draw set.
type Report struct {
	Params    []Param `json:"params"`
	MaxRHat   float64 `json:"max_rhat"`
	MinESS    float64 `json:"min_ess"`
	Threshold float64 `json:"threshold"`
}

// Converged reports whether every parameter's R-hat is at or below the
// report threshold.
func (r *Report) Converged() bool {
	return r.MaxRHat <= r.Threshold
}

// Compute builds a report for a draw set using the given R-hat threshold
// (zero selects the default).
func Compute(draws *inference.DrawSet, threshold float64) (*Report, error) {
	if err := draws.Validate(); err != nil {
		return nil, fmt.Errorf("cannot diagnose draws: %w", err)
	}
	if threshold == 0 {
		threshold = DefaultRHatThreshold
	}

	report := &Report{Threshold: threshold, MinESS: math.Inf(1)}
	for _, p := range draws.Params {
		param := Param{
			Name: p.Name,
			RHat: SplitRHat(p.Chains),
			ESS:  EffectiveSampleSize(p.Chains),
		}
		pooled := pool(p.Chains)
		param.Mean = mean(pooled)
		param.SD = math.Sqrt(variance(pooled, param.Mean))
		param.Median = Quantile(pooled, 0.5)
		param.Q5 = Quantile(pooled, 0.05)
		param.Q95 = Quantile(pooled, 0.95)

		report.Params = append(report.Params, param)
		if param.RHat > report.MaxRHat {
			report.MaxRHat = param.RHat
		}
		if param.ESS < report.MinESS {
			report.MinESS = param.ESS
		}
	}
	return report, nil
}

// SplitRHat computes the split Gelman-Rubin statistic. Each chain is halved
// so within-chain trends show up as apparent between-chain variance. A value
// near 1 indicates mixing. Degenerate (constant) draws return 1.
func SplitRHat(chains [][]float64) float64 {
	split := splitChains(chains)
	m := len(split)
	if m < 2 {
		return math.NaN()
	}
	n := len(split[0])
	if n < 2 {
		return math.NaN()
	}

	means := make([]float64, m)
	vars := make([]float64, m)
	for i, c := range split {
		means[i] = mean(c)
		vars[i] = variance(c, means[i])
	}

	w := mean(vars)
	grand := mean(means)
	b := 0.0
	for _, mu := range means {
		b += (mu - grand) * (mu - grand)
	}
	b *= float64(n) / float64(m-1)

	varPlus := float64(n-1)/float64(n)*w + b/float64(n)
	if w == 0 {
		if varPlus == 0 {
			return 1 // constant everywhere
		}
		return math.Inf(1)
	}
	return math.Sqrt(varPlus / w)
}

// EffectiveSampleSize estimates ESS from chain autocorrelations using
// Geyer's initial positive sequence on split chains.
func EffectiveSampleSize(chains [][]float64) float64 {
	split := splitChains(chains)
	m := len(split)
	if m == 0 {
		return 0
	}
	n := len(split[0])
	if n < 4 {
		return float64(m * n)
	}

	means := make([]float64, m)
	vars := make([]float64, m)
	for i, c := range split {
		means[i] = mean(c)
		vars[i] = variance(c, means[i])
	}
	w := mean(vars)

	grand := mean(means)
	b := 0.0
	for _, mu := range means {
		b += (mu - grand) * (mu - grand)
	}
	if m > 1 {
		b *= float64(n) / float64(m-1)
	}
	varPlus := float64(n-1)/float64(n)*w + b/float64(n)
	if varPlus == 0 {
		return float64(m * n)
	}

	// rho_t averaged over chains, summed in pairs until a pair goes
	// negative (Geyer's initial positive sequence).
	rhoSum := 0.0
	for t := 1; t+1 < n; t += 2 {
		rho1 := 1 - (w-meanAutocov(split, means, t))/varPlus
		rho2 := 1 - (w-meanAutocov(split, means, t+1))/varPlus
		if rho1+rho2 < 0 {
			break
		}
		rhoSum += rho1 + rho2
	}

	ess := float64(m*n) / (1 + 2*rhoSum)
	if ess > float64(m*n) {
		ess = float64(m * n)
	}
	if ess < 0 {
		ess = 0
	}
	return ess
}

// Quantile returns the q-th quantile (0..1) with linear interpolation.
func Quantile(values []float64, q float64) float64 {
	if len(values) == 0 {
		return math.NaN()
	}
	sorted := make([]float64, len(values))
	copy(sorted, values)
	sort.Float64s(sorted)

	if q <= 0 {
		return sorted[0]
	}
	if q >= 1 {
		return sorted[len(sorted)-1]
	}

	pos := q * float64(len(sorted)-1)
	lo := int(math.Floor(pos))
	hi := int(math.Ceil(pos))
	if lo == hi {
		return sorted[lo]
	}
	frac := pos - float64(lo)
	return sorted[lo]*(1-frac) + sorted[hi]*frac
}

// splitChains halves every chain, dropping the middle draw of odd chains.
func splitChains(chains [][]float64) [][]float64 {
	var out [][]float64
	for _, c := range chains {
		half := len(c) / 2
		if half == 0 {
			continue
		}
		out = append(out, c[:half], c[len(c)-half:])
	}
	return out
}

func pool(chains [][]float64) []float64 {
	var out []float64
	for _, c := range chains {
		out = append(out, c...)
	}
	return out
}

func mean(values []float64) float64 {
	if len(values) == 0 {
		return math.NaN()
	}
	sum := 0.0
	for _, v := range values {
		sum += v
	}
	return sum / float64(len(values))
}

// variance is the unbiased sample variance.
func variance(values []float64, mu float64) float64 {
	if len(values) < 2 {
		return 0
	}
	sum := 0.0
	for _, v := range values {
		sum += (v - mu) * (v - mu)
	}
	return sum / float64(len(values)-1)
}

// meanAutocov averages the lag-t autocovariance across chains.
func meanAutocov(chains [][]float64, means []float64, t int) float64 {
	total := 0.0
	for i, c := range chains {
		n := len(c)
		if t >= n {
			continue
		}
		sum := 0.0
		for j := 0; j+t < n; j++ {
			sum += (c[j] - means[i]) * (c[j+t] - means[i])
		}
		total += sum / float64(n)
	}
	return total / float64(len(chains))
}
