package diagnostics

import (
	"math"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mixstack-labs/mixpipe/internal/inference"
)

// noisyChain generates a deterministic pseudo-random chain around a mean.
func noisyChain(seed int64, offset float64, n int) []float64 {
	rng := rand.New(rand.NewSource(seed))
	out := make([]float64, n)
	for i := range out {
		out[i] = offset + rng.NormFloat64()
	}
	return out
}

func TestSplitRHat_WellMixed(t *testing.T) {
	chains := [][]float64{
		noisyChain(1, 0, 500),
		noisyChain(2, 0, 500),
		noisyChain(3, 0, 500),
		noisyChain(4, 0, 500),
	}
	rhat := SplitRHat(chains)
	assert.InDelta(t, 1.0, rhat, 0.05, "independent same-distribution chains should give rhat near 1")
}

func TestSplitRHat_SeparatedChains(t *testing.T) {
	chains := [][]float64{
		noisyChain(1, 0, 500),
		noisyChain(2, 10, 500),
	}
	rhat := SplitRHat(chains)
	assert.Greater(t, rhat, 1.5, "chains with different means must show rhat well above 1")
}

func TestSplitRHat_Constant(t *testing.T) {
	chains := [][]float64{
		{2, 2, 2, 2},
		{2, 2, 2, 2},
	}
	assert.Equal(t, 1.0, SplitRHat(chains))
}

func TestSplitRHat_Degenerate(t *testing.T) {
	assert.True(t, math.IsNaN(SplitRHat(nil)))
	assert.True(t, math.IsNaN(SplitRHat([][]float64{{1}})))
}

func TestEffectiveSampleSize_Independent(t *testing.T) {
	chains := [][]float64{
		noisyChain(5, 0, 500),
		noisyChain(6, 0, 500),
	}
	ess := EffectiveSampleSize(chains)
	assert.Greater(t, ess, 500.0, "independent draws should retain most of the sample size")
	assert.LessOrEqual(t, ess, 1000.0)
}

func TestEffectiveSampleSize_Autocorrelated(t *testing.T) {
	// AR(1) with high persistence has a much smaller effective sample.
	rng := rand.New(rand.NewSource(7))
	chain := make([]float64, 1000)
	for i := 1; i < len(chain); i++ {
		chain[i] = 0.95*chain[i-1] + rng.NormFloat64()
	}
	ess := EffectiveSampleSize([][]float64{chain})
	assert.Less(t, ess, 300.0)
}

func TestQuantile(t *testing.T) {
	values := []float64{4, 1, 3, 2, 5}

	assert.Equal(t, 3.0, Quantile(values, 0.5))
	assert.Equal(t, 1.0, Quantile(values, 0))
	assert.Equal(t, 5.0, Quantile(values, 1))
	assert.InDelta(t, 1.2, Quantile(values, 0.05), 1e-9)
	assert.True(t, math.IsNaN(Quantile(nil, 0.5)))
}

func TestCompute(t *testing.T) {
	draws := &inference.DrawSet{
		Kind: "posterior",
		Params: []inference.ParamDraws{
			{Name: "roi_tv", Chains: [][]float64{noisyChain(1, 1.5, 200), noisyChain(2, 1.5, 200)}},
			{Name: "roi_digital", Chains: [][]float64{noisyChain(3, 0.8, 200), noisyChain(4, 0.8, 200)}},
		},
	}

	report, err := Compute(draws, 0)
	require.NoError(t, err)

	assert.Equal(t, DefaultRHatThreshold, report.Threshold)
	require.Len(t, report.Params, 2)
	assert.InDelta(t, 1.5, report.Params[0].Mean, 0.2)
	assert.InDelta(t, 0.8, report.Params[1].Mean, 0.2)
	assert.True(t, report.Converged())
	assert.Greater(t, report.MinESS, 0.0)
	assert.Greater(t, report.MaxRHat, 0.0)
}

func TestCompute_InvalidDraws(t *testing.T) {
	_, err := Compute(&inference.DrawSet{Kind: "prior"}, 0)
	assert.Error(t, err)
}

func TestReportConverged_Threshold(t *testing.T) {
	draws := &inference.DrawSet{
		Kind: "posterior",
		Params: []inference.ParamDraws{
			{Name: "roi_tv", Chains: [][]float64{noisyChain(1, 0, 200), noisyChain(2, 8, 200)}},
		},
	}
	report, err := Compute(draws, 0)
	require.NoError(t, err)
	assert.False(t, report.Converged(), "separated chains must fail the rhat gate")
}
