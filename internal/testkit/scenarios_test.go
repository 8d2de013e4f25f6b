package testkit

import (
	"context"
	"math"
	"math/rand/v2"
	"sort"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"selinf/domain/core"
	"selinf/domain/selection"
	"selinf/internal/inference"
	"selinf/internal/weights"
)

func requireProbability(t *testing.T, r *selection.Result) {
	t.Helper()
	require.NotNil(t, r)
	if !r.Usable() {
		assert.Equal(t, selection.ReasonSelectionInconsistent, r.Reason)
		return
	}
	assert.GreaterOrEqual(t, r.PValue, 0.0)
	assert.LessOrEqual(t, r.PValue, 1.0)
}

func TestGaussianTargetNullIsUniform(t *testing.T) {
	if testing.Short() {
		t.Skip("null calibration runs 100 chains")
	}
	kit := NewTestKit()
	driver, err := kit.Driver(inference.Settings{StepSize: 0.05, TotalSteps: 4000, BurnIn: 500})
	require.NoError(t, err)

	var scenario GaussianTargetScenario
	const replicates = 100
	pvalues := make([]float64, 0, replicates)
	for i := 0; i < replicates; i++ {
		results, err := scenario.Replicate(context.Background(), driver, i, rand.NewPCG(uint64(i), 99))
		require.NoError(t, err)
		require.Len(t, results, 1)
		assert.True(t, results[0].Null)
		pvalues = append(pvalues, results[0].Result.PValue)
	}

	assert.Less(t, ksUniform(pvalues), 0.2)
}

// ksUniform is the Kolmogorov-Smirnov distance of the sample to U(0, 1)
func ksUniform(pvalues []float64) float64 {
	sorted := append([]float64(nil), pvalues...)
	sort.Float64s(sorted)
	n := float64(len(sorted))
	d := 0.0
	for i, p := range sorted {
		lo := p - float64(i)/n
		hi := float64(i+1)/n - p
		d = math.Max(d, math.Max(lo, hi))
	}
	return d
}

// Under the global null the selective test of the refit norm, which goes
// through the conditional gradient of the randomized lasso view, is uniform.
func TestLassoBootstrapGlobalNullIsUniform(t *testing.T) {
	if testing.Short() {
		t.Skip("null calibration runs 60 chains")
	}
	kit := NewTestKit()
	driver, err := kit.Driver(inference.Settings{StepSize: 0.05, TotalSteps: 3000, BurnIn: 500})
	require.NoError(t, err)

	scenario := DefaultLassoBootstrapScenario()
	scenario.Instance.S = 0
	const replicates = 60
	var pvalues []float64
	for i := 0; i < replicates; i++ {
		results, err := scenario.Replicate(context.Background(), driver, i, rand.NewPCG(uint64(i), 2718))
		require.NoError(t, err)
		for _, r := range results {
			assert.True(t, r.Null)
			if r.Result.Usable() {
				pvalues = append(pvalues, r.Result.PValue)
			}
		}
	}
	require.GreaterOrEqual(t, len(pvalues), 30)
	assert.Less(t, ksUniform(pvalues), 0.25)
}

func TestLassoBootstrapScenario(t *testing.T) {
	if testing.Short() {
		t.Skip("runs a 10000 step chain")
	}
	kit := NewTestKit()
	driver, err := kit.Driver(inference.Settings{StepSize: 0.05, TotalSteps: 10000, BurnIn: 2000})
	require.NoError(t, err)

	scenario := DefaultLassoBootstrapScenario()
	assert.Equal(t, "lasso_bootstrap", scenario.Name())

	first, err := scenario.Replicate(context.Background(), driver, 0, rand.NewPCG(2024, 1))
	require.NoError(t, err)
	require.Len(t, first, 1)
	assert.False(t, first[0].Null)
	requireProbability(t, first[0].Result)
	if first[0].Result.Usable() {
		assert.Equal(t, 10000-2000, first[0].Result.Retained)
	}

	second, err := scenario.Replicate(context.Background(), driver, 0, rand.NewPCG(2024, 1))
	require.NoError(t, err)
	assert.Equal(t, first[0].Result.PValue, second[0].Result.PValue)
	if math.IsNaN(first[0].Result.PValue) {
		assert.True(t, math.IsNaN(second[0].Result.PValue))
	}
}

func TestLassoBootstrapScenarioNeutralWeights(t *testing.T) {
	if testing.Short() {
		t.Skip("runs a sampler chain")
	}
	kit := NewTestKit()
	driver, err := kit.Driver(inference.Settings{StepSize: 0.05, TotalSteps: 1500, BurnIn: 300})
	require.NoError(t, err)

	scenario := DefaultLassoBootstrapScenario()
	scenario.Weights = weights.Neutral
	results, err := scenario.Replicate(context.Background(), driver, 1, rand.NewPCG(7, 7))
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.False(t, results[0].Null)
	requireProbability(t, results[0].Result)
}

// Gamma weights keep the chain on a bounded support, so the refit norm
// sample stays on the scale of the other weight families.
func TestLassoBootstrapScenarioGammaWeights(t *testing.T) {
	if testing.Short() {
		t.Skip("runs a sampler chain")
	}
	kit := NewTestKit()
	driver, err := kit.Driver(inference.Settings{StepSize: 0.05, TotalSteps: 1500, BurnIn: 300})
	require.NoError(t, err)

	scenario := DefaultLassoBootstrapScenario()
	scenario.Weights = weights.Gamma
	results, err := scenario.Replicate(context.Background(), driver, 1, rand.NewPCG(7, 7))
	if err != nil {
		assert.ErrorIs(t, err, core.ErrWeightPole)
		return
	}
	require.Len(t, results, 1)
	r := results[0].Result
	requireProbability(t, r)
	if r.Usable() {
		assert.False(t, math.IsInf(r.Sample.Max, 0) || math.IsNaN(r.Sample.Max))
		assert.Less(t, r.Sample.Mean, 50.0)
		assert.Less(t, r.Sample.Max, 200.0)
	}
}

// The driver's step size reaches the lasso chain.
func TestLassoBootstrapScenarioUsesDriverStepSize(t *testing.T) {
	if testing.Short() {
		t.Skip("runs two sampler chains")
	}
	kit := NewTestKit()
	run := func(h float64, seed uint64) *selection.Result {
		driver, err := kit.Driver(inference.Settings{StepSize: h, TotalSteps: 600, BurnIn: 100})
		require.NoError(t, err)
		results, err := DefaultLassoBootstrapScenario().Replicate(context.Background(), driver, 0, rand.NewPCG(seed, 1))
		require.NoError(t, err)
		if len(results) == 0 {
			return nil
		}
		return results[0].Result
	}
	for seed := uint64(0); seed < 20; seed++ {
		coarse := run(0.1, seed)
		if !coarse.Usable() {
			continue
		}
		fine := run(0.005, seed)
		require.True(t, fine.Usable())
		assert.NotEqual(t, coarse.Sample.Mean, fine.Sample.Mean)
		assert.NotEqual(t, coarse.Sample.StdDev, fine.Sample.StdDev)
		return
	}
	t.Fatal("no replicate selected the true support")
}

func TestTwoViewScenario(t *testing.T) {
	if testing.Short() {
		t.Skip("runs a bootstrap and a sampler chain")
	}
	kit := NewTestKit()
	driver, err := kit.Driver(inference.Settings{StepSize: 0.05, TotalSteps: 2000, BurnIn: 400})
	require.NoError(t, err)

	scenario := DefaultTwoViewScenario()
	scenario.BootstrapSamples = 200
	results, err := scenario.Replicate(context.Background(), driver, 0, rand.NewPCG(11, 3))
	require.NoError(t, err)
	for _, r := range results {
		assert.True(t, r.Null)
		requireProbability(t, r.Result)
	}
}

func TestResidualImportanceScenario(t *testing.T) {
	scenario := DefaultResidualImportanceScenario()
	scenario.Instance.N = 200
	scenario.Draws = 300

	results, err := scenario.Replicate(context.Background(), nil, 0, rand.NewPCG(5, 8))
	require.NoError(t, err)
	require.NotEmpty(t, results)
	for _, r := range results {
		require.True(t, r.Result.Usable())
		assert.Equal(t, selection.TailUpper, r.Result.Tail)
		requireProbability(t, r.Result)
	}
}

func TestScenarioHonorsCancellation(t *testing.T) {
	kit := NewTestKit()
	driver, err := kit.Driver(inference.Settings{StepSize: 0.05, TotalSteps: 100, BurnIn: 10})
	require.NoError(t, err)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = GaussianTargetScenario{}.Replicate(ctx, driver, 0, rand.NewPCG(1, 1))
	assert.ErrorIs(t, err, context.Canceled)
}
