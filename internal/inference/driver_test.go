package inference

import (
	"context"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/mat"

	"selinf/adapters/rng"
	"selinf/domain/core"
	"selinf/domain/selection"
	"selinf/internal/conditional"
	"selinf/internal/weights"
)

func gaussianModel(t *testing.T) *conditional.Model {
	t.Helper()
	prior, err := weights.NewNeutral(nil, mat.NewSymDense(1, []float64{1}))
	require.NoError(t, err)
	model, err := conditional.NewModel([]conditional.Block{{Name: "target", Dim: 1, Weights: prior}}, nil)
	require.NoError(t, err)
	return model
}

func newTestDriver(t *testing.T, settings Settings) *Driver {
	t.Helper()
	d, err := NewDriver(settings, rng.NewPCGAdapter(), nil)
	require.NoError(t, err)
	return d
}

func TestSettingsValidate(t *testing.T) {
	tests := []struct {
		name     string
		settings Settings
		want     error
	}{
		{"valid", Settings{StepSize: 0.1, TotalSteps: 10, BurnIn: 3}, nil},
		{"zero step", Settings{StepSize: 0, TotalSteps: 10, BurnIn: 3}, core.ErrInvalidInput},
		{"infinite step", Settings{StepSize: math.Inf(1), TotalSteps: 10, BurnIn: 3}, core.ErrInvalidInput},
		{"no steps", Settings{StepSize: 0.1, TotalSteps: 0, BurnIn: 0}, core.ErrInvalidInput},
		{"burn-in equals steps", Settings{StepSize: 0.1, TotalSteps: 10, BurnIn: 10}, core.ErrBurnIn},
		{"burn-in keeps the last state", Settings{StepSize: 0.1, TotalSteps: 10, BurnIn: 9}, nil},
		{"burn-in past steps", Settings{StepSize: 0.1, TotalSteps: 10, BurnIn: 11}, core.ErrBurnIn},
		{"negative burn-in", Settings{StepSize: 0.1, TotalSteps: 10, BurnIn: -1}, core.ErrBurnIn},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.settings.Validate()
			if tt.want == nil {
				assert.NoError(t, err)
				return
			}
			assert.ErrorIs(t, err, tt.want)
		})
	}
}

func TestNewDriverRequiresRNG(t *testing.T) {
	_, err := NewDriver(Settings{StepSize: 0.1, TotalSteps: 10, BurnIn: 1}, nil, nil)
	assert.ErrorIs(t, err, core.ErrInvalidInput)
}

func TestRunGaussianTarget(t *testing.T) {
	d := newTestDriver(t, Settings{StepSize: 0.05, TotalSteps: 6000, BurnIn: 1000})
	model := gaussianModel(t)
	problem := Problem{
		Target:    "gaussian",
		Model:     model,
		Statistic: SliceCoordinate(model.Layout().Blocks[0], 0),
		Observed:  0,
		Tail:      selection.TailLower,
		Seed:      17,
	}

	result, err := d.Run(context.Background(), problem)
	require.NoError(t, err)
	assert.True(t, result.Usable())
	assert.Equal(t, 6000-1000, result.Retained)
	assert.Equal(t, result.Retained, result.Sample.Size)
	// the chain targets N(0, 1), so the median sits near the observed zero
	assert.InDelta(t, 0.5, result.PValue, 0.25)
	assert.InDelta(t, 0, result.Sample.Mean, 0.5)
	assert.InDelta(t, 1, result.Sample.StdDev, 0.35)

	again, err := d.Run(context.Background(), problem)
	require.NoError(t, err)
	assert.Equal(t, result, again, "same seed reproduces the result")

	problem.Seed = 18
	other, err := d.Run(context.Background(), problem)
	require.NoError(t, err)
	assert.NotEqual(t, result.Sample.Mean, other.Sample.Mean)
}

func TestRunTails(t *testing.T) {
	d := newTestDriver(t, Settings{StepSize: 0.05, TotalSteps: 2000, BurnIn: 200})
	model := gaussianModel(t)
	base := Problem{
		Target:    "gaussian",
		Model:     model,
		Statistic: SliceCoordinate(model.Layout().Blocks[0], 0),
		Observed:  3,
		Seed:      5,
	}

	lower, upper, two := base, base, base
	lower.Tail = selection.TailLower
	upper.Tail = selection.TailUpper
	two.Tail = selection.TailTwoSided

	pl, err := d.Run(context.Background(), lower)
	require.NoError(t, err)
	pu, err := d.Run(context.Background(), upper)
	require.NoError(t, err)
	pt, err := d.Run(context.Background(), two)
	require.NoError(t, err)

	assert.InDelta(t, 1, pl.PValue+pu.PValue, 1e-12)
	assert.InDelta(t, 2*math.Min(pl.PValue, 1-pl.PValue), pt.PValue, 1e-12)
	assert.Greater(t, pl.PValue, 0.9)
}

func TestRunSkipsInconsistentSelection(t *testing.T) {
	d := newTestDriver(t, Settings{StepSize: 0.05, TotalSteps: 100, BurnIn: 10})
	model := gaussianModel(t)
	result, err := d.Run(context.Background(), Problem{
		Target:      "skipped",
		Model:       model,
		Statistic:   SliceNorm(model.Layout().Blocks[0]),
		Tail:        selection.TailUpper,
		TrueSupport: []int{0, 2},
		Active:      []bool{true, true, false},
	})
	require.NoError(t, err)
	assert.False(t, result.Usable())
	assert.Equal(t, selection.ReasonSelectionInconsistent, result.Reason)
	assert.True(t, math.IsNaN(result.PValue))
}

func TestRunFailures(t *testing.T) {
	d := newTestDriver(t, Settings{StepSize: 0.05, TotalSteps: 100, BurnIn: 10})
	model := gaussianModel(t)

	_, err := d.Run(context.Background(), Problem{
		Target: "nan",
		Model:  model,
		Statistic: StatisticFunc(func([]float64) (float64, error) {
			return math.NaN(), nil
		}),
		Tail: selection.TailLower,
	})
	assert.ErrorIs(t, err, core.ErrNonFinite)

	_, err = d.Run(context.Background(), Problem{Target: "no-model", Tail: selection.TailLower})
	assert.ErrorIs(t, err, core.ErrInvalidInput)

	_, err = d.Run(context.Background(), Problem{
		Target:    "bad-tail",
		Model:     model,
		Statistic: SliceNorm(model.Layout().Blocks[0]),
		Tail:      "sideways",
	})
	assert.ErrorIs(t, err, core.ErrInvalidInput)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = d.Run(ctx, Problem{Target: "cancelled", Model: model, Statistic: SliceNorm(model.Layout().Blocks[0]), Tail: selection.TailLower})
	assert.ErrorIs(t, err, context.Canceled)
}

func TestSupportSelected(t *testing.T) {
	active := []bool{true, false, true}
	assert.True(t, SupportSelected(nil, active))
	assert.True(t, SupportSelected([]int{0, 2}, active))
	assert.False(t, SupportSelected([]int{1}, active))
	assert.False(t, SupportSelected([]int{5}, active))
}
