package inference

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/mat"

	"selinf/domain/core"
	"selinf/domain/selection"
	"selinf/internal/randomization"
)

func TestSelectionProbability(t *testing.T) {
	law, err := randomization.New(randomization.Laplace, 1)
	require.NoError(t, err)
	a := mat.NewDense(2, 2, []float64{
		1, 0,
		0, -1,
	})
	b := []float64{1, 2}
	y := []float64{0.5, 1}

	got, err := SelectionProbability(law, a, b, y)
	require.NoError(t, err)
	want := law.CDF(1-0.5) * law.CDF(2+1)
	assert.InDelta(t, want, got, 1e-12)

	_, err = SelectionProbability(law, a, []float64{1}, y)
	assert.ErrorIs(t, err, core.ErrDimensionMismatch)
	_, err = SelectionProbability(law, a, b, []float64{1})
	assert.ErrorIs(t, err, core.ErrDimensionMismatch)
}

func TestSelectionProbabilityUnderflowsToZero(t *testing.T) {
	law, err := randomization.New(randomization.Logistic, 1)
	require.NoError(t, err)
	a := mat.NewDense(1, 1, []float64{1})
	got, err := SelectionProbability(law, a, []float64{0}, []float64{1e6})
	require.NoError(t, err)
	assert.Zero(t, got)
}

func TestWeighted(t *testing.T) {
	draws := []float64{1, 2, 3, 4}
	probs := []float64{1, 0, 1, 0}

	result, err := Weighted("beta_0", draws, probs, selection.TailUpper, 2.5)
	require.NoError(t, err)
	assert.True(t, result.Usable())
	assert.InDelta(t, 0.5, result.PValue, 1e-12)
	assert.Equal(t, 4, result.Retained)
	assert.Equal(t, 2.5, result.Observed)

	lower, err := Weighted("beta_0", draws, []float64{1, 1, 1, 1}, selection.TailLower, 2)
	require.NoError(t, err)
	assert.InDelta(t, 0.5, lower.PValue, 1e-12)
}

func TestWeightedRejectsEmptySelection(t *testing.T) {
	_, err := Weighted("beta_0", []float64{1, 2}, []float64{0, 0}, selection.TailUpper, 0)
	assert.ErrorIs(t, err, core.ErrEmptySample)

	_, err = Weighted("beta_0", nil, nil, selection.TailUpper, 0)
	assert.ErrorIs(t, err, core.ErrEmptySample)

	_, err = Weighted("beta_0", []float64{1}, []float64{math.NaN()}, selection.TailUpper, 0)
	assert.ErrorIs(t, err, core.ErrNegativeWeight)
}
