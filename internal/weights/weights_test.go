package weights

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/mat"

	"selinf/domain/core"
)

// At the zero vector every family contributes its documented baseline.
func TestGradientZeroBaseline(t *testing.T) {
	gumbelAtZero := -(1 - math.Exp(gumbelMu/gumbelBeta)) * gumbelSigma / gumbelBeta

	neutral, err := NewNeutral(mat.NewDense(2, 4, []float64{
		1, 0, 2, 0,
		0, 1, 0, 3,
	}), mat.NewSymDense(2, []float64{2, 0.5, 0.5, 1}))
	require.NoError(t, err)

	tests := []struct {
		name string
		law  Law
		want float64
	}{
		{"exponential", mustNew(t, Exponential), -1},
		{"normal", mustNew(t, Normal), 0},
		{"gamma", mustNew(t, Gamma), 3./2 - 2},
		{"gumbel", mustNew(t, Gumbel), gumbelAtZero},
		{"neutral", neutral, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dst := make([]float64, 4)
			require.NoError(t, tt.law.Gradient(dst, make([]float64, 4)))
			for i, g := range dst {
				assert.InDelta(t, tt.want, g, 1e-12, "coordinate %d", i)
			}
		})
	}
}

func TestExponentialIgnoresInput(t *testing.T) {
	law := mustNew(t, Exponential)
	dst := make([]float64, 3)
	require.NoError(t, law.Gradient(dst, []float64{-5, 0.3, 1e6}))
	assert.Equal(t, []float64{-1, -1, -1}, dst)
}

func TestGradientAccumulates(t *testing.T) {
	law := mustNew(t, Normal)
	dst := []float64{1, 1}
	require.NoError(t, law.Gradient(dst, []float64{0.25, -2}))
	assert.Equal(t, []float64{0.75, 3}, dst)
}

func TestGammaPole(t *testing.T) {
	law := mustNew(t, Gamma)
	dst := make([]float64, 2)

	err := law.Gradient(dst, []float64{0, -2})
	assert.ErrorIs(t, err, core.ErrWeightPole)
	assert.True(t, core.IsNumericalError(err))

	assert.Greater(t, law.Lower(), -2.)
	require.NoError(t, law.Gradient(make([]float64, 1), []float64{law.Lower()}))

	// just under the floor is outside the projected support
	err = law.Gradient(make([]float64, 1), []float64{law.Lower() - 1e-9})
	assert.ErrorIs(t, err, core.ErrWeightPole)
}

// On the projected support one unit step of the gamma prior stays bounded.
func TestGammaGradientBoundedOnSupport(t *testing.T) {
	law := mustNew(t, Gamma)
	for _, x := range []float64{law.Lower(), law.Lower() + 1e-3, -1, 0, 5} {
		dst := make([]float64, 1)
		require.NoError(t, law.Gradient(dst, []float64{x}))
		assert.LessOrEqual(t, dst[0], GammaMaxGradient+1e-9, "x = %v", x)
		assert.False(t, math.IsInf(dst[0], 0) || math.IsNaN(dst[0]))
	}
	assert.InDelta(t, 28, GammaMaxGradient, 1e-9)
}

// The Gumbel weight gradient is the score of a standardized Gumbel density.
func TestGumbelMatchesLogDensity(t *testing.T) {
	logDensity := func(x float64) float64 {
		z := (x*gumbelSigma - gumbelMu) / gumbelBeta
		return -z - math.Exp(-z)
	}
	law := mustNew(t, Gumbel)
	const h = 1e-6
	for _, x := range []float64{-1.5, -0.2, 0.4, 2} {
		dst := make([]float64, 1)
		require.NoError(t, law.Gradient(dst, []float64{x}))
		fd := (logDensity(x+h) - logDensity(x-h)) / (2 * h)
		assert.InDelta(t, fd, dst[0], 1e-5)
	}
}

func TestNeutralIdentityIsGaussianPrior(t *testing.T) {
	cov := mat.NewSymDense(2, []float64{4, 0, 0, 0.25})
	law, err := NewNeutral(nil, cov)
	require.NoError(t, err)
	assert.Equal(t, 2, law.Dim())

	dst := make([]float64, 2)
	require.NoError(t, law.Gradient(dst, []float64{2, 1}))
	assert.InDelta(t, -0.5, dst[0], 1e-12)
	assert.InDelta(t, -4, dst[1], 1e-12)
}

func TestNeutralRejectsIndefiniteCovariance(t *testing.T) {
	_, err := NewNeutral(nil, mat.NewSymDense(2, []float64{1, 2, 2, 1}))
	assert.ErrorIs(t, err, core.ErrNotPositiveDefinite)

	_, err = NewNeutral(mat.NewDense(3, 2, nil), mat.NewSymDense(2, []float64{1, 0, 0, 1}))
	assert.ErrorIs(t, err, core.ErrDimensionMismatch)
}

func TestFamilyResolution(t *testing.T) {
	for _, f := range Families {
		parsed, err := ParseFamily(string(f))
		require.NoError(t, err)
		assert.Equal(t, f, parsed)
	}
	_, err := ParseFamily("beta")
	assert.ErrorIs(t, err, core.ErrUnknownFamily)

	_, err = New(Neutral)
	assert.Error(t, err)
}

func TestInitialSeeds(t *testing.T) {
	dst := []float64{9, 9}
	mustNew(t, Exponential).Initial(dst)
	assert.Equal(t, []float64{1, 1}, dst)
	mustNew(t, Gamma).Initial(dst)
	assert.Equal(t, []float64{0, 0}, dst)
}

func mustNew(t *testing.T, f Family) Law {
	t.Helper()
	law, err := New(f)
	require.NoError(t, err)
	return law
}
