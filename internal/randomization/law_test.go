package randomization

import (
	"math"
	"math/rand/v2"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/stat"
	"gonum.org/v1/gonum/stat/distuv"

	"selinf/domain/core"
)

func TestParseFamily(t *testing.T) {
	f, err := ParseFamily(" Laplace ")
	require.NoError(t, err)
	assert.Equal(t, Laplace, f)

	_, err = ParseFamily("cauchy")
	assert.ErrorIs(t, err, core.ErrUnknownFamily)
}

func TestNewRejectsBadScale(t *testing.T) {
	for _, scale := range []float64{0, -1, math.NaN(), math.Inf(1)} {
		_, err := New(Laplace, scale)
		assert.Error(t, err, "scale %v", scale)
	}
}

func TestLaplaceDerivative(t *testing.T) {
	law, err := New(Laplace, 0.5)
	require.NoError(t, err)

	dst := make([]float64, 3)
	law.Derivative(dst, []float64{-3, 0, 0.1})
	assert.Equal(t, []float64{-2, 0, 2}, dst)
}

func TestLogisticDerivativeMatchesClosedForm(t *testing.T) {
	law, err := New(Logistic, 1)
	require.NoError(t, err)

	omega := []float64{-4, -0.5, 0, 0.5, 4}
	dst := make([]float64, len(omega))
	law.Derivative(dst, omega)
	for i, w := range omega {
		want := -(math.Exp(-w) - 1) / (math.Exp(-w) + 1)
		assert.InDelta(t, want, dst[i], 1e-12)
	}
}

// The derivative must agree with a finite difference of -log g.
func TestDerivativeIsNegativeScore(t *testing.T) {
	logProb := map[Family]func(float64) float64{
		Laplace:  distuv.Laplace{Mu: 0, Scale: 0.7}.LogProb,
		Logistic: distuv.Logistic{Mu: 0, S: 0.7}.LogProb,
	}
	for _, family := range []Family{Laplace, Logistic} {
		law, err := New(family, 0.7)
		require.NoError(t, err)

		const h = 1e-6
		for _, w := range []float64{-2.3, -0.4, 0.8, 1.9} {
			fd := -(logProb[family](w+h) - logProb[family](w-h)) / (2 * h)
			dst := make([]float64, 1)
			law.Derivative(dst, []float64{w})
			assert.InDelta(t, fd, dst[0], 1e-5, "%s at %v", family, w)
		}
	}
}

func TestSampleMatchesCDF(t *testing.T) {
	src := rand.NewPCG(7, 11)
	for _, family := range []Family{Laplace, Logistic} {
		law, err := New(family, 0.5)
		require.NoError(t, err)

		draws := make([]float64, 20000)
		law.Sample(draws, src)
		below := 0
		for _, d := range draws {
			if d <= 0.3 {
				below++
			}
		}
		assert.InDelta(t, law.CDF(0.3), float64(below)/float64(len(draws)), 0.02, string(family))
	}
}

func TestLogisticSampleIsQuantileOfUniform(t *testing.T) {
	law, err := New(Logistic, 0.8)
	require.NoError(t, err)

	draws := make([]float64, 5000)
	law.Sample(draws, rand.NewPCG(3, 5))

	u := distuv.Uniform{Min: 0, Max: 1, Src: rand.NewPCG(3, 5)}
	ref := distuv.Logistic{Mu: 0, S: 0.8}
	for i := 0; i < 10; i++ {
		assert.InDelta(t, ref.Quantile(u.Rand()), draws[i], 1e-12)
	}
	for _, d := range draws {
		require.False(t, math.IsInf(d, 0) || math.IsNaN(d))
	}
	assert.InDelta(t, 0, stat.Mean(draws, nil), 0.08)
	assert.InDelta(t, ref.Variance(), stat.Variance(draws, nil), 0.2)
}
