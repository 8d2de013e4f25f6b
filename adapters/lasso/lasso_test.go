package lasso

import (
	"math"
	"math/rand/v2"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/mat"

	"selinf/domain/core"
	"selinf/internal/conditional"
	"selinf/internal/randomization"
)

func instance(seed uint64, n, p int, beta []float64) (*mat.Dense, []float64) {
	rng := rand.New(rand.NewPCG(seed, seed))
	x := mat.NewDense(n, p, nil)
	for i := 0; i < n; i++ {
		for j := 0; j < p; j++ {
			x.Set(i, j, rng.NormFloat64()/math.Sqrt(float64(n)))
		}
	}
	y := make([]float64, n)
	for i := range y {
		y[i] = rng.NormFloat64()
		for j, b := range beta {
			y[i] += x.At(i, j) * b
		}
	}
	return x, y
}

func TestSolveSatisfiesKKT(t *testing.T) {
	x, y := instance(1, 100, 8, []float64{6, -5, 0, 0, 0, 0, 0, 0})
	omega := []float64{0.3, -0.2, 0.1, 0, 0.05, -0.4, 0.2, 0.1}
	cfg := NewDefaultConfig(1.5)
	cfg.Epsilon = 0.1

	fit, err := Solve(x, y, cfg, omega)
	require.NoError(t, err)
	require.NotEmpty(t, fit.ActiveIndices())

	// gradient of the smooth part plus lambda*u vanishes
	n, p := x.Dims()
	r := make([]float64, n)
	for i := range r {
		r[i] = y[i]
		for j := 0; j < p; j++ {
			r[i] -= x.At(i, j) * fit.Beta[j]
		}
	}
	for j := 0; j < p; j++ {
		score := -omega[j] + cfg.Epsilon*fit.Beta[j]
		for i := 0; i < n; i++ {
			score -= x.At(i, j) * r[i]
		}
		if fit.Active[j] {
			assert.InDelta(t, 0, score+1.5*math.Copysign(1, fit.Beta[j]), 1e-6, "active %d", j)
		} else {
			assert.LessOrEqual(t, math.Abs(score), 1.5+1e-6, "inactive %d", j)
		}
	}
	for _, u := range fit.Subgradient {
		assert.True(t, u >= -1 && u <= 1)
	}
}

func TestObservedOptReproducesOmega(t *testing.T) {
	x, y := instance(2, 80, 6, []float64{5, 0, -4, 0, 0, 0})
	law, err := randomization.New(randomization.Laplace, 0.5)
	require.NoError(t, err)
	fit, err := Randomized(x, y, NewDefaultConfig(1.2), law, rand.NewPCG(3, 3))
	require.NoError(t, err)

	// with the raw score X^T y as offset and no data perturbation, the
	// view's omega is the randomization that produced the fit
	p := len(fit.Beta)
	xty := mat.NewVecDense(p, nil)
	xty.MulVec(x.T(), mat.NewVecDense(len(y), y))
	view, err := conditional.NewView(fit.ViewInput("lasso", law, conditional.DataMap{
		Linear: mat.NewDense(p, 1, nil),
		Offset: xty.RawVector().Data,
	}))
	require.NoError(t, err)

	omega := make([]float64, p)
	require.NoError(t, view.Omega(omega, []float64{0}, fit.ObservedOpt()))
	assert.InDeltaSlice(t, fit.Omega, omega, 1e-6)
}

func TestRefitResidualsOrthogonal(t *testing.T) {
	x, y := instance(4, 60, 5, []float64{4, 4, 0, 0, 0})
	fit, err := Solve(x, y, NewDefaultConfig(0.8), make([]float64, 5))
	require.NoError(t, err)

	for _, j := range fit.ActiveIndices() {
		assert.InDelta(t, 0, fit.NullOffset[j], 1e-8)
	}
	b, err := fit.Bootstrap()
	require.NoError(t, err)
	assert.Equal(t, 60, b.Dim())
}

func TestPolyhedronContainsObservedResponse(t *testing.T) {
	x, y := instance(5, 120, 10, []float64{7, -6, 5, 0, 0, 0, 0, 0, 0, 0})
	const lambda = 1.0
	fit, err := Solve(x, y, NewDefaultConfig(lambda), make([]float64, 10))
	require.NoError(t, err)

	a, b, err := Polyhedron(x, fit.Active, fit.Signs, lambda)
	require.NoError(t, err)
	var ay mat.VecDense
	ay.MulVec(a, mat.NewVecDense(len(y), y))
	for i := range b {
		assert.LessOrEqual(t, ay.AtVec(i), b[i]+1e-6, "row %d", i)
	}

	_, _, err = Polyhedron(x, make([]bool, 10), nil, lambda)
	assert.ErrorIs(t, err, core.ErrEmptyActiveSet)
}

func TestSolveValidation(t *testing.T) {
	x, y := instance(6, 20, 3, nil)
	_, err := Solve(x, y[:10], NewDefaultConfig(1), make([]float64, 3))
	assert.ErrorIs(t, err, core.ErrDimensionMismatch)
	_, err = Solve(x, y, Config{Penalty: []float64{1, 2}}, make([]float64, 3))
	assert.ErrorIs(t, err, core.ErrDimensionMismatch)
	_, err = Solve(x, y, Config{Penalty: []float64{-1}}, make([]float64, 3))
	assert.ErrorIs(t, err, core.ErrInvalidInput)
}

func TestTheoreticalLambda(t *testing.T) {
	x, _ := instance(7, 200, 20, nil)
	lam := TheoreticalLambda(x, 1, 500, rand.NewPCG(1, 2))
	// columns have norm close to 1, so this is near E max of 20 |N(0,1)|
	assert.Greater(t, lam, 1.5)
	assert.Less(t, lam, 3.5)
}
