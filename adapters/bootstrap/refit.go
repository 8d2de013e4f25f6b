package bootstrap

import (
	"fmt"
	"math/rand/v2"

	"gonum.org/v1/gonum/mat"

	"selinf/domain/core"
)

// Refit is the least-squares fit of y on the columns cols of x over the rows idx
func Refit(x mat.Matrix, y []float64, cols, idx []int) ([]float64, error) {
	if len(cols) == 0 {
		return nil, core.ErrEmptyActiveSet
	}
	xs := mat.NewDense(len(idx), len(cols), nil)
	ys := mat.NewVecDense(len(idx), nil)
	for r, i := range idx {
		for k, j := range cols {
			xs.Set(r, k, x.At(i, j))
		}
		ys.SetVec(r, y[i])
	}
	var qr mat.QR
	qr.Factorize(xs)
	var beta mat.VecDense
	if err := qr.SolveVecTo(&beta, false, ys); err != nil {
		return nil, fmt.Errorf("%w: pairs refit: %v", core.ErrSingularMatrix, err)
	}
	return append([]float64(nil), beta.RawVector().Data...), nil
}

// RefitCovariance is the pairs-bootstrap covariance of the refit coefficients
// on the columns cols, estimated from b resamples of the rows of x
func RefitCovariance(src rand.Source, x mat.Matrix, y []float64, cols []int, b int) (*mat.SymDense, error) {
	n, _ := x.Dims()
	if len(y) != n {
		return nil, core.NewDimensionError("response", len(y), n)
	}
	cov, _, err := Covariance(src, n, b, func(idx []int) ([]float64, error) {
		return Refit(x, y, cols, idx)
	})
	if err != nil {
		return nil, fmt.Errorf("refit covariance: %w", err)
	}
	return cov, nil
}
