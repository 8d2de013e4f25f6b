package lasso

import (
	"fmt"

	"gonum.org/v1/gonum/mat"

	"selinf/domain/core"
)

// Polyhedron returns the affine region {A y <= b} of responses for which a
// (non-randomized) lasso with penalty lambda selects active with signs.
// Rows are stacked as: inactive upper bounds, inactive lower bounds, active
// sign constraints.
func Polyhedron(x mat.Matrix, active []bool, signs []float64, lambda float64) (*mat.Dense, []float64, error) {
	n, p := x.Dims()
	if len(active) != p {
		return nil, nil, core.NewDimensionError("active partition", len(active), p)
	}
	if !(lambda > 0) {
		return nil, nil, fmt.Errorf("%w: lambda must be positive, got %v", core.ErrInvalidInput, lambda)
	}
	var act, inact []int
	for j, a := range active {
		if a {
			act = append(act, j)
		} else {
			inact = append(inact, j)
		}
	}
	if len(act) == 0 {
		return nil, nil, core.ErrEmptyActiveSet
	}
	if len(signs) != len(act) {
		return nil, nil, core.NewDimensionError("signs", len(signs), len(act))
	}
	nE, nI := len(act), len(inact)

	xE := columns(x, act)
	gram := mat.NewSymDense(nE, nil)
	gram.SymOuterK(1, xE.T())
	var chol mat.Cholesky
	if ok := chol.Factorize(gram); !ok {
		return nil, nil, core.NewSingularError("active design X_E^T X_E")
	}

	// pinv(X_E) = (X_E^T X_E)^-1 X_E^T
	pinv := mat.NewDense(nE, n, nil)
	if err := chol.SolveTo(pinv, xE.T()); err != nil {
		return nil, nil, fmt.Errorf("%w: %v", core.NewSingularError("active design X_E^T X_E"), err)
	}
	s := mat.NewVecDense(nE, append([]float64(nil), signs...))
	// (X_E^T X_E)^-1 s
	gs := mat.NewVecDense(nE, nil)
	if err := chol.SolveVecTo(gs, s); err != nil {
		return nil, nil, fmt.Errorf("%w: %v", core.NewSingularError("active design X_E^T X_E"), err)
	}

	a := mat.NewDense(2*nI+nE, n, nil)
	b := make([]float64, 2*nI+nE)

	if nI > 0 {
		xI := columns(x, inact)
		// X_{-E}^T (I - P_E) / lambda
		var proj mat.Dense
		proj.Mul(xE, pinv)
		resid := mat.NewDense(n, n, nil)
		for i := 0; i < n; i++ {
			resid.Set(i, i, 1)
		}
		resid.Sub(resid, &proj)
		var a0 mat.Dense
		a0.Mul(xI.T(), resid)
		a0.Scale(1/lambda, &a0)

		// X_{-E}^T pinv(X_E^T) s = X_{-E}^T X_E (X_E^T X_E)^-1 s
		var xEgs, cross mat.VecDense
		xEgs.MulVec(xE, gs)
		cross.MulVec(xI.T(), &xEgs)

		for k := 0; k < nI; k++ {
			for i := 0; i < n; i++ {
				a.Set(k, i, a0.At(k, i))
				a.Set(nI+k, i, -a0.At(k, i))
			}
			b[k] = 1 - cross.AtVec(k)
			b[nI+k] = 1 + cross.AtVec(k)
		}
	}

	for k := 0; k < nE; k++ {
		for i := 0; i < n; i++ {
			a.Set(2*nI+k, i, -signs[k]*pinv.At(k, i))
		}
		b[2*nI+k] = -lambda * signs[k] * gs.AtVec(k)
	}
	return a, b, nil
}
