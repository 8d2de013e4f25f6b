package conditional

import (
	"fmt"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"

	"selinf/domain/core"
	"selinf/internal/weights"
)

// Bootstrap is the residual-bootstrap parametrization of a view's data block.
// A weight vector alpha over the n observations reconstructs the refit
// coefficients as beta* = Mat*alpha with Mat = pinv(X_E)*diag(residuals),
// and the score moves by H[:,E]*beta*.
type Bootstrap struct {
	n, nActive int
	mat        *mat.Dense // |E| x n
	data       DataMap

	coef *mat.VecDense
}

// NewBootstrap computes pinv(X_E) through a Cholesky factorization of
// X_E^T X_E. An empty active set or a singular restriction is fatal.
func NewBootstrap(design mat.Matrix, active []bool, residuals []float64, hessian mat.Symmetric, nullOffset []float64) (*Bootstrap, error) {
	n, p := design.Dims()
	if len(active) != p {
		return nil, core.NewDimensionError("active partition", len(active), p)
	}
	if len(residuals) != n {
		return nil, core.NewDimensionError("residuals", len(residuals), n)
	}
	if hessian.SymmetricDim() != p {
		return nil, core.NewDimensionError("hessian", hessian.SymmetricDim(), p)
	}
	if len(nullOffset) != p {
		return nil, core.NewDimensionError("null offset", len(nullOffset), p)
	}

	var cols []int
	for j, a := range active {
		if a {
			cols = append(cols, j)
		}
	}
	if len(cols) == 0 {
		return nil, core.ErrEmptyActiveSet
	}
	nE := len(cols)

	xE := mat.NewDense(n, nE, nil)
	for i := 0; i < n; i++ {
		for k, j := range cols {
			xE.Set(i, k, design.At(i, j))
		}
	}

	gram := mat.NewSymDense(nE, nil)
	gram.SymOuterK(1, xE.T())
	var chol mat.Cholesky
	if ok := chol.Factorize(gram); !ok {
		return nil, core.NewSingularError("active design X_E^T X_E")
	}

	// X_E^T diag(residuals)
	rhs := mat.NewDense(nE, n, nil)
	for i := 0; i < n; i++ {
		for k := 0; k < nE; k++ {
			rhs.Set(k, i, xE.At(i, k)*residuals[i])
		}
	}
	m := mat.NewDense(nE, n, nil)
	if err := chol.SolveTo(m, rhs); err != nil {
		return nil, fmt.Errorf("%w: %v", core.NewSingularError("active design X_E^T X_E"), err)
	}

	hE := mat.NewDense(p, nE, nil)
	for i := 0; i < p; i++ {
		for k, j := range cols {
			hE.Set(i, k, hessian.At(i, j))
		}
	}
	q := mat.NewDense(p, n, nil)
	q.Mul(hE, m)

	return &Bootstrap{
		n:       n,
		nActive: nE,
		mat:     m,
		data:    DataMap{Linear: q, Offset: append([]float64(nil), nullOffset...)},
		coef:    mat.NewVecDense(nE, nil),
	}, nil
}

// Data is the map to hand to a ViewInput
func (b *Bootstrap) Data() DataMap { return b.data }

// Mat returns pinv(X_E)*diag(residuals)
func (b *Bootstrap) Mat() mat.Matrix { return b.mat }

// Dim is the length of the alpha block
func (b *Bootstrap) Dim() int { return b.n }

// Coefficients writes beta* = Mat*alpha into dst
func (b *Bootstrap) Coefficients(dst, alpha []float64) error {
	if len(alpha) != b.n {
		return core.NewDimensionError("alpha", len(alpha), b.n)
	}
	if len(dst) != b.nActive {
		return core.NewDimensionError("coefficients", len(dst), b.nActive)
	}
	b.coef.MulVec(b.mat, mat.NewVecDense(b.n, alpha))
	copy(dst, b.coef.RawVector().Data)
	return nil
}

// Norm is ||Mat*alpha||, the bootstrap statistic of the refit coefficients.
// It uses a scratch vector and is not safe for concurrent use.
func (b *Bootstrap) Norm(alpha []float64) (float64, error) {
	if len(alpha) != b.n {
		return 0, core.NewDimensionError("alpha", len(alpha), b.n)
	}
	b.coef.MulVec(b.mat, mat.NewVecDense(b.n, alpha))
	return floats.Norm(b.coef.RawVector().Data, 2), nil
}

// Prior resolves the weight law of the alpha block. Neutral weights make the
// refit Mat*alpha Gaussian with the given covariance of the refit
// coefficients, usually a pairs-bootstrap estimate; other families ignore it.
func (b *Bootstrap) Prior(family weights.Family, covariance mat.Symmetric) (weights.Law, error) {
	if family != weights.Neutral {
		return weights.New(family)
	}
	if covariance == nil {
		return nil, fmt.Errorf("%w: neutral weights need the refit covariance", core.ErrInvalidInput)
	}
	if covariance.SymmetricDim() != b.nActive {
		return nil, core.NewDimensionError("refit covariance", covariance.SymmetricDim(), b.nActive)
	}
	return weights.NewNeutral(b.mat, covariance)
}
