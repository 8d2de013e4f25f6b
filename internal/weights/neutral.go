package weights

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/mat"

	"selinf/domain/core"
)

// NeutralLaw is the Gaussian-conjugate prior -1/2 (Lx)^T P (Lx) on a block,
// where P is the inverse of a supplied covariance. With a nil linear map it is
// a plain Gaussian prior on the block itself, which is how target blocks are
// given their N(0, Sigma) reference law.
//
// A NeutralLaw keeps scratch vectors and must not be shared between
// concurrently running samplers.
type NeutralLaw struct {
	linear    mat.Matrix // k x n, nil means identity
	precision *mat.SymDense
	dim       int

	mapped *mat.VecDense
	scaled *mat.VecDense
	back   *mat.VecDense
}

// NewNeutral inverts covariance with a Cholesky factorization. A covariance that
// is not positive definite is a fatal numerical error; no repair is attempted.
func NewNeutral(linear mat.Matrix, covariance mat.Symmetric) (*NeutralLaw, error) {
	k, _ := covariance.Dims()
	if k == 0 {
		return nil, fmt.Errorf("%w: empty covariance", core.ErrInvalidInput)
	}
	n := k
	if linear != nil {
		rows, cols := linear.Dims()
		if rows != k {
			return nil, core.NewDimensionError("neutral linear map rows", rows, k)
		}
		n = cols
	}

	var chol mat.Cholesky
	if ok := chol.Factorize(covariance); !ok {
		return nil, fmt.Errorf("%w: neutral weight covariance", core.ErrNotPositiveDefinite)
	}
	precision := mat.NewSymDense(k, nil)
	if err := chol.InverseTo(precision); err != nil {
		return nil, fmt.Errorf("%w: neutral weight covariance: %v", core.ErrSingularMatrix, err)
	}

	return &NeutralLaw{
		linear:    linear,
		precision: precision,
		dim:       n,
		mapped:    mat.NewVecDense(k, nil),
		scaled:    mat.NewVecDense(k, nil),
		back:      mat.NewVecDense(n, nil),
	}, nil
}

func (l *NeutralLaw) Family() Family        { return Neutral }
func (l *NeutralLaw) Lower() float64        { return math.Inf(-1) }
func (l *NeutralLaw) Initial(dst []float64) { zero(dst) }

// Dim is the length of the block the law applies to
func (l *NeutralLaw) Dim() int { return l.dim }

// Precision returns the inverse covariance
func (l *NeutralLaw) Precision() mat.Symmetric { return l.precision }

// Gradient adds -L^T P L x into dst
func (l *NeutralLaw) Gradient(dst, x []float64) error {
	if len(x) != l.dim {
		return core.NewDimensionError("neutral block", len(x), l.dim)
	}
	if len(dst) != l.dim {
		return core.NewDimensionError("gradient", len(dst), l.dim)
	}
	xv := mat.NewVecDense(l.dim, x)
	if l.linear == nil {
		l.scaled.MulVec(l.precision, xv)
		for i := range dst {
			dst[i] -= l.scaled.AtVec(i)
		}
		return nil
	}
	l.mapped.MulVec(l.linear, xv)
	l.scaled.MulVec(l.precision, l.mapped)
	l.back.MulVec(l.linear.T(), l.scaled)
	for i := range dst {
		dst[i] -= l.back.AtVec(i)
	}
	return nil
}
