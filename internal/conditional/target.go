package conditional

import (
	"fmt"

	"gonum.org/v1/gonum/mat"

	"selinf/domain/core"
)

// ConditionOnTarget linearizes a view's score around a Gaussian target:
//
//	score ~ A*target + b,  A = C * Sigma^-1,  b = observedScore - A*targetObserved
//
// where C is the bootstrap cross-covariance between score and target and
// Sigma the target covariance. Several views conditioned on the same target
// share one target block and their contributions to it add up.
func ConditionOnTarget(crossCov mat.Matrix, targetCov mat.Symmetric, targetObserved, observedScore []float64) (DataMap, error) {
	p, k := crossCov.Dims()
	if targetCov.SymmetricDim() != k {
		return DataMap{}, core.NewDimensionError("target covariance", targetCov.SymmetricDim(), k)
	}
	if len(targetObserved) != k {
		return DataMap{}, core.NewDimensionError("observed target", len(targetObserved), k)
	}
	if len(observedScore) != p {
		return DataMap{}, core.NewDimensionError("observed score", len(observedScore), p)
	}

	var chol mat.Cholesky
	if ok := chol.Factorize(targetCov); !ok {
		return DataMap{}, fmt.Errorf("%w: target covariance", core.ErrNotPositiveDefinite)
	}
	// A^T = Sigma^-1 C^T since Sigma is symmetric
	at := mat.NewDense(k, p, nil)
	if err := chol.SolveTo(at, crossCov.T()); err != nil {
		return DataMap{}, fmt.Errorf("%w: %v", core.NewSingularError("target covariance"), err)
	}
	a := mat.DenseCopyOf(at.T())

	fitted := mat.NewVecDense(p, nil)
	fitted.MulVec(a, mat.NewVecDense(k, append([]float64(nil), targetObserved...)))
	offset := make([]float64, p)
	for i := range offset {
		offset[i] = observedScore[i] - fitted.AtVec(i)
	}
	return DataMap{Linear: a, Offset: offset}, nil
}
