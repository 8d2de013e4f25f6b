package inference

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"

	"selinf/domain/core"
	"selinf/domain/selection"
	"selinf/internal/discrete"
	"selinf/internal/randomization"
)

// SelectionProbability is the chance that a randomized procedure reproduces a
// polyhedral selection event {A y + omega <= b}: the product over rows of
// G(b_i - (A y)_i), with G the randomization CDF.
func SelectionProbability(law randomization.Law, a mat.Matrix, b, y []float64) (float64, error) {
	rows, cols := a.Dims()
	if len(b) != rows {
		return 0, core.NewDimensionError("polyhedron offset", len(b), rows)
	}
	if len(y) != cols {
		return 0, core.NewDimensionError("response", len(y), cols)
	}
	var ay mat.VecDense
	ay.MulVec(a, mat.NewVecDense(cols, append([]float64(nil), y...)))

	logProb := 0.0
	for i := 0; i < rows; i++ {
		c := law.CDF(b[i] - ay.AtVec(i))
		if c <= 0 {
			return 0, nil
		}
		logProb += math.Log(c)
	}
	return math.Exp(logProb), nil
}

// Weighted reads the observed statistic off bootstrap draws weighted by
// their selection probabilities. It fails with ErrEmptySample when no draw
// could have produced the observed selection.
func Weighted(target core.TargetKey, draws, selectionProb []float64, tail selection.Tail, observed float64) (*selection.Result, error) {
	if len(draws) > 0 && len(selectionProb) == len(draws) && floats.Sum(selectionProb) == 0 {
		return nil, fmt.Errorf("%w: no bootstrap draw reproduces the selection", core.ErrEmptySample)
	}
	family, err := discrete.New(draws, selectionProb)
	if err != nil {
		return nil, err
	}
	p, err := family.PValue(tail, observed)
	if err != nil {
		return nil, err
	}
	summary, err := family.Summary()
	if err != nil {
		return nil, err
	}
	return &selection.Result{
		Target:   target,
		Status:   selection.StatusComputed,
		Tail:     tail,
		PValue:   p,
		Observed: observed,
		Retained: len(draws),
		Sample:   summary,
	}, nil
}
