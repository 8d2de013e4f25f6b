package inference

import (
	"fmt"

	"gonum.org/v1/gonum/floats"

	"selinf/domain/core"
	"selinf/internal/conditional"
)

// Statistic maps one retained sampler state to the scalar test statistic
type Statistic interface {
	Evaluate(state []float64) (float64, error)
}

// StatisticFunc adapts a function to Statistic
type StatisticFunc func(state []float64) (float64, error)

func (f StatisticFunc) Evaluate(state []float64) (float64, error) { return f(state) }

// BootstrapNorm is ||Mat*alpha|| read from the alpha block at s
func BootstrapNorm(b *conditional.Bootstrap, s conditional.Slice) Statistic {
	return StatisticFunc(func(state []float64) (float64, error) {
		if s.End > len(state) {
			return 0, core.NewDimensionError("state", len(state), s.End)
		}
		return b.Norm(s.Of(state))
	})
}

// SliceNorm is the Euclidean norm of the state restricted to s
func SliceNorm(s conditional.Slice) Statistic {
	return StatisticFunc(func(state []float64) (float64, error) {
		if s.End > len(state) {
			return 0, core.NewDimensionError("state", len(state), s.End)
		}
		return floats.Norm(s.Of(state), 2), nil
	})
}

// SliceCoordinate reads coordinate i of the slice s
func SliceCoordinate(s conditional.Slice, i int) Statistic {
	return StatisticFunc(func(state []float64) (float64, error) {
		if i < 0 || i >= s.Len() {
			return 0, fmt.Errorf("%w: coordinate %d of a slice of length %d", core.ErrInvalidInput, i, s.Len())
		}
		if s.End > len(state) {
			return 0, core.NewDimensionError("state", len(state), s.End)
		}
		return state[s.Start+i], nil
	})
}

// BootstrapCoordinate is coordinate i of Mat*alpha, the bootstrap refit of
// the i-th active coefficient
func BootstrapCoordinate(b *conditional.Bootstrap, s conditional.Slice, i int) Statistic {
	k, _ := b.Mat().Dims()
	coef := make([]float64, k)
	return StatisticFunc(func(state []float64) (float64, error) {
		if i < 0 || i >= k {
			return 0, fmt.Errorf("%w: coefficient %d of %d", core.ErrInvalidInput, i, k)
		}
		if s.End > len(state) {
			return 0, core.NewDimensionError("state", len(state), s.End)
		}
		if err := b.Coefficients(coef, s.Of(state)); err != nil {
			return 0, err
		}
		return coef[i], nil
	})
}
