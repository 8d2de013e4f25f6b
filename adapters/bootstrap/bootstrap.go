// Package bootstrap provides the resampling utilities around a selective
// test: index resampling, residual bootstrap draws of a refit coefficient
// and bootstrap estimates of target and score covariances.
package bootstrap

import (
	"fmt"
	"math/rand/v2"

	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat"

	"selinf/domain/core"
)

// Indices draws n observation indices with replacement
func Indices(src rand.Source, n int) []int {
	r := rand.New(src)
	out := make([]int, n)
	for i := range out {
		out[i] = r.IntN(n)
	}
	return out
}

// Statistic evaluates a vector statistic on a resampled set of observations
type Statistic func(indices []int) ([]float64, error)

// Covariance estimates Cov(target) and Cov(cross_k, target) for every cross
// statistic from b joint bootstrap resamples. Each returned cross covariance
// is len(cross_k) x len(target).
func Covariance(src rand.Source, n, b int, target Statistic, cross ...Statistic) (*mat.SymDense, []*mat.Dense, error) {
	if b < 2 {
		return nil, nil, fmt.Errorf("%w: need at least 2 bootstrap samples, got %d", core.ErrInvalidInput, b)
	}
	if n <= 0 {
		return nil, nil, fmt.Errorf("%w: no observations", core.ErrInvalidInput)
	}

	stats := append([]Statistic{target}, cross...)
	var widths []int
	var rows [][]float64
	for s := 0; s < b; s++ {
		idx := Indices(src, n)
		var row []float64
		for k, f := range stats {
			v, err := f(idx)
			if err != nil {
				return nil, nil, fmt.Errorf("bootstrap sample %d: %w", s, err)
			}
			if s == 0 {
				widths = append(widths, len(v))
			} else if len(v) != widths[k] {
				return nil, nil, core.NewDimensionError(fmt.Sprintf("statistic %d", k), len(v), widths[k])
			}
			row = append(row, v...)
		}
		rows = append(rows, row)
	}

	total := 0
	for k, w := range widths {
		if w == 0 {
			return nil, nil, fmt.Errorf("%w: statistic %d is empty", core.ErrInvalidInput, k)
		}
		total += w
	}
	data := mat.NewDense(b, total, nil)
	for s, row := range rows {
		data.SetRow(s, row)
	}
	var joint mat.SymDense
	stat.CovarianceMatrix(&joint, data, nil)

	k := widths[0]
	targetCov := mat.NewSymDense(k, nil)
	for i := 0; i < k; i++ {
		for j := i; j < k; j++ {
			targetCov.SetSym(i, j, joint.At(i, j))
		}
	}

	var crossCov []*mat.Dense
	offset := k
	for _, w := range widths[1:] {
		c := mat.NewDense(w, k, nil)
		for i := 0; i < w; i++ {
			for j := 0; j < k; j++ {
				c.Set(i, j, joint.At(offset+i, j))
			}
		}
		crossCov = append(crossCov, c)
		offset += w
	}
	return targetCov, crossCov, nil
}
