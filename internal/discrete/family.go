// Package discrete implements the empirical distribution family built from a
// weighted Monte-Carlo sample of a scalar statistic. The family is an
// exponential family in its natural parameter theta: the mass of support
// point t is proportional to w(t) * exp(theta * t). The p-value driver only
// queries it at theta = 0.
package discrete

import (
	"fmt"
	"math"
	"sort"

	"github.com/montanaflynn/stats"
	"gonum.org/v1/gonum/floats"

	"selinf/domain/core"
	"selinf/domain/selection"
)

// Family is an immutable weighted multiset of scalar support points
type Family struct {
	points  []float64 // sorted ascending
	weights []float64 // normalized, aligned with points

	// untilted tail masses: below[k] is the mass of points[:k] and above[k]
	// the mass of points[k:], each summed from its own small end
	below, above []float64
}

// New builds a family from paired support points and weights. Weights must be
// non-negative with a positive total; they are normalized internally.
func New(points, weights []float64) (*Family, error) {
	if len(points) == 0 {
		return nil, core.ErrEmptySample
	}
	if len(weights) != len(points) {
		return nil, core.NewDimensionError("weights", len(weights), len(points))
	}

	type pair struct{ t, w float64 }
	pairs := make([]pair, len(points))
	total := 0.0
	for i, t := range points {
		w := weights[i]
		if w < 0 || math.IsNaN(w) {
			return nil, fmt.Errorf("%w: weights[%d] = %v", core.ErrNegativeWeight, i, w)
		}
		if math.IsNaN(t) {
			return nil, fmt.Errorf("%w: points[%d]", core.ErrNonFinite, i)
		}
		pairs[i] = pair{t, w}
		total += w
	}
	if !(total > 0) || math.IsInf(total, 0) {
		return nil, fmt.Errorf("%w: total weight %v", core.ErrInvalidInput, total)
	}

	sort.SliceStable(pairs, func(i, j int) bool { return pairs[i].t < pairs[j].t })

	f := &Family{
		points:  make([]float64, len(pairs)),
		weights: make([]float64, len(pairs)),
	}
	for i, p := range pairs {
		f.points[i] = p.t
		f.weights[i] = p.w / total
	}
	f.below, f.above = massTables(f.weights)
	return f, nil
}

// massTables accumulates both tails of w. The full mass is pinned to exactly
// 1 so a statistic beyond the support reads a tail of exactly 0 or 1.
func massTables(w []float64) (below, above []float64) {
	n := len(w)
	below = make([]float64, n+1)
	above = make([]float64, n+1)
	for i, v := range w {
		below[i+1] = below[i] + v
	}
	for i := n - 1; i >= 0; i-- {
		above[i] = above[i+1] + w[i]
	}
	below[n], above[0] = 1, 1
	for i := range below {
		below[i] = clamp01(below[i])
		above[i] = clamp01(above[i])
	}
	return below, above
}

// Uniform builds a family with equal weight on every sampled value
func Uniform(points []float64) (*Family, error) {
	w := make([]float64, len(points))
	for i := range w {
		w[i] = 1
	}
	return New(points, w)
}

// Len is the number of support points
func (f *Family) Len() int { return len(f.points) }

// Support returns a copy of the sorted support points
func (f *Family) Support() []float64 {
	out := make([]float64, len(f.points))
	copy(out, f.points)
	return out
}

// tilted returns the normalized weights of the family at theta.
// The exponent is shifted by its maximum so large |theta*t| cannot overflow.
func (f *Family) tilted(theta float64) []float64 {
	if theta == 0 {
		return f.weights
	}
	logw := make([]float64, len(f.points))
	for i, t := range f.points {
		logw[i] = math.Log(f.weights[i]) + theta*t
	}
	norm := floats.LogSumExp(logw)
	out := make([]float64, len(logw))
	for i, lw := range logw {
		out[i] = math.Exp(lw - norm)
	}
	return out
}

// split is the first index with points[i] > x
func (f *Family) split(x float64) int {
	return sort.Search(len(f.points), func(i int) bool { return f.points[i] > x })
}

// CDF returns the mass of support points <= x under the family at theta.
// Points equal to x are included (closed lower tail).
func (f *Family) CDF(theta, x float64) float64 {
	k := f.split(x)
	if theta == 0 {
		return f.below[k]
	}
	below, _ := massTables(f.tilted(theta))
	return below[k]
}

// CCDF returns the mass of support points > x under the family at theta.
// The upper tail is summed on its own instead of returning 1 - CDF, so tiny
// tail probabilities keep their precision.
func (f *Family) CCDF(theta, x float64) float64 {
	k := f.split(x)
	if theta == 0 {
		return f.above[k]
	}
	_, above := massTables(f.tilted(theta))
	return above[k]
}

// PValue reads the requested tail at the observed statistic, untilted
func (f *Family) PValue(tail selection.Tail, observed float64) (float64, error) {
	switch tail {
	case selection.TailLower:
		return f.CDF(0, observed), nil
	case selection.TailUpper:
		return f.CCDF(0, observed), nil
	case selection.TailTwoSided:
		return selection.TwoSided(f.CDF(0, observed)), nil
	}
	return math.NaN(), fmt.Errorf("%w: unknown tail %q", core.ErrInvalidInput, tail)
}

// Mean is the expectation of the statistic under the family at theta
func (f *Family) Mean(theta float64) float64 {
	return floats.Dot(f.tilted(theta), f.points)
}

// Summary describes the support for external diagnostics. Quantiles ignore
// the weights, which is exact for the uniform families the driver builds.
func (f *Family) Summary() (selection.SampleSummary, error) {
	sd, err := stats.StandardDeviationSample(f.points)
	if err != nil || math.IsNaN(sd) {
		// a single support point has no spread
		sd = 0
	}
	median, err := stats.Median(f.points)
	if err != nil {
		return selection.SampleSummary{}, fmt.Errorf("sample median: %w", err)
	}
	lo, hi := f.points[0], f.points[len(f.points)-1]
	return selection.SampleSummary{
		Size:   len(f.points),
		Mean:   f.Mean(0),
		StdDev: sd,
		Min:    lo,
		Max:    hi,
		Q05:    percentile(f.points, 5, lo),
		Median: median,
		Q95:    percentile(f.points, 95, hi),
	}, nil
}

// percentile falls back to the sample extreme when the sample is too small
// for the requested rank
func percentile(data []float64, p, fallback float64) float64 {
	q, err := stats.Percentile(data, p)
	if err != nil || math.IsNaN(q) {
		return fallback
	}
	return q
}

func clamp01(p float64) float64 {
	if p < 0 {
		return 0
	}
	if p > 1 {
		return 1
	}
	return p
}
