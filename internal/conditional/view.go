// Package conditional builds the log-density gradient of the joint sampler
// state for one or more randomized M-estimator views, and the projection that
// keeps the state on the selection event.
//
// A view sees the sampler state through two slices: a data block d shared
// with other views, and its own optimization variables (active coefficients
// followed by the inactive subgradient "cube"). The randomization it implies is
//
//	omega = -(Linear*d + Offset) + (H + eps*I)[:,E]*beta_E + lambda*z
//
// where z carries the fitted signs on the active set and the cube elsewhere.
package conditional

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/mat"

	"selinf/domain/core"
	"selinf/internal/randomization"
)

// cubeTolerance absorbs solver round-off in observed subgradients
const cubeTolerance = 1e-8

// DataMap is the affine map from a data block to the score of a view:
// score(d) = Linear*d + Offset
type DataMap struct {
	Linear mat.Matrix // p x k, k is the dimension of the data block
	Offset []float64  // length p
}

// ViewInput carries the summary of one converged randomized fit
type ViewInput struct {
	Name string

	// Active marks the selected coordinates. Inactive is optional; when given
	// it must be the exact complement of Active.
	Active   []bool
	Inactive []bool

	Signs       []float64 // +1 or -1 per active coordinate, in index order
	Penalty     []float64 // one value broadcast to all p, or one per coordinate
	Epsilon     float64   // ridge term
	Hessian     mat.Symmetric
	ObservedOpt []float64 // active coefficients followed by the inactive cube
	Law         randomization.Law
	Data        DataMap
}

// View is immutable after construction apart from its scratch buffers. A View
// must not be evaluated by two samplers at once; concurrent replicates each
// build their own.
type View struct {
	name     string
	p        int
	active   []int
	inactive []int
	signs    []float64
	penalty  []float64 // length p
	law      randomization.Law
	linear   mat.Matrix
	offset   []float64
	dataDim  int

	// (H + eps*I)[:,E], p x |E|
	restricted *mat.Dense
	observed   []float64

	omega []float64
	deriv []float64
	score *mat.VecDense
	back  *mat.VecDense
	optE  *mat.VecDense
}

// NewView validates a fit summary and precomputes the restricted hessian
func NewView(in ViewInput) (*View, error) {
	if in.Hessian == nil {
		return nil, fmt.Errorf("%w: view %q has no hessian", core.ErrInvalidInput, in.Name)
	}
	if in.Law == nil {
		return nil, fmt.Errorf("%w: view %q has no randomization law", core.ErrInvalidInput, in.Name)
	}
	p := in.Hessian.SymmetricDim()
	if len(in.Active) != p {
		return nil, core.NewDimensionError("active partition", len(in.Active), p)
	}
	if in.Inactive != nil {
		if len(in.Inactive) != p {
			return nil, core.NewDimensionError("inactive partition", len(in.Inactive), p)
		}
		for i := range in.Active {
			if in.Active[i] == in.Inactive[i] {
				return nil, fmt.Errorf("%w: coordinate %d", core.ErrInvalidPartition, i)
			}
		}
	}

	v := &View{name: in.Name, p: p, law: in.Law}
	for i, a := range in.Active {
		if a {
			v.active = append(v.active, i)
		} else {
			v.inactive = append(v.inactive, i)
		}
	}

	if len(in.Signs) != len(v.active) {
		return nil, core.NewDimensionError("signs", len(in.Signs), len(v.active))
	}
	for j, s := range in.Signs {
		if s != 1 && s != -1 {
			return nil, fmt.Errorf("%w: signs[%d] = %v", core.ErrInvalidSigns, j, s)
		}
	}
	v.signs = append([]float64(nil), in.Signs...)

	penalty, err := broadcastPenalty(in.Penalty, p)
	if err != nil {
		return nil, err
	}
	v.penalty = penalty

	if !(in.Epsilon >= 0) {
		return nil, fmt.Errorf("%w: ridge term must be non-negative, got %v", core.ErrInvalidInput, in.Epsilon)
	}

	if len(in.ObservedOpt) != p {
		return nil, core.NewDimensionError("observed optimization vector", len(in.ObservedOpt), p)
	}
	for k := len(v.active); k < p; k++ {
		if math.Abs(in.ObservedOpt[k]) > 1+cubeTolerance {
			return nil, fmt.Errorf("%w: observed cube entry %d = %v outside [-1,1]", core.ErrInvalidInput, k, in.ObservedOpt[k])
		}
	}
	v.observed = append([]float64(nil), in.ObservedOpt...)

	if in.Data.Linear == nil {
		return nil, fmt.Errorf("%w: view %q has no data map", core.ErrInvalidInput, in.Name)
	}
	rows, cols := in.Data.Linear.Dims()
	if rows != p {
		return nil, core.NewDimensionError("data map rows", rows, p)
	}
	if len(in.Data.Offset) != p {
		return nil, core.NewDimensionError("data offset", len(in.Data.Offset), p)
	}
	v.linear = in.Data.Linear
	v.offset = append([]float64(nil), in.Data.Offset...)
	v.dataDim = cols

	nE := len(v.active)
	if nE > 0 {
		v.restricted = mat.NewDense(p, nE, nil)
		for i := 0; i < p; i++ {
			for j, e := range v.active {
				h := in.Hessian.At(i, e)
				if i == e {
					h += in.Epsilon
				}
				v.restricted.Set(i, j, h)
			}
		}
		v.optE = mat.NewVecDense(nE, nil)
	}

	v.omega = make([]float64, p)
	v.deriv = make([]float64, p)
	v.score = mat.NewVecDense(p, nil)
	v.back = mat.NewVecDense(cols, nil)
	return v, nil
}

func broadcastPenalty(penalty []float64, p int) ([]float64, error) {
	out := make([]float64, p)
	switch len(penalty) {
	case 1:
		for i := range out {
			out[i] = penalty[0]
		}
	case p:
		copy(out, penalty)
	default:
		return nil, core.NewDimensionError("penalty", len(penalty), p)
	}
	for i, l := range out {
		if !(l >= 0) || math.IsInf(l, 0) {
			return nil, fmt.Errorf("%w: penalty[%d] = %v", core.ErrInvalidInput, i, l)
		}
	}
	return out, nil
}

// Name identifies the view in logs
func (v *View) Name() string { return v.name }

// OptDim is the length of the view's optimization slice (always p)
func (v *View) OptDim() int { return v.p }

// ActiveCount is |E|
func (v *View) ActiveCount() int { return len(v.active) }

// DataDim is the length of the data block the view reads
func (v *View) DataDim() int { return v.dataDim }

// Active returns the selected coordinates in index order
func (v *View) Active() []int { return append([]int(nil), v.active...) }

// ObservedOpt returns a copy of the observed optimization vector
func (v *View) ObservedOpt() []float64 { return append([]float64(nil), v.observed...) }

// Omega writes the implied randomization into dst
func (v *View) Omega(dst, data, opt []float64) error {
	if len(dst) != v.p {
		return core.NewDimensionError("omega", len(dst), v.p)
	}
	if len(data) != v.dataDim {
		return core.NewDimensionError("data block", len(data), v.dataDim)
	}
	if len(opt) != v.p {
		return core.NewDimensionError("optimization slice", len(opt), v.p)
	}

	v.score.MulVec(v.linear, mat.NewVecDense(len(data), data))
	for i := range dst {
		dst[i] = -(v.score.AtVec(i) + v.offset[i])
	}

	nE := len(v.active)
	if nE > 0 {
		for j := 0; j < nE; j++ {
			v.optE.SetVec(j, opt[j])
		}
		for i := 0; i < v.p; i++ {
			dst[i] += mat.Dot(v.restricted.RowView(i), v.optE)
		}
	}
	for j, e := range v.active {
		dst[e] += v.penalty[e] * v.signs[j]
	}
	for k, i := range v.inactive {
		dst[i] += v.penalty[i] * opt[nE+k]
	}
	return nil
}

// Accumulate adds the view's contribution to the gradient of log g(omega):
// Linear^T r into gradData, -A_E^T r into the active part of gradOpt and
// -lambda*r on the inactive part, where r = -(log g)'(omega).
func (v *View) Accumulate(gradData, gradOpt, data, opt []float64) error {
	if len(gradData) != v.dataDim {
		return core.NewDimensionError("data gradient", len(gradData), v.dataDim)
	}
	if len(gradOpt) != v.p {
		return core.NewDimensionError("optimization gradient", len(gradOpt), v.p)
	}
	if err := v.Omega(v.omega, data, opt); err != nil {
		return err
	}
	for i, w := range v.omega {
		if math.IsNaN(w) || math.IsInf(w, 0) {
			return fmt.Errorf("%w: view %q omega[%d] = %v", core.ErrNonFinite, v.name, i, w)
		}
	}
	v.law.Derivative(v.deriv, v.omega)

	r := mat.NewVecDense(v.p, v.deriv)
	v.back.MulVec(v.linear.T(), r)
	for k := range gradData {
		gradData[k] += v.back.AtVec(k)
	}

	nE := len(v.active)
	if nE > 0 {
		v.optE.MulVec(v.restricted.T(), r)
		for j := 0; j < nE; j++ {
			gradOpt[j] -= v.optE.AtVec(j)
		}
	}
	for k, i := range v.inactive {
		gradOpt[nE+k] -= v.penalty[i] * v.deriv[i]
	}
	return nil
}

// Project keeps the cube in [-1,1] and every active coefficient on the
// half-line of its fitted sign. A coefficient that crossed zero is set to 0.
func (v *View) Project(opt []float64) {
	nE := len(v.active)
	for j := 0; j < nE; j++ {
		if opt[j]*v.signs[j] < 0 {
			opt[j] = 0
		}
	}
	for k := nE; k < len(opt); k++ {
		switch {
		case opt[k] > 1:
			opt[k] = 1
		case opt[k] < -1:
			opt[k] = -1
		}
	}
}
