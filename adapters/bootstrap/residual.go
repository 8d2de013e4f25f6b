package bootstrap

import (
	"fmt"
	"math/rand/v2"

	"gonum.org/v1/gonum/mat"

	"selinf/domain/core"
)

// ResidualDraw is one residual-bootstrap replicate for testing coefficient j
type ResidualDraw struct {
	// Response is P y + (I - P) r*, with P the projection onto the active
	// columns other than j and r* the resampled refit residuals
	Response []float64

	// Centered is beta*_j - betabar_j for the refit on y_fit + r*
	Centered float64
}

// ResidualSampler resamples refit residuals for one active coordinate
type ResidualSampler struct {
	n      int
	index  int // position of j among the active columns
	qr     mat.QR
	fitted *mat.VecDense
	resid  []float64
	base   *mat.VecDense // P y
	refit  float64

	// least squares on the other active columns; nil when j is the only one
	others *mat.Dense
	qrK    *mat.QR
}

// NewResidualSampler prepares draws for active column j
func NewResidualSampler(x mat.Matrix, y []float64, active []bool, j int) (*ResidualSampler, error) {
	n, p := x.Dims()
	if len(y) != n {
		return nil, core.NewDimensionError("response", len(y), n)
	}
	if len(active) != p {
		return nil, core.NewDimensionError("active partition", len(active), p)
	}
	if j < 0 || j >= p || !active[j] {
		return nil, fmt.Errorf("%w: coordinate %d is not active", core.ErrInvalidInput, j)
	}

	var cols, keep []int
	index := -1
	for k, a := range active {
		if !a {
			continue
		}
		if k == j {
			index = len(cols)
		} else {
			keep = append(keep, k)
		}
		cols = append(cols, k)
	}

	s := &ResidualSampler{n: n, index: index}
	xE := columns(x, cols)
	s.qr.Factorize(xE)
	yv := mat.NewVecDense(n, append([]float64(nil), y...))
	var beta mat.VecDense
	if err := s.qr.SolveVecTo(&beta, false, yv); err != nil {
		return nil, fmt.Errorf("%w: active refit: %v", core.ErrSingularMatrix, err)
	}
	s.refit = beta.AtVec(index)
	s.fitted = mat.NewVecDense(n, nil)
	s.fitted.MulVec(xE, &beta)
	s.resid = make([]float64, n)
	for i := range s.resid {
		s.resid[i] = y[i] - s.fitted.AtVec(i)
	}

	s.base = mat.NewVecDense(n, nil)
	if len(keep) > 0 {
		s.others = columns(x, keep)
		s.qrK = new(mat.QR)
		s.qrK.Factorize(s.others)
		if err := s.project(s.base, yv); err != nil {
			return nil, err
		}
	}
	return s, nil
}

// project writes P v into dst, P = X_K (X_K^T X_K)^-1 X_K^T
func (s *ResidualSampler) project(dst *mat.VecDense, v mat.Vector) error {
	var coef mat.VecDense
	if err := s.qrK.SolveVecTo(&coef, false, v); err != nil {
		return fmt.Errorf("%w: projection: %v", core.ErrSingularMatrix, err)
	}
	dst.MulVec(s.others, &coef)
	return nil
}

// Observed is the refit coefficient betabar_j
func (s *ResidualSampler) Observed() float64 { return s.refit }

// Draw resamples the residuals once
func (s *ResidualSampler) Draw(src rand.Source) (ResidualDraw, error) {
	idx := Indices(src, s.n)
	star := make([]float64, s.n)
	for i, k := range idx {
		star[i] = s.resid[k]
	}
	starVec := mat.NewVecDense(s.n, star)

	response := make([]float64, s.n)
	if s.qrK != nil {
		pr := mat.NewVecDense(s.n, nil)
		if err := s.project(pr, starVec); err != nil {
			return ResidualDraw{}, err
		}
		for i := range response {
			response[i] = s.base.AtVec(i) + star[i] - pr.AtVec(i)
		}
	} else {
		copy(response, star)
	}

	yStar := mat.NewVecDense(s.n, nil)
	yStar.AddVec(s.fitted, starVec)
	var beta mat.VecDense
	if err := s.qr.SolveVecTo(&beta, false, yStar); err != nil {
		return ResidualDraw{}, fmt.Errorf("%w: bootstrap refit: %v", core.ErrSingularMatrix, err)
	}
	return ResidualDraw{Response: response, Centered: beta.AtVec(s.index) - s.refit}, nil
}

func columns(x mat.Matrix, cols []int) *mat.Dense {
	n, _ := x.Dims()
	out := mat.NewDense(n, len(cols), nil)
	for i := 0; i < n; i++ {
		for k, j := range cols {
			out.Set(i, k, x.At(i, j))
		}
	}
	return out
}
