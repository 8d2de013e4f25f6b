// Package lasso implements a randomized lasso solved by cyclic coordinate
// descent, and converts a converged fit into the view summary consumed by
// the conditional sampler.
//
// The objective is
//
//	1/2 ||y - X beta||^2 + eps/2 ||beta||^2 - omega^T beta + sum_j lambda_j |beta_j|
//
// where omega is a draw from the randomization law.
package lasso

import (
	"fmt"
	"math"
	"math/rand/v2"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat/distuv"

	"selinf/domain/core"
	"selinf/internal/conditional"
	"selinf/internal/randomization"
)

// Config holds solver parameters
type Config struct {
	Penalty []float64 // one value broadcast to all p, or one per coordinate
	Epsilon float64   // ridge term
	MaxIter int       // maximum number of full sweeps
	Tol     float64   // convergence tolerance on the largest coefficient change
}

// NewDefaultConfig returns recommended solver parameters for penalty lambda
func NewDefaultConfig(lambda float64) Config {
	return Config{
		Penalty: []float64{lambda},
		Epsilon: 0,
		MaxIter: 1000,
		Tol:     1e-10,
	}
}

// Fit is a converged randomized lasso
type Fit struct {
	Beta   []float64
	Omega  []float64
	Active []bool
	Signs  []float64 // fitted signs of the active coefficients, in index order

	Penalty []float64 // length p
	Epsilon float64

	// Subgradient is the lasso subgradient divided by the penalty; on the
	// inactive coordinates it is the observed cube
	Subgradient []float64

	Hessian *mat.SymDense // X^T X

	// RefitBeta is the least-squares refit on the active columns and
	// Residuals its residuals y - X_E RefitBeta
	RefitBeta []float64
	Residuals []float64

	// NullOffset is X^T Residuals, the score of the refit residuals
	NullOffset []float64

	Iterations int
	design     mat.Matrix
}

// Solve minimizes the randomized objective for a fixed omega
func Solve(x mat.Matrix, y []float64, cfg Config, omega []float64) (*Fit, error) {
	n, p := x.Dims()
	if len(y) != n {
		return nil, core.NewDimensionError("response", len(y), n)
	}
	if len(omega) != p {
		return nil, core.NewDimensionError("randomization", len(omega), p)
	}
	penalty, err := broadcast(cfg.Penalty, p)
	if err != nil {
		return nil, err
	}
	if cfg.Epsilon < 0 {
		return nil, fmt.Errorf("%w: ridge term %v", core.ErrInvalidInput, cfg.Epsilon)
	}
	maxIter := cfg.MaxIter
	if maxIter <= 0 {
		maxIter = 1000
	}

	xd := mat.DenseCopyOf(x)
	norms := make([]float64, p)
	for j := 0; j < p; j++ {
		col := mat.Col(nil, j, xd)
		norms[j] = floats.Dot(col, col)
	}

	beta := make([]float64, p)
	resid := append([]float64(nil), y...)
	iter := 0
	for ; iter < maxIter; iter++ {
		maxDelta := 0.0
		for j := 0; j < p; j++ {
			old := beta[j]
			rho := omega[j] + norms[j]*old
			for i := 0; i < n; i++ {
				rho += xd.At(i, j) * resid[i]
			}
			denom := norms[j] + cfg.Epsilon
			if denom <= 0 {
				return nil, fmt.Errorf("%w: column %d is zero and eps = 0", core.ErrSingularMatrix, j)
			}
			updated := softThreshold(rho, penalty[j]) / denom
			if delta := updated - old; delta != 0 {
				for i := 0; i < n; i++ {
					resid[i] -= xd.At(i, j) * delta
				}
				beta[j] = updated
				maxDelta = math.Max(maxDelta, math.Abs(delta))
			}
		}
		if maxDelta < cfg.Tol {
			iter++
			break
		}
	}

	fit := &Fit{
		Beta:       beta,
		Omega:      append([]float64(nil), omega...),
		Active:     make([]bool, p),
		Penalty:    penalty,
		Epsilon:    cfg.Epsilon,
		Iterations: iter,
		design:     xd,
	}
	for j, b := range beta {
		if b != 0 {
			fit.Active[j] = true
			fit.Signs = append(fit.Signs, math.Copysign(1, b))
		}
	}

	// u = (X^T r - eps*beta + omega) / lambda
	score := mat.NewVecDense(p, nil)
	score.MulVec(xd.T(), mat.NewVecDense(n, resid))
	fit.Subgradient = make([]float64, p)
	for j := 0; j < p; j++ {
		if fit.Active[j] {
			fit.Subgradient[j] = math.Copysign(1, beta[j])
			continue
		}
		if penalty[j] == 0 {
			continue
		}
		u := (score.AtVec(j) - cfg.Epsilon*beta[j] + omega[j]) / penalty[j]
		fit.Subgradient[j] = math.Max(-1, math.Min(1, u))
	}

	fit.Hessian = mat.NewSymDense(p, nil)
	fit.Hessian.SymOuterK(1, xd.T())

	if err := fit.refit(y); err != nil {
		return nil, err
	}
	return fit, nil
}

// Randomized draws omega from law and solves
func Randomized(x mat.Matrix, y []float64, cfg Config, law randomization.Law, src rand.Source) (*Fit, error) {
	_, p := x.Dims()
	omega := make([]float64, p)
	law.Sample(omega, src)
	return Solve(x, y, cfg, omega)
}

// refit computes the least-squares coefficients on the active columns. An
// empty active set leaves the refit empty and the residuals equal to y.
func (f *Fit) refit(y []float64) error {
	n, p := f.design.Dims()
	f.Residuals = append([]float64(nil), y...)
	cols := f.ActiveIndices()
	if len(cols) > 0 {
		xE := columns(f.design, cols)
		var qr mat.QR
		qr.Factorize(xE)
		var beta mat.VecDense
		if err := qr.SolveVecTo(&beta, false, mat.NewVecDense(n, append([]float64(nil), y...))); err != nil {
			return fmt.Errorf("%w: active refit: %v", core.ErrSingularMatrix, err)
		}
		f.RefitBeta = append([]float64(nil), beta.RawVector().Data...)
		var fitted mat.VecDense
		fitted.MulVec(xE, &beta)
		for i := range f.Residuals {
			f.Residuals[i] -= fitted.AtVec(i)
		}
	}
	null := mat.NewVecDense(p, nil)
	null.MulVec(f.design.T(), mat.NewVecDense(n, append([]float64(nil), f.Residuals...)))
	f.NullOffset = null.RawVector().Data
	return nil
}

// ActiveIndices lists the selected coordinates
func (f *Fit) ActiveIndices() []int {
	var out []int
	for j, a := range f.Active {
		if a {
			out = append(out, j)
		}
	}
	return out
}

// ObservedOpt is the active coefficients followed by the inactive cube
func (f *Fit) ObservedOpt() []float64 {
	out := make([]float64, 0, len(f.Beta))
	for j, a := range f.Active {
		if a {
			out = append(out, f.Beta[j])
		}
	}
	for j, a := range f.Active {
		if !a {
			out = append(out, f.Subgradient[j])
		}
	}
	return out
}

// Bootstrap parametrizes the residual bootstrap of the refit
func (f *Fit) Bootstrap() (*conditional.Bootstrap, error) {
	return conditional.NewBootstrap(f.design, f.Active, f.Residuals, f.Hessian, f.NullOffset)
}

// ViewInput summarizes the fit for the conditional sampler
func (f *Fit) ViewInput(name string, law randomization.Law, data conditional.DataMap) conditional.ViewInput {
	return conditional.ViewInput{
		Name:        name,
		Active:      append([]bool(nil), f.Active...),
		Signs:       append([]float64(nil), f.Signs...),
		Penalty:     append([]float64(nil), f.Penalty...),
		Epsilon:     f.Epsilon,
		Hessian:     f.Hessian,
		ObservedOpt: f.ObservedOpt(),
		Law:         law,
		Data:        data,
	}
}

// TheoreticalLambda estimates E max_j |X_j^T e| for e ~ N(0, sigma^2 I) from
// draws Monte-Carlo samples; the usual choice of penalty for the lasso.
func TheoreticalLambda(x mat.Matrix, sigma float64, draws int, src rand.Source) float64 {
	n, p := x.Dims()
	if draws <= 0 {
		draws = 1000
	}
	noise := distuv.Normal{Mu: 0, Sigma: sigma, Src: src}
	e := make([]float64, n)
	xe := mat.NewVecDense(p, nil)
	total := 0.0
	for d := 0; d < draws; d++ {
		for i := range e {
			e[i] = noise.Rand()
		}
		xe.MulVec(x.T(), mat.NewVecDense(n, e))
		m := 0.0
		for j := 0; j < p; j++ {
			m = math.Max(m, math.Abs(xe.AtVec(j)))
		}
		total += m
	}
	return total / float64(draws)
}

func softThreshold(z, gamma float64) float64 {
	switch {
	case z > gamma:
		return z - gamma
	case z < -gamma:
		return z + gamma
	}
	return 0
}

func broadcast(penalty []float64, p int) ([]float64, error) {
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
	for j, l := range out {
		if l < 0 || math.IsNaN(l) {
			return nil, fmt.Errorf("%w: penalty[%d] = %v", core.ErrInvalidInput, j, l)
		}
	}
	return out, nil
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
