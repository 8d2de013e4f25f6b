package app

import (
	"context"
	"fmt"
	"math"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"

	"selinf/adapters/bootstrap"
	"selinf/adapters/lasso"
	"selinf/domain/core"
	"selinf/domain/selection"
	"selinf/internal"
	"selinf/internal/conditional"
	"selinf/internal/errors"
	"selinf/internal/inference"
	"selinf/internal/randomization"
	"selinf/internal/weights"
	"selinf/ports"
)

const defaultBootstrapSamples = 500

// InferService runs selective inference for the lasso on an observed data set
type InferService struct {
	driver  *inference.Driver
	rngPort ports.RNGPort
	logger  *internal.Logger
}

// InferRequest defines the inputs of one data analysis
type InferRequest struct {
	X             mat.Matrix
	Y             []float64
	Columns       []string // predictor names; defaults to x0, x1, ...
	Randomization randomization.Law
	Weights       weights.Family
	Lambda        float64 // zero uses the theoretical penalty at Sigma
	Sigma         float64 // zero estimates the noise level from the full least-squares fit
	Tail          selection.Tail
	Seed          uint64

	// BootstrapSamples sizes the pairs bootstrap behind neutral weights; zero uses 500
	BootstrapSamples int
}

// InferResult holds one p-value per selected coefficient plus the joint
// test of the refit norm
type InferResult struct {
	Lambda   float64             `json:"lambda"`
	Sigma    float64             `json:"sigma"`
	Selected []string            `json:"selected"`
	Joint    *selection.Result   `json:"joint,omitempty"`
	Results  []*selection.Result `json:"results"`
}

// NewInferService creates an inference service
func NewInferService(driver *inference.Driver, rngPort ports.RNGPort, logger *internal.Logger) *InferService {
	if logger == nil {
		logger = internal.NewNopLogger()
	}
	return &InferService{driver: driver, rngPort: rngPort, logger: logger.With("infer")}
}

// Infer fits a randomized lasso and tests each selected coefficient against
// the residual bootstrap, conditionally on the selection
func (s *InferService) Infer(ctx context.Context, req InferRequest) (*InferResult, error) {
	if req.X == nil || req.Randomization == nil {
		return nil, errors.InvalidInput("infer request needs a design and a randomization law")
	}
	n, p := req.X.Dims()
	if len(req.Y) != n {
		return nil, core.NewDimensionError("response", len(req.Y), n)
	}
	columns := req.Columns
	if columns == nil {
		columns = make([]string, p)
		for j := range columns {
			columns[j] = fmt.Sprintf("x%d", j)
		}
	}
	if len(columns) != p {
		return nil, core.NewDimensionError("column names", len(columns), p)
	}

	src, err := s.rngPort.SeededStream(ctx, "infer", req.Seed)
	if err != nil {
		return nil, err
	}

	sigma := req.Sigma
	if sigma <= 0 {
		sigma = noiseLevel(req.X, req.Y)
	}
	lambda := req.Lambda
	if lambda <= 0 {
		lambda = lasso.TheoreticalLambda(req.X, sigma, 1000, src)
	}
	s.logger.Info("n=%d p=%d sigma=%.4g lambda=%.4g", n, p, sigma, lambda)

	fit, err := lasso.Randomized(req.X, req.Y, lasso.NewDefaultConfig(lambda), req.Randomization, src)
	if err != nil {
		return nil, fmt.Errorf("randomized lasso: %w", err)
	}
	out := &InferResult{Lambda: lambda, Sigma: sigma, Selected: []string{}, Results: []*selection.Result{}}
	active := fit.ActiveIndices()
	if len(active) == 0 {
		s.logger.Warn("the lasso selected no variable at lambda %.4g", lambda)
		return out, nil
	}
	for _, j := range active {
		out.Selected = append(out.Selected, columns[j])
	}

	boot, err := fit.Bootstrap()
	if err != nil {
		return nil, err
	}
	var refitCov *mat.SymDense
	if req.Weights == weights.Neutral {
		b := req.BootstrapSamples
		if b <= 0 {
			b = defaultBootstrapSamples
		}
		if refitCov, err = bootstrap.RefitCovariance(src, req.X, req.Y, active, b); err != nil {
			return nil, err
		}
	}
	prior, err := boot.Prior(req.Weights, refitCov)
	if err != nil {
		return nil, err
	}
	view, err := conditional.NewView(fit.ViewInput("lasso", req.Randomization, boot.Data()))
	if err != nil {
		return nil, err
	}
	model, err := conditional.NewModel(
		[]conditional.Block{{Name: "alpha", Dim: boot.Dim(), Weights: prior}},
		[]conditional.Binding{{View: view, Block: 0}},
	)
	if err != nil {
		return nil, err
	}
	alpha := model.Layout().Blocks[0]

	for k, j := range active {
		result, err := s.driver.Run(ctx, inference.Problem{
			Target:    core.TargetKey(columns[j]),
			Model:     model,
			Statistic: inference.BootstrapCoordinate(boot, alpha, k),
			Observed:  fit.RefitBeta[k],
			Tail:      req.Tail,
			Seed:      src.Uint64(),
		})
		if err != nil {
			return nil, samplingError(err, "coefficient "+columns[j])
		}
		out.Results = append(out.Results, result)
	}

	out.Joint, err = s.driver.Run(ctx, inference.Problem{
		Target:    "refit_norm",
		Model:     model,
		Statistic: inference.BootstrapNorm(boot, alpha),
		Observed:  floats.Norm(fit.RefitBeta, 2),
		Tail:      selection.TailUpper,
		Seed:      src.Uint64(),
	})
	if err != nil {
		return nil, samplingError(err, "joint test")
	}
	return out, nil
}

// samplingError tags numerical failures of a chain with the numerical code
func samplingError(err error, target string) error {
	if core.IsNumericalError(err) {
		return errors.Numerical(target, err)
	}
	return fmt.Errorf("%s: %w", target, err)
}

// noiseLevel is the residual standard deviation of the full least-squares
// fit, or 1 when there are not enough observations to estimate it
func noiseLevel(x mat.Matrix, y []float64) float64 {
	n, p := x.Dims()
	if n <= p+1 {
		return 1
	}
	var qr mat.QR
	qr.Factorize(x)
	var beta mat.VecDense
	if err := qr.SolveVecTo(&beta, false, mat.NewVecDense(n, append([]float64(nil), y...))); err != nil {
		return 1
	}
	var fitted mat.VecDense
	fitted.MulVec(x, &beta)
	rss := 0.0
	for i, v := range y {
		r := v - fitted.AtVec(i)
		rss += r * r
	}
	sigma := math.Sqrt(rss / float64(n-p))
	if !(sigma > 0) {
		return 1
	}
	return sigma
}
