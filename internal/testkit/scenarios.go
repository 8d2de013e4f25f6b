package testkit

import (
	"context"
	"fmt"
	"math/rand/v2"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat/distuv"

	"selinf/adapters/bootstrap"
	"selinf/adapters/lasso"
	"selinf/domain/core"
	"selinf/domain/selection"
	"selinf/internal/conditional"
	"selinf/internal/inference"
	"selinf/internal/randomization"
	"selinf/internal/weights"
)

func targetKey(index int, name string) core.TargetKey {
	return core.TargetKey(fmt.Sprintf("replicate-%04d/%s", index, name))
}

// GaussianTargetScenario samples a one-dimensional N(0,1) target with no
// selection at all, so the p-value of an N(0,1) observation is exactly
// uniform. It calibrates the sampler and the empirical family end to end.
type GaussianTargetScenario struct{}

func (GaussianTargetScenario) Name() string { return "gaussian_target" }

func (GaussianTargetScenario) Replicate(ctx context.Context, driver *inference.Driver, index int, src rand.Source) ([]selection.LabeledResult, error) {
	prior, err := weights.NewNeutral(nil, mat.NewSymDense(1, []float64{1}))
	if err != nil {
		return nil, err
	}
	model, err := conditional.NewModel([]conditional.Block{{Name: "target", Dim: 1, Weights: prior}}, nil)
	if err != nil {
		return nil, err
	}
	observed := distuv.Normal{Mu: 0, Sigma: 1, Src: src}.Rand()

	result, err := driver.Run(ctx, inference.Problem{
		Target:    targetKey(index, "target"),
		Model:     model,
		Statistic: inference.SliceCoordinate(model.Layout().Blocks[0], 0),
		Observed:  observed,
		Tail:      selection.TailLower,
		Seed:      src.Uint64(),
	})
	if err != nil {
		return nil, err
	}
	return []selection.LabeledResult{{Null: true, Result: result}}, nil
}

// LassoBootstrapScenario fits a randomized lasso and tests the active
// coefficients jointly with the norm of their residual-bootstrap refit,
// sampling the bootstrap weights conditionally on the selection.
type LassoBootstrapScenario struct {
	Instance           InstanceConfig
	Randomization      randomization.Family
	RandomizationScale float64
	Weights            weights.Family
	LamFrac            float64
	Epsilon            float64
	Tail               selection.Tail
	BootstrapSamples   int // pairs resamples behind the neutral covariance
}

// DefaultLassoBootstrapScenario is n = 200, p = 20, s = 5 with Laplace(0.5)
// randomization and exponential weights
func DefaultLassoBootstrapScenario() LassoBootstrapScenario {
	return LassoBootstrapScenario{
		Instance:           DefaultInstanceConfig(),
		Randomization:      randomization.Laplace,
		RandomizationScale: 0.5,
		Weights:            weights.Exponential,
		LamFrac:            1,
		Epsilon:            0,
		Tail:               selection.TailTwoSided,
		BootstrapSamples:   200,
	}
}

func (s LassoBootstrapScenario) Name() string { return "lasso_bootstrap" }

func (s LassoBootstrapScenario) Replicate(ctx context.Context, driver *inference.Driver, index int, src rand.Source) ([]selection.LabeledResult, error) {
	inst := NewInstanceGenerator(s.Instance).Generate(src)
	key := targetKey(index, "beta_E")

	law, err := randomization.New(s.Randomization, s.RandomizationScale)
	if err != nil {
		return nil, err
	}
	lam := s.LamFrac * lasso.TheoreticalLambda(inst.X, inst.Sigma, 200, src)
	cfg := lasso.NewDefaultConfig(lam)
	cfg.Epsilon = s.Epsilon
	fit, err := lasso.Randomized(inst.X, inst.Y, cfg, law, src)
	if err != nil {
		return nil, fmt.Errorf("randomized lasso: %w", err)
	}
	null := len(inst.Support) == 0
	if len(fit.ActiveIndices()) == 0 {
		// nothing selected, nothing to test
		return nil, nil
	}
	if !inference.SupportSelected(inst.Support, fit.Active) {
		return []selection.LabeledResult{{Null: null, Result: selection.Skipped(key, selection.ReasonSelectionInconsistent)}}, nil
	}

	boot, err := fit.Bootstrap()
	if err != nil {
		return nil, err
	}
	var refitCov *mat.SymDense
	if s.Weights == weights.Neutral {
		refitCov, err = bootstrap.RefitCovariance(src, inst.X, inst.Y, fit.ActiveIndices(), s.BootstrapSamples)
		if err != nil {
			return nil, err
		}
	}
	prior, err := boot.Prior(s.Weights, refitCov)
	if err != nil {
		return nil, err
	}
	view, err := conditional.NewView(fit.ViewInput("lasso", law, boot.Data()))
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

	result, err := driver.Run(ctx, inference.Problem{
		Target:      key,
		Model:       model,
		Statistic:   inference.BootstrapNorm(boot, model.Layout().Blocks[0]),
		Observed:    floats.Norm(fit.RefitBeta, 2),
		Tail:        s.Tail,
		TrueSupport: inst.Support,
		Active:      fit.Active,
		Seed:        src.Uint64(),
	})
	if err != nil {
		return nil, err
	}
	return []selection.LabeledResult{{Null: null, Result: result}}, nil
}

// TwoViewScenario runs two independently randomized lasso fits and tests
// the selected null coefficients of their union jointly. Both views are
// linearized around a shared Gaussian target estimated by the pairs
// bootstrap, so their randomization terms add on one target block.
type TwoViewScenario struct {
	Instance           InstanceConfig
	Randomization      randomization.Family
	RandomizationScale float64
	LamFrac            float64
	Epsilon            float64
	SecondPenalty      float64 // multiplier of lambda for the second fit
	BootstrapSamples   int
}

// DefaultTwoViewScenario follows the overall-null two-view setup
func DefaultTwoViewScenario() TwoViewScenario {
	cfg := DefaultInstanceConfig()
	cfg.Rho = 0.1
	return TwoViewScenario{
		Instance:           cfg,
		Randomization:      randomization.Laplace,
		RandomizationScale: 0.5,
		LamFrac:            1,
		Epsilon:            1,
		SecondPenalty:      1.25,
		BootstrapSamples:   400,
	}
}

func (s TwoViewScenario) Name() string { return "two_views" }

func (s TwoViewScenario) Replicate(ctx context.Context, driver *inference.Driver, index int, src rand.Source) ([]selection.LabeledResult, error) {
	inst := NewInstanceGenerator(s.Instance).Generate(src)
	key := targetKey(index, "null_union")
	n, p := inst.X.Dims()

	law, err := randomization.New(s.Randomization, s.RandomizationScale)
	if err != nil {
		return nil, err
	}
	lam := s.LamFrac * lasso.TheoreticalLambda(inst.X, inst.Sigma, 200, src)
	cfg1 := lasso.NewDefaultConfig(lam)
	cfg1.Epsilon = s.Epsilon
	fit1, err := lasso.Randomized(inst.X, inst.Y, cfg1, law, src)
	if err != nil {
		return nil, fmt.Errorf("first view: %w", err)
	}
	cfg2 := lasso.NewDefaultConfig(lam * s.SecondPenalty)
	cfg2.Epsilon = s.Epsilon
	fit2, err := lasso.Randomized(inst.X, inst.Y, cfg2, law, src)
	if err != nil {
		return nil, fmt.Errorf("second view: %w", err)
	}

	union := make([]bool, p)
	var cols []int
	for j := range union {
		union[j] = fit1.Active[j] || fit2.Active[j]
		if union[j] {
			cols = append(cols, j)
		}
	}
	if !inference.SupportSelected(inst.Support, union) {
		return []selection.LabeledResult{{Null: true, Result: selection.Skipped(key, selection.ReasonSelectionInconsistent)}}, nil
	}
	truth := make(map[int]bool, len(inst.Support))
	for _, j := range inst.Support {
		truth[j] = true
	}
	var nullPos []int
	for k, j := range cols {
		if !truth[j] {
			nullPos = append(nullPos, k)
		}
	}
	if len(nullPos) == 0 {
		// nothing selected beyond the true support
		return nil, nil
	}

	target := func(idx []int) ([]float64, error) {
		beta, err := bootstrap.Refit(inst.X, inst.Y, cols, idx)
		if err != nil {
			return nil, err
		}
		out := make([]float64, len(nullPos))
		for i, k := range nullPos {
			out[i] = beta[k]
		}
		return out, nil
	}
	score := func(idx []int) ([]float64, error) {
		out := make([]float64, p)
		for _, i := range idx {
			for j := 0; j < p; j++ {
				out[j] += inst.X.At(i, j) * inst.Y[i]
			}
		}
		return out, nil
	}
	identity := make([]int, n)
	for i := range identity {
		identity[i] = i
	}
	observedTarget, err := target(identity)
	if err != nil {
		return nil, err
	}
	observedScore, _ := score(identity)

	targetCov, cross, err := bootstrap.Covariance(src, n, s.BootstrapSamples, target, score)
	if err != nil {
		return nil, err
	}
	dm, err := conditional.ConditionOnTarget(cross[0], targetCov, observedTarget, observedScore)
	if err != nil {
		return nil, err
	}
	view1, err := conditional.NewView(fit1.ViewInput("lasso", law, dm))
	if err != nil {
		return nil, err
	}
	view2, err := conditional.NewView(fit2.ViewInput("lasso_second", law, dm))
	if err != nil {
		return nil, err
	}
	prior, err := weights.NewNeutral(nil, targetCov)
	if err != nil {
		return nil, err
	}
	model, err := conditional.NewModel(
		[]conditional.Block{{Name: "target", Dim: len(nullPos), Weights: prior}},
		[]conditional.Binding{{View: view1, Block: 0}, {View: view2, Block: 0}},
	)
	if err != nil {
		return nil, err
	}

	result, err := driver.Run(ctx, inference.Problem{
		Target:      key,
		Model:       model,
		Seeds:       [][]float64{observedTarget},
		Statistic:   inference.SliceNorm(model.Layout().Blocks[0]),
		Observed:    floats.Norm(observedTarget, 2),
		Tail:        selection.TailUpper,
		TrueSupport: inst.Support,
		Active:      union,
		Seed:        src.Uint64(),
	})
	if err != nil {
		return nil, err
	}
	return []selection.LabeledResult{{Null: true, Result: result}}, nil
}

// ResidualImportanceScenario tests each active coefficient of a plain lasso
// with residual-bootstrap draws reweighted by the probability that a
// randomized lasso would have made the same selection. It needs no sampler.
type ResidualImportanceScenario struct {
	Instance           InstanceConfig
	Randomization      randomization.Family
	RandomizationScale float64
	LamFrac            float64
	Draws              int
}

// DefaultResidualImportanceScenario uses n = 500, p = 20, s = 5 and Laplace(0, 1)
func DefaultResidualImportanceScenario() ResidualImportanceScenario {
	cfg := DefaultInstanceConfig()
	cfg.N = 500
	return ResidualImportanceScenario{
		Instance:           cfg,
		Randomization:      randomization.Laplace,
		RandomizationScale: 1,
		LamFrac:            1,
		Draws:              2000,
	}
}

func (s ResidualImportanceScenario) Name() string { return "residual_importance" }

func (s ResidualImportanceScenario) Replicate(ctx context.Context, _ *inference.Driver, index int, src rand.Source) ([]selection.LabeledResult, error) {
	inst := NewInstanceGenerator(s.Instance).Generate(src)
	law, err := randomization.New(s.Randomization, s.RandomizationScale)
	if err != nil {
		return nil, err
	}
	lam := s.LamFrac * lasso.TheoreticalLambda(inst.X, inst.Sigma, 200, src)
	fit, err := lasso.Solve(inst.X, inst.Y, lasso.NewDefaultConfig(lam), make([]float64, s.Instance.P))
	if err != nil {
		return nil, err
	}
	active := fit.ActiveIndices()
	if len(active) == 0 {
		return nil, nil
	}
	a, b, err := lasso.Polyhedron(inst.X, fit.Active, fit.Signs, lam)
	if err != nil {
		return nil, err
	}

	truth := make(map[int]bool, len(inst.Support))
	for _, j := range inst.Support {
		truth[j] = true
	}
	var out []selection.LabeledResult
	for _, j := range active {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		sampler, err := bootstrap.NewResidualSampler(inst.X, inst.Y, fit.Active, j)
		if err != nil {
			return nil, err
		}
		draws := make([]float64, s.Draws)
		probs := make([]float64, s.Draws)
		for d := range draws {
			draw, err := sampler.Draw(src)
			if err != nil {
				return nil, err
			}
			draws[d] = draw.Centered
			if probs[d], err = inference.SelectionProbability(law, a, b, draw.Response); err != nil {
				return nil, err
			}
		}
		result, err := inference.Weighted(targetKey(index, fmt.Sprintf("beta_%d", j)), draws, probs, selection.TailUpper, sampler.Observed())
		if err != nil {
			return nil, err
		}
		out = append(out, selection.LabeledResult{Null: !truth[j], Result: result})
	}
	return out, nil
}
