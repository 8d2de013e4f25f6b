package testkit

import (
	"context"
	"fmt"
	"math/rand/v2"

	"selinf/domain/selection"
	"selinf/internal/config"
	"selinf/internal/inference"
)

// Scenario draws one replicate and returns its labeled target results
type Scenario interface {
	Name() string
	Replicate(ctx context.Context, driver *inference.Driver, index int, src rand.Source) ([]selection.LabeledResult, error)
}

// ScenarioNames lists the scenarios ScenarioFor resolves
var ScenarioNames = []string{"gaussian_target", "lasso_bootstrap", "two_views", "residual_importance"}

// ScenarioFor resolves the configured scenario. The sampler families apply
// to the scenarios that draw their own randomization.
func ScenarioFor(cfg *config.Config) (Scenario, error) {
	r, w, tail, err := cfg.Families()
	if err != nil {
		return nil, err
	}
	scale := cfg.Sampler.RandomizationScale
	switch cfg.Replicates.Scenario {
	case "gaussian_target":
		return GaussianTargetScenario{}, nil
	case "lasso_bootstrap":
		s := DefaultLassoBootstrapScenario()
		s.Randomization, s.RandomizationScale, s.Weights, s.Tail = r, scale, w, tail
		return s, nil
	case "two_views":
		s := DefaultTwoViewScenario()
		s.Randomization, s.RandomizationScale = r, scale
		return s, nil
	case "residual_importance":
		s := DefaultResidualImportanceScenario()
		s.Randomization, s.RandomizationScale = r, scale
		return s, nil
	}
	return nil, fmt.Errorf("unknown scenario %q", cfg.Replicates.Scenario)
}
