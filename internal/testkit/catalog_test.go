package testkit

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"selinf/internal/config"
	"selinf/internal/randomization"
	"selinf/internal/weights"
)

func TestScenarioFor(t *testing.T) {
	cfg := config.Default()
	cfg.Sampler.Randomization = "logistic"
	cfg.Sampler.Weights = "gumbel"

	for _, name := range ScenarioNames {
		cfg.Replicates.Scenario = name
		s, err := ScenarioFor(cfg)
		require.NoError(t, err)
		assert.Equal(t, name, s.Name())
	}

	cfg.Replicates.Scenario = "lasso_bootstrap"
	s, err := ScenarioFor(cfg)
	require.NoError(t, err)
	lasso := s.(LassoBootstrapScenario)
	assert.Equal(t, randomization.Logistic, lasso.Randomization)
	assert.Equal(t, weights.Gumbel, lasso.Weights)

	cfg.Replicates.Scenario = "stepwise"
	_, err = ScenarioFor(cfg)
	assert.Error(t, err)

	cfg.Replicates.Scenario = "two_views"
	cfg.Sampler.Weights = "beta"
	_, err = ScenarioFor(cfg)
	assert.Error(t, err)
}
