package app

import (
	"context"
	"fmt"
	"math/rand/v2"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/mat"

	"selinf/domain/core"
	"selinf/domain/selection"
	"selinf/internal/errors"
	"selinf/internal/inference"
	"selinf/internal/randomization"
	"selinf/internal/testkit"
	"selinf/internal/weights"
)

func TestInferServiceSelectsAndTests(t *testing.T) {
	kit := testkit.NewTestKit()
	driver, err := kit.Driver(inference.Settings{StepSize: 0.05, TotalSteps: 1200, BurnIn: 200})
	require.NoError(t, err)
	service := NewInferService(driver, kit.RNGAdapter(), nil)

	config := testkit.DefaultInstanceConfig()
	config.N, config.P, config.S = 100, 5, 1
	inst := testkit.NewInstanceGenerator(config).Generate(rand.NewPCG(4, 4))
	law, err := randomization.New(randomization.Laplace, 0.5)
	require.NoError(t, err)

	res, err := service.Infer(context.Background(), InferRequest{
		X:             inst.X,
		Y:             inst.Y,
		Columns:       []string{"a", "b", "c", "d", "e"},
		Randomization: law,
		Weights:       weights.Exponential,
		Tail:          selection.TailTwoSided,
		Seed:          12,
	})
	require.NoError(t, err)
	assert.Greater(t, res.Lambda, 0.0)
	assert.InDelta(t, 1, res.Sigma, 0.35)
	require.Contains(t, res.Selected, "a")
	require.Len(t, res.Results, len(res.Selected))
	for i, r := range res.Results {
		assert.Equal(t, core.TargetKey(res.Selected[i]), r.Target)
		assert.True(t, r.Usable())
		assert.GreaterOrEqual(t, r.PValue, 0.0)
		assert.LessOrEqual(t, r.PValue, 1.0)
	}
	require.NotNil(t, res.Joint)
	assert.Equal(t, selection.TailUpper, res.Joint.Tail)
}

func TestInferServiceNeutralWeights(t *testing.T) {
	kit := testkit.NewTestKit()
	driver, err := kit.Driver(inference.Settings{StepSize: 0.05, TotalSteps: 600, BurnIn: 100})
	require.NoError(t, err)
	service := NewInferService(driver, kit.RNGAdapter(), nil)

	config := testkit.DefaultInstanceConfig()
	config.N, config.P, config.S = 100, 5, 1
	inst := testkit.NewInstanceGenerator(config).Generate(rand.NewPCG(4, 4))
	law, err := randomization.New(randomization.Laplace, 0.5)
	require.NoError(t, err)

	res, err := service.Infer(context.Background(), InferRequest{
		X:                inst.X,
		Y:                inst.Y,
		Randomization:    law,
		Weights:          weights.Neutral,
		Tail:             selection.TailTwoSided,
		Seed:             12,
		BootstrapSamples: 100,
	})
	require.NoError(t, err)
	require.NotEmpty(t, res.Selected)
	require.NotNil(t, res.Joint)
	assert.True(t, res.Joint.Usable())
	for _, r := range res.Results {
		assert.GreaterOrEqual(t, r.PValue, 0.0)
		assert.LessOrEqual(t, r.PValue, 1.0)
	}
}

func TestInferServiceValidation(t *testing.T) {
	kit := testkit.NewTestKit()
	driver, err := kit.Driver(inference.Settings{StepSize: 0.05, TotalSteps: 100, BurnIn: 10})
	require.NoError(t, err)
	service := NewInferService(driver, kit.RNGAdapter(), nil)
	law, err := randomization.New(randomization.Logistic, 1)
	require.NoError(t, err)

	x := mat.NewDense(4, 2, nil)
	_, err = service.Infer(context.Background(), InferRequest{X: x, Y: []float64{1, 2}, Randomization: law})
	assert.ErrorIs(t, err, core.ErrDimensionMismatch)

	_, err = service.Infer(context.Background(), InferRequest{X: x, Y: make([]float64, 4), Columns: []string{"a"}, Randomization: law})
	assert.ErrorIs(t, err, core.ErrDimensionMismatch)

	_, err = service.Infer(context.Background(), InferRequest{X: x, Y: make([]float64, 4)})
	assert.Error(t, err)
}

func TestSamplingErrorCodes(t *testing.T) {
	err := samplingError(fmt.Errorf("sampling x1: %w", core.ErrWeightPole), "coefficient x1")
	assert.Equal(t, errors.CodeNumerical, errors.GetCode(err))
	assert.ErrorIs(t, err, core.ErrWeightPole)

	err = samplingError(context.Canceled, "joint test")
	assert.Equal(t, "UNKNOWN", errors.GetCode(err))
	assert.ErrorIs(t, err, context.Canceled)
}

func TestNoiseLevel(t *testing.T) {
	x := mat.NewDense(4, 1, []float64{1, 1, 1, 1})
	// residuals about the mean are -1, 1, -1, 1 with n - p = 3
	got := noiseLevel(x, []float64{1, 3, 1, 3})
	assert.InDelta(t, 2/1.7320508075688772, got, 1e-12)
	assert.Equal(t, 1.0, noiseLevel(mat.NewDense(2, 2, []float64{1, 0, 0, 1}), []float64{1, 2}))
}
