// Package inference turns a conditional model into a selective p-value: it
// runs the projected Langevin sampler on the model, maps the retained states
// through a test statistic and reads the observed statistic off the
// resulting empirical family.
package inference

import (
	"context"
	"fmt"
	"math"

	"selinf/domain/core"
	"selinf/domain/selection"
	"selinf/internal"
	"selinf/internal/conditional"
	"selinf/internal/discrete"
	"selinf/internal/langevin"
	"selinf/ports"
)

// Settings fixes the sampler schedule for every problem a driver runs
type Settings struct {
	StepSize   float64
	TotalSteps int
	BurnIn     int
}

// Validate rejects schedules that retain no state
func (s Settings) Validate() error {
	if !(s.StepSize > 0) || math.IsInf(s.StepSize, 0) {
		return fmt.Errorf("%w: step size must be positive, got %v", core.ErrInvalidInput, s.StepSize)
	}
	if s.TotalSteps <= 0 {
		return fmt.Errorf("%w: total steps must be positive, got %d", core.ErrInvalidInput, s.TotalSteps)
	}
	// states are indexed 1..TotalSteps and only indices > BurnIn are retained
	if s.BurnIn < 0 || s.BurnIn >= s.TotalSteps {
		return fmt.Errorf("%w: burn-in %d retains nothing from %d steps", core.ErrBurnIn, s.BurnIn, s.TotalSteps)
	}
	return nil
}

// Problem is one target to test on one replicate
type Problem struct {
	Target    core.TargetKey
	Model     *conditional.Model
	Seeds     [][]float64 // per-block initial values; nil uses each prior's identity seed
	Statistic Statistic
	Observed  float64
	Tail      selection.Tail

	// TrueSupport and Active drive the selection-consistency check. A nil
	// Active skips the check.
	TrueSupport []int
	Active      []bool

	Seed uint64
}

// Driver runs problems sequentially; it holds no per-run state and may be
// shared by concurrent replicates
type Driver struct {
	settings Settings
	rngPort  ports.RNGPort
	logger   *internal.Logger
}

// NewDriver creates a p-value driver
func NewDriver(settings Settings, rngPort ports.RNGPort, logger *internal.Logger) (*Driver, error) {
	if err := settings.Validate(); err != nil {
		return nil, err
	}
	if rngPort == nil {
		return nil, fmt.Errorf("%w: nil rng port", core.ErrInvalidInput)
	}
	if logger == nil {
		logger = internal.NewNopLogger()
	}
	return &Driver{settings: settings, rngPort: rngPort, logger: logger.With("inference")}, nil
}

// Settings returns the sampler schedule
func (d *Driver) Settings() Settings { return d.settings }

// Run samples the conditional law of the problem's statistic and returns its
// p-value. A replicate whose selection missed part of the true support yields
// a skipped result, not an error; numerical failures are returned as errors.
func (d *Driver) Run(ctx context.Context, problem Problem) (*selection.Result, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if problem.Model == nil || problem.Statistic == nil {
		return nil, fmt.Errorf("%w: problem %q needs a model and a statistic", core.ErrInvalidInput, problem.Target)
	}
	if _, err := selection.ParseTail(string(problem.Tail)); err != nil {
		return nil, fmt.Errorf("%w: %v", core.ErrInvalidInput, err)
	}

	if problem.Active != nil && !SupportSelected(problem.TrueSupport, problem.Active) {
		d.logger.Debug("target %s skipped: true support %v not selected", problem.Target, problem.TrueSupport)
		return selection.Skipped(problem.Target, selection.ReasonSelectionInconsistent), nil
	}

	initial, err := problem.Model.InitialState(problem.Seeds)
	if err != nil {
		return nil, fmt.Errorf("initial state: %w", err)
	}

	src, err := d.rngPort.SeededStream(ctx, string(problem.Target), problem.Seed)
	if err != nil {
		return nil, fmt.Errorf("rng stream for %s: %w", problem.Target, err)
	}

	sampler, err := langevin.New(initial, problem.Model, problem.Model, d.settings.StepSize, src)
	if err != nil {
		return nil, err
	}

	values := make([]float64, 0, d.settings.TotalSteps-d.settings.BurnIn)
	err = sampler.Run(d.settings.TotalSteps, d.settings.BurnIn, func(step int, state []float64) error {
		v, err := problem.Statistic.Evaluate(state)
		if err != nil {
			return fmt.Errorf("statistic at step %d: %w", step, err)
		}
		if math.IsNaN(v) {
			return fmt.Errorf("%w: statistic at step %d", core.ErrNonFinite, step)
		}
		values = append(values, v)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("sampling %s: %w", problem.Target, err)
	}

	family, err := discrete.Uniform(values)
	if err != nil {
		return nil, fmt.Errorf("empirical family for %s: %w", problem.Target, err)
	}
	p, err := family.PValue(problem.Tail, problem.Observed)
	if err != nil {
		return nil, err
	}
	summary, err := family.Summary()
	if err != nil {
		return nil, err
	}

	d.logger.Debug("target %s %s", problem.Target, internal.Fields(map[string]interface{}{
		"observed": problem.Observed,
		"p":        p,
		"retained": len(values),
		"mean":     summary.Mean,
		"sd":       summary.StdDev,
	}))

	return &selection.Result{
		Target:   problem.Target,
		Status:   selection.StatusComputed,
		Tail:     problem.Tail,
		PValue:   p,
		Observed: problem.Observed,
		Retained: len(values),
		Sample:   summary,
	}, nil
}

// SupportSelected reports whether every truly relevant coordinate is active
func SupportSelected(trueSupport []int, active []bool) bool {
	for _, j := range trueSupport {
		if j < 0 || j >= len(active) || !active[j] {
			return false
		}
	}
	return true
}
