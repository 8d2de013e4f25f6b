// Package langevin implements a projected Langevin sampler:
//
//	x <- project(x + h*grad(x) + sqrt(2h)*xi),  xi ~ N(0, I)
//
// The step size is fixed. There is no adaptation, no acceptance step and no
// convergence diagnostic; callers pick the step count and burn-in.
package langevin

import (
	"fmt"
	"math"
	"math/rand/v2"

	"gonum.org/v1/gonum/stat/distuv"

	"selinf/domain/core"
)

// Gradient writes the gradient of the log target density at state into dst.
// dst is zeroed by the sampler before each call.
type Gradient interface {
	Gradient(dst, state []float64) error
}

// GradientFunc adapts a function to Gradient
type GradientFunc func(dst, state []float64) error

func (f GradientFunc) Gradient(dst, state []float64) error { return f(dst, state) }

// Projector maps a proposal back onto the support of the target, in place
type Projector interface {
	Project(state []float64)
}

// ProjectorFunc adapts a function to Projector
type ProjectorFunc func(state []float64)

func (f ProjectorFunc) Project(state []float64) { f(state) }

// Identity leaves the proposal untouched (unconstrained Langevin)
var Identity Projector = ProjectorFunc(func([]float64) {})

// Sampler owns its state exclusively; callers only ever see copies
type Sampler struct {
	state    []float64
	grad     []float64
	gradient Gradient
	project  Projector
	stepSize float64
	scale    float64 // sqrt(2h)
	noise    distuv.Normal
	steps    int
}

// New builds a sampler starting at a copy of initial. The noise stream is
// drawn from src, so two samplers built with equal sources produce identical
// trajectories.
func New(initial []float64, gradient Gradient, project Projector, stepSize float64, src rand.Source) (*Sampler, error) {
	if len(initial) == 0 {
		return nil, fmt.Errorf("%w: empty initial state", core.ErrInvalidInput)
	}
	if !(stepSize > 0) || math.IsInf(stepSize, 0) {
		return nil, fmt.Errorf("%w: step size must be positive and finite, got %v", core.ErrInvalidInput, stepSize)
	}
	if gradient == nil {
		return nil, fmt.Errorf("%w: nil gradient", core.ErrInvalidInput)
	}
	if src == nil {
		return nil, fmt.Errorf("%w: nil random source", core.ErrInvalidInput)
	}
	if project == nil {
		project = Identity
	}

	state := make([]float64, len(initial))
	copy(state, initial)
	return &Sampler{
		state:    state,
		grad:     make([]float64, len(initial)),
		gradient: gradient,
		project:  project,
		stepSize: stepSize,
		scale:    math.Sqrt(2 * stepSize),
		noise:    distuv.Normal{Mu: 0, Sigma: 1, Src: src},
	}, nil
}

// Dim is the length of the state vector
func (s *Sampler) Dim() int { return len(s.state) }

// Steps is the number of updates performed so far
func (s *Sampler) Steps() int { return s.steps }

// State returns a copy of the current state
func (s *Sampler) State() []float64 {
	out := make([]float64, len(s.state))
	copy(out, s.state)
	return out
}

// Advance performs exactly one update and returns a copy of the new state
func (s *Sampler) Advance() ([]float64, error) {
	if err := s.step(); err != nil {
		return nil, err
	}
	return s.State(), nil
}

func (s *Sampler) step() error {
	for i := range s.grad {
		s.grad[i] = 0
	}
	if err := s.gradient.Gradient(s.grad, s.state); err != nil {
		return fmt.Errorf("langevin step %d: %w", s.steps, err)
	}
	for i := range s.state {
		s.state[i] += s.stepSize*s.grad[i] + s.scale*s.noise.Rand()
	}
	s.project.Project(s.state)
	s.steps++
	return nil
}

// Run advances the sampler steps times. The state after the i-th step has
// index i in 1..steps; visit is called with every state whose index is > burnIn.
// The slice passed to visit is owned by the sampler and is only valid for the
// duration of the call.
func (s *Sampler) Run(steps, burnIn int, visit func(step int, state []float64) error) error {
	if steps <= 0 {
		return fmt.Errorf("%w: step count must be positive, got %d", core.ErrInvalidInput, steps)
	}
	if burnIn < 0 || burnIn >= steps {
		return fmt.Errorf("%w: burn-in %d leaves nothing to retain from %d steps", core.ErrBurnIn, burnIn, steps)
	}
	for i := 1; i <= steps; i++ {
		if err := s.step(); err != nil {
			return err
		}
		if i > burnIn && visit != nil {
			if err := visit(i, s.state); err != nil {
				return err
			}
		}
	}
	return nil
}

// Trajectory is the retained part of a run
type Trajectory struct {
	BurnIn int
	States [][]float64
}

// Len is the number of retained states
func (t *Trajectory) Len() int { return len(t.States) }

// Collect runs the sampler and materializes every retained state
func (s *Sampler) Collect(steps, burnIn int) (*Trajectory, error) {
	traj := &Trajectory{BurnIn: burnIn}
	if steps > burnIn && burnIn >= 0 {
		traj.States = make([][]float64, 0, steps-burnIn)
	}
	err := s.Run(steps, burnIn, func(_ int, state []float64) error {
		cp := make([]float64, len(state))
		copy(cp, state)
		traj.States = append(traj.States, cp)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return traj, nil
}
