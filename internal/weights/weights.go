// Package weights holds the log-density gradients of the bootstrap weight
// distributions placed on resampling ("alpha") blocks. A Law is resolved once
// from its Family tag and then evaluated every Langevin step.
package weights

import (
	"fmt"
	"math"
	"strings"

	"selinf/domain/core"
)

// Family enumerates the supported weight distributions
type Family string

const (
	Exponential Family = "exponential"
	Normal      Family = "normal"
	Gamma       Family = "gamma"
	Gumbel      Family = "gumbel"
	Neutral     Family = "neutral"
)

// Families lists every recognized tag in a stable order
var Families = []Family{Exponential, Normal, Gamma, Gumbel, Neutral}

// ParseFamily resolves a configuration tag to a Family
func ParseFamily(s string) (Family, error) {
	f := Family(strings.ToLower(strings.TrimSpace(s)))
	for _, known := range Families {
		if f == known {
			return f, nil
		}
	}
	return "", core.NewUnknownFamilyError("weights", s)
}

// Law is the prior placed on one block of the sampler state
type Law interface {
	Family() Family

	// Gradient adds d/dx log g(x) into dst. It has no other side effects.
	Gradient(dst, x []float64) error

	// Lower is the floor of the support; the projection keeps the block at or above it
	Lower() float64

	// Initial writes the identity seed of the block into dst
	Initial(dst []float64)
}

// Gumbel weights are standardized to mean 0 and variance 1:
// u = x*sigma follows Gumbel(mu, beta) with mu = -beta*euler.
const (
	gumbelEuler = 0.57721
	gumbelSigma = 1. / 1.14
)

var (
	gumbelBeta = math.Sqrt(6) / (1.14 * math.Pi)
	gumbelMu   = -gumbelBeta * gumbelEuler
)

// gammaPole is where 3/(x+2) blows up. The support is truncated at
// gammaPole+gammaMargin, which caps the prior pull at 3/gammaMargin-2 = 28 per
// unit step; the shifted Gamma(4, 2) puts about 5.5e-5 of its mass below it.
const (
	gammaPole   = -2.
	gammaMargin = 0.1
)

// GammaMaxGradient bounds the gamma prior gradient over the projected support
const GammaMaxGradient = 3/gammaMargin - 2

// New resolves a family that needs no extra parameters.
// Neutral weights depend on a linear map and a covariance and are built with NewNeutral.
func New(family Family) (Law, error) {
	switch family {
	case Exponential:
		return exponentialLaw{}, nil
	case Normal:
		return normalLaw{}, nil
	case Gamma:
		return gammaLaw{}, nil
	case Gumbel:
		return gumbelLaw{}, nil
	case Neutral:
		return nil, fmt.Errorf("%w: neutral weights require a linear map and covariance", core.ErrInvalidInput)
	}
	return nil, core.NewUnknownFamilyError("weights", string(family))
}

type exponentialLaw struct{}

func (exponentialLaw) Family() Family { return Exponential }
func (exponentialLaw) Lower() float64 { return 0 }

func (exponentialLaw) Gradient(dst, x []float64) error {
	if len(dst) != len(x) {
		return core.NewDimensionError("gradient", len(dst), len(x))
	}
	for i := range dst {
		dst[i] -= 1
	}
	return nil
}

func (exponentialLaw) Initial(dst []float64) {
	for i := range dst {
		dst[i] = 1
	}
}

type normalLaw struct{}

func (normalLaw) Family() Family        { return Normal }
func (normalLaw) Lower() float64        { return math.Inf(-1) }
func (normalLaw) Initial(dst []float64) { zero(dst) }

func (normalLaw) Gradient(dst, x []float64) error {
	if len(dst) != len(x) {
		return core.NewDimensionError("gradient", len(dst), len(x))
	}
	for i, v := range x {
		dst[i] -= v
	}
	return nil
}

// gammaLaw is a shifted gamma with log-density gradient 3/(x+2) - 2
type gammaLaw struct{}

func (gammaLaw) Family() Family        { return Gamma }
func (gammaLaw) Lower() float64        { return gammaPole + gammaMargin }
func (gammaLaw) Initial(dst []float64) { zero(dst) }

func (gammaLaw) Gradient(dst, x []float64) error {
	if len(dst) != len(x) {
		return core.NewDimensionError("gradient", len(dst), len(x))
	}
	for i, v := range x {
		// states below the floor were never projected
		if v < gammaPole+gammaMargin {
			return fmt.Errorf("%w: x[%d] = %v below floor %v", core.ErrWeightPole, i, v, gammaPole+gammaMargin)
		}
		dst[i] += 3/(v-gammaPole) - 2
	}
	return nil
}

type gumbelLaw struct{}

func (gumbelLaw) Family() Family        { return Gumbel }
func (gumbelLaw) Lower() float64        { return math.Inf(-1) }
func (gumbelLaw) Initial(dst []float64) { zero(dst) }

func (gumbelLaw) Gradient(dst, x []float64) error {
	if len(dst) != len(x) {
		return core.NewDimensionError("gradient", len(dst), len(x))
	}
	for i, v := range x {
		dst[i] -= (1 - math.Exp(-(v*gumbelSigma-gumbelMu)/gumbelBeta)) * gumbelSigma / gumbelBeta
	}
	return nil
}

func zero(dst []float64) {
	for i := range dst {
		dst[i] = 0
	}
}
