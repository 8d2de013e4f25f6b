// Package randomization implements the noise laws added to the objective of a
// randomized M-estimator. The sampler only needs the derivative of the
// log-density; sampling and CDFs serve the solver and diagnostics.
package randomization

import (
	"fmt"
	"math"
	"math/rand/v2"
	"strings"

	"gonum.org/v1/gonum/stat/distuv"

	"selinf/domain/core"
)

// Family enumerates the supported randomization laws
type Family string

const (
	Laplace  Family = "laplace"
	Logistic Family = "logistic"
)

// ParseFamily resolves a configuration tag to a Family
func ParseFamily(s string) (Family, error) {
	switch Family(strings.ToLower(strings.TrimSpace(s))) {
	case Laplace:
		return Laplace, nil
	case Logistic:
		return Logistic, nil
	}
	return "", core.NewUnknownFamilyError("randomization", s)
}

// Law is a centered, symmetric randomization density g with a scale parameter
type Law interface {
	Family() Family
	Scale() float64

	// Derivative writes -d/dw log g(w) for each coordinate of omega into dst
	Derivative(dst, omega []float64)

	// CDF is the univariate distribution function
	CDF(x float64) float64

	// Sample fills dst with independent draws
	Sample(dst []float64, src rand.Source)
}

// New resolves a Law once, at configuration time
func New(family Family, scale float64) (Law, error) {
	if !(scale > 0) || math.IsInf(scale, 0) {
		return nil, fmt.Errorf("%w: randomization scale must be positive and finite, got %v", core.ErrInvalidInput, scale)
	}
	switch family {
	case Laplace:
		return &laplaceLaw{scale: scale, dist: distuv.Laplace{Mu: 0, Scale: scale}}, nil
	case Logistic:
		return &logisticLaw{scale: scale, dist: distuv.Logistic{Mu: 0, S: scale}}, nil
	}
	return nil, core.NewUnknownFamilyError("randomization", string(family))
}

type laplaceLaw struct {
	scale float64
	dist  distuv.Laplace
}

func (l *laplaceLaw) Family() Family        { return Laplace }
func (l *laplaceLaw) Scale() float64        { return l.scale }
func (l *laplaceLaw) CDF(x float64) float64 { return l.dist.CDF(x) }

// Derivative of |w|/b is sign(w)/b, with sign(0) = 0
func (l *laplaceLaw) Derivative(dst, omega []float64) {
	inv := 1 / l.scale
	for i, w := range omega {
		switch {
		case w > 0:
			dst[i] = inv
		case w < 0:
			dst[i] = -inv
		default:
			dst[i] = 0
		}
	}
}

func (l *laplaceLaw) Sample(dst []float64, src rand.Source) {
	d := distuv.Laplace{Mu: 0, Scale: l.scale, Src: src}
	for i := range dst {
		dst[i] = d.Rand()
	}
}

type logisticLaw struct {
	scale float64
	dist  distuv.Logistic
}

func (l *logisticLaw) Family() Family        { return Logistic }
func (l *logisticLaw) Scale() float64        { return l.scale }
func (l *logisticLaw) CDF(x float64) float64 { return l.dist.CDF(x) }

// Derivative of -log g for the logistic law is tanh(w/2s)/s, which saturates at ±1/s
func (l *logisticLaw) Derivative(dst, omega []float64) {
	for i, w := range omega {
		dst[i] = math.Tanh(w/(2*l.scale)) / l.scale
	}
}

// Sample inverts the CDF; distuv.Logistic has no sampler of its own
func (l *logisticLaw) Sample(dst []float64, src rand.Source) {
	u := distuv.Uniform{Min: 0, Max: 1, Src: src}
	for i := range dst {
		dst[i] = l.dist.Quantile(u.Rand())
	}
}
