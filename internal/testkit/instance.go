package testkit

import (
	"math"
	"math/rand/v2"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat/distuv"
)

// InstanceConfig configures the synthetic regression generator
type InstanceConfig struct {
	N           int     `json:"n"`
	P           int     `json:"p"`
	S           int     `json:"s"`            // number of nonzero coefficients
	SNR         float64 `json:"snr"`          // magnitude of every nonzero coefficient, in noise units
	Rho         float64 `json:"rho"`          // equicorrelation between columns
	Sigma       float64 `json:"sigma"`        // noise standard deviation
	RandomSigns bool    `json:"random_signs"` // flip each nonzero coefficient with probability 1/2
}

// DefaultInstanceConfig returns the n = 200, p = 20, s = 5 instance
func DefaultInstanceConfig() InstanceConfig {
	return InstanceConfig{
		N:           200,
		P:           20,
		S:           5,
		SNR:         7,
		Rho:         0,
		Sigma:       1,
		RandomSigns: true,
	}
}

// Instance is one simulated data set with a known support
type Instance struct {
	X       *mat.Dense
	Y       []float64
	Beta    []float64
	Support []int
	Sigma   float64
}

// InstanceGenerator draws Gaussian designs with unit-norm columns
type InstanceGenerator struct {
	config InstanceConfig
}

// NewInstanceGenerator creates a generator
func NewInstanceGenerator(config InstanceConfig) *InstanceGenerator {
	return &InstanceGenerator{config: config}
}

// Config returns the generator settings
func (g *InstanceGenerator) Config() InstanceConfig { return g.config }

// Generate draws one instance from src. The first S coordinates carry the
// signal.
func (g *InstanceGenerator) Generate(src rand.Source) *Instance {
	c := g.config
	normal := distuv.Normal{Mu: 0, Sigma: 1, Src: src}
	coin := distuv.Bernoulli{P: 0.5, Src: src}

	x := mat.NewDense(c.N, c.P, nil)
	a, b := math.Sqrt(1-c.Rho), math.Sqrt(c.Rho)
	for i := 0; i < c.N; i++ {
		shared := normal.Rand()
		for j := 0; j < c.P; j++ {
			x.Set(i, j, a*normal.Rand()+b*shared)
		}
	}
	// center and scale every column to unit norm
	col := make([]float64, c.N)
	for j := 0; j < c.P; j++ {
		mat.Col(col, j, x)
		mean := floats.Sum(col) / float64(c.N)
		floats.AddConst(-mean, col)
		floats.Scale(1/floats.Norm(col, 2), col)
		x.SetCol(j, col)
	}

	beta := make([]float64, c.P)
	support := make([]int, 0, c.S)
	for j := 0; j < c.S && j < c.P; j++ {
		beta[j] = c.SNR * c.Sigma
		if c.RandomSigns && coin.Rand() == 1 {
			beta[j] = -beta[j]
		}
		support = append(support, j)
	}

	y := make([]float64, c.N)
	mean := mat.NewVecDense(c.N, nil)
	mean.MulVec(x, mat.NewVecDense(c.P, beta))
	for i := range y {
		y[i] = mean.AtVec(i) + c.Sigma*normal.Rand()
	}
	return &Instance{X: x, Y: y, Beta: beta, Support: support, Sigma: c.Sigma}
}
