package rng

import (
	"context"
	"math/rand/v2"

	"selinf/ports"
)

// PCGAdapter implements ports.RNGPort with PCG sources. Streams are derived
// from names and seeds only, never from scheduling order, so replicates run
// in parallel reproduce the sequential result.
type PCGAdapter struct{}

var _ ports.RNGPort = (*PCGAdapter)(nil)

// NewPCGAdapter creates the production RNG adapter
func NewPCGAdapter() *PCGAdapter {
	return &PCGAdapter{}
}

// SeededStream creates a deterministic source for a named operation
func (a *PCGAdapter) SeededStream(ctx context.Context, name string, seed uint64) (rand.Source, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return rand.NewPCG(seed, uint64(hashString(name))), nil
}

// Stream mixes runID, stageName and key into the base seed
func (a *PCGAdapter) Stream(ctx context.Context, runID, stageName, key string, baseSeed uint64) (rand.Source, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	seed := baseSeed
	for _, part := range []string{runID, stageName, key} {
		if part != "" {
			seed = mix(seed + uint64(hashString(part)))
		}
	}
	return rand.NewPCG(seed, mix(seed^0x9e3779b97f4a7c15)), nil
}

// hashString is djb2
func hashString(s string) uint32 {
	var hash uint32 = 5381
	for _, c := range s {
		hash = ((hash << 5) + hash) + uint32(c)
	}
	return hash
}

// mix is the splitmix64 finalizer; it spreads nearby seeds apart
func mix(z uint64) uint64 {
	z = (z ^ (z >> 30)) * 0xbf58476d1ce4e5b9
	z = (z ^ (z >> 27)) * 0x94d049bb133111eb
	return z ^ (z >> 31)
}
