package ports

import (
	"context"
	"math/rand/v2"
)

// RNGPort provides seeded random number generation for deterministic sampling
type RNGPort interface {
	// SeededStream creates a deterministic source for a named operation
	SeededStream(ctx context.Context, name string, seed uint64) (rand.Source, error)

	// Stream creates a deterministic source for one replicate of a run.
	// The same (runID, stageName, key, baseSeed) always yields the same stream,
	// so replicates are reproducible independently of scheduling order.
	Stream(ctx context.Context, runID, stageName, key string, baseSeed uint64) (rand.Source, error)
}
