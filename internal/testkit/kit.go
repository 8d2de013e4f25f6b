package testkit

import (
	"context"
	"fmt"
	"math/rand/v2"
	"sync"

	"selinf/adapters/rng"
	"selinf/domain/selection"
	"selinf/internal"
	"selinf/internal/inference"
	"selinf/ports"
)

// TestKit provides testing utilities and fixtures
type TestKit struct {
	rng  *RNGAdapter                // Shared stream recorder
	sink *InMemoryResultSinkAdapter // Shared summary store
}

// NewTestKit creates a new test kit instance
func NewTestKit() *TestKit {
	return &TestKit{
		rng:  NewRNGAdapter(),
		sink: NewInMemoryResultSinkAdapter(),
	}
}

// RNGAdapter returns the recording RNG adapter
func (t *TestKit) RNGAdapter() *RNGAdapter {
	return t.rng
}

// ResultSinkAdapter returns the in-memory result sink
func (t *TestKit) ResultSinkAdapter() *InMemoryResultSinkAdapter {
	return t.sink
}

// Driver builds a p-value driver on the kit's RNG with logging silenced
func (t *TestKit) Driver(settings inference.Settings) (*inference.Driver, error) {
	return inference.NewDriver(settings, t.rng, internal.NewNopLogger())
}

// RNGAdapter implements the RNGPort interface for testing. It delegates to
// the production PCG adapter and records every stream that was requested.
type RNGAdapter struct {
	inner *rng.PCGAdapter
	mu    sync.Mutex
	names []string
}

var _ ports.RNGPort = (*RNGAdapter)(nil)

// NewRNGAdapter creates a recording RNG adapter
func NewRNGAdapter() *RNGAdapter {
	return &RNGAdapter{inner: rng.NewPCGAdapter()}
}

// SeededStream creates a deterministic source for a named operation
func (r *RNGAdapter) SeededStream(ctx context.Context, name string, seed uint64) (rand.Source, error) {
	r.record(fmt.Sprintf("%s#%d", name, seed))
	return r.inner.SeededStream(ctx, name, seed)
}

// Stream creates a deterministic source for a specific run/stage/key
func (r *RNGAdapter) Stream(ctx context.Context, runID, stageName, key string, baseSeed uint64) (rand.Source, error) {
	r.record(fmt.Sprintf("%s/%s/%s#%d", runID, stageName, key, baseSeed))
	return r.inner.Stream(ctx, runID, stageName, key, baseSeed)
}

// Requested returns the recorded stream names in request order
func (r *RNGAdapter) Requested() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.names...)
}

func (r *RNGAdapter) record(name string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.names = append(r.names, name)
}

// InMemoryResultSinkAdapter implements ResultSinkPort with in-memory storage
type InMemoryResultSinkAdapter struct {
	summaries []*selection.ReplicateSummary
	mu        sync.RWMutex
}

var _ ports.ResultSinkPort = (*InMemoryResultSinkAdapter)(nil)

func NewInMemoryResultSinkAdapter() *InMemoryResultSinkAdapter {
	return &InMemoryResultSinkAdapter{}
}

func (s *InMemoryResultSinkAdapter) WriteSummary(ctx context.Context, summary *selection.ReplicateSummary) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if summary == nil {
		return fmt.Errorf("nil summary")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.summaries = append(s.summaries, summary)
	return nil
}

// Summaries returns every summary written so far
func (s *InMemoryResultSinkAdapter) Summaries() []*selection.ReplicateSummary {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]*selection.ReplicateSummary(nil), s.summaries...)
}
