package app

import (
	"context"
	"fmt"
	"math"
	"math/rand/v2"
	"sort"
	"strconv"
	"time"

	"github.com/montanaflynn/stats"
	"golang.org/x/sync/errgroup"
	gstat "gonum.org/v1/gonum/stat"

	"selinf/domain/core"
	"selinf/domain/selection"
	"selinf/internal"
	"selinf/internal/errors"
	"selinf/internal/inference"
	"selinf/ports"
)

// uniformGrid is the size of the deterministic U(0,1) reference sample the
// null p-values are compared against
const uniformGrid = 10000

// Scenario produces the labeled target results of one replicate
type Scenario interface {
	Name() string
	Replicate(ctx context.Context, driver *inference.Driver, index int, src rand.Source) ([]selection.LabeledResult, error)
}

// ReplicateService runs independent replicates of a scenario in parallel
type ReplicateService struct {
	driver  *inference.Driver
	rngPort ports.RNGPort
	sink    ports.ResultSinkPort // optional
	metrics *Metrics
	logger  *internal.Logger
}

// ReplicateRequest defines one simulation run
type ReplicateRequest struct {
	Scenario    Scenario
	Replicates  int
	Workers     int
	Seed        uint64
	RunID       core.RunID // optional, will be generated if empty
	Fingerprint core.ConfigFingerprint
}

// NewReplicateService creates a replicate service. sink and metrics may be nil.
func NewReplicateService(driver *inference.Driver, rngPort ports.RNGPort, sink ports.ResultSinkPort, metrics *Metrics, logger *internal.Logger) *ReplicateService {
	if logger == nil {
		logger = internal.NewNopLogger()
	}
	return &ReplicateService{
		driver:  driver,
		rngPort: rngPort,
		sink:    sink,
		metrics: metrics,
		logger:  logger.With("replicates"),
	}
}

// Run executes every replicate and aggregates the p-values. The first
// replicate error cancels the remaining ones and fails the run.
func (s *ReplicateService) Run(ctx context.Context, req ReplicateRequest) (*selection.ReplicateSummary, error) {
	if req.Scenario == nil {
		return nil, errors.InvalidInput("replicate request needs a scenario")
	}
	if req.Replicates <= 0 {
		return nil, errors.InvalidInput(fmt.Sprintf("replicates must be positive, got %d", req.Replicates))
	}
	workers := req.Workers
	if workers <= 0 {
		workers = 1
	}
	runID := req.RunID
	if runID == "" {
		runID = core.NewRunID()
	}
	started := core.Now()
	name := req.Scenario.Name()

	s.logger.Info("run %s: %d replicates of %s on %d workers (seed %d)", runID, req.Replicates, name, workers, req.Seed)

	outcomes := make([]selection.ReplicateOutcome, req.Replicates)
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(workers)
	for i := 0; i < req.Replicates; i++ {
		g.Go(func() error {
			seed, err := s.replicateSeed(gctx, name, i, req.Seed)
			if err != nil {
				return err
			}
			outcome, err := s.RunOne(gctx, req.Scenario, i, seed)
			if err != nil {
				return &errors.AppError{
					Code:    errors.CodeReplicateFailed,
					Message: fmt.Sprintf("replicate %d (seed %d)", i, seed),
					Cause:   err,
				}
			}
			outcome.ID = core.ReplicateIDFor(runID, i)
			outcomes[i] = *outcome
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	summary := Summarize(outcomes)
	summary.RunID = runID
	summary.Fingerprint = req.Fingerprint
	summary.StartedAt = started
	s.record(name, summary)

	s.logger.Info("run %s finished in %s %s", runID, started.Since().Round(time.Millisecond), internal.Fields(map[string]interface{}{
		"null":        len(summary.Null),
		"alternative": len(summary.Alternative),
		"skipped":     summary.Skipped,
		"null_mean":   summary.NullMean,
	}))
	if summary.Uniformity != nil {
		s.logger.Info("null uniformity: KS D = %.4f, p = %.4f over %d p-values", summary.Uniformity.Statistic, summary.Uniformity.PValue, summary.Uniformity.N)
	}

	if s.sink != nil {
		if err := s.sink.WriteSummary(ctx, summary); err != nil {
			return summary, err
		}
	}
	return summary, nil
}

// RunOne runs replicate index from its own seed. Re-running a replicate with
// the seed recorded in its outcome reproduces it exactly.
func (s *ReplicateService) RunOne(ctx context.Context, scenario Scenario, index int, seed uint64) (*selection.ReplicateOutcome, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	start := time.Now()
	results, err := scenario.Replicate(ctx, s.driver, index, rand.NewPCG(seed, uint64(index)))
	if s.metrics != nil {
		result := "ok"
		if err != nil {
			result = "failed"
		}
		s.metrics.replicates.WithLabelValues(scenario.Name(), result).Inc()
		s.metrics.duration.WithLabelValues(scenario.Name()).Observe(time.Since(start).Seconds())
	}
	if err != nil {
		return nil, err
	}
	s.logger.Debug("replicate %d: %d targets in %s", index, len(results), time.Since(start).Round(time.Millisecond))
	return &selection.ReplicateOutcome{Index: index, Seed: seed, Results: results}, nil
}

// replicateSeed derives the seed of replicate index. Streams are keyed by
// scenario and index, never by run ID, so a run seed reproduces the run.
func (s *ReplicateService) replicateSeed(ctx context.Context, scenario string, index int, runSeed uint64) (uint64, error) {
	stream, err := s.rngPort.Stream(ctx, scenario, "replicate", strconv.Itoa(index), runSeed)
	if err != nil {
		return 0, err
	}
	return stream.Uint64(), nil
}

// Replay checks a recorded outcome against the run seed it came from: the
// seed must re-derive from runSeed and rerunning it must give back every
// p-value bit for bit.
func (s *ReplicateService) Replay(ctx context.Context, scenario Scenario, runSeed uint64, outcome selection.ReplicateOutcome) error {
	seed, err := s.replicateSeed(ctx, scenario.Name(), outcome.Index, runSeed)
	if err != nil {
		return err
	}
	if seed != outcome.Seed {
		return fmt.Errorf("%w: replicate %d recorded seed %d, run seed %d derives %d", core.ErrSeedMismatch, outcome.Index, outcome.Seed, runSeed, seed)
	}
	again, err := s.RunOne(ctx, scenario, outcome.Index, seed)
	if err != nil {
		return err
	}
	if len(again.Results) != len(outcome.Results) {
		return fmt.Errorf("%w: replicate %d had %d targets, replay has %d", core.ErrNonDeterministic, outcome.Index, len(outcome.Results), len(again.Results))
	}
	for k, want := range outcome.Results {
		got := again.Results[k]
		if !sameResult(want.Result, got.Result) {
			return fmt.Errorf("%w: replicate %d target %d changed on replay", core.ErrNonDeterministic, outcome.Index, k)
		}
	}
	return nil
}

func sameResult(a, b *selection.Result) bool {
	if a == nil || b == nil {
		return a == b
	}
	samePValue := a.PValue == b.PValue || (math.IsNaN(a.PValue) && math.IsNaN(b.PValue))
	return a.Target == b.Target && a.Status == b.Status && samePValue
}

func (s *ReplicateService) record(scenario string, summary *selection.ReplicateSummary) {
	if s.metrics == nil {
		return
	}
	s.metrics.targets.WithLabelValues(scenario, string(selection.StatusSkipped)).Add(float64(summary.Skipped))
	s.metrics.targets.WithLabelValues(scenario, string(selection.StatusComputed)).Add(float64(len(summary.Null) + len(summary.Alternative)))
	for _, p := range summary.Null {
		s.metrics.pvalues.WithLabelValues(scenario, "null").Observe(p)
	}
	for _, p := range summary.Alternative {
		s.metrics.pvalues.WithLabelValues(scenario, "alternative").Observe(p)
	}
}

// Summarize splits the usable p-values into null and alternative collections
// and checks the null collection for uniformity. Skipped targets are only
// counted.
func Summarize(outcomes []selection.ReplicateOutcome) *selection.ReplicateSummary {
	summary := &selection.ReplicateSummary{
		Replicates:  len(outcomes),
		Null:        []float64{},
		Alternative: []float64{},
		Outcomes:    outcomes,
	}
	for _, outcome := range outcomes {
		for _, labeled := range outcome.Results {
			if !labeled.Result.Usable() {
				summary.Skipped++
				continue
			}
			if labeled.Null {
				summary.Null = append(summary.Null, labeled.Result.PValue)
			} else {
				summary.Alternative = append(summary.Alternative, labeled.Result.PValue)
			}
		}
	}

	// an empty null collection leaves mean and sd at zero
	if mean, err := stats.Mean(summary.Null); err == nil {
		summary.NullMean = mean
	}
	if sd, err := stats.StandardDeviationSample(summary.Null); err == nil && !math.IsNaN(sd) {
		summary.NullStdDev = sd
	}
	summary.Uniformity = Uniformity(summary.Null)
	return summary
}

// Uniformity is the Kolmogorov-Smirnov distance between the p-values and
// U(0,1), with its asymptotic p-value. It returns nil for an empty sample.
func Uniformity(pvalues []float64) *selection.UniformityCheck {
	n := len(pvalues)
	if n == 0 {
		return nil
	}
	sorted := append([]float64(nil), pvalues...)
	sort.Float64s(sorted)
	grid := make([]float64, uniformGrid)
	for i := range grid {
		grid[i] = (float64(i) + 0.5) / uniformGrid
	}
	d := gstat.KolmogorovSmirnov(sorted, nil, grid, nil)
	return &selection.UniformityCheck{
		N:         n,
		Statistic: d,
		PValue:    kolmogorovPValue(d, n),
	}
}

// kolmogorovPValue is P(D_n > d) from the Kolmogorov limit law, with the
// Stephens small-sample correction of the argument
func kolmogorovPValue(d float64, n int) float64 {
	if d <= 0 {
		return 1
	}
	sn := math.Sqrt(float64(n))
	lambda := (sn + 0.12 + 0.11/sn) * d
	// the alternating series converges slowly near zero, where Q is 1 to 5 digits
	if lambda < 0.3 {
		return 1
	}
	sum := 0.0
	for k := 1; k <= 100; k++ {
		term := math.Exp(-2 * float64(k*k) * lambda * lambda)
		if k%2 == 1 {
			sum += term
		} else {
			sum -= term
		}
		if term < 1e-12 {
			break
		}
	}
	p := 2 * sum
	if p < 0 {
		return 0
	}
	if p > 1 {
		return 1
	}
	return p
}
