package selection

import (
	"fmt"
	"math"

	"selinf/domain/core"
)

// Tail selects which tail of the sampled statistic the p-value is read from
type Tail string

const (
	TailLower    Tail = "lower"     // P(T <= t_obs), the cdf at the observed value
	TailUpper    Tail = "upper"     // P(T > t_obs), the ccdf at the observed value
	TailTwoSided Tail = "two_sided" // 2 * min(p, 1-p) of the lower tail
)

// ParseTail parses a tail name
func ParseTail(s string) (Tail, error) {
	switch Tail(s) {
	case TailLower, TailUpper, TailTwoSided:
		return Tail(s), nil
	}
	return "", fmt.Errorf("unknown tail %q", s)
}

// TwoSided folds a lower-tail probability into a two-sided p-value
func TwoSided(p float64) float64 {
	return 2 * math.Min(p, 1-p)
}

// Status is the outcome class of one inference run
type Status string

const (
	StatusComputed Status = "computed"
	StatusSkipped  Status = "skipped"
)

// SkipReason explains why a replicate produced no usable p-value
type SkipReason string

const (
	ReasonNone                  SkipReason = ""
	ReasonSelectionInconsistent SkipReason = "selection_inconsistent" // true support not contained in the active set
)

// SampleSummary describes the Monte-Carlo sample of the test statistic.
// It is returned to callers so that logging stays outside the sampler.
type SampleSummary struct {
	Size   int     `json:"size"`
	Mean   float64 `json:"mean"`
	StdDev float64 `json:"std_dev"`
	Min    float64 `json:"min"`
	Max    float64 `json:"max"`
	Q05    float64 `json:"q05"`
	Median float64 `json:"median"`
	Q95    float64 `json:"q95"`
}

// Result is the outcome of one selective inference run for one target.
// INVARIANTS:
// - Status == StatusComputed implies 0 <= PValue <= 1
// - Status == StatusSkipped implies Reason != ReasonNone and PValue is meaningless
type Result struct {
	Target   core.TargetKey `json:"target"`
	Status   Status         `json:"status"`
	Reason   SkipReason     `json:"reason,omitempty"`
	Tail     Tail           `json:"tail"`
	PValue   float64        `json:"p_value"`
	Observed float64        `json:"observed"`
	Retained int            `json:"retained"` // post burn-in states mapped through the statistic
	Sample   SampleSummary  `json:"sample"`
}

// Usable reports whether the result carries a p-value
func (r *Result) Usable() bool {
	return r != nil && r.Status == StatusComputed
}

// Skipped builds the "no usable result" outcome
func Skipped(target core.TargetKey, reason SkipReason) *Result {
	return &Result{
		Target: target,
		Status: StatusSkipped,
		Reason: reason,
		PValue: math.NaN(),
	}
}

// ReplicateOutcome records every target result of one replicate
type ReplicateOutcome struct {
	ID      core.ReplicateID `json:"id"`
	Index   int              `json:"index"`
	Seed    uint64           `json:"seed"`
	Results []LabeledResult  `json:"results"`
}

// LabeledResult tags a result with whether its target is truly null
type LabeledResult struct {
	Null   bool    `json:"null"`
	Result *Result `json:"result"`
}

// UniformityCheck is a Kolmogorov-Smirnov comparison of null p-values to U(0,1)
type UniformityCheck struct {
	N         int     `json:"n"`
	Statistic float64 `json:"statistic"` // sup |F_n - F|
	PValue    float64 `json:"p_value"`   // asymptotic Kolmogorov p-value
}

// ReplicateSummary aggregates the null and alternative p-value collections of a run.
// Skipped replicates are excluded from both collections and only counted.
type ReplicateSummary struct {
	RunID       core.RunID             `json:"run_id"`
	Fingerprint core.ConfigFingerprint `json:"fingerprint"`
	StartedAt   core.Timestamp         `json:"started_at"`
	Replicates  int                    `json:"replicates"`
	Skipped     int                    `json:"skipped"`
	Null        []float64              `json:"null"`
	Alternative []float64              `json:"alternative"`
	NullMean    float64                `json:"null_mean"`
	NullStdDev  float64                `json:"null_std_dev"`
	Uniformity  *UniformityCheck       `json:"uniformity,omitempty"`
	Outcomes    []ReplicateOutcome     `json:"outcomes"`
}
