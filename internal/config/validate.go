package config

import (
	"fmt"
	"math"
	"strings"
)

// weightEpsilon is the tolerance when checking that a weight set sums to 1.0
const weightEpsilon = 1e-6

// ConfigurationError reports every invalid weight set or threshold ordering found at load time.
// Invalid values are never clamped or normalized.
type ConfigurationError struct {
	Problems []string
}

func (e *ConfigurationError) Error() string {
	return "invalid configuration: " + strings.Join(e.Problems, "; ")
}

func (e *ConfigurationError) add(format string, args ...interface{}) {
	e.Problems = append(e.Problems, fmt.Sprintf(format, args...))
}

// Validate validates the configuration
func (c *Config) Validate() error {
	errs := &ConfigurationError{}

	checkWeights(errs, "dedup.weights", c.Dedup.Weights.Sum(),
		c.Dedup.Weights.URL, c.Dedup.Weights.Content, c.Dedup.Weights.Metadata, c.Dedup.Weights.Semantic)
	checkWeights(errs, "admission.weights", c.Admission.Weights.Sum(),
		c.Admission.Weights.Reachability, c.Admission.Weights.Relevance, c.Admission.Weights.Authority,
		c.Admission.Weights.Policy, c.Admission.Weights.Duplicate, c.Admission.Weights.Feasibility,
		c.Admission.Weights.Samples)
	checkWeights(errs, "evaluation.weights", c.Evaluation.Weights.Sum(),
		c.Evaluation.Weights.Volume, c.Evaluation.Weights.Quality, c.Evaluation.Weights.Technical,
		c.Evaluation.Weights.Value)

	a := c.Admission
	checkUnit(errs, "admission.accept_threshold", a.AcceptThreshold)
	checkUnit(errs, "admission.manual_review_threshold", a.ManualReviewThreshold)
	checkUnit(errs, "admission.reject_threshold", a.RejectThreshold)
	if a.AcceptThreshold <= a.ManualReviewThreshold {
		errs.add("admission.accept_threshold (%.3f) must be greater than admission.manual_review_threshold (%.3f)",
			a.AcceptThreshold, a.ManualReviewThreshold)
	}
	if a.ManualReviewThreshold <= a.RejectThreshold {
		errs.add("admission.manual_review_threshold (%.3f) must be greater than admission.reject_threshold (%.3f)",
			a.ManualReviewThreshold, a.RejectThreshold)
	}
	if a.MaxInFlight < 1 {
		errs.add("admission.max_in_flight must be at least 1")
	}

	d := c.Dedup
	checkUnit(errs, "dedup.merge_threshold", d.MergeThreshold)
	checkUnit(errs, "dedup.review_threshold", d.ReviewThreshold)
	if d.MergeThreshold <= d.ReviewThreshold {
		errs.add("dedup.merge_threshold (%.3f) must be greater than dedup.review_threshold (%.3f)",
			d.MergeThreshold, d.ReviewThreshold)
	}
	if d.AmountTolerance < 0 {
		errs.add("dedup.amount_tolerance must not be negative")
	}
	if d.DeadlineTolerance < 0 {
		errs.add("dedup.deadline_tolerance must not be negative")
	}
	if d.CandidateCap < 1 {
		errs.add("dedup.candidate_cap must be at least 1")
	}

	p := c.Pilot
	checkUnit(errs, "pilot.promote_threshold", p.PromoteThreshold)
	checkUnit(errs, "pilot.extend_threshold", p.ExtendThreshold)
	if p.PromoteThreshold <= p.ExtendThreshold {
		errs.add("pilot.promote_threshold (%.3f) must be greater than pilot.extend_threshold (%.3f)",
			p.PromoteThreshold, p.ExtendThreshold)
	}
	if p.Duration <= 0 {
		errs.add("pilot.duration must be positive")
	}
	if p.MaxExtensions < 0 {
		errs.add("pilot.max_extensions must not be negative")
	}

	e := c.Evaluation
	if !(e.ExcellentBand > e.GoodBand && e.GoodBand > e.AcceptableBand) {
		errs.add("evaluation bands must be ordered excellent > good > acceptable")
	}
	if e.Failing.ApprovalRate > e.Minimums.ApprovalRate {
		errs.add("evaluation.failing.approval_rate must not exceed evaluation.minimums.approval_rate")
	}
	if e.Failing.Reliability > e.Minimums.Reliability {
		errs.add("evaluation.failing.reliability must not exceed evaluation.minimums.reliability")
	}
	if e.Failing.DuplicateRate < e.Minimums.DuplicateRate {
		errs.add("evaluation.failing.duplicate_rate must not be below evaluation.minimums.duplicate_rate")
	}
	if e.LatencyBad <= e.LatencyGood {
		errs.add("evaluation.latency_bad must be greater than evaluation.latency_good")
	}

	if c.Lease.TTL <= 0 {
		errs.add("lease.ttl must be positive")
	}
	if c.Lease.Backend != "memory" && c.Lease.Backend != "redis" {
		errs.add("lease.backend must be memory or redis, got %q", c.Lease.Backend)
	}
	if c.Fetcher.Timeout <= 0 {
		errs.add("fetcher.timeout must be positive")
	}

	if len(errs.Problems) > 0 {
		return errs
	}
	return nil
}

func checkWeights(errs *ConfigurationError, name string, sum float64, weights ...float64) {
	for _, w := range weights {
		if w < 0 {
			errs.add("%s must not contain negative weights", name)
			break
		}
	}
	if math.Abs(sum-1.0) > weightEpsilon {
		errs.add("%s must sum to 1.0, got %.6f", name, sum)
	}
}

func checkUnit(errs *ConfigurationError, name string, v float64) {
	if v < 0 || v > 1 {
		errs.add("%s must be within [0,1], got %.3f", name, v)
	}
}
