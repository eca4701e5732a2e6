// Package scoring computes note helpfulness scores. The Bayesian average
// scorer is the universal fallback every tier can run; higher-tier
// algorithms (matrix factorization, clustering, reputation weighting) are
// external and reach the engine through a Registry.
package scoring

import "math"

// Confidence levels carried in score metadata.
const (
	ConfidenceNoData      = "no_data"
	ConfidenceProvisional = "provisional"
	ConfidenceStandard    = "standard"
)

// AlgorithmBayesianAverage identifies this scorer in metadata records.
const AlgorithmBayesianAverage = "bayesian_average"

const (
	DefaultPriorWeight             = 2.0
	DefaultPriorMean               = 0.5
	DefaultMinRatingsForConfidence = 5
)

// Stats are cumulative input-sanitization counters. They accumulate across
// calls until ResetStatistics.
type Stats struct {
	ClampingCount   int64 `json:"clamping_count"`
	ZeroRatingCount int64 `json:"zero_rating_count"`
}

// PriorValues records the hyperparameters a score was computed with.
type PriorValues struct {
	C float64 `json:"c"`
	M float64 `json:"m"`
}

// Metadata qualifies a computed score for downstream display decisions.
type Metadata struct {
	Algorithm       string      `json:"algorithm"`
	ConfidenceLevel string      `json:"confidence_level"`
	RatingCount     int         `json:"rating_count"`
	ClampedRatings  int         `json:"clamped_ratings"`
	PriorValues     PriorValues `json:"prior_values"`
	NoData          bool        `json:"no_data,omitempty"`
}

// BayesianScorer computes shrinkage-regularized helpfulness scores: C
// pseudo-ratings at the prior mean are blended with the observed ratings, so
// sparsely rated notes score near the prior and heavily rated notes near
// their raw mean.
//
// A scorer is single-owner. The statistics counters are plain fields; give
// each worker its own scorer and aggregate Stats after the workers drain.
type BayesianScorer struct {
	c          float64 // prior weight, pseudo-observation count
	m          float64 // prior mean, the score of an unrated note
	minRatings int     // ratings needed for standard confidence

	clampingCount   int64
	zeroRatingCount int64
}

// Option configures a BayesianScorer at construction.
type Option func(*BayesianScorer)

// WithPriorWeight sets the pseudo-observation count C. Non-positive values
// are ignored and the default kept.
func WithPriorWeight(c float64) Option {
	return func(s *BayesianScorer) {
		if c > 0 && !math.IsInf(c, 1) && !math.IsNaN(c) {
			s.c = c
		}
	}
}

// WithPriorMean sets the prior mean m, clamped to [0,1].
func WithPriorMean(m float64) Option {
	return func(s *BayesianScorer) {
		if !math.IsNaN(m) {
			s.m = clamp01(m)
		}
	}
}

// WithMinRatingsForConfidence sets how many ratings a note needs before its
// metadata reports standard confidence. Non-positive values are ignored.
func WithMinRatingsForConfidence(n int) Option {
	return func(s *BayesianScorer) {
		if n > 0 {
			s.minRatings = n
		}
	}
}

// NewBayesianScorer builds a scorer with the default hyperparameters
// (C=2.0, m=0.5, 5 ratings for standard confidence) unless options say
// otherwise. Construction never fails; invalid option values keep defaults.
func NewBayesianScorer(opts ...Option) *BayesianScorer {
	s := &BayesianScorer{
		c:          DefaultPriorWeight,
		m:          DefaultPriorMean,
		minRatings: DefaultMinRatingsForConfidence,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// CalculateScore aggregates ratings into a [0,1] score and moves the
// cumulative sanitization counters. Out-of-range ratings are clamped in and
// counted; NaN becomes 0 and counts as both a clamp and a zero. An empty
// slice returns the prior mean untouched with no counter movement.
func (s *BayesianScorer) CalculateScore(ratings []float64) float64 {
	if len(ratings) == 0 {
		return s.m
	}
	score, clamped, zeros := s.aggregate(ratings)
	s.clampingCount += int64(clamped)
	s.zeroRatingCount += int64(zeros)
	return score
}

// ScoreMetadata computes the score and its qualifying metadata. Unlike
// CalculateScore it is side-effect free: the per-call clamp count lands in
// the metadata, not in the cumulative counters.
func (s *BayesianScorer) ScoreMetadata(ratings []float64) (float64, Metadata) {
	md := Metadata{
		Algorithm:   AlgorithmBayesianAverage,
		RatingCount: len(ratings),
		PriorValues: PriorValues{C: s.c, M: s.m},
	}

	if len(ratings) == 0 {
		md.ConfidenceLevel = ConfidenceNoData
		md.NoData = true
		return s.m, md
	}

	score, clamped, _ := s.aggregate(ratings)
	md.ClampedRatings = clamped
	if len(ratings) < s.minRatings {
		md.ConfidenceLevel = ConfidenceProvisional
	} else {
		md.ConfidenceLevel = ConfidenceStandard
	}
	return score, md
}

// UpdatePriorFromSystemAverage replaces the prior mean with the observed
// system-wide mean helpfulness, clamped to [0,1]. The next score sees the
// new prior immediately; last write wins. The clamp sanitizes a query
// result, not a rating, and moves no counters. A NaN average is ignored.
func (s *BayesianScorer) UpdatePriorFromSystemAverage(avg float64) {
	if math.IsNaN(avg) {
		return
	}
	s.m = clamp01(avg)
}

// ClampingStatistics returns the cumulative sanitization counters.
func (s *BayesianScorer) ClampingStatistics() Stats {
	return Stats{ClampingCount: s.clampingCount, ZeroRatingCount: s.zeroRatingCount}
}

// ResetStatistics zeroes the cumulative counters.
func (s *BayesianScorer) ResetStatistics() {
	s.clampingCount = 0
	s.zeroRatingCount = 0
}

func (s *BayesianScorer) aggregate(ratings []float64) (score float64, clamped, zeros int) {
	sum := 0.0
	for _, r := range ratings {
		v, c := clampRating(r)
		if c {
			clamped++
		}
		if v == 0 {
			zeros++
		}
		sum += v
	}
	score = (s.c*s.m + sum) / (s.c + float64(len(ratings)))
	return score, clamped, zeros
}

// clampRating forces r into [0,1]. NaN becomes 0 and counts as a clamp so
// malformed input can never poison the aggregate.
func clampRating(r float64) (float64, bool) {
	switch {
	case math.IsNaN(r):
		return 0, true
	case r < 0:
		return 0, true
	case r > 1:
		return 1, true
	default:
		return r, false
	}
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
