package tiers

import "fmt"

// Config describes the scoring capabilities of one tier. The table below is
// built once at init and never mutated; callers receive copies.
type Config struct {
	Tier     Tier  `json:"tier"`
	MinNotes int64 `json:"min_notes"`
	// MaxNotes is the exclusive upper bound of the tier's note-count range.
	// Nil for the top tier, which is unbounded.
	MaxNotes             *int64   `json:"max_notes,omitempty"`
	Description          string   `json:"description"`
	Scorers              []string `json:"scorers"`
	RequiresFullPipeline bool     `json:"requires_full_pipeline"`
	EnableClustering     bool     `json:"enable_clustering"`
	ConfidenceWarnings   bool     `json:"confidence_warnings"`
}

// Scorer identifiers referenced by tier configs. BayesianAverage is the
// universal fallback and terminates every tier's scorer chain; the others
// are provided by the embedding system through a registry.
const (
	ScorerBayesianAverage     = "bayesian_average"
	ScorerWeightedAverage     = "weighted_average"
	ScorerMatrixFactorization = "matrix_factorization"
	ScorerClustering          = "clustering"
	ScorerReputationWeighted  = "reputation_weighted"
)

func upTo(n int64) *int64 { return &n }

// tierConfigs is indexed by Tier. Ranges are [MinNotes, MaxNotes) with the
// boundary note count belonging to the higher tier: 199 notes is still
// minimal, 200 is limited.
var tierConfigs = [...]Config{
	TierMinimal: {
		Tier:               TierMinimal,
		MinNotes:           0,
		MaxNotes:           upTo(200),
		Description:        "Bootstrap corpus, prior-dominated Bayesian scoring only",
		Scorers:            []string{ScorerBayesianAverage},
		ConfidenceWarnings: true,
	},
	TierLimited: {
		Tier:               TierLimited,
		MinNotes:           200,
		MaxNotes:           upTo(1000),
		Description:        "Small corpus, Bayesian scoring with low-confidence results",
		Scorers:            []string{ScorerBayesianAverage},
		ConfidenceWarnings: true,
	},
	TierBasic: {
		Tier:        TierBasic,
		MinNotes:    1000,
		MaxNotes:    upTo(5000),
		Description: "Moderate corpus, standard-confidence aggregate scoring",
		Scorers:     []string{ScorerWeightedAverage, ScorerBayesianAverage},
	},
	TierIntermediate: {
		Tier:                 TierIntermediate,
		MinNotes:             5000,
		MaxNotes:             upTo(10000),
		Description:          "Large corpus, matrix factorization with Bayesian fallback",
		Scorers:              []string{ScorerMatrixFactorization, ScorerBayesianAverage},
		RequiresFullPipeline: true,
	},
	TierAdvanced: {
		Tier:                 TierAdvanced,
		MinNotes:             10000,
		MaxNotes:             upTo(50000),
		Description:          "Very large corpus, full pipeline with rater clustering",
		Scorers:              []string{ScorerMatrixFactorization, ScorerClustering, ScorerBayesianAverage},
		RequiresFullPipeline: true,
		EnableClustering:     true,
	},
	TierFull: {
		Tier:                 TierFull,
		MinNotes:             50000,
		Description:          "Production-scale corpus, all scorers enabled",
		Scorers:              []string{ScorerMatrixFactorization, ScorerClustering, ScorerReputationWeighted, ScorerBayesianAverage},
		RequiresFullPipeline: true,
		EnableClustering:     true,
	},
}

// ForNoteCount maps a corpus size to its tier. Negative counts are treated
// as zero; the count accessor contract promises non-negative values.
func ForNoteCount(n int64) Tier {
	if n < 0 {
		n = 0
	}
	for t := TierFull; t > TierMinimal; t-- {
		if n >= tierConfigs[t].MinNotes {
			return t
		}
	}
	return TierMinimal
}

// ConfigFor returns the capability config for t. The returned copy shares
// the Scorers slice; callers must not mutate it.
func ConfigFor(t Tier) (Config, error) {
	if !t.Valid() {
		return Config{}, fmt.Errorf("tiers: config for tier %d: %w", int(t), ErrUnknownTier)
	}
	return tierConfigs[t], nil
}
