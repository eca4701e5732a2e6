package tiers

import "fmt"

// productionThreshold is the note count below which scores are not
// considered production quality. It matches the limited tier boundary today
// but is a policy constant, not a tier lookup.
const productionThreshold = 200

// Warnings builds operator-facing advisories for a corpus of noteCount notes
// scored at tier t. Pure function, no I/O. Ordering is stable: confidence
// advisory first, production-threshold advisory second, then exactly one
// capacity message (at maximum, or approaching the next tier, or none).
func Warnings(noteCount int64, t Tier) []string {
	cfg, err := ConfigFor(t)
	if err != nil {
		return []string{fmt.Sprintf("Unknown scoring tier %d. Scores cannot be qualified.", int(t))}
	}

	var warnings []string

	if cfg.ConfidenceWarnings {
		warnings = append(warnings, fmt.Sprintf(
			"Scoring at %s tier with %d notes. Results have reduced statistical confidence.", t, noteCount))
	}

	if noteCount < productionThreshold {
		warnings = append(warnings, fmt.Sprintf(
			"Corpus has %d notes, below the %d-note production threshold. Treat scores as preliminary.", noteCount, productionThreshold))
	}

	switch {
	case t == TierFull:
		warnings = append(warnings, "Operating at maximum scoring tier.")
	case cfg.MaxNotes != nil && noteCount > int64(0.9*float64(*cfg.MaxNotes)):
		warnings = append(warnings, fmt.Sprintf(
			"Corpus is approaching the %s tier boundary (%d notes).", t+1, *cfg.MaxNotes))
	}

	return warnings
}
