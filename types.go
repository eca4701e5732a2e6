package opennotes

import (
	"time"

	"github.com/google/uuid"

	"github.com/opennotes-ai/opennotes-sub009/scoring"
	"github.com/opennotes-ai/opennotes-sub009/tiers"
)

// ScoreResult is one scored set of ratings: the aggregate score, the tier
// the winning attempt ran at, the qualifying metadata, and any operator
// advisories for the corpus size.
type ScoreResult struct {
	Score    float64          `json:"score"`
	Tier     tiers.Tier       `json:"tier"`
	Metadata scoring.Metadata `json:"metadata"`
	Warnings []string         `json:"warnings,omitempty"`
}

// BatchReport is the public summary of one batch scoring run. It is a
// curated view of the internal run report for use by embedding systems.
type BatchReport struct {
	RunID        uuid.UUID     `json:"run_id"`
	Tier         string        `json:"tier"`
	NoteCount    int64         `json:"note_count"`
	Queued       int           `json:"queued"`
	Scored       int           `json:"scored"`
	Failed       int           `json:"failed"`
	Sanitization scoring.Stats `json:"sanitization"`
	Status       string        `json:"status"`
	Advisories   []string      `json:"advisories"`
	StartedAt    time.Time     `json:"started_at"`
	CompletedAt  time.Time     `json:"completed_at"`
}
