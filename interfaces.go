package opennotes

import (
	"context"

	"github.com/google/uuid"
)

// NoteCounter reports the size of the published note corpus for tier
// detection. Counts are non-negative; failures are transient and surface
// from DetectTier. Both bundled stores satisfy it; inject an alternative
// with WithNoteCounter.
type NoteCounter interface {
	CountPublishedNotes(ctx context.Context) (int64, error)
}

// NoteCounterFunc adapts a plain function to NoteCounter.
type NoteCounterFunc func(ctx context.Context) (int64, error)

// CountPublishedNotes calls f.
func (f NoteCounterFunc) CountPublishedNotes(ctx context.Context) (int64, error) {
	return f(ctx)
}

// RatingSource supplies the helpfulness ratings scoring consumes. Ratings
// for a note come back in insertion order; the global mean feeds the
// Bayesian prior. Both bundled stores satisfy it; inject an alternative
// with WithRatingSource.
type RatingSource interface {
	NoteRatings(ctx context.Context, noteID uuid.UUID) ([]float64, error)
	GlobalMeanHelpfulness(ctx context.Context) (float64, error)
}
