package opennotes_test

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync/atomic"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	opennotes "github.com/opennotes-ai/opennotes-sub009"
	"github.com/opennotes-ai/opennotes-sub009/scoring"
	"github.com/opennotes-ai/opennotes-sub009/tiers"
)

func testLogger(t *testing.T) *slog.Logger {
	t.Helper()
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newEngine(t *testing.T, opts ...opennotes.Option) *opennotes.Engine {
	t.Helper()
	engine, err := opennotes.New(append(opts, opennotes.WithLogger(testLogger(t)))...)
	require.NoError(t, err)
	t.Cleanup(func() { _ = engine.Close() })
	return engine
}

// countingCounter reports a fixed corpus size and remembers how often it was
// asked.
type countingCounter struct {
	n     int64
	calls atomic.Int32
}

func (c *countingCounter) CountPublishedNotes(context.Context) (int64, error) {
	c.calls.Add(1)
	return c.n, nil
}

// stubRatings serves canned ratings and a mutable global mean.
type stubRatings struct {
	notes map[uuid.UUID][]float64
	mean  float64
}

func (s *stubRatings) NoteRatings(_ context.Context, noteID uuid.UUID) ([]float64, error) {
	r, ok := s.notes[noteID]
	if !ok {
		return nil, errors.New("note not found")
	}
	return r, nil
}

func (s *stubRatings) GlobalMeanHelpfulness(context.Context) (float64, error) {
	return s.mean, nil
}

func TestNewRequiresCorpusSource(t *testing.T) {
	_, err := opennotes.New(opennotes.WithLogger(testLogger(t)))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no corpus size source")
}

func TestScoreRatingsAtDetectedTier(t *testing.T) {
	counter := &countingCounter{n: 1500}
	engine := newEngine(t, opennotes.WithNoteCounter(counter))

	res, err := engine.ScoreRatings(context.Background(), []float64{0.8, 0.6})
	require.NoError(t, err)

	// 1500 notes land in the basic tier, where the weighted average heads
	// the chain: (1*0.8 + 2*0.6) / 3.
	assert.Equal(t, tiers.TierBasic, res.Tier)
	assert.InDelta(t, 2.0/3.0, res.Score, 1e-9)
	assert.Equal(t, "weighted_average", res.Metadata.Algorithm)
	assert.Equal(t, scoring.ConfidenceProvisional, res.Metadata.ConfidenceLevel)
	assert.Equal(t, 2, res.Metadata.RatingCount)
	assert.Empty(t, res.Warnings)
	assert.Equal(t, int32(1), counter.calls.Load())
}

func TestScoreRatingsTierOverrideSkipsCounter(t *testing.T) {
	counter := &countingCounter{n: 99999}
	engine := newEngine(t,
		opennotes.WithNoteCounter(counter),
		opennotes.WithTierOverride(tiers.TierBasic),
	)

	res, err := engine.ScoreRatings(context.Background(), []float64{0.4, 0.4})
	require.NoError(t, err)

	assert.Equal(t, tiers.TierBasic, res.Tier)
	assert.Equal(t, int32(0), counter.calls.Load(), "override must not consult the counter")

	// Without a fetched corpus size there is nothing to qualify.
	assert.Empty(t, res.Warnings)
}

func TestScoreNote(t *testing.T) {
	noteID := uuid.New()
	ratings := &stubRatings{
		notes: map[uuid.UUID][]float64{noteID: {1.0, 0.5, 0.75}},
		mean:  0.5,
	}
	engine := newEngine(t,
		opennotes.WithNoteCounter(&countingCounter{n: 50}),
		opennotes.WithRatingSource(ratings),
	)

	res, err := engine.ScoreNote(context.Background(), noteID)
	require.NoError(t, err)

	// Minimal tier, Bayesian scoring: (2*0.5 + 2.25) / (2+3).
	assert.Equal(t, tiers.TierMinimal, res.Tier)
	assert.InDelta(t, 0.65, res.Score, 1e-9)
	assert.Equal(t, scoring.AlgorithmBayesianAverage, res.Metadata.Algorithm)
	require.Len(t, res.Warnings, 2)
	assert.Contains(t, res.Warnings[0], "reduced statistical confidence")
	assert.Contains(t, res.Warnings[1], "production threshold")

	_, err = engine.ScoreNote(context.Background(), uuid.New())
	require.Error(t, err)
}

func TestScoreNoteWithoutRatingSource(t *testing.T) {
	engine := newEngine(t, opennotes.WithNoteCounter(&countingCounter{n: 10}))

	_, err := engine.ScoreNote(context.Background(), uuid.New())
	assert.ErrorIs(t, err, opennotes.ErrNoRatingSource)

	err = engine.RefreshPriorFromSystemAverage(context.Background())
	assert.ErrorIs(t, err, opennotes.ErrNoRatingSource)
}

func TestRefreshPriorFromSystemAverage(t *testing.T) {
	ratings := &stubRatings{mean: 0.8}
	engine := newEngine(t,
		opennotes.WithNoteCounter(&countingCounter{n: 10}),
		opennotes.WithRatingSource(ratings),
	)

	// New synced the prior from the 0.8 system average; an unrated note
	// scores at the prior.
	res, err := engine.ScoreRatings(context.Background(), nil)
	require.NoError(t, err)
	assert.InDelta(t, 0.8, res.Score, 1e-9)
	assert.True(t, res.Metadata.NoData)

	ratings.mean = 0.3
	require.NoError(t, engine.RefreshPriorFromSystemAverage(context.Background()))

	res, err = engine.ScoreRatings(context.Background(), nil)
	require.NoError(t, err)
	assert.InDelta(t, 0.3, res.Score, 1e-9)
}

func TestCustomScorerRunnerWinsChain(t *testing.T) {
	engine := newEngine(t,
		opennotes.WithNoteCounter(&countingCounter{n: 7000}),
		opennotes.WithScorerRunner("matrix_factorization", func(context.Context, []float64) (float64, error) {
			return 0.42, nil
		}),
	)

	res, err := engine.ScoreRatings(context.Background(), []float64{0.1, 0.9})
	require.NoError(t, err)

	assert.Equal(t, tiers.TierIntermediate, res.Tier)
	assert.InDelta(t, 0.42, res.Score, 1e-9)
	assert.Equal(t, "matrix_factorization", res.Metadata.Algorithm)
}

func TestCustomScorerFailureFallsBack(t *testing.T) {
	engine := newEngine(t,
		opennotes.WithNoteCounter(&countingCounter{n: 7000}),
		opennotes.WithScorerRunner("matrix_factorization", func(context.Context, []float64) (float64, error) {
			return 0, errors.New("model unavailable")
		}),
	)

	res, err := engine.ScoreRatings(context.Background(), []float64{0.8, 0.6})
	require.NoError(t, err)

	// The intermediate attempt fails and the run recovers one tier down,
	// where the weighted average takes over.
	assert.Equal(t, tiers.TierBasic, res.Tier)
	assert.InDelta(t, 2.0/3.0, res.Score, 1e-9)
	assert.Equal(t, "weighted_average", res.Metadata.Algorithm)
}

func TestTierInfo(t *testing.T) {
	engine := newEngine(t, opennotes.WithNoteCounter(&countingCounter{n: 250}))

	info := engine.TierInfo(context.Background())
	assert.True(t, info.Detected)
	assert.Equal(t, "limited", info.Tier)
	require.NotNil(t, info.NoteCount)
	assert.Equal(t, int64(250), *info.NoteCount)
	assert.Empty(t, info.Error)
}

func TestTierInfoDetectionFailure(t *testing.T) {
	failing := opennotes.NoteCounterFunc(func(context.Context) (int64, error) {
		return 0, errors.New("store offline")
	})
	engine := newEngine(t, opennotes.WithNoteCounter(failing))

	info := engine.TierInfo(context.Background())
	assert.False(t, info.Detected)
	assert.Contains(t, info.Error, "store offline")
}
