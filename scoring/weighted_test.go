package scoring_test

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/opennotes-ai/opennotes-sub009/scoring"
)

func TestWeightedAverageEmpty(t *testing.T) {
	assert.Equal(t, 0.5, scoring.WeightedAverage(nil))
	assert.Equal(t, 0.5, scoring.WeightedAverage([]float64{}))
}

func TestWeightedAverageSingleRating(t *testing.T) {
	assert.InDelta(t, 0.7, scoring.WeightedAverage([]float64{0.7}), 1e-12)
}

func TestWeightedAverageFavorsRecent(t *testing.T) {
	// Newest last: (1*0.0 + 2*1.0) / 3.
	assert.InDelta(t, 2.0/3.0, scoring.WeightedAverage([]float64{0.0, 1.0}), 1e-12)

	// Reversed order flips the result.
	assert.InDelta(t, 1.0/3.0, scoring.WeightedAverage([]float64{1.0, 0.0}), 1e-12)
}

func TestWeightedAverageUniformRatings(t *testing.T) {
	assert.InDelta(t, 0.6, scoring.WeightedAverage([]float64{0.6, 0.6, 0.6, 0.6}), 1e-12)
}

func TestWeightedAverageClampsInput(t *testing.T) {
	// 1.5 clamps to 1, -0.5 clamps to 0, NaN becomes 0:
	// (1*1 + 2*0 + 3*0) / 6.
	got := scoring.WeightedAverage([]float64{1.5, -0.5, math.NaN()})
	assert.InDelta(t, 1.0/6.0, got, 1e-12)
}
