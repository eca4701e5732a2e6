package tiers_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/opennotes-ai/opennotes-sub009/tiers"
)

func TestForNoteCountBoundaries(t *testing.T) {
	// Boundary counts belong to the higher tier.
	tests := []struct {
		count int64
		want  tiers.Tier
	}{
		{0, tiers.TierMinimal},
		{1, tiers.TierMinimal},
		{199, tiers.TierMinimal},
		{200, tiers.TierLimited},
		{999, tiers.TierLimited},
		{1000, tiers.TierBasic},
		{4999, tiers.TierBasic},
		{5000, tiers.TierIntermediate},
		{9999, tiers.TierIntermediate},
		{10000, tiers.TierAdvanced},
		{49999, tiers.TierAdvanced},
		{50000, tiers.TierFull},
		{1_000_000, tiers.TierFull},
		{-5, tiers.TierMinimal}, // negative counts map to the lowest tier
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, tiers.ForNoteCount(tt.count), "count %d", tt.count)
	}
}

func TestForNoteCountMonotonic(t *testing.T) {
	prev := tiers.ForNoteCount(0)
	for n := int64(1); n <= 60000; n += 7 {
		cur := tiers.ForNoteCount(n)
		assert.GreaterOrEqual(t, cur, prev, "tier regressed at count %d", n)
		prev = cur
	}
}

func TestConfigForTableShape(t *testing.T) {
	var prevMax *int64
	for _, tier := range tiers.AllTiers() {
		cfg, err := tiers.ConfigFor(tier)
		require.NoError(t, err)
		assert.Equal(t, tier, cfg.Tier)
		assert.NotEmpty(t, cfg.Description)
		require.NotEmpty(t, cfg.Scorers)

		// Every chain ends in the universal fallback scorer.
		assert.Equal(t, tiers.ScorerBayesianAverage, cfg.Scorers[len(cfg.Scorers)-1])

		// Ranges are contiguous: this tier starts where the previous ended.
		if prevMax != nil {
			assert.Equal(t, *prevMax, cfg.MinNotes)
		}
		if tier == tiers.TierFull {
			assert.Nil(t, cfg.MaxNotes, "top tier is unbounded")
		} else {
			require.NotNil(t, cfg.MaxNotes)
			assert.Greater(t, *cfg.MaxNotes, cfg.MinNotes)
		}
		prevMax = cfg.MaxNotes
	}
}

func TestConfigForCapabilityFlags(t *testing.T) {
	tests := []struct {
		tier         tiers.Tier
		fullPipeline bool
		clustering   bool
		confidence   bool
	}{
		{tiers.TierMinimal, false, false, true},
		{tiers.TierLimited, false, false, true},
		{tiers.TierBasic, false, false, false},
		{tiers.TierIntermediate, true, false, false},
		{tiers.TierAdvanced, true, true, false},
		{tiers.TierFull, true, true, false},
	}
	for _, tt := range tests {
		t.Run(tt.tier.String(), func(t *testing.T) {
			cfg, err := tiers.ConfigFor(tt.tier)
			require.NoError(t, err)
			assert.Equal(t, tt.fullPipeline, cfg.RequiresFullPipeline)
			assert.Equal(t, tt.clustering, cfg.EnableClustering)
			assert.Equal(t, tt.confidence, cfg.ConfidenceWarnings)
		})
	}
}

func TestConfigForUnknownTier(t *testing.T) {
	_, err := tiers.ConfigFor(tiers.Tier(6))
	require.Error(t, err)
	assert.ErrorIs(t, err, tiers.ErrUnknownTier)

	_, err = tiers.ConfigFor(tiers.Tier(-1))
	assert.ErrorIs(t, err, tiers.ErrUnknownTier)
}
