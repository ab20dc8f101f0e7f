package evidence

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestAggregator(t *testing.T) *Aggregator {
	t.Helper()
	agg, err := NewAggregator(DefaultConfig())
	require.NoError(t, err)
	return agg
}

func piece(rating, tier int) Piece {
	return Piece{Rating: rating, Tier: tier, Timestamp: time.Now()}
}

func TestTierWeight(t *testing.T) {
	assert.Equal(t, 1.0, TierWeight(1))
	assert.Equal(t, 3.0, TierWeight(2))
	assert.Equal(t, 9.0, TierWeight(3))
	assert.Equal(t, 27.0, TierWeight(4))
	assert.Equal(t, 81.0, TierWeight(5))
}

func TestAggregate_SingleTier3Piece(t *testing.T) {
	// One tier-3 piece, rating 2: TW=9, value=(9/19)*2+(10/19)*3,
	// confidence=9/19.
	agg := newTestAggregator(t)

	res, err := agg.Aggregate([]Piece{piece(2, 3)})
	require.NoError(t, err)

	assert.InDelta(t, 2.526, res.Value, 0.001)
	assert.InDelta(t, 0.474, res.Confidence, 0.001)
	assert.False(t, res.Contested)
	assert.InDelta(t, 9.0, res.TotalWeight, 0.0001)
	assert.InDelta(t, 2.0, res.WeightedMean, 0.0001)
}

func TestAggregate_ThreeTier3Pieces(t *testing.T) {
	// Three tier-3 pieces, all rating 2: TW=27, value=(27/37)*2+(10/37)*3.
	agg := newTestAggregator(t)

	res, err := agg.Aggregate([]Piece{piece(2, 3), piece(2, 3), piece(2, 3)})
	require.NoError(t, err)

	assert.InDelta(t, 2.270, res.Value, 0.001)
	assert.InDelta(t, 0.730, res.Confidence, 0.001)
}

func TestAggregate_ConfidenceMonotoneInWeight(t *testing.T) {
	// For a fixed weighted mean, confidence strictly increases with total
	// weight and stays below the cap.
	agg := newTestAggregator(t)

	prev := 0.0
	pieces := []Piece{}
	for i := 0; i < 10; i++ {
		pieces = append(pieces, piece(2, 3))
		res, err := agg.Aggregate(pieces)
		require.NoError(t, err)
		assert.Greater(t, res.Confidence, prev)
		assert.LessOrEqual(t, res.Confidence, DefaultConfidenceCap)
		prev = res.Confidence
	}
}

func TestAggregate_ConfidenceCapped(t *testing.T) {
	agg := newTestAggregator(t)

	// Lots of high-tier evidence, uncontested.
	pieces := make([]Piece, 20)
	for i := range pieces {
		pieces[i] = piece(4, 5)
	}

	res, err := agg.Aggregate(pieces)
	require.NoError(t, err)
	assert.Equal(t, DefaultConfidenceCap, res.Confidence)
}

func TestAggregate_UserConfirmedOverride(t *testing.T) {
	// A user-confirmed tier-5 rating 4 forces value=4 and confidence at
	// least the cap, regardless of prior low-tier evidence.
	agg := newTestAggregator(t)

	pieces := []Piece{
		piece(1, 1),
		piece(2, 2),
		{Rating: 4, Tier: 5, Timestamp: time.Now(), UserConfirmed: true},
	}

	res, err := agg.Aggregate(pieces)
	require.NoError(t, err)
	assert.Equal(t, 4.0, res.Value)
	assert.GreaterOrEqual(t, res.Confidence, 0.95)
}

func TestAggregate_LatestConfirmedWins(t *testing.T) {
	agg := newTestAggregator(t)

	pieces := []Piece{
		{Rating: 2, Tier: 5, Timestamp: time.Now(), UserConfirmed: true},
		{Rating: 5, Tier: 5, Timestamp: time.Now(), UserConfirmed: true},
	}

	res, err := agg.Aggregate(pieces)
	require.NoError(t, err)
	assert.Equal(t, 5.0, res.Value)
}

func TestAggregate_Contested(t *testing.T) {
	agg := newTestAggregator(t)

	res, err := agg.Aggregate([]Piece{piece(5, 3), piece(1, 3)})
	require.NoError(t, err)
	assert.True(t, res.Contested)
}

func TestAggregate_LowTierDisagreementNotContested(t *testing.T) {
	// Disagreement below tier 3 does not set the flag.
	agg := newTestAggregator(t)

	res, err := agg.Aggregate([]Piece{piece(5, 2), piece(1, 2)})
	require.NoError(t, err)
	assert.False(t, res.Contested)
}

func TestAggregate_OneSidedStrongEvidenceNotContested(t *testing.T) {
	agg := newTestAggregator(t)

	res, err := agg.Aggregate([]Piece{piece(5, 4), piece(4, 3), piece(1, 1)})
	require.NoError(t, err)
	assert.False(t, res.Contested)
}

func TestAggregate_EmptyEvidence(t *testing.T) {
	agg := newTestAggregator(t)

	_, err := agg.Aggregate(nil)
	assert.ErrorIs(t, err, ErrNoEvidence)
}

func TestAggregate_InvalidPiece(t *testing.T) {
	agg := newTestAggregator(t)

	_, err := agg.Aggregate([]Piece{piece(6, 3)})
	assert.ErrorIs(t, err, ErrInvalidRating)

	_, err = agg.Aggregate([]Piece{piece(3, 0)})
	assert.ErrorIs(t, err, ErrInvalidTier)
}

func TestAggregateSummaries(t *testing.T) {
	// Two siblings each contributing (WAR, TW) as one observation:
	// TW=9+9=18, WAR=(9*2+9*4)/18=3 -> value shrinks toward prior 3.
	agg := newTestAggregator(t)

	res, err := agg.AggregateSummaries([]Summary{
		{WeightedMean: 2, TotalWeight: 9},
		{WeightedMean: 4, TotalWeight: 9},
	})
	require.NoError(t, err)

	assert.InDelta(t, 3.0, res.Value, 0.001)
	assert.InDelta(t, 18.0/28.0, res.Confidence, 0.001)
	// Means 2 and 4 sit exactly on the disagreement thresholds.
	assert.True(t, res.Contested)
}

func TestAggregateSummaries_CloseMeansNotContested(t *testing.T) {
	agg := newTestAggregator(t)

	res, err := agg.AggregateSummaries([]Summary{
		{WeightedMean: 2.5, TotalWeight: 9},
		{WeightedMean: 3.5, TotalWeight: 9},
	})
	require.NoError(t, err)
	assert.False(t, res.Contested)
}

func TestContestedThresholdsConfigurable(t *testing.T) {
	// Widened thresholds: only the extremes count as disagreement.
	cfg := DefaultConfig()
	cfg.ContestedHigh = 5
	cfg.ContestedLow = 1
	agg, err := NewAggregator(cfg)
	require.NoError(t, err)

	res, err := agg.Aggregate([]Piece{piece(4, 3), piece(2, 3)})
	require.NoError(t, err)
	assert.False(t, res.Contested)

	res, err = agg.Aggregate([]Piece{piece(5, 3), piece(1, 3)})
	require.NoError(t, err)
	assert.True(t, res.Contested)

	sum, err := agg.AggregateSummaries([]Summary{
		{WeightedMean: 4, TotalWeight: 9},
		{WeightedMean: 2, TotalWeight: 9},
	})
	require.NoError(t, err)
	assert.False(t, sum.Contested)
}

func TestAggregateSummaries_Empty(t *testing.T) {
	agg := newTestAggregator(t)

	_, err := agg.AggregateSummaries(nil)
	assert.ErrorIs(t, err, ErrNoEvidence)

	_, err = agg.AggregateSummaries([]Summary{{WeightedMean: 3, TotalWeight: 0}})
	assert.ErrorIs(t, err, ErrNoEvidence)
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr bool
	}{
		{"defaults valid", func(c *Config) {}, false},
		{"prior below scale", func(c *Config) { c.PriorMean = 0.5 }, true},
		{"zero pseudocount", func(c *Config) { c.Pseudocount = 0 }, true},
		{"cap above one", func(c *Config) { c.ConfidenceCap = 1.5 }, true},
		{"inverted contested thresholds", func(c *Config) { c.ContestedLow = 4.5 }, true},
		{"contested high above scale", func(c *Config) { c.ContestedHigh = 6 }, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(&cfg)

			err := cfg.Validate()
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}
