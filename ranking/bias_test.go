package ranking

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestPositionBias_Defaults(t *testing.T) {
	b := NewPositionBias(1.0, 0.01)

	require.Equal(t, 1.0, b.Propensity(1))
	require.Equal(t, 1.0, b.Weight(1))
	require.InDelta(t, 0.5, b.Propensity(2), 1e-12)
	require.InDelta(t, 2.0, b.Weight(2), 1e-12)

	// max(0.01, 1/100) = 0.01 at rank 100.
	require.Equal(t, 0.01, b.Propensity(100))
	require.InDelta(t, 100.0, b.Weight(100), 1e-9)

	// Floor kicks in past rank 100.
	require.Equal(t, 0.01, b.Propensity(1000))
}

func TestPositionBias_WeightAlwaysAtLeastOne(t *testing.T) {
	b := NewPositionBias(2.0, 0.001)
	for rank := 1; rank <= 500; rank++ {
		w := b.Weight(rank)
		require.GreaterOrEqual(t, w, 1.0, "rank %d", rank)
	}
	// Rank 0 and negatives are treated as rank 1.
	require.Equal(t, 1.0, b.Weight(0))
	require.Equal(t, 1.0, b.Weight(-3))
}

func TestPositionBias_CalibratedTableOverridesCurve(t *testing.T) {
	b := NewPositionBias(1.0, 0.01)
	b.SetPropensities(map[int]float64{
		2: 0.7,
		3: 0.5,
		9: 1.5, // invalid, ignored
	})

	require.Equal(t, 1.0, b.Propensity(1))
	require.Equal(t, 0.7, b.Propensity(2))
	require.Equal(t, 0.5, b.Propensity(3))
	// Rank 4 is not in the table, falls back to 1/4.
	require.InDelta(t, 0.25, b.Propensity(4), 1e-12)
	// Invalid entry was dropped, falls back to 1/9.
	require.InDelta(t, 1.0/9.0, b.Propensity(9), 1e-12)
}
