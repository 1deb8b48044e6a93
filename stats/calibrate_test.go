package stats

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestCalibratePropensities(t *testing.T) {
	dist := map[int]PositionCounts{
		1: {Clicks: 99, Impressions: 998},  // smoothed CTR 0.1
		2: {Clicks: 49, Impressions: 998},  // smoothed CTR 0.05
		5: {Clicks: 9, Impressions: 998},   // smoothed CTR 0.01
		9: {Clicks: 0, Impressions: 0},     // no signal, omitted
	}

	props := CalibratePropensities(dist, 1.0)
	require.NotNil(t, props)
	require.InDelta(t, 1.0, props[1], 1e-9)
	require.InDelta(t, 0.5, props[2], 1e-9)
	require.InDelta(t, 0.1, props[5], 1e-9)
	require.NotContains(t, props, 9)
}

func TestCalibratePropensities_CappedAtOne(t *testing.T) {
	// Rank 3 out-clicking rank 1 must not yield a propensity above 1.
	dist := map[int]PositionCounts{
		1: {Clicks: 10, Impressions: 100},
		3: {Clicks: 50, Impressions: 100},
	}
	props := CalibratePropensities(dist, 1.0)
	require.Equal(t, 1.0, props[3])
}

func TestCalibratePropensities_NoBaseline(t *testing.T) {
	require.Nil(t, CalibratePropensities(nil, 1.0))
	require.Nil(t, CalibratePropensities(map[int]PositionCounts{
		2: {Clicks: 5, Impressions: 10},
	}, 1.0))
}
