package diversify

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestAllocateSlots_MinimumPerGenre(t *testing.T) {
	counts := map[string]int{"pop": 30, "folk": 10, "jazz": 5}
	slots := AllocateSlots(counts, 20, 2)

	sum := 0
	for g, s := range slots {
		require.GreaterOrEqual(t, s, 2, "genre %s", g)
		require.LessOrEqual(t, s, counts[g], "genre %s", g)
		sum += s
	}
	require.Equal(t, 20, sum)
	// Proportional distribution favors the largest bucket.
	require.Greater(t, slots["pop"], slots["folk"])
	require.Greater(t, slots["folk"], slots["jazz"])
}

func TestAllocateSlots_CappedByBucketSize(t *testing.T) {
	counts := map[string]int{"pop": 2, "folk": 1}
	slots := AllocateSlots(counts, 20, 2)
	require.Equal(t, 2, slots["pop"])
	require.Equal(t, 1, slots["folk"])
}

func TestAllocateSlots_TooManyGenres(t *testing.T) {
	// 7 genres x min 2 = 14 > 10: guarantee drops to floor(10/7)=1, the 3
	// leftover slots go to the largest buckets, tie-break lexicographic.
	counts := map[string]int{
		"a": 5, "b": 5, "c": 3, "d": 3, "e": 3, "f": 1, "g": 1,
	}
	slots := AllocateSlots(counts, 10, 2)

	sum := 0
	for _, s := range slots {
		sum += s
	}
	require.Equal(t, 10, sum)
	require.Equal(t, 2, slots["a"])
	require.Equal(t, 2, slots["b"])
	require.Equal(t, 2, slots["c"]) // largest remaining bucket, "c" < "d" < "e"
	require.Equal(t, 1, slots["d"])
	require.Equal(t, 1, slots["e"])
	require.Equal(t, 1, slots["f"])
	require.Equal(t, 1, slots["g"])
}

func TestAllocateSlots_LargestRemainder(t *testing.T) {
	// After guarantees (2+2), 6 slots remain split 2:1 -> exact shares 4.0
	// and 2.0.
	counts := map[string]int{"pop": 20, "folk": 10}
	slots := AllocateSlots(counts, 10, 2)
	require.Equal(t, 6, slots["pop"])
	require.Equal(t, 4, slots["folk"])
}

func TestAllocateSlots_Empty(t *testing.T) {
	require.Empty(t, AllocateSlots(nil, 10, 2))
	require.Empty(t, AllocateSlots(map[string]int{"pop": 3}, 0, 2))
}
