package embedder

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestVectorCodecRoundTrip(t *testing.T) {
	vec := []float32{0.25, -1.5, 0, 3.14159}
	got, ok := decodeVector(encodeVector(vec))
	require.True(t, ok)
	require.Equal(t, vec, got)
}

func TestDecodeVectorRejectsCorrupt(t *testing.T) {
	_, ok := decodeVector(nil)
	require.False(t, ok)
	_, ok = decodeVector([]byte{1, 2, 3})
	require.False(t, ok)
}
