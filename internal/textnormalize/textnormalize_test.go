package textnormalize

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestHeavy(t *testing.T) {
	require.Equal(t, "hip hop", Heavy("Hip-Hop"))
	require.Equal(t, "hip hop", Heavy("  hip   hop  "))
	require.Equal(t, "cafe", Heavy("Café"))
	require.Equal(t, "", Heavy("  !!!  "))
	require.Equal(t, "", Heavy(""))
}

func TestLight(t *testing.T) {
	require.Equal(t, "Midnight Drive", Light("  Midnight   Drive "))
	require.Equal(t, "Café del Mar", Light("Café del Mar"))
	require.Equal(t, "", Light("   "))
}
