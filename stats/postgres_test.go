package stats

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestNewPostgresStore_Validation(t *testing.T) {
	_, err := NewPostgresStore(nil, "public", unitWeight, PostgresOptions{})
	require.Error(t, err)

	// Schema and weight func are required up front; queries interpolate the
	// schema identifier.
	_, err = NewPostgresStore(nil, "", unitWeight, PostgresOptions{})
	require.Error(t, err)
}

func TestQuoteIdent(t *testing.T) {
	q, err := quoteIdent("public")
	require.NoError(t, err)
	require.Equal(t, `"public"`, q)

	for _, bad := range []string{"", "with space", `dro"p`, "a;b", "sch-ema"} {
		_, err := quoteIdent(bad)
		require.Error(t, err, "identifier %q", bad)
	}
}
