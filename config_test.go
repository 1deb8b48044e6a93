package rankkit

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConfig_Validate(t *testing.T) {
	require.NoError(t, DefaultConfig().Validate())

	cases := []struct {
		name   string
		mutate func(*Config)
	}{
		{"zero result_n", func(c *Config) { c.ResultN = 0 }},
		{"rerank_k below result_n", func(c *Config) { c.RerankK = 10 }},
		{"retrieve_k below rerank_k", func(c *Config) { c.RetrieveK = 40 }},
		{"weights off by 0.01", func(c *Config) { c.Weights.Freshness = 0.11 }},
		{"negative bias alpha", func(c *Config) { c.BiasAlpha = -1 }},
		{"floor above 1", func(c *Config) { c.BiasFloor = 1.5 }},
		{"zero prior", func(c *Config) { c.PriorBeta = 0 }},
		{"unknown exploration mode", func(c *Config) { c.ExplorationMode = "epsilon" }},
		{"zero half life", func(c *Config) { c.FreshnessHalfLifeDays = 0 }},
		{"blend lambda above 1", func(c *Config) { c.BlendLambda = 1.2 }},
		{"mmr lambda below 0", func(c *Config) { c.MMRLambda = -0.1 }},
		{"negative min per genre", func(c *Config) { c.MinPerGenre = -1 }},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tc.mutate(&cfg)
			require.ErrorIs(t, cfg.Validate(), ErrConfigInvalid)
		})
	}
}

func TestLoadConfig_Layers(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(
		"result_n: 10\nmmr_lambda: 0.5\nweights:\n  semantic: 0.7\n  popularity: 0.1\n  exploration: 0.1\n  freshness: 0.1\n"), 0o600))

	t.Setenv("RANKKIT_MMR_LAMBDA", "0.9")

	cfg, err := LoadConfig(path)
	require.NoError(t, err)

	// File overrides defaults, env overrides file.
	assert.Equal(t, 10, cfg.ResultN)
	assert.Equal(t, 0.9, cfg.MMRLambda)
	assert.Equal(t, 0.7, cfg.Weights.Semantic)
	// Untouched keys keep defaults.
	assert.Equal(t, 500, cfg.RetrieveK)
	assert.Equal(t, "ucb", cfg.ExplorationMode)
}

func TestLoadConfig_Defaults(t *testing.T) {
	cfg, err := LoadConfig("")
	require.NoError(t, err)
	assert.Equal(t, DefaultConfig(), cfg)
}

func TestLoadConfig_RejectsInvalidFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("result_n: 0\n"), 0o600))

	_, err := LoadConfig(path)
	require.ErrorIs(t, err, ErrConfigInvalid)

	_, err = LoadConfig(filepath.Join(t.TempDir(), "missing.yaml"))
	require.ErrorIs(t, err, ErrConfigInvalid)
}

func TestEnvKey(t *testing.T) {
	assert.Equal(t, "mmr_lambda", envKey("RANKKIT_MMR_LAMBDA"))
	assert.Equal(t, "weights.semantic", envKey("RANKKIT_WEIGHTS_SEMANTIC"))
	assert.Equal(t, "freshness_half_life_days", envKey("RANKKIT_FRESHNESS_HALF_LIFE_DAYS"))
}
