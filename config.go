package rankkit

import (
	"fmt"

	"github.com/doujins-org/rankkit/ranking"
)

// Config enumerates every tunable of the ranking pipeline. Zero value is not
// usable; start from DefaultConfig.
type Config struct {
	// Candidate fanout per stage: retrieve K1, score top K2, return top N.
	RetrieveK int `koanf:"retrieve_k" json:"retrieve_k"`
	RerankK   int `koanf:"rerank_k" json:"rerank_k"`
	ResultN   int `koanf:"result_n" json:"result_n"`

	Weights ranking.Weights `koanf:"weights" json:"weights"`

	// Position-bias curve for IPW debiasing.
	BiasAlpha float64 `koanf:"bias_alpha" json:"bias_alpha"`
	BiasFloor float64 `koanf:"bias_floor" json:"bias_floor"`

	// Shared Beta prior for the popularity and exploration estimators.
	PriorAlpha float64 `koanf:"prior_alpha" json:"prior_alpha"`
	PriorBeta  float64 `koanf:"prior_beta" json:"prior_beta"`

	// Exploration posterior summary: "ucb" or "thompson".
	ExplorationMode string `koanf:"exploration_mode" json:"exploration_mode"`

	FreshnessHalfLifeDays float64 `koanf:"freshness_half_life_days" json:"freshness_half_life_days"`

	// Rerank blend weight on the neural score.
	RerankEnabled bool    `koanf:"rerank_enabled" json:"rerank_enabled"`
	BlendLambda   float64 `koanf:"blend_lambda" json:"blend_lambda"`

	// MMR diversification.
	MMRLambda   float64 `koanf:"mmr_lambda" json:"mmr_lambda"`
	MinPerGenre int     `koanf:"min_per_genre" json:"min_per_genre"`

	// Two-stage quantized retrieval (oversample + rescore).
	TwoStage         bool `koanf:"two_stage" json:"two_stage"`
	OversampleFactor int  `koanf:"oversample_factor" json:"oversample_factor"`
}

// DefaultConfig returns the production defaults.
func DefaultConfig() Config {
	return Config{
		RetrieveK:             500,
		RerankK:               50,
		ResultN:               20,
		Weights:               ranking.DefaultWeights(),
		BiasAlpha:             1.0,
		BiasFloor:             0.01,
		PriorAlpha:            1,
		PriorBeta:             9,
		ExplorationMode:       string(ranking.ModeUCB),
		FreshnessHalfLifeDays: 30,
		RerankEnabled:         true,
		BlendLambda:           0.60,
		MMRLambda:             0.7,
		MinPerGenre:           2,
	}
}

// Validate rejects inconsistent configurations. All failures wrap
// ErrConfigInvalid.
func (c Config) Validate() error {
	if c.ResultN < 1 {
		return fmt.Errorf("%w: result_n %d must be >= 1", ErrConfigInvalid, c.ResultN)
	}
	if c.RerankK < c.ResultN {
		return fmt.Errorf("%w: rerank_k %d must be >= result_n %d", ErrConfigInvalid, c.RerankK, c.ResultN)
	}
	if c.RetrieveK < c.RerankK {
		return fmt.Errorf("%w: retrieve_k %d must be >= rerank_k %d", ErrConfigInvalid, c.RetrieveK, c.RerankK)
	}
	if err := c.Weights.Validate(); err != nil {
		return fmt.Errorf("%w: %v", ErrConfigInvalid, err)
	}
	if c.BiasAlpha <= 0 {
		return fmt.Errorf("%w: bias_alpha %v must be > 0", ErrConfigInvalid, c.BiasAlpha)
	}
	if c.BiasFloor <= 0 || c.BiasFloor > 1 {
		return fmt.Errorf("%w: bias_floor %v must be in (0, 1]", ErrConfigInvalid, c.BiasFloor)
	}
	if c.PriorAlpha <= 0 || c.PriorBeta <= 0 {
		return fmt.Errorf("%w: prior (%v, %v) must be positive", ErrConfigInvalid, c.PriorAlpha, c.PriorBeta)
	}
	switch ranking.ExplorationMode(c.ExplorationMode) {
	case ranking.ModeUCB, ranking.ModeThompson:
	default:
		return fmt.Errorf("%w: exploration_mode %q must be ucb or thompson", ErrConfigInvalid, c.ExplorationMode)
	}
	if c.FreshnessHalfLifeDays <= 0 {
		return fmt.Errorf("%w: freshness_half_life_days %v must be > 0", ErrConfigInvalid, c.FreshnessHalfLifeDays)
	}
	if c.BlendLambda < 0 || c.BlendLambda > 1 {
		return fmt.Errorf("%w: blend_lambda %v must be in [0, 1]", ErrConfigInvalid, c.BlendLambda)
	}
	if c.MMRLambda < 0 || c.MMRLambda > 1 {
		return fmt.Errorf("%w: mmr_lambda %v must be in [0, 1]", ErrConfigInvalid, c.MMRLambda)
	}
	if c.MinPerGenre < 0 {
		return fmt.Errorf("%w: min_per_genre %d must be >= 0", ErrConfigInvalid, c.MinPerGenre)
	}
	if c.TwoStage && c.OversampleFactor < 0 {
		return fmt.Errorf("%w: oversample_factor %d must be >= 0", ErrConfigInvalid, c.OversampleFactor)
	}
	return nil
}
