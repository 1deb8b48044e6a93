package ranking

import (
	"math"
	"math/rand"

	"github.com/doujins-org/rankkit/stats"
)

// ExplorationMode selects how the Beta posterior is summarized.
type ExplorationMode string

const (
	// ModeUCB is the deterministic upper-confidence-bound summary,
	// mean + 2*stddev. Two identical queries at the same instant get
	// identical orderings.
	ModeUCB ExplorationMode = "ucb"

	// ModeThompson draws once per request from the posterior. Requires a
	// request-scoped RNG.
	ModeThompson ExplorationMode = "thompson"
)

// Exploration scores items by their Beta posterior over CTR:
// Beta(alpha0 + debiased_clicks, beta0 + max(debiased_impressions -
// debiased_clicks, 0)).
type Exploration struct {
	alpha0 float64
	beta0  float64
	mode   ExplorationMode
}

func NewExploration(alpha0, beta0 float64, mode ExplorationMode) *Exploration {
	if alpha0 <= 0 {
		alpha0 = 1.0
	}
	if beta0 <= 0 {
		beta0 = 9.0
	}
	if mode == "" {
		mode = ModeUCB
	}
	return &Exploration{alpha0: alpha0, beta0: beta0, mode: mode}
}

func (e *Exploration) posterior(s stats.ItemStatistics) (alpha, beta float64) {
	alpha = e.alpha0 + s.DebiasedClicks
	beta = e.beta0 + math.Max(s.DebiasedImpressions-s.DebiasedClicks, 0)
	return alpha, beta
}

// Score returns the exploration signal in (0, 1]. rng is only consulted in
// Thompson mode and must be request-scoped.
func (e *Exploration) Score(s stats.ItemStatistics, rng *rand.Rand) float64 {
	alpha, beta := e.posterior(s)
	if e.mode == ModeThompson && rng != nil {
		return sampleBeta(rng, alpha, beta)
	}
	mean := alpha / (alpha + beta)
	variance := alpha * beta / ((alpha + beta) * (alpha + beta) * (alpha + beta + 1))
	return math.Min(1.0, mean+2*math.Sqrt(variance))
}

// sampleBeta draws from Beta(a, b) as Ga/(Ga+Gb) using Marsaglia-Tsang gamma
// generation. a and b are >= the priors here, so both are strictly positive.
func sampleBeta(rng *rand.Rand, a, b float64) float64 {
	ga := sampleGamma(rng, a)
	gb := sampleGamma(rng, b)
	if ga+gb == 0 {
		return 0.5
	}
	return ga / (ga + gb)
}

func sampleGamma(rng *rand.Rand, shape float64) float64 {
	if shape < 1 {
		// Boost: Gamma(a) = Gamma(a+1) * U^(1/a).
		u := rng.Float64()
		for u == 0 {
			u = rng.Float64()
		}
		return sampleGamma(rng, shape+1) * math.Pow(u, 1/shape)
	}
	d := shape - 1.0/3.0
	c := 1.0 / math.Sqrt(9*d)
	for {
		x := rng.NormFloat64()
		v := 1 + c*x
		if v <= 0 {
			continue
		}
		v = v * v * v
		u := rng.Float64()
		if u < 1-0.0331*x*x*x*x {
			return d * v
		}
		if u > 0 && math.Log(u) < 0.5*x*x+d*(1-v+math.Log(v)) {
			return d * v
		}
	}
}
