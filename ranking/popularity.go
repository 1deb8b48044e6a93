package ranking

import "github.com/doujins-org/rankkit/stats"

// Popularity computes a smoothed, debiased CTR estimate in [0, 1] from a
// Beta(alpha0, beta0) prior over the click-through rate.
//
// With the default (1, 9) prior a cold item scores the prior mean 0.1; with
// evidence the estimate converges to debiased_clicks/debiased_impressions.
type Popularity struct {
	alpha0 float64
	beta0  float64
}

func NewPopularity(alpha0, beta0 float64) *Popularity {
	if alpha0 <= 0 {
		alpha0 = 1.0
	}
	if beta0 <= 0 {
		beta0 = 9.0
	}
	return &Popularity{alpha0: alpha0, beta0: beta0}
}

func (p *Popularity) Score(s stats.ItemStatistics) float64 {
	ctr := (s.DebiasedClicks + p.alpha0) / (s.DebiasedImpressions + p.alpha0 + p.beta0)
	if ctr < 0 {
		return 0
	}
	if ctr > 1 {
		return 1
	}
	return ctr
}
