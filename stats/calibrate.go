package stats

// CalibratePropensities derives an examination-probability table from
// observed per-rank CTRs, normalized so that rank 1 has propensity 1.0.
//
// Laplace smoothing keeps sparse ranks from producing extreme propensities.
// Ranks with no impressions are omitted; the position-bias model falls back
// to its analytic curve for them. Returns nil when rank 1 has no signal,
// since there is nothing to normalize against.
func CalibratePropensities(dist map[int]PositionCounts, smoothing float64) map[int]float64 {
	if len(dist) == 0 {
		return nil
	}
	if smoothing <= 0 {
		smoothing = 1.0
	}

	ctr := make(map[int]float64, len(dist))
	for rank, pc := range dist {
		if rank < 1 || pc.Impressions <= 0 {
			continue
		}
		ctr[rank] = (float64(pc.Clicks) + smoothing) / (float64(pc.Impressions) + 2*smoothing)
	}

	base, ok := ctr[1]
	if !ok || base <= 0 {
		return nil
	}

	out := make(map[int]float64, len(ctr))
	for rank, c := range ctr {
		p := c / base
		if p > 1 {
			p = 1
		}
		out[rank] = p
	}
	return out
}
