// Package ranking implements the per-signal estimators and the composite
// scorer. Everything here is pure CPU: no I/O, no suspension points.
package ranking

import "math"

// PositionBias maps a 1-based display rank to an examination probability.
//
// The default model is the power-law curve p(r) = max(floor, 1/r^alpha) with
// p(1) = 1. A calibrated propensity table (derived from click logs, see
// stats.CalibratePropensities) can override the curve for the ranks it
// covers; uncovered ranks fall back to the curve.
type PositionBias struct {
	alpha        float64
	floor        float64
	propensities map[int]float64
}

// NewPositionBias creates a position bias model. Non-positive alpha or floor
// fall back to the defaults (1.0 and 0.01).
func NewPositionBias(alpha, floor float64) *PositionBias {
	if alpha <= 0 {
		alpha = 1.0
	}
	if floor <= 0 {
		floor = 0.01
	}
	if floor > 1 {
		floor = 1
	}
	return &PositionBias{alpha: alpha, floor: floor}
}

// SetPropensities installs a calibrated propensity table. Entries outside
// (0, 1] are ignored.
func (b *PositionBias) SetPropensities(table map[int]float64) {
	if len(table) == 0 {
		b.propensities = nil
		return
	}
	props := make(map[int]float64, len(table))
	for rank, p := range table {
		if rank >= 1 && p > 0 && p <= 1 {
			props[rank] = p
		}
	}
	b.propensities = props
}

// Propensity returns p(rank) in (0, 1], with p(1) = 1.
func (b *PositionBias) Propensity(rank int) float64 {
	if rank <= 1 {
		return 1.0
	}
	if p, ok := b.propensities[rank]; ok {
		return p
	}
	p := 1.0 / math.Pow(float64(rank), b.alpha)
	if p < b.floor {
		return b.floor
	}
	return p
}

// Weight returns the inverse-propensity weight 1/p(rank), always finite and
// >= 1.
func (b *PositionBias) Weight(rank int) float64 {
	return 1.0 / b.Propensity(rank)
}
