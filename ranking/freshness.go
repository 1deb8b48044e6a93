package ranking

import (
	"math"
	"time"
)

// Freshness applies exponential decay on item age: exp(-ageDays/tau) with
// tau = halfLifeDays/ln2, so an item loses half its freshness every
// half-life. Items without a creation timestamp score a neutral 0.5.
type Freshness struct {
	tau float64
}

func NewFreshness(halfLifeDays float64) *Freshness {
	if halfLifeDays <= 0 {
		halfLifeDays = 30
	}
	return &Freshness{tau: halfLifeDays / math.Ln2}
}

func (f *Freshness) Score(createdAt *time.Time, now time.Time) float64 {
	if createdAt == nil || createdAt.IsZero() {
		return 0.5
	}
	ageDays := now.Sub(*createdAt).Hours() / 24.0
	if ageDays < 0 {
		ageDays = 0
	}
	return math.Exp(-ageDays / f.tau)
}
