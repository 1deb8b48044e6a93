// Package diversify reorders a blended candidate list for diversity using
// per-genre slot allocation followed by Maximal Marginal Relevance
// selection. Pure CPU, no I/O.
package diversify

import "sort"

// UnknownGenre is the bucket for candidates without a genre label.
const UnknownGenre = "__unknown__"

// AllocateSlots distributes n result slots across genre buckets.
//
// Every present genre first receives minPerGenre slots (capped by its bucket
// size); the rest are distributed proportionally to bucket candidate counts
// with largest-remainder rounding. When minPerGenre guarantees alone exceed
// n, the guarantee drops to floor(n/G) and the leftover goes to the largest
// buckets, ties broken lexicographically by genre. A bucket is never
// assigned more slots than it has candidates.
func AllocateSlots(counts map[string]int, n, minPerGenre int) map[string]int {
	if n <= 0 || len(counts) == 0 {
		return map[string]int{}
	}
	if minPerGenre < 0 {
		minPerGenre = 0
	}

	genres := make([]string, 0, len(counts))
	total := 0
	for g, c := range counts {
		if c <= 0 {
			continue
		}
		genres = append(genres, g)
		total += c
	}
	if len(genres) == 0 {
		return map[string]int{}
	}
	sort.Strings(genres)

	slots := make(map[string]int, len(genres))

	if len(genres)*minPerGenre > n {
		// Guarantees don't fit: shrink to floor(n/G), remainder to the
		// largest buckets.
		base := n / len(genres)
		remainder := n - base*len(genres)
		for _, g := range genres {
			slots[g] = min(base, counts[g])
		}
		order := append([]string(nil), genres...)
		sort.SliceStable(order, func(i, j int) bool {
			if counts[order[i]] != counts[order[j]] {
				return counts[order[i]] > counts[order[j]]
			}
			return order[i] < order[j]
		})
		for _, g := range order {
			if remainder == 0 {
				break
			}
			if slots[g] < counts[g] {
				slots[g]++
				remainder--
			}
		}
		return slots
	}

	assigned := 0
	for _, g := range genres {
		slots[g] = min(minPerGenre, counts[g])
		assigned += slots[g]
	}

	remaining := n - assigned
	if remaining <= 0 {
		return slots
	}

	// Largest-remainder rounding of the proportional shares.
	type share struct {
		genre string
		whole int
		frac  float64
	}
	shares := make([]share, 0, len(genres))
	distributed := 0
	for _, g := range genres {
		exact := float64(remaining) * float64(counts[g]) / float64(total)
		whole := int(exact)
		// Respect bucket capacity.
		if room := counts[g] - slots[g]; whole > room {
			whole = room
		}
		shares = append(shares, share{genre: g, whole: whole, frac: exact - float64(int(exact))})
		distributed += whole
	}
	for _, sh := range shares {
		slots[sh.genre] += sh.whole
	}

	leftover := remaining - distributed
	if leftover <= 0 {
		return slots
	}

	sort.SliceStable(shares, func(i, j int) bool {
		if shares[i].frac != shares[j].frac {
			return shares[i].frac > shares[j].frac
		}
		return shares[i].genre < shares[j].genre
	})
	for leftover > 0 {
		progress := false
		for _, sh := range shares {
			if leftover == 0 {
				break
			}
			if slots[sh.genre] < counts[sh.genre] {
				slots[sh.genre]++
				leftover--
				progress = true
			}
		}
		// Every bucket is full; the MMR fill pass covers any shortfall.
		if !progress {
			break
		}
	}
	return slots
}

func min(a, b int) int {
	if a < b {
		return a
	}
	return b
}
