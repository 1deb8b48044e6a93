package eval

import "math"

// This package is intentionally minimal: it provides a small set of ranking
// metrics that apps can use with their own hand-written relevance cases.

type Case struct {
	Name     string
	Query    string
	Expected []string // relevant item IDs, unordered
}

// RecallAtK computes recall@k for a single case.
func RecallAtK(got []string, expected []string, k int) float64 {
	if len(expected) == 0 {
		return 1.0
	}
	if k <= 0 {
		return 0.0
	}
	if k > len(got) {
		k = len(got)
	}

	exp := make(map[string]struct{}, len(expected))
	for _, e := range expected {
		exp[e] = struct{}{}
	}

	hit := 0
	for i := 0; i < k; i++ {
		if _, ok := exp[got[i]]; ok {
			hit++
		}
	}

	return float64(hit) / float64(len(expected))
}

// MRR computes mean reciprocal rank for a single case.
func MRR(got []string, expected []string) float64 {
	if len(expected) == 0 {
		return 1.0
	}
	exp := make(map[string]struct{}, len(expected))
	for _, e := range expected {
		exp[e] = struct{}{}
	}
	for i, g := range got {
		if _, ok := exp[g]; ok {
			return 1.0 / float64(i+1)
		}
	}
	return 0.0
}

// NDCGAtK computes normalized discounted cumulative gain over binary
// relevance. The ideal ordering places every expected item first.
func NDCGAtK(got []string, expected []string, k int) float64 {
	if len(expected) == 0 {
		return 1.0
	}
	if k <= 0 {
		return 0.0
	}
	if k > len(got) {
		k = len(got)
	}

	exp := make(map[string]struct{}, len(expected))
	for _, e := range expected {
		exp[e] = struct{}{}
	}

	dcg := 0.0
	for i := 0; i < k; i++ {
		if _, ok := exp[got[i]]; ok {
			dcg += 1.0 / math.Log2(float64(i)+2)
		}
	}

	ideal := len(expected)
	if ideal > k {
		ideal = k
	}
	idcg := 0.0
	for i := 0; i < ideal; i++ {
		idcg += 1.0 / math.Log2(float64(i)+2)
	}
	if idcg == 0 {
		return 0.0
	}
	return dcg / idcg
}
