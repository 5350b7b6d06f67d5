package search

import "sort"

// rrfK dampens the influence of low ranks in reciprocal rank fusion.
const rrfK = 60

// fuseRankings combines rankings (each a slice of keys, best first) into
// a fused score per key: sum of 1/(rrfK + rank) across the rankings a
// key appears in.
func fuseRankings(rankings ...[]string) map[string]float64 {
	fused := make(map[string]float64)
	for _, ranking := range rankings {
		for rank, key := range ranking {
			fused[key] += 1.0 / float64(rrfK+rank+1)
		}
	}
	return fused
}

// rankByScore returns keys ordered by descending score, ties broken by
// key for determinism.
func rankByScore(scores map[string]float64) []string {
	keys := make([]string, 0, len(scores))
	for key := range scores {
		keys = append(keys, key)
	}
	sort.Slice(keys, func(i, j int) bool {
		if scores[keys[i]] != scores[keys[j]] {
			return scores[keys[i]] > scores[keys[j]]
		}
		return keys[i] < keys[j]
	})
	return keys
}
