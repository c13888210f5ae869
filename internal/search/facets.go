package search

import (
	"cmp"
	"strings"

	"golang.org/x/exp/slices"
)

// combineFacets merges the per-shard answers to one CountRequest. shards
// holds one entry per shard response; a nil entry means that shard
// returned no counts for the request.
//
// A shard that returned fewer facets than it was asked for (or was asked
// for all of them) reported everything it has, so any facet it did not
// return has count 0 there. Otherwise a missing facet may have had a
// count up to that shard's smallest returned count, which is added to the
// facet's MaxError.
func combineFacets(req CountRequest, shards []*FacetGroup) FacetGroup {
	n := len(shards)
	totals := make(map[string]int64)
	returned := make(map[string][]bool)
	full := make([]bool, n)
	minForShard := make([]int64, n)
	var maxValuePossibleMissing int64

	for i, g := range shards {
		var counts []FacetCount
		if g != nil {
			counts = g.Counts
		}
		for _, c := range counts {
			totals[c.Facet] += c.Count
			seen, ok := returned[c.Facet]
			if !ok {
				seen = make([]bool, n)
				returned[c.Facet] = seen
			}
			seen[i] = true
		}
		if len(counts) < req.ShardFacets || req.ShardFacets == -1 {
			full[i] = true
			minForShard[i] = 0
		} else if len(counts) > 0 {
			minForShard[i] = counts[len(counts)-1].Count
		}
		maxValuePossibleMissing += minForShard[i]
	}

	computeError := req.MaxFacets > 0 && req.ShardFacets > 0 && n > 1
	computePossibleMissing := computeError && maxValuePossibleMissing != 0

	ordered := make([]FacetCount, 0, len(totals))
	for facet, count := range totals {
		ordered = append(ordered, FacetCount{Facet: facet, Count: count})
	}
	slices.SortFunc(ordered, func(a, b FacetCount) int {
		if c := cmp.Compare(b.Count, a.Count); c != 0 {
			return c
		}
		return strings.Compare(a.Facet, b.Facet)
	})

	out := FacetGroup{Request: req}
	var minCountReturned int64
	for _, fc := range ordered {
		var maxError int64
		if computeError {
			seen := returned[fc.Facet]
			for i := 0; i < n; i++ {
				if !seen[i] && !full[i] {
					maxError += minForShard[i]
				}
			}
		}

		if req.MaxFacets > 0 && len(out.Counts) >= req.MaxFacets {
			if !computePossibleMissing {
				break
			}
			if withError := fc.Count + maxError; withError > maxValuePossibleMissing {
				maxValuePossibleMissing = withError
			}
			continue
		}

		if computeError {
			fc.MaxError = maxError
		}
		out.Counts = append(out.Counts, fc)
		minCountReturned = fc.Count
	}

	if len(ordered) > 0 && maxValuePossibleMissing > minCountReturned {
		out.PossibleMissing = true
		out.MaxValuePossibleMissing = maxValuePossibleMissing
	}
	return out
}
