package search

import (
	"cmp"
	"math"
	"strings"

	"golang.org/x/exp/slices"
)

// combineStats merges the per-shard answers to one StatRequest. shards
// holds one entry per shard response; a nil entry means that shard
// returned nothing for the request.
//
// When shards only return their top ShardFacets facets, a facet missing
// from a shard may still have had values there, up to the smallest sum
// that shard did return. Those bounds are summed into MaxSumError.
func combineStats(req StatRequest, shards []*StatGroup) StatGroup {
	out := StatGroup{Request: req}

	var global *statCarrier
	byFacet := make(map[string]*statCarrier)
	reported := make(map[string][]bool)
	minSumForShard := make([]float64, len(shards))
	full := make([]bool, len(shards))

	for i, g := range shards {
		if g == nil {
			full[i] = true
			continue
		}
		if g.Global != nil {
			if global == nil {
				global = newStatCarrier("")
			}
			global.add(g.Global)
		}
		if req.ShardFacets > 0 && len(g.Facets) < req.ShardFacets {
			full[i] = true
		}
		minSum := math.Inf(1)
		for j := range g.Facets {
			fs := &g.Facets[j]
			c, ok := byFacet[fs.Facet]
			if !ok {
				c = newStatCarrier(fs.Facet)
				byFacet[fs.Facet] = c
				reported[fs.Facet] = make([]bool, len(shards))
			}
			c.add(fs)
			reported[fs.Facet][i] = true
			minSum = math.Min(minSum, fs.Sum)
		}
		if len(g.Facets) > 0 {
			minSumForShard[i] = minSum
		}
	}

	if global != nil {
		gs := global.stats()
		out.Global = &gs
	}

	computeError := req.ShardFacets != -1
	for facet, c := range byFacet {
		fs := c.stats()
		if computeError {
			for i, seen := range reported[facet] {
				if seen || full[i] {
					continue
				}
				fs.HasError = true
				fs.MaxSumError += minSumForShard[i]
			}
		}
		out.Facets = append(out.Facets, fs)
	}
	slices.SortFunc(out.Facets, func(a, b FacetStats) int {
		if c := cmp.Compare(b.Sum, a.Sum); c != 0 {
			return c
		}
		return strings.Compare(a.Facet, b.Facet)
	})
	if req.MaxFacets > 0 && len(out.Facets) > req.MaxFacets {
		out.Facets = out.Facets[:req.MaxFacets]
	}
	return out
}

type statCarrier struct {
	facet       string
	min, max    float64
	sum         float64
	docCount    int64
	allDocCount int64
	valueCount  int64
}

func newStatCarrier(facet string) *statCarrier {
	return &statCarrier{facet: facet, min: math.Inf(1), max: math.Inf(-1)}
}

func (c *statCarrier) add(fs *FacetStats) {
	// A shard with no values reports zero min and max; only fold bounds in
	// when there is something to bound.
	if fs.ValueCount > 0 {
		c.min = math.Min(c.min, fs.Min)
		c.max = math.Max(c.max, fs.Max)
	}
	c.sum += fs.Sum
	c.docCount += fs.DocCount
	c.allDocCount += fs.AllDocCount
	c.valueCount += fs.ValueCount
}

func (c *statCarrier) stats() FacetStats {
	fs := FacetStats{
		Facet:       c.facet,
		Sum:         c.sum,
		DocCount:    c.docCount,
		AllDocCount: c.allDocCount,
		ValueCount:  c.valueCount,
	}
	if c.valueCount > 0 {
		fs.Min = c.min
		fs.Max = c.max
	}
	return fs
}
