package search

import (
	"errors"
	"fmt"

	"golang.org/x/exp/slices"
)

// ErrInvalidRequest is matched by every request validation failure.
var ErrInvalidRequest = errors.New("invalid query request")

// DefaultMaxFacets is applied to count and stat requests without a limit.
const DefaultMaxFacets = 10

// shardFacetsFactor sizes per-shard facet lists when the caller leaves
// ShardFacets unset.
const shardFacetsFactor = 10

// Normalize validates req and returns a copy with defaults applied. The
// input is not modified.
//
// Count requests on the same field are collapsed into one asking for the
// larger of each limit, as are stat requests on the same pair of fields.
func Normalize(req *QueryRequest) (*QueryRequest, error) {
	if req == nil {
		return nil, fmt.Errorf("%w: empty request", ErrInvalidRequest)
	}
	if req.Amount < 0 || req.Start < 0 {
		return nil, fmt.Errorf("%w: amount and start must not be negative", ErrInvalidRequest)
	}

	out := *req
	switch out.FetchType {
	case "":
		out.FetchType = FetchFull
	case FetchNone, FetchMeta, FetchFull:
	default:
		return nil, fmt.Errorf("%w: unknown fetch type %q", ErrInvalidRequest, out.FetchType)
	}
	if len(out.Highlights) > 0 && out.FetchType != FetchFull {
		return nil, fmt.Errorf("%w: highlighting requires a full fetch of the document", ErrInvalidRequest)
	}

	for _, s := range out.Sort {
		if s.Field == "" {
			return nil, fmt.Errorf("%w: sort field must not be empty", ErrInvalidRequest)
		}
		if s.Direction != "" && s.Direction != Ascending && s.Direction != Descending {
			return nil, fmt.Errorf("%w: unknown sort direction %q", ErrInvalidRequest, s.Direction)
		}
	}
	for _, sim := range out.Similarity {
		if sim.Similarity != SimilarityDefault && sim.Similarity != SimilarityConstant {
			return nil, fmt.Errorf("%w: unknown similarity %q", ErrInvalidRequest, sim.Similarity)
		}
	}

	out.Facets = nil
	for _, cr := range req.Facets {
		if cr.Field == "" {
			return nil, fmt.Errorf("%w: count request without field", ErrInvalidRequest)
		}
		cr.MaxFacets, cr.ShardFacets = facetLimits(cr.MaxFacets, cr.ShardFacets)
		i := slices.IndexFunc(out.Facets, func(o CountRequest) bool { return o.Field == cr.Field })
		if i < 0 {
			out.Facets = append(out.Facets, cr)
			continue
		}
		out.Facets[i].MaxFacets = max(out.Facets[i].MaxFacets, cr.MaxFacets)
		out.Facets[i].ShardFacets = widerShardFacets(out.Facets[i].ShardFacets, cr.ShardFacets)
	}

	out.Stats = nil
	for _, sr := range req.Stats {
		if sr.NumericField == "" {
			return nil, fmt.Errorf("%w: stat request without numeric field", ErrInvalidRequest)
		}
		sr.MaxFacets, sr.ShardFacets = facetLimits(sr.MaxFacets, sr.ShardFacets)
		i := slices.IndexFunc(out.Stats, func(o StatRequest) bool {
			return o.NumericField == sr.NumericField && o.FacetField == sr.FacetField
		})
		if i < 0 {
			out.Stats = append(out.Stats, sr)
			continue
		}
		out.Stats[i].MaxFacets = max(out.Stats[i].MaxFacets, sr.MaxFacets)
		out.Stats[i].ShardFacets = widerShardFacets(out.Stats[i].ShardFacets, sr.ShardFacets)
	}

	out.Analysis = slices.Clone(req.Analysis)
	for i := range out.Analysis {
		if out.Analysis[i].Field == "" {
			return nil, fmt.Errorf("%w: analysis request without field", ErrInvalidRequest)
		}
		if out.Analysis[i].TopN <= 0 {
			out.Analysis[i].TopN = DefaultAnalysisTopN
		}
		if out.Analysis[i].TermSort == "" {
			out.Analysis[i].TermSort = TermSortTF
		}
	}
	return &out, nil
}

func facetLimits(maxFacets, shardFacets int) (int, int) {
	if maxFacets == 0 {
		maxFacets = DefaultMaxFacets
	}
	if shardFacets == 0 {
		shardFacets = maxFacets * shardFacetsFactor
	}
	return maxFacets, shardFacets
}

// widerShardFacets prefers -1, which means every facet.
func widerShardFacets(a, b int) int {
	if a == -1 || b == -1 {
		return -1
	}
	return max(a, b)
}
