package shard

import (
	"cmp"
	"math"
	"strings"
	"unicode/utf8"

	"golang.org/x/exp/slices"

	"github.com/dreamware/shardsearch/internal/search"
)

// shard-side analysis keeps this many candidates per requested term so
// the merged top-N is drawn from a wider pool.
const analysisCandidateFactor = 10

// aggregate computes facets, stats and analysis over every match, not
// only the returned page.
func (s *Shard) aggregate(req *search.QueryRequest, matches []match, resp *search.ShardQueryResponse) {
	for _, cr := range req.Facets {
		resp.Facets = append(resp.Facets, countFacets(cr, matches))
	}
	for _, sr := range req.Stats {
		resp.Stats = append(resp.Stats, computeStats(sr, matches))
	}
	for _, ar := range req.Analysis {
		resp.Analysis = append(resp.Analysis, s.analyze(ar, matches))
	}
}

func countFacets(req search.CountRequest, matches []match) search.FacetGroup {
	counts := make(map[string]int64)
	for _, m := range matches {
		seen := make(map[string]bool)
		for _, v := range values(m.doc, req.Field) {
			f := asString(v)
			if seen[f] {
				continue
			}
			seen[f] = true
			counts[f]++
		}
	}
	out := make([]search.FacetCount, 0, len(counts))
	for f, c := range counts {
		out = append(out, search.FacetCount{Facet: f, Count: c})
	}
	slices.SortFunc(out, func(a, b search.FacetCount) int {
		if c := cmp.Compare(b.Count, a.Count); c != 0 {
			return c
		}
		return strings.Compare(a.Facet, b.Facet)
	})
	if limit := shardLimit(req.ShardFacets, req.MaxFacets); limit >= 0 && len(out) > limit {
		out = out[:limit]
	}
	return search.FacetGroup{Request: req, Counts: out}
}

// shardLimit is how many entries a shard returns; -1 means all.
func shardLimit(shardFacets, maxFacets int) int {
	switch {
	case shardFacets < 0:
		return -1
	case shardFacets > 0:
		return shardFacets
	case maxFacets > 0:
		return maxFacets
	default:
		return -1
	}
}

type statAccumulator struct {
	stats search.FacetStats
}

func (a *statAccumulator) addDoc(nums []float64) {
	a.stats.AllDocCount++
	if len(nums) == 0 {
		return
	}
	a.stats.DocCount++
	for _, n := range nums {
		if a.stats.ValueCount == 0 {
			a.stats.Min, a.stats.Max = n, n
		} else {
			a.stats.Min = math.Min(a.stats.Min, n)
			a.stats.Max = math.Max(a.stats.Max, n)
		}
		a.stats.Sum += n
		a.stats.ValueCount++
	}
}

func computeStats(req search.StatRequest, matches []match) search.StatGroup {
	global := &statAccumulator{}
	perFacet := make(map[string]*statAccumulator)

	for _, m := range matches {
		var nums []float64
		for _, v := range values(m.doc, req.NumericField) {
			if f, ok := asFloat(v); ok {
				nums = append(nums, f)
			}
		}
		global.addDoc(nums)
		if req.FacetField == "" {
			continue
		}
		seen := make(map[string]bool)
		for _, v := range values(m.doc, req.FacetField) {
			facet := asString(v)
			if seen[facet] {
				continue
			}
			seen[facet] = true
			acc, ok := perFacet[facet]
			if !ok {
				acc = &statAccumulator{stats: search.FacetStats{Facet: facet}}
				perFacet[facet] = acc
			}
			acc.addDoc(nums)
		}
	}

	group := search.StatGroup{Request: req, Global: &global.stats}
	if req.FacetField == "" {
		return group
	}
	group.Facets = make([]search.FacetStats, 0, len(perFacet))
	for _, acc := range perFacet {
		group.Facets = append(group.Facets, acc.stats)
	}
	slices.SortFunc(group.Facets, func(a, b search.FacetStats) int {
		if c := cmp.Compare(b.Sum, a.Sum); c != 0 {
			return c
		}
		return strings.Compare(a.Facet, b.Facet)
	})
	if limit := shardLimit(req.ShardFacets, req.MaxFacets); limit >= 0 && len(group.Facets) > limit {
		group.Facets = group.Facets[:limit]
	}
	return group
}

// analyze tokenizes a field of every match with the field's analyzer and
// ranks the resulting terms.
func (s *Shard) analyze(req search.AnalysisRequest, matches []match) search.AnalysisResult {
	field, _ := s.settings.Field(req.Field)
	analyzer := s.index.Mapping().AnalyzerNamed(analyzerName(field))

	terms := make(map[string]*search.Term)
	for _, m := range matches {
		inDoc := make(map[string]bool)
		for _, v := range values(m.doc, req.Field) {
			text, ok := v.(string)
			if !ok || analyzer == nil {
				continue
			}
			for _, tok := range analyzer.Analyze([]byte(text)) {
				term := string(tok.Term)
				if !wordLenOK(term, req.MinWordLen, req.MaxWordLen) {
					continue
				}
				t, ok := terms[term]
				if !ok {
					t = &search.Term{Value: term}
					terms[term] = t
				}
				t.TermFreq++
				if !inDoc[term] {
					inDoc[term] = true
					t.DocFreq++
				}
			}
		}
	}

	docs := float64(len(matches))
	out := make([]search.Term, 0, len(terms))
	for _, t := range terms {
		t.Score = float64(t.TermFreq) * math.Log(1+docs/float64(t.DocFreq))
		out = append(out, *t)
	}
	slices.SortFunc(out, search.TermOrder(req.TermSort))

	topN := req.TopN
	if topN <= 0 {
		topN = search.DefaultAnalysisTopN
	}
	if limit := topN * analysisCandidateFactor; len(out) > limit {
		out = out[:limit]
	}
	return search.AnalysisResult{Request: req, Terms: out}
}

func wordLenOK(term string, minLen, maxLen int) bool {
	n := utf8.RuneCountInString(term)
	if minLen > 0 && n < minLen {
		return false
	}
	return maxLen <= 0 || n <= maxLen
}
