package search

import (
	"cmp"
	"strings"

	"golang.org/x/exp/slices"
)

// DefaultAnalysisTopN is used when an AnalysisRequest leaves TopN unset.
const DefaultAnalysisTopN = 10

// combineAnalysis sums term frequencies across shards and keeps the top
// terms by the requested ordering.
func combineAnalysis(req AnalysisRequest, shards []*AnalysisResult) AnalysisResult {
	terms := make(map[string]*Term)
	for _, ar := range shards {
		if ar == nil {
			continue
		}
		for _, t := range ar.Terms {
			acc, ok := terms[t.Value]
			if !ok {
				acc = &Term{Value: t.Value}
				terms[t.Value] = acc
			}
			acc.DocFreq += t.DocFreq
			acc.TermFreq += t.TermFreq
			acc.Score += t.Score
		}
	}

	out := AnalysisResult{Request: req, Terms: make([]Term, 0, len(terms))}
	for _, t := range terms {
		out.Terms = append(out.Terms, *t)
	}
	slices.SortFunc(out.Terms, TermOrder(req.TermSort))

	topN := req.TopN
	if topN <= 0 {
		topN = DefaultAnalysisTopN
	}
	if len(out.Terms) > topN {
		out.Terms = out.Terms[:topN]
	}
	return out
}

// TermOrder returns the comparison for an analysis term ordering. Ties
// break by term value.
func TermOrder(sort TermSort) func(a, b Term) int {
	switch sort {
	case TermSortTFIDF:
		return func(a, b Term) int {
			if c := cmp.Compare(b.Score, a.Score); c != 0 {
				return c
			}
			return strings.Compare(a.Value, b.Value)
		}
	case TermSortABC:
		return func(a, b Term) int {
			return strings.Compare(a.Value, b.Value)
		}
	default:
		return func(a, b Term) int {
			if c := cmp.Compare(b.TermFreq, a.TermFreq); c != 0 {
				return c
			}
			return strings.Compare(a.Value, b.Value)
		}
	}
}
