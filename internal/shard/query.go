package shard

import (
	"context"
	"fmt"
	"strings"

	"github.com/blevesearch/bleve/v2"
	"github.com/blevesearch/bleve/v2/search/query"
	"golang.org/x/exp/slices"

	"github.com/dreamware/shardsearch/internal/coordinator"
	"github.com/dreamware/shardsearch/internal/search"
)

// match is one document matching a shard query, with its stored body.
type match struct {
	doc    map[string]any
	result search.ScoredResult
}

// Query executes one shard query. Cacheable results are served from and
// stored in the shard's result cache; concurrent identical misses run
// once.
func (s *Shard) Query(ctx context.Context, q search.ShardQuery) (*search.ShardQueryResponse, error) {
	if err := s.checkOpen(); err != nil {
		return nil, err
	}
	s.stats.queries.Add(1)

	if q.CacheKey == nil || !q.Cacheable(s.settings) {
		return s.execute(ctx, q)
	}

	key := q.CacheKey
	gen := s.generation.Load()
	if !q.Request.Realtime {
		if cached, ok := s.cache.Get(key); ok {
			s.stats.cacheHits.Add(1)
			if key.Pinned() {
				// a general-tier hit for a pinned query moves into the pinned tier
				s.putIfCurrent(key, gen, cached)
			}
			return servedFromCache(cached, key.Pinned()), nil
		}
	}

	// Callers only share a search started in the same cache generation
	// and for the same tier. The search outlives any one caller's context.
	flightKey := fmt.Sprintf("%d/%t/%s", gen, key.Pinned(), key.String())
	ch := s.flight.DoChan(flightKey, func() (any, error) {
		resp, err := s.execute(context.WithoutCancel(ctx), q)
		if err != nil {
			return nil, err
		}
		s.putIfCurrent(key, gen, resp)
		return resp, nil
	})
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		if res.Shared {
			s.stats.collapsed.Add(1)
		}
		resp := *res.Val.(*search.ShardQueryResponse)
		return &resp, nil
	}
}

func servedFromCache(resp *search.ShardQueryResponse, pinned bool) *search.ShardQueryResponse {
	out := *resp
	out.Cached = true
	out.Pinned = pinned
	return &out
}

func (s *Shard) execute(ctx context.Context, q search.ShardQuery) (*search.ShardQueryResponse, error) {
	req := q.Request
	matches, err := s.matches(ctx, req)
	if err != nil {
		return nil, err
	}

	types := make([]coordinator.FieldType, len(req.Sort))
	for i, fs := range req.Sort {
		if fs.Field != search.ScoreField {
			types[i] = s.settings.SortFieldType(fs.Field)
		}
	}
	for i := range matches {
		m := &matches[i]
		m.result.SortValues = make([]search.SortValue, len(req.Sort))
		for j, fs := range req.Sort {
			if fs.Field != search.ScoreField {
				m.result.SortValues[j] = sortValue(m.doc, fs.Field, types[j])
			}
		}
	}

	comparator := search.NewComparator(req.Sort, types)
	order := func(a, b *search.ScoredResult) int {
		if c := comparator.Compare(a, b); c != 0 {
			return c
		}
		return strings.Compare(a.UniqueID, b.UniqueID)
	}
	slices.SortFunc(matches, func(a, b match) int { return order(&a.result, &b.result) })

	resp := &search.ShardQueryResponse{
		Index:     s.Index,
		Shard:     s.ID,
		TotalHits: int64(len(matches)),
	}
	s.aggregate(req, matches, resp)

	page := matches
	if q.After != nil {
		after := q.After
		i, _ := slices.BinarySearchFunc(page, after, func(m match, t *search.ScoredResult) int {
			if order(&m.result, t) <= 0 {
				return -1
			}
			return 1
		})
		page = page[i:]
	}

	amount := min(q.Amount, len(page))
	resp.Results = make([]search.ScoredResult, 0, amount)
	for i := 0; i < amount; i++ {
		r := page[i].result
		r.ResultIndex = i
		r.Document = project(page[i].doc, req.FetchType, req.DocumentFields, req.DocumentMaskedFields)
		resp.Results = append(resp.Results, r)
	}
	if len(page) > amount {
		next := page[amount].result
		next.Highlights = nil
		resp.Next = &next
	}
	return resp, nil
}

// matches runs the full-text query and returns every matching document.
func (s *Shard) matches(ctx context.Context, req *search.QueryRequest) ([]match, error) {
	count, err := s.index.DocCount()
	if err != nil {
		return nil, fmt.Errorf("count documents: %w", err)
	}
	if count == 0 {
		return nil, nil
	}

	sr := bleve.NewSearchRequestOptions(s.buildQuery(req), int(count), 0, false)
	if len(req.Highlights) > 0 {
		sr.Highlight = bleve.NewHighlight()
		for _, h := range req.Highlights {
			sr.Highlight.AddField(h.Field)
		}
	}
	if constantScoring(req) {
		sr.Score = "none"
	}

	res, err := s.index.SearchInContext(ctx, sr)
	if err != nil {
		return nil, fmt.Errorf("search %s shard %d: %w", s.Index, s.ID, err)
	}

	out := make([]match, 0, len(res.Hits))
	for _, hit := range res.Hits {
		doc, err := s.docs.Get(hit.ID)
		if err != nil {
			// deleted between search and load
			continue
		}
		out = append(out, match{
			doc: doc,
			result: search.ScoredResult{
				Index:      s.Index,
				Shard:      s.ID,
				UniqueID:   hit.ID,
				Score:      hit.Score,
				Highlights: highlights(hit.Fragments),
			},
		})
	}
	return out, nil
}

func highlights(fragments map[string][]string) map[string][]string {
	if len(fragments) == 0 {
		return nil
	}
	return fragments
}

func (s *Shard) buildQuery(req *search.QueryRequest) query.Query {
	var parts []query.Query
	if text := strings.TrimSpace(req.Query); text != "" && text != "*" && text != "*:*" {
		parts = append(parts, textQuery(text, req.DefaultField))
	}
	for _, f := range req.Filters {
		if f = strings.TrimSpace(f); f != "" {
			parts = append(parts, bleve.NewQueryStringQuery(f))
		}
	}
	switch len(parts) {
	case 0:
		return bleve.NewMatchAllQuery()
	case 1:
		return parts[0]
	default:
		return bleve.NewConjunctionQuery(parts...)
	}
}

// textQuery searches defaultField for plain text; anything using the
// query-string field syntax is parsed as such.
func textQuery(text, defaultField string) query.Query {
	if defaultField == "" || strings.ContainsAny(text, ":+-\"") {
		return bleve.NewQueryStringQuery(text)
	}
	mq := bleve.NewMatchQuery(text)
	mq.SetField(defaultField)
	return mq
}

// constantScoring reports whether every similarity override asks for
// constant scores.
func constantScoring(req *search.QueryRequest) bool {
	if len(req.Similarity) == 0 {
		return false
	}
	for _, fs := range req.Similarity {
		if fs.Similarity != search.SimilarityConstant {
			return false
		}
	}
	return true
}
