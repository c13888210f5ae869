package search

import (
	"github.com/dreamware/shardsearch/internal/coordinator"
)

// ScoreField is the sort pseudo-field for relevance score.
const ScoreField = "_score"

// FetchType controls how much of each document a query or fetch returns.
type FetchType string

const (
	FetchNone FetchType = "none"
	FetchMeta FetchType = "meta"
	FetchFull FetchType = "full"
)

// Direction is a sort direction.
type Direction string

const (
	Ascending  Direction = "asc"
	Descending Direction = "desc"
)

// FieldSort is one key of a multi-field sort. An empty Direction means
// ascending for document fields and descending for ScoreField.
type FieldSort struct {
	Field       string    `json:"field"`
	Direction   Direction `json:"direction,omitempty"`
	MissingLast bool      `json:"missingLast,omitempty"`
}

func (f FieldSort) descending() bool {
	if f.Field == ScoreField {
		return f.Direction != Ascending
	}
	return f.Direction == Descending
}

// SortValue is the value of one sort field for one result. Exactly one of
// Int, Float or String is meaningful, chosen by the field's type.
type SortValue struct {
	String string  `json:"s,omitempty"`
	Int    int64   `json:"i,omitempty"`
	Float  float64 `json:"f,omitempty"`
	Exists bool    `json:"e"`
}

// ScoredResult is one hit. SortValues is positionally aligned with the
// request's sort fields; the entry for ScoreField is unused.
type ScoredResult struct {
	Document    map[string]any      `json:"document,omitempty"`
	Highlights  map[string][]string `json:"highlights,omitempty"`
	UniqueID    string              `json:"uniqueId,omitempty"`
	Index       string              `json:"index,omitempty"`
	SortValues  []SortValue         `json:"sortValues,omitempty"`
	Score       float64             `json:"score"`
	Shard       int                 `json:"shard"`
	ResultIndex int                 `json:"resultIndex,omitempty"`
}

// cursor strips everything a resume point does not need.
func (r ScoredResult) cursor() ScoredResult {
	return ScoredResult{
		UniqueID:   r.UniqueID,
		Score:      r.Score,
		Shard:      r.Shard,
		SortValues: r.SortValues,
	}
}

// LastIndexResult holds, for one index, the last result returned so far
// by each shard. At most one entry per shard.
type LastIndexResult struct {
	Index        string         `json:"index"`
	LastForShard []ScoredResult `json:"lastForShard"`
}

// LastResult is the pagination cursor a caller round-trips to fetch the
// next page.
type LastResult struct {
	Indexes []LastIndexResult `json:"indexes,omitempty"`
}

// ForShard returns the cursor entry for (index, shard), or nil.
func (l *LastResult) ForShard(index string, shard int) *ScoredResult {
	if l == nil {
		return nil
	}
	for i := range l.Indexes {
		if l.Indexes[i].Index != index {
			continue
		}
		for j := range l.Indexes[i].LastForShard {
			if l.Indexes[i].LastForShard[j].Shard == shard {
				return &l.Indexes[i].LastForShard[j]
			}
		}
	}
	return nil
}

// CountRequest asks for facet counts on a field. ShardFacets is how many
// facets each shard returns; -1 means all of them, 0 means derive from
// MaxFacets.
type CountRequest struct {
	Field       string `json:"field"`
	MaxFacets   int    `json:"maxFacets,omitempty"`
	ShardFacets int    `json:"shardFacets,omitempty"`
}

// FacetCount is one facet value and its count. MaxError bounds how much
// the count may be under-reported because some shards did not return it.
type FacetCount struct {
	Facet    string `json:"facet"`
	Count    int64  `json:"count"`
	MaxError int64  `json:"maxError,omitempty"`
}

// FacetGroup is the answer to one CountRequest.
type FacetGroup struct {
	Counts                  []FacetCount `json:"counts"`
	Request                 CountRequest `json:"request"`
	MaxValuePossibleMissing int64        `json:"maxValuePossibleMissing,omitempty"`
	PossibleMissing         bool         `json:"possibleMissing,omitempty"`
}

// StatRequest asks for numeric statistics on NumericField, globally and,
// when FacetField is set, per facet value.
type StatRequest struct {
	NumericField string `json:"numericField"`
	FacetField   string `json:"facetField,omitempty"`
	MaxFacets    int    `json:"maxFacets,omitempty"`
	ShardFacets  int    `json:"shardFacets,omitempty"`
}

// FacetStats holds the statistics of one facet value, or the global
// statistics when Facet is empty.
type FacetStats struct {
	Facet       string  `json:"facet,omitempty"`
	Min         float64 `json:"min"`
	Max         float64 `json:"max"`
	Sum         float64 `json:"sum"`
	MaxSumError float64 `json:"maxSumError,omitempty"`
	DocCount    int64   `json:"docCount"`
	AllDocCount int64   `json:"allDocCount"`
	ValueCount  int64   `json:"valueCount"`
	HasError    bool    `json:"hasError,omitempty"`
}

// StatGroup is the answer to one StatRequest.
type StatGroup struct {
	Global  *FacetStats  `json:"global,omitempty"`
	Facets  []FacetStats `json:"facets,omitempty"`
	Request StatRequest  `json:"request"`
}

// TermSort orders analysis terms.
type TermSort string

const (
	TermSortTF    TermSort = "tf"
	TermSortTFIDF TermSort = "tfidf"
	TermSortABC   TermSort = "abc"
)

// AnalysisRequest asks for the top terms of a text field across matching
// documents.
type AnalysisRequest struct {
	Field      string   `json:"field"`
	TermSort   TermSort `json:"termSort,omitempty"`
	TopN       int      `json:"topN,omitempty"`
	MinWordLen int      `json:"minWordLen,omitempty"`
	MaxWordLen int      `json:"maxWordLen,omitempty"`
}

// Term is one analysed term with its frequencies.
type Term struct {
	Value    string  `json:"value"`
	Score    float64 `json:"score,omitempty"`
	DocFreq  int64   `json:"docFreq"`
	TermFreq int64   `json:"termFreq"`
}

// AnalysisResult is the answer to one AnalysisRequest.
type AnalysisResult struct {
	Terms   []Term          `json:"terms"`
	Request AnalysisRequest `json:"request"`
}

// HighlightRequest asks for highlighted fragments of a field.
type HighlightRequest struct {
	Field string `json:"field"`
}

// Similarity values for FieldSimilarity.
const (
	SimilarityDefault  = "default"
	SimilarityConstant = "constant"
)

// FieldSimilarity overrides scoring for a field.
type FieldSimilarity struct {
	Field      string `json:"field"`
	Similarity string `json:"similarity"`
}

// QueryRequest is a logical query over one or more indexes.
type QueryRequest struct {
	LastResult           *LastResult                   `json:"lastResult,omitempty"`
	Query                string                        `json:"query,omitempty"`
	DefaultField         string                        `json:"defaultField,omitempty"`
	Label                string                        `json:"label,omitempty"`
	FetchType            FetchType                     `json:"fetchType,omitempty"`
	Indexes              []string                      `json:"indexes"`
	Filters              []string                      `json:"filters,omitempty"`
	Sort                 []FieldSort                   `json:"sort,omitempty"`
	Facets               []CountRequest                `json:"facets,omitempty"`
	Stats                []StatRequest                 `json:"stats,omitempty"`
	Highlights           []HighlightRequest            `json:"highlights,omitempty"`
	Analysis             []AnalysisRequest             `json:"analysis,omitempty"`
	Similarity           []FieldSimilarity             `json:"similarity,omitempty"`
	DocumentFields       []string                      `json:"documentFields,omitempty"`
	DocumentMaskedFields []string                      `json:"documentMaskedFields,omitempty"`
	Amount               int                           `json:"amount"`
	Start                int                           `json:"start,omitempty"`
	Concurrency          int                           `json:"concurrency,omitempty"`
	Preference           coordinator.ReplicaPreference `json:"preference,omitempty"`
	Realtime             bool                          `json:"realtime,omitempty"`
	DontCache            bool                          `json:"dontCache,omitempty"`
	PinToCache           bool                          `json:"pinToCache,omitempty"`
	Debug                bool                          `json:"debug,omitempty"`
}

// Sorting reports whether the request has an explicit sort.
func (r *QueryRequest) Sorting() bool {
	return len(r.Sort) > 0
}

// ShardQueryResponse is one shard's bounded, sorted partial result. Next
// is the best result the shard held back, used by the merge correctness
// check; it is nil when the shard returned everything it matched.
type ShardQueryResponse struct {
	Next      *ScoredResult    `json:"next,omitempty"`
	Index     string           `json:"index"`
	Results   []ScoredResult   `json:"results,omitempty"`
	Facets    []FacetGroup     `json:"facets,omitempty"`
	Stats     []StatGroup      `json:"stats,omitempty"`
	Analysis  []AnalysisResult `json:"analysis,omitempty"`
	TotalHits int64            `json:"totalHits"`
	Shard     int              `json:"shard"`
	Cached    bool             `json:"cached,omitempty"`
	Pinned    bool             `json:"pinned,omitempty"`
}

// QueryResponse is the merged answer to a QueryRequest.
type QueryResponse struct {
	LastResult    LastResult       `json:"lastResult"`
	Results       []ScoredResult   `json:"results"`
	Facets        []FacetGroup     `json:"facets,omitempty"`
	Stats         []StatGroup      `json:"stats,omitempty"`
	Analysis      []AnalysisResult `json:"analysis,omitempty"`
	TotalHits     int64            `json:"totalHits"`
	ShardsQueried int              `json:"shardsQueried"`
	ShardsCached  int              `json:"shardsCached"`
	ShardsPinned  int              `json:"shardsPinned"`
	FullyCached   bool             `json:"fullyCached"`
}

// IndexShards names the shards of one index a node must answer for and
// how many results each shard returns.
type IndexShards struct {
	Index  string `json:"index"`
	Shards []int  `json:"shards"`
	Amount int    `json:"amount"`
}

// InternalQueryRequest is the per-node unit of query federation. One node
// may answer for shards of several indexes in a single call.
type InternalQueryRequest struct {
	Request   *QueryRequest `json:"request"`
	Targets   []IndexShards `json:"targets"`
	FullFetch bool          `json:"fullFetch,omitempty"`
}

// InternalQueryResponse carries one ShardQueryResponse per requested shard.
type InternalQueryResponse struct {
	Responses []ShardQueryResponse `json:"responses"`
}
