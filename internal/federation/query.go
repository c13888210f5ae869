package federation

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"golang.org/x/exp/slices"

	"github.com/dreamware/shardsearch/internal/coordinator"
	"github.com/dreamware/shardsearch/internal/search"
)

// ErrFullFetchShort is returned when even the full-fetch attempt could
// not prove its page complete.
var ErrFullFetchShort = errors.New("full fetch result is short")

// QueryHandler serves internal query requests.
type QueryHandler = Handler[*search.InternalQueryRequest, *search.InternalQueryResponse]

// attempt is one round of query federation. Only boundedAttempt can
// escalate, and it can only escalate to fullAttempt, so a query is sent
// at most twice.
type attempt interface {
	fullFetch() bool
	name() string
}

type boundedAttempt struct{}

func (boundedAttempt) fullFetch() bool { return false }
func (boundedAttempt) name() string    { return "bounded" }

func (boundedAttempt) escalate() fullAttempt { return fullAttempt{} }

type fullAttempt struct{}

func (fullAttempt) fullFetch() bool { return true }
func (fullAttempt) name() string    { return "full" }

// QueryFederator answers logical queries over the cluster.
type QueryFederator struct {
	holder    *coordinator.SnapshotHolder
	federator *RequestFederator[*search.InternalQueryRequest, *search.InternalQueryResponse]
	logger    *slog.Logger
}

// NewQueryFederator creates a query federator reading routing from holder.
func NewQueryFederator(holder *coordinator.SnapshotHolder, handler QueryHandler, pool *Pool, timeout time.Duration, logger *slog.Logger) *QueryFederator {
	if logger == nil {
		logger = slog.Default()
	}
	return &QueryFederator{
		holder:    holder,
		federator: NewRequestFederator(handler, pool, timeout, logger),
		logger:    logger,
	}
}

// Query resolves the request's indexes against one routing snapshot,
// fans out to the owning nodes and merges their answers. When the merged
// page may be missing results, the query is retried once asking every
// shard for the full start+amount.
func (q *QueryFederator) Query(ctx context.Context, req *search.QueryRequest) (*search.QueryResponse, error) {
	req, err := search.Normalize(req)
	if err != nil {
		return nil, err
	}
	queryID := uuid.New().String()
	log := q.logger.With("query_id", queryID)
	started := time.Now()

	snap := q.holder.Load()
	mappings, err := snap.ResolveIndexes(req.Indexes)
	if err != nil {
		return nil, err
	}
	if len(mappings) == 0 {
		return nil, fmt.Errorf("%w: no indexes given", coordinator.ErrIndexNotFound)
	}

	resolved := *req
	resolved.Indexes = make([]string, len(mappings))
	for i, m := range mappings {
		resolved.Indexes[i] = m.Name
	}
	log.Info("query started", "indexes", resolved.Indexes, "amount", req.Amount, "start", req.Start, "snapshot", snap.Version)

	bounded := boundedAttempt{}
	combined, err := q.run(ctx, log, snap, mappings, &resolved, bounded)
	if err != nil {
		return nil, err
	}
	var used attempt = bounded
	if combined.Short() {
		q.logShortfall(log, combined.Shortfall, bounded)
		full := bounded.escalate()
		combined, err = q.run(ctx, log, snap, mappings, &resolved, full)
		if err != nil {
			return nil, err
		}
		used = full
		if combined.Short() {
			q.logShortfall(log, combined.Shortfall, full)
			return nil, fmt.Errorf("%w: %s", ErrFullFetchShort, combined.Shortfall)
		}
	}

	resp := combined.Response
	log.Info("query finished",
		"duration", time.Since(started),
		"total_hits", resp.TotalHits,
		"returned", len(resp.Results),
		"shards_queried", resp.ShardsQueried,
		"shards_cached", resp.ShardsCached,
		"shards_pinned", resp.ShardsPinned,
		"fully_cached", resp.FullyCached,
		"attempt", used.name(),
	)
	return resp, nil
}

func (q *QueryFederator) run(ctx context.Context, log *slog.Logger, snap *coordinator.RoutingSnapshot, mappings []coordinator.IndexMapping, req *search.QueryRequest, a attempt) (*search.Combined, error) {
	reqs, err := BuildQueryRequests(snap, mappings, req, a.fullFetch())
	if err != nil {
		return nil, err
	}
	if req.Debug {
		for _, r := range reqs {
			log.Info("internal query", "node", r.Node.Key(), "targets", r.Request.Targets, "full_fetch", r.Request.FullFetch)
		}
	}

	answers, err := q.federator.Send(ctx, snap, reqs)
	if err != nil {
		return nil, err
	}
	var responses []search.ShardQueryResponse
	for _, ans := range answers {
		if ans != nil {
			responses = append(responses, ans.Responses...)
		}
	}
	return search.Combine(mappings, req, responses)
}

func (q *QueryFederator) logShortfall(log *slog.Logger, s *search.Shortfall, a attempt) {
	args := []any{
		"attempt", a.name(),
		"index", s.Index,
		"sorted", s.Sorted,
		"last_shard", s.Last.Shard,
		"last_score", s.Last.Score,
		"last_sort_values", s.Last.SortValues,
		"next_shard", s.Next.Shard,
		"next_score", s.Next.Score,
		"next_sort_values", s.Next.SortValues,
	}
	if !s.Sorted {
		args = append(args, "shard_tolerance", s.Tolerance)
	}
	if a.fullFetch() {
		log.Error("full fetch did not return the most relevant documents", args...)
		return
	}
	log.Warn("result set did not return the most relevant documents, retrying with full fetch; "+
		"increase requestFactor or minShardRequest if this happens often", args...)
}

// BuildQueryRequests picks a node for every shard of every index and
// groups the work into one InternalQueryRequest per node, in node key
// order.
func BuildQueryRequests(snap *coordinator.RoutingSnapshot, mappings []coordinator.IndexMapping, req *search.QueryRequest, fullFetch bool) ([]NodeRequest[*search.InternalQueryRequest], error) {
	byNode := make(map[string]*NodeRequest[*search.InternalQueryRequest])
	for _, m := range mappings {
		shardsByNode, err := snap.Selector(req.Preference, m).ShardsByNode()
		if err != nil {
			return nil, err
		}
		amount := search.ShardAmount(req, m.NumberOfShards, m.Settings, fullFetch)
		for key, ns := range shardsByNode {
			nr, ok := byNode[key]
			if !ok {
				nr = &NodeRequest[*search.InternalQueryRequest]{
					Node:    ns.Node,
					Request: &search.InternalQueryRequest{Request: req, FullFetch: fullFetch},
				}
				byNode[key] = nr
			}
			nr.Request.Targets = append(nr.Request.Targets, search.IndexShards{
				Index:  m.Name,
				Shards: ns.Shards,
				Amount: amount,
			})
		}
	}

	keys := make([]string, 0, len(byNode))
	for k := range byNode {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	out := make([]NodeRequest[*search.InternalQueryRequest], 0, len(keys))
	for _, k := range keys {
		out = append(out, *byNode[k])
	}
	return out, nil
}
