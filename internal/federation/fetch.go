package federation

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"golang.org/x/exp/slices"

	"github.com/dreamware/shardsearch/internal/coordinator"
	"github.com/dreamware/shardsearch/internal/search"
)

// FetchHandler serves internal batch fetch requests.
type FetchHandler = Handler[*search.InternalBatchFetchRequest, *search.InternalBatchFetchResponse]

// BatchFetchFederator fetches documents by id across the cluster, sending
// one request per node for any number of ids.
type BatchFetchFederator struct {
	holder    *coordinator.SnapshotHolder
	federator *RequestFederator[*search.InternalBatchFetchRequest, *search.InternalBatchFetchResponse]
	logger    *slog.Logger
}

// NewBatchFetchFederator creates a fetch federator reading routing from
// holder.
func NewBatchFetchFederator(holder *coordinator.SnapshotHolder, handler FetchHandler, pool *Pool, timeout time.Duration, logger *slog.Logger) *BatchFetchFederator {
	if logger == nil {
		logger = slog.Default()
	}
	return &BatchFetchFederator{
		holder:    holder,
		federator: NewRequestFederator(handler, pool, timeout, logger),
		logger:    logger,
	}
}

// Fetch fetches a single document. A document that does not exist is
// returned with Found false, not as an error.
func (b *BatchFetchFederator) Fetch(ctx context.Context, req search.FetchRequest) (*search.FetchResponse, error) {
	out, err := b.BatchFetch(ctx, search.BatchFetchRequest{Fetches: []search.FetchRequest{req}})
	if err != nil {
		return nil, err
	}
	if len(out) == 0 {
		return nil, errors.New("fetch returned no response")
	}
	return &out[0], nil
}

// BatchFetch fetches every requested id. The order of the responses is
// not guaranteed.
func (b *BatchFetchFederator) BatchFetch(ctx context.Context, req search.BatchFetchRequest) ([]search.FetchResponse, error) {
	snap := b.holder.Load()
	reqs, err := BuildFetchRequests(snap, expandFetches(req))
	if err != nil {
		return nil, err
	}
	if len(reqs) == 0 {
		return nil, nil
	}

	started := time.Now()
	answers, err := b.federator.Send(ctx, snap, reqs)
	if err != nil {
		return nil, err
	}
	var out []search.FetchResponse
	for _, a := range answers {
		if a != nil {
			out = append(out, a.Responses...)
		}
	}
	b.logger.Debug("batch fetch finished", "nodes", len(reqs), "documents", len(out), "duration", time.Since(started))
	return out, nil
}

func expandFetches(req search.BatchFetchRequest) []search.FetchRequest {
	out := slices.Clone(req.Fetches)
	for _, g := range req.Groups {
		for _, id := range g.UniqueIDs {
			f := g.Template
			f.UniqueID = id
			out = append(out, f)
		}
	}
	return out
}

// fetchGroupKey is everything that must be identical for two ids to share
// a ShardFetchBatch.
type fetchGroupKey struct {
	node                string
	index               string
	filename            string
	documentFields      string
	documentMasked      string
	resultFetchType     search.FetchType
	associatedFetchType search.FetchType
	shard               int
	realtime            bool
}

// BuildFetchRequests routes every fetch to a node and groups ids that
// share fetch parameters into batches, one InternalBatchFetchRequest per
// node.
func BuildFetchRequests(snap *coordinator.RoutingSnapshot, fetches []search.FetchRequest) ([]NodeRequest[*search.InternalBatchFetchRequest], error) {
	byNode := make(map[string]*NodeRequest[*search.InternalBatchFetchRequest])
	batches := make(map[fetchGroupKey]int)
	var nodeOrder []string

	for _, f := range fetches {
		m, err := snap.Index(f.Index)
		if err != nil {
			return nil, err
		}
		node, shard, err := snap.Selector(f.Preference, m).NodeForUniqueID(f.UniqueID)
		if err != nil {
			return nil, err
		}

		key := fetchGroupKey{
			node:                node.Key(),
			index:               m.Name,
			shard:               shard,
			resultFetchType:     f.ResultFetchType,
			associatedFetchType: f.AssociatedFetchType,
			filename:            f.Filename,
			documentFields:      strings.Join(f.DocumentFields, "\x00"),
			documentMasked:      strings.Join(f.DocumentMaskedFields, "\x00"),
			realtime:            f.Realtime,
		}

		nr, ok := byNode[key.node]
		if !ok {
			nr = &NodeRequest[*search.InternalBatchFetchRequest]{Node: node, Request: &search.InternalBatchFetchRequest{}}
			byNode[key.node] = nr
			nodeOrder = append(nodeOrder, key.node)
		}
		i, ok := batches[key]
		if !ok {
			i = len(nr.Request.Batches)
			batches[key] = i
			nr.Request.Batches = append(nr.Request.Batches, search.ShardFetchBatch{
				Index:                m.Name,
				Shard:                shard,
				ResultFetchType:      f.ResultFetchType,
				AssociatedFetchType:  f.AssociatedFetchType,
				Filename:             f.Filename,
				DocumentFields:       f.DocumentFields,
				DocumentMaskedFields: f.DocumentMaskedFields,
				Realtime:             f.Realtime,
			})
		}
		nr.Request.Batches[i].UniqueIDs = append(nr.Request.Batches[i].UniqueIDs, f.UniqueID)
	}

	out := make([]NodeRequest[*search.InternalBatchFetchRequest], 0, len(nodeOrder))
	for _, k := range nodeOrder {
		out = append(out, *byNode[k])
	}
	return out, nil
}
