package federation

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/exp/slices"

	"github.com/dreamware/shardsearch/internal/cluster"
	"github.com/dreamware/shardsearch/internal/coordinator"
	"github.com/dreamware/shardsearch/internal/search"
)

// StoreHandler applies a document write on one node.
type StoreHandler = Handler[*search.StoreRequest, *search.WriteResponse]

// DeleteHandler applies a document delete on one node.
type DeleteHandler = Handler[*search.DeleteRequest, *search.WriteResponse]

// WriteRouter sends document writes to every copy of the owning shard:
// the primary and each replica.
type WriteRouter struct {
	holder  *coordinator.SnapshotHolder
	stores  *RequestFederator[*search.StoreRequest, *search.WriteResponse]
	deletes *RequestFederator[*search.DeleteRequest, *search.WriteResponse]
	logger  *slog.Logger
}

// NewWriteRouter creates a write router.
func NewWriteRouter(holder *coordinator.SnapshotHolder, store StoreHandler, del DeleteHandler, pool *Pool, timeout time.Duration, logger *slog.Logger) *WriteRouter {
	if logger == nil {
		logger = slog.Default()
	}
	return &WriteRouter{
		holder:  holder,
		stores:  NewRequestFederator(store, pool, timeout, logger),
		deletes: NewRequestFederator(del, pool, timeout, logger),
		logger:  logger,
	}
}

// Store writes doc under uniqueID in index. It returns the keys of the
// nodes that applied the write.
func (w *WriteRouter) Store(ctx context.Context, index, uniqueID string, doc map[string]any) ([]string, error) {
	snap := w.holder.Load()
	m, holders, shard, err := copiesFor(snap, index, uniqueID)
	if err != nil {
		return nil, err
	}
	req := &search.StoreRequest{Index: m.Name, UniqueID: uniqueID, Shard: shard, Document: doc}
	reqs := make([]NodeRequest[*search.StoreRequest], len(holders))
	for i, n := range holders {
		reqs[i] = NodeRequest[*search.StoreRequest]{Node: n, Request: req}
	}
	answers, err := w.stores.Send(ctx, snap, reqs)
	if err != nil {
		return nil, err
	}
	w.logger.Debug("document stored", "index", m.Name, "id", uniqueID, "shard", shard, "copies", len(answers))
	return nodeKeys(answers), nil
}

// Delete removes uniqueID from index on every copy of its shard.
func (w *WriteRouter) Delete(ctx context.Context, index, uniqueID string) ([]string, error) {
	snap := w.holder.Load()
	m, holders, shard, err := copiesFor(snap, index, uniqueID)
	if err != nil {
		return nil, err
	}
	req := &search.DeleteRequest{Index: m.Name, UniqueID: uniqueID, Shard: shard}
	reqs := make([]NodeRequest[*search.DeleteRequest], len(holders))
	for i, n := range holders {
		reqs[i] = NodeRequest[*search.DeleteRequest]{Node: n, Request: req}
	}
	answers, err := w.deletes.Send(ctx, snap, reqs)
	if err != nil {
		return nil, err
	}
	w.logger.Debug("document deleted", "index", m.Name, "id", uniqueID, "shard", shard, "copies", len(answers))
	return nodeKeys(answers), nil
}

// copiesFor returns every copy of the shard owning uniqueID, recovering
// ones included. Every copy must be reachable.
func copiesFor(snap *coordinator.RoutingSnapshot, index, uniqueID string) (coordinator.IndexMapping, []cluster.Node, int, error) {
	m, err := snap.Index(index)
	if err != nil {
		return m, nil, 0, err
	}
	shard := m.ShardFor(uniqueID)
	sm, ok := m.ShardMapping(shard)
	if !ok {
		return m, nil, shard, &coordinator.ShardUnavailableError{Index: m.Name, Shard: shard}
	}
	holders := sm.Copies()
	for _, h := range holders {
		if !reachable(snap, h) {
			return m, nil, shard, fmt.Errorf("copy on %s: %w", h.Key(),
				&coordinator.ShardUnavailableError{Index: m.Name, Shard: shard})
		}
	}
	return m, holders, shard, nil
}

func reachable(snap *coordinator.RoutingSnapshot, n cluster.Node) bool {
	return slices.ContainsFunc(snap.Nodes, n.Same)
}

func nodeKeys(answers []*search.WriteResponse) []string {
	out := make([]string, 0, len(answers))
	for _, a := range answers {
		if a != nil {
			out = append(out, a.Node)
		}
	}
	return out
}
