package node

import (
	"context"

	"github.com/dreamware/shardsearch/internal/cluster"
	"github.com/dreamware/shardsearch/internal/coordinator"
	"github.com/dreamware/shardsearch/internal/search"
	"github.com/dreamware/shardsearch/internal/shard"
)

// Recovery is how a runtime fills a copy placed on it after the shard
// already held documents elsewhere.
type Recovery struct {
	// Export reads every document of a shard from a serving copy.
	Export func(ctx context.Context, node cluster.Node, req *search.ExportRequest) (*search.ExportResponse, error)
	// Report tells placement the copy is complete; nil keeps it recovering.
	Report func(ctx context.Context, index string, shard int) error
}

// SetRecovery configures backfill. Without an Export function recovering
// copies only receive new writes.
func (r *Runtime) SetRecovery(rec Recovery) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.recovery = rec
}

// startBackfill copies the shard from a serving copy in the background.
// At most one backfill per shard runs at a time; a failed one is retried
// on the next Sync.
func (r *Runtime) startBackfill(index string, sm coordinator.ShardMapping, s *shard.Shard) {
	key := shardKey{index: index, id: sm.Shard}
	r.mu.Lock()
	rec := r.recovery
	_, running := r.backfills[key]
	if rec.Export == nil || running || r.ctx.Err() != nil {
		r.mu.Unlock()
		return
	}
	r.backfills[key] = struct{}{}
	r.mu.Unlock()

	s.BeginRecovery()
	go func() {
		defer func() {
			r.mu.Lock()
			delete(r.backfills, key)
			r.mu.Unlock()
		}()
		r.backfill(r.ctx, rec, index, sm, s)
	}()
}

func (r *Runtime) backfill(ctx context.Context, rec Recovery, index string, sm coordinator.ShardMapping, s *shard.Shard) {
	req := &search.ExportRequest{Index: index, Shard: sm.Shard}
	sources := append([]cluster.Node{sm.Primary}, sm.Replicas...)
	for _, src := range sources {
		if src.Address == "" || src.Same(r.self) {
			continue
		}
		resp, err := rec.Export(ctx, src, req)
		if err != nil {
			r.logger.Warn("export failed", "index", index, "shard", sm.Shard, "source", src.Key(), "error", err)
			continue
		}
		added, err := s.Backfill(resp.Documents)
		if err != nil {
			r.logger.Error("backfill failed", "index", index, "shard", sm.Shard, "error", err)
			return
		}
		r.logger.Info("shard backfilled", "index", index, "shard", sm.Shard, "source", src.Key(), "documents", added)
		if rec.Report == nil {
			return
		}
		if err := rec.Report(ctx, index, sm.Shard); err != nil {
			r.logger.Warn("report recovered failed", "index", index, "shard", sm.Shard, "error", err)
		}
		return
	}
	r.logger.Warn("no copy to backfill from", "index", index, "shard", sm.Shard)
}

// Export serves every document of a local shard to a recovering peer.
func (r *Runtime) Export(_ context.Context, req *search.ExportRequest) (*search.ExportResponse, error) {
	s, err := r.Shard(req.Index, req.Shard)
	if err != nil {
		return nil, err
	}
	docs, err := s.Export()
	if err != nil {
		return nil, err
	}
	return &search.ExportResponse{Documents: docs}, nil
}
