package node

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/dreamware/shardsearch/internal/cluster"
	"github.com/dreamware/shardsearch/internal/coordinator"
	"github.com/dreamware/shardsearch/internal/search"
	"github.com/dreamware/shardsearch/internal/shard"
	"github.com/dreamware/shardsearch/internal/storage"
)

// ErrShardNotHeld is returned when a request names a shard the current
// routing snapshot does not place on this node.
var ErrShardNotHeld = errors.New("shard not held by this node")

type shardKey struct {
	index string
	id    int
}

// Runtime is the set of shards this node holds. It serves the local side
// of every federated request.
//
// Shards are opened from the routing snapshot: Sync opens every shard the
// snapshot places here, and a request for a placed shard that has not
// been opened yet opens it on demand.
type Runtime struct {
	shards map[shardKey]*shard.Shard
	holder *coordinator.SnapshotHolder
	store  storage.Store
	logger *slog.Logger
	self   cluster.Node
	mu     sync.RWMutex

	recovery Recovery
	// backfills holds shards with a backfill in flight; guarded by mu.
	backfills map[shardKey]struct{}
	ctx       context.Context
	cancel    context.CancelFunc
}

// NewRuntime returns a runtime for self. Documents of every shard are
// kept in one MemoryStore under per-shard prefixes.
func NewRuntime(self cluster.Node, holder *coordinator.SnapshotHolder, logger *slog.Logger) *Runtime {
	if logger == nil {
		logger = slog.Default()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Runtime{
		shards:    make(map[shardKey]*shard.Shard),
		holder:    holder,
		store:     storage.NewMemoryStore(),
		logger:    logger,
		self:      self,
		backfills: make(map[shardKey]struct{}),
		ctx:       ctx,
		cancel:    cancel,
	}
}

// Self is this node's identity.
func (r *Runtime) Self() cluster.Node {
	return r.self
}

// Sync opens every shard snap places on this node and closes shards of
// indexes that no longer exist. Shards moved to other nodes stay open so
// their documents are not lost. Copies snap marks as recovering are
// backfilled from a serving copy.
func (r *Runtime) Sync(snap *coordinator.RoutingSnapshot) {
	for _, m := range snap.Indexes {
		for _, sm := range m.Shards {
			if !sm.Holds(r.self) {
				continue
			}
			s, err := r.open(m, sm)
			if err != nil {
				r.logger.Error("open shard failed", "index", m.Name, "shard", sm.Shard, "error", err)
				continue
			}
			if sm.IsRecovering(r.self) {
				r.startBackfill(m.Name, sm, s)
			} else if s.Recovering() {
				s.EndRecovery()
			}
		}
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	for key, s := range r.shards {
		if _, ok := snap.Indexes[key.index]; ok {
			continue
		}
		if err := s.Close(); err != nil {
			r.logger.Warn("close shard failed", "index", key.index, "shard", key.id, "error", err)
		}
		delete(r.shards, key)
		r.logger.Info("shard closed", "index", key.index, "shard", key.id)
	}
}

func (r *Runtime) open(m coordinator.IndexMapping, sm coordinator.ShardMapping) (*shard.Shard, error) {
	key := shardKey{index: m.Name, id: sm.Shard}
	r.mu.RLock()
	s, ok := r.shards[key]
	r.mu.RUnlock()
	if ok {
		return s, nil
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if s, ok := r.shards[key]; ok {
		return s, nil
	}
	s, err := shard.New(m.Name, sm.Shard, shard.Options{
		Settings: m.Settings,
		Primary:  sm.Primary.Same(r.self),
		Store:    r.store,
		Logger:   r.logger,
	})
	if err != nil {
		return nil, err
	}
	if sm.IsRecovering(r.self) {
		s.BeginRecovery()
	}
	r.shards[key] = s
	r.logger.Info("shard opened", "index", m.Name, "shard", sm.Shard, "primary", s.Primary)
	return s, nil
}

// Shard returns the open shard, opening it when the current snapshot
// places it on this node.
func (r *Runtime) Shard(index string, id int) (*shard.Shard, error) {
	r.mu.RLock()
	s, ok := r.shards[shardKey{index: index, id: id}]
	r.mu.RUnlock()
	if ok {
		return s, nil
	}

	m, err := r.holder.Load().Index(index)
	if err != nil {
		return nil, err
	}
	sm, ok := m.ShardMapping(id)
	if !ok || !sm.Holds(r.self) {
		return nil, fmt.Errorf("%w: %s/%d", ErrShardNotHeld, index, id)
	}
	return r.open(m, sm)
}

// Shards lists open shards ordered by index and shard number.
func (r *Runtime) Shards() []*shard.Shard {
	r.mu.RLock()
	out := make([]*shard.Shard, 0, len(r.shards))
	for _, s := range r.shards {
		out = append(out, s)
	}
	r.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool {
		if out[i].Index != out[j].Index {
			return out[i].Index < out[j].Index
		}
		return out[i].ID < out[j].ID
	})
	return out
}

// Close stops backfills and closes every shard.
func (r *Runtime) Close() error {
	r.cancel()
	r.mu.Lock()
	defer r.mu.Unlock()
	var errs []error
	for key, s := range r.shards {
		errs = append(errs, s.Close())
		delete(r.shards, key)
	}
	return errors.Join(errs...)
}

// Query answers an internal query for every shard it names. Shards run
// concurrently, at most req.Request.Concurrency at a time when set.
func (r *Runtime) Query(ctx context.Context, req *search.InternalQueryRequest) (*search.InternalQueryResponse, error) {
	queries := search.NewShardQueries(req)
	out := make([]search.ShardQueryResponse, len(queries))

	g, ctx := errgroup.WithContext(ctx)
	if req.Request.Concurrency > 0 {
		g.SetLimit(req.Request.Concurrency)
	}
	for i, q := range queries {
		g.Go(func() error {
			s, err := r.Shard(q.Index, q.Shard)
			if err != nil {
				return err
			}
			resp, err := s.Query(ctx, q)
			if err != nil {
				return err
			}
			out[i] = *resp
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return &search.InternalQueryResponse{Responses: out}, nil
}

// BatchFetch serves every batch from the local shards.
func (r *Runtime) BatchFetch(_ context.Context, req *search.InternalBatchFetchRequest) (*search.InternalBatchFetchResponse, error) {
	out := &search.InternalBatchFetchResponse{}
	for _, b := range req.Batches {
		s, err := r.Shard(b.Index, b.Shard)
		if err != nil {
			return nil, err
		}
		resps, err := s.Fetch(b)
		if err != nil {
			return nil, err
		}
		out.Responses = append(out.Responses, resps...)
	}
	return out, nil
}

// Store applies a write to the local copy of its shard.
func (r *Runtime) Store(_ context.Context, req *search.StoreRequest) (*search.WriteResponse, error) {
	s, err := r.Shard(req.Index, req.Shard)
	if err != nil {
		return nil, err
	}
	if err := s.Store(req.UniqueID, req.Document); err != nil {
		return nil, err
	}
	return &search.WriteResponse{Node: r.self.Key()}, nil
}

// Delete applies a delete to the local copy of its shard.
func (r *Runtime) Delete(_ context.Context, req *search.DeleteRequest) (*search.WriteResponse, error) {
	s, err := r.Shard(req.Index, req.Shard)
	if err != nil {
		return nil, err
	}
	if err := s.Delete(req.UniqueID); err != nil {
		return nil, err
	}
	return &search.WriteResponse{Node: r.self.Key()}, nil
}
