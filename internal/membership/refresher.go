package membership

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/dreamware/shardsearch/internal/cluster"
	"github.com/dreamware/shardsearch/internal/coordinator"
)

// Refresher periodically reads a Source and publishes the result as a new
// routing snapshot. A failed read keeps the previous snapshot.
type Refresher struct {
	source   Source
	holder   *coordinator.SnapshotHolder
	logger   *slog.Logger
	now      func() time.Time
	onSwap   func(*coordinator.RoutingSnapshot)
	self     cluster.Node
	interval time.Duration
	ttl      time.Duration
	mu       sync.Mutex
}

// RefresherOptions configures a Refresher.
type RefresherOptions struct {
	Logger *slog.Logger
	// OnSwap runs after every published snapshot.
	OnSwap   func(*coordinator.RoutingSnapshot)
	Self     cluster.Node
	Interval time.Duration
	// NodeTTL drops nodes whose heartbeat is older; zero keeps every node.
	NodeTTL time.Duration
}

// NewRefresher publishes into holder.
func NewRefresher(source Source, holder *coordinator.SnapshotHolder, opts RefresherOptions) *Refresher {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	interval := opts.Interval
	if interval <= 0 {
		interval = 2 * time.Second
	}
	return &Refresher{
		source:   source,
		holder:   holder,
		logger:   logger,
		now:      time.Now,
		onSwap:   opts.OnSwap,
		self:     opts.Self,
		interval: interval,
		ttl:      opts.NodeTTL,
	}
}

// Refresh reads the source once and swaps in the new snapshot.
func (r *Refresher) Refresh(ctx context.Context) (*coordinator.RoutingSnapshot, error) {
	st, err := r.source.Load(ctx)
	if err != nil {
		return nil, err
	}

	now := r.now()
	alive := make([]cluster.Node, 0, len(st.Nodes))
	for _, n := range st.Nodes {
		if n.Alive(now, r.ttl) {
			alive = append(alive, n)
		}
	}
	snap := coordinator.NewRoutingSnapshot(r.self, alive, st.Indexes, st.Aliases)

	r.mu.Lock()
	defer r.mu.Unlock()
	prev := r.holder.Swap(snap)
	if len(prev.Nodes) != len(snap.Nodes) || len(prev.Indexes) != len(snap.Indexes) {
		r.logger.Info("membership changed",
			"version", snap.Version,
			"nodes", len(snap.Nodes),
			"indexes", len(snap.Indexes),
			"dropped_nodes", len(st.Nodes)-len(alive))
	}
	if r.onSwap != nil {
		r.onSwap(snap)
	}
	return snap, nil
}

// Run refreshes every interval until ctx is done.
func (r *Refresher) Run(ctx context.Context) {
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()
	for {
		if _, err := r.Refresh(ctx); err != nil && ctx.Err() == nil {
			r.logger.Warn("membership refresh failed", "error", err)
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}
