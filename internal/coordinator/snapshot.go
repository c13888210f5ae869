package coordinator

import (
	"fmt"
	"sync/atomic"

	"golang.org/x/exp/slices"

	"github.com/dreamware/shardsearch/internal/cluster"
)

// RoutingSnapshot is one consistent view of membership and index routing.
// A snapshot is never modified after it is published; a refresh builds a
// new one and swaps it into a SnapshotHolder. Every query takes a single
// snapshot up front and uses it for its whole lifetime.
type RoutingSnapshot struct {
	Indexes map[string]IndexMapping
	Aliases map[string]string
	Self    cluster.Node
	Nodes   []cluster.Node
	Version uint64
}

// NewRoutingSnapshot copies its inputs so later edits by the caller cannot
// reach the published snapshot.
func NewRoutingSnapshot(self cluster.Node, nodes []cluster.Node, indexes []IndexMapping, aliases map[string]string) *RoutingSnapshot {
	s := &RoutingSnapshot{
		Self:    self,
		Nodes:   slices.Clone(nodes),
		Indexes: make(map[string]IndexMapping, len(indexes)),
		Aliases: make(map[string]string, len(aliases)),
	}
	for _, m := range indexes {
		s.Indexes[m.Name] = m.Clone()
	}
	for alias, target := range aliases {
		s.Aliases[alias] = target
	}
	return s
}

// IsLocal reports whether node is the process owning this snapshot.
func (s *RoutingSnapshot) IsLocal(node cluster.Node) bool {
	return s.Self.Same(node)
}

// Index resolves name, following one level of aliasing.
func (s *RoutingSnapshot) Index(name string) (IndexMapping, error) {
	if target, ok := s.Aliases[name]; ok {
		name = target
	}
	m, ok := s.Indexes[name]
	if !ok {
		return IndexMapping{}, fmt.Errorf("%w: %s", ErrIndexNotFound, name)
	}
	return m, nil
}

// ResolveIndexes resolves names and aliases to mappings. Duplicates, for
// example an index named both directly and through an alias, collapse to
// one entry; order of first appearance is kept.
func (s *RoutingSnapshot) ResolveIndexes(names []string) ([]IndexMapping, error) {
	out := make([]IndexMapping, 0, len(names))
	for _, name := range names {
		m, err := s.Index(name)
		if err != nil {
			return nil, err
		}
		if slices.ContainsFunc(out, func(o IndexMapping) bool { return o.Name == m.Name }) {
			continue
		}
		out = append(out, m)
	}
	return out, nil
}

// Selector returns a ReplicaSelector for mapping over this snapshot's
// reachable nodes.
func (s *RoutingSnapshot) Selector(pref ReplicaPreference, mapping IndexMapping) *ReplicaSelector {
	return NewReplicaSelector(pref, mapping, s.Nodes)
}

// SnapshotHolder publishes routing snapshots. Load is wait-free and safe
// to call from any number of goroutines while another goroutine swaps.
type SnapshotHolder struct {
	current atomic.Pointer[RoutingSnapshot]
}

// NewSnapshotHolder returns a holder publishing initial.
func NewSnapshotHolder(initial *RoutingSnapshot) *SnapshotHolder {
	h := &SnapshotHolder{}
	if initial == nil {
		initial = &RoutingSnapshot{Indexes: map[string]IndexMapping{}, Aliases: map[string]string{}}
	}
	h.current.Store(initial)
	return h
}

// Load returns the current snapshot.
func (h *SnapshotHolder) Load() *RoutingSnapshot {
	return h.current.Load()
}

// Swap publishes next with a version one greater than the snapshot it
// replaces and returns the previous snapshot.
func (h *SnapshotHolder) Swap(next *RoutingSnapshot) *RoutingSnapshot {
	for {
		prev := h.current.Load()
		next.Version = prev.Version + 1
		if h.current.CompareAndSwap(prev, next) {
			return prev
		}
	}
}
