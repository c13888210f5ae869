package coordinator

import (
	"errors"
	"fmt"
	"strings"

	"github.com/dreamware/shardsearch/internal/cluster"
)

// ErrShardUnavailable is matched by every ShardUnavailableError.
var ErrShardUnavailable = errors.New("shard unavailable")

// ReplicaPreference decides which holder of a shard serves a read.
type ReplicaPreference int

const (
	// PrimaryOnly reads only from the primary.
	PrimaryOnly ReplicaPreference = iota
	// PrimaryPreferred falls back to the first reachable replica.
	PrimaryPreferred
	// ReplicaPreferred falls back to the primary.
	ReplicaPreferred
	// ReplicaOnly never reads from the primary.
	ReplicaOnly
)

var preferenceNames = [...]string{"primary_only", "primary_preferred", "replica_preferred", "replica_only"}

func (p ReplicaPreference) String() string {
	if p < 0 || int(p) >= len(preferenceNames) {
		return fmt.Sprintf("ReplicaPreference(%d)", int(p))
	}
	return preferenceNames[p]
}

// ParseReplicaPreference accepts the names produced by String.
func ParseReplicaPreference(s string) (ReplicaPreference, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	if s == "" {
		return PrimaryOnly, nil
	}
	for i, name := range preferenceNames {
		if s == name {
			return ReplicaPreference(i), nil
		}
	}
	return PrimaryOnly, fmt.Errorf("unknown replica preference %q", s)
}

func (p ReplicaPreference) MarshalText() ([]byte, error) {
	return []byte(p.String()), nil
}

func (p *ReplicaPreference) UnmarshalText(b []byte) error {
	v, err := ParseReplicaPreference(string(b))
	if err != nil {
		return err
	}
	*p = v
	return nil
}

// ShardUnavailableError reports that no reachable holder of a shard
// satisfies the replica preference.
type ShardUnavailableError struct {
	Index      string
	Shard      int
	Preference ReplicaPreference
}

func (e *ShardUnavailableError) Error() string {
	return fmt.Sprintf("index %s shard %d: no reachable node for %s", e.Index, e.Shard, e.Preference)
}

func (e *ShardUnavailableError) Unwrap() error { return ErrShardUnavailable }

// NodeShards is the set of shards of one index that a node serves for a
// single request.
type NodeShards struct {
	Node   cluster.Node
	Shards []int
}

// ReplicaSelector picks one target node per shard of an index. Reachability
// is membership in the node list given at construction; the selector does
// no health checking of its own.
type ReplicaSelector struct {
	reachable  map[string]cluster.Node
	mapping    IndexMapping
	preference ReplicaPreference
}

// NewReplicaSelector builds a selector over mapping with the given
// reachable nodes.
func NewReplicaSelector(pref ReplicaPreference, mapping IndexMapping, reachable []cluster.Node) *ReplicaSelector {
	m := make(map[string]cluster.Node, len(reachable))
	for _, n := range reachable {
		m[n.Key()] = n
	}
	return &ReplicaSelector{preference: pref, mapping: mapping, reachable: m}
}

// NodeForShard returns the node that should serve shard. The returned node
// is always the primary or a replica of that shard.
func (s *ReplicaSelector) NodeForShard(shard int) (cluster.Node, error) {
	sm, ok := s.mapping.ShardMapping(shard)
	if !ok {
		return cluster.Node{}, s.unavailable(shard)
	}

	primary, primaryOK := s.reachable[sm.Primary.Key()]
	switch s.preference {
	case PrimaryOnly:
		if primaryOK {
			return primary, nil
		}
	case PrimaryPreferred:
		if primaryOK {
			return primary, nil
		}
		if n, ok := s.firstReplica(sm); ok {
			return n, nil
		}
	case ReplicaPreferred:
		if n, ok := s.firstReplica(sm); ok {
			return n, nil
		}
		if primaryOK {
			return primary, nil
		}
	case ReplicaOnly:
		if n, ok := s.firstReplica(sm); ok {
			return n, nil
		}
	}
	return cluster.Node{}, s.unavailable(shard)
}

// NodeForUniqueID routes a document id to its shard and then to a node.
func (s *ReplicaSelector) NodeForUniqueID(uniqueID string) (cluster.Node, int, error) {
	shard := s.mapping.ShardFor(uniqueID)
	n, err := s.NodeForShard(shard)
	return n, shard, err
}

// ShardsByNode selects a node for every shard of the index and groups the
// shards by node key. The first unavailable shard fails the whole call.
func (s *ReplicaSelector) ShardsByNode() (map[string]*NodeShards, error) {
	out := make(map[string]*NodeShards)
	for shard := 0; shard < s.mapping.NumberOfShards; shard++ {
		n, err := s.NodeForShard(shard)
		if err != nil {
			return nil, err
		}
		ns, ok := out[n.Key()]
		if !ok {
			ns = &NodeShards{Node: n}
			out[n.Key()] = ns
		}
		ns.Shards = append(ns.Shards, shard)
	}
	return out, nil
}

func (s *ReplicaSelector) firstReplica(sm ShardMapping) (cluster.Node, bool) {
	for _, r := range sm.Replicas {
		if n, ok := s.reachable[r.Key()]; ok {
			return n, true
		}
	}
	return cluster.Node{}, false
}

func (s *ReplicaSelector) unavailable(shard int) error {
	return &ShardUnavailableError{Index: s.mapping.Name, Shard: shard, Preference: s.preference}
}
