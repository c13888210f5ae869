package federation

import (
	"github.com/dreamware/shardsearch/internal/cluster"
	"github.com/dreamware/shardsearch/internal/coordinator"
)

// TargetKind says whether a request is served in process or over the
// network.
type TargetKind int

const (
	Local TargetKind = iota
	Remote
)

func (k TargetKind) String() string {
	if k == Local {
		return "local"
	}
	return "remote"
}

// Target is a node resolved once per federated call.
type Target struct {
	Node cluster.Node
	Kind TargetKind
}

// Resolve tags node as Local when it is the snapshot's own node.
func Resolve(snap *coordinator.RoutingSnapshot, node cluster.Node) Target {
	if snap != nil && snap.IsLocal(node) {
		return Target{Node: node, Kind: Local}
	}
	return Target{Node: node, Kind: Remote}
}
