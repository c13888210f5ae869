package federation

import (
	"github.com/dreamware/shardsearch/internal/cluster"
	"github.com/dreamware/shardsearch/internal/coordinator"
)

func testNode(port int) cluster.Node {
	return cluster.Node{Address: "127.0.0.1", ServicePort: port}
}

// twoShards places shard 0 on a (replica b) and shard 1 on b (replica a).
func twoShards(name string, settings coordinator.IndexSettings, a, b cluster.Node) coordinator.IndexMapping {
	return coordinator.IndexMapping{
		Name:           name,
		NumberOfShards: 2,
		Settings:       settings,
		Shards: []coordinator.ShardMapping{
			{Shard: 0, Primary: a, Replicas: []cluster.Node{b}},
			{Shard: 1, Primary: b, Replicas: []cluster.Node{a}},
		},
	}
}

func snapshotOf(self cluster.Node, nodes []cluster.Node, indexes ...coordinator.IndexMapping) *coordinator.RoutingSnapshot {
	return coordinator.NewRoutingSnapshot(self, nodes, indexes, map[string]string{"everything": "docs"})
}
