package cluster

import (
	"net"
	"strconv"
	"time"
)

// Node is one member of the search cluster as observed through membership.
// A Node value is never mutated after it is observed; a refresh replaces
// the whole node list.
type Node struct {
	Heartbeat   time.Time `json:"heartbeat"`
	Address     string    `json:"address"`
	Version     string    `json:"version,omitempty"`
	ServicePort int       `json:"servicePort"`
	RestPort    int       `json:"restPort,omitempty"`
}

// Key is the node identity: address and service port.
func (n Node) Key() string {
	return net.JoinHostPort(n.Address, strconv.Itoa(n.ServicePort))
}

// URL is the base URL of the node's internal service endpoint.
func (n Node) URL() string {
	return "http://" + n.Key()
}

// RestURL is the base URL of the public REST endpoint, falling back to the
// service port when no dedicated REST port is configured.
func (n Node) RestURL() string {
	if n.RestPort == 0 {
		return n.URL()
	}
	return "http://" + net.JoinHostPort(n.Address, strconv.Itoa(n.RestPort))
}

// Same reports whether two observations refer to the same node.
func (n Node) Same(other Node) bool {
	return n.Address == other.Address && n.ServicePort == other.ServicePort
}

// Alive reports whether the last heartbeat is within ttl of now.
func (n Node) Alive(now time.Time, ttl time.Duration) bool {
	if ttl <= 0 {
		return true
	}
	return now.Sub(n.Heartbeat) <= ttl
}

// RegisterRequest is sent by a node to the coordinator on startup and on
// every heartbeat.
type RegisterRequest struct {
	Node Node `json:"node"`
}

// RecoveredRequest tells the coordinator that Node finished copying a
// shard it was placed on and can now serve reads for it.
type RecoveredRequest struct {
	Node  Node   `json:"node"`
	Index string `json:"index"`
	Shard int    `json:"shard"`
}
