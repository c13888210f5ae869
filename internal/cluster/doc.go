// Package cluster holds the node identity used throughout shardsearch and the
// HTTP/JSON transport nodes use to talk to each other.
//
// # Node identity
//
// A Node is identified by its address and service port. Membership refreshes
// replace the node list wholesale; individual Node values are never edited in
// place, so they are safe to share between goroutines without locking.
//
// # Transport
//
// All inter-node calls are JSON over HTTP:
//
//	POST /internal/query        grouped shard queries for one node
//	POST /internal/batch-fetch  grouped id fetches for one node
//	POST /internal/store        document writes for primary and replicas
//	POST /internal/delete       document deletes
//	POST /internal/export       every document of a shard, for a recovering copy
//
// Clients built with NewHTTPClient negotiate gzip through gzhttp. A non-2xx
// response is decoded into a RemoteError carrying the message the remote
// node supplied, so a failing shard surfaces its own cause to the caller.
//
// Servers write errors with WriteError, which produces the ErrorBody shape
// the client side expects.
package cluster
