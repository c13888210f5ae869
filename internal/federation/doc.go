// Package federation fans requests out to the nodes that hold the shards
// they touch and collects the answers.
//
// RequestFederator is the generic building block: given one request per
// node it runs a local or remote handler for each, concurrently and
// bounded by a Pool, and returns every response or the first error.
// QueryFederator, BatchFetchFederator and WriteRouter build on it.
package federation
