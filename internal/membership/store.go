package membership

import (
	"context"
	"errors"
	"fmt"

	"github.com/dreamware/shardsearch/internal/cluster"
	"github.com/dreamware/shardsearch/internal/coordinator"
	"github.com/dreamware/shardsearch/internal/storage"
)

// ErrUnknownBackend is returned by Open for an unsupported backend name.
var ErrUnknownBackend = errors.New("unknown membership backend")

// State is everything a node needs to build a routing snapshot.
type State struct {
	Aliases map[string]string          `json:"aliases,omitempty"`
	Nodes   []cluster.Node             `json:"nodes"`
	Indexes []coordinator.IndexMapping `json:"indexes"`
}

// Source reads the current membership.
type Source interface {
	Load(ctx context.Context) (State, error)
}

// Store is a writable membership source.
type Store interface {
	Source
	PutNode(ctx context.Context, node cluster.Node) error
	RemoveNode(ctx context.Context, node cluster.Node) error
	PutIndex(ctx context.Context, m coordinator.IndexMapping) error
	DeleteIndex(ctx context.Context, name string) error
	PutAlias(ctx context.Context, alias, index string) error
	DeleteAlias(ctx context.Context, alias string) error
	Close() error
}

// Backend names accepted by Open.
const (
	BackendCoordinator = "coordinator"
	BackendRedis       = "redis"
)

// Open returns the store for backend. With the coordinator backend the
// coordinator keeps membership in memory and nodes read it over HTTP.
func Open(ctx context.Context, backend, redisAddr, redisPrefix string) (Store, error) {
	switch backend {
	case BackendCoordinator, "":
		return NewKVStore(storage.NewMemoryStore()), nil
	case BackendRedis:
		return NewRedisStore(ctx, redisAddr, redisPrefix)
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnknownBackend, backend)
	}
}
