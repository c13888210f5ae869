package federation

import (
	"context"

	"golang.org/x/sync/semaphore"
)

// Default pool sizes.
const (
	DefaultLocalConcurrency  = 16
	DefaultRemoteConcurrency = 64
)

// Pool bounds how many federated tasks run at once. Local and remote
// tasks draw from separate budgets so that slow peers cannot starve work
// on this node's own shards.
type Pool struct {
	local  *semaphore.Weighted
	remote *semaphore.Weighted
}

// NewPool creates a pool; non-positive sizes fall back to the defaults.
func NewPool(local, remote int64) *Pool {
	if local <= 0 {
		local = DefaultLocalConcurrency
	}
	if remote <= 0 {
		remote = DefaultRemoteConcurrency
	}
	return &Pool{
		local:  semaphore.NewWeighted(local),
		remote: semaphore.NewWeighted(remote),
	}
}

// Acquire blocks until a slot for kind is free or ctx is done. The
// returned func releases the slot.
func (p *Pool) Acquire(ctx context.Context, kind TargetKind) (func(), error) {
	sem := p.remote
	if kind == Local {
		sem = p.local
	}
	if err := sem.Acquire(ctx, 1); err != nil {
		return nil, err
	}
	return func() { sem.Release(1) }, nil
}
