package membership

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/dreamware/shardsearch/internal/cluster"
)

// Announcer publishes a node's presence with a fresh heartbeat.
type Announcer func(ctx context.Context, node cluster.Node) error

// CoordinatorAnnouncer posts to the coordinator's /register endpoint.
func CoordinatorAnnouncer(baseURL string) Announcer {
	url := strings.TrimRight(baseURL, "/") + "/register"
	return func(ctx context.Context, node cluster.Node) error {
		return cluster.PostJSON(ctx, url, cluster.RegisterRequest{Node: node}, nil)
	}
}

// RecoveryReporter tells placement that self holds a complete copy of a
// shard.
type RecoveryReporter func(ctx context.Context, index string, shard int) error

// CoordinatorRecoveryReporter posts to the coordinator's /recovered
// endpoint on behalf of self.
func CoordinatorRecoveryReporter(baseURL string, self cluster.Node) RecoveryReporter {
	url := strings.TrimRight(baseURL, "/") + "/recovered"
	return func(ctx context.Context, index string, shard int) error {
		return cluster.PostJSON(ctx, url, cluster.RecoveredRequest{Node: self, Index: index, Shard: shard}, nil)
	}
}

// StoreAnnouncer writes the node straight into a shared store.
func StoreAnnouncer(s Store) Announcer {
	return s.PutNode
}

// Register announces self, retrying while the coordinator or store comes
// up. It gives up after attempts tries spaced delay apart.
func Register(ctx context.Context, self cluster.Node, announce Announcer, attempts int, delay time.Duration, logger *slog.Logger) error {
	var lastErr error
	for i := 0; i < attempts; i++ {
		self.Heartbeat = time.Now()
		if lastErr = announce(ctx, self); lastErr == nil {
			logger.Info("registered", "node", self.Key())
			return nil
		}
		logger.Warn("register retry", "attempt", i+1, "error", lastErr)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}
	}
	return fmt.Errorf("register %s after %d attempts: %w", self.Key(), attempts, lastErr)
}

// Heartbeat re-announces self every interval until ctx is done. Failures
// are logged; the node drops out of routing once its TTL lapses.
func Heartbeat(ctx context.Context, self cluster.Node, announce Announcer, interval time.Duration, logger *slog.Logger) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			self.Heartbeat = time.Now()
			if err := announce(ctx, self); err != nil && ctx.Err() == nil {
				logger.Warn("heartbeat failed", "node", self.Key(), "error", err)
			}
		}
	}
}
