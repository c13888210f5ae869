// Command node serves index shards and the public query API.
//
// A node learns the cluster from membership (the coordinator's
// /membership endpoint, or Redis directly), opens the shards placed on it
// and federates queries, fetches and writes across the cluster.
//
// Configuration comes from flags, SHARDSEARCH_* environment variables, a
// .env file and an optional shardsearch.{yaml,toml,json}:
//
//	SHARDSEARCH_NODE_ADDRESS=10.0.0.5 \
//	SHARDSEARCH_NODE_PORT=8081 \
//	SHARDSEARCH_COORDINATOR_URL=http://10.0.0.1:8080 \
//	node
package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	_ "github.com/joho/godotenv/autoload"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"golang.org/x/sync/errgroup"

	"github.com/dreamware/shardsearch/internal/cluster"
	"github.com/dreamware/shardsearch/internal/config"
	"github.com/dreamware/shardsearch/internal/coordinator"
	"github.com/dreamware/shardsearch/internal/federation"
	"github.com/dreamware/shardsearch/internal/logging"
	"github.com/dreamware/shardsearch/internal/membership"
	"github.com/dreamware/shardsearch/internal/node"
)

const (
	registerAttempts = 10
	registerDelay    = 400 * time.Millisecond
)

func main() {
	if err := newRootCmd(run).Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd(run func(context.Context, *config.Config) error) *cobra.Command {
	v := config.NewViper()
	var configFile string

	cmd := &cobra.Command{
		Use:          "node",
		Short:        "Serve index shards and federate queries",
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(v, configFile)
			if err != nil {
				return err
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return run(ctx, cfg)
		},
	}

	flags := cmd.Flags()
	flags.StringVar(&configFile, "config", "", "config file")
	flags.String("address", "", "address other members reach this node on")
	flags.Int("port", 0, "service port")
	flags.Int("rest-port", 0, "public REST port, 0 to serve it on the service port")
	flags.String("coordinator", "", "coordinator URL")
	flags.String("membership", "", "membership backend: coordinator or redis")
	flags.String("redis", "", "redis address for the redis backend")
	flags.String("log-level", "", "debug, info, warn or error")
	bindFlags(v, cmd, map[string]string{
		"address":     "node.address",
		"port":        "node.port",
		"rest-port":   "node.restPort",
		"coordinator": "coordinator.url",
		"membership":  "membership.backend",
		"redis":       "membership.redisAddr",
		"log-level":   "logging.level",
	})
	return cmd
}

func bindFlags(v *viper.Viper, cmd *cobra.Command, keys map[string]string) {
	for flag, key := range keys {
		_ = v.BindPFlag(key, cmd.Flags().Lookup(flag))
	}
}

// selfNode is how this node appears in membership.
func selfNode(cfg *config.Config) cluster.Node {
	return cluster.Node{
		Address:     cfg.Node.Address,
		ServicePort: cfg.Node.Port,
		RestPort:    cfg.Node.RestPort,
		Version:     cfg.Node.Version,
	}
}

// membershipFor returns where the node reads membership from and how it
// announces itself. The returned close func releases the store, if any.
func membershipFor(ctx context.Context, cfg *config.Config) (membership.Source, membership.Announcer, func() error, error) {
	if cfg.Membership.Backend == config.BackendRedis {
		store, err := membership.NewRedisStore(ctx, cfg.Membership.RedisAddr, cfg.Membership.RedisPrefix)
		if err != nil {
			return nil, nil, nil, err
		}
		return store, membership.StoreAnnouncer(store), store.Close, nil
	}
	return membership.NewRemoteSource(cfg.Coordinator.URL),
		membership.CoordinatorAnnouncer(cfg.Coordinator.URL),
		func() error { return nil }, nil
}

// recoveryReporter tells the coordinator, which owns placement under
// either backend, that a backfilled copy is complete.
func recoveryReporter(cfg *config.Config, self cluster.Node) membership.RecoveryReporter {
	if cfg.Coordinator.URL == "" {
		return nil
	}
	return membership.CoordinatorRecoveryReporter(cfg.Coordinator.URL, self)
}

func run(ctx context.Context, cfg *config.Config) error {
	self := selfNode(cfg)
	logger := logging.New(cfg.Logging.Format, cfg.Logging.Level).With("node", self.Key())

	source, announce, closeSource, err := membershipFor(ctx, cfg)
	if err != nil {
		return err
	}
	defer closeSource()

	holder := coordinator.NewSnapshotHolder(coordinator.NewRoutingSnapshot(self, nil, nil, nil))
	srv := node.NewServer(node.Options{
		Holder:          holder,
		Logger:          logger,
		Client:          node.NewClient(cfg.Federation.RequestTimeout),
		Pool:            federation.NewPool(cfg.Federation.LocalConcurrency, cfg.Federation.RemoteConcurrency),
		ReportRecovered: recoveryReporter(cfg, self),
		Self:            self,
		Timeout:         cfg.Federation.RequestTimeout,
	})
	defer srv.Runtime().Close()

	refresher := membership.NewRefresher(source, holder, membership.RefresherOptions{
		Logger:   logger,
		OnSwap:   srv.Runtime().Sync,
		Self:     self,
		Interval: cfg.Membership.RefreshInterval,
		NodeTTL:  cfg.Membership.NodeTTL,
	})

	servers := []*http.Server{newHTTPServer(cfg, cfg.Node.ListenAddr(), srv.Router())}
	if cfg.Node.RestPort != 0 && cfg.Node.RestPort != cfg.Node.Port {
		servers = append(servers, newHTTPServer(cfg, restListenAddr(cfg), srv.Router()))
	}

	g, gctx := errgroup.WithContext(ctx)
	for _, hs := range servers {
		g.Go(func() error {
			logger.Info("node listening", "addr", hs.Addr)
			if err := hs.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		})
	}
	g.Go(func() error {
		if err := membership.Register(gctx, self, announce, registerAttempts, registerDelay, logger); err != nil {
			return err
		}
		if _, err := refresher.Refresh(gctx); err != nil {
			logger.Warn("initial membership refresh failed", "error", err)
		}
		go refresher.Run(gctx)
		membership.Heartbeat(gctx, self, announce, cfg.Membership.HeartbeatInterval, logger)
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdown(servers, cfg.HTTP.ShutdownTimeout, logger)
		return nil
	})

	err = g.Wait()
	logger.Info("node stopped")
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

func newHTTPServer(cfg *config.Config, addr string, h http.Handler) *http.Server {
	return &http.Server{
		Addr:         addr,
		Handler:      h,
		ReadTimeout:  cfg.HTTP.ReadTimeout,
		WriteTimeout: cfg.HTTP.WriteTimeout,
	}
}

func restListenAddr(cfg *config.Config) string {
	return ":" + strconv.Itoa(cfg.Node.RestPort)
}

func shutdown(servers []*http.Server, timeout time.Duration, logger *slog.Logger) {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	for _, hs := range servers {
		if err := hs.Shutdown(ctx); err != nil {
			logger.Warn("shutdown", "addr", hs.Addr, "error", err)
		}
	}
}
