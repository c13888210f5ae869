// Command coordinator places index shards on search nodes, tracks node
// health and publishes membership for the nodes to route with.
//
// Endpoints:
//
//	POST   /register          node registration and heartbeat
//	POST   /recovered         promote a backfilled copy to a replica
//	GET    /nodes             live nodes
//	GET    /membership        nodes, index mappings and aliases
//	GET    /indexes           index mappings and aliases
//	POST   /indexes           create an index
//	DELETE /indexes/{name}    delete an index
//	POST   /aliases           point an alias at an index
//	DELETE /aliases/{alias}   remove an alias
//	GET    /health            liveness
//
// Configuration comes from flags, SHARDSEARCH_* environment variables, a
// .env file and an optional shardsearch.{yaml,toml,json}.
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	_ "github.com/joho/godotenv/autoload"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/dreamware/shardsearch/internal/cluster"
	"github.com/dreamware/shardsearch/internal/config"
	"github.com/dreamware/shardsearch/internal/coordinator"
	"github.com/dreamware/shardsearch/internal/logging"
	"github.com/dreamware/shardsearch/internal/membership"
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
		Use:          "coordinator",
		Short:        "Place shards and publish cluster membership",
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
	flags.String("listen", "", "listen address")
	flags.String("membership", "", "membership backend: coordinator or redis")
	flags.String("redis", "", "redis address for the redis backend")
	flags.String("log-level", "", "debug, info, warn or error")
	bindFlags(v, cmd, map[string]string{
		"listen":     "coordinator.listen",
		"membership": "membership.backend",
		"redis":      "membership.redisAddr",
		"log-level":  "logging.level",
	})
	return cmd
}

// bindFlags lets explicitly set flags override every other source.
func bindFlags(v *viper.Viper, cmd *cobra.Command, keys map[string]string) {
	for flag, key := range keys {
		_ = v.BindPFlag(key, cmd.Flags().Lookup(flag))
	}
}

func run(ctx context.Context, cfg *config.Config) error {
	logger := logging.New(cfg.Logging.Format, cfg.Logging.Level).With("component", "coordinator")

	store, err := membership.Open(ctx, cfg.Membership.Backend, cfg.Membership.RedisAddr, cfg.Membership.RedisPrefix)
	if err != nil {
		return err
	}
	defer store.Close()

	srv := newServer(store, cfg.Membership.NodeTTL, logger)
	if err := srv.restore(ctx); err != nil {
		return fmt.Errorf("restore placement: %w", err)
	}

	monitor := coordinator.NewHealthMonitor(cfg.Coordinator.HealthInterval, logger)
	monitor.SetMaxFailures(cfg.Coordinator.MaxFailures)
	monitor.SetOnUnhealthy(srv.nodeUnhealthy)
	go monitor.Start(ctx, func() []cluster.Node {
		nodes, err := srv.liveNodes(ctx)
		if err != nil {
			logger.Warn("load nodes for health check failed", "error", err)
		}
		return nodes
	})
	defer monitor.Stop()

	httpSrv := &http.Server{
		Addr:         cfg.Coordinator.Listen,
		Handler:      srv.routes(),
		ReadTimeout:  cfg.HTTP.ReadTimeout,
		WriteTimeout: cfg.HTTP.WriteTimeout,
	}
	errc := make(chan error, 1)
	go func() {
		logger.Info("coordinator listening", "addr", cfg.Coordinator.Listen, "membership", cfg.Membership.Backend)
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errc <- err
		}
		close(errc)
	}()

	select {
	case err := <-errc:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.HTTP.ShutdownTimeout)
	defer cancel()
	if err := httpSrv.Shutdown(shutdownCtx); err != nil {
		logger.Warn("shutdown", "error", err)
	}
	logger.Info("coordinator stopped")
	return nil
}
