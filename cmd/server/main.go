// FabricBRS - Partition Backup/Restore Orchestration
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/fabricbrs

package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/tomtom215/fabricbrs/internal/api"
	"github.com/tomtom215/fabricbrs/internal/config"
	"github.com/tomtom215/fabricbrs/internal/fabric"
	"github.com/tomtom215/fabricbrs/internal/logging"
	"github.com/tomtom215/fabricbrs/internal/models"
	"github.com/tomtom215/fabricbrs/internal/orchestrator"
	"github.com/tomtom215/fabricbrs/internal/queue"
	"github.com/tomtom215/fabricbrs/internal/retention"
	"github.com/tomtom215/fabricbrs/internal/storage"
	"github.com/tomtom215/fabricbrs/internal/store"
	"github.com/tomtom215/fabricbrs/internal/supervisor"
	"github.com/tomtom215/fabricbrs/internal/supervisor/services"
	"github.com/tomtom215/fabricbrs/internal/workitem"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		logging.Fatal().Err(err).Msg("Failed to load configuration")
	}

	logging.Init(logging.Config{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
		Caller: cfg.Logging.Caller,
	})

	logging.Info().
		Str("store_path", cfg.Store.Path).
		Bool("store_in_memory", cfg.Store.InMemory).
		Str("gateway", cfg.Gateway.URL).
		Str("listen", cfg.Server.Addr()).
		Msg("Starting FabricBRS")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg); err != nil {
		logging.Error().Err(err).Msg("FabricBRS stopped with an error")
		stop()
		os.Exit(1)
	}
	logging.Info().Msg("FabricBRS stopped gracefully")
}

// run wires every component and blocks until ctx is cancelled.
func run(ctx context.Context, cfg *config.Config) error {
	db, err := store.Open(&cfg.Store)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer func() {
		if err := db.Close(); err != nil {
			logging.Error().Err(err).Msg("Error closing store")
		}
	}()

	q := queue.New(db, cfg.Queue)
	if _, err := q.RecoverInProcess(ctx); err != nil {
		return fmt.Errorf("recover in-process work items: %w", err)
	}

	gateway, err := fabric.NewGatewayClient(&cfg.Gateway)
	if err != nil {
		return fmt.Errorf("create cluster gateway client: %w", err)
	}
	var topology fabric.TopologyClient = gateway
	if cfg.Gateway.TopologyCacheTTL > 0 {
		cached := fabric.NewCachedTopology(gateway, cfg.Gateway.TopologyCacheTTL)
		cached.Start()
		defer cached.Stop()
		topology = cached
	}

	env := workitem.NewEnv(db, cfg.WorkItem, gateway, gateway, topology, q)

	checker := storage.NewDestinationChecker()
	checker.EndpointSuffix = cfg.Storage.EndpointSuffix
	keeper := retention.NewManager(db, cfg.Retention, env.Resolver, topology, checker)
	orch := orchestrator.New(env, cfg.Orchestrator, checker).WithRetention(keeper)

	handler := api.NewHandler(orch, q, cfg.Server.Timeout)
	server := &http.Server{
		Addr:              cfg.Server.Addr(),
		Handler:           handler.Router(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       cfg.Server.Timeout,
		WriteTimeout:      cfg.Server.Timeout,
		IdleTimeout:       60 * time.Second,
	}

	tree, err := supervisor.NewSupervisorTree(logging.NewSlogLogger(), supervisor.TreeConfig{
		FailureThreshold: cfg.Supervisor.FailureThreshold,
		FailureDecay:     cfg.Supervisor.FailureDecay,
		FailureBackoff:   cfg.Supervisor.FailureBackoff,
		ShutdownTimeout:  cfg.Supervisor.ShutdownTimeout,
	})
	if err != nil {
		return fmt.Errorf("create supervisor tree: %w", err)
	}

	tree.AddDataService(services.NewStoreGCService(store.NewGCLoop(db)))
	tree.AddDataService(services.NewRetentionService(keeper))
	tree.AddQueueService(services.NewDispatcherService(queue.NewDispatcher(q, env, models.QueueMain)))
	tree.AddQueueService(services.NewDispatcherService(queue.NewDispatcher(q, env, models.QueueRetry)))
	tree.AddAPIService(services.NewHTTPServerService(server, cfg.Supervisor.ShutdownTimeout))

	logging.Info().Msg("Starting supervisor tree")
	err = <-tree.ServeBackground(ctx)

	if unstopped, _ := tree.UnstoppedServiceReport(); len(unstopped) > 0 {
		for _, svc := range unstopped {
			logging.Warn().Str("service", svc.Name).Msg("Service failed to stop within timeout")
		}
	}
	if err != nil && !errors.Is(err, context.Canceled) {
		return fmt.Errorf("supervisor tree: %w", err)
	}
	return nil
}
