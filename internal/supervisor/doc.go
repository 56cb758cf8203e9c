// FabricBRS - Partition Backup/Restore Orchestration
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/fabricbrs

/*
Package supervisor runs the long-lived FabricBRS services under a suture v4
supervision tree.

	RootSupervisor ("fabricbrs")
	├── "data-layer"
	│   └── StoreGCService
	├── "queue-layer"
	│   ├── DispatcherService (main-dispatcher)
	│   └── DispatcherService (retry-dispatcher)
	└── "api-layer"
	    └── HTTPServerService

Each layer counts failures on its own, so a dispatcher that keeps failing
backs off without taking the API down with it. Supervisor events (service
panics, restarts, backoff) are logged through sutureslog into the
application logger.

# Usage

	tree, err := supervisor.NewSupervisorTree(logging.NewSlogLogger(), cfg)
	if err != nil {
	    return err
	}
	tree.AddDataService(services.NewStoreGCService(store.NewGCLoop(db)))
	tree.AddQueueService(services.NewDispatcherService(mainDispatcher))
	tree.AddQueueService(services.NewDispatcherService(retryDispatcher))
	tree.AddAPIService(services.NewHTTPServerService(server, 10*time.Second))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	err = tree.Serve(ctx)

Cancelling the context stops every service; dispatchers leave interrupted
work items in process, and the next start re-queues them.
*/
package supervisor
