// FabricBRS - Partition Backup/Restore Orchestration
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/fabricbrs

/*
Package services adapts FabricBRS components to suture.Service.

Every wrapper turns a component's own lifecycle into Serve(ctx) error and
names itself through fmt.Stringer so supervisor events identify it:

  - DispatcherService: a queue.Dispatcher (main or retry)
  - StoreGCService: the store's value log GC loop
  - HTTPServerService: the read-only API server

Returning from Serve with an error makes the parent supervisor restart the
service with backoff; returning ctx.Err() after cancellation is a clean stop.
*/
package services
