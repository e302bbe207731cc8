// Package serverrun exposes the Run entrypoint the CLI uses to start a node:
// it opens the runtime with gRPC peers as its cluster transport, starts
// failure detection and trimming, and serves gRPC and HTTP until shutdown.
//
// Example:
//
//	opts := serverrun.Options{DataDir: "./data", Fsync: pebblestore.FsyncModeAlways, Config: config.Default()}
//	ctx, cancel := context.WithCancel(context.Background())
//	defer cancel()
//	_ = serverrun.Run(ctx, opts)
package serverrun
