// Package grpcserver hosts a node's RPC surface: health, cluster membership
// (probes, layout fetches, stream gossip), the log unit, the sequencer and
// remote listener subscriptions. Messages are plain Go structs carried by a
// JSON codec registered under the "json" content subtype, so services are
// described by hand-written grpc.ServiceDesc values.
//
// Client and Peers are the other side: LogUnitClient and SequencerClient
// let streams run against a remote node, and Peers is the transport a
// runtime probes and gossips through. Domain errors travel in response
// bodies as RPCError and decode back to the eventlog and layout sentinels;
// unreachable peers surface as eventlog.ErrUnreachable.
//
// Example:
//
//	rt, _ := runtime.Open(runtime.Options{DataDir: "./data", Fsync: pebblestore.FsyncModeAlways, Config: config.Default()})
//	s := grpcserver.New(rt)
//	ctx, cancel := context.WithCancel(context.Background())
//	defer cancel()
//	_ = s.ListenAndServe(ctx, ":9000")
package grpcserver
