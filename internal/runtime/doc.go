// Package runtime wires one flolog node: the Pebble store, the local log
// unit, the sequencer recovered from it, the committed layout, the stream
// directory and listener registry, and, when a Transport is given, the
// failure detector, reconciler and layout agent.
//
// Example:
//
//	cfg := config.Default()
//	rt, _ := runtime.Open(runtime.Options{DataDir: "./data", Fsync: pebblestore.FsyncModeAlways, Config: cfg})
//	defer rt.Close()
//	rt.Start(ctx)
//	s, _, _ := rt.OpenStream(ctx, "default", "orders")
//	_, _ = s.Append(ctx, []byte("hello"))
package runtime
