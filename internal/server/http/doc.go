// Package httpserver is a node's REST gateway: health and namespaces,
// table administration and views, log unit and cluster state, Prometheus
// metrics, and listener subscriptions over Server-Sent Events.
//
// Routes are served by a chi router; handlers live in the controllers
// package.
//
// Example:
//
//	rt, _ := runtime.Open(runtime.Options{DataDir: "./data", Fsync: pebblestore.FsyncModeAlways, Config: config.Default()})
//	s := httpserver.New(rt, logger)
//	ctx, cancel := context.WithCancel(context.Background())
//	defer cancel()
//	_ = s.ListenAndServe(ctx, ":8080")
package httpserver
