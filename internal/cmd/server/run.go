package serverrun

import (
	"context"
	"os"
	"os/signal"
	"path/filepath"
	"sync"
	"syscall"

	cfgpkg "github.com/rzbill/flolog/internal/config"
	"github.com/rzbill/flolog/internal/runtime"
	grpcserver "github.com/rzbill/flolog/internal/server/grpc"
	httpserver "github.com/rzbill/flolog/internal/server/http"
	pebblestore "github.com/rzbill/flolog/internal/storage/pebble"
	logpkg "github.com/rzbill/flolog/pkg/log"
)

type Options struct {
	DataDir string
	Fsync   pebblestore.FsyncMode
	// Config supplies listen addresses (Node.GRPCAddr, Node.HTTPAddr),
	// cluster membership and logging.
	Config cfgpkg.Config
}

// storeDir is where the node keeps its Pebble store under dataDir.
func storeDir(dataDir string) string {
	if dataDir == "" {
		dataDir = cfgpkg.DefaultDataDir()
	}
	return filepath.Join(dataDir, "store")
}

// newLogger builds the process-wide logger from cfg, falling back to text
// at the parsed level (or info) when the format is unknown.
func newLogger(cfg cfgpkg.LoggingConfig) logpkg.Logger {
	lc := &logpkg.Config{Level: cfg.Level, Format: cfg.Format}
	l, err := logpkg.ApplyConfig(lc)
	if err == nil {
		return l
	}
	lvl := logpkg.InfoLevel
	if p, e := logpkg.ParseLevel(cfg.Level); e == nil {
		lvl = p
	}
	return logpkg.NewLogger(logpkg.WithLevel(lvl), logpkg.WithFormatter(&logpkg.TextFormatter{}))
}

// Run opens the node, joins the cluster through its peers, serves gRPC and
// HTTP, and blocks until ctx is cancelled or a signal arrives.
func Run(ctx context.Context, opts Options) error {
	sctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg := opts.Config
	procLogger := newLogger(cfg.Logging)
	logpkg.RedirectStdLog(procLogger)

	peers := grpcserver.NewPeers()
	defer func() { _ = peers.Close() }()

	rt, err := runtime.Open(runtime.Options{
		DataDir:   storeDir(opts.DataDir),
		Fsync:     opts.Fsync,
		Config:    cfg,
		Transport: peers,
		Logger:    procLogger,
	})
	if err != nil {
		return err
	}
	defer rt.Close()

	procLogger.Info("starting flolog node",
		logpkg.Str("endpoint", cfg.Node.Endpoint),
		logpkg.Str("grpc", cfg.Node.GRPCAddr),
		logpkg.Str("http", cfg.Node.HTTPAddr),
		logpkg.Int("peers", len(cfg.Cluster.Peers)),
		logpkg.Str("layout_store", cfg.Cluster.LayoutStore),
		logpkg.Epoch(rt.Holder().Epoch()),
	)
	rt.Start(sctx)

	gsrv := grpcserver.New(rt)
	hsrv := httpserver.New(rt, procLogger)

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := gsrv.ListenAndServe(sctx, cfg.Node.GRPCAddr); err != nil && sctx.Err() == nil {
			procLogger.Error("grpc server failed", logpkg.Err(err))
			stop()
		}
	}()

	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := hsrv.ListenAndServe(sctx, cfg.Node.HTTPAddr); err != nil && sctx.Err() == nil {
			procLogger.Error("http server failed", logpkg.Err(err))
			stop()
		}
	}()

	<-sctx.Done()
	// Stop serving before the runtime closes the store.
	gsrv.Close()
	hsrv.Close()
	wg.Wait()
	procLogger.Info("flolog node stopped")
	return nil
}
